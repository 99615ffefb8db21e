// Package chunker splits document text into bounded-size segments for
// embedding. Splitting is paragraph-first with a sentence-level fallback,
// so chunk boundaries avoid cutting mid-sentence where possible.
package chunker

import (
	"regexp"
	"strings"
)

// DefaultMaxSize is the chunk size bound used when the caller passes 0.
const DefaultMaxSize = 1000

var (
	paragraphSep = regexp.MustCompile(`\n\s*\n`)
	// A sentence runs to terminal punctuation, keeping any trailing
	// quotes or closing brackets with it.
	sentenceRe = regexp.MustCompile("[^.!?]+[.!?]+[\\])'\"`’”]*|.+")
)

// Split breaks text into ordered, non-empty chunks of at most maxSize
// characters. A single sentence longer than maxSize is emitted as-is; that
// is the only case where a chunk may exceed the bound. This is a greedy
// packer: chunks are only bounded, not balanced.
func Split(text string, maxSize int) []string {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	var chunks []string
	var current string

	flush := func() {
		if current != "" {
			chunks = append(chunks, current)
			current = ""
		}
	}

	for _, paragraph := range paragraphSep.Split(text, -1) {
		switch {
		case len(paragraph) > maxSize:
			flush()
			for _, sentence := range sentenceRe.FindAllString(paragraph, -1) {
				sentence = strings.TrimSpace(sentence)
				if sentence == "" {
					continue
				}
				if current != "" && len(current)+1+len(sentence) > maxSize {
					flush()
				}
				if current == "" {
					current = sentence
				} else {
					current += " " + sentence
				}
			}
		case current != "" && len(current)+2+len(paragraph) > maxSize:
			flush()
			current = strings.TrimSpace(paragraph)
		default:
			if trimmed := strings.TrimSpace(paragraph); trimmed != "" {
				if current == "" {
					current = trimmed
				} else {
					current += "\n\n" + trimmed
				}
			}
		}
	}
	flush()

	// Drop anything that is whitespace-only after assembly.
	out := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out
}
