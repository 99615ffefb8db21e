// Package identity normalizes the chat and project identifiers clients send.
// Chat identifiers may be human-readable labels; they are hashed into a
// stable UUID so the same label always lands on the same chat row. Project
// identifiers that are not UUIDs are treated as names and resolved by lookup.
package identity

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var uuidShape = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// IsUUID reports whether s matches the canonical 8-4-4-4-12 hex UUID shape,
// case-insensitively.
func IsUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	return uuidShape.MatchString(strings.ToLower(s))
}

// NormalizeChatID returns s unchanged if it is already UUID-shaped, otherwise
// derives a deterministic UUID from its bytes. An empty identifier is replaced
// by a fresh time-seeded label before hashing so session creation never fails
// for a missing ID alone.
func NormalizeChatID(s string) string {
	if s == "" {
		s = fmt.Sprintf("chat-%d", time.Now().UnixMilli())
	}
	if IsUUID(s) {
		return s
	}
	return DeterministicUUID(s)
}

// DeterministicUUID hashes s with SHA-1 and formats the first 32 hex
// characters of the digest into UUID layout. The same input always yields
// the same output.
func DeterministicUUID(s string) string {
	sum := sha1.Sum([]byte(s))
	h := hex.EncodeToString(sum[:])
	return h[0:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:20] + "-" + h[20:32]
}

// ProjectLookup resolves a project name to its UUID. Implemented by
// storage.Store.
type ProjectLookup interface {
	FindProjectByName(ctx context.Context, name string) (string, error)
}

// ResolveProjectID passes UUID-shaped identifiers through and resolves
// anything else as a case-insensitive project name. A name with no match
// resolves to "" with a nil error; missing project context is not a failure.
func ResolveProjectID(ctx context.Context, s string, lookup ProjectLookup) (string, error) {
	if s == "" {
		return "", nil
	}
	if IsUUID(s) {
		return s, nil
	}
	id, err := lookup.FindProjectByName(ctx, s)
	if err != nil {
		return "", fmt.Errorf("looking up project %q: %w", s, err)
	}
	return id, nil
}
