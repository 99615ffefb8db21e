// Package conversation holds chat-session conventions shared by the API and
// the agent relay: message type tags, title derivation, and the reducer that
// folds the flat tagged message log into display turns.
package conversation

import (
	"strings"

	"github.com/AleenDhar/dealsense/internal/storage"
)

// Message type tags written by the agent while it works through a turn.
// "message" and "final" carry answer text; the rest are progress records.
const (
	TypeMessage    = "message"
	TypeThinking   = "thinking"
	TypeToolCall   = "tool_call"
	TypeToolResult = "tool_result"
	TypeStatus     = "status"
	TypeFinal      = "final"
	TypeCancelled  = "cancelled"
)

// SentinelPrefix marks titles of chats the agent created for itself. Such
// chats are hidden from user-facing listings.
const SentinelPrefix = "\u200b"

// titleMaxLen is the number of content characters kept in a derived title.
const titleMaxLen = 50

// TitleFromContent derives a chat title from the first user message:
// the first 50 characters, with "..." appended when truncated. Empty
// content yields "New Chat".
func TitleFromContent(content string) string {
	if content == "" {
		return "New Chat"
	}
	runes := []rune(content)
	if len(runes) <= titleMaxLen {
		return content
	}
	return string(runes[:titleMaxLen]) + "..."
}

// IsAgentGenerated reports whether a chat title marks an agent-created
// session that should be hidden from listings.
func IsAgentGenerated(title string) bool {
	return strings.HasPrefix(title, SentinelPrefix)
}

// FilterVisible drops agent-generated chats from a listing.
func FilterVisible(chats []storage.Chat) []storage.Chat {
	visible := chats[:0]
	for _, c := range chats {
		if !IsAgentGenerated(c.Title) {
			visible = append(visible, c)
		}
	}
	return visible
}
