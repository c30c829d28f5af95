package memory

import "context"

// Message roles stored in session memory.
const (
	RoleHuman     = "human"
	RoleAssistant = "assistant"
)

// Message is one utterance in a conversation. Assistant messages carry the
// route that produced them so the router's continuity rule can inspect
// structured state instead of scanning rendered text.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Route   string `json:"route,omitempty"`
}

// Memory stores bounded, ordered conversation history per session key.
// After any append the stored sequence never exceeds 2*maxTurns messages;
// the oldest messages are evicted first.
type Memory interface {
	// Read returns the stored messages for a session, oldest to newest.
	Read(ctx context.Context, sessionID string) ([]Message, error)
	// Append persists new messages, trimming to the configured window.
	Append(ctx context.Context, sessionID string, messages []Message) error
	// Clear removes all stored messages for a session.
	Clear(ctx context.Context, sessionID string) error
}

// trim keeps the newest maxMessages entries, preserving order.
func trim(messages []Message, maxMessages int) []Message {
	if maxMessages < 1 {
		maxMessages = 1
	}
	if len(messages) <= maxMessages {
		return messages
	}
	return messages[len(messages)-maxMessages:]
}
