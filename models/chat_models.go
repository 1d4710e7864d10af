package models

import "strings"

// Conversation roles understood by the generation API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Source types attached to an answer.
const (
	SourceWeb      = "web"
	SourceDocument = "document"
)

// AskRequest is the body of POST /api/ask. The frontend sends history as
// conversationHistory; older clients send it as history.
type AskRequest struct {
	Question            string        `json:"question" validate:"notblank"`
	ConversationHistory []HistoryTurn `json:"conversationHistory,omitempty"`
	History             []HistoryTurn `json:"history,omitempty"`
}

// Turns returns whichever history field the client populated.
func (r AskRequest) Turns() []HistoryTurn {
	if len(r.ConversationHistory) > 0 {
		return r.ConversationHistory
	}
	return r.History
}

// HistoryTurn is a single inbound history entry. Either Role (user|assistant)
// or Type (user|bot) carries the speaker.
type HistoryTurn struct {
	Role    string `json:"role,omitempty"`
	Type    string `json:"type,omitempty"`
	Content string `json:"content"`
}

// IsAssistant reports whether the turn was spoken by the assistant.
func (t HistoryTurn) IsAssistant() bool {
	return strings.EqualFold(t.Role, RoleAssistant) || strings.EqualFold(t.Type, "bot")
}

// ChatMessage represents a single message in conversation history
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Source is one entry of an answer's source list.
type Source struct {
	Type     string `json:"type"`
	URL      string `json:"url,omitempty"`
	Title    string `json:"title,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// AskResponse represents the response from the counselor pipeline
type AskResponse struct {
	Success   bool     `json:"success"`
	Answer    string   `json:"answer"`
	Sources   []Source `json:"sources"`
	Question  string   `json:"question"`
	FollowUps []string `json:"followUps,omitempty"`
}
