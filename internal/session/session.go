// Package session defines the conversation state carried across turns and the
// Store interface its backends implement.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session id is unknown or has expired.
var ErrNotFound = errors.New("session not found")

// Turn is one message exchanged during a session.
type Turn struct {
	Role    string    `json:"role"` // user, assistant
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// ExtractedContent is the text pulled out of an uploaded file or URL, kept on
// the session so follow-up turns can reuse it without re-extraction.
type ExtractedContent struct {
	Text       string  `json:"text"`
	Type       string  `json:"type"` // text, image, pdf, audio, youtube
	Confidence float64 `json:"confidence,omitempty"`
	Pages      int     `json:"pages,omitempty"`
	Duration   float64 `json:"duration,omitempty"` // seconds, audio only
	Language   string  `json:"language,omitempty"`
	Source     string  `json:"source,omitempty"` // original filename or URL
}

// Session is the full per-conversation state.
type Session struct {
	ID             string            `json:"id"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActive     time.Time         `json:"last_active"`
	Turns          []Turn            `json:"turns"`
	Extracted      *ExtractedContent `json:"extracted,omitempty"`
	LastIntent     string            `json:"last_intent,omitempty"`
	LastConfidence float64           `json:"last_confidence,omitempty"`
	Clarifications int               `json:"clarifications"`
}

// AddTurn appends a message and bumps the activity timestamp.
func (s *Session) AddTurn(role, content string) {
	now := time.Now()
	s.Turns = append(s.Turns, Turn{Role: role, Content: content, At: now})
	s.LastActive = now
}

// RecentTurns returns up to n of the most recent turns, oldest first.
func (s *Session) RecentTurns(n int) []Turn {
	if n <= 0 || len(s.Turns) <= n {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// Store persists sessions keyed by id. Implementations treat sessions idle
// past the configured timeout as absent, and Sweep reclaims them. Upsert is
// the only write path: it creates the session if missing, applies mutate under
// the store's concurrency control, and commits the result atomically with
// respect to other Upserts on the same id.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Upsert(ctx context.Context, id string, mutate func(*Session)) (*Session, error)
	Delete(ctx context.Context, id string) error
	Sweep(ctx context.Context) (int, error)
}
