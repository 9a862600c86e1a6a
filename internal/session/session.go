// Package session keeps per-user conversation state in memory.
//
// The Store is keyed by user identity and enforces a single writer per
// key: a request holds its user's Lease for its whole duration, and a
// second request for the same user either waits or is turned away with
// ErrSessionConflict, depending on the configured policy. Requests for
// different users never contend.
//
// Sessions are not durable. They expire after a period of inactivity and
// are rebuilt from the next search.
package session

import (
	"time"

	"github.com/teemow/homesheet/internal/listing"
)

// Status is the terminal state of the last request in a session.
type Status string

const (
	StatusNew          Status = ""
	StatusDone         Status = "DONE"
	StatusFailed       Status = "FAILED"
	StatusAuthRequired Status = "AUTH_REQUIRED"
)

// MaxHistory caps the turns kept per session.
const MaxHistory = 10

// Turn records one completed request.
type Turn struct {
	Text    string    `json:"text"`
	Summary string    `json:"summary"`
	At      time.Time `json:"at"`
}

// Session is the conversation state of one user.
type Session struct {
	UserID       string
	Criteria     *listing.Criteria
	Listings     []listing.Listing
	SheetURL     string
	Turns        int
	LastActivity time.Time
	Status       Status
	// PendingText is the request text that ended in AUTH_REQUIRED; resending
	// it resumes from the stored criteria and listings.
	PendingText string
	History     []Turn
}

// HasContext reports whether a follow-up can build on this session.
func (s Session) HasContext() bool {
	return s.Criteria != nil
}

// AppendTurn records a finished request and counts it, keeping the last
// MaxHistory turns.
func (s *Session) AppendTurn(t Turn) {
	s.Turns++
	s.History = append(s.History, t)
	if len(s.History) > MaxHistory {
		s.History = append([]Turn(nil), s.History[len(s.History)-MaxHistory:]...)
	}
}

// clone returns a deep copy so callers never share slices with the store.
func (s Session) clone() Session {
	out := s
	if s.Criteria != nil {
		c := s.Criteria.Clone()
		out.Criteria = &c
	}
	out.Listings = listing.Clone(s.Listings)
	if s.History != nil {
		out.History = append([]Turn(nil), s.History...)
	}
	return out
}
