package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teemow/homesheet/internal/store"
)

// State is the authorization state of one user.
type State string

const (
	StateUnauthenticated State = "UNAUTHENTICATED"
	StatePending         State = "PENDING"
	StateAuthenticated   State = "AUTHENTICATED"
	StateExpired         State = "EXPIRED"
)

// ErrTemporarilyUnavailable is returned when the authorization server could
// not be reached after all retries.
var ErrTemporarilyUnavailable = errors.New("authorization temporarily unavailable")

// AlreadyConnectedMessage is shown when a user asks to connect but already
// holds a valid credential.
const AlreadyConnectedMessage = "Google is already connected for this user."

// Prompt tells the user how to approve a pending device authorization.
type Prompt struct {
	VerificationURL         string    `json:"verification_url"`
	VerificationURLComplete string    `json:"verification_url_complete,omitempty"`
	UserCode                string    `json:"user_code"`
	ExpiresAt               time.Time `json:"expires_at"`
	// ExpiresIn is the time left when the prompt was built.
	ExpiresIn time.Duration `json:"-"`
}

func promptFor(flow store.DeviceFlow, now time.Time) Prompt {
	return Prompt{
		VerificationURL:         flow.VerificationURL,
		VerificationURLComplete: flow.VerificationURLComplete,
		UserCode:                flow.UserCode,
		ExpiresAt:               flow.ExpiresAt,
		ExpiresIn:               flow.Remaining(now),
	}
}

// Message renders the prompt as plain text for chat-style replies.
func (p Prompt) Message() string {
	minutes := int(p.ExpiresIn / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	var b strings.Builder
	b.WriteString("Google authorization required for sheet creation.\n")
	fmt.Fprintf(&b, "1) Open: %s\n", p.VerificationURL)
	fmt.Fprintf(&b, "2) Enter code: %s\n", p.UserCode)
	b.WriteString("3) Approve Drive/Sheets access\n")
	b.WriteString("4) Re-run the same search request\n")
	fmt.Fprintf(&b, "Code expires in about %d minute(s).", minutes)
	return b.String()
}

// PollStatus is the outcome of one exchange attempt.
type PollStatus string

const (
	// PollAuthenticated means a credential was stored.
	PollAuthenticated PollStatus = "authenticated"
	// PollPending means the user has not approved yet.
	PollPending PollStatus = "pending"
	// PollExpired means the attempt expired and was discarded.
	PollExpired PollStatus = "expired"
	// PollDenied means the user declined and the attempt was discarded.
	PollDenied PollStatus = "denied"
	// PollNoAttempt means there is no attempt to poll.
	PollNoAttempt PollStatus = "no_attempt"
)

// PollResult reports what Poll observed.
type PollResult struct {
	Status PollStatus `json:"status"`
	// Prompt is set while the attempt is still pending.
	Prompt *Prompt `json:"prompt,omitempty"`
}
