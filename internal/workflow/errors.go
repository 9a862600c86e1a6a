package workflow

import (
	"errors"
	"fmt"
)

// Kind classifies how a request ended when it did not produce a summary.
type Kind string

const (
	// KindParseFailure means the request text could not be turned into
	// search criteria.
	KindParseFailure Kind = "ParseFailure"
	// KindToolExecutionFailure means a search or sheet call kept failing
	// after retries.
	KindToolExecutionFailure Kind = "ToolExecutionFailure"
	// KindAuthorizationRequired means the user has to approve Google
	// access. It is an outcome, not an error.
	KindAuthorizationRequired Kind = "AuthorizationRequired"
	// KindAuthorizationUnavailable means token exchange or refresh kept
	// failing.
	KindAuthorizationUnavailable Kind = "AuthorizationTemporarilyUnavailable"
	// KindLoopBoundExceeded means the reasoner kept requesting tools.
	KindLoopBoundExceeded Kind = "LoopBoundExceeded"
	// KindSessionConflict means another request for the same user was in
	// flight.
	KindSessionConflict Kind = "SessionConflict"
	// KindReasoningFailure means the reasoning backend could not be reached.
	KindReasoningFailure Kind = "ReasoningFailure"
	// KindInternalFailure means a component panicked while handling the
	// request.
	KindInternalFailure Kind = "InternalFailure"
)

// UserActionable reports whether the user can fix the outcome by changing
// the request or approving access.
func (k Kind) UserActionable() bool {
	switch k {
	case KindParseFailure, KindAuthorizationRequired, KindLoopBoundExceeded:
		return true
	}
	return false
}

// Transient reports whether retrying the same request later may succeed.
func (k Kind) Transient() bool {
	switch k {
	case KindToolExecutionFailure, KindAuthorizationUnavailable, KindSessionConflict, KindReasoningFailure:
		return true
	}
	return false
}

// ErrUnparseable is wrapped by reasoners whose criteria output is empty or
// malformed.
var ErrUnparseable = errors.New("could not understand request")

// Error is a terminal request failure carrying its Kind and the message
// shown to the user.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Failure is the structured form of an Error returned to callers.
type Failure struct {
	Kind           Kind   `json:"kind"`
	Message        string `json:"message"`
	Retryable      bool   `json:"retryable"`
	UserActionable bool   `json:"user_actionable"`
}

func failureFor(err *Error) *Failure {
	return &Failure{
		Kind:           err.Kind,
		Message:        err.Message,
		Retryable:      err.Kind.Transient(),
		UserActionable: err.Kind.UserActionable(),
	}
}

// User-facing messages.
const (
	msgNoLocation      = "Could not determine a location. Please include a city, state, or zip code."
	msgUnparseable     = "Could not understand the request. Please describe the home you are looking for, including a location."
	msgLoopBound       = "The request could not be completed automatically. Please try again with a simpler request."
	msgSessionConflict = "A request for this user is already in progress. Please wait for it to finish and try again."
	msgReasoning       = "The assistant is temporarily unavailable. Please try again shortly."
	msgInternal        = "Something went wrong while handling the request. Please try again with different wording."
	msgAuthUnavailable = "Google authorization is temporarily unavailable. Please try again shortly."
	msgNoListingsData  = "No listings data. Run search_listings first."
)
