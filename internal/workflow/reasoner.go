package workflow

import (
	"context"
	"encoding/json"

	"github.com/teemow/homesheet/internal/listing"
	"github.com/teemow/homesheet/internal/session"
)

// Tool names the reasoner may request. The set is closed.
const (
	ToolSearchListings = "search_listings"
	ToolCreateSheet    = "create_sheet"
)

// Reasoner is the natural-language capability the engine drives.
type Reasoner interface {
	// ParseCriteria turns free text into search criteria. Output that
	// cannot be understood is reported by wrapping ErrUnparseable.
	ParseCriteria(ctx context.Context, text string) (listing.Criteria, error)
	// Next returns the next step of the tool-use loop.
	Next(ctx context.Context, conv *Conversation) (Decision, error)
}

// Role of a message in the conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one tool invocation requested by the reasoner.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult is the JSON result of one ToolCall.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Message is one entry of the running conversation. Assistant messages
// carry the tool calls they requested; tool messages carry their results in
// the same order.
type Message struct {
	Role      Role         `json:"role"`
	Text      string       `json:"text,omitempty"`
	ToolCalls []ToolCall   `json:"tool_calls,omitempty"`
	Results   []ToolResult `json:"results,omitempty"`
}

// Conversation is the context handed to Reasoner.Next.
type Conversation struct {
	UserID string
	// Text is the raw text of the current request.
	Text string
	// Followup is set when the request continues an earlier search.
	Followup bool
	// Resumed is set when the request repeats one that stopped for
	// authorization.
	Resumed  bool
	Criteria listing.Criteria
	// Listings holds the most recent search results, stored or fresh.
	Listings []listing.Listing
	SheetURL string
	History  []session.Turn
	Messages []Message
	// Iteration counts Next calls, starting at 1.
	Iteration int
}

// LastResults returns the tool results of the latest tool message.
func (c *Conversation) LastResults() []ToolResult {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleTool {
			return c.Messages[i].Results
		}
	}
	return nil
}

// Called reports whether the named tool ran successfully during this
// request.
func (c *Conversation) Called(name string) bool {
	for _, m := range c.Messages {
		for _, r := range m.Results {
			if r.Name == name && !r.IsError {
				return true
			}
		}
	}
	return false
}

// Decision is the reasoner's answer to one Next call: tool calls to run, or
// a final summary when ToolCalls is empty.
type Decision struct {
	ToolCalls []ToolCall
	Summary   string
}

// Final reports whether the decision ends the loop.
func (d Decision) Final() bool {
	return len(d.ToolCalls) == 0
}
