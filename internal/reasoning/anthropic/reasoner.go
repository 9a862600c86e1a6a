// Package anthropic implements the workflow Reasoner on the Anthropic
// Messages API: a fast model parses criteria into JSON and a stronger model
// drives the tool-use loop.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/teemow/homesheet/internal/listing"
	"github.com/teemow/homesheet/internal/logging"
	"github.com/teemow/homesheet/internal/workflow"
)

const (
	DefaultBaseURL    = "https://api.anthropic.com"
	DefaultParseModel = "claude-haiku-4-5"
	DefaultLoopModel  = "claude-sonnet-4-5"
)

// Config configures a Reasoner.
type Config struct {
	APIKey     string
	BaseURL    string
	ParseModel string
	LoopModel  string
	// MaxTokens bounds loop responses. Parsing always uses 400.
	MaxTokens            int
	RetryMaxTries        uint
	RetryInitialInterval time.Duration
	HTTPClient           *http.Client
}

// Reasoner calls the Messages API.
type Reasoner struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// New creates a Reasoner. An API key is required.
func New(config Config, logger *slog.Logger) (*Reasoner, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.ParseModel == "" {
		config.ParseModel = DefaultParseModel
	}
	if config.LoopModel == "" {
		config.LoopModel = DefaultLoopModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 2048
	}
	if config.RetryMaxTries == 0 {
		config.RetryMaxTries = 3
	}
	if config.RetryInitialInterval <= 0 {
		config.RetryInitialInterval = time.Second
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 90 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reasoner{
		config: config,
		client: client,
		logger: logging.WithComponent(logger, "reasoner"),
	}, nil
}

const parsePrompt = `Parse this real estate search request into structured JSON.

User request: %q

Return ONLY valid JSON with these fields (omit fields not mentioned):
{
  "location": "City, State OR zip code (required)",
  "listing_type": "for_sale | for_rent | sold  (default: for_sale)",
  "min_price": integer or null,
  "max_price": integer or null,
  "min_beds": integer or null,
  "max_beds": integer or null,
  "min_baths": number or null,
  "min_sqft": integer or null,
  "max_sqft": integer or null,
  "property_type": ["single_family","condo","townhouse","multi_family"] or null,
  "past_days": integer (default 30),
  "keywords": ["feature words such as pool or garage"] or null
}

Examples:
- "3 bed house in Austin TX under 600k" -> {"location":"Austin, TX","listing_type":"for_sale","min_beds":3,"max_price":600000,"property_type":["single_family"]}
- "rent apartment NYC 2 bed" -> {"location":"New York, NY","listing_type":"for_rent","min_beds":2,"max_beds":2}

Return only the JSON, no explanation.`

// SystemPrompt instructs the loop model.
const SystemPrompt = `You are a real estate assistant agent.

Your job:
1. Call search_listings with the user's criteria
2. Review the results
3. Call create_sheet to save results to Google Sheets
4. Finish with a concise summary: number of results, price range, average price, and the sheet URL

Always complete both steps (search, then sheet) before giving your final summary.
If search returns no results, explain why and suggest broader criteria.
For follow-up questions about listings that were already found, answer from the previous results and only search again when the user changes the criteria.`

var fenceRe = regexp.MustCompile("(?m)^```(?:json)?\\s*|\\s*```$")

// ParseCriteria asks the parse model for criteria JSON.
func (r *Reasoner) ParseCriteria(ctx context.Context, text string) (listing.Criteria, error) {
	resp, err := r.complete(ctx, messagesRequest{
		Model:     r.config.ParseModel,
		MaxTokens: 400,
		Messages: []wireMessage{{
			Role:    "user",
			Content: []contentBlock{textBlock(fmt.Sprintf(parsePrompt, text))},
		}},
	})
	if err != nil {
		return listing.Criteria{}, err
	}

	raw := strings.TrimSpace(fenceRe.ReplaceAllString(firstText(resp.Content), ""))
	if raw == "" {
		return listing.Criteria{}, fmt.Errorf("empty parse response: %w", workflow.ErrUnparseable)
	}
	var c listing.Criteria
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return listing.Criteria{}, fmt.Errorf("invalid parse response: %v: %w", err, workflow.ErrUnparseable)
	}
	return c, nil
}

// Next sends the conversation to the loop model.
func (r *Reasoner) Next(ctx context.Context, conv *workflow.Conversation) (workflow.Decision, error) {
	resp, err := r.complete(ctx, messagesRequest{
		Model:     r.config.LoopModel,
		MaxTokens: r.config.MaxTokens,
		System:    SystemPrompt,
		Messages:  toWire(conv),
		Tools:     tools,
	})
	if err != nil {
		return workflow.Decision{}, err
	}

	r.logger.DebugContext(ctx, "loop step",
		slog.String("stop_reason", resp.StopReason),
		slog.Int("iteration", conv.Iteration),
		slog.Int64("input_tokens", resp.Usage.InputTokens),
		slog.Int64("output_tokens", resp.Usage.OutputTokens))

	var d workflow.Decision
	if resp.StopReason == "tool_use" {
		for _, block := range resp.Content {
			if block.Type != "tool_use" {
				continue
			}
			d.ToolCalls = append(d.ToolCalls, workflow.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	if len(d.ToolCalls) == 0 {
		d.Summary = lastText(resp.Content)
	}
	return d, nil
}

// toWire converts the conversation, prefixed by earlier turns of the
// session, into alternating Messages API turns.
func toWire(conv *workflow.Conversation) []wireMessage {
	var out []wireMessage
	for _, turn := range conv.History {
		if turn.Text == "" || turn.Summary == "" {
			continue
		}
		out = append(out,
			wireMessage{Role: "user", Content: []contentBlock{textBlock(turn.Text)}},
			wireMessage{Role: "assistant", Content: []contentBlock{textBlock(turn.Summary)}},
		)
	}

	for _, m := range conv.Messages {
		switch m.Role {
		case workflow.RoleUser:
			out = append(out, wireMessage{Role: "user", Content: []contentBlock{textBlock(m.Text)}})
		case workflow.RoleAssistant:
			var blocks []contentBlock
			if m.Text != "" {
				blocks = append(blocks, textBlock(m.Text))
			}
			for _, call := range m.ToolCalls {
				input := call.Arguments
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, contentBlock{Type: "tool_use", ID: call.ID, Name: call.Name, Input: input})
			}
			out = append(out, wireMessage{Role: "assistant", Content: blocks})
		case workflow.RoleTool:
			blocks := make([]contentBlock, 0, len(m.Results))
			for _, res := range m.Results {
				blocks = append(blocks, contentBlock{
					Type:      "tool_result",
					ToolUseID: res.CallID,
					Content:   res.Content,
					IsError:   res.IsError,
				})
			}
			out = append(out, wireMessage{Role: "user", Content: blocks})
		}
	}
	return out
}

func firstText(blocks []contentBlock) string {
	for _, b := range blocks {
		if b.Type == "text" {
			return b.Text
		}
	}
	return ""
}

func lastText(blocks []contentBlock) string {
	text := ""
	for _, b := range blocks {
		if b.Type == "text" {
			text = b.Text
		}
	}
	return strings.TrimSpace(text)
}
