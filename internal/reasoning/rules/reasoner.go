package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/teemow/homesheet/internal/listing"
	"github.com/teemow/homesheet/internal/workflow"
)

// newSearchRe matches follow-up text asking for a new search. Words like
// "new" or "again" alone ("make a new sheet") reuse the stored listings.
var newSearchRe = regexp.MustCompile(`(?i)\b(?:search(?:ing)?|find|look(?:ing)? (?:for|again)|show me|refresh(?: the)? (?:results|listings)|new (?:listings|results|search)|search again)\b`)

// Reasoner implements workflow.Reasoner with fixed rules.
type Reasoner struct{}

// New returns a Reasoner.
func New() *Reasoner {
	return &Reasoner{}
}

// ParseCriteria parses text with ParseCriteria. Text without a single
// recognizable field is reported as unparseable.
func (r *Reasoner) ParseCriteria(_ context.Context, text string) (listing.Criteria, error) {
	c := ParseCriteria(text)
	empty := listing.Criteria{}
	empty.Normalize()
	if c.FilterKey() == empty.FilterKey() && len(c.Keywords) == 0 {
		return listing.Criteria{}, fmt.Errorf("no search criteria in %q: %w", text, workflow.ErrUnparseable)
	}
	return c, nil
}

// Next searches unless the conversation already holds listings the user
// did not ask to replace, creates a sheet for fresh results, and then
// summarizes.
func (r *Reasoner) Next(_ context.Context, conv *workflow.Conversation) (workflow.Decision, error) {
	searched := conv.Called(workflow.ToolSearchListings)
	sheetAttempted := attempted(conv, workflow.ToolCreateSheet)

	if !searched && !attempted(conv, workflow.ToolSearchListings) {
		if args, ok := searchArgs(conv); ok {
			return call(workflow.ToolSearchListings, args), nil
		}
	}

	needSheet := len(conv.Listings) > 0 && !sheetAttempted && (searched || conv.SheetURL == "")
	if needSheet {
		return call(workflow.ToolCreateSheet, nil), nil
	}

	return workflow.Decision{Summary: summary(conv)}, nil
}

// searchArgs decides whether this request needs a search and with which
// argument overrides.
func searchArgs(conv *workflow.Conversation) (json.RawMessage, bool) {
	if conv.Resumed && len(conv.Listings) > 0 {
		return nil, false
	}
	if !conv.Followup {
		return json.RawMessage(`{}`), true
	}

	overrides := overridesFrom(conv.Text)
	if len(overrides) == 0 && !newSearchRe.MatchString(conv.Text) && len(conv.Listings) > 0 {
		return nil, false
	}
	b, err := json.Marshal(overrides)
	if err != nil {
		return json.RawMessage(`{}`), true
	}
	return b, true
}

// overridesFrom returns the criteria fields mentioned in follow-up text.
func overridesFrom(text string) map[string]any {
	c := ParseCriteria(text)
	out := map[string]any{}
	if c.Location != "" {
		out["location"] = c.Location
	}
	if rentRe.MatchString(text) || soldRe.MatchString(text) {
		out["listing_type"] = c.ListingType
	}
	set := func(key string, v *int) {
		if v != nil {
			out[key] = *v
		}
	}
	set("min_price", c.MinPrice)
	set("max_price", c.MaxPrice)
	set("min_beds", c.MinBeds)
	set("max_beds", c.MaxBeds)
	set("min_sqft", c.MinSqft)
	set("max_sqft", c.MaxSqft)
	if c.MinBaths != nil {
		out["min_baths"] = *c.MinBaths
	}
	if len(c.PropertyTypes) > 0 {
		out["property_type"] = c.PropertyTypes
	}
	if daysRe.MatchString(text) || weekRe.MatchString(text) {
		out["past_days"] = c.PastDays
	}
	return out
}

func attempted(conv *workflow.Conversation, tool string) bool {
	for _, m := range conv.Messages {
		for _, res := range m.Results {
			if res.Name == tool {
				return true
			}
		}
	}
	return false
}

// lastResult returns the content of the most recent result of tool.
func lastResult(conv *workflow.Conversation, tool string) (workflow.ToolResult, bool) {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		results := conv.Messages[i].Results
		for j := len(results) - 1; j >= 0; j-- {
			if results[j].Name == tool {
				return results[j], true
			}
		}
	}
	return workflow.ToolResult{}, false
}

func call(name string, args json.RawMessage) workflow.Decision {
	return workflow.Decision{ToolCalls: []workflow.ToolCall{{
		ID:        "call_" + uuid.NewString(),
		Name:      name,
		Arguments: args,
	}}}
}

func summary(conv *workflow.Conversation) string {
	loc := conv.Criteria.Location
	if res, ok := lastResult(conv, workflow.ToolSearchListings); ok && res.IsError {
		return fmt.Sprintf("The search for %s could not run: %s", loc, errorText(res))
	}
	if len(conv.Listings) == 0 {
		return fmt.Sprintf("No listings found in %s matching your criteria. "+
			"Try a wider price range, fewer bedrooms, or a longer listing window.", loc)
	}

	s := listing.Summarize(conv.Listings)
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d listings in %s. Prices range from %s to %s, averaging %s.",
		s.Count, loc,
		listing.FormatPrice(s.PriceMin), listing.FormatPrice(s.PriceMax), listing.FormatPrice(s.PriceAvg))

	cheapest := conv.Listings[0]
	fmt.Fprintf(&b, " Lowest priced: %s at %s.", cheapest.FullAddress(), listing.FormatPrice(cheapest.Price))

	if res, ok := lastResult(conv, workflow.ToolCreateSheet); ok && res.IsError {
		fmt.Fprintf(&b, " Sheet creation failed: %s", errorText(res))
	} else if conv.SheetURL != "" {
		fmt.Fprintf(&b, " Google Sheet: %s", conv.SheetURL)
	}
	return b.String()
}

func errorText(res workflow.ToolResult) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(res.Content), &body); err == nil && body.Error != "" {
		return body.Error
	}
	return res.Content
}
