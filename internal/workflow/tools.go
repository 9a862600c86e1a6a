package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/teemow/homesheet/internal/auth"
	"github.com/teemow/homesheet/internal/instrumentation"
	"github.com/teemow/homesheet/internal/listing"
	"github.com/teemow/homesheet/internal/logging"
	"github.com/teemow/homesheet/internal/search"
	"github.com/teemow/homesheet/internal/sheets"
)

// sampleSize is the number of listings echoed back to the reasoner.
const sampleSize = 5

type toolFunc func(r *run, ctx context.Context, call ToolCall) (ToolResult, error)

// toolset maps every tool name the reasoner may request to its handler.
// A handler error is terminal for the request and is always an *Error.
var toolset = map[string]toolFunc{
	ToolSearchListings: (*run).searchListings,
	ToolCreateSheet:    (*run).createSheet,
}

type searchResult struct {
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
	Location    string `json:"location,omitempty"`
	ListingType string `json:"listing_type,omitempty"`
	*listing.Summary
	Samples []listing.Listing `json:"sample_listings,omitempty"`
}

type sheetResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	SheetURL string `json:"sheet_url,omitempty"`
	NumRows  int    `json:"num_rows,omitempty"`
}

func toolResult(call ToolCall, v any, isError bool) ToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		b = []byte(fmt.Sprintf(`{"status":"error","error":%q}`, err.Error()))
		isError = true
	}
	return ToolResult{CallID: call.ID, Name: call.Name, Content: string(b), IsError: isError}
}

func errorResult(call ToolCall, msg string) ToolResult {
	return toolResult(call, map[string]string{"status": "error", "error": msg}, true)
}

// dispatch runs one tool call and records its span, metrics and audit
// entry. Unknown tools produce an error result.
func (r *run) dispatch(ctx context.Context, call ToolCall) (ToolResult, error) {
	fn, ok := toolset[call.Name]
	if !ok {
		r.logger.WarnContext(ctx, "unknown tool requested", logging.Tool(call.Name))
		return errorResult(call, "Unknown tool: "+call.Name), nil
	}

	ctx, span := instrumentation.StartToolSpan(ctx, call.Name,
		instrumentation.NewSpanAttributeBuilder().
			WithUser(r.req.UserID).
			WithIteration(r.iterations).
			Build()...)
	defer span.End()

	ti := instrumentation.NewToolInvocation(call.Name).
		WithUser(r.req.UserID).
		WithRequest(r.requestID, r.iterations).
		WithSpanContext(ctx)

	start := time.Now()
	res, err := fn(r, ctx, call)

	status := instrumentation.StatusSuccess
	var failure error
	switch {
	case err != nil:
		failure = err
	case res.IsError:
		failure = errors.New(res.Content)
	}
	if failure != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, failure)
		ti.CompleteWithError(failure)
	} else {
		instrumentation.SetSpanSuccess(span)
		ti.CompleteSuccess()
	}
	r.engine.metrics.RecordToolInvocation(ctx, call.Name, status, time.Since(start))
	r.engine.audit.LogToolInvocation(ctx, ti)
	return res, err
}

func (r *run) searchListings(ctx context.Context, call ToolCall) (ToolResult, error) {
	c := r.criteria.Clone()
	if args := bytes.TrimSpace(call.Arguments); len(args) > 0 && !bytes.Equal(args, []byte("null")) {
		if err := json.Unmarshal(args, &c); err != nil {
			return errorResult(call, "invalid arguments: "+err.Error()), nil
		}
	}
	c.Normalize()
	if err := c.Validate(); err != nil {
		return errorResult(call, err.Error()), nil
	}

	results, err := retry(ctx, r.engine.config, func(ctx context.Context) ([]listing.Listing, error) {
		res, err := r.engine.search.Search(ctx, c)
		if err != nil && (search.IsInvalidCriteria(err) || errors.Is(err, search.ErrUnavailable)) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	})
	if err != nil {
		if search.IsInvalidCriteria(err) {
			return errorResult(call, err.Error()), nil
		}
		r.lastError = err.Error()
		return ToolResult{}, newError(KindToolExecutionFailure,
			"Listing search failed. Please try again later.", err)
	}

	r.criteria = c
	r.hasCriteria = true
	r.listings = results
	r.searched = true
	r.lastError = ""

	if len(results) == 0 {
		return toolResult(call, searchResult{
			Status:   "no_results",
			Message:  fmt.Sprintf("No listings found in %s with the given filters.", c.Location),
			Location: c.Location,
			Summary:  &listing.Summary{},
		}, false), nil
	}

	summary := listing.Summarize(results)
	samples := results
	if len(samples) > sampleSize {
		samples = samples[:sampleSize]
	}
	return toolResult(call, searchResult{
		Status:      "success",
		Location:    c.Location,
		ListingType: string(c.ListingType),
		Summary:     &summary,
		Samples:     samples,
	}, false), nil
}

func (r *run) createSheet(ctx context.Context, call ToolCall) (ToolResult, error) {
	if len(r.listings) == 0 {
		return errorResult(call, msgNoListingsData), nil
	}

	cred, prompt, err := r.engine.auth.Authorize(ctx, r.req.UserID)
	switch {
	case errors.Is(err, auth.ErrTemporarilyUnavailable):
		return ToolResult{}, newError(KindAuthorizationUnavailable, msgAuthUnavailable, err)
	case err != nil:
		return ToolResult{}, newError(KindToolExecutionFailure,
			"Could not check Google authorization. Please try again later.", err)
	case cred == nil:
		r.prompt = prompt
		return ToolResult{}, newError(KindAuthorizationRequired, "Google authorization required", nil)
	}

	tok := cred.Token()
	url, err := retry(ctx, r.engine.config, func(ctx context.Context) (string, error) {
		url, err := r.engine.sheets.CreateListingsSheet(ctx, tok, r.criteria, r.listings)
		if err != nil && !sheets.IsRetryable(err) {
			return "", backoff.Permanent(err)
		}
		return url, err
	})
	if err != nil {
		r.lastError = err.Error()
		if sheets.IsRetryable(err) || errors.Is(err, sheets.ErrUnavailable) {
			return ToolResult{}, newError(KindToolExecutionFailure,
				"Sheet creation failed. Please try again later.", err)
		}
		return errorResult(call, err.Error()), nil
	}

	r.sheetURL = url
	r.lastError = ""
	return toolResult(call, sheetResult{
		Status:   "success",
		SheetURL: url,
		NumRows:  len(r.listings),
	}, false), nil
}

// retry runs fn with a per-attempt timeout and exponential backoff. Errors
// wrapped with backoff.Permanent stop immediately and are returned
// unwrapped.
func retry[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RetryInitialInterval
	b.MaxInterval = cfg.RetryMaxInterval

	return backoff.Retry(ctx, func() (T, error) {
		callCtx := ctx
		if cfg.ToolTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, cfg.ToolTimeout)
			defer cancel()
		}
		return fn(callCtx)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(cfg.ToolMaxTries))
}
