// Package workflow drives a housing request from raw user text to a final
// response. Each request runs through an explicit state machine:
//
//	RECEIVED -> PARSING -> LOOPING -> DONE
//	                   \          \-> AUTH_REQUIRED
//	                    \-> FAILED <-/
//
// Follow-up requests and requests resumed after authorization skip PARSING
// and enter LOOPING with the criteria and listings stored in the session.
// LOOPING alternates between the Reasoner and the closed set of tools until
// the reasoner produces a summary or the iteration bound is hit.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/teemow/homesheet/internal/auth"
	"github.com/teemow/homesheet/internal/events"
	"github.com/teemow/homesheet/internal/instrumentation"
	"github.com/teemow/homesheet/internal/listing"
	"github.com/teemow/homesheet/internal/logging"
	"github.com/teemow/homesheet/internal/session"
	"github.com/teemow/homesheet/internal/store"
)

// State is a workflow state.
type State string

const (
	StateReceived     State = "RECEIVED"
	StateParsing      State = "PARSING"
	StateLooping      State = "LOOPING"
	StateDone         State = "DONE"
	StateFailed       State = "FAILED"
	StateAuthRequired State = "AUTH_REQUIRED"
)

// Terminal reports whether s ends a request.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateAuthRequired
}

// RequestType selects how a request treats an existing session.
type RequestType string

const (
	RequestSearch   RequestType = "search"
	RequestFollowup RequestType = "followup"
)

// DefaultUserID is used for requests that carry no user identity.
const DefaultUserID = "default"

// Request is one inbound housing request.
type Request struct {
	UserID string      `json:"user_id"`
	Text   string      `json:"text"`
	Type   RequestType `json:"request_type"`
}

// Response is the outcome of a request. Every request gets one.
type Response struct {
	RequestID  string       `json:"request_id"`
	Status     State        `json:"status"`
	Summary    string       `json:"summary"`
	SheetURL   string       `json:"sheet_url,omitempty"`
	AuthPrompt *auth.Prompt `json:"auth_prompt,omitempty"`
	NumResults int          `json:"num_results"`
	Failure    *Failure     `json:"failure,omitempty"`
}

// Searcher runs listing searches.
type Searcher interface {
	Search(ctx context.Context, c listing.Criteria) ([]listing.Listing, error)
}

// SheetWriter creates the result sheet in the user's Google account.
type SheetWriter interface {
	CreateListingsSheet(ctx context.Context, tok *oauth2.Token, c listing.Criteria, listings []listing.Listing) (string, error)
}

// Authorizer is the part of the auth manager the engine needs.
type Authorizer interface {
	StartOrResume(ctx context.Context, userID string) (auth.Prompt, error)
	ValidCredential(ctx context.Context, userID string) (*store.Credential, error)
	Authorize(ctx context.Context, userID string) (*store.Credential, *auth.Prompt, error)
}

// Config tunes an Engine.
type Config struct {
	// MaxIterations bounds the reasoner calls of one request.
	MaxIterations int
	// ReasonerTimeout bounds each reasoner call.
	ReasonerTimeout time.Duration
	// ToolTimeout bounds each tool attempt.
	ToolTimeout          time.Duration
	ToolMaxTries         uint
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// DefaultConfig returns the serve command's defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:        8,
		ReasonerTimeout:      60 * time.Second,
		ToolTimeout:          60 * time.Second,
		ToolMaxTries:         3,
		RetryInitialInterval: 500 * time.Millisecond,
		RetryMaxInterval:     5 * time.Second,
	}
}

// AuthCommand is the canonical text that asks to connect Google.
const AuthCommand = "/google-auth"

// authCommands short-circuit a request to the device flow.
var authCommands = map[string]bool{
	AuthCommand:      true,
	"google auth":    true,
	"connect google": true,
}

// IsAuthCommand reports whether text asks to connect Google.
func IsAuthCommand(text string) bool {
	return authCommands[strings.ToLower(strings.TrimSpace(text))]
}

// Engine runs housing requests.
type Engine struct {
	reasoner  Reasoner
	search    Searcher
	sheets    SheetWriter
	auth      Authorizer
	sessions  *session.Store
	publisher events.Publisher
	metrics   *instrumentation.Metrics
	audit     *instrumentation.AuditLogger
	logger    *slog.Logger
	config    Config
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets where completed-request events go.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithMetrics records workflow and tool metrics.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithAuditLogger sets the tool audit log.
func WithAuditLogger(a *instrumentation.AuditLogger) Option {
	return func(e *Engine) { e.audit = a }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine.
func NewEngine(reasoner Reasoner, searcher Searcher, writer SheetWriter, authorizer Authorizer, sessions *session.Store, config Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if config.MaxIterations <= 0 {
		config.MaxIterations = def.MaxIterations
	}
	if config.ToolMaxTries == 0 {
		config.ToolMaxTries = 1
	}
	if config.RetryInitialInterval <= 0 {
		config.RetryInitialInterval = def.RetryInitialInterval
	}
	if config.RetryMaxInterval <= 0 {
		config.RetryMaxInterval = def.RetryMaxInterval
	}

	e := &Engine{
		reasoner:  reasoner,
		search:    searcher,
		sheets:    writer,
		auth:      authorizer,
		sessions:  sessions,
		publisher: events.Nop{},
		logger:    slog.Default(),
		config:    config,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.WithComponent(e.logger, "workflow")
	return e
}

// run is the state of one request.
type run struct {
	engine    *Engine
	req       Request
	requestID string
	logger    *slog.Logger
	lease     *session.Lease

	state      State
	followup   bool
	resumed    bool
	iterations int

	criteria    listing.Criteria
	hasCriteria bool
	listings    []listing.Listing
	searched    bool
	sheetURL    string
	lastError   string
	summary     string
	prompt      *auth.Prompt
	err         *Error
}

// Handle runs one request to a terminal state.
func (e *Engine) Handle(ctx context.Context, req Request) Response {
	start := e.now()
	req.Text = strings.TrimSpace(req.Text)
	if req.UserID == "" {
		req.UserID = DefaultUserID
	}
	if req.Type != RequestFollowup {
		req.Type = RequestSearch
	}

	r := &run{
		engine:    e,
		req:       req,
		requestID: uuid.New().String(),
		state:     StateReceived,
	}
	r.logger = e.logger.With(logging.RequestID(r.requestID), logging.UserHash(req.UserID))

	ctx, span := instrumentation.StartWorkflowSpan(ctx, string(req.Type),
		instrumentation.NewSpanAttributeBuilder().
			WithUser(req.UserID).
			WithRequestType(string(req.Type)).
			Build()...)
	defer span.End()

	r.execute(ctx)

	resp := r.response()
	instrumentation.SetSpanOutcome(span, string(resp.Status), resp.NumResults)
	if r.err != nil && r.err.Kind != KindAuthorizationRequired {
		instrumentation.SetSpanError(span, r.err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	e.finish(ctx, r, resp, e.now().Sub(start))
	return resp
}

// execute runs the request body. A panic in a reasoner, tool or store ends
// the request as FAILED; the session lease is released either way.
func (r *run) execute(ctx context.Context) {
	e := r.engine
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("request handling panicked",
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()),
				logging.State(string(r.state)))
			r.fail(newError(KindInternalFailure, msgInternal, fmt.Errorf("panic: %v", p)))
		}
	}()

	switch {
	case IsAuthCommand(r.req.Text):
		r.handleAuthCommand(ctx)
	case r.req.Text == "":
		r.fail(newError(KindParseFailure, msgUnparseable, nil))
	default:
		e.sessions.ExpireIfStale(r.req.UserID, e.sessions.TTL())
		lease, err := e.sessions.Acquire(ctx, r.req.UserID)
		if err != nil {
			r.fail(newError(KindSessionConflict, msgSessionConflict, err))
			return
		}
		defer lease.Release()
		r.lease = lease
		r.drive(ctx)
		r.persist()
	}
}

// drive advances the state machine until it reaches a terminal state.
func (r *run) drive(ctx context.Context) {
	for !r.state.Terminal() {
		from := r.state
		switch r.state {
		case StateReceived:
			r.route()
		case StateParsing:
			r.parse(ctx)
		case StateLooping:
			r.loop(ctx)
		default:
			r.fail(newError(KindToolExecutionFailure, "internal error", fmt.Errorf("unexpected state %s", r.state)))
		}
		r.logger.DebugContext(ctx, "workflow transition",
			slog.String("from", string(from)),
			logging.State(string(r.state)))
	}
}

func (r *run) route() {
	sess := r.lease.Session()
	switch {
	case r.req.Type == RequestFollowup && sess.HasContext():
		r.followup = true
	case sess.Status == session.StatusAuthRequired && sess.HasContext() &&
		strings.EqualFold(sess.PendingText, r.req.Text):
		r.resumed = true
	default:
		r.state = StateParsing
		return
	}
	r.criteria = sess.Criteria.Clone()
	r.hasCriteria = true
	r.listings = listing.Clone(sess.Listings)
	r.sheetURL = sess.SheetURL
	r.state = StateLooping
}

func (r *run) parse(ctx context.Context) {
	callCtx, cancel := r.engine.reasonerContext(ctx)
	defer cancel()

	c, err := r.engine.reasoner.ParseCriteria(callCtx, r.req.Text)
	if err != nil {
		if errors.Is(err, ErrUnparseable) {
			r.fail(newError(KindParseFailure, msgUnparseable, err))
		} else {
			r.fail(newError(KindReasoningFailure, msgReasoning, err))
		}
		return
	}

	c.Normalize()
	if c.Location == "" {
		r.fail(newError(KindParseFailure, msgNoLocation, nil))
		return
	}
	if err := c.Validate(); err != nil {
		r.fail(newError(KindParseFailure, "The search criteria are not valid: "+err.Error(), err))
		return
	}

	r.criteria = c
	r.hasCriteria = true
	r.listings = nil
	r.sheetURL = ""
	r.state = StateLooping
}

func (r *run) loop(ctx context.Context) {
	sess := r.lease.Session()
	conv := &Conversation{
		UserID:   r.req.UserID,
		Text:     r.req.Text,
		Followup: r.followup,
		Resumed:  r.resumed,
		History:  sess.History,
		Messages: []Message{{Role: RoleUser, Text: r.openingPrompt()}},
	}

	for r.iterations < r.engine.config.MaxIterations {
		r.iterations++
		conv.Iteration = r.iterations
		conv.Criteria = r.criteria.Clone()
		conv.Listings = listing.Clone(r.listings)
		conv.SheetURL = r.sheetURL

		callCtx, cancel := r.engine.reasonerContext(ctx)
		decision, err := r.engine.reasoner.Next(callCtx, conv)
		cancel()
		if err != nil {
			r.fail(newError(KindReasoningFailure, msgReasoning, err))
			return
		}

		conv.Messages = append(conv.Messages, Message{
			Role:      RoleAssistant,
			Text:      decision.Summary,
			ToolCalls: decision.ToolCalls,
		})
		if decision.Final() {
			r.summary = strings.TrimSpace(decision.Summary)
			r.state = StateDone
			return
		}

		results := make([]ToolResult, 0, len(decision.ToolCalls))
		for _, call := range decision.ToolCalls {
			res, err := r.dispatch(ctx, call)
			if err != nil {
				var werr *Error
				if !errors.As(err, &werr) {
					werr = newError(KindToolExecutionFailure, "Tool execution failed.", err)
				}
				r.fail(werr)
				return
			}
			results = append(results, res)
		}
		conv.Messages = append(conv.Messages, Message{Role: RoleTool, Results: results})
	}

	r.fail(newError(KindLoopBoundExceeded, msgLoopBound,
		fmt.Errorf("no summary after %d iterations", r.iterations)))
}

// openingPrompt is the first user message of the loop.
func (r *run) openingPrompt() string {
	var b strings.Builder
	switch {
	case r.followup:
		fmt.Fprintf(&b, "Follow-up to the previous search:\n%s\n\n", r.criteria.Describe())
		fmt.Fprintf(&b, "The previous search returned %d listing(s).", len(r.listings))
		if r.sheetURL != "" {
			fmt.Fprintf(&b, " Google Sheet: %s", r.sheetURL)
		}
		fmt.Fprintf(&b, "\n\nUser request: %q\n\n", r.req.Text)
		b.WriteString("Only call search_listings again if the request changes the criteria.")
	case r.resumed && len(r.listings) > 0:
		b.WriteString("Google access has been approved. Create the Google Sheet for the listings already found:\n")
		b.WriteString(r.criteria.Describe())
		fmt.Fprintf(&b, "\n\n%d listing(s) were found. Call create_sheet.", len(r.listings))
	default:
		b.WriteString("Find real estate listings and create a Google Sheet:\n")
		b.WriteString(r.criteria.Describe())
		b.WriteString("\n\nCall search_listings first, then create_sheet.")
	}
	return b.String()
}

func (r *run) handleAuthCommand(ctx context.Context) {
	e := r.engine
	cred, err := e.auth.ValidCredential(ctx, r.req.UserID)
	if err == nil && cred != nil {
		r.summary = auth.AlreadyConnectedMessage
		r.state = StateDone
		return
	}
	if err != nil && errors.Is(err, auth.ErrTemporarilyUnavailable) {
		r.fail(newError(KindAuthorizationUnavailable, msgAuthUnavailable, err))
		return
	}
	if err != nil {
		r.logger.WarnContext(ctx, "credential check failed", logging.Err(err))
	}

	prompt, err := e.auth.StartOrResume(ctx, r.req.UserID)
	if err != nil {
		r.fail(newError(KindAuthorizationUnavailable, msgAuthUnavailable, err))
		return
	}
	r.prompt = &prompt
	r.err = newError(KindAuthorizationRequired, "Google authorization required", nil)
	r.state = StateAuthRequired
}

func (r *run) fail(err *Error) {
	r.err = err
	if err.Kind == KindAuthorizationRequired {
		r.state = StateAuthRequired
		return
	}
	r.state = StateFailed
}

// persist writes the outcome into the held session.
func (r *run) persist() {
	summary := r.summaryText()
	at := r.engine.now()
	r.lease.Update(func(s *session.Session) {
		if r.hasCriteria {
			c := r.criteria.Clone()
			s.Criteria = &c
			s.Listings = listing.Clone(r.listings)
			s.SheetURL = r.sheetURL
		}
		s.Status = session.Status(r.state)
		s.PendingText = ""
		if r.state == StateAuthRequired {
			s.PendingText = r.req.Text
		}
		s.AppendTurn(session.Turn{Text: r.req.Text, Summary: summary, At: at})
	})
}

func (r *run) summaryText() string {
	switch r.state {
	case StateAuthRequired:
		if r.prompt != nil {
			return r.prompt.Message()
		}
		return "Google authorization required."
	case StateFailed:
		return r.err.Message
	}
	if r.summary != "" {
		return r.summary
	}
	return r.fallbackSummary()
}

// fallbackSummary describes the outcome when the reasoner gave no text.
func (r *run) fallbackSummary() string {
	n := len(r.listings)
	loc := r.criteria.Location
	switch {
	case r.sheetURL != "" && n > 0:
		return fmt.Sprintf("Found %d listings in %s. Google Sheet: %s", n, loc, r.sheetURL)
	case r.lastError != "":
		return fmt.Sprintf("Found %d listings in %s, but sheet creation failed. %s", n, loc, r.lastError)
	case n > 0:
		return fmt.Sprintf("Found %d listings in %s.", n, loc)
	default:
		return fmt.Sprintf("No listings found in %s matching your criteria.", loc)
	}
}

func (r *run) response() Response {
	resp := Response{
		RequestID:  r.requestID,
		Status:     r.state,
		Summary:    r.summaryText(),
		SheetURL:   r.sheetURL,
		AuthPrompt: r.prompt,
		NumResults: len(r.listings),
	}
	if r.err != nil && r.err.Kind != KindAuthorizationRequired {
		resp.Failure = failureFor(r.err)
	}
	return resp
}

func (e *Engine) reasonerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.ReasonerTimeout > 0 {
		return context.WithTimeout(ctx, e.config.ReasonerTimeout)
	}
	return context.WithCancel(ctx)
}

// finish records metrics, the completion log line and the event.
func (e *Engine) finish(ctx context.Context, r *run, resp Response, elapsed time.Duration) {
	var kind string
	if r.err != nil {
		kind = string(r.err.Kind)
	}
	outcome := strings.ToLower(string(resp.Status))

	e.metrics.RecordWorkflowRequest(ctx, string(r.req.Type), outcome, kind, elapsed)
	if r.iterations > 0 {
		e.metrics.RecordLoopIterations(ctx, r.iterations)
	}

	attrs := []any{
		logging.State(string(resp.Status)),
		slog.String("request_type", string(r.req.Type)),
		slog.Int("iterations", r.iterations),
		slog.Int("num_results", resp.NumResults),
		slog.Duration(logging.KeyDuration, elapsed),
	}
	switch {
	case resp.Failure != nil:
		attrs = append(attrs, slog.String("failure_kind", kind), logging.Err(r.err))
		r.logger.WarnContext(ctx, "request failed", attrs...)
	default:
		r.logger.InfoContext(ctx, "request completed", attrs...)
	}

	ev, err := events.NewEvent(events.TypeRequestCompleted, logging.AnonymizeUser(r.req.UserID), events.RequestCompleted{
		RequestType: string(r.req.Type),
		Status:      string(resp.Status),
		FailureKind: kind,
		NumResults:  resp.NumResults,
		SheetURL:    resp.SheetURL,
		Iterations:  r.iterations,
		DurationMS:  elapsed.Milliseconds(),
	})
	if err == nil {
		err = e.publisher.Publish(ctx, ev.WithRequestID(r.requestID))
	}
	if err != nil {
		r.logger.WarnContext(ctx, "failed to publish request event", logging.Err(err))
	}
}
