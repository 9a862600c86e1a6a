package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/teemow/homesheet/internal/auth"
	"github.com/teemow/homesheet/internal/logging"
	"github.com/teemow/homesheet/internal/validation"
	"github.com/teemow/homesheet/internal/workflow"
)

// maxRequestBody bounds decoded request bodies.
const maxRequestBody = 64 << 10

// SearchRequest is the request body of POST /v1/requests.
type SearchRequest struct {
	Query       string `json:"query"`
	UserID      string `json:"user_id,omitempty" validate:"omitempty,max=256"`
	RequestType string `json:"request_type,omitempty" validate:"omitempty,oneof=search followup"`
}

// SearchResponse is the response body of POST /v1/requests. Error is set
// when the request failed or needs Google authorization first.
type SearchResponse struct {
	RequestID  string            `json:"request_id"`
	Status     workflow.State    `json:"status"`
	SheetURL   string            `json:"sheet_url"`
	Summary    string            `json:"summary"`
	NumResults int               `json:"num_results"`
	SessionID  string            `json:"session_id"`
	Error      string            `json:"error"`
	AuthPrompt *PromptResponse   `json:"auth_prompt,omitempty"`
	Failure    *workflow.Failure `json:"failure,omitempty"`
}

// PromptResponse tells the user where to enter the device code.
type PromptResponse struct {
	auth.Prompt
	Message string `json:"message"`
}

// AuthStatusResponse is the body of GET /v1/auth/{user}.
type AuthStatusResponse struct {
	UserID string     `json:"user_id"`
	State  auth.State `json:"state"`
}

// PollResponse is the body of POST /v1/auth/{user}/poll.
type PollResponse struct {
	Status auth.PollStatus `json:"status"`
	Prompt *PromptResponse `json:"prompt,omitempty"`
}

// SessionResponse is the body of GET /v1/sessions/{user}.
type SessionResponse struct {
	UserID       string    `json:"user_id"`
	Status       string    `json:"status"`
	Turns        int       `json:"turns"`
	Location     string    `json:"location,omitempty"`
	NumListings  int       `json:"num_listings"`
	SheetURL     string    `json:"sheet_url,omitempty"`
	LastActivity time.Time `json:"last_activity"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// API serves the JSON request and authorization endpoints.
type API struct {
	sc     *ServerContext
	logger *slog.Logger
}

// NewAPI creates the API for sc.
func NewAPI(sc *ServerContext, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{sc: sc, logger: logging.WithComponent(logger, "api")}
}

// RegisterRoutes mounts the API under /v1.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/requests", a.handleRequest)
		r.Route("/auth/{user}", func(r chi.Router) {
			r.Get("/", a.handleAuthStatus)
			r.Delete("/", a.handleAuthRevoke)
			r.Post("/start", a.handleAuthStart)
			r.Post("/poll", a.handleAuthPoll)
		})
		r.Route("/sessions/{user}", func(r chi.Router) {
			r.Get("/", a.handleSessionGet)
			r.Delete("/", a.handleSessionReset)
		})
	})
}

func (a *API) handleRequest(w http.ResponseWriter, r *http.Request) {
	var body SearchRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := strings.TrimSpace(body.UserID)
	if userID == "" {
		userID = ResolveUser(r)
	}
	if userID == "" {
		userID = workflow.DefaultUserID
	}
	reqType := workflow.RequestSearch
	if body.RequestType == string(workflow.RequestFollowup) {
		reqType = workflow.RequestFollowup
	}

	resp := a.sc.Handler().Handle(r.Context(), workflow.Request{
		UserID: userID,
		Text:   body.Query,
		Type:   reqType,
	})
	writeJSON(w, statusFor(resp), toSearchResponse(resp, userID))
}

func toSearchResponse(resp workflow.Response, userID string) SearchResponse {
	out := SearchResponse{
		RequestID:  resp.RequestID,
		Status:     resp.Status,
		SheetURL:   resp.SheetURL,
		Summary:    resp.Summary,
		NumResults: resp.NumResults,
		SessionID:  userID,
		Failure:    resp.Failure,
	}
	if resp.AuthPrompt != nil {
		out.AuthPrompt = promptResponse(*resp.AuthPrompt)
	}
	switch {
	case resp.Status == workflow.StateAuthRequired:
		out.Error = resp.Summary
	case resp.Failure != nil:
		out.Error = resp.Failure.Message
	}
	return out
}

// statusFor maps a terminal state to an HTTP status. AUTH_REQUIRED is a
// regular outcome carrying the prompt.
func statusFor(resp workflow.Response) int {
	if resp.Status != workflow.StateFailed || resp.Failure == nil {
		return http.StatusOK
	}
	switch resp.Failure.Kind {
	case workflow.KindSessionConflict:
		return http.StatusConflict
	case workflow.KindParseFailure, workflow.KindLoopBoundExceeded:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

func (a *API) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user")
	prompt, err := a.sc.Auth().StartOrResume(r.Context(), userID)
	if err != nil {
		a.writeAuthError(w, r, "start", err)
		return
	}
	writeJSON(w, http.StatusOK, promptResponse(prompt))
}

func (a *API) handleAuthPoll(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user")
	res, err := a.sc.Auth().Poll(r.Context(), userID)
	if err != nil {
		a.writeAuthError(w, r, "poll", err)
		return
	}
	out := PollResponse{Status: res.Status}
	if res.Prompt != nil {
		out.Prompt = promptResponse(*res.Prompt)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user")
	state, err := a.sc.Auth().Status(r.Context(), userID)
	if err != nil {
		a.writeAuthError(w, r, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, AuthStatusResponse{UserID: userID, State: state})
}

func (a *API) handleAuthRevoke(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user")
	if err := a.sc.Auth().Revoke(r.Context(), userID); err != nil {
		a.writeAuthError(w, r, "revoke", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sessions := a.sc.Sessions()
	if sessions == nil {
		writeError(w, http.StatusNotFound, "sessions are not available")
		return
	}
	s := sessions.GetOrCreate(chi.URLParam(r, "user"))
	out := SessionResponse{
		UserID:       s.UserID,
		Status:       string(s.Status),
		Turns:        s.Turns,
		NumListings:  len(s.Listings),
		SheetURL:     s.SheetURL,
		LastActivity: s.LastActivity,
	}
	if s.Criteria != nil {
		out.Location = s.Criteria.Location
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	sessions := a.sc.Sessions()
	if sessions == nil || !sessions.Reset(chi.URLParam(r, "user")) {
		writeError(w, http.StatusConflict, "session does not exist or a request is in progress")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) writeAuthError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, auth.ErrTemporarilyUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "Google authorization is temporarily unavailable. Please try again shortly.")
		return
	}
	a.logger.ErrorContext(r.Context(), "auth request failed",
		logging.Operation("auth."+op),
		logging.UserHash(chi.URLParam(r, "user")),
		logging.Err(err),
	)
	writeError(w, http.StatusInternalServerError, "authorization request failed")
}

func promptResponse(p auth.Prompt) *PromptResponse {
	return &PromptResponse{Prompt: p, Message: p.Message()}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
