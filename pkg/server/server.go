// Package server exposes a session Manager as a JSON HTTP API.
//
//	POST   /api/sessions                  start a session
//	GET    /api/sessions                  list stored sessions (?match=&status=&limit=)
//	GET    /api/sessions/{id}             session snapshot
//	DELETE /api/sessions/{id}             delete a session
//	POST   /api/sessions/{id}/next        produce the next model turn
//	POST   /api/sessions/{id}/human       submit the awaited human turn
//	POST   /api/sessions/{id}/moderator   append a moderator interjection
//	POST   /api/sessions/{id}/cancel      cancel the session
//	GET    /api/sessions/{id}/export      export (?format=txt|md|html|pdf|epub)
//	PATCH  /api/sessions/{id}/participants/{index}  change model or persona before the first turn
//	GET    /api/personas                  persona catalog
//	GET    /api/models                    models available on the default source
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/go-go-golems/symposium/pkg/engine"
	"github.com/go-go-golems/symposium/pkg/export"
	"github.com/go-go-golems/symposium/pkg/participants"
	"github.com/go-go-golems/symposium/pkg/scheduler"
	"github.com/go-go-golems/symposium/pkg/session"
	"github.com/go-go-golems/symposium/pkg/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Server struct {
	manager *session.Manager
	catalog *participants.Catalog
	models  engine.ModelLister
}

type Option func(*Server)

func WithCatalog(c *participants.Catalog) Option {
	return func(s *Server) {
		s.catalog = c
	}
}

func WithModelLister(l engine.ModelLister) Option {
	return func(s *Server) {
		s.models = l
	}
}

func NewServer(m *session.Manager, options ...Option) *Server {
	s := &Server{manager: m}
	for _, o := range options {
		o(s)
	}
	return s
}

// Handler returns the routes of the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", s.sessionsHandler)
	mux.HandleFunc("/api/sessions/", s.sessionHandler)
	mux.HandleFunc("/api/personas", s.personasHandler)
	mux.HandleFunc("/api/models", s.modelsHandler)
	return logRequests(mux)
}

// ListenAndServe serves the API on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting API server")
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type StartRequest struct {
	Config       dialogue.Config        `json:"config"`
	Participants []dialogue.Participant `json:"participants"`
}

type ParticipantRequest struct {
	Model   *string `json:"model,omitempty"`
	Persona *string `json:"persona,omitempty"`
}

type ContentRequest struct {
	Content string `json:"content"`
}

// ResultResponse is the answer of every call that appends turns.
type ResultResponse struct {
	SessionID string          `json:"session_id"`
	Turns     []dialogue.Turn `json:"turns"`
	Status    dialogue.Status `json:"status"`
	// Error is set when a model call failed and a failed turn was appended.
	Error string `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func newResultResponse(id string, res session.Result) ResultResponse {
	ret := ResultResponse{SessionID: id, Turns: res.Turns, Status: res.Status}
	if ret.Turns == nil {
		ret.Turns = []dialogue.Turn{}
	}
	if res.Err != nil {
		ret.Error = res.Err.Error()
	}
	return ret
}

func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := store.Query{
			Match:  r.URL.Query().Get("match"),
			Status: dialogue.Status(r.URL.Query().Get("status")),
		}
		if l := r.URL.Query().Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, errors.Errorf("invalid limit %q", l))
				return
			}
			q.Limit = n
		}
		list, err := s.manager.List(r.Context(), q)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		if list == nil {
			list = []store.Summary{}
		}
		writeJSON(w, http.StatusOK, list)

	case http.MethodPost:
		var req StartRequest
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		id, res, err := s.manager.Start(r.Context(), req.Config, req.Participants)
		if err != nil && id == "" {
			writeError(w, statusFor(err), err)
			return
		}
		if err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("session started with errors")
		}
		writeJSON(w, http.StatusCreated, newResultResponse(id, res))

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/sessions/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusNotFound, session.ErrSessionNotFound)
		return
	}
	ctx := r.Context()

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			snap, err := s.manager.Session(ctx, id)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, snap)
		case http.MethodDelete:
			if err := s.manager.Delete(ctx, id); err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodDelete)
		}

	case "next":
		if !requirePost(w, r) {
			return
		}
		res, err := s.manager.Advance(ctx, id)
		s.writeResult(w, id, res, err)

	case "human", "moderator":
		if !requirePost(w, r) {
			return
		}
		var req ContentRequest
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		var (
			res session.Result
			err error
		)
		if action == "human" {
			res, err = s.manager.SubmitHuman(ctx, id, req.Content)
		} else {
			res, err = s.manager.Interject(ctx, id, req.Content)
		}
		s.writeResult(w, id, res, err)

	case "cancel":
		if !requirePost(w, r) {
			return
		}
		if err := s.manager.Cancel(ctx, id); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, ResultResponse{SessionID: id, Turns: []dialogue.Turn{}, Status: dialogue.StatusCancelled})

	case "export":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		format, err := export.ParseFormat(r.URL.Query().Get("format"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		out, err := s.manager.Export(ctx, id, format)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.Header().Set("Content-Type", out.ContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+out.FileName+`"`)
		if out.Fallback {
			w.Header().Set("X-Export-Fallback", string(export.FormatText))
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out.Data)

	default:
		if idx, ok := strings.CutPrefix(action, "participants/"); ok {
			s.participantHandler(w, r, id, idx)
			return
		}
		writeError(w, http.StatusNotFound, errors.Errorf("unknown action %q", action))
	}
}

func (s *Server) participantHandler(w http.ResponseWriter, r *http.Request, id string, idx string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, http.MethodPatch)
		return
	}
	index, err := strconv.Atoi(idx)
	if err != nil {
		writeError(w, http.StatusNotFound, errors.Errorf("invalid participant index %q", idx))
		return
	}
	var req ParticipantRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.Mutate(r.Context(), id, index, req.Model, req.Persona); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	snap, err := s.manager.Session(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Participants)
}

func (s *Server) writeResult(w http.ResponseWriter, id string, res session.Result, err error) {
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, newResultResponse(id, res))
}

func (s *Server) personasHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	catalog := s.catalog
	if catalog == nil {
		var err error
		if catalog, err = participants.DefaultCatalog(); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, catalog.Personas())
}

func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.models == nil {
		writeError(w, http.StatusNotImplemented, errors.New("model listing is not available"))
		return
	}
	models, err := s.models.ListModels(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, participants.ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, participants.ErrInvalidConfiguration),
		errors.Is(err, session.ErrEmptyInput),
		errors.Is(err, export.ErrUnsupportedFormat),
		errors.Is(err, store.ErrNotFound):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrTurnInProgress),
		errors.Is(err, scheduler.ErrNotAwaitingHuman),
		errors.Is(err, scheduler.ErrAwaitingHuman),
		errors.Is(err, scheduler.ErrSessionTerminal),
		errors.Is(err, scheduler.ErrNotStarted),
		errors.Is(err, scheduler.ErrOpeningRound),
		errors.Is(err, participants.ErrSessionAlreadyStarted):
		return http.StatusConflict
	case errors.Is(err, export.ErrRenderServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("handled request")
	})
}
