// Package api exposes the booking operations over JSON HTTP. The handlers are
// a thin mapping layer; all state rules live in the workflow.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"terminarz/internal/availability"
	"terminarz/internal/db"
	"terminarz/internal/model"
	"terminarz/internal/workflow"
)

// SlotLister serves slot listings; backed by the cached or plain engine.
type SlotLister interface {
	Slots(ctx context.Context, from, to time.Time, durationMinutes int) ([]availability.Slot, error)
}

// ClientStore is the client persistence surface the API needs.
type ClientStore interface {
	CreateClient(ctx context.Context, c *model.Client) error
	GetClient(ctx context.Context, id int64) (*model.Client, error)
	SetClientOptOut(ctx context.Context, id int64, optOut bool) error
}

// Server holds the handler dependencies.
type Server struct {
	workflow *workflow.Workflow
	slots    SlotLister
	clients  ClientStore
	logger   *zerolog.Logger
	location *time.Location
}

// NewServer wires the API handlers.
func NewServer(wf *workflow.Workflow, slots SlotLister, clients ClientStore, location *time.Location, logger *zerolog.Logger) *Server {
	if location == nil {
		location = time.UTC
	}
	return &Server{workflow: wf, slots: slots, clients: clients, logger: logger, location: location}
}

// Routes registers all endpoints on the mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/clients", s.createClient)
	mux.HandleFunc("POST /api/clients/{id}/optout", s.setOptOut)
	mux.HandleFunc("GET /api/slots", s.listSlots)
	mux.HandleFunc("POST /api/reservations", s.book)
	mux.HandleFunc("GET /api/reservations/{id}", s.getReservation)
	mux.HandleFunc("POST /api/reservations/{id}/request", s.requestReschedule)
	mux.HandleFunc("POST /api/reservations/{id}/approve", s.approve)
	mux.HandleFunc("POST /api/reservations/{id}/suggest", s.suggest)
	mux.HandleFunc("POST /api/reservations/{id}/accept-suggestion", s.acceptSuggestion)
	mux.HandleFunc("POST /api/reservations/{id}/reject-suggestion", s.rejectSuggestion)
	mux.HandleFunc("POST /api/reservations/{id}/cancel", s.cancel)
}

func (s *Server) createClient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName  string `json:"full_name"`
		PhoneE164 string `json:"phone_e164"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	if req.FullName == "" || req.PhoneE164 == "" {
		s.fail(w, r, http.StatusBadRequest, errors.New("full_name and phone_e164 are required"))
		return
	}
	c := &model.Client{FullName: req.FullName, PhoneE164: req.PhoneE164}
	if err := s.clients.CreateClient(r.Context(), c); err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) setOptOut(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	var req struct {
		OptOut bool `json:"opt_out"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	if _, err := s.clients.GetClient(r.Context(), id); err != nil {
		s.error(w, r, err)
		return
	}
	if err := s.clients.SetClientOptOut(r.Context(), id, req.OptOut); err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := time.ParseInLocation("2006-01-02", q.Get("from"), s.location)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, fmt.Errorf("from: %w", err))
		return
	}
	to := from
	if v := q.Get("to"); v != "" {
		to, err = time.ParseInLocation("2006-01-02", v, s.location)
		if err != nil {
			s.fail(w, r, http.StatusBadRequest, fmt.Errorf("to: %w", err))
			return
		}
	}
	duration := 60
	if v := q.Get("duration"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &duration); err != nil {
			s.fail(w, r, http.StatusBadRequest, fmt.Errorf("duration: %w", err))
			return
		}
	}
	slots, err := s.slots.Slots(r.Context(), from, to, duration)
	if err != nil {
		s.error(w, r, err)
		return
	}
	if slots == nil {
		slots = []availability.Slot{}
	}
	writeJSON(w, http.StatusOK, slots)
}

func (s *Server) book(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID        int64     `json:"client_id"`
		StartsAt        time.Time `json:"starts_at"`
		DurationMinutes int       `json:"duration_minutes"`
		Direct          bool      `json:"direct"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	if _, err := s.clients.GetClient(r.Context(), req.ClientID); err != nil {
		s.error(w, r, err)
		return
	}
	res, err := s.workflow.Book(r.Context(), req.ClientID, req.StartsAt, req.DurationMinutes, req.Direct)
	if err != nil {
		s.error(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) getReservation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	res, err := s.workflow.Get(r.Context(), id)
	if err != nil {
		s.error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) requestReschedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	var req struct {
		StartsAt time.Time `json:"starts_at"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	res, err := s.workflow.RequestReschedule(r.Context(), id, req.StartsAt)
	if err != nil {
		s.error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.workflow.ApproveRequestedChange)
}

func (s *Server) suggest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	var req struct {
		StartsAt        time.Time `json:"starts_at"`
		DurationMinutes *int      `json:"duration_minutes"`
		Note            string    `json:"note"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	res, err := s.workflow.RejectWithSuggestion(r.Context(), id, req.StartsAt, req.DurationMinutes, req.Note)
	if err != nil {
		s.error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) acceptSuggestion(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.workflow.ClientAcceptSuggestion)
}

func (s *Server) rejectSuggestion(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.workflow.ClientRejectSuggestion)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.workflow.Cancel)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, int64) (*model.Reservation, error)) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	res, err := op(r.Context(), id)
	if err != nil {
		s.error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// error maps domain errors onto HTTP status codes.
func (s *Server) error(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFound    *db.NotFoundError
		conflict    *workflow.ConflictingStateError
		unavailable *availability.SlotUnavailableError
	)
	switch {
	case errors.As(err, &notFound):
		s.fail(w, r, http.StatusNotFound, err)
	case errors.As(err, &conflict), errors.As(err, &unavailable), errors.Is(err, workflow.ErrNoSuggestion):
		s.fail(w, r, http.StatusConflict, err)
	default:
		s.fail(w, r, http.StatusInternalServerError, err)
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	if s.logger != nil && status >= 500 {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(r.PathValue("id"), "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
