package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminarz/internal/availability"
	"terminarz/internal/db"
	"terminarz/internal/model"
	"terminarz/internal/workflow"
)

// engineLister adapts the plain engine to the cached interface shape.
type engineLister struct {
	engine *availability.Engine
}

func (l engineLister) Slots(ctx context.Context, from, to time.Time, durationMinutes int) ([]availability.Slot, error) {
	seq, err := l.engine.Slots(ctx, from, to, durationMinutes)
	if err != nil {
		return nil, err
	}
	var out []availability.Slot
	for s := range seq {
		out = append(out, s)
	}
	return out, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *db.DB) {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	engine := availability.NewEngine(database, availability.Hours{
		Open: "09:00", Close: "17:00", StepMinutes: 30, Location: time.UTC,
	})
	wf := workflow.New(database, engine, nil, nil, nil)
	server := NewServer(wf, engineLister{engine: engine}, database, time.UTC, nil)

	mux := http.NewServeMux()
	server.Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, database
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func createTestClient(t *testing.T, srv *httptest.Server) model.Client {
	resp := postJSON(t, srv.URL+"/api/clients", map[string]string{
		"full_name":  "Maria Wiśniewska",
		"phone_e164": "+48601200300",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[model.Client](t, resp)
}

func TestCreateClientAndBook(t *testing.T) {
	srv, _ := newTestServer(t)
	client := createTestClient(t, srv)
	assert.NotEmpty(t, client.PublicUID)

	start := time.Date(2026, time.September, 7, 10, 0, 0, 0, time.UTC)
	resp := postJSON(t, srv.URL+"/api/reservations", map[string]any{
		"client_id":        client.ID,
		"starts_at":        start,
		"duration_minutes": 60,
		"direct":           true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	res := decodeBody[model.Reservation](t, resp)
	assert.Equal(t, model.StatusConfirmed, res.Status)

	// The occupied hour disappears from the listing.
	listResp, err := http.Get(srv.URL + "/api/slots?from=2026-09-07&duration=60")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	slots := decodeBody[[]availability.Slot](t, listResp)
	for _, s := range slots {
		assert.False(t, s.Start.Equal(start), "the booked slot must not be offered")
	}
}

func TestDoubleBookingConflicts(t *testing.T) {
	srv, _ := newTestServer(t)
	client := createTestClient(t, srv)

	start := time.Date(2026, time.September, 7, 10, 0, 0, 0, time.UTC)
	book := map[string]any{
		"client_id": client.ID, "starts_at": start, "duration_minutes": 60, "direct": true,
	}
	resp := postJSON(t, srv.URL+"/api/reservations", book)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/reservations", book)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestRescheduleNegotiationOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	client := createTestClient(t, srv)

	start := time.Date(2026, time.September, 7, 10, 0, 0, 0, time.UTC)
	resp := postJSON(t, srv.URL+"/api/reservations", map[string]any{
		"client_id": client.ID, "starts_at": start, "duration_minutes": 60, "direct": true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	res := decodeBody[model.Reservation](t, resp)
	base := fmt.Sprintf("%s/api/reservations/%d", srv.URL, res.ID)

	newStart := start.AddDate(0, 0, 1)
	resp = postJSON(t, base+"/request", map[string]any{"starts_at": newStart})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = decodeBody[model.Reservation](t, resp)
	assert.Equal(t, model.StatusPendingApproval, res.Status)

	resp = postJSON(t, base+"/approve", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = decodeBody[model.Reservation](t, resp)
	assert.Equal(t, model.StatusConfirmed, res.Status)
	assert.True(t, res.StartsAt.Equal(newStart))
	assert.Equal(t, 1, res.RescheduledCount)

	// A second approve finds nothing pending.
	resp = postJSON(t, base+"/approve", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestUnknownReservationIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/reservations/9999")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/reservations/9999/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestOptOutRoundTrip(t *testing.T) {
	srv, database := newTestServer(t)
	client := createTestClient(t, srv)

	resp := postJSON(t, fmt.Sprintf("%s/api/clients/%d/optout", srv.URL, client.ID), map[string]bool{"opt_out": true})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	got, err := database.GetClient(context.Background(), client.ID)
	require.NoError(t, err)
	assert.True(t, got.SMSOptOut)
}
