package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/job-tracking/internal/bus"
	"github.com/example/job-tracking/internal/geo"
	"github.com/example/job-tracking/internal/jobs"
	"github.com/example/job-tracking/internal/models"
	"github.com/example/job-tracking/internal/rooms"
	"github.com/example/job-tracking/internal/storage"
)

func newTestServer(t *testing.T, checks map[string]Check) *Server {
	t.Helper()
	store := storage.NewMemoryStore()
	ctx := context.Background()
	_ = store.SaveJob(ctx, &models.Job{ID: "j1", Status: models.StatusAssigned, DriverID: "d1", Pickup: models.Coord{Lat: 26.1224, Lng: -80.1373}})
	_ = store.SaveJob(ctx, &models.Job{ID: "j2", Status: models.StatusPending, Pickup: models.Coord{Lat: 26.0, Lng: -80.0}})
	svc := &jobs.Service{
		Store:     store,
		Locations: geo.NewMemoryCache(0),
		Bus:       bus.New(rooms.NewManager(), nil),
		SpeedMps:  10,
	}
	return NewServer(svc, nil, checks, nil)
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestTrackingSnapshot(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(s, http.MethodGet, "/jobs/j2/tracking", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "pending" {
		t.Fatalf("unexpected status %v", body["status"])
	}
	if v, ok := body["driver_location"]; !ok || v != nil {
		t.Fatalf("driver_location must be present and null, got %v", v)
	}
	if v, ok := body["eta_minutes"]; !ok || v != nil {
		t.Fatalf("eta_minutes must be present and null, got %v", v)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id")
	}

	if rec := do(s, http.MethodGet, "/jobs/missing/tracking", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDriverLocationThenSnapshot(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(s, http.MethodPut, "/api/drivers/jobs/j1/location", `{"lat":26.12,"lng":-80.14,"driver_id":"d1"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(s, http.MethodGet, "/jobs/j1/tracking", "")
	var snap models.TrackingSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.DriverLocation == nil || snap.DriverLocation.Lat != 26.12 {
		t.Fatalf("expected driver location, got %+v", snap)
	}
	if snap.ETAMinutes == nil {
		t.Fatalf("expected eta once the driver is known")
	}

	if rec := do(s, http.MethodPut, "/api/drivers/jobs/j1/location", `{"lat":26.12}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing lng, got %d", rec.Code)
	}
	if rec := do(s, http.MethodPut, "/api/drivers/jobs/j1/location", `{"lat":26.12,"lng":-80.14,"driver_id":"d2"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another driver, got %d", rec.Code)
	}
}

func TestDriverStatusTransitions(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(s, http.MethodPut, "/api/drivers/jobs/j1/status", `{"status":"en_route","driver_id":"d1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var j models.Job
	_ = json.Unmarshal(rec.Body.Bytes(), &j)
	if j.Status != models.StatusEnRoute {
		t.Fatalf("unexpected job %+v", j)
	}

	rec = do(s, http.MethodPut, "/api/drivers/jobs/j1/status", `{"status":"accepted","driver_id":"d1"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var conflict struct {
		Error   string          `json:"error"`
		Allowed []models.Status `json:"allowed"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &conflict); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(conflict.Allowed) == 0 || conflict.Allowed[0] != models.StatusArrived {
		t.Fatalf("unexpected allowed list %v", conflict.Allowed)
	}

	if rec := do(s, http.MethodPut, "/api/drivers/jobs/j1/status", `{"status":"arrived","driver_id":"d9"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if rec := do(s, http.MethodPut, "/api/drivers/jobs/j1/status", `{"status":"teleported"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := do(s, http.MethodPut, "/api/drivers/jobs/nope/status", `{"status":"arrived"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetJob(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(s, http.MethodGet, "/jobs/j1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"pickup_location"`) {
		t.Fatalf("expected pickup_location in %s", rec.Body.String())
	}
}

func TestReady(t *testing.T) {
	s := newTestServer(t, map[string]Check{"redis": func(context.Context) error { return nil }})
	if rec := do(s, http.MethodGet, "/ready", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", rec.Code)
	}
	s = newTestServer(t, map[string]Check{"postgres": func(context.Context) error { return errors.New("down") }})
	if rec := do(s, http.MethodGet, "/ready", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "req-42" {
		t.Fatalf("expected the caller's request id, got %q", rec.Header().Get("X-Request-ID"))
	}
}

func TestRequestLevel(t *testing.T) {
	if requestLevel("/jobs/{id}", 503) != slog.LevelError || requestLevel("/jobs/{id}", 404) != slog.LevelWarn {
		t.Fatalf("error statuses should log above info")
	}
	if requestLevel("/healthz", 200) != slog.LevelDebug || requestLevel("/jobs/{id}/tracking", 200) != slog.LevelInfo {
		t.Fatalf("unexpected level for successful requests")
	}
}

func TestDriverEndpointsRequireDriverID(t *testing.T) {
	s := newTestServer(t, nil)
	if rec := do(s, http.MethodPut, "/api/drivers/jobs/j1/status", `{"status":"cancelled"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("status without driver_id: expected 403, got %d", rec.Code)
	}
	if rec := do(s, http.MethodPut, "/api/drivers/jobs/j1/location", `{"lat":26.12,"lng":-80.14}`); rec.Code != http.StatusForbidden {
		t.Fatalf("location without driver_id: expected 403, got %d", rec.Code)
	}
}

func TestOperatorStatus(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(s, http.MethodPut, "/api/admin/jobs/j2/status", `{"status":"assigned","driver_id":"d4"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var j models.Job
	_ = json.Unmarshal(rec.Body.Bytes(), &j)
	if j.Status != models.StatusAssigned || j.DriverID != "d4" {
		t.Fatalf("unexpected job %+v", j)
	}
	if rec := do(s, http.MethodPut, "/api/admin/jobs/j1/status", `{"status":"cancelled"}`); rec.Code != http.StatusOK {
		t.Fatalf("operator cancel: expected 200, got %d", rec.Code)
	}
}

func TestCreateJob(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(s, http.MethodPost, "/jobs", `{"id":"j9","pickup_location":{"lat":26.1,"lng":-80.1},"address":"1 Main St"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(s, http.MethodGet, "/jobs/j9/tracking", ""); rec.Code != http.StatusOK {
		t.Fatalf("created job not tracked: %d", rec.Code)
	}
	if rec := do(s, http.MethodPost, "/jobs", `{"id":"j1","pickup_location":{"lat":26.1,"lng":-80.1}}`); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate id: expected 409, got %d", rec.Code)
	}
	if rec := do(s, http.MethodPost, "/jobs", `{"id":"j10"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing pickup: expected 400, got %d", rec.Code)
	}
}
