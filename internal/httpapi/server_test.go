package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkspot/tracker/internal/config"
	"github.com/parkspot/tracker/internal/connectivity"
	"github.com/parkspot/tracker/internal/dispatcher"
	"github.com/parkspot/tracker/internal/handlers"
	"github.com/parkspot/tracker/internal/lifecycle"
	"github.com/parkspot/tracker/internal/logging"
	"github.com/parkspot/tracker/internal/notify"
	"github.com/parkspot/tracker/internal/otel"
	"github.com/parkspot/tracker/internal/storage/memory"
	"github.com/parkspot/tracker/internal/timer"
	"github.com/parkspot/tracker/internal/timer/timertest"
	"github.com/parkspot/tracker/pkg/core"
)

var base = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

type testServer struct {
	srv     *httptest.Server
	m       *lifecycle.Manager
	conn    *connectivity.Service
	toaster *notify.Toaster
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := memory.New(config.MemoryConfig{})
	require.NoError(t, mem.Init())

	clock := timertest.NewClock(base)
	toaster := notify.NewToaster(0)
	provider, err := otel.New(otel.Config{})
	require.NoError(t, err)

	m, err := lifecycle.New(lifecycle.Dependencies{
		Store:    mem,
		Timers:   timer.New(clock, nil),
		Notifier: toaster,
		Clock:    clock,
		Meter:    provider.Meter("httpapi-test"),
	})
	require.NoError(t, err)
	t.Cleanup(m.Reconciler().Close)

	conn := connectivity.NewService(connectivity.Dependencies{})
	conn.Subscribe(m.Reconciler().OnConnectivity)

	svc := handlers.NewService(handlers.Dependencies{
		Manager:      m,
		Connectivity: conn,
		Clock:        clock,
		NewID:        func() string { return "new-id" },
	})

	logger := slog.New(slog.DiscardHandler)
	d, err := dispatcher.New(logging.NewDispatcherLogger(logger))
	require.NoError(t, err)
	svc.Register(d)
	t.Cleanup(d.Close)

	router := NewRouter(Dependencies{
		Manager:  m,
		Handlers: svc,
		Commands: d,
		Toaster:  toaster,
		Metrics:  provider.MetricsHandler(),
		Online:   conn.Online,
		Logger:   logger,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, m: m, conn: conn, toaster: toaster}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeRecord(t *testing.T, data []byte) core.LocationRecord {
	t.Helper()
	var rec core.LocationRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	return rec
}

func errorMessage(t *testing.T, data []byte) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(data, &body))
	return body["error"]
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	resp, data := s.do(t, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","online":false,"records":0}`, string(data))
}

func TestLocations_CRUD(t *testing.T) {
	s := newTestServer(t)

	resp, data := s.do(t, http.MethodPost, "/locations", `{"latitude": 40.4168, "longitude": -3.7038, "parkingType": "street"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	created := decodeRecord(t, data)
	assert.Equal(t, "new-id", created.ID)
	assert.Equal(t, "/locations/new-id", resp.Header.Get("Location"))

	resp, data = s.do(t, http.MethodGet, "/locations", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []core.LocationRecord
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list, 1)

	resp, data = s.do(t, http.MethodPatch, "/locations/new-id", `{"address": "Calle Mayor 5, Madrid"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, "Calle Mayor 5, Madrid", decodeRecord(t, data).AddressOrEmpty())

	resp, data = s.do(t, http.MethodGet, "/locations/new-id", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Calle Mayor 5, Madrid", decodeRecord(t, data).AddressOrEmpty())

	resp, data = s.do(t, http.MethodPatch, "/locations/new-id", `{"parkingType": "Garage"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, core.ParkingGarage, decodeRecord(t, data).ParkingType)

	resp, _ = s.do(t, http.MethodDelete, "/locations/new-id", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, data = s.do(t, http.MethodGet, "/locations/new-id", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "That parking location no longer exists.", errorMessage(t, data))
}

func TestLocations_BadRequests(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodPost, "/locations", `{"latitude": "north"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/locations", `{"latitude": 95, "longitude": 0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/locations", `{"latitude": 1, "longitude": 0, "isManualPlacement": true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	s.do(t, http.MethodPost, "/locations", `{"latitude": 1, "longitude": 0}`)
	resp, _ = s.do(t, http.MethodPatch, "/locations/new-id", `{"parkingType": "roof"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPatch, "/locations/ghost", `{"note": "x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLocations_DuplicateIDConflicts(t *testing.T) {
	s := newTestServer(t)

	body := `{"id": "dup", "latitude": 1, "longitude": 2}`
	resp, _ := s.do(t, http.MethodPost, "/locations", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/locations", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSelect(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/locations", `{"latitude": 1, "longitude": 2}`)

	resp, _ := s.do(t, http.MethodPost, "/locations/new-id/select", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	id, ok := s.m.Session().Selected()
	require.True(t, ok)
	assert.Equal(t, "new-id", id)
	vc, ok := s.m.Session().ViewCenter()
	require.True(t, ok)
	assert.Equal(t, 1.0, vc.Latitude)
}

func TestTimerEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/locations",
		`{"latitude": 1, "longitude": 2, "expiryTime": "2026-06-10T13:00:00Z", "reminderMinutes": 15}`)

	resp, data := s.do(t, http.MethodPost, "/locations/new-id/timer/extend", `{"minutes": 20}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	rec := decodeRecord(t, data)
	assert.True(t, rec.ExpiryTime.Equal(base.Add(80*time.Minute)))
	assert.Equal(t, 1, rec.Extensions())

	resp, data = s.do(t, http.MethodPost, "/locations/new-id/timer/extend", `{"minutes": -1}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "extension must be at least one minute", errorMessage(t, data))

	resp, data = s.do(t, http.MethodDelete, "/locations/new-id/timer", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decodeRecord(t, data).HasTimer())

	resp, data = s.do(t, http.MethodPost, "/locations/new-id/timer/extend", `{"minutes": 5}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "this location has no active timer", errorMessage(t, data))
}

func TestSyncAndConnectivity(t *testing.T) {
	s := newTestServer(t)

	resp, data := s.do(t, http.MethodPost, "/sync", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, errorMessage(t, data), "offline")

	resp, data = s.do(t, http.MethodPost, "/connectivity", `{"online": true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"online": true, "changed": true}`, string(data))
	assert.True(t, s.conn.Online())

	resp, data = s.do(t, http.MethodPost, "/sync", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var res lifecycle.Result
	require.NoError(t, json.Unmarshal(data, &res))
	assert.False(t, res.Skipped)

	resp, data = s.do(t, http.MethodPost, "/sync", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &res))
	assert.True(t, res.Skipped)
}

func TestCommands(t *testing.T) {
	s := newTestServer(t)

	resp, data := s.do(t, http.MethodGet, "/commands", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var names []string
	require.NoError(t, json.Unmarshal(data, &names))
	assert.Contains(t, names, handlers.CmdCreate)
	assert.Contains(t, names, handlers.CmdSyncManual)

	resp, data = s.do(t, http.MethodPost, "/commands/"+handlers.CmdCreate, `{"latitude": 1, "longitude": 2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var created struct {
		Result core.LocationRecord `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &created))
	assert.Equal(t, "new-id", created.Result.ID)
	assert.Len(t, s.m.Records(), 1)

	tests := []struct {
		name    string
		command string
		body    string
		want    int
	}{
		{"unknown command", "location:teleport", "", http.StatusNotFound},
		{"missing id", handlers.CmdUpdate, `{}`, http.StatusBadRequest},
		{"bad payload", handlers.CmdDelete, `{"id":`, http.StatusBadRequest},
		{"unknown record", handlers.CmdDelete, `{"id": "gone"}`, http.StatusNotFound},
		{"no timer", handlers.CmdExtendTimer, `{"id": "new-id", "minutes": 10}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := s.do(t, http.MethodPost, "/commands/"+tt.command, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode, string(data))
			assert.NotEmpty(t, errorMessage(t, data))
		})
	}

	resp, data = s.do(t, http.MethodPost, "/commands/"+handlers.CmdConnectivity, `{"online": true}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"result": "queued"}`, string(data))
	assert.Eventually(t, s.conn.Online, time.Second, 10*time.Millisecond)
}

func TestNotices(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/sync", "")

	resp, data := s.do(t, http.MethodGet, "/notices", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var notices []core.Notice
	require.NoError(t, json.Unmarshal(data, &notices))
	require.Len(t, notices, 1)
	assert.Equal(t, lifecycle.NoticeSync, notices[0].Key)

	resp, _ = s.do(t, http.MethodDelete, "/notices/"+lifecycle.NoticeSync, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = s.do(t, http.MethodDelete, "/notices/"+lifecycle.NoticeSync, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/locations", `{"latitude": 1, "longitude": 2}`)

	resp, data := s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "lifecycle_locations")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(lifecycle.ErrPersistence))
	assert.Equal(t, http.StatusBadRequest, statusFor(handlers.ErrBadRequest))
	assert.Equal(t, http.StatusNotFound, statusFor(lifecycle.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(lifecycle.ErrPrecondition))
	assert.Equal(t, http.StatusNotFound, statusFor(dispatcher.ErrUnknownCommand))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(dispatcher.ErrQueueFull))
}
