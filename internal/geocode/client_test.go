package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkspot/tracker/internal/config"
	"github.com/parkspot/tracker/internal/geo"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(config.GeocoderConfig{BaseURL: srv.URL + "/", UserAgent: "parkspot-test", Language: "es"})
}

func TestNew_Defaults(t *testing.T) {
	c := New(config.GeocoderConfig{BaseURL: "http://localhost:5000/"})
	assert.Equal(t, "http://localhost:5000", c.baseURL)
	assert.Equal(t, "parkspot/1.0", c.userAgent)
	assert.Equal(t, 10*time.Second, c.httpClient.Timeout)
}

func TestReverseGeocode_ShortAddress(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "40.416800", r.URL.Query().Get("lat"))
		assert.Equal(t, "-3.703800", r.URL.Query().Get("lon"))
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.Equal(t, "parkspot-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "es", r.Header.Get("Accept-Language"))
		_, _ = w.Write([]byte(`{
			"display_name": "5, Calle Mayor, Sol, Centro, Madrid, 28013, España",
			"address": {"road": "Calle Mayor", "house_number": "5", "city": "Madrid"}
		}`))
	})

	addr, err := c.ReverseGeocode(context.Background(), 40.4168, -3.7038)
	require.NoError(t, err)
	assert.Equal(t, "Calle Mayor 5, Madrid", addr)
}

func TestReverseGeocode_FallsBackToDisplayName(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"display_name": "Parque del Retiro, Madrid", "address": {}}`))
	})

	addr, err := c.ReverseGeocode(context.Background(), 40.41, -3.68)
	require.NoError(t, err)
	assert.Equal(t, "Parque del Retiro, Madrid", addr)
}

func TestShort(t *testing.T) {
	tests := []struct {
		name string
		resp reverseResponse
		want string
	}{
		{"town", func() reverseResponse {
			var r reverseResponse
			r.Address.Road = "Main St"
			r.Address.Town = "Smallville"
			return r
		}(), "Main St, Smallville"},
		{"street only", func() reverseResponse {
			var r reverseResponse
			r.Address.Pedestrian = "Plaza Mayor"
			return r
		}(), "Plaza Mayor"},
		{"nothing", reverseResponse{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.resp.short())
		})
	}
}

func TestReverseGeocode_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		is     error
	}{
		{"rate limited", http.StatusTooManyRequests, "", ErrRateLimited},
		{"unable to geocode", http.StatusOK, `{"error": "Unable to geocode"}`, ErrNoAddress},
		{"empty answer", http.StatusOK, `{}`, ErrNoAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.ReverseGeocode(context.Background(), 1, 2)
			assert.True(t, errors.Is(err, tt.is), "got %v", err)
		})
	}
}

func TestReverseGeocode_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := c.ReverseGeocode(context.Background(), 1, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestReverseGeocode_Malformed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})
	_, err := c.ReverseGeocode(context.Background(), 1, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

func TestReverseGeocode_InvalidCoordinates(t *testing.T) {
	c := New(config.GeocoderConfig{BaseURL: "http://localhost:59999"})
	_, err := c.ReverseGeocode(context.Background(), 91, 0)
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinates)
}

func TestReverseGeocode_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"display_name": "x"}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ReverseGeocode(ctx, 1, 2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHealthcheck(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"status": 0, "message": "OK"}`))
	})
	assert.NoError(t, c.Healthcheck(context.Background()))
}

func TestHealthcheck_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	err := c.Healthcheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHealthcheck_ServerDown(t *testing.T) {
	c := New(config.GeocoderConfig{BaseURL: "http://localhost:59999"})
	assert.Error(t, c.Healthcheck(context.Background()))
}
