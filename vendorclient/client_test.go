// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package vendorclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVendor wires up the handful of endpoints the client calls, recording
// hits so tests can assert on call counts.
type fakeVendor struct {
	authAttempts int
	tokenCalls   int
}

func newFakeVendorServer(t *testing.T, f *fakeVendor) *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/oauth/authorize", func(w http.ResponseWriter, r *http.Request) {
		f.authAttempts++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("opaque-authorization-string"))
	})
	mux.HandleFunc("/api/v1/oauth/accesstoken", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(accessTokenResponse{AccessToken: "token-123"})
	})
	mux.HandleFunc("/api/v1/devices/sensors", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token-123", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]Sensor{
			"sensor-1": {ID: "sensor-1", Name: "Greenhouse", BatteryVoltage: 2.95, RSSI: -60},
		})
	})
	mux.HandleFunc("/api/v1/devices/gateways", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]Gateway{
			"gw-1": {Name: "Kitchen Gateway", Paired: true, Version: "1.2.3"},
		})
	})
	mux.HandleFunc("/api/v1/reports/list", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ReportsResponse{Files: []string{"report-1.csv"}})
	})
	mux.HandleFunc("/api/v1/samples", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(samplesRawResponse{
			Sensors: map[string][]Sample{
				"sensor-1": {{Observed: "2024-01-01T00:00:00Z", Humidity: 50, HasHumidity: true, TemperatureF: 77, HasTemperature: true}},
			},
			TotalSamples: 1,
			TotalSensors: 1,
			Truncated:    false,
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newTestClient builds a Client pointed at srv instead of the real vendor
// host, by overriding the package-level URL constants is not possible (they
// are consts), so tests instead construct a Client directly and patch the
// http.Client's transport to rewrite the host. Simpler: re-derive a client
// whose requests are redirected via a custom RoundTripper.
func newTestClient(srv *httptest.Server) *Client {
	c := New("user@example.com", "hunter2", true)
	rt := &rewriteTransport{base: http.DefaultTransport, target: srv.URL}
	c.writeHTTP.Transport = rt
	c.queryHTTP.Transport = rt
	return c
}

type rewriteTransport struct {
	base   http.RoundTripper
	target string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	targetURL, err := url.Parse(t.target + req.URL.Path)
	if err != nil {
		return nil, err
	}
	req.URL = targetURL
	req.Host = targetURL.Host
	return t.base.RoundTrip(req)
}

func TestAuthenticateSuccess(t *testing.T) {
	f := &fakeVendor{}
	srv := newFakeVendorServer(t, f)
	c := newTestClient(srv)

	err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-123", c.authHeader())
	assert.Equal(t, 1, f.authAttempts)
	assert.Equal(t, 1, f.tokenCalls)
}

func TestEnsureAuthSkipsWhenTokenFresh(t *testing.T) {
	f := &fakeVendor{}
	srv := newFakeVendorServer(t, f)
	c := newTestClient(srv)

	require.NoError(t, c.Authenticate(context.Background()))
	require.NoError(t, c.ensureAuth(context.Background()))

	assert.Equal(t, 1, f.authAttempts, "ensureAuth must not re-authenticate a fresh token")
}

func TestEnsureAuthReauthenticatesStaleToken(t *testing.T) {
	f := &fakeVendor{}
	srv := newFakeVendorServer(t, f)
	c := newTestClient(srv)

	require.NoError(t, c.Authenticate(context.Background()))
	c.mu.Lock()
	c.tokenTime = time.Now().Add(-time.Hour)
	c.mu.Unlock()

	require.NoError(t, c.ensureAuth(context.Background()))
	assert.Equal(t, 2, f.authAttempts)
}

func TestGetSensors(t *testing.T) {
	srv := newFakeVendorServer(t, &fakeVendor{})
	c := newTestClient(srv)

	sensors, err := c.GetSensors(context.Background())
	require.NoError(t, err)
	require.Contains(t, sensors, "sensor-1")
	assert.Equal(t, "Greenhouse", sensors["sensor-1"].Name)
}

func TestGetGateways(t *testing.T) {
	srv := newFakeVendorServer(t, &fakeVendor{})
	c := newTestClient(srv)

	gateways, err := c.GetGateways(context.Background())
	require.NoError(t, err)
	require.Contains(t, gateways, "gw-1")
	assert.True(t, gateways["gw-1"].Paired)
}

func TestGetReports(t *testing.T) {
	srv := newFakeVendorServer(t, &fakeVendor{})
	c := newTestClient(srv)

	reports, err := c.GetReports(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"report-1.csv"}, reports.Files)
}

func TestGetSamples(t *testing.T) {
	srv := newFakeVendorServer(t, &fakeVendor{})
	c := newTestClient(srv)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stop := start.Add(time.Hour)

	resp, err := c.GetSamples(context.Background(), start, stop, nil, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TotalSamples)
	require.Contains(t, resp.Sensors, "sensor-1")

	sample := resp.Sensors["sensor-1"][0]
	assert.True(t, sample.HasHumidity)
	assert.Equal(t, 50.0, sample.Humidity)
	assert.True(t, sample.HasTemperature)
}

// The 200ms deadline expires during the first 20s retry wait, so
// Authenticate fails on cancellation rather than after all attempts.
func TestAuthenticateFailsWhenCancelledDuringRetry(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/oauth/authorize", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := newTestClient(srv)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := c.Authenticate(ctx)
	require.Error(t, err)
}
