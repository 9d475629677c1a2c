// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package vendorclient is the HTTP client for the SensorPush cloud API: a
// two-step OAuth login, transparent token refresh, and typed wrappers
// around the sensor/gateway/report/sample endpoints.
package vendorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	sperrors "github.com/bolausson/SensorPush/pkg/errors"
	"github.com/bolausson/SensorPush/pkg/logger"
)

const (
	apiURLBase   = "https://api.sensorpush.com/api/v1"
	apiURLOAAuth = apiURLBase + "/oauth/authorize"
	apiURLOAAtok = apiURLBase + "/oauth/accesstoken"
	apiURLGW     = apiURLBase + "/devices/gateways"
	apiURLSE     = apiURLBase + "/devices/sensors"
	apiURLSPL    = apiURLBase + "/samples"
	apiURLRPL    = apiURLBase + "/reports/list"

	maxRetry         = 3
	authRetryDelay   = 20 * time.Second
	tokenMaxAge      = 3300 * time.Second
	writeSideTimeout = 15 * time.Second
	querySideTimeout = 60 * time.Second
)

// DefaultMeasures is the set of measurement fields requested when the
// caller doesn't specify its own list.
var DefaultMeasures = []string{"altitude", "barometric_pressure", "dewpoint", "humidity", "temperature", "vpd"}

// Client talks to the SensorPush cloud API. It is safe for concurrent use;
// the daemon holds exactly one per configured vendor account and reuses it
// across poll cycles.
type Client struct {
	login    string
	password string

	writeHTTP *http.Client
	queryHTTP *http.Client

	mu          sync.Mutex
	accessToken string
	tokenTime   time.Time
}

// New constructs a Client. verifySSL controls TLS certificate validation;
// the vendor account credentials are supplied out of band by Config.
func New(login, password string, verifySSL bool) *Client {
	transport := &http.Transport{}
	if !verifySSL {
		transport.TLSClientConfig = insecureTLSConfig()
	}
	return &Client{
		login:     login,
		password:  password,
		writeHTTP: &http.Client{Timeout: writeSideTimeout, Transport: transport},
		queryHTTP: &http.Client{Timeout: querySideTimeout, Transport: transport},
	}
}

// SetTransport overrides the HTTP transport used for both the write-side
// and query-side clients. Exposed for tests that need to redirect requests
// to an httptest.Server in place of the vendor's fixed API host.
func (c *Client) SetTransport(rt http.RoundTripper) {
	c.writeHTTP.Transport = rt
	c.queryHTTP.Transport = rt
}

type oauthCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type accessTokenResponse struct {
	AccessToken string `json:"accesstoken"`
}

// Authenticate runs the two-step OAuth flow: fetch an authorization string,
// then exchange it for an access token. The authorization step retries up
// to maxRetry times with a fixed sleep between attempts; the token exchange
// does not retry.
func (c *Client) Authenticate(ctx context.Context) error {
	body, err := json.Marshal(oauthCredentials{Email: c.login, Password: c.password})
	if err != nil {
		return sperrors.NewAuthFailedError("marshal credentials", err)
	}

	var auth []byte
	var lastErr error
	for attempt := 1; attempt <= maxRetry; attempt++ {
		logger.Info().Int("attempt", attempt).Int("max_attempts", maxRetry).Msg("fetching API oauth authorization string")

		resp, err := c.postRaw(ctx, c.writeHTTP, apiURLOAAuth, body)
		if err != nil {
			lastErr = err
			logger.Warn().Err(err).Msg("connection error during auth")
		} else if resp.status == http.StatusOK {
			auth = resp.body
			lastErr = nil
			break
		} else {
			lastErr = fmt.Errorf("auth request failed with status %d", resp.status)
			logger.Error().Int("status", resp.status).Msg("auth request failed")
		}

		if attempt >= maxRetry {
			break
		}
		if err := sleepOrCancel(ctx, authRetryDelay); err != nil {
			return sperrors.NewAuthFailedError("authorize", err)
		}
	}
	if lastErr != nil {
		return sperrors.NewAuthFailedError("authorize", lastErr)
	}

	logger.Info().Msg("fetching API oauth access token")
	resp, err := c.postRaw(ctx, c.writeHTTP, apiURLOAAtok, auth)
	if err != nil {
		return sperrors.NewAuthFailedError("access token", err)
	}
	if resp.status != http.StatusOK {
		return sperrors.NewAuthFailedError("access token", fmt.Errorf("status %d", resp.status))
	}

	var tok accessTokenResponse
	if err := json.Unmarshal(resp.body, &tok); err != nil {
		return sperrors.NewAuthFailedError("access token", err)
	}

	c.mu.Lock()
	c.accessToken = tok.AccessToken
	c.tokenTime = time.Now()
	c.mu.Unlock()

	logger.Info().Msg("vendor authentication successful")
	return nil
}

// ensureAuth re-authenticates if there is no token yet or the current one
// is older than tokenMaxAge.
func (c *Client) ensureAuth(ctx context.Context) error {
	c.mu.Lock()
	stale := c.accessToken == "" || time.Since(c.tokenTime) > tokenMaxAge
	c.mu.Unlock()

	if stale {
		return c.Authenticate(ctx)
	}
	return nil
}

func (c *Client) authHeader() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// post performs an authenticated POST against url with the given JSON-able
// payload, decoding the response into out.
func (c *Client) post(ctx context.Context, url string, payload any, out any) error {
	if err := c.ensureAuth(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return sperrors.NewTransientAPIError(url, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return sperrors.NewTransientAPIError(url, err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.authHeader())

	resp, err := c.queryHTTP.Do(req)
	if err != nil {
		return sperrors.NewTransientAPIError(url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return sperrors.NewTransientAPIError(url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return sperrors.NewTransientAPIError(url, fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return sperrors.NewTransientAPIError(url, err)
	}
	return nil
}

type rawResponse struct {
	status int
	body   []byte
}

// postRaw is used for the two oauth steps, which exchange opaque bodies
// rather than typed JSON.
func (c *Client) postRaw(ctx context.Context, client *http.Client, url string, body []byte) (rawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return rawResponse{}, err
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return rawResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return rawResponse{}, err
	}
	return rawResponse{status: resp.StatusCode, body: respBody}, nil
}

// GetSensors fetches the vendor's current sensor listing.
func (c *Client) GetSensors(ctx context.Context) (map[string]Sensor, error) {
	logger.Info().Msg("fetching the list of sensors")
	var out map[string]Sensor
	if err := c.post(ctx, apiURLSE, struct{}{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetGateways fetches the vendor's current gateway listing.
func (c *Client) GetGateways(ctx context.Context) (map[string]Gateway, error) {
	logger.Info().Msg("fetching the list of gateways")
	var out map[string]Gateway
	if err := c.post(ctx, apiURLGW, struct{}{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetReports fetches the list of bulk report files. Informational only;
// the daemon does not currently act on it.
func (c *Client) GetReports(ctx context.Context) (ReportsResponse, error) {
	logger.Info().Msg("fetching the list of bulk reports")
	var out ReportsResponse
	if err := c.post(ctx, apiURLRPL, struct{}{}, &out); err != nil {
		return ReportsResponse{}, err
	}
	return out, nil
}

type samplesQuery struct {
	StartTime string   `json:"startTime"`
	StopTime  string   `json:"stopTime"`
	Measures  []string `json:"measures"`
	Limit     int      `json:"limit,omitempty"`
	Sensors   []string `json:"sensors,omitempty"`
}

type samplesRawResponse struct {
	Sensors      map[string][]Sample `json:"sensors"`
	TotalSamples int                 `json:"total_samples"`
	TotalSensors int                 `json:"total_sensors"`
	Truncated    bool                `json:"truncated"`
}

// GetSamples fetches samples in [start, stop) for the given measures. A nil
// sensors slice fetches samples for every sensor on the account. When the
// response reports truncated=true, GetSamples logs a warning and sets
// Truncated in the result; it does not re-query with a narrower window.
func (c *Client) GetSamples(ctx context.Context, start, stop time.Time, measures []string, limit int, sensors []string) (SamplesResponse, error) {
	if measures == nil {
		measures = DefaultMeasures
	}
	query := samplesQuery{
		StartTime: start.UTC().Format(time.RFC3339),
		StopTime:  stop.UTC().Format(time.RFC3339),
		Measures:  measures,
		Limit:     limit,
		Sensors:   sensors,
	}

	var raw samplesRawResponse
	if err := c.post(ctx, apiURLSPL, query, &raw); err != nil {
		return SamplesResponse{}, err
	}

	if raw.Truncated {
		logger.Warn().
			Time("start", start).
			Time("stop", stop).
			Int("total_samples", raw.TotalSamples).
			Msg("vendor reported truncated sample response")
	}

	return SamplesResponse{
		Sensors:      raw.Sensors,
		TotalSamples: raw.TotalSamples,
		TotalSensors: raw.TotalSensors,
		Truncated:    raw.Truncated,
	}, nil
}

// sleepOrCancel sleeps for d, returning early with ctx.Err() if ctx is
// cancelled first.
func sleepOrCancel(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
