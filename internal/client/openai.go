// Package client provides the upstream HTTP client for the OpenAI realtime API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"gpt-actions-proxy-go/internal/config"
	"gpt-actions-proxy-go/internal/metrics"
)

const (
	sessionsPath    = "/v1/realtime/sessions"
	betaHeaderValue = "realtime=v1"
	userAgent       = "gpt-actions-proxy-go/1.0"

	// maxErrorBodyBytes bounds how much of an upstream error body is kept
	// for diagnostics.
	maxErrorBodyBytes = 2000
)

// allowedUpstreamHosts restricts which hosts the client will talk to.
var allowedUpstreamHosts = map[string]bool{
	"api.openai.com": true,
}

// UpstreamError is an explicit non-2xx HTTP response from the sessions
// endpoint. It is terminal: the caller must not retry it.
type UpstreamError struct {
	StatusCode int
	Body       string // truncated to maxErrorBodyBytes
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream responded %d", e.StatusCode)
}

// OpenAIClient creates realtime sessions against the OpenAI API.
type OpenAIClient struct {
	httpClient *http.Client
	baseURL    *url.URL
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewOpenAIClient creates an OpenAIClient with connection pooling and the
// configured request timeout. The metrics parameter is optional; pass nil to
// disable upstream metrics recording.
func NewOpenAIClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*OpenAIClient, error) {
	u, err := url.Parse(cfg.OpenAI.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse openai base_url: %w", err)
	}
	if !allowedUpstreamHosts[u.Hostname()] {
		return nil, fmt.Errorf("upstream host %q is not in the allowlist", u.Hostname())
	}
	return newOpenAIClient(u, cfg, logger, m), nil
}

// NewOpenAIClientForTest creates an OpenAIClient without host allowlist
// validation. This is intended only for tests that use httptest servers.
func NewOpenAIClientForTest(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*OpenAIClient, error) {
	u, err := url.Parse(cfg.OpenAI.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse openai base_url: %w", err)
	}
	return newOpenAIClient(u, cfg, logger, m), nil
}

func newOpenAIClient(u *url.URL, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *OpenAIClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.OpenAI.IdleConnections,
		MaxIdleConnsPerHost: cfg.OpenAI.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &OpenAIClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second,
		},
		baseURL: u,
		logger:  logger.With("component", "openai_client"),
		metrics: m,
	}
}

// CreateSession performs one POST to the realtime sessions endpoint and
// returns the parsed session document. A non-2xx response is returned as
// *UpstreamError with the status logged alongside a truncated body; any
// other failure (connection error, timeout, unreadable body) is a transport
// error eligible for retry by the caller.
func (c *OpenAIClient) CreateSession(ctx context.Context, apiKey string, payload []byte) (json.RawMessage, error) {
	u := *c.baseURL
	u.Path = sessionsPath

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OpenAI-Beta", betaHeaderValue)
	req.Header.Set("User-Agent", userAgent)

	c.logger.Debug("upstream request", "path", sessionsPath)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Seconds()

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues("error").Observe(duration)
		}
		return nil, fmt.Errorf("session request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(status).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(status).Inc()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		c.logger.Error("realtime session request failed",
			"status", resp.StatusCode,
			"body", string(body),
		)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read session response: %w", err)
	}

	var session json.RawMessage
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("parse session response: %w", err)
	}
	return session, nil
}
