// Package service implements the realtime token minting logic.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"gpt-actions-proxy-go/internal/client"
	"gpt-actions-proxy-go/internal/config"
	"gpt-actions-proxy-go/internal/model"
	"gpt-actions-proxy-go/internal/secrets"
)

// expires_in bounds, in seconds.
const (
	minExpiresIn = 60
	maxExpiresIn = 600
)

// ValidationError carries a caller-visible message for a 400 response.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// SecretError marks a failure to resolve secrets from the store.
type SecretError struct {
	Err error
}

func (e *SecretError) Error() string { return "load secrets: " + e.Err.Error() }
func (e *SecretError) Unwrap() error { return e.Err }

// recognizedFields are the body fields the validator consumes; everything
// else is forwarded upstream verbatim.
var recognizedFields = map[string]bool{
	"instructions": true,
	"voice":        true,
	"expires_in":   true,
	"model":        true,
}

// pingTool is advertised on every minted session so the assistant can call
// the secure ping endpoint.
var pingTool = model.Tool{
	Type:        "function",
	Name:        "secure_ping",
	Description: "Echo numbers via the secure ping endpoint.",
	Parameters: model.ToolParameters{
		Type: "object",
		Properties: map[string]model.ToolProperty{
			"number": {
				Type:        "string",
				Description: "Optional value that will be echoed back",
			},
		},
		Required: []string{},
	},
}

// TokenService validates minting requests and relays them to OpenAI.
type TokenService struct {
	client *client.OpenAIClient
	cache  *secrets.Cache
	cfg    *config.Config
	logger *slog.Logger
}

// NewTokenService creates a TokenService.
func NewTokenService(c *client.OpenAIClient, cache *secrets.Cache, cfg *config.Config, logger *slog.Logger) *TokenService {
	return &TokenService{
		client: c,
		cache:  cache,
		cfg:    cfg,
		logger: logger.With("component", "token_service"),
	}
}

// ParseRequest validates the raw JSON body and resolves the session model.
// An empty or unparseable body is treated as an empty request.
func (s *TokenService) ParseRequest(body []byte) (*model.SessionRequest, error) {
	fields := map[string]json.RawMessage{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			fields = map[string]json.RawMessage{}
		}
	}

	req := &model.SessionRequest{
		Extra: make(map[string]json.RawMessage),
	}

	if raw, ok := present(fields, "expires_in"); ok {
		n, err := coerceInt(raw)
		if err != nil {
			return nil, &ValidationError{Message: "expires_in must be an integer"}
		}
		if n < minExpiresIn || n > maxExpiresIn {
			return nil, &ValidationError{
				Message: fmt.Sprintf("expires_in must be between %d and %d seconds", minExpiresIn, maxExpiresIn),
			}
		}
		req.ExpiresIn = n
	}

	req.Instructions = stringField(fields, "instructions")
	req.Voice = stringField(fields, "voice")
	req.Model = s.resolveModel(stringField(fields, "model"))

	for k, v := range fields {
		if !recognizedFields[k] {
			req.Extra[k] = v
		}
	}

	return req, nil
}

// resolveModel picks the session model: explicit non-blank request value,
// then the configured default, then the built-in default. Blank values fall
// through to the next source.
func (s *TokenService) resolveModel(requested string) string {
	if m := strings.TrimSpace(requested); m != "" {
		return m
	}
	if m := strings.TrimSpace(s.cfg.OpenAI.RealtimeModel); m != "" {
		return m
	}
	return config.DefaultRealtimeModel
}

// Mint resolves the secrets, builds the session payload and relays it to the
// upstream sessions endpoint. The returned value is the upstream session
// object, unmodified.
func (s *TokenService) Mint(ctx context.Context, req *model.SessionRequest) (json.RawMessage, error) {
	// The bearer secret is resolved alongside the API key; a broken store
	// fails the request before anything is relayed.
	if _, err := s.cache.Get(ctx, s.cfg.Secrets.BearerSecretID); err != nil {
		return nil, &SecretError{Err: err}
	}
	apiKey, err := s.cache.Get(ctx, s.cfg.Secrets.OpenAISecretID)
	if err != nil {
		return nil, &SecretError{Err: err}
	}

	payload, err := buildPayload(req)
	if err != nil {
		return nil, fmt.Errorf("encode session payload: %w", err)
	}

	s.logger.Info("requesting realtime session", "model", req.Model)

	return s.relayWithRetry(ctx, apiKey, payload)
}

// buildPayload encodes the outbound session-creation document.
func buildPayload(req *model.SessionRequest) ([]byte, error) {
	payload := map[string]any{
		"model":      req.Model,
		"modalities": []string{"audio", "text"},
		"tools":      []model.Tool{pingTool},
	}
	if req.Instructions != "" {
		payload["instructions"] = req.Instructions
	}
	if req.Voice != "" {
		payload["voice"] = req.Voice
	}
	if req.ExpiresIn != 0 {
		payload["expires_in"] = req.ExpiresIn
	}
	for k, v := range req.Extra {
		payload[k] = v
	}
	return json.Marshal(payload)
}

// relayWithRetry performs the session call with at most one retry. Explicit
// upstream HTTP errors are terminal; only transport-level failures get the
// second attempt.
func (s *TokenService) relayWithRetry(ctx context.Context, apiKey string, payload []byte) (json.RawMessage, error) {
	const maxAttempts = 2

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		session, err := s.client.CreateSession(ctx, apiKey, payload)
		if err == nil {
			if attempt > 1 {
				s.logger.Info("realtime session created after retry", "attempt", attempt)
			}
			return session, nil
		}

		var ue *client.UpstreamError
		if errors.As(err, &ue) {
			return nil, err
		}

		lastErr = err
		s.logger.Warn("transport failure during session relay",
			"attempt", attempt,
			"err", err,
		)
	}

	return nil, fmt.Errorf("session relay failed after %d attempts: %w", maxAttempts, lastErr)
}

// present reports whether a field is present with a non-null value.
func present(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return nil, false
	}
	return raw, true
}

// stringField returns a field's string value, or empty when the field is
// absent or not a JSON string.
func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := present(fields, key)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// coerceInt accepts a JSON integer or a digit string.
func coerceInt(raw json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.Atoi(strings.TrimSpace(s))
	}
	return 0, fmt.Errorf("value %s is not an integer", string(raw))
}
