package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"gpt-actions-proxy-go/internal/config"
	"gpt-actions-proxy-go/internal/model"
	"gpt-actions-proxy-go/internal/service"
)

// TokenHandler mints realtime session tokens for authorised callers.
type TokenHandler struct {
	service *service.TokenService
	cfg     *config.Config
	logger  *slog.Logger
}

// NewTokenHandler creates a TokenHandler.
func NewTokenHandler(svc *service.TokenService, cfg *config.Config, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{
		service: svc,
		cfg:     cfg,
		logger:  logger.With("component", "token_handler"),
	}
}

// Handle serves /realtime/token. OPTIONS preflights get an empty 204 with
// CORS headers; any method other than POST is rejected; POST runs
// validation, secret resolution and the upstream relay.
func (h *TokenHandler) Handle(c echo.Context) error {
	h.setCORS(c)

	switch c.Request().Method {
	case http.MethodOptions:
		c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		return c.NoContent(http.StatusNoContent)
	case http.MethodPost:
		// fall through to minting
	default:
		return c.JSON(http.StatusMethodNotAllowed, map[string]string{"message": "Method Not Allowed"})
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		body = nil
	}

	req, err := h.service.ParseRequest(body)
	if err != nil {
		return h.mapError(c, err)
	}

	// The relay runs to completion even if the caller goes away mid-flight;
	// only the client timeout bounds it.
	ctx := context.WithoutCancel(c.Request().Context())

	session, err := h.service.Mint(ctx, req)
	if err != nil {
		return h.mapError(c, err)
	}

	return c.JSON(http.StatusOK, model.MintResponse{OK: true, Session: session})
}

func (h *TokenHandler) setCORS(c echo.Context) {
	header := c.Response().Header()
	header.Set("Access-Control-Allow-Origin", h.cfg.CORS.AllowOrigin)
	header.Set("Access-Control-Allow-Headers", "authorization,content-type")
	header.Set("Access-Control-Allow-Methods", "POST,OPTIONS")
}

func (h *TokenHandler) mapError(c echo.Context, err error) error {
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": ve.Message})
	}

	var se *service.SecretError
	if errors.As(err, &se) {
		h.logger.Error("failed to load secrets", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Failed to load secrets"})
	}

	// Upstream HTTP errors were already logged with status and truncated
	// body by the client; transport exhaustion is logged here.
	h.logger.Error("realtime session relay failed", "err", err)
	return c.JSON(http.StatusBadGateway, map[string]string{"message": "Failed to create realtime session"})
}
