package handler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"gpt-actions-proxy-go/internal/model"
)

// PingHandler echoes an optional number back to the caller. It exists so the
// bearer authoriser has a cheap endpoint to exercise.
type PingHandler struct {
	logger *slog.Logger
}

// NewPingHandler creates a PingHandler.
func NewPingHandler(logger *slog.Logger) *PingHandler {
	return &PingHandler{logger: logger.With("component", "ping_handler")}
}

// Handle serves /ping.
func (h *PingHandler) Handle(c echo.Context) error {
	requestID := c.Response().Header().Get(echo.HeaderXRequestID)
	number := extractNumber(c)

	message := "you sent me nothing"
	if number != "" {
		message = "you sent me " + number
	}

	h.logger.Info("ping",
		"request_id", requestID,
		"number", number,
	)

	return c.JSON(http.StatusOK, model.PingResponse{
		OK:        true,
		Path:      c.Request().URL.Path,
		RequestID: requestID,
		Message:   message,
	})
}

// extractNumber resolves the number from the query string, falling back to a
// JSON object body. A malformed body counts as absent.
func extractNumber(c echo.Context) string {
	if n := c.QueryParam("number"); n != "" {
		return n
	}

	var body bytes.Buffer
	if _, err := body.ReadFrom(c.Request().Body); err != nil || body.Len() == 0 {
		return ""
	}

	dec := json.NewDecoder(&body)
	dec.UseNumber()

	var parsed map[string]any
	if err := dec.Decode(&parsed); err != nil {
		return ""
	}

	switch v := parsed["number"].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
