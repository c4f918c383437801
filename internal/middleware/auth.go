package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"gpt-actions-proxy-go/internal/config"
	"gpt-actions-proxy-go/internal/secrets"
)

// BearerAuth returns an Echo middleware that authorises requests by
// comparing the supplied bearer token against the rotating bearer secret.
// The cached secret is refreshed whenever the store reports a new current
// version, so rotation takes effect without a restart.
//
// OPTIONS requests bypass the guard: browsers do not attach Authorization
// headers to CORS preflights.
func BearerAuth(cache *secrets.Cache, cfg *config.Config, logger *slog.Logger) echo.MiddlewareFunc {
	log := logger.With("component", "bearer_auth")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method == http.MethodOptions {
				return next(c)
			}

			token := extractBearer(c.Request().Header)
			if token == "" {
				return unauthorized(c)
			}

			secret, err := cache.GetCurrent(c.Request().Context(), cfg.Secrets.BearerSecretID)
			if err != nil {
				log.Error("failed to load bearer secret", "err", err)
				return c.JSON(http.StatusInternalServerError, map[string]string{
					"message": "Internal Server Error",
				})
			}

			secret = strings.TrimSpace(secret)
			if secret == "" || token != secret {
				return unauthorized(c)
			}

			log.Info("authorised",
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)
			return next(c)
		}
	}
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{
		"message": "Unauthorized",
	})
}

// extractBearer isolates the bearer token from the Authorization header.
// The scheme is matched case-insensitively; an empty token counts as absent.
func extractBearer(h http.Header) string {
	scheme, token, ok := strings.Cut(h.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
