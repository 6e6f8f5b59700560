package acme

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/blockadesystems/acmeforge/internal/nonce"
	"github.com/blockadesystems/acmeforge/internal/problem"
)

// ContentTypeProblem is the media type for problem documents.
const ContentTypeProblem = "application/problem+json"

// setReplayNonce issues one fresh nonce and attaches it to the response.
// Every round trip refreshes the client's supply, success or failure.
func setReplayNonce(c echo.Context) {
	nonces := c.Get("nonces").(*nonce.Service)
	value, err := nonces.Issue(c.Request().Context())
	if err != nil {
		requestLogger(c).Error("Failed to issue replay nonce", zap.Error(err))
		return
	}
	c.Response().Header().Set("Replay-Nonce", value)
}

// renderProblem maps a classified failure to a problem+json response.
func renderProblem(c echo.Context, details *problem.Details) error {
	status := details.Status
	if status == 0 {
		status = http.StatusBadRequest
	}
	setReplayNonce(c)
	c.Response().Header().Set(echo.HeaderContentType, ContentTypeProblem)
	requestLogger(c).Warn("Request rejected",
		zap.String("type", details.Type),
		zap.String("detail", details.Detail))
	return c.JSON(status, details)
}

// renderError classifies an arbitrary failure and renders it. Infrastructure
// errors surface as a generic internal problem, never raw messages.
func renderError(c echo.Context, err error) error {
	details := problem.FromError(err)
	if details.Kind() == "serverInternal" {
		requestLogger(c).Error("Internal error", zap.Error(err))
	}
	return renderProblem(c, details)
}

func requestLogger(c echo.Context) *zap.Logger {
	if l, ok := c.Get("logger").(*zap.Logger); ok {
		return l
	}
	return logger
}
