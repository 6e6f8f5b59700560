package acme

import (
	"io"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/blockadesystems/acmeforge/internal/jws"
	"github.com/blockadesystems/acmeforge/internal/nonce"
	"github.com/blockadesystems/acmeforge/internal/problem"
)

// Paths that bypass the pipeline entirely: a client must be able to fetch the
// directory and a first nonce without already holding one (RFC 8555 §7.2).
var excludedPaths = map[string]bool{
	"/acme/directory": true,
	"/acme/new-nonce": true,
}

// AuthenticationPipeline validates the signed envelope and consumes the
// anti-replay nonce for every protected request, in that fixed order: a
// malformed envelope must never consume a nonce, and on the new-account path
// the header policy is likewise checked before the nonce. On success the
// decoded header and payload are stored in the request context; on failure
// the handler is never invoked.
func AuthenticationPipeline(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		path := c.Request().URL.Path
		if excludedPaths[path] || !strings.HasPrefix(path, "/acme/") {
			return next(c)
		}

		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return renderProblem(c, problem.MissingSignature("Failed to read request body"))
		}

		env, details := jws.ParseAndValidate(body, c.Request().Header.Get(echo.HeaderContentType))
		if details != nil {
			return renderProblem(c, details)
		}

		if path == "/acme/new-account" {
			if details := jws.CheckKeyEmbedded(env, "/acme/new-account"); details != nil {
				return renderProblem(c, details)
			}
		}

		nonceValue := env.Nonce()
		if strings.TrimSpace(nonceValue) == "" {
			return renderProblem(c, problem.BadNonce("Missing 'nonce' field in JWS header"))
		}
		nonces := c.Get("nonces").(*nonce.Service)
		if !nonces.Consume(c.Request().Context(), nonceValue) {
			return renderProblem(c, problem.BadNonce("Invalid or expired nonce"))
		}

		c.Set(ctxKeyJWSHeader, env.Header)
		c.Set(ctxKeyJWSPayload, env.Payload)

		requestLogger(c).Debug("Request authenticated", zap.String("path", path))
		return next(c)
	}
}

// validatedEnvelope returns the header and payload the pipeline stored.
func validatedEnvelope(c echo.Context) (map[string]interface{}, []byte) {
	header, _ := c.Get(ctxKeyJWSHeader).(map[string]interface{})
	payload, _ := c.Get(ctxKeyJWSPayload).([]byte)
	return header, payload
}
