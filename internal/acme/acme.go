// Package acme is the transport boundary: echo handlers for the ACME
// endpoints, the request authentication pipeline, and problem rendering.
package acme

import (
	"go.uber.org/zap"
)

var logger *zap.Logger

func init() {
	logger = zap.L().With(zap.String("package", "acme"))
}

// Context keys under which the middleware stores validated request state.
const (
	ctxKeyJWSHeader  = "jwsHeader"
	ctxKeyJWSPayload = "jwsPayload"
)
