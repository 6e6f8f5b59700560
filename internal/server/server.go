// Package server wires the echo instance: common middleware, dependency
// injection into the request context, and the ACME route table.
package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/blockadesystems/acmeforge/internal/account"
	"github.com/blockadesystems/acmeforge/internal/acme"
	"github.com/blockadesystems/acmeforge/internal/authz"
	"github.com/blockadesystems/acmeforge/internal/config"
	"github.com/blockadesystems/acmeforge/internal/nonce"
	"github.com/blockadesystems/acmeforge/internal/order"
	"github.com/blockadesystems/acmeforge/internal/storage"
)

// Deps bundles everything the handlers resolve from the request context.
type Deps struct {
	Store    storage.Storage
	Cfg      *config.Config
	Nonces   *nonce.Service
	Accounts *account.Registry
	Orders   *order.Engine
	Authzs   *authz.Engine
	Logger   *zap.Logger
}

// ApplyCommonMiddleware applies essential middleware to an Echo instance and
// injects dependencies into the context.
func ApplyCommonMiddleware(e *echo.Echo, deps Deps) {
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))

	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			reqLogger := deps.Logger.With(zap.String("request_id", reqID))

			c.Set("cfg", deps.Cfg)
			c.Set("store", deps.Store)
			c.Set("nonces", deps.Nonces)
			c.Set("accounts", deps.Accounts)
			c.Set("orders", deps.Orders)
			c.Set("authzs", deps.Authzs)
			c.Set("logger", reqLogger)
			return next(c)
		}
	})
}

// SetupRouter defines all routes for the application.
func SetupRouter(e *echo.Echo) {
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "ACME Forge is running")
	})

	acmeGroup := e.Group("/acme")
	acmeGroup.Use(acme.AuthenticationPipeline)
	acmeGroup.GET("/directory", acme.HandleDirectory)
	acmeGroup.HEAD("/new-nonce", acme.HandleNewNonce)
	acmeGroup.GET("/new-nonce", acme.HandleNewNonce)
	acmeGroup.POST("/new-account", acme.HandleNewAccount)
	acmeGroup.POST("/new-order", acme.HandleNewOrder)
	acmeGroup.POST("/order/:orderID", acme.HandleGetOrder)
	acmeGroup.POST("/authz/:authzID", acme.HandleAuthorization)
}
