package acme

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/blockadesystems/acmeforge/internal/account"
	"github.com/blockadesystems/acmeforge/internal/authz"
	"github.com/blockadesystems/acmeforge/internal/config"
	"github.com/blockadesystems/acmeforge/internal/jws"
	"github.com/blockadesystems/acmeforge/internal/order"
	"github.com/blockadesystems/acmeforge/internal/problem"
)

// HandleNewNonce issues a fresh nonce (RFC 8555 §7.2). HEAD answers 200 and
// GET answers 204; both carry a Replay-Nonce and are uncacheable.
func HandleNewNonce(c echo.Context) error {
	cfg := c.Get("cfg").(*config.Config)

	setReplayNonce(c)
	c.Response().Header().Set("Cache-Control", "no-store")
	c.Response().Header().Set("Link", fmt.Sprintf("<%s>;rel=%q", cfg.ACMEBaseURL()+"/directory", "index"))

	if c.Request().Method == http.MethodHead {
		return c.NoContent(http.StatusOK)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleNewAccount creates an account for the embedded key, or returns the
// existing one when the key is already registered (RFC 8555 §7.3). The status
// code distinguishes the two: 201 for a fresh account, 200 for a known key.
func HandleNewAccount(c echo.Context) error {
	cfg := c.Get("cfg").(*config.Config)
	accounts := c.Get("accounts").(*account.Registry)

	header, payload := validatedEnvelope(c)
	env := &jws.Envelope{Header: header, Payload: payload}

	var req account.NewAccountRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return renderProblem(c, problem.Malformed("Request payload is not valid JSON"))
		}
	}

	acct, created, err := accounts.CreateOrGet(c.Request().Context(), &req, env.JWK())
	if err != nil {
		return renderError(c, err)
	}

	location := cfg.ACMEBaseURL() + "/acct/" + acct.ID
	acct.Orders = location + "/orders"

	setReplayNonce(c)
	c.Response().Header().Set("Location", location)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, acct)
}

// HandleNewOrder creates a certificate order for an existing account
// (RFC 8555 §7.4). The request must be account-bound via kid.
func HandleNewOrder(c echo.Context) error {
	accounts := c.Get("accounts").(*account.Registry)
	orders := c.Get("orders").(*order.Engine)

	header, payload := validatedEnvelope(c)
	env := &jws.Envelope{Header: header, Payload: payload}

	kid, details := jws.CheckAccountBound(env)
	if details != nil {
		return renderProblem(c, details)
	}
	accountID := accountIDFromKid(kid)
	if accountID == "" {
		return renderProblem(c, problem.AccountDoesNotExist("Account not found: "+kid))
	}
	acct, err := accounts.GetByID(c.Request().Context(), accountID)
	if err != nil {
		return renderError(c, err)
	}
	if acct == nil {
		return renderProblem(c, problem.AccountDoesNotExist("Account not found: "+kid))
	}

	var req order.NewOrderRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return renderProblem(c, problem.Malformed("Request payload is not valid JSON"))
		}
	}

	ord, err := orders.Create(c.Request().Context(), acct.ID, &req)
	if err != nil {
		return renderError(c, err)
	}

	setReplayNonce(c)
	c.Response().Header().Set("Location", orders.URL(ord.ID))
	requestLogger(c).Info("Order created",
		zap.String("orderID", ord.ID),
		zap.String("accountID", acct.ID))
	return c.JSON(http.StatusCreated, ord)
}

// HandleGetOrder serves one order resource by id (POST-as-GET).
func HandleGetOrder(c echo.Context) error {
	orders := c.Get("orders").(*order.Engine)

	ord, err := orders.Get(c.Request().Context(), c.Param("orderID"))
	if err != nil {
		return renderError(c, err)
	}
	if ord == nil {
		return renderProblem(c, problem.NotFound("Order not found: "+c.Param("orderID")))
	}

	setReplayNonce(c)
	c.Response().Header().Set("Location", orders.URL(ord.ID))
	return c.JSON(http.StatusOK, ord)
}

// HandleAuthorization serves one authorization resource by id (POST-as-GET),
// including its challenges.
func HandleAuthorization(c echo.Context) error {
	authzs := c.Get("authzs").(*authz.Engine)

	az, err := authzs.Get(c.Request().Context(), c.Param("authzID"))
	if err != nil {
		return renderError(c, err)
	}
	if az == nil {
		return renderProblem(c, problem.NotFound("Authorization not found: "+c.Param("authzID")))
	}

	setReplayNonce(c)
	return c.JSON(http.StatusOK, az)
}

// accountIDFromKid extracts the account id from an account URL kid. Returns
// "" when the kid does not look like an account locator.
func accountIDFromKid(kid string) string {
	idx := strings.LastIndex(kid, "/acct/")
	if idx < 0 {
		return ""
	}
	id := kid[idx+len("/acct/"):]
	if id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}
