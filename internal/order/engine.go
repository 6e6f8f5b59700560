// Package order implements certificate order creation (RFC 8555 §7.4):
// identifier list validation, order construction and authorization fan-out.
package order

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/blockadesystems/acmeforge/internal/authz"
	"github.com/blockadesystems/acmeforge/internal/model"
	"github.com/blockadesystems/acmeforge/internal/problem"
	"github.com/blockadesystems/acmeforge/internal/storage"
)

var logger *zap.Logger

func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize zap logger: %v", err))
	}
	logger = l.With(zap.String("package", "order"))
}

// domainPattern accepts multi-label ASCII names, one leading wildcard label,
// and internationalized labels. Names that fail the pattern are still let
// through unless they carry an empty label or a leading/trailing dot; the
// pattern is deliberately permissive at the IDN boundary.
var domainPattern = regexp.MustCompile(
	`^(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$` +
		`|^\*\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$` +
		`|^[\p{L}\p{N}](?:[\p{L}\p{N}-]{0,61}[\p{L}\p{N}])?(?:\.[\p{L}\p{N}](?:[\p{L}\p{N}-]{0,61}[\p{L}\p{N}])?)*$`)

// NewOrderRequest is the decoded new-order payload. Identifiers is a pointer
// so a missing field can be told apart from an explicitly empty list.
type NewOrderRequest struct {
	Identifiers *[]model.Identifier `json:"identifiers,omitempty"`
	NotBefore   string              `json:"notBefore,omitempty"`
	NotAfter    string              `json:"notAfter,omitempty"`
}

// Engine validates order requests and creates orders.
type Engine struct {
	store          storage.Storage
	authzs         *authz.Engine
	baseURL        string
	ttl            time.Duration
	maxIdentifiers int
}

// NewEngine creates an order engine orchestrating the given authorization engine.
func NewEngine(store storage.Storage, authzs *authz.Engine, baseURL string, ttl time.Duration, maxIdentifiers int) *Engine {
	return &Engine{store: store, authzs: authzs, baseURL: baseURL, ttl: ttl, maxIdentifiers: maxIdentifiers}
}

// Create validates the identifier list, creates one authorization per
// identifier and stores the resulting pending order.
func (e *Engine) Create(ctx context.Context, accountID string, req *NewOrderRequest) (*model.Order, error) {
	if err := e.validateRequest(req); err != nil {
		return nil, err
	}
	identifiers := *req.Identifiers

	now := time.Now()
	orderID := strings.ReplaceAll(uuid.NewString(), "-", "")

	authzList, err := e.authzs.CreateForIdentifiers(ctx, orderID, identifiers)
	if err != nil {
		return nil, err
	}
	authzURLs := make([]string, 0, len(authzList))
	for _, a := range authzList {
		authzURLs = append(authzURLs, e.authzs.URL(a.ID))
	}

	order := &model.Order{
		ID:             orderID,
		AccountID:      accountID,
		Status:         model.StatusPending,
		Expires:        now.Add(e.ttl),
		Identifiers:    identifiers,
		Authorizations: authzURLs,
		FinalizeURL:    e.baseURL + "/order/" + orderID + "/finalize",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.SaveOrder(ctx, order); err != nil {
		return nil, err
	}

	logger.Info("Created order",
		zap.String("orderID", order.ID),
		zap.String("accountID", accountID),
		zap.Int("identifiers", len(identifiers)))
	return order, nil
}

// Get resolves an order by id; absence is not an error.
func (e *Engine) Get(ctx context.Context, id string) (*model.Order, error) {
	return e.store.GetOrder(ctx, id)
}

// GetByAccount lists the orders belonging to an account.
func (e *Engine) GetByAccount(ctx context.Context, accountID string) ([]*model.Order, error) {
	return e.store.GetOrdersByAccountID(ctx, accountID)
}

// URL returns the external locator for an order.
func (e *Engine) URL(orderID string) string {
	return e.baseURL + "/order/" + orderID
}

func (e *Engine) validateRequest(req *NewOrderRequest) error {
	if req.Identifiers == nil {
		return problem.Malformed("Missing 'identifiers' field")
	}
	identifiers := *req.Identifiers
	if len(identifiers) == 0 {
		return problem.Malformed("At least one identifier is required")
	}
	if len(identifiers) > e.maxIdentifiers {
		return problem.Malformed(fmt.Sprintf("Too many identifiers (maximum %d allowed)", e.maxIdentifiers))
	}

	seen := make(map[string]bool, len(identifiers))
	for _, identifier := range identifiers {
		if err := validateIdentifier(identifier); err != nil {
			return err
		}
		key := identifier.Type + ":" + identifier.Value
		if seen[key] {
			return problem.Malformed("Duplicate identifier: " + identifier.Value)
		}
		seen[key] = true
	}
	return nil
}

func validateIdentifier(identifier model.Identifier) error {
	if strings.TrimSpace(identifier.Type) == "" {
		return problem.Malformed("Identifier missing 'type' field")
	}
	if identifier.Value == "" {
		return problem.Malformed("Identifier missing 'value' field")
	}
	if strings.TrimSpace(identifier.Value) == "" {
		return problem.Malformed("Domain name cannot be empty")
	}
	if identifier.Type != model.IdentifierDNS {
		return problem.UnsupportedIdentifier("Unsupported identifier type: " + identifier.Type)
	}
	return validateDomainName(identifier.Value)
}

func validateDomainName(domain string) error {
	if len(domain) > 255 {
		return problem.Malformed("Domain name too long: " + domain)
	}
	if !domainPattern.MatchString(domain) {
		if strings.Contains(domain, "..") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
			return problem.Malformed("Invalid domain name: " + domain)
		}
	}
	return nil
}
