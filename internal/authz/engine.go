// Package authz implements authorization and challenge creation
// (RFC 8555 §7.5). One authorization is created per order identifier, never
// shared across orders, with exactly one challenge in this core.
package authz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/blockadesystems/acmeforge/internal/model"
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
	logger = l.With(zap.String("package", "authz"))
}

// Engine creates and resolves authorizations.
type Engine struct {
	store   storage.Storage
	baseURL string // external ACME base, e.g. https://ca.example.com/acme
	ttl     time.Duration
}

// NewEngine creates an authorization engine.
func NewEngine(store storage.Storage, baseURL string, ttl time.Duration) *Engine {
	return &Engine{store: store, baseURL: baseURL, ttl: ttl}
}

// CreateForIdentifiers creates one pending authorization per identifier,
// attributed to the given order.
func (e *Engine) CreateForIdentifiers(ctx context.Context, orderID string, identifiers []model.Identifier) ([]*model.Authorization, error) {
	authzs := make([]*model.Authorization, 0, len(identifiers))
	for _, identifier := range identifiers {
		authz, err := e.Create(ctx, orderID, identifier)
		if err != nil {
			return nil, err
		}
		authzs = append(authzs, authz)
	}
	return authzs, nil
}

// Create builds a pending authorization with a single challenge: dns-01 when
// the identifier is a wildcard, http-01 otherwise. The challenge token is
// fresh per authorization and never reused.
func (e *Engine) Create(ctx context.Context, orderID string, identifier model.Identifier) (*model.Authorization, error) {
	now := time.Now()
	wildcard := strings.HasPrefix(identifier.Value, "*.")

	challengeType := model.ChallengeHTTP01
	if wildcard {
		challengeType = model.ChallengeDNS01
	}
	challenge := &model.Challenge{
		Type:   challengeType,
		URL:    e.baseURL + "/challenge/" + newOpaqueID(),
		Token:  newOpaqueID(),
		Status: model.StatusPending,
	}

	authz := &model.Authorization{
		ID:         newOpaqueID(),
		OrderID:    orderID,
		Identifier: identifier,
		Status:     model.StatusPending,
		Expires:    now.Add(e.ttl),
		Challenges: []*model.Challenge{challenge},
		Wildcard:   wildcard,
		CreatedAt:  now,
	}
	if err := e.store.SaveAuthorization(ctx, authz); err != nil {
		return nil, err
	}

	logger.Debug("Created authorization",
		zap.String("authzID", authz.ID),
		zap.String("identifier", identifier.Value),
		zap.String("challengeType", challengeType))
	return authz, nil
}

// Get resolves an authorization by id; absence is not an error.
func (e *Engine) Get(ctx context.Context, id string) (*model.Authorization, error) {
	return e.store.GetAuthorization(ctx, id)
}

// URL returns the external locator for an authorization.
func (e *Engine) URL(authzID string) string {
	return e.baseURL + "/authz/" + authzID
}

// newOpaqueID returns a random opaque identifier, not guessable and with no
// ordering information.
func newOpaqueID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
