// Package account implements ACME account management (RFC 8555 §7.3).
// Accounts are keyed by a deterministic public-key thumbprint, so submitting
// the same key twice always resolves to the same account.
package account

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

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
	logger = l.With(zap.String("package", "account"))
}

var (
	emailPattern = regexp.MustCompile(`^mailto:[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	telPattern   = regexp.MustCompile(`^tel:\+?[1-9]\d{1,14}$`)
)

// NewAccountRequest is the decoded new-account payload. TermsOfServiceAgreed
// is a pointer so an absent field can be told apart from an explicit false.
type NewAccountRequest struct {
	Contact                []string        `json:"contact,omitempty"`
	TermsOfServiceAgreed   *bool           `json:"termsOfServiceAgreed,omitempty"`
	OnlyReturnExisting     bool            `json:"onlyReturnExisting,omitempty"`
	ExternalAccountBinding json.RawMessage `json:"externalAccountBinding,omitempty"`
}

// Registry is the account identity store.
type Registry struct {
	store storage.Storage
}

// NewRegistry creates a registry over the given store.
func NewRegistry(store storage.Storage) *Registry {
	return &Registry{store: store}
}

// Thumbprint hashes the key's required members per RFC 7638 (crv/x/y for EC
// keys, n/e for RSA) in canonical order with SHA-256 and encodes the digest as
// unpadded base64url. It is the sole identity correlator for accounts.
func Thumbprint(jwk map[string]interface{}) (string, error) {
	kty, _ := jwk["kty"].(string)
	var essential map[string]interface{}
	switch kty {
	case "EC":
		essential = map[string]interface{}{
			"kty": jwk["kty"],
			"crv": jwk["crv"],
			"x":   jwk["x"],
			"y":   jwk["y"],
		}
	default:
		essential = map[string]interface{}{
			"kty": jwk["kty"],
			"n":   jwk["n"],
			"e":   jwk["e"],
		}
	}
	// encoding/json writes map keys in sorted order, so this is canonical.
	canonical, err := json.Marshal(essential)
	if err != nil {
		return "", fmt.Errorf("account: failed to canonicalize JWK: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// CreateOrGet validates the request and creates an account for the key, or
// returns the existing one unchanged when the thumbprint is already known.
// The returned bool is true only when a new account was created.
func (r *Registry) CreateOrGet(ctx context.Context, req *NewAccountRequest, jwk map[string]interface{}) (*model.Account, bool, error) {
	if req.TermsOfServiceAgreed == nil {
		return nil, false, problem.Malformed("Missing 'termsOfServiceAgreed' field")
	}
	if !*req.TermsOfServiceAgreed {
		return nil, false, problem.UserActionRequired("Terms of service agreement is required")
	}
	for _, contact := range req.Contact {
		if !emailPattern.MatchString(contact) && !telPattern.MatchString(contact) {
			return nil, false, problem.InvalidContact("Invalid contact format: " + contact)
		}
	}

	thumbprint, err := Thumbprint(jwk)
	if err != nil {
		return nil, false, err
	}
	jwkJSON, err := json.Marshal(jwk)
	if err != nil {
		return nil, false, fmt.Errorf("account: failed to marshal JWK: %w", err)
	}

	now := time.Now()
	candidate := &model.Account{
		Status:                 model.StatusValid,
		Contact:                req.Contact,
		TermsOfServiceAgreed:   *req.TermsOfServiceAgreed,
		ExternalAccountBinding: req.ExternalAccountBinding,
		PublicKeyJWK:           jwkJSON,
		Thumbprint:             thumbprint,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	acct, created, err := r.store.CreateAccount(ctx, candidate)
	if err != nil {
		return nil, false, err
	}
	if created {
		logger.Info("Created new account", zap.String("accountID", acct.ID))
	} else {
		logger.Info("Returning existing account", zap.String("accountID", acct.ID))
	}
	return acct, created, nil
}

// GetByID looks up an account by its assigned id; absence is not an error.
func (r *Registry) GetByID(ctx context.Context, id string) (*model.Account, error) {
	return r.store.GetAccount(ctx, id)
}

// GetByThumbprint looks up an account by key thumbprint; absence is not an error.
func (r *Registry) GetByThumbprint(ctx context.Context, thumbprint string) (*model.Account, error) {
	return r.store.GetAccountByThumbprint(ctx, thumbprint)
}
