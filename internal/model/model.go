package model

import (
	"encoding/json"
	"time"

	"github.com/blockadesystems/acmeforge/internal/problem"
)

// Account represents an ACME account on the server.
// Identity is the public key thumbprint, not the assigned ID: submitting the
// same key again always resolves to the same Account.
type Account struct {
	ID                     string          `json:"id"`
	Status                 string          `json:"status"` // "valid", "deactivated", "revoked"
	Contact                []string        `json:"contact,omitempty"`
	TermsOfServiceAgreed   bool            `json:"termsOfServiceAgreed"`
	Orders                 string          `json:"orders,omitempty"` // Orders list URL (constructed dynamically)
	ExternalAccountBinding json.RawMessage `json:"externalAccountBinding,omitempty"`
	PublicKeyJWK           json.RawMessage `json:"-"` // Public key in JWK form, not exposed in responses
	Thumbprint             string          `json:"-"` // SHA-256 over canonical key material, base64url
	CreatedAt              time.Time       `json:"-"`
	UpdatedAt              time.Time       `json:"-"`
}

// Identifier names a subject of an order, e.g. {"dns", "example.com"}.
type Identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Equals reports whether two identifiers name the same subject.
func (i Identifier) Equals(other Identifier) bool {
	return i.Type == other.Type && i.Value == other.Value
}

// Order represents a certificate order.
type Order struct {
	ID             string       `json:"id"`
	AccountID      string       `json:"-"`
	Status         string       `json:"status"` // "pending", "ready", "processing", "valid", "invalid"
	Expires        time.Time    `json:"expires"`
	Identifiers    []Identifier `json:"identifiers"`
	Authorizations []string     `json:"authorizations"`        // Authorization resource URLs
	FinalizeURL    string       `json:"finalize"`              // CSR submission URL (finalization itself out of scope)
	CertificateURL string       `json:"certificate,omitempty"` // Present once status is "valid"
	CreatedAt      time.Time    `json:"-"`
	UpdatedAt      time.Time    `json:"-"`
}

// Authorization represents proof-of-control state for one identifier.
// Authorizations are created fresh per order and never shared across orders.
type Authorization struct {
	ID         string       `json:"id"`
	OrderID    string       `json:"-"`
	Identifier Identifier   `json:"identifier"`
	Status     string       `json:"status"` // "pending", "valid", "invalid", "deactivated", "expired", "revoked"
	Expires    time.Time    `json:"expires"`
	Challenges []*Challenge `json:"challenges"`
	Wildcard   bool         `json:"wildcard,omitempty"`
	CreatedAt  time.Time    `json:"-"`
}

// Challenge represents a method of demonstrating control over an identifier.
// Error records why validation failed; it stays nil while challenges are
// never probed.
type Challenge struct {
	Type      string           `json:"type"` // "http-01" or "dns-01"
	URL       string           `json:"url"`
	Token     string           `json:"token"`
	Status    string           `json:"status"`
	Validated *time.Time       `json:"validated,omitempty"`
	Error     *problem.Details `json:"error,omitempty"`
}

// Nonce is a single-use anti-replay token (storage model). Expiry is judged
// against IssuedAt plus the configured max age at consumption time.
type Nonce struct {
	Value    string
	IssuedAt time.Time
}

// Protocol object status values.
const (
	StatusPending     = "pending"
	StatusReady       = "ready"
	StatusProcessing  = "processing"
	StatusValid       = "valid"
	StatusInvalid     = "invalid"
	StatusDeactivated = "deactivated"
	StatusExpired     = "expired"
	StatusRevoked     = "revoked"
)

// Identifier and challenge types supported by this server.
const (
	IdentifierDNS   = "dns"
	ChallengeHTTP01 = "http-01"
	ChallengeDNS01  = "dns-01"
)
