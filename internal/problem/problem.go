// Package problem carries typed validation failures through the request
// pipeline. Domain code returns *Details values; the transport boundary maps
// them to application/problem+json responses (RFC 7807 / RFC 8555 §6.7).
package problem

import (
	"errors"
	"net/http"
)

// Namespace prefixes every ACME error type URN.
const Namespace = "urn:ietf:params:acme:error:"

// Details is an ACME problem document. It implements error so it can flow
// through ordinary error returns without exceptions-style control flow.
type Details struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
	Status int    `json:"status,omitempty"`
}

func (d *Details) Error() string {
	return d.Type + ": " + d.Detail
}

// Kind returns the machine-readable error kind without the URN prefix.
func (d *Details) Kind() string {
	if len(d.Type) > len(Namespace) && d.Type[:len(Namespace)] == Namespace {
		return d.Type[len(Namespace):]
	}
	return d.Type
}

func newDetails(kind, detail string, status int) *Details {
	return &Details{Type: Namespace + kind, Detail: detail, Status: status}
}

// MissingSignature reports an absent or empty signed envelope, or a request
// body that does not carry the protocol's signed-message content type.
func MissingSignature(detail string) *Details {
	return newDetails("missing-signature", detail, http.StatusBadRequest)
}

// Malformed reports a structural defect: bad envelope syntax, missing required
// fields, empty or duplicate identifiers.
func Malformed(detail string) *Details {
	return newDetails("malformed", detail, http.StatusBadRequest)
}

// BadSignatureAlgorithm reports an unsupported alg on a key-embedding request.
func BadSignatureAlgorithm(detail string) *Details {
	return newDetails("badSignatureAlgorithm", detail, http.StatusBadRequest)
}

// BadNonce reports a missing, unknown, expired or already-consumed nonce.
func BadNonce(detail string) *Details {
	return newDetails("badNonce", detail, http.StatusBadRequest)
}

// UnsupportedIdentifier reports an identifier type other than "dns".
func UnsupportedIdentifier(detail string) *Details {
	return newDetails("unsupportedIdentifier", detail, http.StatusBadRequest)
}

// InvalidContact reports a contact URI that fails the email-or-telephone
// pattern; the detail names the offending value.
func InvalidContact(detail string) *Details {
	return newDetails("invalidContact", detail, http.StatusBadRequest)
}

// UserActionRequired reports explicit refusal of the terms of service.
func UserActionRequired(detail string) *Details {
	return newDetails("userActionRequired", detail, http.StatusBadRequest)
}

// AccountDoesNotExist reports a kid referencing an unknown account.
func AccountDoesNotExist(detail string) *Details {
	return newDetails("accountDoesNotExist", detail, http.StatusNotFound)
}

// NotFound reports an unknown order or authorization locator.
func NotFound(detail string) *Details {
	return newDetails("malformed", detail, http.StatusNotFound)
}

// ServerInternal reports an unexpected programming or infrastructure failure,
// the only kind treated as fatal rather than a protocol-level rejection.
func ServerInternal(detail string) *Details {
	return newDetails("serverInternal", detail, http.StatusInternalServerError)
}

// FromError extracts problem details from an error chain, falling back to a
// generic internal error so unexpected faults never leak raw messages.
func FromError(err error) *Details {
	var d *Details
	if errors.As(err, &d) {
		return d
	}
	return ServerInternal("Internal server error")
}
