// Package jws parses and structurally validates the signed request envelope
// (RFC 7515) in both compact and flattened JSON serializations.
//
// No cryptographic signature verification happens here: the envelope is
// accepted once its structure and header fields check out. Verification
// against the embedded or referenced key is a known gap of this core.
package jws

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/blockadesystems/acmeforge/internal/problem"
)

// ContentTypeJOSE is the content type carrying a signed request body.
const ContentTypeJOSE = "application/jose+json"

// Envelope is a parsed request envelope: the decoded protected header and the
// decoded payload. The signature bytes are not retained since they are never
// verified in this core.
type Envelope struct {
	Header  map[string]interface{}
	Payload []byte
}

// flattenedJWS is the flattened JSON serialization form. Pointer fields
// distinguish absent keys from empty values.
type flattenedJWS struct {
	Protected *string `json:"protected"`
	Payload   *string `json:"payload"`
	Signature *string `json:"signature"`
}

// ParseAndValidate parses the raw request body as a JWS in either
// serialization form and performs the structural checks. Endpoint-specific
// header policy is applied separately by the authentication pipeline.
func ParseAndValidate(body []byte, contentType string) (*Envelope, *problem.Details) {
	if !strings.Contains(contentType, ContentTypeJOSE) {
		return nil, problem.MissingSignature("Request content type must be " + ContentTypeJOSE)
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, problem.MissingSignature("Request body must contain a JWS")
	}

	var headerB64, payloadB64 string
	if trimmed[0] == '{' {
		var flat flattenedJWS
		if err := json.Unmarshal(trimmed, &flat); err != nil {
			return nil, problem.Malformed("JWS body is not valid JSON")
		}
		if flat.Protected == nil {
			return nil, problem.Malformed("Missing 'protected' field in JWS")
		}
		if flat.Signature == nil {
			return nil, problem.Malformed("Missing 'signature' field in JWS")
		}
		headerB64 = *flat.Protected
		// An absent payload member is the empty payload (POST-as-GET),
		// matching an empty middle segment in the compact form.
		if flat.Payload != nil {
			payloadB64 = *flat.Payload
		}
	} else {
		parts := strings.Split(string(trimmed), ".")
		if len(parts) != 3 {
			return nil, problem.Malformed("Invalid JWS format: must have 3 parts")
		}
		headerB64, payloadB64 = parts[0], parts[1]
	}

	headerBytes, err := decodeBase64URL(headerB64)
	if err != nil {
		return nil, problem.Malformed("JWS protected header is not valid base64url")
	}
	payload, err := decodeBase64URL(payloadB64)
	if err != nil {
		return nil, problem.Malformed("JWS payload is not valid base64url")
	}

	var header map[string]interface{}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, problem.Malformed("JWS protected header is not a JSON object")
	}
	if _, ok := header["alg"]; !ok {
		return nil, problem.Malformed("Missing 'alg' in JWS header")
	}

	return &Envelope{Header: header, Payload: payload}, nil
}

// supportedAlgorithms is the allow-list for key-embedding requests.
var supportedAlgorithms = map[string]bool{
	string(jose.RS256): true,
	string(jose.ES256): true,
}

// CheckKeyEmbedded applies the header policy for endpoints that embed a public
// key (new-account): a jwk must be present, the alg must be on the asymmetric
// allow-list, and the url header must target the expected endpoint.
func CheckKeyEmbedded(env *Envelope, expectedPath string) *problem.Details {
	if _, ok := env.Header["jwk"].(map[string]interface{}); !ok {
		return problem.Malformed("Missing 'jwk' field in JWS header")
	}
	alg, _ := env.Header["alg"].(string)
	if !supportedAlgorithms[alg] {
		return problem.BadSignatureAlgorithm("Unsupported algorithm: " + alg)
	}
	url, _ := env.Header["url"].(string)
	if url == "" || !strings.HasSuffix(url, expectedPath) {
		return problem.Malformed("JWS 'url' header does not match the request URL")
	}
	return nil
}

// CheckAccountBound applies the header policy for endpoints acting on an
// existing account: a kid referencing the account must be present.
func CheckAccountBound(env *Envelope) (string, *problem.Details) {
	kid, _ := env.Header["kid"].(string)
	if strings.TrimSpace(kid) == "" {
		return "", problem.Malformed("Missing 'kid' field in JWS header")
	}
	return kid, nil
}

// Nonce returns the nonce header field, or "" when absent.
func (e *Envelope) Nonce() string {
	nonce, _ := e.Header["nonce"].(string)
	return nonce
}

// JWK returns the embedded public key header field, or nil when absent.
func (e *Envelope) JWK() map[string]interface{} {
	jwk, _ := e.Header["jwk"].(map[string]interface{})
	return jwk
}

// decodeBase64URL decodes base64url input with or without padding.
func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
