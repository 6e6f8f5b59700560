package jws_test

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockadesystems/acmeforge/internal/jws"
	"github.com/blockadesystems/acmeforge/internal/problem"
)

func b64(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func compactJWS(header, payload string) []byte {
	return []byte(b64(header) + "." + b64(payload) + "." + b64("sig"))
}

func flattenedJWSBody(header, payload string) []byte {
	return []byte(fmt.Sprintf(`{"protected":%q,"payload":%q,"signature":%q}`,
		b64(header), b64(payload), b64("sig")))
}

func TestParseCompact(t *testing.T) {
	header := `{"alg":"ES256","nonce":"abc","url":"https://ca.example.com/acme/new-account"}`
	payload := `{"termsOfServiceAgreed":true}`

	env, details := jws.ParseAndValidate(compactJWS(header, payload), jws.ContentTypeJOSE)
	require.Nil(t, details)
	assert.Equal(t, "ES256", env.Header["alg"])
	assert.Equal(t, "abc", env.Nonce())
	assert.JSONEq(t, payload, string(env.Payload))
}

func TestParseFlattened(t *testing.T) {
	header := `{"alg":"RS256","nonce":"xyz"}`
	payload := `{"identifiers":[]}`

	env, details := jws.ParseAndValidate(flattenedJWSBody(header, payload), jws.ContentTypeJOSE)
	require.Nil(t, details)
	assert.Equal(t, "RS256", env.Header["alg"])
	assert.Equal(t, "xyz", env.Nonce())
	assert.JSONEq(t, payload, string(env.Payload))
}

func TestBothSerializationsAgree(t *testing.T) {
	header := `{"alg":"ES256","nonce":"n1","kid":"https://ca.example.com/acme/acct/42"}`
	payload := `{"a":1}`

	compact, d1 := jws.ParseAndValidate(compactJWS(header, payload), jws.ContentTypeJOSE)
	require.Nil(t, d1)
	flat, d2 := jws.ParseAndValidate(flattenedJWSBody(header, payload), jws.ContentTypeJOSE)
	require.Nil(t, d2)

	assert.Equal(t, compact.Header, flat.Header)
	assert.Equal(t, compact.Payload, flat.Payload)
}

func TestRejectsWrongContentType(t *testing.T) {
	body := compactJWS(`{"alg":"ES256"}`, `{}`)

	_, details := jws.ParseAndValidate(body, "application/json")
	require.NotNil(t, details)
	assert.Equal(t, "missing-signature", details.Kind())
}

func TestRejectsEmptyBody(t *testing.T) {
	_, details := jws.ParseAndValidate([]byte("  \n"), jws.ContentTypeJOSE)
	require.NotNil(t, details)
	assert.Equal(t, "missing-signature", details.Kind())
}

func TestRejectsWrongPartCount(t *testing.T) {
	for _, body := range []string{
		b64(`{"alg":"ES256"}`),
		b64(`{"alg":"ES256"}`) + "." + b64(`{}`),
		b64(`{"alg":"ES256"}`) + "." + b64(`{}`) + ".sig.extra",
	} {
		_, details := jws.ParseAndValidate([]byte(body), jws.ContentTypeJOSE)
		require.NotNil(t, details, "body %q should be rejected", body)
		assert.Equal(t, "malformed", details.Kind())
		assert.Equal(t, "Invalid JWS format: must have 3 parts", details.Detail)
	}
}

func TestRejectsFlattenedMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		detail string
	}{
		{"missing protected", fmt.Sprintf(`{"payload":%q,"signature":%q}`, b64("{}"), b64("s")),
			"Missing 'protected' field in JWS"},
		{"missing signature", fmt.Sprintf(`{"protected":%q,"payload":%q}`, b64(`{"alg":"ES256"}`), b64("{}")),
			"Missing 'signature' field in JWS"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, details := jws.ParseAndValidate([]byte(tc.body), jws.ContentTypeJOSE)
			require.NotNil(t, details)
			assert.Equal(t, "malformed", details.Kind())
			assert.Equal(t, tc.detail, details.Detail)
		})
	}
}

func TestRejectsBadBase64Header(t *testing.T) {
	body := []byte("!!notbase64!!." + b64("{}") + "." + b64("s"))

	_, details := jws.ParseAndValidate(body, jws.ContentTypeJOSE)
	require.NotNil(t, details)
	assert.Equal(t, "malformed", details.Kind())
}

func TestAcceptsPaddedBase64(t *testing.T) {
	header := base64.URLEncoding.EncodeToString([]byte(`{"alg":"ES256","nonce":"n"}`))
	payload := base64.URLEncoding.EncodeToString([]byte(`{}`))
	body := []byte(fmt.Sprintf(`{"protected":%q,"payload":%q,"signature":%q}`, header, payload, b64("s")))

	env, details := jws.ParseAndValidate(body, jws.ContentTypeJOSE)
	require.Nil(t, details)
	assert.Equal(t, "ES256", env.Header["alg"])
}

func TestRejectsMissingAlg(t *testing.T) {
	body := compactJWS(`{"nonce":"abc"}`, `{}`)

	_, details := jws.ParseAndValidate(body, jws.ContentTypeJOSE)
	require.NotNil(t, details)
	assert.Equal(t, "malformed", details.Kind())
	assert.Equal(t, "Missing 'alg' in JWS header", details.Detail)
}

func TestEmptyPayloadAllowed(t *testing.T) {
	// POST-as-GET carries an empty payload; that is structurally fine.
	body := []byte(fmt.Sprintf(`{"protected":%q,"payload":"","signature":%q}`,
		b64(`{"alg":"ES256","nonce":"n"}`), b64("s")))

	env, details := jws.ParseAndValidate(body, jws.ContentTypeJOSE)
	require.Nil(t, details)
	assert.Empty(t, env.Payload)
}

func TestAbsentPayloadMemberIsEmptyPayload(t *testing.T) {
	// go-jose serializers drop the payload member entirely when the body is
	// empty, so a flattened object without it must parse like an empty
	// middle segment in the compact form.
	body := []byte(fmt.Sprintf(`{"protected":%q,"signature":%q}`,
		b64(`{"alg":"ES256","nonce":"n"}`), b64("s")))

	env, details := jws.ParseAndValidate(body, jws.ContentTypeJOSE)
	require.Nil(t, details)
	assert.Empty(t, env.Payload)
	assert.Equal(t, "n", env.Nonce())
}

func parseHeader(t *testing.T, header string) *jws.Envelope {
	t.Helper()
	env, details := jws.ParseAndValidate(compactJWS(header, `{}`), jws.ContentTypeJOSE)
	require.Nil(t, details)
	return env
}

func TestCheckKeyEmbedded(t *testing.T) {
	jwk := `{"kty":"EC","crv":"P-256","x":"x","y":"y"}`

	t.Run("valid", func(t *testing.T) {
		env := parseHeader(t, fmt.Sprintf(
			`{"alg":"ES256","jwk":%s,"url":"https://ca.example.com/acme/new-account","nonce":"n"}`, jwk))
		assert.Nil(t, jws.CheckKeyEmbedded(env, "/acme/new-account"))
	})

	t.Run("missing jwk", func(t *testing.T) {
		env := parseHeader(t, `{"alg":"ES256","url":"https://ca.example.com/acme/new-account"}`)
		details := jws.CheckKeyEmbedded(env, "/acme/new-account")
		require.NotNil(t, details)
		assert.Equal(t, "malformed", details.Kind())
		assert.Equal(t, "Missing 'jwk' field in JWS header", details.Detail)
	})

	t.Run("symmetric alg rejected", func(t *testing.T) {
		env := parseHeader(t, fmt.Sprintf(
			`{"alg":"HS256","jwk":%s,"url":"https://ca.example.com/acme/new-account"}`, jwk))
		details := jws.CheckKeyEmbedded(env, "/acme/new-account")
		require.NotNil(t, details)
		assert.Equal(t, "badSignatureAlgorithm", details.Kind())
		assert.Equal(t, "Unsupported algorithm: HS256", details.Detail)
	})

	t.Run("none alg rejected", func(t *testing.T) {
		env := parseHeader(t, fmt.Sprintf(
			`{"alg":"none","jwk":%s,"url":"https://ca.example.com/acme/new-account"}`, jwk))
		details := jws.CheckKeyEmbedded(env, "/acme/new-account")
		require.NotNil(t, details)
		assert.Equal(t, "badSignatureAlgorithm", details.Kind())
	})

	t.Run("url mismatch", func(t *testing.T) {
		env := parseHeader(t, fmt.Sprintf(
			`{"alg":"ES256","jwk":%s,"url":"https://ca.example.com/acme/new-order"}`, jwk))
		details := jws.CheckKeyEmbedded(env, "/acme/new-account")
		require.NotNil(t, details)
		assert.Equal(t, "malformed", details.Kind())
	})

	t.Run("missing url", func(t *testing.T) {
		env := parseHeader(t, fmt.Sprintf(`{"alg":"ES256","jwk":%s}`, jwk))
		details := jws.CheckKeyEmbedded(env, "/acme/new-account")
		require.NotNil(t, details)
		assert.Equal(t, "malformed", details.Kind())
	})
}

func TestCheckAccountBound(t *testing.T) {
	t.Run("valid kid", func(t *testing.T) {
		env := parseHeader(t, `{"alg":"ES256","kid":"https://ca.example.com/acme/acct/7"}`)
		kid, details := jws.CheckAccountBound(env)
		require.Nil(t, details)
		assert.Equal(t, "https://ca.example.com/acme/acct/7", kid)
	})

	t.Run("missing kid", func(t *testing.T) {
		env := parseHeader(t, `{"alg":"ES256"}`)
		_, details := jws.CheckAccountBound(env)
		require.NotNil(t, details)
		assert.Equal(t, "malformed", details.Kind())
		assert.Equal(t, "Missing 'kid' field in JWS header", details.Detail)
	})

	t.Run("blank kid", func(t *testing.T) {
		env := parseHeader(t, `{"alg":"ES256","kid":"  "}`)
		_, details := jws.CheckAccountBound(env)
		require.NotNil(t, details)
	})
}

func TestDetailsAreProblemValues(t *testing.T) {
	_, details := jws.ParseAndValidate([]byte("x"), jws.ContentTypeJOSE)
	require.NotNil(t, details)

	var asErr error = details
	var extracted *problem.Details
	require.ErrorAs(t, asErr, &extracted)

	raw, err := json.Marshal(extracted)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "urn:ietf:params:acme:error:")
}
