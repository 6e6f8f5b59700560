package acme_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"

	"github.com/blockadesystems/acmeforge/internal/testutils"
)

// testClient bundles an account key pair and the running test server.
type testClient struct {
	t       *testing.T
	server  *httptest.Server
	signKey jose.SigningKey
	pubJWK  *jose.JSONWebKey
	kid     string // account URL, set after registration
}

func newTestClient(t *testing.T, server *httptest.Server) *testClient {
	t.Helper()
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return &testClient{
		t:       t,
		server:  server,
		signKey: jose.SigningKey{Algorithm: jose.ES256, Key: privateKey},
		pubJWK:  &jose.JSONWebKey{Key: &privateKey.PublicKey, Algorithm: string(jose.ES256)},
	}
}

// fetchNonce gets a fresh Replay-Nonce via HEAD new-nonce.
func (c *testClient) fetchNonce() string {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodHead, c.server.URL+"/acme/new-nonce", nil)
	require.NoError(c.t, err)
	resp, err := c.server.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	nonce := resp.Header.Get("Replay-Nonce")
	require.NotEmpty(c.t, nonce, "Failed to get nonce from server")
	return nonce
}

// signJWS builds a flattened JWS over the payload. When embedJWK is true the
// public key goes into the protected header; otherwise the kid does.
func (c *testClient) signJWS(url, nonce string, payload []byte, embedJWK bool) string {
	c.t.Helper()

	signerOpts := jose.SignerOptions{}
	signerOpts.WithHeader("nonce", nonce)
	signerOpts.WithHeader("url", url)
	if embedJWK {
		signerOpts.EmbedJWK = true
	} else {
		require.NotEmpty(c.t, c.kid, "kid signing requires a registered account")
		signerOpts.WithHeader("kid", c.kid)
	}

	signer, err := jose.NewSigner(c.signKey, &signerOpts)
	require.NoError(c.t, err, "Failed to create JWS signer")

	jwsObject, err := signer.Sign(payload)
	require.NoError(c.t, err, "Failed to sign JWS payload")

	// Single-signature FullSerialize emits the flattened JSON form with the
	// nonce, url and jwk/kid inside the protected header.
	return jwsObject.FullSerialize()
}

// post sends a signed body to the given server path with the JOSE content type.
func (c *testClient) post(path, body string) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodPost, c.server.URL+path, strings.NewReader(body))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/jose+json")
	resp, err := c.server.Client().Do(req)
	require.NoError(c.t, err)
	return resp
}

// register creates an account and records its kid for later requests.
func (c *testClient) register() *http.Response {
	c.t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"contact":              []string{"mailto:tester@example.org"},
		"termsOfServiceAgreed": true,
	})
	require.NoError(c.t, err)

	url := testutils.TestExternalURL + "/acme/new-account"
	body := c.signJWS(url, c.fetchNonce(), payload, true)
	resp := c.post("/acme/new-account", body)
	if location := resp.Header.Get("Location"); location != "" {
		c.kid = location
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}
