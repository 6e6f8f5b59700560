package acme_test

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockadesystems/acmeforge/internal/testutils"
)

func TestHandleNewNonce(t *testing.T) {
	serverInstance, _ := testutils.SetupTestServer(t)
	testServer := httptest.NewServer(serverInstance)
	defer testServer.Close()

	nonceURL := testServer.URL + "/acme/new-nonce"
	expectedLink := fmt.Sprintf("<%s>;rel=\"index\"", testutils.TestExternalURL+"/acme/directory")
	client := testServer.Client()

	var firstNonce string

	t.Run("HEAD request", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodHead, nonceURL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode, "HEAD: Expected 200 OK")
		firstNonce = resp.Header.Get("Replay-Nonce")
		assert.NotEmpty(t, firstNonce, "HEAD: Replay-Nonce header should not be empty")
		assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
		assert.Equal(t, expectedLink, resp.Header.Get("Link"))

		bodyBytes, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Empty(t, bodyBytes, "HEAD: Body should be empty")
	})

	t.Run("GET request", func(t *testing.T) {
		resp, err := client.Get(nonceURL)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNoContent, resp.StatusCode, "GET: Expected 204 No Content")
		secondNonce := resp.Header.Get("Replay-Nonce")
		assert.NotEmpty(t, secondNonce)
		assert.NotEqual(t, firstNonce, secondNonce, "GET: Nonce should differ from HEAD request")
		assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
		assert.Equal(t, expectedLink, resp.Header.Get("Link"))

		bodyBytes, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Empty(t, bodyBytes, "GET: Body should be empty")
	})

	t.Run("issued nonce is single-use", func(t *testing.T) {
		c := newTestClient(t, testServer)
		nonce := c.fetchNonce()

		payload := []byte(`{"contact":["mailto:x@example.org"],"termsOfServiceAgreed":true}`)
		url := testutils.TestExternalURL + "/acme/new-account"
		body := c.signJWS(url, nonce, payload, true)

		resp := c.post("/acme/new-account", body)
		resp.Body.Close()
		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		// Replaying the exact same signed request must fail on the nonce.
		replay := c.post("/acme/new-account", body)
		defer replay.Body.Close()
		assert.Equal(t, http.StatusBadRequest, replay.StatusCode)
		var details map[string]interface{}
		decodeJSON(t, replay, &details)
		assert.Equal(t, "urn:ietf:params:acme:error:badNonce", details["type"])
		assert.NotEmpty(t, replay.Header.Get("Replay-Nonce"), "Even rejections refresh the nonce supply")
	})
}
