package order_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockadesystems/acmeforge/internal/authz"
	"github.com/blockadesystems/acmeforge/internal/model"
	"github.com/blockadesystems/acmeforge/internal/order"
	"github.com/blockadesystems/acmeforge/internal/problem"
	"github.com/blockadesystems/acmeforge/internal/storage"
)

const testBase = "https://ca.example.com/acme"

func newTestEngine(maxIdentifiers int) (*order.Engine, storage.Storage) {
	store := storage.NewMemoryStorage()
	authzs := authz.NewEngine(store, testBase, 24*time.Hour)
	return order.NewEngine(store, authzs, testBase, 24*time.Hour, maxIdentifiers), store
}

func identifiers(values ...string) *[]model.Identifier {
	list := make([]model.Identifier, 0, len(values))
	for _, v := range values {
		list = append(list, model.Identifier{Type: model.IdentifierDNS, Value: v})
	}
	return &list
}

func requireProblem(t *testing.T, err error) *problem.Details {
	t.Helper()
	var details *problem.Details
	require.ErrorAs(t, err, &details)
	return details
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(100)

	ord, err := eng.Create(ctx, "1", &order.NewOrderRequest{
		Identifiers: identifiers("example.com", "www.example.com"),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, ord.ID)
	assert.NotContains(t, ord.ID, "-")
	assert.Equal(t, "1", ord.AccountID)
	assert.Equal(t, model.StatusPending, ord.Status)
	assert.True(t, ord.Expires.After(time.Now()))
	assert.Len(t, ord.Authorizations, 2)
	assert.Equal(t, testBase+"/order/"+ord.ID+"/finalize", ord.FinalizeURL)

	// One fresh authorization per identifier, attributed to this order.
	authzs, err := store.GetAuthorizationsByOrderID(ctx, ord.ID)
	require.NoError(t, err)
	require.Len(t, authzs, 2)
	for _, az := range authzs {
		assert.Equal(t, ord.ID, az.OrderID)
		assert.Equal(t, model.StatusPending, az.Status)
		require.Len(t, az.Challenges, 1)
	}
}

func TestChallengeTypeSelection(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(100)

	ord, err := eng.Create(ctx, "1", &order.NewOrderRequest{
		Identifiers: identifiers("example.com", "*.example.com"),
	})
	require.NoError(t, err)

	authzs, err := store.GetAuthorizationsByOrderID(ctx, ord.ID)
	require.NoError(t, err)
	require.Len(t, authzs, 2)

	for _, az := range authzs {
		require.Len(t, az.Challenges, 1)
		if strings.HasPrefix(az.Identifier.Value, "*.") {
			assert.Equal(t, model.ChallengeDNS01, az.Challenges[0].Type, "Wildcard gets dns-01 only")
			assert.True(t, az.Wildcard)
		} else {
			assert.Equal(t, model.ChallengeHTTP01, az.Challenges[0].Type)
			assert.False(t, az.Wildcard)
		}
		assert.NotEmpty(t, az.Challenges[0].Token)
	}
}

func TestChallengeTokensNeverReused(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(100)

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		ord, err := eng.Create(ctx, "1", &order.NewOrderRequest{
			Identifiers: identifiers("example.com"),
		})
		require.NoError(t, err)
		authzs, err := store.GetAuthorizationsByOrderID(ctx, ord.ID)
		require.NoError(t, err)
		for _, az := range authzs {
			token := az.Challenges[0].Token
			assert.False(t, seen[token], "Token reused across orders")
			seen[token] = true
		}
	}
}

func TestValidationRejections(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(3)

	empty := []model.Identifier{}

	tests := []struct {
		name   string
		req    *order.NewOrderRequest
		kind   string
		detail string
	}{
		{"missing identifiers", &order.NewOrderRequest{},
			"malformed", "Missing 'identifiers' field"},
		{"empty identifiers", &order.NewOrderRequest{Identifiers: &empty},
			"malformed", "At least one identifier is required"},
		{"too many identifiers", &order.NewOrderRequest{
			Identifiers: identifiers("a.com", "b.com", "c.com", "d.com")},
			"malformed", "Too many identifiers (maximum 3 allowed)"},
		{"duplicate identifier", &order.NewOrderRequest{
			Identifiers: identifiers("example.com", "example.com")},
			"malformed", "Duplicate identifier: example.com"},
		{"missing type", &order.NewOrderRequest{
			Identifiers: &[]model.Identifier{{Value: "example.com"}}},
			"malformed", "Identifier missing 'type' field"},
		{"missing value", &order.NewOrderRequest{
			Identifiers: &[]model.Identifier{{Type: "dns"}}},
			"malformed", "Identifier missing 'value' field"},
		{"whitespace value", &order.NewOrderRequest{
			Identifiers: &[]model.Identifier{{Type: "dns", Value: "   "}}},
			"malformed", "Domain name cannot be empty"},
		{"ip identifier", &order.NewOrderRequest{
			Identifiers: &[]model.Identifier{{Type: "ip", Value: "192.0.2.1"}}},
			"unsupportedIdentifier", "Unsupported identifier type: ip"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eng.Create(ctx, "1", tc.req)
			details := requireProblem(t, err)
			assert.Equal(t, tc.kind, details.Kind())
			assert.Equal(t, tc.detail, details.Detail)
		})
	}
}

func TestRejectedOrderLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	eng, store := newTestEngine(100)

	_, err := eng.Create(ctx, "1", &order.NewOrderRequest{
		Identifiers: identifiers("good.example.com", "bad..example.com"),
	})
	require.Error(t, err)

	orders, err := store.GetOrdersByAccountID(ctx, "1")
	require.NoError(t, err)
	assert.Empty(t, orders, "Rejected request must not create an order")
}

func TestDomainNameValidation(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(100)

	accepted := []string{
		"example.com",
		"sub.example.com",
		"*.example.com",
		"xn--bcher-kva.example",
		"a-b-c.example.org",
		"münchen.de",
	}
	for _, domain := range accepted {
		_, err := eng.Create(ctx, "1", &order.NewOrderRequest{Identifiers: identifiers(domain)})
		assert.NoError(t, err, "domain %q should be accepted", domain)
	}

	rejected := []struct {
		domain string
		detail string
	}{
		{"example..com", "Invalid domain name: example..com"},
		{".example.com", "Invalid domain name: .example.com"},
		{"example.com.", "Invalid domain name: example.com."},
		{strings.Repeat("a", 250) + ".com.org", fmt.Sprintf("Domain name too long: %s.com.org", strings.Repeat("a", 250))},
	}
	for _, tc := range rejected {
		_, err := eng.Create(ctx, "1", &order.NewOrderRequest{Identifiers: identifiers(tc.domain)})
		details := requireProblem(t, err)
		assert.Equal(t, "malformed", details.Kind(), "domain %q", tc.domain)
		assert.Equal(t, tc.detail, details.Detail)
	}
}

func TestGetAndList(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(100)

	ord, err := eng.Create(ctx, "7", &order.NewOrderRequest{Identifiers: identifiers("example.com")})
	require.NoError(t, err)

	got, err := eng.Get(ctx, ord.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ord.ID, got.ID)

	missing, err := eng.Get(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := eng.GetByAccount(ctx, "7")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
