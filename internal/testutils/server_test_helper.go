package testutils

import (
	"os"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap/zaptest"

	"github.com/blockadesystems/acmeforge/internal/account"
	"github.com/blockadesystems/acmeforge/internal/authz"
	"github.com/blockadesystems/acmeforge/internal/config"
	"github.com/blockadesystems/acmeforge/internal/nonce"
	"github.com/blockadesystems/acmeforge/internal/order"
	"github.com/blockadesystems/acmeforge/internal/server"
	"github.com/blockadesystems/acmeforge/internal/storage"
)

// TestExternalURL is the public base URL the test server announces.
const TestExternalURL = "https://test-acme.example.com"

// SetupTestServer initializes all components needed to run the Echo app for
// testing on in-memory storage. Returns the Echo instance and the storage.
func SetupTestServer(t *testing.T) (*echo.Echo, storage.Storage) {
	t.Helper()

	testLogger := zaptest.NewLogger(t)

	os.Setenv("ACMEFORGE_EXTERNAL_URL", TestExternalURL)
	os.Setenv("ACMEFORGE_STORAGE_TYPE", "memory")
	t.Cleanup(func() {
		os.Unsetenv("ACMEFORGE_EXTERNAL_URL")
		os.Unsetenv("ACMEFORGE_STORAGE_TYPE")
	})

	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("Failed to load base config for test: %v", err)
	}

	store := storage.NewMemoryStorage()
	t.Cleanup(func() { store.Close() })

	nonces := nonce.NewService(store,
		time.Duration(cfg.NonceMaxAge)*time.Second,
		cfg.NonceMaxCount)

	base := cfg.ACMEBaseURL()
	accounts := account.NewRegistry(store)
	authzs := authz.NewEngine(store, base, time.Duration(cfg.AuthzTTLHours)*time.Hour)
	orders := order.NewEngine(store, authzs, base, time.Duration(cfg.OrderTTLHours)*time.Hour, cfg.MaxIdentifiers)

	e := echo.New()
	server.ApplyCommonMiddleware(e, server.Deps{
		Store:    store,
		Cfg:      cfg,
		Nonces:   nonces,
		Accounts: accounts,
		Orders:   orders,
		Authzs:   authzs,
		Logger:   testLogger,
	})
	server.SetupRouter(e)

	return e, store
}
