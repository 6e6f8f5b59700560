package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// Config holds the runtime configuration for the ACME server.
type Config struct {
	ExternalURL    string // Public base URL clients see (no trailing slash)
	Address        string // Listen address
	StorageType    string // "memory" or "postgres"
	DBHost         string // PostgreSQL host
	DBUser         string // PostgreSQL user
	DBPassword     string // PostgreSQL password
	DBName         string // PostgreSQL database name
	DBPort         int    // PostgreSQL port
	DBSSLMode      string // PostgreSQL SSL mode
	NonceMaxAge    int    // Nonce max age in seconds
	NonceMaxCount  int    // Upper bound on stored nonces
	OrderTTLHours  int    // Order lifetime in hours
	AuthzTTLHours  int    // Authorization lifetime in hours
	MaxIdentifiers int    // Maximum identifiers per order
	TermsOfService string // Directory meta: terms of service URL
	Website        string // Directory meta: operator website
	CAAIdentity    string // Directory meta: CAA identity
}

const (
	defaultExternalURL    = "https://localhost:8443"
	defaultAddress        = ":8443"
	defaultStorageType    = "memory"
	defaultDBHost         = "localhost"
	defaultDBUser         = "acmeforge"
	defaultDBPassword     = "password"
	defaultDBName         = "acmeforge"
	defaultDBPort         = 5432
	defaultDBSSLMode      = "disable"
	defaultNonceMaxAge    = 300
	defaultNonceMaxCount  = 1000
	defaultOrderTTLHours  = 24
	defaultAuthzTTLHours  = 24
	defaultMaxIdentifiers = 100
	defaultTermsOfService = "https://ca.example.com/tos.html"
	defaultWebsite        = "https://ca.example.com"
	defaultCAAIdentity    = "ca.example.com"
)

// LoadConfig loads the server configuration from environment variables or defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ExternalURL:    strings.TrimSuffix(getEnv("ACMEFORGE_EXTERNAL_URL", defaultExternalURL), "/"),
		Address:        getEnv("ACMEFORGE_ADDRESS", defaultAddress),
		StorageType:    getEnv("ACMEFORGE_STORAGE_TYPE", defaultStorageType),
		DBHost:         getEnv("ACMEFORGE_DB_HOST", defaultDBHost),
		DBUser:         getEnv("ACMEFORGE_DB_USER", defaultDBUser),
		DBPassword:     getEnv("ACMEFORGE_DB_PASSWORD", defaultDBPassword),
		DBName:         getEnv("ACMEFORGE_DB_NAME", defaultDBName),
		DBPort:         getEnvAsInt("ACMEFORGE_DB_PORT", defaultDBPort),
		DBSSLMode:      getEnv("ACMEFORGE_DB_SSLMODE", defaultDBSSLMode),
		NonceMaxAge:    getEnvAsInt("ACMEFORGE_NONCE_MAX_AGE_SECONDS", defaultNonceMaxAge),
		NonceMaxCount:  getEnvAsInt("ACMEFORGE_NONCE_MAX_COUNT", defaultNonceMaxCount),
		OrderTTLHours:  getEnvAsInt("ACMEFORGE_ORDER_TTL_HOURS", defaultOrderTTLHours),
		AuthzTTLHours:  getEnvAsInt("ACMEFORGE_AUTHZ_TTL_HOURS", defaultAuthzTTLHours),
		MaxIdentifiers: getEnvAsInt("ACMEFORGE_MAX_IDENTIFIERS", defaultMaxIdentifiers),
		TermsOfService: getEnv("ACMEFORGE_TERMS_OF_SERVICE", defaultTermsOfService),
		Website:        getEnv("ACMEFORGE_WEBSITE", defaultWebsite),
		CAAIdentity:    getEnv("ACMEFORGE_CAA_IDENTITY", defaultCAAIdentity),
	}
	return cfg, nil
}

// ACMEBaseURL returns the external base for ACME endpoint locators.
func (c *Config) ACMEBaseURL() string {
	return c.ExternalURL + "/acme"
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer value for %s (%s), using default: %d", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}
