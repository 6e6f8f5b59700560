package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/blockadesystems/acmeforge/internal/model"
)

var logger *zap.Logger

func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize zap logger: %v", err))
	}
	logger = l.With(zap.String("package", "storage"))
}

// Storage defines the interface for storing and retrieving ACME protocol
// objects. Implementations must support safe concurrent use; the operations
// marked atomic below are the hot paths of the replay and identity checks.
type Storage interface {
	// Nonce methods. TakeNonce removes and returns the nonce in one atomic
	// step: two concurrent takers of the same value must not both receive it.
	SaveNonce(ctx context.Context, nonce *model.Nonce) error
	TakeNonce(ctx context.Context, value string) (*model.Nonce, error)
	GetNonce(ctx context.Context, value string) (*model.Nonce, error)
	DeleteNoncesIssuedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteOldestNonce(ctx context.Context) error
	CountNonces(ctx context.Context) (int, error)

	// Account methods. CreateAccount is atomic per thumbprint: when an account
	// with the same thumbprint already exists it is returned with created ==
	// false and the candidate is discarded. The store assigns the ID.
	CreateAccount(ctx context.Context, acct *model.Account) (*model.Account, bool, error)
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	GetAccountByThumbprint(ctx context.Context, thumbprint string) (*model.Account, error)

	// Order methods.
	SaveOrder(ctx context.Context, order *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrdersByAccountID(ctx context.Context, accountID string) ([]*model.Order, error)

	// Authorization methods. Challenges are stored embedded in their
	// authorization; this core keeps exactly one challenge per authorization.
	SaveAuthorization(ctx context.Context, authz *model.Authorization) error
	GetAuthorization(ctx context.Context, id string) (*model.Authorization, error)
	GetAuthorizationsByOrderID(ctx context.Context, orderID string) ([]*model.Authorization, error)

	Close() error
}

// NewStorage is the factory function.
func NewStorage(storageType string, dbHost string, dbUser string, dbPassword string, dbName string, dbPort int, dbSSLMode string) (Storage, error) {
	switch strings.ToLower(storageType) {
	case "memory":
		return NewMemoryStorage(), nil
	case "postgres":
		return NewPostgreSQLStorage(dbHost, dbUser, dbPassword, dbName, dbPort, dbSSLMode)
	default:
		logger.Error("Invalid storage type specified", zap.String("storage_type", storageType))
		return nil, fmt.Errorf("storage: invalid storage type: %s", storageType)
	}
}
