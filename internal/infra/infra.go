// Package infra opens the storage clients selected by configuration and
// hands out the stores built on them. Required clients fail startup; optional
// ones (Redis) degrade to in-process fallbacks with a warning.
package infra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"github.com/joao-fontenele/storefront-payments/internal/auth"
	"github.com/joao-fontenele/storefront-payments/internal/cache"
	"github.com/joao-fontenele/storefront-payments/internal/cart"
	"github.com/joao-fontenele/storefront-payments/internal/config"
	"github.com/joao-fontenele/storefront-payments/internal/inventory"
	"github.com/joao-fontenele/storefront-payments/internal/orders"
	"github.com/joao-fontenele/storefront-payments/internal/telemetry"
)

const redisKeyPrefix = "storefront:"

type Infra struct {
	DB        *sql.DB
	Firestore *firestore.Client
	Redis     *redis.Client

	Orders orders.Store
	Stock  inventory.Store
	Carts  cart.Store
	Cache  cache.Store

	closers []func() error
}

func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Infra, error) {
	inf := &Infra{}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		if cfg.PostgresURL == "" {
			return nil, errors.New("POSTGRES_URL is required for the postgres backend")
		}
		db, err := telemetry.OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		inf.DB = db
		inf.closers = append(inf.closers, db.Close)
		inf.Orders = orders.NewOrderRepository(db)
		inf.Stock = inventory.NewInventoryRepository(db)
		inf.Carts = cart.NewRepository(db)
		logger.Info("using postgres stores")

	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, cfg.FirestoreProjectID, clientOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("firestore.NewClient (project=%s): %w", cfg.FirestoreProjectID, err)
		}
		inf.Firestore = client
		inf.closers = append(inf.closers, client.Close)
		inf.Orders = orders.NewFirestoreStore(client)
		inf.Stock = inventory.NewFirestoreStore(client)
		inf.Carts = cart.NewFirestoreStore(client)
		logger.Info("using firestore stores", "project_id", cfg.FirestoreProjectID)

	case config.BackendMemory:
		inf.Orders = orders.NewMemoryStore()
		inf.Stock = inventory.NewMemoryStore()
		inf.Carts = cart.NewMemoryStore()
		logger.Warn("using in-memory stores; data is lost on restart")

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	inf.Cache = inf.openCache(ctx, cfg, logger)
	return inf, nil
}

// OpenCache connects only the shared cache, for processes that need no stores.
func OpenCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) *Infra {
	inf := &Infra{}
	inf.Cache = inf.openCache(ctx, cfg, logger)
	return inf
}

func (i *Infra) openCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) cache.Store {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set, webhook de-dup and remote order reuse are per process")
		return cache.NewMemory()
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		logger.Warn("redis unavailable, falling back to in-process cache", "error", err, "addr", cfg.RedisAddr)
		return cache.NewMemory()
	}

	i.Redis = client
	i.closers = append(i.closers, client.Close)
	logger.Info("connected to redis", "addr", cfg.RedisAddr)
	return cache.NewRedisAdapter(client, redisKeyPrefix)
}

// Close releases clients in reverse order of opening.
func (i *Infra) Close() error {
	var errs []error
	for n := len(i.closers) - 1; n >= 0; n-- {
		errs = append(errs, i.closers[n]())
	}
	return errors.Join(errs...)
}

func clientOptions(cfg *config.Config) []option.ClientOption {
	if cf := strings.TrimSpace(cfg.FirestoreCredentialsFile); cf != "" {
		return []option.ClientOption{option.WithCredentialsFile(cf)}
	}
	return nil
}

// Admins splits ADMIN_EMAIL into the owner keys treated as administrators.
func Admins(cfg *config.Config) []string {
	var admins []string
	for _, a := range strings.Split(cfg.AdminEmail, ",") {
		if a = strings.TrimSpace(a); a != "" {
			admins = append(admins, a)
		}
	}
	return admins
}

// Auth builds the request authenticator for AUTH_MODE. Firebase mode fails
// closed: if the auth client cannot be built the service does not start.
func Auth(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*auth.Middleware, error) {
	if cfg.AuthMode == config.AuthModeHeader {
		logger.Warn("AUTH_MODE=header trusts the X-Owner-Key header; use only behind a trusted proxy")
		return auth.NewHeaderMiddleware(Admins(cfg), logger), nil
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FirestoreProjectID}, clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth client: %w", err)
	}
	return auth.NewFirebaseMiddleware(client, Admins(cfg), logger), nil
}
