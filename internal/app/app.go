package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/marketplace/internal/adapter/storage"
	"github.com/rl1809/marketplace/internal/config"
	"github.com/rl1809/marketplace/internal/core/service"
	"github.com/rl1809/marketplace/internal/port"
)

// Stores groups the repositories the services depend on.
type Stores struct {
	Accounts    port.AccountRepository
	Inventory   port.InventoryRepository
	Orders      port.OrderRepository
	Carts       port.CartRepository
	Idempotency port.IdempotencyRepository
	Catalog     port.Catalog
	Directory   port.Directory
	Seeder      port.Seeder
}

// MemoryStores backs every repository with one in-process adapter.
func MemoryStores(m *storage.MemoryAdapter) Stores {
	return Stores{
		Accounts:    m,
		Inventory:   m,
		Orders:      m,
		Carts:       m,
		Idempotency: m,
		Catalog:     m,
		Directory:   m,
		Seeder:      m,
	}
}

type App struct {
	Stores    Stores
	Ledger    *service.LedgerService
	Inventory *service.InventoryService
	Carts     *service.CartService
	Engine    *service.AssignmentEngine
	Checkout  *service.CheckoutService

	closers []func() error
}

// New wires the services over the given stores.
func New(stores Stores, cfg config.Config, logger *zap.Logger) *App {
	inventory := service.NewInventoryService(stores.Inventory, logger.Named("inventory"))
	carts := service.NewCartService(stores.Carts, stores.Catalog, stores.Accounts, stores.Directory, inventory, logger.Named("cart"))
	engine := service.NewAssignmentEngine(stores.Orders, stores.Directory, inventory, cfg.FulfillmentPolicy, logger.Named("assignment"))
	return &App{
		Stores:    stores,
		Ledger:    service.NewLedgerService(stores.Accounts, logger.Named("ledger")),
		Inventory: inventory,
		Carts:     carts,
		Engine:    engine,
		Checkout:  service.NewCheckoutService(carts, stores.Orders, stores.Idempotency, engine, logger.Named("checkout")),
	}
}

// Build connects the configured storage backend and wires the services.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg.Storage == config.StorageMemory {
		mem := storage.NewMemoryAdapter().WithIdempotencyTTL(cfg.IdempotencyTTL)
		logger.Info("using in-memory storage")
		return New(MemoryStores(mem), *cfg, logger), nil
	}

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	logger.Info("connected to mysql")

	mysqlAdapter := storage.NewMySQLAdapter(db)
	if err := mysqlAdapter.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		db.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

	redisAdapter := storage.NewRedisAdapter(rdb).WithIdempotencyTTL(cfg.IdempotencyTTL)
	a := New(Stores{
		Accounts:    mysqlAdapter,
		Inventory:   mysqlAdapter,
		Orders:      mysqlAdapter,
		Carts:       redisAdapter,
		Idempotency: redisAdapter,
		Catalog:     mysqlAdapter,
		Directory:   mysqlAdapter,
		Seeder:      mysqlAdapter,
	}, *cfg, logger)
	a.closers = append(a.closers, rdb.Close, db.Close)
	return a, nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
