package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/marketplace/internal/adapter/storage"
	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/core/service"
)

const (
	buyerID   int64 = 1
	managerID int64 = 2
	productID int64 = 5
	recordID  int64 = 50
)

type services struct {
	mem      *storage.MemoryAdapter
	carts    *service.CartService
	checkout *service.CheckoutService
	engine   *service.AssignmentEngine
	ledger   *service.LedgerService
}

// newServices seeds a buyer and a manager in city 1 and a shop holding 10
// units of a product priced 25.
func newServices(t *testing.T) *services {
	t.Helper()
	ctx := context.Background()
	mem := storage.NewMemoryAdapter()
	require.NoError(t, mem.SeedUser(ctx, buyerID, domain.RoleCustomer, 1))
	require.NoError(t, mem.SeedUser(ctx, managerID, domain.RoleManager, 1))
	require.NoError(t, mem.SeedProduct(ctx, productID, 25))
	require.NoError(t, mem.SeedShop(ctx, 1, 1))
	require.NoError(t, mem.SeedInventory(ctx, domain.InventoryRecord{ID: recordID, ShopID: 1, ProductID: productID, Quantity: 10}))

	logger := zap.NewNop()
	inventory := service.NewInventoryService(mem, logger)
	carts := service.NewCartService(mem, mem, mem, mem, inventory, logger)
	engine := service.NewAssignmentEngine(mem, mem, inventory, domain.FulfillOneUnit, logger)
	return &services{
		mem:      mem,
		carts:    carts,
		checkout: service.NewCheckoutService(carts, mem, mem, engine, logger),
		engine:   engine,
		ledger:   service.NewLedgerService(mem, logger),
	}
}
