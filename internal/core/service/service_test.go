package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/rl1809/marketplace/internal/adapter/storage"
	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	buyerID   int64 = 1
	productX  int64 = 1
	productY  int64 = 2
	homeCity        = domain.CityID(1)
	shopA     int64 = 10
	recordAX  int64 = 100
	managerLo int64 = 20
	managerHi int64 = 21
)

type fixture struct {
	mem       *storage.MemoryAdapter
	ledger    *LedgerService
	inventory *InventoryService
	carts     *CartService
	engine    *AssignmentEngine
	checkout  *CheckoutService
}

type fixtureStores struct {
	carts     port.CartRepository
	orders    port.OrderRepository
	inventory port.InventoryRepository
}

// newFixture seeds a buyer in homeCity, product X priced 40, one shop with
// 5 units of X and no staff.
func newFixture(t *testing.T, policy domain.FulfillmentPolicy, override ...func(*fixtureStores)) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := storage.NewMemoryAdapter()

	require.NoError(t, mem.SeedUser(ctx, buyerID, domain.RoleCustomer, homeCity))
	require.NoError(t, mem.SeedProduct(ctx, productX, 40))
	require.NoError(t, mem.SeedProduct(ctx, productY, 5))
	require.NoError(t, mem.SeedShop(ctx, shopA, homeCity))
	require.NoError(t, mem.SeedInventory(ctx, domain.InventoryRecord{ID: recordAX, ShopID: shopA, ProductID: productX, Quantity: 5}))

	stores := fixtureStores{carts: mem, orders: mem, inventory: mem}
	for _, o := range override {
		o(&stores)
	}

	logger := zap.NewNop()
	inventory := NewInventoryService(stores.inventory, logger)
	carts := NewCartService(stores.carts, mem, mem, mem, inventory, logger)
	engine := NewAssignmentEngine(stores.orders, mem, inventory, policy, logger)
	return &fixture{
		mem:       mem,
		ledger:    NewLedgerService(mem, logger),
		inventory: inventory,
		carts:     carts,
		engine:    engine,
		checkout:  NewCheckoutService(carts, stores.orders, mem, engine, logger),
	}
}

func (f *fixture) withManagers(t *testing.T, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, f.mem.SeedUser(context.Background(), id, domain.RoleManager, homeCity))
	}
}

func (f *fixture) withBalance(t *testing.T, balance int64) {
	t.Helper()
	_, _, err := f.ledger.AddCard(context.Background(), buyerID, balance)
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	acc, err := f.ledger.Account(context.Background(), buyerID)
	require.NoError(t, err)
	return acc.Balance
}

func (f *fixture) lines(t *testing.T) []domain.CartLine {
	t.Helper()
	lines, err := f.mem.Lines(context.Background(), buyerID)
	require.NoError(t, err)
	return lines
}
