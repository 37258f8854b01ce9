package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

func TestCheckout_Success(t *testing.T) {
	f := newFixture(t, domain.FulfillOneUnit)
	f.withManagers(t, managerLo, managerHi)
	f.withBalance(t, 100)
	ctx := context.Background()
	require.NoError(t, f.carts.AddOrUpdate(ctx, buyerID, productX, 2))

	res, err := f.checkout.Checkout(ctx, buyerID, "")
	require.NoError(t, err)

	assert.EqualValues(t, 20, f.balance(t))
	assert.Empty(t, f.lines(t))

	assert.EqualValues(t, 80, res.Transaction.Snapshot.Total)
	assert.Equal(t, recordAX, res.Transaction.InventoryRecordID)
	assert.Equal(t, domain.OrderStatusPending, res.Order.Status)
	require.NotNil(t, res.Order.AssigneeID)
	assert.Equal(t, managerLo, *res.Order.AssigneeID)

	view, err := f.engine.Order(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Transaction.ID, view.Transaction.ID)
	assert.Equal(t, domain.OrderStatusPending, view.Status)

	// second order goes to the other manager
	require.NoError(t, f.mem.SeedInventory(ctx, domain.InventoryRecord{ID: recordAX + 1, ShopID: shopA, ProductID: productY, Quantity: 5}))
	require.NoError(t, f.carts.AddOrUpdate(ctx, buyerID, productY, 1))
	res, err = f.checkout.Checkout(ctx, buyerID, "")
	require.NoError(t, err)
	assert.Equal(t, managerHi, *res.Order.AssigneeID)
}

func TestCheckout_InsufficientFunds(t *testing.T) {
	f := newFixture(t, domain.FulfillOneUnit)
	f.withManagers(t, managerLo)
	f.withBalance(t, 50)
	ctx := context.Background()
	require.NoError(t, f.carts.AddOrUpdate(ctx, buyerID, productX, 2))

	_, err := f.checkout.Checkout(ctx, buyerID, "")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.EqualValues(t, 50, f.balance(t))
	assert.Equal(t, []domain.CartLine{{ProductID: productX, Quantity: 2}}, f.lines(t))
	orders, err := f.engine.CustomerOrders(ctx, buyerID)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCheckout_Unavailable(t *testing.T) {
	f := newFixture(t, domain.FulfillOneUnit)
	f.withManagers(t, managerLo)
	f.withBalance(t, 100)
	ctx := context.Background()
	require.NoError(t, f.mem.SeedInventory(ctx, domain.InventoryRecord{ID: recordAX, ShopID: shopA, ProductID: productX, Quantity: 1}))
	require.NoError(t, f.carts.AddOrUpdate(ctx, buyerID, productX, 2))

	_, err := f.checkout.Checkout(ctx, buyerID, "")
	assert.ErrorIs(t, err, domain.ErrUnavailable)

	assert.EqualValues(t, 100, f.balance(t))
	assert.Equal(t, []domain.CartLine{{ProductID: productX, Quantity: 2}}, f.lines(t))
	orders, err := f.engine.CustomerOrders(ctx, buyerID)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCheckout_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("no payment method", func(t *testing.T) {
		f := newFixture(t, domain.FulfillOneUnit)
		require.NoError(t, f.carts.AddOrUpdate(ctx, buyerID, productX, 1))
		_, err := f.checkout.Checkout(ctx, buyerID, "")
		assert.ErrorIs(t, err, domain.ErrNoPaymentMethod)
		assert.Len(t, f.lines(t), 1)
	})

	t.Run("empty cart", func(t *testing.T) {
		f := newFixture(t, domain.FulfillOneUnit)
		f.withBalance(t, 100)
		_, err := f.checkout.Checkout(ctx, buyerID, "")
		assert.ErrorIs(t, err, domain.ErrEmptyCart)
		assert.EqualValues(t, 100, f.balance(t))
	})

	t.Run("no city", func(t *testing.T) {
		f := newFixture(t, domain.FulfillOneUnit)
		f.withBalance(t, 100)
		require.NoError(t, f.mem.SeedUser(ctx, buyerID, domain.RoleCustomer, 0))
		require.NoError(t, f.carts.AddOrUpdate(ctx, buyerID, productX, 1))
		_, err := f.checkout.Checkout(ctx, buyerID, "")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.EqualValues(t, 100, f.balance(t))
		assert.Len(t, f.lines(t), 1)
	})
}

func TestCheckout_NoStaffLeavesOrderUnassigned(t *testing.T) {
	f := newFixture(t, domain.FulfillOneUnit)
	f.withBalance(t, 100)
	ctx := context.Background()
	require.NoError(t, f.carts.AddOrUpdate(ctx, buyerID, productX, 1))

	res, err := f.checkout.Checkout(ctx, buyerID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusNotAssigned, res.Order.Status)
	assert.Nil(t, res.Order.AssigneeID)
	assert.EqualValues(t, 60, f.balance(t))
}

func TestCheckout_IdempotencyKey(t *testing.T) {
	f := newFixture(t, domain.FulfillOneUnit)
	f.withBalance(t, 50)
	ctx := context.Background()
	require.NoError(t, f.carts.AddOrUpdate(ctx, buyerID, productX, 2))

	// failed attempts release the key
	_, err := f.checkout.Checkout(ctx, buyerID, "req-1")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	f.withBalance(t, 50)
	_, err = f.checkout.Checkout(ctx, buyerID, "req-1")
	require.NoError(t, err)

	require.NoError(t, f.carts.AddOrUpdate(ctx, buyerID, productY, 1))
	_, err = f.checkout.Checkout(ctx, buyerID, "req-1")
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)
	assert.Len(t, f.lines(t), 1, "replayed request leaves the cart alone")
	assert.EqualValues(t, 20, f.balance(t))
}

type failingCommit struct {
	port.OrderRepository
	err error
}

func (f failingCommit) CommitCheckout(context.Context, domain.TransactionRecord, domain.Order) error {
	return f.err
}

type failingRestore struct {
	port.CartRepository
}

func (failingRestore) RestoreLines(context.Context, int64, []domain.CartLine) error {
	return errors.New("cart store unreachable")
}

func TestCheckout_CommitFailureRestoresCart(t *testing.T) {
	f := newFixture(t, domain.FulfillOneUnit, func(s *fixtureStores) {
		s.orders = failingCommit{OrderRepository: s.orders, err: domain.ErrInsufficientFunds}
	})
	f.withBalance(t, 100)
	ctx := context.Background()
	require.NoError(t, f.carts.AddOrUpdate(ctx, buyerID, productX, 2))

	_, err := f.checkout.Checkout(ctx, buyerID, "")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, []domain.CartLine{{ProductID: productX, Quantity: 2}}, f.lines(t))
	assert.EqualValues(t, 100, f.balance(t))
}

func TestCheckout_StorageFailureIsInternal(t *testing.T) {
	f := newFixture(t, domain.FulfillOneUnit, func(s *fixtureStores) {
		s.orders = failingCommit{OrderRepository: s.orders, err: errors.New("connection reset")}
	})
	f.withBalance(t, 100)
	ctx := context.Background()
	require.NoError(t, f.carts.AddOrUpdate(ctx, buyerID, productX, 1))

	_, err := f.checkout.Checkout(ctx, buyerID, "")
	require.Error(t, err)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
	assert.Equal(t, "internal error", domain.PublicMessage(err))
	assert.Len(t, f.lines(t), 1)
}

func TestCheckout_RestoreFailureAborts(t *testing.T) {
	f := newFixture(t, domain.FulfillOneUnit, func(s *fixtureStores) {
		s.orders = failingCommit{OrderRepository: s.orders, err: domain.ErrInsufficientFunds}
		s.carts = failingRestore{CartRepository: s.carts}
	})
	f.withBalance(t, 100)
	ctx := context.Background()
	require.NoError(t, f.carts.AddOrUpdate(ctx, buyerID, productX, 2))

	_, err := f.checkout.Checkout(ctx, buyerID, "")
	assert.ErrorIs(t, err, domain.ErrCheckoutAborted)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds, "cause stays in the chain")
	assert.EqualValues(t, 100, f.balance(t))
}

func TestCheckout_ConcurrentNoDoubleSpend(t *testing.T) {
	f := newFixture(t, domain.FulfillOneUnit)
	f.withManagers(t, managerLo)
	f.withBalance(t, 100)
	ctx := context.Background()
	require.NoError(t, f.mem.SeedInventory(ctx, domain.InventoryRecord{ID: recordAX, ShopID: shopA, ProductID: productX, Quantity: 100}))

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.carts.AddOrUpdate(ctx, buyerID, productX, 1); err != nil {
				return
			}
			if _, err := f.checkout.Checkout(ctx, buyerID, ""); err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	success := int64(successCount.Load())
	assert.LessOrEqual(t, success, int64(2), "balance covers at most two units")
	assert.EqualValues(t, 100-40*success, f.balance(t))

	orders, err := f.engine.CustomerOrders(ctx, buyerID)
	require.NoError(t, err)
	assert.Len(t, orders, int(success))
}

// racingCart adds extra to the cart right before it is taken, as a
// concurrent add between validation and snapshot would.
type racingCart struct {
	port.CartRepository
	extra domain.CartLine
}

func (r racingCart) TakeLines(ctx context.Context, userID int64) ([]domain.CartLine, error) {
	if err := r.CartRepository.UpsertLine(ctx, userID, r.extra.ProductID, r.extra.Quantity); err != nil {
		return nil, err
	}
	return r.CartRepository.TakeLines(ctx, userID)
}

func TestCheckout_CartChangedDuringCheckout(t *testing.T) {
	f := newFixture(t, domain.FulfillOneUnit, func(s *fixtureStores) {
		s.carts = racingCart{CartRepository: s.carts, extra: domain.CartLine{ProductID: productY, Quantity: 1}}
	})
	f.withManagers(t, managerLo)
	f.withBalance(t, 100)
	ctx := context.Background()
	require.NoError(t, f.carts.AddOrUpdate(ctx, buyerID, productX, 1))

	_, err := f.checkout.Checkout(ctx, buyerID, "")
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	lines := domain.SortLines(f.lines(t))
	assert.Equal(t, []domain.CartLine{{ProductID: productX, Quantity: 1}, {ProductID: productY, Quantity: 1}}, lines,
		"both the validated and the concurrent line are restored once")
	assert.EqualValues(t, 100, f.balance(t))
	orders, err := f.engine.CustomerOrders(ctx, buyerID)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCheckout_DebitFollowsLedgerRule(t *testing.T) {
	f := newFixture(t, domain.FulfillOneUnit)
	f.withBalance(t, 80)
	ctx := context.Background()
	require.NoError(t, f.carts.AddOrUpdate(ctx, buyerID, productX, 2))

	_, err := f.checkout.Checkout(ctx, buyerID, "")
	require.NoError(t, err, "total equal to balance is allowed")
	assert.Zero(t, f.balance(t))

	_, err = f.ledger.Debit(ctx, buyerID, 1)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}
