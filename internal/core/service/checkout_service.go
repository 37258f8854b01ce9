package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

type CheckoutService struct {
	carts  *CartService
	orders port.OrderRepository
	idem   port.IdempotencyRepository
	engine *AssignmentEngine
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

type CheckoutResult struct {
	Transaction domain.TransactionRecord `json:"transaction"`
	Order       domain.Order             `json:"order"`
}

func NewCheckoutService(
	carts *CartService,
	orders port.OrderRepository,
	idem port.IdempotencyRepository,
	engine *AssignmentEngine,
	logger *zap.Logger,
) *CheckoutService {
	return &CheckoutService{
		carts:  carts,
		orders: orders,
		idem:   idem,
		engine: engine,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// Checkout turns the user's cart into a transaction and an assigned order.
// Balance and availability are verified before anything is mutated. The
// transaction, the debit and the order are committed together; if that
// commit fails the cart is restored. requestKey, when set, makes the call
// idempotent per user.
func (s *CheckoutService) Checkout(ctx context.Context, userID int64, requestKey string) (res *CheckoutResult, err error) {
	defer func() {
		checkoutsTotal.WithLabelValues(outcomeLabel(err)).Inc()
	}()

	if requestKey != "" {
		key := fmt.Sprintf("checkout:%d:%s", userID, requestKey)
		ok, ierr := s.idem.SetIdempotency(ctx, key)
		if ierr != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", ierr)
		}
		if !ok {
			return nil, domain.ErrDuplicateRequest
		}
		defer func() {
			if err == nil {
				return
			}
			if rerr := s.idem.ReleaseIdempotency(context.WithoutCancel(ctx), key); rerr != nil {
				s.logger.Warn("release idempotency key", zap.String("key", key), zap.Error(rerr))
			}
		}()
	}

	acc, err := s.carts.paymentAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	lines, err := s.carts.carts.Lines(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if len(lines) == 0 {
		return nil, domain.ErrEmptyCart
	}

	_, total, err := s.carts.price(ctx, lines)
	if err != nil {
		return nil, err
	}
	if acc.Balance < total {
		return nil, domain.Errorf(domain.KindInsufficientFunds, "insufficient funds: cart total %d exceeds balance %d", total, acc.Balance)
	}

	record, err := s.carts.availabilityFor(ctx, userID, lines)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.carts.SnapshotAndClear(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !domain.SameLines(snapshot.PlainLines(), lines) {
		return nil, s.abort(ctx, userID, snapshot, "", domain.Errorf(domain.KindConcurrencyConflict, "cart changed during checkout, retry"))
	}

	now := s.now().UTC()
	txRec := domain.TransactionRecord{
		ID:                s.newID(),
		UserID:            userID,
		Snapshot:          snapshot,
		InventoryRecordID: record.ID,
		CreatedAt:         now,
	}
	order := domain.Order{
		ID:            s.newID(),
		TransactionID: txRec.ID,
		Status:        domain.OrderStatusNotAssigned,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.orders.CommitCheckout(ctx, txRec, order); err != nil {
		return nil, s.abort(ctx, userID, snapshot, txRec.ID, err)
	}

	s.logger.Info("checkout committed",
		zap.Int64("user_id", userID),
		zap.String("transaction_id", txRec.ID),
		zap.String("order_id", order.ID),
		zap.Int64("total", snapshot.Total),
		zap.Int64("inventory_record_id", record.ID),
	)

	assigned, err := s.engine.Assign(ctx, order)
	if err != nil {
		// the order is committed; it stays NOT_ASSIGNED
		s.logger.Warn("order assignment failed", zap.String("order_id", order.ID), zap.Error(err))
		assigned = order
	}

	return &CheckoutResult{Transaction: txRec, Order: assigned}, nil
}

// abort puts the snapshot back into the cart and returns the error to
// surface. A failed restore escalates to ErrCheckoutAborted and logs the
// snapshot for manual reconciliation.
func (s *CheckoutService) abort(ctx context.Context, userID int64, snapshot domain.CartSnapshot, txID string, cause error) error {
	rctx := context.WithoutCancel(ctx)
	if rerr := s.carts.Restore(rctx, userID, snapshot); rerr != nil {
		s.logger.Error("checkout aborted, cart not restored",
			zap.Int64("user_id", userID),
			zap.String("transaction_id", txID),
			zap.Any("snapshot", snapshot),
			zap.NamedError("cause", cause),
			zap.Error(rerr),
		)
		return domain.Wrap(domain.KindCheckoutAborted,
			"checkout aborted and cart could not be restored, contact support",
			errors.Join(cause, rerr))
	}

	s.logger.Warn("checkout rolled back", zap.Int64("user_id", userID), zap.String("transaction_id", txID), zap.Error(cause))
	if domain.KindOf(cause) == domain.KindInternal {
		return fmt.Errorf("commit checkout: %w", cause)
	}
	return cause
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return domain.KindOf(err).String()
}
