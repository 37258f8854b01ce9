package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

// AssignmentEngine picks who fulfills an order and drives the order
// status machine NOT_ASSIGNED -> PENDING -> DONE | CANCELED.
type AssignmentEngine struct {
	orders    port.OrderRepository
	directory port.Directory
	inventory *InventoryService
	policy    domain.FulfillmentPolicy
	logger    *zap.Logger
	now       func() time.Time
}

type CompletionResult struct {
	Order              domain.Order `json:"order"`
	InventoryShortfall bool         `json:"inventory_shortfall"`
}

func NewAssignmentEngine(
	orders port.OrderRepository,
	directory port.Directory,
	inventory *InventoryService,
	policy domain.FulfillmentPolicy,
	logger *zap.Logger,
) *AssignmentEngine {
	return &AssignmentEngine{
		orders:    orders,
		directory: directory,
		inventory: inventory,
		policy:    policy,
		logger:    logger,
		now:       time.Now,
	}
}

// SelectAssignee returns the manager with the fewest pending orders, or a
// director when there are no managers. ok is false when nobody can take
// the order. The load is read at selection time only.
func (e *AssignmentEngine) SelectAssignee(ctx context.Context) (userID int64, role domain.Role, ok bool, err error) {
	managers, err := e.orders.StaffLoads(ctx, domain.RoleManager)
	if err != nil {
		return 0, 0, false, fmt.Errorf("manager loads: %w", err)
	}
	if len(managers) > 0 {
		return leastLoaded(managers).UserID, domain.RoleManager, true, nil
	}

	directors, err := e.orders.StaffLoads(ctx, domain.RoleDirector)
	if err != nil {
		return 0, 0, false, fmt.Errorf("director loads: %w", err)
	}
	if len(directors) > 0 {
		return directors[0].UserID, domain.RoleDirector, true, nil
	}
	return 0, 0, false, nil
}

// leastLoaded breaks ties on the lower user ID.
func leastLoaded(loads []domain.StaffLoad) domain.StaffLoad {
	best := loads[0]
	for _, l := range loads[1:] {
		if l.Active < best.Active || (l.Active == best.Active && l.UserID < best.UserID) {
			best = l
		}
	}
	return best
}

// Assign moves a freshly created order to PENDING under the selected
// assignee. With no staff available the order is returned unchanged.
func (e *AssignmentEngine) Assign(ctx context.Context, order domain.Order) (domain.Order, error) {
	assignee, role, ok, err := e.SelectAssignee(ctx)
	if err != nil {
		return order, err
	}
	if !ok {
		assignmentsTotal.WithLabelValues("unassigned").Inc()
		e.logger.Warn("no staff available, order left unassigned", zap.String("order_id", order.ID))
		return order, nil
	}

	next, err := order.Assign(assignee, e.now().UTC())
	if err != nil {
		return order, err
	}
	if err := e.orders.UpdateOrder(ctx, next, order.Status); err != nil {
		return order, fmt.Errorf("store assignment: %w", err)
	}

	assignmentsTotal.WithLabelValues(role.String()).Inc()
	orderTransitionsTotal.WithLabelValues(string(next.Status)).Inc()
	e.logger.Info("order assigned",
		zap.String("order_id", next.ID),
		zap.Int64("assignee_id", assignee),
		zap.Stringer("role", role),
	)
	return next, nil
}

// Cancel is allowed from NOT_ASSIGNED or PENDING and clears the assignee.
func (e *AssignmentEngine) Cancel(ctx context.Context, orderID string) (domain.Order, error) {
	return e.transition(ctx, orderID, func(o domain.Order) (domain.Order, error) {
		return o.Cancel(e.now().UTC())
	})
}

// Complete is allowed from PENDING. It consumes stock from the order's
// backing record per the fulfillment policy, stored together with the
// status change. A record that cannot cover the decrement does not block
// completion; the shortfall is reported.
func (e *AssignmentEngine) Complete(ctx context.Context, orderID string) (*CompletionResult, error) {
	cur, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	done, err := cur.Complete(e.now().UTC())
	if err != nil {
		return nil, err
	}

	tx, err := e.orders.GetTransaction(ctx, cur.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	rec, err := e.inventory.Record(ctx, tx.InventoryRecordID)
	if err != nil {
		return nil, fmt.Errorf("load inventory record: %w", err)
	}
	amount := e.policy.DecrementFor(tx.Snapshot, rec.ProductID)

	decremented, err := e.orders.CompleteOrder(ctx, done, cur.Status, rec.ID, amount)
	if err != nil {
		return nil, e.storeError(ctx, orderID, err)
	}
	e.transitioned(*cur, done)

	res := &CompletionResult{Order: done}
	if !decremented {
		res.InventoryShortfall = true
		inventoryShortfallTotal.Inc()
		e.logger.Warn("inventory shortfall on completion",
			zap.String("order_id", done.ID),
			zap.Int64("inventory_record_id", rec.ID),
			zap.Int("requested", amount),
			zap.Int("on_hand", rec.Quantity),
		)
	}
	return res, nil
}

func (e *AssignmentEngine) transition(ctx context.Context, orderID string, step func(domain.Order) (domain.Order, error)) (domain.Order, error) {
	cur, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	next, err := step(*cur)
	if err != nil {
		return domain.Order{}, err
	}
	if err := e.orders.UpdateOrder(ctx, next, cur.Status); err != nil {
		return domain.Order{}, e.storeError(ctx, orderID, err)
	}
	e.transitioned(*cur, next)
	return next, nil
}

// storeError maps a failed status write. When someone else moved the order
// to a terminal status it cannot move again.
func (e *AssignmentEngine) storeError(ctx context.Context, orderID string, err error) error {
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		return fmt.Errorf("store transition: %w", err)
	}
	latest, gerr := e.orders.GetOrder(ctx, orderID)
	if gerr == nil && latest.Status.Terminal() {
		return domain.Errorf(domain.KindInvalidTransition, "order is already %s", latest.Status)
	}
	return err
}

func (e *AssignmentEngine) transitioned(from, to domain.Order) {
	orderTransitionsTotal.WithLabelValues(string(to.Status)).Inc()
	e.logger.Info("order transitioned",
		zap.String("order_id", to.ID),
		zap.String("from", string(from.Status)),
		zap.String("to", string(to.Status)),
	)
}

// ManagerOrders lists orders assigned to a manager.
func (e *AssignmentEngine) ManagerOrders(ctx context.Context, userID int64) ([]domain.Order, error) {
	role, err := e.directory.UserRole(ctx, userID)
	if err != nil {
		return nil, err
	}
	switch role {
	case domain.RoleManager:
		return e.orders.ListByAssignee(ctx, userID)
	case domain.RoleCustomer, domain.RoleDirector, domain.RoleAdmin:
		return nil, domain.NewError(domain.KindForbidden, "only managers may list assigned orders")
	}
	return nil, domain.ErrForbidden
}

// CustomerOrders lists orders created from the user's checkouts.
func (e *AssignmentEngine) CustomerOrders(ctx context.Context, userID int64) ([]domain.Order, error) {
	return e.orders.ListByCustomer(ctx, userID)
}

func (e *AssignmentEngine) Order(ctx context.Context, orderID string) (*domain.OrderView, error) {
	o, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	tx, err := e.orders.GetTransaction(ctx, o.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	return &domain.OrderView{Order: *o, Transaction: *tx}, nil
}

// OrderFor returns the order only to its buyer or its assignee.
func (e *AssignmentEngine) OrderFor(ctx context.Context, callerID int64, orderID string) (*domain.OrderView, error) {
	view, err := e.Order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if view.Transaction.UserID == callerID {
		return view, nil
	}
	if view.AssigneeID != nil && *view.AssigneeID == callerID {
		return view, nil
	}
	return nil, domain.NewError(domain.KindForbidden, "order belongs to another user")
}
