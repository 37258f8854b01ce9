package domain

import "time"

type OrderStatus string

const (
	OrderStatusNotAssigned OrderStatus = "NOT_ASSIGNED"
	OrderStatusPending     OrderStatus = "PENDING"
	OrderStatusDone        OrderStatus = "DONE"
	OrderStatusCanceled    OrderStatus = "CANCELED"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDone || s == OrderStatusCanceled
}

func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch OrderStatus(s) {
	case OrderStatusNotAssigned, OrderStatusPending, OrderStatusDone, OrderStatusCanceled:
		return OrderStatus(s), true
	}
	return "", false
}

// TransactionRecord pairs a frozen cart with the inventory record that backs
// the whole order. Immutable once created.
type TransactionRecord struct {
	ID                string       `json:"id"`
	UserID            int64        `json:"user_id"`
	Snapshot          CartSnapshot `json:"cart"`
	InventoryRecordID int64        `json:"inventory_record_id"`
	CreatedAt         time.Time    `json:"date_created"`
}

type Order struct {
	ID            string      `json:"id"`
	TransactionID string      `json:"transaction_id"`
	Status        OrderStatus `json:"status"`
	AssigneeID    *int64      `json:"assignee,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Assign moves a NOT_ASSIGNED order to PENDING with the given assignee.
func (o Order) Assign(assignee int64, now time.Time) (Order, error) {
	if o.Status != OrderStatusNotAssigned {
		return o, Errorf(KindInvalidTransition, "cannot assign order in status %s", o.Status)
	}
	o.Status = OrderStatusPending
	o.AssigneeID = &assignee
	o.UpdatedAt = now
	return o, nil
}

// Cancel clears the assignee and marks the order CANCELED.
func (o Order) Cancel(now time.Time) (Order, error) {
	switch o.Status {
	case OrderStatusNotAssigned, OrderStatusPending:
	default:
		return o, Errorf(KindInvalidTransition, "cannot cancel order in status %s", o.Status)
	}
	o.Status = OrderStatusCanceled
	o.AssigneeID = nil
	o.UpdatedAt = now
	return o, nil
}

// Complete marks a PENDING order DONE.
func (o Order) Complete(now time.Time) (Order, error) {
	if o.Status != OrderStatusPending {
		return o, Errorf(KindInvalidTransition, "cannot complete order in status %s", o.Status)
	}
	o.Status = OrderStatusDone
	o.UpdatedAt = now
	return o, nil
}

// OrderView is an order joined with its transaction.
type OrderView struct {
	Order
	Transaction TransactionRecord `json:"transaction"`
}
