package port

import (
	"context"

	"github.com/rl1809/marketplace/internal/core/domain"
)

type AccountRepository interface {
	// GetAccount returns domain.ErrNotFound when the user has no account
	GetAccount(ctx context.Context, userID int64) (*domain.Account, error)

	// CreateAccount returns domain.ErrConcurrencyConflict if the account already exists
	CreateAccount(ctx context.Context, userID int64, balance int64) (*domain.Account, error)

	// Debit atomically subtracts amount when balance >= amount and returns the new balance
	Debit(ctx context.Context, userID int64, amount int64) (int64, error)

	// Credit atomically adds amount and returns the new balance
	Credit(ctx context.Context, userID int64, amount int64) (int64, error)
}

type InventoryRepository interface {
	// ListCityRecords returns records of the given products held by shops in
	// city, ordered by shop ID then record ID
	ListCityRecords(ctx context.Context, city domain.CityID, productIDs []int64) ([]domain.InventoryRecord, error)

	GetRecord(ctx context.Context, id int64) (*domain.InventoryRecord, error)

	// DecrementRecord atomically subtracts amount, returns false if stock would go negative
	DecrementRecord(ctx context.Context, id int64, amount int) (bool, error)
}

type OrderRepository interface {
	// CommitCheckout persists the transaction, debits its total from the
	// buyer's account and persists the order as one unit. Nothing is
	// persisted when the debit fails.
	CommitCheckout(ctx context.Context, tx domain.TransactionRecord, order domain.Order) error

	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	GetTransaction(ctx context.Context, id string) (*domain.TransactionRecord, error)

	// UpdateOrder stores next only if the stored status still equals from,
	// otherwise returns domain.ErrConcurrencyConflict
	UpdateOrder(ctx context.Context, next domain.Order, from domain.OrderStatus) error

	// CompleteOrder stores next under the same compare-and-swap as
	// UpdateOrder and takes amount units from the record in the same unit.
	// decremented is false, with next still stored, when the record holds
	// fewer than amount units. Nothing is stored on error.
	CompleteOrder(ctx context.Context, next domain.Order, from domain.OrderStatus, recordID int64, amount int) (decremented bool, err error)

	ListByAssignee(ctx context.Context, assigneeID int64) ([]domain.Order, error)

	ListByCustomer(ctx context.Context, userID int64) ([]domain.Order, error)

	// StaffLoads returns every user with role and their count of PENDING
	// orders, ascending by count then user ID
	StaffLoads(ctx context.Context, role domain.Role) ([]domain.StaffLoad, error)
}
