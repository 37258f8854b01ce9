package port

import (
	"context"

	"github.com/rl1809/marketplace/internal/core/domain"
)

type CartRepository interface {
	// UpsertLine sets the quantity for a product, replacing any prior quantity
	UpsertLine(ctx context.Context, userID, productID int64, quantity int) error

	// RemoveLine deletes the line for a product, no-op if absent
	RemoveLine(ctx context.Context, userID, productID int64) error

	// Lines returns the current lines; an unknown user has an empty cart
	Lines(ctx context.Context, userID int64) ([]domain.CartLine, error)

	// TakeLines atomically returns all lines and empties the cart
	TakeLines(ctx context.Context, userID int64) ([]domain.CartLine, error)

	// RestoreLines puts lines back, keeping any line added since they were taken
	RestoreLines(ctx context.Context, userID int64, lines []domain.CartLine) error
}

type IdempotencyRepository interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency removes the key so the request may be retried
	ReleaseIdempotency(ctx context.Context, key string) error
}
