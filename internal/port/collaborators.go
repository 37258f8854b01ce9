package port

import (
	"context"

	"github.com/rl1809/marketplace/internal/core/domain"
)

// Catalog is owned by the product service.
type Catalog interface {
	// ProductPrice returns domain.ErrNotFound for unknown products
	ProductPrice(ctx context.Context, productID int64) (int64, error)

	ProductExists(ctx context.Context, productID int64) (bool, error)
}

// Directory is owned by the identity service.
type Directory interface {
	// UserCity returns domain.ErrNotFound when the user or their city is unknown
	UserCity(ctx context.Context, userID int64) (domain.CityID, error)

	UserRole(ctx context.Context, userID int64) (domain.Role, error)
}

// Seeder loads reference data owned by the catalog and identity services.
// Used by tooling and tests only.
type Seeder interface {
	SeedUser(ctx context.Context, id int64, role domain.Role, city domain.CityID) error
	SeedProduct(ctx context.Context, id int64, price int64) error
	SeedShop(ctx context.Context, id int64, city domain.CityID) error
	SeedInventory(ctx context.Context, rec domain.InventoryRecord) error
}
