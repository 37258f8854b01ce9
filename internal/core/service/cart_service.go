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

type CartService struct {
	carts     port.CartRepository
	catalog   port.Catalog
	accounts  port.AccountRepository
	directory port.Directory
	inventory *InventoryService
	logger    *zap.Logger
	now       func() time.Time
}

func NewCartService(
	carts port.CartRepository,
	catalog port.Catalog,
	accounts port.AccountRepository,
	directory port.Directory,
	inventory *InventoryService,
	logger *zap.Logger,
) *CartService {
	return &CartService{
		carts:     carts,
		catalog:   catalog,
		accounts:  accounts,
		directory: directory,
		inventory: inventory,
		logger:    logger,
		now:       time.Now,
	}
}

// AddOrUpdate sets the quantity of productID in the user's cart. Adding a
// product already in the cart overwrites its quantity.
func (s *CartService) AddOrUpdate(ctx context.Context, userID, productID int64, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	if err := s.requireProduct(ctx, productID); err != nil {
		return err
	}
	if err := s.carts.UpsertLine(ctx, userID, productID, quantity); err != nil {
		return fmt.Errorf("upsert cart line: %w", err)
	}
	s.logger.Debug("cart line set", zap.Int64("user_id", userID), zap.Int64("product_id", productID), zap.Int("quantity", quantity))
	return nil
}

// Remove drops productID from the cart. Removing a product that is not in
// the cart is not an error; removing an unknown product is.
func (s *CartService) Remove(ctx context.Context, userID, productID int64) error {
	if err := s.requireProduct(ctx, productID); err != nil {
		return err
	}
	if err := s.carts.RemoveLine(ctx, userID, productID); err != nil {
		return fmt.Errorf("remove cart line: %w", err)
	}
	return nil
}

func (s *CartService) requireProduct(ctx context.Context, productID int64) error {
	ok, err := s.catalog.ProductExists(ctx, productID)
	if err != nil {
		return fmt.Errorf("product lookup: %w", err)
	}
	if !ok {
		return domain.Errorf(domain.KindNotFound, "product %d not found", productID)
	}
	return nil
}

// View returns the cart priced at current catalog prices.
func (s *CartService) View(ctx context.Context, userID int64) (domain.Cart, error) {
	lines, err := s.carts.Lines(ctx, userID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("load cart: %w", err)
	}
	priced, total, err := s.price(ctx, lines)
	if err != nil {
		return domain.Cart{}, err
	}
	return domain.Cart{UserID: userID, Lines: priced, Total: total}, nil
}

// Total is the sum of quantity times current price over all lines.
func (s *CartService) Total(ctx context.Context, userID int64) (int64, error) {
	cart, err := s.View(ctx, userID)
	if err != nil {
		return 0, err
	}
	return cart.Total, nil
}

func (s *CartService) price(ctx context.Context, lines []domain.CartLine) ([]domain.PricedLine, int64, error) {
	domain.SortLines(lines)
	priced := make([]domain.PricedLine, 0, len(lines))
	var total int64
	for _, l := range lines {
		price, err := s.catalog.ProductPrice(ctx, l.ProductID)
		if err != nil {
			return nil, 0, fmt.Errorf("price product %d: %w", l.ProductID, err)
		}
		sub := price * int64(l.Quantity)
		priced = append(priced, domain.PricedLine{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: price,
			Subtotal:  sub,
		})
		total += sub
	}
	return priced, total, nil
}

// CheckBalance reports whether the user's account covers the cart total.
func (s *CartService) CheckBalance(ctx context.Context, userID int64) (bool, error) {
	acc, err := s.paymentAccount(ctx, userID)
	if err != nil {
		return false, err
	}
	total, err := s.Total(ctx, userID)
	if err != nil {
		return false, err
	}
	return acc.Balance >= total, nil
}

func (s *CartService) paymentAccount(ctx context.Context, userID int64) (*domain.Account, error) {
	acc, err := s.accounts.GetAccount(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNoPaymentMethod
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return acc, nil
}

// CheckAvailability finds the stock record that can fulfill the whole cart
// in the user's current city.
func (s *CartService) CheckAvailability(ctx context.Context, userID int64) (domain.InventoryRecord, error) {
	lines, err := s.carts.Lines(ctx, userID)
	if err != nil {
		return domain.InventoryRecord{}, fmt.Errorf("load cart: %w", err)
	}
	return s.availabilityFor(ctx, userID, lines)
}

func (s *CartService) availabilityFor(ctx context.Context, userID int64, lines []domain.CartLine) (domain.InventoryRecord, error) {
	city, err := s.directory.UserCity(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.InventoryRecord{}, domain.NewError(domain.KindNotFound, "set your city before checkout")
		}
		return domain.InventoryRecord{}, fmt.Errorf("user city: %w", err)
	}
	return s.inventory.FindFulfillingRecord(ctx, city, lines)
}

// SnapshotAndClear freezes the cart at current prices and empties it in one
// atomic step. If pricing fails the lines are put back.
func (s *CartService) SnapshotAndClear(ctx context.Context, userID int64) (domain.CartSnapshot, error) {
	lines, err := s.carts.TakeLines(ctx, userID)
	if err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("take cart lines: %w", err)
	}
	priced, total, err := s.price(ctx, lines)
	if err != nil {
		if rerr := s.carts.RestoreLines(ctx, userID, lines); rerr != nil {
			s.logger.Error("restore cart after pricing failure", zap.Int64("user_id", userID), zap.Any("lines", lines), zap.Error(rerr))
		}
		return domain.CartSnapshot{}, err
	}
	return domain.CartSnapshot{Lines: priced, Total: total, CapturedAt: s.now().UTC()}, nil
}

// Restore returns snapshot lines to the cart. Lines added since the
// snapshot are kept.
func (s *CartService) Restore(ctx context.Context, userID int64, snapshot domain.CartSnapshot) error {
	return s.carts.RestoreLines(ctx, userID, snapshot.PlainLines())
}
