package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/port"
)

type InventoryService struct {
	inventory port.InventoryRepository
	logger    *zap.Logger
}

func NewInventoryService(inventory port.InventoryRepository, logger *zap.Logger) *InventoryService {
	return &InventoryService{inventory: inventory, logger: logger}
}

// FindFulfillingRecord returns a stock record at the first shop in city,
// in shop ID order, that holds enough of every line. The returned record is
// the winning shop's record for the lowest product ID among lines.
func (s *InventoryService) FindFulfillingRecord(ctx context.Context, city domain.CityID, lines []domain.CartLine) (domain.InventoryRecord, error) {
	if len(lines) == 0 {
		return domain.InventoryRecord{}, domain.ErrEmptyCart
	}
	sorted := domain.SortLines(append([]domain.CartLine(nil), lines...))

	productIDs := make([]int64, len(sorted))
	for i, l := range sorted {
		productIDs[i] = l.ProductID
	}

	records, err := s.inventory.ListCityRecords(ctx, city, productIDs)
	if err != nil {
		return domain.InventoryRecord{}, fmt.Errorf("list city records: %w", err)
	}

	var shops []int64
	byShop := make(map[int64][]domain.InventoryRecord)
	for _, r := range records {
		if _, seen := byShop[r.ShopID]; !seen {
			shops = append(shops, r.ShopID)
		}
		byShop[r.ShopID] = append(byShop[r.ShopID], r)
	}

	for _, shop := range shops {
		if rec, ok := satisfies(byShop[shop], sorted); ok {
			return rec, nil
		}
	}

	s.logger.Debug("no fulfilling shop", zap.Int64("city_id", int64(city)), zap.Int("shops", len(shops)), zap.Int("lines", len(sorted)))
	return domain.InventoryRecord{}, domain.Errorf(domain.KindUnavailable, "no shop in your city has all products in stock")
}

// satisfies checks one shop's records against every line and returns the
// record backing the first line.
func satisfies(records []domain.InventoryRecord, lines []domain.CartLine) (domain.InventoryRecord, bool) {
	var first domain.InventoryRecord
	for i, l := range lines {
		found := false
		for _, r := range records {
			if r.ProductID == l.ProductID && r.Quantity >= l.Quantity {
				if i == 0 {
					first = r
				}
				found = true
				break
			}
		}
		if !found {
			return domain.InventoryRecord{}, false
		}
	}
	return first, true
}

func (s *InventoryService) Record(ctx context.Context, id int64) (*domain.InventoryRecord, error) {
	return s.inventory.GetRecord(ctx, id)
}

// Decrement takes amount units from the record in one atomic step. It fails
// with ErrUnavailable, applying nothing, when stock would go negative.
func (s *InventoryService) Decrement(ctx context.Context, recordID int64, amount int) error {
	if amount <= 0 {
		return domain.ErrInvalidQuantity
	}
	ok, err := s.inventory.DecrementRecord(ctx, recordID, amount)
	if err != nil {
		return fmt.Errorf("decrement record: %w", err)
	}
	if !ok {
		return domain.Errorf(domain.KindUnavailable, "stock record %d has fewer than %d units", recordID, amount)
	}
	return nil
}
