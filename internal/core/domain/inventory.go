package domain

import "time"

// InventoryRecord is the quantity on hand of one product at one shop.
type InventoryRecord struct {
	ID        int64     `json:"id"`
	ShopID    int64     `json:"shop_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FulfillmentPolicy decides how much stock a completed order consumes.
type FulfillmentPolicy int

const (
	// FulfillOneUnit consumes a single unit per completed order.
	FulfillOneUnit FulfillmentPolicy = iota
	// FulfillPurchasedQuantity consumes the purchased quantity of the
	// backing record's product.
	FulfillPurchasedQuantity
)

func (p FulfillmentPolicy) String() string {
	switch p {
	case FulfillPurchasedQuantity:
		return "quantity"
	default:
		return "unit"
	}
}

// DecrementFor returns the units to take from the backing record when an
// order built from snapshot s completes.
func (p FulfillmentPolicy) DecrementFor(s CartSnapshot, productID int64) int {
	switch p {
	case FulfillPurchasedQuantity:
		for _, l := range s.Lines {
			if l.ProductID == productID {
				return l.Quantity
			}
		}
		return 1
	default:
		return 1
	}
}
