package domain

import (
	"sort"
	"time"
)

type CartLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// Cart is the priced view of a user's lines. Total is derived on every read
// and never persisted.
type Cart struct {
	UserID int64        `json:"user_id"`
	Lines  []PricedLine `json:"lines"`
	Total  int64        `json:"total"`
}

type PricedLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
	Subtotal  int64 `json:"subtotal"`
}

// CartSnapshot is the frozen copy of a cart taken at checkout.
type CartSnapshot struct {
	Lines      []PricedLine `json:"lines"`
	Total      int64        `json:"total"`
	CapturedAt time.Time    `json:"captured_at"`
}

// PlainLines strips prices from the snapshot.
func (s CartSnapshot) PlainLines() []CartLine {
	lines := make([]CartLine, len(s.Lines))
	for i, l := range s.Lines {
		lines[i] = CartLine{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	return lines
}

// SortLines orders lines by product ID in place and returns them.
func SortLines(lines []CartLine) []CartLine {
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines
}

// SameLines compares two line sets irrespective of order.
func SameLines(a, b []CartLine) bool {
	if len(a) != len(b) {
		return false
	}
	want := make(map[int64]int, len(a))
	for _, l := range a {
		want[l.ProductID] = l.Quantity
	}
	for _, l := range b {
		q, ok := want[l.ProductID]
		if !ok || q != l.Quantity {
			return false
		}
	}
	return true
}
