package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/marketplace/internal/core/domain"
)

// MemoryAdapter implements every repository in process. Carts are locked
// per user and accounts and stock records are locked per row; mu guards the
// maps themselves and the order/transaction tables.
type MemoryAdapter struct {
	mu           sync.RWMutex
	users        map[int64]memUser
	products     map[int64]int64
	shops        map[int64]domain.CityID
	records      map[int64]*memRecord
	accounts     map[int64]*memAccount
	carts        map[int64]*memCart
	transactions map[string]domain.TransactionRecord
	orders       map[string]domain.Order
	idempotency  map[string]time.Time
	idemTTL      time.Duration
	now          func() time.Time
}

type memUser struct {
	role domain.Role
	city domain.CityID
}

type memRecord struct {
	mu  sync.Mutex
	rec domain.InventoryRecord
}

type memAccount struct {
	mu  sync.Mutex
	acc domain.Account
}

type memCart struct {
	mu    sync.Mutex
	lines map[int64]int
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		users:        make(map[int64]memUser),
		products:     make(map[int64]int64),
		shops:        make(map[int64]domain.CityID),
		records:      make(map[int64]*memRecord),
		accounts:     make(map[int64]*memAccount),
		carts:        make(map[int64]*memCart),
		transactions: make(map[string]domain.TransactionRecord),
		orders:       make(map[string]domain.Order),
		idempotency:  make(map[string]time.Time),
		idemTTL:      idempotencyKeyTTL,
		now:          time.Now,
	}
}

func (m *MemoryAdapter) WithIdempotencyTTL(ttl time.Duration) *MemoryAdapter {
	if ttl > 0 {
		m.idemTTL = ttl
	}
	return m
}

// Seeding

func (m *MemoryAdapter) SeedUser(ctx context.Context, id int64, role domain.Role, city domain.CityID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = memUser{role: role, city: city}
	return nil
}

func (m *MemoryAdapter) SeedProduct(ctx context.Context, id int64, price int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[id] = price
	return nil
}

func (m *MemoryAdapter) SeedShop(ctx context.Context, id int64, city domain.CityID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shops[id] = city
	return nil
}

func (m *MemoryAdapter) SeedInventory(ctx context.Context, rec domain.InventoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.UpdatedAt = m.now()
	m.records[rec.ID] = &memRecord{rec: rec}
	return nil
}

// Catalog and directory

func (m *MemoryAdapter) ProductPrice(ctx context.Context, productID int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	price, ok := m.products[productID]
	if !ok {
		return 0, domain.Errorf(domain.KindNotFound, "product %d not found", productID)
	}
	return price, nil
}

func (m *MemoryAdapter) ProductExists(ctx context.Context, productID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.products[productID]
	return ok, nil
}

func (m *MemoryAdapter) UserCity(ctx context.Context, userID int64) (domain.CityID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok || u.city == 0 {
		return 0, domain.Errorf(domain.KindNotFound, "city of user %d not set", userID)
	}
	return u.city, nil
}

func (m *MemoryAdapter) UserRole(ctx context.Context, userID int64) (domain.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return 0, domain.Errorf(domain.KindNotFound, "user %d not found", userID)
	}
	return u.role, nil
}

// Accounts

func (m *MemoryAdapter) account(userID int64) (*memAccount, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[userID]
	return a, ok
}

func (m *MemoryAdapter) GetAccount(ctx context.Context, userID int64) (*domain.Account, error) {
	a, ok := m.account(userID)
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "account of user %d not found", userID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	acc := a.acc
	return &acc, nil
}

func (m *MemoryAdapter) CreateAccount(ctx context.Context, userID int64, balance int64) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[userID]; ok {
		return nil, domain.Errorf(domain.KindConcurrencyConflict, "account of user %d already exists", userID)
	}
	now := m.now()
	acc := domain.Account{UserID: userID, Balance: balance, CreatedAt: now, UpdatedAt: now}
	m.accounts[userID] = &memAccount{acc: acc}
	return &acc, nil
}

func (m *MemoryAdapter) Debit(ctx context.Context, userID int64, amount int64) (int64, error) {
	a, ok := m.account(userID)
	if !ok {
		return 0, domain.Errorf(domain.KindNotFound, "account of user %d not found", userID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return m.debitLocked(a, amount)
}

func (m *MemoryAdapter) debitLocked(a *memAccount, amount int64) (int64, error) {
	if a.acc.Balance < amount {
		return 0, domain.ErrInsufficientFunds
	}
	a.acc.Balance -= amount
	a.acc.Version++
	a.acc.UpdatedAt = m.now()
	return a.acc.Balance, nil
}

func (m *MemoryAdapter) Credit(ctx context.Context, userID int64, amount int64) (int64, error) {
	a, ok := m.account(userID)
	if !ok {
		return 0, domain.Errorf(domain.KindNotFound, "account of user %d not found", userID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acc.Balance += amount
	a.acc.Version++
	a.acc.UpdatedAt = m.now()
	return a.acc.Balance, nil
}

// Inventory

func (m *MemoryAdapter) ListCityRecords(ctx context.Context, city domain.CityID, productIDs []int64) ([]domain.InventoryRecord, error) {
	want := make(map[int64]bool, len(productIDs))
	for _, id := range productIDs {
		want[id] = true
	}

	m.mu.RLock()
	var held []*memRecord
	for _, r := range m.records {
		if m.shops[r.rec.ShopID] == city && want[r.rec.ProductID] {
			held = append(held, r)
		}
	}
	m.mu.RUnlock()

	out := make([]domain.InventoryRecord, 0, len(held))
	for _, r := range held {
		r.mu.Lock()
		out = append(out, r.rec)
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ShopID != out[j].ShopID {
			return out[i].ShopID < out[j].ShopID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryAdapter) GetRecord(ctx context.Context, id int64) (*domain.InventoryRecord, error) {
	m.mu.RLock()
	r, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "inventory record %d not found", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.rec
	return &rec, nil
}

func (m *MemoryAdapter) DecrementRecord(ctx context.Context, id int64, amount int) (bool, error) {
	m.mu.RLock()
	r, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return false, domain.Errorf(domain.KindNotFound, "inventory record %d not found", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return m.takeLocked(r, amount), nil
}

func (m *MemoryAdapter) takeLocked(r *memRecord, amount int) bool {
	if r.rec.Quantity < amount {
		return false
	}
	r.rec.Quantity -= amount
	r.rec.UpdatedAt = m.now()
	return true
}

// Carts

func (m *MemoryAdapter) cart(userID int64) *memCart {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[userID]
	if !ok {
		c = &memCart{lines: make(map[int64]int)}
		m.carts[userID] = c
	}
	return c
}

func (m *MemoryAdapter) UpsertLine(ctx context.Context, userID, productID int64, quantity int) error {
	c := m.cart(userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines[productID] = quantity
	return nil
}

func (m *MemoryAdapter) RemoveLine(ctx context.Context, userID, productID int64) error {
	c := m.cart(userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lines, productID)
	return nil
}

func (m *MemoryAdapter) Lines(ctx context.Context, userID int64) ([]domain.CartLine, error) {
	c := m.cart(userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return linesOf(c.lines), nil
}

func (m *MemoryAdapter) TakeLines(ctx context.Context, userID int64) ([]domain.CartLine, error) {
	c := m.cart(userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := linesOf(c.lines)
	c.lines = make(map[int64]int)
	return lines, nil
}

func (m *MemoryAdapter) RestoreLines(ctx context.Context, userID int64, lines []domain.CartLine) error {
	c := m.cart(userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range lines {
		if _, ok := c.lines[l.ProductID]; !ok {
			c.lines[l.ProductID] = l.Quantity
		}
	}
	return nil
}

func linesOf(m map[int64]int) []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(m))
	for id, q := range m {
		lines = append(lines, domain.CartLine{ProductID: id, Quantity: q})
	}
	return domain.SortLines(lines)
}

// Idempotency

func (m *MemoryAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if exp, ok := m.idempotency[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.idempotency[key] = now.Add(m.idemTTL)
	return true, nil
}

func (m *MemoryAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotency, key)
	return nil
}

// Orders

func (m *MemoryAdapter) CommitCheckout(ctx context.Context, tx domain.TransactionRecord, order domain.Order) error {
	a, ok := m.account(tx.UserID)
	if !ok {
		return domain.ErrNoPaymentMethod
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.transactions[tx.ID]; exists {
		return domain.Errorf(domain.KindConcurrencyConflict, "transaction %s already exists", tx.ID)
	}
	if _, err := m.debitLocked(a, tx.Snapshot.Total); err != nil {
		return err
	}
	m.transactions[tx.ID] = tx
	m.orders[order.ID] = order
	return nil
}

func (m *MemoryAdapter) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "order %s not found", id)
	}
	return &o, nil
}

func (m *MemoryAdapter) GetTransaction(ctx context.Context, id string) (*domain.TransactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.transactions[id]
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "transaction %s not found", id)
	}
	return &tx, nil
}

func (m *MemoryAdapter) UpdateOrder(ctx context.Context, next domain.Order, from domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[next.ID]
	if !ok {
		return domain.Errorf(domain.KindNotFound, "order %s not found", next.ID)
	}
	if cur.Status != from {
		return domain.ErrConcurrencyConflict
	}
	m.orders[next.ID] = next
	return nil
}

// CompleteOrder locks the record before mu.
func (m *MemoryAdapter) CompleteOrder(ctx context.Context, next domain.Order, from domain.OrderStatus, recordID int64, amount int) (bool, error) {
	m.mu.RLock()
	r, ok := m.records[recordID]
	m.mu.RUnlock()
	if !ok {
		return false, domain.Errorf(domain.KindNotFound, "inventory record %d not found", recordID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.orders[next.ID]
	if !ok {
		return false, domain.Errorf(domain.KindNotFound, "order %s not found", next.ID)
	}
	if cur.Status != from {
		return false, domain.ErrConcurrencyConflict
	}
	m.orders[next.ID] = next
	return m.takeLocked(r, amount), nil
}

func (m *MemoryAdapter) ListByAssignee(ctx context.Context, assigneeID int64) ([]domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.Order{}
	for _, o := range m.orders {
		if o.AssigneeID != nil && *o.AssigneeID == assigneeID {
			out = append(out, o)
		}
	}
	sortOrders(out)
	return out, nil
}

func (m *MemoryAdapter) ListByCustomer(ctx context.Context, userID int64) ([]domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.Order{}
	for _, o := range m.orders {
		if m.transactions[o.TransactionID].UserID == userID {
			out = append(out, o)
		}
	}
	sortOrders(out)
	return out, nil
}

func (m *MemoryAdapter) StaffLoads(ctx context.Context, role domain.Role) ([]domain.StaffLoad, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	active := make(map[int64]int)
	for _, o := range m.orders {
		if o.Status == domain.OrderStatusPending && o.AssigneeID != nil {
			active[*o.AssigneeID]++
		}
	}
	var loads []domain.StaffLoad
	for id, u := range m.users {
		if u.role == role {
			loads = append(loads, domain.StaffLoad{UserID: id, Active: active[id]})
		}
	}
	sort.Slice(loads, func(i, j int) bool {
		if loads[i].Active != loads[j].Active {
			return loads[i].Active < loads[j].Active
		}
		return loads[i].UserID < loads[j].UserID
	})
	return loads, nil
}

func sortOrders(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}
