package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/marketplace/internal/core/domain"
)

//go:embed schema.sql
var schemaSQL string

const mysqlDuplicateEntry = 1062

type MySQLAdapter struct {
	db  *sql.DB
	now func() time.Time
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db, now: time.Now}
}

// Migrate creates missing tables.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

// Accounts

func (m *MySQLAdapter) GetAccount(ctx context.Context, userID int64) (*domain.Account, error) {
	var acc domain.Account
	err := m.db.QueryRowContext(ctx, `
		SELECT user_id, balance, version, created_at, updated_at
		FROM accounts WHERE user_id = ?`, userID,
	).Scan(&acc.UserID, &acc.Balance, &acc.Version, &acc.CreatedAt, &acc.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Errorf(domain.KindNotFound, "account of user %d not found", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return &acc, nil
}

func (m *MySQLAdapter) CreateAccount(ctx context.Context, userID int64, balance int64) (*domain.Account, error) {
	now := m.now().UTC()
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, balance, version, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?)`,
		userID, balance, now, now,
	)
	if isDuplicate(err) {
		return nil, domain.Errorf(domain.KindConcurrencyConflict, "account of user %d already exists", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return &domain.Account{UserID: userID, Balance: balance, CreatedAt: now, UpdatedAt: now}, nil
}

func (m *MySQLAdapter) Debit(ctx context.Context, userID int64, amount int64) (int64, error) {
	return m.adjust(ctx, userID, -amount)
}

func (m *MySQLAdapter) Credit(ctx context.Context, userID int64, amount int64) (int64, error) {
	return m.adjust(ctx, userID, amount)
}

func (m *MySQLAdapter) adjust(ctx context.Context, userID int64, delta int64) (int64, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := m.adjustTx(ctx, tx, userID, delta, domain.ErrNotFound); err != nil {
		return 0, err
	}

	var balance int64
	if err := tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return balance, nil
}

// adjustTx changes the balance by delta in one conditional statement so
// that concurrent debits cannot both pass the balance check. missing is
// returned when the account does not exist.
func (m *MySQLAdapter) adjustTx(ctx context.Context, tx *sql.Tx, userID, delta int64, missing error) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance + ?, version = version + 1, updated_at = ?
		WHERE user_id = ? AND balance + ? >= 0`,
		delta, m.now().UTC(), userID, delta,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 1 {
		return nil
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE user_id = ?)`, userID).Scan(&exists); err != nil {
		return fmt.Errorf("check account: %w", err)
	}
	if !exists {
		return missing
	}
	return domain.ErrInsufficientFunds
}

// Inventory

func (m *MySQLAdapter) ListCityRecords(ctx context.Context, city domain.CityID, productIDs []int64) ([]domain.InventoryRecord, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	args := make([]interface{}, 0, len(productIDs)+1)
	args = append(args, int64(city))
	for _, id := range productIDs {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(productIDs)), ",")

	rows, err := m.db.QueryContext(ctx, `
		SELECT i.id, i.shop_id, i.product_id, i.quantity, i.updated_at
		FROM inventory i JOIN shops s ON s.id = i.shop_id
		WHERE s.city_id = ? AND i.product_id IN (`+placeholders+`)
		ORDER BY i.shop_id, i.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query city inventory: %w", err)
	}
	defer rows.Close()

	var records []domain.InventoryRecord
	for rows.Next() {
		var r domain.InventoryRecord
		if err := rows.Scan(&r.ID, &r.ShopID, &r.ProductID, &r.Quantity, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (m *MySQLAdapter) GetRecord(ctx context.Context, id int64) (*domain.InventoryRecord, error) {
	var r domain.InventoryRecord
	err := m.db.QueryRowContext(ctx, `
		SELECT id, shop_id, product_id, quantity, updated_at
		FROM inventory WHERE id = ?`, id,
	).Scan(&r.ID, &r.ShopID, &r.ProductID, &r.Quantity, &r.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Errorf(domain.KindNotFound, "inventory record %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	return &r, nil
}

const decrementRecordSQL = `
	UPDATE inventory
	SET quantity = quantity - ?, version = version + 1, updated_at = ?
	WHERE id = ? AND quantity >= ?`

func (m *MySQLAdapter) DecrementRecord(ctx context.Context, id int64, amount int) (bool, error) {
	result, err := m.db.ExecContext(ctx, decrementRecordSQL, amount, m.now().UTC(), id, amount)
	if err != nil {
		return false, fmt.Errorf("update inventory: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 1 {
		return true, nil
	}
	if _, err := m.GetRecord(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// Orders

func (m *MySQLAdapter) CommitCheckout(ctx context.Context, txRec domain.TransactionRecord, order domain.Order) error {
	snapshot, err := json.Marshal(txRec.Snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, snapshot, total, inventory_record_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		txRec.ID, txRec.UserID, snapshot, txRec.Snapshot.Total, txRec.InventoryRecordID, txRec.CreatedAt,
	)
	if isDuplicate(err) {
		return domain.Errorf(domain.KindConcurrencyConflict, "transaction %s already exists", txRec.ID)
	}
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	if err := m.adjustTx(ctx, tx, txRec.UserID, -txRec.Snapshot.Total, domain.ErrNoPaymentMethod); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, transaction_id, status, assignee_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		order.ID, order.TransactionID, order.Status, nullableID(order.AssigneeID), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	return tx.Commit()
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o        domain.Order
		status   string
		assignee sql.NullInt64
	)
	if err := row.Scan(&o.ID, &o.TransactionID, &status, &assignee, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return o, err
	}
	st, ok := domain.ParseOrderStatus(status)
	if !ok {
		return o, fmt.Errorf("order %s has unknown status %q", o.ID, status)
	}
	o.Status = st
	if assignee.Valid {
		id := assignee.Int64
		o.AssigneeID = &id
	}
	return o, nil
}

const orderColumns = `o.id, o.transaction_id, o.status, o.assignee_id, o.created_at, o.updated_at`

func (m *MySQLAdapter) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(m.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders o WHERE o.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Errorf(domain.KindNotFound, "order %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return &o, nil
}

func (m *MySQLAdapter) GetTransaction(ctx context.Context, id string) (*domain.TransactionRecord, error) {
	var (
		t        domain.TransactionRecord
		snapshot []byte
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, user_id, snapshot, inventory_record_id, created_at
		FROM transactions WHERE id = ?`, id,
	).Scan(&t.ID, &t.UserID, &snapshot, &t.InventoryRecordID, &t.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Errorf(domain.KindNotFound, "transaction %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query transaction: %w", err)
	}
	if err := json.Unmarshal(snapshot, &t.Snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &t, nil
}

const updateOrderSQL = `
	UPDATE orders
	SET status = ?, assignee_id = ?, updated_at = ?
	WHERE id = ? AND status = ?`

func (m *MySQLAdapter) UpdateOrder(ctx context.Context, next domain.Order, from domain.OrderStatus) error {
	result, err := m.db.ExecContext(ctx, updateOrderSQL,
		next.Status, nullableID(next.AssigneeID), next.UpdatedAt, next.ID, from,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 1 {
		return nil
	}
	return m.orderConflict(ctx, next.ID)
}

// orderConflict tells a missing order apart from a lost status race.
func (m *MySQLAdapter) orderConflict(ctx context.Context, id string) error {
	if _, err := m.GetOrder(ctx, id); err != nil {
		return err
	}
	return domain.ErrConcurrencyConflict
}

func (m *MySQLAdapter) CompleteOrder(ctx context.Context, next domain.Order, from domain.OrderStatus, recordID int64, amount int) (bool, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, updateOrderSQL,
		next.Status, nullableID(next.AssigneeID), next.UpdatedAt, next.ID, from,
	)
	if err != nil {
		return false, fmt.Errorf("update order: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows != 1 {
		return false, m.orderConflict(ctx, next.ID)
	}

	result, err = tx.ExecContext(ctx, decrementRecordSQL, amount, m.now().UTC(), recordID, amount)
	if err != nil {
		return false, fmt.Errorf("update inventory: %w", err)
	}
	rows, _ := result.RowsAffected()
	decremented := rows == 1
	if !decremented {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM inventory WHERE id = ?)`, recordID).Scan(&exists); err != nil {
			return false, fmt.Errorf("query inventory: %w", err)
		}
		if !exists {
			return false, domain.Errorf(domain.KindNotFound, "inventory record %d not found", recordID)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit completion: %w", err)
	}
	return decremented, nil
}

func (m *MySQLAdapter) listOrders(ctx context.Context, query string, arg interface{}) ([]domain.Order, error) {
	rows, err := m.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (m *MySQLAdapter) ListByAssignee(ctx context.Context, assigneeID int64) ([]domain.Order, error) {
	return m.listOrders(ctx, `
		SELECT `+orderColumns+` FROM orders o
		WHERE o.assignee_id = ?
		ORDER BY o.created_at, o.id`, assigneeID)
}

func (m *MySQLAdapter) ListByCustomer(ctx context.Context, userID int64) ([]domain.Order, error) {
	return m.listOrders(ctx, `
		SELECT `+orderColumns+` FROM orders o
		JOIN transactions t ON t.id = o.transaction_id
		WHERE t.user_id = ?
		ORDER BY o.created_at, o.id`, userID)
}

func (m *MySQLAdapter) StaffLoads(ctx context.Context, role domain.Role) ([]domain.StaffLoad, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT u.id, COUNT(o.id) AS active
		FROM users u
		LEFT JOIN orders o ON o.assignee_id = u.id AND o.status = ?
		WHERE u.role = ?
		GROUP BY u.id
		ORDER BY active, u.id`,
		domain.OrderStatusPending, role.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query staff loads: %w", err)
	}
	defer rows.Close()

	var loads []domain.StaffLoad
	for rows.Next() {
		var l domain.StaffLoad
		if err := rows.Scan(&l.UserID, &l.Active); err != nil {
			return nil, fmt.Errorf("scan staff load: %w", err)
		}
		loads = append(loads, l)
	}
	return loads, rows.Err()
}

// Catalog and directory

func (m *MySQLAdapter) ProductPrice(ctx context.Context, productID int64) (int64, error) {
	var price int64
	err := m.db.QueryRowContext(ctx, `SELECT current_price FROM products WHERE id = ?`, productID).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.Errorf(domain.KindNotFound, "product %d not found", productID)
	}
	if err != nil {
		return 0, fmt.Errorf("query product: %w", err)
	}
	return price, nil
}

func (m *MySQLAdapter) ProductExists(ctx context.Context, productID int64) (bool, error) {
	var exists bool
	err := m.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = ?)`, productID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query product: %w", err)
	}
	return exists, nil
}

func (m *MySQLAdapter) UserCity(ctx context.Context, userID int64) (domain.CityID, error) {
	var city sql.NullInt64
	err := m.db.QueryRowContext(ctx, `SELECT city_id FROM users WHERE id = ?`, userID).Scan(&city)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !city.Valid) {
		return 0, domain.Errorf(domain.KindNotFound, "city of user %d not set", userID)
	}
	if err != nil {
		return 0, fmt.Errorf("query user city: %w", err)
	}
	return domain.CityID(city.Int64), nil
}

func (m *MySQLAdapter) UserRole(ctx context.Context, userID int64) (domain.Role, error) {
	var role string
	err := m.db.QueryRowContext(ctx, `SELECT role FROM users WHERE id = ?`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.Errorf(domain.KindNotFound, "user %d not found", userID)
	}
	if err != nil {
		return 0, fmt.Errorf("query user role: %w", err)
	}
	return domain.ParseRole(role)
}

// Seeding

func (m *MySQLAdapter) SeedUser(ctx context.Context, id int64, role domain.Role, city domain.CityID) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO users (id, role, city_id) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE role = VALUES(role), city_id = VALUES(city_id)`,
		id, role.String(), nullableID(cityPtr(city)),
	)
	return err
}

func cityPtr(city domain.CityID) *int64 {
	if city == 0 {
		return nil
	}
	id := int64(city)
	return &id
}

func (m *MySQLAdapter) SeedProduct(ctx context.Context, id int64, price int64) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO products (id, current_price) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE current_price = VALUES(current_price)`, id, price)
	return err
}

func (m *MySQLAdapter) SeedShop(ctx context.Context, id int64, city domain.CityID) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO shops (id, city_id) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE city_id = VALUES(city_id)`, id, nullableID(cityPtr(city)))
	return err
}

func (m *MySQLAdapter) SeedInventory(ctx context.Context, rec domain.InventoryRecord) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO inventory (id, shop_id, product_id, quantity, version, updated_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON DUPLICATE KEY UPDATE quantity = VALUES(quantity), version = 0`,
		rec.ID, rec.ShopID, rec.ProductID, rec.Quantity, m.now().UTC())
	return err
}
