package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"billmitra/backend/internal/domain"
	"billmitra/backend/internal/store"
)

// Store persists each bill record as a JSONB document alongside its indexed
// identifier columns, mirroring the document-per-record shape the frontend
// reads and writes.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func scanBill(doc []byte, createdAt time.Time, updatedAt time.Time) (*domain.Bill, error) {
	var bill domain.Bill
	if err := json.Unmarshal(doc, &bill); err != nil {
		return nil, err
	}
	bill.CreatedAt = createdAt.UTC()
	bill.UpdatedAt = updatedAt.UTC()
	return &bill, nil
}

func scanReturn(doc []byte, createdAt time.Time, updatedAt time.Time) (*domain.ReturnBill, error) {
	var ret domain.ReturnBill
	if err := json.Unmarshal(doc, &ret); err != nil {
		return nil, err
	}
	ret.CreatedAt = createdAt.UTC()
	ret.UpdatedAt = updatedAt.UTC()
	return &ret, nil
}

func scanUpdated(doc []byte, createdAt time.Time, updatedAt time.Time) (*domain.UpdatedBill, error) {
	var updated domain.UpdatedBill
	if err := json.Unmarshal(doc, &updated); err != nil {
		return nil, err
	}
	updated.CreatedAt = createdAt.UTC()
	updated.UpdatedAt = updatedAt.UTC()
	return &updated, nil
}

func (s *Store) queryBills(ctx context.Context, query string, args ...any) ([]domain.Bill, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, 16)
	for rows.Next() {
		var doc []byte
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&doc, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		bill, err := scanBill(doc, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		bills = append(bills, *bill)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bills, nil
}

func (s *Store) ListRecentBills(ctx context.Context, limit int) ([]domain.Bill, error) {
	if limit < 1 {
		limit = 6
	}
	return s.queryBills(ctx, `
		SELECT doc, created_at, updated_at
		FROM bills
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
}

func (s *Store) ListBills(ctx context.Context) ([]domain.Bill, error) {
	return s.queryBills(ctx, `
		SELECT doc, created_at, updated_at
		FROM bills
		ORDER BY created_at DESC
	`)
}

func (s *Store) FindBillByNo(ctx context.Context, billNo string) (*domain.Bill, error) {
	var doc []byte
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT doc, created_at, updated_at
		FROM bills
		WHERE bill_no = $1
	`, billNo).Scan(&doc, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return scanBill(doc, createdAt, updatedAt)
}

func (s *Store) FindBillByAnyNo(ctx context.Context, raw string, formatted string) (*domain.Bill, error) {
	var doc []byte
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT doc, created_at, updated_at
		FROM bills
		WHERE bill_no = $1 OR bill_no = $2
		LIMIT 1
	`, raw, formatted).Scan(&doc, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return scanBill(doc, createdAt, updatedAt)
}

func (s *Store) FindLatestBill(ctx context.Context) (*domain.Bill, error) {
	var doc []byte
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT doc, created_at, updated_at
		FROM bills
		ORDER BY created_at DESC
		LIMIT 1
	`).Scan(&doc, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return scanBill(doc, createdAt, updatedAt)
}

func (s *Store) CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	if bill.BillNo == "" {
		return nil, store.ErrInvalidBill
	}

	doc, err := json.Marshal(bill)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bills (bill_no, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
	`, bill.BillNo, doc, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateBill
		}
		return nil, err
	}

	bill.CreatedAt = now
	bill.UpdatedAt = now
	created := bill
	return &created, nil
}

func (s *Store) UpdateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	if bill.BillNo == "" {
		return nil, store.ErrInvalidBill
	}

	doc, err := json.Marshal(bill)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE bills
		SET doc = $2, updated_at = now()
		WHERE bill_no = $1
	`, bill.BillNo, doc)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	bill.UpdatedAt = time.Now().UTC()
	updated := bill
	return &updated, nil
}

func (s *Store) DeleteBill(ctx context.Context, billNo string) (*domain.Bill, error) {
	var doc []byte
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM bills
		WHERE bill_no = $1
		RETURNING doc, created_at, updated_at
	`, billNo).Scan(&doc, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return scanBill(doc, createdAt, updatedAt)
}

func (s *Store) CountBills(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM bills`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) queryReturns(ctx context.Context, query string, args ...any) ([]domain.ReturnBill, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	returns := make([]domain.ReturnBill, 0, 16)
	for rows.Next() {
		var doc []byte
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&doc, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		ret, err := scanReturn(doc, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		returns = append(returns, *ret)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return returns, nil
}

func (s *Store) ListRecentReturns(ctx context.Context, limit int) ([]domain.ReturnBill, error) {
	if limit < 1 {
		limit = 6
	}
	return s.queryReturns(ctx, `
		SELECT doc, created_at, updated_at
		FROM return_bills
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
}

func (s *Store) ListReturns(ctx context.Context) ([]domain.ReturnBill, error) {
	return s.queryReturns(ctx, `
		SELECT doc, created_at, updated_at
		FROM return_bills
		ORDER BY created_at DESC
	`)
}

func (s *Store) FindReturnByID(ctx context.Context, returnID string) (*domain.ReturnBill, error) {
	var doc []byte
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT doc, created_at, updated_at
		FROM return_bills
		WHERE return_id = $1
	`, returnID).Scan(&doc, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return scanReturn(doc, createdAt, updatedAt)
}

func (s *Store) FindReturnByOriginal(ctx context.Context, raw string, formatted string) (*domain.ReturnBill, error) {
	var doc []byte
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT doc, created_at, updated_at
		FROM return_bills
		WHERE original_bill_no = $1 OR original_bill_no = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, raw, formatted).Scan(&doc, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return scanReturn(doc, createdAt, updatedAt)
}

func (s *Store) CreateReturn(ctx context.Context, ret domain.ReturnBill) (*domain.ReturnBill, error) {
	if ret.ReturnID == "" || ret.OriginalBillNo == "" {
		return nil, store.ErrInvalidBill
	}

	doc, err := json.Marshal(ret)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO return_bills (return_id, original_bill_no, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, ret.ReturnID, ret.OriginalBillNo, doc, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateBill
		}
		return nil, err
	}

	ret.CreatedAt = now
	ret.UpdatedAt = now
	created := ret
	return &created, nil
}

func (s *Store) UpdateReturn(ctx context.Context, ret domain.ReturnBill) (*domain.ReturnBill, error) {
	if ret.ReturnID == "" {
		return nil, store.ErrInvalidBill
	}

	doc, err := json.Marshal(ret)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE return_bills
		SET doc = $2, original_bill_no = $3, updated_at = now()
		WHERE return_id = $1
	`, ret.ReturnID, doc, ret.OriginalBillNo)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	ret.UpdatedAt = time.Now().UTC()
	updated := ret
	return &updated, nil
}

func (s *Store) DeleteReturn(ctx context.Context, returnID string) (*domain.ReturnBill, error) {
	var doc []byte
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM return_bills
		WHERE return_id = $1
		RETURNING doc, created_at, updated_at
	`, returnID).Scan(&doc, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return scanReturn(doc, createdAt, updatedAt)
}

func (s *Store) queryUpdated(ctx context.Context, query string, args ...any) ([]domain.UpdatedBill, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	updated := make([]domain.UpdatedBill, 0, 16)
	for rows.Next() {
		var doc []byte
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&doc, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		u, err := scanUpdated(doc, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		updated = append(updated, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) ListRecentUpdatedBills(ctx context.Context, limit int) ([]domain.UpdatedBill, error) {
	if limit < 1 {
		limit = 6
	}
	return s.queryUpdated(ctx, `
		SELECT doc, created_at, updated_at
		FROM updated_bills
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
}

func (s *Store) ListUpdatedBills(ctx context.Context) ([]domain.UpdatedBill, error) {
	return s.queryUpdated(ctx, `
		SELECT doc, created_at, updated_at
		FROM updated_bills
		ORDER BY created_at DESC
	`)
}

func (s *Store) UpsertUpdatedBill(ctx context.Context, updated domain.UpdatedBill) (*domain.UpdatedBill, error) {
	if updated.OriginalBillNo == "" || updated.UpdatedBillID == "" {
		return nil, store.ErrInvalidBill
	}

	doc, err := json.Marshal(updated)
	if err != nil {
		return nil, err
	}

	var createdAt, updatedAt time.Time
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO updated_bills (original_bill_no, updated_bill_id, doc, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (original_bill_no)
		DO UPDATE SET updated_bill_id = EXCLUDED.updated_bill_id, doc = EXCLUDED.doc, updated_at = now()
		RETURNING created_at, updated_at
	`, updated.OriginalBillNo, updated.UpdatedBillID, doc).Scan(&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	updated.CreatedAt = createdAt.UTC()
	updated.UpdatedAt = updatedAt.UTC()
	saved := updated
	return &saved, nil
}

func (s *Store) DeleteUpdatedBillByOriginal(ctx context.Context, originalBillNo string) (*domain.UpdatedBill, error) {
	var doc []byte
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM updated_bills
		WHERE original_bill_no = $1
		RETURNING doc, created_at, updated_at
	`, originalBillNo).Scan(&doc, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return scanUpdated(doc, createdAt, updatedAt)
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc
		FROM products
		ORDER BY category
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 16)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var product domain.Product
		if err := json.Unmarshal(doc, &product); err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Category == "" {
		return nil, store.ErrInvalidBill
	}

	doc, err := json.Marshal(product)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (category, doc, created_at, updated_at)
		VALUES ($1, $2, now(), now())
	`, product.Category, doc)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateBill
		}
		return nil, err
	}

	created := product
	return &created, nil
}

// UpdateItemPrice rewrites one item's price inside the category document.
// Read-modify-write under FOR UPDATE keeps concurrent bulk updates from
// clobbering each other.
func (s *Store) UpdateItemPrice(ctx context.Context, entry domain.PriceUpdateEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var doc []byte
	err = tx.QueryRowContext(ctx, `
		SELECT doc
		FROM products
		WHERE category = $1
		FOR UPDATE
	`, entry.Category).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}

	var product domain.Product
	if err := json.Unmarshal(doc, &product); err != nil {
		return err
	}

	found := false
	for i := range product.Items {
		if product.Items[i].Name == entry.Desc {
			product.Items[i].Price = entry.Rate
			found = true
			break
		}
	}
	if !found {
		return store.ErrNotFound
	}

	updatedDoc, err := json.Marshal(product)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE products
		SET doc = $2, updated_at = now()
		WHERE category = $1
	`, entry.Category, updatedDoc); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" {
		return store.ErrInvalidBill
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicateBill
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
