package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"billmitra/backend/internal/domain"
	"billmitra/backend/internal/store"
)

type Store struct {
	mu              sync.RWMutex
	billsByNo       map[string]domain.Bill
	returnsByID     map[string]domain.ReturnBill
	updatedByBillNo map[string]domain.UpdatedBill
	productsByCat   map[string]domain.Product
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. These are never used
// in production (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func price(value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// New returns an empty store with no seed data. Intended for tests.
func New() *Store {
	return &Store{
		billsByNo:       make(map[string]domain.Bill),
		returnsByID:     make(map[string]domain.ReturnBill),
		updatedByBillNo: make(map[string]domain.UpdatedBill),
		productsByCat:   make(map[string]domain.Product),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store preloaded with a demo price book and dev user
// accounts. Used when the backend runs without PostgreSQL.
func NewSeeded() *Store {
	products := []domain.Product{
		{Category: "Wire", Items: []domain.ProductItem{
			{Name: "Copper Wire 0.75 mm", Unit: "meter", Price: price("12.50")},
			{Name: "Copper Wire 1.5 mm", Unit: "meter", Price: price("21.00")},
			{Name: "Flexible Wire 2.5 mm", Unit: "meter", Price: price("34.00")},
		}},
		{Category: "Switch", Items: []domain.ProductItem{
			{Name: "Modular Switch 6A", Unit: "piece", Price: price("45.00")},
			{Name: "Modular Switch 16A", Unit: "piece", Price: price("78.00")},
		}},
		{Category: "Light", Items: []domain.ProductItem{
			{Name: "LED Bulb 9W", Unit: "piece", Price: price("110.00")},
			{Name: "LED Batten 20W", Unit: "piece", Price: price("240.00")},
		}},
	}

	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.Category] = p
	}

	return &Store{
		billsByNo:       make(map[string]domain.Bill),
		returnsByID:     make(map[string]domain.ReturnBill),
		updatedByBillNo: make(map[string]domain.UpdatedBill),
		productsByCat:   productMap,
		usersByUsername: seedUsers(),
	}
}

func (s *Store) sortedBills() []domain.Bill {
	bills := make([]domain.Bill, 0, len(s.billsByNo))
	for _, b := range s.billsByNo {
		bills = append(bills, b)
	}
	slices.SortFunc(bills, func(a, b domain.Bill) int {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return b.CreatedAt.Compare(a.CreatedAt)
		}
		return strings.Compare(b.BillNo, a.BillNo)
	})
	return bills
}

func (s *Store) ListRecentBills(_ context.Context, limit int) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bills := s.sortedBills()
	if limit > 0 && len(bills) > limit {
		bills = bills[:limit]
	}
	return bills, nil
}

func (s *Store) ListBills(_ context.Context) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedBills(), nil
}

func (s *Store) FindBillByNo(_ context.Context, billNo string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, exists := s.billsByNo[billNo]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := bill
	return &found, nil
}

func (s *Store) FindBillByAnyNo(_ context.Context, raw string, formatted string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range []string{raw, formatted} {
		if bill, exists := s.billsByNo[key]; exists {
			found := bill
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) FindLatestBill(_ context.Context) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bills := s.sortedBills()
	if len(bills) == 0 {
		return nil, store.ErrNotFound
	}
	latest := bills[0]
	return &latest, nil
}

func (s *Store) CreateBill(_ context.Context, bill domain.Bill) (*domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bill.BillNo == "" {
		return nil, store.ErrInvalidBill
	}
	if _, exists := s.billsByNo[bill.BillNo]; exists {
		return nil, store.ErrDuplicateBill
	}

	now := time.Now().UTC()
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = now
	}
	bill.UpdatedAt = now
	s.billsByNo[bill.BillNo] = bill
	created := bill
	return &created, nil
}

func (s *Store) UpdateBill(_ context.Context, bill domain.Bill) (*domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.billsByNo[bill.BillNo]
	if !exists {
		return nil, store.ErrNotFound
	}
	bill.CreatedAt = existing.CreatedAt
	bill.UpdatedAt = time.Now().UTC()
	s.billsByNo[bill.BillNo] = bill
	updated := bill
	return &updated, nil
}

func (s *Store) DeleteBill(_ context.Context, billNo string) (*domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bill, exists := s.billsByNo[billNo]
	if !exists {
		return nil, store.ErrNotFound
	}
	delete(s.billsByNo, billNo)
	deleted := bill
	return &deleted, nil
}

func (s *Store) CountBills(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.billsByNo), nil
}

func (s *Store) sortedReturns() []domain.ReturnBill {
	returns := make([]domain.ReturnBill, 0, len(s.returnsByID))
	for _, r := range s.returnsByID {
		returns = append(returns, r)
	}
	slices.SortFunc(returns, func(a, b domain.ReturnBill) int {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return b.CreatedAt.Compare(a.CreatedAt)
		}
		return strings.Compare(b.ReturnID, a.ReturnID)
	})
	return returns
}

func (s *Store) ListRecentReturns(_ context.Context, limit int) ([]domain.ReturnBill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	returns := s.sortedReturns()
	if limit > 0 && len(returns) > limit {
		returns = returns[:limit]
	}
	return returns, nil
}

func (s *Store) ListReturns(_ context.Context) ([]domain.ReturnBill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedReturns(), nil
}

func (s *Store) FindReturnByID(_ context.Context, returnID string) (*domain.ReturnBill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret, exists := s.returnsByID[returnID]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := ret
	return &found, nil
}

func (s *Store) FindReturnByOriginal(_ context.Context, raw string, formatted string) (*domain.ReturnBill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ret := range s.sortedReturns() {
		if ret.OriginalBillNo == raw || ret.OriginalBillNo == formatted {
			found := ret
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateReturn(_ context.Context, ret domain.ReturnBill) (*domain.ReturnBill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ret.ReturnID == "" || ret.OriginalBillNo == "" {
		return nil, store.ErrInvalidBill
	}
	if _, exists := s.returnsByID[ret.ReturnID]; exists {
		return nil, store.ErrDuplicateBill
	}

	now := time.Now().UTC()
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = now
	}
	ret.UpdatedAt = now
	s.returnsByID[ret.ReturnID] = ret
	created := ret
	return &created, nil
}

func (s *Store) UpdateReturn(_ context.Context, ret domain.ReturnBill) (*domain.ReturnBill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.returnsByID[ret.ReturnID]
	if !exists {
		return nil, store.ErrNotFound
	}
	ret.CreatedAt = existing.CreatedAt
	ret.UpdatedAt = time.Now().UTC()
	s.returnsByID[ret.ReturnID] = ret
	updated := ret
	return &updated, nil
}

func (s *Store) DeleteReturn(_ context.Context, returnID string) (*domain.ReturnBill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ret, exists := s.returnsByID[returnID]
	if !exists {
		return nil, store.ErrNotFound
	}
	delete(s.returnsByID, returnID)
	deleted := ret
	return &deleted, nil
}

func (s *Store) sortedUpdated() []domain.UpdatedBill {
	updated := make([]domain.UpdatedBill, 0, len(s.updatedByBillNo))
	for _, u := range s.updatedByBillNo {
		updated = append(updated, u)
	}
	slices.SortFunc(updated, func(a, b domain.UpdatedBill) int {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return b.CreatedAt.Compare(a.CreatedAt)
		}
		return strings.Compare(b.UpdatedBillID, a.UpdatedBillID)
	})
	return updated
}

func (s *Store) ListRecentUpdatedBills(_ context.Context, limit int) ([]domain.UpdatedBill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	updated := s.sortedUpdated()
	if limit > 0 && len(updated) > limit {
		updated = updated[:limit]
	}
	return updated, nil
}

func (s *Store) ListUpdatedBills(_ context.Context) ([]domain.UpdatedBill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedUpdated(), nil
}

func (s *Store) UpsertUpdatedBill(_ context.Context, updated domain.UpdatedBill) (*domain.UpdatedBill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if updated.OriginalBillNo == "" || updated.UpdatedBillID == "" {
		return nil, store.ErrInvalidBill
	}

	now := time.Now().UTC()
	if existing, exists := s.updatedByBillNo[updated.OriginalBillNo]; exists {
		updated.CreatedAt = existing.CreatedAt
	} else {
		updated.CreatedAt = now
	}
	updated.UpdatedAt = now
	s.updatedByBillNo[updated.OriginalBillNo] = updated
	saved := updated
	return &saved, nil
}

func (s *Store) DeleteUpdatedBillByOriginal(_ context.Context, originalBillNo string) (*domain.UpdatedBill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated, exists := s.updatedByBillNo[originalBillNo]
	if !exists {
		return nil, store.ErrNotFound
	}
	delete(s.updatedByBillNo, originalBillNo)
	deleted := updated
	return &deleted, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByCat))
	for _, p := range s.productsByCat {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Category == "" {
		return nil, store.ErrInvalidBill
	}
	if _, exists := s.productsByCat[product.Category]; exists {
		return nil, store.ErrDuplicateBill
	}
	s.productsByCat[product.Category] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateItemPrice(_ context.Context, entry domain.PriceUpdateEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.productsByCat[entry.Category]
	if !exists {
		return store.ErrNotFound
	}
	for i := range product.Items {
		if product.Items[i].Name == entry.Desc {
			product.Items[i].Price = entry.Rate
			s.productsByCat[entry.Category] = product
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" {
		return store.ErrInvalidBill
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrDuplicateBill
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
