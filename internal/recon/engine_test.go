package recon

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"billmitra/backend/internal/billno"
	"billmitra/backend/internal/domain"
	"billmitra/backend/internal/store"
	"billmitra/backend/internal/store/memory"
)

func silentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestEngine(repo store.Repository) *Engine {
	e := NewEngine(repo, nil, silentLogger())
	e.now = func() time.Time {
		return time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	}
	return e
}

func seedBill(t *testing.T, repo store.Repository, billNo string, items []domain.LineItem) {
	t.Helper()
	_, err := repo.CreateBill(context.Background(), domain.Bill{
		BillNo: billNo,
		Date:   "2026-08-15",
		Client: domain.Client{Name: "Ravi"},
		Items:  items,
		Totals: ComputeTotals(items),
	})
	if err != nil {
		t.Fatalf("seed bill %s: %v", billNo, err)
	}
}

func seedReturn(t *testing.T, repo store.Repository, billNo string, items []domain.LineItem) {
	t.Helper()
	no := billno.BillNo(billNo)
	_, err := repo.CreateReturn(context.Background(), domain.ReturnBill{
		ReturnID:       no.ReturnID(),
		OriginalBillNo: billNo,
		ReturnDate:     "2026-08-20",
		Items:          items,
		Totals:         ComputeTotals(items),
	})
	if err != nil {
		t.Fatalf("seed return for %s: %v", billNo, err)
	}
}

func TestReconcileCreatesUpdatedBill(t *testing.T) {
	repo := memory.New()
	engine := newTestEngine(repo)
	ctx := context.Background()

	seedBill(t, repo, "NB001", []domain.LineItem{item("Copper Wire 0.75 mm", 10, "5")})
	seedReturn(t, repo, "NB001", []domain.LineItem{item("Copper Wire 0.75 mm", 4, "5")})

	engine.Reconcile(ctx, billno.BillNo("NB001"))

	updated, err := repo.ListUpdatedBills(ctx)
	if err != nil {
		t.Fatalf("list updated bills: %v", err)
	}
	if len(updated) != 1 {
		t.Fatalf("expected 1 updated bill, got %d", len(updated))
	}
	got := updated[0]
	if got.UpdatedBillID != "UB001" || got.OriginalBillNo != "NB001" {
		t.Fatalf("unexpected identifiers: %+v", got)
	}
	if len(got.Items) != 1 || got.Items[0].Qty != 6 {
		t.Fatalf("unexpected items: %+v", got.Items)
	}
	if got.Totals.NetAmount != "30.00" {
		t.Fatalf("expected net amount 30.00, got %s", got.Totals.NetAmount)
	}
	if got.Date != "2026-09-01" {
		t.Fatalf("expected reconcile date 2026-09-01, got %s", got.Date)
	}
}

func TestReconcileNoReturnNoUpdatedBill(t *testing.T) {
	repo := memory.New()
	engine := newTestEngine(repo)
	ctx := context.Background()

	seedBill(t, repo, "NB002", []domain.LineItem{item("LED Bulb 9W", 2, "110")})

	engine.Reconcile(ctx, billno.BillNo("NB002"))

	updated, err := repo.ListUpdatedBills(ctx)
	if err != nil {
		t.Fatalf("list updated bills: %v", err)
	}
	if len(updated) != 0 {
		t.Fatalf("expected no updated bill without a return, got %d", len(updated))
	}
}

func TestReconcileDeletesWhenSourceRemoved(t *testing.T) {
	repo := memory.New()
	engine := newTestEngine(repo)
	ctx := context.Background()

	seedBill(t, repo, "NB003", []domain.LineItem{item("Modular Switch 6A", 3, "45")})
	seedReturn(t, repo, "NB003", []domain.LineItem{item("Modular Switch 6A", 1, "45")})
	engine.Reconcile(ctx, billno.BillNo("NB003"))

	if _, err := repo.DeleteBill(ctx, "NB003"); err != nil {
		t.Fatalf("delete bill: %v", err)
	}
	engine.Reconcile(ctx, billno.BillNo("NB003"))

	if _, err := repo.DeleteUpdatedBillByOriginal(ctx, "NB003"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected updated bill to be gone, got err=%v", err)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	repo := memory.New()
	engine := newTestEngine(repo)
	ctx := context.Background()

	seedBill(t, repo, "NB004", []domain.LineItem{item("Copper Wire 1.5 mm", 8, "21")})
	seedReturn(t, repo, "NB004", []domain.LineItem{item("Copper Wire 1.5 mm", 3, "21")})

	engine.Reconcile(ctx, billno.BillNo("NB004"))
	first, err := repo.ListUpdatedBills(ctx)
	if err != nil || len(first) != 1 {
		t.Fatalf("first reconcile: err=%v count=%d", err, len(first))
	}

	engine.Reconcile(ctx, billno.BillNo("NB004"))
	second, err := repo.ListUpdatedBills(ctx)
	if err != nil || len(second) != 1 {
		t.Fatalf("second reconcile: err=%v count=%d", err, len(second))
	}

	if first[0].UpdatedBillID != second[0].UpdatedBillID ||
		first[0].Totals != second[0].Totals ||
		len(first[0].Items) != len(second[0].Items) {
		t.Fatalf("reconcile not idempotent: %+v vs %+v", first[0], second[0])
	}
	if !first[0].CreatedAt.Equal(second[0].CreatedAt) {
		t.Fatal("upsert must preserve the original creation time")
	}
}

type faultyRepo struct {
	store.Repository
	billErr error
}

func (f *faultyRepo) FindBillByNo(ctx context.Context, billNo string) (*domain.Bill, error) {
	if f.billErr != nil {
		return nil, f.billErr
	}
	return f.Repository.FindBillByNo(ctx, billNo)
}

func TestReconcileSwallowsStoreFailures(t *testing.T) {
	base := memory.New()
	ctx := context.Background()

	seedBill(t, base, "NB005", []domain.LineItem{item("LED Batten 20W", 2, "240")})
	seedReturn(t, base, "NB005", []domain.LineItem{item("LED Batten 20W", 1, "240")})

	repo := &faultyRepo{Repository: base, billErr: errors.New("connection reset")}
	engine := newTestEngine(repo)

	// Must not panic or propagate; the derived record simply stays stale.
	engine.Reconcile(ctx, billno.BillNo("NB005"))

	updated, err := base.ListUpdatedBills(ctx)
	if err != nil {
		t.Fatalf("list updated bills: %v", err)
	}
	if len(updated) != 0 {
		t.Fatalf("failed fetch must not write derived state, got %d records", len(updated))
	}

	repo.billErr = nil
	engine.Reconcile(ctx, billno.BillNo("NB005"))
	updated, err = base.ListUpdatedBills(ctx)
	if err != nil || len(updated) != 1 {
		t.Fatalf("expected self-heal on next trigger: err=%v count=%d", err, len(updated))
	}
}
