package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"billmitra/backend/internal/domain"
	"billmitra/backend/internal/store"
)

func TestUpdatedBillUpsertAndDelete(t *testing.T) {
	databaseURL := os.Getenv("BILLMITRA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set BILLMITRA_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	billNo := fmt.Sprintf("NB%d", stamp)
	returnID := fmt.Sprintf("RB%d", stamp)
	updatedID := fmt.Sprintf("UB%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM updated_bills WHERE original_bill_no = $1`, billNo)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM return_bills WHERE return_id = $1`, returnID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM bills WHERE bill_no = $1`, billNo)
	})

	rate := decimal.RequireFromString("5")
	items := []domain.LineItem{{
		Category: "Wire",
		Desc:     "Copper Wire 0.75 mm",
		Qty:      10,
		Rate:     rate,
		Unit:     "meter",
		Amount:   rate.Mul(decimal.NewFromInt(10)),
	}}

	if _, err := s.CreateBill(ctx, domain.Bill{
		BillNo: billNo,
		Date:   "2026-09-01",
		Client: domain.Client{Name: "Ravi"},
		Items:  items,
		Totals: domain.Totals{SubTotal: "50.00", RoundOff: "0.00", NetAmount: "50.00"},
	}); err != nil {
		t.Fatalf("create bill: %v", err)
	}

	if _, err := s.CreateReturn(ctx, domain.ReturnBill{
		ReturnID:       returnID,
		OriginalBillNo: billNo,
		ReturnDate:     "2026-09-01",
		Items:          items[:1],
		Totals:         domain.Totals{SubTotal: "50.00", RoundOff: "0.00", NetAmount: "50.00"},
	}); err != nil {
		t.Fatalf("create return: %v", err)
	}

	first, err := s.UpsertUpdatedBill(ctx, domain.UpdatedBill{
		UpdatedBillID:  updatedID,
		OriginalBillNo: billNo,
		ReturnID:       returnID,
		Date:           "2026-09-01",
		Totals:         domain.Totals{SubTotal: "30.00", RoundOff: "0.00", NetAmount: "30.00"},
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	second, err := s.UpsertUpdatedBill(ctx, domain.UpdatedBill{
		UpdatedBillID:  updatedID,
		OriginalBillNo: billNo,
		ReturnID:       returnID,
		Date:           "2026-09-02",
		Totals:         domain.Totals{SubTotal: "20.00", RoundOff: "0.00", NetAmount: "20.00"},
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("upsert must preserve created_at: %v vs %v", first.CreatedAt, second.CreatedAt)
	}

	found, err := s.FindBillByAnyNo(ctx, "does-not-exist", billNo)
	if err != nil {
		t.Fatalf("find bill by any no: %v", err)
	}
	if found.BillNo != billNo {
		t.Fatalf("expected %s, got %s", billNo, found.BillNo)
	}

	deleted, err := s.DeleteUpdatedBillByOriginal(ctx, billNo)
	if err != nil {
		t.Fatalf("delete updated bill: %v", err)
	}
	if deleted.Totals.NetAmount != "20.00" {
		t.Fatalf("deleted record should carry latest doc, got %+v", deleted.Totals)
	}

	if _, err := s.DeleteUpdatedBillByOriginal(ctx, billNo); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
