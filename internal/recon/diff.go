// Package recon derives the updated bill (what the customer kept) from a
// sales bill and its return bill. The diff and totals functions are pure;
// Engine wraps them with store access and per-bill locking.
package recon

import (
	"time"

	"github.com/shopspring/decimal"

	"billmitra/backend/internal/billno"
	"billmitra/backend/internal/domain"
)

// RemainingItems computes the post-return remainder of the original items.
// Returned items are matched by exact description (first match, case
// sensitive). An item whose remaining quantity drops to zero or below is
// dropped entirely: over-returns are treated the same as full returns.
// Output order follows the original items; items present only in the return
// list have no original counterpart and are ignored.
func RemainingItems(original []domain.LineItem, returned []domain.LineItem) []domain.LineItem {
	remaining := make([]domain.LineItem, 0, len(original))
	for _, origItem := range original {
		returnedQty := 0
		for _, retItem := range returned {
			if retItem.Desc == origItem.Desc {
				returnedQty = retItem.Qty
				break
			}
		}

		remainingQty := origItem.Qty - returnedQty
		if remainingQty <= 0 {
			continue
		}

		kept := origItem
		kept.Qty = remainingQty
		kept.Amount = origItem.Rate.Mul(decimal.NewFromInt(int64(remainingQty)))
		remaining = append(remaining, kept)
	}
	return remaining
}

// ComputeTotals sums the item amounts. Derived bills carry no rounding:
// net amount equals the subtotal and round-off is fixed at "0.00".
func ComputeTotals(items []domain.LineItem) domain.Totals {
	subTotal := decimal.Zero
	for _, item := range items {
		subTotal = subTotal.Add(item.Amount)
	}
	return domain.Totals{
		SubTotal:  subTotal.StringFixed(2),
		RoundOff:  "0.00",
		NetAmount: subTotal.StringFixed(2),
	}
}

// ComputeUpdatedBill builds the derived bill for the given sources, or nil
// when either source is absent (in which case no updated bill may exist).
// The date is the recomputation date, not the original sale date.
func ComputeUpdatedBill(bill *domain.Bill, ret *domain.ReturnBill, now time.Time) *domain.UpdatedBill {
	if bill == nil || ret == nil {
		return nil
	}

	no := billno.BillNo(bill.BillNo)
	items := RemainingItems(bill.Items, ret.Items)

	return &domain.UpdatedBill{
		UpdatedBillID:  no.UpdatedID(),
		OriginalBillNo: bill.BillNo,
		ReturnID:       ret.ReturnID,
		Date:           now.UTC().Format("2006-01-02"),
		Client:         bill.Client,
		Items:          items,
		Totals:         ComputeTotals(items),
	}
}
