package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is the shared item shape embedded in bills, return bills and
// updated bills. Amount is trusted as stored on source records and only
// recomputed for engine-derived records.
type LineItem struct {
	Category string          `json:"category"`
	Desc     string          `json:"desc"`
	Qty      int             `json:"qty"`
	Rate     decimal.Decimal `json:"rate"`
	Unit     string          `json:"unit"`
	Amount   decimal.Decimal `json:"amount"`
}

// Totals carries 2-decimal formatted strings, matching what the frontend
// renders and prints verbatim.
type Totals struct {
	SubTotal  string `json:"sub_total"`
	RoundOff  string `json:"round_off"`
	NetAmount string `json:"net_amount"`
}

type Client struct {
	Name    string `json:"name"`
	Mobile  string `json:"mobile"`
	Address string `json:"address"`
}

type Bill struct {
	BillNo    string     `json:"bill_no"`
	Date      string     `json:"date"`
	Client    Client     `json:"client"`
	Items     []LineItem `json:"items"`
	Totals    Totals     `json:"totals"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type ReturnBill struct {
	ReturnID       string     `json:"return_id"`
	OriginalBillNo string     `json:"original_bill_no"`
	ReturnDate     string     `json:"return_date"`
	Client         Client     `json:"client"`
	Items          []LineItem `json:"items"`
	Totals         Totals     `json:"totals"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// UpdatedBill is fully owned by the reconciliation engine. It exists exactly
// when both the original bill and its return bill exist; no other writer
// creates or deletes it.
type UpdatedBill struct {
	UpdatedBillID  string     `json:"updated_bill_id"`
	OriginalBillNo string     `json:"original_bill_no"`
	ReturnID       string     `json:"return_id"`
	Date           string     `json:"date"`
	Client         Client     `json:"client"`
	Items          []LineItem `json:"items"`
	Totals         Totals     `json:"totals"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type BillSaveRequest struct {
	BillNo string     `json:"bill_no"`
	Date   string     `json:"date"`
	Client Client     `json:"client"`
	Items  []LineItem `json:"items"`
	Totals Totals     `json:"totals"`
}

type BillUpdateRequest struct {
	Date   *string     `json:"date,omitempty"`
	Client *Client     `json:"client,omitempty"`
	Items  *[]LineItem `json:"items,omitempty"`
	Totals *Totals     `json:"totals,omitempty"`
}

type ReturnSaveRequest struct {
	OriginalBillNo string     `json:"original_bill_no"`
	ReturnDate     string     `json:"return_date"`
	Client         Client     `json:"client"`
	Items          []LineItem `json:"items"`
	Totals         Totals     `json:"totals"`
}

type ReturnUpdateRequest struct {
	ReturnDate *string     `json:"return_date,omitempty"`
	Client     *Client     `json:"client,omitempty"`
	Items      *[]LineItem `json:"items,omitempty"`
	Totals     *Totals     `json:"totals,omitempty"`
}

type ReturnCheckResponse struct {
	Exists     bool        `json:"exists"`
	ReturnBill *ReturnBill `json:"return_bill,omitempty"`
}

type NextBillNoResponse struct {
	NextBillNo string `json:"next_bill_no"`
}

// BillStats is the dashboard aggregation: net sales summed over today, the
// last 7 days and the last 30 days, plus the all-time bill count.
type BillStats struct {
	Daily      float64 `json:"daily"`
	Weekly     float64 `json:"weekly"`
	Monthly    float64 `json:"monthly"`
	TotalBills int     `json:"total_bills"`
}

type ProductItem struct {
	Name  string          `json:"name"`
	Unit  string          `json:"unit"`
	Price decimal.Decimal `json:"price"`
}

// Product groups priced catalog items under a category, e.g. "Wire".
type Product struct {
	Category string        `json:"category"`
	Items    []ProductItem `json:"items"`
}

type ProductCreateRequest struct {
	Category string        `json:"category"`
	Items    []ProductItem `json:"items"`
}

// PriceUpdateEntry updates the catalog price of one item after a bill was
// issued at a different rate.
type PriceUpdateEntry struct {
	Category string          `json:"category"`
	Desc     string          `json:"desc"`
	Rate     decimal.Decimal `json:"rate"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
