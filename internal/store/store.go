package store

import (
	"context"
	"errors"

	"billmitra/backend/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateBill = errors.New("duplicate bill")
	ErrInvalidBill   = errors.New("invalid bill")
)

type Repository interface {
	ListRecentBills(ctx context.Context, limit int) ([]domain.Bill, error)
	ListBills(ctx context.Context) ([]domain.Bill, error)
	FindBillByNo(ctx context.Context, billNo string) (*domain.Bill, error)
	FindBillByAnyNo(ctx context.Context, raw string, formatted string) (*domain.Bill, error)
	FindLatestBill(ctx context.Context) (*domain.Bill, error)
	CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error)
	UpdateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error)
	DeleteBill(ctx context.Context, billNo string) (*domain.Bill, error)
	CountBills(ctx context.Context) (int, error)

	ListRecentReturns(ctx context.Context, limit int) ([]domain.ReturnBill, error)
	ListReturns(ctx context.Context) ([]domain.ReturnBill, error)
	FindReturnByID(ctx context.Context, returnID string) (*domain.ReturnBill, error)
	FindReturnByOriginal(ctx context.Context, raw string, formatted string) (*domain.ReturnBill, error)
	CreateReturn(ctx context.Context, ret domain.ReturnBill) (*domain.ReturnBill, error)
	UpdateReturn(ctx context.Context, ret domain.ReturnBill) (*domain.ReturnBill, error)
	DeleteReturn(ctx context.Context, returnID string) (*domain.ReturnBill, error)

	ListRecentUpdatedBills(ctx context.Context, limit int) ([]domain.UpdatedBill, error)
	ListUpdatedBills(ctx context.Context) ([]domain.UpdatedBill, error)
	UpsertUpdatedBill(ctx context.Context, updated domain.UpdatedBill) (*domain.UpdatedBill, error)
	DeleteUpdatedBillByOriginal(ctx context.Context, originalBillNo string) (*domain.UpdatedBill, error)

	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateItemPrice(ctx context.Context, entry domain.PriceUpdateEntry) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
