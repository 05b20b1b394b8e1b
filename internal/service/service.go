package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"billmitra/backend/internal/billno"
	"billmitra/backend/internal/cache"
	"billmitra/backend/internal/domain"
	"billmitra/backend/internal/recon"
	"billmitra/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	recentLimit   = 6
	statsCacheKey = "bill-stats"
)

type Service struct {
	repo     store.Repository
	engine   *recon.Engine
	stats    cache.StatsCache
	statsTTL time.Duration
	logger   *logrus.Logger
}

func New(repo store.Repository, engine *recon.Engine, stats cache.StatsCache, statsTTL time.Duration, logger *logrus.Logger) *Service {
	if stats == nil {
		stats = cache.NoopStatsCache{}
	}
	if statsTTL <= 0 {
		statsTTL = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		repo:     repo,
		engine:   engine,
		stats:    stats,
		statsTTL: statsTTL,
		logger:   logger,
	}
}

func (s *Service) ListRecentBills(ctx context.Context) ([]domain.Bill, error) {
	return s.repo.ListRecentBills(ctx, recentLimit)
}

func (s *Service) ListBills(ctx context.Context) ([]domain.Bill, error) {
	return s.repo.ListBills(ctx)
}

// FindBill resolves free-form user input: "7" matches the canonical NB007 as
// well as a legacy record stored under the verbatim key.
func (s *Service) FindBill(ctx context.Context, input string) (*domain.Bill, error) {
	raw, formatted := billno.NormalizeLookup(input, billno.SalePrefix, billno.DefaultWidth)
	if raw == "" {
		return nil, store.ErrInvalidBill
	}
	return s.repo.FindBillByAnyNo(ctx, raw, formatted)
}

func (s *Service) NextBillNo(ctx context.Context) (domain.NextBillNoResponse, error) {
	lastNo := ""
	latest, err := s.repo.FindLatestBill(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.NextBillNoResponse{}, err
	}
	if latest != nil {
		lastNo = latest.BillNo
	}
	return domain.NextBillNoResponse{
		NextBillNo: billno.Next(lastNo, billno.SalePrefix, billno.DefaultWidth),
	}, nil
}

func (s *Service) SaveBill(ctx context.Context, req domain.BillSaveRequest) (domain.Bill, error) {
	no, err := billno.Parse(req.BillNo)
	if err != nil {
		return domain.Bill{}, err
	}
	if strings.TrimSpace(req.Date) == "" {
		return domain.Bill{}, fmt.Errorf("%w: date is required", store.ErrInvalidBill)
	}

	bill := domain.Bill{
		BillNo: no.String(),
		Date:   strings.TrimSpace(req.Date),
		Client: req.Client,
		Items:  req.Items,
		Totals: req.Totals,
	}

	created, err := s.repo.CreateBill(ctx, bill)
	if err != nil {
		return domain.Bill{}, err
	}

	s.logAudit(ctx, "bill_save", created.BillNo, fmt.Sprintf("items=%d", len(created.Items)))
	s.engine.Reconcile(ctx, no)

	return *created, nil
}

func (s *Service) UpdateBill(ctx context.Context, noInput string, req domain.BillUpdateRequest) (domain.Bill, error) {
	no, err := billno.Parse(noInput)
	if err != nil {
		return domain.Bill{}, err
	}

	existing, err := s.repo.FindBillByNo(ctx, no.String())
	if err != nil {
		return domain.Bill{}, err
	}

	updated := *existing
	if req.Date != nil {
		date := strings.TrimSpace(*req.Date)
		if date == "" {
			return domain.Bill{}, fmt.Errorf("%w: date must not be empty", store.ErrInvalidBill)
		}
		updated.Date = date
	}
	if req.Client != nil {
		updated.Client = *req.Client
	}
	if req.Items != nil {
		updated.Items = *req.Items
	}
	if req.Totals != nil {
		updated.Totals = *req.Totals
	}

	saved, err := s.repo.UpdateBill(ctx, updated)
	if err != nil {
		return domain.Bill{}, err
	}

	s.logAudit(ctx, "bill_update", saved.BillNo, fmt.Sprintf("items=%d", len(saved.Items)))
	s.engine.Reconcile(ctx, no)

	return *saved, nil
}

func (s *Service) DeleteBill(ctx context.Context, noInput string) (domain.Bill, error) {
	no, err := billno.Parse(noInput)
	if err != nil {
		return domain.Bill{}, err
	}

	deleted, err := s.repo.DeleteBill(ctx, no.String())
	if err != nil {
		return domain.Bill{}, err
	}

	s.logAudit(ctx, "bill_delete", deleted.BillNo, "")
	s.engine.Reconcile(ctx, no)

	return *deleted, nil
}

func (s *Service) BillStats(ctx context.Context) (domain.BillStats, error) {
	if cached, ok, err := s.stats.Get(ctx, statsCacheKey); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		s.logger.WithError(err).Warn("stats cache read failed")
	}

	count, err := s.repo.CountBills(ctx)
	if err != nil {
		return domain.BillStats{}, err
	}
	bills, err := s.repo.ListBills(ctx)
	if err != nil {
		return domain.BillStats{}, err
	}

	stats := computeStats(bills, time.Now().UTC())
	stats.TotalBills = count
	if err := s.stats.Set(ctx, statsCacheKey, &stats, s.statsTTL); err != nil {
		s.logger.WithError(err).Warn("stats cache write failed")
	}
	return stats, nil
}

// computeStats sums net amounts over calendar windows ending at now. Bills
// with unparseable dates or amounts are ignored.
func computeStats(bills []domain.Bill, now time.Time) domain.BillStats {
	var stats domain.BillStats
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := dayStart.AddDate(0, 0, -6)
	monthStart := dayStart.AddDate(0, 0, -29)

	for _, bill := range bills {
		day, err := time.ParseInLocation("2006-01-02", bill.Date, time.UTC)
		if err != nil {
			continue
		}
		amount, err := decimal.NewFromString(bill.Totals.NetAmount)
		if err != nil {
			continue
		}
		net, _ := amount.Float64()
		if !day.Before(monthStart) && !day.After(dayStart) {
			stats.Monthly += net
			if !day.Before(weekStart) {
				stats.Weekly += net
			}
			if day.Equal(dayStart) {
				stats.Daily += net
			}
		}
	}
	return stats
}

func (s *Service) ListRecentReturns(ctx context.Context) ([]domain.ReturnBill, error) {
	return s.repo.ListRecentReturns(ctx, recentLimit)
}

func (s *Service) ListReturns(ctx context.Context) ([]domain.ReturnBill, error) {
	return s.repo.ListReturns(ctx)
}

// CheckReturn reports whether a return has already been recorded against the
// bill the user typed in (verbatim or normalized form).
func (s *Service) CheckReturn(ctx context.Context, input string) (domain.ReturnCheckResponse, error) {
	raw, formatted := billno.NormalizeLookup(input, billno.SalePrefix, billno.DefaultWidth)
	if raw == "" {
		return domain.ReturnCheckResponse{}, store.ErrInvalidBill
	}

	ret, err := s.repo.FindReturnByOriginal(ctx, raw, formatted)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ReturnCheckResponse{Exists: false}, nil
		}
		return domain.ReturnCheckResponse{}, err
	}
	return domain.ReturnCheckResponse{Exists: true, ReturnBill: ret}, nil
}

// SaveReturn derives the return id from the original bill number (NB007 ->
// RB007); the caller never supplies it. An unparseable original bill number
// fails before any store access.
func (s *Service) SaveReturn(ctx context.Context, req domain.ReturnSaveRequest) (domain.ReturnBill, error) {
	no, err := billno.Parse(req.OriginalBillNo)
	if err != nil {
		return domain.ReturnBill{}, err
	}

	ret := domain.ReturnBill{
		ReturnID:       no.ReturnID(),
		OriginalBillNo: no.String(),
		ReturnDate:     strings.TrimSpace(req.ReturnDate),
		Client:         req.Client,
		Items:          req.Items,
		Totals:         req.Totals,
	}

	created, err := s.repo.CreateReturn(ctx, ret)
	if err != nil {
		return domain.ReturnBill{}, err
	}

	s.logAudit(ctx, "return_save", created.ReturnID, fmt.Sprintf("original=%s,items=%d", created.OriginalBillNo, len(created.Items)))
	s.engine.Reconcile(ctx, no)

	return *created, nil
}

func (s *Service) UpdateReturn(ctx context.Context, returnID string, req domain.ReturnUpdateRequest) (domain.ReturnBill, error) {
	returnID = strings.TrimSpace(returnID)
	if returnID == "" {
		return domain.ReturnBill{}, store.ErrInvalidBill
	}

	existing, err := s.repo.FindReturnByID(ctx, returnID)
	if err != nil {
		return domain.ReturnBill{}, err
	}

	updated := *existing
	if req.ReturnDate != nil {
		updated.ReturnDate = strings.TrimSpace(*req.ReturnDate)
	}
	if req.Client != nil {
		updated.Client = *req.Client
	}
	if req.Items != nil {
		updated.Items = *req.Items
	}
	if req.Totals != nil {
		updated.Totals = *req.Totals
	}

	saved, err := s.repo.UpdateReturn(ctx, updated)
	if err != nil {
		return domain.ReturnBill{}, err
	}

	s.logAudit(ctx, "return_update", saved.ReturnID, fmt.Sprintf("items=%d", len(saved.Items)))
	s.reconcileOriginal(ctx, saved.OriginalBillNo)

	return *saved, nil
}

func (s *Service) DeleteReturn(ctx context.Context, returnID string) (domain.ReturnBill, error) {
	returnID = strings.TrimSpace(returnID)
	if returnID == "" {
		return domain.ReturnBill{}, store.ErrInvalidBill
	}

	deleted, err := s.repo.DeleteReturn(ctx, returnID)
	if err != nil {
		return domain.ReturnBill{}, err
	}

	s.logAudit(ctx, "return_delete", deleted.ReturnID, fmt.Sprintf("original=%s", deleted.OriginalBillNo))
	s.reconcileOriginal(ctx, deleted.OriginalBillNo)

	return *deleted, nil
}

func (s *Service) ListUpdatedBills(ctx context.Context) ([]domain.UpdatedBill, error) {
	return s.repo.ListUpdatedBills(ctx)
}

func (s *Service) ListRecentUpdatedBills(ctx context.Context) ([]domain.UpdatedBill, error) {
	return s.repo.ListRecentUpdatedBills(ctx, recentLimit)
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Category = strings.TrimSpace(req.Category)
	if req.Category == "" {
		return domain.Product{}, store.ErrInvalidBill
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Category: req.Category,
		Items:    req.Items,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", created.Category, fmt.Sprintf("items=%d", len(created.Items)))
	return *created, nil
}

// BulkUpdatePrices pushes the rates from a just-issued bill back into the
// price book. Entries with missing fields or no matching catalog item are
// skipped, matching the legacy best-effort behavior.
func (s *Service) BulkUpdatePrices(ctx context.Context, entries []domain.PriceUpdateEntry) error {
	for _, entry := range entries {
		if entry.Category == "" || entry.Desc == "" || entry.Rate.IsZero() {
			continue
		}
		if err := s.repo.UpdateItemPrice(ctx, entry); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return err
		}
	}
	return nil
}

// reconcileOriginal retriggers reconciliation from a stored back-reference.
// The original bill number was validated when the return was created, so a
// parse failure here means corrupt data; log and skip rather than fail the
// already-committed mutation.
func (s *Service) reconcileOriginal(ctx context.Context, originalBillNo string) {
	no, err := billno.Parse(originalBillNo)
	if err != nil {
		s.logger.WithField("original_bill_no", originalBillNo).WithError(err).Error("stored return references an invalid bill number")
		return
	}
	s.engine.Reconcile(ctx, no)
}

func (s *Service) logAudit(ctx context.Context, action string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	s.logger.WithFields(logrus.Fields{
		"action": action,
		"entity": entityID,
		"actor":  actor.Username,
		"detail": detail,
	}).Info("audit")
}
