package recon

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"billmitra/backend/internal/billno"
	"billmitra/backend/internal/domain"
	"billmitra/backend/internal/lock"
	"billmitra/backend/internal/store"
)

// Engine keeps the derived updated bill consistent with its two sources.
// Reconciliation is a best-effort side effect of an already-committed bill or
// return mutation: store faults are logged, never propagated, and the derived
// record self-heals on the next trigger.
type Engine struct {
	repo   store.Repository
	locker lock.KeyedLocker
	logger *logrus.Logger
	now    func() time.Time
}

func NewEngine(repo store.Repository, locker lock.KeyedLocker, logger *logrus.Logger) *Engine {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		repo:   repo,
		locker: locker,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile recomputes the updated bill for the given sales bill number.
// If both the bill and its return bill exist, the derived bill is rebuilt and
// upserted; otherwise any existing derived bill is deleted. Safe to call
// repeatedly: with unchanged sources it converges to the same state.
func (e *Engine) Reconcile(ctx context.Context, no billno.BillNo) {
	fields := logrus.Fields{"bill_no": no.String()}

	release, err := e.locker.Acquire(ctx, "reconcile:"+no.String())
	if err != nil {
		// The lock narrows the read-write race window but reconciliation must
		// stay best-effort, so an unobtainable lock is not fatal.
		e.logger.WithFields(fields).WithError(err).Warn("could not obtain bill lock; reconciling without it")
	} else {
		defer release()
	}

	bill, err := e.fetchBill(ctx, no.String())
	if err != nil {
		e.logger.WithFields(fields).WithError(err).Error("reconcile aborted: bill fetch failed")
		return
	}
	ret, err := e.fetchReturn(ctx, no.ReturnID())
	if err != nil {
		e.logger.WithFields(fields).WithError(err).Error("reconcile aborted: return fetch failed")
		return
	}

	updated := ComputeUpdatedBill(bill, ret, e.now())
	if updated == nil {
		if _, err := e.repo.DeleteUpdatedBillByOriginal(ctx, no.String()); err != nil && !errors.Is(err, store.ErrNotFound) {
			e.logger.WithFields(fields).WithError(err).Error("failed to delete updated bill")
			return
		}
		e.logger.WithFields(fields).Info("updated bill deleted or not created")
		return
	}

	if _, err := e.repo.UpsertUpdatedBill(ctx, *updated); err != nil {
		e.logger.WithFields(fields).WithError(err).Error("failed to upsert updated bill")
		return
	}
	e.logger.WithFields(fields).WithField("updated_bill_id", updated.UpdatedBillID).Info("updated bill generated")
}

func (e *Engine) fetchBill(ctx context.Context, billNo string) (*domain.Bill, error) {
	bill, err := e.repo.FindBillByNo(ctx, billNo)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return bill, err
}

func (e *Engine) fetchReturn(ctx context.Context, returnID string) (*domain.ReturnBill, error) {
	ret, err := e.repo.FindReturnByID(ctx, returnID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return ret, err
}
