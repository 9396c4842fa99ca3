// Package scheduler drives the two background loops that mutate billing
// state without a direct HTTP caller: the Billing Scheduler, which sweeps
// active sessions and debits elapsed time, and the Expiry Sweeper, which
// bulk-expires past-due permissions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/zecmeter/internal/billingstore"
	"github.com/mbd888/zecmeter/internal/decimal"
	"github.com/mbd888/zecmeter/internal/fallback"
	"github.com/mbd888/zecmeter/internal/idgen"
	"github.com/mbd888/zecmeter/internal/permission"
)

const (
	expirySweepInterval = time.Hour
	activeSessionBatch  = 200
)

// FallbackBiller is invoked for sessions with no permission link.
type FallbackBiller interface {
	BillUser(ctx context.Context, user, vendor string, amount decimal.Amount) (txHash string, err error)
}

// Scheduler owns the Billing Scheduler and Expiry Sweeper loops. Both
// share one ticker goroutine per loop; a tick that outruns its period
// never overlaps the next, enforced by the running guard on each loop.
type Scheduler struct {
	store       billingstore.Store
	permissions *permission.Manager
	fallback    FallbackBiller
	interval    time.Duration
	logger      *slog.Logger

	billingRunning atomic.Bool
	expiryRunning  atomic.Bool
	stop           chan struct{}
}

func New(store billingstore.Store, permissions *permission.Manager, fb FallbackBiller, billingInterval time.Duration, logger *slog.Logger) *Scheduler {
	if billingInterval == 0 {
		billingInterval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:       store,
		permissions: permissions,
		fallback:    fb,
		interval:    billingInterval,
		logger:      logger,
		stop:        make(chan struct{}),
	}
}

// Start launches both loops in their own goroutines and returns at once;
// the loops run until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.runBillingLoop(ctx)
	go s.runExpiryLoop(ctx)
}

// Stop signals both loops to exit.
func (s *Scheduler) Stop() {
	close(s.stop)
}

func (s *Scheduler) runBillingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeBillingTick(ctx)
		}
	}
}

func (s *Scheduler) runExpiryLoop(ctx context.Context) {
	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeExpirySweep(ctx)
		}
	}
}

func (s *Scheduler) safeBillingTick(ctx context.Context) {
	if !s.billingRunning.CompareAndSwap(false, true) {
		s.logger.Warn("billing tick skipped, previous tick still running")
		return
	}
	defer s.billingRunning.Store(false)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in billing scheduler tick", "panic", fmt.Sprint(r))
		}
	}()
	s.billingTick(ctx)
}

func (s *Scheduler) safeExpirySweep(ctx context.Context) {
	if !s.expiryRunning.CompareAndSwap(false, true) {
		return
	}
	defer s.expiryRunning.Store(false)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in expiry sweeper", "panic", fmt.Sprint(r))
		}
	}()
	n, err := s.store.MarkExpiredPermissions(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Warn("expiry sweep failed, retrying next tick", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("expired permissions past their deadline", "count", n)
	}
}

// billingTick processes every Active session independently. Sessions are
// not ordered relative to each other; a failure on one session is
// contained to that session and never aborts the tick.
func (s *Scheduler) billingTick(ctx context.Context) {
	sessions, err := s.store.GetActiveSessions(ctx, activeSessionBatch)
	if err != nil {
		s.logger.Warn("failed to list active sessions", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, sess := range sessions {
		elapsed := now.Sub(sess.LastBilledTime)
		if elapsed < s.interval {
			continue
		}
		s.billSession(ctx, sess, now, elapsed)
	}
}

func (s *Scheduler) billSession(ctx context.Context, sess *billingstore.Session, now time.Time, elapsed time.Duration) {
	permissionID, err := s.store.GetPermissionIDForSession(ctx, sess.ID)
	if errors.Is(err, billingstore.ErrNoPermissionLink) {
		s.billViaFallback(ctx, sess, now, elapsed)
		return
	}
	if err != nil {
		s.logger.Warn("failed to resolve permission link", "session", sess.ID, "error", err)
		return
	}

	hours := decimal.HoursFromSeconds(int64(elapsed.Seconds()))
	updated, err := s.permissions.Deduct(ctx, permissionID, hours)
	switch {
	case err == nil:
		debit := hours.Mul(sess.RatePerHour)
		txn := &billingstore.Transaction{
			ID:                  idgen.WithPrefix("txn"),
			SessionID:           sess.ID,
			UserWalletAddress:   sess.UserWalletAddress,
			VendorWalletAddress: sess.VendorWalletAddress,
			Amount:              debit,
			DurationMinutes:     hours.Mul(decimal.FromInt(60)),
			Status:              billingstore.TransactionConfirmed,
			CreatedAt:           now,
		}
		if err := s.store.InsertTransaction(ctx, txn); err != nil {
			s.logger.Warn("failed to record scheduler transaction", "session", sess.ID, "error", err)
			return
		}
		sess.LastBilledTime = now
		sess.TotalAmountBilled = sess.TotalAmountBilled.Add(debit)
		sess.UpdatedAt = now
		if err := s.store.UpdateSession(ctx, sess, billingstore.SessionActive); err != nil {
			s.logger.Warn("failed to advance session after debit", "session", sess.ID, "error", err)
		}
		_ = updated
	case errors.Is(err, permission.ErrInsufficientBalance):
		sess.Status = billingstore.SessionPaused
		sess.UpdatedAt = now
		if updErr := s.store.UpdateSession(ctx, sess, billingstore.SessionActive); updErr != nil {
			s.logger.Warn("failed to pause session", "session", sess.ID, "error", updErr)
		}
	default:
		sess.Status = billingstore.SessionFailed
		sess.UpdatedAt = now
		if updErr := s.store.UpdateSession(ctx, sess, billingstore.SessionActive); updErr != nil {
			s.logger.Warn("failed to fail session", "session", sess.ID, "error", updErr)
		}
		s.logger.Warn("session debit failed", "session", sess.ID, "error", err)
	}
}

func (s *Scheduler) billViaFallback(ctx context.Context, sess *billingstore.Session, now time.Time, elapsed time.Duration) {
	if s.fallback == nil {
		sess.Status = billingstore.SessionFailed
		sess.UpdatedAt = now
		if err := s.store.UpdateSession(ctx, sess, billingstore.SessionActive); err != nil {
			s.logger.Warn("failed to fail unlinked session", "session", sess.ID, "error", err)
		}
		return
	}

	hours := decimal.HoursFromSeconds(int64(elapsed.Seconds()))
	amount := hours.Mul(sess.RatePerHour)
	txHash, err := s.fallback.BillUser(ctx, sess.UserWalletAddress, sess.VendorWalletAddress, amount)
	if err != nil {
		sess.Status = billingstore.SessionFailed
		sess.UpdatedAt = now
		if updErr := s.store.UpdateSession(ctx, sess, billingstore.SessionActive); updErr != nil {
			s.logger.Warn("failed to fail session after fallback error", "session", sess.ID, "error", updErr)
		}
		return
	}

	txn := &billingstore.Transaction{
		ID:                  idgen.WithPrefix("txn"),
		SessionID:           sess.ID,
		UserWalletAddress:   sess.UserWalletAddress,
		VendorWalletAddress: sess.VendorWalletAddress,
		Amount:              amount,
		DurationMinutes:     hours.Mul(decimal.FromInt(60)),
		TxHash:              txHash,
		Status:              billingstore.TransactionConfirmed,
		CreatedAt:           now,
	}
	if err := s.store.InsertTransaction(ctx, txn); err != nil {
		s.logger.Warn("failed to record fallback transaction", "session", sess.ID, "error", err)
		return
	}
	sess.LastBilledTime = now
	sess.TotalAmountBilled = sess.TotalAmountBilled.Add(amount)
	sess.UpdatedAt = now
	if err := s.store.UpdateSession(ctx, sess, billingstore.SessionActive); err != nil {
		s.logger.Warn("failed to advance session after fallback debit", "session", sess.ID, "error", err)
	}
}

var _ FallbackBiller = (*fallback.Biller)(nil)
