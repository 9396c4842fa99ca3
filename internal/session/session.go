// Package session implements the Session Engine: creating, activating,
// and ending StreamingSessions, each bound to one SpendingPermission.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/mbd888/zecmeter/internal/billingstore"
	"github.com/mbd888/zecmeter/internal/decimal"
	"github.com/mbd888/zecmeter/internal/idgen"
	"github.com/mbd888/zecmeter/internal/permission"
	"github.com/mbd888/zecmeter/internal/sessioncache"
	"github.com/mbd888/zecmeter/internal/traces"
	"github.com/mbd888/zecmeter/internal/vendordir"
)

var (
	ErrNoPermission        = errors.New("session: no active permission for wallet")
	ErrInsufficientBalance = errors.New("session: permission has no remaining balance")
	ErrUnknownVendor       = errors.New("session: vendor not found or invalid")
	ErrInvalidState        = errors.New("session: not in the required state for this operation")
	ErrNotFound            = billingstore.ErrSessionNotFound

	maxCodeAttempts = 10
)

// Vendors resolves vendor wallet/rate pairs. Implemented by vendordir.Client.
type Vendors interface {
	Get(ctx context.Context, vendorID string) (*vendordir.Vendor, error)
}

// Permissions is the subset of the Permission Manager the session engine
// depends on.
type Permissions interface {
	GetActiveByWallet(ctx context.Context, wallet string) (*billingstore.Permission, error)
	Deduct(ctx context.Context, permissionID string, hours decimal.Amount) (*billingstore.Permission, error)
}

// Engine implements the Session Engine's three operations.
type Engine struct {
	store       billingstore.Store
	permissions Permissions
	vendors     Vendors
	cache       sessioncache.Cache
	logger      *slog.Logger
}

func New(store billingstore.Store, permissions Permissions, vendors Vendors, cache sessioncache.Cache, logger *slog.Logger) *Engine {
	if cache == nil {
		cache = sessioncache.NoopCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, permissions: permissions, vendors: vendors, cache: cache, logger: logger}
}

// Store exposes the underlying persistence layer for read-only consumers,
// such as the session-stream WebSocket handler.
func (e *Engine) Store() billingstore.Store {
	return e.store
}

// CreateResult is the response to CreateSession.
type CreateResult struct {
	SessionCode string
	SessionID   string
}

// CreateSession binds a fresh session to the user's active permission and
// a vendor resolved from the directory. The permission's locked rate, not
// the vendor's current rate, remains authoritative for every debit; a
// mismatch between the two is logged but never blocks session creation.
func (e *Engine) CreateSession(ctx context.Context, userWallet, vendorID string) (*CreateResult, error) {
	ctx, span := traces.StartSpan(ctx, "session.CreateSession", traces.WalletAddr(userWallet), traces.VendorID(vendorID))
	defer span.End()

	perm, err := e.permissions.GetActiveByWallet(ctx, userWallet)
	if err != nil {
		if errors.Is(err, billingstore.ErrNoActivePermission) {
			return nil, ErrNoPermission
		}
		return nil, err
	}
	if !perm.RemainingAmount.IsPositive() {
		return nil, ErrInsufficientBalance
	}

	vendor, err := e.vendors.Get(ctx, vendorID)
	if err != nil {
		if errors.Is(err, vendordir.ErrVendorNotFound) || errors.Is(err, vendordir.ErrInvalidVendor) {
			return nil, ErrUnknownVendor
		}
		return nil, err
	}

	vendorRate := decimal.MustParse(strconv.FormatFloat(vendor.RatePerHour, 'f', -1, 64))
	if vendorRate.Cmp(perm.RatePerHour) != 0 {
		e.logger.Warn("vendor rate diverges from permission rate, permission rate remains authoritative",
			"vendor_id", vendorID, "vendor_rate", vendor.RatePerHour, "permission_rate", perm.RatePerHour.String())
	}

	now := time.Now().UTC()
	s := &billingstore.Session{
		ID:                  idgen.WithPrefix("sess"),
		UserWalletAddress:   userWallet,
		VendorWalletAddress: vendor.WalletAddress,
		VendorID:            vendorID,
		StartTime:           now,
		LastBilledTime:      now,
		RatePerHour:         perm.RatePerHour,
		TotalAmountBilled:   decimal.Zero(),
		Status:              billingstore.SessionActive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	var code string
	for attempt := 0; ; attempt++ {
		code = idgen.Code(12)
		s.SessionCode = code
		err := e.store.InsertSession(ctx, s)
		if err == nil {
			break
		}
		if errors.Is(err, billingstore.ErrDuplicateCode) && attempt < maxCodeAttempts {
			continue
		}
		return nil, err
	}

	if err := e.store.LinkSessionPermission(ctx, s.ID, perm.ID); err != nil {
		return nil, err
	}

	if err := e.cache.Set(ctx, code, s.ID); err != nil {
		e.logger.Warn("session cache set failed, falling back to store lookups", "error", err)
	}

	span.SetAttributes(traces.SessionID(s.ID))
	return &CreateResult{SessionCode: code, SessionID: s.ID}, nil
}

// ActivateSession re-opens an existing session by code. Idempotent on
// already-Active sessions.
func (e *Engine) ActivateSession(ctx context.Context, code string) (*billingstore.Session, error) {
	s, err := e.getByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if s.Status == billingstore.SessionActive {
		return s, nil
	}
	if s.Status.IsTerminal() {
		return nil, ErrInvalidState
	}

	prevStatus := s.Status
	now := time.Now().UTC()
	s.StartTime = now
	s.LastBilledTime = now
	s.Status = billingstore.SessionActive
	s.UpdatedAt = now
	if err := e.store.UpdateSession(ctx, s, prevStatus); err != nil {
		return nil, err
	}
	return s, nil
}

// EndSession closes a session: debits its linked permission for the
// elapsed time since the last bill, records the resulting transaction,
// and marks the session Completed (or Failed, if the debit itself fails).
func (e *Engine) EndSession(ctx context.Context, code string) (*billingstore.Transaction, error) {
	s, err := e.getByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if s.Status != billingstore.SessionActive {
		return nil, ErrInvalidState
	}

	permissionID, err := e.store.GetPermissionIDForSession(ctx, s.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	elapsed := now.Sub(s.LastBilledTime)
	hours := decimal.HoursFromSeconds(int64(elapsed.Seconds()))

	_, err = e.permissions.Deduct(ctx, permissionID, hours)
	if err != nil {
		s.Status = billingstore.SessionFailed
		s.UpdatedAt = now
		if updErr := e.store.UpdateSession(ctx, s, billingstore.SessionActive); updErr != nil {
			return nil, updErr
		}
		return nil, err
	}

	amount := hours.Mul(s.RatePerHour)
	txn := &billingstore.Transaction{
		ID:                  idgen.WithPrefix("txn"),
		SessionID:           s.ID,
		UserWalletAddress:   s.UserWalletAddress,
		VendorWalletAddress: s.VendorWalletAddress,
		Amount:              amount,
		DurationMinutes:     hours.Mul(decimal.FromInt(60)),
		Status:              billingstore.TransactionConfirmed,
		CreatedAt:           now,
	}
	if err := e.store.InsertTransaction(ctx, txn); err != nil {
		return nil, err
	}

	s.LastBilledTime = now
	s.TotalAmountBilled = s.TotalAmountBilled.Add(amount)
	s.EndTime = &now
	s.Status = billingstore.SessionCompleted
	s.UpdatedAt = now
	if err := e.store.UpdateSession(ctx, s, billingstore.SessionActive); err != nil {
		return nil, err
	}
	return txn, nil
}

func (e *Engine) getByCode(ctx context.Context, code string) (*billingstore.Session, error) {
	if id, ok, err := e.cache.Get(ctx, code); err == nil && ok {
		if s, err := e.store.GetSession(ctx, id); err == nil {
			return s, nil
		}
	}
	return e.store.GetSessionByCode(ctx, code)
}
