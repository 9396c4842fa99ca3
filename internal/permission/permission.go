// Package permission implements the lifecycle and arithmetic of a
// SpendingPermission: creation, funding verification, incremental
// deduction, and revocation.
package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/zecmeter/internal/billingstore"
	"github.com/mbd888/zecmeter/internal/decimal"
	"github.com/mbd888/zecmeter/internal/idgen"
	"github.com/mbd888/zecmeter/internal/traces"
)

var (
	ErrInvalidAmount    = errors.New("permission: amount must be positive")
	ErrInvalidRate      = errors.New("permission: rate_per_hour must be positive")
	ErrInvalidDuration  = errors.New("permission: duration_days must be in [1, 365]")
	ErrInvalidWallet    = errors.New("permission: invalid wallet address")
	ErrNotFound         = billingstore.ErrPermissionNotFound
	ErrInvalidState     = errors.New("permission: not in the required state for this operation")
	ErrInsufficientBalance = errors.New("permission: remaining balance cannot cover this debit")
	ErrExpired          = errors.New("permission: expiry deadline has passed")
)

// PaymentShortError reports a funding shortfall observed during verification.
type PaymentShortError struct {
	Expected decimal.Amount
	Got      decimal.Amount
}

func (e *PaymentShortError) Error() string {
	return fmt.Sprintf("permission: payment short, expected %s got %s", e.Expected, e.Got)
}

// ChainGateway resolves verified inbound payments. Implemented by
// internal/chain.Client.
type ChainGateway interface {
	CheckPaymentReceived(ctx context.Context, from, to string, minConfirmations int) (decimal.Amount, error)
}

// AddressValidator checks that a wallet address is well formed. Kept
// separate from ChainGateway so format checks never make a network call.
type AddressValidator func(addr string) bool

// Manager owns SpendingPermission lifecycle transitions. All mutation
// is delegated to the store's conditional-update fencing; Manager itself
// holds no mutable state beyond its collaborators.
type Manager struct {
	store            billingstore.Store
	gateway          ChainGateway
	validateAddress  AddressValidator
	custodialAddress string
	minConfirmations int
	logger           *slog.Logger
}

func New(store billingstore.Store, gateway ChainGateway, validateAddress AddressValidator, custodialAddress string, minConfirmations int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:            store,
		gateway:          gateway,
		validateAddress:  validateAddress,
		custodialAddress: custodialAddress,
		minConfirmations: minConfirmations,
		logger:           logger,
	}
}

// CreateResult is the response to Create.
type CreateResult struct {
	PermissionID string
	MaxHours     decimal.Amount
	ExpiresAt    time.Time
	PayTo        string
	AmountToPay  decimal.Amount
}

// Create validates inputs and persists a Pending permission. Funding is
// out-of-band: the caller receives the custodial address and must send
// amount there before calling VerifyAndActivate.
func (m *Manager) Create(ctx context.Context, userWallet string, amount, rate decimal.Amount, durationDays int) (*CreateResult, error) {
	ctx, span := traces.StartSpan(ctx, "permission.Create", traces.WalletAddr(userWallet), traces.Amount(amount.String()))
	defer span.End()

	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !rate.IsPositive() {
		return nil, ErrInvalidRate
	}
	if durationDays < 1 || durationDays > 365 {
		return nil, ErrInvalidDuration
	}
	if m.validateAddress != nil && !m.validateAddress(userWallet) {
		return nil, ErrInvalidWallet
	}

	now := time.Now().UTC()
	p := &billingstore.Permission{
		ID:                 idgen.WithPrefix("perm"),
		UserWalletAddress:  userWallet,
		ApprovedAmount:     amount,
		RemainingAmount:    amount,
		RatePerHour:        rate,
		MaxStreamingHours:  amount.Div(rate),
		UsedStreamingHours: decimal.Zero(),
		Status:             billingstore.PermissionPending,
		ExpiresAt:          now.AddDate(0, 0, durationDays),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := m.store.InsertPermission(ctx, p); err != nil {
		return nil, err
	}
	span.SetAttributes(traces.PermissionID(p.ID))

	return &CreateResult{
		PermissionID: p.ID,
		MaxHours:     p.MaxStreamingHours,
		ExpiresAt:    p.ExpiresAt,
		PayTo:        m.custodialAddress,
		AmountToPay:  amount,
	}, nil
}

// VerifyAndActivate asks the Chain Gateway for verified inbound payments
// from the user to the custodial address and activates the permission if
// the full approved amount has been received.
func (m *Manager) VerifyAndActivate(ctx context.Context, permissionID string) (*billingstore.Permission, error) {
	p, err := m.store.GetPermission(ctx, permissionID)
	if err != nil {
		return nil, err
	}
	if p.Status != billingstore.PermissionPending {
		return nil, ErrInvalidState
	}

	received, err := m.gateway.CheckPaymentReceived(ctx, p.UserWalletAddress, m.custodialAddress, m.minConfirmations)
	if err != nil {
		return nil, err
	}
	if received.Cmp(p.ApprovedAmount) < 0 {
		return nil, &PaymentShortError{Expected: p.ApprovedAmount, Got: received}
	}

	p.Status = billingstore.PermissionActive
	p.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdatePermission(ctx, p, billingstore.PermissionPending); err != nil {
		return nil, err
	}
	return p, nil
}

// Deduct debits hours*rate from the permission's remaining balance. It is
// the only path that mutates remaining_amount and used_streaming_hours,
// and it never leaves a partial write: either the full read-check-write
// succeeds, or nothing changes and an error is returned.
func (m *Manager) Deduct(ctx context.Context, permissionID string, hours decimal.Amount) (*billingstore.Permission, error) {
	ctx, span := traces.StartSpan(ctx, "permission.Deduct", traces.PermissionID(permissionID))
	defer span.End()

	p, err := m.store.GetPermission(ctx, permissionID)
	if err != nil {
		return nil, err
	}
	return m.deduct(ctx, p, hours)
}

func (m *Manager) deduct(ctx context.Context, p *billingstore.Permission, hours decimal.Amount) (*billingstore.Permission, error) {
	if p.Status != billingstore.PermissionActive {
		return nil, ErrInvalidState
	}

	now := time.Now().UTC()
	if !now.Before(p.ExpiresAt) {
		expired := *p
		expired.Status = billingstore.PermissionExpired
		expired.UpdatedAt = now
		if err := m.store.UpdatePermission(ctx, &expired, billingstore.PermissionActive); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}

	if hours.IsZero() {
		return p, nil
	}

	debit := hours.Mul(p.RatePerHour)
	if debit.Cmp(p.RemainingAmount) > 0 {
		exhausted := *p
		exhausted.Status = billingstore.PermissionExhausted
		exhausted.UpdatedAt = now
		if err := m.store.UpdatePermission(ctx, &exhausted, billingstore.PermissionActive); err != nil {
			return nil, err
		}
		return nil, ErrInsufficientBalance
	}

	updated := *p
	updated.RemainingAmount = p.RemainingAmount.Sub(debit)
	updated.UsedStreamingHours = p.UsedStreamingHours.Add(hours)
	updated.UpdatedAt = now
	if updated.RemainingAmount.IsZero() {
		updated.Status = billingstore.PermissionExhausted
	}
	if err := m.store.UpdatePermission(ctx, &updated, billingstore.PermissionActive); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Revoke transitions a non-terminal permission to Revoked. Idempotent:
// calling it again on an already-terminal permission is a no-op error,
// never a state change.
func (m *Manager) Revoke(ctx context.Context, permissionID string) (*billingstore.Permission, error) {
	p, err := m.store.GetPermission(ctx, permissionID)
	if err != nil {
		return nil, err
	}
	if p.Status.IsTerminal() {
		return nil, ErrInvalidState
	}
	prevStatus := p.Status
	updated := *p
	updated.Status = billingstore.PermissionRevoked
	updated.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdatePermission(ctx, &updated, prevStatus); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (m *Manager) GetStatus(ctx context.Context, permissionID string) (*billingstore.Permission, error) {
	return m.store.GetPermission(ctx, permissionID)
}

func (m *Manager) GetActiveByWallet(ctx context.Context, wallet string) (*billingstore.Permission, error) {
	return m.store.GetActivePermissionByWallet(ctx, wallet)
}
