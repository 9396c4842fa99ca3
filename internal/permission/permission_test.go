package permission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mbd888/zecmeter/internal/billingstore"
	"github.com/mbd888/zecmeter/internal/decimal"
)

type mockGateway struct {
	received decimal.Amount
	err      error
}

func (g *mockGateway) CheckPaymentReceived(ctx context.Context, from, to string, minConfirmations int) (decimal.Amount, error) {
	return g.received, g.err
}

func newManager(gw ChainGateway) (*Manager, billingstore.Store) {
	store := billingstore.NewMemoryStore()
	mgr := New(store, gw, nil, "t1custodial", 1, nil)
	return mgr, store
}

func TestCreate(t *testing.T) {
	mgr, _ := newManager(&mockGateway{})
	res, err := mgr.Create(context.Background(), "t1user", decimal.MustParse("100.00"), decimal.MustParse("10.00"), 30)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if res.MaxHours.String() != "10.00000000" {
		t.Errorf("max hours = %s, want 10", res.MaxHours)
	}
	if res.PayTo != "t1custodial" {
		t.Errorf("pay to = %s", res.PayTo)
	}
}

func TestCreateRejectsInvalidInputs(t *testing.T) {
	mgr, _ := newManager(&mockGateway{})
	ctx := context.Background()
	if _, err := mgr.Create(ctx, "t1user", decimal.Zero(), decimal.MustParse("10.00"), 30); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := mgr.Create(ctx, "t1user", decimal.MustParse("10.00"), decimal.Zero(), 30); !errors.Is(err, ErrInvalidRate) {
		t.Errorf("expected ErrInvalidRate, got %v", err)
	}
	if _, err := mgr.Create(ctx, "t1user", decimal.MustParse("10.00"), decimal.MustParse("10.00"), 0); !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("expected ErrInvalidDuration, got %v", err)
	}
	if _, err := mgr.Create(ctx, "t1user", decimal.MustParse("10.00"), decimal.MustParse("10.00"), 366); !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("expected ErrInvalidDuration, got %v", err)
	}
}

func TestVerifyAndActivateHappyPath(t *testing.T) {
	mgr, store := newManager(&mockGateway{received: decimal.MustParse("100.00")})
	ctx := context.Background()
	res, err := mgr.Create(ctx, "t1user", decimal.MustParse("100.00"), decimal.MustParse("10.00"), 30)
	if err != nil {
		t.Fatal(err)
	}

	p, err := mgr.VerifyAndActivate(ctx, res.PermissionID)
	if err != nil {
		t.Fatalf("VerifyAndActivate failed: %v", err)
	}
	if p.Status != billingstore.PermissionActive {
		t.Errorf("status = %s, want active", p.Status)
	}

	stored, _ := store.GetPermission(ctx, res.PermissionID)
	if stored.Status != billingstore.PermissionActive {
		t.Error("persisted permission not activated")
	}
}

func TestVerifyAndActivatePaymentShort(t *testing.T) {
	mgr, store := newManager(&mockGateway{received: decimal.MustParse("50.00")})
	ctx := context.Background()
	res, _ := mgr.Create(ctx, "t1user", decimal.MustParse("100.00"), decimal.MustParse("10.00"), 30)

	_, err := mgr.VerifyAndActivate(ctx, res.PermissionID)
	var shortErr *PaymentShortError
	if !errors.As(err, &shortErr) {
		t.Fatalf("expected PaymentShortError, got %v", err)
	}
	if shortErr.Expected.String() != "100.00000000" || shortErr.Got.String() != "50.00000000" {
		t.Errorf("unexpected short error %+v", shortErr)
	}

	p, _ := store.GetPermission(ctx, res.PermissionID)
	if p.Status != billingstore.PermissionPending {
		t.Errorf("permission should remain pending after short payment, got %s", p.Status)
	}
}

func TestVerifyAndActivateUnverifiedSender(t *testing.T) {
	mgr, store := newManager(&mockGateway{received: decimal.Zero()})
	ctx := context.Background()
	res, _ := mgr.Create(ctx, "t1user", decimal.MustParse("100.00"), decimal.MustParse("10.00"), 30)

	_, err := mgr.VerifyAndActivate(ctx, res.PermissionID)
	var shortErr *PaymentShortError
	if !errors.As(err, &shortErr) {
		t.Fatalf("expected PaymentShortError, got %v", err)
	}

	p, _ := store.GetPermission(ctx, res.PermissionID)
	if p.Status != billingstore.PermissionPending {
		t.Error("permission should remain pending")
	}
}

// activatePermission is a test helper that creates and force-activates a
// permission directly through the store, bypassing payment verification.
func activatePermission(t *testing.T, store billingstore.Store, wallet string, approved, rate decimal.Amount, expiresAt time.Time) *billingstore.Permission {
	t.Helper()
	now := time.Now().UTC()
	p := &billingstore.Permission{
		ID:                 "perm_test",
		UserWalletAddress:  wallet,
		ApprovedAmount:     approved,
		RemainingAmount:    approved,
		RatePerHour:        rate,
		MaxStreamingHours:  approved.Div(rate),
		UsedStreamingHours: decimal.Zero(),
		Status:             billingstore.PermissionActive,
		ExpiresAt:          expiresAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := store.InsertPermission(context.Background(), p); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return p
}

func TestDeductHappyPath(t *testing.T) {
	mgr, store := newManager(&mockGateway{})
	p := activatePermission(t, store, "t1user", decimal.MustParse("100.00"), decimal.MustParse("10.00"), time.Now().Add(30*24*time.Hour))

	hours := decimal.HoursFromSeconds(360) // 6 minutes
	updated, err := mgr.Deduct(context.Background(), p.ID, hours)
	if err != nil {
		t.Fatalf("Deduct failed: %v", err)
	}
	if updated.RemainingAmount.String() != "99.00000000" {
		t.Errorf("remaining = %s, want 99.00000000", updated.RemainingAmount)
	}
	if updated.UsedStreamingHours.String() != "0.10000000" {
		t.Errorf("used hours = %s, want 0.10000000", updated.UsedStreamingHours)
	}
}

func TestDeductExhaustion(t *testing.T) {
	mgr, store := newManager(&mockGateway{})
	p := activatePermission(t, store, "t1user", decimal.Zero(), decimal.MustParse("10.00"), time.Now().Add(24*time.Hour))
	p.RemainingAmount = decimal.MustParse("0.05")
	if err := store.UpdatePermission(context.Background(), p, billingstore.PermissionActive); err != nil {
		t.Fatal(err)
	}

	hours := decimal.HoursFromSeconds(60)
	_, err := mgr.Deduct(context.Background(), p.ID, hours)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	after, _ := store.GetPermission(context.Background(), p.ID)
	if after.Status != billingstore.PermissionExhausted {
		t.Errorf("status = %s, want exhausted", after.Status)
	}
	if after.RemainingAmount.String() != "0.05000000" {
		t.Errorf("remaining should be unchanged at 0.05000000, got %s", after.RemainingAmount)
	}
}

func TestDeductExpiry(t *testing.T) {
	mgr, store := newManager(&mockGateway{})
	p := activatePermission(t, store, "t1user", decimal.MustParse("10.00"), decimal.MustParse("10.00"), time.Now().Add(-time.Second))

	_, err := mgr.Deduct(context.Background(), p.ID, decimal.HoursFromSeconds(30))
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	after, _ := store.GetPermission(context.Background(), p.ID)
	if after.Status != billingstore.PermissionExpired {
		t.Errorf("status = %s, want expired", after.Status)
	}
}

func TestDeductZeroHoursIsNoop(t *testing.T) {
	mgr, store := newManager(&mockGateway{})
	p := activatePermission(t, store, "t1user", decimal.MustParse("10.00"), decimal.MustParse("10.00"), time.Now().Add(time.Hour))

	updated, err := mgr.Deduct(context.Background(), p.ID, decimal.Zero())
	if err != nil {
		t.Fatalf("zero-hour deduct should succeed, got %v", err)
	}
	if updated.RemainingAmount.Cmp(p.RemainingAmount) != 0 {
		t.Error("zero-hour deduct must not change remaining amount")
	}
}

func TestRevokeIdempotence(t *testing.T) {
	mgr, store := newManager(&mockGateway{})
	p := activatePermission(t, store, "t1user", decimal.MustParse("10.00"), decimal.MustParse("10.00"), time.Now().Add(time.Hour))

	revoked, err := mgr.Revoke(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if revoked.Status != billingstore.PermissionRevoked {
		t.Errorf("status = %s, want revoked", revoked.Status)
	}

	_, err = mgr.Revoke(context.Background(), p.ID)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("re-revoking a terminal permission should fail, got %v", err)
	}
}

func TestLedgerIdentityHoldsAfterDebit(t *testing.T) {
	mgr, store := newManager(&mockGateway{})
	p := activatePermission(t, store, "t1user", decimal.MustParse("100.00"), decimal.MustParse("10.00"), time.Now().Add(time.Hour))

	updated, err := mgr.Deduct(context.Background(), p.ID, decimal.MustParse("2.50"))
	if err != nil {
		t.Fatal(err)
	}
	identity := updated.RemainingAmount.Add(updated.RatePerHour.Mul(updated.UsedStreamingHours))
	if identity.Cmp(updated.ApprovedAmount) != 0 {
		t.Errorf("ledger identity violated: remaining + rate*used = %s, approved = %s", identity, updated.ApprovedAmount)
	}
}
