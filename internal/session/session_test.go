package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mbd888/zecmeter/internal/billingstore"
	"github.com/mbd888/zecmeter/internal/decimal"
	"github.com/mbd888/zecmeter/internal/vendordir"
)

type fakePermissions struct {
	active   *billingstore.Permission
	activeErr error
	deductErr error
}

func (f *fakePermissions) GetActiveByWallet(ctx context.Context, wallet string) (*billingstore.Permission, error) {
	if f.activeErr != nil {
		return nil, f.activeErr
	}
	return f.active, nil
}

func (f *fakePermissions) Deduct(ctx context.Context, permissionID string, hours decimal.Amount) (*billingstore.Permission, error) {
	if f.deductErr != nil {
		return nil, f.deductErr
	}
	return f.active, nil
}

type fakeVendors struct {
	vendor *vendordir.Vendor
	err    error
}

func (f *fakeVendors) Get(ctx context.Context, vendorID string) (*vendordir.Vendor, error) {
	return f.vendor, f.err
}

func newEngine(perm *billingstore.Permission, vendor *vendordir.Vendor) (*Engine, billingstore.Store) {
	store := billingstore.NewMemoryStore()
	perms := &fakePermissions{active: perm}
	vendors := &fakeVendors{vendor: vendor}
	return New(store, perms, vendors, nil, nil), store
}

func activePermission() *billingstore.Permission {
	return &billingstore.Permission{
		ID:                "perm_1",
		UserWalletAddress: "t1user",
		RemainingAmount:   decimal.MustParse("99.00"),
		RatePerHour:       decimal.MustParse("10.00"),
		Status:            billingstore.PermissionActive,
		ExpiresAt:         time.Now().Add(24 * time.Hour),
	}
}

func TestCreateSessionHappyPath(t *testing.T) {
	vendor := &vendordir.Vendor{ID: "v1", WalletAddress: "0x1111111111111111111111111111111111111111", RatePerHour: 10.00}
	eng, store := newEngine(activePermission(), vendor)

	res, err := eng.CreateSession(context.Background(), "t1user", "v1")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if len(res.SessionCode) != 12 {
		t.Errorf("session code length = %d, want 12", len(res.SessionCode))
	}

	s, err := store.GetSession(context.Background(), res.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != billingstore.SessionActive {
		t.Errorf("status = %s, want active", s.Status)
	}
	if s.RatePerHour.String() != "10.00000000" {
		t.Errorf("rate snapshot = %s", s.RatePerHour)
	}
}

func TestCreateSessionNoPermission(t *testing.T) {
	store := billingstore.NewMemoryStore()
	perms := &fakePermissions{activeErr: billingstore.ErrNoActivePermission}
	vendors := &fakeVendors{vendor: &vendordir.Vendor{}}
	eng := New(store, perms, vendors, nil, nil)

	_, err := eng.CreateSession(context.Background(), "t1user", "v1")
	if !errors.Is(err, ErrNoPermission) {
		t.Fatalf("expected ErrNoPermission, got %v", err)
	}
}

func TestCreateSessionInsufficientBalance(t *testing.T) {
	perm := activePermission()
	perm.RemainingAmount = decimal.Zero()
	eng, _ := newEngine(perm, &vendordir.Vendor{})

	_, err := eng.CreateSession(context.Background(), "t1user", "v1")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestCreateSessionUnknownVendor(t *testing.T) {
	store := billingstore.NewMemoryStore()
	perms := &fakePermissions{active: activePermission()}
	vendors := &fakeVendors{err: vendordir.ErrVendorNotFound}
	eng := New(store, perms, vendors, nil, nil)

	_, err := eng.CreateSession(context.Background(), "t1user", "missing")
	if !errors.Is(err, ErrUnknownVendor) {
		t.Fatalf("expected ErrUnknownVendor, got %v", err)
	}
}

func TestEndSessionHappyPath(t *testing.T) {
	vendor := &vendordir.Vendor{ID: "v1", WalletAddress: "0x1111111111111111111111111111111111111111", RatePerHour: 10.00}
	perm := activePermission()
	store := billingstore.NewMemoryStore()
	perms := &fakePermissions{active: perm}
	vendors := &fakeVendors{vendor: vendor}
	eng := New(store, perms, vendors, nil, nil)

	res, err := eng.CreateSession(context.Background(), "t1user", "v1")
	if err != nil {
		t.Fatal(err)
	}

	s, _ := store.GetSession(context.Background(), res.SessionID)
	s.LastBilledTime = time.Now().Add(-6 * time.Minute)
	if err := store.UpdateSession(context.Background(), s, billingstore.SessionActive); err != nil {
		t.Fatal(err)
	}

	txn, err := eng.EndSession(context.Background(), res.SessionCode)
	if err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if txn.Amount.String() != "1.00000000" {
		t.Errorf("transaction amount = %s, want 1.00000000 (approximately, 6 min at 10/hr)", txn.Amount)
	}

	final, _ := store.GetSession(context.Background(), res.SessionID)
	if final.Status != billingstore.SessionCompleted {
		t.Errorf("status = %s, want completed", final.Status)
	}
}

func TestEndSessionDebitFailureMarksFailed(t *testing.T) {
	vendor := &vendordir.Vendor{ID: "v1", WalletAddress: "0x1111111111111111111111111111111111111111", RatePerHour: 10.00}
	perm := activePermission()
	store := billingstore.NewMemoryStore()
	perms := &fakePermissions{active: perm}
	vendors := &fakeVendors{vendor: vendor}
	eng := New(store, perms, vendors, nil, nil)

	res, _ := eng.CreateSession(context.Background(), "t1user", "v1")
	perms.deductErr = errors.New("insufficient balance")

	_, err := eng.EndSession(context.Background(), res.SessionCode)
	if err == nil {
		t.Fatal("expected EndSession to surface the deduct error")
	}

	final, _ := store.GetSession(context.Background(), res.SessionID)
	if final.Status != billingstore.SessionFailed {
		t.Errorf("status = %s, want failed", final.Status)
	}
}
