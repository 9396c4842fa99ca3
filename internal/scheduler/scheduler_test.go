package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/zecmeter/internal/billingstore"
	"github.com/mbd888/zecmeter/internal/decimal"
	"github.com/mbd888/zecmeter/internal/permission"
)

type noopGateway struct{}

func (noopGateway) CheckPaymentReceived(ctx context.Context, from, to string, minConfirmations int) (decimal.Amount, error) {
	return decimal.Zero(), nil
}

func seedActiveSession(t *testing.T, store billingstore.Store, permID string, remaining, rate decimal.Amount, lastBilled time.Time) *billingstore.Session {
	t.Helper()
	perm := &billingstore.Permission{
		ID:                permID,
		UserWalletAddress: "t1user",
		ApprovedAmount:    remaining,
		RemainingAmount:   remaining,
		RatePerHour:       rate,
		Status:            billingstore.PermissionActive,
		ExpiresAt:         time.Now().Add(24 * time.Hour),
	}
	if err := store.InsertPermission(context.Background(), perm); err != nil {
		t.Fatal(err)
	}

	sess := &billingstore.Session{
		ID:                  "sess_1",
		SessionCode:         "AAAAAAAAAAAA",
		UserWalletAddress:   "t1user",
		VendorWalletAddress: "0x1111111111111111111111111111111111111111",
		VendorID:            "v1",
		StartTime:           lastBilled,
		LastBilledTime:      lastBilled,
		RatePerHour:         rate,
		TotalAmountBilled:   decimal.Zero(),
		Status:              billingstore.SessionActive,
	}
	if err := store.InsertSession(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	if err := store.LinkSessionPermission(context.Background(), sess.ID, perm.ID); err != nil {
		t.Fatal(err)
	}
	return sess
}

func TestBillingTickSkipsBelowInterval(t *testing.T) {
	store := billingstore.NewMemoryStore()
	mgr := permission.New(store, noopGateway{}, nil, "t1custodial", 1, nil)
	sched := New(store, mgr, nil, time.Minute, nil)

	seedActiveSession(t, store, "perm_1", decimal.MustParse("5.00"), decimal.MustParse("10.00"), time.Now().Add(-30*time.Second))

	sched.billingTick(context.Background())

	sess, _ := store.GetSession(context.Background(), "sess_1")
	if sess.TotalAmountBilled.Cmp(decimal.Zero()) != 0 {
		t.Errorf("expected no debit below billing interval, got %s", sess.TotalAmountBilled)
	}
}

func TestBillingTickDebitsElapsedTime(t *testing.T) {
	store := billingstore.NewMemoryStore()
	mgr := permission.New(store, noopGateway{}, nil, "t1custodial", 1, nil)
	sched := New(store, mgr, nil, time.Minute, nil)

	seedActiveSession(t, store, "perm_1", decimal.MustParse("5.00"), decimal.MustParse("10.00"), time.Now().Add(-60*time.Second))

	sched.billingTick(context.Background())

	sess, _ := store.GetSession(context.Background(), "sess_1")
	if sess.TotalAmountBilled.IsZero() {
		t.Fatal("expected a debit to be recorded")
	}

	perm, _ := store.GetPermission(context.Background(), "perm_1")
	if perm.RemainingAmount.Cmp(decimal.MustParse("5.00")) >= 0 {
		t.Error("permission remaining should have decreased")
	}
}

func TestBillingTickExhaustionPausesSession(t *testing.T) {
	store := billingstore.NewMemoryStore()
	mgr := permission.New(store, noopGateway{}, nil, "t1custodial", 1, nil)
	sched := New(store, mgr, nil, time.Minute, nil)

	seedActiveSession(t, store, "perm_1", decimal.MustParse("0.05"), decimal.MustParse("10.00"), time.Now().Add(-60*time.Second))

	sched.billingTick(context.Background())

	sess, _ := store.GetSession(context.Background(), "sess_1")
	if sess.Status != billingstore.SessionPaused {
		t.Errorf("status = %s, want paused", sess.Status)
	}

	perm, _ := store.GetPermission(context.Background(), "perm_1")
	if perm.Status != billingstore.PermissionExhausted {
		t.Errorf("permission status = %s, want exhausted", perm.Status)
	}
	if perm.RemainingAmount.String() != "0.05000000" {
		t.Errorf("remaining should be untouched at 0.05000000, got %s", perm.RemainingAmount)
	}
}

func TestExpirySweepMarksExpired(t *testing.T) {
	store := billingstore.NewMemoryStore()
	perm := &billingstore.Permission{
		ID:                "perm_exp",
		UserWalletAddress: "t1user",
		ApprovedAmount:    decimal.MustParse("10.00"),
		RemainingAmount:   decimal.MustParse("10.00"),
		RatePerHour:       decimal.MustParse("10.00"),
		Status:            billingstore.PermissionActive,
		ExpiresAt:         time.Now().Add(-time.Minute),
	}
	if err := store.InsertPermission(context.Background(), perm); err != nil {
		t.Fatal(err)
	}

	n, err := store.MarkExpiredPermissions(context.Background(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired permission, got %d", n)
	}

	after, _ := store.GetPermission(context.Background(), "perm_exp")
	if after.Status != billingstore.PermissionExpired {
		t.Errorf("status = %s, want expired", after.Status)
	}
}
