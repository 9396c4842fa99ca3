package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/mbd888/zecmeter/internal/decimal"
)

func TestBillUserDisabledWithoutWallet(t *testing.T) {
	b := New(nil)
	_, err := b.BillUser(context.Background(), "0xuser", "0xvendor", decimal.MustParse("1.00"))
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}
