// Package fallback implements the Fallback Biller: the legacy path the
// scheduler invokes when a session has no SpendingPermission link. It pays
// the vendor in USDC from the platform's own EVM wallet instead of debiting
// a permission; the user's wallet is not charged.
package fallback

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/zecmeter/internal/decimal"
	"github.com/mbd888/zecmeter/internal/wallet"
)

// ErrDisabled is returned when no chain client was configured. The
// scheduler maps this to the session transitioning to Failed.
var ErrDisabled = errors.New("fallback: chain client not configured")

// Biller settles a streaming debit that has no permission backing it by an
// ERC-20 transfer from the platform wallet to the vendor; the user argument
// of BillUser is not used. Populated transactions always carry a tx_hash.
type Biller struct {
	wallet *wallet.Wallet
}

func New(w *wallet.Wallet) *Biller {
	return &Biller{wallet: w}
}

// BillUser transfers amount from the platform's wallet to vendor on
// behalf of user. The caller (the scheduler) never retries this call; a
// failure here always fails the session, matching the legacy behavior
// this path preserves.
func (b *Biller) BillUser(ctx context.Context, user, vendor string, amount decimal.Amount) (string, error) {
	if b.wallet == nil {
		return "", ErrDisabled
	}
	raw, err := wallet.ParseUSDC(amount.String())
	if err != nil {
		return "", err
	}
	result, err := b.wallet.Transfer(ctx, common.HexToAddress(vendor), raw)
	if err != nil {
		return "", err
	}
	return result.TxHash, nil
}
