package billingstore

import (
	"context"
	"time"
)

// Store persists permissions, sessions, transactions, and their link.
//
// Concurrency contract: UpdatePermission and UpdateSession MUST execute as
// a conditional update fenced on the row's last-known status (or an
// equivalent row lock) — never a bare read-modify-write. Implementations
// return ErrConcurrentUpdate when the fence does not match, so callers can
// retry the read-check-write from a fresh row.
type Store interface {
	InsertPermission(ctx context.Context, p *Permission) error
	GetPermission(ctx context.Context, id string) (*Permission, error)
	GetActivePermissionByWallet(ctx context.Context, wallet string) (*Permission, error)
	// UpdatePermission persists p, fenced on expectedStatus: the row is only
	// written if its current status still equals expectedStatus. Returns
	// ErrConcurrentUpdate otherwise.
	UpdatePermission(ctx context.Context, p *Permission, expectedStatus PermissionStatus) error
	// MarkExpiredPermissions bulk-transitions Active permissions whose
	// expires_at has passed to Expired, returning the count changed.
	MarkExpiredPermissions(ctx context.Context, now time.Time) (int, error)

	InsertSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	GetSessionByCode(ctx context.Context, code string) (*Session, error)
	GetActiveSessions(ctx context.Context, limit int) ([]*Session, error)
	// UpdateSession persists s, fenced on expectedStatus (see UpdatePermission).
	UpdateSession(ctx context.Context, s *Session, expectedStatus SessionStatus) error

	InsertTransaction(ctx context.Context, t *Transaction) error
	ListTransactionsForSession(ctx context.Context, sessionID string, limit int) ([]*Transaction, error)

	LinkSessionPermission(ctx context.Context, sessionID, permissionID string) error
	GetPermissionIDForSession(ctx context.Context, sessionID string) (string, error)

	// MarkReceiptConsumed records a chain txid as already claimed toward a
	// permission's funding, returning false if it was already recorded
	// (see the receipt-reuse open question in SPEC_FULL.md §9/§12).
	MarkReceiptConsumed(ctx context.Context, permissionID, txid string) (bool, error)
}
