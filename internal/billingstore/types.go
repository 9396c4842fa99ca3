// Package billingstore owns durable, transactional persistence for spending
// permissions, streaming sessions, billing transactions, and the link
// between a session and the permission it draws from. It is the only
// component in the system that mutates persisted state; every other
// component holds transient, in-memory copies of rows it has read.
package billingstore

import (
	"time"

	"github.com/mbd888/zecmeter/internal/decimal"
)

// PermissionStatus enumerates the lifecycle states of a SpendingPermission.
type PermissionStatus string

const (
	PermissionPending   PermissionStatus = "pending"
	PermissionApproved  PermissionStatus = "approved" // reserved, never produced — see DESIGN.md
	PermissionActive    PermissionStatus = "active"
	PermissionExhausted PermissionStatus = "exhausted"
	PermissionExpired   PermissionStatus = "expired"
	PermissionRevoked   PermissionStatus = "revoked"
)

// IsTerminal reports whether the status allows no further amount mutation.
func (s PermissionStatus) IsTerminal() bool {
	switch s {
	case PermissionExhausted, PermissionExpired, PermissionRevoked:
		return true
	}
	return false
}

// Permission is a prepaid, time-bounded, rate-locked allowance held by the
// service custodian on behalf of a user.
type Permission struct {
	ID                 string
	UserWalletAddress  string
	ApprovedAmount     decimal.Amount
	RemainingAmount    decimal.Amount
	RatePerHour        decimal.Amount
	MaxStreamingHours  decimal.Amount
	UsedStreamingHours decimal.Amount
	Status             PermissionStatus
	ExpiresAt          time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// RemainingHours is a derived quantity, never stored.
func (p *Permission) RemainingHours() decimal.Amount {
	return p.RemainingAmount.Div(p.RatePerHour)
}

// IsExpired reports whether the permission's deadline has passed. The
// boundary is closed at the expiry side: now == ExpiresAt counts as expired.
func (p *Permission) IsExpired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// SessionStatus enumerates the lifecycle states of a StreamingSession.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// IsTerminal reports whether the status allows no further billing activity.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionFailed:
		return true
	}
	return false
}

// Session is an open consumption context against one permission.
type Session struct {
	ID                  string
	SessionCode         string
	UserWalletAddress   string
	VendorWalletAddress string
	VendorID            string
	StartTime           time.Time
	LastBilledTime      time.Time
	EndTime             *time.Time
	RatePerHour         decimal.Amount
	TotalAmountBilled   decimal.Amount
	Status              SessionStatus
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// TransactionStatus enumerates the lifecycle of a BillingTransaction.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionConfirmed TransactionStatus = "confirmed"
	TransactionFailed    TransactionStatus = "failed"
)

// Transaction is an append-only record of a single debit event.
type Transaction struct {
	ID                  string
	SessionID           string
	UserWalletAddress   string
	VendorWalletAddress string
	Amount              decimal.Amount
	DurationMinutes     decimal.Amount
	TxHash              string // empty for permission debits, populated for fallback on-chain bills
	Status              TransactionStatus
	CreatedAt           time.Time
}
