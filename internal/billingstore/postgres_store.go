package billingstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mbd888/zecmeter/internal/decimal"
)

// PostgresStore persists permissions, sessions, and transactions in
// PostgreSQL. Every status transition is written through a conditional
// UPDATE fenced on the row's expected prior status; a mismatch means
// another writer already moved the row, and the caller must re-read.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) InsertPermission(ctx context.Context, perm *Permission) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO spending_permissions (
			id, user_wallet_address, approved_amount, remaining_amount,
			rate_per_hour, max_streaming_hours, used_streaming_hours,
			status, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3::NUMERIC(28,8), $4::NUMERIC(28,8), $5::NUMERIC(28,8),
			$6::NUMERIC(28,8), $7::NUMERIC(28,8), $8, $9, $10, $11)`,
		perm.ID, perm.UserWalletAddress, perm.ApprovedAmount.String(), perm.RemainingAmount.String(),
		perm.RatePerHour.String(), perm.MaxStreamingHours.String(), perm.UsedStreamingHours.String(),
		string(perm.Status), perm.ExpiresAt, perm.CreatedAt, perm.UpdatedAt,
	)
	if isUniqueViolation(err, "spending_permissions_active_wallet_idx") {
		return ErrWalletAlreadyActive
	}
	return err
}

func (p *PostgresStore) GetPermission(ctx context.Context, id string) (*Permission, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, user_wallet_address, approved_amount, remaining_amount,
		       rate_per_hour, max_streaming_hours, used_streaming_hours,
		       status, expires_at, created_at, updated_at
		FROM spending_permissions WHERE id = $1`, id)
	perm, err := scanPermission(row)
	if err == sql.ErrNoRows {
		return nil, ErrPermissionNotFound
	}
	return perm, err
}

func (p *PostgresStore) GetActivePermissionByWallet(ctx context.Context, wallet string) (*Permission, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, user_wallet_address, approved_amount, remaining_amount,
		       rate_per_hour, max_streaming_hours, used_streaming_hours,
		       status, expires_at, created_at, updated_at
		FROM spending_permissions WHERE user_wallet_address = $1 AND status = $2`,
		wallet, string(PermissionActive))
	perm, err := scanPermission(row)
	if err == sql.ErrNoRows {
		return nil, ErrNoActivePermission
	}
	return perm, err
}

func (p *PostgresStore) UpdatePermission(ctx context.Context, perm *Permission, expectedStatus PermissionStatus) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE spending_permissions SET
			remaining_amount = $1::NUMERIC(28,8), used_streaming_hours = $2::NUMERIC(28,8),
			status = $3, updated_at = $4
		WHERE id = $5 AND status = $6`,
		perm.RemainingAmount.String(), perm.UsedStreamingHours.String(),
		string(perm.Status), perm.UpdatedAt,
		perm.ID, string(expectedStatus),
	)
	if isUniqueViolation(err, "spending_permissions_active_wallet_idx") {
		return ErrWalletAlreadyActive
	}
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

func (p *PostgresStore) MarkExpiredPermissions(ctx context.Context, now time.Time) (int, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE spending_permissions SET status = $1, updated_at = $2
		WHERE status = $3 AND expires_at <= $2`,
		string(PermissionExpired), now, string(PermissionActive),
	)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

func (p *PostgresStore) InsertSession(ctx context.Context, s *Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO streaming_sessions (
			id, session_code, user_wallet_address, vendor_wallet_address, vendor_id,
			start_time, last_billed_time, end_time, rate_per_hour, total_amount_billed,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC(28,8), $10::NUMERIC(28,8),
			$11, $12, $13)`,
		s.ID, s.SessionCode, s.UserWalletAddress, s.VendorWalletAddress, s.VendorID,
		s.StartTime, s.LastBilledTime, nullTime(s.EndTime), s.RatePerHour.String(), s.TotalAmountBilled.String(),
		string(s.Status), s.CreatedAt, s.UpdatedAt,
	)
	if isUniqueViolation(err, "streaming_sessions_session_code_key") {
		return ErrDuplicateCode
	}
	return err
}

func (p *PostgresStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, session_code, user_wallet_address, vendor_wallet_address, vendor_id,
		       start_time, last_billed_time, end_time, rate_per_hour, total_amount_billed,
		       status, created_at, updated_at
		FROM streaming_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	return s, err
}

func (p *PostgresStore) GetSessionByCode(ctx context.Context, code string) (*Session, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, session_code, user_wallet_address, vendor_wallet_address, vendor_id,
		       start_time, last_billed_time, end_time, rate_per_hour, total_amount_billed,
		       status, created_at, updated_at
		FROM streaming_sessions WHERE session_code = $1`, code)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	return s, err
}

func (p *PostgresStore) GetActiveSessions(ctx context.Context, limit int) ([]*Session, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, session_code, user_wallet_address, vendor_wallet_address, vendor_id,
		       start_time, last_billed_time, end_time, rate_per_hour, total_amount_billed,
		       status, created_at, updated_at
		FROM streaming_sessions WHERE status = $1
		ORDER BY last_billed_time ASC
		LIMIT $2`, string(SessionActive), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (p *PostgresStore) UpdateSession(ctx context.Context, s *Session, expectedStatus SessionStatus) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE streaming_sessions SET
			last_billed_time = $1, end_time = $2, total_amount_billed = $3::NUMERIC(28,8),
			status = $4, updated_at = $5
		WHERE id = $6 AND status = $7`,
		s.LastBilledTime, nullTime(s.EndTime), s.TotalAmountBilled.String(),
		string(s.Status), s.UpdatedAt,
		s.ID, string(expectedStatus),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

func (p *PostgresStore) InsertTransaction(ctx context.Context, t *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO billing_transactions (
			id, session_id, user_wallet_address, vendor_wallet_address,
			amount, duration_minutes, tx_hash, status, created_at
		) VALUES ($1, $2, $3, $4, $5::NUMERIC(28,8), $6::NUMERIC(28,8), $7, $8, $9)`,
		t.ID, t.SessionID, t.UserWalletAddress, t.VendorWalletAddress,
		t.Amount.String(), t.DurationMinutes.String(), nullString(t.TxHash), string(t.Status), t.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListTransactionsForSession(ctx context.Context, sessionID string, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, session_id, user_wallet_address, vendor_wallet_address,
		       amount, duration_minutes, tx_hash, status, created_at
		FROM billing_transactions WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) LinkSessionPermission(ctx context.Context, sessionID, permissionID string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO session_permissions (session_id, permission_id, created_at)
		VALUES ($1, $2, $3)`, sessionID, permissionID, time.Now().UTC())
	if isUniqueViolation(err, "session_permissions_pkey") {
		return ErrLinkAlreadyExists
	}
	return err
}

func (p *PostgresStore) GetPermissionIDForSession(ctx context.Context, sessionID string) (string, error) {
	var permissionID string
	err := p.db.QueryRowContext(ctx, `
		SELECT permission_id FROM session_permissions WHERE session_id = $1`, sessionID).Scan(&permissionID)
	if err == sql.ErrNoRows {
		return "", ErrNoPermissionLink
	}
	return permissionID, err
}

func (p *PostgresStore) MarkReceiptConsumed(ctx context.Context, permissionID, txid string) (bool, error) {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO consumed_receipts (permission_id, txid, created_at)
		VALUES ($1, $2, $3)`, permissionID, txid, time.Now().UTC())
	if isUniqueViolation(err, "consumed_receipts_pkey") {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if ok := errorsAsPQ(err, &pqErr); ok {
		return pqErr.Code == "23505" && (constraint == "" || strings.Contains(pqErr.Constraint, constraint))
	}
	return false
}

func errorsAsPQ(err error, target **pq.Error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		*target = pqErr
		return true
	}
	return false
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPermission(row rowScanner) (*Permission, error) {
	var p Permission
	var approved, remaining, rate, maxHours, usedHours string
	var status string
	if err := row.Scan(
		&p.ID, &p.UserWalletAddress, &approved, &remaining,
		&rate, &maxHours, &usedHours,
		&status, &p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.ApprovedAmount = decimal.MustParse(approved)
	p.RemainingAmount = decimal.MustParse(remaining)
	p.RatePerHour = decimal.MustParse(rate)
	p.MaxStreamingHours = decimal.MustParse(maxHours)
	p.UsedStreamingHours = decimal.MustParse(usedHours)
	p.Status = PermissionStatus(status)
	return &p, nil
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var rate, totalBilled string
	var status string
	var endTime sql.NullTime
	if err := row.Scan(
		&s.ID, &s.SessionCode, &s.UserWalletAddress, &s.VendorWalletAddress, &s.VendorID,
		&s.StartTime, &s.LastBilledTime, &endTime, &rate, &totalBilled,
		&status, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if endTime.Valid {
		s.EndTime = &endTime.Time
	}
	s.RatePerHour = decimal.MustParse(rate)
	s.TotalAmountBilled = decimal.MustParse(totalBilled)
	s.Status = SessionStatus(status)
	return &s, nil
}

func scanSessions(rows *sql.Rows) ([]*Session, error) {
	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var t Transaction
	var amount, duration string
	var status string
	var txHash sql.NullString
	if err := row.Scan(
		&t.ID, &t.SessionID, &t.UserWalletAddress, &t.VendorWalletAddress,
		&amount, &duration, &txHash, &status, &t.CreatedAt,
	); err != nil {
		return nil, err
	}
	t.Amount = decimal.MustParse(amount)
	t.DurationMinutes = decimal.MustParse(duration)
	t.TxHash = txHash.String
	t.Status = TransactionStatus(status)
	return &t, nil
}
