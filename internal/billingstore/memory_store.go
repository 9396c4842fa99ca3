package billingstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and local development.
// It is not safe across replicas: the expectedStatus fencing it implements
// exists to exercise the same call contract PostgresStore honors, not to
// provide real multi-writer safety.
type MemoryStore struct {
	mu sync.Mutex

	permissions map[string]*Permission
	byWallet    map[string]string // wallet -> active permission ID

	sessions     map[string]*Session
	sessionCodes map[string]string // code -> session ID

	transactions map[string][]*Transaction // session ID -> transactions

	links    map[string]string // session ID -> permission ID
	receipts map[string]bool   // permissionID|txid -> consumed
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		permissions:  make(map[string]*Permission),
		byWallet:     make(map[string]string),
		sessions:     make(map[string]*Session),
		sessionCodes: make(map[string]string),
		transactions: make(map[string][]*Transaction),
		links:        make(map[string]string),
		receipts:     make(map[string]bool),
	}
}

func copyPermission(p *Permission) *Permission {
	cp := *p
	return &cp
}

func copySession(s *Session) *Session {
	cp := *s
	if s.EndTime != nil {
		t := *s.EndTime
		cp.EndTime = &t
	}
	return &cp
}

func (m *MemoryStore) InsertPermission(ctx context.Context, p *Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Status == PermissionActive {
		if existing, ok := m.byWallet[p.UserWalletAddress]; ok && existing != p.ID {
			return ErrWalletAlreadyActive
		}
	}
	m.permissions[p.ID] = copyPermission(p)
	if p.Status == PermissionActive {
		m.byWallet[p.UserWalletAddress] = p.ID
	}
	return nil
}

func (m *MemoryStore) GetPermission(ctx context.Context, id string) (*Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.permissions[id]
	if !ok {
		return nil, ErrPermissionNotFound
	}
	return copyPermission(p), nil
}

func (m *MemoryStore) GetActivePermissionByWallet(ctx context.Context, wallet string) (*Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byWallet[wallet]
	if !ok {
		return nil, ErrNoActivePermission
	}
	p, ok := m.permissions[id]
	if !ok || p.Status != PermissionActive {
		return nil, ErrNoActivePermission
	}
	return copyPermission(p), nil
}

func (m *MemoryStore) UpdatePermission(ctx context.Context, p *Permission, expectedStatus PermissionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.permissions[p.ID]
	if !ok {
		return ErrPermissionNotFound
	}
	if current.Status != expectedStatus {
		return ErrConcurrentUpdate
	}
	if current.Status == PermissionActive && p.Status != PermissionActive {
		delete(m.byWallet, current.UserWalletAddress)
	}
	if p.Status == PermissionActive {
		if existing, ok := m.byWallet[p.UserWalletAddress]; ok && existing != p.ID {
			return ErrWalletAlreadyActive
		}
		m.byWallet[p.UserWalletAddress] = p.ID
	}
	m.permissions[p.ID] = copyPermission(p)
	return nil
}

func (m *MemoryStore) MarkExpiredPermissions(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, p := range m.permissions {
		if p.Status == PermissionActive && !now.Before(p.ExpiresAt) {
			p.Status = PermissionExpired
			p.UpdatedAt = now
			delete(m.byWallet, p.UserWalletAddress)
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) InsertSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessionCodes[s.SessionCode]; ok {
		return ErrDuplicateCode
	}
	m.sessions[s.ID] = copySession(s)
	m.sessionCodes[s.SessionCode] = s.ID
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return copySession(s), nil
}

func (m *MemoryStore) GetSessionByCode(ctx context.Context, code string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.sessionCodes[code]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return copySession(m.sessions[id]), nil
}

func (m *MemoryStore) GetActiveSessions(ctx context.Context, limit int) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, limit)
	for _, s := range m.sessions {
		if s.Status == SessionActive {
			out = append(out, copySession(s))
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, s *Session, expectedStatus SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[s.ID]
	if !ok {
		return ErrSessionNotFound
	}
	if current.Status != expectedStatus {
		return ErrConcurrentUpdate
	}
	m.sessions[s.ID] = copySession(s)
	return nil
}

func (m *MemoryStore) InsertTransaction(ctx context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.transactions[t.SessionID] = append(m.transactions[t.SessionID], &cp)
	return nil
}

func (m *MemoryStore) ListTransactionsForSession(ctx context.Context, sessionID string, limit int) ([]*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.transactions[sessionID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]*Transaction, limit)
	for i := 0; i < limit; i++ {
		cp := *all[len(all)-limit+i]
		out[i] = &cp
	}
	return out, nil
}

func (m *MemoryStore) LinkSessionPermission(ctx context.Context, sessionID, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.links[sessionID]; ok {
		return ErrLinkAlreadyExists
	}
	m.links[sessionID] = permissionID
	return nil
}

func (m *MemoryStore) GetPermissionIDForSession(ctx context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.links[sessionID]
	if !ok {
		return "", ErrNoPermissionLink
	}
	return id, nil
}

func (m *MemoryStore) MarkReceiptConsumed(ctx context.Context, permissionID, txid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := permissionID + "|" + txid
	if m.receipts[key] {
		return false, nil
	}
	m.receipts[key] = true
	return true, nil
}
