package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"tgmirror/internal/database"
	"tgmirror/internal/errs"
	"tgmirror/internal/models"
)

// Manager holds one Session per stored credential. The daemon builds one
// Manager at startup; RPC requests address sessions by credential id,
// where id 0 means the primary credential.
type Manager struct {
	db         *database.DB
	sessionDir string
	mediaDir   string
	log        *zap.Logger

	mu       sync.RWMutex
	sessions map[int64]*Session
	primary  int64
}

func NewManager(db *database.DB, sessionDir, mediaDir string, log *zap.Logger) *Manager {
	return &Manager{
		db:         db,
		sessionDir: sessionDir,
		mediaDir:   mediaDir,
		log:        log,
		sessions:   make(map[int64]*Session),
	}
}

// Start connects every stored credential. A credential that cannot connect
// after retries is logged and skipped; at least one session must come up.
func (m *Manager) Start(ctx context.Context) error {
	creds, err := m.db.Credentials()
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if len(creds) == 0 {
		return fmt.Errorf("no credentials stored, add one first")
	}

	for _, cred := range creds {
		sess := NewSession(cred, m.sessionDir, m.mediaDir, m.log)
		if err := m.startWithRetry(ctx, sess); err != nil {
			m.log.Error("credential failed to connect, skipping",
				zap.Int64("credential", cred.ID), zap.Error(err))
			continue
		}
		if !sess.Authorized() {
			m.log.Warn("credential is not authenticated, calls will be rejected",
				zap.Int64("credential", cred.ID))
		}

		m.mu.Lock()
		m.sessions[cred.ID] = sess
		if cred.Primary || m.primary == 0 {
			m.primary = cred.ID
		}
		m.mu.Unlock()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.sessions) == 0 {
		return errs.ErrConnectFailed
	}
	m.log.Info("sessions started",
		zap.Int("count", len(m.sessions)), zap.Int64("primary", m.primary))
	return nil
}

func (m *Manager) startWithRetry(ctx context.Context, sess *Session) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Second
	policy.MaxInterval = 30 * time.Second
	return backoff.Retry(func() error {
		return sess.Start(ctx)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, 4), ctx))
}

// Get returns the session for a credential id; 0 selects the primary.
func (m *Manager) Get(credID int64) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if credID == 0 {
		credID = m.primary
	}
	sess, ok := m.sessions[credID]
	if !ok {
		return nil, fmt.Errorf("no session for credential %d", credID)
	}
	return sess, nil
}

// Clients reports the state of every managed session.
func (m *Manager) Clients() []models.ClientStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ClientStatus, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.Status())
	}
	return out
}

func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sess := range m.sessions {
		sess.Stop()
	}
	m.sessions = make(map[int64]*Session)
}

// DirectSession connects the primary credential without a daemon. Sync
// processes use this as the fallback transport when the daemon is down.
func DirectSession(ctx context.Context, db *database.DB, sessionDir, mediaDir string, log *zap.Logger) (*Session, error) {
	cred, err := db.PrimaryCredential()
	if err != nil {
		return nil, fmt.Errorf("load primary credential: %w", err)
	}
	sess := NewSession(*cred, sessionDir, mediaDir, log)
	if err := sess.Start(ctx); err != nil {
		return nil, err
	}
	if !sess.Authorized() {
		sess.Stop()
		return nil, errs.ErrAuthRequired
	}
	return sess, nil
}
