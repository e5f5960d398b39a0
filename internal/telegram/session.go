// Package telegram owns the MTProto sessions. One Session wraps one
// credential's gotd client; the Manager keeps one Session per credential
// and hands them out to the RPC server and to direct-mode sync runs.
package telegram

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"

	"tgmirror/internal/errs"
	"tgmirror/internal/models"
)

const connectTimeout = 30 * time.Second

// Session is one live connection for one credential. All control-plane
// calls go through WithSession, which serializes them; byte transfers
// (downloads, hash probes) run outside the lock so a large file does not
// starve other callers.
type Session struct {
	cred       models.Credential
	sessionDir string
	mediaDir   string
	log        *zap.Logger

	client *telegram.Client
	api    *tg.Client

	mu         sync.Mutex
	cancel     context.CancelFunc
	ready      chan struct{}
	done       chan struct{}
	runErr     error
	connected  atomic.Bool
	authorized atomic.Bool
	lastUsed   atomic.Int64
}

func NewSession(cred models.Credential, sessionDir, mediaDir string, log *zap.Logger) *Session {
	return &Session{
		cred:       cred,
		sessionDir: sessionDir,
		mediaDir:   mediaDir,
		log:        log.With(zap.Int64("credential", cred.ID)),
	}
}

// Start connects in the background and waits until the transport is up.
// An unauthenticated credential still starts successfully; calls through
// WithSession then fail with ErrAuthRequired until an operator logs in.
func (s *Session) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.sessionDir, 0o755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	storage := &session.FileStorage{
		Path: filepath.Join(s.sessionDir, fmt.Sprintf("session_%d.json", s.cred.ID)),
	}

	client := telegram.NewClient(s.cred.APIID, s.cred.APIHash, telegram.Options{
		Logger:         s.log.Named("gotd"),
		SessionStorage: storage,
	})
	s.client = client

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.ready = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		err := client.Run(runCtx, func(ctx context.Context) error {
			s.api = client.API()
			status, err := client.Auth().Status(ctx)
			if err != nil {
				return fmt.Errorf("auth status: %w", err)
			}
			s.authorized.Store(status.Authorized)
			s.connected.Store(true)
			close(s.ready)

			<-ctx.Done()
			s.connected.Store(false)
			return nil
		})
		if err != nil && runCtx.Err() == nil {
			s.log.Error("session terminated", zap.Error(err))
		}
		s.runErr = err
		s.connected.Store(false)
	}()

	select {
	case <-s.ready:
		return nil
	case <-s.done:
		cancel()
		return fmt.Errorf("%w: %v", errs.ErrConnectFailed, s.runErr)
	case <-time.After(connectTimeout):
		cancel()
		return errs.ErrConnectFailed
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

func (s *Session) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Session) Connected() bool  { return s.connected.Load() }
func (s *Session) Authorized() bool { return s.authorized.Load() }

func (s *Session) Status() models.ClientStatus {
	return models.ClientStatus{
		ID:        s.cred.ID,
		Phone:     s.cred.PhoneNumber,
		Connected: s.connected.Load(),
		Primary:   s.cred.Primary,
		LastUsed:  s.lastUsed.Load(),
	}
}

// Authenticate runs the interactive login flow for this credential.
func (s *Session) Authenticate(ctx context.Context, ua auth.UserAuthenticator) error {
	flow := auth.NewFlow(ua, auth.SendCodeOptions{})
	if err := s.client.Auth().IfNecessary(ctx, flow); err != nil {
		return err
	}
	s.authorized.Store(true)
	return nil
}

// WithSession runs fn against the raw API, serialized with every other
// control-plane call on this credential. If the transport drops mid-call
// the session is restarted once and fn retried; a second failure surfaces
// as ErrSessionLost.
func (s *Session) WithSession(ctx context.Context, fn func(context.Context, *tg.Client) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authorized.Load() {
		return errs.ErrAuthRequired
	}
	if !s.connected.Load() {
		if err := s.restart(ctx); err != nil {
			return err
		}
	}
	s.lastUsed.Store(time.Now().Unix())

	err := fn(ctx, s.api)
	if err != nil && !s.connected.Load() && ctx.Err() == nil {
		if rerr := s.restart(ctx); rerr != nil {
			return fmt.Errorf("%w: %v", errs.ErrSessionLost, err)
		}
		err = fn(ctx, s.api)
		if err != nil && !s.connected.Load() {
			return fmt.Errorf("%w: %v", errs.ErrSessionLost, err)
		}
	}
	return wrapErr(err)
}

func (s *Session) restart(ctx context.Context) error {
	s.log.Warn("restarting session")
	s.Stop()
	return s.Start(ctx)
}

// wrapErr maps raw MTProto errors onto the shared taxonomy.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return &errs.FloodWait{Seconds: int(d.Seconds())}
	}
	if tgerr.Is(err, "AUTH_KEY_UNREGISTERED", "SESSION_REVOKED", "SESSION_EXPIRED") {
		return errs.ErrAuthRequired
	}
	return err
}
