package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keshly/keshly/internal/common"
)

// AuthEvent names a session transition delivered to listeners.
type AuthEvent string

const (
	EventInitialSession AuthEvent = "INITIAL_SESSION"
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

type Listener func(event AuthEvent, s *Session)

type notification struct {
	event     AuthEvent
	session   *Session
	listeners []Listener
}

// Manager keeps the client session, persists it and refreshes it while started.
type Manager struct {
	auth     Authenticator
	store    SessionStore
	logger   *slog.Logger
	now      func() time.Time
	interval time.Duration
	leeway   time.Duration

	mu        sync.Mutex
	session   *Session
	loaded    bool
	listeners map[uint64]Listener
	nextID    uint64

	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}
}

type ManagerOption func(*Manager)

func WithRefreshInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithRefreshLeeway refreshes tokens this long before they expire.
func WithRefreshLeeway(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d >= 0 {
			m.leeway = d
		}
	}
}

func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(auth Authenticator, store SessionStore, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		auth:      auth,
		store:     store,
		logger:    logger,
		now:       time.Now,
		interval:  30 * time.Second,
		leeway:    time.Minute,
		listeners: make(map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Session returns the current session, refreshing it when expired. A nil
// session with nil error means signed out.
func (m *Manager) Session(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if err := m.loadLocked(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	var (
		note *notification
		err  error
	)
	if m.session != nil && m.session.Expired(m.now(), 0) {
		note, err = m.refreshLocked(ctx)
	}
	s := m.session
	m.mu.Unlock()

	m.dispatch(note)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CurrentUser returns the signed-in user or common.ErrUnauthorized.
func (m *Manager) CurrentUser(ctx context.Context) (uuid.UUID, error) {
	s, err := m.Session(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	if s == nil {
		return uuid.Nil, common.ErrUnauthorized
	}
	return s.User.ID, nil
}

func (m *Manager) SignIn(ctx context.Context, email, password string) (*Session, error) {
	s, err := m.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := m.replace(s, EventSignedIn); err != nil {
		return nil, err
	}
	return s, nil
}

// SignUp registers an account. A nil session means a confirmation mail was sent.
func (m *Manager) SignUp(ctx context.Context, in SignUpInput) (*Session, error) {
	s, err := m.auth.SignUp(ctx, in)
	if err != nil || s == nil {
		return nil, err
	}
	if err := m.replace(s, EventSignedIn); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) SignOut() error {
	return m.replace(nil, EventSignedOut)
}

func (m *Manager) replace(s *Session, event AuthEvent) error {
	m.mu.Lock()
	if err := m.persistLocked(s); err != nil {
		m.mu.Unlock()
		return err
	}
	m.loaded = true
	m.session = s
	note := m.notificationLocked(event)
	m.mu.Unlock()

	m.dispatch(note)
	return nil
}

// OnAuthStateChange registers fn and immediately delivers the current
// session as EventInitialSession. The returned func unsubscribes.
func (m *Manager) OnAuthStateChange(fn Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	if err := m.loadLocked(); err != nil {
		m.logger.Warn("auth.session.load_failed", "error", err)
	}
	s := m.session
	m.mu.Unlock()

	fn(EventInitialSession, s)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Start begins background token refresh. Calling it twice is a no-op.
func (m *Manager) Start() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop(m.stop, m.done)
	m.logger.Debug("auth.autorefresh.started", "interval", m.interval)
}

// Stop halts background refresh and waits for the loop to exit.
func (m *Manager) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stop == nil {
		return
	}
	close(m.stop)
	<-m.done
	m.stop, m.done = nil, nil
	m.logger.Debug("auth.autorefresh.stopped")
}

func (m *Manager) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := m.refreshIfNeeded(context.Background()); err != nil {
				m.logger.Warn("auth.autorefresh.failed", "error", err)
			}
		}
	}
}

func (m *Manager) refreshIfNeeded(ctx context.Context) error {
	m.mu.Lock()
	if err := m.loadLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	var (
		note *notification
		err  error
	)
	if m.session != nil && m.session.Expired(m.now(), m.leeway) {
		note, err = m.refreshLocked(ctx)
	}
	m.mu.Unlock()
	m.dispatch(note)
	return err
}

// refreshLocked exchanges the refresh token. A rejected token signs the user out.
func (m *Manager) refreshLocked(ctx context.Context) (*notification, error) {
	s, err := m.auth.Refresh(ctx, m.session.RefreshToken)
	if err != nil {
		if errors.Is(err, common.ErrUnauthorized) {
			m.logger.Info("auth.session.revoked", "user_id", m.session.User.ID, "error", err)
			if perr := m.persistLocked(nil); perr != nil {
				return nil, perr
			}
			m.session = nil
			return m.notificationLocked(EventSignedOut), nil
		}
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	if err := m.persistLocked(s); err != nil {
		return nil, err
	}
	m.session = s
	m.logger.Debug("auth.session.refreshed", "user_id", s.User.ID, "expires_at", s.ExpiresAt)
	return m.notificationLocked(EventTokenRefreshed), nil
}

func (m *Manager) loadLocked() error {
	if m.loaded {
		return nil
	}
	s, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	m.session = s
	m.loaded = true
	return nil
}

func (m *Manager) persistLocked(s *Session) error {
	var err error
	if s == nil {
		err = m.store.Clear()
	} else {
		err = m.store.Save(s)
	}
	if err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

func (m *Manager) notificationLocked(event AuthEvent) *notification {
	ls := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		ls = append(ls, l)
	}
	return &notification{event: event, session: m.session, listeners: ls}
}

func (m *Manager) dispatch(n *notification) {
	if n == nil {
		return
	}
	for _, l := range n.listeners {
		l(n.event, n.session)
	}
}
