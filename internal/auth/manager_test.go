package auth

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshly/keshly/internal/common"
)

type fakeAuth struct {
	mu         sync.Mutex
	user       UserInfo
	ttl        time.Duration
	refreshErr error
	refreshes  int
}

func (f *fakeAuth) session(tag string) *Session {
	return &Session{
		AccessToken:  "access-" + tag,
		RefreshToken: "refresh-" + tag,
		ExpiresAt:    time.Now().Add(f.ttl),
		User:         f.user,
	}
}

func (f *fakeAuth) SignUp(_ context.Context, in SignUpInput) (*Session, error) {
	if in.Email == "pending@example.com" {
		return nil, nil
	}
	return f.session("signup"), nil
}

func (f *fakeAuth) SignIn(_ context.Context, email, password string) (*Session, error) {
	if password != "ok" {
		return nil, ErrInvalidCredentials
	}
	return f.session("signin"), nil
}

func (f *fakeAuth) Refresh(_ context.Context, _ string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.session("refreshed"), nil
}

func (f *fakeAuth) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

type eventLog struct {
	mu     sync.Mutex
	events []AuthEvent
}

func (l *eventLog) listener(e AuthEvent, _ *Session) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []AuthEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]AuthEvent(nil), l.events...)
}

func openStore(t *testing.T, path string) SessionStore {
	t.Helper()
	store, err := OpenSessionStore(path)
	require.NoError(t, err)
	return store
}

func TestManagerSignInPersistsSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.db")
	auth := &fakeAuth{user: UserInfo{ID: uuid.New(), Email: "a@example.com"}, ttl: time.Hour}
	ctx := context.Background()

	store := openStore(t, path)
	m := NewManager(auth, store, quietLogger())
	_, err := m.CurrentUser(ctx)
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	_, err = m.SignIn(ctx, "a@example.com", "bad")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	s, err := m.SignIn(ctx, "a@example.com", "ok")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened := openStore(t, path)
	defer reopened.Close()
	m2 := NewManager(auth, reopened, quietLogger())
	got, err := m2.Session(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.AccessToken, got.AccessToken)
	id, err := m2.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, auth.user.ID, id)

	require.NoError(t, m2.SignOut())
	got, err = m2.Session(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestManagerNotifiesListeners(t *testing.T) {
	auth := &fakeAuth{user: UserInfo{ID: uuid.New()}, ttl: time.Hour}
	store := openStore(t, filepath.Join(t.TempDir(), "s.db"))
	defer store.Close()
	m := NewManager(auth, store, quietLogger())
	ctx := context.Background()

	var log eventLog
	unsubscribe := m.OnAuthStateChange(log.listener)

	_, err := m.SignUp(ctx, SignUpInput{Email: "pending@example.com"})
	require.NoError(t, err)
	_, err = m.SignIn(ctx, "x", "ok")
	require.NoError(t, err)
	require.NoError(t, m.SignOut())

	unsubscribe()
	unsubscribe()
	_, err = m.SignIn(ctx, "x", "ok")
	require.NoError(t, err)

	assert.Equal(t, []AuthEvent{EventInitialSession, EventSignedIn, EventSignedOut}, log.snapshot())
}

func TestManagerRefreshesExpiredSession(t *testing.T) {
	auth := &fakeAuth{user: UserInfo{ID: uuid.New()}, ttl: -time.Minute}
	store := openStore(t, filepath.Join(t.TempDir(), "s.db"))
	defer store.Close()
	m := NewManager(auth, store, quietLogger())
	ctx := context.Background()

	_, err := m.SignIn(ctx, "x", "ok")
	require.NoError(t, err)

	var log eventLog
	m.OnAuthStateChange(log.listener)

	auth.ttl = time.Hour
	s, err := m.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", s.AccessToken)
	assert.Equal(t, []AuthEvent{EventInitialSession, EventTokenRefreshed}, log.snapshot())
}

func TestManagerRevokedRefreshSignsOut(t *testing.T) {
	auth := &fakeAuth{user: UserInfo{ID: uuid.New()}, ttl: -time.Minute}
	store := openStore(t, filepath.Join(t.TempDir(), "s.db"))
	defer store.Close()
	m := NewManager(auth, store, quietLogger())
	ctx := context.Background()
	_, err := m.SignIn(ctx, "x", "ok")
	require.NoError(t, err)

	auth.refreshErr = ErrTokenExpired
	s, err := m.Session(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	auth.refreshErr = errors.New("network down")
	_, err = m.SignIn(ctx, "x", "ok")
	require.NoError(t, err)
	_, err = m.Session(ctx)
	assert.Error(t, err)
}

func TestManagerAutoRefreshLifecycle(t *testing.T) {
	auth := &fakeAuth{user: UserInfo{ID: uuid.New()}, ttl: 30 * time.Second}
	store := openStore(t, filepath.Join(t.TempDir(), "s.db"))
	defer store.Close()
	m := NewManager(auth, store, quietLogger(),
		WithRefreshInterval(10*time.Millisecond), WithRefreshLeeway(time.Minute))
	_, err := m.SignIn(context.Background(), "x", "ok")
	require.NoError(t, err)

	m.Start()
	m.Start()
	require.Eventually(t, func() bool { return auth.refreshCount() > 0 }, 2*time.Second, 5*time.Millisecond)
	m.Stop()
	m.Stop()

	after := auth.refreshCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, auth.refreshCount(), "no refresh after Stop")
}
