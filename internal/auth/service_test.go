package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/keshly/keshly/internal/common"
	"github.com/keshly/keshly/internal/repository"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type sentMail struct {
	to, subject, body string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (r *recordingMailer) Send(_ context.Context, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sentMail{to, subject, body})
	return nil
}

type fixture struct {
	svc      *Service
	mailer   *recordingMailer
	profiles repository.ProfileRepository
}

func newFixture(t *testing.T, cfg common.AuthConfig) fixture {
	t.Helper()
	dbCfg := repository.Config{Driver: repository.DriverSQLite, DSN: filepath.Join(t.TempDir(), "auth.db")}
	require.NoError(t, repository.Migrate(dbCfg, quietLogger()))
	db, err := repository.Open(context.Background(), dbCfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(quietLogger()) })

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "test-secret"
	}
	cfg.Issuer = "keshly-test"
	mailer := &recordingMailer{}
	profiles := repository.NewProfileRepository(db, quietLogger())
	svc := NewService(cfg, repository.NewUserRepository(db, quietLogger()), profiles, mailer, quietLogger(),
		WithBcryptCost(bcrypt.MinCost))
	return fixture{svc: svc, mailer: mailer, profiles: profiles}
}

func TestSignUpSignInRefresh(t *testing.T) {
	f := newFixture(t, common.AuthConfig{})
	ctx := context.Background()

	s, err := f.svc.SignUp(ctx, SignUpInput{Email: " Ana@Example.com ", Password: "secret1", FullName: "Ana"})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "ana@example.com", s.User.Email)
	assert.Empty(t, f.mailer.sent)

	p, err := f.profiles.GetByID(ctx, s.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", p.FullName)

	uid, err := f.svc.Authenticate(s.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, s.User.ID, uid)

	_, err = f.svc.Authenticate(s.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenInvalid, "refresh token is not an access token")

	signed, err := f.svc.SignIn(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, s.User.ID, signed.User.ID)

	_, err = f.svc.SignIn(ctx, "ana@example.com", "wrong-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	_, err = f.svc.SignIn(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	refreshed, err := f.svc.Refresh(ctx, signed.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, s.User.ID, refreshed.User.ID)
	assert.NotEqual(t, signed.AccessToken, refreshed.AccessToken)
}

func TestSignUpValidationAndConflict(t *testing.T) {
	f := newFixture(t, common.AuthConfig{})
	ctx := context.Background()

	_, err := f.svc.SignUp(ctx, SignUpInput{Email: "not-an-email", Password: "secret1"})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.svc.SignUp(ctx, SignUpInput{Email: "a@example.com", Password: "123"})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.svc.SignUp(ctx, SignUpInput{Email: "a@example.com", Password: "secret1"})
	require.NoError(t, err)
	_, err = f.svc.SignUp(ctx, SignUpInput{Email: "A@example.com", Password: "secret2"})
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, common.CodeAuth, appErr.Code)
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestConfirmationFlow(t *testing.T) {
	f := newFixture(t, common.AuthConfig{RequireConfirmation: true, ConfirmURL: "https://keshly.test/confirm"})
	ctx := context.Background()

	s, err := f.svc.SignUp(ctx, SignUpInput{Email: "c@example.com", Password: "secret1", FullName: "C"})
	require.NoError(t, err)
	assert.Nil(t, s, "no session until confirmed")
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "c@example.com", f.mailer.sent[0].to)

	_, err = f.svc.SignIn(ctx, "c@example.com", "secret1")
	assert.ErrorIs(t, err, ErrNotConfirmed)

	body := f.mailer.sent[0].body
	start := strings.Index(body, "?token=") + len("?token=")
	end := strings.Index(body[start:], `"`)
	token, err := url.QueryUnescape(body[start : start+end])
	require.NoError(t, err)

	require.NoError(t, f.svc.Confirm(ctx, token))
	signed, err := f.svc.SignIn(ctx, "c@example.com", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, signed.AccessToken)

	assert.ErrorIs(t, f.svc.Confirm(ctx, signed.AccessToken), ErrTokenInvalid)
}

func TestConfirmationMailFailure(t *testing.T) {
	f := newFixture(t, common.AuthConfig{RequireConfirmation: true})
	f.mailer.err = errors.New("smtp down")

	_, err := f.svc.SignUp(context.Background(), SignUpInput{Email: "m@example.com", Password: "secret1"})
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, common.CodeAuth, appErr.Code)
}

func TestExpiredAndForeignTokens(t *testing.T) {
	past := func() time.Time { return time.Now().Add(-3 * time.Hour) }
	f := newFixture(t, common.AuthConfig{AccessTTL: time.Hour})
	ctx := context.Background()
	s, err := f.svc.SignUp(ctx, SignUpInput{Email: "e@example.com", Password: "secret1"})
	require.NoError(t, err)

	old := NewService(f.svc.cfg, f.svc.users, f.svc.profiles, f.mailer, quietLogger(), WithClock(past))
	stale, err := old.newSession(entityUser(s))
	require.NoError(t, err)
	_, err = f.svc.Authenticate(stale.AccessToken)
	assert.ErrorIs(t, err, ErrTokenExpired)

	other := newFixture(t, common.AuthConfig{JWTSecret: "another-secret"})
	_, err = other.svc.Authenticate(s.AccessToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = f.svc.Authenticate("garbage")
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}
