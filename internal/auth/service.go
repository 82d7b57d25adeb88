package auth

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/keshly/keshly/internal/common"
	"github.com/keshly/keshly/internal/entity"
	"github.com/keshly/keshly/internal/repository"
)

var (
	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", common.ErrUnauthorized)
	ErrNotConfirmed       = fmt.Errorf("%w: email not confirmed", common.ErrUnauthorized)
)

const confirmTTL = 48 * time.Hour

// UserInfo is the public part of an account carried by a session.
type UserInfo struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
}

// Session is an authenticated token pair.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         UserInfo  `json:"user"`
}

// Expired reports whether the access token is past (or within leeway of) expiry.
func (s *Session) Expired(now time.Time, leeway time.Duration) bool {
	return s == nil || !now.Add(leeway).Before(s.ExpiresAt)
}

// SignUpInput is the registration payload.
type SignUpInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	FullName string `json:"full_name" validate:"max=200"`
}

// Authenticator is the client-facing part of Service.
type Authenticator interface {
	SignUp(ctx context.Context, in SignUpInput) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
}

// Service owns accounts and token issuance.
type Service struct {
	cfg        common.AuthConfig
	users      repository.UserRepository
	profiles   repository.ProfileRepository
	mailer     Mailer
	tokens     *tokenIssuer
	bcryptCost int
	now        func() time.Time
	logger     *slog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
			s.tokens.now = now
		}
	}
}

func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.bcryptCost = cost
		}
	}
}

func NewService(cfg common.AuthConfig, users repository.UserRepository, profiles repository.ProfileRepository, mailer Mailer, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if mailer == nil {
		mailer = NewNopMailer(logger)
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	s := &Service{
		cfg:        cfg,
		users:      users,
		profiles:   profiles,
		mailer:     mailer,
		tokens:     &tokenIssuer{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer, now: time.Now},
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignUp creates the user and its profile. When confirmation is required a
// confirmation mail is sent and the returned session is nil.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*Session, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FullName = strings.TrimSpace(in.FullName)
	if err := common.ValidateStruct(in); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	user := entity.User{
		ID:           uuid.New(),
		Email:        in.Email,
		PasswordHash: string(hash),
		FullName:     in.FullName,
		CreatedAt:    now,
	}
	if !s.cfg.RequireConfirmation {
		user.ConfirmedAt = &now
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, common.ErrConflict) {
			return nil, common.NewAppError(common.CodeAuth, "email already registered", err)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	if err := s.profiles.Upsert(ctx, entity.Profile{ID: user.ID, FullName: in.FullName, UpdatedAt: now}); err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	s.logger.Info("auth.signup", "user_id", user.ID, "confirmation", s.cfg.RequireConfirmation)

	if s.cfg.RequireConfirmation {
		if err := s.sendConfirmation(ctx, user); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return s.newSession(user)
}

func (s *Service) sendConfirmation(ctx context.Context, user entity.User) error {
	token, _, err := s.tokens.issue(user.ID, TokenConfirm, confirmTTL)
	if err != nil {
		return err
	}
	link := token
	if s.cfg.ConfirmURL != "" {
		link = s.cfg.ConfirmURL + "?token=" + url.QueryEscape(token)
	}
	body := fmt.Sprintf(`<p>Zdravo %s,</p><p>Potvrdite nalog: <a href="%s">%s</a></p>`,
		html.EscapeString(user.FullName), html.EscapeString(link), html.EscapeString(link))
	if err := s.mailer.Send(ctx, user.Email, "Potvrda naloga", body); err != nil {
		return common.NewAppError(common.CodeAuth, "confirmation mail failed", err)
	}
	return nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Warn("auth.signin.rejected", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}
	if s.cfg.RequireConfirmation && !user.Confirmed() {
		return nil, ErrNotConfirmed
	}
	s.logger.Info("auth.signin", "user_id", user.ID)
	return s.newSession(*user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	claims, err := s.tokens.parse(refreshToken, TokenRefresh)
	if err != nil {
		return nil, err
	}
	id, err := claims.Subject()
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return s.newSession(*user)
}

// Confirm marks the account referenced by a confirmation token as confirmed.
func (s *Service) Confirm(ctx context.Context, token string) error {
	claims, err := s.tokens.parse(token, TokenConfirm)
	if err != nil {
		return err
	}
	id, err := claims.Subject()
	if err != nil {
		return err
	}
	if _, err := s.users.GetByID(ctx, id); err != nil {
		return err
	}
	if err := s.users.Confirm(ctx, id, s.now().UTC()); err != nil {
		return fmt.Errorf("confirm user: %w", err)
	}
	s.logger.Info("auth.confirmed", "user_id", id)
	return nil
}

// Authenticate validates an access token and returns the user it belongs to.
func (s *Service) Authenticate(accessToken string) (uuid.UUID, error) {
	claims, err := s.tokens.parse(strings.TrimSpace(accessToken), TokenAccess)
	if err != nil {
		return uuid.Nil, err
	}
	return claims.Subject()
}

func (s *Service) newSession(user entity.User) (*Session, error) {
	access, exp, err := s.tokens.issue(user.ID, TokenAccess, s.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, _, err := s.tokens.issue(user.ID, TokenRefresh, s.cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    exp,
		User:         UserInfo{ID: user.ID, Email: user.Email, FullName: user.FullName},
	}, nil
}
