package profiles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/keshly/keshly/internal/common"
	"github.com/keshly/keshly/internal/entity"
	"github.com/keshly/keshly/internal/repository"
)

const maxNameLen = 200

// Service handles profile business logic.
type Service struct {
	profileRepo repository.ProfileRepository
	now         func() time.Time
	logger      *slog.Logger
}

// NewService creates a new profile service.
func NewService(profileRepo repository.ProfileRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		profileRepo: profileRepo,
		now:         time.Now,
		logger:      logger,
	}
}

// Get returns the user's profile. A user without a profile row gets an
// empty one.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*entity.Profile, error) {
	p, err := s.profileRepo.GetByID(ctx, userID)
	if errors.Is(err, common.ErrNotFound) {
		return &entity.Profile{ID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// UpdateName sets the display name shown on the home view.
func (s *Service) UpdateName(ctx context.Context, userID uuid.UUID, fullName string) (*entity.Profile, error) {
	name := strings.TrimSpace(fullName)
	if name == "" {
		return nil, fmt.Errorf("%w: full name is required", common.ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return nil, fmt.Errorf("%w: full name is longer than %d characters", common.ErrInvalidInput, maxNameLen)
	}

	p := entity.Profile{ID: userID, FullName: name, UpdatedAt: s.now().UTC()}
	if err := s.profileRepo.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}

	s.logger.Info("profile updated", "user_id", userID)
	return &p, nil
}
