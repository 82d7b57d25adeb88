package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/keshly/keshly/internal/entity"
)

const tableUser = "users"

type UserRepository interface {
	// Create returns common.ErrConflict when the email is taken.
	Create(ctx context.Context, u entity.User) error
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.User, error)
	Confirm(ctx context.Context, id uuid.UUID, at time.Time) error
}

type userRepository struct {
	drv     *entsql.Driver
	dialect string
	logger  *slog.Logger
}

func NewUserRepository(db *DB, logger *slog.Logger) UserRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &userRepository{drv: db.Driver, dialect: db.Dialect, logger: logger}
}

func (r *userRepository) Create(ctx context.Context, u entity.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	var confirmed any
	if u.ConfirmedAt != nil {
		confirmed = *u.ConfirmedAt
	}
	query, args := entsql.Dialect(r.dialect).
		Insert(tableUser).
		Columns("id", "email", "password_hash", "full_name", "confirmed_at", "created_at").
		Values(u.ID, strings.ToLower(strings.TrimSpace(u.Email)), u.PasswordHash, u.FullName, confirmed, u.CreatedAt).
		Query()
	if err := r.drv.Exec(ctx, query, args, nil); err != nil {
		r.logger.Error("failed to create user", "email", u.Email, "error", err)
		return classify(err)
	}
	return nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.getOne(ctx, entsql.EQ("email", strings.ToLower(strings.TrimSpace(email))))
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	return r.getOne(ctx, entsql.EQ("id", id))
}

func (r *userRepository) getOne(ctx context.Context, pred *entsql.Predicate) (*entity.User, error) {
	query, args := entsql.Dialect(r.dialect).
		Select("id", "email", "password_hash", "full_name", "confirmed_at", "created_at").
		From(entsql.Table(tableUser)).
		Where(pred).
		Limit(1).
		Query()

	rows := &entsql.Rows{}
	if err := r.drv.Query(ctx, query, args, rows); err != nil {
		r.logger.Error("failed to query user", "error", err)
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, classify(sql.ErrNoRows)
	}
	var (
		u         entity.User
		confirmed sql.NullTime
	)
	if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &confirmed, &u.CreatedAt); err != nil {
		return nil, err
	}
	if confirmed.Valid {
		t := confirmed.Time
		u.ConfirmedAt = &t
	}
	return &u, nil
}

func (r *userRepository) Confirm(ctx context.Context, id uuid.UUID, at time.Time) error {
	query, args := entsql.Dialect(r.dialect).
		Update(tableUser).
		Set("confirmed_at", at).
		Where(entsql.EQ("id", id)).
		Query()
	if err := r.drv.Exec(ctx, query, args, nil); err != nil {
		r.logger.Error("failed to confirm user", "user_id", id, "error", err)
		return err
	}
	return nil
}
