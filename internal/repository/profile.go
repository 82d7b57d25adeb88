package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/keshly/keshly/internal/entity"
)

const tableProfile = "profiles"

type ProfileRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Profile, error)
	Upsert(ctx context.Context, p entity.Profile) error
}

type profileRepository struct {
	drv     *entsql.Driver
	dialect string
	logger  *slog.Logger
}

func NewProfileRepository(db *DB, logger *slog.Logger) ProfileRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &profileRepository{drv: db.Driver, dialect: db.Dialect, logger: logger}
}

func (r *profileRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Profile, error) {
	query, args := entsql.Dialect(r.dialect).
		Select("id", "full_name", "updated_at").
		From(entsql.Table(tableProfile)).
		Where(entsql.EQ("id", id)).
		Query()

	rows := &entsql.Rows{}
	if err := r.drv.Query(ctx, query, args, rows); err != nil {
		r.logger.Error("failed to query profile", "user_id", id, "error", err)
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
		p    entity.Profile
		name sql.NullString
	)
	if err := rows.Scan(&p.ID, &name, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.FullName = name.String
	return &p, nil
}

func (r *profileRepository) Upsert(ctx context.Context, p entity.Profile) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	query, args := entsql.Dialect(r.dialect).
		Insert(tableProfile).
		Columns("id", "full_name", "updated_at").
		Values(p.ID, p.FullName, p.UpdatedAt).
		OnConflict(
			entsql.ConflictColumns("id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded("full_name")
				u.SetExcluded("updated_at")
			}),
		).
		Query()

	if err := r.drv.Exec(ctx, query, args, nil); err != nil {
		r.logger.Error("failed to upsert profile", "user_id", p.ID, "error", err)
		return classify(err)
	}
	return nil
}
