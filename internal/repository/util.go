package repository

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/keshly/keshly/internal/common"
)

// classify maps driver errors onto application sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return common.ErrConflict
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return common.ErrConflict
	}
	return err
}
