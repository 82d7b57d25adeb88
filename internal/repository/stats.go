package repository

import (
	"context"
	"fmt"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keshly/keshly/constants"
	"github.com/keshly/keshly/internal/entity"
)

// StatsRepository exposes the two spending aggregations.
type StatsRepository interface {
	// CategoryTotals returns one row per category with spending plus a
	// pseudo-row with entity.GrandTotalCategory carrying the overall sum.
	CategoryTotals(ctx context.Context, userID uuid.UUID, from, to string) ([]entity.CategoryTotal, error)
	// MonthlyTotals returns overall spending per YYYY-MM bucket, oldest first.
	MonthlyTotals(ctx context.Context, userID uuid.UUID, from, to string) ([]entity.MonthTotal, error)
}

type statsRepository struct {
	drv     *entsql.Driver
	dialect string
	logger  *slog.Logger
}

func NewStatsRepository(db *DB, logger *slog.Logger) StatsRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &statsRepository{drv: db.Driver, dialect: db.Dialect, logger: logger}
}

// spendingSelector joins artikal to racun for one user and date window.
func (r *statsRepository) spendingSelector(userID uuid.UUID, from, to string, columns ...string) *entsql.Selector {
	a := entsql.Table(tableLineItem).As("a")
	rc := entsql.Table(tableReceipt).As("r")

	preds := []*entsql.Predicate{entsql.EQ(rc.C("kupac"), userID)}
	if from != "" {
		preds = append(preds, entsql.GTE(rc.C("datum"), from))
	}
	if to != "" {
		preds = append(preds, entsql.LTE(rc.C("datum"), to))
	}

	return entsql.Dialect(r.dialect).
		Select(columns...).
		From(a).
		Join(rc).On(a.C("racun_id"), rc.C("id")).
		Where(entsql.And(preds...))
}

func lineTotalSum(a *entsql.SelectTable) string {
	return fmt.Sprintf("COALESCE(SUM(%s * %s), 0)", a.C("cena"), a.C("kolicina"))
}

func (r *statsRepository) CategoryTotals(ctx context.Context, userID uuid.UUID, from, to string) ([]entity.CategoryTotal, error) {
	a := entsql.Table(tableLineItem).As("a")
	sel := r.spendingSelector(userID, from, to, a.C("kategorija"), lineTotalSum(a))
	sel.GroupBy(a.C("kategorija")).OrderBy(a.C("kategorija"))
	query, args := sel.Query()

	rows := &entsql.Rows{}
	if err := r.drv.Query(ctx, query, args, rows); err != nil {
		r.logger.Error("failed to aggregate category totals", "user_id", userID, "error", err)
		return nil, err
	}
	defer rows.Close()

	var (
		out   []entity.CategoryTotal
		grand = decimal.Zero
	)
	for rows.Next() {
		var (
			cat   int64
			total decimal.Decimal
		)
		if err := rows.Scan(&cat, &total); err != nil {
			return nil, fmt.Errorf("scan category total: %w", err)
		}
		out = append(out, entity.CategoryTotal{Category: constants.Category(cat), Total: total})
		grand = grand.Add(total)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out = append(out, entity.CategoryTotal{Category: entity.GrandTotalCategory, Total: grand})
	return out, nil
}

func (r *statsRepository) MonthlyTotals(ctx context.Context, userID uuid.UUID, from, to string) ([]entity.MonthTotal, error) {
	rc := entsql.Table(tableReceipt).As("r")
	a := entsql.Table(tableLineItem).As("a")
	month := fmt.Sprintf("SUBSTR(CAST(%s AS TEXT), 1, 7)", rc.C("datum"))

	sel := r.spendingSelector(userID, from, to, month, lineTotalSum(a))
	sel.GroupBy(month).OrderBy(month)
	query, args := sel.Query()

	rows := &entsql.Rows{}
	if err := r.drv.Query(ctx, query, args, rows); err != nil {
		r.logger.Error("failed to aggregate monthly totals", "user_id", userID, "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []entity.MonthTotal
	for rows.Next() {
		var mt entity.MonthTotal
		if err := rows.Scan(&mt.Month, &mt.Total); err != nil {
			return nil, fmt.Errorf("scan month total: %w", err)
		}
		out = append(out, mt)
	}
	return out, rows.Err()
}
