package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keshly/keshly/constants"
	"github.com/keshly/keshly/internal/entity"
)

const (
	tableReceipt  = "racun"
	tableLineItem = "artikal"
)

// ReceiptFilter narrows receipt listings. Empty dates are unbounded.
type ReceiptFilter struct {
	UserID uuid.UUID
	From   string // YYYY-MM-DD inclusive
	To     string // YYYY-MM-DD inclusive
	Limit  int
}

type ReceiptRepository interface {
	// InsertHeader writes one racun row and returns its id. A nil Place omits
	// the mesto column from the statement entirely.
	InsertHeader(ctx context.Context, h entity.ReceiptHeader) (uuid.UUID, error)
	// InsertLineItems writes all items for receiptID in a single statement.
	InsertLineItems(ctx context.Context, receiptID uuid.UUID, items []entity.LineItem) error
	DeleteHeader(ctx context.Context, id uuid.UUID) error
	// ListRecent returns the newest receipts with nested items; receipts
	// without items are dropped after the limit is applied.
	ListRecent(ctx context.Context, userID uuid.UUID, limit int) ([]entity.ReceiptWithItems, error)
	ListWithItems(ctx context.Context, f ReceiptFilter) ([]entity.ReceiptWithItems, error)
	// ListItemNames returns (name, category) samples for training category hints.
	ListItemNames(ctx context.Context, limit int) ([]entity.LineItem, error)
}

type receiptRepository struct {
	drv     *entsql.Driver
	dialect string
	logger  *slog.Logger
}

func NewReceiptRepository(db *DB, logger *slog.Logger) ReceiptRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &receiptRepository{drv: db.Driver, dialect: db.Dialect, logger: logger}
}

func (r *receiptRepository) InsertHeader(ctx context.Context, h entity.ReceiptHeader) (uuid.UUID, error) {
	id := h.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := h.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	cols := []string{"id", "kupac", "link", "datum", "vreme", "created_at"}
	vals := []any{id, h.UserID, h.Source, h.Date, h.Time, createdAt}
	if h.Place != nil {
		cols = append(cols, "mesto")
		vals = append(vals, *h.Place)
	}
	query, args := entsql.Dialect(r.dialect).
		Insert(tableReceipt).
		Columns(cols...).
		Values(vals...).
		Query()

	if err := r.drv.Exec(ctx, query, args, nil); err != nil {
		r.logger.Error("failed to insert receipt header", "user_id", h.UserID, "with_place", h.Place != nil, "error", err)
		return uuid.Nil, err
	}
	return id, nil
}

func (r *receiptRepository) InsertLineItems(ctx context.Context, receiptID uuid.UUID, items []entity.LineItem) error {
	if len(items) == 0 {
		return nil
	}
	ib := entsql.Dialect(r.dialect).
		Insert(tableLineItem).
		Columns("id", "racun_id", "naziv", "kategorija", "cena", "kolicina")
	for _, it := range items {
		id := it.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		ib.Values(id, receiptID, it.Name, int(it.Category), it.UnitPrice.StringFixed(2), it.Quantity)
	}
	query, args := ib.Query()
	if err := r.drv.Exec(ctx, query, args, nil); err != nil {
		r.logger.Error("failed to insert line items", "receipt_id", receiptID, "count", len(items), "error", err)
		return err
	}
	return nil
}

func (r *receiptRepository) DeleteHeader(ctx context.Context, id uuid.UUID) error {
	query, args := entsql.Dialect(r.dialect).
		Delete(tableReceipt).
		Where(entsql.EQ("id", id)).
		Query()
	if err := r.drv.Exec(ctx, query, args, nil); err != nil {
		r.logger.Error("failed to delete receipt header", "receipt_id", id, "error", err)
		return err
	}
	return nil
}

func (r *receiptRepository) ListRecent(ctx context.Context, userID uuid.UUID, limit int) ([]entity.ReceiptWithItems, error) {
	if limit <= 0 {
		limit = 5
	}
	recs, err := r.ListWithItems(ctx, ReceiptFilter{UserID: userID, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, rec := range recs {
		if len(rec.Items) > 0 {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *receiptRepository) ListWithItems(ctx context.Context, f ReceiptFilter) ([]entity.ReceiptWithItems, error) {
	headers, err := r.listHeaders(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return []entity.ReceiptWithItems{}, nil
	}

	ids := make([]any, 0, len(headers))
	index := make(map[uuid.UUID]int, len(headers))
	out := make([]entity.ReceiptWithItems, len(headers))
	for i, h := range headers {
		ids = append(ids, h.ID)
		index[h.ID] = i
		out[i] = entity.ReceiptWithItems{ReceiptHeader: h, Items: []entity.LineItem{}}
	}

	query, args := entsql.Dialect(r.dialect).
		Select("id", "racun_id", "naziv", "kategorija", "cena", "kolicina").
		From(entsql.Table(tableLineItem)).
		Where(entsql.In("racun_id", ids...)).
		OrderBy("racun_id", "naziv").
		Query()

	rows := &entsql.Rows{}
	if err := r.drv.Query(ctx, query, args, rows); err != nil {
		r.logger.Error("failed to query line items", "receipts", len(ids), "error", err)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		it, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[it.ReceiptID]; ok {
			out[i].Items = append(out[i].Items, it)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *receiptRepository) listHeaders(ctx context.Context, f ReceiptFilter) ([]entity.ReceiptHeader, error) {
	preds := []*entsql.Predicate{entsql.EQ("kupac", f.UserID)}
	if f.From != "" {
		preds = append(preds, entsql.GTE("datum", f.From))
	}
	if f.To != "" {
		preds = append(preds, entsql.LTE("datum", f.To))
	}

	sel := entsql.Dialect(r.dialect).
		Select("id", "kupac", "link", "CAST(datum AS TEXT)", "CAST(vreme AS TEXT)", "mesto", "created_at").
		From(entsql.Table(tableReceipt)).
		Where(entsql.And(preds...)).
		OrderBy(entsql.Desc("datum"), entsql.Desc("vreme"), entsql.Desc("created_at"))
	if f.Limit > 0 {
		sel.Limit(f.Limit)
	}
	query, args := sel.Query()

	rows := &entsql.Rows{}
	if err := r.drv.Query(ctx, query, args, rows); err != nil {
		r.logger.Error("failed to query receipts", "user_id", f.UserID, "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []entity.ReceiptHeader
	for rows.Next() {
		var (
			h     entity.ReceiptHeader
			place sql.NullString
		)
		if err := rows.Scan(&h.ID, &h.UserID, &h.Source, &h.Date, &h.Time, &place, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		if place.Valid {
			p := place.String
			h.Place = &p
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *receiptRepository) ListItemNames(ctx context.Context, limit int) ([]entity.LineItem, error) {
	if limit <= 0 {
		limit = 5000
	}
	query, args := entsql.Dialect(r.dialect).
		Select("id", "racun_id", "naziv", "kategorija", "cena", "kolicina").
		From(entsql.Table(tableLineItem)).
		Limit(limit).
		Query()

	rows := &entsql.Rows{}
	if err := r.drv.Query(ctx, query, args, rows); err != nil {
		r.logger.Error("failed to query item names", "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []entity.LineItem
	for rows.Next() {
		it, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func scanLineItem(rows *entsql.Rows) (entity.LineItem, error) {
	var (
		it       entity.LineItem
		category int64
		price    decimal.Decimal
		qty      int64
	)
	if err := rows.Scan(&it.ID, &it.ReceiptID, &it.Name, &category, &price, &qty); err != nil {
		return it, fmt.Errorf("scan line item: %w", err)
	}
	it.Category = constants.Category(category)
	it.UnitPrice = price
	it.Quantity = int(qty)
	return it, nil
}
