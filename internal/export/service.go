package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/keshly/keshly/internal/repository"
	"github.com/keshly/keshly/internal/temporal"
)

const (
	SheetName   = "Računi"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var headers = []string{
	"Datum",
	"Vreme",
	"Mesto",
	"Izvor",
	"Stavka",
	"Kategorija",
	"Cena",
	"Količina",
	"Ukupno",
}

// Service produces XLSX workbooks of a user's line items.
type Service struct {
	receipts repository.ReceiptRepository
	now      func() time.Time
	logger   *slog.Logger
}

func NewService(repo repository.ReceiptRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{receipts: repo, now: time.Now, logger: logger}
}

// ExportReceiptsXLSX returns one row per line item in the date window plus a
// totals row.
// If only from is provided -> from..today (inclusive).
// If only to is provided   -> beginning..to (inclusive).
// If neither is provided   -> all receipts of the user.
func (s *Service) ExportReceiptsXLSX(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	filter := repository.ReceiptFilter{UserID: userID}
	if from != nil {
		filter.From = temporal.ToBackendDate(*from)
		if to == nil {
			filter.To = temporal.ToBackendDate(s.now())
		}
	}
	if to != nil {
		filter.To = temporal.ToBackendDate(*to)
	}

	recs, err := s.receipts.ListWithItems(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	idx, err := f.NewSheet(SheetName)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(idx)
	_ = f.DeleteSheet("Sheet1")

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(SheetName, cell, h)
	}

	row := 2
	grand := decimal.Zero
	write := func(col int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(SheetName, cell, v)
	}
	for _, r := range recs {
		place := ""
		if r.Place != nil {
			place = *r.Place
		}
		for _, it := range r.Items {
			total := it.LineTotal()
			grand = grand.Add(total)

			write(1, r.Date)
			write(2, r.Time)
			write(3, place)
			write(4, truncate(r.Source, 120))
			write(5, it.Name)
			write(6, it.Category.Name())
			write(7, it.UnitPrice.InexactFloat64())
			write(8, it.Quantity)
			write(9, total.InexactFloat64())
			row++
		}
	}
	items := row - 2
	write(1, "Ukupno")
	write(9, grand.InexactFloat64())

	_ = f.SetColWidth(SheetName, "A", "B", 12) // date, time
	_ = f.SetColWidth(SheetName, "C", "C", 22) // place
	_ = f.SetColWidth(SheetName, "D", "D", 48) // source
	_ = f.SetColWidth(SheetName, "E", "E", 32) // item
	_ = f.SetColWidth(SheetName, "F", "F", 20) // category
	_ = f.SetColWidth(SheetName, "G", "I", 12) // amounts

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"user_id", userID.String(),
		"receipts", len(recs),
		"rows", items,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
