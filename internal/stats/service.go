package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/keshly/keshly/constants"
	"github.com/keshly/keshly/internal/common"
	"github.com/keshly/keshly/internal/entity"
	"github.com/keshly/keshly/internal/repository"
	"github.com/keshly/keshly/internal/temporal"
)

const (
	defaultRecentLimit = 5
	defaultMonths      = 6
	maxMonths          = 36

	unknownDate = "Nepoznat datum"
	unknownTime = "--:--"
)

// Home is the landing view: who is signed in and this month's breakdown.
type Home struct {
	FullName  string  `json:"full_name"`
	Month     string  `json:"month"`
	Breakdown Summary `json:"breakdown"`
}

// RecentReceipt is a receipt with display-ready date and time.
type RecentReceipt struct {
	ID          uuid.UUID         `json:"id"`
	Date        string            `json:"datum"`
	Time        string            `json:"vreme"`
	DisplayDate string            `json:"display_date"`
	DisplayTime string            `json:"display_time"`
	Place       *string           `json:"mesto,omitempty"`
	Items       []entity.LineItem `json:"items"`
	Total       decimal.Decimal   `json:"total"`
}

type Service struct {
	stats    repository.StatsRepository
	profiles repository.ProfileRepository
	receipts repository.ReceiptRepository
	clock    *temporal.Normalizer
	logger   *slog.Logger
}

func NewService(st repository.StatsRepository, profiles repository.ProfileRepository, receipts repository.ReceiptRepository, clock *temporal.Normalizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = temporal.New()
	}
	return &Service{stats: st, profiles: profiles, receipts: receipts, clock: clock, logger: logger}
}

// Home loads the profile and the current month's breakdown concurrently.
// A missing profile yields an empty name.
func (s *Service) Home(ctx context.Context, user uuid.UUID) (Home, error) {
	now := s.clock.Now()
	from, to := monthRange(now)
	out := Home{Month: temporal.MonthKey(now)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.profiles.GetByID(gctx, user)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("load profile: %w", err)
		}
		out.FullName = p.FullName
		return nil
	})
	var rows []entity.CategoryTotal
	g.Go(func() error {
		var err error
		rows, err = s.stats.CategoryTotals(gctx, user, from, to)
		if err != nil {
			return fmt.Errorf("category totals: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("stats.home.failed", "user_id", user, "error", err)
		return Home{}, err
	}
	out.Breakdown = Breakdown(rows)
	return out, nil
}

// Period returns the breakdown of an explicit date range.
func (s *Service) Period(ctx context.Context, user uuid.UUID, from, to string) (Summary, error) {
	if (from != "" && !temporal.ValidDate(from)) || (to != "" && !temporal.ValidDate(to)) {
		return Summary{}, fmt.Errorf("%w: dates must be YYYY-MM-DD", common.ErrInvalidInput)
	}
	rows, err := s.stats.CategoryTotals(ctx, user, from, to)
	if err != nil {
		return Summary{}, fmt.Errorf("category totals: %w", err)
	}
	return Breakdown(rows), nil
}

// Monthly returns totals for the last n months (current included), oldest
// first, with empty months filled with zero.
func (s *Service) Monthly(ctx context.Context, user uuid.UUID, n int) ([]entity.MonthTotal, error) {
	if n <= 0 {
		n = defaultMonths
	}
	if n > maxMonths {
		n = maxMonths
	}
	now := s.clock.Now()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -(n - 1), 0)
	_, to := monthRange(now)

	rows, err := s.stats.MonthlyTotals(ctx, user, temporal.ToBackendDate(first), to)
	if err != nil {
		return nil, fmt.Errorf("monthly totals: %w", err)
	}
	byMonth := make(map[string]decimal.Decimal, len(rows))
	for _, r := range rows {
		byMonth[r.Month] = r.Total
	}
	out := make([]entity.MonthTotal, 0, n)
	for i := 0; i < n; i++ {
		key := temporal.MonthKey(first.AddDate(0, i, 0))
		out = append(out, entity.MonthTotal{Month: key, Total: byMonth[key]})
	}
	return out, nil
}

// Recent returns the newest receipts that have items, default limit 5.
func (s *Service) Recent(ctx context.Context, user uuid.UUID, limit int) ([]RecentReceipt, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	recs, err := s.receipts.ListRecent(ctx, user, limit)
	if err != nil {
		return nil, fmt.Errorf("recent receipts: %w", err)
	}
	out := make([]RecentReceipt, 0, len(recs))
	for _, rec := range recs {
		items := make([]entity.LineItem, 0, len(rec.Items))
		for _, it := range rec.Items {
			if strings.TrimSpace(it.Name) == "" {
				it.Name = constants.PlaceholderItemName
			}
			if it.Quantity < 1 {
				it.Quantity = 1
			}
			items = append(items, it)
		}
		if len(items) == 0 {
			continue
		}
		rec.Items = items
		out = append(out, RecentReceipt{
			ID:          rec.ID,
			Date:        rec.Date,
			Time:        rec.Time,
			DisplayDate: displayDate(rec.Date),
			DisplayTime: displayTime(rec.Time),
			Place:       rec.Place,
			Items:       items,
			Total:       rec.Total(),
		})
	}
	return out, nil
}

func monthRange(t time.Time) (string, string) {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	last := first.AddDate(0, 1, -1)
	return temporal.ToBackendDate(first), temporal.ToBackendDate(last)
}

// displayDate renders YYYY-MM-DD as DD.MM.YYYY.
func displayDate(s string) string {
	if len(s) >= 10 && temporal.ValidDate(s[:10]) {
		t, _ := time.Parse(temporal.DateLayout, s[:10])
		return t.Format("02.01.2006.")
	}
	return unknownDate
}

func displayTime(s string) string {
	if len(s) >= 5 {
		return s[:5]
	}
	return unknownTime
}
