package receipts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/keshly/keshly/internal/common"
	"github.com/keshly/keshly/internal/entity"
	"github.com/keshly/keshly/internal/repository"
	"github.com/keshly/keshly/internal/temporal"
)

// Service handles receipt business logic.
type Service struct {
	receiptRepo repository.ReceiptRepository
	logger      *slog.Logger
}

// NewService creates a new receipt service.
func NewService(receiptRepo repository.ReceiptRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		receiptRepo: receiptRepo,
		logger:      logger,
	}
}

// ListReceiptsRequest represents receipt listing parameters. Dates are
// YYYY-MM-DD and inclusive; empty means unbounded.
type ListReceiptsRequest struct {
	UserID   uuid.UUID
	FromDate string
	ToDate   string
}

// ListReceipts returns the user's receipts with their items, newest first.
func (s *Service) ListReceipts(ctx context.Context, req ListReceiptsRequest) ([]entity.ReceiptWithItems, error) {
	if req.UserID == uuid.Nil {
		return nil, common.ErrUnauthorized
	}
	from := strings.TrimSpace(req.FromDate)
	to := strings.TrimSpace(req.ToDate)
	if from != "" && !temporal.ValidDate(from) {
		s.logger.Warn("invalid from_date format", "from_date", from)
		return nil, fmt.Errorf("%w: from_date invalid (YYYY-MM-DD)", common.ErrInvalidInput)
	}
	if to != "" && !temporal.ValidDate(to) {
		s.logger.Warn("invalid to_date format", "to_date", to)
		return nil, fmt.Errorf("%w: to_date invalid (YYYY-MM-DD)", common.ErrInvalidInput)
	}
	if from != "" && to != "" && from > to {
		return nil, fmt.Errorf("%w: from_date is after to_date", common.ErrInvalidInput)
	}

	recs, err := s.receiptRepo.ListWithItems(ctx, repository.ReceiptFilter{UserID: req.UserID, From: from, To: to})
	if err != nil {
		s.logger.Error("failed to list receipts", "user_id", req.UserID, "error", err)
		return nil, fmt.Errorf("list receipts: %w", err)
	}

	s.logger.Info("receipts listed", "user_id", req.UserID, "count", len(recs))
	return recs, nil
}
