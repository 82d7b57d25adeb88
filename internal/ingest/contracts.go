package ingest

import (
	"context"

	"github.com/google/uuid"

	"github.com/keshly/keshly/constants"
	"github.com/keshly/keshly/internal/common"
	"github.com/keshly/keshly/internal/entity"
)

// SessionSource resolves the signed-in user. It returns common.ErrUnauthorized
// when nobody is signed in.
type SessionSource interface {
	CurrentUser(ctx context.Context) (uuid.UUID, error)
}

// StaticUser is a SessionSource for a user already authenticated by the caller.
type StaticUser uuid.UUID

func (s StaticUser) CurrentUser(context.Context) (uuid.UUID, error) {
	if uuid.UUID(s) == uuid.Nil {
		return uuid.Nil, common.ErrUnauthorized
	}
	return uuid.UUID(s), nil
}

// ReceiptWriter is the persistence the reconciler needs.
type ReceiptWriter interface {
	InsertHeader(ctx context.Context, h entity.ReceiptHeader) (uuid.UUID, error)
	InsertLineItems(ctx context.Context, receiptID uuid.UUID, items []entity.LineItem) error
	DeleteHeader(ctx context.Context, id uuid.UUID) error
}

// CategoryHints suggests a category for an item name.
type CategoryHints interface {
	Suggest(name string) (constants.Category, bool)
}

// SaveHook observes every successfully saved receipt.
type SaveHook func(ctx context.Context, rec entity.ReceiptWithItems)
