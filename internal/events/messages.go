package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keshly/keshly/internal/entity"
)

const KindReceiptSaved = "receipt.saved"

// ReceiptSaved is published after a receipt and all its items are stored.
type ReceiptSaved struct {
	ReceiptID uuid.UUID       `json:"receipt_id"`
	UserID    uuid.UUID       `json:"user_id"`
	Date      string          `json:"datum"`
	Place     string          `json:"mesto,omitempty"`
	Items     int             `json:"items"`
	Total     decimal.Decimal `json:"total"`
	SavedAt   time.Time       `json:"saved_at"`
}

func NewReceiptSaved(rec entity.ReceiptWithItems, now time.Time) ReceiptSaved {
	msg := ReceiptSaved{
		ReceiptID: rec.ID,
		UserID:    rec.UserID,
		Date:      rec.Date,
		Items:     len(rec.Items),
		Total:     rec.Total(),
		SavedAt:   now.UTC(),
	}
	if rec.Place != nil {
		msg.Place = *rec.Place
	}
	return msg
}

func (m ReceiptSaved) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ReceiptSavedFromJSON(data []byte) (ReceiptSaved, error) {
	var m ReceiptSaved
	err := json.Unmarshal(data, &m)
	return m, err
}
