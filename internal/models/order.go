package models

import (
	"time"

	"github.com/google/uuid"
)

// Order is a confirmed checkout, as delivered to the operator notification channels.
type Order struct {
	ID        string     `json:"id"`
	ChatID    int64      `json:"chat_id"`
	Name      string     `json:"name"`
	Telephone string     `json:"telephone"`
	Pickup    bool       `json:"pickup"`
	Lines     []CartLine `json:"lines"`
	Total     float64    `json:"total"`
	PlacedAt  time.Time  `json:"placed_at"`
}

// NewOrder builds an order from a complete draft. The total is recomputed from the lines.
func NewOrder(chatID int64, d *OrderDraft) Order {
	lines := make([]CartLine, len(d.Cart))
	copy(lines, d.Cart)
	o := Order{
		ID:       uuid.NewString(),
		ChatID:   chatID,
		Lines:    lines,
		Total:    CartTotal(lines),
		PlacedAt: time.Now().UTC(),
	}
	if d.Name != nil {
		o.Name = *d.Name
	}
	if d.Telephone != nil {
		o.Telephone = *d.Telephone
	}
	if d.Pickup != nil {
		o.Pickup = *d.Pickup
	}
	return o
}
