package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MovementPostedEvent notifies the posting layer that stock changed and may
// need a paired journal entry.
type MovementPostedEvent struct {
	MovementID     int64
	ProductID      int64
	WarehouseID    int64
	Type           MovementType
	Quantity       decimal.Decimal
	UnitCost       decimal.Decimal
	DocumentType   string
	DocumentNumber string
	ActorID        int64
	PostedAt       time.Time
}

// Value is the absolute cost impact of the movement.
func (e MovementPostedEvent) Value() decimal.Decimal {
	return e.Quantity.Mul(e.UnitCost).Abs()
}

// IntegrationHandler receives movement events. Implemented by the posting
// dispatcher; nil disables integration.
type IntegrationHandler interface {
	HandleMovementPosted(ctx context.Context, event MovementPostedEvent) error
}
