package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	MovementTypeIn         MovementType = "IN"
	MovementTypeOut        MovementType = "OUT"
	MovementTypeTransfer   MovementType = "TRANSFER"
	MovementTypeAdjustment MovementType = "ADJUSTMENT"
	MovementTypeReturnIn   MovementType = "RETURN_IN"
	MovementTypeReturnOut  MovementType = "RETURN_OUT"
)

// Stock is the per (product, warehouse) quantity with its moving-average
// unit cost.
type Stock struct {
	ProductID   int64           `json:"product_id"`
	WarehouseID int64           `json:"warehouse_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Reserved    decimal.Decimal `json:"reserved_quantity"`
	AvgCost     decimal.Decimal `json:"avg_cost"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Available is the unreserved quantity.
func (s Stock) Available() decimal.Decimal {
	return s.Quantity.Sub(s.Reserved)
}

// Movement is one append-only stock ledger record. UnitCost is captured at
// movement time for valuation.
type Movement struct {
	ID              int64           `json:"id"`
	ProductID       int64           `json:"product_id"`
	WarehouseID     int64           `json:"warehouse_id"`
	Type            MovementType    `json:"movement_type"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	DocumentType    string          `json:"document_type"`
	DocumentNumber  string          `json:"document_number"`
	DestWarehouseID *int64          `json:"destination_warehouse_id,omitempty"`
	JournalEntryID  *int64          `json:"journal_entry_id,omitempty"`
	NoJournalReason string          `json:"no_journal_reason,omitempty"`
	CreatedBy       int64           `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
}

// StockCardEntry is one row of the valuation card for a product in a
// warehouse.
type StockCardEntry struct {
	MovementID   int64           `json:"movement_id"`
	Date         time.Time       `json:"date"`
	Type         MovementType    `json:"movement_type"`
	Document     string          `json:"document"`
	QtyIn        decimal.Decimal `json:"qty_in"`
	QtyOut       decimal.Decimal `json:"qty_out"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	BalanceQty   decimal.Decimal `json:"balance_qty"`
	BalanceValue decimal.Decimal `json:"balance_value"`
}

// StockCardFilter narrows stock card reads.
type StockCardFilter struct {
	ProductID   int64
	WarehouseID int64
	From        time.Time
	To          time.Time
	Limit       int
}

// MovementInput is the common shape of a stock mutation request.
// IdempotencyKey, when set, makes a replay of the same request fail with
// ErrDuplicateMovement instead of booking the movement twice.
type MovementInput struct {
	ProductID      int64
	WarehouseID    int64
	Quantity       decimal.Decimal
	UnitCost       decimal.Decimal
	DocumentType   string
	DocumentNumber string
	IdempotencyKey string
	ActorID        int64
}

// TransferInput moves stock between two warehouses at the source's average
// cost.
type TransferInput struct {
	ProductID      int64
	SourceID       int64
	DestinationID  int64
	Quantity       decimal.Decimal
	DocumentType   string
	DocumentNumber string
	ActorID        int64
}

// ReserveInput holds or releases quantity against future issues.
type ReserveInput struct {
	ProductID   int64
	WarehouseID int64
	Quantity    decimal.Decimal
	ActorID     int64
}

var (
	ErrInsufficientStock  = errors.New("inventory: insufficient stock")
	ErrInvalidQuantity    = errors.New("inventory: quantity must be positive")
	ErrInvalidUnitCost    = errors.New("inventory: unit cost must be >= 0")
	ErrStockNotFound      = errors.New("inventory: no stock for product in warehouse")
	ErrReservationExceeds = errors.New("inventory: reservation exceeds quantity on hand")
	ErrMovementNotFound   = errors.New("inventory: movement not found")
	ErrDuplicateMovement  = errors.New("inventory: movement already processed")
)

// costScale bounds average cost precision.
const costScale = 4

// nextAvgCost applies the moving-average formula after an inbound of qty at
// unitCost on top of the current stock position.
func nextAvgCost(stock Stock, qty, unitCost decimal.Decimal) decimal.Decimal {
	newQty := stock.Quantity.Add(qty)
	if newQty.IsZero() {
		return decimal.Zero
	}
	total := stock.Quantity.Mul(stock.AvgCost).Add(qty.Mul(unitCost))
	return total.DivRound(newQty, costScale)
}
