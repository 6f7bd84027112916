package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vantage-erp/vantage-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStock(ctx context.Context, productID, warehouseID int64) (Stock, error)
	StockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error)
	ListMovements(ctx context.Context, productID, warehouseID int64, limit int) ([]Movement, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards movement requests against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ServiceConfig groups inventory policies.
type ServiceConfig struct {
	// AllowNegativeStock disables the non-negativity guard on issues and
	// negative adjustments.
	AllowNegativeStock bool
}

// Service coordinates stock movements and their valuation.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	integration IntegrationHandler
	idem        IdempotencyPort
	allowNeg    bool
	now         func() time.Time
}

// NewService builds the inventory service. integration may be nil.
func NewService(repo RepositoryPort, audit AuditPort, integration IntegrationHandler, cfg ServiceConfig) *Service {
	return &Service{
		repo:        repo,
		audit:       audit,
		integration: integration,
		allowNeg:    cfg.AllowNegativeStock,
		now:         time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	s.now = now
}

// SetIntegration installs the posting hooks after construction. The hooks
// need the service as their movement linker, so the two are wired in stages.
func (s *Service) SetIntegration(integration IntegrationHandler) {
	s.integration = integration
}

// WithIdempotency installs the replay guard. Without it, idempotency keys on
// inputs are ignored.
func (s *Service) WithIdempotency(idem IdempotencyPort) {
	s.idem = idem
}

// Receive books inbound stock and folds the unit cost into the moving
// average.
func (s *Service) Receive(ctx context.Context, input MovementInput) (Movement, error) {
	if err := validateInput(input, true); err != nil {
		return Movement{}, err
	}
	return s.apply(ctx, movementParams{
		input:     input,
		kind:      MovementTypeIn,
		qtyChange: input.Quantity,
		costMode:  costGiven,
	})
}

// Issue books outbound stock at the current average cost. The returned
// movement carries the unit cost the caller should post as COGS.
func (s *Service) Issue(ctx context.Context, input MovementInput) (Movement, error) {
	if err := validateInput(input, false); err != nil {
		return Movement{}, err
	}
	return s.apply(ctx, movementParams{
		input:     input,
		kind:      MovementTypeOut,
		qtyChange: input.Quantity.Neg(),
		costMode:  costAverage,
	})
}

// Adjust corrects stock by a signed delta. Positive deltas carry their own
// unit cost, negative deltas leave at the current average. The paired
// journal is raised through the integration handler.
func (s *Service) Adjust(ctx context.Context, input MovementInput, delta decimal.Decimal) (Movement, error) {
	if delta.IsZero() {
		return Movement{}, ErrInvalidQuantity
	}
	if input.ProductID == 0 || input.WarehouseID == 0 {
		return Movement{}, fmt.Errorf("%w: product and warehouse required", ErrInvalidQuantity)
	}
	mode := costAverage
	if delta.IsPositive() {
		if input.UnitCost.IsNegative() {
			return Movement{}, ErrInvalidUnitCost
		}
		mode = costGiven
	}
	input.Quantity = delta.Abs()
	movement, err := s.apply(ctx, movementParams{
		input:     input,
		kind:      MovementTypeAdjustment,
		qtyChange: delta,
		costMode:  mode,
	})
	if err != nil {
		return Movement{}, err
	}
	if s.integration != nil {
		event := MovementPostedEvent{
			MovementID:     movement.ID,
			ProductID:      movement.ProductID,
			WarehouseID:    movement.WarehouseID,
			Type:           movement.Type,
			Quantity:       delta,
			UnitCost:       movement.UnitCost,
			DocumentType:   movement.DocumentType,
			DocumentNumber: movement.DocumentNumber,
			ActorID:        input.ActorID,
			PostedAt:       movement.CreatedAt,
		}
		if err := s.integration.HandleMovementPosted(ctx, event); err != nil {
			return Movement{}, err
		}
	}
	return movement, nil
}

// ReturnIn books a customer return back into stock at the supplied unit
// cost, conventionally the cost captured on the original issue.
func (s *Service) ReturnIn(ctx context.Context, input MovementInput) (Movement, error) {
	if err := validateInput(input, true); err != nil {
		return Movement{}, err
	}
	return s.apply(ctx, movementParams{
		input:     input,
		kind:      MovementTypeReturnIn,
		qtyChange: input.Quantity,
		costMode:  costGiven,
	})
}

// ReturnOut books a return to the supplier at the current average cost.
func (s *Service) ReturnOut(ctx context.Context, input MovementInput) (Movement, error) {
	if err := validateInput(input, false); err != nil {
		return Movement{}, err
	}
	return s.apply(ctx, movementParams{
		input:     input,
		kind:      MovementTypeReturnOut,
		qtyChange: input.Quantity.Neg(),
		costMode:  costAverage,
	})
}

// Transfer moves stock between warehouses at the source's average cost. Both
// legs commit in one transaction.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (Movement, Movement, error) {
	if input.ProductID == 0 || input.SourceID == 0 || input.DestinationID == 0 {
		return Movement{}, Movement{}, fmt.Errorf("%w: product and both warehouses required", ErrInvalidQuantity)
	}
	if input.SourceID == input.DestinationID {
		return Movement{}, Movement{}, fmt.Errorf("%w: source and destination must differ", ErrInvalidQuantity)
	}
	if !input.Quantity.IsPositive() {
		return Movement{}, Movement{}, ErrInvalidQuantity
	}
	var out, in Movement
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		source, err := s.lockStock(ctx, tx, input.ProductID, input.SourceID)
		if err != nil {
			return err
		}
		cost := source.AvgCost
		out, err = s.moveLocked(ctx, tx, source, moveOrder{
			kind:           MovementTypeTransfer,
			qtyChange:      input.Quantity.Neg(),
			unitCost:       cost,
			documentType:   input.DocumentType,
			documentNumber: input.DocumentNumber,
			destWarehouse:  &input.DestinationID,
			actorID:        input.ActorID,
			at:             now,
		})
		if err != nil {
			return err
		}
		dest, err := s.lockStock(ctx, tx, input.ProductID, input.DestinationID)
		if err != nil {
			return err
		}
		in, err = s.moveLocked(ctx, tx, dest, moveOrder{
			kind:           MovementTypeTransfer,
			qtyChange:      input.Quantity,
			unitCost:       cost,
			documentType:   input.DocumentType,
			documentNumber: input.DocumentNumber,
			actorID:        input.ActorID,
			at:             now,
		})
		return err
	})
	if err != nil {
		return Movement{}, Movement{}, err
	}
	s.record(ctx, input.ActorID, "inventory.transfer", out.ID, map[string]any{
		"product_id": input.ProductID,
		"from":       input.SourceID,
		"to":         input.DestinationID,
		"qty":        input.Quantity.String(),
	})
	return out, in, nil
}

// Reserve holds quantity against future issues.
func (s *Service) Reserve(ctx context.Context, input ReserveInput) (Stock, error) {
	return s.adjustReservation(ctx, input, false)
}

// Release frees previously reserved quantity.
func (s *Service) Release(ctx context.Context, input ReserveInput) (Stock, error) {
	return s.adjustReservation(ctx, input, true)
}

func (s *Service) adjustReservation(ctx context.Context, input ReserveInput, release bool) (Stock, error) {
	if input.ProductID == 0 || input.WarehouseID == 0 {
		return Stock{}, fmt.Errorf("%w: product and warehouse required", ErrInvalidQuantity)
	}
	if !input.Quantity.IsPositive() {
		return Stock{}, ErrInvalidQuantity
	}
	var updated Stock
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stock, err := tx.GetStockForUpdate(ctx, input.ProductID, input.WarehouseID)
		if err != nil {
			return err
		}
		reserved := stock.Reserved.Add(input.Quantity)
		if release {
			reserved = stock.Reserved.Sub(input.Quantity)
			if reserved.IsNegative() {
				reserved = decimal.Zero
			}
		} else if reserved.GreaterThan(stock.Quantity) {
			return fmt.Errorf("%w: on hand %s, requested hold %s",
				ErrReservationExceeds, stock.Quantity, reserved)
		}
		stock.Reserved = reserved
		stock.UpdatedAt = s.now()
		if err := tx.UpsertStock(ctx, stock); err != nil {
			return err
		}
		updated = stock
		return nil
	})
	if err != nil {
		return Stock{}, err
	}
	return updated, nil
}

// LinkJournal records the journal entry paired with a movement.
func (s *Service) LinkJournal(ctx context.Context, movementID, journalEntryID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.LinkJournal(ctx, movementID, journalEntryID)
	})
}

// Stock returns the current stock position.
func (s *Service) Stock(ctx context.Context, productID, warehouseID int64) (Stock, error) {
	return s.repo.GetStock(ctx, productID, warehouseID)
}

// StockCard lists valuation card entries for a product in a warehouse.
func (s *Service) StockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	if filter.ProductID == 0 || filter.WarehouseID == 0 {
		return nil, fmt.Errorf("%w: product and warehouse required", ErrInvalidQuantity)
	}
	return s.repo.StockCard(ctx, filter)
}

// Movements lists recent movements for a product in a warehouse.
func (s *Service) Movements(ctx context.Context, productID, warehouseID int64, limit int) ([]Movement, error) {
	return s.repo.ListMovements(ctx, productID, warehouseID, limit)
}

type costMode int

const (
	costGiven costMode = iota
	costAverage
)

type movementParams struct {
	input     MovementInput
	kind      MovementType
	qtyChange decimal.Decimal
	costMode  costMode
}

type moveOrder struct {
	kind           MovementType
	qtyChange      decimal.Decimal
	unitCost       decimal.Decimal
	documentType   string
	documentNumber string
	destWarehouse  *int64
	actorID        int64
	at             time.Time
}

func (s *Service) apply(ctx context.Context, params movementParams) (Movement, error) {
	if key := params.input.IdempotencyKey; key != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, key, "inventory"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Movement{}, ErrDuplicateMovement
			}
			return Movement{}, err
		}
	}
	var movement Movement
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stock, err := s.lockStock(ctx, tx, params.input.ProductID, params.input.WarehouseID)
		if err != nil {
			return err
		}
		cost := params.input.UnitCost
		if params.costMode == costAverage {
			cost = stock.AvgCost
		}
		movement, err = s.moveLocked(ctx, tx, stock, moveOrder{
			kind:           params.kind,
			qtyChange:      params.qtyChange,
			unitCost:       cost,
			documentType:   params.input.DocumentType,
			documentNumber: params.input.DocumentNumber,
			actorID:        params.input.ActorID,
			at:             now,
		})
		return err
	})
	if err != nil {
		// Free the key so the caller can retry after fixing the cause.
		if key := params.input.IdempotencyKey; key != "" && s.idem != nil {
			_ = s.idem.Delete(ctx, key)
		}
		return Movement{}, err
	}
	s.record(ctx, params.input.ActorID, fmt.Sprintf("inventory.%s", params.kind), movement.ID, map[string]any{
		"product_id":   params.input.ProductID,
		"warehouse_id": params.input.WarehouseID,
		"qty":          params.qtyChange.String(),
		"unit_cost":    movement.UnitCost.String(),
		"document":     params.input.DocumentNumber,
	})
	return movement, nil
}

// moveLocked mutates an already locked stock row and appends the movement.
func (s *Service) moveLocked(ctx context.Context, tx TxRepository, stock Stock, order moveOrder) (Movement, error) {
	newQty := stock.Quantity.Add(order.qtyChange)
	if newQty.IsNegative() && !s.allowNeg {
		return Movement{}, fmt.Errorf("%w: on hand %s, movement %s",
			ErrInsufficientStock, stock.Quantity, order.qtyChange)
	}
	if order.qtyChange.IsPositive() {
		stock.AvgCost = nextAvgCost(stock, order.qtyChange, order.unitCost)
	} else if newQty.IsZero() || newQty.IsNegative() {
		stock.AvgCost = decimal.Zero
	}
	stock.Quantity = newQty
	if stock.Reserved.GreaterThan(stock.Quantity) {
		stock.Reserved = stock.Quantity
		if stock.Reserved.IsNegative() {
			stock.Reserved = decimal.Zero
		}
	}
	stock.UpdatedAt = order.at
	if err := tx.UpsertStock(ctx, stock); err != nil {
		return Movement{}, err
	}
	movement := Movement{
		ProductID:       stock.ProductID,
		WarehouseID:     stock.WarehouseID,
		Type:            order.kind,
		Quantity:        order.qtyChange.Abs(),
		UnitCost:        order.unitCost,
		DocumentType:    order.documentType,
		DocumentNumber:  order.documentNumber,
		DestWarehouseID: order.destWarehouse,
		CreatedBy:       order.actorID,
		CreatedAt:       order.at,
	}
	id, err := tx.InsertMovement(ctx, movement)
	if err != nil {
		return Movement{}, err
	}
	movement.ID = id
	card := StockCardEntry{
		MovementID:   id,
		Date:         order.at,
		Type:         order.kind,
		Document:     order.documentNumber,
		UnitCost:     order.unitCost,
		BalanceQty:   stock.Quantity,
		BalanceValue: stock.Quantity.Mul(stock.AvgCost),
	}
	if order.qtyChange.IsPositive() {
		card.QtyIn = order.qtyChange
	} else {
		card.QtyOut = order.qtyChange.Abs()
	}
	if err := tx.InsertCardEntry(ctx, stock.ProductID, stock.WarehouseID, card); err != nil {
		return Movement{}, err
	}
	return movement, nil
}

func (s *Service) lockStock(ctx context.Context, tx TxRepository, productID, warehouseID int64) (Stock, error) {
	stock, err := tx.GetStockForUpdate(ctx, productID, warehouseID)
	if err != nil {
		if errors.Is(err, ErrStockNotFound) {
			return Stock{ProductID: productID, WarehouseID: warehouseID}, nil
		}
		return Stock{}, err
	}
	return stock, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, movementID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_movement",
		EntityID: fmt.Sprintf("%d", movementID),
		Meta:     meta,
		At:       s.now(),
	})
}

func validateInput(input MovementInput, costRequired bool) error {
	if input.ProductID == 0 || input.WarehouseID == 0 {
		return fmt.Errorf("%w: product and warehouse required", ErrInvalidQuantity)
	}
	if !input.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	if costRequired && input.UnitCost.IsNegative() {
		return ErrInvalidUnitCost
	}
	return nil
}
