package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vantage-erp/vantage-erp/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the service.
type TxRepository interface {
	GetStockForUpdate(ctx context.Context, productID, warehouseID int64) (Stock, error)
	UpsertStock(ctx context.Context, stock Stock) error
	InsertMovement(ctx context.Context, movement Movement) (int64, error)
	InsertCardEntry(ctx context.Context, productID, warehouseID int64, card StockCardEntry) error
	LinkJournal(ctx context.Context, movementID, journalEntryID int64) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetStock returns the current stock position without locking.
func (r *Repository) GetStock(ctx context.Context, productID, warehouseID int64) (Stock, error) {
	var stock Stock
	err := r.pool.QueryRow(ctx, `SELECT product_id, warehouse_id, quantity, reserved_quantity, avg_cost, updated_at
FROM stocks WHERE product_id=$1 AND warehouse_id=$2`, productID, warehouseID).
		Scan(&stock.ProductID, &stock.WarehouseID, &stock.Quantity, &stock.Reserved, &stock.AvgCost, &stock.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stock{}, ErrStockNotFound
	}
	if err != nil {
		return Stock{}, err
	}
	return stock, nil
}

// StockCard lists valuation card entries ordered by date.
func (r *Repository) StockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT movement_id, entry_date, movement_type, document, qty_in, qty_out, unit_cost, balance_qty, balance_value
FROM stock_cards
WHERE product_id=$1 AND warehouse_id=$2 AND entry_date BETWEEN COALESCE(NULLIF($3, '0001-01-01'::timestamptz), '-infinity') AND COALESCE(NULLIF($4, '0001-01-01'::timestamptz), 'infinity')
ORDER BY entry_date ASC, movement_id ASC
LIMIT $5`, filter.ProductID, filter.WarehouseID, filter.From, filter.To, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cards := []StockCardEntry{}
	for rows.Next() {
		var entry StockCardEntry
		if err := rows.Scan(&entry.MovementID, &entry.Date, &entry.Type, &entry.Document, &entry.QtyIn, &entry.QtyOut, &entry.UnitCost, &entry.BalanceQty, &entry.BalanceValue); err != nil {
			return nil, err
		}
		cards = append(cards, entry)
	}
	return cards, rows.Err()
}

// ListMovements returns the most recent movements first.
func (r *Repository) ListMovements(ctx context.Context, productID, warehouseID int64, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, warehouse_id, movement_type, quantity, unit_cost, document_type, document_number, destination_warehouse_id, journal_entry_id, created_by, created_at
FROM stock_movements
WHERE product_id=$1 AND warehouse_id=$2
ORDER BY created_at DESC, id DESC
LIMIT $3`, productID, warehouseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.WarehouseID, &m.Type, &m.Quantity, &m.UnitCost, &m.DocumentType, &m.DocumentNumber, &m.DestWarehouseID, &m.JournalEntryID, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *txRepository) GetStockForUpdate(ctx context.Context, productID, warehouseID int64) (Stock, error) {
	var stock Stock
	err := r.tx.QueryRow(ctx, `SELECT product_id, warehouse_id, quantity, reserved_quantity, avg_cost, updated_at
FROM stocks WHERE product_id=$1 AND warehouse_id=$2 FOR UPDATE`, productID, warehouseID).
		Scan(&stock.ProductID, &stock.WarehouseID, &stock.Quantity, &stock.Reserved, &stock.AvgCost, &stock.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stock{}, ErrStockNotFound
	}
	if err != nil {
		return Stock{}, err
	}
	return stock, nil
}

func (r *txRepository) UpsertStock(ctx context.Context, stock Stock) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stocks (product_id, warehouse_id, quantity, reserved_quantity, avg_cost, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (product_id, warehouse_id) DO UPDATE
SET quantity=EXCLUDED.quantity, reserved_quantity=EXCLUDED.reserved_quantity, avg_cost=EXCLUDED.avg_cost, updated_at=EXCLUDED.updated_at`,
		stock.ProductID, stock.WarehouseID, stock.Quantity, stock.Reserved, stock.AvgCost, stock.UpdatedAt)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, movement Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, warehouse_id, movement_type, quantity, unit_cost, document_type, document_number, destination_warehouse_id, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		movement.ProductID, movement.WarehouseID, movement.Type, movement.Quantity, movement.UnitCost,
		movement.DocumentType, movement.DocumentNumber, movement.DestWarehouseID, movement.CreatedBy, movement.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertCardEntry(ctx context.Context, productID, warehouseID int64, card StockCardEntry) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_cards (product_id, warehouse_id, movement_id, entry_date, movement_type, document, qty_in, qty_out, unit_cost, balance_qty, balance_value)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		productID, warehouseID, card.MovementID, card.Date, card.Type, card.Document,
		card.QtyIn, card.QtyOut, card.UnitCost, card.BalanceQty, card.BalanceValue)
	return err
}

func (r *txRepository) LinkJournal(ctx context.Context, movementID, journalEntryID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_movements SET journal_entry_id=$2 WHERE id=$1`, movementID, journalEntryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMovementNotFound
	}
	return nil
}
