package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vantage-erp/vantage-erp/internal/shared"
)

type stockKey struct {
	productID   int64
	warehouseID int64
}

type memoryRepo struct {
	stocks    map[stockKey]Stock
	movements []Movement
	cards     []StockCardEntry
	nextID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{stocks: map[stockKey]Stock{}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetStock(ctx context.Context, productID, warehouseID int64) (Stock, error) {
	if s, ok := r.stocks[stockKey{productID, warehouseID}]; ok {
		return s, nil
	}
	return Stock{}, ErrStockNotFound
}

func (r *memoryRepo) StockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	return r.cards, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, productID, warehouseID int64, limit int) ([]Movement, error) {
	return r.movements, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) GetStockForUpdate(ctx context.Context, productID, warehouseID int64) (Stock, error) {
	return tx.repo.GetStock(ctx, productID, warehouseID)
}

func (tx *memoryTx) UpsertStock(ctx context.Context, stock Stock) error {
	tx.repo.stocks[stockKey{stock.ProductID, stock.WarehouseID}] = stock
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, movement Movement) (int64, error) {
	tx.repo.nextID++
	movement.ID = tx.repo.nextID
	tx.repo.movements = append(tx.repo.movements, movement)
	return movement.ID, nil
}

func (tx *memoryTx) InsertCardEntry(ctx context.Context, productID, warehouseID int64, card StockCardEntry) error {
	tx.repo.cards = append(tx.repo.cards, card)
	return nil
}

func (tx *memoryTx) LinkJournal(ctx context.Context, movementID, journalEntryID int64) error {
	for i := range tx.repo.movements {
		if tx.repo.movements[i].ID == movementID {
			tx.repo.movements[i].JournalEntryID = &journalEntryID
			return nil
		}
	}
	return ErrMovementNotFound
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func input(qty, cost string) MovementInput {
	return MovementInput{
		ProductID:      1,
		WarehouseID:    1,
		Quantity:       dec(qty),
		UnitCost:       dec(cost),
		DocumentType:   "PURCHASE",
		DocumentNumber: "PI-0001",
		ActorID:        7,
	}
}

func TestReceiveUpdatesMovingAverage(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, input("10", "5.00"))
	require.NoError(t, err)
	_, err = svc.Receive(ctx, input("10", "7.00"))
	require.NoError(t, err)

	stock, err := svc.Stock(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, stock.Quantity.Equal(dec("20")))
	// (10*5 + 10*7) / 20 = 6
	require.True(t, stock.AvgCost.Equal(dec("6")), "avg %s", stock.AvgCost)
}

func TestIssueUsesAverageCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, input("10", "5.00"))
	require.NoError(t, err)
	_, err = svc.Receive(ctx, input("10", "7.00"))
	require.NoError(t, err)

	movement, err := svc.Issue(ctx, input("5", "0"))
	require.NoError(t, err)
	require.True(t, movement.UnitCost.Equal(dec("6")), "cost %s", movement.UnitCost)
	require.Equal(t, MovementTypeOut, movement.Type)

	stock, err := svc.Stock(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, stock.Quantity.Equal(dec("15")))
	// Issues leave the average untouched.
	require.True(t, stock.AvgCost.Equal(dec("6")))
}

func TestIssueRejectsNegativeStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, input("10", "5.00"))
	require.NoError(t, err)

	_, err = svc.Issue(ctx, input("11", "0"))
	require.ErrorIs(t, err, ErrInsufficientStock)

	stock, err := svc.Stock(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, stock.Quantity.Equal(dec("10")))
}

func TestIssueAllowedNegativeWhenConfigured(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{AllowNegativeStock: true})
	ctx := context.Background()

	_, err := svc.Receive(ctx, input("2", "5.00"))
	require.NoError(t, err)
	_, err = svc.Issue(ctx, input("5", "0"))
	require.NoError(t, err)

	stock, err := svc.Stock(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, stock.Quantity.Equal(dec("-3")))
}

func TestAdjustSignedDelta(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, input("10", "5.00"))
	require.NoError(t, err)

	// Count found 2 fewer units than booked.
	movement, err := svc.Adjust(ctx, input("0", "0"), dec("-2"))
	require.NoError(t, err)
	require.Equal(t, MovementTypeAdjustment, movement.Type)
	require.True(t, movement.UnitCost.Equal(dec("5")))

	stock, err := svc.Stock(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, stock.Quantity.Equal(dec("8")))

	_, err = svc.Adjust(ctx, input("0", "0"), decimal.Zero)
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestTransferKeepsSourceCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, input("10", "5.00"))
	require.NoError(t, err)

	out, in, err := svc.Transfer(ctx, TransferInput{
		ProductID:      1,
		SourceID:       1,
		DestinationID:  2,
		Quantity:       dec("4"),
		DocumentType:   "TRANSFER",
		DocumentNumber: "TR-0001",
		ActorID:        7,
	})
	require.NoError(t, err)
	require.True(t, out.UnitCost.Equal(dec("5")))
	require.True(t, in.UnitCost.Equal(dec("5")))
	require.NotNil(t, out.DestWarehouseID)
	require.EqualValues(t, 2, *out.DestWarehouseID)

	src, err := svc.Stock(ctx, 1, 1)
	require.NoError(t, err)
	dst, err := svc.Stock(ctx, 1, 2)
	require.NoError(t, err)
	require.True(t, src.Quantity.Equal(dec("6")))
	require.True(t, dst.Quantity.Equal(dec("4")))
	require.True(t, dst.AvgCost.Equal(dec("5")))
}

func TestTransferRejectsSameWarehouse(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, ServiceConfig{})
	_, _, err := svc.Transfer(context.Background(), TransferInput{
		ProductID: 1, SourceID: 1, DestinationID: 1, Quantity: dec("1"),
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestReserveAndRelease(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, input("10", "5.00"))
	require.NoError(t, err)

	stock, err := svc.Reserve(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: dec("6"), ActorID: 7})
	require.NoError(t, err)
	require.True(t, stock.Reserved.Equal(dec("6")))
	require.True(t, stock.Available().Equal(dec("4")))

	_, err = svc.Reserve(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: dec("5"), ActorID: 7})
	require.ErrorIs(t, err, ErrReservationExceeds)

	stock, err = svc.Release(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: dec("6"), ActorID: 7})
	require.NoError(t, err)
	require.True(t, stock.Reserved.IsZero())
}

func TestReturnsMirrorOriginalDirection(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Receive(ctx, input("10", "5.00"))
	require.NoError(t, err)
	issued, err := svc.Issue(ctx, input("4", "0"))
	require.NoError(t, err)

	// Customer sends 2 units back at the issue cost.
	back := input("2", issued.UnitCost.String())
	back.DocumentType = "SALE_RETURN"
	movement, err := svc.ReturnIn(ctx, back)
	require.NoError(t, err)
	require.Equal(t, MovementTypeReturnIn, movement.Type)

	stock, err := svc.Stock(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, stock.Quantity.Equal(dec("8")))

	// Two damaged units go back to the supplier at average cost.
	supplierReturn, err := svc.ReturnOut(ctx, input("2", "0"))
	require.NoError(t, err)
	require.Equal(t, MovementTypeReturnOut, supplierReturn.Type)
	require.True(t, supplierReturn.UnitCost.Equal(dec("5")))

	stock, err = svc.Stock(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, stock.Quantity.Equal(dec("6")))
}

func TestLinkJournal(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	ctx := context.Background()

	movement, err := svc.Receive(ctx, input("10", "5.00"))
	require.NoError(t, err)

	require.NoError(t, svc.LinkJournal(ctx, movement.ID, 42))
	require.NotNil(t, repo.movements[0].JournalEntryID)
	require.EqualValues(t, 42, *repo.movements[0].JournalEntryID)

	require.ErrorIs(t, svc.LinkJournal(ctx, 999, 42), ErrMovementNotFound)
}

type captureIntegration struct {
	events []MovementPostedEvent
}

func (c *captureIntegration) HandleMovementPosted(ctx context.Context, event MovementPostedEvent) error {
	c.events = append(c.events, event)
	return nil
}

func TestAdjustEmitsIntegrationEvent(t *testing.T) {
	repo := newMemoryRepo()
	capture := &captureIntegration{}
	svc := NewService(repo, nil, capture, ServiceConfig{})
	svc.WithNow(func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) })
	ctx := context.Background()

	_, err := svc.Receive(ctx, input("10", "5.00"))
	require.NoError(t, err)
	_, err = svc.Adjust(ctx, input("0", "0"), dec("-3"))
	require.NoError(t, err)

	require.Len(t, capture.events, 1)
	event := capture.events[0]
	require.Equal(t, MovementTypeAdjustment, event.Type)
	require.True(t, event.Quantity.Equal(dec("-3")))
	require.True(t, event.Value().Equal(dec("15")))
}

type memoryIdem struct {
	keys map[string]bool
}

func (m *memoryIdem) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys == nil {
		m.keys = map[string]bool{}
	}
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdem) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

func TestReceiveReplayRefusedByIdempotencyKey(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	svc.WithIdempotency(&memoryIdem{})
	ctx := context.Background()

	in := input("10", "5.00")
	in.IdempotencyKey = "rcv-1"
	_, err := svc.Receive(ctx, in)
	require.NoError(t, err)

	_, err = svc.Receive(ctx, in)
	require.ErrorIs(t, err, ErrDuplicateMovement)

	stock, err := svc.Stock(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, stock.Quantity.Equal(dec("10")))
}

func TestFailedMovementFreesIdempotencyKey(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	idem := &memoryIdem{}
	svc.WithIdempotency(idem)
	ctx := context.Background()

	in := input("5", "0")
	in.IdempotencyKey = "iss-1"
	_, err := svc.Issue(ctx, in)
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.False(t, idem.keys["iss-1"])
}
