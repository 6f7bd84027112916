package products

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vantage-erp/vantage-erp/internal/masterdata/shared"
)

type memoryRepo struct {
	products map[int64]Product
	nextID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{products: make(map[int64]Product)}
}

func (r *memoryRepo) List(ctx context.Context, filters shared.ListFilters) ([]Product, int, error) {
	var out []Product
	for _, p := range r.products {
		if filters.Search != "" && !strings.Contains(p.Name, filters.Search) && !strings.Contains(p.Code, filters.Search) {
			continue
		}
		if filters.IsActive != nil && p.IsActive != *filters.IsActive {
			continue
		}
		out = append(out, p)
	}
	return out, len(out), nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Product, error) {
	p, ok := r.products[id]
	if !ok {
		return Product{}, shared.ErrNotFound
	}
	return p, nil
}

func (r *memoryRepo) Create(ctx context.Context, p Product) (Product, error) {
	for _, existing := range r.products {
		if existing.Code == p.Code {
			return Product{}, shared.ErrDuplicate
		}
	}
	r.nextID++
	p.ID = r.nextID
	r.products[p.ID] = p
	return p, nil
}

func (r *memoryRepo) Update(ctx context.Context, id int64, p Product) error {
	if _, ok := r.products[id]; !ok {
		return shared.ErrNotFound
	}
	p.ID = id
	p.IsActive = r.products[id].IsActive
	r.products[id] = p
	return nil
}

func (r *memoryRepo) SetActive(ctx context.Context, id int64, active bool) error {
	p, ok := r.products[id]
	if !ok {
		return shared.ErrNotFound
	}
	p.IsActive = active
	r.products[id] = p
	return nil
}

func widget() Product {
	return Product{
		Code:  "WID-1",
		Name:  "Widget",
		Unit:  "pcs",
		Price: decimal.RequireFromString("15"),
		Cost:  decimal.RequireFromString("10"),
	}
}

func TestCreateActivatesProduct(t *testing.T) {
	service := NewService(newMemoryRepo())

	created, err := service.Create(context.Background(), widget())
	require.NoError(t, err)
	require.True(t, created.IsActive)
	require.Equal(t, int64(1), created.ID)
}

func TestCreateRejectsNegativePrice(t *testing.T) {
	service := NewService(newMemoryRepo())

	p := widget()
	p.Price = decimal.RequireFromString("-1")
	_, err := service.Create(context.Background(), p)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	service := NewService(newMemoryRepo())

	_, err := service.Create(context.Background(), widget())
	require.NoError(t, err)
	_, err = service.Create(context.Background(), widget())
	require.ErrorIs(t, err, shared.ErrDuplicate)
}

func TestSetActive(t *testing.T) {
	repo := newMemoryRepo()
	service := NewService(repo)

	created, err := service.Create(context.Background(), widget())
	require.NoError(t, err)
	require.NoError(t, service.SetActive(context.Background(), created.ID, false))

	stored, err := service.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.False(t, stored.IsActive)

	require.ErrorIs(t, service.SetActive(context.Background(), 99, true), shared.ErrNotFound)
}
