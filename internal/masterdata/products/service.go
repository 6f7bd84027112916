package products

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vantage-erp/vantage-erp/internal/masterdata/shared"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) validate(p Product) error {
	if strings.TrimSpace(p.Code) == "" {
		return errors.New("product code is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("product name is required")
	}
	if p.Price.IsNegative() || p.Cost.IsNegative() {
		return errors.New("price and cost must not be negative")
	}
	if p.TaxRate.IsNegative() {
		return errors.New("tax rate must not be negative")
	}
	return nil
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Product, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, p Product) (Product, error) {
	if err := s.validate(p); err != nil {
		return Product{}, fmt.Errorf("%w: %s", shared.ErrValidation, err)
	}
	p.IsActive = true
	return s.repo.Create(ctx, p)
}

func (s *Service) Update(ctx context.Context, id int64, p Product) error {
	if err := s.validate(p); err != nil {
		return fmt.Errorf("%w: %s", shared.ErrValidation, err)
	}
	return s.repo.Update(ctx, id, p)
}

func (s *Service) SetActive(ctx context.Context, id int64, active bool) error {
	return s.repo.SetActive(ctx, id, active)
}
