package warehouses

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

func (s *Service) validate(w Warehouse) error {
	if strings.TrimSpace(w.Code) == "" {
		return errors.New("warehouse code is required")
	}
	if strings.TrimSpace(w.Name) == "" {
		return errors.New("warehouse name is required")
	}
	return nil
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Warehouse, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Warehouse, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, w Warehouse) (Warehouse, error) {
	if err := s.validate(w); err != nil {
		return Warehouse{}, fmt.Errorf("%w: %s", shared.ErrValidation, err)
	}
	w.IsActive = true
	return s.repo.Create(ctx, w)
}

func (s *Service) Update(ctx context.Context, id int64, w Warehouse) error {
	if err := s.validate(w); err != nil {
		return fmt.Errorf("%w: %s", shared.ErrValidation, err)
	}
	return s.repo.Update(ctx, id, w)
}

func (s *Service) SetActive(ctx context.Context, id int64, active bool) error {
	return s.repo.SetActive(ctx, id, active)
}
