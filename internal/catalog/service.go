package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Invalidator drops read models built from catalog rows, such as the stock balance cache.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Cache  Invalidator
	Logger *slog.Logger
}

// Service coordinates catalog operations.
type Service struct {
	repo   Repository
	cache  Invalidator
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo Repository, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cfg.Cache, logger: logger}
}

// ListLabels returns brands or models ordered by name.
func (s *Service) ListLabels(ctx context.Context, kind Kind, activeOnly bool) ([]Label, error) {
	return s.repo.ListLabels(ctx, kind, activeOnly)
}

func (s *Service) GetLabel(ctx context.Context, kind Kind, id int64) (Label, error) {
	if id <= 0 {
		return Label{}, fmt.Errorf("%w: invalid %s id", shared.ErrValidation, kind.singular())
	}
	return s.repo.GetLabel(ctx, kind, id)
}

func (s *Service) CreateLabel(ctx context.Context, kind Kind, in LabelInput) (Label, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := shared.ValidateStruct(in); err != nil {
		return Label{}, err
	}
	label := Label{Name: in.Name, IsActive: true}
	if in.IsActive != nil {
		label.IsActive = *in.IsActive
	}
	created, err := s.repo.CreateLabel(ctx, kind, label)
	if err != nil {
		return Label{}, err
	}
	s.logger.Info(kind.singular()+" created", slog.Int64("id", created.ID), slog.String("name", created.Name))
	s.invalidate(ctx, kind.singular()+" create")
	return created, nil
}

func (s *Service) UpdateLabel(ctx context.Context, kind Kind, id int64, in LabelInput) (Label, error) {
	current, err := s.GetLabel(ctx, kind, id)
	if err != nil {
		return Label{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := shared.ValidateStruct(in); err != nil {
		return Label{}, err
	}
	current.Name = in.Name
	if in.IsActive != nil {
		current.IsActive = *in.IsActive
	}
	if err := s.repo.UpdateLabel(ctx, kind, current); err != nil {
		return Label{}, err
	}
	s.invalidate(ctx, kind.singular()+" update")
	return current, nil
}

// DeleteLabel hard-deletes a brand or model no item references.
func (s *Service) DeleteLabel(ctx context.Context, kind Kind, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid %s id", shared.ErrValidation, kind.singular())
	}
	if err := s.repo.DeleteLabel(ctx, kind, id); err != nil {
		return err
	}
	s.invalidate(ctx, kind.singular()+" delete")
	return nil
}

func (s *Service) ListItems(ctx context.Context, filter ItemFilter) (shared.Page[Item], error) {
	filter.Search = strings.TrimSpace(filter.Search)
	rows, total, err := s.repo.ListItems(ctx, filter)
	if err != nil {
		return shared.Page[Item]{}, err
	}
	return shared.Page[Item]{Items: rows, TotalCount: total}, nil
}

func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	if id <= 0 {
		return Item{}, fmt.Errorf("%w: invalid item id", shared.ErrValidation)
	}
	return s.repo.GetItem(ctx, id)
}

// LookupItems resolves several items at once; missing ids are absent from the map.
func (s *Service) LookupItems(ctx context.Context, ids []int64) (map[int64]Item, error) {
	return s.repo.GetItems(ctx, ids)
}

func (s *Service) CreateItem(ctx context.Context, in ItemInput) (Item, error) {
	item, err := itemFromInput(in)
	if err != nil {
		return Item{}, err
	}
	if in.IsActive == nil {
		item.IsActive = true
	}
	created, err := s.repo.CreateItem(ctx, item)
	if err != nil {
		return Item{}, err
	}
	s.logger.Info("item created", slog.Int64("item_id", created.ID), slog.String("code", created.Code))
	s.invalidate(ctx, "item create")
	return created, nil
}

func (s *Service) UpdateItem(ctx context.Context, id int64, in ItemInput) (Item, error) {
	current, err := s.GetItem(ctx, id)
	if err != nil {
		return Item{}, err
	}
	item, err := itemFromInput(in)
	if err != nil {
		return Item{}, err
	}
	item.ID = id
	if in.IsActive == nil {
		item.IsActive = current.IsActive
	}
	if err := s.repo.UpdateItem(ctx, item); err != nil {
		return Item{}, err
	}
	s.invalidate(ctx, "item update")
	return s.repo.GetItem(ctx, id)
}

// DeactivateItem soft-deletes an item; its movements stay queryable.
func (s *Service) DeactivateItem(ctx context.Context, id int64) error {
	return s.setItemActive(ctx, id, false)
}

func (s *Service) ActivateItem(ctx context.Context, id int64) error {
	return s.setItemActive(ctx, id, true)
}

func (s *Service) setItemActive(ctx context.Context, id int64, active bool) error {
	if err := s.repo.SetItemActive(ctx, id, active); err != nil {
		return err
	}
	s.invalidate(ctx, "item activation")
	return nil
}

// DeleteItem hard-deletes an item no voucher line references.
func (s *Service) DeleteItem(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid item id", shared.ErrValidation)
	}
	if err := s.repo.DeleteItem(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, "item delete")
	return nil
}

func (s *Service) CountActiveItems(ctx context.Context) (int, error) {
	return s.repo.CountActiveItems(ctx)
}

// invalidate runs after a committed write; a failure is logged and never undoes the write.
func (s *Service) invalidate(ctx context.Context, op string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Error("read cache invalidation failed", slog.String("op", op), slog.Any("error", err))
	}
}

func itemFromInput(in ItemInput) (Item, error) {
	in.Code = shared.NormalizeCode(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if err := shared.ValidateStruct(in); err != nil {
		return Item{}, err
	}
	item := Item{Code: in.Code, Name: in.Name, BrandID: in.BrandID, ModelID: in.ModelID}
	if in.IsActive != nil {
		item.IsActive = *in.IsActive
	}
	return item, nil
}
