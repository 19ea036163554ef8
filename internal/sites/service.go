package sites

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Invalidator drops read models that embed site rows.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Cache  Invalidator
	Logger *slog.Logger
}

// Service coordinates site registry operations.
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

func (s *Service) List(ctx context.Context, filter ListFilter) (shared.Page[Site], error) {
	filter.Search = strings.TrimSpace(filter.Search)
	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return shared.Page[Site]{}, err
	}
	return shared.Page[Site]{Items: rows, TotalCount: total}, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Site, error) {
	if id <= 0 {
		return Site{}, fmt.Errorf("%w: invalid site id", shared.ErrValidation)
	}
	return s.repo.Get(ctx, id)
}

// Lookup resolves several sites at once; missing ids are absent from the map.
func (s *Service) Lookup(ctx context.Context, ids []int64) (map[int64]Site, error) {
	return s.repo.GetMany(ctx, ids)
}

func (s *Service) Create(ctx context.Context, in Input) (Site, error) {
	site, err := fromInput(in)
	if err != nil {
		return Site{}, err
	}
	if in.IsActive == nil {
		site.IsActive = true
	}
	created, err := s.repo.Create(ctx, site)
	if err != nil {
		return Site{}, err
	}
	s.logger.Info("site created", slog.Int64("site_id", created.ID), slog.String("code", created.Code))
	s.invalidate(ctx, "create")
	return created, nil
}

func (s *Service) Update(ctx context.Context, id int64, in Input) (Site, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return Site{}, err
	}
	site, err := fromInput(in)
	if err != nil {
		return Site{}, err
	}
	site.ID = id
	if in.IsActive == nil {
		site.IsActive = current.IsActive
	}
	if err := s.repo.Update(ctx, site); err != nil {
		return Site{}, err
	}
	s.invalidate(ctx, "update")
	return s.repo.Get(ctx, id)
}

// Deactivate soft-deletes a site; its history stays queryable.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	return s.setActive(ctx, id, false)
}

// Activate reverses Deactivate.
func (s *Service) Activate(ctx context.Context, id int64) error {
	return s.setActive(ctx, id, true)
}

func (s *Service) setActive(ctx context.Context, id int64, active bool) error {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return err
	}
	s.invalidate(ctx, "activation")
	return nil
}

// Delete hard-deletes a site that no voucher references.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid site id", shared.ErrValidation)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, "delete")
	return nil
}

func (s *Service) CountActive(ctx context.Context) (int, error) {
	return s.repo.CountActive(ctx)
}

func (s *Service) invalidate(ctx context.Context, op string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Error("read cache invalidation failed", slog.String("op", "site "+op), slog.Any("error", err))
	}
}

func fromInput(in Input) (Site, error) {
	in.Code = shared.NormalizeCode(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if err := shared.ValidateStruct(in); err != nil {
		return Site{}, err
	}
	site := Site{Code: in.Code, Name: in.Name, Kind: in.Kind}
	if in.Address != nil {
		if addr := strings.TrimSpace(*in.Address); addr != "" {
			site.Address = &addr
		}
	}
	if in.IsActive != nil {
		site.IsActive = *in.IsActive
	}
	return site, nil
}
