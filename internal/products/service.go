package products

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/srecha/srecha-invoice/internal/activity"
	"github.com/srecha/srecha-invoice/internal/shared"
)

// MaxPageSize caps product listings.
const MaxPageSize = 100

// Recorder appends activity log entries.
type Recorder interface {
	Record(ctx context.Context, ev activity.Event)
}

// Service implements catalogue operations.
type Service struct {
	repo  Repository
	audit Recorder
}

// NewService constructs the service. audit may be nil.
func NewService(repo Repository, audit Recorder) *Service {
	return &Service{repo: repo, audit: audit}
}

func (s *Service) record(ctx context.Context, action string, p Product) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, activity.Event{
		ActorID:    shared.ActorID(ctx),
		Action:     action,
		EntityType: EntityProducts,
		EntityID:   p.ID.String(),
		Details:    map[string]any{"code": p.Code, "name": p.Name},
	})
}

// List returns one page of products.
func (s *Service) List(ctx context.Context, f ListFilters, page shared.PageRequest) (Page, error) {
	if page.Limit <= 0 {
		page.Limit = 50
	}
	if page.Limit > MaxPageSize {
		return Page{}, fmt.Errorf("%w: limit must be between 1 and %d", shared.ErrValidation, MaxPageSize)
	}
	items, total, err := s.repo.List(ctx, f, page.Limit, page.Offset())
	if err != nil {
		return Page{}, err
	}
	return Page{Products: items, Pagination: shared.NewPagination(page.Page, page.Limit, total)}, nil
}

// Categories lists categories in use by active products.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	categories, err := s.repo.Categories(ctx)
	if categories == nil {
		categories = []string{}
	}
	return categories, err
}

// Get loads one product.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Product, error) {
	return s.repo.Get(ctx, id)
}

// Create adds a product. Codes are unique.
func (s *Service) Create(ctx context.Context, in Input) (Product, error) {
	if err := in.normalize(); err != nil {
		return Product{}, err
	}
	p := Product{
		Code:        in.Code,
		Name:        in.Name,
		Price:       in.Price,
		Category:    in.Category,
		Description: in.Description,
		IsActive:    true,
		CreatedBy:   shared.ActorID(ctx),
	}
	if in.Weight != nil {
		p.Weight = decimal.NewNullDecimal(*in.Weight)
	}
	created, err := s.repo.Insert(ctx, p)
	if err != nil {
		return Product{}, err
	}
	s.record(ctx, ActionCreate, created)
	return created, nil
}

// Update replaces the editable fields of a product.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in Input) (Product, error) {
	if err := in.normalize(); err != nil {
		return Product{}, err
	}
	updated, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return Product{}, err
	}
	s.record(ctx, ActionUpdate, updated)
	return updated, nil
}

// Delete removes an unreferenced product. Products referenced by any invoice
// or delivery line are deactivated instead.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (DeleteResult, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}
	usage, err := s.repo.Usage(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}
	if !usage.InUse() {
		err = s.repo.Delete(ctx, id)
		if err == nil {
			s.record(ctx, ActionDelete, existing)
			return DeleteResult{Product: existing}, nil
		}
		if !errors.Is(err, ErrInUse) {
			return DeleteResult{}, err
		}
	}
	deactivated, err := s.repo.SetActive(ctx, id, false)
	if err != nil {
		return DeleteResult{}, err
	}
	s.record(ctx, ActionDeactivate, deactivated)
	return DeleteResult{Deactivated: true, Product: deactivated}, nil
}

// Activate re-enables a deactivated product.
func (s *Service) Activate(ctx context.Context, id uuid.UUID) (Product, error) {
	p, err := s.repo.SetActive(ctx, id, true)
	if err != nil {
		return Product{}, err
	}
	s.record(ctx, ActionActivate, p)
	return p, nil
}

// Stats reports sales figures for one product.
func (s *Service) Stats(ctx context.Context, id uuid.UUID) (Stats, error) {
	return s.repo.Stats(ctx, id)
}
