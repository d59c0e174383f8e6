package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/srecha/srecha-invoice/internal/activity"
	"github.com/srecha/srecha-invoice/internal/shared"
)

// MaxPageSize caps delivery listings.
const MaxPageSize = 100

const defaultListLimit = 50

// Recorder appends activity log entries.
type Recorder interface {
	Record(ctx context.Context, ev activity.Event)
}

// CacheInvalidator drops cached statistics derived from deliveries.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// Service manages delivery business logic.
type Service struct {
	repo   Repository
	audit  Recorder
	cache  CacheInvalidator
	logger *slog.Logger
}

// NewService creates a new delivery service instance. audit and cache may be nil.
func NewService(repo Repository, audit Recorder, cache CacheInvalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, cache: cache, logger: logger}
}

func (s *Service) record(ctx context.Context, action string, id uuid.UUID, details map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, activity.Event{
		ActorID:    shared.ActorID(ctx),
		Action:     action,
		EntityType: EntityDeliveries,
		EntityID:   id.String(),
		Details:    details,
	})
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("invalidate statistics cache", slog.Any("error", err))
	}
}

// StatusAction names the activity entry for a transition to status.
func StatusAction(status Status) string {
	return ActionStatusPrefix + cases.Upper(language.Und).String(string(status))
}

// List returns one page of deliveries.
func (s *Service) List(ctx context.Context, filters ListFilters, page shared.PageRequest) (Page, error) {
	if page.Limit <= 0 {
		page.Limit = defaultListLimit
	}
	if page.Limit > MaxPageSize {
		return Page{}, fmt.Errorf("%w: limit must be between 1 and %d", shared.ErrValidation, MaxPageSize)
	}
	if filters.Status != "" && !filters.Status.Valid() {
		return Page{}, fmt.Errorf("%w: status must be draft or confirmed", shared.ErrValidation)
	}
	filters.Search = strings.TrimSpace(filters.Search)
	items, total, err := s.repo.List(ctx, filters, page.Limit, page.Offset())
	if err != nil {
		return Page{}, err
	}
	return Page{Deliveries: items, Pagination: shared.NewPagination(page.Page, page.Limit, total)}, nil
}

// Get loads one delivery with its lines.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Delivery, error) {
	return s.repo.Get(ctx, id)
}

// Create stores a draft delivery and its lines in one transaction.
func (s *Service) Create(ctx context.Context, in CreateInput) (Delivery, error) {
	d, err := in.build()
	if err != nil {
		return Delivery{}, err
	}
	d.CreatedBy = shared.ActorID(ctx)

	var created Delivery
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.Insert(ctx, d)
		if err != nil {
			return err
		}
		s.record(ctx, ActionCreate, created.ID, map[string]any{
			"number":     created.Number,
			"client_id":  created.ClientID,
			"item_count": len(created.Items),
		})
		return nil
	})
	if err != nil {
		return Delivery{}, err
	}
	s.invalidate(ctx)
	return created, nil
}

// UpdateStatus moves a delivery between draft and confirmed. Deliveries
// carry no stock effect.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (Delivery, error) {
	if !status.Valid() {
		return Delivery{}, fmt.Errorf("%w: status must be draft or confirmed", shared.ErrValidation)
	}
	var d Delivery
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, previous, err := tx.LockStatus(ctx, id)
		if err != nil {
			return err
		}
		d, err = tx.SetStatus(ctx, id, status)
		if err != nil {
			return err
		}
		s.record(ctx, StatusAction(status), id, map[string]any{
			"old_status": previous,
			"new_status": status,
		})
		return nil
	})
	if err != nil {
		return Delivery{}, err
	}
	return d, nil
}

// SetSigned marks the delivery note as signed or unsigned.
func (s *Service) SetSigned(ctx context.Context, id uuid.UUID, signed bool) (Delivery, error) {
	d, err := s.repo.SetSigned(ctx, id, signed)
	if err != nil {
		return Delivery{}, err
	}
	s.record(ctx, ActionUpdateSigned, id, map[string]any{"is_signed": signed})
	return d, nil
}

// Delete removes a draft delivery and its lines.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, status, err := tx.LockStatus(ctx, id)
		if err != nil {
			return err
		}
		if !status.CanDelete() {
			return ErrConfirmedDelete
		}
		if err := tx.Delete(ctx, id); err != nil {
			return err
		}
		s.record(ctx, ActionDelete, id, map[string]any{"number": number})
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}
