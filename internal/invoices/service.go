package invoices

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/srecha/srecha-invoice/internal/activity"
	"github.com/srecha/srecha-invoice/internal/inventory"
	"github.com/srecha/srecha-invoice/internal/platform/db"
	"github.com/srecha/srecha-invoice/internal/shared"
)

// MaxPageSize caps invoice listings.
const MaxPageSize = 100

// Recorder appends activity log entries.
type Recorder interface {
	Record(ctx context.Context, ev activity.Event)
}

// StockLedger deducts consumed stock. *inventory.Service implements it.
type StockLedger interface {
	ApplyConsumption(ctx context.Context, lines []inventory.ConsumptionLine) ([]inventory.StockUpdate, error)
}

// CacheInvalidator drops cached statistics derived from invoices.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// Service implements invoice operations.
type Service struct {
	repo   Repository
	stock  StockLedger
	audit  Recorder
	cache  CacheInvalidator
	logger *slog.Logger
}

// NewService constructs the service. audit and cache may be nil.
func NewService(repo Repository, stock StockLedger, audit Recorder, cache CacheInvalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		stock:  stock,
		audit:  audit,
		cache:  cache,
		logger: logger,
	}
}

func (s *Service) record(ctx context.Context, action, entityType, entityID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, activity.Event{
		ActorID:    shared.ActorID(ctx),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
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

// List returns one page of invoices.
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
	return Page{Invoices: items, Pagination: shared.NewPagination(page.Page, page.Limit, total)}, nil
}

// Get loads one invoice with its lines.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Invoice, error) {
	return s.repo.Get(ctx, id)
}

// Create stores a draft invoice and its lines in one transaction. A non-empty
// idempotencyKey is claimed in the same transaction; reusing it fails with
// ErrDuplicateRequest.
func (s *Service) Create(ctx context.Context, in CreateInput, idempotencyKey string) (Invoice, error) {
	inv, err := in.build()
	if err != nil {
		return Invoice{}, err
	}
	inv.CreatedBy = shared.ActorID(ctx)

	var created Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if key := strings.TrimSpace(idempotencyKey); key != "" {
			if err := tx.ClaimRequest(ctx, key); err != nil {
				return err
			}
		}
		created, err = tx.Insert(ctx, inv)
		if err != nil {
			return err
		}
		s.record(ctx, ActionCreate, EntityInvoices, created.ID.String(), map[string]any{
			"number":     created.Number,
			"client_id":  created.ClientID,
			"total":      created.Total,
			"item_count": len(created.Items),
		})
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.invalidate(ctx)
	return created, nil
}

// UpdateStatus moves an invoice between draft and confirmed. Confirming a
// draft deducts its lines from stock in the same transaction; the status
// write is a compare-and-set, so a repeated confirmation deducts nothing.
// Reverting to draft does not restock.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (Invoice, error) {
	if !status.Valid() {
		return Invoice{}, fmt.Errorf("%w: status must be draft or confirmed", shared.ErrValidation)
	}

	var inv Invoice
	err := db.RetrySerializable(ctx, db.SerializationRetries, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			return s.transition(ctx, tx, id, status, &inv)
		})
	})
	if db.SerializationFailure(err) {
		return Invoice{}, ErrConcurrentUpdate
	}
	if err != nil {
		return Invoice{}, err
	}
	s.invalidate(ctx)
	return inv, nil
}

func (s *Service) transition(ctx context.Context, tx TxRepository, id uuid.UUID, status Status, out *Invoice) error {
	_, previous, err := tx.LockStatus(ctx, id)
	if err != nil {
		return err
	}
	var changed bool
	*out, changed, err = tx.TransitionStatus(ctx, id, status)
	if err != nil {
		return err
	}

	if changed && status == StatusConfirmed {
		lines, err := tx.ConsumptionLines(ctx, id)
		if err != nil {
			return err
		}
		updates, err := s.stock.ApplyConsumption(ctx, lines)
		if err != nil {
			return err
		}
		if len(updates) > 0 {
			s.record(ctx, ActionStockUpdate, EntityProductGroups, "", map[string]any{
				"invoice_id": id,
				"updates":    updates,
			})
		}
	}

	s.record(ctx, StatusAction(status), EntityInvoices, id.String(), map[string]any{
		"old_status": previous,
		"new_status": status,
	})
	return nil
}

// StatusAction names the activity entry for a transition to status.
func StatusAction(status Status) string {
	return ActionStatusPrefix + cases.Upper(language.Und).String(string(status))
}

// UpdateTracking sets the delivered and paid flags. Both are independent of status.
func (s *Service) UpdateTracking(ctx context.Context, id uuid.UUID, in TrackingInput) (Invoice, error) {
	if in.Empty() {
		return Invoice{}, fmt.Errorf("%w: no valid fields to update", shared.ErrValidation)
	}
	inv, err := s.repo.UpdateTracking(ctx, id, in)
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, ActionUpdateTracking, EntityInvoices, id.String(), map[string]any{
		"is_delivered": in.IsDelivered,
		"is_paid":      in.IsPaid,
	})
	return inv, nil
}

// Delete removes a draft invoice and its lines.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, status, err := tx.LockStatus(ctx, id)
		if err != nil {
			return err
		}
		if status == StatusConfirmed {
			return ErrConfirmedDelete
		}
		if err := tx.Delete(ctx, id); err != nil {
			return err
		}
		s.record(ctx, ActionDelete, EntityInvoices, id.String(), map[string]any{"number": number})
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}
