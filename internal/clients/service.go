package clients

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/srecha/srecha-invoice/internal/activity"
	"github.com/srecha/srecha-invoice/internal/shared"
)

// MaxPageSize caps client listings.
const MaxPageSize = 100

// Recorder appends activity log entries.
type Recorder interface {
	Record(ctx context.Context, ev activity.Event)
}

// StatsCache stores computed statistics. *cache.Versioned implements it.
type StatsCache interface {
	BuildKey(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
}

// Service implements client operations.
type Service struct {
	repo   Repository
	audit  Recorder
	stats  StatsCache
	logger *slog.Logger
	group  singleflight.Group
}

// NewService constructs the service. audit and stats may be nil.
func NewService(repo Repository, audit Recorder, stats StatsCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, stats: stats, logger: logger}
}

func (s *Service) record(ctx context.Context, action string, c Client) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, activity.Event{
		ActorID:    shared.ActorID(ctx),
		Action:     action,
		EntityType: EntityClients,
		EntityID:   c.ID.String(),
		Details:    map[string]any{"name": c.Name, "mb": c.MB, "pib": c.PIB},
	})
}

// List returns one page of clients.
func (s *Service) List(ctx context.Context, search string, page shared.PageRequest) (Page, error) {
	if page.Limit <= 0 {
		page.Limit = 50
	}
	if page.Limit > MaxPageSize {
		return Page{}, fmt.Errorf("%w: limit must be between 1 and %d", shared.ErrValidation, MaxPageSize)
	}
	items, total, err := s.repo.List(ctx, strings.TrimSpace(search), page.Limit, page.Offset())
	if err != nil {
		return Page{}, err
	}
	return Page{Clients: items, Pagination: shared.NewPagination(page.Page, page.Limit, total)}, nil
}

// Get loads one client.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Client, error) {
	return s.repo.Get(ctx, id)
}

// Create registers a client. MB and PIB are each globally unique.
func (s *Service) Create(ctx context.Context, in Input) (Client, error) {
	if err := in.normalize(); err != nil {
		return Client{}, err
	}
	c, err := s.repo.Insert(ctx, in, shared.ActorID(ctx))
	if err != nil {
		return Client{}, err
	}
	s.record(ctx, ActionCreate, c)
	return c, nil
}

// Update replaces a client's fields. MB and PIB stay unique across other clients.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in Input) (Client, error) {
	if err := in.normalize(); err != nil {
		return Client{}, err
	}
	c, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return Client{}, err
	}
	s.record(ctx, ActionUpdate, c)
	return c, nil
}

// Delete removes a client without documents.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	c, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.record(ctx, ActionDelete, c)
	return nil
}

// Invoices lists the client's invoices.
func (s *Service) Invoices(ctx context.Context, id uuid.UUID) ([]InvoiceSummary, error) {
	return s.repo.Invoices(ctx, id)
}

// Deliveries lists the client's deliveries.
func (s *Service) Deliveries(ctx context.Context, id uuid.UUID) ([]DeliverySummary, error) {
	return s.repo.Deliveries(ctx, id)
}

// Statistics summarises confirmed invoices of a client. Results are cached
// per client and period, and concurrent identical requests share one query.
func (s *Service) Statistics(ctx context.Context, id uuid.UUID, period Period) (Statistics, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return Statistics{}, err
	}
	load := func(ctx context.Context) (any, error) {
		return s.repo.Statistics(ctx, id, period)
	}

	key := "client-stats:" + id.String() + ":" + string(period)
	cached := false
	if s.stats != nil {
		versioned, err := s.stats.BuildKey(ctx, "client", id.String(), string(period))
		if err != nil {
			s.logger.Warn("client stats cache unavailable", slog.Any("error", err))
		} else {
			key, cached = versioned, true
		}
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		if !cached {
			return load(ctx)
		}
		var stats Statistics
		if err := s.stats.FetchJSON(ctx, key, &stats, load); err != nil {
			return nil, err
		}
		return stats, nil
	})
	if err != nil {
		return Statistics{}, err
	}
	return v.(Statistics), nil
}
