package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/srecha/srecha-invoice/internal/shared"
)

// FailureCounter counts swallowed record failures.
type FailureCounter interface {
	ActivityRecordFailed()
}

// Service records and queries the activity log.
type Service struct {
	repo     Repository
	logger   *slog.Logger
	failures FailureCounter
	now      func() time.Time
}

// NewService constructs a Service. failures may be nil.
func NewService(repo Repository, logger *slog.Logger, failures FailureCounter) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, failures: failures, now: time.Now}
}

// Record appends ev. It never fails the caller: persistence errors are logged
// and dropped. When ctx carries a transaction the entry shares its fate.
// Request metadata falls back to the one stored in ctx.
func (s *Service) Record(ctx context.Context, ev Event) {
	if s == nil || s.repo == nil || ev.Action == "" {
		return
	}
	at := s.now().UTC()
	if ev.Request == nil {
		ev.Request = shared.RequestInfoFromContext(ctx)
	}
	details := make(map[string]any, len(ev.Details)+3)
	for k, v := range ev.Details {
		details[k] = v
	}
	details["timestamp"] = at.Format(time.RFC3339Nano)
	if ev.Request != nil {
		details["method"] = ev.Request.Method
		details["url"] = ev.Request.URL
	}
	payload, err := json.Marshal(details)
	if err != nil {
		s.fail(ev, err)
		return
	}
	if err := s.repo.Insert(ctx, ev, payload, at); err != nil {
		s.fail(ev, err)
	}
}

// RecordSystem appends an entry with no acting user.
func (s *Service) RecordSystem(ctx context.Context, action, entityType, entityID string, details map[string]any) {
	merged := make(map[string]any, len(details)+1)
	for k, v := range details {
		merged[k] = v
	}
	merged["system"] = true
	s.Record(ctx, Event{Action: action, EntityType: entityType, EntityID: entityID, Details: merged})
}

func (s *Service) fail(ev Event, err error) {
	s.logger.Error("record activity",
		slog.String("action", ev.Action),
		slog.String("entity_type", ev.EntityType),
		slog.Any("error", err))
	if s.failures != nil {
		s.failures.ActivityRecordFailed()
	}
}

// Query returns one page of entries. Non-admin callers only ever see their
// own entries whatever actor filter they asked for.
func (s *Service) Query(ctx context.Context, caller shared.Identity, f Filters, page shared.PageRequest) (Page, error) {
	if page.Limit <= 0 {
		page.Limit = DefaultPageSize
	}
	if page.Limit > MaxPageSize {
		return Page{}, fmt.Errorf("%w: limit must be between 1 and %d", shared.ErrValidation, MaxPageSize)
	}
	if page.Page <= 0 {
		page.Page = 1
	}
	f = scopeToCaller(caller, f)
	entries, total, err := s.repo.List(ctx, f, page.Limit, page.Offset())
	if err != nil {
		return Page{}, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return Page{Logs: entries, Pagination: shared.NewPagination(page.Page, page.Limit, total)}, nil
}

func scopeToCaller(caller shared.Identity, f Filters) Filters {
	if caller.IsAdmin() {
		return f
	}
	own := caller.UserID
	f.ActorID = &own
	return f
}

// Statistics aggregates activity over the filtered window.
func (s *Service) Statistics(ctx context.Context, f StatsFilters) (Stats, error) {
	var stats Stats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o, err := s.repo.Overview(gctx, f)
		if err != nil {
			return fmt.Errorf("overview: %w", err)
		}
		stats.Overview = o
		return nil
	})
	g.Go(func() error {
		types, err := s.repo.TopEntityTypes(gctx, f, topN)
		if err != nil {
			return fmt.Errorf("entity types: %w", err)
		}
		stats.EntityTypes = types
		return nil
	})
	g.Go(func() error {
		users, err := s.repo.TopUsers(gctx, f, topN)
		if err != nil {
			return fmt.Errorf("top users: %w", err)
		}
		stats.TopUsers = users
		return nil
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}
	if stats.EntityTypes == nil {
		stats.EntityTypes = []EntityTypeCount{}
	}
	if stats.TopUsers == nil {
		stats.TopUsers = []UserCount{}
	}
	return stats, nil
}

// Prune deletes entries older than daysToKeep days and records the run.
func (s *Service) Prune(ctx context.Context, daysToKeep int) (PruneResult, error) {
	if daysToKeep < MinRetentionDays || daysToKeep > MaxRetentionDays {
		return PruneResult{}, fmt.Errorf("%w: days must be between %d and %d", shared.ErrValidation, MinRetentionDays, MaxRetentionDays)
	}
	cutoff := s.now().UTC().AddDate(0, 0, -daysToKeep)
	deleted, err := s.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return PruneResult{}, fmt.Errorf("prune activity: %w", err)
	}
	result := PruneResult{DaysToKeep: daysToKeep, DeletedCount: deleted, CutoffDate: cutoff}
	s.RecordSystem(ctx, ActionCleanupOldLogs, EntityActivityLogs, "", map[string]any{
		"daysToKeep":   daysToKeep,
		"deletedCount": deleted,
		"cutoffDate":   cutoff.Format(time.RFC3339),
	})
	return result, nil
}

// EntityTypes lists distinct entity types present in the log.
func (s *Service) EntityTypes(ctx context.Context) ([]string, error) {
	types, err := s.repo.EntityTypes(ctx)
	if types == nil {
		types = []string{}
	}
	return types, err
}

// Users lists users that have activity.
func (s *Service) Users(ctx context.Context) ([]UserRef, error) {
	users, err := s.repo.Users(ctx)
	if users == nil {
		users = []UserRef{}
	}
	return users, err
}

// Export loads up to MaxExportRows entries for the caller.
func (s *Service) Export(ctx context.Context, caller shared.Identity, f Filters) ([]Entry, error) {
	f = scopeToCaller(caller, f)
	entries, _, err := s.repo.List(ctx, f, MaxExportRows, 0)
	if err != nil {
		return nil, err
	}
	s.Record(ctx, Event{
		ActorID:    shared.ActorID(ctx),
		Action:     ActionExportLogs,
		EntityType: EntityActivityLogs,
		Details:    map[string]any{"count": len(entries)},
	})
	return entries, nil
}
