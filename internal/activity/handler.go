package activity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/srecha/srecha-invoice/internal/platform/httpx"
	"github.com/srecha/srecha-invoice/internal/rbac"
	"github.com/srecha/srecha-invoice/internal/shared"
)

// QueryService is the business contract behind the log endpoints.
type QueryService interface {
	Query(ctx context.Context, caller shared.Identity, f Filters, page shared.PageRequest) (Page, error)
	Statistics(ctx context.Context, f StatsFilters) (Stats, error)
	Prune(ctx context.Context, daysToKeep int) (PruneResult, error)
	EntityTypes(ctx context.Context) ([]string, error)
	Users(ctx context.Context) ([]UserRef, error)
	Export(ctx context.Context, caller shared.Identity, f Filters) ([]Entry, error)
}

// PruneEnqueuer schedules a retention run on the worker.
type PruneEnqueuer interface {
	EnqueueActivityPrune(ctx context.Context, daysToKeep int) (string, error)
}

// Handler serves the activity log endpoints.
type Handler struct {
	logger        *slog.Logger
	service       QueryService
	rbac          rbac.Middleware
	enqueuer      PruneEnqueuer
	retentionDays int
}

// NewHandler builds a Handler. enqueuer may be nil, which disables async pruning.
func NewHandler(logger *slog.Logger, service QueryService, rbac rbac.Middleware, enqueuer PruneEnqueuer, retentionDays int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Handler{
		logger:        logger,
		service:       service,
		rbac:          rbac,
		enqueuer:      enqueuer,
		retentionDays: retentionDays,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	caller, _ := shared.IdentityFromContext(r.Context())
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	page, err := httpx.ParsePage(r, DefaultPageSize, MaxPageSize)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	result, err := h.service.Query(r.Context(), caller, filters, page)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	stats, err := h.service.Statistics(r.Context(), StatsFilters{
		Start:   filters.Start,
		End:     filters.End,
		ActorID: filters.ActorID,
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) entityTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.service.EntityTypes(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entity_types": types})
}

func (h *Handler) users(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.Users(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	days := h.retentionDays
	if v := strings.TrimSpace(r.URL.Query().Get("days")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			httpx.RespondError(w, h.logger, fmt.Errorf("%w: days must be an integer", shared.ErrValidation))
			return
		}
		days = parsed
	}
	if days < MinRetentionDays || days > MaxRetentionDays {
		httpx.RespondError(w, h.logger, fmt.Errorf("%w: days must be between %d and %d", shared.ErrValidation, MinRetentionDays, MaxRetentionDays))
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if h.enqueuer == nil {
			httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "background worker not configured")
			return
		}
		taskID, err := h.enqueuer.EnqueueActivityPrune(r.Context(), days)
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]any{"task_id": taskID, "daysToKeep": days})
		return
	}

	result, err := h.service.Prune(r.Context(), days)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"message":      fmt.Sprintf("Cleaned up %d old log entries", result.DeletedCount),
		"deletedCount": result.DeletedCount,
		"daysToKeep":   result.DaysToKeep,
		"cutoffDate":   result.CutoffDate,
	})
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	caller, _ := shared.IdentityFromContext(r.Context())
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		httpx.RespondError(w, h.logger, fmt.Errorf("%w: format must be csv or json", shared.ErrValidation))
		return
	}
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entries, err := h.service.Export(r.Context(), caller, filters)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if format == "json" {
		httpx.JSON(w, http.StatusOK, entries)
		return
	}
	filename := fmt.Sprintf("activity_logs_%s.csv", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := WriteCSV(w, entries); err != nil {
		h.logger.Warn("write activity csv", slog.Any("error", err))
	}
}

func parseFilters(r *http.Request) (Filters, error) {
	q := r.URL.Query()
	var f Filters
	if v := strings.TrimSpace(q.Get("user_id")); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, fmt.Errorf("%w: user_id must be a UUID", shared.ErrValidation)
		}
		f.ActorID = &id
	}
	f.EntityType = strings.TrimSpace(q.Get("entity_type"))
	f.Action = strings.TrimSpace(q.Get("action"))
	f.Search = strings.TrimSpace(q.Get("search"))
	if len(f.Search) > 255 {
		return f, fmt.Errorf("%w: search term must be less than 255 characters", shared.ErrValidation)
	}
	var err error
	if f.Start, err = parseDate(q.Get("start_date"), false); err != nil {
		return f, err
	}
	if f.End, err = parseDate(q.Get("end_date"), true); err != nil {
		return f, err
	}
	return f, nil
}

// parseDate accepts RFC3339 timestamps or plain dates. A plain end date
// covers the whole day.
func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a valid date", shared.ErrValidation, raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
