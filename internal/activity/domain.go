package activity

import (
	"time"

	"github.com/google/uuid"

	"github.com/srecha/srecha-invoice/internal/shared"
)

const (
	// DefaultPageSize is used when the caller omits a limit.
	DefaultPageSize = 50
	// MaxPageSize caps list requests.
	MaxPageSize = 100
	// MaxExportRows caps a single export.
	MaxExportRows = 10000
	// DefaultRetentionDays is the retention used when none is supplied.
	DefaultRetentionDays = 90
	// MinRetentionDays and MaxRetentionDays bound a prune request.
	MinRetentionDays = 1
	MaxRetentionDays = 365

	topN = 10
)

// Action labels recorded by this package.
const (
	ActionCleanupOldLogs = "CLEANUP_OLD_LOGS"
	ActionExportLogs     = "EXPORT_LOGS"
	EntityActivityLogs   = "activity_logs"
)

// Event is one action to be appended to the activity log.
type Event struct {
	ActorID    *uuid.UUID
	Action     string
	EntityType string
	EntityID   string
	Details    map[string]any
	Request    *shared.RequestInfo
}

// Entry is a stored activity log row joined with the acting user.
type Entry struct {
	ID         int64          `json:"id"`
	UserID     *uuid.UUID     `json:"user_id"`
	Username   *string        `json:"username"`
	FullName   *string        `json:"full_name"`
	Action     string         `json:"action"`
	EntityType *string        `json:"entity_type"`
	EntityID   *string        `json:"entity_id"`
	Details    map[string]any `json:"details"`
	IPAddress  *string        `json:"ip_address"`
	UserAgent  *string        `json:"user_agent"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filters narrows a log query. Zero values are ignored.
type Filters struct {
	ActorID    *uuid.UUID
	EntityType string
	Action     string
	Start      *time.Time
	End        *time.Time
	Search     string
}

// Page is one page of entries with pagination metadata.
type Page struct {
	Logs       []Entry           `json:"logs"`
	Pagination shared.Pagination `json:"pagination"`
}

// StatsFilters narrows statistics.
type StatsFilters struct {
	Start   *time.Time
	End     *time.Time
	ActorID *uuid.UUID
}

// Overview holds the headline counters.
type Overview struct {
	TotalActions int64 `json:"total_actions"`
	UniqueUsers  int64 `json:"unique_users"`
	EntityTypes  int64 `json:"entity_types"`
	ActiveDays   int64 `json:"active_days"`
}

// EntityTypeCount is one row of the entity-type breakdown.
type EntityTypeCount struct {
	EntityType string `json:"entity_type"`
	Count      int64  `json:"count"`
}

// UserCount is one row of the per-user breakdown.
type UserCount struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	FullName *string   `json:"full_name"`
	Count    int64     `json:"count"`
}

// Stats aggregates activity over a window.
type Stats struct {
	Overview    Overview          `json:"overview"`
	EntityTypes []EntityTypeCount `json:"entity_types"`
	TopUsers    []UserCount       `json:"top_users"`
}

// UserRef identifies a user that has activity.
type UserRef struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	FullName *string   `json:"full_name"`
}

// PruneResult reports a retention run.
type PruneResult struct {
	DaysToKeep   int       `json:"daysToKeep"`
	DeletedCount int64     `json:"deletedCount"`
	CutoffDate   time.Time `json:"cutoffDate"`
}
