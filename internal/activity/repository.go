package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/srecha/srecha-invoice/internal/platform/db"
)

// Repository persists and queries activity log entries.
type Repository interface {
	Insert(ctx context.Context, ev Event, details []byte, at time.Time) error
	List(ctx context.Context, f Filters, limit, offset int) ([]Entry, int, error)
	Overview(ctx context.Context, f StatsFilters) (Overview, error)
	TopEntityTypes(ctx context.Context, f StatsFilters, limit int) ([]EntityTypeCount, error)
	TopUsers(ctx context.Context, f StatsFilters, limit int) ([]UserCount, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	EntityTypes(ctx context.Context) ([]string, error)
	Users(ctx context.Context) ([]UserRef, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const insertSQL = `
INSERT INTO activity_logs (user_id, action, entity_type, entity_id, details, ip_address, user_agent, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// Insert appends one entry. Inside a transaction the write runs in a
// savepoint so a failed insert leaves the outer transaction usable.
func (r *PGRepository) Insert(ctx context.Context, ev Event, details []byte, at time.Time) error {
	var ip, ua *string
	if ev.Request != nil {
		ip = nullString(ev.Request.IP)
		ua = nullString(ev.Request.UserAgent)
	}
	args := []any{ev.ActorID, ev.Action, nullString(ev.EntityType), nullString(ev.EntityID), details, ip, ua, at}
	if tx, ok := db.TxFromContext(ctx); ok {
		return pgx.BeginFunc(ctx, tx, func(sp pgx.Tx) error {
			_, err := sp.Exec(ctx, insertSQL, args...)
			return err
		})
	}
	_, err := r.pool.Exec(ctx, insertSQL, args...)
	return err
}

// List returns a page of entries newest first and the total match count.
func (r *PGRepository) List(ctx context.Context, f Filters, limit, offset int) ([]Entry, int, error) {
	where, args := buildWhere(f)

	var total int
	countSQL := "SELECT COUNT(*) FROM activity_logs al LEFT JOIN users u ON u.id = al.user_id" + where
	if err := r.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count activity: %w", err)
	}

	argPos := len(args) + 1
	listSQL := fmt.Sprintf(`
SELECT al.id, al.user_id, u.username, u.full_name, al.action, al.entity_type, al.entity_id,
       al.details, al.ip_address, al.user_agent, al.created_at
FROM activity_logs al
LEFT JOIN users u ON u.id = al.user_id%s
ORDER BY al.created_at DESC, al.id DESC
LIMIT $%d OFFSET $%d`, where, argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e       Entry
			userID  uuid.NullUUID
			details []byte
		)
		if err := rows.Scan(&e.ID, &userID, &e.Username, &e.FullName, &e.Action, &e.EntityType, &e.EntityID,
			&details, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		if userID.Valid {
			id := userID.UUID
			e.UserID = &id
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, 0, fmt.Errorf("decode details for entry %d: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// Overview computes headline counters.
func (r *PGRepository) Overview(ctx context.Context, f StatsFilters) (Overview, error) {
	where, args := buildWhere(f.asFilters())
	var o Overview
	err := r.pool.QueryRow(ctx, `
SELECT COUNT(*), COUNT(DISTINCT al.user_id), COUNT(DISTINCT al.entity_type), COUNT(DISTINCT DATE(al.created_at))
FROM activity_logs al`+where, args...).Scan(&o.TotalActions, &o.UniqueUsers, &o.EntityTypes, &o.ActiveDays)
	return o, err
}

// TopEntityTypes returns the most frequent entity types.
func (r *PGRepository) TopEntityTypes(ctx context.Context, f StatsFilters, limit int) ([]EntityTypeCount, error) {
	filters := f.asFilters()
	where, args := buildWhere(filters, "al.entity_type IS NOT NULL")
	query := fmt.Sprintf(`
SELECT al.entity_type, COUNT(*) AS cnt
FROM activity_logs al%s
GROUP BY al.entity_type
ORDER BY cnt DESC, al.entity_type
LIMIT $%d`, where, len(args)+1)
	rows, err := r.pool.Query(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EntityTypeCount
	for rows.Next() {
		var c EntityTypeCount
		if err := rows.Scan(&c.EntityType, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TopUsers returns the most active users. System entries have no user and
// drop out of the inner join.
func (r *PGRepository) TopUsers(ctx context.Context, f StatsFilters, limit int) ([]UserCount, error) {
	where, args := buildWhere(f.asFilters())
	query := fmt.Sprintf(`
SELECT u.id, u.username, u.full_name, COUNT(*) AS cnt
FROM activity_logs al
JOIN users u ON u.id = al.user_id%s
GROUP BY u.id, u.username, u.full_name
ORDER BY cnt DESC, u.username
LIMIT $%d`, where, len(args)+1)
	rows, err := r.pool.Query(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UserCount
	for rows.Next() {
		var c UserCount
		if err := rows.Scan(&c.UserID, &c.Username, &c.FullName, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteBefore removes entries created strictly before cutoff.
func (r *PGRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM activity_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// EntityTypes lists distinct entity types.
func (r *PGRepository) EntityTypes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
SELECT DISTINCT entity_type FROM activity_logs
WHERE entity_type IS NOT NULL
ORDER BY entity_type`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Users lists users that have at least one entry.
func (r *PGRepository) Users(ctx context.Context) ([]UserRef, error) {
	rows, err := r.pool.Query(ctx, `
SELECT DISTINCT u.id, u.username, u.full_name
FROM users u
JOIN activity_logs al ON al.user_id = u.id
ORDER BY u.username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UserRef
	for rows.Next() {
		var u UserRef
		if err := rows.Scan(&u.ID, &u.Username, &u.FullName); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (f StatsFilters) asFilters() Filters {
	return Filters{ActorID: f.ActorID, Start: f.Start, End: f.End}
}

// buildWhere renders filters as a WHERE clause over aliases al (activity_logs)
// and u (users). Search touches u and is only valid when u is joined.
func buildWhere(f Filters, extra ...string) (string, []any) {
	conditions := append([]string{}, extra...)
	args := []any{}
	argPos := 1

	if f.ActorID != nil {
		conditions = append(conditions, fmt.Sprintf("al.user_id = $%d", argPos))
		args = append(args, *f.ActorID)
		argPos++
	}
	if f.EntityType != "" {
		conditions = append(conditions, fmt.Sprintf("al.entity_type = $%d", argPos))
		args = append(args, f.EntityType)
		argPos++
	}
	if f.Action != "" {
		conditions = append(conditions, fmt.Sprintf("al.action ILIKE $%d", argPos))
		args = append(args, "%"+f.Action+"%")
		argPos++
	}
	if f.Start != nil {
		conditions = append(conditions, fmt.Sprintf("al.created_at >= $%d", argPos))
		args = append(args, *f.Start)
		argPos++
	}
	if f.End != nil {
		conditions = append(conditions, fmt.Sprintf("al.created_at <= $%d", argPos))
		args = append(args, *f.End)
		argPos++
	}
	if f.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(al.action ILIKE $%d OR u.username ILIKE $%d)", argPos, argPos))
		args = append(args, "%"+f.Search+"%")
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "\nWHERE " + strings.Join(conditions, " AND "), args
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Repository = (*PGRepository)(nil)
