package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/srecha/srecha-invoice/internal/platform/db"
)

// Repository persists deliveries.
type Repository interface {
	List(ctx context.Context, filters ListFilters, limit, offset int) ([]Delivery, int, error)
	Get(ctx context.Context, id uuid.UUID) (Delivery, error)
	SetSigned(ctx context.Context, id uuid.UUID, signed bool) (Delivery, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the writes that run inside a transaction.
type TxRepository interface {
	Insert(ctx context.Context, d Delivery) (Delivery, error)
	// LockStatus returns number and status and holds the row until commit.
	LockStatus(ctx context.Context, id uuid.UUID) (string, Status, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status) (Delivery, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes fn inside a transaction bound to ctx.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(db.ContextWithTx(ctx, tx), &txRepo{tx: tx})
	})
}

const deliveryColumns = `d.id, d.number, d.date, d.due_date, d.client_id, d.delivery_method, d.notes,
       d.status, d.is_signed, d.created_by, d.created_at, d.updated_at`

func deliveryDest(d *Delivery) []any {
	return []any{&d.ID, &d.Number, &d.Date, &d.DueDate, &d.ClientID, &d.DeliveryMethod, &d.Notes,
		&d.Status, &d.IsSigned, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt}
}

func scanDelivery(row pgx.Row) (Delivery, error) {
	var d Delivery
	err := row.Scan(deliveryDest(&d)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return Delivery{}, ErrNotFound
	}
	return d, err
}

func listWhere(f ListFilters) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		conds = append(conds, fmt.Sprintf("(d.number ILIKE $%d OR c.name ILIKE $%d)", len(args), len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("d.status = $%d", len(args)))
	}
	if f.ClientID != nil {
		args = append(args, *f.ClientID)
		conds = append(conds, fmt.Sprintf("d.client_id = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns deliveries newest first with client names and line counts.
func (r *PGRepository) List(ctx context.Context, filters ListFilters, limit, offset int) ([]Delivery, int, error) {
	where, args := listWhere(filters)
	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM deliveries d JOIN clients c ON c.id = d.client_id"+where,
		args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count deliveries: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s, c.name, c.legal_name,
       (SELECT COUNT(*) FROM delivery_items di WHERE di.delivery_id = d.id)
FROM deliveries d
JOIN clients c ON c.id = d.client_id%s
ORDER BY d.created_at DESC
LIMIT $%d OFFSET $%d`, deliveryColumns, where, len(args)+1, len(args)+2)
	rows, err := r.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()
	out := []Delivery{}
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(append(deliveryDest(&d), &d.ClientName, &d.ClientLegalName, &d.ItemCount)...); err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// Get returns one delivery with client details and lines.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (Delivery, error) {
	var d Delivery
	dest := append(deliveryDest(&d), &d.ClientName, &d.ClientLegalName, &d.ClientAddress, &d.ClientMB, &d.ClientPIB)
	err := r.pool.QueryRow(ctx, `SELECT `+deliveryColumns+`, c.name, c.legal_name, c.address, c.mb, c.pib
FROM deliveries d
JOIN clients c ON c.id = d.client_id
WHERE d.id = $1`, id).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return Delivery{}, ErrNotFound
	}
	if err != nil {
		return Delivery{}, fmt.Errorf("get delivery: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT di.id, di.quantity, di.unit, p.id, p.code, p.name
FROM delivery_items di
JOIN products p ON p.id = di.product_id
WHERE di.delivery_id = $1
ORDER BY di.position`, id)
	if err != nil {
		return Delivery{}, fmt.Errorf("get delivery items: %w", err)
	}
	defer rows.Close()
	d.Items = []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Quantity, &it.Unit, &it.ProductID, &it.ProductCode, &it.ProductName); err != nil {
			return Delivery{}, err
		}
		d.Items = append(d.Items, it)
	}
	if err := rows.Err(); err != nil {
		return Delivery{}, err
	}
	d.ItemCount = len(d.Items)
	return d, nil
}

// SetSigned records whether the client signed the delivery note.
func (r *PGRepository) SetSigned(ctx context.Context, id uuid.UUID, signed bool) (Delivery, error) {
	return scanDelivery(r.pool.QueryRow(ctx, `UPDATE deliveries d
SET is_signed = $2, updated_at = NOW()
WHERE d.id = $1
RETURNING `+deliveryColumns, id, signed))
}

func (t *txRepo) Insert(ctx context.Context, d Delivery) (Delivery, error) {
	items := d.Items
	created, err := scanDelivery(t.tx.QueryRow(ctx, `INSERT INTO deliveries AS d (number, date, due_date, client_id,
       delivery_method, notes, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+deliveryColumns,
		d.Number, d.Date, d.DueDate, d.ClientID, d.DeliveryMethod, d.Notes, d.CreatedBy))
	if err != nil {
		return Delivery{}, mapWriteError(err)
	}

	batch := &pgx.Batch{}
	for pos, it := range items {
		batch.Queue(`INSERT INTO delivery_items (delivery_id, product_id, position, quantity, unit)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`, created.ID, it.ProductID, pos+1, it.Quantity, it.Unit)
	}
	results := t.tx.SendBatch(ctx, batch)
	created.Items = make([]Item, len(items))
	for i, it := range items {
		if err := results.QueryRow().Scan(&it.ID); err != nil {
			_ = results.Close()
			return Delivery{}, mapWriteError(err)
		}
		created.Items[i] = it
	}
	if err := results.Close(); err != nil {
		return Delivery{}, mapWriteError(err)
	}
	created.ItemCount = len(items)
	return created, nil
}

func mapWriteError(err error) error {
	if _, ok := db.UniqueViolation(err); ok {
		return ErrDuplicateNumber
	}
	if db.ForeignKeyViolation(err) {
		return ErrUnknownReference
	}
	return fmt.Errorf("insert delivery: %w", err)
}

func (t *txRepo) LockStatus(ctx context.Context, id uuid.UUID) (string, Status, error) {
	var (
		number string
		status Status
	)
	err := t.tx.QueryRow(ctx, `SELECT number, status FROM deliveries WHERE id = $1 FOR UPDATE`, id).Scan(&number, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", ErrNotFound
	}
	return number, status, err
}

func (t *txRepo) SetStatus(ctx context.Context, id uuid.UUID, status Status) (Delivery, error) {
	return scanDelivery(t.tx.QueryRow(ctx, `UPDATE deliveries d
SET status = $2, updated_at = NOW()
WHERE d.id = $1
RETURNING `+deliveryColumns, id, string(status)))
}

func (t *txRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM deliveries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
