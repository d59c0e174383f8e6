package invoices

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/srecha/srecha-invoice/internal/inventory"
	"github.com/srecha/srecha-invoice/internal/platform/db"
	"github.com/srecha/srecha-invoice/internal/shared"
)

// Repository persists invoices.
type Repository interface {
	List(ctx context.Context, filters ListFilters, limit, offset int) ([]Invoice, int, error)
	Get(ctx context.Context, id uuid.UUID) (Invoice, error)
	UpdateTracking(ctx context.Context, id uuid.UUID, in TrackingInput) (Invoice, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the writes that run inside a transaction.
type TxRepository interface {
	// ClaimRequest records an Idempotency-Key. A reused key yields ErrDuplicateRequest.
	ClaimRequest(ctx context.Context, key string) error
	Insert(ctx context.Context, inv Invoice) (Invoice, error)
	// LockStatus returns the current status and holds the row until commit.
	LockStatus(ctx context.Context, id uuid.UUID) (string, Status, error)
	// TransitionStatus sets status only when it differs from the stored one
	// and reports whether a row changed.
	TransitionStatus(ctx context.Context, id uuid.UUID, to Status) (Invoice, bool, error)
	ConsumptionLines(ctx context.Context, id uuid.UUID) ([]inventory.ConsumptionLine, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool        *pgxpool.Pool
	idempotency *shared.IdempotencyStore
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, idempotency: shared.NewIdempotencyStore(pool)}
}

type txRepo struct {
	tx          pgx.Tx
	idempotency *shared.IdempotencyStore
}

// WithTx executes fn inside a repeatable-read transaction bound to ctx, so
// stock consumption and activity entries join it.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(db.ContextWithTx(ctx, tx), &txRepo{tx: tx, idempotency: r.idempotency})
	})
}

const invoiceColumns = `i.id, i.number, i.date, i.due_date, i.client_id, i.delivery_address, i.vat_rate,
       i.subtotal, i.vat_amount, i.total, i.status, i.is_delivered, i.is_paid,
       i.reference, i.notes, i.created_by, i.created_at, i.updated_at`

func invoiceDest(inv *Invoice) []any {
	return []any{&inv.ID, &inv.Number, &inv.Date, &inv.DueDate, &inv.ClientID, &inv.DeliveryAddress,
		&inv.VATRate, &inv.Subtotal, &inv.VATAmount, &inv.Total, &inv.Status, &inv.IsDelivered,
		&inv.IsPaid, &inv.Reference, &inv.Notes, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt}
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(invoiceDest(&inv)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrNotFound
	}
	return inv, err
}

func listWhere(f ListFilters) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		conds = append(conds, fmt.Sprintf("(i.number ILIKE $%d OR c.name ILIKE $%d)", len(args), len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("i.status = $%d", len(args)))
	}
	if f.ClientID != nil {
		args = append(args, *f.ClientID)
		conds = append(conds, fmt.Sprintf("i.client_id = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns invoices newest first with client names and line counts.
func (r *PGRepository) List(ctx context.Context, filters ListFilters, limit, offset int) ([]Invoice, int, error) {
	where, args := listWhere(filters)
	var total int
	countSQL := "SELECT COUNT(*) FROM invoices i JOIN clients c ON c.id = i.client_id" + where
	if err := r.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s, c.name, c.legal_name,
       (SELECT COUNT(*) FROM invoice_items ii WHERE ii.invoice_id = i.id)
FROM invoices i
JOIN clients c ON c.id = i.client_id%s
ORDER BY i.created_at DESC
LIMIT $%d OFFSET $%d`, invoiceColumns, where, len(args)+1, len(args)+2)
	rows, err := r.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()
	out := []Invoice{}
	for rows.Next() {
		var inv Invoice
		dest := append(invoiceDest(&inv), &inv.ClientName, &inv.ClientLegalName, &inv.ItemCount)
		if err := rows.Scan(dest...); err != nil {
			return nil, 0, err
		}
		out = append(out, inv)
	}
	return out, total, rows.Err()
}

// Get returns one invoice with its client details and lines.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (Invoice, error) {
	var inv Invoice
	dest := append(invoiceDest(&inv), &inv.ClientName, &inv.ClientLegalName, &inv.ClientAddress,
		&inv.ClientMB, &inv.ClientPIB)
	err := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+`, c.name, c.legal_name, c.address, c.mb, c.pib
FROM invoices i
JOIN clients c ON c.id = i.client_id
WHERE i.id = $1`, id).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrNotFound
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("get invoice: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT ii.id, ii.quantity, ii.unit_price, ii.total_price,
       p.id, p.code, p.name, p.weight
FROM invoice_items ii
JOIN products p ON p.id = ii.product_id
WHERE ii.invoice_id = $1
ORDER BY ii.position`, id)
	if err != nil {
		return Invoice{}, fmt.Errorf("get invoice items: %w", err)
	}
	defer rows.Close()
	inv.Items = []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Quantity, &it.UnitPrice, &it.TotalPrice,
			&it.ProductID, &it.ProductCode, &it.ProductName, &it.ProductWeight); err != nil {
			return Invoice{}, err
		}
		inv.Items = append(inv.Items, it)
	}
	if err := rows.Err(); err != nil {
		return Invoice{}, err
	}
	inv.ItemCount = len(inv.Items)
	return inv, nil
}

// UpdateTracking sets the delivered and paid flags that are present.
func (r *PGRepository) UpdateTracking(ctx context.Context, id uuid.UUID, in TrackingInput) (Invoice, error) {
	row := r.pool.QueryRow(ctx, `UPDATE invoices i
SET is_delivered = COALESCE($2, i.is_delivered),
    is_paid = COALESCE($3, i.is_paid),
    updated_at = NOW()
WHERE i.id = $1
RETURNING `+invoiceColumns, id, in.IsDelivered, in.IsPaid)
	return scanInvoice(row)
}

func (t *txRepo) ClaimRequest(ctx context.Context, key string) error {
	err := t.idempotency.CheckAndInsert(ctx, t.tx, key, idempotencyModule)
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		return ErrDuplicateRequest
	}
	return err
}

func (t *txRepo) Insert(ctx context.Context, inv Invoice) (Invoice, error) {
	items := inv.Items
	row := t.tx.QueryRow(ctx, `INSERT INTO invoices AS i (number, date, due_date, client_id, delivery_address, vat_rate,
       reference, subtotal, vat_amount, total, notes, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING `+invoiceColumns,
		inv.Number, inv.Date, inv.DueDate, inv.ClientID, inv.DeliveryAddress, inv.VATRate,
		inv.Reference, inv.Subtotal, inv.VATAmount, inv.Total, inv.Notes, inv.CreatedBy)
	created, err := scanInvoice(row)
	if err != nil {
		return Invoice{}, mapWriteError(err)
	}

	batch := &pgx.Batch{}
	for pos, it := range items {
		batch.Queue(`INSERT INTO invoice_items (invoice_id, product_id, position, quantity, unit_price, total_price)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`, created.ID, it.ProductID, pos+1, it.Quantity, it.UnitPrice, it.TotalPrice)
	}
	results := t.tx.SendBatch(ctx, batch)
	created.Items = make([]Item, len(items))
	for i, it := range items {
		if err := results.QueryRow().Scan(&it.ID); err != nil {
			_ = results.Close()
			return Invoice{}, mapWriteError(err)
		}
		created.Items[i] = it
	}
	if err := results.Close(); err != nil {
		return Invoice{}, mapWriteError(err)
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
	return fmt.Errorf("insert invoice: %w", err)
}

func (t *txRepo) LockStatus(ctx context.Context, id uuid.UUID) (string, Status, error) {
	var (
		number string
		status Status
	)
	err := t.tx.QueryRow(ctx, `SELECT number, status FROM invoices WHERE id = $1 FOR UPDATE`, id).Scan(&number, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", ErrNotFound
	}
	return number, status, err
}

func (t *txRepo) TransitionStatus(ctx context.Context, id uuid.UUID, to Status) (Invoice, bool, error) {
	row := t.tx.QueryRow(ctx, `UPDATE invoices i
SET status = $2, updated_at = NOW()
WHERE i.id = $1 AND i.status <> $2
RETURNING `+invoiceColumns, id, string(to))
	inv, err := scanInvoice(row)
	if err == nil {
		return inv, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Invoice{}, false, fmt.Errorf("update invoice status: %w", err)
	}
	inv, err = scanInvoice(t.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices i WHERE i.id = $1`, id))
	return inv, false, err
}

func (t *txRepo) ConsumptionLines(ctx context.Context, id uuid.UUID) ([]inventory.ConsumptionLine, error) {
	rows, err := t.tx.Query(ctx, `SELECT product_id, quantity FROM invoice_items WHERE invoice_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("invoice lines: %w", err)
	}
	defer rows.Close()
	var lines []inventory.ConsumptionLine
	for rows.Next() {
		var l inventory.ConsumptionLine
		if err := rows.Scan(&l.ProductID, &l.Quantity); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (t *txRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
