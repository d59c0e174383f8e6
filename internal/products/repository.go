package products

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/srecha/srecha-invoice/internal/platform/db"
)

// Repository persists products.
type Repository interface {
	List(ctx context.Context, f ListFilters, limit, offset int) ([]Product, int, error)
	Categories(ctx context.Context) ([]string, error)
	Get(ctx context.Context, id uuid.UUID) (Product, error)
	Insert(ctx context.Context, p Product) (Product, error)
	Update(ctx context.Context, id uuid.UUID, in Input) (Product, error)
	Usage(ctx context.Context, id uuid.UUID) (Usage, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (Product, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Stats(ctx context.Context, id uuid.UUID) (Stats, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const productColumns = `id, code, name, price, weight, category, description, is_active, created_by, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Price, &p.Weight, &p.Category, &p.Description,
		&p.IsActive, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

// List returns products ordered by name and the total match count.
func (r *PGRepository) List(ctx context.Context, f ListFilters, limit, offset int) ([]Product, int, error) {
	var (
		conditions []string
		args       []any
	)
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR code ILIKE $%d)", len(args), len(args)))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.ActiveOnly {
		conditions = append(conditions, "is_active = TRUE")
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM products"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM products%s ORDER BY name ASC LIMIT $%d OFFSET $%d",
		productColumns, where, len(args)+1, len(args)+2)
	rows, err := r.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()
	out := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// Categories lists distinct categories of active products.
func (r *PGRepository) Categories(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
SELECT DISTINCT category FROM products
WHERE category IS NOT NULL AND category <> '' AND is_active = TRUE
ORDER BY category ASC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Get loads one product.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (Product, error) {
	return scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

// Insert creates a product.
func (r *PGRepository) Insert(ctx context.Context, p Product) (Product, error) {
	created, err := scanProduct(r.pool.QueryRow(ctx, `
INSERT INTO products (code, name, price, weight, category, description, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+productColumns,
		p.Code, p.Name, p.Price, p.Weight, p.Category, p.Description, p.CreatedBy))
	if _, ok := db.UniqueViolation(err); ok {
		return Product{}, ErrDuplicateCode
	}
	return created, err
}

// Update replaces the editable fields of a product.
func (r *PGRepository) Update(ctx context.Context, id uuid.UUID, in Input) (Product, error) {
	weight := decimal.NullDecimal{}
	if in.Weight != nil {
		weight = decimal.NewNullDecimal(*in.Weight)
	}
	updated, err := scanProduct(r.pool.QueryRow(ctx, `
UPDATE products
SET code = $1, name = $2, price = $3, weight = $4, category = $5, description = $6, updated_at = NOW()
WHERE id = $7
RETURNING `+productColumns,
		in.Code, in.Name, in.Price, weight, in.Category, in.Description, id))
	if _, ok := db.UniqueViolation(err); ok {
		return Product{}, ErrDuplicateCode
	}
	return updated, err
}

// Usage counts invoice and delivery lines referencing the product.
func (r *PGRepository) Usage(ctx context.Context, id uuid.UUID) (Usage, error) {
	var u Usage
	err := r.pool.QueryRow(ctx, `
SELECT (SELECT COUNT(*) FROM invoice_items WHERE product_id = $1),
       (SELECT COUNT(*) FROM delivery_items WHERE product_id = $1)`, id).Scan(&u.InvoiceLines, &u.DeliveryLines)
	return u, err
}

// SetActive toggles the active flag.
func (r *PGRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) (Product, error) {
	return scanProduct(r.pool.QueryRow(ctx, `
UPDATE products SET is_active = $1, updated_at = NOW()
WHERE id = $2
RETURNING `+productColumns, active, id))
}

// Delete removes a product. A line inserted since the usage check surfaces
// as ErrInUse through the foreign key.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if db.ForeignKeyViolation(err) {
		return ErrInUse
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats aggregates sales of one product.
func (r *PGRepository) Stats(ctx context.Context, id uuid.UUID) (Stats, error) {
	var s Stats
	err := r.pool.QueryRow(ctx, `
SELECT p.id, p.code, p.name,
       (SELECT COUNT(DISTINCT invoice_id) FROM invoice_items WHERE product_id = p.id),
       (SELECT COUNT(DISTINCT delivery_id) FROM delivery_items WHERE product_id = p.id),
       (SELECT COALESCE(SUM(quantity), 0) FROM invoice_items WHERE product_id = p.id),
       (SELECT COALESCE(SUM(total_price), 0) FROM invoice_items WHERE product_id = p.id)
FROM products p
WHERE p.id = $1`, id).Scan(&s.ID, &s.Code, &s.Name, &s.InvoiceCount, &s.DeliveryCount, &s.TotalSoldQuantity, &s.TotalRevenue)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stats{}, ErrNotFound
	}
	return s, err
}

var _ Repository = (*PGRepository)(nil)
