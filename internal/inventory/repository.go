package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/srecha/srecha-invoice/internal/platform/db"
)

// Repository persists lots and their product memberships.
type Repository interface {
	ListLots(ctx context.Context) ([]Lot, error)
	GetLot(ctx context.Context, id uuid.UUID) (Lot, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the writes that run inside a transaction.
type TxRepository interface {
	InsertLot(ctx context.Context, lot Lot) (Lot, error)
	UpdateLot(ctx context.Context, id uuid.UUID, changes LotChanges) (Lot, error)
	DeleteLot(ctx context.Context, id uuid.UUID) (Lot, int, error)
	LockLot(ctx context.Context, id uuid.UUID) (Lot, error)
	GetProduct(ctx context.Context, id uuid.UUID) (ProductRef, error)
	LotNameForProduct(ctx context.Context, productID uuid.UUID) (string, bool, error)
	InsertMembership(ctx context.Context, lotID, productID uuid.UUID) error
	DeleteMembership(ctx context.Context, lotID, productID uuid.UUID) (bool, error)
	LockLotForProduct(ctx context.Context, productID uuid.UUID) (Lot, bool, error)
	SetCurrentQuantity(ctx context.Context, lotID uuid.UUID, qty decimal.Decimal) error
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes fn inside a repeatable-read transaction. A transaction
// already bound to ctx is joined instead of starting a new one.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if tx, ok := db.TxFromContext(ctx); ok {
		return fn(ctx, &txRepo{tx: tx})
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(db.ContextWithTx(ctx, tx), &txRepo{tx: tx})
	})
}

const lotColumns = `pg.id, pg.name, pg.quantity_type, pg.original_quantity, pg.current_quantity,
       pg.shipment_date, pg.reservation_type, pg.reservation_amount, pg.created_by,
       pg.created_at, pg.updated_at`

const lotWithProductsSQL = `
SELECT ` + lotColumns + `,
       COALESCE(
         JSON_AGG(JSON_BUILD_OBJECT('id', p.id, 'code', p.code, 'name', p.name, 'weight', p.weight, 'price', p.price)
                  ORDER BY p.code) FILTER (WHERE p.id IS NOT NULL),
         '[]'
       ) AS products
FROM product_groups pg
LEFT JOIN product_group_items pgi ON pgi.group_id = pg.id
LEFT JOIN products p ON p.id = pgi.product_id`

// ListLots returns all lots newest first with their member products.
func (r *PGRepository) ListLots(ctx context.Context) ([]Lot, error) {
	rows, err := r.pool.Query(ctx, lotWithProductsSQL+`
GROUP BY pg.id
ORDER BY pg.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}
	defer rows.Close()
	lots := []Lot{}
	for rows.Next() {
		lot, err := scanLotWithProducts(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// GetLot returns one lot with its member products.
func (r *PGRepository) GetLot(ctx context.Context, id uuid.UUID) (Lot, error) {
	row := r.pool.QueryRow(ctx, lotWithProductsSQL+`
WHERE pg.id = $1
GROUP BY pg.id`, id)
	lot, err := scanLotWithProducts(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, ErrLotNotFound
	}
	return lot, err
}

func scanLotWithProducts(row pgx.Row) (Lot, error) {
	var (
		lot      Lot
		products []byte
	)
	dest := append(lotDest(&lot), &products)
	if err := row.Scan(dest...); err != nil {
		return Lot{}, err
	}
	if err := json.Unmarshal(products, &lot.Products); err != nil {
		return Lot{}, fmt.Errorf("decode lot products: %w", err)
	}
	return lot, nil
}

func lotDest(lot *Lot) []any {
	return []any{&lot.ID, &lot.Name, &lot.QuantityType, &lot.OriginalQuantity, &lot.CurrentQuantity,
		&lot.ShipmentDate, &lot.ReservationType, &lot.ReservationAmount, &lot.CreatedBy,
		&lot.CreatedAt, &lot.UpdatedAt}
}

func scanLot(row pgx.Row) (Lot, error) {
	var lot Lot
	if err := row.Scan(lotDest(&lot)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lot{}, ErrLotNotFound
		}
		return Lot{}, err
	}
	lot.Products = []LotProduct{}
	return lot, nil
}

func (t *txRepo) InsertLot(ctx context.Context, lot Lot) (Lot, error) {
	row := t.tx.QueryRow(ctx, `
INSERT INTO product_groups AS pg (name, quantity_type, original_quantity, current_quantity,
    shipment_date, reservation_type, reservation_amount, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+lotColumns,
		lot.Name, lot.QuantityType, lot.OriginalQuantity, lot.CurrentQuantity,
		lot.ShipmentDate, lot.ReservationType, lot.ReservationAmount, lot.CreatedBy)
	created, err := scanLot(row)
	if _, ok := db.UniqueViolation(err); ok {
		return Lot{}, ErrDuplicateName
	}
	return created, err
}

func (t *txRepo) UpdateLot(ctx context.Context, id uuid.UUID, c LotChanges) (Lot, error) {
	sets := []string{}
	args := []any{}
	argPos := 1
	add := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argPos))
		args = append(args, value)
		argPos++
	}
	if c.Name != nil {
		add("name", *c.Name)
	}
	if c.QuantityType != nil {
		add("quantity_type", *c.QuantityType)
	}
	if c.OriginalQuantity != nil {
		add("original_quantity", *c.OriginalQuantity)
	}
	if c.ShipmentDate != nil {
		add("shipment_date", *c.ShipmentDate)
	}
	if c.ReservationType != nil {
		add("reservation_type", *c.ReservationType)
	}
	if c.ReservationAmount != nil {
		add("reservation_amount", *c.ReservationAmount)
	}
	args = append(args, id)
	query := fmt.Sprintf(`
UPDATE product_groups AS pg SET %s, updated_at = NOW()
WHERE pg.id = $%d
RETURNING %s`, strings.Join(sets, ", "), argPos, lotColumns)
	lot, err := scanLot(t.tx.QueryRow(ctx, query, args...))
	if _, ok := db.UniqueViolation(err); ok {
		return Lot{}, ErrDuplicateName
	}
	return lot, err
}

func (t *txRepo) DeleteLot(ctx context.Context, id uuid.UUID) (Lot, int, error) {
	lot, err := t.LockLot(ctx, id)
	if err != nil {
		return Lot{}, 0, err
	}
	var members int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM product_group_items WHERE group_id = $1`, id).Scan(&members); err != nil {
		return Lot{}, 0, err
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM product_groups WHERE id = $1`, id); err != nil {
		return Lot{}, 0, err
	}
	return lot, members, nil
}

func (t *txRepo) LockLot(ctx context.Context, id uuid.UUID) (Lot, error) {
	return scanLot(t.tx.QueryRow(ctx, `SELECT `+lotColumns+` FROM product_groups pg WHERE pg.id = $1 FOR UPDATE`, id))
}

func (t *txRepo) GetProduct(ctx context.Context, id uuid.UUID) (ProductRef, error) {
	var p ProductRef
	err := t.tx.QueryRow(ctx, `SELECT id, code, name, weight FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Code, &p.Name, &p.Weight)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProductRef{}, ErrProductNotFound
	}
	return p, err
}

func (t *txRepo) LotNameForProduct(ctx context.Context, productID uuid.UUID) (string, bool, error) {
	var name string
	err := t.tx.QueryRow(ctx, `
SELECT pg.name FROM product_group_items pgi
JOIN product_groups pg ON pg.id = pgi.group_id
WHERE pgi.product_id = $1`, productID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

func (t *txRepo) InsertMembership(ctx context.Context, lotID, productID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO product_group_items (group_id, product_id) VALUES ($1, $2)`, lotID, productID)
	if _, ok := db.UniqueViolation(err); ok {
		return ErrAlreadyGrouped
	}
	return err
}

func (t *txRepo) DeleteMembership(ctx context.Context, lotID, productID uuid.UUID) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM product_group_items WHERE group_id = $1 AND product_id = $2`, lotID, productID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// LockLotForProduct locks the lot owning productID, if any.
func (t *txRepo) LockLotForProduct(ctx context.Context, productID uuid.UUID) (Lot, bool, error) {
	lot, err := scanLot(t.tx.QueryRow(ctx, `
SELECT `+lotColumns+`
FROM product_groups pg
JOIN product_group_items pgi ON pgi.group_id = pg.id
WHERE pgi.product_id = $1
FOR UPDATE OF pg`, productID))
	if errors.Is(err, ErrLotNotFound) {
		return Lot{}, false, nil
	}
	if err != nil {
		return Lot{}, false, err
	}
	return lot, true, nil
}

func (t *txRepo) SetCurrentQuantity(ctx context.Context, lotID uuid.UUID, qty decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE product_groups SET current_quantity = $1, updated_at = NOW() WHERE id = $2`, qty, lotID)
	return err
}

var _ Repository = (*PGRepository)(nil)
