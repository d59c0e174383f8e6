package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/srecha/srecha-invoice/internal/platform/db"
)

// Repository persists clients.
type Repository interface {
	List(ctx context.Context, search string, limit, offset int) ([]Client, int, error)
	Get(ctx context.Context, id uuid.UUID) (Client, error)
	Insert(ctx context.Context, in Input, createdBy *uuid.UUID) (Client, error)
	Update(ctx context.Context, id uuid.UUID, in Input) (Client, error)
	// Delete removes an unreferenced client. A referenced client yields *InUseError.
	Delete(ctx context.Context, id uuid.UUID) (Client, error)
	Invoices(ctx context.Context, id uuid.UUID) ([]InvoiceSummary, error)
	Deliveries(ctx context.Context, id uuid.UUID) ([]DeliverySummary, error)
	Statistics(ctx context.Context, id uuid.UUID, period Period) (Statistics, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const clientColumns = `id, name, legal_name, mb, pib, address, city, municipality, street, house_number,
       google_maps_link, contact_person, contact, bank_info, is_manual_address,
       telegram, instagram, phone, email, installment_payment, installment_term,
       showcase, bar, notes, created_by, created_at, updated_at`

func scanClient(row pgx.Row) (Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.Name, &c.LegalName, &c.MB, &c.PIB, &c.Address, &c.City, &c.Municipality,
		&c.Street, &c.HouseNumber, &c.GoogleMapsLink, &c.ContactPerson, &c.Contact, &c.BankInfo,
		&c.IsManualAddress, &c.Telegram, &c.Instagram, &c.Phone, &c.Email, &c.InstallmentPayment,
		&c.InstallmentTerm, &c.Showcase, &c.Bar, &c.Notes, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Client{}, ErrNotFound
	}
	return c, err
}

func inputArgs(in Input) []any {
	return []any{in.Name, in.LegalName, in.MB, in.PIB, in.Address, in.City, in.Municipality, in.Street,
		in.HouseNumber, in.GoogleMapsLink, in.ContactPerson, in.Contact, in.BankInfo, in.IsManualAddress,
		in.Telegram, in.Instagram, in.Phone, in.Email, in.InstallmentPayment, in.InstallmentTerm,
		in.Showcase, in.Bar, in.Notes}
}

// List returns clients ordered by name, optionally matching search against
// name, MB or PIB.
func (r *PGRepository) List(ctx context.Context, search string, limit, offset int) ([]Client, int, error) {
	where := ""
	args := []any{}
	if search != "" {
		where = " WHERE name ILIKE $1 OR mb ILIKE $1 OR pib ILIKE $1"
		args = append(args, "%"+search+"%")
	}
	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM clients"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count clients: %w", err)
	}
	query := fmt.Sprintf("SELECT %s FROM clients%s ORDER BY name ASC LIMIT $%d OFFSET $%d",
		clientColumns, where, len(args)+1, len(args)+2)
	rows, err := r.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()
	out := []Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// Get loads one client.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (Client, error) {
	return scanClient(r.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id))
}

// Insert creates a client.
func (r *PGRepository) Insert(ctx context.Context, in Input, createdBy *uuid.UUID) (Client, error) {
	c, err := scanClient(r.pool.QueryRow(ctx, `
INSERT INTO clients (name, legal_name, mb, pib, address, city, municipality, street, house_number,
                     google_maps_link, contact_person, contact, bank_info, is_manual_address,
                     telegram, instagram, phone, email, installment_payment, installment_term,
                     showcase, bar, notes, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
RETURNING `+clientColumns, append(inputArgs(in), createdBy)...))
	if _, ok := db.UniqueViolation(err); ok {
		return Client{}, ErrDuplicate
	}
	return c, err
}

// Update replaces the editable fields of a client.
func (r *PGRepository) Update(ctx context.Context, id uuid.UUID, in Input) (Client, error) {
	c, err := scanClient(r.pool.QueryRow(ctx, `
UPDATE clients SET
    name = $1, legal_name = $2, mb = $3, pib = $4, address = $5, city = $6, municipality = $7,
    street = $8, house_number = $9, google_maps_link = $10, contact_person = $11, contact = $12,
    bank_info = $13, is_manual_address = $14, telegram = $15, instagram = $16, phone = $17,
    email = $18, installment_payment = $19, installment_term = $20, showcase = $21, bar = $22,
    notes = $23, updated_at = NOW()
WHERE id = $24
RETURNING `+clientColumns, append(inputArgs(in), id)...))
	if _, ok := db.UniqueViolation(err); ok {
		return Client{}, ErrDuplicate
	}
	return c, err
}

// Delete locks the client row, checks references and removes it. Holding the
// row lock blocks documents inserted concurrently through the foreign key.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) (Client, error) {
	var deleted Client
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		c, err := scanClient(tx.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		var inUse InUseError
		if err := tx.QueryRow(ctx, `
SELECT (SELECT COUNT(*) FROM invoices WHERE client_id = $1),
       (SELECT COUNT(*) FROM deliveries WHERE client_id = $1)`, id).Scan(&inUse.Invoices, &inUse.Deliveries); err != nil {
			return err
		}
		if inUse.Invoices > 0 || inUse.Deliveries > 0 {
			return &inUse
		}
		if _, err := tx.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id); err != nil {
			if db.ForeignKeyViolation(err) {
				return ErrClientInUse
			}
			return err
		}
		deleted = c
		return nil
	})
	return deleted, err
}

// Invoices lists a client's invoices newest first.
func (r *PGRepository) Invoices(ctx context.Context, id uuid.UUID) ([]InvoiceSummary, error) {
	rows, err := r.pool.Query(ctx, `
SELECT i.id, i.number, i.date, i.due_date, i.total, i.status, i.is_delivered, i.is_paid, COUNT(ii.id)
FROM invoices i
LEFT JOIN invoice_items ii ON ii.invoice_id = i.id
WHERE i.client_id = $1
GROUP BY i.id
ORDER BY i.date DESC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []InvoiceSummary{}
	for rows.Next() {
		var s InvoiceSummary
		if err := rows.Scan(&s.ID, &s.Number, &s.Date, &s.DueDate, &s.Total, &s.Status,
			&s.IsDelivered, &s.IsPaid, &s.ItemCount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Deliveries lists a client's deliveries newest first.
func (r *PGRepository) Deliveries(ctx context.Context, id uuid.UUID) ([]DeliverySummary, error) {
	rows, err := r.pool.Query(ctx, `
SELECT d.id, d.number, d.date, d.due_date, d.delivery_method, d.status, d.is_signed, COUNT(di.id)
FROM deliveries d
LEFT JOIN delivery_items di ON di.delivery_id = d.id
WHERE d.client_id = $1
GROUP BY d.id
ORDER BY d.date DESC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []DeliverySummary{}
	for rows.Next() {
		var s DeliverySummary
		if err := rows.Scan(&s.ID, &s.Number, &s.Date, &s.DueDate, &s.DeliveryMethod, &s.Status,
			&s.IsSigned, &s.ItemCount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Statistics aggregates confirmed invoices dated within period. Annual
// consumption always covers the current year.
func (r *PGRepository) Statistics(ctx context.Context, id uuid.UUID, period Period) (Statistics, error) {
	stats := Statistics{Period: period}
	err := r.pool.QueryRow(ctx, `
WITH confirmed AS (
    SELECT id, total, date FROM invoices
    WHERE client_id = $1 AND status = 'confirmed'
)
SELECT
    (SELECT COUNT(*) FROM confirmed WHERE date >= date_trunc($2, CURRENT_DATE)),
    (SELECT COALESCE(AVG(total), 0) FROM confirmed WHERE date >= date_trunc($2, CURRENT_DATE)),
    (SELECT COALESCE(SUM(total), 0) FROM confirmed WHERE date >= date_trunc($2, CURRENT_DATE)),
    (SELECT p.name
       FROM invoice_items ii
       JOIN confirmed c ON c.id = ii.invoice_id
       JOIN products p ON p.id = ii.product_id
      WHERE c.date >= date_trunc($2, CURRENT_DATE)
      GROUP BY p.id, p.name
      ORDER BY SUM(ii.quantity) DESC, p.name
      LIMIT 1),
    (SELECT COALESCE(SUM(ii.quantity), 0)
       FROM invoice_items ii
       JOIN confirmed c ON c.id = ii.invoice_id
      WHERE c.date >= date_trunc('year', CURRENT_DATE))`, id, string(period)).
		Scan(&stats.InvoiceCount, &stats.AverageOrderValue, &stats.TotalRevenue,
			&stats.MostPopularProduct, &stats.AnnualConsumption)
	if err != nil {
		return Statistics{}, err
	}
	stats.AverageOrderValue = stats.AverageOrderValue.Round(2)
	return stats, nil
}

var _ Repository = (*PGRepository)(nil)
