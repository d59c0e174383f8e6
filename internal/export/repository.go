package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository loads export datasets.
type Repository interface {
	Fetch(ctx context.Context, kind Kind, f Filters) (Table, error)
}

// PGRepository reads export datasets from PostgreSQL. Every column is
// rendered to text in SQL so rows scan uniformly.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type whereBuilder struct {
	conds []string
	args  []any
}

func (w *whereBuilder) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *whereBuilder) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conds, " AND ")
}

func documentFilters(alias string, f Filters) *whereBuilder {
	w := &whereBuilder{}
	if f.Status != "" {
		w.add(alias+".status = $%d", f.Status)
	}
	if f.ClientID != nil {
		w.add(alias+".client_id = $%d", *f.ClientID)
	}
	if f.Start != nil {
		w.add(alias+".date >= $%d::date", *f.Start)
	}
	if f.End != nil {
		w.add(alias+".date <= $%d::date", *f.End)
	}
	return w
}

// Fetch runs the dataset query for kind.
func (r *PGRepository) Fetch(ctx context.Context, kind Kind, f Filters) (Table, error) {
	var (
		query string
		where *whereBuilder
	)
	switch kind {
	case KindInvoices:
		where = documentFilters("i", f)
		query = `SELECT i.number AS "Invoice Number",
       to_char(i.date, 'YYYY-MM-DD') AS "Date",
       to_char(i.due_date, 'YYYY-MM-DD') AS "Due Date",
       c.name AS "Client Name",
       c.legal_name AS "Client Legal Name",
       i.subtotal::text AS "Subtotal",
       i.vat_amount::text AS "VAT Amount",
       i.total::text AS "Total",
       i.status AS "Status",
       CASE WHEN i.is_delivered THEN 'Yes' ELSE 'No' END AS "Delivered",
       CASE WHEN i.is_paid THEN 'Yes' ELSE 'No' END AS "Paid",
       i.notes AS "Notes",
       to_char(i.created_at, 'YYYY-MM-DD"T"HH24:MI:SSOF') AS "Created At"
FROM invoices i
JOIN clients c ON c.id = i.client_id
` + where.String() + `
ORDER BY i.date DESC, i.number`
	case KindDeliveries:
		where = documentFilters("d", f)
		query = `SELECT d.number AS "Delivery Number",
       to_char(d.date, 'YYYY-MM-DD') AS "Date",
       to_char(d.due_date, 'YYYY-MM-DD') AS "Due Date",
       c.name AS "Client Name",
       c.legal_name AS "Client Legal Name",
       d.delivery_method AS "Delivery Method",
       d.status AS "Status",
       CASE WHEN d.is_signed THEN 'Yes' ELSE 'No' END AS "Signed",
       d.notes AS "Notes",
       to_char(d.created_at, 'YYYY-MM-DD"T"HH24:MI:SSOF') AS "Created At"
FROM deliveries d
JOIN clients c ON c.id = d.client_id
` + where.String() + `
ORDER BY d.date DESC, d.number`
	case KindClients:
		where = &whereBuilder{}
		if f.Search != "" {
			where.add(`(name ILIKE $%[1]d OR legal_name ILIKE $%[1]d OR mb ILIKE $%[1]d OR pib ILIKE $%[1]d)`, "%"+f.Search+"%")
		}
		query = `SELECT name AS "Name", legal_name AS "Legal Name", mb AS "MB", pib AS "PIB",
       address AS "Address", city AS "City", municipality AS "Municipality",
       contact_person AS "Contact Person", phone AS "Phone", email AS "Email",
       telegram AS "Telegram", instagram AS "Instagram",
       CASE WHEN installment_payment THEN 'Yes' ELSE 'No' END AS "Installment Payment",
       installment_term::text AS "Installment Term",
       CASE WHEN showcase THEN 'Yes' ELSE 'No' END AS "Showcase",
       CASE WHEN bar THEN 'Yes' ELSE 'No' END AS "Bar",
       notes AS "Notes",
       to_char(created_at, 'YYYY-MM-DD"T"HH24:MI:SSOF') AS "Created At"
FROM clients
` + where.String() + `
ORDER BY name ASC`
	case KindProducts:
		where = &whereBuilder{}
		if f.Category != "" {
			where.add("category = $%d", f.Category)
		}
		if f.ActiveOnly {
			where.add("is_active = $%d", true)
		}
		query = `SELECT code AS "Code", name AS "Name", price::text AS "Price",
       weight::text AS "Weight (g)", category AS "Category", description AS "Description",
       CASE WHEN is_active THEN 'Active' ELSE 'Inactive' END AS "Status",
       to_char(created_at, 'YYYY-MM-DD"T"HH24:MI:SSOF') AS "Created At"
FROM products
` + where.String() + `
ORDER BY name ASC`
	case KindProductGroups:
		where = &whereBuilder{}
		query = `SELECT pg.name AS "Group Name",
       pg.quantity_type AS "Quantity Type",
       pg.original_quantity::text AS "Original Quantity",
       pg.current_quantity::text AS "Current Quantity",
       to_char(pg.shipment_date, 'YYYY-MM-DD') AS "Shipment Date",
       pg.reservation_type AS "Reservation Type",
       pg.reservation_amount::text AS "Reservation Amount",
       COALESCE(string_agg(p.name, ', ' ORDER BY p.name), '') AS "Products",
       to_char(pg.created_at, 'YYYY-MM-DD"T"HH24:MI:SSOF') AS "Created At"
FROM product_groups pg
LEFT JOIN product_group_items pgi ON pgi.group_id = pg.id
LEFT JOIN products p ON p.id = pgi.product_id
GROUP BY pg.id
ORDER BY pg.created_at DESC`
	default:
		return Table{}, fmt.Errorf("unknown export kind %q", kind)
	}
	return r.table(ctx, query, where.args...)
}

func (r *PGRepository) table(ctx context.Context, query string, args ...any) (Table, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return Table{}, fmt.Errorf("export query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	t := Table{Columns: make([]string, len(fields)), Rows: [][]string{}}
	for i, fd := range fields {
		t.Columns[i] = fd.Name
	}
	for rows.Next() {
		cells := make([]*string, len(fields))
		dest := make([]any, len(fields))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return Table{}, err
		}
		row := make([]string, len(cells))
		for i, c := range cells {
			if c != nil {
				row[i] = *c
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, rows.Err()
}
