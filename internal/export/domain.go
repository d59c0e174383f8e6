// Package export renders business records as CSV or JSON downloads.
package export

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/srecha/srecha-invoice/internal/shared"
)

// Kind selects the exported dataset.
type Kind string

const (
	KindInvoices      Kind = "invoices"
	KindDeliveries    Kind = "deliveries"
	KindClients       Kind = "clients"
	KindProducts      Kind = "products"
	KindProductGroups Kind = "product_groups"
)

// Action is the activity log action recorded for an export of k.
func (k Kind) Action() string {
	return "EXPORT_" + cases.Upper(language.Und).String(string(k))
}

// Format is the output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat defaults to CSV.
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: format must be csv or json", shared.ErrValidation)
	}
}

// Filters narrows an export. Fields that do not apply to a Kind are ignored.
type Filters struct {
	Status     string     `json:"status,omitempty"`
	ClientID   *uuid.UUID `json:"client_id,omitempty"`
	Start      *time.Time `json:"start_date,omitempty"`
	End        *time.Time `json:"end_date,omitempty"`
	Search     string     `json:"search,omitempty"`
	Category   string     `json:"category,omitempty"`
	ActiveOnly bool       `json:"active_only,omitempty"`
}

// Table is an exported dataset. Every row has one cell per column.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Records returns the rows keyed by column label.
func (t Table) Records() []map[string]string {
	out := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]string, len(t.Columns))
		for i, col := range t.Columns {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}
