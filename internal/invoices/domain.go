// Package invoices manages sales invoices and applies stock consumption when
// an invoice is confirmed.
package invoices

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/srecha/srecha-invoice/internal/shared"
)

// Status is the invoice lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusConfirmed Status = "confirmed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusDraft || s == StatusConfirmed
}

const (
	EntityInvoices      = "invoices"
	EntityProductGroups = "product_groups"

	ActionCreate         = "CREATE_INVOICE"
	ActionStockUpdate    = "UPDATE_STOCK_ON_INVOICE_CONFIRMATION"
	ActionStatusPrefix   = "UPDATE_INVOICE_STATUS_"
	ActionUpdateTracking = "UPDATE_INVOICE_TRACKING"
	ActionDelete         = "DELETE_INVOICE"
)

const (
	idempotencyModule  = "invoices"
	defaultListLimit   = 50
	maxVATRate         = 100
	moneyDecimalPlaces = 2
	maxItemQuantity    = math.MaxInt32
)

var (
	// ErrNotFound indicates the invoice does not exist.
	ErrNotFound = fmt.Errorf("%w: invoice not found", shared.ErrNotFound)
	// ErrDuplicateNumber indicates the invoice number is taken.
	ErrDuplicateNumber = fmt.Errorf("%w: invoice number already exists", shared.ErrConflict)
	// ErrDuplicateRequest indicates the Idempotency-Key was already used.
	ErrDuplicateRequest = fmt.Errorf("%w: request already processed", shared.ErrConflict)
	// ErrConfirmedDelete indicates an attempt to delete a confirmed invoice.
	ErrConfirmedDelete = fmt.Errorf("%w: cannot delete confirmed invoice", shared.ErrInvalidState)
	// ErrConcurrentUpdate indicates another request changed the invoice first.
	ErrConcurrentUpdate = fmt.Errorf("%w: invoice was modified concurrently, retry", shared.ErrConflict)
	// ErrUnknownReference indicates the client or a product does not exist.
	ErrUnknownReference = fmt.Errorf("%w: client or product does not exist", shared.ErrValidation)
)

// Invoice is a billable document with its lines.
type Invoice struct {
	ID              uuid.UUID       `json:"id"`
	Number          string          `json:"number"`
	Date            time.Time       `json:"date"`
	DueDate         time.Time       `json:"due_date"`
	ClientID        uuid.UUID       `json:"client_id"`
	ClientName      string          `json:"client_name,omitempty"`
	ClientLegalName string          `json:"client_legal_name,omitempty"`
	ClientAddress   string          `json:"client_address,omitempty"`
	ClientMB        string          `json:"client_mb,omitempty"`
	ClientPIB       string          `json:"client_pib,omitempty"`
	DeliveryAddress *string         `json:"delivery_address"`
	VATRate         decimal.Decimal `json:"vat_rate"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	VATAmount       decimal.Decimal `json:"vat_amount"`
	Total           decimal.Decimal `json:"total"`
	Status          Status          `json:"status"`
	IsDelivered     bool            `json:"is_delivered"`
	IsPaid          bool            `json:"is_paid"`
	Reference       *string         `json:"reference"`
	Notes           *string         `json:"notes"`
	ItemCount       int             `json:"item_count"`
	CreatedBy       *uuid.UUID      `json:"created_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Items           []Item          `json:"items,omitempty"`
}

// Item is one invoice line. UnitPrice is a snapshot taken at creation.
type Item struct {
	ID            uuid.UUID           `json:"id"`
	ProductID     uuid.UUID           `json:"product_id"`
	ProductCode   string              `json:"product_code,omitempty"`
	ProductName   string              `json:"product_name,omitempty"`
	ProductWeight decimal.NullDecimal `json:"product_weight"`
	Quantity      int                 `json:"quantity"`
	UnitPrice     decimal.Decimal     `json:"unit_price"`
	TotalPrice    decimal.Decimal     `json:"total_price"`
}

// ItemInput is one requested line.
type ItemInput struct {
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	Quantity  int             `json:"quantity" validate:"required,min=1,max=2147483647"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CreateInput is the payload for a new invoice.
type CreateInput struct {
	Number          string          `json:"number" validate:"required,max=100"`
	Date            string          `json:"date" validate:"required"`
	DueDate         string          `json:"due_date" validate:"required"`
	ClientID        uuid.UUID       `json:"client_id" validate:"required"`
	DeliveryAddress *string         `json:"delivery_address"`
	VATRate         decimal.Decimal `json:"vat_rate"`
	Reference       *string         `json:"reference"`
	Notes           *string         `json:"notes"`
	Items           []ItemInput     `json:"items" validate:"required,min=1,dive"`
}

// TrackingInput toggles the independent delivered/paid flags.
type TrackingInput struct {
	IsDelivered *bool `json:"is_delivered"`
	IsPaid      *bool `json:"is_paid"`
}

// Empty reports whether neither flag is present.
func (t TrackingInput) Empty() bool {
	return t.IsDelivered == nil && t.IsPaid == nil
}

// ListFilters narrows invoice listings.
type ListFilters struct {
	Search   string
	Status   Status
	ClientID *uuid.UUID
}

// Page is a paginated invoice listing.
type Page struct {
	Invoices   []Invoice         `json:"invoices"`
	Pagination shared.Pagination `json:"pagination"`
}

// Totals holds the derived invoice amounts.
type Totals struct {
	Subtotal  decimal.Decimal
	VATAmount decimal.Decimal
	Total     decimal.Decimal
}

// ComputeTotals derives line totals and invoice amounts:
// subtotal = sum(quantity*unit_price), vat = subtotal*rate/100 rounded to
// cents, total = subtotal + vat.
func ComputeTotals(items []ItemInput, vatRate decimal.Decimal) ([]decimal.Decimal, Totals) {
	lineTotals := make([]decimal.Decimal, len(items))
	subtotal := decimal.Zero
	for i, item := range items {
		lineTotals[i] = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(lineTotals[i])
	}
	vat := subtotal.Mul(vatRate).Div(decimal.NewFromInt(100)).Round(moneyDecimalPlaces)
	return lineTotals, Totals{Subtotal: subtotal, VATAmount: vat, Total: subtotal.Add(vat)}
}

// centsOnly reports whether d is stored by a NUMERIC(_,2) column unchanged.
func centsOnly(d decimal.Decimal) bool {
	return d.Equal(d.Round(moneyDecimalPlaces))
}

const dateLayout = "2006-01-02"

func parseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be a valid date", shared.ErrValidation, field)
	}
	return t, nil
}

// build validates the input and derives the amounts of the new invoice.
func (in CreateInput) build() (Invoice, error) {
	number := strings.TrimSpace(in.Number)
	if number == "" {
		return Invoice{}, fmt.Errorf("%w: invoice number is required", shared.ErrValidation)
	}
	if len(in.Items) == 0 {
		return Invoice{}, fmt.Errorf("%w: at least one item is required", shared.ErrValidation)
	}
	if in.VATRate.IsNegative() || in.VATRate.GreaterThan(decimal.NewFromInt(maxVATRate)) {
		return Invoice{}, fmt.Errorf("%w: VAT rate must be between 0 and 100", shared.ErrValidation)
	}
	if !centsOnly(in.VATRate) {
		return Invoice{}, fmt.Errorf("%w: VAT rate must have at most %d decimal places", shared.ErrValidation, moneyDecimalPlaces)
	}
	for i, item := range in.Items {
		if item.Quantity < 1 || item.Quantity > maxItemQuantity {
			return Invoice{}, fmt.Errorf("%w: items[%d].quantity must be a positive integer", shared.ErrValidation, i)
		}
		if item.UnitPrice.IsNegative() {
			return Invoice{}, fmt.Errorf("%w: items[%d].unit_price must be non-negative", shared.ErrValidation, i)
		}
		if !centsOnly(item.UnitPrice) {
			return Invoice{}, fmt.Errorf("%w: items[%d].unit_price must have at most %d decimal places", shared.ErrValidation, i, moneyDecimalPlaces)
		}
	}
	date, err := parseDate("date", in.Date)
	if err != nil {
		return Invoice{}, err
	}
	due, err := parseDate("due_date", in.DueDate)
	if err != nil {
		return Invoice{}, err
	}

	lineTotals, totals := ComputeTotals(in.Items, in.VATRate)
	inv := Invoice{
		Number:          number,
		Date:            date,
		DueDate:         due,
		ClientID:        in.ClientID,
		DeliveryAddress: in.DeliveryAddress,
		VATRate:         in.VATRate,
		Subtotal:        totals.Subtotal,
		VATAmount:       totals.VATAmount,
		Total:           totals.Total,
		Status:          StatusDraft,
		Reference:       in.Reference,
		Notes:           in.Notes,
		ItemCount:       len(in.Items),
	}
	inv.Items = make([]Item, len(in.Items))
	for i, item := range in.Items {
		inv.Items[i] = Item{
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: lineTotals[i],
		}
	}
	return inv, nil
}
