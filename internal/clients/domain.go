// Package clients manages customer records and their purchase statistics.
package clients

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/srecha/srecha-invoice/internal/shared"
)

const (
	EntityClients = "clients"

	ActionCreate = "CREATE_CLIENT"
	ActionUpdate = "UPDATE_CLIENT"
	ActionDelete = "DELETE_CLIENT"
)

var (
	// ErrNotFound indicates the client does not exist.
	ErrNotFound = fmt.Errorf("%w: client not found", shared.ErrNotFound)
	// ErrDuplicate indicates MB or PIB is already registered to another client.
	ErrDuplicate = fmt.Errorf("%w: client with this MB or PIB already exists", shared.ErrConflict)
	// ErrClientInUse indicates invoices or deliveries still reference the client.
	ErrClientInUse = fmt.Errorf("%w: cannot delete client with existing invoices or deliveries", shared.ErrConflict)
)

// InUseError carries the reference counts that block a delete.
type InUseError struct {
	Invoices   int
	Deliveries int
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("%s (invoices: %d, deliveries: %d)", ErrClientInUse, e.Invoices, e.Deliveries)
}

func (e *InUseError) Unwrap() error { return ErrClientInUse }

// Client is a customer.
type Client struct {
	ID                 uuid.UUID  `json:"id"`
	Name               string     `json:"name"`
	LegalName          string     `json:"legal_name"`
	MB                 string     `json:"mb"`
	PIB                string     `json:"pib"`
	Address            string     `json:"address"`
	City               *string    `json:"city"`
	Municipality       *string    `json:"municipality"`
	Street             *string    `json:"street"`
	HouseNumber        *string    `json:"house_number"`
	GoogleMapsLink     *string    `json:"google_maps_link"`
	ContactPerson      *string    `json:"contact_person"`
	Contact            *string    `json:"contact"`
	BankInfo           *string    `json:"bank_info"`
	IsManualAddress    bool       `json:"is_manual_address"`
	Telegram           *string    `json:"telegram"`
	Instagram          *string    `json:"instagram"`
	Phone              *string    `json:"phone"`
	Email              *string    `json:"email"`
	InstallmentPayment bool       `json:"installment_payment"`
	InstallmentTerm    *int       `json:"installment_term"`
	Showcase           bool       `json:"showcase"`
	Bar                bool       `json:"bar"`
	Notes              *string    `json:"notes"`
	CreatedBy          *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Input is the create and update payload.
type Input struct {
	Name               string  `json:"name" validate:"required,max=255"`
	LegalName          string  `json:"legal_name" validate:"required,max=255"`
	MB                 string  `json:"mb" validate:"required,max=20"`
	PIB                string  `json:"pib" validate:"required,max=20"`
	Address            string  `json:"address" validate:"required"`
	City               *string `json:"city" validate:"omitempty,max=100"`
	Municipality       *string `json:"municipality" validate:"omitempty,max=100"`
	Street             *string `json:"street" validate:"omitempty,max=255"`
	HouseNumber        *string `json:"house_number" validate:"omitempty,max=20"`
	GoogleMapsLink     *string `json:"google_maps_link" validate:"omitempty,url"`
	ContactPerson      *string `json:"contact_person" validate:"omitempty,max=255"`
	Contact            *string `json:"contact" validate:"omitempty,max=255"`
	BankInfo           *string `json:"bank_info"`
	IsManualAddress    bool    `json:"is_manual_address"`
	Telegram           *string `json:"telegram" validate:"omitempty,max=255"`
	Instagram          *string `json:"instagram" validate:"omitempty,max=255"`
	Phone              *string `json:"phone" validate:"omitempty,max=50"`
	Email              *string `json:"email" validate:"omitempty,email"`
	InstallmentPayment bool    `json:"installment_payment"`
	InstallmentTerm    *int    `json:"installment_term" validate:"omitempty,min=1"`
	Showcase           bool    `json:"showcase"`
	Bar                bool    `json:"bar"`
	Notes              *string `json:"notes" validate:"omitempty,max=1000"`
}

func (in *Input) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	in.LegalName = strings.TrimSpace(in.LegalName)
	in.MB = strings.TrimSpace(in.MB)
	in.PIB = strings.TrimSpace(in.PIB)
	in.Address = strings.TrimSpace(in.Address)
	if in.Name == "" || in.LegalName == "" || in.MB == "" || in.PIB == "" || in.Address == "" {
		return fmt.Errorf("%w: name, legal_name, mb, pib and address are required", shared.ErrValidation)
	}
	if in.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*in.Email))
		in.Email = &email
	}
	return nil
}

// Page is one page of clients.
type Page struct {
	Clients    []Client          `json:"clients"`
	Pagination shared.Pagination `json:"pagination"`
}

// InvoiceSummary is an invoice as listed under its client.
type InvoiceSummary struct {
	ID          uuid.UUID       `json:"id"`
	Number      string          `json:"number"`
	Date        time.Time       `json:"date"`
	DueDate     time.Time       `json:"due_date"`
	Total       decimal.Decimal `json:"total"`
	Status      string          `json:"status"`
	IsDelivered bool            `json:"is_delivered"`
	IsPaid      bool            `json:"is_paid"`
	ItemCount   int             `json:"item_count"`
}

// DeliverySummary is a delivery as listed under its client.
type DeliverySummary struct {
	ID             uuid.UUID  `json:"id"`
	Number         string     `json:"number"`
	Date           time.Time  `json:"date"`
	DueDate        *time.Time `json:"due_date"`
	DeliveryMethod *string    `json:"delivery_method"`
	Status         string     `json:"status"`
	IsSigned       bool       `json:"is_signed"`
	ItemCount      int        `json:"item_count"`
}

// Period is the window of a statistics query, starting at the beginning of
// the current month, quarter or year.
type Period string

const (
	PeriodMonth   Period = "month"
	PeriodQuarter Period = "quarter"
	PeriodYear    Period = "year"
)

// ParsePeriod validates a period, defaulting to a year.
func ParsePeriod(raw string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PeriodYear, nil
	case PeriodMonth, PeriodQuarter, PeriodYear:
		return p, nil
	default:
		return "", fmt.Errorf("%w: period must be month, quarter or year", shared.ErrValidation)
	}
}

// Statistics summarises confirmed invoices of a client.
type Statistics struct {
	InvoiceCount       int             `json:"invoice_count"`
	AverageOrderValue  decimal.Decimal `json:"average_order_value"`
	TotalRevenue       decimal.Decimal `json:"total_revenue"`
	MostPopularProduct *string         `json:"most_popular_product"`
	AnnualConsumption  int64           `json:"annual_consumption"`
	Period             Period          `json:"period"`
}
