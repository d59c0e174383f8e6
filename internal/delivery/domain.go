// Package delivery manages delivery notes: unpriced documents listing the
// goods handed over to a client.
package delivery

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/srecha/srecha-invoice/internal/shared"
)

// ============================================================================
// DELIVERY STATUS
// ============================================================================

// Status represents the lifecycle of a delivery note.
type Status string

const (
	StatusDraft     Status = "draft"     // Initial creation, can be deleted
	StatusConfirmed Status = "confirmed" // Handed over, kept for the record
)

// Valid checks if the status is known.
func (s Status) Valid() bool {
	return s == StatusDraft || s == StatusConfirmed
}

// CanDelete checks if a delivery in this status may be removed.
func (s Status) CanDelete() bool {
	return s == StatusDraft
}

// ============================================================================
// ACTIVITY AND ERRORS
// ============================================================================

const (
	EntityDeliveries = "deliveries"

	ActionCreate       = "CREATE_DELIVERY"
	ActionStatusPrefix = "UPDATE_DELIVERY_STATUS_"
	ActionUpdateSigned = "UPDATE_DELIVERY_SIGNED"
	ActionDelete       = "DELETE_DELIVERY"
)

// DefaultUnit labels lines created without a unit ("pieces").
const DefaultUnit = "ком"

var (
	ErrNotFound         = fmt.Errorf("%w: delivery not found", shared.ErrNotFound)
	ErrDuplicateNumber  = fmt.Errorf("%w: delivery number already exists", shared.ErrConflict)
	ErrConfirmedDelete  = fmt.Errorf("%w: cannot delete confirmed delivery", shared.ErrInvalidState)
	ErrUnknownReference = fmt.Errorf("%w: client or product does not exist", shared.ErrValidation)
)

// ============================================================================
// DELIVERY ENTITY
// ============================================================================

// Delivery is a delivery note header with its lines.
type Delivery struct {
	ID              uuid.UUID  `json:"id"`
	Number          string     `json:"number"`
	Date            time.Time  `json:"date"`
	DueDate         *time.Time `json:"due_date"`
	ClientID        uuid.UUID  `json:"client_id"`
	ClientName      string     `json:"client_name,omitempty"`
	ClientLegalName string     `json:"client_legal_name,omitempty"`
	ClientAddress   string     `json:"client_address,omitempty"`
	ClientMB        string     `json:"client_mb,omitempty"`
	ClientPIB       string     `json:"client_pib,omitempty"`
	DeliveryMethod  *string    `json:"delivery_method"`
	Notes           *string    `json:"notes"`
	Status          Status     `json:"status"`
	IsSigned        bool       `json:"is_signed"`
	ItemCount       int        `json:"item_count"`
	CreatedBy       *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Items           []Item     `json:"items,omitempty"`
}

// Item is one delivered product line.
type Item struct {
	ID          uuid.UUID `json:"id"`
	ProductID   uuid.UUID `json:"product_id"`
	ProductCode string    `json:"product_code,omitempty"`
	ProductName string    `json:"product_name,omitempty"`
	Quantity    int       `json:"quantity"`
	Unit        string    `json:"unit"`
}

// ============================================================================
// REQUEST DTOs
// ============================================================================

// ItemInput is one requested line.
type ItemInput struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
	Unit      string    `json:"unit" validate:"max=20"`
}

// CreateInput is the payload for a new delivery.
type CreateInput struct {
	Number         string      `json:"number" validate:"required,max=50"`
	Date           string      `json:"date" validate:"required"`
	DueDate        string      `json:"due_date" validate:"required"`
	ClientID       uuid.UUID   `json:"client_id" validate:"required"`
	DeliveryMethod *string     `json:"delivery_method" validate:"omitempty,max=100"`
	Notes          *string     `json:"notes"`
	Items          []ItemInput `json:"items" validate:"required,min=1,dive"`
}

// ListFilters narrows delivery listings.
type ListFilters struct {
	Search   string
	Status   Status
	ClientID *uuid.UUID
}

// Page is a paginated delivery listing.
type Page struct {
	Deliveries []Delivery        `json:"deliveries"`
	Pagination shared.Pagination `json:"pagination"`
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

func (in CreateInput) build() (Delivery, error) {
	number := strings.TrimSpace(in.Number)
	if number == "" {
		return Delivery{}, fmt.Errorf("%w: delivery number is required", shared.ErrValidation)
	}
	if len(in.Items) == 0 {
		return Delivery{}, fmt.Errorf("%w: at least one item is required", shared.ErrValidation)
	}
	date, err := parseDate("date", in.Date)
	if err != nil {
		return Delivery{}, err
	}
	due, err := parseDate("due_date", in.DueDate)
	if err != nil {
		return Delivery{}, err
	}

	d := Delivery{
		Number:         number,
		Date:           date,
		DueDate:        &due,
		ClientID:       in.ClientID,
		DeliveryMethod: in.DeliveryMethod,
		Notes:          in.Notes,
		Status:         StatusDraft,
		ItemCount:      len(in.Items),
		Items:          make([]Item, len(in.Items)),
	}
	for i, item := range in.Items {
		if item.Quantity < 1 {
			return Delivery{}, fmt.Errorf("%w: items[%d].quantity must be a positive integer", shared.ErrValidation, i)
		}
		unit := strings.TrimSpace(item.Unit)
		if unit == "" {
			unit = DefaultUnit
		}
		d.Items[i] = Item{ProductID: item.ProductID, Quantity: item.Quantity, Unit: unit}
	}
	return d, nil
}
