package inventory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/srecha/srecha-invoice/internal/shared"
)

// MeasureType tells whether a lot quantity is tracked by weight or by units.
type MeasureType string

const (
	MeasureWeight MeasureType = "weight"
	MeasureUnits  MeasureType = "units"
)

// Valid reports whether m is a known measure.
func (m MeasureType) Valid() bool {
	return m == MeasureWeight || m == MeasureUnits
}

// shrinkage is the share of the original quantity written off on receipt.
var shrinkage = decimal.RequireFromString("0.05")

// Activity labels.
const (
	EntityProductGroups = "product_groups"

	ActionViewLots          = "VIEW_PRODUCT_GROUPS"
	ActionViewLot           = "VIEW_PRODUCT_GROUP"
	ActionCreateLot         = "CREATE_PRODUCT_GROUP"
	ActionUpdateLot         = "UPDATE_PRODUCT_GROUP"
	ActionAddProduct        = "ADD_PRODUCT_TO_GROUP"
	ActionRemoveProduct     = "REMOVE_PRODUCT_FROM_GROUP"
	ActionDeleteLot         = "DELETE_PRODUCT_GROUP"
	ActionManualConsumption = "UPDATE_STOCK_ON_INVOICE_APPROVAL"
)

var (
	// ErrLotNotFound indicates the lot does not exist.
	ErrLotNotFound = fmt.Errorf("%w: product group not found", shared.ErrNotFound)
	// ErrProductNotFound indicates the product does not exist.
	ErrProductNotFound = fmt.Errorf("%w: product not found", shared.ErrNotFound)
	// ErrMembershipNotFound indicates the product is not in the lot.
	ErrMembershipNotFound = fmt.Errorf("%w: product not found in this group", shared.ErrNotFound)
	// ErrDuplicateName indicates another lot already uses the name.
	ErrDuplicateName = fmt.Errorf("%w: product group with this name already exists", shared.ErrConflict)
	// ErrInvalidProduct indicates the product has no usable weight.
	ErrInvalidProduct = fmt.Errorf("%w: product must have a valid weight to be added to a group", shared.ErrValidation)
	// ErrAlreadyGrouped indicates the product already belongs to a lot.
	ErrAlreadyGrouped = fmt.Errorf("%w: product is already in group", shared.ErrConflict)
	// ErrConcurrentUpdate indicates the lot kept changing under the request.
	ErrConcurrentUpdate = fmt.Errorf("%w: product group was modified concurrently", shared.ErrConflict)
)

// Lot is a received batch of stock shared by one or more products.
type Lot struct {
	ID                uuid.UUID       `json:"id"`
	Name              string          `json:"name"`
	QuantityType      MeasureType     `json:"quantity_type"`
	OriginalQuantity  decimal.Decimal `json:"original_quantity"`
	CurrentQuantity   decimal.Decimal `json:"current_quantity"`
	ShipmentDate      time.Time       `json:"shipment_date"`
	ReservationType   MeasureType     `json:"reservation_type"`
	ReservationAmount decimal.Decimal `json:"reservation_amount"`
	CreatedBy         *uuid.UUID      `json:"created_by,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Products          []LotProduct    `json:"products"`
}

// LotProduct is a member product as listed under a lot.
type LotProduct struct {
	ID     uuid.UUID           `json:"id"`
	Code   string              `json:"code"`
	Name   string              `json:"name"`
	Weight decimal.NullDecimal `json:"weight"`
	Price  decimal.Decimal     `json:"price"`
}

// InitialQuantity computes the stock available after shrinkage and
// reservation: max(0, Q - 0.05*Q - R).
func InitialQuantity(original, reservation decimal.Decimal) decimal.Decimal {
	current := original.Sub(original.Mul(shrinkage)).Sub(reservation)
	if current.IsNegative() {
		return decimal.Zero
	}
	return current
}

// CreateLotInput is the payload for a new lot.
type CreateLotInput struct {
	Name              string          `json:"name" validate:"required,max=255"`
	QuantityType      MeasureType     `json:"quantity_type" validate:"required,oneof=weight units"`
	OriginalQuantity  decimal.Decimal `json:"original_quantity"`
	ShipmentDate      string          `json:"shipment_date" validate:"required"`
	ReservationType   MeasureType     `json:"reservation_type" validate:"required,oneof=weight units"`
	ReservationAmount decimal.Decimal `json:"reservation_amount"`
}

// UpdateLotInput carries a partial lot update. Nil fields are left unchanged.
type UpdateLotInput struct {
	Name              *string          `json:"name" validate:"omitempty,min=1,max=255"`
	QuantityType      *MeasureType     `json:"quantity_type" validate:"omitempty,oneof=weight units"`
	OriginalQuantity  *decimal.Decimal `json:"original_quantity"`
	ShipmentDate      *string          `json:"shipment_date"`
	ReservationType   *MeasureType     `json:"reservation_type" validate:"omitempty,oneof=weight units"`
	ReservationAmount *decimal.Decimal `json:"reservation_amount"`
}

// LotChanges is the validated column set written by an update.
type LotChanges struct {
	Name              *string
	QuantityType      *MeasureType
	OriginalQuantity  *decimal.Decimal
	ShipmentDate      *time.Time
	ReservationType   *MeasureType
	ReservationAmount *decimal.Decimal
}

// Empty reports whether no column is set.
func (c LotChanges) Empty() bool {
	return c.Name == nil && c.QuantityType == nil && c.OriginalQuantity == nil &&
		c.ShipmentDate == nil && c.ReservationType == nil && c.ReservationAmount == nil
}

// ProductRef is the product data consulted by the ledger.
type ProductRef struct {
	ID     uuid.UUID
	Code   string
	Name   string
	Weight decimal.NullDecimal
}

// ConsumptionLine is one product quantity leaving stock.
type ConsumptionLine struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
}

// StockUpdate describes the effect of one consumption line on its lot.
type StockUpdate struct {
	GroupID      uuid.UUID       `json:"group_id"`
	ProductCode  string          `json:"product_code"`
	ProductName  string          `json:"product_name"`
	QuantityUsed int             `json:"quantity_used"`
	WeightUsed   decimal.Decimal `json:"weight_used"`
	OldStock     decimal.Decimal `json:"old_stock"`
	NewStock     decimal.Decimal `json:"new_stock"`
}

const dateLayout = "2006-01-02"

func parseShipmentDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: shipment_date must be a valid date", shared.ErrValidation)
	}
	return t, nil
}
