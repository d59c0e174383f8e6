// Package products manages the product catalogue.
package products

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/srecha/srecha-invoice/internal/shared"
)

const (
	EntityProducts = "products"

	ActionCreate     = "CREATE_PRODUCT"
	ActionUpdate     = "UPDATE_PRODUCT"
	ActionDelete     = "DELETE_PRODUCT"
	ActionDeactivate = "DEACTIVATE_PRODUCT"
	ActionActivate   = "ACTIVATE_PRODUCT"
)

var (
	// ErrNotFound indicates the product does not exist.
	ErrNotFound = fmt.Errorf("%w: product not found", shared.ErrNotFound)
	// ErrDuplicateCode indicates another product already uses the code.
	ErrDuplicateCode = fmt.Errorf("%w: product with this code already exists", shared.ErrConflict)
	// ErrInUse indicates invoice or delivery lines still reference the product.
	ErrInUse = fmt.Errorf("%w: product is referenced by documents", shared.ErrConflict)
)

// Product is a sellable catalogue item.
type Product struct {
	ID          uuid.UUID           `json:"id"`
	Code        string              `json:"code"`
	Name        string              `json:"name"`
	Price       decimal.Decimal     `json:"price"`
	Weight      decimal.NullDecimal `json:"weight"`
	Category    *string             `json:"category"`
	Description *string             `json:"description"`
	IsActive    bool                `json:"is_active"`
	CreatedBy   *uuid.UUID          `json:"created_by,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Input is the create and update payload.
type Input struct {
	Code        string           `json:"code" validate:"required,max=50"`
	Name        string           `json:"name" validate:"required,max=255"`
	Price       decimal.Decimal  `json:"price"`
	Weight      *decimal.Decimal `json:"weight"`
	Category    *string          `json:"category" validate:"omitempty,max=100"`
	Description *string          `json:"description"`
}

func (in *Input) normalize() error {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if in.Code == "" || in.Name == "" {
		return fmt.Errorf("%w: code and name are required", shared.ErrValidation)
	}
	if in.Price.IsNegative() {
		return fmt.Errorf("%w: price must be a non-negative number", shared.ErrValidation)
	}
	if in.Weight != nil && in.Weight.IsNegative() {
		return fmt.Errorf("%w: weight must be a non-negative number", shared.ErrValidation)
	}
	if in.Category != nil {
		c := strings.TrimSpace(*in.Category)
		in.Category = &c
	}
	return nil
}

// ListFilters narrows a product listing.
type ListFilters struct {
	Search     string
	Category   string
	ActiveOnly bool
}

// Page is one page of products.
type Page struct {
	Products   []Product         `json:"products"`
	Pagination shared.Pagination `json:"pagination"`
}

// Usage counts document lines referencing a product.
type Usage struct {
	InvoiceLines  int
	DeliveryLines int
}

// InUse reports whether any line references the product.
func (u Usage) InUse() bool {
	return u.InvoiceLines > 0 || u.DeliveryLines > 0
}

// Stats summarises how a product has been sold.
type Stats struct {
	ID                uuid.UUID       `json:"id"`
	Code              string          `json:"code"`
	Name              string          `json:"name"`
	InvoiceCount      int             `json:"invoice_count"`
	DeliveryCount     int             `json:"delivery_count"`
	TotalSoldQuantity int64           `json:"total_sold_quantity"`
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
}

// DeleteResult reports whether a delete removed or only deactivated the product.
type DeleteResult struct {
	Deactivated bool
	Product     Product
}
