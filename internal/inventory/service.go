package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/srecha/srecha-invoice/internal/activity"
	"github.com/srecha/srecha-invoice/internal/platform/db"
	"github.com/srecha/srecha-invoice/internal/shared"
)

// Recorder appends activity log entries.
type Recorder interface {
	Record(ctx context.Context, ev activity.Event)
}

// Metrics counts stock movements.
type Metrics interface {
	StockDeducted(lots int)
}

// Service coordinates the lot ledger.
type Service struct {
	repo    Repository
	audit   Recorder
	metrics Metrics
}

// NewService builds Service. audit and metrics may be nil.
func NewService(repo Repository, audit Recorder, metrics Metrics) *Service {
	return &Service{repo: repo, audit: audit, metrics: metrics}
}

func (s *Service) record(ctx context.Context, action, entityID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, activity.Event{
		ActorID:    shared.ActorID(ctx),
		Action:     action,
		EntityType: EntityProductGroups,
		EntityID:   entityID,
		Details:    details,
	})
}

// ListLots returns every lot with its member products.
func (s *Service) ListLots(ctx context.Context) ([]Lot, error) {
	lots, err := s.repo.ListLots(ctx)
	if err != nil {
		return nil, err
	}
	s.record(ctx, ActionViewLots, "", map[string]any{"count": len(lots)})
	return lots, nil
}

// GetLot returns one lot with its member products.
func (s *Service) GetLot(ctx context.Context, id uuid.UUID) (Lot, error) {
	lot, err := s.repo.GetLot(ctx, id)
	if err != nil {
		return Lot{}, err
	}
	s.record(ctx, ActionViewLot, id.String(), nil)
	return lot, nil
}

// CreateLot registers a lot. Its current quantity starts at
// InitialQuantity(original, reservation).
func (s *Service) CreateLot(ctx context.Context, input CreateLotInput) (Lot, error) {
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return Lot{}, fmt.Errorf("%w: name is required", shared.ErrValidation)
	}
	if !input.QuantityType.Valid() || !input.ReservationType.Valid() {
		return Lot{}, fmt.Errorf("%w: quantity and reservation type must be weight or units", shared.ErrValidation)
	}
	if !input.OriginalQuantity.IsPositive() {
		return Lot{}, fmt.Errorf("%w: original_quantity must be positive", shared.ErrValidation)
	}
	if input.ReservationAmount.IsNegative() {
		return Lot{}, fmt.Errorf("%w: reservation_amount must not be negative", shared.ErrValidation)
	}
	shipment, err := parseShipmentDate(input.ShipmentDate)
	if err != nil {
		return Lot{}, err
	}

	lot := Lot{
		Name:              input.Name,
		QuantityType:      input.QuantityType,
		OriginalQuantity:  input.OriginalQuantity,
		CurrentQuantity:   InitialQuantity(input.OriginalQuantity, input.ReservationAmount),
		ShipmentDate:      shipment,
		ReservationType:   input.ReservationType,
		ReservationAmount: input.ReservationAmount,
		CreatedBy:         shared.ActorID(ctx),
	}
	var created Lot
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertLot(ctx, lot)
		if err != nil {
			return err
		}
		s.record(ctx, ActionCreateLot, created.ID.String(), map[string]any{
			"name":              created.Name,
			"original_quantity": created.OriginalQuantity.String(),
			"current_quantity":  created.CurrentQuantity.String(),
		})
		return nil
	})
	if err != nil {
		return Lot{}, err
	}
	return created, nil
}

// UpdateLot applies a partial update. The current quantity is left as is.
func (s *Service) UpdateLot(ctx context.Context, id uuid.UUID, input UpdateLotInput) (Lot, error) {
	changes, err := input.changes()
	if err != nil {
		return Lot{}, err
	}
	if changes.Empty() {
		return Lot{}, fmt.Errorf("%w: no valid fields to update", shared.ErrValidation)
	}
	var updated Lot
	err = s.retry(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		updated, err = tx.UpdateLot(ctx, id, changes)
		if err != nil {
			return err
		}
		s.record(ctx, ActionUpdateLot, id.String(), input.details())
		return nil
	})
	if err != nil {
		return Lot{}, err
	}
	return updated, nil
}

func (in UpdateLotInput) changes() (LotChanges, error) {
	c := LotChanges{
		QuantityType:      in.QuantityType,
		OriginalQuantity:  in.OriginalQuantity,
		ReservationType:   in.ReservationType,
		ReservationAmount: in.ReservationAmount,
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return c, fmt.Errorf("%w: name must not be empty", shared.ErrValidation)
		}
		c.Name = &name
	}
	if c.QuantityType != nil && !c.QuantityType.Valid() {
		return c, fmt.Errorf("%w: quantity_type must be weight or units", shared.ErrValidation)
	}
	if c.ReservationType != nil && !c.ReservationType.Valid() {
		return c, fmt.Errorf("%w: reservation_type must be weight or units", shared.ErrValidation)
	}
	if c.OriginalQuantity != nil && !c.OriginalQuantity.IsPositive() {
		return c, fmt.Errorf("%w: original_quantity must be positive", shared.ErrValidation)
	}
	if c.ReservationAmount != nil && c.ReservationAmount.IsNegative() {
		return c, fmt.Errorf("%w: reservation_amount must not be negative", shared.ErrValidation)
	}
	if in.ShipmentDate != nil {
		t, err := parseShipmentDate(*in.ShipmentDate)
		if err != nil {
			return c, err
		}
		c.ShipmentDate = &t
	}
	return c, nil
}

func (in UpdateLotInput) details() map[string]any {
	d := map[string]any{}
	if in.Name != nil {
		d["name"] = *in.Name
	}
	if in.QuantityType != nil {
		d["quantity_type"] = *in.QuantityType
	}
	if in.OriginalQuantity != nil {
		d["original_quantity"] = in.OriginalQuantity.String()
	}
	if in.ShipmentDate != nil {
		d["shipment_date"] = *in.ShipmentDate
	}
	if in.ReservationType != nil {
		d["reservation_type"] = *in.ReservationType
	}
	if in.ReservationAmount != nil {
		d["reservation_amount"] = in.ReservationAmount.String()
	}
	return d
}

// AddProduct places a product in a lot. A product belongs to at most one lot
// and must carry a positive weight.
func (s *Service) AddProduct(ctx context.Context, lotID, productID uuid.UUID) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockLot(ctx, lotID); err != nil {
			return err
		}
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		if !product.Weight.Valid || !product.Weight.Decimal.IsPositive() {
			return ErrInvalidProduct
		}
		owner, grouped, err := tx.LotNameForProduct(ctx, productID)
		if err != nil {
			return err
		}
		if grouped {
			return fmt.Errorf("%w: %s", ErrAlreadyGrouped, owner)
		}
		if err := tx.InsertMembership(ctx, lotID, productID); err != nil {
			return err
		}
		s.record(ctx, ActionAddProduct, lotID.String(), map[string]any{
			"product_id":   productID.String(),
			"product_code": product.Code,
			"product_name": product.Name,
		})
		return nil
	})
}

// RemoveProduct detaches a product from a lot.
func (s *Service) RemoveProduct(ctx context.Context, lotID, productID uuid.UUID) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		removed, err := tx.DeleteMembership(ctx, lotID, productID)
		if err != nil {
			return err
		}
		if !removed {
			return ErrMembershipNotFound
		}
		s.record(ctx, ActionRemoveProduct, lotID.String(), map[string]any{"product_id": productID.String()})
		return nil
	})
}

// DeleteLot removes a lot together with its memberships.
func (s *Service) DeleteLot(ctx context.Context, id uuid.UUID) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lot, members, err := tx.DeleteLot(ctx, id)
		if err != nil {
			return err
		}
		s.record(ctx, ActionDeleteLot, id.String(), map[string]any{
			"name":           lot.Name,
			"products_count": members,
		})
		return nil
	})
}

// retry runs fn in a transaction, starting over while it loses a
// serialization race against another writer of the same lots.
func (s *Service) retry(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.RetrySerializable(ctx, db.SerializationRetries, func() error {
		return s.repo.WithTx(ctx, fn)
	})
	if db.SerializationFailure(err) {
		return ErrConcurrentUpdate
	}
	return err
}

// ApplyConsumption deducts weight*quantity from the lot of every grouped
// product, flooring at zero. Products outside any lot or without a positive
// weight are skipped. It joins
// the transaction bound to ctx when there is one; each lot row is locked
// before it is read.
func (s *Service) ApplyConsumption(ctx context.Context, lines []ConsumptionLine) ([]StockUpdate, error) {
	updates := []StockUpdate{}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, line := range lines {
			if line.Quantity <= 0 {
				continue
			}
			lot, ok, err := tx.LockLotForProduct(ctx, line.ProductID)
			if err != nil {
				return fmt.Errorf("lock lot for product %s: %w", line.ProductID, err)
			}
			if !ok {
				continue
			}
			product, err := tx.GetProduct(ctx, line.ProductID)
			if err != nil {
				return err
			}
			weight := decimal.Zero
			if product.Weight.Valid {
				weight = product.Weight.Decimal
			}
			if !weight.IsPositive() {
				continue
			}
			used := weight.Mul(decimal.NewFromInt(int64(line.Quantity)))
			next := lot.CurrentQuantity.Sub(used)
			if next.IsNegative() {
				next = decimal.Zero
			}
			if err := tx.SetCurrentQuantity(ctx, lot.ID, next); err != nil {
				return fmt.Errorf("update lot %s: %w", lot.ID, err)
			}
			updates = append(updates, StockUpdate{
				GroupID:      lot.ID,
				ProductCode:  product.Code,
				ProductName:  product.Name,
				QuantityUsed: line.Quantity,
				WeightUsed:   used,
				OldStock:     lot.CurrentQuantity,
				NewStock:     next,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil && len(updates) > 0 {
		s.metrics.StockDeducted(len(updates))
	}
	return updates, nil
}

// ManualConsumption applies consumption outside an invoice confirmation and
// records it when any lot changed.
func (s *Service) ManualConsumption(ctx context.Context, lines []ConsumptionLine) ([]StockUpdate, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: invoice_items must not be empty", shared.ErrValidation)
	}
	var updates []StockUpdate
	err := s.retry(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		updates, err = s.ApplyConsumption(ctx, lines)
		if err != nil {
			return err
		}
		if len(updates) > 0 {
			s.record(ctx, ActionManualConsumption, "", map[string]any{"updates": updates})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updates, nil
}
