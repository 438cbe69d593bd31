// Package ledger holds the bookkeeping primitives the sale processor is
// built on: truck inventory movements, the receivables book and the
// effect log used to undo multi-entity operations.
package ledger

import (
	"context"
	"fmt"

	"github.com/wash91/sitem-washo-distr-sub001/internal/store"
)

// Inventory records stock movements against a truck. Every movement goes
// through the repository so that a debit can never leave a negative
// quantity behind.
type Inventory struct {
	repo store.Repository
}

func NewInventory(repo store.Repository) *Inventory {
	return &Inventory{repo: repo}
}

// Debit removes qty units of a product from the truck. The error names
// the product and the quantity actually available when stock runs short.
func (inv *Inventory) Debit(ctx context.Context, truckID string, productID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: debit quantity for %s must be positive", store.ErrValidation, productID)
	}
	if err := inv.repo.AdjustTruckStock(ctx, truckID, productID, -qty); err != nil {
		return fmt.Errorf("debit %d x %s from %s: %w", qty, productID, truckID, err)
	}
	return nil
}

// Credit adds qty units of a product to the truck.
func (inv *Inventory) Credit(ctx context.Context, truckID string, productID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: credit quantity for %s must be positive", store.ErrValidation, productID)
	}
	if err := inv.repo.AdjustTruckStock(ctx, truckID, productID, qty); err != nil {
		return fmt.Errorf("credit %d x %s to %s: %w", qty, productID, truckID, err)
	}
	return nil
}

func (inv *Inventory) Quantity(ctx context.Context, truckID string, productID string) (int, error) {
	return inv.repo.GetTruckQuantity(ctx, truckID, productID)
}
