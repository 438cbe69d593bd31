package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wash91/sitem-washo-distr-sub001/internal/domain"
	"github.com/wash91/sitem-washo-distr-sub001/internal/store"
)

// Receivables is the customer debt book. A sale creates at most one
// receivable, payments only ever reduce its balance, and a receivable
// can be reversed only while it is still untouched.
type Receivables struct {
	repo store.Repository
}

func NewReceivables(repo store.Repository) *Receivables {
	return &Receivables{repo: repo}
}

// RecordCredit opens a receivable for the unpaid portion of a sale.
func (r *Receivables) RecordCredit(ctx context.Context, customerID string, saleID string, amountCents int64) (*domain.Receivable, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("%w: credit amount for sale %s must be positive", store.ErrValidation, saleID)
	}
	receivable, err := r.repo.CreateReceivable(ctx, domain.Receivable{
		CustomerID:    customerID,
		SaleID:        saleID,
		OriginalCents: amountCents,
	})
	if err != nil {
		return nil, fmt.Errorf("open receivable for sale %s: %w", saleID, err)
	}
	return receivable, nil
}

// RecordPayment applies a payment against a receivable. Paying more than
// the outstanding balance is rejected outright rather than clamped.
func (r *Receivables) RecordPayment(ctx context.Context, receivableID string, amountCents int64, at time.Time) (*domain.Receivable, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("%w: payment amount must be positive", store.ErrValidation)
	}
	receivable, err := r.repo.GetReceivable(ctx, receivableID)
	if err != nil {
		return nil, fmt.Errorf("receivable %s: %w", receivableID, err)
	}
	if amountCents > receivable.BalanceCents {
		return nil, fmt.Errorf("%w: receivable %s has balance %d, payment was %d",
			store.ErrOverpaymentRejected, receivableID, receivable.BalanceCents, amountCents)
	}

	receivable.BalanceCents -= amountCents
	receivable.Payments = append(receivable.Payments, domain.ReceivablePayment{
		AmountCents: amountCents,
		PaidAt:      at,
	})
	updated, err := r.repo.UpdateReceivable(ctx, *receivable)
	if err != nil {
		return nil, fmt.Errorf("update receivable %s: %w", receivableID, err)
	}
	return updated, nil
}

// ReverseCredit removes the receivable a sale opened. It refuses once any
// payment has been applied; collected money cannot be silently unwound.
func (r *Receivables) ReverseCredit(ctx context.Context, saleID string) error {
	receivable, err := r.repo.GetReceivableBySale(ctx, saleID)
	if err != nil {
		return fmt.Errorf("receivable for sale %s: %w", saleID, err)
	}
	if receivable.BalanceCents < receivable.OriginalCents {
		return fmt.Errorf("%w: receivable %s for sale %s has recorded payments",
			store.ErrReceivableAlreadySettled, receivable.ID, saleID)
	}
	if err := r.repo.DeleteReceivable(ctx, receivable.ID); err != nil {
		return fmt.Errorf("delete receivable %s: %w", receivable.ID, err)
	}
	return nil
}

// CanReverse reports whether the receivable opened by a sale, if any,
// is still untouched. A sale with no receivable is always reversible.
func (r *Receivables) CanReverse(ctx context.Context, saleID string) error {
	receivable, err := r.repo.GetReceivableBySale(ctx, saleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("receivable for sale %s: %w", saleID, err)
	}
	if receivable.BalanceCents < receivable.OriginalCents {
		return fmt.Errorf("%w: receivable %s for sale %s has recorded payments",
			store.ErrReceivableAlreadySettled, receivable.ID, saleID)
	}
	return nil
}

// Outstanding sums the open balances a customer owes.
func (r *Receivables) Outstanding(ctx context.Context, customerID string) (int64, error) {
	receivables, err := r.repo.ListReceivablesByCustomer(ctx, customerID)
	if err != nil {
		return 0, fmt.Errorf("receivables for customer %s: %w", customerID, err)
	}
	var total int64
	for _, receivable := range receivables {
		total += receivable.BalanceCents
	}
	return total, nil
}
