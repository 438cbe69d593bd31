package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/wash91/sitem-washo-distr-sub001/internal/domain"
)

// EffectKind identifies one reversible side effect of a business
// operation.
type EffectKind string

const (
	EffectTruckDebit       EffectKind = "truck_debit"
	EffectTruckCredit      EffectKind = "truck_credit"
	EffectReceivableCredit EffectKind = "receivable_credit"
)

// Effect is one recorded side effect. Only the fields relevant to its
// kind are set: truck movements carry truck/product/qty, receivable
// credits carry customer/sale/amount.
type Effect struct {
	Kind        EffectKind
	TruckID     string
	ProductID   string
	Qty         int
	CustomerID  string
	SaleID      string
	AmountCents int64
}

func (e Effect) inverse() Effect {
	switch e.Kind {
	case EffectTruckDebit:
		e.Kind = EffectTruckCredit
	case EffectTruckCredit:
		e.Kind = EffectTruckDebit
	}
	return e
}

// Log applies effects one by one and remembers them so the whole
// operation can be rolled back. A fresh Log is used per business
// operation and never shared between goroutines.
type Log struct {
	inventory   *Inventory
	receivables *Receivables
	applied     []Effect
}

func NewLog(inventory *Inventory, receivables *Receivables) *Log {
	return &Log{inventory: inventory, receivables: receivables}
}

// Apply executes the effect and records it. On failure nothing is
// recorded and the caller is expected to Unwind what was applied so far.
func (l *Log) Apply(ctx context.Context, e Effect) error {
	if err := l.execute(ctx, e); err != nil {
		return err
	}
	l.applied = append(l.applied, e)
	return nil
}

// Applied returns the effects executed so far, oldest first.
func (l *Log) Applied() []Effect {
	out := make([]Effect, len(l.applied))
	copy(out, l.applied)
	return out
}

// Unwind applies the inverse of every recorded effect in reverse order.
// It keeps going past individual failures and reports them joined, so a
// partial rollback leaves as little damage as possible.
func (l *Log) Unwind(ctx context.Context) error {
	var errs []error
	for i := len(l.applied) - 1; i >= 0; i-- {
		if err := l.executeInverse(ctx, l.applied[i]); err != nil {
			errs = append(errs, err)
		}
	}
	l.applied = nil
	return errors.Join(errs...)
}

func (l *Log) execute(ctx context.Context, e Effect) error {
	switch e.Kind {
	case EffectTruckDebit:
		return l.inventory.Debit(ctx, e.TruckID, e.ProductID, e.Qty)
	case EffectTruckCredit:
		return l.inventory.Credit(ctx, e.TruckID, e.ProductID, e.Qty)
	case EffectReceivableCredit:
		_, err := l.receivables.RecordCredit(ctx, e.CustomerID, e.SaleID, e.AmountCents)
		return err
	default:
		return fmt.Errorf("unknown effect kind %q", e.Kind)
	}
}

// executeInverse undoes a single effect. Receivable credits are the one
// case that is not a plain re-execution: undoing one deletes the
// receivable, which ReverseCredit refuses once payments exist.
func (l *Log) executeInverse(ctx context.Context, e Effect) error {
	if e.Kind == EffectReceivableCredit {
		return l.receivables.ReverseCredit(ctx, e.SaleID)
	}
	return l.execute(ctx, e.inverse())
}

// Revert validates that every recorded effect can be inverted and only
// then applies the inverses, newest first. If any single inverse would
// fail the whole reversal is refused and nothing is touched.
func (l *Log) Revert(ctx context.Context) error {
	for i := len(l.applied) - 1; i >= 0; i-- {
		if err := l.checkInvertible(ctx, l.applied[i]); err != nil {
			return err
		}
	}
	for i := len(l.applied) - 1; i >= 0; i-- {
		if err := l.executeInverse(ctx, l.applied[i]); err != nil {
			return fmt.Errorf("revert effect %d (%s): %w", i, l.applied[i].Kind, err)
		}
	}
	l.applied = nil
	return nil
}

func (l *Log) checkInvertible(ctx context.Context, e Effect) error {
	switch e.Kind {
	case EffectTruckCredit:
		// Inverting a credit debits the truck, which needs the units
		// to still be there.
		qty, err := l.inventory.Quantity(ctx, e.TruckID, e.ProductID)
		if err != nil {
			return err
		}
		if qty < e.Qty {
			return fmt.Errorf("cannot remove %d x %s from %s, only %d left: %w",
				e.Qty, e.ProductID, e.TruckID, qty, errIrreversible(e))
		}
		return nil
	case EffectReceivableCredit:
		return l.receivables.CanReverse(ctx, e.SaleID)
	case EffectTruckDebit:
		return nil
	default:
		return fmt.Errorf("unknown effect kind %q", e.Kind)
	}
}

func errIrreversible(e Effect) error {
	return fmt.Errorf("effect %s on %s is not reversible", e.Kind, e.ProductID)
}

// Replay rebuilds a log from persisted effects without re-executing
// them, so that a stored operation can be reverted later.
func Replay(inventory *Inventory, receivables *Receivables, effects []Effect) *Log {
	l := NewLog(inventory, receivables)
	l.applied = make([]Effect, len(effects))
	copy(l.applied, effects)
	return l
}

// EffectsOfSale reconstructs, from a persisted sale, the effect list its
// creation applied: a debit per line, a credit per returned container
// and a receivable credit when part of the total went on account.
func EffectsOfSale(sale *domain.Sale) []Effect {
	effects := make([]Effect, 0, len(sale.Items)*2+1)
	for _, item := range sale.Items {
		effects = append(effects, Effect{
			Kind:      EffectTruckDebit,
			TruckID:   sale.TruckID,
			ProductID: item.ProductID,
			Qty:       item.Qty,
		})
		if item.ReturnedContainerID != "" {
			effects = append(effects, Effect{
				Kind:      EffectTruckCredit,
				TruckID:   sale.TruckID,
				ProductID: item.ReturnedContainerID,
				Qty:       item.Qty,
			})
		}
	}
	if sale.CreditCents > 0 {
		effects = append(effects, Effect{
			Kind:        EffectReceivableCredit,
			CustomerID:  sale.CustomerID,
			SaleID:      sale.ID,
			AmountCents: sale.CreditCents,
		})
	}
	return effects
}

// EffectsOfRefill reconstructs the stock credits a refill applied.
func EffectsOfRefill(refill *domain.Refill) []Effect {
	effects := make([]Effect, 0, len(refill.Items))
	for _, item := range refill.Items {
		effects = append(effects, Effect{
			Kind:      EffectTruckCredit,
			TruckID:   refill.TruckID,
			ProductID: item.ProductID,
			Qty:       item.Qty,
		})
	}
	return effects
}
