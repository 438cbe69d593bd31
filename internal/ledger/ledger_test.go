package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wash91/sitem-washo-distr-sub001/internal/store"
	"github.com/wash91/sitem-washo-distr-sub001/internal/store/memory"
)

func newTestLedger(t *testing.T) (*memory.Store, *Inventory, *Receivables) {
	t.Helper()
	repo := memory.NewSeeded()
	return repo, NewInventory(repo), NewReceivables(repo)
}

func TestInventoryUnknownProductIsNotFound(t *testing.T) {
	ctx := context.Background()
	_, inv, _ := newTestLedger(t)

	err := inv.Credit(ctx, "truck-01", "producto_fantasma", 1)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown product, got %v", err)
	}
	if err := inv.Debit(ctx, "truck-01", "producto_fantasma", 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown product debit, got %v", err)
	}
}

func TestInventoryDebitAndCredit(t *testing.T) {
	ctx := context.Background()
	_, inv, _ := newTestLedger(t)

	if err := inv.Debit(ctx, "truck-01", "recarga_con_llave", 3); err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	qty, err := inv.Quantity(ctx, "truck-01", "recarga_con_llave")
	if err != nil {
		t.Fatalf("quantity failed: %v", err)
	}
	if qty != 7 {
		t.Fatalf("expected 7 after debit, got %d", qty)
	}

	if err := inv.Credit(ctx, "truck-01", "equipo_con_llave_vacio", 3); err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	qty, err = inv.Quantity(ctx, "truck-01", "equipo_con_llave_vacio")
	if err != nil {
		t.Fatalf("quantity failed: %v", err)
	}
	if qty != 3 {
		t.Fatalf("expected 3 empties after credit, got %d", qty)
	}
}

func TestInventoryDebitRejectsInsufficientStock(t *testing.T) {
	ctx := context.Background()
	_, inv, _ := newTestLedger(t)

	err := inv.Debit(ctx, "truck-01", "equipo_con_llave", 5)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	qty, err := inv.Quantity(ctx, "truck-01", "equipo_con_llave")
	if err != nil {
		t.Fatalf("quantity failed: %v", err)
	}
	if qty != 3 {
		t.Fatalf("failed debit must not change stock, got %d", qty)
	}
}

func TestReceivablePaymentReducesBalance(t *testing.T) {
	ctx := context.Background()
	_, _, recv := newTestLedger(t)

	receivable, err := recv.RecordCredit(ctx, "cust-maria", "venta-1", 250)
	if err != nil {
		t.Fatalf("record credit failed: %v", err)
	}
	if receivable.BalanceCents != 250 {
		t.Fatalf("expected opening balance 250, got %d", receivable.BalanceCents)
	}

	updated, err := recv.RecordPayment(ctx, receivable.ID, 100, time.Now().UTC())
	if err != nil {
		t.Fatalf("payment failed: %v", err)
	}
	if updated.BalanceCents != 150 {
		t.Fatalf("expected balance 150 after payment, got %d", updated.BalanceCents)
	}
	if len(updated.Payments) != 1 || updated.Payments[0].AmountCents != 100 {
		t.Fatalf("expected one recorded payment of 100, got %+v", updated.Payments)
	}
}

func TestReceivableOverpaymentRejected(t *testing.T) {
	ctx := context.Background()
	_, _, recv := newTestLedger(t)

	receivable, err := recv.RecordCredit(ctx, "cust-maria", "venta-1", 250)
	if err != nil {
		t.Fatalf("record credit failed: %v", err)
	}

	_, err = recv.RecordPayment(ctx, receivable.ID, 300, time.Now().UTC())
	if !errors.Is(err, store.ErrOverpaymentRejected) {
		t.Fatalf("expected overpayment rejection, got %v", err)
	}

	after, err := recv.RecordPayment(ctx, receivable.ID, 250, time.Now().UTC())
	if err != nil {
		t.Fatalf("exact payment should settle: %v", err)
	}
	if after.BalanceCents != 0 {
		t.Fatalf("expected zero balance, got %d", after.BalanceCents)
	}
}

func TestReverseCreditRefusedAfterPayment(t *testing.T) {
	ctx := context.Background()
	_, _, recv := newTestLedger(t)

	receivable, err := recv.RecordCredit(ctx, "cust-maria", "venta-1", 250)
	if err != nil {
		t.Fatalf("record credit failed: %v", err)
	}
	if _, err := recv.RecordPayment(ctx, receivable.ID, 50, time.Now().UTC()); err != nil {
		t.Fatalf("payment failed: %v", err)
	}

	err = recv.ReverseCredit(ctx, "venta-1")
	if !errors.Is(err, store.ErrReceivableAlreadySettled) {
		t.Fatalf("expected reversal refusal, got %v", err)
	}

	outstanding, err := recv.Outstanding(ctx, "cust-maria")
	if err != nil {
		t.Fatalf("outstanding failed: %v", err)
	}
	if outstanding != 200 {
		t.Fatalf("expected outstanding 200 after refused reversal, got %d", outstanding)
	}
}

func TestReverseCreditDeletesUntouchedReceivable(t *testing.T) {
	ctx := context.Background()
	_, _, recv := newTestLedger(t)

	if _, err := recv.RecordCredit(ctx, "cust-maria", "venta-1", 250); err != nil {
		t.Fatalf("record credit failed: %v", err)
	}
	if err := recv.ReverseCredit(ctx, "venta-1"); err != nil {
		t.Fatalf("reversal of untouched receivable failed: %v", err)
	}

	outstanding, err := recv.Outstanding(ctx, "cust-maria")
	if err != nil {
		t.Fatalf("outstanding failed: %v", err)
	}
	if outstanding != 0 {
		t.Fatalf("expected no outstanding debt, got %d", outstanding)
	}
}

func TestLogUnwindRestoresStock(t *testing.T) {
	ctx := context.Background()
	_, inv, recv := newTestLedger(t)

	l := NewLog(inv, recv)
	if err := l.Apply(ctx, Effect{Kind: EffectTruckDebit, TruckID: "truck-01", ProductID: "recarga_con_llave", Qty: 3}); err != nil {
		t.Fatalf("apply debit failed: %v", err)
	}
	if err := l.Apply(ctx, Effect{Kind: EffectTruckCredit, TruckID: "truck-01", ProductID: "equipo_con_llave_vacio", Qty: 3}); err != nil {
		t.Fatalf("apply credit failed: %v", err)
	}

	// Next line requires more stock than the truck carries.
	err := l.Apply(ctx, Effect{Kind: EffectTruckDebit, TruckID: "truck-01", ProductID: "equipo_con_llave", Qty: 5})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if err := l.Unwind(ctx); err != nil {
		t.Fatalf("unwind failed: %v", err)
	}

	for product, want := range map[string]int{
		"recarga_con_llave":      10,
		"equipo_con_llave_vacio": 0,
		"equipo_con_llave":       3,
	} {
		qty, err := inv.Quantity(ctx, "truck-01", product)
		if err != nil {
			t.Fatalf("quantity failed: %v", err)
		}
		if qty != want {
			t.Fatalf("after unwind %s should be %d, got %d", product, want, qty)
		}
	}
}

func TestLogRevertRefusedWhenCreditedStockIsGone(t *testing.T) {
	ctx := context.Background()
	_, inv, recv := newTestLedger(t)

	l := NewLog(inv, recv)
	if err := l.Apply(ctx, Effect{Kind: EffectTruckCredit, TruckID: "truck-01", ProductID: "equipo_con_llave_vacio", Qty: 3}); err != nil {
		t.Fatalf("apply credit failed: %v", err)
	}

	// The credited empties leave the truck before anyone tries to revert.
	if err := inv.Debit(ctx, "truck-01", "equipo_con_llave_vacio", 2); err != nil {
		t.Fatalf("debit failed: %v", err)
	}

	if err := l.Revert(ctx); err == nil {
		t.Fatal("expected revert to be refused")
	}
	qty, err := inv.Quantity(ctx, "truck-01", "equipo_con_llave_vacio")
	if err != nil {
		t.Fatalf("quantity failed: %v", err)
	}
	if qty != 1 {
		t.Fatalf("refused revert must not move stock, got %d", qty)
	}
}

func TestLogRevertRefusedWhenReceivableIsPaid(t *testing.T) {
	ctx := context.Background()
	_, inv, recv := newTestLedger(t)

	l := NewLog(inv, recv)
	if err := l.Apply(ctx, Effect{Kind: EffectTruckDebit, TruckID: "truck-01", ProductID: "recarga_con_llave", Qty: 2}); err != nil {
		t.Fatalf("apply debit failed: %v", err)
	}
	if err := l.Apply(ctx, Effect{Kind: EffectReceivableCredit, CustomerID: "cust-maria", SaleID: "venta-1", AmountCents: 500}); err != nil {
		t.Fatalf("apply receivable failed: %v", err)
	}

	receivable, err := recv.repo.GetReceivableBySale(ctx, "venta-1")
	if err != nil {
		t.Fatalf("lookup receivable failed: %v", err)
	}
	if _, err := recv.RecordPayment(ctx, receivable.ID, 100, time.Now().UTC()); err != nil {
		t.Fatalf("payment failed: %v", err)
	}

	err = l.Revert(ctx)
	if !errors.Is(err, store.ErrReceivableAlreadySettled) {
		t.Fatalf("expected reversal refusal, got %v", err)
	}

	// Nothing moved back: the debit still stands and the debt is intact.
	qty, err := inv.Quantity(ctx, "truck-01", "recarga_con_llave")
	if err != nil {
		t.Fatalf("quantity failed: %v", err)
	}
	if qty != 8 {
		t.Fatalf("refused revert must not restock, got %d", qty)
	}
	outstanding, err := recv.Outstanding(ctx, "cust-maria")
	if err != nil {
		t.Fatalf("outstanding failed: %v", err)
	}
	if outstanding != 400 {
		t.Fatalf("expected outstanding 400, got %d", outstanding)
	}
}

func TestReplayRevertsPersistedSaleEffects(t *testing.T) {
	ctx := context.Background()
	_, inv, recv := newTestLedger(t)

	l := NewLog(inv, recv)
	effects := []Effect{
		{Kind: EffectTruckDebit, TruckID: "truck-01", ProductID: "recarga_con_llave", Qty: 3},
		{Kind: EffectTruckCredit, TruckID: "truck-01", ProductID: "equipo_con_llave_vacio", Qty: 3},
		{Kind: EffectReceivableCredit, CustomerID: "cust-maria", SaleID: "venta-1", AmountCents: 250},
	}
	for _, e := range effects {
		if err := l.Apply(ctx, e); err != nil {
			t.Fatalf("apply failed: %v", err)
		}
	}

	// A later actor rebuilds the log from the stored record.
	replayed := Replay(inv, recv, effects)
	if err := replayed.Revert(ctx); err != nil {
		t.Fatalf("revert failed: %v", err)
	}

	qty, err := inv.Quantity(ctx, "truck-01", "recarga_con_llave")
	if err != nil {
		t.Fatalf("quantity failed: %v", err)
	}
	if qty != 10 {
		t.Fatalf("expected full restock, got %d", qty)
	}
	qty, err = inv.Quantity(ctx, "truck-01", "equipo_con_llave_vacio")
	if err != nil {
		t.Fatalf("quantity failed: %v", err)
	}
	if qty != 0 {
		t.Fatalf("expected returned empties removed, got %d", qty)
	}
	outstanding, err := recv.Outstanding(ctx, "cust-maria")
	if err != nil {
		t.Fatalf("outstanding failed: %v", err)
	}
	if outstanding != 0 {
		t.Fatalf("expected debt cleared, got %d", outstanding)
	}
}
