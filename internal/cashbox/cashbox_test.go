package cashbox

import (
	"context"
	"errors"
	"testing"

	"github.com/wash91/sitem-washo-distr-sub001/internal/domain"
	"github.com/wash91/sitem-washo-distr-sub001/internal/store"
	"github.com/wash91/sitem-washo-distr-sub001/internal/store/memory"
)

func newTestManager(t *testing.T) (*memory.Store, *Manager) {
	t.Helper()
	repo := memory.NewSeeded()
	return repo, NewManager(repo)
}

func openingFloat(cents int64) domain.CashBreakdown {
	return domain.CashBreakdown{{DenominationCents: cents, Count: 1}}
}

func TestOpenRejectsSecondSession(t *testing.T) {
	ctx := context.Background()
	_, mgr := newTestManager(t)

	first, err := mgr.Open(ctx, "reparto1", "Reparto Uno", "truck-01", openingFloat(5000))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	_, err = mgr.Open(ctx, "reparto1", "Reparto Uno", "truck-01", openingFloat(1000))
	if !errors.Is(err, store.ErrSessionAlreadyOpen) {
		t.Fatalf("expected session-already-open, got %v", err)
	}

	active, err := mgr.Active(ctx, "reparto1")
	if err != nil {
		t.Fatalf("active lookup failed: %v", err)
	}
	if active.ID != first.ID {
		t.Fatalf("active session changed: %s vs %s", active.ID, first.ID)
	}
}

func TestActiveReportsNoOpenSession(t *testing.T) {
	ctx := context.Background()
	_, mgr := newTestManager(t)

	_, err := mgr.Active(ctx, "reparto1")
	if !errors.Is(err, store.ErrNoOpenCashSession) {
		t.Fatalf("expected no-open-session, got %v", err)
	}
}

func TestCloseComputesExpectedAndVariance(t *testing.T) {
	ctx := context.Background()
	repo, mgr := newTestManager(t)

	// Opening float $50, one $20 cash sale, one $5 expense.
	session, err := mgr.Open(ctx, "reparto1", "Reparto Uno", "truck-01", openingFloat(5000))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := repo.CreateSale(ctx, domain.Sale{
		CustomerID:    "cust-maria",
		DistributorID: "reparto1",
		CashSessionID: session.ID,
		TruckID:       "truck-01",
		Items:         []domain.SaleItem{{ProductID: "paca_botella_600", Qty: 1, UnitPriceCents: 2000}},
		TotalCents:    2000,
		PaidCents:     2000,
		PaymentKind:   domain.PaymentCash,
	}); err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if _, err := repo.CreateExpense(ctx, domain.Expense{
		DistributorID: "reparto1",
		CashSessionID: session.ID,
		Category:      "combustible",
		AmountCents:   500,
	}); err != nil {
		t.Fatalf("create expense failed: %v", err)
	}

	closing, err := mgr.Close(ctx, session.ID, "reparto1", openingFloat(6500))
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if closing.ExpectedCents != 6500 {
		t.Fatalf("expected 6500 cents, got %d", closing.ExpectedCents)
	}
	if closing.VarianceCents != 0 {
		t.Fatalf("expected zero variance, got %d", closing.VarianceCents)
	}

	closed, err := repo.GetCashSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("session lookup failed: %v", err)
	}
	if !closed.IsClosed || closed.ClosingID != closing.ID {
		t.Fatalf("session not marked closed: %+v", closed)
	}
}

func TestCreditPortionStaysOutOfExpectedCash(t *testing.T) {
	ctx := context.Background()
	repo, mgr := newTestManager(t)

	session, err := mgr.Open(ctx, "reparto1", "Reparto Uno", "truck-01", openingFloat(1000))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	// $7.50 sale, $5.00 in cash, $2.50 on account.
	if _, err := repo.CreateSale(ctx, domain.Sale{
		CustomerID:    "cust-maria",
		DistributorID: "reparto1",
		CashSessionID: session.ID,
		TruckID:       "truck-01",
		Items:         []domain.SaleItem{{ProductID: "recarga_con_llave", Qty: 3, UnitPriceCents: 250}},
		TotalCents:    750,
		PaidCents:     500,
		CreditCents:   250,
		PaymentKind:   domain.PaymentMixed,
	}); err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	expected, err := mgr.ComputeExpected(ctx, session)
	if err != nil {
		t.Fatalf("compute expected failed: %v", err)
	}
	if expected != 1500 {
		t.Fatalf("expected 1500 cents in drawer, got %d", expected)
	}
}

func TestCloseRejectsWrongOwnerAndClosedSession(t *testing.T) {
	ctx := context.Background()
	_, mgr := newTestManager(t)

	session, err := mgr.Open(ctx, "reparto1", "Reparto Uno", "truck-01", openingFloat(1000))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	_, err = mgr.Close(ctx, session.ID, "otro", openingFloat(1000))
	if !errors.Is(err, store.ErrNoMatchingOpenSession) {
		t.Fatalf("expected no-matching-open-session for wrong owner, got %v", err)
	}

	if _, err := mgr.Close(ctx, session.ID, "reparto1", openingFloat(1000)); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	_, err = mgr.Close(ctx, session.ID, "reparto1", openingFloat(1000))
	if !errors.Is(err, store.ErrNoMatchingOpenSession) {
		t.Fatalf("expected no-matching-open-session for closed session, got %v", err)
	}
}

func TestReopenAfterClose(t *testing.T) {
	ctx := context.Background()
	_, mgr := newTestManager(t)

	session, err := mgr.Open(ctx, "reparto1", "Reparto Uno", "truck-01", openingFloat(1000))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := mgr.Close(ctx, session.ID, "reparto1", openingFloat(1000)); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	next, err := mgr.Open(ctx, "reparto1", "Reparto Uno", "truck-01", openingFloat(2000))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if next.ID == session.ID {
		t.Fatal("new session reused the closed session id")
	}
}

func TestEditClosingRecomputesVariance(t *testing.T) {
	ctx := context.Background()
	_, mgr := newTestManager(t)

	session, err := mgr.Open(ctx, "reparto1", "Reparto Uno", "truck-01", openingFloat(5000))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	closing, err := mgr.Close(ctx, session.ID, "reparto1", openingFloat(4800))
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if closing.VarianceCents != -200 {
		t.Fatalf("expected variance -200, got %d", closing.VarianceCents)
	}

	edited, err := mgr.EditClosing(ctx, closing.ID, openingFloat(5000))
	if err != nil {
		t.Fatalf("edit closing failed: %v", err)
	}
	if edited.VarianceCents != 0 {
		t.Fatalf("expected variance 0 after correction, got %d", edited.VarianceCents)
	}

	statement, err := mgr.Statement(ctx, session.ID)
	if err != nil {
		t.Fatalf("statement failed: %v", err)
	}
	if statement.Closing == nil || statement.Closing.VarianceCents != 0 {
		t.Fatalf("statement does not reflect edited closing: %+v", statement.Closing)
	}
	if !statement.Session.IsClosed {
		t.Fatal("editing a closing must not reopen the session")
	}
}
