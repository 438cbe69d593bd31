// Package cashbox manages distributor cash sessions: opening, the
// expected-cash computation and the one-way closing reconciliation.
package cashbox

import (
	"context"
	"fmt"

	"github.com/wash91/sitem-washo-distr-sub001/internal/domain"
	"github.com/wash91/sitem-washo-distr-sub001/internal/store"
)

type Manager struct {
	repo store.Repository
}

func NewManager(repo store.Repository) *Manager {
	return &Manager{repo: repo}
}

// Open starts a cash session for the distributor. The repository
// enforces the one-open-session rule and reports ErrSessionAlreadyOpen
// naming the session still open.
func (m *Manager) Open(ctx context.Context, distributorID string, distributorName string, truckID string, opening domain.CashBreakdown) (*domain.CashSession, error) {
	for _, line := range opening {
		if line.DenominationCents <= 0 || line.Count < 0 {
			return nil, fmt.Errorf("%w: malformed opening cash breakdown", store.ErrValidation)
		}
	}
	session, err := m.repo.CreateCashSession(ctx, domain.CashSession{
		DistributorID:   distributorID,
		DistributorName: distributorName,
		TruckID:         truckID,
		OpeningCash:     opening,
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Active returns the distributor's open session, or ErrNoOpenCashSession.
func (m *Manager) Active(ctx context.Context, distributorID string) (*domain.CashSession, error) {
	session, err := m.repo.GetActiveCashSession(ctx, distributorID)
	if err != nil {
		return nil, fmt.Errorf("%w: distributor %s", store.ErrNoOpenCashSession, distributorID)
	}
	return session, nil
}

// ComputeExpected derives the cash a session should hold: the opening
// float plus every cash amount collected on its sales, minus every
// expense paid from the box. Credit portions never enter the drawer and
// are excluded.
func (m *Manager) ComputeExpected(ctx context.Context, session *domain.CashSession) (int64, error) {
	sales, err := m.repo.ListSalesBySession(ctx, session.ID)
	if err != nil {
		return 0, fmt.Errorf("sales for session %s: %w", session.ID, err)
	}
	expenses, err := m.repo.ListExpensesBySession(ctx, session.ID)
	if err != nil {
		return 0, fmt.Errorf("expenses for session %s: %w", session.ID, err)
	}

	expected := session.OpeningCash.TotalCents()
	for _, sale := range sales {
		expected += sale.PaidCents
	}
	for _, expense := range expenses {
		expected -= expense.AmountCents
	}
	return expected, nil
}

// Close reconciles and closes the session identified by openingID. The
// session must belong to distributorID and still be open; closing is
// one-way and a closed session never reopens.
func (m *Manager) Close(ctx context.Context, openingID string, distributorID string, counted domain.CashBreakdown) (*domain.CashClosing, error) {
	session, err := m.repo.GetCashSession(ctx, openingID)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s", store.ErrNoMatchingOpenSession, openingID)
	}
	if session.IsClosed || session.DistributorID != distributorID {
		return nil, fmt.Errorf("%w: opening %s for %s", store.ErrNoMatchingOpenSession, openingID, distributorID)
	}

	expected, err := m.ComputeExpected(ctx, session)
	if err != nil {
		return nil, err
	}
	countedTotal := counted.TotalCents()

	closing, err := m.repo.CloseCashSession(ctx, domain.CashClosing{
		OpeningID:     session.ID,
		DistributorID: session.DistributorID,
		CountedCash:   counted,
		ExpectedCents: expected,
		VarianceCents: countedTotal - expected,
	})
	if err != nil {
		return nil, err
	}
	return closing, nil
}

// EditClosing corrects the counted cash of an existing closing, for a
// miscounted drawer reported after the fact. The expected amount is
// recomputed from the session's records; the session stays closed.
func (m *Manager) EditClosing(ctx context.Context, closingID string, counted domain.CashBreakdown) (*domain.CashClosing, error) {
	closing, err := m.repo.GetCashClosing(ctx, closingID)
	if err != nil {
		return nil, fmt.Errorf("closing %s: %w", closingID, err)
	}
	session, err := m.repo.GetCashSession(ctx, closing.OpeningID)
	if err != nil {
		return nil, fmt.Errorf("session %s for closing %s: %w", closing.OpeningID, closingID, err)
	}

	expected, err := m.ComputeExpected(ctx, session)
	if err != nil {
		return nil, err
	}
	closing.CountedCash = counted
	closing.ExpectedCents = expected
	closing.VarianceCents = counted.TotalCents() - expected

	updated, err := m.repo.UpdateCashClosing(ctx, *closing)
	if err != nil {
		return nil, fmt.Errorf("update closing %s: %w", closingID, err)
	}
	return updated, nil
}

// Statement assembles the full picture of a session: its sales and
// expenses, the cash/credit split and the expected drawer amount, plus
// the closing when the session has one.
func (m *Manager) Statement(ctx context.Context, sessionID string) (*domain.SessionStatement, error) {
	session, err := m.repo.GetCashSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	sales, err := m.repo.ListSalesBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sales for session %s: %w", sessionID, err)
	}
	expenses, err := m.repo.ListExpensesBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("expenses for session %s: %w", sessionID, err)
	}

	statement := &domain.SessionStatement{
		Session:  *session,
		Sales:    sales,
		Expenses: expenses,
	}
	for _, sale := range sales {
		statement.CashSalesCents += sale.PaidCents
		statement.CreditSalesCents += sale.CreditCents
	}
	for _, expense := range expenses {
		statement.ExpenseCents += expense.AmountCents
	}
	statement.ExpectedCents = session.OpeningCash.TotalCents() + statement.CashSalesCents - statement.ExpenseCents

	if session.ClosingID != "" {
		closing, err := m.repo.GetCashClosing(ctx, session.ClosingID)
		if err != nil {
			return nil, fmt.Errorf("closing %s: %w", session.ClosingID, err)
		}
		statement.Closing = closing
	}
	return statement, nil
}
