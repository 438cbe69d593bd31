package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/wash91/sitem-washo-distr-sub001/internal/domain"
	"github.com/wash91/sitem-washo-distr-sub001/internal/store"
)

func TestCloseCashSessionIsAtomic(t *testing.T) {
	databaseURL := os.Getenv("WASHO_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set WASHO_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	distributorID := fmt.Sprintf("dist-close-it-%d", stamp)
	sessionID := fmt.Sprintf("caja-close-it-%d", stamp)
	closingID := fmt.Sprintf("cierre-close-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cash_closings WHERE id = $1`, closingID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cash_sessions WHERE id = $1`, sessionID)
	})

	session := domain.CashSession{
		ID:              sessionID,
		DistributorID:   distributorID,
		DistributorName: "Reparto IT",
		TruckID:         "truck-it",
		OpeningCash:     domain.CashBreakdown{{DenominationCents: 1000, Count: 5}},
		OpenedAt:        time.Now().UTC(),
	}
	if _, err := s.CreateCashSession(ctx, session); err != nil {
		t.Fatalf("create session: %v", err)
	}

	closing := domain.CashClosing{
		ID:            closingID,
		OpeningID:     sessionID,
		DistributorID: distributorID,
		CountedCash:   domain.CashBreakdown{{DenominationCents: 1000, Count: 5}},
		ExpectedCents: 5000,
		VarianceCents: 0,
		CreatedAt:     time.Now().UTC(),
	}
	if _, err := s.CloseCashSession(ctx, closing); err != nil {
		t.Fatalf("close session: %v", err)
	}

	got, err := s.GetCashSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !got.IsClosed || got.ClosingID != closingID {
		t.Fatalf("expected session closed with closing %s, got %+v", closingID, got)
	}

	// A second close of the same session must be refused.
	if _, err := s.CloseCashSession(ctx, closing); !errors.Is(err, store.ErrNoMatchingOpenSession) {
		t.Fatalf("expected ErrNoMatchingOpenSession on double close, got %v", err)
	}

	// With the session closed the distributor can open a fresh one.
	reopened := domain.CashSession{
		ID:            sessionID + "-b",
		DistributorID: distributorID,
		OpeningCash:   domain.CashBreakdown{{DenominationCents: 500, Count: 2}},
		OpenedAt:      time.Now().UTC(),
	}
	if _, err := s.CreateCashSession(ctx, reopened); err != nil {
		t.Fatalf("reopen session: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cash_sessions WHERE id = $1`, reopened.ID)
	})
}
