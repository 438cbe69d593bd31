package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wash91/sitem-washo-distr-sub001/internal/domain"
	"github.com/wash91/sitem-washo-distr-sub001/internal/store"
	"github.com/wash91/sitem-washo-distr-sub001/internal/store/memory"
)

func newTestService(t *testing.T) (*memory.Store, *Service) {
	t.Helper()
	repo := memory.NewSeeded()
	return repo, New(repo, nil, nil)
}

func distributorCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{ID: "reparto1", Name: "Reparto Uno", Role: domain.RoleDistributor})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{ID: "admin", Name: "Administrador", Role: domain.RoleAdmin})
}

func cash(cents int64) domain.CashBreakdown {
	return domain.CashBreakdown{{DenominationCents: cents, Count: 1}}
}

func openSession(t *testing.T, svc *Service, ctx context.Context, openingCents int64) *domain.CashSession {
	t.Helper()
	session, err := svc.OpenCashSession(ctx, domain.CashSessionOpenRequest{
		TruckID:     "truck-01",
		OpeningCash: cash(openingCents),
	})
	if err != nil {
		t.Fatalf("open cash session failed: %v", err)
	}
	return session
}

func truckQty(t *testing.T, repo *memory.Store, productID string) int {
	t.Helper()
	qty, err := repo.GetTruckQuantity(context.Background(), "truck-01", productID)
	if err != nil {
		t.Fatalf("truck quantity failed: %v", err)
	}
	return qty
}

func TestSaleWithReturnedContainersAndPartialCredit(t *testing.T) {
	repo, svc := newTestService(t)
	ctx := distributorCtx()
	session := openSession(t, svc, ctx, 1000)

	// Three refills at the consumer price of $2.50, three empties back,
	// $5.00 in cash and the remaining $2.50 on account.
	sale, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "cust-maria",
		Items: []domain.SaleItem{
			{ProductID: "recarga_con_llave", Qty: 3, ReturnedContainerID: "equipo_con_llave_vacio"},
		},
		PaidCents: 500,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	if sale.TotalCents != 750 {
		t.Fatalf("expected total 750, got %d", sale.TotalCents)
	}
	if sale.PaidCents != 500 || sale.CreditCents != 250 {
		t.Fatalf("expected 500 paid / 250 credit, got %d / %d", sale.PaidCents, sale.CreditCents)
	}
	if sale.PaymentKind != domain.PaymentMixed {
		t.Fatalf("expected mixed payment, got %s", sale.PaymentKind)
	}
	if sale.CashSessionID != session.ID {
		t.Fatalf("sale not linked to open session: %s vs %s", sale.CashSessionID, session.ID)
	}

	if qty := truckQty(t, repo, "recarga_con_llave"); qty != 7 {
		t.Fatalf("expected 7 refills left, got %d", qty)
	}
	if qty := truckQty(t, repo, "equipo_con_llave_vacio"); qty != 3 {
		t.Fatalf("expected 3 returned empties, got %d", qty)
	}

	receivable, err := repo.GetReceivableBySale(context.Background(), sale.ID)
	if err != nil {
		t.Fatalf("receivable lookup failed: %v", err)
	}
	if receivable.BalanceCents != 250 || receivable.CustomerID != "cust-maria" {
		t.Fatalf("unexpected receivable: %+v", receivable)
	}
}

func TestSaleUsesBusinessPriceTier(t *testing.T) {
	_, svc := newTestService(t)
	ctx := distributorCtx()
	openSession(t, svc, ctx, 0)

	sale, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "cust-tienda",
		Items:      []domain.SaleItem{{ProductID: "recarga_con_llave", Qty: 2, ReturnedContainerID: "equipo_con_llave_vacio"}},
		PaidCents:  400,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if sale.TotalCents != 400 {
		t.Fatalf("expected business total 400, got %d", sale.TotalCents)
	}
	if sale.PaymentKind != domain.PaymentCash {
		t.Fatalf("expected cash payment, got %s", sale.PaymentKind)
	}
}

func TestSaleRejectedWhenStockShortLeavesNothingBehind(t *testing.T) {
	repo, svc := newTestService(t)
	ctx := distributorCtx()
	session := openSession(t, svc, ctx, 0)

	_, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "cust-maria",
		Items: []domain.SaleItem{
			{ProductID: "recarga_con_llave", Qty: 2, ReturnedContainerID: "equipo_con_llave_vacio"},
			{ProductID: "equipo_con_llave", Qty: 5},
		},
		PaidCents: 0,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	if qty := truckQty(t, repo, "recarga_con_llave"); qty != 10 {
		t.Fatalf("failed sale must not move stock, got %d", qty)
	}
	if qty := truckQty(t, repo, "equipo_con_llave_vacio"); qty != 0 {
		t.Fatalf("failed sale must not credit empties, got %d", qty)
	}
	sales, err := repo.ListSalesBySession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("failed sale must not be persisted, got %d", len(sales))
	}
}

func TestSaleRequiresOpenCashSession(t *testing.T) {
	_, svc := newTestService(t)

	_, err := svc.CreateSale(distributorCtx(), domain.SaleRequest{
		CustomerID: "cust-maria",
		TruckID:    "truck-01",
		Items:      []domain.SaleItem{{ProductID: "paca_botella_600", Qty: 1}},
		PaidCents:  350,
	})
	if !errors.Is(err, store.ErrNoOpenCashSession) {
		t.Fatalf("expected no-open-session, got %v", err)
	}
}

func TestSalePaidCannotExceedTotal(t *testing.T) {
	_, svc := newTestService(t)
	ctx := distributorCtx()
	openSession(t, svc, ctx, 0)

	_, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "cust-maria",
		Items:      []domain.SaleItem{{ProductID: "paca_botella_600", Qty: 1}},
		PaidCents:  400,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSaleRejectsWrongReturnedContainer(t *testing.T) {
	_, svc := newTestService(t)
	ctx := distributorCtx()
	openSession(t, svc, ctx, 0)

	_, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "cust-maria",
		Items:      []domain.SaleItem{{ProductID: "recarga_con_llave", Qty: 1, ReturnedContainerID: "equipo_sin_llave_vacio"}},
		PaidCents:  250,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for mismatched container, got %v", err)
	}
}

func TestDeleteSaleRestoresLedgers(t *testing.T) {
	repo, svc := newTestService(t)
	ctx := distributorCtx()
	session := openSession(t, svc, ctx, 0)

	sale, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "cust-maria",
		Items:      []domain.SaleItem{{ProductID: "recarga_con_llave", Qty: 3, ReturnedContainerID: "equipo_con_llave_vacio"}},
		PaidCents:  500,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	if err := svc.DeleteSale(ctx, sale.ID); err != nil {
		t.Fatalf("delete sale failed: %v", err)
	}

	if qty := truckQty(t, repo, "recarga_con_llave"); qty != 10 {
		t.Fatalf("expected full restock, got %d", qty)
	}
	if qty := truckQty(t, repo, "equipo_con_llave_vacio"); qty != 0 {
		t.Fatalf("expected returned empties taken back, got %d", qty)
	}
	if _, err := repo.GetReceivableBySale(context.Background(), sale.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected receivable removed, got %v", err)
	}
	sales, err := repo.ListSalesBySession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("expected sale removed, got %d", len(sales))
	}
}

func TestDeleteSaleRefusedOncePaymentCollected(t *testing.T) {
	repo, svc := newTestService(t)
	ctx := distributorCtx()
	openSession(t, svc, ctx, 0)

	sale, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "cust-maria",
		Items:      []domain.SaleItem{{ProductID: "recarga_con_llave", Qty: 3, ReturnedContainerID: "equipo_con_llave_vacio"}},
		PaidCents:  500,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	receivable, err := repo.GetReceivableBySale(context.Background(), sale.ID)
	if err != nil {
		t.Fatalf("receivable lookup failed: %v", err)
	}
	if _, err := svc.RecordReceivablePayment(ctx, receivable.ID, domain.ReceivablePaymentRequest{AmountCents: 100}); err != nil {
		t.Fatalf("payment failed: %v", err)
	}

	err = svc.DeleteSale(ctx, sale.ID)
	if !errors.Is(err, store.ErrReceivableAlreadySettled) {
		t.Fatalf("expected refusal, got %v", err)
	}

	// Nothing moved: the sale, its stock movements and the debt stand.
	if _, err := repo.GetSale(context.Background(), sale.ID); err != nil {
		t.Fatalf("sale must survive a refused delete: %v", err)
	}
	if qty := truckQty(t, repo, "recarga_con_llave"); qty != 7 {
		t.Fatalf("refused delete must not restock, got %d", qty)
	}
	after, err := repo.GetReceivable(context.Background(), receivable.ID)
	if err != nil {
		t.Fatalf("receivable lookup failed: %v", err)
	}
	if after.BalanceCents != 150 {
		t.Fatalf("expected balance 150, got %d", after.BalanceCents)
	}
}

func TestUpdateSaleMovesOnlyTheDifference(t *testing.T) {
	repo, svc := newTestService(t)
	ctx := distributorCtx()
	openSession(t, svc, ctx, 0)

	sale, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "cust-maria",
		Items:      []domain.SaleItem{{ProductID: "recarga_con_llave", Qty: 3, ReturnedContainerID: "equipo_con_llave_vacio"}},
		PaidCents:  750,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	updated, err := svc.UpdateSale(ctx, sale.ID, domain.SaleRequest{
		CustomerID: "cust-maria",
		Items:      []domain.SaleItem{{ProductID: "recarga_con_llave", Qty: 2, ReturnedContainerID: "equipo_con_llave_vacio"}},
		PaidCents:  500,
	})
	if err != nil {
		t.Fatalf("update sale failed: %v", err)
	}
	if updated.TotalCents != 500 || updated.CreditCents != 0 {
		t.Fatalf("unexpected totals after edit: %+v", updated)
	}
	if qty := truckQty(t, repo, "recarga_con_llave"); qty != 8 {
		t.Fatalf("expected 8 refills after edit, got %d", qty)
	}
	if qty := truckQty(t, repo, "equipo_con_llave_vacio"); qty != 2 {
		t.Fatalf("expected 2 empties after edit, got %d", qty)
	}
}

func TestCashClosingReconciliation(t *testing.T) {
	_, svc := newTestService(t)
	ctx := distributorCtx()

	// Opening $50, a $20 cash sale, a $5 expense: the drawer should
	// hold exactly $65.
	session := openSession(t, svc, ctx, 5000)
	if _, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "cust-maria",
		Items:      []domain.SaleItem{{ProductID: "paca_botella_600", Qty: 1, UnitPriceCents: 2000}},
		PaidCents:  2000,
	}); err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if _, err := svc.CreateExpense(ctx, domain.ExpenseRequest{
		Category:    "combustible",
		Description: "diesel",
		AmountCents: 500,
	}); err != nil {
		t.Fatalf("create expense failed: %v", err)
	}

	closing, err := svc.CloseCashSession(ctx, domain.CashClosingRequest{
		OpeningID:   session.ID,
		CountedCash: cash(6500),
	})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if closing.ExpectedCents != 6500 {
		t.Fatalf("expected 6500, got %d", closing.ExpectedCents)
	}
	if closing.VarianceCents != 0 {
		t.Fatalf("expected zero variance, got %d", closing.VarianceCents)
	}

	// Closed means closed: no more sales on this session.
	_, err = svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "cust-maria",
		Items:      []domain.SaleItem{{ProductID: "paca_botella_600", Qty: 1}},
		PaidCents:  350,
	})
	if !errors.Is(err, store.ErrNoOpenCashSession) {
		t.Fatalf("expected no-open-session after close, got %v", err)
	}
}

func TestRefillLoadsTruckAndBooksCost(t *testing.T) {
	repo, svc := newTestService(t)
	ctx := distributorCtx()
	openSession(t, svc, ctx, 10000)

	refill, err := svc.CreateRefill(ctx, domain.RefillRequest{
		Items:     []domain.RefillItem{{ProductID: "recarga_con_llave", Qty: 5}},
		CostCents: 400,
	})
	if err != nil {
		t.Fatalf("create refill failed: %v", err)
	}
	if qty := truckQty(t, repo, "recarga_con_llave"); qty != 15 {
		t.Fatalf("expected 15 after refill, got %d", qty)
	}
	if refill.ExpenseID == "" {
		t.Fatal("expected a linked expense for the refill cost")
	}
	expense, err := repo.GetExpense(context.Background(), refill.ExpenseID)
	if err != nil {
		t.Fatalf("expense lookup failed: %v", err)
	}
	if expense.AmountCents != 400 {
		t.Fatalf("expected expense of 400, got %d", expense.AmountCents)
	}

	if err := svc.DeleteRefill(ctx, refill.ID); err != nil {
		t.Fatalf("delete refill failed: %v", err)
	}
	if qty := truckQty(t, repo, "recarga_con_llave"); qty != 10 {
		t.Fatalf("expected 10 after refill deletion, got %d", qty)
	}
	if _, err := repo.GetExpense(context.Background(), refill.ExpenseID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected linked expense removed, got %v", err)
	}
}

func TestDeleteRefillRefusedOnceStockIsSold(t *testing.T) {
	repo, svc := newTestService(t)
	ctx := distributorCtx()
	openSession(t, svc, ctx, 0)

	refill, err := svc.CreateRefill(ctx, domain.RefillRequest{
		Items: []domain.RefillItem{{ProductID: "recarga_con_llave", Qty: 5}},
	})
	if err != nil {
		t.Fatalf("create refill failed: %v", err)
	}
	// 14 of the 15 on board go out the door.
	if _, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "cust-maria",
		Items:      []domain.SaleItem{{ProductID: "recarga_con_llave", Qty: 14, ReturnedContainerID: "equipo_con_llave_vacio"}},
		PaidCents:  3500,
	}); err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	if err := svc.DeleteRefill(ctx, refill.ID); err == nil {
		t.Fatal("expected refill deletion to be refused")
	}
	if qty := truckQty(t, repo, "recarga_con_llave"); qty != 1 {
		t.Fatalf("refused deletion must not move stock, got %d", qty)
	}
	if _, err := repo.GetRefill(context.Background(), refill.ID); err != nil {
		t.Fatalf("refill must survive a refused delete: %v", err)
	}
}

func TestSaleCompletesManagedOrder(t *testing.T) {
	repo, svc := newTestService(t)
	ctx := distributorCtx()
	openSession(t, svc, ctx, 0)

	order, err := svc.CreateManagedOrder(ctx, domain.ManagedOrderCreateRequest{
		CustomerID: "cust-tienda",
		Items:      []domain.OrderItem{{ProductID: "recarga_sin_llave", Qty: 4}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if _, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID:     "cust-tienda",
		Items:          []domain.SaleItem{{ProductID: "recarga_sin_llave", Qty: 4, ReturnedContainerID: "equipo_sin_llave_vacio"}},
		PaidCents:      720,
		ManagedOrderID: order.ID,
	}); err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	completed, err := repo.GetManagedOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("order lookup failed: %v", err)
	}
	if completed.Status != domain.OrderStatusCompleted || completed.CompletedAt == nil {
		t.Fatalf("expected completed order, got %+v", completed)
	}
}

func TestSaleRolledBackWhenOrderCompletionFails(t *testing.T) {
	repo, svc := newTestService(t)
	ctx := distributorCtx()
	session := openSession(t, svc, ctx, 0)

	_, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID:     "cust-maria",
		Items:          []domain.SaleItem{{ProductID: "recarga_con_llave", Qty: 2, ReturnedContainerID: "equipo_con_llave_vacio"}},
		PaidCents:      500,
		ManagedOrderID: "pedido-inexistente",
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not-found for missing order, got %v", err)
	}

	if qty := truckQty(t, repo, "recarga_con_llave"); qty != 10 {
		t.Fatalf("expected stock untouched, got %d", qty)
	}
	sales, err := repo.ListSalesBySession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("expected no persisted sale, got %d", len(sales))
	}
}

func TestDaySummaryAggregatesTheDay(t *testing.T) {
	_, svc := newTestService(t)
	ctx := distributorCtx()
	openSession(t, svc, ctx, 0)

	if _, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "cust-maria",
		Items:      []domain.SaleItem{{ProductID: "recarga_con_llave", Qty: 3, ReturnedContainerID: "equipo_con_llave_vacio"}},
		PaidCents:  500,
	}); err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if _, err := svc.CreateExpense(ctx, domain.ExpenseRequest{Category: "combustible", AmountCents: 300}); err != nil {
		t.Fatalf("create expense failed: %v", err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	summary, err := svc.DaySummary(ctx, "", today)
	if err != nil {
		t.Fatalf("day summary failed: %v", err)
	}
	if summary.Sales != 1 || summary.TotalCents != 750 {
		t.Fatalf("unexpected sales aggregate: %+v", summary)
	}
	if summary.CashCents != 500 || summary.CreditCents != 250 {
		t.Fatalf("unexpected cash/credit split: %+v", summary)
	}
	if summary.ExpenseCents != 300 {
		t.Fatalf("unexpected expenses: %+v", summary)
	}
	if summary.OutstandingCents != 250 {
		t.Fatalf("unexpected outstanding debt: %+v", summary)
	}
}

func TestDistributorCannotActForAnother(t *testing.T) {
	_, svc := newTestService(t)

	_, err := svc.OpenCashSession(distributorCtx(), domain.CashSessionOpenRequest{
		DistributorID: "otro",
		OpeningCash:   cash(1000),
	})
	if err == nil {
		t.Fatal("expected refusal to act for another distributor")
	}
}

func TestAdminClosesOnBehalfOfDistributor(t *testing.T) {
	_, svc := newTestService(t)
	ctx := distributorCtx()
	session := openSession(t, svc, ctx, 1000)

	closing, err := svc.CloseCashSession(adminCtx(), domain.CashClosingRequest{
		OpeningID:     session.ID,
		DistributorID: "reparto1",
		CountedCash:   cash(1000),
	})
	if err != nil {
		t.Fatalf("admin close failed: %v", err)
	}
	if closing.DistributorID != "reparto1" {
		t.Fatalf("closing attributed to wrong distributor: %s", closing.DistributorID)
	}
}

func TestProductManagementRequiresAdmin(t *testing.T) {
	_, svc := newTestService(t)

	_, err := svc.CreateProduct(distributorCtx(), domain.ProductCreateRequest{
		ID:   "botellon_nuevo",
		Name: "Botellón Nuevo",
	})
	if err == nil {
		t.Fatal("expected admin gate on product creation")
	}

	created, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		ID:                 "botellon_nuevo",
		Name:               "Botellón Nuevo",
		Category:           domain.CategoryAccessory,
		ConsumerPriceCents: 700,
		BusinessPriceCents: 600,
	})
	if err != nil {
		t.Fatalf("admin product creation failed: %v", err)
	}
	if !created.Active {
		t.Fatal("new products start active")
	}
}

func TestReceivableOverpaymentRejectedAtServiceLevel(t *testing.T) {
	repo, svc := newTestService(t)
	ctx := distributorCtx()
	openSession(t, svc, ctx, 0)

	sale, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID: "cust-maria",
		Items:      []domain.SaleItem{{ProductID: "recarga_con_llave", Qty: 1, ReturnedContainerID: "equipo_con_llave_vacio"}},
		PaidCents:  0,
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if sale.PaymentKind != domain.PaymentCredit {
		t.Fatalf("expected credit sale, got %s", sale.PaymentKind)
	}

	receivable, err := repo.GetReceivableBySale(context.Background(), sale.ID)
	if err != nil {
		t.Fatalf("receivable lookup failed: %v", err)
	}
	_, err = svc.RecordReceivablePayment(ctx, receivable.ID, domain.ReceivablePaymentRequest{AmountCents: 300})
	if !errors.Is(err, store.ErrOverpaymentRejected) {
		t.Fatalf("expected overpayment rejection, got %v", err)
	}
}
