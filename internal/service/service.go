package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/wash91/sitem-washo-distr-sub001/internal/cache"
	"github.com/wash91/sitem-washo-distr-sub001/internal/cashbox"
	"github.com/wash91/sitem-washo-distr-sub001/internal/domain"
	"github.com/wash91/sitem-washo-distr-sub001/internal/ledger"
	"github.com/wash91/sitem-washo-distr-sub001/internal/notify"
	"github.com/wash91/sitem-washo-distr-sub001/internal/store"
	"github.com/wash91/sitem-washo-distr-sub001/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// A closing whose drawer is off by more than this triggers a
// notification to the back office.
const varianceNotifyCents = 500

const summaryTTL = 5 * time.Minute

type Service struct {
	repo        store.Repository
	inventory   *ledger.Inventory
	receivables *ledger.Receivables
	cashbox     *cashbox.Manager
	summaries   cache.SummaryCache
	notifier    notify.Notifier
}

func New(repo store.Repository, summaries cache.SummaryCache, notifier notify.Notifier) *Service {
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}

	return &Service{
		repo:        repo,
		inventory:   ledger.NewInventory(repo),
		receivables: ledger.NewReceivables(repo),
		cashbox:     cashbox.NewManager(repo),
		summaries:   summaries,
		notifier:    notifier,
	}
}

// resolveDistributor decides which distributor an operation runs for.
// Distributors always act for themselves; admins may pass an explicit
// distributor id to act on someone's behalf.
func (s *Service) resolveDistributor(ctx context.Context, requested string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("authentication required")
	}
	switch actor.Role {
	case domain.RoleAdmin:
		if requested != "" {
			return domain.Actor{ID: requested, Name: requested, Role: domain.RoleDistributor}, nil
		}
		return actor, nil
	case domain.RoleDistributor:
		if requested != "" && requested != actor.ID {
			return domain.Actor{}, fmt.Errorf("distributor %s cannot act for %s", actor.ID, requested)
		}
		return actor, nil
	default:
		return domain.Actor{}, fmt.Errorf("role %q cannot run distributor operations", actor.Role)
	}
}

func (s *Service) requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}
	return nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.repo.GetProduct(ctx, id)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (*domain.Product, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}

	req.ID = strings.TrimSpace(req.ID)
	req.Name = strings.TrimSpace(req.Name)
	if req.ID == "" || req.Name == "" {
		return nil, fmt.Errorf("%w: product id and name are required", store.ErrValidation)
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:                 req.ID,
		Name:               req.Name,
		Category:           strings.TrimSpace(req.Category),
		PurchasePriceCents: req.PurchasePriceCents,
		ConsumerPriceCents: req.ConsumerPriceCents,
		BusinessPriceCents: req.BusinessPriceCents,
		Stock:              req.Stock,
		Returnable:         req.Returnable,
		EmptyContainerID:   req.EmptyContainerID,
		Active:             true,
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "", "product_create", "product", created.ID,
		fmt.Sprintf("name=%s,consumer=%d,business=%d", created.Name, created.ConsumerPriceCents, created.BusinessPriceCents))
	return created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (*domain.Product, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		existing.Name = strings.TrimSpace(*req.Name)
	}
	if req.PurchasePriceCents != nil {
		existing.PurchasePriceCents = *req.PurchasePriceCents
	}
	if req.ConsumerPriceCents != nil {
		existing.ConsumerPriceCents = *req.ConsumerPriceCents
	}
	if req.BusinessPriceCents != nil {
		existing.BusinessPriceCents = *req.BusinessPriceCents
	}
	if req.Stock != nil {
		existing.Stock = *req.Stock
	}
	if req.Active != nil {
		existing.Active = *req.Active
	}

	updated, err := s.repo.UpdateProduct(ctx, *existing)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "", "product_update", "product", updated.ID, "")
	return updated, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (*domain.Customer, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return nil, fmt.Errorf("authentication required")
	}
	customerType := req.Type
	if customerType == "" {
		customerType = domain.CustomerConsumer
	}
	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:    strings.TrimSpace(req.Name),
		Type:    customerType,
		Phone:   strings.TrimSpace(req.Phone),
		Address: strings.TrimSpace(req.Address),
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "", "customer_create", "customer", created.ID, "name="+created.Name)
	return created, nil
}

func (s *Service) TruckStock(ctx context.Context, truckID string) (map[string]int, error) {
	if truckID == "" {
		return nil, fmt.Errorf("%w: truck id is required", store.ErrValidation)
	}
	return s.repo.GetTruckStock(ctx, truckID)
}

func (s *Service) OpenCashSession(ctx context.Context, req domain.CashSessionOpenRequest) (*domain.CashSession, error) {
	actor, err := s.resolveDistributor(ctx, req.DistributorID)
	if err != nil {
		return nil, err
	}

	session, err := s.cashbox.Open(ctx, actor.ID, actor.Name, req.TruckID, req.OpeningCash)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, actor.ID, "cash_session_open", "cash_session", session.ID,
		fmt.Sprintf("opening=%d,truck=%s", session.OpeningCash.TotalCents(), session.TruckID))
	return session, nil
}

func (s *Service) ActiveCashSession(ctx context.Context, distributorID string) (*domain.CashSession, error) {
	actor, err := s.resolveDistributor(ctx, distributorID)
	if err != nil {
		return nil, err
	}
	return s.cashbox.Active(ctx, actor.ID)
}

func (s *Service) CloseCashSession(ctx context.Context, req domain.CashClosingRequest) (*domain.CashClosing, error) {
	actor, err := s.resolveDistributor(ctx, req.DistributorID)
	if err != nil {
		return nil, err
	}

	closing, err := s.cashbox.Close(ctx, req.OpeningID, actor.ID, req.CountedCash)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, actor.ID, "cash_session_close", "cash_closing", closing.ID,
		fmt.Sprintf("expected=%d,counted=%d,variance=%d", closing.ExpectedCents, closing.CountedCash.TotalCents(), closing.VarianceCents))
	if closing.VarianceCents >= varianceNotifyCents || closing.VarianceCents <= -varianceNotifyCents {
		s.notifier.Notify("cash_variance",
			fmt.Sprintf("closing %s for %s is off by %d cents", closing.ID, actor.ID, closing.VarianceCents))
	}
	s.invalidateSummary(ctx, actor.ID, closing.CreatedAt)
	return closing, nil
}

func (s *Service) EditCashClosing(ctx context.Context, closingID string, req domain.CashClosingEditRequest) (*domain.CashClosing, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	closing, err := s.cashbox.EditClosing(ctx, closingID, req.CountedCash)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, closing.DistributorID, "cash_closing_edit", "cash_closing", closing.ID,
		fmt.Sprintf("counted=%d,variance=%d", closing.CountedCash.TotalCents(), closing.VarianceCents))
	return closing, nil
}

func (s *Service) SessionStatement(ctx context.Context, sessionID string) (*domain.SessionStatement, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authentication required")
	}
	statement, err := s.cashbox.Statement(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin && statement.Session.DistributorID != actor.ID {
		return nil, fmt.Errorf("distributor %s cannot read session %s", actor.ID, sessionID)
	}
	return statement, nil
}

// CreateSale runs the whole sale as one unit: stock leaves the truck,
// returned containers come back, the unpaid portion opens a receivable
// and the sale attaches to the open cash session. If any step fails,
// everything applied so far is undone and no sale record exists.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (*domain.Sale, error) {
	actor, err := s.resolveDistributor(ctx, req.DistributorID)
	if err != nil {
		return nil, err
	}
	session, err := s.cashbox.Active(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	truckID := req.TruckID
	if truckID == "" {
		truckID = session.TruckID
	}
	if truckID == "" {
		return nil, fmt.Errorf("%w: no truck for sale", store.ErrValidation)
	}

	customer, err := s.repo.GetCustomer(ctx, req.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("customer %s: %w", req.CustomerID, err)
	}
	items, total, err := s.priceItems(ctx, customer, req.Items)
	if err != nil {
		return nil, err
	}
	if req.PaidCents < 0 || req.PaidCents > total {
		return nil, fmt.Errorf("%w: paid %d against total %d", store.ErrValidation, req.PaidCents, total)
	}

	sale := domain.Sale{
		ID:             xid.New("venta"),
		CustomerID:     customer.ID,
		DistributorID:  actor.ID,
		CashSessionID:  session.ID,
		TruckID:        truckID,
		Items:          items,
		TotalCents:     total,
		PaidCents:      req.PaidCents,
		CreditCents:    total - req.PaidCents,
		PaymentKind:    paymentKind(req.PaidCents, total),
		ManagedOrderID: req.ManagedOrderID,
		CreatedAt:      time.Now().UTC(),
	}

	effectLog := ledger.NewLog(s.inventory, s.receivables)
	if err := s.applySaleEffects(ctx, effectLog, &sale); err != nil {
		s.unwind(ctx, effectLog, "sale", sale.ID)
		return nil, err
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		s.unwind(ctx, effectLog, "sale", sale.ID)
		return nil, fmt.Errorf("persist sale: %w", err)
	}

	if sale.ManagedOrderID != "" {
		if _, err := s.repo.CompleteManagedOrder(ctx, sale.ManagedOrderID, sale.CreatedAt); err != nil {
			if delErr := s.repo.DeleteSale(ctx, created.ID); delErr != nil {
				log.Printf("[service] WARN: failed to remove sale %s after order completion failure: %v", created.ID, delErr)
			}
			s.unwind(ctx, effectLog, "sale", sale.ID)
			return nil, fmt.Errorf("complete order %s: %w", sale.ManagedOrderID, err)
		}
	}

	s.logAudit(ctx, actor.ID, "sale_create", "sale", created.ID,
		fmt.Sprintf("total=%d,paid=%d,credit=%d,items=%d", created.TotalCents, created.PaidCents, created.CreditCents, len(created.Items)))
	s.invalidateSummary(ctx, actor.ID, created.CreatedAt)
	return created, nil
}

// applySaleEffects runs the sale's stock and receivable movements
// through the effect log: a debit per line, a credit per returned
// container, one receivable for the credit portion.
func (s *Service) applySaleEffects(ctx context.Context, effectLog *ledger.Log, sale *domain.Sale) error {
	for _, e := range ledger.EffectsOfSale(sale) {
		if err := effectLog.Apply(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// priceItems validates the request lines and fixes the unit price per
// line: an explicit price wins, otherwise the customer's tier price.
// Returned containers must match the product's registered empty.
func (s *Service) priceItems(ctx context.Context, customer *domain.Customer, reqItems []domain.SaleItem) ([]domain.SaleItem, int64, error) {
	if len(reqItems) == 0 {
		return nil, 0, fmt.Errorf("%w: sale has no items", store.ErrValidation)
	}

	ids := make([]string, 0, len(reqItems))
	for _, item := range reqItems {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	items := make([]domain.SaleItem, 0, len(reqItems))
	var total int64
	for _, item := range reqItems {
		if item.Qty <= 0 {
			return nil, 0, fmt.Errorf("%w: quantity for %s must be positive", store.ErrValidation, item.ProductID)
		}
		product, ok := products[item.ProductID]
		if !ok {
			return nil, 0, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		if item.UnitPriceCents < 0 {
			return nil, 0, fmt.Errorf("%w: negative price for %s", store.ErrValidation, item.ProductID)
		}
		if item.UnitPriceCents == 0 {
			item.UnitPriceCents = tierPrice(product, customer.Type)
		}
		if item.ReturnedContainerID != "" {
			if !product.Returnable {
				return nil, 0, fmt.Errorf("%w: product %s takes no returned container", store.ErrValidation, item.ProductID)
			}
			if item.ReturnedContainerID != product.EmptyContainerID {
				return nil, 0, fmt.Errorf("%w: product %s expects container %s, got %s",
					store.ErrValidation, item.ProductID, product.EmptyContainerID, item.ReturnedContainerID)
			}
		}
		total += item.UnitPriceCents * int64(item.Qty)
		items = append(items, item)
	}
	return items, total, nil
}

func tierPrice(product domain.Product, customerType string) int64 {
	if customerType == domain.CustomerBusiness {
		return product.BusinessPriceCents
	}
	return product.ConsumerPriceCents
}

func paymentKind(paid int64, total int64) string {
	switch {
	case paid == total:
		return domain.PaymentCash
	case paid == 0:
		return domain.PaymentCredit
	default:
		return domain.PaymentMixed
	}
}

func (s *Service) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authentication required")
	}
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin && sale.DistributorID != actor.ID {
		return nil, fmt.Errorf("distributor %s cannot read sale %s", actor.ID, id)
	}
	return sale, nil
}

// UpdateSale replaces a sale's contents by reverting everything the old
// sale did and running the new version from scratch. The reversal is
// refused as a whole if any old effect is no longer invertible, so an
// edit can never leave the ledgers half-moved.
func (s *Service) UpdateSale(ctx context.Context, id string, req domain.SaleRequest) (*domain.Sale, error) {
	old, err := s.GetSale(ctx, id)
	if err != nil {
		return nil, err
	}
	actor, err := s.resolveDistributor(ctx, old.DistributorID)
	if err != nil {
		return nil, err
	}

	customerID := req.CustomerID
	if customerID == "" {
		customerID = old.CustomerID
	}
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("customer %s: %w", customerID, err)
	}
	items, total, err := s.priceItems(ctx, customer, req.Items)
	if err != nil {
		return nil, err
	}
	if req.PaidCents < 0 || req.PaidCents > total {
		return nil, fmt.Errorf("%w: paid %d against total %d", store.ErrValidation, req.PaidCents, total)
	}

	oldLog := ledger.Replay(s.inventory, s.receivables, ledger.EffectsOfSale(old))
	if err := oldLog.Revert(ctx); err != nil {
		return nil, fmt.Errorf("undo sale %s: %w", id, err)
	}

	updated := *old
	updated.CustomerID = customer.ID
	updated.Items = items
	updated.TotalCents = total
	updated.PaidCents = req.PaidCents
	updated.CreditCents = total - req.PaidCents
	updated.PaymentKind = paymentKind(req.PaidCents, total)
	if req.TruckID != "" {
		updated.TruckID = req.TruckID
	}

	newLog := ledger.NewLog(s.inventory, s.receivables)
	if err := s.applySaleEffects(ctx, newLog, &updated); err != nil {
		s.unwind(ctx, newLog, "sale", id)
		s.reapply(ctx, ledger.EffectsOfSale(old), "sale", id)
		return nil, err
	}

	persisted, err := s.repo.UpdateSale(ctx, updated)
	if err != nil {
		s.unwind(ctx, newLog, "sale", id)
		s.reapply(ctx, ledger.EffectsOfSale(old), "sale", id)
		return nil, fmt.Errorf("persist sale %s: %w", id, err)
	}

	s.logAudit(ctx, actor.ID, "sale_update", "sale", id,
		fmt.Sprintf("total=%d,paid=%d,credit=%d", persisted.TotalCents, persisted.PaidCents, persisted.CreditCents))
	s.invalidateSummary(ctx, actor.ID, persisted.CreatedAt)
	return persisted, nil
}

// DeleteSale reverses every effect the sale applied and removes its
// record. It is refused outright when the receivable it opened has
// collected payments or the returned containers already left the truck.
func (s *Service) DeleteSale(ctx context.Context, id string) error {
	sale, err := s.GetSale(ctx, id)
	if err != nil {
		return err
	}
	actor, err := s.resolveDistributor(ctx, sale.DistributorID)
	if err != nil {
		return err
	}

	effectLog := ledger.Replay(s.inventory, s.receivables, ledger.EffectsOfSale(sale))
	if err := effectLog.Revert(ctx); err != nil {
		return fmt.Errorf("undo sale %s: %w", id, err)
	}
	if err := s.repo.DeleteSale(ctx, id); err != nil {
		s.reapply(ctx, ledger.EffectsOfSale(sale), "sale", id)
		return fmt.Errorf("delete sale %s: %w", id, err)
	}

	s.logAudit(ctx, actor.ID, "sale_delete", "sale", id, fmt.Sprintf("total=%d", sale.TotalCents))
	s.notifier.Notify("sale_reversed", fmt.Sprintf("sale %s for %d cents was reversed by %s", id, sale.TotalCents, actor.ID))
	s.invalidateSummary(ctx, actor.ID, sale.CreatedAt)
	return nil
}

func (s *Service) ReceivableStatement(ctx context.Context, customerID string) (*domain.ReceivableStatement, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return nil, fmt.Errorf("authentication required")
	}
	receivables, err := s.repo.ListReceivablesByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	statement := &domain.ReceivableStatement{
		CustomerID:  customerID,
		Receivables: receivables,
	}
	for _, receivable := range receivables {
		statement.BalanceCents += receivable.BalanceCents
	}
	return statement, nil
}

func (s *Service) RecordReceivablePayment(ctx context.Context, receivableID string, req domain.ReceivablePaymentRequest) (*domain.Receivable, error) {
	actor, err := s.resolveDistributor(ctx, "")
	if err != nil {
		return nil, err
	}
	updated, err := s.receivables.RecordPayment(ctx, receivableID, req.AmountCents, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, actor.ID, "receivable_payment", "receivable", receivableID,
		fmt.Sprintf("amount=%d,balance=%d", req.AmountCents, updated.BalanceCents))
	return updated, nil
}

func (s *Service) CreateExpense(ctx context.Context, req domain.ExpenseRequest) (*domain.Expense, error) {
	actor, err := s.resolveDistributor(ctx, req.DistributorID)
	if err != nil {
		return nil, err
	}
	session, err := s.cashbox.Active(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	created, err := s.repo.CreateExpense(ctx, domain.Expense{
		DistributorID: actor.ID,
		CashSessionID: session.ID,
		Category:      strings.TrimSpace(req.Category),
		Description:   strings.TrimSpace(req.Description),
		AmountCents:   req.AmountCents,
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, actor.ID, "expense_create", "expense", created.ID,
		fmt.Sprintf("category=%s,amount=%d", created.Category, created.AmountCents))
	s.invalidateSummary(ctx, actor.ID, created.CreatedAt)
	return created, nil
}

func (s *Service) UpdateExpense(ctx context.Context, id string, req domain.ExpenseRequest) (*domain.Expense, error) {
	expense, err := s.repo.GetExpense(ctx, id)
	if err != nil {
		return nil, err
	}
	actor, err := s.resolveDistributor(ctx, expense.DistributorID)
	if err != nil {
		return nil, err
	}

	if req.Category != "" {
		expense.Category = strings.TrimSpace(req.Category)
	}
	if req.Description != "" {
		expense.Description = strings.TrimSpace(req.Description)
	}
	if req.AmountCents > 0 {
		expense.AmountCents = req.AmountCents
	}
	updated, err := s.repo.UpdateExpense(ctx, *expense)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, actor.ID, "expense_update", "expense", id, fmt.Sprintf("amount=%d", updated.AmountCents))
	s.invalidateSummary(ctx, actor.ID, updated.CreatedAt)
	return updated, nil
}

func (s *Service) DeleteExpense(ctx context.Context, id string) error {
	expense, err := s.repo.GetExpense(ctx, id)
	if err != nil {
		return err
	}
	actor, err := s.resolveDistributor(ctx, expense.DistributorID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteExpense(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, actor.ID, "expense_delete", "expense", id, fmt.Sprintf("amount=%d", expense.AmountCents))
	s.invalidateSummary(ctx, actor.ID, expense.CreatedAt)
	return nil
}

// CreateRefill loads product onto the truck and, when the load cost
// money at the plant, books that cost as an expense against the open
// cash session. Stock credits and the expense stand or fall together.
func (s *Service) CreateRefill(ctx context.Context, req domain.RefillRequest) (*domain.Refill, error) {
	actor, err := s.resolveDistributor(ctx, req.DistributorID)
	if err != nil {
		return nil, err
	}
	session, err := s.cashbox.Active(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if req.TruckID == "" {
		req.TruckID = session.TruckID
	}
	if req.TruckID == "" || len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: refill needs a truck and items", store.ErrValidation)
	}
	if req.CostCents < 0 {
		return nil, fmt.Errorf("%w: refill cost must not be negative", store.ErrValidation)
	}
	for _, item := range req.Items {
		if item.Qty <= 0 {
			return nil, fmt.Errorf("%w: refill quantity for %s must be positive", store.ErrValidation, item.ProductID)
		}
		if _, err := s.repo.GetProduct(ctx, item.ProductID); err != nil {
			return nil, fmt.Errorf("product %s: %w", item.ProductID, err)
		}
	}

	refill := domain.Refill{
		ID:            xid.New("recarga"),
		DistributorID: actor.ID,
		CashSessionID: session.ID,
		TruckID:       req.TruckID,
		Items:         req.Items,
		CostCents:     req.CostCents,
		CreatedAt:     time.Now().UTC(),
	}

	effectLog := ledger.NewLog(s.inventory, s.receivables)
	for _, e := range ledger.EffectsOfRefill(&refill) {
		if err := effectLog.Apply(ctx, e); err != nil {
			s.unwind(ctx, effectLog, "refill", refill.ID)
			return nil, err
		}
	}

	if refill.CostCents > 0 {
		expense, err := s.repo.CreateExpense(ctx, domain.Expense{
			DistributorID: actor.ID,
			CashSessionID: session.ID,
			Category:      "recarga_planta",
			Description:   fmt.Sprintf("carga de camión %s", refill.TruckID),
			AmountCents:   refill.CostCents,
		})
		if err != nil {
			s.unwind(ctx, effectLog, "refill", refill.ID)
			return nil, fmt.Errorf("book refill cost: %w", err)
		}
		refill.ExpenseID = expense.ID
	}

	created, err := s.repo.CreateRefill(ctx, refill)
	if err != nil {
		if refill.ExpenseID != "" {
			if delErr := s.repo.DeleteExpense(ctx, refill.ExpenseID); delErr != nil {
				log.Printf("[service] WARN: failed to remove expense %s after refill failure: %v", refill.ExpenseID, delErr)
			}
		}
		s.unwind(ctx, effectLog, "refill", refill.ID)
		return nil, fmt.Errorf("persist refill: %w", err)
	}

	s.logAudit(ctx, actor.ID, "refill_create", "refill", created.ID,
		fmt.Sprintf("truck=%s,cost=%d,items=%d", created.TruckID, created.CostCents, len(created.Items)))
	s.invalidateSummary(ctx, actor.ID, created.CreatedAt)
	return created, nil
}

// DeleteRefill takes the loaded stock back off the truck and removes
// the linked expense. If part of the load was already sold the truck
// cannot give it back and the whole reversal is refused.
func (s *Service) DeleteRefill(ctx context.Context, id string) error {
	refill, err := s.repo.GetRefill(ctx, id)
	if err != nil {
		return err
	}
	actor, err := s.resolveDistributor(ctx, refill.DistributorID)
	if err != nil {
		return err
	}

	effectLog := ledger.Replay(s.inventory, s.receivables, ledger.EffectsOfRefill(refill))
	if err := effectLog.Revert(ctx); err != nil {
		return fmt.Errorf("undo refill %s: %w", id, err)
	}
	if refill.ExpenseID != "" {
		if err := s.repo.DeleteExpense(ctx, refill.ExpenseID); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Printf("[service] WARN: failed to remove expense %s of refill %s: %v", refill.ExpenseID, id, err)
		}
	}
	if err := s.repo.DeleteRefill(ctx, id); err != nil {
		return err
	}

	s.logAudit(ctx, actor.ID, "refill_delete", "refill", id, fmt.Sprintf("cost=%d", refill.CostCents))
	s.invalidateSummary(ctx, actor.ID, refill.CreatedAt)
	return nil
}

func (s *Service) CreateManagedOrder(ctx context.Context, req domain.ManagedOrderCreateRequest) (*domain.ManagedOrder, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return nil, fmt.Errorf("authentication required")
	}
	if _, err := s.repo.GetCustomer(ctx, req.CustomerID); err != nil {
		return nil, fmt.Errorf("customer %s: %w", req.CustomerID, err)
	}
	for _, item := range req.Items {
		if item.Qty <= 0 {
			return nil, fmt.Errorf("%w: order quantity for %s must be positive", store.ErrValidation, item.ProductID)
		}
		if _, err := s.repo.GetProduct(ctx, item.ProductID); err != nil {
			return nil, fmt.Errorf("product %s: %w", item.ProductID, err)
		}
	}

	created, err := s.repo.CreateManagedOrder(ctx, domain.ManagedOrder{
		CustomerID: req.CustomerID,
		Items:      req.Items,
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "", "order_create", "order", created.ID, fmt.Sprintf("customer=%s,items=%d", created.CustomerID, len(created.Items)))
	return created, nil
}

func (s *Service) ListManagedOrders(ctx context.Context, status string) ([]domain.ManagedOrder, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return nil, fmt.Errorf("authentication required")
	}
	return s.repo.ListManagedOrders(ctx, status)
}

// DaySummary aggregates one distributor day. Results are cached; every
// mutation that touches the day drops the cached entry.
func (s *Service) DaySummary(ctx context.Context, distributorID string, date string) (*domain.DaySummary, error) {
	actor, err := s.resolveDistributor(ctx, distributorID)
	if err != nil {
		return nil, err
	}
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q is not YYYY-MM-DD", store.ErrValidation, date)
	}

	key := summaryKey(actor.ID, date)
	if cached, ok, err := s.summaries.Get(ctx, key); err == nil && ok {
		return cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: summary cache read failed key=%s: %v", key, err)
	}

	from := day.UTC()
	to := from.Add(24 * time.Hour)
	sales, err := s.repo.ListSalesByDistributor(ctx, actor.ID, from, to)
	if err != nil {
		return nil, err
	}
	expenses, err := s.repo.ListExpensesByDistributor(ctx, actor.ID, from, to)
	if err != nil {
		return nil, err
	}
	refills, err := s.repo.ListRefillsByDistributor(ctx, actor.ID, from, to)
	if err != nil {
		return nil, err
	}

	summary := &domain.DaySummary{
		DistributorID: actor.ID,
		Date:          date,
	}
	for _, sale := range sales {
		summary.Sales++
		summary.TotalCents += sale.TotalCents
		summary.CashCents += sale.PaidCents
		summary.CreditCents += sale.CreditCents
		if sale.CreditCents > 0 {
			receivable, err := s.repo.GetReceivableBySale(ctx, sale.ID)
			if err == nil {
				summary.OutstandingCents += receivable.BalanceCents
			} else if !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
		}
	}
	for _, expense := range expenses {
		summary.ExpenseCents += expense.AmountCents
	}
	for _, refill := range refills {
		summary.RefillCostCents += refill.CostCents
	}

	if err := s.summaries.Set(ctx, key, summary, summaryTTL); err != nil {
		log.Printf("[service] WARN: summary cache write failed key=%s: %v", key, err)
	}
	return summary, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, distributorID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, distributorID, from, to, limit)
}

// CreateDistributor registers a distributor account.
func (s *Service) CreateDistributor(ctx context.Context, req domain.DistributorCreateRequest) error {
	if err := s.requireAdmin(ctx); err != nil {
		return err
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || len(req.Password) < 8 {
		return fmt.Errorf("%w: username and a password of at least 8 characters are required", store.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.CreateUser(ctx, domain.UserAccount{
		Username: username,
		Password: string(hash),
		Name:     strings.TrimSpace(req.Name),
		Role:     domain.RoleDistributor,
		Active:   true,
	}); err != nil {
		return err
	}
	s.logAudit(ctx, "", "distributor_create", "user", username, "")
	return nil
}

// unwind rolls back a partially applied operation, logging rather than
// failing when the rollback itself hits an error.
func (s *Service) unwind(ctx context.Context, effectLog *ledger.Log, entityType string, entityID string) {
	if err := effectLog.Unwind(ctx); err != nil {
		log.Printf("[service] WARN: incomplete rollback of %s %s: %v", entityType, entityID, err)
	}
}

// reapply re-executes previously reverted effects after a later step
// failed, restoring the pre-operation state.
func (s *Service) reapply(ctx context.Context, effects []ledger.Effect, entityType string, entityID string) {
	effectLog := ledger.NewLog(s.inventory, s.receivables)
	for _, e := range effects {
		if err := effectLog.Apply(ctx, e); err != nil {
			log.Printf("[service] WARN: failed to restore effect %s for %s %s: %v", e.Kind, entityType, entityID, err)
		}
	}
}

func (s *Service) invalidateSummary(ctx context.Context, distributorID string, at time.Time) {
	key := summaryKey(distributorID, at.UTC().Format("2006-01-02"))
	if err := s.summaries.Invalidate(ctx, key); err != nil {
		log.Printf("[service] WARN: summary cache invalidation failed key=%s: %v", key, err)
	}
}

func summaryKey(distributorID string, date string) string {
	return fmt.Sprintf("summary:%s:%s", distributorID, date)
}

func (s *Service) logAudit(ctx context.Context, distributorID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{ID: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		DistributorID: distributorID,
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
