package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/wash91/sitem-washo-distr-sub001/internal/domain"
	"github.com/wash91/sitem-washo-distr-sub001/internal/store"
	"github.com/wash91/sitem-washo-distr-sub001/internal/xid"
)

type Store struct {
	mu                  sync.RWMutex
	products            map[string]domain.Product
	customersByID       map[string]domain.Customer
	truckStock          map[string]map[string]int
	sessionsByID        map[string]domain.CashSession
	activeSessionByDist map[string]string
	closingsByID        map[string]domain.CashClosing
	salesByID           map[string]*domain.Sale
	receivablesByID     map[string]*domain.Receivable
	receivableBySale    map[string]string
	expensesByID        map[string]domain.Expense
	refillsByID         map[string]*domain.Refill
	ordersByID          map[string]domain.ManagedOrder
	auditLogs           []domain.AuditLog
	usersByUsername     map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_DISTRIBUTOR_PASSWORD;
// hardcoded dev defaults are used with a warning when unset. Production
// deployments use PostgreSQL (DATABASE_URL) and never touch these.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	distPwd := envOr("SEED_DISTRIBUTOR_PASSWORD", "reparto123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_DISTRIBUTOR_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_DISTRIBUTOR_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		name     string
		role     string
	}{
		{"admin", adminPwd, "Administrador", domain.RoleAdmin},
		{"reparto1", distPwd, "Reparto Uno", domain.RoleDistributor},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Name:      u.name,
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	products := []domain.Product{
		{ID: "recarga_con_llave", Name: "Recarga con Llave", Category: domain.CategoryRefill, PurchasePriceCents: 80, ConsumerPriceCents: 250, BusinessPriceCents: 200, Returnable: true, EmptyContainerID: "equipo_con_llave_vacio", Active: true},
		{ID: "recarga_sin_llave", Name: "Recarga sin Llave", Category: domain.CategoryRefill, PurchasePriceCents: 70, ConsumerPriceCents: 230, BusinessPriceCents: 180, Returnable: true, EmptyContainerID: "equipo_sin_llave_vacio", Active: true},
		{ID: "equipo_con_llave", Name: "Equipo con Llave", Category: domain.CategoryFullEquipment, PurchasePriceCents: 900, ConsumerPriceCents: 2500, BusinessPriceCents: 2200, Returnable: false, Active: true},
		{ID: "equipo_con_llave_vacio", Name: "Equipo con Llave (vacío)", Category: domain.CategoryEmptyEquipment, PurchasePriceCents: 500, ConsumerPriceCents: 1200, BusinessPriceCents: 1000, Active: true},
		{ID: "equipo_sin_llave_vacio", Name: "Equipo sin Llave (vacío)", Category: domain.CategoryEmptyEquipment, PurchasePriceCents: 450, ConsumerPriceCents: 1100, BusinessPriceCents: 900, Active: true},
		{ID: "paca_botella_600", Name: "Paca Botella 600ml", Category: domain.CategoryPack, PurchasePriceCents: 120, ConsumerPriceCents: 350, BusinessPriceCents: 300, Active: true},
		{ID: "valvula_manual", Name: "Válvula Manual", Category: domain.CategoryAccessory, PurchasePriceCents: 60, ConsumerPriceCents: 150, BusinessPriceCents: 120, Active: true},
	}

	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}

	truckStock := map[string]map[string]int{
		"truck-01": {
			"recarga_con_llave": 10,
			"recarga_sin_llave": 8,
			"equipo_con_llave":  3,
			"paca_botella_600":  12,
			"valvula_manual":    6,
		},
	}

	now := time.Now().UTC()
	customers := map[string]domain.Customer{
		"cust-maria":  {ID: "cust-maria", Name: "María Quispe", Type: domain.CustomerConsumer, Phone: "0991111111", CreatedAt: now},
		"cust-tienda": {ID: "cust-tienda", Name: "Tienda López", Type: domain.CustomerBusiness, Phone: "0992222222", Address: "Av. Principal 12", CreatedAt: now},
	}

	return &Store{
		products:            productMap,
		customersByID:       customers,
		truckStock:          truckStock,
		sessionsByID:        make(map[string]domain.CashSession),
		activeSessionByDist: make(map[string]string),
		closingsByID:        make(map[string]domain.CashClosing),
		salesByID:           make(map[string]*domain.Sale),
		receivablesByID:     make(map[string]*domain.Receivable),
		receivableBySale:    make(map[string]string),
		expensesByID:        make(map[string]domain.Expense),
		refillsByID:         make(map[string]*domain.Refill),
		ordersByID:          make(map[string]domain.ManagedOrder),
		auditLogs:           make([]domain.AuditLog, 0, 128),
		usersByUsername:     seedUsers(),
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.Active {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateProduct(product); err != nil {
		return nil, err
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, fmt.Errorf("%w: product %s already exists", store.ErrValidation, product.ID)
	}

	product.Active = true
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateProduct(product); err != nil {
		return nil, err
	}
	if _, exists := s.products[product.ID]; !exists {
		return nil, store.ErrNotFound
	}

	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func validateProduct(product domain.Product) error {
	if product.ID == "" || product.Name == "" {
		return fmt.Errorf("%w: product id and name are required", store.ErrValidation)
	}
	switch product.Category {
	case domain.CategoryFullEquipment, domain.CategoryRefill, domain.CategoryPack,
		domain.CategoryAccessory, domain.CategoryEmptyEquipment:
	default:
		return fmt.Errorf("%w: unknown category %q", store.ErrValidation, product.Category)
	}
	if product.ConsumerPriceCents < 0 || product.BusinessPriceCents < 0 || product.PurchasePriceCents < 0 {
		return fmt.Errorf("%w: prices must not be negative", store.ErrValidation)
	}
	if product.Returnable && product.EmptyContainerID == "" {
		return fmt.Errorf("%w: returnable product %s needs an empty container id", store.ErrValidation, product.ID)
	}
	return nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" {
		return nil, fmt.Errorf("%w: customer name is required", store.ErrValidation)
	}
	if customer.Type != domain.CustomerConsumer && customer.Type != domain.CustomerBusiness {
		return nil, fmt.Errorf("%w: unknown customer type %q", store.ErrValidation, customer.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customersByID[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetTruckStock(_ context.Context, truckID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stock := make(map[string]int, len(s.truckStock[truckID]))
	for productID, qty := range s.truckStock[truckID] {
		stock[productID] = qty
	}
	return stock, nil
}

func (s *Store) GetTruckQuantity(_ context.Context, truckID string, productID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.truckStock[truckID][productID], nil
}

func (s *Store) AdjustTruckStock(_ context.Context, truckID string, productID string, delta int) error {
	if truckID == "" || productID == "" {
		return fmt.Errorf("%w: truck and product are required", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[productID]; !exists {
		return fmt.Errorf("%w: product %s unavailable", store.ErrNotFound, productID)
	}
	stock, ok := s.truckStock[truckID]
	if !ok {
		stock = make(map[string]int)
		s.truckStock[truckID] = stock
	}
	remaining := stock[productID] + delta
	if remaining < 0 {
		return fmt.Errorf("%w: product %s has %d on truck %s", store.ErrInsufficientStock, productID, stock[productID], truckID)
	}
	stock[productID] = remaining
	return nil
}

func (s *Store) CreateCashSession(_ context.Context, session domain.CashSession) (*domain.CashSession, error) {
	if session.DistributorID == "" {
		return nil, fmt.Errorf("%w: distributor is required", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if openID, exists := s.activeSessionByDist[session.DistributorID]; exists {
		return nil, fmt.Errorf("%w: session %s is still open for %s", store.ErrSessionAlreadyOpen, openID, session.DistributorID)
	}
	if session.ID == "" {
		session.ID = xid.New("caja")
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	session.IsClosed = false
	session.ClosingID = ""

	s.sessionsByID[session.ID] = session
	s.activeSessionByDist[session.DistributorID] = session.ID
	copySession := session
	return &copySession, nil
}

func (s *Store) GetCashSession(_ context.Context, id string) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessionsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySession := session
	return &copySession, nil
}

func (s *Store) GetActiveCashSession(_ context.Context, distributorID string) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessionID, exists := s.activeSessionByDist[distributorID]
	if !exists {
		return nil, store.ErrNotFound
	}
	session, exists := s.sessionsByID[sessionID]
	if !exists || session.IsClosed {
		return nil, store.ErrNotFound
	}
	copySession := session
	return &copySession, nil
}

func (s *Store) CloseCashSession(_ context.Context, closing domain.CashClosing) (*domain.CashClosing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessionsByID[closing.OpeningID]
	if !exists || session.IsClosed || session.DistributorID != closing.DistributorID {
		return nil, fmt.Errorf("%w: opening %s for %s", store.ErrNoMatchingOpenSession, closing.OpeningID, closing.DistributorID)
	}

	if closing.ID == "" {
		closing.ID = xid.New("cierre")
	}
	if closing.CreatedAt.IsZero() {
		closing.CreatedAt = time.Now().UTC()
	}

	session.IsClosed = true
	session.ClosingID = closing.ID
	s.sessionsByID[session.ID] = session
	delete(s.activeSessionByDist, session.DistributorID)
	s.closingsByID[closing.ID] = closing

	copyClosing := closing
	return &copyClosing, nil
}

func (s *Store) GetCashClosing(_ context.Context, id string) (*domain.CashClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	closing, exists := s.closingsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyClosing := closing
	return &copyClosing, nil
}

func (s *Store) UpdateCashClosing(_ context.Context, closing domain.CashClosing) (*domain.CashClosing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.closingsByID[closing.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	// The opening link never changes; the session stays closed.
	closing.OpeningID = existing.OpeningID
	closing.DistributorID = existing.DistributorID
	closing.CreatedAt = existing.CreatedAt
	s.closingsByID[closing.ID] = closing
	copyClosing := closing
	return &copyClosing, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.CustomerID == "" || sale.CashSessionID == "" || len(sale.Items) == 0 {
		return nil, fmt.Errorf("%w: sale needs a customer, a cash session and items", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" {
		sale.ID = xid.New("venta")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	saleCopy := cloneSale(&sale)
	s.salesByID[sale.ID] = saleCopy
	return cloneSale(saleCopy), nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) UpdateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByID[sale.ID]; !exists {
		return nil, store.ErrNotFound
	}
	saleCopy := cloneSale(&sale)
	s.salesByID[sale.ID] = saleCopy
	return cloneSale(saleCopy), nil
}

func (s *Store) DeleteSale(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.salesByID, id)
	return nil
}

func (s *Store) ListSalesBySession(_ context.Context, sessionID string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 16)
	for _, sale := range s.salesByID {
		if sale.CashSessionID != sessionID {
			continue
		}
		sales = append(sales, *cloneSale(sale))
	}
	sortSalesByCreation(sales)
	return sales, nil
}

func (s *Store) ListSalesByDistributor(_ context.Context, distributorID string, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 16)
	for _, sale := range s.salesByID {
		if sale.DistributorID != distributorID {
			continue
		}
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		sales = append(sales, *cloneSale(sale))
	}
	sortSalesByCreation(sales)
	return sales, nil
}

func (s *Store) CreateReceivable(_ context.Context, receivable domain.Receivable) (*domain.Receivable, error) {
	if receivable.CustomerID == "" || receivable.SaleID == "" || receivable.OriginalCents <= 0 {
		return nil, fmt.Errorf("%w: receivable needs a customer, a sale and a positive amount", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.receivableBySale[receivable.SaleID]; exists {
		return nil, fmt.Errorf("%w: sale %s already has a receivable", store.ErrValidation, receivable.SaleID)
	}
	if receivable.ID == "" {
		receivable.ID = xid.New("cxc")
	}
	if receivable.CreatedAt.IsZero() {
		receivable.CreatedAt = time.Now().UTC()
	}
	receivable.BalanceCents = receivable.OriginalCents
	copyReceivable := cloneReceivable(&receivable)
	s.receivablesByID[receivable.ID] = copyReceivable
	s.receivableBySale[receivable.SaleID] = receivable.ID
	return cloneReceivable(copyReceivable), nil
}

func (s *Store) GetReceivable(_ context.Context, id string) (*domain.Receivable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receivable, exists := s.receivablesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneReceivable(receivable), nil
}

func (s *Store) GetReceivableBySale(_ context.Context, saleID string) (*domain.Receivable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.receivableBySale[saleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	receivable, exists := s.receivablesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneReceivable(receivable), nil
}

func (s *Store) ListReceivablesByCustomer(_ context.Context, customerID string) ([]domain.Receivable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receivables := make([]domain.Receivable, 0, 8)
	for _, receivable := range s.receivablesByID {
		if receivable.CustomerID != customerID {
			continue
		}
		receivables = append(receivables, *cloneReceivable(receivable))
	}
	slices.SortFunc(receivables, func(a, b domain.Receivable) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return receivables, nil
}

func (s *Store) UpdateReceivable(_ context.Context, receivable domain.Receivable) (*domain.Receivable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.receivablesByID[receivable.ID]; !exists {
		return nil, store.ErrNotFound
	}
	if receivable.BalanceCents < 0 {
		return nil, fmt.Errorf("%w: receivable balance must not go negative", store.ErrValidation)
	}
	copyReceivable := cloneReceivable(&receivable)
	s.receivablesByID[receivable.ID] = copyReceivable
	return cloneReceivable(copyReceivable), nil
}

func (s *Store) DeleteReceivable(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	receivable, exists := s.receivablesByID[id]
	if !exists {
		return store.ErrNotFound
	}
	delete(s.receivablesByID, id)
	delete(s.receivableBySale, receivable.SaleID)
	return nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.DistributorID == "" || expense.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: expense needs a distributor and a positive amount", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if expense.ID == "" {
		expense.ID = xid.New("gasto")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	s.expensesByID[expense.ID] = expense
	copyExpense := expense
	return &copyExpense, nil
}

func (s *Store) GetExpense(_ context.Context, id string) (*domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expense, exists := s.expensesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyExpense := expense
	return &copyExpense, nil
}

func (s *Store) UpdateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.expensesByID[expense.ID]; !exists {
		return nil, store.ErrNotFound
	}
	if expense.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: expense amount must be positive", store.ErrValidation)
	}
	s.expensesByID[expense.ID] = expense
	copyExpense := expense
	return &copyExpense, nil
}

func (s *Store) DeleteExpense(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.expensesByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.expensesByID, id)
	return nil
}

func (s *Store) ListExpensesBySession(_ context.Context, sessionID string) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := make([]domain.Expense, 0, 8)
	for _, expense := range s.expensesByID {
		if expense.CashSessionID != sessionID {
			continue
		}
		expenses = append(expenses, expense)
	}
	sortExpensesByCreation(expenses)
	return expenses, nil
}

func (s *Store) ListExpensesByDistributor(_ context.Context, distributorID string, from time.Time, to time.Time) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := make([]domain.Expense, 0, 8)
	for _, expense := range s.expensesByID {
		if expense.DistributorID != distributorID {
			continue
		}
		if expense.CreatedAt.Before(from) || !expense.CreatedAt.Before(to) {
			continue
		}
		expenses = append(expenses, expense)
	}
	sortExpensesByCreation(expenses)
	return expenses, nil
}

func (s *Store) CreateRefill(_ context.Context, refill domain.Refill) (*domain.Refill, error) {
	if refill.DistributorID == "" || refill.TruckID == "" || len(refill.Items) == 0 {
		return nil, fmt.Errorf("%w: refill needs a distributor, a truck and items", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if refill.ID == "" {
		refill.ID = xid.New("recarga")
	}
	if refill.CreatedAt.IsZero() {
		refill.CreatedAt = time.Now().UTC()
	}
	copyRefill := cloneRefill(&refill)
	s.refillsByID[refill.ID] = copyRefill
	return cloneRefill(copyRefill), nil
}

func (s *Store) GetRefill(_ context.Context, id string) (*domain.Refill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refill, exists := s.refillsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneRefill(refill), nil
}

func (s *Store) DeleteRefill(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refillsByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.refillsByID, id)
	return nil
}

func (s *Store) ListRefillsByDistributor(_ context.Context, distributorID string, from time.Time, to time.Time) ([]domain.Refill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refills := make([]domain.Refill, 0, 8)
	for _, refill := range s.refillsByID {
		if refill.DistributorID != distributorID {
			continue
		}
		if refill.CreatedAt.Before(from) || !refill.CreatedAt.Before(to) {
			continue
		}
		refills = append(refills, *cloneRefill(refill))
	}
	slices.SortFunc(refills, func(a, b domain.Refill) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return refills, nil
}

func (s *Store) CreateManagedOrder(_ context.Context, order domain.ManagedOrder) (*domain.ManagedOrder, error) {
	if order.CustomerID == "" || len(order.Items) == 0 {
		return nil, fmt.Errorf("%w: order needs a customer and items", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == "" {
		order.ID = xid.New("pedido")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.Status = domain.OrderStatusPending
	order.CompletedAt = nil
	s.ordersByID[order.ID] = order
	copyOrder := order
	return &copyOrder, nil
}

func (s *Store) GetManagedOrder(_ context.Context, id string) (*domain.ManagedOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.ordersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyOrder := order
	return &copyOrder, nil
}

func (s *Store) ListManagedOrders(_ context.Context, status string) ([]domain.ManagedOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.ManagedOrder, 0, len(s.ordersByID))
	for _, order := range s.ordersByID {
		if status != "" && order.Status != status {
			continue
		}
		orders = append(orders, order)
	}
	slices.SortFunc(orders, func(a, b domain.ManagedOrder) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return orders, nil
}

func (s *Store) CompleteManagedOrder(_ context.Context, id string, at time.Time) (*domain.ManagedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.ordersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if order.Status == domain.OrderStatusCompleted {
		return nil, fmt.Errorf("%w: order %s is already completed", store.ErrValidation, id)
	}
	order.Status = domain.OrderStatusCompleted
	order.CompletedAt = &at
	s.ordersByID[id] = order
	copyOrder := order
	return &copyOrder, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, distributorID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if distributorID != "" && entry.DistributorID != distributorID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if strings.TrimSpace(user.Username) == "" || user.Password == "" {
		return fmt.Errorf("%w: username and password are required", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("%w: user %s already exists", store.ErrValidation, user.Username)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneSale(sale *domain.Sale) *domain.Sale {
	copySale := *sale
	copySale.Items = slices.Clone(sale.Items)
	return &copySale
}

func cloneReceivable(receivable *domain.Receivable) *domain.Receivable {
	copyReceivable := *receivable
	copyReceivable.Payments = slices.Clone(receivable.Payments)
	return &copyReceivable
}

func cloneRefill(refill *domain.Refill) *domain.Refill {
	copyRefill := *refill
	copyRefill.Items = slices.Clone(refill.Items)
	return &copyRefill
}

func sortSalesByCreation(sales []domain.Sale) {
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
}

func sortExpensesByCreation(expenses []domain.Expense) {
	slices.SortFunc(expenses, func(a, b domain.Expense) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
