package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/wash91/sitem-washo-distr-sub001/internal/domain"
	"github.com/wash91/sitem-washo-distr-sub001/internal/store"
	"github.com/wash91/sitem-washo-distr-sub001/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, purchase_price_cents, consumer_price_cents,
			business_price_cents, stock, returnable, empty_container_id, active
		FROM products
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var emptyContainer sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.PurchasePriceCents, &p.ConsumerPriceCents,
		&p.BusinessPriceCents, &p.Stock, &p.Returnable, &emptyContainer, &p.Active)
	if err != nil {
		return domain.Product{}, err
	}
	p.EmptyContainerID = emptyContainer.String
	return p, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, purchase_price_cents, consumer_price_cents,
			business_price_cents, stock, returnable, empty_container_id, active
		FROM products
		WHERE id = $1
	`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, purchase_price_cents, consumer_price_cents,
			business_price_cents, stock, returnable, empty_container_id, active
		FROM products
		WHERE active = true AND id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" {
		return nil, fmt.Errorf("%w: product id and name are required", store.ErrValidation)
	}
	product.Active = true
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (
			id, name, category, purchase_price_cents, consumer_price_cents,
			business_price_cents, stock, returnable, empty_container_id, active, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now(),now())
	`, product.ID, product.Name, product.Category, product.PurchasePriceCents, product.ConsumerPriceCents,
		product.BusinessPriceCents, product.Stock, product.Returnable, nullString(product.EmptyContainerID), product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: product %s already exists", store.ErrValidation, product.ID)
		}
		return nil, err
	}
	saved := product
	return &saved, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, purchase_price_cents = $4, consumer_price_cents = $5,
			business_price_cents = $6, stock = $7, returnable = $8, empty_container_id = $9,
			active = $10, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Category, product.PurchasePriceCents, product.ConsumerPriceCents,
		product.BusinessPriceCents, product.Stock, product.Returnable, nullString(product.EmptyContainerID), product.Active)
	if err != nil {
		return nil, err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, store.ErrNotFound
	}
	saved := product
	return &saved, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, phone, address, created_at
		FROM customers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		var phone, address sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &phone, &address, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Phone = phone.String
		c.Address = address.String
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	var phone, address sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, phone, address, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Type, &phone, &address, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Phone = phone.String
	c.Address = address.String
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" {
		return nil, fmt.Errorf("%w: customer name is required", store.ErrValidation)
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, type, phone, address, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, customer.ID, customer.Name, customer.Type, nullString(customer.Phone), nullString(customer.Address), customer.CreatedAt)
	if err != nil {
		return nil, err
	}
	saved := customer
	return &saved, nil
}

func (s *Store) GetTruckStock(ctx context.Context, truckID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, qty
		FROM truck_stocks
		WHERE truck_id = $1
	`, truckID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stock := make(map[string]int, 16)
	for rows.Next() {
		var productID string
		var qty int
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		stock[productID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stock, nil
}

func (s *Store) GetTruckQuantity(ctx context.Context, truckID string, productID string) (int, error) {
	var qty int
	err := s.db.QueryRowContext(ctx, `
		SELECT qty FROM truck_stocks WHERE truck_id = $1 AND product_id = $2
	`, truckID, productID).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return qty, nil
}

// AdjustTruckStock applies the delta with a guarded UPSERT. The check
// constraint on qty turns a would-be negative balance into
// ErrInsufficientStock without a read-modify-write race.
func (s *Store) AdjustTruckStock(ctx context.Context, truckID string, productID string, delta int) error {
	if truckID == "" || productID == "" {
		return fmt.Errorf("%w: truck and product are required", store.ErrValidation)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO truck_stocks (truck_id, product_id, qty, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (truck_id, product_id)
		DO UPDATE SET qty = truck_stocks.qty + $3, updated_at = now()
	`, truckID, productID, delta)
	if err != nil {
		if isCheckViolation(err) {
			qty, qtyErr := s.GetTruckQuantity(ctx, truckID, productID)
			if qtyErr != nil {
				qty = 0
			}
			return fmt.Errorf("%w: product %s has %d on truck %s", store.ErrInsufficientStock, productID, qty, truckID)
		}
		return err
	}
	return nil
}

func (s *Store) CreateCashSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error) {
	if session.DistributorID == "" {
		return nil, fmt.Errorf("%w: distributor is required", store.ErrValidation)
	}
	if session.ID == "" {
		session.ID = xid.New("caja")
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	session.IsClosed = false
	session.ClosingID = ""

	opening, err := json.Marshal(session.OpeningCash)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cash_sessions (id, distributor_id, distributor_name, truck_id, opening_cash, is_closed, closing_id, opened_at)
		VALUES ($1,$2,$3,$4,$5,false,NULL,$6)
	`, session.ID, session.DistributorID, session.DistributorName, nullString(session.TruckID), opening, session.OpenedAt)
	if err != nil {
		// Partial unique index on (distributor_id) WHERE NOT is_closed.
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: distributor %s", store.ErrSessionAlreadyOpen, session.DistributorID)
		}
		return nil, err
	}
	saved := session
	return &saved, nil
}

func scanCashSession(row rowScanner) (*domain.CashSession, error) {
	var session domain.CashSession
	var truckID, closingID sql.NullString
	var opening []byte
	err := row.Scan(&session.ID, &session.DistributorID, &session.DistributorName,
		&truckID, &opening, &session.IsClosed, &closingID, &session.OpenedAt)
	if err != nil {
		return nil, err
	}
	session.TruckID = truckID.String
	session.ClosingID = closingID.String
	session.OpenedAt = session.OpenedAt.UTC()
	if len(opening) > 0 {
		if err := json.Unmarshal(opening, &session.OpeningCash); err != nil {
			return nil, err
		}
	}
	return &session, nil
}

func (s *Store) GetCashSession(ctx context.Context, id string) (*domain.CashSession, error) {
	session, err := scanCashSession(s.db.QueryRowContext(ctx, `
		SELECT id, distributor_id, distributor_name, truck_id, opening_cash, is_closed, closing_id, opened_at
		FROM cash_sessions
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return session, err
}

func (s *Store) GetActiveCashSession(ctx context.Context, distributorID string) (*domain.CashSession, error) {
	session, err := scanCashSession(s.db.QueryRowContext(ctx, `
		SELECT id, distributor_id, distributor_name, truck_id, opening_cash, is_closed, closing_id, opened_at
		FROM cash_sessions
		WHERE distributor_id = $1 AND is_closed = false
		ORDER BY opened_at DESC
		LIMIT 1
	`, distributorID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return session, err
}

func (s *Store) CloseCashSession(ctx context.Context, closing domain.CashClosing) (*domain.CashClosing, error) {
	if closing.ID == "" {
		closing.ID = xid.New("cierre")
	}
	if closing.CreatedAt.IsZero() {
		closing.CreatedAt = time.Now().UTC()
	}
	counted, err := json.Marshal(closing.CountedCash)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE cash_sessions
		SET is_closed = true, closing_id = $3
		WHERE id = $1 AND distributor_id = $2 AND is_closed = false
	`, closing.OpeningID, closing.DistributorID, closing.ID)
	if err != nil {
		return nil, err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%w: opening %s for %s", store.ErrNoMatchingOpenSession, closing.OpeningID, closing.DistributorID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cash_closings (id, opening_id, distributor_id, counted_cash, expected_cents, variance_cents, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, closing.ID, closing.OpeningID, closing.DistributorID, counted, closing.ExpectedCents, closing.VarianceCents, closing.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := closing
	return &saved, nil
}

func (s *Store) GetCashClosing(ctx context.Context, id string) (*domain.CashClosing, error) {
	var closing domain.CashClosing
	var counted []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, opening_id, distributor_id, counted_cash, expected_cents, variance_cents, created_at
		FROM cash_closings
		WHERE id = $1
	`, id).Scan(&closing.ID, &closing.OpeningID, &closing.DistributorID, &counted,
		&closing.ExpectedCents, &closing.VarianceCents, &closing.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	closing.CreatedAt = closing.CreatedAt.UTC()
	if len(counted) > 0 {
		if err := json.Unmarshal(counted, &closing.CountedCash); err != nil {
			return nil, err
		}
	}
	return &closing, nil
}

func (s *Store) UpdateCashClosing(ctx context.Context, closing domain.CashClosing) (*domain.CashClosing, error) {
	counted, err := json.Marshal(closing.CountedCash)
	if err != nil {
		return nil, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE cash_closings
		SET counted_cash = $2, expected_cents = $3, variance_cents = $4
		WHERE id = $1
	`, closing.ID, counted, closing.ExpectedCents, closing.VarianceCents)
	if err != nil {
		return nil, err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetCashClosing(ctx, closing.ID)
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.CustomerID == "" || sale.CashSessionID == "" || len(sale.Items) == 0 {
		return nil, fmt.Errorf("%w: sale needs a customer, a cash session and items", store.ErrValidation)
	}
	if sale.ID == "" {
		sale.ID = xid.New("venta")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	items, err := json.Marshal(sale.Items)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sales (
			id, customer_id, distributor_id, cash_session_id, truck_id, items,
			total_cents, paid_cents, credit_cents, payment_kind, managed_order_id, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, sale.ID, sale.CustomerID, sale.DistributorID, sale.CashSessionID, sale.TruckID, items,
		sale.TotalCents, sale.PaidCents, sale.CreditCents, sale.PaymentKind, nullString(sale.ManagedOrderID), sale.CreatedAt)
	if err != nil {
		return nil, err
	}
	saved := sale
	return &saved, nil
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var managedOrderID sql.NullString
	var items []byte
	err := row.Scan(&sale.ID, &sale.CustomerID, &sale.DistributorID, &sale.CashSessionID,
		&sale.TruckID, &items, &sale.TotalCents, &sale.PaidCents, &sale.CreditCents,
		&sale.PaymentKind, &managedOrderID, &sale.CreatedAt)
	if err != nil {
		return nil, err
	}
	sale.ManagedOrderID = managedOrderID.String
	sale.CreatedAt = sale.CreatedAt.UTC()
	if len(items) > 0 {
		if err := json.Unmarshal(items, &sale.Items); err != nil {
			return nil, err
		}
	}
	return &sale, nil
}

const saleColumns = `id, customer_id, distributor_id, cash_session_id, truck_id, items,
	total_cents, paid_cents, credit_cents, payment_kind, managed_order_id, created_at`

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return sale, err
}

func (s *Store) UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	items, err := json.Marshal(sale.Items)
	if err != nil {
		return nil, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET customer_id = $2, truck_id = $3, items = $4, total_cents = $5,
			paid_cents = $6, credit_cents = $7, payment_kind = $8
		WHERE id = $1
	`, sale.ID, sale.CustomerID, sale.TruckID, items, sale.TotalCents,
		sale.PaidCents, sale.CreditCents, sale.PaymentKind)
	if err != nil {
		return nil, err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, store.ErrNotFound
	}
	saved := sale
	return &saved, nil
}

func (s *Store) DeleteSale(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) querySales(ctx context.Context, query string, args ...any) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) ListSalesBySession(ctx context.Context, sessionID string) ([]domain.Sale, error) {
	return s.querySales(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE cash_session_id = $1 ORDER BY created_at, id`, sessionID)
}

func (s *Store) ListSalesByDistributor(ctx context.Context, distributorID string, from time.Time, to time.Time) ([]domain.Sale, error) {
	return s.querySales(ctx,
		`SELECT `+saleColumns+` FROM sales
		 WHERE distributor_id = $1 AND created_at >= $2 AND created_at < $3
		 ORDER BY created_at, id`, distributorID, from, to)
}

func (s *Store) CreateReceivable(ctx context.Context, receivable domain.Receivable) (*domain.Receivable, error) {
	if receivable.CustomerID == "" || receivable.SaleID == "" || receivable.OriginalCents <= 0 {
		return nil, fmt.Errorf("%w: receivable needs a customer, a sale and a positive amount", store.ErrValidation)
	}
	if receivable.ID == "" {
		receivable.ID = xid.New("cxc")
	}
	if receivable.CreatedAt.IsZero() {
		receivable.CreatedAt = time.Now().UTC()
	}
	receivable.BalanceCents = receivable.OriginalCents
	payments, err := json.Marshal(receivable.Payments)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO receivables (id, customer_id, sale_id, original_cents, balance_cents, payments, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, receivable.ID, receivable.CustomerID, receivable.SaleID, receivable.OriginalCents,
		receivable.BalanceCents, payments, receivable.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sale %s already has a receivable", store.ErrValidation, receivable.SaleID)
		}
		return nil, err
	}
	saved := receivable
	return &saved, nil
}

func scanReceivable(row rowScanner) (*domain.Receivable, error) {
	var receivable domain.Receivable
	var payments []byte
	err := row.Scan(&receivable.ID, &receivable.CustomerID, &receivable.SaleID,
		&receivable.OriginalCents, &receivable.BalanceCents, &payments, &receivable.CreatedAt)
	if err != nil {
		return nil, err
	}
	receivable.CreatedAt = receivable.CreatedAt.UTC()
	if len(payments) > 0 {
		if err := json.Unmarshal(payments, &receivable.Payments); err != nil {
			return nil, err
		}
	}
	return &receivable, nil
}

func (s *Store) GetReceivable(ctx context.Context, id string) (*domain.Receivable, error) {
	receivable, err := scanReceivable(s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, sale_id, original_cents, balance_cents, payments, created_at
		FROM receivables
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return receivable, err
}

func (s *Store) GetReceivableBySale(ctx context.Context, saleID string) (*domain.Receivable, error) {
	receivable, err := scanReceivable(s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, sale_id, original_cents, balance_cents, payments, created_at
		FROM receivables
		WHERE sale_id = $1
	`, saleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return receivable, err
}

func (s *Store) ListReceivablesByCustomer(ctx context.Context, customerID string) ([]domain.Receivable, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, sale_id, original_cents, balance_cents, payments, created_at
		FROM receivables
		WHERE customer_id = $1
		ORDER BY created_at, id
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	receivables := make([]domain.Receivable, 0, 16)
	for rows.Next() {
		receivable, err := scanReceivable(rows)
		if err != nil {
			return nil, err
		}
		receivables = append(receivables, *receivable)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receivables, nil
}

func (s *Store) UpdateReceivable(ctx context.Context, receivable domain.Receivable) (*domain.Receivable, error) {
	if receivable.BalanceCents < 0 {
		return nil, fmt.Errorf("%w: receivable balance must not go negative", store.ErrValidation)
	}
	payments, err := json.Marshal(receivable.Payments)
	if err != nil {
		return nil, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE receivables
		SET balance_cents = $2, payments = $3
		WHERE id = $1
	`, receivable.ID, receivable.BalanceCents, payments)
	if err != nil {
		return nil, err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, store.ErrNotFound
	}
	saved := receivable
	return &saved, nil
}

func (s *Store) DeleteReceivable(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM receivables WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.DistributorID == "" || expense.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: expense needs a distributor and a positive amount", store.ErrValidation)
	}
	if expense.ID == "" {
		expense.ID = xid.New("gasto")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, distributor_id, cash_session_id, category, description, amount_cents, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, expense.ID, expense.DistributorID, nullString(expense.CashSessionID), expense.Category,
		nullString(expense.Description), expense.AmountCents, expense.CreatedAt)
	if err != nil {
		return nil, err
	}
	saved := expense
	return &saved, nil
}

func scanExpense(row rowScanner) (domain.Expense, error) {
	var expense domain.Expense
	var sessionID, description sql.NullString
	err := row.Scan(&expense.ID, &expense.DistributorID, &sessionID, &expense.Category,
		&description, &expense.AmountCents, &expense.CreatedAt)
	if err != nil {
		return domain.Expense{}, err
	}
	expense.CashSessionID = sessionID.String
	expense.Description = description.String
	expense.CreatedAt = expense.CreatedAt.UTC()
	return expense, nil
}

func (s *Store) GetExpense(ctx context.Context, id string) (*domain.Expense, error) {
	expense, err := scanExpense(s.db.QueryRowContext(ctx, `
		SELECT id, distributor_id, cash_session_id, category, description, amount_cents, created_at
		FROM expenses
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &expense, nil
}

func (s *Store) UpdateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: expense amount must be positive", store.ErrValidation)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE expenses
		SET category = $2, description = $3, amount_cents = $4
		WHERE id = $1
	`, expense.ID, expense.Category, nullString(expense.Description), expense.AmountCents)
	if err != nil {
		return nil, err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, store.ErrNotFound
	}
	saved := expense
	return &saved, nil
}

func (s *Store) DeleteExpense(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) queryExpenses(ctx context.Context, query string, args ...any) ([]domain.Expense, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, 16)
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

func (s *Store) ListExpensesBySession(ctx context.Context, sessionID string) ([]domain.Expense, error) {
	return s.queryExpenses(ctx, `
		SELECT id, distributor_id, cash_session_id, category, description, amount_cents, created_at
		FROM expenses
		WHERE cash_session_id = $1
		ORDER BY created_at, id
	`, sessionID)
}

func (s *Store) ListExpensesByDistributor(ctx context.Context, distributorID string, from time.Time, to time.Time) ([]domain.Expense, error) {
	return s.queryExpenses(ctx, `
		SELECT id, distributor_id, cash_session_id, category, description, amount_cents, created_at
		FROM expenses
		WHERE distributor_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at, id
	`, distributorID, from, to)
}

func (s *Store) CreateRefill(ctx context.Context, refill domain.Refill) (*domain.Refill, error) {
	if refill.DistributorID == "" || refill.TruckID == "" || len(refill.Items) == 0 {
		return nil, fmt.Errorf("%w: refill needs a distributor, a truck and items", store.ErrValidation)
	}
	if refill.ID == "" {
		refill.ID = xid.New("recarga")
	}
	if refill.CreatedAt.IsZero() {
		refill.CreatedAt = time.Now().UTC()
	}
	items, err := json.Marshal(refill.Items)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO refills (id, distributor_id, cash_session_id, truck_id, items, cost_cents, expense_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, refill.ID, refill.DistributorID, nullString(refill.CashSessionID), refill.TruckID, items,
		refill.CostCents, nullString(refill.ExpenseID), refill.CreatedAt)
	if err != nil {
		return nil, err
	}
	saved := refill
	return &saved, nil
}

func scanRefill(row rowScanner) (*domain.Refill, error) {
	var refill domain.Refill
	var sessionID, expenseID sql.NullString
	var items []byte
	err := row.Scan(&refill.ID, &refill.DistributorID, &sessionID, &refill.TruckID,
		&items, &refill.CostCents, &expenseID, &refill.CreatedAt)
	if err != nil {
		return nil, err
	}
	refill.CashSessionID = sessionID.String
	refill.ExpenseID = expenseID.String
	refill.CreatedAt = refill.CreatedAt.UTC()
	if len(items) > 0 {
		if err := json.Unmarshal(items, &refill.Items); err != nil {
			return nil, err
		}
	}
	return &refill, nil
}

func (s *Store) GetRefill(ctx context.Context, id string) (*domain.Refill, error) {
	refill, err := scanRefill(s.db.QueryRowContext(ctx, `
		SELECT id, distributor_id, cash_session_id, truck_id, items, cost_cents, expense_id, created_at
		FROM refills
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return refill, err
}

func (s *Store) DeleteRefill(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM refills WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListRefillsByDistributor(ctx context.Context, distributorID string, from time.Time, to time.Time) ([]domain.Refill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, distributor_id, cash_session_id, truck_id, items, cost_cents, expense_id, created_at
		FROM refills
		WHERE distributor_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at, id
	`, distributorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refills := make([]domain.Refill, 0, 8)
	for rows.Next() {
		refill, err := scanRefill(rows)
		if err != nil {
			return nil, err
		}
		refills = append(refills, *refill)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return refills, nil
}

func (s *Store) CreateManagedOrder(ctx context.Context, order domain.ManagedOrder) (*domain.ManagedOrder, error) {
	if order.CustomerID == "" || len(order.Items) == 0 {
		return nil, fmt.Errorf("%w: order needs a customer and items", store.ErrValidation)
	}
	if order.ID == "" {
		order.ID = xid.New("pedido")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.Status = domain.OrderStatusPending
	order.CompletedAt = nil
	items, err := json.Marshal(order.Items)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO managed_orders (id, customer_id, items, status, created_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,NULL)
	`, order.ID, order.CustomerID, items, order.Status, order.CreatedAt)
	if err != nil {
		return nil, err
	}
	saved := order
	return &saved, nil
}

func scanManagedOrder(row rowScanner) (*domain.ManagedOrder, error) {
	var order domain.ManagedOrder
	var items []byte
	var completedAt sql.NullTime
	err := row.Scan(&order.ID, &order.CustomerID, &items, &order.Status, &order.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	if completedAt.Valid {
		at := completedAt.Time.UTC()
		order.CompletedAt = &at
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &order.Items); err != nil {
			return nil, err
		}
	}
	return &order, nil
}

func (s *Store) GetManagedOrder(ctx context.Context, id string) (*domain.ManagedOrder, error) {
	order, err := scanManagedOrder(s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, items, status, created_at, completed_at
		FROM managed_orders
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return order, err
}

func (s *Store) ListManagedOrders(ctx context.Context, status string) ([]domain.ManagedOrder, error) {
	query := `
		SELECT id, customer_id, items, status, created_at, completed_at
		FROM managed_orders`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.ManagedOrder, 0, 16)
	for rows.Next() {
		order, err := scanManagedOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) CompleteManagedOrder(ctx context.Context, id string, at time.Time) (*domain.ManagedOrder, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE managed_orders
		SET status = 'completed', completed_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, at)
	if err != nil {
		return nil, err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		if _, getErr := s.GetManagedOrder(ctx, id); errors.Is(getErr, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: order %s is already completed", store.ErrValidation, id)
	}
	return s.GetManagedOrder(ctx, id)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, distributor_id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, nullString(entry.DistributorID), entry.ActorID, entry.ActorRole,
		entry.Action, entry.EntityType, entry.EntityID, nullString(entry.Detail), entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, distributorID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `
		SELECT id, distributor_id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2`
	args := []any{from, to}
	if distributorID != "" {
		query += ` AND distributor_id = $3`
		args = append(args, distributorID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		var distID, detail sql.NullString
		if err := rows.Scan(&entry.ID, &distID, &entry.ActorID, &entry.ActorRole,
			&entry.Action, &entry.EntityType, &entry.EntityID, &detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.DistributorID = distID.String
		entry.Detail = detail.String
		entry.CreatedAt = entry.CreatedAt.UTC()
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if strings.TrimSpace(user.Username) == "" || user.Password == "" {
		return fmt.Errorf("%w: username and password are required", store.ErrValidation)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_accounts (username, password, name, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, user.Username, user.Password, user.Name, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s already exists", store.ErrValidation, user.Username)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, name, role, active, created_at
		FROM user_accounts
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Name, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_accounts SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}
