package store

import (
	"context"
	"errors"
	"time"

	"github.com/wash91/sitem-washo-distr-sub001/internal/domain"
)

var (
	ErrNotFound                 = errors.New("not found")
	ErrValidation               = errors.New("validation failed")
	ErrInsufficientStock        = errors.New("insufficient stock")
	ErrSessionAlreadyOpen       = errors.New("cash session already open")
	ErrNoOpenCashSession        = errors.New("no open cash session")
	ErrNoMatchingOpenSession    = errors.New("no matching open session")
	ErrOverpaymentRejected      = errors.New("overpayment rejected")
	ErrReceivableAlreadySettled = errors.New("receivable already settled")
)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	GetTruckStock(ctx context.Context, truckID string) (map[string]int, error)
	GetTruckQuantity(ctx context.Context, truckID string, productID string) (int, error)
	// AdjustTruckStock applies a signed quantity delta and rejects any
	// adjustment that would leave the quantity negative.
	AdjustTruckStock(ctx context.Context, truckID string, productID string, delta int) error

	CreateCashSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error)
	GetCashSession(ctx context.Context, id string) (*domain.CashSession, error)
	GetActiveCashSession(ctx context.Context, distributorID string) (*domain.CashSession, error)
	// CloseCashSession persists the closing and marks the referenced
	// session closed in one step.
	CloseCashSession(ctx context.Context, closing domain.CashClosing) (*domain.CashClosing, error)
	GetCashClosing(ctx context.Context, id string) (*domain.CashClosing, error)
	UpdateCashClosing(ctx context.Context, closing domain.CashClosing) (*domain.CashClosing, error)

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	DeleteSale(ctx context.Context, id string) error
	ListSalesBySession(ctx context.Context, sessionID string) ([]domain.Sale, error)
	ListSalesByDistributor(ctx context.Context, distributorID string, from time.Time, to time.Time) ([]domain.Sale, error)

	CreateReceivable(ctx context.Context, receivable domain.Receivable) (*domain.Receivable, error)
	GetReceivable(ctx context.Context, id string) (*domain.Receivable, error)
	GetReceivableBySale(ctx context.Context, saleID string) (*domain.Receivable, error)
	ListReceivablesByCustomer(ctx context.Context, customerID string) ([]domain.Receivable, error)
	UpdateReceivable(ctx context.Context, receivable domain.Receivable) (*domain.Receivable, error)
	DeleteReceivable(ctx context.Context, id string) error

	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	GetExpense(ctx context.Context, id string) (*domain.Expense, error)
	UpdateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	DeleteExpense(ctx context.Context, id string) error
	ListExpensesBySession(ctx context.Context, sessionID string) ([]domain.Expense, error)
	ListExpensesByDistributor(ctx context.Context, distributorID string, from time.Time, to time.Time) ([]domain.Expense, error)

	CreateRefill(ctx context.Context, refill domain.Refill) (*domain.Refill, error)
	GetRefill(ctx context.Context, id string) (*domain.Refill, error)
	DeleteRefill(ctx context.Context, id string) error
	ListRefillsByDistributor(ctx context.Context, distributorID string, from time.Time, to time.Time) ([]domain.Refill, error)

	CreateManagedOrder(ctx context.Context, order domain.ManagedOrder) (*domain.ManagedOrder, error)
	GetManagedOrder(ctx context.Context, id string) (*domain.ManagedOrder, error)
	ListManagedOrders(ctx context.Context, status string) ([]domain.ManagedOrder, error)
	CompleteManagedOrder(ctx context.Context, id string, at time.Time) (*domain.ManagedOrder, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, distributorID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
