package domain

import "time"

const (
	CategoryFullEquipment  = "full_equipment"
	CategoryRefill         = "refill"
	CategoryPack           = "pack"
	CategoryAccessory      = "accessory"
	CategoryEmptyEquipment = "empty_equipment"
)

const (
	RoleAdmin       = "admin"
	RoleDistributor = "distributor"
)

const (
	PaymentCash   = "cash"
	PaymentCredit = "credit"
	PaymentMixed  = "mixed"
)

const (
	CustomerConsumer = "consumer"
	CustomerBusiness = "business"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
)

type Product struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Category           string `json:"category"`
	PurchasePriceCents int64  `json:"purchase_price_cents"`
	ConsumerPriceCents int64  `json:"consumer_price_cents"`
	BusinessPriceCents int64  `json:"business_price_cents"`
	Stock              int    `json:"stock"`
	Returnable         bool   `json:"returnable"`
	EmptyContainerID   string `json:"empty_container_id,omitempty"`
	Active             bool   `json:"active"`
}

type ProductCreateRequest struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Category           string `json:"category"`
	PurchasePriceCents int64  `json:"purchase_price_cents"`
	ConsumerPriceCents int64  `json:"consumer_price_cents"`
	BusinessPriceCents int64  `json:"business_price_cents"`
	Stock              int    `json:"stock"`
	Returnable         bool   `json:"returnable"`
	EmptyContainerID   string `json:"empty_container_id,omitempty"`
}

type ProductUpdateRequest struct {
	Name               *string `json:"name,omitempty"`
	PurchasePriceCents *int64  `json:"purchase_price_cents,omitempty"`
	ConsumerPriceCents *int64  `json:"consumer_price_cents,omitempty"`
	BusinessPriceCents *int64  `json:"business_price_cents,omitempty"`
	Stock              *int    `json:"stock,omitempty"`
	Active             *bool   `json:"active,omitempty"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// CashCount is one denomination line of a drawer count.
type CashCount struct {
	DenominationCents int64 `json:"denomination_cents"`
	Count             int   `json:"count"`
}

type CashBreakdown []CashCount

func (b CashBreakdown) TotalCents() int64 {
	var total int64
	for _, line := range b {
		total += line.DenominationCents * int64(line.Count)
	}
	return total
}

type CashSession struct {
	ID              string        `json:"id"`
	DistributorID   string        `json:"distributor_id"`
	DistributorName string        `json:"distributor_name"`
	TruckID         string        `json:"truck_id,omitempty"`
	OpeningCash     CashBreakdown `json:"opening_cash"`
	IsClosed        bool          `json:"is_closed"`
	ClosingID       string        `json:"closing_id,omitempty"`
	OpenedAt        time.Time     `json:"opened_at"`
}

type CashSessionOpenRequest struct {
	DistributorID string        `json:"distributor_id,omitempty"`
	TruckID       string        `json:"truck_id,omitempty"`
	OpeningCash   CashBreakdown `json:"opening_cash"`
}

type CashClosing struct {
	ID            string        `json:"id"`
	OpeningID     string        `json:"opening_id"`
	DistributorID string        `json:"distributor_id"`
	CountedCash   CashBreakdown `json:"counted_cash"`
	ExpectedCents int64         `json:"expected_cents"`
	VarianceCents int64         `json:"variance_cents"`
	CreatedAt     time.Time     `json:"created_at"`
}

type CashClosingRequest struct {
	OpeningID string `json:"opening_id"`
	// DistributorID lets an admin close a session on behalf of the
	// distributor who owns it. Non-admin callers always close their own.
	DistributorID string        `json:"distributor_id,omitempty"`
	CountedCash   CashBreakdown `json:"counted_cash"`
}

type CashClosingEditRequest struct {
	CountedCash CashBreakdown `json:"counted_cash"`
}

type SaleItem struct {
	ProductID      string `json:"product_id"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents,omitempty"`
	// ReturnedContainerID is the empty-container SKU handed back by the
	// customer; empty means no container returned (deposit surcharge is
	// already baked into the unit price by the caller).
	ReturnedContainerID string `json:"returned_container_id,omitempty"`
}

type Sale struct {
	ID             string     `json:"id"`
	CustomerID     string     `json:"customer_id"`
	DistributorID  string     `json:"distributor_id"`
	CashSessionID  string     `json:"cash_session_id"`
	TruckID        string     `json:"truck_id"`
	Items          []SaleItem `json:"items"`
	TotalCents     int64      `json:"total_cents"`
	PaidCents      int64      `json:"paid_cents"`
	CreditCents    int64      `json:"credit_cents"`
	PaymentKind    string     `json:"payment_kind"`
	ManagedOrderID string     `json:"managed_order_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type SaleRequest struct {
	CustomerID     string     `json:"customer_id"`
	DistributorID  string     `json:"distributor_id,omitempty"`
	TruckID        string     `json:"truck_id"`
	Items          []SaleItem `json:"items"`
	PaidCents      int64      `json:"paid_cents"`
	ManagedOrderID string     `json:"managed_order_id,omitempty"`
}

type ReceivablePayment struct {
	AmountCents int64     `json:"amount_cents"`
	PaidAt      time.Time `json:"paid_at"`
}

type Receivable struct {
	ID            string              `json:"id"`
	CustomerID    string              `json:"customer_id"`
	SaleID        string              `json:"sale_id"`
	OriginalCents int64               `json:"original_cents"`
	BalanceCents  int64               `json:"balance_cents"`
	Payments      []ReceivablePayment `json:"payments"`
	CreatedAt     time.Time           `json:"created_at"`
}

type ReceivablePaymentRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

type Expense struct {
	ID            string    `json:"id"`
	DistributorID string    `json:"distributor_id"`
	CashSessionID string    `json:"cash_session_id,omitempty"`
	Category      string    `json:"category"`
	Description   string    `json:"description"`
	AmountCents   int64     `json:"amount_cents"`
	CreatedAt     time.Time `json:"created_at"`
}

type ExpenseRequest struct {
	DistributorID string `json:"distributor_id,omitempty"`
	Category      string `json:"category"`
	Description   string `json:"description"`
	AmountCents   int64  `json:"amount_cents"`
}

type RefillItem struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type Refill struct {
	ID            string       `json:"id"`
	DistributorID string       `json:"distributor_id"`
	CashSessionID string       `json:"cash_session_id,omitempty"`
	TruckID       string       `json:"truck_id"`
	Items         []RefillItem `json:"items"`
	CostCents     int64        `json:"cost_cents"`
	ExpenseID     string       `json:"expense_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

type RefillRequest struct {
	DistributorID string       `json:"distributor_id,omitempty"`
	TruckID       string       `json:"truck_id"`
	Items         []RefillItem `json:"items"`
	CostCents     int64        `json:"cost_cents"`
}

type OrderItem struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type ManagedOrder struct {
	ID          string      `json:"id"`
	CustomerID  string      `json:"customer_id"`
	Items       []OrderItem `json:"items"`
	Status      string      `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

type ManagedOrderCreateRequest struct {
	CustomerID string      `json:"customer_id"`
	Items      []OrderItem `json:"items"`
}

// SessionStatement is the read-side view of one cash session: everything
// recorded while it was open plus the running expected-cash figure.
type SessionStatement struct {
	Session          CashSession `json:"session"`
	Sales            []Sale      `json:"sales"`
	Expenses         []Expense   `json:"expenses"`
	CashSalesCents   int64       `json:"cash_sales_cents"`
	CreditSalesCents int64       `json:"credit_sales_cents"`
	ExpenseCents     int64       `json:"expense_cents"`
	ExpectedCents    int64       `json:"expected_cents"`
	Closing          *CashClosing `json:"closing,omitempty"`
}

type DaySummary struct {
	DistributorID    string `json:"distributor_id"`
	Date             string `json:"date"`
	Sales            int64  `json:"sales"`
	TotalCents       int64  `json:"total_cents"`
	CashCents        int64  `json:"cash_cents"`
	CreditCents      int64  `json:"credit_cents"`
	ExpenseCents     int64  `json:"expense_cents"`
	RefillCostCents  int64  `json:"refill_cost_cents"`
	OutstandingCents int64  `json:"outstanding_cents"`
}

type ReceivableStatement struct {
	CustomerID   string       `json:"customer_id"`
	Receivables  []Receivable `json:"receivables"`
	BalanceCents int64        `json:"balance_cents"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor identifies the authenticated caller. For distributors the ID is
// the distributor id that owns sessions, sales and trucks.
type Actor struct {
	ID   string
	Name string
	Role string
}

type AuditLog struct {
	ID            string    `json:"id"`
	DistributorID string    `json:"distributor_id"`
	ActorID       string    `json:"actor_id"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Name      string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type DistributorCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}
