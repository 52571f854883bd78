package domain

import "time"

const (
	KindStandard = "STANDARD"
	KindBase     = "BASE"
	KindAccomp   = "ACCOMP"
	KindCocktail = "COCKTAIL"
)

const (
	RoleBase   = "BASE"
	RoleAccomp = "ACCOMP"
)

const (
	MoveIn           = "IN"
	MoveOut          = "OUT"
	MoveAdjust       = "ADJUST"
	MoveSale         = "SALE"
	MoveRecipeUse    = "RECIPE_USE"
	MoveAccompUse    = "ACCOMP_USE"
	MoveReturn       = "RETURN"
	MoveReturnRecipe = "RETURN_RECIPE"
	MoveReturnAccomp = "RETURN_ACCOMP"
	MoveVoidReversal = "VOID_REVERSAL"
)

const (
	SaleStatusCompleted     = "COMPLETED"
	SaleStatusPartialRefund = "PARTIAL_REFUND"
	SaleStatusRefunded      = "REFUNDED"
	SaleStatusVoided        = "VOIDED"
)

const (
	TabStatusOpen   = "OPEN"
	TabStatusClosed = "CLOSED"
	TabStatusAll    = "ALL"
)

const (
	PaymentCash     = "CASH"
	PaymentCard     = "CARD"
	PaymentTransfer = "TRANSFER"
	PaymentOther    = "OTHER"
)

const (
	ProviderNequi     = "NEQUI"
	ProviderDaviplata = "DAVIPLATA"
)

const (
	RefundPaymentNotRequested = "NOT_REQUESTED"
	RefundPaymentPending      = "PENDING"
	RefundPaymentRecorded     = "RECORDED"
	RefundPaymentFailed       = "FAILED"
)

type Product struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	PriceCents int64     `json:"price_cents"`
	Stock      int64     `json:"stock"`
	MinStock   int64     `json:"min_stock"`
	Active     bool      `json:"is_active"`
	Kind       string    `json:"kind"`
	Measure    string    `json:"measure"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// StockTracked reports whether the product keeps a stock balance of its own.
func (p Product) StockTracked() bool {
	return p.Kind != KindCocktail
}

type ProductCreateRequest struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	PriceCents   int64  `json:"price_cents"`
	MinStock     int64  `json:"min_stock"`
	Kind         string `json:"kind"`
	Measure      string `json:"measure,omitempty"`
	InitialStock int64  `json:"initial_stock"`
}

type ProductUpdateRequest struct {
	Name       *string `json:"name,omitempty"`
	Category   *string `json:"category,omitempty"`
	PriceCents *int64  `json:"price_cents,omitempty"`
	MinStock   *int64  `json:"min_stock,omitempty"`
	Active     *bool   `json:"is_active,omitempty"`
	Measure    *string `json:"measure,omitempty"`
}

type ProductFilter struct {
	Kind       string
	Query      string
	ActiveOnly bool
}

// RecipeRow is one bill-of-materials line of a cocktail.
type RecipeRow struct {
	ProductID    string  `json:"product_id"`
	IngredientID string  `json:"ingredient_id"`
	Qty          float64 `json:"qty"`
	Unit         string  `json:"unit"`
	Role         string  `json:"role"`
	Note         string  `json:"note,omitempty"`
}

type RecipeRowInput struct {
	IngredientID string  `json:"ingredient_id"`
	Qty          float64 `json:"qty"`
	Unit         string  `json:"unit,omitempty"`
	Role         string  `json:"role"`
	Note         string  `json:"note,omitempty"`
}

type RecipeSetRequest struct {
	Items []RecipeRowInput `json:"items"`
}

type RecipeLine struct {
	RecipeRow
	IngredientName    string `json:"ingredient_name"`
	IngredientKind    string `json:"ingredient_kind"`
	IngredientMeasure string `json:"ingredient_measure"`
}

type Recipe struct {
	ProductID string       `json:"product_id"`
	Name      string       `json:"name"`
	Items     []RecipeLine `json:"items"`
}

// InventoryMove is one immutable signed entry of the stock ledger.
type InventoryMove struct {
	ID            string     `json:"id"`
	ProductID     string     `json:"product_id"`
	Qty           int64      `json:"qty"`
	Type          string     `json:"type"`
	SourceRef     string     `json:"source_ref,omitempty"`
	Note          string     `json:"note,omitempty"`
	UserID        string     `json:"user_id,omitempty"`
	Location      string     `json:"location,omitempty"`
	SupplierName  string     `json:"supplier_name,omitempty"`
	InvoiceNumber string     `json:"invoice_number,omitempty"`
	UnitCostCents *int64     `json:"unit_cost_cents,omitempty"`
	DiscountCents *int64     `json:"discount_cents,omitempty"`
	TaxCents      *int64     `json:"tax_cents,omitempty"`
	Lot           string     `json:"lot,omitempty"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
	StockAfter    int64      `json:"stock_after"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CostTotalCents is unit cost times quantity, less discount, plus tax.
// It is derived on read and never stored.
func (m InventoryMove) CostTotalCents() *int64 {
	if m.UnitCostCents == nil {
		return nil
	}
	qty := m.Qty
	if qty < 0 {
		qty = -qty
	}
	total := *m.UnitCostCents * qty
	if m.DiscountCents != nil {
		total -= *m.DiscountCents
	}
	if m.TaxCents != nil {
		total += *m.TaxCents
	}
	return &total
}

type MoveView struct {
	InventoryMove
	CostTotalCents *int64 `json:"cost_total_cents,omitempty"`
}

type MoveCreateRequest struct {
	ProductID     string `json:"product_id"`
	Qty           int64  `json:"qty"`
	Type          string `json:"type"`
	SourceRef     string `json:"source_ref,omitempty"`
	Note          string `json:"note,omitempty"`
	Location      string `json:"location,omitempty"`
	SupplierName  string `json:"supplier_name,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
	UnitCostCents *int64 `json:"unit_cost_cents,omitempty"`
	DiscountCents *int64 `json:"discount_cents,omitempty"`
	TaxCents      *int64 `json:"tax_cents,omitempty"`
	Lot           string `json:"lot,omitempty"`
	ExpiryDate    string `json:"expiry_date,omitempty"`
}

type MoveUpdateRequest struct {
	Qty           *int64  `json:"qty,omitempty"`
	Note          *string `json:"note,omitempty"`
	Location      *string `json:"location,omitempty"`
	SupplierName  *string `json:"supplier_name,omitempty"`
	InvoiceNumber *string `json:"invoice_number,omitempty"`
	UnitCostCents *int64  `json:"unit_cost_cents,omitempty"`
	DiscountCents *int64  `json:"discount_cents,omitempty"`
	TaxCents      *int64  `json:"tax_cents,omitempty"`
	Lot           *string `json:"lot,omitempty"`
	ExpiryDate    *string `json:"expiry_date,omitempty"`
}

type MoveFilter struct {
	ProductID string
	Type      string
	SourceRef string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

type ReceiveLine struct {
	ProductID     string  `json:"product_id"`
	Qty           float64 `json:"qty"`
	Unit          string  `json:"unit,omitempty"`
	UnitCostCents *int64  `json:"unit_cost_cents,omitempty"`
	DiscountCents *int64  `json:"discount_cents,omitempty"`
	TaxCents      *int64  `json:"tax_cents,omitempty"`
	Lot           string  `json:"lot,omitempty"`
	ExpiryDate    string  `json:"expiry_date,omitempty"`
}

type ReceiveRequest struct {
	Items         []ReceiveLine `json:"items"`
	Location      string        `json:"location,omitempty"`
	SupplierName  string        `json:"supplier_name,omitempty"`
	InvoiceNumber string        `json:"invoice_number,omitempty"`
	Note          string        `json:"note,omitempty"`
}

type ReceiveResponse struct {
	ReceiptID string          `json:"receipt_id"`
	Moves     []InventoryMove `json:"moves"`
}

type AdjustRequest struct {
	ProductID string `json:"product_id"`
	Stock     int64  `json:"stock"`
	Note      string `json:"note,omitempty"`
	Location  string `json:"location,omitempty"`
}

type AdjustResponse struct {
	Product Product        `json:"product"`
	Move    *InventoryMove `json:"move,omitempty"`
}

type LowStockItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Measure   string `json:"measure"`
	Stock     int64  `json:"stock"`
	MinStock  int64  `json:"min_stock"`
}

type LedgerMismatch struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Stock     int64  `json:"stock"`
	LedgerSum int64  `json:"ledger_sum"`
}

type LedgerAudit struct {
	CheckedProducts int              `json:"checked_products"`
	Mismatches      []LedgerMismatch `json:"mismatches"`
	CheckedAt       time.Time        `json:"checked_at"`
}

// StockReservation is a soft claim by an open tab. It never touches Product.Stock.
type StockReservation struct {
	ID         string     `json:"id"`
	ProductID  string     `json:"product_id"`
	TabID      string     `json:"tab_id"`
	Qty        int64      `json:"qty"`
	ReservedBy string     `json:"reserved_by,omitempty"`
	Consumed   bool       `json:"consumed"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	SourceRef  string     `json:"source_ref,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type ReservationRequest struct {
	TabID     string `json:"tab_id"`
	ProductID string `json:"product_id"`
	Qty       int64  `json:"qty"`
}

type ReservationSummaryItem struct {
	ProductID   string `json:"product_id"`
	ReservedQty int64  `json:"reserved_qty"`
}

type ProductAvailability struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	Kind           string `json:"kind"`
	Measure        string `json:"measure"`
	Stock          int64  `json:"stock"`
	Reserved       int64  `json:"reserved"`
	Available      int64  `json:"available"`
	MinStock       int64  `json:"min_stock"`
	LowStock       bool   `json:"low_stock"`
	Oversubscribed bool   `json:"oversubscribed"`
}

type AvailabilityReport struct {
	Items      []ProductAvailability `json:"items"`
	Unresolved []string              `json:"unresolved,omitempty"`
	CheckedAt  time.Time             `json:"checked_at"`
}

type Tab struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Status   string     `json:"status"`
	UserID   string     `json:"user_id,omitempty"`
	Notes    string     `json:"notes,omitempty"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}

type TabItem struct {
	ID                string    `json:"id"`
	TabID             string    `json:"tab_id"`
	ProductID         string    `json:"product_id"`
	Qty               int64     `json:"qty"`
	UnitPriceCents    int64     `json:"unit_price_cents"`
	LineDiscountCents int64     `json:"line_discount_cents"`
	TaxRate           *float64  `json:"tax_rate,omitempty"`
	TaxCents          int64     `json:"tax_cents"`
	LineTotalCents    int64     `json:"line_total_cents"`
	NameSnapshot      string    `json:"name_snapshot"`
	CategorySnapshot  string    `json:"category_snapshot,omitempty"`
	AddedAt           time.Time `json:"added_at"`
}

type TabTotals struct {
	ItemsCount    int64 `json:"items_count"`
	SubtotalCents int64 `json:"subtotal_cents"`
	DiscountCents int64 `json:"discount_cents"`
	TaxCents      int64 `json:"tax_cents"`
	TotalCents    int64 `json:"total_cents"`
}

type TabDetail struct {
	Tab          Tab                `json:"tab"`
	Items        []TabItem          `json:"items"`
	Totals       TabTotals          `json:"totals"`
	Reservations []StockReservation `json:"reservations"`
}

type TabCreateRequest struct {
	Name  string `json:"name"`
	Notes string `json:"notes,omitempty"`
}

type TabUpdateRequest struct {
	Name  *string `json:"name,omitempty"`
	Notes *string `json:"notes,omitempty"`
}

type TabFilter struct {
	Status string
	Query  string
	Limit  int
	Offset int
}

type TabItemRequest struct {
	ProductID         string   `json:"product_id"`
	Qty               int64    `json:"qty"`
	UnitPriceCents    *int64   `json:"unit_price_cents,omitempty"`
	LineDiscountCents *int64   `json:"line_discount_cents,omitempty"`
	TaxRate           *float64 `json:"tax_rate,omitempty"`
}

type TabItemUpdateRequest struct {
	Qty               *int64   `json:"qty,omitempty"`
	UnitPriceCents    *int64   `json:"unit_price_cents,omitempty"`
	LineDiscountCents *int64   `json:"line_discount_cents,omitempty"`
	TaxRate           *float64 `json:"tax_rate,omitempty"`
	ClearTaxRate      bool     `json:"clear_tax_rate,omitempty"`
}

type TabItemResponse struct {
	Item     TabItem               `json:"item"`
	Warnings []ProductAvailability `json:"warnings,omitempty"`
}

// TabSalePayload is an open tab shaped as a sale request.
type TabSalePayload struct {
	TabID   string            `json:"tab_id"`
	TabName string            `json:"tab_name"`
	Totals  TabTotals         `json:"totals"`
	Items   []SaleLineRequest `json:"items"`
}

type Sale struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Status        string     `json:"status"`
	SubtotalCents int64      `json:"subtotal_cents"`
	DiscountCents int64      `json:"discount_total_cents"`
	TaxCents      int64      `json:"tax_total_cents"`
	TotalCents    int64      `json:"total_cents"`
	Notes         string     `json:"notes,omitempty"`
	Client        string     `json:"client,omitempty"`
	TabID         string     `json:"tab_id,omitempty"`
	VoidReason    string     `json:"void_reason,omitempty"`
	VoidedBy      string     `json:"voided_by,omitempty"`
	VoidedAt      *time.Time `json:"voided_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// SaleItem is the line snapshot taken at commit time. It is never updated.
type SaleItem struct {
	ID                string   `json:"id"`
	SaleID            string   `json:"sale_id"`
	ProductID         string   `json:"product_id"`
	Kind              string   `json:"kind"`
	Qty               int64    `json:"qty"`
	UnitPriceCents    int64    `json:"unit_price_cents"`
	LineDiscountCents int64    `json:"line_discount_cents"`
	TaxRate           *float64 `json:"tax_rate,omitempty"`
	TaxCents          int64    `json:"tax_cents"`
	LineTotalCents    int64    `json:"line_total_cents"`
	NameSnapshot      string   `json:"name_snapshot"`
	CategorySnapshot  string   `json:"category_snapshot,omitempty"`
}

// Payment amounts are signed; a negative amount is a refund.
type Payment struct {
	ID               string    `json:"id"`
	SaleID           string    `json:"sale_id"`
	ReturnID         string    `json:"return_id,omitempty"`
	Method           string    `json:"method"`
	Provider         string    `json:"provider,omitempty"`
	AmountCents      int64     `json:"amount_cents"`
	ChangeGivenCents int64     `json:"change_given_cents"`
	Reference        string    `json:"reference,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type SaleReturnItem struct {
	SaleItemID      string `json:"sale_item_id"`
	ProductID       string `json:"product_id"`
	NameSnapshot    string `json:"name_snapshot,omitempty"`
	Qty             int64  `json:"qty"`
	UnitRefundCents int64  `json:"unit_refund_cents"`
	AmountCents     int64  `json:"amount_cents"`
}

type SaleReturn struct {
	ID                  string           `json:"id"`
	SaleID              string           `json:"sale_id"`
	UserID              string           `json:"user_id"`
	Items               []SaleReturnItem `json:"items"`
	AmountCents         int64            `json:"amount_cents"`
	RecordRefundPayment bool             `json:"record_refund_payment"`
	RefundPaymentStatus string           `json:"refund_payment_status"`
	RefundPaymentID     string           `json:"refund_payment_id,omitempty"`
	Note                string           `json:"note,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
}

type SaleDetail struct {
	Sale     Sale         `json:"sale"`
	Items    []SaleItem   `json:"items"`
	Payments []Payment    `json:"payments"`
	Returns  []SaleReturn `json:"returns"`
}

type SaleLineRequest struct {
	ProductID         string   `json:"product_id"`
	Qty               int64    `json:"qty"`
	UnitPriceCents    *int64   `json:"unit_price_cents,omitempty"`
	LineDiscountCents *int64   `json:"line_discount_cents,omitempty"`
	TaxRate           *float64 `json:"tax_rate,omitempty"`
}

type PaymentRequest struct {
	Method      string `json:"method"`
	Provider    string `json:"provider,omitempty"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference,omitempty"`
}

type SaleCreateRequest struct {
	Items    []SaleLineRequest `json:"items"`
	Payments []PaymentRequest  `json:"payments"`
	Notes    string            `json:"notes,omitempty"`
	Client   string            `json:"client,omitempty"`
	TabID    string            `json:"tab_id,omitempty"`
}

// SaleCommit is everything one sale writes. Stores apply it all or nothing.
type SaleCommit struct {
	Sale     Sale
	Items    []SaleItem
	Payments []Payment
	Moves    []InventoryMove
}

type SaleFilter struct {
	Status string
	UserID string
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

type VoidRequest struct {
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin,omitempty"`
}

type VoidResponse struct {
	Sale      SaleDetail      `json:"sale"`
	Reversals []InventoryMove `json:"reversals"`
}

type ReturnLineRequest struct {
	SaleItemID string `json:"sale_item_id"`
	Qty        int64  `json:"qty"`
}

type SaleReturnRequest struct {
	SaleID              string              `json:"sale_id"`
	Items               []ReturnLineRequest `json:"items"`
	RecordRefundPayment bool                `json:"record_refund_payment"`
	Note                string              `json:"note,omitempty"`
}

// ReturnCommit is the return record plus the stock credits it writes.
type ReturnCommit struct {
	Return SaleReturn
	Moves  []InventoryMove
}

type ReturnResponse struct {
	Sale   SaleDetail `json:"sale"`
	Return SaleReturn `json:"return"`
}

type StatusTotal struct {
	Status     string `json:"status"`
	Sales      int    `json:"sales"`
	TotalCents int64  `json:"total_cents"`
}

type PaymentTotal struct {
	Method      string `json:"method"`
	Provider    string `json:"provider,omitempty"`
	Payments    int    `json:"payments"`
	AmountCents int64  `json:"amount_cents"`
}

type SalesSummary struct {
	From          *time.Time     `json:"from,omitempty"`
	To            *time.Time     `json:"to,omitempty"`
	Sales         int            `json:"sales"`
	SubtotalCents int64          `json:"subtotal_cents"`
	DiscountCents int64          `json:"discount_total_cents"`
	TaxCents      int64          `json:"tax_total_cents"`
	TotalCents    int64          `json:"total_cents"`
	RefundedCents int64          `json:"refunded_cents"`
	ByStatus      []StatusTotal  `json:"by_status"`
	ByPayment     []PaymentTotal `json:"by_payment"`
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

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
