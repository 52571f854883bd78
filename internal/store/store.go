package store

import (
	"context"
	"time"

	"barpos/backend/internal/domain"
)

// Repository is the persistence contract. Every method that writes more than
// one row is atomic: either all of its writes land or none do. Methods that
// touch stock balances never let a balance go below zero.
type Repository interface {
	CreateProduct(ctx context.Context, product domain.Product, initial *domain.InventoryMove) (domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (domain.Product, error)
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)

	GetRecipe(ctx context.Context, productID string) ([]domain.RecipeRow, error)
	ReplaceRecipe(ctx context.Context, productID string, rows []domain.RecipeRow) error

	ApplyMoves(ctx context.Context, moves []domain.InventoryMove) ([]domain.InventoryMove, error)
	GetMove(ctx context.Context, id string) (domain.InventoryMove, error)
	ListMoves(ctx context.Context, filter domain.MoveFilter) ([]domain.InventoryMove, error)
	UpdateMove(ctx context.Context, move domain.InventoryMove) (domain.InventoryMove, error)
	DeleteMove(ctx context.Context, id string) (domain.InventoryMove, error)
	LedgerSums(ctx context.Context) (map[string]int64, error)

	CreateTab(ctx context.Context, tab domain.Tab) (domain.Tab, error)
	GetTab(ctx context.Context, id string) (domain.Tab, error)
	ListTabs(ctx context.Context, filter domain.TabFilter) ([]domain.Tab, error)
	UpdateTab(ctx context.Context, tab domain.Tab) (domain.Tab, error)
	CloseTab(ctx context.Context, id string, at time.Time) (domain.Tab, int, error)
	ReopenTab(ctx context.Context, id string) (domain.Tab, error)
	ClearTab(ctx context.Context, id string) (int, error)
	DeleteTab(ctx context.Context, id string) error
	AddTabItem(ctx context.Context, item domain.TabItem, reservedBy string) (domain.TabItem, error)
	GetTabItem(ctx context.Context, tabID string, itemID string) (domain.TabItem, error)
	ListTabItems(ctx context.Context, tabID string) ([]domain.TabItem, error)
	UpdateTabItem(ctx context.Context, item domain.TabItem, reservedBy string) (domain.TabItem, error)
	DeleteTabItem(ctx context.Context, tabID string, itemID string) error

	AdjustReservation(ctx context.Context, tabID string, productID string, delta int64, reservedBy string) (*domain.StockReservation, error)
	ListReservations(ctx context.Context, tabID string) ([]domain.StockReservation, error)
	ReservationSummary(ctx context.Context, tabStatus string) ([]domain.ReservationSummaryItem, error)

	CreateSale(ctx context.Context, commit domain.SaleCommit) (domain.SaleDetail, error)
	GetSale(ctx context.Context, id string) (domain.SaleDetail, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	ListPayments(ctx context.Context, from *time.Time, to *time.Time) ([]domain.Payment, error)
	VoidSale(ctx context.Context, id string, reason string, userID string, at time.Time) (domain.SaleDetail, []domain.InventoryMove, error)
	CreateReturn(ctx context.Context, commit domain.ReturnCommit) (domain.SaleDetail, domain.SaleReturn, error)
	GetReturn(ctx context.Context, id string) (domain.SaleReturn, error)
	CreatePayment(ctx context.Context, payment domain.Payment) (domain.Payment, error)
	GetRefundPayment(ctx context.Context, returnID string) (domain.Payment, error)
	UpdateReturnRefund(ctx context.Context, returnID string, status string, paymentID string) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
