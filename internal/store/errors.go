package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrInvalidTransaction     = errors.New("invalid transaction")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidPayment         = errors.New("invalid payment")
	ErrSaleNotEligible        = errors.New("sale not eligible")
	ErrReturnQuantityExceeded = errors.New("return quantity exceeded")
)

// InsufficientStockError reports the first product a plan would drive negative.
type InsufficientStockError struct {
	ProductID string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// ReturnQuantityError reports a return line asking for more than is left.
type ReturnQuantityError struct {
	SaleItemID string
	Requested  int64
	Remaining  int64
}

func (e *ReturnQuantityError) Error() string {
	return fmt.Sprintf("return quantity exceeded for sale item %s: requested %d, remaining %d", e.SaleItemID, e.Requested, e.Remaining)
}

func (e *ReturnQuantityError) Unwrap() error {
	return ErrReturnQuantityExceeded
}
