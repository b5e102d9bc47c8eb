package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError marks caller-input problems so transports can answer 400
// instead of treating them as server faults.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func NewValidationError(msg string) error {
	return &ValidationError{msg: msg}
}

func Validationf(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// ErrNoInventoryRow is returned when a stock mutation targets a
// (product, variant/size+color, warehouse) combination that has no ledger row
// and the operation is not allowed to create one.
var ErrNoInventoryRow = errors.New("no inventory row found for item")

// ErrStockLevelExists is returned by AddInventory when a ledger row already
// exists for the requested combination. Callers should use UpdateInventory.
var ErrStockLevelExists = errors.New("inventory row already exists for this product/variant/warehouse")

// InsufficientStockError reports a reservation that asked for more than the
// product has across all matching rows while negative stock is disallowed.
type InsufficientStockError struct {
	ProductId int
	VariantId int
	Size      string
	Color     string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %s, available %s",
		e.ProductId, e.Requested.String(), e.Available.String())
}

func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}
