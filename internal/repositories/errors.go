package repositories

import "fmt"

// ProductErrorCode enumerates repository error causes for product stock operations.
type ProductErrorCode string

const (
	// ProductErrorUnknown represents an unspecified failure.
	ProductErrorUnknown ProductErrorCode = "product_unknown"
	// ProductErrorNotFound indicates the referenced product document does not exist.
	ProductErrorNotFound ProductErrorCode = "product_not_found"
	// ProductErrorInsufficientStock indicates an adjustment would drive stock below zero.
	ProductErrorInsufficientStock ProductErrorCode = "product_insufficient_stock"
	// ProductErrorInvalidAdjustment indicates the caller supplied an empty product id or zero delta.
	ProductErrorInvalidAdjustment ProductErrorCode = "product_invalid_adjustment"
)

// ProductError wraps product stock failures with machine readable codes.
type ProductError struct {
	Op        string
	Code      ProductErrorCode
	ProductID string
	Message   string
	Err       error
}

func (e *ProductError) Error() string {
	if e == nil {
		return ""
	}
	return opMessage(e.Op, e.Message)
}

// Unwrap exposes the underlying error, if any.
func (e *ProductError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound lets services treat a missing product like other repository misses.
func (e *ProductError) IsNotFound() bool {
	return e != nil && e.Code == ProductErrorNotFound
}

// NewProductError constructs a typed product error.
func NewProductError(code ProductErrorCode, productID, message string, err error) *ProductError {
	if message == "" {
		message = string(code)
	}
	return &ProductError{
		Code:      code,
		ProductID: productID,
		Message:   message,
		Err:       err,
	}
}

// CounterErrorCode enumerates failure reasons for sequence operations.
type CounterErrorCode string

const (
	CounterErrorUnknown      CounterErrorCode = "counter_unknown"
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
)

// CounterError wraps sequence failures with machine readable codes.
type CounterError struct {
	Op      string
	Code    CounterErrorCode
	Message string
	Err     error
}

func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	return opMessage(e.Op, e.Message)
}

func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCounterError constructs a typed counter error.
func NewCounterError(code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{Code: code, Message: message, Err: err}
}

func opMessage(op, message string) string {
	if op == "" {
		return message
	}
	return fmt.Sprintf("%s: %s", op, message)
}
