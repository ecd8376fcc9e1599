package services

import (
	"errors"
	"fmt"

	"github.com/hanko-field/orderledger/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the requested status is not a permitted successor.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderMissingTrackingInfo indicates shipped was requested without tracking number or carrier.
	ErrOrderMissingTrackingInfo = errors.New("order: missing tracking info")
	// ErrOrderInsufficientStock indicates a new order asks for more units than are in stock.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
	// ErrOrderStockReconciliation indicates stock could not be restored for a cancelled order.
	ErrOrderStockReconciliation = errors.New("order: stock reconciliation failed")
	// ErrOrderRepositoryFailure wraps storage failures. Its detail is logged, never returned to clients.
	ErrOrderRepositoryFailure = errors.New("order: repository failure")

	// ErrRefundInvalidInput signals a non-positive amount or a blank reason.
	ErrRefundInvalidInput = errors.New("refund: invalid input")
	// ErrRefundInvalidPaymentState indicates the order payment is not completed.
	ErrRefundInvalidPaymentState = errors.New("refund: invalid payment state")
	// ErrRefundExceedsLimit indicates the amount exceeds the remaining refundable balance.
	ErrRefundExceedsLimit = errors.New("refund: amount exceeds refundable balance")
)

var businessErrors = []error{
	ErrOrderInvalidInput,
	ErrOrderNotFound,
	ErrOrderInvalidTransition,
	ErrOrderMissingTrackingInfo,
	ErrOrderInsufficientStock,
	ErrOrderStockReconciliation,
	ErrOrderRepositoryFailure,
	ErrRefundInvalidInput,
	ErrRefundInvalidPaymentState,
	ErrRefundExceedsLimit,
}

// ErrorKind returns a stable label for err, used for metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, ErrOrderInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrOrderMissingTrackingInfo):
		return "missing_tracking_info"
	case errors.Is(err, ErrRefundInvalidPaymentState):
		return "invalid_payment_state"
	case errors.Is(err, ErrRefundExceedsLimit):
		return "refund_exceeds_limit"
	case errors.Is(err, ErrOrderInvalidInput), errors.Is(err, ErrRefundInvalidInput):
		return "validation"
	case errors.Is(err, ErrOrderInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrOrderStockReconciliation):
		return "stock_reconciliation"
	}
	return "persistence"
}

// mapRepositoryError translates storage errors into service sentinels. Errors that already
// carry a service sentinel pass through. Contention that outlived the transaction retries is a
// repository failure like any other.
func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range businessErrors {
		if errors.Is(err, known) {
			return err
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	}
	return fmt.Errorf("%w: %w", ErrOrderRepositoryFailure, err)
}
