package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/hanko-field/orderledger/internal/domain"
)

// IssueRefund appends a refund to the order ledger. Eligibility is checked against the
// snapshot read before the transaction and again against the state read inside it, so two
// concurrent refunds can never push the total refunded past the order total.
func (s *orderService) IssueRefund(ctx context.Context, cmd IssueRefundCommand) (RefundResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	ctx, span := s.tracer.Start(ctx, "OrderService.IssueRefund", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("refund.amount", domain.FormatMoney(cmd.Amount)),
	))
	defer span.End()

	result, err := s.issueRefund(ctx, orderID, cmd)
	if err != nil {
		s.recordRefund(err, cmd.Amount)
		return RefundResult{}, s.fail(ctx, span, "refund", orderID, err)
	}
	s.recordRefund(nil, result.Refund.Amount)

	s.logger(ctx, orderEventRefundIssued, map[string]any{
		"orderId":       result.Order.ID,
		"refundId":      result.Refund.RefundID,
		"amount":        domain.FormatMoney(result.Refund.Amount),
		"totalRefunded": domain.FormatMoney(result.Order.TotalRefundedAmount),
		"refundStatus":  string(result.Order.RefundStatus),
		"actorId":       result.Refund.ActorID,
	})
	if s.notifier != nil {
		if err := s.notifier.NotifyRefundIssued(ctx, result.Order, result.Refund); err != nil {
			s.logger(ctx, orderEventNotifyFailed, map[string]any{
				"orderId": result.Order.ID,
				"type":    string(NotificationTypeRefundIssued),
				"error":   err.Error(),
			})
		}
	}
	return result, nil
}

func (s *orderService) issueRefund(ctx context.Context, orderID string, cmd IssueRefundCommand) (RefundResult, error) {
	if orderID == "" {
		return RefundResult{}, fmt.Errorf("%w: order id is required", ErrRefundInvalidInput)
	}
	if !cmd.Amount.IsPositive() {
		return RefundResult{}, fmt.Errorf("%w: refund amount must be greater than zero", ErrRefundInvalidInput)
	}
	if !cmd.Amount.Equal(cmd.Amount.Round(domain.MoneyPlaces)) {
		return RefundResult{}, fmt.Errorf("%w: refund amount %s has more than %d decimal places",
			ErrRefundInvalidInput, cmd.Amount.String(), domain.MoneyPlaces)
	}
	reason := s.sanitize(cmd.Reason)
	if reason == "" {
		return RefundResult{}, fmt.Errorf("%w: refund reason is required", ErrRefundInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)

	snapshot, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return RefundResult{}, mapRepositoryError(err)
	}
	if err := checkRefundable(snapshot, cmd.Amount); err != nil {
		return RefundResult{}, err
	}

	var result RefundResult
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		// Another refund may have committed since the snapshot was read.
		if err := checkRefundable(order, cmd.Amount); err != nil {
			return err
		}

		now := s.now()
		entry := RefundEntry{
			RefundID: refundIDPrefix + s.newID(),
			Amount:   cmd.Amount,
			Date:     now,
			Reason:   reason,
			ActorID:  actor,
			Status:   domain.RefundEntryStatusSucceeded,
		}
		order.RefundHistory = append(order.RefundHistory, entry)
		order.TotalRefundedAmount = order.TotalRefundedAmount.Add(cmd.Amount)
		order.UpdatedAt = now

		if order.TotalRefundedAmount.GreaterThanOrEqual(order.TotalAmount) {
			order.RefundStatus = domain.RefundStatusFullyRefunded
			order.PaymentStatus = domain.PaymentStatusRefunded
			order.StatusHistory = append(order.StatusHistory, domain.StatusHistoryEntry{
				Status:    order.Status,
				Timestamp: now,
				ActorID:   actor,
				Note: fmt.Sprintf("order fully refunded (total refunded %s of %s)",
					domain.FormatMoney(order.TotalRefundedAmount), domain.FormatMoney(order.TotalAmount)),
			})
		} else {
			order.RefundStatus = domain.RefundStatusPartialRefunded
		}

		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err)
		}
		result = RefundResult{Order: order, Refund: entry}
		return nil
	})
	if err != nil {
		return RefundResult{}, err
	}
	return result, nil
}

// checkRefundable enforces payment state and the refundable balance. An order whose ledger
// is already exhausted reports a zero balance rather than a payment state error; any other
// non-completed payment is a payment state error.
func checkRefundable(order Order, amount decimal.Decimal) error {
	if order.RefundStatus == domain.RefundStatusFullyRefunded {
		return exceedsLimit(amount, decimal.Zero)
	}
	if order.PaymentStatus != domain.PaymentStatusCompleted {
		return fmt.Errorf("%w: payment status is %s", ErrRefundInvalidPaymentState, order.PaymentStatus)
	}
	maxRefundable := order.MaxRefundable()
	if amount.GreaterThan(maxRefundable) {
		return exceedsLimit(amount, maxRefundable)
	}
	return nil
}

func exceedsLimit(amount, maxRefundable decimal.Decimal) error {
	return fmt.Errorf("%w: refund amount %s exceeds refundable balance %s",
		ErrRefundExceedsLimit, domain.FormatMoney(amount), domain.FormatMoney(maxRefundable))
}

func (s *orderService) recordRefund(err error, amount decimal.Decimal) {
	if s.metrics == nil {
		return
	}
	value, _ := amount.Float64()
	s.metrics.RecordRefund(ErrorKind(err), value)
}
