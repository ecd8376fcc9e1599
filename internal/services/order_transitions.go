package services

import (
	"sort"

	domain "github.com/hanko-field/orderledger/internal/domain"
)

// orderTransitions lists the permitted successors of each status. Statuses without an entry
// are terminal.
var orderTransitions = map[OrderStatus]map[OrderStatus]struct{}{
	domain.OrderStatusPending: {
		domain.OrderStatusProcessing: {},
		domain.OrderStatusCancelled:  {},
	},
	domain.OrderStatusProcessing: {
		domain.OrderStatusAwaitingShipment: {},
		domain.OrderStatusShipped:          {},
		domain.OrderStatusCancelled:        {},
	},
	domain.OrderStatusAwaitingShipment: {
		domain.OrderStatusShipped:   {},
		domain.OrderStatusCancelled: {},
	},
	domain.OrderStatusShipped: {
		domain.OrderStatusOutForDelivery: {},
		domain.OrderStatusDelivered:      {},
		domain.OrderStatusCancelled:      {},
	},
	domain.OrderStatusOutForDelivery: {
		domain.OrderStatusDelivered: {},
		domain.OrderStatusCancelled: {},
	},
	domain.OrderStatusDelivered: {
		domain.OrderStatusReturned: {},
	},
}

// IsTransitionAllowed reports whether an order may move from one status to another.
// Self-transitions and unknown statuses are denied.
func IsTransitionAllowed(from, to OrderStatus) bool {
	_, ok := orderTransitions[from][to]
	return ok
}

// AllowedTransitions returns the successors of from in lexical order.
func AllowedTransitions(from OrderStatus) []OrderStatus {
	next := orderTransitions[from]
	out := make([]OrderStatus, 0, len(next))
	for status := range next {
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsKnownStatus reports whether status is one of the lifecycle statuses.
func IsKnownStatus(status OrderStatus) bool {
	for _, known := range domain.OrderStatuses {
		if known == status {
			return true
		}
	}
	return false
}
