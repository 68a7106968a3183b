package order

import (
	"github.com/example/ec-cart-consistency/internal/model"
)

// validTransitions defines allowed state transitions on the fulfillment axis.
// Only the cancel side transition is driven by this service.
var validTransitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderPending:    {model.OrderProcessing, model.OrderCancelled},
	model.OrderProcessing: {model.OrderShipped, model.OrderCancelled},
	model.OrderShipped:    {model.OrderDelivered},
	model.OrderDelivered:  {}, // terminal state
	model.OrderCancelled:  {}, // terminal state
}

// CanTransitionTo checks if an order in from may move to target.
func CanTransitionTo(from, target model.OrderStatus) bool {
	for _, s := range validTransitions[from] {
		if s == target {
			return true
		}
	}
	return false
}

// cancellableStatuses lists every status that may move to cancelled, in a
// stable order.
func cancellableStatuses() []model.OrderStatus {
	var out []model.OrderStatus
	for _, s := range []model.OrderStatus{
		model.OrderPending, model.OrderProcessing, model.OrderShipped, model.OrderDelivered, model.OrderCancelled,
	} {
		if CanTransitionTo(s, model.OrderCancelled) {
			out = append(out, s)
		}
	}
	return out
}
