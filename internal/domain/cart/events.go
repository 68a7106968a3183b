package cart

// Activity log actions written by the cart manager.
const (
	ActionItemAdded   = "cart.item_added"
	ActionItemUpdated = "cart.item_updated"
	ActionItemRemoved = "cart.item_removed"
	ActionCartCleared = "cart.cleared"
	ActionCartMerged  = "cart.merged"
)
