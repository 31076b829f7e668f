package events

// Topic constants for domain events emitted by cart mutations.
const (
	TopicCartCreated        = "cart.created"
	TopicCartCleared        = "cart.cleared"
	TopicCartMerged         = "cart.merged"
	TopicItemAdded          = "cart.item.added"
	TopicItemUpdated        = "cart.item.updated"
	TopicItemRemoved        = "cart.item.removed"
	TopicItemMoved          = "cart.item.moved"
	TopicModifierApplied    = "cart.modifier.applied"
	TopicModifierUpdated    = "cart.modifier.updated"
	TopicModifierRemoved    = "cart.modifier.removed"
	TopicModifiersCleared   = "cart.modifier.cleared"
	TopicModifiersReordered = "cart.modifier.reordered"
	TopicGuestCartsPurged   = "cart.guests.purged"
)

// DefaultTopics returns the canonical list of topics published by the service.
func DefaultTopics() []string {
	return []string{
		TopicCartCreated,
		TopicCartCleared,
		TopicCartMerged,
		TopicItemAdded,
		TopicItemUpdated,
		TopicItemRemoved,
		TopicItemMoved,
		TopicModifierApplied,
		TopicModifierUpdated,
		TopicModifierRemoved,
		TopicModifiersCleared,
		TopicModifiersReordered,
		TopicGuestCartsPurged,
	}
}
