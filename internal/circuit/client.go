package circuit

import "context"

// Client is the narrow Circuit surface required by convseed.
type Client interface {
	Logon(ctx context.Context, email, password string) (User, error)
	TenantUsers(ctx context.Context) ([]User, error)
	CreateOpenConversation(ctx context.Context, participants []UserID, topic, description string) (Conversation, error)
	CreateGroupConversation(ctx context.Context, participants []UserID) (Conversation, error)
	AddTextItem(ctx context.Context, conv ConvID, item TextItem) (Item, error)
	LikeItem(ctx context.Context, item ItemID) error
	FlagItem(ctx context.Context, conv ConvID, item ItemID) error
	// OnItemAdded registers a handler for item-added notifications. Handlers run on
	// the event stream goroutine and must not block.
	OnItemAdded(fn func(ItemAddedEvent))
	Close() error
}
