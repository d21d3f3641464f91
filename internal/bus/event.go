package bus

import "time"

// Event kinds published by the daemon.
const (
	KindSyncNewMessages = "sync.new_messages"
	KindSyncError       = "sync.error"
	KindSyncStatus      = "sync.status_changed"
	KindSyncChats       = "sync.chats_applied"
	KindMutation        = "mutation.completed"
	KindConfigReloaded  = "config.reloaded"
)

// Event is a domain event published on the bus. Publish fills in ID and
// Timestamp when they are empty.
type Event struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Payload   any
}

// ChatPayload names the chat an event concerns.
type ChatPayload struct {
	ChatGUID string
	Err      string
}
