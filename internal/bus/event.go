package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the engine. Subscriptions filter by prefix,
// so "task." matches every task lifecycle event.
const (
	KindTaskCreated   = "task.created"
	KindTaskUpdated   = "task.updated"
	KindTaskFinished  = "task.finished"
	KindConvSynced    = "sync.conversation"
	KindDeletedFound  = "sync.deleted"
	KindStatusChanged = "session.status_changed"
)
