package models

import "time"

// EventType enumerates the domain events the core emits (spec.md §4.10).
type EventType string

const (
	EventExpenseAdded EventType = "expense_added"
	EventSettlement   EventType = "settlement"
	EventGroupCreated EventType = "group_created"
	EventGroupDeleted EventType = "group_deleted"
	EventMemberAdded  EventType = "member_added"
)

// ActivityEvent is an append-only, immutable record of something the core
// did. Payload carries just enough to reconstruct the operation; rendering
// lives outside the core (spec.md §3, §4.10).
type ActivityEvent struct {
	ID        string
	Type      EventType
	UserID    string
	Scope     string
	ExpenseID string
	Payload   map[string]string
	CreatedAt time.Time
}

// DedupeKey is the natural key used to make at-least-once delivery
// idempotent (spec.md §5, §9): (type, entity, createdAt in nanoseconds).
func (e ActivityEvent) DedupeKey() string {
	entity := e.ExpenseID
	if entity == "" {
		entity = e.Scope + "|" + e.UserID
	}
	return string(e.Type) + "|" + entity + "|" + e.CreatedAt.Format(time.RFC3339Nano)
}
