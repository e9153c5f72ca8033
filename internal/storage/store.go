// Package storage defines the persistence abstractions the ledger core
// depends on (spec.md §4.3, §4.7, §4.9, §4.10, §4.12). Swapping the backing
// engine (SQLite here, Postgres/etc elsewhere) never touches the service
// layer, matching the teacher's storage.Store abstraction.
package storage

import (
	"context"
	"time"

	"github.com/splitledger/core/internal/models"
	"github.com/splitledger/core/internal/money"
)

// DeltaKind selects the atomic mutation UpsertAtomic performs on one
// BalanceStore row (spec.md §4.3).
type DeltaKind int

const (
	Increment DeltaKind = iota
	Decrement
	Set
	Delete
)

// Delta describes one atomic BalanceStore mutation.
type Delta struct {
	Kind      DeltaKind
	Amount    money.Cents // ignored for Delete
	ExpenseID string
}

// BalanceStore is the durable store of pairwise debt rows (C4).
type BalanceStore interface {
	GetPair(ctx context.Context, scope, debtor, creditor string) (*models.BalanceEntry, error)
	UpsertAtomic(ctx context.Context, scope, debtor, creditor string, d Delta) error
	ScanByDebtor(ctx context.Context, userID string) ([]models.BalanceEntry, error)
	ScanByCreditor(ctx context.Context, userID string) ([]models.BalanceEntry, error)
	ScanByScope(ctx context.Context, scope string) ([]models.BalanceEntry, error)
	BulkReplace(ctx context.Context, scope string, entries []models.BalanceEntry) error
}

// Page is a cursor-paginated result (spec.md §6).
type Page[T any] struct {
	Data       []T
	HasMore    bool
	NextCursor string
	PrevCursor string
}

// ExpenseStore persists immutable Expense records (C12).
type ExpenseStore interface {
	CreateExpense(ctx context.Context, e *models.Expense) error
	GetExpense(ctx context.Context, id string) (*models.Expense, error)
	ListExpensesByScope(ctx context.Context, scope string, cursor string, limit int) (Page[models.Expense], error)
	ListExpensesByScopeOrdered(ctx context.Context, scope string) ([]models.Expense, error) // for Recompute, createdAt ascending
}

// GroupStore persists Group records (supplements spec.md §3's Group model).
type GroupStore interface {
	CreateGroup(ctx context.Context, g *models.Group) error
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	AddMembers(ctx context.Context, groupID string, userIDs []string) error
	SoftDelete(ctx context.Context, groupID, byUserID string) error
	ListGroups(ctx context.Context) ([]models.Group, error)
}

// ActivityStore persists append-only ActivityEvent records, deduplicating
// on ActivityEvent.DedupeKey() to tolerate at-least-once delivery (spec.md §5).
type ActivityStore interface {
	Save(ctx context.Context, e models.ActivityEvent) error
	ListActivityByUser(ctx context.Context, userID string, cursor string, limit int) (Page[models.ActivityEvent], error)
	ListActivityByScope(ctx context.Context, scope string, cursor string, limit int) (Page[models.ActivityEvent], error)
}

// SettlementStore persists Settlement history for drill-down (supplemented
// feature, see SPEC_FULL.md §4).
type SettlementStore interface {
	CreateSettlement(ctx context.Context, s *models.Settlement) error
	ListSettlementsByScope(ctx context.Context, scope string) ([]models.Settlement, error)
}

// LockStore backs the distributed LockService with fenced compare-and-swap
// rows (C5, spec.md §4.4). TryAcquireLock never blocks; the caller supplies
// retry pacing.
type LockStore interface {
	TryAcquireLock(ctx context.Context, name, holder string, ttl time.Duration) (fence int64, ok bool, err error)
	ExtendLock(ctx context.Context, name string, fence int64, ttl time.Duration) error
	ReleaseLock(ctx context.Context, name string, fence int64) error
}
