// Package service implements C8 LedgerService, C9 AggregationService, and
// C10 SettlementPlanner: the orchestration layer that drives LedgerCore's
// algebra through the storage, lock, cache, job, and event layers beneath
// it (spec.md §4.7-§4.9).
package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/splitledger/core/internal/calculator"
	"github.com/splitledger/core/internal/events"
	"github.com/splitledger/core/internal/jobs"
	"github.com/splitledger/core/internal/ledger"
	"github.com/splitledger/core/internal/lock"
	"github.com/splitledger/core/internal/models"
	"github.com/splitledger/core/internal/money"
	"github.com/splitledger/core/internal/storage"
)

const (
	defaultLockTTL  = 10 * time.Second
	defaultLockWait = 5 * time.Second
)

// LedgerService is C8: the sole write path onto BalanceStore. Every
// mutation runs under the scope's named lock (or, for DIRECT, the sorted
// pair lock of each pair it touches) so concurrent writers to the same pair
// never race.
type LedgerService struct {
	balances    storage.BalanceStore
	expenses    storage.ExpenseStore
	groups      storage.GroupStore
	settlements storage.SettlementStore
	locks       *lock.Service
	cache       Invalidator
	emitter     *events.Emitter
	lockTTL     time.Duration
	lockWait    time.Duration
}

// Invalidator is the subset of the cache the ledger needs to invalidate
// after a write. AggregationService's cache satisfies it directly.
type Invalidator interface {
	DelPrefix(prefix string)
}

// NewLedgerService wires the write orchestrator described in spec.md §4.7.
func NewLedgerService(balances storage.BalanceStore, expenses storage.ExpenseStore, groups storage.GroupStore, settlements storage.SettlementStore, locks *lock.Service, cache Invalidator, emitter *events.Emitter) *LedgerService {
	return &LedgerService{
		balances:    balances,
		expenses:    expenses,
		groups:      groups,
		settlements: settlements,
		locks:       locks,
		cache:       cache,
		emitter:     emitter,
		lockTTL:     defaultLockTTL,
		lockWait:    defaultLockWait,
	}
}

// pairLockName implements spec.md §4.7's naming rule: scope:{scopeId} for
// group scopes, and the canonical sorted-pair direct:{min}:{max} for the
// DIRECT pseudo-scope, so both possible payer roles for an unordered pair
// contend for the same lock rather than each locking only their own name.
func pairLockName(scope, a, b string) string {
	if scope == models.DirectScope {
		return models.DirectLockName(a, b)
	}
	return models.GroupLockName(scope)
}

// PostExpense validates membership, computes splits, persists the
// immutable Expense, and applies each split to BalanceStore through the
// mutual-debt-simplifying algebra in internal/ledger, while holding the locks
// expenseLockNames returns: the scope lock for a group, or one pair lock per
// distinct debtor for DIRECT (spec.md §4.7 steps 1-6).
func (l *LedgerService) PostExpense(ctx context.Context, exp models.Expense) (*models.Expense, error) {
	if exp.Scope != models.DirectScope {
		group, err := l.groups.GetGroup(ctx, exp.Scope)
		if err != nil {
			return nil, err
		}
		if group == nil || group.IsDeleted() || !group.IsMember(exp.PayerID) {
			return nil, fmt.Errorf("%w: payer %s not a member of %s", models.ErrNotMember, exp.PayerID, exp.Scope)
		}
		for _, p := range exp.Participants {
			if p.UserID != exp.PayerID && !group.IsMember(p.UserID) {
				return nil, fmt.Errorf("%w: participant %s not a member of %s", models.ErrNotMember, p.UserID, exp.Scope)
			}
		}
	} else if len(exp.Participants) < 2 {
		return nil, fmt.Errorf("%w: DIRECT expense needs at least one non-payer participant", models.ErrInvalidSplit)
	}

	splits, err := calculator.CalculateSplits(exp.Amount, exp.SplitMode, exp.Participants, exp.PayerID)
	if err != nil {
		return nil, err
	}
	exp.Splits = splits
	if exp.ID == "" {
		exp.ID = uuid.New().String()
	}
	if err := l.expenses.CreateExpense(ctx, &exp); err != nil {
		return nil, err
	}

	// Hold the canonical lock for every pair this expense's splits touch
	// (just the scope lock for a group scope; one direct:{min}:{max} lock
	// per distinct debtor for DIRECT), so an opposite-direction DIRECT
	// expense between the same two users always contends for the same
	// lock regardless of which side is paying.
	affected := map[string]struct{}{exp.PayerID: {}}
	err = l.withLocks(ctx, expenseLockNames(exp), func(ctx context.Context, leases []*lock.Lease) error {
		for _, sp := range exp.Splits {
			if sp.Amount <= 0 || sp.UserID == exp.PayerID {
				continue
			}
			// Re-validate every held lease before each split write: a
			// holder fenced out on any pair's lock must never let a later
			// split race a newer holder (spec.md §5, §9).
			if err := l.revalidate(ctx, leases); err != nil {
				return err
			}
			affected[sp.UserID] = struct{}{}
			if err := l.applySplit(ctx, exp.Scope, exp.PayerID, sp.UserID, sp.Amount, exp.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.invalidate(exp.Scope, affected)
	if l.emitter != nil {
		l.emitter.Emit(ctx, models.ActivityEvent{
			Type: models.EventExpenseAdded, UserID: exp.PayerID, Scope: exp.Scope, ExpenseID: exp.ID,
			Payload: map[string]string{"amount": exp.Amount.String()},
		})
	}
	return &exp, nil
}

// applySplit implements spec.md §4.7 step 4: read the reverse pair
// (payer owes debtor), and either shrink it in place (mutual-debt
// simplification) or delete it and grow the forward pair (debtor owes
// payer) by the excess. Both writes happen while the caller holds the lock
// covering this pair (the scope lock, or the DIRECT pair lock), so they are
// linearized against every other writer.
func (l *LedgerService) applySplit(ctx context.Context, scope, payer, debtor string, amount money.Cents, expenseID string) error {
	reverse, err := l.balances.GetPair(ctx, scope, payer, debtor)
	if err != nil {
		return err
	}
	var reverseAmount money.Cents
	if reverse != nil {
		reverseAmount = reverse.Amount
	}

	if reverseAmount >= amount {
		return l.balances.UpsertAtomic(ctx, scope, payer, debtor, storage.Delta{Kind: storage.Decrement, Amount: amount, ExpenseID: expenseID})
	}
	if reverseAmount > 0 {
		if err := l.balances.UpsertAtomic(ctx, scope, payer, debtor, storage.Delta{Kind: storage.Delete}); err != nil {
			return err
		}
	}
	return l.balances.UpsertAtomic(ctx, scope, debtor, payer, storage.Delta{Kind: storage.Increment, Amount: amount - reverseAmount, ExpenseID: expenseID})
}

// Settle implements spec.md §4.7's settle: shrink one pair by amount,
// deleting it at zero, under the same lock discipline as PostExpense.
func (l *LedgerService) Settle(ctx context.Context, scope, debtor, creditor string, amount money.Cents) (*models.Settlement, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: settlement amount must be positive", models.ErrInvalidSettlement)
	}

	var settlement *models.Settlement
	err := l.locks.WithLock(ctx, pairLockName(scope, debtor, creditor), l.lockTTL, l.lockWait, func(ctx context.Context, lease *lock.Lease) error {
		entry, err := l.balances.GetPair(ctx, scope, debtor, creditor)
		if err != nil {
			return err
		}
		if entry == nil || entry.Amount < amount {
			return fmt.Errorf("%w: %s owes %s at most %s in %s", models.ErrInvalidSettlement, debtor, creditor, safeAmount(entry), scope)
		}
		// Re-validate before the write, same discipline as PostExpense's
		// split loop: a fenced-out holder must never reach UpsertAtomic.
		if err := l.locks.Extend(ctx, lease, l.lockTTL); err != nil {
			return err
		}
		if err := l.balances.UpsertAtomic(ctx, scope, debtor, creditor, storage.Delta{Kind: storage.Decrement, Amount: amount}); err != nil {
			return err
		}
		settlement = &models.Settlement{ID: uuid.New().String(), Scope: scope, DebtorID: debtor, CreditorID: creditor, Amount: amount, CreatedAt: time.Now().UTC()}
		if l.settlements != nil {
			if err := l.settlements.CreateSettlement(ctx, settlement); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.invalidate(scope, map[string]struct{}{debtor: {}, creditor: {}})
	if l.emitter != nil {
		l.emitter.Emit(ctx, models.ActivityEvent{
			Type: models.EventSettlement, UserID: debtor, Scope: scope,
			Payload: map[string]string{"creditor": creditor, "amount": amount.String()},
		})
	}
	return settlement, nil
}

func safeAmount(e *models.BalanceEntry) string {
	if e == nil {
		return "0.00"
	}
	return e.Amount.String()
}

// Recompute is the repair primitive from spec.md §4.7: replay the
// immutable expense log for scope in createdAt order through a fresh
// ledger.Core, then atomically replace BalanceStore's rows for the scope.
// I5 requires this to reproduce exactly what incremental writes would
// have produced.
//
// For a group scope this holds the single scope:{scopeId} lock, same as
// postExpense/settle. The DIRECT pseudo-scope has no single lock — writes
// to it are serialized per unordered pair (direct:{min}:{max}) — so
// recomputing it acquires the pair lock of every payer/debtor pair that
// appears in the replayed log, sorted to avoid a lock-ordering deadlock
// against concurrent postExpense calls.
func (l *LedgerService) Recompute(ctx context.Context, scope string) error {
	expenses, err := l.expenses.ListExpensesByScopeOrdered(ctx, scope)
	if err != nil {
		return err
	}

	names := []string{models.GroupLockName(scope)}
	if scope == models.DirectScope {
		names = directLockNames(expenses)
	}

	return l.withLocks(ctx, names, func(ctx context.Context, leases []*lock.Lease) error {
		core := ledger.New()
		for _, exp := range expenses {
			for _, sp := range exp.Splits {
				if sp.Amount <= 0 || sp.UserID == exp.PayerID {
					continue
				}
				if err := core.AddDebt(sp.UserID, exp.PayerID, sp.Amount); err != nil {
					return err
				}
			}
		}
		entries := core.Snapshot()
		for i := range entries {
			entries[i].Scope = scope
			entries[i].UpdatedAt = time.Now().UTC()
		}
		// Every lock acquired above must still be current right before the
		// bulk write commits, same as the per-split revalidation in
		// PostExpense (spec.md §5, §9).
		if err := l.revalidate(ctx, leases); err != nil {
			return err
		}
		return l.balances.BulkReplace(ctx, scope, entries)
	})
}

// revalidate re-extends every lease, failing with models.ErrFenced the
// moment any one of them has been superseded by a newer holder.
func (l *LedgerService) revalidate(ctx context.Context, leases []*lock.Lease) error {
	for _, lease := range leases {
		if err := l.locks.Extend(ctx, lease, l.lockTTL); err != nil {
			return err
		}
	}
	return nil
}

// expensePairNames returns the set of canonical pair lock names exp's
// splits touch. Empty for a group scope, which locks the whole scope
// instead of individual pairs.
func expensePairNames(exp models.Expense) map[string]struct{} {
	names := make(map[string]struct{})
	for _, sp := range exp.Splits {
		if sp.Amount <= 0 || sp.UserID == exp.PayerID {
			continue
		}
		names[pairLockName(exp.Scope, exp.PayerID, sp.UserID)] = struct{}{}
	}
	return names
}

// expenseLockNames returns the locks that must be held to apply exp's
// splits: the single scope lock for a group scope, or one canonical pair
// lock per distinct debtor for the DIRECT pseudo-scope.
func expenseLockNames(exp models.Expense) []string {
	if exp.Scope != models.DirectScope {
		return []string{models.GroupLockName(exp.Scope)}
	}
	return sortedKeys(expensePairNames(exp))
}

// directLockNames returns the sorted, de-duplicated set of canonical pair
// lock names for every payer/debtor pair appearing in expenses.
func directLockNames(expenses []models.Expense) []string {
	seen := make(map[string]struct{})
	for _, exp := range expenses {
		for name := range expensePairNames(exp) {
			seen[name] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

func sortedKeys(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// withLocks acquires every name in order (already sorted by the caller)
// and releases them in reverse, so any two callers requesting overlapping
// lock sets always contend for them in the same order. fn receives every
// acquired Lease so it can revalidate all of them immediately before its
// write commits.
func (l *LedgerService) withLocks(ctx context.Context, names []string, fn func(ctx context.Context, leases []*lock.Lease) error) error {
	return l.acquireLocks(ctx, names, nil, fn)
}

func (l *LedgerService) acquireLocks(ctx context.Context, names []string, acquired []*lock.Lease, fn func(ctx context.Context, leases []*lock.Lease) error) error {
	if len(names) == 0 {
		return fn(ctx, acquired)
	}
	head, rest := names[0], names[1:]
	return l.locks.WithLock(ctx, head, l.lockTTL, l.lockWait, func(ctx context.Context, lease *lock.Lease) error {
		return l.acquireLocks(ctx, rest, append(acquired, lease), fn)
	})
}

func (l *LedgerService) invalidate(scope string, users map[string]struct{}) {
	if l.cache == nil {
		return
	}
	for u := range users {
		l.cache.DelPrefix("bal:user:" + u)
	}
	l.cache.DelPrefix("bal:scope:" + scope)
}

// jobsInvalidator adapts a *cache.Cache-like dependency through JobRunner
// so cache invalidation never runs synchronously on the write path
// (spec.md §4.7 step 6: "enqueue" invalidations, not perform them inline).
type jobsInvalidator struct {
	target Invalidator
	runner *jobs.Runner
}

// NewAsyncInvalidator returns an Invalidator whose DelPrefix calls are
// dispatched through runner instead of executing inline, matching the
// "enqueue: invalidate" wording in spec.md §4.7.
func NewAsyncInvalidator(target Invalidator, runner *jobs.Runner) Invalidator {
	inv := &jobsInvalidator{target: target, runner: runner}
	runner.Register("cache.invalidate", inv.handle)
	return inv
}

func (i *jobsInvalidator) handle(ctx context.Context, payload any) error {
	prefix, ok := payload.(string)
	if !ok {
		return nil
	}
	i.target.DelPrefix(prefix)
	return nil
}

func (i *jobsInvalidator) DelPrefix(prefix string) {
	i.runner.Enqueue("cache.invalidate", prefix, jobs.Options{MaxAttempts: 3})
}
