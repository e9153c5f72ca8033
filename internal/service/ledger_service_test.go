package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/splitledger/core/internal/cache"
	"github.com/splitledger/core/internal/events"
	"github.com/splitledger/core/internal/jobs"
	"github.com/splitledger/core/internal/lock"
	"github.com/splitledger/core/internal/models"
	"github.com/splitledger/core/internal/storage/sqlite"
)

// harness bundles a fresh in-memory-backed LedgerService and
// AggregationService for one test, mirroring the teacher's
// setupTestServer helper but without the RPC transport this core drops.
type harness struct {
	store *sqlite.Store
	agg   *AggregationService
	led   *LedgerService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	runner := jobs.New(32, 2)
	c := cache.New()
	invalidator := NewAsyncInvalidator(c, runner)
	emitter := events.EmitSync(events.New(store, runner))
	runner.Start()
	t.Cleanup(runner.Shutdown)

	locks := lock.New(lock.NewMemoryBackend(), "test", 200)
	return &harness{
		store: store,
		agg:   NewAggregationService(store, store, c),
		led:   NewLedgerService(store, store, store, store, locks, invalidator, emitter),
	}
}

func mustGroup(t *testing.T, h *harness, id string, members ...string) {
	t.Helper()
	memberSet := make(map[string]struct{}, len(members))
	for _, m := range members {
		memberSet[m] = struct{}{}
	}
	g := &models.Group{ID: id, Name: id, Members: memberSet, CreatorID: members[0]}
	if err := h.store.CreateGroup(context.Background(), g); err != nil {
		t.Fatalf("create group: %v", err)
	}
}

func participant(id string) models.Participant { return models.Participant{UserID: id} }

// fencingBackend is a lock.Backend that grants exactly one acquire and then
// fails every Extend call, simulating a lease that another holder has
// fenced out mid-operation (e.g. after the original holder's TTL lapsed).
type fencingBackend struct {
	mu       sync.Mutex
	held     bool
	failFrom int
	extends  int
}

func (f *fencingBackend) TryAcquire(_ context.Context, _, _ string, _ time.Duration) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		return 0, false, nil
	}
	f.held = true
	return 1, true, nil
}

func (f *fencingBackend) Extend(_ context.Context, _ string, _ int64, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.extends
	f.extends++
	if n >= f.failFrom {
		return models.ErrFenced
	}
	return nil
}

func (f *fencingBackend) Release(_ context.Context, _ string, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = false
	return nil
}

// TestPostExpense_EqualThreeWay reproduces spec.md §8's S1 scenario.
func TestPostExpense_EqualThreeWay(t *testing.T) {
	h := newHarness(t)
	mustGroup(t, h, "G1", "A", "B", "C")

	_, err := h.led.PostExpense(context.Background(), models.Expense{
		Scope: "G1", PayerID: "A", Amount: 9000, SplitMode: models.SplitEqual,
		Participants: []models.Participant{participant("A"), participant("B"), participant("C")},
	})
	if err != nil {
		t.Fatalf("postExpense: %v", err)
	}

	view, err := h.agg.GetUserView(context.Background(), "A", true)
	if err != nil {
		t.Fatalf("getUserView: %v", err)
	}
	if view.TotalOwed != 6000 || len(view.Owes) != 0 {
		t.Fatalf("expected A to be owed 6000 and owe nothing, got %+v", view)
	}

	matrix, err := h.agg.GetScopeMatrix(context.Background(), "G1", true)
	if err != nil {
		t.Fatalf("getScopeMatrix: %v", err)
	}
	if matrix["B"]["A"] != 3000 || matrix["C"]["A"] != 3000 {
		t.Fatalf("expected B and C to each owe A 3000, got %+v", matrix)
	}
}

// TestPostExpense_MutualDebtSimplification reproduces §8's S2 scenario.
func TestPostExpense_MutualDebtSimplification(t *testing.T) {
	h := newHarness(t)
	mustGroup(t, h, "G1", "A", "B")

	if _, err := h.led.PostExpense(context.Background(), models.Expense{
		Scope: "G1", PayerID: "A", Amount: 1000, SplitMode: models.SplitEqual,
		Participants: []models.Participant{participant("A"), participant("B")},
	}); err != nil {
		t.Fatalf("postExpense 1: %v", err)
	}

	if _, err := h.led.PostExpense(context.Background(), models.Expense{
		Scope: "G1", PayerID: "B", Amount: 300, SplitMode: models.SplitEqual,
		Participants: []models.Participant{participant("A"), participant("B")},
	}); err != nil {
		t.Fatalf("postExpense 2: %v", err)
	}

	matrix, err := h.agg.GetScopeMatrix(context.Background(), "G1", true)
	if err != nil {
		t.Fatalf("getScopeMatrix: %v", err)
	}
	if matrix["A"]["B"] != 0 {
		t.Fatalf("expected no residual A->B row after simplification, got %+v", matrix)
	}
	if matrix["B"]["A"] != 350 {
		t.Fatalf("expected B to owe A 350 net, got %+v", matrix)
	}
}

// TestSettle_DeletesZeroRow reproduces §8's S4/S5 scenarios.
func TestSettle_DeletesZeroRow(t *testing.T) {
	h := newHarness(t)
	mustGroup(t, h, "G1", "A", "B")

	if _, err := h.led.PostExpense(context.Background(), models.Expense{
		Scope: "G1", PayerID: "A", Amount: 1000, SplitMode: models.SplitEqual,
		Participants: []models.Participant{participant("A"), participant("B")},
	}); err != nil {
		t.Fatalf("postExpense: %v", err)
	}

	if _, err := h.led.Settle(context.Background(), "G1", "B", "A", 500); err != nil {
		t.Fatalf("settle: %v", err)
	}
	matrix, err := h.agg.GetScopeMatrix(context.Background(), "G1", true)
	if err != nil {
		t.Fatalf("getScopeMatrix: %v", err)
	}
	if _, exists := matrix["B"]["A"]; exists {
		t.Fatalf("expected fully settled pair to be deleted, got %+v", matrix)
	}

	_, err = h.led.Settle(context.Background(), "G1", "B", "A", 100)
	if !errors.Is(err, models.ErrInvalidSettlement) {
		t.Fatalf("expected ErrInvalidSettlement settling an absent pair, got %v", err)
	}
}

// TestSettle_OverpayRejected reproduces §8's S5 scenario exactly.
func TestSettle_OverpayRejected(t *testing.T) {
	h := newHarness(t)
	mustGroup(t, h, "G1", "A", "B")

	if _, err := h.led.PostExpense(context.Background(), models.Expense{
		Scope: "G1", PayerID: "A", Amount: 1000, SplitMode: models.SplitEqual,
		Participants: []models.Participant{participant("A"), participant("B")},
	}); err != nil {
		t.Fatalf("postExpense: %v", err)
	}

	_, err := h.led.Settle(context.Background(), "G1", "B", "A", 600)
	if !errors.Is(err, models.ErrInvalidSettlement) {
		t.Fatalf("expected ErrInvalidSettlement for overpayment, got %v", err)
	}
}

// TestPostExpense_DirectScope reproduces §8's S3 scenario.
func TestPostExpense_DirectScope(t *testing.T) {
	h := newHarness(t)

	if _, err := h.led.PostExpense(context.Background(), models.Expense{
		Scope: models.DirectScope, PayerID: "A", Amount: 1000, SplitMode: models.SplitEqual,
		Participants: []models.Participant{participant("A"), participant("B")},
	}); err != nil {
		t.Fatalf("postExpense: %v", err)
	}

	view, err := h.agg.GetUserView(context.Background(), "B", true)
	if err != nil {
		t.Fatalf("getUserView: %v", err)
	}
	if len(view.Owes) != 1 || view.Owes[0].UserID != "A" || view.Owes[0].Amount != 500 {
		t.Fatalf("expected B to owe A 500, got %+v", view.Owes)
	}
}

// TestPostExpense_ConcurrentOppositePayers_DirectScope reproduces the race
// two payer-keyed locks would allow: A paying for B and B paying for A in
// the same DIRECT pair must serialize on one canonical lock, or both
// applySplit calls can read the reverse pair as empty and write opposite
// directions simultaneously, violating N1.
func TestPostExpense_ConcurrentOppositePayers_DirectScope(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := h.led.PostExpense(context.Background(), models.Expense{
			Scope: models.DirectScope, PayerID: "A", Amount: 300, SplitMode: models.SplitEqual,
			Participants: []models.Participant{participant("A"), participant("B")},
		})
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := h.led.PostExpense(context.Background(), models.Expense{
			Scope: models.DirectScope, PayerID: "B", Amount: 500, SplitMode: models.SplitEqual,
			Participants: []models.Participant{participant("A"), participant("B")},
		})
		errs <- err
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("postExpense: %v", err)
		}
	}

	matrix, err := h.agg.GetScopeMatrix(context.Background(), models.DirectScope, true)
	if err != nil {
		t.Fatalf("getScopeMatrix: %v", err)
	}
	if len(matrix) != 1 {
		t.Fatalf("N1 violated: expected exactly one outstanding pair after netting, got %+v", matrix)
	}
	if amount := matrix["A"]["B"]; amount != 100 {
		t.Fatalf("expected A to owe B 100 net (B's 150 share of A's 300 nets against A's 250 share of B's 500), got %+v", matrix)
	}
	if _, reverse := matrix["B"]["A"]; reverse {
		t.Fatalf("both directions outstanding at once: %+v", matrix)
	}
}

// TestPostExpense_RejectsNonMember checks the group-membership guard.
func TestPostExpense_RejectsNonMember(t *testing.T) {
	h := newHarness(t)
	mustGroup(t, h, "G1", "A", "B")

	_, err := h.led.PostExpense(context.Background(), models.Expense{
		Scope: "G1", PayerID: "A", Amount: 900, SplitMode: models.SplitEqual,
		Participants: []models.Participant{participant("A"), participant("Z")},
	})
	if !errors.Is(err, models.ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
}

// TestRecompute_MatchesIncremental is I5: recompute(scope) must reproduce
// exactly what the incremental writes already produced.
func TestRecompute_MatchesIncremental(t *testing.T) {
	h := newHarness(t)
	mustGroup(t, h, "G1", "A", "B", "C")

	if _, err := h.led.PostExpense(context.Background(), models.Expense{
		Scope: "G1", PayerID: "A", Amount: 9000, SplitMode: models.SplitEqual,
		Participants: []models.Participant{participant("A"), participant("B"), participant("C")},
	}); err != nil {
		t.Fatalf("postExpense 1: %v", err)
	}
	if _, err := h.led.PostExpense(context.Background(), models.Expense{
		Scope: "G1", PayerID: "B", Amount: 300, SplitMode: models.SplitEqual,
		Participants: []models.Participant{participant("A"), participant("B")},
	}); err != nil {
		t.Fatalf("postExpense 2: %v", err)
	}

	before, err := h.agg.GetScopeMatrix(context.Background(), "G1", true)
	if err != nil {
		t.Fatalf("getScopeMatrix before: %v", err)
	}

	if err := h.led.Recompute(context.Background(), "G1"); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	after, err := h.agg.GetScopeMatrix(context.Background(), "G1", true)
	if err != nil {
		t.Fatalf("getScopeMatrix after: %v", err)
	}
	if !matricesEqual(before, after) {
		t.Fatalf("expected recompute to reproduce the incremental ledger, before=%+v after=%+v", before, after)
	}
}

// TestPostExpenseThenSettleFull is R1: postExpense followed by settling the
// full amount for every pair returns the ledger to its pre-expense state.
func TestPostExpenseThenSettleFull(t *testing.T) {
	h := newHarness(t)
	mustGroup(t, h, "G1", "A", "B")

	if _, err := h.led.PostExpense(context.Background(), models.Expense{
		Scope: "G1", PayerID: "A", Amount: 1000, SplitMode: models.SplitEqual,
		Participants: []models.Participant{participant("A"), participant("B")},
	}); err != nil {
		t.Fatalf("postExpense: %v", err)
	}
	if _, err := h.led.Settle(context.Background(), "G1", "B", "A", 500); err != nil {
		t.Fatalf("settle: %v", err)
	}

	matrix, err := h.agg.GetScopeMatrix(context.Background(), "G1", true)
	if err != nil {
		t.Fatalf("getScopeMatrix: %v", err)
	}
	if len(matrix) != 0 {
		t.Fatalf("expected empty ledger after full settlement, got %+v", matrix)
	}
}

// TestSettle_PersistsSettlementRecord checks Settle writes through
// SettlementStore under the same lock as the balance decrement, not just
// returning an in-memory struct to the caller.
func TestSettle_PersistsSettlementRecord(t *testing.T) {
	h := newHarness(t)
	mustGroup(t, h, "G1", "A", "B")

	if _, err := h.led.PostExpense(context.Background(), models.Expense{
		Scope: "G1", PayerID: "A", Amount: 1000, SplitMode: models.SplitEqual,
		Participants: []models.Participant{participant("A"), participant("B")},
	}); err != nil {
		t.Fatalf("postExpense: %v", err)
	}

	st, err := h.led.Settle(context.Background(), "G1", "B", "A", 500)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	recorded, err := h.store.ListSettlementsByScope(context.Background(), "G1")
	if err != nil {
		t.Fatalf("listSettlementsByScope: %v", err)
	}
	if len(recorded) != 1 || recorded[0].ID != st.ID {
		t.Fatalf("expected the returned settlement to have been persisted, got %+v", recorded)
	}
}

// TestPostExpense_RejectsFencedOutLease reproduces spec.md §5/§9's fencing
// requirement directly: a holder whose lease is superseded mid-operation
// must have its remaining BalanceStore writes rejected, not race a newer
// holder into a corrupted (mutual-debt) state.
func TestPostExpense_RejectsFencedOutLease(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	runner := jobs.New(32, 2)
	runner.Start()
	t.Cleanup(runner.Shutdown)
	c := cache.New()
	invalidator := NewAsyncInvalidator(c, runner)
	emitter := events.EmitSync(events.New(store, runner))

	backend := &fencingBackend{failFrom: 0} // every Extend call reports fenced
	locks := lock.New(backend, "test", 200)
	led := NewLedgerService(store, store, store, store, locks, invalidator, emitter)
	agg := NewAggregationService(store, store, c)

	memberSet := map[string]struct{}{"A": {}, "B": {}, "C": {}}
	if err := store.CreateGroup(context.Background(), &models.Group{ID: "G1", Name: "G1", Members: memberSet, CreatorID: "A"}); err != nil {
		t.Fatalf("create group: %v", err)
	}

	_, err = led.PostExpense(context.Background(), models.Expense{
		Scope: "G1", PayerID: "A", Amount: 9000, SplitMode: models.SplitEqual,
		Participants: []models.Participant{participant("A"), participant("B"), participant("C")},
	})
	if !errors.Is(err, models.ErrFenced) {
		t.Fatalf("expected ErrFenced when the lease is superseded mid-operation, got %v", err)
	}

	matrix, err := agg.GetScopeMatrix(context.Background(), "G1", true)
	if err != nil {
		t.Fatalf("getScopeMatrix: %v", err)
	}
	if len(matrix) != 0 {
		t.Fatalf("expected no balance writes to have landed after fencing, got %+v", matrix)
	}
}

func matricesEqual(a, b ScopeMatrix) bool {
	if len(a) != len(b) {
		return false
	}
	for debtor, row := range a {
		other, ok := b[debtor]
		if !ok || len(other) != len(row) {
			return false
		}
		for creditor, amount := range row {
			if other[creditor] != amount {
				return false
			}
		}
	}
	return true
}
