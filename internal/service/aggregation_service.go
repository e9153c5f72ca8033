package service

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/splitledger/core/internal/cache"
	"github.com/splitledger/core/internal/models"
	"github.com/splitledger/core/internal/money"
	"github.com/splitledger/core/internal/storage"
)

// defaultViewTTL matches spec.md §4.8's "reads go through CacheLayer with
// TTL ≈ 5 minutes".
const defaultViewTTL = 5 * time.Minute

// AggregationService is C9: read-only balance views built from
// BalanceStore, fronted by CacheLayer.
type AggregationService struct {
	balances storage.BalanceStore
	groups   storage.GroupStore
	cache    *cache.Cache
	ttl      time.Duration
}

// NewAggregationService wires the read orchestrator described in spec.md §4.8.
func NewAggregationService(balances storage.BalanceStore, groups storage.GroupStore, c *cache.Cache) *AggregationService {
	return &AggregationService{balances: balances, groups: groups, cache: c, ttl: defaultViewTTL}
}

// DelPrefix satisfies Invalidator so LedgerService can invalidate this
// service's cached views directly.
func (a *AggregationService) DelPrefix(prefix string) { a.cache.DelPrefix(prefix) }

// GetUserView implements spec.md §4.8's getUserView: the union of every
// pair where userID is debtor or creditor, collapsed to per-counterparty
// sums across scopes. fresh=true bypasses CacheLayer for read-your-writes
// callers (spec.md §5).
func (a *AggregationService) GetUserView(ctx context.Context, userID string, fresh bool) (*models.UserView, error) {
	key := "bal:user:" + userID
	raw, err := a.cache.GetOrCompute(ctx, key, a.ttl, fresh, func(ctx context.Context) ([]byte, error) {
		view, err := a.computeUserView(ctx, userID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(view)
	})
	if err != nil {
		return nil, err
	}
	var view models.UserView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// computeUserView is the authoritative BalanceStore-backed computation
// GetOrCompute calls on a cache miss.
func (a *AggregationService) computeUserView(ctx context.Context, userID string) (*models.UserView, error) {
	owedRows, err := a.balances.ScanByDebtor(ctx, userID) // rows where userID owes someone
	if err != nil {
		return nil, err
	}
	owingRows, err := a.balances.ScanByCreditor(ctx, userID) // rows where someone owes userID
	if err != nil {
		return nil, err
	}

	// N1 guarantees no counterparty appears on both sides within one
	// scope; cross-scope sums are NOT netted against each other, per
	// spec.md §4.8's explicit provenance-preserving policy decision.
	owes := make(map[string]money.Cents)
	for _, e := range owedRows {
		owes[e.Creditor] += e.Amount
	}
	owed := make(map[string]money.Cents)
	for _, e := range owingRows {
		owed[e.Debtor] += e.Amount
	}

	view := &models.UserView{
		Owes: sortedCounterparties(owes),
		Owed: sortedCounterparties(owed),
	}
	for _, c := range view.Owes {
		view.TotalOwes += c.Amount
	}
	for _, c := range view.Owed {
		view.TotalOwed += c.Amount
	}
	view.NetBalance = view.TotalOwed - view.TotalOwes
	return view, nil
}

func sortedCounterparties(m map[string]money.Cents) []models.CounterpartyAmount {
	out := make([]models.CounterpartyAmount, 0, len(m))
	for userID, amount := range m {
		out = append(out, models.CounterpartyAmount{UserID: userID, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// ScopeMatrix is {[debtor]: {[creditor]: amount}} as spec.md §4.8 describes.
type ScopeMatrix map[string]map[string]money.Cents

// GetScopeMatrix implements spec.md §4.8's getScopeMatrix.
func (a *AggregationService) GetScopeMatrix(ctx context.Context, scope string, fresh bool) (ScopeMatrix, error) {
	key := "bal:scope:" + scope
	raw, err := a.cache.GetOrCompute(ctx, key, a.ttl, fresh, func(ctx context.Context) ([]byte, error) {
		entries, err := a.balances.ScanByScope(ctx, scope)
		if err != nil {
			return nil, err
		}
		return json.Marshal(entries)
	})
	if err != nil {
		return nil, err
	}
	var entries []models.BalanceEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}

	matrix := make(ScopeMatrix)
	for _, e := range entries {
		if matrix[e.Debtor] == nil {
			matrix[e.Debtor] = make(map[string]money.Cents)
		}
		matrix[e.Debtor][e.Creditor] = e.Amount
	}
	return matrix, nil
}

// merge adds every row of other into m in place, summing amounts where a
// (debtor, creditor) pair appears in both.
func (m ScopeMatrix) merge(other ScopeMatrix) {
	for debtor, row := range other {
		if m[debtor] == nil {
			m[debtor] = make(map[string]money.Cents)
		}
		for creditor, amount := range row {
			m[debtor][creditor] += amount
		}
	}
}

// GetSettlementMatrix resolves the matrix SettlementPlanner should net
// against. scope == nil means global netting across every scope this
// service knows about (spec.md §9 open-question decision: an explicit
// parameter, never an implicit default); a non-nil scope nets only that
// one scope's matrix.
func (a *AggregationService) GetSettlementMatrix(ctx context.Context, scope *string) (ScopeMatrix, error) {
	if scope != nil {
		return a.GetScopeMatrix(ctx, *scope, false)
	}

	combined := make(ScopeMatrix)
	direct, err := a.GetScopeMatrix(ctx, models.DirectScope, false)
	if err != nil {
		return nil, err
	}
	combined.merge(direct)

	groups, err := a.groups.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if g.IsDeleted() {
			continue
		}
		m, err := a.GetScopeMatrix(ctx, g.ID, false)
		if err != nil {
			return nil, err
		}
		combined.merge(m)
	}
	return combined, nil
}
