package service

import (
	"sort"

	"github.com/splitledger/core/internal/models"
	"github.com/splitledger/core/internal/money"
)

// epsilon is the minimum net magnitude spec.md §4.9 considers significant;
// anything at or below it is treated as already settled.
const epsilon = money.Cents(1)

// netParty is one user's net position going into the greedy match.
type netParty struct {
	userID string
	amount money.Cents // always positive; sign is implied by which slice it's in
}

// PlanSettlements is C10: given a balance matrix (a single scope's
// getScopeMatrix, or a caller-netted cross-scope matrix), produce a list
// of (from, to, amount) transactions of approximately minimum cardinality
// via greedy matching (spec.md §4.9). Output is fully deterministic: ties
// on amount break by userID ascending, and both input partitions are
// sorted before matching.
func PlanSettlements(matrix ScopeMatrix) []models.Transaction {
	net := make(map[string]money.Cents)
	for debtor, row := range matrix {
		for creditor, amount := range row {
			net[debtor] -= amount
			net[creditor] += amount
		}
	}

	var creditors, debtors []netParty
	for userID, n := range net {
		switch {
		case n > epsilon:
			creditors = append(creditors, netParty{userID, n})
		case n < -epsilon:
			debtors = append(debtors, netParty{userID, -n})
		}
	}
	sortNetParties(creditors)
	sortNetParties(debtors)

	var out []models.Transaction
	i, j := 0, 0
	for i < len(creditors) && j < len(debtors) {
		delta := creditors[i].amount
		if debtors[j].amount < delta {
			delta = debtors[j].amount
		}
		out = append(out, models.Transaction{From: debtors[j].userID, To: creditors[i].userID, Amount: delta})
		creditors[i].amount -= delta
		debtors[j].amount -= delta
		if creditors[i].amount <= epsilon {
			i++
		}
		if debtors[j].amount <= epsilon {
			j++
		}
	}
	return out
}

// sortNetParties orders descending by amount, breaking ties by userID
// ascending (spec.md §4.9 step 5's determinism requirement).
func sortNetParties(parties []netParty) {
	sort.Slice(parties, func(i, j int) bool {
		if parties[i].amount != parties[j].amount {
			return parties[i].amount > parties[j].amount
		}
		return parties[i].userID < parties[j].userID
	})
}
