package models

import (
	"time"

	"github.com/splitledger/core/internal/money"
)

// BalanceEntry is one row of the pairwise debt ledger: debtor owes creditor
// amount, within scope. An entry with Amount == 0 must never be persisted
// (spec.md §3 invariant N2); the store deletes it instead.
type BalanceEntry struct {
	Scope         string
	Debtor        string
	Creditor      string
	Amount        money.Cents
	LastExpenseID string
	UpdatedAt     time.Time
}

// Key identifies a BalanceEntry uniquely.
func (b BalanceEntry) Key() BalanceKey {
	return BalanceKey{Scope: b.Scope, Debtor: b.Debtor, Creditor: b.Creditor}
}

// BalanceKey is the (scope, debtor, creditor) identity of a pairwise row.
type BalanceKey struct {
	Scope    string
	Debtor   string
	Creditor string
}

// Settlement is a payment that fully or partially clears a pairwise debt.
// Persisted only for history/drill-down; the authoritative effect on the
// ledger is the BalanceStore mutation performed by LedgerService.settle.
type Settlement struct {
	ID        string
	Scope     string
	DebtorID  string
	CreditorID string
	Amount    money.Cents
	CreatedAt time.Time
}

// CounterpartyAmount is one row of an aggregated user balance view.
type CounterpartyAmount struct {
	UserID string
	Amount money.Cents
}

// UserView is the response shape of AggregationService.GetUserView.
type UserView struct {
	Owes       []CounterpartyAmount
	Owed       []CounterpartyAmount
	TotalOwes  money.Cents
	TotalOwed  money.Cents
	NetBalance money.Cents
}

// Transaction is one leg of a settlement plan (spec.md §6).
type Transaction struct {
	From   string
	To     string
	Amount money.Cents
}
