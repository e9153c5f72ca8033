// Package models defines the core domain types shared across the ledger
// core: expenses, balances, groups, and activity events.
//
// Money is always represented as integer cents (internal/money.Cents); no
// field here is a float. Expenses are immutable once created — updates are
// not part of this core (a corrected expense is a new expense plus a
// settlement, or a Recompute repair).
package models
