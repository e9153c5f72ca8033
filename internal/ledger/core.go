// Package ledger implements LedgerCore (spec.md §4.2): a pure, in-memory
// pairwise debt algebra. It is applied identically whether it is backed by
// plain maps (as here, for unit tests and Recompute replay) or by
// internal/storage's BalanceStore.
package ledger

import (
	"fmt"

	"github.com/splitledger/core/internal/models"
	"github.com/splitledger/core/internal/money"
)

// Core models debtor -> creditor -> amount, all positive, with the
// no-mutual-debt invariant (N1) enforced on every AddDebt.
type Core struct {
	balances map[string]map[string]money.Cents
}

// New returns an empty ledger.
func New() *Core {
	return &Core{balances: make(map[string]map[string]money.Cents)}
}

// AddDebt records that debtor owes creditor an additional delta, applying
// mutual-debt simplification: any existing reverse debt (creditor owes
// debtor) is reduced first (spec.md §4.2).
func (c *Core) AddDebt(debtor, creditor string, delta money.Cents) error {
	if debtor == creditor {
		return fmt.Errorf("%w: debtor and creditor are the same user", models.ErrInvalidSettlement)
	}
	if !delta.Positive() {
		return fmt.Errorf("%w: delta must be positive", models.ErrInvalidSettlement)
	}

	reverse := c.get(creditor, debtor)
	if reverse >= delta {
		c.set(creditor, debtor, reverse-delta)
	} else {
		c.set(creditor, debtor, 0)
		c.set(debtor, creditor, c.get(debtor, creditor)+(delta-reverse))
	}
	return nil
}

// SettleDebt decrements an existing debtor->creditor debt by delta, deleting
// the row if it reaches zero. Fails with ErrInsufficientBalance if the
// current balance is less than delta.
func (c *Core) SettleDebt(debtor, creditor string, delta money.Cents) error {
	if !delta.Positive() {
		return fmt.Errorf("%w: amount must be positive", models.ErrInvalidSettlement)
	}
	current := c.get(debtor, creditor)
	if current < delta {
		return models.ErrInsufficientBalance
	}
	c.set(debtor, creditor, current-delta)
	return nil
}

// UserOwes returns every creditor the user owes money to, and how much.
func (c *Core) UserOwes(userID string) []models.CounterpartyAmount {
	return c.row(userID)
}

// UserOwed returns every debtor who owes the user money.
func (c *Core) UserOwed(userID string) []models.CounterpartyAmount {
	var out []models.CounterpartyAmount
	for debtor, row := range c.balances {
		if amt, ok := row[userID]; ok && amt.Positive() {
			out = append(out, models.CounterpartyAmount{UserID: debtor, Amount: amt})
		}
	}
	return out
}

// NetBalance returns owed-minus-owes for a user within this ledger.
func (c *Core) NetBalance(userID string) money.Cents {
	var net money.Cents
	for _, ca := range c.UserOwed(userID) {
		net += ca.Amount
	}
	for _, ca := range c.UserOwes(userID) {
		net -= ca.Amount
	}
	return net
}

// Snapshot returns every non-zero (debtor, creditor, amount) row, satisfying
// invariant N2 (no zero rows in a snapshot).
func (c *Core) Snapshot() []models.BalanceEntry {
	var out []models.BalanceEntry
	for debtor, row := range c.balances {
		for creditor, amt := range row {
			if amt.Positive() {
				out = append(out, models.BalanceEntry{Debtor: debtor, Creditor: creditor, Amount: amt})
			}
		}
	}
	return out
}

func (c *Core) row(debtor string) []models.CounterpartyAmount {
	var out []models.CounterpartyAmount
	for creditor, amt := range c.balances[debtor] {
		if amt.Positive() {
			out = append(out, models.CounterpartyAmount{UserID: creditor, Amount: amt})
		}
	}
	return out
}

func (c *Core) get(debtor, creditor string) money.Cents {
	row, ok := c.balances[debtor]
	if !ok {
		return 0
	}
	return row[creditor]
}

func (c *Core) set(debtor, creditor string, amount money.Cents) {
	if amount <= 0 {
		if row, ok := c.balances[debtor]; ok {
			delete(row, creditor)
			if len(row) == 0 {
				delete(c.balances, debtor)
			}
		}
		return
	}
	row, ok := c.balances[debtor]
	if !ok {
		row = make(map[string]money.Cents)
		c.balances[debtor] = row
	}
	row[creditor] = amount
}
