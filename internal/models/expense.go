package models

import (
	"time"

	"github.com/splitledger/core/internal/money"
)

// SplitMode is the strategy used to divide an expense among participants.
type SplitMode string

const (
	SplitEqual      SplitMode = "EQUAL"
	SplitExact      SplitMode = "EXACT"
	SplitPercentage SplitMode = "PERCENTAGE"
)

// Participant is one entry in an expense's participant list. ExactAmount is
// used only for SplitExact, PercentBp only for SplitPercentage; both are nil
// for SplitEqual.
type Participant struct {
	UserID      string
	ExactAmount *money.Cents
	PercentBp   *int
}

// Split is one derived per-debtor share of an expense. Splits never include
// the payer (spec.md §3 invariant).
type Split struct {
	UserID string
	Amount money.Cents
}

// Expense is immutable once created.
type Expense struct {
	ID           string
	Scope        string // group id, or DirectScope
	PayerID      string
	Amount       money.Cents
	SplitMode    SplitMode
	Participants []Participant
	Splits       []Split
	Date         time.Time
	CreatedAt    time.Time
}
