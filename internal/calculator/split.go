// Package calculator implements SplitCalculator (spec.md §4.1): given an
// expense amount, a split mode, and a participant list, it derives the
// per-debtor owed amounts.
package calculator

import (
	"fmt"
	"sort"

	"github.com/splitledger/core/internal/models"
	"github.com/splitledger/core/internal/money"
)

// CalculateSplits derives models.Split entries for every non-payer
// participant. participants may or may not include the payer; if present,
// the payer is dropped from the output (splits never contain the payer).
func CalculateSplits(amount money.Cents, mode models.SplitMode, participants []models.Participant, payerID string) ([]models.Split, error) {
	if !amount.Positive() {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrInvalidSplit)
	}
	if len(participants) == 0 {
		return nil, fmt.Errorf("%w: participant list is empty", models.ErrInvalidSplit)
	}

	debtors := nonPayer(participants, payerID)
	sort.Slice(debtors, func(i, j int) bool { return debtors[i].UserID < debtors[j].UserID })

	switch mode {
	case models.SplitEqual:
		return splitEqual(amount, participants, debtors)
	case models.SplitExact:
		return splitExact(amount, debtors)
	case models.SplitPercentage:
		return splitPercentage(amount, debtors)
	default:
		return nil, fmt.Errorf("%w: unknown split mode %q", models.ErrInvalidSplit, mode)
	}
}

func nonPayer(participants []models.Participant, payerID string) []models.Participant {
	out := make([]models.Participant, 0, len(participants))
	for _, p := range participants {
		if p.UserID != payerID {
			out = append(out, p)
		}
	}
	return out
}

// splitEqual divides amount by the full participant count (payer included in
// the denominator), then gives one extra cent to each of the first
// (amount mod n) participants in userId order, payer included; a cent that
// lands on the payer stays with the payer and is not emitted (spec.md §4.1, B1).
func splitEqual(amount money.Cents, allParticipants, debtors []models.Participant) ([]models.Split, error) {
	n := len(allParticipants)
	if n == 0 {
		return nil, fmt.Errorf("%w: participant list is empty", models.ErrInvalidSplit)
	}
	shares := money.DivideEqually(amount, n)
	remainder := int(int64(amount) % int64(n))

	// Sort a copy of all participants by userId to determine remainder
	// recipients; if the payer lands among the first `remainder` slots the
	// extra cent silently stays with the payer (not emitted as a split).
	sorted := append([]models.Participant(nil), allParticipants...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UserID < sorted[j].UserID })

	base := shares[len(shares)-1] // remainder < n, so the last share is never bumped
	extra := make(map[string]bool, remainder)
	for i := 0; i < remainder && i < len(sorted); i++ {
		extra[sorted[i].UserID] = true
	}

	splits := make([]models.Split, 0, len(debtors))
	for _, d := range debtors {
		amt := base
		if extra[d.UserID] {
			amt++
		}
		if amt > 0 {
			splits = append(splits, models.Split{UserID: d.UserID, Amount: amt})
		}
	}
	return splits, nil
}

// splitExact requires each non-payer participant to carry a positive
// ExactAmount; the payer absorbs amount - sum(exact) (spec.md §4.1).
func splitExact(amount money.Cents, debtors []models.Participant) ([]models.Split, error) {
	splits := make([]models.Split, 0, len(debtors))
	var total money.Cents
	for _, d := range debtors {
		if d.ExactAmount == nil || !d.ExactAmount.Positive() {
			return nil, fmt.Errorf("%w: participant %s missing a positive exact amount", models.ErrInvalidSplit, d.UserID)
		}
		total += *d.ExactAmount
		splits = append(splits, models.Split{UserID: d.UserID, Amount: *d.ExactAmount})
	}
	if total > amount {
		return nil, fmt.Errorf("%w: exact amounts sum to %s, exceeding expense amount %s", models.ErrInvalidSplit, total, amount)
	}
	return splits, nil
}

// splitPercentage requires basis points 0-10000 per non-payer participant,
// summing to at most 10000. Flooring loss is redistributed to the first
// participants in userId order ONLY when the basis points fully cover
// 10000 (B2); otherwise the shortfall (including any flooring loss) is
// left as the payer's implicit share (spec.md §9 open-question decision:
// "payer absorbs residual").
func splitPercentage(amount money.Cents, debtors []models.Participant) ([]models.Split, error) {
	bps := make([]int, len(debtors))
	totalBp := 0
	for i, d := range debtors {
		if d.PercentBp == nil || *d.PercentBp < 0 || *d.PercentBp > 10000 {
			return nil, fmt.Errorf("%w: participant %s has an invalid percentage", models.ErrInvalidSplit, d.UserID)
		}
		bps[i] = *d.PercentBp
		totalBp += bps[i]
	}
	if totalBp > 10000 {
		return nil, fmt.Errorf("%w: percentages sum to %d bps, exceeding 10000", models.ErrInvalidSplit, totalBp)
	}

	shares := money.DivideByBasisPoints(amount, bps)
	if totalBp == 10000 {
		sum := money.Sum(shares)
		money.DistributeRemainder(shares, int(amount-sum))
	}

	splits := make([]models.Split, 0, len(debtors))
	for i, d := range debtors {
		if shares[i] > 0 {
			splits = append(splits, models.Split{UserID: d.UserID, Amount: shares[i]})
		}
	}
	return splits, nil
}
