// Package money implements fixed-point monetary values in integer minor
// units (cents). No float64 ever touches a balance: every arithmetic
// operation and every remainder distribution is exact.
package money

import "fmt"

// Cents is an amount expressed in integer minor units. It is never
// negative in a stored BalanceEntry, but intermediate computations
// (net balances) may go negative.
type Cents int64

// Positive reports whether the amount is strictly greater than zero.
func (c Cents) Positive() bool { return c > 0 }

// Abs returns the absolute value.
func (c Cents) Abs() Cents {
	if c < 0 {
		return -c
	}
	return c
}

func (c Cents) String() string {
	neg := ""
	v := int64(c)
	if v < 0 {
		neg = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", neg, v/100, v%100)
}

// DivideEqually splits amount into n non-negative shares that sum exactly
// to amount, using floor division with the remainder distributed one cent
// at a time to the first (amount mod n) shares in caller-supplied order.
// Callers pass participants pre-sorted (userId ascending per spec.md §3/§4.1).
func DivideEqually(amount Cents, n int) []Cents {
	if n <= 0 {
		return nil
	}
	base := Cents(int64(amount) / int64(n))
	remainder := int(int64(amount) % int64(n))
	shares := make([]Cents, n)
	for i := range shares {
		shares[i] = base
		if i < remainder {
			shares[i]++
		}
	}
	return shares
}

// DivideByBasisPoints computes floor(amount*bp/10000) for each entry in bps,
// in the same order. It does not redistribute any leftover: whether the
// leftover belongs to the payer (partial percentage coverage) or should be
// spread across participants (full 10000bp coverage with a flooring loss) is
// a policy decision the caller makes with DistributeRemainder.
func DivideByBasisPoints(amount Cents, bps []int) []Cents {
	shares := make([]Cents, len(bps))
	for i, bp := range bps {
		shares[i] = Cents(int64(amount) * int64(bp) / 10000)
	}
	return shares
}

// DistributeRemainder adds one cent to each of the first `remainder` shares,
// in place, in caller-supplied order. remainder must be >= 0 and is expected
// to be smaller than len(shares) (a pure flooring-loss remainder).
func DistributeRemainder(shares []Cents, remainder int) {
	for i := 0; i < remainder && i < len(shares); i++ {
		shares[i]++
	}
}

// Sum adds up a slice of Cents.
func Sum(cs []Cents) Cents {
	var total Cents
	for _, c := range cs {
		total += c
	}
	return total
}
