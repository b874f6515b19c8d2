package ledger

import "github.com/holiman/uint256"

const (
	MaxLTVNumerator         = 2
	MaxLTVDenominator       = 3
	InterestRateNumerator   = 5
	InterestRateDenominator = 100
)

// mulDivFloor returns floor(x*num/den) without an intermediate overflow by
// splitting x into quotient and remainder of den. num must be below den.
func mulDivFloor(x *uint256.Int, num, den uint64) *uint256.Int {
	d := uint256.NewInt(den)
	n := uint256.NewInt(num)
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(x, d, r)
	q.Mul(q, n)
	r.Mul(r, n)
	r.Div(r, d)
	return q.Add(q, r)
}

// borrowLimit is floor(collateral * 2/3).
func borrowLimit(collateral *uint256.Int) *uint256.Int {
	return mulDivFloor(collateral, MaxLTVNumerator, MaxLTVDenominator)
}

// flatInterest is debt * 5/100, truncated. It does not depend on elapsed time.
func flatInterest(debt *uint256.Int) *uint256.Int {
	if debt == nil || debt.IsZero() {
		return new(uint256.Int)
	}
	return mulDivFloor(debt, InterestRateNumerator, InterestRateDenominator)
}
