package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Position is a user's collateral and debt record held by the ledger.
// A zero Position is what every user starts with.
type Position struct {
	User                  common.Address // owner of the position
	Collateral            *uint256.Int   // collateral-asset units held on the user's behalf
	Debt                  *uint256.Int   // loan-asset principal owed, interest is derived
	LastInterestTimestamp time.Time      // when Debt was last set or cleared
}

// NewPosition returns the empty position for user.
func NewPosition(user common.Address) Position {
	return Position{
		User:       user,
		Collateral: new(uint256.Int),
		Debt:       new(uint256.Int),
	}
}

// Clone returns a deep copy so callers can mutate amounts freely.
func (p Position) Clone() Position {
	out := Position{User: p.User, LastInterestTimestamp: p.LastInterestTimestamp}
	out.Collateral = cloneOrZero(p.Collateral)
	out.Debt = cloneOrZero(p.Debt)
	return out
}

// IsEmpty reports whether both collateral and debt are zero.
func (p Position) IsEmpty() bool {
	return (p.Collateral == nil || p.Collateral.IsZero()) && (p.Debt == nil || p.Debt.IsZero())
}

func cloneOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
