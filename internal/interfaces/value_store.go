package interfaces

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ValueStore is a fungible asset the ledger moves value through.
// TransferFrom spends an allowance that from granted to spender.
//
// The ledger holds the user's lock while it calls a ValueStore. An
// implementation that calls back into the ledger (hooks, receivers) must pass
// on the ctx it was given: the ledger recognizes the in-flight user from it and
// refuses the call with ErrReentrantCall. A callback made with a fresh context
// for the same user blocks on that lock forever.
type ValueStore interface {
	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error
}
