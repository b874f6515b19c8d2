package token

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	owner = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	user1 = common.HexToAddress("0x0000000000000000000000000000000000000001")
	user2 = common.HexToAddress("0x0000000000000000000000000000000000000002")
	pool  = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func balance(t *testing.T, s *Store, a common.Address) uint64 {
	t.Helper()
	b, err := s.BalanceOf(context.Background(), a)
	require.NoError(t, err)
	return b.Uint64()
}

func TestMintByOwner(t *testing.T) {
	ctx := context.Background()
	s := NewStore("COL", owner)

	require.NoError(t, s.Mint(ctx, owner, user1, uint256.NewInt(1000)))
	require.NoError(t, s.Mint(ctx, owner, user1, uint256.NewInt(100)))

	assert.Equal(t, uint64(1100), balance(t, s, user1))
	supply, err := s.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1100), supply.Uint64())
}

func TestMintRejectsNonOwner(t *testing.T) {
	s := NewStore("COL", owner)
	err := s.Mint(context.Background(), user1, user2, uint256.NewInt(100))
	require.ErrorIs(t, err, ErrUnauthorizedAccount)
	assert.Zero(t, balance(t, s, user2))
}

func TestMintRejectsZeroReceiver(t *testing.T) {
	s := NewStore("COL", owner)
	err := s.Mint(context.Background(), owner, common.Address{}, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrInvalidReceiver)
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	s := NewStore("COL", owner)
	require.NoError(t, s.Mint(ctx, owner, user1, uint256.NewInt(1000)))

	require.NoError(t, s.Transfer(ctx, user1, user2, uint256.NewInt(100)))
	assert.Equal(t, uint64(900), balance(t, s, user1))
	assert.Equal(t, uint64(100), balance(t, s, user2))

	err := s.Transfer(ctx, user2, user1, uint256.NewInt(101))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, uint64(100), balance(t, s, user2))
}

func TestTransferFromChecksAllowanceFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore("COL", owner)

	// no balance and no allowance: allowance error wins
	err := s.TransferFrom(ctx, pool, user2, pool, uint256.NewInt(150))
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	require.NoError(t, s.Approve(ctx, user2, pool, uint256.NewInt(150)))
	err = s.TransferFrom(ctx, pool, user2, pool, uint256.NewInt(150))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	allowance, err := s.Allowance(ctx, user2, pool)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), allowance.Uint64(), "failed pull must not spend the allowance")
}

func TestTransferFromSpendsAllowance(t *testing.T) {
	ctx := context.Background()
	s := NewStore("COL", owner)
	require.NoError(t, s.Mint(ctx, owner, user1, uint256.NewInt(1000)))
	require.NoError(t, s.Approve(ctx, user1, pool, uint256.NewInt(200)))

	require.NoError(t, s.TransferFrom(ctx, pool, user1, pool, uint256.NewInt(150)))

	allowance, err := s.Allowance(ctx, user1, pool)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), allowance.Uint64())
	assert.Equal(t, uint64(850), balance(t, s, user1))
	assert.Equal(t, uint64(150), balance(t, s, pool))
}
