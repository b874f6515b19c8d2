package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	interfaces "github.com/sheikh-saqib/collateral-lending-ledger/internal/interfaces"
)

var (
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrUnauthorizedAccount   = errors.New("token: unauthorized account")
	ErrInvalidReceiver       = errors.New("token: invalid receiver")
	ErrAmountOverflow        = errors.New("token: amount overflow")
)

// Store is an in-process fungible asset with balances, allowances and an
// owner-gated mint. It is safe for concurrent use.
type Store struct {
	symbol string
	owner  common.Address

	mu          sync.Mutex
	balances    map[common.Address]*uint256.Int
	allowances  map[common.Address]map[common.Address]*uint256.Int
	totalSupply *uint256.Int
}

// NewStore creates an empty asset whose mint is restricted to owner.
func NewStore(symbol string, owner common.Address) *Store {
	return &Store{
		symbol:      symbol,
		owner:       owner,
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[common.Address]map[common.Address]*uint256.Int),
		totalSupply: new(uint256.Int),
	}
}

func (s *Store) Symbol() string { return s.symbol }

func (s *Store) Owner() common.Address { return s.owner }

func (s *Store) BalanceOf(_ context.Context, account common.Address) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(account).Clone(), nil
}

func (s *Store) TotalSupply(_ context.Context) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSupply.Clone(), nil
}

func (s *Store) Allowance(_ context.Context, owner, spender common.Address) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowanceLocked(owner, spender).Clone(), nil
}

// Approve sets (not increments) the amount spender may pull from owner.
func (s *Store) Approve(_ context.Context, owner, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return fmt.Errorf("%w: zero spender", ErrInvalidReceiver)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allowances[owner] == nil {
		s.allowances[owner] = make(map[common.Address]*uint256.Int)
	}
	s.allowances[owner][spender] = amount.Clone()
	return nil
}

// Transfer moves amount from from to to.
func (s *Store) Transfer(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveLocked(from, to, amount)
}

// TransferFrom moves amount from from to to on behalf of spender. The
// allowance is checked before the balance.
func (s *Store) TransferFrom(_ context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowance := s.allowanceLocked(from, spender)
	if allowance.Lt(amount) {
		return fmt.Errorf("%w: %s allowed %s, needs %s", ErrInsufficientAllowance, spender.Hex(), allowance.Dec(), amount.Dec())
	}
	if err := s.moveLocked(from, to, amount); err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}
	s.allowances[from][spender] = new(uint256.Int).Sub(allowance, amount)
	return nil
}

// Mint creates amount new units for to. Only the owner may call it.
func (s *Store) Mint(_ context.Context, caller, to common.Address, amount *uint256.Int) error {
	if caller != s.owner {
		return fmt.Errorf("%w: %s", ErrUnauthorizedAccount, caller.Hex())
	}
	if to == (common.Address{}) {
		return fmt.Errorf("%w: zero address", ErrInvalidReceiver)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	supply, overflow := new(uint256.Int).AddOverflow(s.totalSupply, amount)
	if overflow {
		return ErrAmountOverflow
	}
	s.totalSupply = supply
	s.balances[to] = new(uint256.Int).Add(s.balanceLocked(to), amount)
	return nil
}

func (s *Store) moveLocked(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("%w: zero address", ErrInvalidReceiver)
	}
	fromBalance := s.balanceLocked(from)
	if fromBalance.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBalance.Dec(), amount.Dec())
	}
	if from == to {
		return nil
	}
	// balances sum to totalSupply, so the credit cannot overflow
	s.balances[from] = new(uint256.Int).Sub(fromBalance, amount)
	s.balances[to] = new(uint256.Int).Add(s.balanceLocked(to), amount)
	return nil
}

func (s *Store) balanceLocked(account common.Address) *uint256.Int {
	if b, ok := s.balances[account]; ok {
		return b
	}
	return new(uint256.Int)
}

func (s *Store) allowanceLocked(owner, spender common.Address) *uint256.Int {
	if a, ok := s.allowances[owner][spender]; ok {
		return a
	}
	return new(uint256.Int)
}

var _ interfaces.ValueStore = (*Store)(nil)
