package events

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Event names, used as the Kafka message key suffix and the NATS subject token.
const (
	NameCollateralDeposited = "CollateralDeposited"
	NameLoanBorrowed        = "LoanBorrowed"
	NameLoanRepaid          = "LoanRepaid"
	NameCollateralWithdrawn = "CollateralWithdrawn"
)

// Event is implemented by every payload the ledger emits.
type Event interface {
	ID() string
	EventName() string
	Account() string
}

// Amounts are base-unit decimal strings so consumers never lose precision.

type CollateralDeposited struct {
	EventID    string    `json:"event_id"`
	User       string    `json:"user"`
	Amount     string    `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

type LoanBorrowed struct {
	EventID    string    `json:"event_id"`
	User       string    `json:"user"`
	Amount     string    `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

// LoanRepaid carries principal plus interest in TotalAmount.
type LoanRepaid struct {
	EventID     string    `json:"event_id"`
	User        string    `json:"user"`
	TotalAmount string    `json:"total_amount"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type CollateralWithdrawn struct {
	EventID    string    `json:"event_id"`
	User       string    `json:"user"`
	Amount     string    `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewCollateralDeposited(user common.Address, amount *uint256.Int, at time.Time) CollateralDeposited {
	return CollateralDeposited{EventID: uuid.NewString(), User: user.Hex(), Amount: amount.Dec(), OccurredAt: at}
}

func NewLoanBorrowed(user common.Address, amount *uint256.Int, at time.Time) LoanBorrowed {
	return LoanBorrowed{EventID: uuid.NewString(), User: user.Hex(), Amount: amount.Dec(), OccurredAt: at}
}

func NewLoanRepaid(user common.Address, total *uint256.Int, at time.Time) LoanRepaid {
	return LoanRepaid{EventID: uuid.NewString(), User: user.Hex(), TotalAmount: total.Dec(), OccurredAt: at}
}

func NewCollateralWithdrawn(user common.Address, amount *uint256.Int, at time.Time) CollateralWithdrawn {
	return CollateralWithdrawn{EventID: uuid.NewString(), User: user.Hex(), Amount: amount.Dec(), OccurredAt: at}
}

func (e CollateralDeposited) ID() string        { return e.EventID }
func (e LoanBorrowed) ID() string               { return e.EventID }
func (e LoanRepaid) ID() string                 { return e.EventID }
func (e CollateralWithdrawn) ID() string        { return e.EventID }
func (e CollateralDeposited) EventName() string { return NameCollateralDeposited }
func (e CollateralDeposited) Account() string   { return e.User }
func (e LoanBorrowed) EventName() string        { return NameLoanBorrowed }
func (e LoanBorrowed) Account() string          { return e.User }
func (e LoanRepaid) EventName() string          { return NameLoanRepaid }
func (e LoanRepaid) Account() string            { return e.User }
func (e CollateralWithdrawn) EventName() string { return NameCollateralWithdrawn }
func (e CollateralWithdrawn) Account() string   { return e.User }
