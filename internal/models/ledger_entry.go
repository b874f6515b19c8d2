package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EntryKind names the ledger operation that produced a journal entry.
type EntryKind string

const (
	EntryDeposit  EntryKind = "deposit"
	EntryBorrow   EntryKind = "borrow"
	EntryRepay    EntryKind = "repay"
	EntryWithdraw EntryKind = "withdraw"
)

// LedgerEntry is one journal row recording a completed position transition.
type LedgerEntry struct {
	ID             string         // unique identifier
	IdempotencyKey string         // client-supplied retry key, empty when none was sent
	User           common.Address // whose position changed
	Kind           EntryKind      // which operation
	Amount         *uint256.Int   // amount moved by the external transfer
	CreatedAt      time.Time      // timestamp
}
