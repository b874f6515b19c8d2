package interfaces

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sheikh-saqib/collateral-lending-ledger/internal/models"
)

// PositionStore persists positions and the journal of completed operations.
// GetPosition returns the empty position for users it has never seen.
// RevertEntry restores previous and deletes the journal entry in one step; the
// ledger uses it when a transfer fails after the position was persisted.
// Idempotency keys are unique across the journal: SavePositionWithEntry fails
// for an entry whose non-empty key is already recorded, and
// GetEntryByIdempotencyKey reports found=false for unknown keys.
type PositionStore interface {
	GetPosition(ctx context.Context, user common.Address) (models.Position, error)
	GetEntryByIdempotencyKey(ctx context.Context, key string) (entry models.LedgerEntry, found bool, err error)
	SavePositionWithEntry(ctx context.Context, position models.Position, entry models.LedgerEntry) error
	RevertEntry(ctx context.Context, previous models.Position, entryID string) error
	GetEntriesByUser(ctx context.Context, user common.Address) ([]models.LedgerEntry, error)
	GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error)
}
