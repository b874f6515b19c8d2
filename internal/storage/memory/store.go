package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	interfaces "github.com/sheikh-saqib/collateral-lending-ledger/internal/interfaces"
	"github.com/sheikh-saqib/collateral-lending-ledger/internal/models"
)

var (
	ErrEntryNotFound           = errors.New("memory store: entry not found")
	ErrDuplicateIdempotencyKey = errors.New("memory store: idempotency key already recorded")
)

// MemoryLedgerStore keeps positions in a map and the journal in a slice.
// It is safe for concurrent use.
type MemoryLedgerStore struct {
	mu        sync.Mutex                         // protects all fields
	positions map[common.Address]models.Position // latest position per user
	entries   []models.LedgerEntry               // journal in append order
	keys      map[string]models.LedgerEntry      // idempotency key -> entry that used it
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		positions: make(map[common.Address]models.Position),
		entries:   make([]models.LedgerEntry, 0),
		keys:      make(map[string]models.LedgerEntry),
	}
}

func (m *MemoryLedgerStore) GetPosition(_ context.Context, user common.Address) (models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Hand out a copy; the ledger mutates what it loads
	if pos, ok := m.positions[user]; ok {
		return pos.Clone(), nil
	}

	// Never seen: the empty position
	return models.NewPosition(user), nil
}

func (m *MemoryLedgerStore) GetEntryByIdempotencyKey(_ context.Context, key string) (models.LedgerEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key == "" {
		return models.LedgerEntry{}, false, nil
	}
	entry, ok := m.keys[key]
	return entry, ok, nil
}

// SavePositionWithEntry replaces the user's position and appends entry.
func (m *MemoryLedgerStore) SavePositionWithEntry(_ context.Context, position models.Position, entry models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check the key before touching anything so a duplicate leaves no trace
	if entry.IdempotencyKey != "" {
		if _, exists := m.keys[entry.IdempotencyKey]; exists {
			return ErrDuplicateIdempotencyKey
		}
		m.keys[entry.IdempotencyKey] = entry
	}

	m.positions[position.User] = position.Clone()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemoryLedgerStore) RevertEntry(_ context.Context, previous models.Position, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Most recent first: the entry being reverted was just appended
	idx := -1
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].ID == entryID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrEntryNotFound
	}

	// Free the key so the client can retry the operation
	if key := m.entries[idx].IdempotencyKey; key != "" {
		delete(m.keys, key)
	}
	m.entries = append(m.entries[:idx], m.entries[idx+1:]...)
	m.positions[previous.User] = previous.Clone()
	return nil
}

// GetLedgerEntries returns a copy of the journal so callers can't modify it.
func (m *MemoryLedgerStore) GetLedgerEntries(_ context.Context) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]models.LedgerEntry, len(m.entries))
	copy(copied, m.entries)
	return copied, nil
}

func (m *MemoryLedgerStore) GetEntriesByUser(_ context.Context, user common.Address) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Linear scan; the journal is append-only and not indexed by user
	var result []models.LedgerEntry
	for _, e := range m.entries {
		if e.User == user {
			result = append(result, e)
		}
	}
	return result, nil
}

// Compile-time check: ensure MemoryLedgerStore implements PositionStore
var _ interfaces.PositionStore = (*MemoryLedgerStore)(nil)
