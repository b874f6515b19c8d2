package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/lib/pq"

	interfaces "github.com/sheikh-saqib/collateral-lending-ledger/internal/interfaces"
	"github.com/sheikh-saqib/collateral-lending-ledger/internal/models"
)

var (
	ErrEntryNotFound           = errors.New("postgres store: entry not found")
	ErrDuplicateIdempotencyKey = errors.New("postgres store: idempotency key already recorded")
)

const idempotencyKeyIndex = "ledger_entries_idempotency_key_idx"

// Schema creates the tables the store needs. Amounts are NUMERIC(78,0), wide
// enough for any 256-bit value.
const Schema = `
CREATE TABLE IF NOT EXISTS positions (
	user_address     TEXT PRIMARY KEY,
	collateral       NUMERIC(78,0) NOT NULL DEFAULT 0,
	debt             NUMERIC(78,0) NOT NULL DEFAULT 0,
	last_interest_at TIMESTAMPTZ NULL
);
CREATE TABLE IF NOT EXISTS ledger_entries (
	id              UUID PRIMARY KEY,
	user_address    TEXT NOT NULL,
	kind            TEXT NOT NULL,
	amount          NUMERIC(78,0) NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	idempotency_key TEXT NULL
);
ALTER TABLE ledger_entries ADD COLUMN IF NOT EXISTS idempotency_key TEXT NULL;
CREATE INDEX IF NOT EXISTS ledger_entries_user_idx ON ledger_entries (user_address, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS ledger_entries_idempotency_key_idx ON ledger_entries (idempotency_key)
	WHERE idempotency_key IS NOT NULL;
`

type PostgresLedgerStore struct {
	db *sql.DB
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		db: db,
	}
}

// Open connects to dsn, verifies the connection and applies Schema.
func Open(ctx context.Context, dsn string) (*PostgresLedgerStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := NewPostgresLedgerStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (p *PostgresLedgerStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

func (p *PostgresLedgerStore) Close() error {
	return p.db.Close()
}

func (p *PostgresLedgerStore) GetPosition(ctx context.Context, user common.Address) (models.Position, error) {
	const query = `SELECT collateral, debt, last_interest_at FROM positions WHERE user_address = $1`

	var (
		collateral, debt string
		lastInterest     sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, query, user.Hex()).Scan(&collateral, &debt, &lastInterest)
	if err == sql.ErrNoRows {
		return models.NewPosition(user), nil
	}
	if err != nil {
		return models.Position{}, err
	}

	pos := models.Position{User: user}
	if pos.Collateral, err = parseAmount(collateral); err != nil {
		return models.Position{}, err
	}
	if pos.Debt, err = parseAmount(debt); err != nil {
		return models.Position{}, err
	}
	if lastInterest.Valid {
		pos.LastInterestTimestamp = lastInterest.Time
	}
	return pos, nil
}

func (p *PostgresLedgerStore) GetEntryByIdempotencyKey(ctx context.Context, key string) (models.LedgerEntry, bool, error) {
	if key == "" {
		return models.LedgerEntry{}, false, nil
	}

	const query = `SELECT id, user_address, kind, amount, created_at, idempotency_key FROM ledger_entries
	WHERE idempotency_key = $1`

	rows, err := p.db.QueryContext(ctx, query, key)
	if err != nil {
		return models.LedgerEntry{}, false, err
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return models.LedgerEntry{}, false, err
	}
	if len(entries) == 0 {
		return models.LedgerEntry{}, false, nil
	}
	return entries[0], true, nil
}

func (p *PostgresLedgerStore) savePosition(ctx context.Context, position models.Position, dbTx *sql.Tx) error {
	const query = `INSERT INTO positions (user_address, collateral, debt, last_interest_at)
	VALUES ($1,$2,$3,$4)
	ON CONFLICT (user_address) DO UPDATE
	SET collateral = EXCLUDED.collateral, debt = EXCLUDED.debt, last_interest_at = EXCLUDED.last_interest_at`

	_, err := dbTx.ExecContext(ctx, query,
		position.User.Hex(),
		formatAmount(position.Collateral),
		formatAmount(position.Debt),
		nullTime(position.LastInterestTimestamp),
	)
	return err
}

func (p *PostgresLedgerStore) saveEntry(ctx context.Context, entry models.LedgerEntry, dbTx *sql.Tx) error {
	const query = `INSERT INTO ledger_entries (id, user_address, kind, amount, created_at, idempotency_key)
	VALUES ($1,$2,$3,$4,$5,$6)`

	_, err := dbTx.ExecContext(ctx, query,
		entry.ID,
		entry.User.Hex(),
		string(entry.Kind),
		formatAmount(entry.Amount),
		entry.CreatedAt,
		sql.NullString{String: entry.IdempotencyKey, Valid: entry.IdempotencyKey != ""},
	)
	if isDuplicateKey(err) {
		return ErrDuplicateIdempotencyKey
	}
	return err
}

// SavePositionWithEntry upserts the position and inserts entry in one transaction.
func (p *PostgresLedgerStore) SavePositionWithEntry(ctx context.Context, position models.Position, entry models.LedgerEntry) (err error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	if err = p.savePosition(ctx, position, dbTx); err != nil {
		return err
	}
	if err = p.saveEntry(ctx, entry, dbTx); err != nil {
		return err
	}
	return dbTx.Commit()
}

// RevertEntry restores previous and deletes the entry in one transaction.
func (p *PostgresLedgerStore) RevertEntry(ctx context.Context, previous models.Position, entryID string) (err error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	res, err := dbTx.ExecContext(ctx, `DELETE FROM ledger_entries WHERE id = $1`, entryID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		err = ErrEntryNotFound
		return err
	}
	if err = p.savePosition(ctx, previous, dbTx); err != nil {
		return err
	}
	return dbTx.Commit()
}

func (p *PostgresLedgerStore) GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	const query = `SELECT id, user_address, kind, amount, created_at, idempotency_key FROM ledger_entries ORDER BY created_at, id`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (p *PostgresLedgerStore) GetEntriesByUser(ctx context.Context, user common.Address) ([]models.LedgerEntry, error) {
	const query = `SELECT id, user_address, kind, amount, created_at, idempotency_key FROM ledger_entries
	WHERE user_address = $1 ORDER BY created_at, id`

	rows, err := p.db.QueryContext(ctx, query, user.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	for rows.Next() {
		var (
			entry      models.LedgerEntry
			user, kind string
			amount     string
			key        sql.NullString
		)
		if err := rows.Scan(&entry.ID, &user, &kind, &amount, &entry.CreatedAt, &key); err != nil {
			return nil, err
		}
		parsed, err := parseAmount(amount)
		if err != nil {
			return nil, err
		}
		entry.User = common.HexToAddress(user)
		entry.Kind = models.EntryKind(kind)
		entry.Amount = parsed
		entry.IdempotencyKey = key.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// isDuplicateKey reports a unique violation on the idempotency key index.
func isDuplicateKey(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == idempotencyKeyIndex
}

func parseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("postgres store: amount %q: %w", s, err)
	}
	return v, nil
}

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

var _ interfaces.PositionStore = (*PostgresLedgerStore)(nil)
