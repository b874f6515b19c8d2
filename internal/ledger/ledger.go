package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/collateral-lending-ledger/internal/interfaces"
	"github.com/sheikh-saqib/collateral-lending-ledger/internal/metrics"
	"github.com/sheikh-saqib/collateral-lending-ledger/internal/models"
	"github.com/sheikh-saqib/collateral-lending-ledger/internal/models/events"
)

const (
	opDeposit  = "deposit"
	opBorrow   = "borrow"
	opRepay    = "repay"
	opWithdraw = "withdraw"
)

// Ledger owns every user's Position and moves value between users and the
// protocol account through the collateral and loan value stores.
// Mutating operations are serialized per user; different users proceed
// concurrently.
type Ledger struct {
	store      interfaces.PositionStore // where positions and the journal live
	collateral interfaces.ValueStore    // asset users lock up
	loan       interfaces.ValueStore    // asset users borrow
	address    common.Address           // the protocol's own account in both value stores

	publisher interfaces.EventPublisher
	logger    *zap.Logger
	metrics   *metrics.LedgerMetrics
	now       func() time.Time

	muMap map[common.Address]*sync.Mutex // one mutex per user
	mapMu sync.Mutex                     // protects muMap itself
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPublisher sets the sink for the four ledger events.
func WithPublisher(p interfaces.EventPublisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithClock overrides the time source used for interest timestamps and events.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger creates a Ledger acting as address in both value stores.
func NewLedger(store interfaces.PositionStore, collateral, loan interfaces.ValueStore, address common.Address, opts ...Option) *Ledger {
	l := &Ledger{
		store:      store,
		collateral: collateral,
		loan:       loan,
		address:    address,
		logger:     zap.NewNop(),
		now:        time.Now,
		muMap:      make(map[common.Address]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Address is the protocol account that holds collateral and the loan reserve.
func (l *Ledger) Address() common.Address { return l.address }

// UserData is the composite read returned by GetUserData.
type UserData struct {
	Collateral *uint256.Int
	Debt       *uint256.Int
	Interest   *uint256.Int
}

type inFlightKey struct {
	ledger *Ledger
	user   common.Address
}

type idempotencyKeyCtx struct{}

// WithIdempotencyKey attaches a client retry key to ctx. A mutating operation
// whose key is already in the journal for the same user, operation and amount
// returns nil without being applied again.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, idempotencyKeyCtx{}, key)
}

func idempotencyKeyFrom(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKeyCtx{}).(string)
	return key
}

func (l *Ledger) getUserLock(user common.Address) *sync.Mutex {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	// Create the user's mutex on first use
	if _, exists := l.muMap[user]; !exists {
		l.muMap[user] = &sync.Mutex{}
	}
	return l.muMap[user]
}

// lockUser serializes operations on user's position. The returned context
// marks the position as in flight; a value store that calls back into the
// ledger with it for the same user is refused instead of deadlocking.
func (l *Ledger) lockUser(ctx context.Context, user common.Address) (context.Context, func(), error) {
	key := inFlightKey{ledger: l, user: user}
	if ctx.Value(key) != nil {
		return ctx, nil, ErrReentrantCall
	}
	mu := l.getUserLock(user)
	mu.Lock()
	return context.WithValue(ctx, key, true), mu.Unlock, nil
}

// DepositCollateral pulls amount of the collateral asset from user and
// credits it to the user's position once the pull has succeeded.
func (l *Ledger) DepositCollateral(ctx context.Context, user common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return l.reject(opDeposit, ErrInvalidAmount)
	}
	ctx, unlock, err := l.lockUser(ctx, user)
	if err != nil {
		return l.reject(opDeposit, err)
	}
	defer unlock()

	// A retry of a request that already went through is answered as done
	if done, err := l.replayed(ctx, opDeposit, user, models.EntryDeposit, amount); done || err != nil {
		return err
	}

	pos, err := l.load(ctx, user)
	if err != nil {
		return err
	}

	// Reject before moving anything if the new balance would not fit
	collateral, overflow := new(uint256.Int).AddOverflow(pos.Collateral, amount)
	if overflow {
		return l.reject(opDeposit, ErrAmountOverflow)
	}

	// Pull first; the position is only credited for value actually received
	if err := l.collateral.TransferFrom(ctx, l.address, user, l.address, amount); err != nil {
		return l.reject(opDeposit, transferFailed(err))
	}

	next := pos
	next.Collateral = collateral
	err = l.commitAfterPull(ctx, opDeposit, next, models.EntryDeposit, amount, func(ctx context.Context) error {
		return l.collateral.Transfer(ctx, l.address, user, amount)
	})
	if err != nil {
		return err
	}

	// Committed: log and announce
	l.logger.Info("collateral deposited", zap.String("user", user.Hex()), zap.String("amount", amount.Dec()))
	l.emit(ctx, events.NewCollateralDeposited(user, amount, l.now()))
	return nil
}

// Borrow sends amount of the loan asset from the reserve to user, provided the
// resulting debt stays within two thirds of the user's collateral.
func (l *Ledger) Borrow(ctx context.Context, user common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return l.reject(opBorrow, ErrInvalidAmount)
	}
	ctx, unlock, err := l.lockUser(ctx, user)
	if err != nil {
		return l.reject(opBorrow, err)
	}
	defer unlock()

	if done, err := l.replayed(ctx, opBorrow, user, models.EntryBorrow, amount); done || err != nil {
		return err
	}

	pos, err := l.load(ctx, user)
	if err != nil {
		return err
	}
	if pos.Collateral.IsZero() {
		return l.reject(opBorrow, ErrNoCollateral)
	}
	// Limit is inclusive: debt may reach exactly floor(collateral * 2/3)
	debt, overflow := new(uint256.Int).AddOverflow(pos.Debt, amount)
	if overflow || debt.Gt(borrowLimit(pos.Collateral)) {
		return l.reject(opBorrow, ErrBorrowLimitExceeded)
	}
	// The protocol can only lend what it holds
	reserve, err := l.loan.BalanceOf(ctx, l.address)
	if err != nil {
		return l.reject(opBorrow, transferFailed(err))
	}
	if reserve.Lt(amount) {
		return l.reject(opBorrow, ErrInsufficientReserve)
	}

	// Record the debt, then send the loan; a failed send rolls the record back
	next := pos
	next.Debt = debt
	next.LastInterestTimestamp = l.now()
	err = l.commitBeforePush(ctx, opBorrow, pos, next, models.EntryBorrow, amount, func(ctx context.Context) error {
		return l.loan.Transfer(ctx, l.address, user, amount)
	})
	if err != nil {
		return err
	}

	l.logger.Info("loan borrowed", zap.String("user", user.Hex()), zap.String("amount", amount.Dec()), zap.String("debt", debt.Dec()))
	l.emit(ctx, events.NewLoanBorrowed(user, amount, next.LastInterestTimestamp))
	return nil
}

// Repay pulls principal plus interest from user and clears the debt.
// Partial repayment is not supported.
func (l *Ledger) Repay(ctx context.Context, user common.Address) error {
	ctx, unlock, err := l.lockUser(ctx, user)
	if err != nil {
		return l.reject(opRepay, err)
	}
	defer unlock()

	if done, err := l.replayed(ctx, opRepay, user, models.EntryRepay, nil); done || err != nil {
		return err
	}

	pos, err := l.load(ctx, user)
	if err != nil {
		return err
	}
	if pos.Debt.IsZero() {
		return l.reject(opRepay, ErrNoDebtToRepay)
	}
	// Principal plus the flat 5%, all in one pull
	total, overflow := new(uint256.Int).AddOverflow(pos.Debt, flatInterest(pos.Debt))
	if overflow {
		return l.reject(opRepay, ErrAmountOverflow)
	}

	if err := l.loan.TransferFrom(ctx, l.address, user, l.address, total); err != nil {
		return l.reject(opRepay, transferFailed(err))
	}

	// Paid in full: debt and interest both drop to zero
	next := pos
	next.Debt = new(uint256.Int)
	next.LastInterestTimestamp = l.now()
	err = l.commitAfterPull(ctx, opRepay, next, models.EntryRepay, total, func(ctx context.Context) error {
		return l.loan.Transfer(ctx, l.address, user, total)
	})
	if err != nil {
		return err
	}

	l.logger.Info("loan repaid", zap.String("user", user.Hex()), zap.String("total", total.Dec()))
	l.emit(ctx, events.NewLoanRepaid(user, total, next.LastInterestTimestamp))
	return nil
}

// WithdrawCollateral returns the user's entire collateral balance. It requires
// the debt to be fully repaid.
func (l *Ledger) WithdrawCollateral(ctx context.Context, user common.Address) error {
	ctx, unlock, err := l.lockUser(ctx, user)
	if err != nil {
		return l.reject(opWithdraw, err)
	}
	defer unlock()

	if done, err := l.replayed(ctx, opWithdraw, user, models.EntryWithdraw, nil); done || err != nil {
		return err
	}

	pos, err := l.load(ctx, user)
	if err != nil {
		return err
	}
	if pos.Collateral.IsZero() {
		return l.reject(opWithdraw, ErrNoCollateralToWithdraw)
	}
	if !pos.Debt.IsZero() {
		return l.reject(opWithdraw, ErrDebtMustBeRepaidFirst)
	}

	// No partial withdrawal: everything goes back
	amount := pos.Collateral.Clone()
	next := pos
	next.Collateral = new(uint256.Int)
	err = l.commitBeforePush(ctx, opWithdraw, pos, next, models.EntryWithdraw, amount, func(ctx context.Context) error {
		return l.collateral.Transfer(ctx, l.address, user, amount)
	})
	if err != nil {
		return err
	}

	l.logger.Info("collateral withdrawn", zap.String("user", user.Hex()), zap.String("amount", amount.Dec()))
	l.emit(ctx, events.NewCollateralWithdrawn(user, amount, l.now()))
	return nil
}

// CalculateInterest returns the flat 5% charge on the user's current debt.
func (l *Ledger) CalculateInterest(ctx context.Context, user common.Address) (*uint256.Int, error) {
	pos, err := l.load(ctx, user)
	if err != nil {
		return nil, err
	}
	return flatInterest(pos.Debt), nil
}

func (l *Ledger) GetUserData(ctx context.Context, user common.Address) (UserData, error) {
	pos, err := l.load(ctx, user)
	if err != nil {
		return UserData{}, err
	}
	return UserData{
		Collateral: pos.Collateral,
		Debt:       pos.Debt,
		Interest:   flatInterest(pos.Debt),
	}, nil
}

// GetPosition returns the full stored position, including the interest timestamp.
func (l *Ledger) GetPosition(ctx context.Context, user common.Address) (models.Position, error) {
	return l.load(ctx, user)
}

// BorrowLimit is how much more the user may borrow against current collateral.
func (l *Ledger) BorrowLimit(ctx context.Context, user common.Address) (*uint256.Int, error) {
	pos, err := l.load(ctx, user)
	if err != nil {
		return nil, err
	}
	return headroom(pos), nil
}

// PositionSummary is a position together with the figures derived from it,
// all taken from a single read.
type PositionSummary struct {
	models.Position
	Interest    *uint256.Int
	TotalOwed   *uint256.Int
	BorrowLimit *uint256.Int
}

func (l *Ledger) GetPositionSummary(ctx context.Context, user common.Address) (PositionSummary, error) {
	pos, err := l.load(ctx, user)
	if err != nil {
		return PositionSummary{}, err
	}
	interest := flatInterest(pos.Debt)
	// debt never exceeds two thirds of the word, so debt plus 5% fits
	owed := new(uint256.Int).Add(pos.Debt, interest)
	return PositionSummary{
		Position:    pos,
		Interest:    interest,
		TotalOwed:   owed,
		BorrowLimit: headroom(pos),
	}, nil
}

func headroom(pos models.Position) *uint256.Int {
	limit := borrowLimit(pos.Collateral)
	if limit.Lt(pos.Debt) {
		return new(uint256.Int)
	}
	return limit.Sub(limit, pos.Debt)
}

// Reserve is the protocol's loan-asset balance available to lend.
func (l *Ledger) Reserve(ctx context.Context) (*uint256.Int, error) {
	return l.loan.BalanceOf(ctx, l.address)
}

func (l *Ledger) GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	entries, err := l.store.GetLedgerEntries(ctx)
	if err != nil {
		return []models.LedgerEntry{}, err
	}
	return entries, nil
}

func (l *Ledger) GetEntriesByUser(ctx context.Context, user common.Address) ([]models.LedgerEntry, error) {
	entries, err := l.store.GetEntriesByUser(ctx, user)
	if err != nil {
		return []models.LedgerEntry{}, err
	}
	return entries, nil
}

// commitAfterPull persists next once value has already been pulled in. If the
// store refuses, the pulled value is pushed back with refund.
func (l *Ledger) commitAfterPull(ctx context.Context, op string, next models.Position, kind models.EntryKind, amount *uint256.Int, refund func(context.Context) error) error {
	entry := l.newEntry(ctx, next.User, kind, amount)

	// Position and journal entry land together or not at all
	err := l.store.SavePositionWithEntry(ctx, next, entry)
	if err == nil {
		l.observe(op, amount)
		return nil
	}

	// compensation must run even if the caller has gone away
	refundErr := refund(context.WithoutCancel(ctx))
	l.metrics.ObserveCompensation(op, refundErr == nil)
	if refundErr != nil {
		l.logger.Error("refund after failed persist",
			zap.String("op", op), zap.String("user", next.User.Hex()), zap.String("amount", amount.Dec()),
			zap.Error(err), zap.NamedError("refund_error", refundErr))
		return fmt.Errorf("ledger: persist %s: %w", op, errors.Join(err, refundErr))
	}
	return fmt.Errorf("ledger: persist %s: %w", op, err)
}

// commitBeforePush persists next before value leaves the protocol. If push
// fails, prev is restored and the journal entry removed.
func (l *Ledger) commitBeforePush(ctx context.Context, op string, prev, next models.Position, kind models.EntryKind, amount *uint256.Int, push func(context.Context) error) error {
	entry := l.newEntry(ctx, next.User, kind, amount)
	if err := l.store.SavePositionWithEntry(ctx, next, entry); err != nil {
		return fmt.Errorf("ledger: persist %s: %w", op, err)
	}

	// Value leaves the protocol only once the position says it may
	pushErr := push(ctx)
	if pushErr == nil {
		l.observe(op, amount)
		return nil
	}

	// Push failed: undo the record so the position matches the balances again
	revertErr := l.store.RevertEntry(context.WithoutCancel(ctx), prev, entry.ID)
	l.metrics.ObserveCompensation(op, revertErr == nil)
	if revertErr != nil {
		l.logger.Error("revert after failed transfer",
			zap.String("op", op), zap.String("user", next.User.Hex()), zap.String("amount", amount.Dec()),
			zap.Error(pushErr), zap.NamedError("revert_error", revertErr))
		return l.reject(op, errors.Join(transferFailed(pushErr), revertErr))
	}
	return l.reject(op, transferFailed(pushErr))
}

// replayed looks up the retry key carried by ctx. done is true when the
// journal already holds this exact operation. A nil amount matches any amount,
// since repay and withdraw derive theirs from the position.
func (l *Ledger) replayed(ctx context.Context, op string, user common.Address, kind models.EntryKind, amount *uint256.Int) (done bool, err error) {
	key := idempotencyKeyFrom(ctx)
	if key == "" {
		return false, nil
	}
	entry, found, err := l.store.GetEntryByIdempotencyKey(ctx, key)
	if err != nil {
		return false, fmt.Errorf("ledger: look up idempotency key: %w", err)
	}
	if !found {
		return false, nil
	}

	// Same key, different request: refuse rather than guess
	if entry.User != user || entry.Kind != kind || (amount != nil && (entry.Amount == nil || !amount.Eq(entry.Amount))) {
		return false, l.reject(op, ErrIdempotencyKeyReused)
	}

	l.metrics.ObserveReplay(op)
	l.logger.Info("replayed request", zap.String("op", op), zap.String("user", user.Hex()), zap.String("entry", entry.ID))
	return true, nil
}

// load returns a private copy of user's position with no nil amounts.
func (l *Ledger) load(ctx context.Context, user common.Address) (models.Position, error) {
	pos, err := l.store.GetPosition(ctx, user)
	if err != nil {
		return models.Position{}, fmt.Errorf("ledger: load position: %w", err)
	}
	// Stores may hand back shared amounts; never mutate them in place
	pos = pos.Clone()
	pos.User = user
	return pos, nil
}

func (l *Ledger) newEntry(ctx context.Context, user common.Address, kind models.EntryKind, amount *uint256.Int) models.LedgerEntry {
	return models.LedgerEntry{
		ID:             uuid.NewString(),
		IdempotencyKey: idempotencyKeyFrom(ctx),
		User:           user,
		Kind:           kind,
		Amount:         amount.Clone(),
		CreatedAt:      l.now(),
	}
}

func (l *Ledger) reject(op string, err error) error {
	l.metrics.ObserveRejection(op, reason(err))
	return err
}

func (l *Ledger) observe(op string, amount *uint256.Int) {
	l.metrics.ObserveOperation(op, models.UnitsFloat(amount))
}

// emit publishes after the transition is durable. A delivery failure is
// logged and counted; it does not undo the transition.
func (l *Ledger) emit(ctx context.Context, ev events.Event) {
	if l.publisher == nil {
		return
	}

	// The transition is committed; a departed caller must not drop its event
	ctx = context.WithoutCancel(ctx)
	if err := l.publisher.Publish(ctx, ev.EventName(), ev); err != nil {
		l.metrics.ObservePublishFailure(ev.EventName())
		l.logger.Warn("publish event", zap.String("event", ev.EventName()), zap.String("user", ev.Account()), zap.Error(err))
	}
}
