// Package walletdb is the Ledger Store (C1): the single source of
// monetary truth. Every balance mutation goes through Credit, Debit,
// PlaceHold, ReleaseHold, or ExpireHolds, each atomic with respect to
// the wallet row(s) it touches. Grounded on channeldb/db.go's
// lock-then-mutate shape and channeldb/error.go's sentinel-error idiom,
// ported from bolt buckets to Postgres row locks.
//
// The *Tx-suffixed functions run inside a caller-supplied transaction
// and are the primitives the escrow engine composes with its own
// job/order row updates so that, e.g., "debit employer + record the
// escrow transaction + mark job escrowed" commits or rolls back as one
// unit, per spec §4.2.
package walletdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/chigozirigeorge/verinest/metrics"
	"github.com/chigozirigeorge/verinest/verrors"
)

var log = logrus.WithField("subsystem", "walletdb")

// Ledger is the C1 Ledger Store, backed by a pgx pool.
type Ledger struct {
	pool *pgxpool.Pool
	m    *metrics.Metrics
}

// New builds a Ledger over an existing pool, typically
// pgstore.Store.Pool().
func New(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// WithMetrics attaches a Metrics collector so Credit/Debit/PlaceHold/
// ReleaseHold are counted under verinest_ledger_operations_total and
// their amounts observed under verinest_ledger_amount_kobo. Optional.
func (l *Ledger) WithMetrics(m *metrics.Metrics) *Ledger {
	l.m = m
	return l
}

func (l *Ledger) recordOp(operation string, amount int64, err error) {
	if l.m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	l.m.LedgerOperations.WithLabelValues(operation, outcome).Inc()
	if err == nil && amount > 0 {
		l.m.LedgerAmount.WithLabelValues(operation).Observe(float64(amount))
	}
}

// Pool exposes the underlying pool so collaborating packages (escrow)
// can open their own transaction that spans a ledger op and their own
// row updates.
func (l *Ledger) Pool() *pgxpool.Pool { return l.pool }

// LockWalletTx selects a wallet row FOR UPDATE inside tx, serializing
// any other ledger operation on the same wallet, per spec §5.
func LockWalletTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (*Wallet, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, owner_id, balance, available_balance, total_deposits,
		       total_withdrawals, status, daily_limit, monthly_limit,
		       daily_spent, monthly_spent, daily_reset_at, monthly_reset_at,
		       identity_verified, last_activity_at, created_at, updated_at
		FROM wallets WHERE id = $1 FOR UPDATE`, walletID)

	var w Wallet
	if err := row.Scan(&w.ID, &w.OwnerID, &w.Balance, &w.AvailableBalance,
		&w.TotalDeposits, &w.TotalWithdrawals, &w.Status, &w.DailyLimit,
		&w.MonthlyLimit, &w.DailySpent, &w.MonthlySpent, &w.DailyResetAt,
		&w.MonthlyResetAt, &w.IdentityVerified, &w.LastActivityAt,
		&w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, verrors.Wrap(verrors.KindNotFound, "wallet not found", verrors.ErrWalletNotFound)
		}
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	return &w, nil
}

// LockWalletsCanonicalTx locks two distinct wallets in canonical
// owner-ID order to prevent deadlocks on concurrent transfers, per
// spec §4.1/§5. It returns the two wallets in the same (a, b) order
// the caller passed in, regardless of internal lock order.
func LockWalletsCanonicalTx(ctx context.Context, tx pgx.Tx, a, b uuid.UUID) (wa, wb *Wallet, err error) {
	first, second := a, b
	swapped := false
	var lowerOwnerWallet uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id FROM wallets WHERE id = $1 OR id = $2
		ORDER BY owner_id LIMIT 1`, a, b).Scan(&lowerOwnerWallet)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, fmt.Errorf("order wallets by owner: %w", err)
	}
	if a != b && lowerOwnerWallet == b {
		first, second = b, a
		swapped = true
	}

	w1, err := LockWalletTx(ctx, tx, first)
	if err != nil {
		return nil, nil, err
	}
	w2, err := LockWalletTx(ctx, tx, second)
	if err != nil {
		return nil, nil, err
	}

	if swapped {
		return w2, w1, nil
	}
	return w1, w2, nil
}

func bytesCompare(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func recomputeAvailable(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, balance int64) (int64, error) {
	row := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM wallet_holds
		WHERE wallet_id = $1 AND status = 'active'`, walletID)

	var held int64
	if err := row.Scan(&held); err != nil {
		return 0, fmt.Errorf("sum active holds: %w", err)
	}
	return balance - held, nil
}

func syncAvailableTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, balance int64) (int64, error) {
	available, err := recomputeAvailable(ctx, tx, walletID, balance)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `UPDATE wallets SET available_balance = $1, updated_at = now() WHERE id = $2`,
		available, walletID); err != nil {
		return 0, fmt.Errorf("sync available balance: %w", err)
	}
	return available, nil
}

func marshalMetadata(metadata map[string]interface{}) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return json.Marshal(metadata)
}

func insertTransactionTx(ctx context.Context, tx pgx.Tx, t *Transaction) error {
	metaJSON, err := marshalMetadata(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO wallet_transactions (
			id, wallet_id, user_id, type, amount, balance_before, balance_after,
			status, reference, external_reference, description, job_id, order_id,
			recipient_wallet_id, fee_amount, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		t.ID, t.WalletID, t.UserID, t.Type, t.Amount, t.BalanceBefore,
		t.BalanceAfter, t.Status, t.Reference, t.ExternalReference,
		t.Description, t.JobID, t.OrderID, t.RecipientWalletID, t.FeeAmount,
		metaJSON)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return verrors.Wrap(verrors.KindConflict,
				"a transaction with this reference already exists", verrors.ErrDuplicateReference)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// CreditInput describes a credit request, spec §4.1.
type CreditInput struct {
	WalletID    uuid.UUID
	UserID      uuid.UUID
	Amount      int64
	Type        TxType
	Reference   string
	Description string
	JobID       *uuid.UUID
	OrderID     *uuid.UUID
	Metadata    map[string]interface{}
}

// CreditTx locks wallet, computes balance_after = balance + amount,
// inserts the transaction, and updates total_deposits for funding
// types, per spec §4.1. Duplicate references fail with Conflict and
// are safe to retry-as-success by the caller (spec §4.2 idempotency).
func CreditTx(ctx context.Context, tx pgx.Tx, in CreditInput) (*Transaction, error) {
	if in.Amount <= 0 {
		return nil, verrors.New(verrors.KindValidation, "credit amount must be positive")
	}

	w, err := LockWalletTx(ctx, tx, in.WalletID)
	if err != nil {
		return nil, err
	}
	if w.Status == StatusClosed {
		return nil, verrors.Wrap(verrors.KindConflict, "wallet is closed", verrors.ErrWalletNotActive)
	}
	if w.Status == StatusFrozen {
		return nil, verrors.Wrap(verrors.KindConflict, "wallet is frozen and cannot receive funds", verrors.ErrWalletFrozen)
	}

	balanceAfter := w.Balance + in.Amount
	txn := &Transaction{
		ID: uuid.New(), WalletID: in.WalletID, UserID: in.UserID, Type: in.Type,
		Amount: in.Amount, BalanceBefore: w.Balance, BalanceAfter: balanceAfter,
		Status: TxStatusCompleted, Reference: in.Reference, Description: in.Description,
		JobID: in.JobID, OrderID: in.OrderID, Metadata: in.Metadata, CreatedAt: time.Now().UTC(),
	}
	if err := insertTransactionTx(ctx, tx, txn); err != nil {
		return nil, err
	}

	totalDeposits := w.TotalDeposits
	if fundingTypes[in.Type] {
		totalDeposits += in.Amount
	}

	if _, err := syncAvailableTx(ctx, tx, in.WalletID, balanceAfter); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE wallets SET balance = $1, total_deposits = $2, last_activity_at = now(), updated_at = now()
		WHERE id = $3`, balanceAfter, totalDeposits, in.WalletID); err != nil {
		return nil, fmt.Errorf("update wallet balance: %w", err)
	}

	return txn, nil
}

// DebitInput describes a debit request, spec §4.1.
type DebitInput struct {
	WalletID    uuid.UUID
	UserID      uuid.UUID
	Amount      int64
	Type        TxType
	Reference   string
	Description string
	JobID       *uuid.UUID
	OrderID     *uuid.UUID
	Metadata    map[string]interface{}
}

// DebitTx locks wallet, asserts available_balance >= amount and
// status = active, then records the debit, per spec §4.1.
func DebitTx(ctx context.Context, tx pgx.Tx, in DebitInput) (*Transaction, error) {
	if in.Amount <= 0 {
		return nil, verrors.New(verrors.KindValidation, "debit amount must be positive")
	}

	w, err := LockWalletTx(ctx, tx, in.WalletID)
	if err != nil {
		return nil, err
	}
	if w.Status != StatusActive {
		return nil, verrors.Wrap(verrors.KindConflict, "wallet is not active", verrors.ErrWalletNotActive)
	}
	if w.AvailableBalance < in.Amount {
		return nil, verrors.Wrap(verrors.KindInsufficientFunds,
			"available balance is insufficient for this debit", verrors.ErrInsufficientFunds)
	}
	if w.DailyLimit != nil && w.DailySpent+in.Amount > *w.DailyLimit {
		return nil, verrors.Wrap(verrors.KindLimitExceeded, "daily limit exceeded", verrors.ErrLimitExceeded)
	}
	if w.MonthlyLimit != nil && w.MonthlySpent+in.Amount > *w.MonthlyLimit {
		return nil, verrors.Wrap(verrors.KindLimitExceeded, "monthly limit exceeded", verrors.ErrLimitExceeded)
	}

	balanceAfter := w.Balance - in.Amount
	txn := &Transaction{
		ID: uuid.New(), WalletID: in.WalletID, UserID: in.UserID, Type: in.Type,
		Amount: in.Amount, BalanceBefore: w.Balance, BalanceAfter: balanceAfter,
		Status: TxStatusCompleted, Reference: in.Reference, Description: in.Description,
		JobID: in.JobID, OrderID: in.OrderID, Metadata: in.Metadata, CreatedAt: time.Now().UTC(),
	}
	if err := insertTransactionTx(ctx, tx, txn); err != nil {
		return nil, err
	}

	totalWithdrawals := w.TotalWithdrawals
	if withdrawalTypes[in.Type] {
		totalWithdrawals += in.Amount
	}

	if _, err := syncAvailableTx(ctx, tx, in.WalletID, balanceAfter); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE wallets SET balance = $1, total_withdrawals = $2, daily_spent = daily_spent + $3,
			monthly_spent = monthly_spent + $3, last_activity_at = now(), updated_at = now()
		WHERE id = $4`, balanceAfter, totalWithdrawals, in.Amount, in.WalletID); err != nil {
		return nil, fmt.Errorf("update wallet balance: %w", err)
	}

	return txn, nil
}

// PlaceHoldTx reserves amount against wallet's available balance,
// spec §4.1.
func PlaceHoldTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, amount int64, reason string, jobID, orderID *uuid.UUID, expiresAt *time.Time) (*Hold, error) {
	if amount <= 0 {
		return nil, verrors.New(verrors.KindValidation, "hold amount must be positive")
	}

	w, err := LockWalletTx(ctx, tx, walletID)
	if err != nil {
		return nil, err
	}
	if w.AvailableBalance < amount {
		return nil, verrors.Wrap(verrors.KindInsufficientFunds,
			"available balance is insufficient to place this hold", verrors.ErrInsufficientFunds)
	}

	h := &Hold{
		ID: uuid.New(), WalletID: walletID, JobID: jobID, OrderID: orderID,
		Amount: amount, Reason: reason, Status: HoldActive,
		CreatedAt: time.Now().UTC(), ExpiresAt: expiresAt,
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO wallet_holds (id, wallet_id, job_id, order_id, amount, reason, status, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		h.ID, h.WalletID, h.JobID, h.OrderID, h.Amount, h.Reason, h.Status, h.CreatedAt, h.ExpiresAt); err != nil {
		return nil, fmt.Errorf("insert hold: %w", err)
	}

	if _, err := syncAvailableTx(ctx, tx, walletID, w.Balance); err != nil {
		return nil, err
	}

	return h, nil
}

// ReleaseHoldTx marks hold released and recomputes the wallet's
// available balance. It does not itself move money, per spec §4.1.
// Releasing an already-released/expired hold is a no-op, matching the
// idempotent-retry posture the escrow engine relies on (spec §4.2).
func ReleaseHoldTx(ctx context.Context, tx pgx.Tx, holdID uuid.UUID) error {
	var walletID uuid.UUID
	var status HoldStatus
	row := tx.QueryRow(ctx, `SELECT wallet_id, status FROM wallet_holds WHERE id = $1 FOR UPDATE`, holdID)
	if err := row.Scan(&walletID, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return verrors.Wrap(verrors.KindNotFound, "hold not found", verrors.ErrHoldNotFound)
		}
		return fmt.Errorf("lock hold: %w", err)
	}
	if status != HoldActive {
		return nil
	}

	w, err := LockWalletTx(ctx, tx, walletID)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE wallet_holds SET status = 'released', released_at = now() WHERE id = $1`, holdID); err != nil {
		return fmt.Errorf("release hold: %w", err)
	}

	if _, err := syncAvailableTx(ctx, tx, walletID, w.Balance); err != nil {
		return err
	}
	return nil
}

// GetHoldTx fetches a hold without locking, for callers inside a
// transaction that only need to read its amount/status.
func GetHoldTx(ctx context.Context, tx pgx.Tx, holdID uuid.UUID) (*Hold, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, wallet_id, job_id, order_id, amount, reason, status, created_at, expires_at, released_at
		FROM wallet_holds WHERE id = $1`, holdID)
	var h Hold
	if err := row.Scan(&h.ID, &h.WalletID, &h.JobID, &h.OrderID, &h.Amount, &h.Reason,
		&h.Status, &h.CreatedAt, &h.ExpiresAt, &h.ReleasedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, verrors.Wrap(verrors.KindNotFound, "hold not found", verrors.ErrHoldNotFound)
		}
		return nil, fmt.Errorf("get hold: %w", err)
	}
	return &h, nil
}

// Credit is the standalone, self-transacting form of CreditTx.
func (l *Ledger) Credit(ctx context.Context, in CreditInput) (*Transaction, error) {
	var result *Transaction
	err := withTx(ctx, l.pool, func(ctx context.Context, tx pgx.Tx) error {
		txn, err := CreditTx(ctx, tx, in)
		if err != nil {
			return err
		}
		result = txn
		return nil
	})
	l.recordOp("credit", in.Amount, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Debit is the standalone, self-transacting form of DebitTx.
func (l *Ledger) Debit(ctx context.Context, in DebitInput) (*Transaction, error) {
	var result *Transaction
	err := withTx(ctx, l.pool, func(ctx context.Context, tx pgx.Tx) error {
		txn, err := DebitTx(ctx, tx, in)
		if err != nil {
			return err
		}
		result = txn
		return nil
	})
	l.recordOp("debit", in.Amount, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PlaceHold is the standalone, self-transacting form of PlaceHoldTx.
func (l *Ledger) PlaceHold(ctx context.Context, walletID uuid.UUID, amount int64, reason string, jobID, orderID *uuid.UUID, expiresAt *time.Time) (*Hold, error) {
	var result *Hold
	err := withTx(ctx, l.pool, func(ctx context.Context, tx pgx.Tx) error {
		h, err := PlaceHoldTx(ctx, tx, walletID, amount, reason, jobID, orderID, expiresAt)
		if err != nil {
			return err
		}
		result = h
		return nil
	})
	l.recordOp("place_hold", amount, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReleaseHold is the standalone, self-transacting form of ReleaseHoldTx.
func (l *Ledger) ReleaseHold(ctx context.Context, holdID uuid.UUID) error {
	err := withTx(ctx, l.pool, func(ctx context.Context, tx pgx.Tx) error {
		return ReleaseHoldTx(ctx, tx, holdID)
	})
	l.recordOp("release_hold", 0, err)
	return err
}

// ExpireHolds sets expired active holds to status=expired and returns
// the count affected, spec §4.1. No chron task invokes it; it runs only
// when a caller (or a test) calls it directly.
func (l *Ledger) ExpireHolds(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := withTx(ctx, l.pool, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, wallet_id FROM wallet_holds
			WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < $1
			FOR UPDATE`, now)
		if err != nil {
			return fmt.Errorf("select expired holds: %w", err)
		}

		type pair struct{ hold, wallet uuid.UUID }
		var expired []pair
		for rows.Next() {
			var p pair
			if err := rows.Scan(&p.hold, &p.wallet); err != nil {
				rows.Close()
				return fmt.Errorf("scan expired hold: %w", err)
			}
			expired = append(expired, p)
		}
		rows.Close()

		affectedWallets := map[uuid.UUID]bool{}
		for _, p := range expired {
			if _, err := tx.Exec(ctx, `UPDATE wallet_holds SET status = 'expired' WHERE id = $1`, p.hold); err != nil {
				return fmt.Errorf("expire hold: %w", err)
			}
			affectedWallets[p.wallet] = true
		}

		for walletID := range affectedWallets {
			w, err := LockWalletTx(ctx, tx, walletID)
			if err != nil {
				return err
			}
			if _, err := syncAvailableTx(ctx, tx, walletID, w.Balance); err != nil {
				return err
			}
		}

		count = len(expired)
		return nil
	})
	l.recordOp("expire_holds", 0, err)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Transfer moves funds between two wallets, locking both in canonical
// owner-ID order per spec §4.1/§5 to prevent deadlocks under concurrent
// cross-transfers.
func (l *Ledger) Transfer(ctx context.Context, fromWalletID, fromUserID, toWalletID, toUserID uuid.UUID, amount int64, reference, description string) (debit, credit *Transaction, err error) {
	if amount <= 0 {
		return nil, nil, verrors.New(verrors.KindValidation, "transfer amount must be positive")
	}

	err = withTx(ctx, l.pool, func(ctx context.Context, tx pgx.Tx) error {
		wFrom, wTo, lockErr := LockWalletsCanonicalTx(ctx, tx, fromWalletID, toWalletID)
		if lockErr != nil {
			return lockErr
		}

		if wFrom.Status != StatusActive {
			return verrors.Wrap(verrors.KindConflict, "source wallet is not active", verrors.ErrWalletNotActive)
		}
		if wTo.Status == StatusClosed || wTo.Status == StatusFrozen {
			return verrors.Wrap(verrors.KindConflict, "destination wallet cannot receive funds", verrors.ErrWalletFrozen)
		}
		if wFrom.AvailableBalance < amount {
			return verrors.Wrap(verrors.KindInsufficientFunds, "insufficient available balance to transfer", verrors.ErrInsufficientFunds)
		}

		debitTxn, err := DebitTx(ctx, tx, DebitInput{
			WalletID: fromWalletID, UserID: fromUserID, Amount: amount,
			Type: TxTransfer, Reference: reference + "_DEBIT", Description: description,
		})
		if err != nil {
			return err
		}

		creditTxn, err := CreditTx(ctx, tx, CreditInput{
			WalletID: toWalletID, UserID: toUserID, Amount: amount,
			Type: TxTransfer, Reference: reference + "_CREDIT", Description: description,
		})
		if err != nil {
			return err
		}

		debit, credit = debitTxn, creditTxn
		return nil
	})
	l.recordOp("transfer", amount, err)
	if err != nil {
		return nil, nil, err
	}
	return debit, credit, nil
}

// GetWallet fetches a wallet without a lock, for read paths.
func (l *Ledger) GetWallet(ctx context.Context, walletID uuid.UUID) (*Wallet, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return scanWallet(l.pool.QueryRow(ctx, walletByIDQuery, walletID))
}

// GetWalletByOwner fetches a wallet by its owning user.
func (l *Ledger) GetWalletByOwner(ctx context.Context, ownerID uuid.UUID) (*Wallet, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return scanWallet(l.pool.QueryRow(ctx, walletByOwnerQuery, ownerID))
}

const walletColumns = `id, owner_id, balance, available_balance, total_deposits,
	total_withdrawals, status, daily_limit, monthly_limit, daily_spent,
	monthly_spent, daily_reset_at, monthly_reset_at, identity_verified,
	last_activity_at, created_at, updated_at`

const walletByIDQuery = `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
const walletByOwnerQuery = `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id = $1`

func scanWallet(row pgx.Row) (*Wallet, error) {
	var w Wallet
	if err := row.Scan(&w.ID, &w.OwnerID, &w.Balance, &w.AvailableBalance,
		&w.TotalDeposits, &w.TotalWithdrawals, &w.Status, &w.DailyLimit,
		&w.MonthlyLimit, &w.DailySpent, &w.MonthlySpent, &w.DailyResetAt,
		&w.MonthlyResetAt, &w.IdentityVerified, &w.LastActivityAt,
		&w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, verrors.Wrap(verrors.KindNotFound, "wallet not found", verrors.ErrWalletNotFound)
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return &w, nil
}

func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.WithError(rbErr).Error("rollback failed after ledger operation error")
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
