// Package escrow is the Escrow Engine (C2): it owns the payment side
// of jobs and service orders — escrow_amount, payment_status,
// vendor_amount, delivery_amount_held — while labor and orders own the
// lifecycle status field on the same rows. Every operation here either
// fully commits (ledger movement + escrow bookkeeping + row update) or
// fully rolls back, per spec §4.2.
//
// The Tx-scoped functions are the primitives labor/orders compose
// inside their own transaction when a status transition must move
// money in the same breath (e.g. completing a job both marks it
// completed and releases escrow). The Engine wraps each one in its own
// transaction for standalone callers. Grounded on
// htlcswitch/switch_control.go's ControlTower idiom: guard the current
// state before transitioning, return a specific sentinel when the
// guard fails.
package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/chigozirigeorge/verinest/metrics"
	"github.com/chigozirigeorge/verinest/verrors"
	"github.com/chigozirigeorge/verinest/walletdb"
)

var log = logrus.WithField("subsystem", "escrow")

// Kind classifies an escrow_transactions row.
type Kind string

const (
	KindFund    Kind = "fund"
	KindRelease Kind = "release"
	KindRefund  Kind = "refund"
)

// Transaction mirrors an escrow_transactions row.
type Transaction struct {
	ID        uuid.UUID
	JobID     *uuid.UUID
	OrderID   *uuid.UUID
	Kind      Kind
	Amount    int64
	Reference string
	CreatedAt time.Time
}

// Engine is the self-transacting form of the escrow primitives,
// for callers that don't need to compose escrow with other row
// updates in the same transaction.
type Engine struct {
	pool   *pgxpool.Pool
	ledger *walletdb.Ledger
	m      *metrics.Metrics
}

// New builds an Engine over the ledger's pool.
func New(ledger *walletdb.Ledger) *Engine {
	return &Engine{pool: ledger.Pool(), ledger: ledger}
}

// WithMetrics attaches a Metrics collector so each standalone escrow
// transition is counted under verinest_escrow_transitions_total.
// Optional.
func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.m = m
	return e
}

func (e *Engine) recordTransition(transition string, err error) {
	if e.m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	e.m.EscrowTransitions.WithLabelValues(transition, outcome).Inc()
}

func jobEscrowRef(jobID uuid.UUID) string { return fmt.Sprintf("JOB_ESCROW_%s", jobID) }
func jobPartialReleaseRef(jobID uuid.UUID) string {
	return fmt.Sprintf("JOB_RELEASE_PARTIAL_%s", jobID)
}
func jobCompleteWorkerRef(jobID uuid.UUID) string {
	return fmt.Sprintf("JOB_RELEASE_%s", jobID)
}
func jobCompleteFeeRef(jobID uuid.UUID) string { return fmt.Sprintf("JOB_FEE_%s", jobID) }
func jobRefundRef(jobID uuid.UUID) string      { return fmt.Sprintf("JOB_REFUND_%s", jobID) }
func jobDisputeRef(jobID uuid.UUID, party string) string {
	return fmt.Sprintf("JOB_DISPUTE_%s_%s", jobID, party)
}

func orderPayRef(orderID uuid.UUID) string { return fmt.Sprintf("ORDER_PAY_%s", orderID) }
func orderPayVendorRef(orderID uuid.UUID) string {
	return fmt.Sprintf("ORDER_PAY_%s_VENDOR", orderID)
}
func orderPayFeeRef(orderID uuid.UUID) string { return fmt.Sprintf("ORDER_PAY_%s_FEE", orderID) }
func orderReleaseRef(orderID uuid.UUID) string {
	return fmt.Sprintf("ORDER_RELEASE_%s", orderID)
}
func orderDisputeRef(orderID uuid.UUID, party string) string {
	return fmt.Sprintf("ORDER_DISPUTE_%s_%s", orderID, party)
}

func insertEscrowTxTx(ctx context.Context, tx pgx.Tx, jobID, orderID *uuid.UUID, kind Kind, amount int64, reference string) (*Transaction, error) {
	e := &Transaction{
		ID: uuid.New(), JobID: jobID, OrderID: orderID, Kind: kind,
		Amount: amount, Reference: reference, CreatedAt: time.Now().UTC(),
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO escrow_transactions (id, job_id, order_id, kind, amount, reference)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.JobID, e.OrderID, e.Kind, e.Amount, e.Reference); err != nil {
		return nil, fmt.Errorf("insert escrow transaction: %w", err)
	}
	return e, nil
}

// releasedSoFarTx sums prior escrow_transactions of the given kind for
// a job, so partial and final releases never exceed escrow_amount
// even across retries and separate calls.
func releasedSoFarTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, kind Kind) (int64, error) {
	var sum int64
	row := tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM escrow_transactions WHERE job_id = $1 AND kind = $2`, jobID, kind)
	if err := row.Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum escrow transactions: %w", err)
	}
	return sum, nil
}

func orderReleasedSoFarTx(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, kind Kind) (int64, error) {
	var sum int64
	row := tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM escrow_transactions WHERE order_id = $1 AND kind = $2`, orderID, kind)
	if err := row.Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum escrow transactions: %w", err)
	}
	return sum, nil
}

// jobEscrowRow is the subset of the jobs table escrow cares about.
type jobEscrowRow struct {
	PaymentStatus         string
	EscrowAmount          int64
	PlatformFee           int64
	PartialPaymentAllowed bool
	PartialReleased       bool
}

func lockJobEscrowRowTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (*jobEscrowRow, error) {
	var r jobEscrowRow
	row := tx.QueryRow(ctx, `
		SELECT payment_status, escrow_amount, platform_fee, partial_payment_allowed, partial_released
		FROM jobs WHERE id = $1 FOR UPDATE`, jobID)
	if err := row.Scan(&r.PaymentStatus, &r.EscrowAmount, &r.PlatformFee,
		&r.PartialPaymentAllowed, &r.PartialReleased); err != nil {
		if err == pgx.ErrNoRows {
			return nil, verrors.Wrap(verrors.KindNotFound, "job not found", verrors.ErrJobNotFound)
		}
		return nil, fmt.Errorf("lock job escrow row: %w", err)
	}
	return &r, nil
}

// FundJobEscrowTx debits the employer budget+platformFee and marks the
// job escrowed, per spec §4.2's "assign worker" step. The fee is not
// credited anywhere yet — it is realized at CompleteJobEscrowTx, or
// returned to the employer untouched if the job is ever refunded in
// full, per spec §4.2's Refund rule.
func FundJobEscrowTx(ctx context.Context, tx pgx.Tx, jobID, employerWalletID, employerUserID uuid.UUID, budget, platformFee int64) (*Transaction, error) {
	if budget <= 0 {
		return nil, verrors.New(verrors.KindValidation, "job budget must be positive")
	}
	if platformFee < 0 {
		return nil, verrors.New(verrors.KindValidation, "platform fee cannot be negative")
	}

	var status string
	row := tx.QueryRow(ctx, `SELECT payment_status FROM jobs WHERE id = $1 FOR UPDATE`, jobID)
	if err := row.Scan(&status); err != nil {
		if err == pgx.ErrNoRows {
			return nil, verrors.Wrap(verrors.KindNotFound, "job not found", verrors.ErrJobNotFound)
		}
		return nil, fmt.Errorf("lock job: %w", err)
	}
	if status != "pending" {
		return nil, verrors.Wrap(verrors.KindConflict,
			"job payment has already been escrowed", verrors.ErrInvalidJobStatus)
	}

	amount := budget + platformFee
	if _, err := walletdb.DebitTx(ctx, tx, walletdb.DebitInput{
		WalletID: employerWalletID, UserID: employerUserID, Amount: amount,
		Type: walletdb.TxJobPayment, Reference: jobEscrowRef(jobID),
		Description: "job escrow funding", JobID: &jobID,
	}); err != nil {
		return nil, err
	}

	et, err := insertEscrowTxTx(ctx, tx, &jobID, nil, KindFund, amount, jobEscrowRef(jobID))
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET payment_status = 'escrowed', escrow_amount = $1, platform_fee = $2, updated_at = now()
		WHERE id = $3`, amount, platformFee, jobID); err != nil {
		return nil, fmt.Errorf("update job escrow status: %w", err)
	}

	return et, nil
}

// PartialReleaseJobEscrowTx pays the worker a progress-triggered
// partial release of exactly amount (computed by labor as
// ⌊budget·partial_payment_percentage/100⌋, spec §4.2), with no fee
// deduction — the fee is only realized at completion. Allowed at most
// once per job, and only when the job's partial_payment_allowed flag
// is set.
func PartialReleaseJobEscrowTx(ctx context.Context, tx pgx.Tx, jobID, workerWalletID, workerUserID uuid.UUID, amount int64) (*Transaction, error) {
	if amount <= 0 {
		return nil, verrors.New(verrors.KindValidation, "partial release amount must be positive")
	}

	r, err := lockJobEscrowRowTx(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if r.PaymentStatus != "escrowed" {
		return nil, verrors.Wrap(verrors.KindConflict,
			"job has no active escrow to partially release", verrors.ErrInvalidJobStatus)
	}
	if !r.PartialPaymentAllowed {
		return nil, verrors.New(verrors.KindValidation, "this job does not allow partial release")
	}
	if r.PartialReleased {
		return nil, verrors.Wrap(verrors.KindConflict, "partial release has already been used", verrors.ErrPartialAlreadyUsed)
	}
	if amount > r.EscrowAmount {
		return nil, verrors.New(verrors.KindValidation, "partial release amount exceeds escrowed amount")
	}

	if _, err := walletdb.CreditTx(ctx, tx, walletdb.CreditInput{
		WalletID: workerWalletID, UserID: workerUserID, Amount: amount,
		Type: walletdb.TxJobPayment, Reference: jobPartialReleaseRef(jobID),
		Description: "job progress partial release", JobID: &jobID,
	}); err != nil {
		return nil, err
	}

	et, err := insertEscrowTxTx(ctx, tx, &jobID, nil, KindRelease, amount, jobPartialReleaseRef(jobID))
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET payment_status = 'partially_paid', partial_released = true, updated_at = now()
		WHERE id = $1`, jobID); err != nil {
		return nil, fmt.Errorf("update job payment status: %w", err)
	}

	return et, nil
}

// CompleteJobEscrowTx releases whatever remains of a job's escrow to
// the worker, net of platform_fee which is credited to the platform
// wallet in the same transaction, per spec §4.2's Complete rule.
func CompleteJobEscrowTx(ctx context.Context, tx pgx.Tx, jobID, workerWalletID, workerUserID, platformWalletID, platformUserID uuid.UUID) (*Transaction, error) {
	r, err := lockJobEscrowRowTx(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if r.PaymentStatus != "escrowed" && r.PaymentStatus != "partially_paid" {
		return nil, verrors.Wrap(verrors.KindConflict,
			"job has no active escrow to complete", verrors.ErrInvalidJobStatus)
	}

	released, err := releasedSoFarTx(ctx, tx, jobID, KindRelease)
	if err != nil {
		return nil, err
	}
	remaining := r.EscrowAmount - released
	if remaining <= 0 {
		return nil, verrors.Wrap(verrors.KindConflict, "escrow has already been fully released", verrors.ErrInvalidJobStatus)
	}

	fee := r.PlatformFee
	if fee > remaining {
		fee = remaining
	}
	workerNet := remaining - fee

	if workerNet > 0 {
		if _, err := walletdb.CreditTx(ctx, tx, walletdb.CreditInput{
			WalletID: workerWalletID, UserID: workerUserID, Amount: workerNet,
			Type: walletdb.TxJobPayment, Reference: jobCompleteWorkerRef(jobID),
			Description: "job escrow completion release", JobID: &jobID,
		}); err != nil {
			return nil, err
		}
	}
	if fee > 0 {
		if _, err := walletdb.CreditTx(ctx, tx, walletdb.CreditInput{
			WalletID: platformWalletID, UserID: platformUserID, Amount: fee,
			Type: walletdb.TxPlatformFee, Reference: jobCompleteFeeRef(jobID),
			Description: "job platform fee", JobID: &jobID,
		}); err != nil {
			return nil, err
		}
	}

	et, err := insertEscrowTxTx(ctx, tx, &jobID, nil, KindRelease, remaining, jobCompleteWorkerRef(jobID))
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET payment_status = 'completed', updated_at = now() WHERE id = $1`, jobID); err != nil {
		return nil, fmt.Errorf("update job payment status: %w", err)
	}

	return et, nil
}

// RefundJobEscrowTx returns the entire remaining escrow — including
// the platform fee portion — to the employer, per spec §4.2's Refund
// rule: used for plain cancellation and for a dispute resolved wholly
// in the employer's favor. Unlike CompleteJobEscrowTx, the platform
// keeps nothing here.
func RefundJobEscrowTx(ctx context.Context, tx pgx.Tx, jobID, employerWalletID, employerUserID uuid.UUID) (*Transaction, error) {
	r, err := lockJobEscrowRowTx(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if r.PaymentStatus != "escrowed" && r.PaymentStatus != "partially_paid" {
		return nil, verrors.Wrap(verrors.KindConflict,
			"job has no active escrow to refund", verrors.ErrInvalidJobStatus)
	}

	released, err := releasedSoFarTx(ctx, tx, jobID, KindRelease)
	if err != nil {
		return nil, err
	}
	remaining := r.EscrowAmount - released
	if remaining <= 0 {
		return nil, verrors.Wrap(verrors.KindConflict, "no escrow balance remains to refund", verrors.ErrInvalidJobStatus)
	}

	if _, err := walletdb.CreditTx(ctx, tx, walletdb.CreditInput{
		WalletID: employerWalletID, UserID: employerUserID, Amount: remaining,
		Type: walletdb.TxJobRefund, Reference: jobRefundRef(jobID),
		Description: "job escrow refund", JobID: &jobID,
	}); err != nil {
		return nil, err
	}

	et, err := insertEscrowTxTx(ctx, tx, &jobID, nil, KindRefund, remaining, jobRefundRef(jobID))
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE jobs SET payment_status = 'refunded', updated_at = now() WHERE id = $1`, jobID); err != nil {
		return nil, fmt.Errorf("update job payment status: %w", err)
	}

	return et, nil
}

// ResolveJobDisputePartialTx implements the job machine's
// resolve_partial dispute outcome: the escrow still remaining (the
// full amount, fee included — the job protocol only ever special-cases
// the fee at CompleteJobEscrowTx) is split between worker and employer
// by workerPercentage.
func ResolveJobDisputePartialTx(ctx context.Context, tx pgx.Tx, jobID, employerWalletID, employerUserID, workerWalletID, workerUserID uuid.UUID, workerPercentage int) ([]*Transaction, error) {
	if workerPercentage < 0 || workerPercentage > 100 {
		return nil, verrors.New(verrors.KindValidation, "worker percentage must be between 0 and 100")
	}

	r, err := lockJobEscrowRowTx(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if r.PaymentStatus != "escrowed" && r.PaymentStatus != "partially_paid" {
		return nil, verrors.Wrap(verrors.KindConflict,
			"job has no active escrow to settle", verrors.ErrInvalidJobStatus)
	}

	released, err := releasedSoFarTx(ctx, tx, jobID, KindRelease)
	if err != nil {
		return nil, err
	}
	remaining := r.EscrowAmount - released
	if remaining <= 0 {
		return nil, verrors.Wrap(verrors.KindConflict, "no escrow balance remains to settle", verrors.ErrInvalidJobStatus)
	}

	workerAmt := remaining * int64(workerPercentage) / 100
	employerAmt := remaining - workerAmt

	var results []*Transaction
	if workerAmt > 0 {
		if _, err := walletdb.CreditTx(ctx, tx, walletdb.CreditInput{
			WalletID: workerWalletID, UserID: workerUserID, Amount: workerAmt,
			Type: walletdb.TxJobPayment, Reference: jobDisputeRef(jobID, "WORKER"),
			Description: "job dispute settlement", JobID: &jobID,
		}); err != nil {
			return nil, err
		}
		et, err := insertEscrowTxTx(ctx, tx, &jobID, nil, KindRelease, workerAmt, jobDisputeRef(jobID, "WORKER"))
		if err != nil {
			return nil, err
		}
		results = append(results, et)
	}
	if employerAmt > 0 {
		if _, err := walletdb.CreditTx(ctx, tx, walletdb.CreditInput{
			WalletID: employerWalletID, UserID: employerUserID, Amount: employerAmt,
			Type: walletdb.TxJobRefund, Reference: jobDisputeRef(jobID, "EMPLOYER"),
			Description: "job dispute settlement", JobID: &jobID,
		}); err != nil {
			return nil, err
		}
		et, err := insertEscrowTxTx(ctx, tx, &jobID, nil, KindRefund, employerAmt, jobDisputeRef(jobID, "EMPLOYER"))
		if err != nil {
			return nil, err
		}
		results = append(results, et)
	}

	newStatus := "completed"
	if workerPercentage == 0 {
		newStatus = "refunded"
	}
	if _, err := tx.Exec(ctx, `UPDATE jobs SET payment_status = $1, updated_at = now() WHERE id = $2`, newStatus, jobID); err != nil {
		return nil, fmt.Errorf("update job payment status: %w", err)
	}

	return results, nil
}

// Standalone, self-transacting wrappers for callers outside labor/orders.

func (e *Engine) FundJobEscrow(ctx context.Context, jobID, employerWalletID, employerUserID uuid.UUID, budget, platformFee int64) (*Transaction, error) {
	var out *Transaction
	err := withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		t, err := FundJobEscrowTx(ctx, tx, jobID, employerWalletID, employerUserID, budget, platformFee)
		out = t
		return err
	})
	e.recordTransition("fund", err)
	return out, err
}

func (e *Engine) PartialReleaseJobEscrow(ctx context.Context, jobID, workerWalletID, workerUserID uuid.UUID, amount int64) (*Transaction, error) {
	var out *Transaction
	err := withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		t, err := PartialReleaseJobEscrowTx(ctx, tx, jobID, workerWalletID, workerUserID, amount)
		out = t
		return err
	})
	e.recordTransition("partial_release", err)
	return out, err
}

func (e *Engine) CompleteJobEscrow(ctx context.Context, jobID, workerWalletID, workerUserID, platformWalletID, platformUserID uuid.UUID) (*Transaction, error) {
	var out *Transaction
	err := withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		t, err := CompleteJobEscrowTx(ctx, tx, jobID, workerWalletID, workerUserID, platformWalletID, platformUserID)
		out = t
		return err
	})
	e.recordTransition("complete", err)
	return out, err
}

func (e *Engine) RefundJobEscrow(ctx context.Context, jobID, employerWalletID, employerUserID uuid.UUID) (*Transaction, error) {
	var out *Transaction
	err := withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		t, err := RefundJobEscrowTx(ctx, tx, jobID, employerWalletID, employerUserID)
		out = t
		return err
	})
	e.recordTransition("refund", err)
	return out, err
}

func (e *Engine) ResolveJobDisputePartial(ctx context.Context, jobID, employerWalletID, employerUserID, workerWalletID, workerUserID uuid.UUID, workerPercentage int) ([]*Transaction, error) {
	var out []*Transaction
	err := withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		t, err := ResolveJobDisputePartialTx(ctx, tx, jobID, employerWalletID, employerUserID, workerWalletID, workerUserID, workerPercentage)
		out = t
		return err
	})
	e.recordTransition("dispute_partial", err)
	return out, err
}

func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
			log.WithError(rbErr).Error("rollback failed after escrow operation error")
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
