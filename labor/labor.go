// Package labor is the Job State Machine (C3): open → in_progress →
// under_review → completed, with a disputed branch. It owns the
// lifecycle status field on jobs while escrow owns the money; every
// transition that moves money composes escrow's Tx-scoped functions
// inside its own transaction so the status change and the ledger
// movement either both land or neither does, per spec §4.2/§4.3.
//
// Grounded on htlcswitch/switch_control.go's ControlTower idiom: check
// the current status under a row lock, transition, or return a
// specific sentinel when the precondition fails.
package labor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/chigozirigeorge/verinest/escrow"
	"github.com/chigozirigeorge/verinest/verrors"
	"github.com/chigozirigeorge/verinest/walletdb"
)

var log = logrus.WithField("subsystem", "labor")

// Status mirrors the jobs.status enum, spec §4.3.
type Status string

const (
	StatusOpen        Status = "open"
	StatusInProgress  Status = "in_progress"
	StatusUnderReview Status = "under_review"
	StatusCompleted   Status = "completed"
	StatusDisputed    Status = "disputed"
	StatusCancelled   Status = "cancelled"
)

// Job is the row shape labor reads and transitions.
type Job struct {
	ID                       uuid.UUID
	EmployerID               uuid.UUID
	AssignedWorkerID         *uuid.UUID
	Category                 string
	Title                    string
	Description              string
	Budget                   int64
	PlatformFee              int64
	EstimatedDurationDays    *int32
	Status                   Status
	PaymentStatus            string
	PartialPaymentAllowed    bool
	PartialPaymentPercentage *int32
	PartialReleased          bool
	Deadline                 *time.Time
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// Contract is the agreed terms captured at assign_worker.
type Contract struct {
	ID           uuid.UUID
	JobID        uuid.UUID
	AgreedRate   int64
	TimelineDays int32
	CreatedAt    time.Time
}

// Progress is one submit_progress entry.
type Progress struct {
	ID          uuid.UUID
	JobID       uuid.UUID
	WorkerID    uuid.UUID
	Percentage  int32
	Description string
	Images      []string
	CreatedAt   time.Time
}

// Dispute is an open_dispute entry, shared with the order machine via
// the order_id column living alongside job_id on the same table.
type Dispute struct {
	ID          uuid.UUID
	JobID       *uuid.UUID
	OrderID     *uuid.UUID
	RaiserID    uuid.UUID
	Reason      string
	Description string
	Evidence    []string
	Status      string
	Decision    *string
	Resolution  *string
	Percentage  *int32
	VerifierID  *uuid.UUID
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// Engine is the self-transacting job state machine.
type Engine struct {
	pool   *pgxpool.Pool
	ledger *walletdb.Ledger
	escrow *escrow.Engine

	platformWalletID uuid.UUID
	platformUserID   uuid.UUID
}

// New builds an Engine. platformWalletID/platformUserID identify the
// wallet that receives realized platform fees (config.PlatformWalletID
// / PlatformOwnerID).
func New(ledger *walletdb.Ledger, escrowEngine *escrow.Engine, platformWalletID, platformUserID uuid.UUID) *Engine {
	return &Engine{
		pool:             ledger.Pool(),
		ledger:           ledger,
		escrow:           escrowEngine,
		platformWalletID: platformWalletID,
		platformUserID:   platformUserID,
	}
}

func withTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
			log.WithError(rbErr).Error("rollback failed after labor operation error")
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	if err := row.Scan(
		&j.ID, &j.EmployerID, &j.AssignedWorkerID, &j.Category, &j.Title, &j.Description,
		&j.Budget, &j.PlatformFee, &j.EstimatedDurationDays, &j.Status, &j.PaymentStatus,
		&j.PartialPaymentAllowed, &j.PartialPaymentPercentage, &j.PartialReleased,
		&j.Deadline, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, verrors.Wrap(verrors.KindNotFound, "job not found", verrors.ErrJobNotFound)
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}

const jobColumns = `id, employer_id, assigned_worker_id, category, title, description,
	budget, platform_fee, estimated_duration_days, status, payment_status,
	partial_payment_allowed, partial_payment_percentage, partial_released,
	deadline, created_at, updated_at`

// GetJob fetches a job without a row lock, for read paths.
func (e *Engine) GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	row := e.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	return scanJob(row)
}

func lockJobTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (*Job, error) {
	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, jobID)
	return scanJob(row)
}

// CreateJob inserts a new open job. Supplements the transition table
// (spec §4.3 begins at assign_worker, but something must create the
// row it acts on). platformFee is the employer's own input, not a
// rate this engine derives — the source leaves its computation to the
// caller (a fixed figure, a negotiated percentage, whatever the
// employer and platform agreed), so the only constraint enforced here
// is that it can't be negative.
func (e *Engine) CreateJob(ctx context.Context, employerID uuid.UUID, category, title, description string, budget, platformFee int64, estimatedDurationDays *int32, partialPaymentAllowed bool, partialPaymentPercentage *int32, deadline *time.Time) (*Job, error) {
	if budget <= 0 {
		return nil, verrors.New(verrors.KindValidation, "budget must be positive")
	}
	if platformFee < 0 {
		return nil, verrors.New(verrors.KindValidation, "platform fee cannot be negative")
	}
	if partialPaymentPercentage != nil && (*partialPaymentPercentage < 10 || *partialPaymentPercentage > 90) {
		return nil, verrors.New(verrors.KindValidation, "partial payment percentage must be between 10 and 90")
	}

	jobID := uuid.New()
	_, err := e.pool.Exec(ctx, `
		INSERT INTO jobs (
			id, employer_id, category, title, description, budget, platform_fee,
			estimated_duration_days, partial_payment_allowed,
			partial_payment_percentage, deadline
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		jobID, employerID, category, title, description, budget, platformFee,
		estimatedDurationDays, partialPaymentAllowed, partialPaymentPercentage, deadline)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return e.GetJob(ctx, jobID)
}

// AssignWorker implements spec §4.3's assign_worker transition:
// open→in_progress, escrow funding, and a JobContract row, all in one
// transaction. Preconditions: job is open, caller is the job's
// employer, and the worker is currently available.
func (e *Engine) AssignWorker(ctx context.Context, jobID, employerID, workerID, employerWalletID uuid.UUID) (*Job, error) {
	var out *Job
	err := withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		job, err := lockJobTx(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != StatusOpen {
			return verrors.Wrap(verrors.KindConflict, "job is not open for assignment", verrors.ErrInvalidJobStatus)
		}
		if job.EmployerID != employerID {
			return verrors.Wrap(verrors.KindUnauthorized, "caller is not this job's employer", verrors.ErrNotJobParty)
		}

		var isAvailable bool
		row := tx.QueryRow(ctx, `SELECT is_available FROM worker_profiles WHERE user_id = $1 FOR UPDATE`, workerID)
		if err := row.Scan(&isAvailable); err != nil {
			if err == pgx.ErrNoRows {
				return verrors.Wrap(verrors.KindValidation, "worker has no profile", verrors.ErrWorkerNotAvailable)
			}
			return fmt.Errorf("lock worker profile: %w", err)
		}
		if !isAvailable {
			return verrors.Wrap(verrors.KindConflict, "worker is not available", verrors.ErrWorkerNotAvailable)
		}

		if _, err := escrow.FundJobEscrowTx(ctx, tx, jobID, employerWalletID, employerID, job.Budget, job.PlatformFee); err != nil {
			return err
		}

		timelineDays := int32(0)
		if job.EstimatedDurationDays != nil {
			timelineDays = *job.EstimatedDurationDays
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO job_contracts (id, job_id, agreed_rate, timeline_days)
			VALUES ($1,$2,$3,$4)`, uuid.New(), jobID, job.Budget, timelineDays); err != nil {
			return fmt.Errorf("insert job contract: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE jobs SET assigned_worker_id = $1, status = 'in_progress', updated_at = now()
			WHERE id = $2`, workerID, jobID); err != nil {
			return fmt.Errorf("update job status: %w", err)
		}

		job.Status = StatusInProgress
		job.AssignedWorkerID = &workerID
		out = job
		return nil
	})
	return out, err
}

// SubmitProgress implements spec §4.3's submit_progress transition. If
// pct crosses the job's partial_payment_percentage threshold and no
// partial release has happened yet, it triggers escrow's partial
// release in the same transaction as the JobProgress insert. If
// pct=100, the job moves to under_review; a repeated submission of
// pct=100 on an already-under_review job is a no-op write, matching
// the "last write is idempotent" tie-break.
func (e *Engine) SubmitProgress(ctx context.Context, jobID, workerID uuid.UUID, pct int32, description string, images []string) (*Job, error) {
	if pct < 0 || pct > 100 {
		return nil, verrors.New(verrors.KindValidation, "percentage must be between 0 and 100")
	}

	var out *Job
	err := withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		job, err := lockJobTx(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != StatusInProgress {
			return verrors.Wrap(verrors.KindConflict, "job is not in progress", verrors.ErrInvalidJobStatus)
		}
		if job.AssignedWorkerID == nil || *job.AssignedWorkerID != workerID {
			return verrors.Wrap(verrors.KindUnauthorized, "caller is not the assigned worker", verrors.ErrNotJobParty)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO job_progress (id, job_id, worker_id, percentage, description, images)
			VALUES ($1,$2,$3,$4,$5,$6)`, uuid.New(), jobID, workerID, pct, description, images); err != nil {
			return fmt.Errorf("insert job progress: %w", err)
		}

		if job.PartialPaymentAllowed && !job.PartialReleased && job.PartialPaymentPercentage != nil &&
			pct >= *job.PartialPaymentPercentage {
			amount := job.Budget * int64(*job.PartialPaymentPercentage) / 100
			var workerWallet uuid.UUID
			wrow := tx.QueryRow(ctx, `SELECT id FROM wallets WHERE owner_id = $1 FOR UPDATE`, workerID)
			if err := wrow.Scan(&workerWallet); err != nil {
				return fmt.Errorf("lookup worker wallet: %w", err)
			}
			if _, err := escrow.PartialReleaseJobEscrowTx(ctx, tx, jobID, workerWallet, workerID, amount); err != nil {
				return err
			}
			job.PartialReleased = true
		}

		if pct == 100 {
			if _, err := tx.Exec(ctx, `
				UPDATE jobs SET status = 'under_review', updated_at = now()
				WHERE id = $1 AND status <> 'under_review'`, jobID); err != nil {
				return fmt.Errorf("update job status: %w", err)
			}
			job.Status = StatusUnderReview
		}

		out = job
		return nil
	})
	return out, err
}

// Complete implements spec §4.3's complete transition: releases the
// remaining escrow to the worker (platform fee to the platform
// wallet), marks the job completed, and awards trust points to both
// parties per the rating/deadline formula.
func (e *Engine) Complete(ctx context.Context, jobID, employerID uuid.UUID, rating int32) (*Job, error) {
	var out *Job
	err := withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		job, err := lockJobTx(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != StatusUnderReview {
			return verrors.Wrap(verrors.KindConflict, "job is not under review", verrors.ErrInvalidJobStatus)
		}
		if job.EmployerID != employerID {
			return verrors.Wrap(verrors.KindUnauthorized, "caller is not this job's employer", verrors.ErrNotJobParty)
		}
		if job.AssignedWorkerID == nil {
			return verrors.Wrap(verrors.KindConflict, "job has no assigned worker", verrors.ErrInvalidJobStatus)
		}
		workerID := *job.AssignedWorkerID

		var workerWallet uuid.UUID
		wrow := tx.QueryRow(ctx, `SELECT id FROM wallets WHERE owner_id = $1 FOR UPDATE`, workerID)
		if err := wrow.Scan(&workerWallet); err != nil {
			return fmt.Errorf("lookup worker wallet: %w", err)
		}

		if _, err := escrow.CompleteJobEscrowTx(ctx, tx, jobID, workerWallet, workerID, e.platformWalletID, e.platformUserID); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE jobs SET status = 'completed', updated_at = now() WHERE id = $1`, jobID); err != nil {
			return fmt.Errorf("update job status: %w", err)
		}

		onTime := job.Deadline == nil || !time.Now().After(*job.Deadline)
		if err := awardTrustPointsTx(ctx, tx, workerID, employerID, jobID, rating, onTime); err != nil {
			return err
		}

		job.Status = StatusCompleted
		out = job
		return nil
	})
	return out, err
}

// awardTrustPointsTx implements spec §4.3's trust-point formula:
// worker 20 base + 10 if rating>=4 + 5 if on time; employer 30+5+5
// under the same conditions. Grounded on the original's
// trust_service.rs award_job_completion_points, adapted from a
// users.trust_score column (out of this core's scope) to a standalone
// trust_points/trust_events pair.
func awardTrustPointsTx(ctx context.Context, tx pgx.Tx, workerID, employerID, jobID uuid.UUID, rating int32, onTime bool) error {
	workerPoints, employerPoints := 20, 30
	if rating >= 4 {
		workerPoints += 10
		employerPoints += 5
	}
	if onTime {
		workerPoints += 5
		employerPoints += 5
	}

	if err := addTrustPointsTx(ctx, tx, workerID, workerPoints, "job_completion",
		fmt.Sprintf("completed job %s", jobID)); err != nil {
		return err
	}
	return addTrustPointsTx(ctx, tx, employerID, employerPoints, "job_completion",
		fmt.Sprintf("employer for completed job %s", jobID))
}

func addTrustPointsTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, points int, eventType, description string) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO trust_points (user_id, points, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET points = trust_points.points + EXCLUDED.points, updated_at = now()`,
		userID, points); err != nil {
		return fmt.Errorf("credit trust points: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO trust_events (id, user_id, event_type, points, description)
		VALUES ($1,$2,$3,$4,$5)`, uuid.New(), userID, eventType, points, description); err != nil {
		return fmt.Errorf("log trust event: %w", err)
	}
	return nil
}

// OpenDispute implements spec §4.3's open_dispute transition.
func (e *Engine) OpenDispute(ctx context.Context, jobID, raiserID uuid.UUID, reason, description string, evidence []string) (*Dispute, error) {
	var out *Dispute
	err := withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		job, err := lockJobTx(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != StatusInProgress && job.Status != StatusUnderReview {
			return verrors.Wrap(verrors.KindConflict, "job cannot be disputed in its current status", verrors.ErrInvalidJobStatus)
		}
		if raiserID != job.EmployerID && (job.AssignedWorkerID == nil || *job.AssignedWorkerID != raiserID) {
			return verrors.Wrap(verrors.KindUnauthorized, "caller is not a party to this job", verrors.ErrNotJobParty)
		}

		d := &Dispute{
			ID: uuid.New(), JobID: &jobID, RaiserID: raiserID, Reason: reason,
			Description: description, Evidence: evidence, Status: "open", CreatedAt: time.Now().UTC(),
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO disputes (id, job_id, raiser_id, reason, description, evidence)
			VALUES ($1,$2,$3,$4,$5,$6)`, d.ID, jobID, raiserID, reason, description, evidence); err != nil {
			return fmt.Errorf("insert dispute: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE jobs SET status = 'disputed', updated_at = now() WHERE id = $1`, jobID); err != nil {
			return fmt.Errorf("update job status: %w", err)
		}

		out = d
		return nil
	})
	return out, err
}

// DisputeDecision is the verifier's decision for resolve_dispute, per
// spec §4.3: resolve_employer (full refund), resolve_worker (worker
// is paid as if the job completed), or resolve_partial(pct) (split).
type DisputeDecision string

const (
	DecisionEmployer DisputeDecision = "resolve_employer"
	DecisionWorker   DisputeDecision = "resolve_worker"
	DecisionPartial  DisputeDecision = "resolve_partial"
)

// ResolveDispute implements spec §4.3's resolve_dispute transition.
// verifierID must hold a platform-role authority; that check is the
// caller's responsibility (the HTTP/RPC boundary), mirroring how
// AssignWorker/Complete check party membership rather than roles.
func (e *Engine) ResolveDispute(ctx context.Context, disputeID, verifierID uuid.UUID, decision DisputeDecision, resolution string, pct *int32) error {
	return withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		var d Dispute
		row := tx.QueryRow(ctx, `
			SELECT id, job_id, raiser_id, reason, description, evidence, status
			FROM disputes WHERE id = $1 FOR UPDATE`, disputeID)
		if err := row.Scan(&d.ID, &d.JobID, &d.RaiserID, &d.Reason, &d.Description, &d.Evidence, &d.Status); err != nil {
			if err == pgx.ErrNoRows {
				return verrors.New(verrors.KindNotFound, "dispute not found")
			}
			return fmt.Errorf("lock dispute: %w", err)
		}
		if d.Status != "open" {
			return verrors.New(verrors.KindConflict, "dispute has already been resolved")
		}
		if d.JobID == nil {
			return verrors.New(verrors.KindValidation, "dispute is not a job dispute")
		}
		jobID := *d.JobID

		job, err := lockJobTx(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != StatusDisputed {
			return verrors.Wrap(verrors.KindConflict, "job is not disputed", verrors.ErrInvalidJobStatus)
		}
		if job.AssignedWorkerID == nil {
			return verrors.Wrap(verrors.KindConflict, "job has no assigned worker", verrors.ErrInvalidJobStatus)
		}
		workerID := *job.AssignedWorkerID

		var employerWallet, workerWallet uuid.UUID
		if err := tx.QueryRow(ctx, `SELECT id FROM wallets WHERE owner_id = $1 FOR UPDATE`, job.EmployerID).Scan(&employerWallet); err != nil {
			return fmt.Errorf("lookup employer wallet: %w", err)
		}
		if err := tx.QueryRow(ctx, `SELECT id FROM wallets WHERE owner_id = $1 FOR UPDATE`, workerID).Scan(&workerWallet); err != nil {
			return fmt.Errorf("lookup worker wallet: %w", err)
		}

		var finalStatus Status
		switch decision {
		case DecisionEmployer:
			if _, err := escrow.RefundJobEscrowTx(ctx, tx, jobID, employerWallet, job.EmployerID); err != nil {
				return err
			}
			finalStatus = StatusCancelled
		case DecisionWorker:
			if _, err := escrow.CompleteJobEscrowTx(ctx, tx, jobID, workerWallet, workerID, e.platformWalletID, e.platformUserID); err != nil {
				return err
			}
			finalStatus = StatusCompleted
		case DecisionPartial:
			if pct == nil {
				return verrors.New(verrors.KindValidation, "resolve_partial requires a worker percentage")
			}
			if _, err := escrow.ResolveJobDisputePartialTx(ctx, tx, jobID, employerWallet, job.EmployerID, workerWallet, workerID, int(*pct)); err != nil {
				return err
			}
			if *pct == 0 {
				finalStatus = StatusCancelled
			} else {
				finalStatus = StatusCompleted
			}
		default:
			return verrors.New(verrors.KindValidation, "unrecognized dispute decision")
		}

		decisionStr := string(decision)
		if _, err := tx.Exec(ctx, `
			UPDATE disputes SET status = 'resolved', decision = $1, resolution = $2,
				percentage = $3, verifier_id = $4, resolved_at = now()
			WHERE id = $5`, decisionStr, resolution, pct, verifierID, disputeID); err != nil {
			return fmt.Errorf("update dispute: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE jobs SET status = $1, updated_at = now() WHERE id = $2`, finalStatus, jobID); err != nil {
			return fmt.Errorf("update job status: %w", err)
		}

		return nil
	})
}

// CancelBeforeAssign implements the open→cancelled edge of the
// transition diagram: free cancellation of a job that was never
// assigned a worker, since no escrow has been funded yet.
func (e *Engine) CancelBeforeAssign(ctx context.Context, jobID, employerID uuid.UUID) error {
	cmd, err := e.pool.Exec(ctx, `
		UPDATE jobs SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND employer_id = $2 AND status = 'open'`, jobID, employerID)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return verrors.Wrap(verrors.KindConflict, "job is not open or caller is not the employer", verrors.ErrInvalidJobStatus)
	}
	return nil
}

// SetWorkerAvailable toggles a worker's availability, consulted by
// AssignWorker's precondition.
func (e *Engine) SetWorkerAvailable(ctx context.Context, workerID uuid.UUID, available bool) error {
	_, err := e.pool.Exec(ctx, `
		INSERT INTO worker_profiles (user_id, is_available)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET is_available = EXCLUDED.is_available, updated_at = now()`,
		workerID, available)
	if err != nil {
		return fmt.Errorf("set worker availability: %w", err)
	}
	return nil
}
