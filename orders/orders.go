// Package orders is the Order State Machine (C4): pending → paid →
// (shipped|delivered)? → completed, with a disputed branch refunded
// or dismissed out of it, per spec §4.4. It owns service_orders'
// lifecycle status and composes escrow's Tx-scoped order functions the
// same way labor composes escrow's job functions, so a status
// transition and its money movement commit or roll back together.
//
// Named "orders" rather than the distillation's "vendor" — Go's
// toolchain reserves a top-level vendor/ directory for dependency
// vendoring, so that name was unusable for a package.
package orders

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

var log = logrus.WithField("subsystem", "orders")

// Status mirrors the service_orders.status enum, spec §4.4.
type Status string

const (
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusInTransit  Status = "in_transit"
	StatusDelivered  Status = "delivered"
	StatusCompleted  Status = "completed"
	StatusDisputed   Status = "disputed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// DeliveryType mirrors service_orders.delivery_type.
type DeliveryType string

const (
	DeliveryLocalPickup   DeliveryType = "local_pickup"
	DeliveryCrossState    DeliveryType = "cross_state_delivery"
	DeliveryDigital       DeliveryType = "digital"
)

// Order is the row shape orders reads and transitions.
type Order struct {
	ID                 uuid.UUID
	OrderNumber        string
	ServiceID          uuid.UUID
	VendorID           uuid.UUID
	BuyerID            uuid.UUID
	Quantity           int32
	UnitPrice          int64
	DeliveryFee        int64
	TotalAmount        int64
	PlatformFee        int64
	VendorAmount       int64
	DeliveryAmountHeld int64
	DeliveryType       DeliveryType
	Status             Status
	DeliveryConfirmed  bool
	PaidAt             *time.Time
	CompletedAt        *time.Time
	CancelledAt        *time.Time
	CreatedAt          time.Time
}

// Engine is the self-transacting order state machine.
type Engine struct {
	pool   *pgxpool.Pool
	ledger *walletdb.Ledger
	escrow *escrow.Engine

	platformWalletID uuid.UUID
	platformUserID   uuid.UUID
}

// New builds an Engine. platformWalletID/platformUserID identify the
// wallet that receives realized platform fees.
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
			log.WithError(rbErr).Error("rollback failed after order operation error")
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const orderColumns = `id, order_number, service_id, vendor_id, buyer_id, quantity, unit_price,
	delivery_fee, total_amount, platform_fee, vendor_amount, delivery_amount_held,
	delivery_type, status, delivery_confirmed, paid_at, completed_at, cancelled_at, created_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	if err := row.Scan(
		&o.ID, &o.OrderNumber, &o.ServiceID, &o.VendorID, &o.BuyerID, &o.Quantity, &o.UnitPrice,
		&o.DeliveryFee, &o.TotalAmount, &o.PlatformFee, &o.VendorAmount, &o.DeliveryAmountHeld,
		&o.DeliveryType, &o.Status, &o.DeliveryConfirmed, &o.PaidAt, &o.CompletedAt, &o.CancelledAt, &o.CreatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, verrors.Wrap(verrors.KindNotFound, "order not found", verrors.ErrOrderNotFound)
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return &o, nil
}

// GetOrder fetches an order without a row lock, for read paths.
func (e *Engine) GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	row := e.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM service_orders WHERE id = $1`, orderID)
	return scanOrder(row)
}

func lockOrderTx(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*Order, error) {
	row := tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM service_orders WHERE id = $1 FOR UPDATE`, orderID)
	return scanOrder(row)
}

// CreateOrder implements spec §4.4's create_order precondition chain:
// service is active, stock suffices, the vendor's subscription is
// valid, the buyer's balance suffices, and — for cross_state_delivery
// — the buyer holds approved identity verification. All checks run
// before any row is written; stock is decremented in the same
// transaction that inserts the order so a concurrent order against the
// last unit cannot oversell. platformFee is the caller's own input,
// the same as labor.CreateJob's platformFee — the source leaves its
// computation to the caller rather than fixing a rate here.
func (e *Engine) CreateOrder(ctx context.Context, buyerID uuid.UUID, serviceID uuid.UUID, quantity int32, deliveryType DeliveryType, deliveryFee, platformFee int64) (*Order, error) {
	if quantity <= 0 {
		return nil, verrors.New(verrors.KindValidation, "quantity must be positive")
	}
	if deliveryFee < 0 {
		return nil, verrors.New(verrors.KindValidation, "delivery fee cannot be negative")
	}
	if platformFee < 0 {
		return nil, verrors.New(verrors.KindValidation, "platform fee cannot be negative")
	}

	var out *Order
	err := withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		var vendorID uuid.UUID
		var unitPrice int64
		var stock int32
		var status string
		row := tx.QueryRow(ctx, `SELECT vendor_id, unit_price, stock, status FROM services WHERE id = $1 FOR UPDATE`, serviceID)
		if err := row.Scan(&vendorID, &unitPrice, &stock, &status); err != nil {
			if err == pgx.ErrNoRows {
				return verrors.Wrap(verrors.KindNotFound, "service not found", verrors.ErrServiceUnavailable)
			}
			return fmt.Errorf("lock service: %w", err)
		}
		if status != "active" {
			return verrors.Wrap(verrors.KindValidation, "service is not active", verrors.ErrServiceUnavailable)
		}
		if stock < quantity {
			return verrors.Wrap(verrors.KindValidation, "insufficient stock", verrors.ErrServiceUnavailable)
		}

		var subExpires *time.Time
		row = tx.QueryRow(ctx, `SELECT expires_at FROM vendor_subscriptions WHERE vendor_id = $1`, vendorID)
		if err := row.Scan(&subExpires); err != nil && err != pgx.ErrNoRows {
			return fmt.Errorf("lookup vendor subscription: %w", err)
		}
		if subExpires != nil && subExpires.Before(time.Now()) {
			return verrors.Wrap(verrors.KindValidation, "vendor subscription has expired", verrors.ErrSubscriptionExpired)
		}

		var buyerWalletID uuid.UUID
		var available int64
		var identityVerified bool
		row = tx.QueryRow(ctx, `SELECT id, available_balance, identity_verified FROM wallets WHERE owner_id = $1 FOR UPDATE`, buyerID)
		if err := row.Scan(&buyerWalletID, &available, &identityVerified); err != nil {
			if err == pgx.ErrNoRows {
				return verrors.Wrap(verrors.KindNotFound, "buyer wallet not found", verrors.ErrWalletNotFound)
			}
			return fmt.Errorf("lock buyer wallet: %w", err)
		}

		subtotal := unitPrice * int64(quantity)
		totalAmount := subtotal + platformFee + deliveryFee
		if available < totalAmount {
			return verrors.Wrap(verrors.KindInsufficientFunds, "buyer has insufficient balance", verrors.ErrInsufficientFunds)
		}

		if deliveryType == DeliveryCrossState && !identityVerified {
			return verrors.Wrap(verrors.KindValidation, "buyer identity is not verified for cross-state delivery", verrors.ErrIdentityNotVerified)
		}

		// For cross-state orders, only the delivery_fee (what the carrier
		// is owed) is released to the vendor at pay time; the goods'
		// value stays held until the buyer confirms delivery. Local
		// pickup and digital orders have nothing to hold, so the vendor
		// gets the full subtotal plus delivery_fee immediately.
		var vendorAmount, deliveryHeld int64
		if deliveryType == DeliveryCrossState {
			vendorAmount = deliveryFee
			deliveryHeld = subtotal
		} else {
			vendorAmount = subtotal + deliveryFee
			deliveryHeld = 0
		}

		orderID := uuid.New()
		orderNumber := orderID.String()
		if _, err := tx.Exec(ctx, `
			INSERT INTO service_orders (
				id, order_number, service_id, vendor_id, buyer_id, quantity, unit_price,
				delivery_fee, total_amount, platform_fee, vendor_amount, delivery_amount_held,
				delivery_type
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			orderID, orderNumber, serviceID, vendorID, buyerID, quantity, unitPrice,
			deliveryFee, totalAmount, platformFee, vendorAmount, deliveryHeld, deliveryType); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		if _, err := tx.Exec(ctx, `UPDATE services SET stock = stock - $1 WHERE id = $2`, quantity, serviceID); err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}

		o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM service_orders WHERE id = $1`, orderID))
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

// Pay implements spec §4.4/§4.2's order Pay step: debit the buyer,
// disburse the vendor and platform shares immediately, and — for
// local_pickup, where nothing stays held — move straight to completed
// since there is no delivery step to confirm.
func (e *Engine) Pay(ctx context.Context, orderID, buyerID uuid.UUID) (*Order, error) {
	var out *Order
	err := withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		o, err := lockOrderTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.BuyerID != buyerID {
			return verrors.Wrap(verrors.KindUnauthorized, "caller is not this order's buyer", verrors.ErrOrderNotFound)
		}

		var buyerWalletID, vendorWalletID uuid.UUID
		if err := tx.QueryRow(ctx, `SELECT id FROM wallets WHERE owner_id = $1`, o.BuyerID).Scan(&buyerWalletID); err != nil {
			return fmt.Errorf("lookup buyer wallet: %w", err)
		}
		if err := tx.QueryRow(ctx, `SELECT id FROM wallets WHERE owner_id = $1`, o.VendorID).Scan(&vendorWalletID); err != nil {
			return fmt.Errorf("lookup vendor wallet: %w", err)
		}

		if _, err := escrow.PayOrderTx(ctx, tx, orderID, buyerWalletID, o.BuyerID, vendorWalletID, o.VendorID, e.platformWalletID, e.platformUserID); err != nil {
			return err
		}

		if o.DeliveryType == DeliveryLocalPickup {
			if _, err := tx.Exec(ctx, `
				UPDATE service_orders SET status = 'completed', completed_at = now() WHERE id = $1`, orderID); err != nil {
				return fmt.Errorf("complete local pickup order: %w", err)
			}
			o.Status = StatusCompleted
		} else {
			o.Status = StatusPaid
		}
		now := time.Now().UTC()
		o.PaidAt = &now
		out = o
		return nil
	})
	return out, err
}

// ConfirmDelivery implements spec §4.4's idempotent confirm_delivery:
// the buyer (per the HTTP surface, "Buyer confirms delivery") releases
// delivery_amount_held to the vendor, completing the order. A retry
// against an already-released order collides on escrow's own Conflict
// guard; that is translated here into returning the order's current
// (already-completed) state rather than an error, matching "second
// call returns same result". The scheduler's auto-confirm task
// (spec §4.6) calls this with a synthetic caller equal to the buyer
// after a 7-day grace period, so it shares this exact path.
func (e *Engine) ConfirmDelivery(ctx context.Context, orderID, buyerID uuid.UUID) (*Order, error) {
	var out *Order
	err := withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		o, err := lockOrderTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.BuyerID != buyerID {
			return verrors.Wrap(verrors.KindUnauthorized, "caller is not this order's buyer", verrors.ErrOrderNotFound)
		}
		if o.Status == StatusCompleted {
			out = o
			return nil
		}

		var vendorWalletID uuid.UUID
		if err := tx.QueryRow(ctx, `SELECT id FROM wallets WHERE owner_id = $1`, o.VendorID).Scan(&vendorWalletID); err != nil {
			return fmt.Errorf("lookup vendor wallet: %w", err)
		}

		if _, err := escrow.ReleaseOrderEscrowTx(ctx, tx, orderID, vendorWalletID, o.VendorID); err != nil {
			if verrors.KindOf(err) == verrors.KindConflict {
				o.Status = StatusCompleted
				out = o
				return nil
			}
			return err
		}

		o.Status = StatusCompleted
		out = o
		return nil
	})
	return out, err
}

// MarkDelivered records a carrier-confirmed delivery, moving the order
// into the delivered state that ConfirmDelivery/auto-confirm act on.
// Supplements the state machine: spec §4.4 names `delivered` as a
// state on the diagram but not the operation that reaches it.
func (e *Engine) MarkDelivered(ctx context.Context, orderID, vendorID uuid.UUID) error {
	cmd, err := e.pool.Exec(ctx, `
		UPDATE service_orders SET status = 'delivered'
		WHERE id = $1 AND vendor_id = $2 AND status IN ('paid', 'processing', 'shipped', 'in_transit')`,
		orderID, vendorID)
	if err != nil {
		return fmt.Errorf("mark order delivered: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return verrors.Wrap(verrors.KindConflict, "order is not in a shippable status", verrors.ErrInvalidOrderStatus)
	}
	return nil
}

// Cancel implements spec §4.4's cancel rule: free before paid,
// restoring stock; after paid it routes through the full-refund
// dispute outcome, clawing back whatever the vendor was already paid.
func (e *Engine) Cancel(ctx context.Context, orderID, callerID uuid.UUID) (*Order, error) {
	var out *Order
	err := withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		o, err := lockOrderTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.BuyerID != callerID && o.VendorID != callerID {
			return verrors.Wrap(verrors.KindUnauthorized, "caller is not a party to this order", verrors.ErrOrderNotFound)
		}

		if o.Status == StatusPending {
			if _, err := tx.Exec(ctx, `
				UPDATE service_orders SET status = 'cancelled', cancelled_at = now() WHERE id = $1`, orderID); err != nil {
				return fmt.Errorf("cancel order: %w", err)
			}
			if _, err := tx.Exec(ctx, `UPDATE services SET stock = stock + $1 WHERE id = $2`, o.Quantity, o.ServiceID); err != nil {
				return fmt.Errorf("restore stock: %w", err)
			}
			o.Status = StatusCancelled
			out = o
			return nil
		}

		var buyerWalletID, vendorWalletID uuid.UUID
		if err := tx.QueryRow(ctx, `SELECT id FROM wallets WHERE owner_id = $1`, o.BuyerID).Scan(&buyerWalletID); err != nil {
			return fmt.Errorf("lookup buyer wallet: %w", err)
		}
		if err := tx.QueryRow(ctx, `SELECT id FROM wallets WHERE owner_id = $1`, o.VendorID).Scan(&vendorWalletID); err != nil {
			return fmt.Errorf("lookup vendor wallet: %w", err)
		}

		if _, err := escrow.ResolveOrderDisputeFullRefundTx(ctx, tx, orderID, buyerWalletID, o.BuyerID, vendorWalletID, o.VendorID); err != nil {
			return err
		}

		o.Status = StatusRefunded
		out = o
		return nil
	})
	return out, err
}

// OpenDispute inserts a Dispute row against an order, per spec §4.4's
// dispute branch (the transition diagram is shared with labor; the
// dispute row's order_id column, rather than job_id, marks it as an
// order dispute).
func (e *Engine) OpenDispute(ctx context.Context, orderID, raiserID uuid.UUID, reason, description string, evidence []string) (uuid.UUID, error) {
	var disputeID uuid.UUID
	err := withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		o, err := lockOrderTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if raiserID != o.BuyerID && raiserID != o.VendorID {
			return verrors.Wrap(verrors.KindUnauthorized, "caller is not a party to this order", verrors.ErrOrderNotFound)
		}

		disputeID = uuid.New()
		if _, err := tx.Exec(ctx, `
			INSERT INTO disputes (id, order_id, raiser_id, reason, description, evidence)
			VALUES ($1,$2,$3,$4,$5,$6)`, disputeID, orderID, raiserID, reason, description, evidence); err != nil {
			return fmt.Errorf("insert dispute: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE service_orders SET status = 'disputed' WHERE id = $1`, orderID); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		return nil
	})
	return disputeID, err
}

// DisputeOutcome is the verifier's decision for ResolveDispute, per
// spec §4.2/§4.4's three named order dispute outcomes.
type DisputeOutcome string

const (
	OutcomeFullRefund    DisputeOutcome = "full_refund"
	OutcomePartialRefund DisputeOutcome = "partial_refund"
	OutcomeDismissed     DisputeOutcome = "dismissed"
)

// ResolveDispute routes a verifier's decision to the matching escrow
// dispute-resolution function and updates both the dispute and the
// order rows in one transaction.
func (e *Engine) ResolveDispute(ctx context.Context, disputeID, verifierID uuid.UUID, outcome DisputeOutcome, resolution string, buyerPercentage *int32) error {
	return withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		var d struct {
			ID       uuid.UUID
			OrderID  *uuid.UUID
			RaiserID uuid.UUID
			Status   string
		}
		row := tx.QueryRow(ctx, `SELECT id, order_id, raiser_id, status FROM disputes WHERE id = $1 FOR UPDATE`, disputeID)
		if err := row.Scan(&d.ID, &d.OrderID, &d.RaiserID, &d.Status); err != nil {
			if err == pgx.ErrNoRows {
				return verrors.New(verrors.KindNotFound, "dispute not found")
			}
			return fmt.Errorf("lock dispute: %w", err)
		}
		if d.Status != "open" {
			return verrors.New(verrors.KindConflict, "dispute has already been resolved")
		}
		if d.OrderID == nil {
			return verrors.New(verrors.KindValidation, "dispute is not an order dispute")
		}
		orderID := *d.OrderID

		o, err := lockOrderTx(ctx, tx, orderID)
		if err != nil {
			return err
		}

		var buyerWalletID, vendorWalletID uuid.UUID
		if err := tx.QueryRow(ctx, `SELECT id FROM wallets WHERE owner_id = $1`, o.BuyerID).Scan(&buyerWalletID); err != nil {
			return fmt.Errorf("lookup buyer wallet: %w", err)
		}
		if err := tx.QueryRow(ctx, `SELECT id FROM wallets WHERE owner_id = $1`, o.VendorID).Scan(&vendorWalletID); err != nil {
			return fmt.Errorf("lookup vendor wallet: %w", err)
		}

		// Each of these already moves service_orders.status on success
		// (to 'refunded' or 'completed') as part of its own transaction
		// step — the dispute row is the only status this function still
		// owns directly.
		switch outcome {
		case OutcomeFullRefund:
			if _, err := escrow.ResolveOrderDisputeFullRefundTx(ctx, tx, orderID, buyerWalletID, o.BuyerID, vendorWalletID, o.VendorID); err != nil {
				return err
			}
		case OutcomePartialRefund:
			if buyerPercentage == nil {
				return verrors.New(verrors.KindValidation, "partial_refund requires a buyer percentage")
			}
			if _, err := escrow.ResolveOrderDisputePartialRefundTx(ctx, tx, orderID, buyerWalletID, o.BuyerID, vendorWalletID, o.VendorID, int(*buyerPercentage)); err != nil {
				return err
			}
		case OutcomeDismissed:
			if _, err := escrow.ResolveOrderDisputeDismissedTx(ctx, tx, orderID, vendorWalletID, o.VendorID); err != nil {
				return err
			}
		default:
			return verrors.New(verrors.KindValidation, "unrecognized dispute outcome")
		}

		outcomeStr := string(outcome)
		if _, err := tx.Exec(ctx, `
			UPDATE disputes SET status = 'resolved', decision = $1, resolution = $2,
				percentage = $3, verifier_id = $4, resolved_at = now()
			WHERE id = $5`, outcomeStr, resolution, buyerPercentage, verifierID, disputeID); err != nil {
			return fmt.Errorf("update dispute: %w", err)
		}

		return nil
	})
}
