package escrow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/chigozirigeorge/verinest/verrors"
	"github.com/chigozirigeorge/verinest/walletdb"
)

// orderEscrowRow is the subset of service_orders escrow cares about.
type orderEscrowRow struct {
	Status             string
	TotalAmount        int64
	PlatformFee        int64
	VendorAmount       int64
	DeliveryAmountHeld int64
}

func lockOrderEscrowRowTx(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*orderEscrowRow, error) {
	var r orderEscrowRow
	row := tx.QueryRow(ctx, `
		SELECT status, total_amount, platform_fee, vendor_amount, delivery_amount_held
		FROM service_orders WHERE id = $1 FOR UPDATE`, orderID)
	if err := row.Scan(&r.Status, &r.TotalAmount, &r.PlatformFee, &r.VendorAmount, &r.DeliveryAmountHeld); err != nil {
		if err == pgx.ErrNoRows {
			return nil, verrors.Wrap(verrors.KindNotFound, "order not found", verrors.ErrOrderNotFound)
		}
		return nil, fmt.Errorf("lock order escrow row: %w", err)
	}
	return &r, nil
}

// PayOrderTx debits the buyer the full order total and, in the same
// transaction, immediately credits the platform its fee and the
// vendor its vendor_amount — only delivery_amount_held (if any) stays
// undisbursed, pending delivery confirmation — per spec §4.2's order
// "Pay" rule.
func PayOrderTx(ctx context.Context, tx pgx.Tx, orderID, buyerWalletID, buyerUserID, vendorWalletID, vendorUserID, platformWalletID, platformUserID uuid.UUID) (*Transaction, error) {
	r, err := lockOrderEscrowRowTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if r.Status != "pending" {
		return nil, verrors.Wrap(verrors.KindConflict,
			"order has already been paid", verrors.ErrInvalidOrderStatus)
	}
	if r.TotalAmount <= 0 {
		return nil, verrors.New(verrors.KindValidation, "order total must be positive")
	}

	if _, err := walletdb.DebitTx(ctx, tx, walletdb.DebitInput{
		WalletID: buyerWalletID, UserID: buyerUserID, Amount: r.TotalAmount,
		Type: walletdb.TxServicePayment, Reference: orderPayRef(orderID),
		Description: "service order payment", OrderID: &orderID,
	}); err != nil {
		return nil, err
	}

	if r.PlatformFee > 0 {
		if _, err := walletdb.CreditTx(ctx, tx, walletdb.CreditInput{
			WalletID: platformWalletID, UserID: platformUserID, Amount: r.PlatformFee,
			Type: walletdb.TxPlatformFee, Reference: orderPayFeeRef(orderID),
			Description: "service order platform fee", OrderID: &orderID,
		}); err != nil {
			return nil, err
		}
	}
	if r.VendorAmount > 0 {
		if _, err := walletdb.CreditTx(ctx, tx, walletdb.CreditInput{
			WalletID: vendorWalletID, UserID: vendorUserID, Amount: r.VendorAmount,
			Type: walletdb.TxServicePayment, Reference: orderPayVendorRef(orderID),
			Description: "service order vendor payment", OrderID: &orderID,
		}); err != nil {
			return nil, err
		}
	}

	et, err := insertEscrowTxTx(ctx, tx, nil, &orderID, KindFund, r.TotalAmount, orderPayRef(orderID))
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE service_orders SET status = 'paid', paid_at = now() WHERE id = $1`, orderID); err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	return et, nil
}

// ReleaseOrderEscrowTx pays the vendor the delivery_amount_held
// portion once delivery is confirmed, per spec §4.2's "Delivery
// confirmed" rule, and completes the order. Idempotent: a second call
// after the first has succeeded returns a Conflict rather than
// double-paying, matching the order machine's idempotent
// confirm_delivery contract (spec §4.4) at the row level — the caller
// (orders) is expected to treat that Conflict as "already confirmed".
func ReleaseOrderEscrowTx(ctx context.Context, tx pgx.Tx, orderID, vendorWalletID, vendorUserID uuid.UUID) (*Transaction, error) {
	r, err := lockOrderEscrowRowTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if r.Status != "delivered" && r.Status != "paid" {
		return nil, verrors.Wrap(verrors.KindConflict,
			"order is not in a state that allows escrow release", verrors.ErrInvalidOrderStatus)
	}

	released, err := orderReleasedSoFarTx(ctx, tx, orderID, KindRelease)
	if err != nil {
		return nil, err
	}
	if released > 0 {
		return nil, verrors.Wrap(verrors.KindConflict, "order escrow has already been released", verrors.ErrInvalidOrderStatus)
	}
	if r.DeliveryAmountHeld <= 0 {
		return nil, verrors.Wrap(verrors.KindConflict, "order has no held delivery amount to release", verrors.ErrInvalidOrderStatus)
	}

	if _, err := walletdb.CreditTx(ctx, tx, walletdb.CreditInput{
		WalletID: vendorWalletID, UserID: vendorUserID, Amount: r.DeliveryAmountHeld,
		Type: walletdb.TxServiceDelivery, Reference: orderReleaseRef(orderID),
		Description: "service order delivery release", OrderID: &orderID,
	}); err != nil {
		return nil, err
	}

	et, err := insertEscrowTxTx(ctx, tx, nil, &orderID, KindRelease, r.DeliveryAmountHeld, orderReleaseRef(orderID))
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE service_orders SET status = 'completed', completed_at = now() WHERE id = $1`, orderID); err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	return et, nil
}

// ResolveOrderDisputeFullRefundTx implements the order dispute
// full_refund outcome: the buyer is refunded total_amount minus
// platform_fee (the platform keeps its fee); any vendor_amount already
// disbursed at Pay time is clawed back, and any undisbursed
// delivery_amount_held is simply never paid out, per spec §4.4.
func ResolveOrderDisputeFullRefundTx(ctx context.Context, tx pgx.Tx, orderID, buyerWalletID, buyerUserID, vendorWalletID, vendorUserID uuid.UUID) ([]*Transaction, error) {
	r, err := lockOrderEscrowRowTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireSettleableOrder(r); err != nil {
		return nil, err
	}

	var results []*Transaction
	if r.VendorAmount > 0 {
		if _, err := walletdb.DebitTx(ctx, tx, walletdb.DebitInput{
			WalletID: vendorWalletID, UserID: vendorUserID, Amount: r.VendorAmount,
			Type: walletdb.TxPenalty, Reference: orderDisputeRef(orderID, "VENDOR_CLAWBACK"),
			Description: "order dispute vendor clawback", OrderID: &orderID,
		}); err != nil {
			return nil, err
		}
		et, err := insertEscrowTxTx(ctx, tx, nil, &orderID, KindRefund, r.VendorAmount, orderDisputeRef(orderID, "VENDOR_CLAWBACK"))
		if err != nil {
			return nil, err
		}
		results = append(results, et)
	}

	buyerRefund := r.TotalAmount - r.PlatformFee
	if buyerRefund > 0 {
		if _, err := walletdb.CreditTx(ctx, tx, walletdb.CreditInput{
			WalletID: buyerWalletID, UserID: buyerUserID, Amount: buyerRefund,
			Type: walletdb.TxRefund, Reference: orderDisputeRef(orderID, "BUYER"),
			Description: "order dispute full refund", OrderID: &orderID,
		}); err != nil {
			return nil, err
		}
		et, err := insertEscrowTxTx(ctx, tx, nil, &orderID, KindRefund, buyerRefund, orderDisputeRef(orderID, "BUYER"))
		if err != nil {
			return nil, err
		}
		results = append(results, et)
	}

	if _, err := tx.Exec(ctx, `UPDATE service_orders SET status = 'refunded', cancelled_at = now() WHERE id = $1`, orderID); err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	return results, nil
}

// ResolveOrderDisputePartialRefundTx implements the order dispute
// partial_refund(p) outcome: the buyer receives p% and the vendor
// (100-p)% of the order principal (total_amount minus platform_fee,
// which the platform always keeps), adjusting for whatever the vendor
// was already paid at Pay time, per spec §4.4.
func ResolveOrderDisputePartialRefundTx(ctx context.Context, tx pgx.Tx, orderID, buyerWalletID, buyerUserID, vendorWalletID, vendorUserID uuid.UUID, buyerPercentage int) ([]*Transaction, error) {
	if buyerPercentage < 1 || buyerPercentage > 100 {
		return nil, verrors.New(verrors.KindValidation, "buyer percentage must be between 1 and 100")
	}

	r, err := lockOrderEscrowRowTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireSettleableOrder(r); err != nil {
		return nil, err
	}

	principal := r.TotalAmount - r.PlatformFee
	buyerShare := principal * int64(buyerPercentage) / 100
	vendorShare := principal - buyerShare
	vendorDelta := vendorShare - r.VendorAmount

	var results []*Transaction
	if vendorDelta > 0 {
		if _, err := walletdb.CreditTx(ctx, tx, walletdb.CreditInput{
			WalletID: vendorWalletID, UserID: vendorUserID, Amount: vendorDelta,
			Type: walletdb.TxServiceDelivery, Reference: orderDisputeRef(orderID, "VENDOR"),
			Description: "order dispute partial settlement", OrderID: &orderID,
		}); err != nil {
			return nil, err
		}
		et, err := insertEscrowTxTx(ctx, tx, nil, &orderID, KindRelease, vendorDelta, orderDisputeRef(orderID, "VENDOR"))
		if err != nil {
			return nil, err
		}
		results = append(results, et)
	} else if vendorDelta < 0 {
		clawback := -vendorDelta
		if _, err := walletdb.DebitTx(ctx, tx, walletdb.DebitInput{
			WalletID: vendorWalletID, UserID: vendorUserID, Amount: clawback,
			Type: walletdb.TxPenalty, Reference: orderDisputeRef(orderID, "VENDOR_CLAWBACK"),
			Description: "order dispute vendor clawback", OrderID: &orderID,
		}); err != nil {
			return nil, err
		}
		et, err := insertEscrowTxTx(ctx, tx, nil, &orderID, KindRefund, clawback, orderDisputeRef(orderID, "VENDOR_CLAWBACK"))
		if err != nil {
			return nil, err
		}
		results = append(results, et)
	}

	if buyerShare > 0 {
		if _, err := walletdb.CreditTx(ctx, tx, walletdb.CreditInput{
			WalletID: buyerWalletID, UserID: buyerUserID, Amount: buyerShare,
			Type: walletdb.TxRefund, Reference: orderDisputeRef(orderID, "BUYER"),
			Description: "order dispute partial settlement", OrderID: &orderID,
		}); err != nil {
			return nil, err
		}
		et, err := insertEscrowTxTx(ctx, tx, nil, &orderID, KindRefund, buyerShare, orderDisputeRef(orderID, "BUYER"))
		if err != nil {
			return nil, err
		}
		results = append(results, et)
	}

	newStatus := "completed"
	if buyerPercentage == 100 {
		newStatus = "refunded"
	}
	if _, err := tx.Exec(ctx, `UPDATE service_orders SET status = $1 WHERE id = $2`, newStatus, orderID); err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	return results, nil
}

// ResolveOrderDisputeDismissedTx behaves exactly as delivery
// confirmed, per spec §4.4's "dismissed" outcome.
func ResolveOrderDisputeDismissedTx(ctx context.Context, tx pgx.Tx, orderID, vendorWalletID, vendorUserID uuid.UUID) (*Transaction, error) {
	return ReleaseOrderEscrowTx(ctx, tx, orderID, vendorWalletID, vendorUserID)
}

func requireSettleableOrder(r *orderEscrowRow) error {
	switch r.Status {
	case "paid", "processing", "shipped", "in_transit", "delivered", "disputed":
		return nil
	default:
		return verrors.Wrap(verrors.KindConflict,
			"order is not in a state that allows dispute settlement", verrors.ErrInvalidOrderStatus)
	}
}

// Standalone, self-transacting wrappers.

func (e *Engine) PayOrder(ctx context.Context, orderID, buyerWalletID, buyerUserID, vendorWalletID, vendorUserID, platformWalletID, platformUserID uuid.UUID) (*Transaction, error) {
	var out *Transaction
	err := withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		t, err := PayOrderTx(ctx, tx, orderID, buyerWalletID, buyerUserID, vendorWalletID, vendorUserID, platformWalletID, platformUserID)
		out = t
		return err
	})
	return out, err
}

func (e *Engine) ReleaseOrderEscrow(ctx context.Context, orderID, vendorWalletID, vendorUserID uuid.UUID) (*Transaction, error) {
	var out *Transaction
	err := withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		t, err := ReleaseOrderEscrowTx(ctx, tx, orderID, vendorWalletID, vendorUserID)
		out = t
		return err
	})
	return out, err
}

func (e *Engine) ResolveOrderDisputeFullRefund(ctx context.Context, orderID, buyerWalletID, buyerUserID, vendorWalletID, vendorUserID uuid.UUID) ([]*Transaction, error) {
	var out []*Transaction
	err := withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		t, err := ResolveOrderDisputeFullRefundTx(ctx, tx, orderID, buyerWalletID, buyerUserID, vendorWalletID, vendorUserID)
		out = t
		return err
	})
	return out, err
}

func (e *Engine) ResolveOrderDisputePartialRefund(ctx context.Context, orderID, buyerWalletID, buyerUserID, vendorWalletID, vendorUserID uuid.UUID, buyerPercentage int) ([]*Transaction, error) {
	var out []*Transaction
	err := withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		t, err := ResolveOrderDisputePartialRefundTx(ctx, tx, orderID, buyerWalletID, buyerUserID, vendorWalletID, vendorUserID, buyerPercentage)
		out = t
		return err
	})
	return out, err
}

func (e *Engine) ResolveOrderDisputeDismissed(ctx context.Context, orderID, vendorWalletID, vendorUserID uuid.UUID) (*Transaction, error) {
	var out *Transaction
	err := withTx(ctx, e.pool, func(ctx context.Context, tx pgx.Tx) error {
		t, err := ResolveOrderDisputeDismissedTx(ctx, tx, orderID, vendorWalletID, vendorUserID)
		out = t
		return err
	})
	return out, err
}
