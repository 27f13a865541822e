package walletdb

import (
	"time"

	"github.com/google/uuid"
)

// WalletStatus mirrors spec §3's Wallet.status enum.
type WalletStatus string

const (
	StatusActive    WalletStatus = "active"
	StatusSuspended WalletStatus = "suspended"
	StatusFrozen    WalletStatus = "frozen"
	StatusClosed    WalletStatus = "closed"
)

// TxType mirrors spec §3's WalletTransaction.type enum.
type TxType string

const (
	TxDeposit          TxType = "deposit"
	TxWithdrawal       TxType = "withdrawal"
	TxTransfer         TxType = "transfer"
	TxJobPayment       TxType = "job_payment"
	TxJobRefund        TxType = "job_refund"
	TxPlatformFee      TxType = "platform_fee"
	TxServicePayment   TxType = "service_payment"
	TxServiceDelivery  TxType = "service_delivery"
	TxRefund           TxType = "refund"
	TxBonus            TxType = "bonus"
	TxReferral         TxType = "referral"
	TxPenalty          TxType = "penalty"
)

// fundingTypes are the transaction types that count toward
// total_deposits when credited, per spec §4.1.
var fundingTypes = map[TxType]bool{
	TxDeposit: true,
}

// withdrawalTypes count toward total_withdrawals when debited.
var withdrawalTypes = map[TxType]bool{
	TxWithdrawal: true,
	TxTransfer:   true,
}

// TxStatus mirrors spec §3's WalletTransaction.status enum.
type TxStatus string

const (
	TxStatusPending    TxStatus = "pending"
	TxStatusProcessing TxStatus = "processing"
	TxStatusCompleted  TxStatus = "completed"
	TxStatusFailed     TxStatus = "failed"
	TxStatusCancelled  TxStatus = "cancelled"
	TxStatusReversed   TxStatus = "reversed"
)

// HoldStatus mirrors spec §3's WalletHold.status enum.
type HoldStatus string

const (
	HoldActive   HoldStatus = "active"
	HoldReleased HoldStatus = "released"
	HoldExpired  HoldStatus = "expired"
)

// Wallet is the per-user balance record, spec §3.
type Wallet struct {
	ID                uuid.UUID
	OwnerID           uuid.UUID
	Balance           int64
	AvailableBalance  int64
	TotalDeposits     int64
	TotalWithdrawals  int64
	Status            WalletStatus
	DailyLimit        *int64
	MonthlyLimit      *int64
	DailySpent        int64
	MonthlySpent      int64
	DailyResetAt      time.Time
	MonthlyResetAt    time.Time
	IdentityVerified  bool
	LastActivityAt    *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Transaction is an append-only ledger entry, spec §3.
type Transaction struct {
	ID                 uuid.UUID
	WalletID           uuid.UUID
	UserID             uuid.UUID
	Type               TxType
	Amount             int64
	BalanceBefore      int64
	BalanceAfter       int64
	Status             TxStatus
	Reference          string
	ExternalReference  *string
	Description        string
	JobID              *uuid.UUID
	OrderID            *uuid.UUID
	RecipientWalletID  *uuid.UUID
	FeeAmount          *int64
	Metadata           map[string]interface{}
	CreatedAt          time.Time
}

// Hold is a reservation against a wallet's available balance, spec §3.
type Hold struct {
	ID         uuid.UUID
	WalletID   uuid.UUID
	JobID      *uuid.UUID
	OrderID    *uuid.UUID
	Amount     int64
	Reason     string
	Status     HoldStatus
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	ReleasedAt *time.Time
}
