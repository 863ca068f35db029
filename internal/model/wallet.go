package model

import (
	"time"

	"gorm.io/datatypes"
)

// LedgerKind distinguishes credits from debits in the wallet ledger.
type LedgerKind string

const (
	LedgerCharge LedgerKind = "CHARGE"
	LedgerPay    LedgerKind = "PAY"
)

// Wallet holds a user's balance in minor currency units. Balance never goes
// negative.
type Wallet struct {
	UserID    string    `gorm:"primaryKey;size:64"` // wallets.user_id
	Balance   int64     `gorm:"not null;default:0"` // wallets.balance
	Version   uint64    `gorm:"not null;default:0"` // wallets.version
	CreatedAt time.Time                             // wallets.created_at
	UpdatedAt time.Time                             // wallets.updated_at
}

func (Wallet) TableName() string { return "wallets" }

// WalletLedgerEntry is one applied money movement. At most one entry exists
// per (UserID, IdempotencyKey).
type WalletLedgerEntry struct {
	ID             uint64         `gorm:"primaryKey;autoIncrement"`                                       // wallet_ledger.id
	UserID         string         `gorm:"size:64;not null;uniqueIndex:uq_wallet_ledger_idem,priority:1"`  // wallet_ledger.user_id
	Amount         int64          `gorm:"not null"`                                                       // wallet_ledger.amount
	Kind           LedgerKind     `gorm:"size:16;not null"`                                               // wallet_ledger.kind
	IdempotencyKey string         `gorm:"size:128;not null;uniqueIndex:uq_wallet_ledger_idem,priority:2"` // wallet_ledger.idempotency_key
	BalanceAfter   int64          `gorm:"not null"`                                                       // wallet_ledger.balance_after
	Metadata       datatypes.JSON                                                                         // wallet_ledger.metadata (nullable)
	CreatedAt      time.Time      `gorm:"index:idx_wallet_ledger_created"`                                // wallet_ledger.created_at
}

func (WalletLedgerEntry) TableName() string { return "wallet_ledger" }
