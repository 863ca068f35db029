package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/iliyamo/concert-ticketing/internal/model"
)

// WalletRepo stores wallets and their ledger entries. Methods run on
// whatever handle the repo was built with; inside WithTx that is the
// transaction.
type WalletRepo struct {
	db *gorm.DB
}

// NewWalletRepo returns a new WalletRepo bound to the given database.
func NewWalletRepo(db *gorm.DB) *WalletRepo { return &WalletRepo{db: db} }

// WithTx runs fn in one transaction. fn must use the repo it is handed; other
// repositories join the transaction when called with the ctx fn receives.
func (r *WalletRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx *WalletRepo) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(contextWithTx(ctx, tx), &WalletRepo{db: tx})
	})
}

// FindEntry returns the ledger entry applied for (userID, key) or ErrNotFound.
func (r *WalletRepo) FindEntry(ctx context.Context, userID, key string) (*model.WalletLedgerEntry, error) {
	var entry model.WalletLedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		Take(&entry).Error
	if err != nil {
		return nil, wrapError("find ledger entry", err)
	}
	return &entry, nil
}

// FindWallet reads a wallet without locking it.
func (r *WalletRepo) FindWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	var w model.Wallet
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&w).Error; err != nil {
		return nil, wrapError("find wallet", err)
	}
	return &w, nil
}

// EnsureWallet creates an empty wallet unless one exists.
func (r *WalletRepo) EnsureWallet(ctx context.Context, userID string) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.Wallet{UserID: userID}).Error
	return wrapError("ensure wallet", err)
}

// LockWallet reads a wallet with SELECT ... FOR UPDATE. Drivers without row
// locks (SQLite) drop the clause and rely on their single writer.
func (r *WalletRepo) LockWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	var w model.Wallet
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Take(&w).Error
	if err != nil {
		return nil, wrapError("lock wallet", err)
	}
	return &w, nil
}

// UpdateBalance writes balance if the wallet is still at the version it was
// read with and bumps the version.
func (r *WalletRepo) UpdateBalance(ctx context.Context, w *model.Wallet, balance int64) error {
	res := r.db.WithContext(ctx).Model(&model.Wallet{}).
		Where("user_id = ? AND version = ?", w.UserID, w.Version).
		Updates(map[string]any{
			"balance":    balance,
			"version":    gorm.Expr("version + 1"),
			"updated_at": r.db.NowFunc(),
		})
	if res.Error != nil {
		return wrapError("update balance", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleVersion
	}
	w.Balance = balance
	w.Version++
	return nil
}

// InsertEntry appends a ledger entry. A repeated (user, key) returns ErrDuplicate.
func (r *WalletRepo) InsertEntry(ctx context.Context, entry *model.WalletLedgerEntry) error {
	return wrapError("insert ledger entry", r.db.WithContext(ctx).Create(entry).Error)
}

// ListEntries returns the user's newest entries first.
func (r *WalletRepo) ListEntries(ctx context.Context, userID string, limit int) ([]model.WalletLedgerEntry, error) {
	var rows []model.WalletLedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, wrapError("list ledger entries", err)
}
