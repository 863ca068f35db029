package repository

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// contextWithTx marks ctx as running inside tx. Repositories handed that ctx
// join the transaction instead of using their own handle.
func contextWithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// conn returns the transaction carried by ctx, or db when there is none.
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}
