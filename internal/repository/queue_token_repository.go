package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/iliyamo/concert-ticketing/internal/model"
)

// QueueTokenRepo stores admission queue tokens. Status changes only go
// through Transition, which is a compare-and-set on (id, status, version).
type QueueTokenRepo struct {
	db *gorm.DB
}

// NewQueueTokenRepo returns a new QueueTokenRepo bound to the given database.
func NewQueueTokenRepo(db *gorm.DB) *QueueTokenRepo { return &QueueTokenRepo{db: db} }

// Create inserts a new token and fills in its ID.
func (r *QueueTokenRepo) Create(ctx context.Context, token *model.QueueToken) error {
	return wrapError("create queue token", r.db.WithContext(ctx).Create(token).Error)
}

// FindByToken looks a token up by its opaque value.
func (r *QueueTokenRepo) FindByToken(ctx context.Context, token string) (*model.QueueToken, error) {
	var row model.QueueToken
	err := r.db.WithContext(ctx).Where("token = ?", token).Take(&row).Error
	if err != nil {
		return nil, wrapError("find queue token", err)
	}
	return &row, nil
}

// FindOpenByUser returns the user's newest WAITING or ACTIVE token.
func (r *QueueTokenRepo) FindOpenByUser(ctx context.Context, userID string) (*model.QueueToken, error) {
	var row model.QueueToken
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []model.TokenStatus{model.TokenWaiting, model.TokenActive}).
		Order("id DESC").
		Take(&row).Error
	if err != nil {
		return nil, wrapError("find open queue token", err)
	}
	return &row, nil
}

// CountByStatus counts tokens in status.
func (r *QueueTokenRepo) CountByStatus(ctx context.Context, status model.TokenStatus) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.QueueToken{}).Where("status = ?", status).Count(&n).Error
	return n, wrapError("count queue tokens", err)
}

// CountWaitingAhead counts WAITING tokens ordered before token by
// (issued_at, id).
func (r *QueueTokenRepo) CountWaitingAhead(ctx context.Context, token *model.QueueToken) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.QueueToken{}).
		Where("status = ?", model.TokenWaiting).
		Where("issued_at < ? OR (issued_at = ? AND id < ?)", token.IssuedAt, token.IssuedAt, token.ID).
		Count(&n).Error
	return n, wrapError("count waiting ahead", err)
}

// OldestWaiting returns up to limit WAITING tokens, oldest first.
func (r *QueueTokenRepo) OldestWaiting(ctx context.Context, limit int) ([]model.QueueToken, error) {
	var rows []model.QueueToken
	err := r.db.WithContext(ctx).
		Where("status = ?", model.TokenWaiting).
		Order("issued_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, wrapError("list waiting tokens", err)
}

// ExpiredActive returns up to limit ACTIVE tokens whose window ended before now.
func (r *QueueTokenRepo) ExpiredActive(ctx context.Context, now time.Time, limit int) ([]model.QueueToken, error) {
	var rows []model.QueueToken
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", model.TokenActive, now).
		Order("expires_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, wrapError("list expired tokens", err)
}

// Transition moves token to status `to` if it is still at the status and
// version it was read with. ACTIVE transitions stamp activatedAt/expiresAt
// and clear the position. On success token reflects the stored row; when
// another writer won the race it returns ErrStaleVersion.
func (r *QueueTokenRepo) Transition(ctx context.Context, token *model.QueueToken, to model.TokenStatus, at time.Time, expiresAt *time.Time) error {
	updates := map[string]any{
		"status":  to,
		"version": gorm.Expr("version + 1"),
	}
	if to == model.TokenActive {
		updates["activated_at"] = at
		updates["expires_at"] = expiresAt
		updates["position"] = nil
	}
	res := r.db.WithContext(ctx).Model(&model.QueueToken{}).
		Where("id = ? AND status = ? AND version = ?", token.ID, token.Status, token.Version).
		Updates(updates)
	if res.Error != nil {
		return wrapError("transition queue token", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleVersion
	}
	token.Status = to
	token.Version++
	if to == model.TokenActive {
		token.ActivatedAt = &at
		token.ExpiresAt = expiresAt
		token.Position = nil
	}
	return nil
}
