// Package admission meters how many users may be inside the purchase flow at
// once. Users take a queue token, wait their turn and are activated in batches
// by a background job; only an ACTIVE, unexpired token owned by the caller
// grants access to seat operations.
package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/apperr"
	"github.com/iliyamo/concert-ticketing/internal/model"
	"github.com/iliyamo/concert-ticketing/internal/repository"
)

const (
	tokenKeyPrefix = "queue:token:"
	activationKey  = "lock:queue:activation"
	issueKeyPrefix = "lock:queue:issue:"

	activationLeaseTTL = 30 * time.Second
	issueLeaseTTL      = 5 * time.Second
	sweepBatch         = 500
)

// TokenKey returns the Redis key mapping an active token to its owner.
func TokenKey(token string) string { return tokenKeyPrefix + token }

// Locker runs fn while holding a cluster-wide lease on key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Config sets the admission limits.
type Config struct {
	MaxActiveUsers int
	TokenTTL       time.Duration
}

// TokenInfo is the caller-facing view of a token.
type TokenInfo struct {
	Token         string
	UserID        string
	Status        model.TokenStatus
	Position      int64 // WAITING tokens ahead of this one; 0 otherwise
	ExpiresAt     *time.Time
	EstimatedWait time.Duration
}

// Manager owns the queue token lifecycle.
type Manager struct {
	tokens *repository.QueueTokenRepo
	rdb    redis.UniversalClient
	locks  Locker
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewManager returns a Manager. A nil logger disables logging.
func NewManager(tokens *repository.QueueTokenRepo, rdb redis.UniversalClient, locks Locker, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxActiveUsers < 1 {
		cfg.MaxActiveUsers = 1
	}
	return &Manager{
		tokens: tokens,
		rdb:    rdb,
		locks:  locks,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Issue enrolls userID in the queue. A user who already holds a WAITING or
// ACTIVE token gets that token back instead of a second one.
func (m *Manager) Issue(ctx context.Context, userID string) (TokenInfo, error) {
	const op = "admission.Issue"
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return TokenInfo{}, apperr.Wrap(op, apperr.ErrInvalidUser)
	}

	var info TokenInfo
	err := m.locks.WithLock(ctx, issueKeyPrefix+userID, issueLeaseTTL, func(ctx context.Context) error {
		existing, err := m.tokens.FindOpenByUser(ctx, userID)
		switch {
		case err == nil && existing.Status == model.TokenActive && !m.live(existing):
			// past its expiry but not yet swept; retire it and queue afresh
			if err := m.tokens.Transition(ctx, existing, model.TokenExpired, m.now(), nil); err != nil && !errors.Is(err, repository.ErrStaleVersion) {
				return err
			}
			m.dropKey(ctx, existing.Token)
		case err == nil:
			info, err = m.describe(ctx, existing)
			return err
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		ahead, err := m.tokens.CountByStatus(ctx, model.TokenWaiting)
		if err != nil {
			return err
		}
		tok := &model.QueueToken{
			Token:    uuid.NewString(),
			UserID:   userID,
			Status:   model.TokenWaiting,
			Position: &ahead,
			IssuedAt: m.now(),
		}
		if err := m.tokens.Create(ctx, tok); err != nil {
			return err
		}
		m.logger.Info("queue token issued",
			zap.String("user_id", userID),
			zap.String("token", tok.Token),
			zap.Int64("position", ahead))
		info = m.waitingInfo(tok, ahead)
		return nil
	})
	return info, apperr.Wrap(op, err)
}

// Status returns the token's current state with a freshly computed position.
func (m *Manager) Status(ctx context.Context, token string) (TokenInfo, error) {
	const op = "admission.Status"
	tok, err := m.find(ctx, token)
	if err != nil {
		return TokenInfo{}, apperr.Wrap(op, err)
	}
	info, err := m.describe(ctx, tok)
	return info, apperr.Wrap(op, err)
}

// ActivateBatch admits the oldest WAITING tokens into the free ACTIVE slots.
// It runs under a cluster lease so two instances never both see the same free
// slots, which keeps ACTIVE tokens at or below MaxActiveUsers.
func (m *Manager) ActivateBatch(ctx context.Context) (int, error) {
	const op = "admission.ActivateBatch"
	activated := 0
	err := m.locks.WithLock(ctx, activationKey, activationLeaseTTL, func(ctx context.Context) error {
		active, err := m.tokens.CountByStatus(ctx, model.TokenActive)
		if err != nil {
			return err
		}
		free := m.cfg.MaxActiveUsers - int(active)
		if free <= 0 {
			return nil
		}
		waiting, err := m.tokens.OldestWaiting(ctx, free)
		if err != nil {
			return err
		}
		for i := range waiting {
			tok := &waiting[i]
			now := m.now()
			expiresAt := now.Add(m.cfg.TokenTTL)
			// the key goes first: an ACTIVE row without its key could never
			// be validated and would hold a slot until it expired
			if err := m.rdb.Set(ctx, TokenKey(tok.Token), tok.UserID, m.cfg.TokenTTL).Err(); err != nil {
				return fmt.Errorf("write key for token %s: %w", tok.Token, err)
			}
			err := m.tokens.Transition(ctx, tok, model.TokenActive, now, &expiresAt)
			if err != nil {
				m.dropKey(ctx, tok.Token)
			}
			if errors.Is(err, repository.ErrStaleVersion) {
				// expired or withdrawn since it was read
				continue
			}
			if err != nil {
				return err
			}
			activated++
		}
		return nil
	})
	if activated > 0 {
		m.logger.Info("queue tokens activated", zap.Int("count", activated))
	}
	return activated, apperr.Wrap(op, err)
}

// SweepExpired moves ACTIVE tokens past their expiry to EXPIRED, freeing
// their slots for the next batch.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	const op = "admission.SweepExpired"
	swept := 0
	err := m.locks.WithLock(ctx, activationKey, activationLeaseTTL, func(ctx context.Context) error {
		stale, err := m.tokens.ExpiredActive(ctx, m.now(), sweepBatch)
		if err != nil {
			return err
		}
		for i := range stale {
			tok := &stale[i]
			err := m.tokens.Transition(ctx, tok, model.TokenExpired, m.now(), nil)
			if errors.Is(err, repository.ErrStaleVersion) {
				continue
			}
			if err != nil {
				return err
			}
			swept++
			m.dropKey(ctx, tok.Token)
		}
		return nil
	})
	if swept > 0 {
		m.logger.Info("queue tokens expired", zap.Int("count", swept))
	}
	return swept, apperr.Wrap(op, err)
}

// IsActive reports whether token is ACTIVE and inside its window.
func (m *Manager) IsActive(ctx context.Context, token string) (bool, error) {
	tok, err := m.find(ctx, token)
	if apperr.KindOf(err) == apperr.KindTokenNotFound {
		return false, nil
	}
	if err != nil {
		return false, apperr.Wrap("admission.IsActive", err)
	}
	return m.live(tok), nil
}

// Expire ends a WAITING or ACTIVE token. Expiring a finished token is a no-op.
func (m *Manager) Expire(ctx context.Context, token string) error {
	return apperr.Wrap("admission.Expire", m.finish(ctx, token, model.TokenExpired))
}

// MarkUsed records that an ACTIVE token completed a purchase.
func (m *Manager) MarkUsed(ctx context.Context, token string) error {
	return apperr.Wrap("admission.MarkUsed", m.finish(ctx, token, model.TokenUsed))
}

// Validate returns ErrForbiddenQueueAccess unless token is ACTIVE, unexpired,
// owned by userID and still mapped to userID in Redis.
func (m *Manager) Validate(ctx context.Context, token, userID string) error {
	const op = "admission.Validate"
	if strings.TrimSpace(token) == "" || strings.TrimSpace(userID) == "" {
		return apperr.Wrap(op, apperr.ErrForbiddenQueueAccess)
	}
	owner, err := m.rdb.Get(ctx, TokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return apperr.Wrap(op, apperr.ErrForbiddenQueueAccess)
	}
	if err != nil {
		return apperr.Wrap(op, fmt.Errorf("read token key: %w", err))
	}
	if owner != userID {
		return apperr.Wrap(op, apperr.ErrForbiddenQueueAccess)
	}
	tok, err := m.find(ctx, token)
	if apperr.KindOf(err) == apperr.KindTokenNotFound {
		return apperr.Wrap(op, apperr.ErrForbiddenQueueAccess)
	}
	if err != nil {
		return apperr.Wrap(op, err)
	}
	if tok.UserID != userID || !m.live(tok) {
		return apperr.Wrap(op, apperr.ErrForbiddenQueueAccess)
	}
	return nil
}

// UserOf returns the owner of token.
func (m *Manager) UserOf(ctx context.Context, token string) (string, error) {
	owner, err := m.rdb.Get(ctx, TokenKey(token)).Result()
	if err == nil {
		return owner, nil
	}
	if !errors.Is(err, redis.Nil) {
		m.logger.Warn("queue token key read failed", zap.String("token", token), zap.Error(err))
	}
	tok, err := m.find(ctx, token)
	if err != nil {
		return "", apperr.Wrap("admission.UserOf", err)
	}
	return tok.UserID, nil
}

func (m *Manager) finish(ctx context.Context, token string, to model.TokenStatus) error {
	for attempt := 0; attempt < 3; attempt++ {
		tok, err := m.find(ctx, token)
		if err != nil {
			return err
		}
		if tok.Status == to || tok.Status.Terminal() {
			m.dropKey(ctx, token)
			return nil
		}
		if !model.CanTransition(tok.Status, to) {
			return fmt.Errorf("token is %s: %w", tok.Status, apperr.ErrForbiddenQueueAccess)
		}
		err = m.tokens.Transition(ctx, tok, to, m.now(), nil)
		if errors.Is(err, repository.ErrStaleVersion) {
			continue
		}
		if err != nil {
			return err
		}
		m.dropKey(ctx, token)
		return nil
	}
	return apperr.ErrLockUnavailable
}

func (m *Manager) find(ctx context.Context, token string) (*model.QueueToken, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperr.ErrTokenNotFound
	}
	tok, err := m.tokens.FindByToken(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.ErrTokenNotFound
	}
	return tok, err
}

func (m *Manager) live(tok *model.QueueToken) bool {
	return tok.Status == model.TokenActive && tok.ExpiresAt != nil && m.now().Before(*tok.ExpiresAt)
}

func (m *Manager) dropKey(ctx context.Context, token string) {
	if err := m.rdb.Del(ctx, TokenKey(token)).Err(); err != nil {
		m.logger.Warn("queue token key delete failed", zap.String("token", token), zap.Error(err))
	}
}

func (m *Manager) describe(ctx context.Context, tok *model.QueueToken) (TokenInfo, error) {
	if tok.Status != model.TokenWaiting {
		return TokenInfo{
			Token:     tok.Token,
			UserID:    tok.UserID,
			Status:    tok.Status,
			ExpiresAt: tok.ExpiresAt,
		}, nil
	}
	ahead, err := m.tokens.CountWaitingAhead(ctx, tok)
	if err != nil {
		return TokenInfo{}, err
	}
	return m.waitingInfo(tok, ahead), nil
}

func (m *Manager) waitingInfo(tok *model.QueueToken, ahead int64) TokenInfo {
	batches := ahead/int64(m.cfg.MaxActiveUsers) + 1
	return TokenInfo{
		Token:         tok.Token,
		UserID:        tok.UserID,
		Status:        tok.Status,
		Position:      ahead,
		EstimatedWait: time.Duration(batches) * m.cfg.TokenTTL,
	}
}
