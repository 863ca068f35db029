package model

import "time"

// TokenStatus is the lifecycle state of a queue token.
type TokenStatus string

const (
	TokenWaiting TokenStatus = "WAITING"
	TokenActive  TokenStatus = "ACTIVE"
	TokenExpired TokenStatus = "EXPIRED"
	TokenUsed    TokenStatus = "USED"
)

// Terminal reports whether no further transition is possible.
func (s TokenStatus) Terminal() bool {
	return s == TokenExpired || s == TokenUsed
}

// CanTransition reports whether from -> to is a legal move. Transitions are
// monotonic: nothing leaves EXPIRED or USED and ACTIVE never goes back to
// WAITING.
func CanTransition(from, to TokenStatus) bool {
	switch from {
	case TokenWaiting:
		return to == TokenActive || to == TokenExpired
	case TokenActive:
		return to == TokenExpired || to == TokenUsed
	default:
		return false
	}
}

// QueueToken is a user's place in the admission queue.
//
// Fields:
//  ID          - primary key identifier.
//  Token       - opaque value handed to the client.
//  UserID      - owner of the token.
//  Status      - WAITING, ACTIVE, EXPIRED or USED.
//  Position    - queue position recorded at issue time, cleared on activation.
//  IssuedAt    - issue time; ties are broken by ID.
//  ActivatedAt - set when the token becomes ACTIVE.
//  ExpiresAt   - end of the active window.
//  Version     - optimistic concurrency counter bumped by every transition.
type QueueToken struct {
	ID          uint64      `gorm:"primaryKey;autoIncrement"`                                         // queue_tokens.id
	Token       string      `gorm:"size:64;not null;uniqueIndex:uq_queue_tokens_token"`               // queue_tokens.token
	UserID      string      `gorm:"size:64;not null;index:idx_queue_tokens_user"`                     // queue_tokens.user_id
	Status      TokenStatus `gorm:"size:16;not null;index:idx_queue_tokens_status_issued,priority:1"` // queue_tokens.status
	Position    *int64                                                                                // queue_tokens.position (nullable)
	IssuedAt    time.Time   `gorm:"not null;index:idx_queue_tokens_status_issued,priority:2"`         // queue_tokens.issued_at
	ActivatedAt *time.Time                                                                            // queue_tokens.activated_at (nullable)
	ExpiresAt   *time.Time  `gorm:"index:idx_queue_tokens_expires"`                                   // queue_tokens.expires_at (nullable)
	Version     uint32      `gorm:"not null;default:0"`                                               // queue_tokens.version
}

func (QueueToken) TableName() string { return "queue_tokens" }
