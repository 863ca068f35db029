// Package ranking keeps the sales leaderboards fed by reservation events:
// schedules by recent sale rate and schedules by how fast they sold out.
// Both are Redis sorted sets updated on write and read as-is.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/catalog"
	"github.com/iliyamo/concert-ticketing/internal/queue"
)

const (
	salesKeyPrefix = "ranking:sales:"
	statsKeyPrefix = "stats:schedule:"
	velocityKey    = "ranking:velocity:current"
	soldOutKey     = "ranking:soldout:fastest"

	defaultWindow = 5 * time.Minute
	maxLimit      = 100
)

// trackScript records one sale. The sales set is keyed by reservation id, so
// a redelivered event changes nothing. Returns {applied, soldCount}.
//
// KEYS: sales zset, stats hash, velocity zset, sold-out zset
// ARGV: reservation id, now ms, window ms, total seats, schedule id
var trackScript = redis.NewScript(`
local added = redis.call('ZADD', KEYS[1], 'NX', ARGV[2], ARGV[1])
if added == 0 then
  return {0, tonumber(redis.call('HGET', KEYS[2], 'soldCount') or '0')}
end
local now = tonumber(ARGV[2])
redis.call('HSETNX', KEYS[2], 'startTime', ARGV[2])
local sold = redis.call('HINCRBY', KEYS[2], 'soldCount', 1)
redis.call('HSET', KEYS[2], 'lastSaleTime', ARGV[2])
local window = tonumber(ARGV[3])
local recent = redis.call('ZCOUNT', KEYS[1], tostring(now - window), '+inf')
local velocity = recent * 60000 / window
redis.call('ZADD', KEYS[3], tostring(velocity), ARGV[5])
local total = tonumber(ARGV[4])
if total > 0 and sold >= total and redis.call('HSETNX', KEYS[2], 'soldOutTime', ARGV[2]) == 1 then
  local start = tonumber(redis.call('HGET', KEYS[2], 'startTime'))
  local secs = math.floor((now - start) / 1000)
  redis.call('HSET', KEYS[2], 'soldOutSeconds', tostring(secs))
  redis.call('ZADD', KEYS[4], tostring(secs), ARGV[5])
end
return {1, sold}
`)

// Schedules resolves seat counts for sold-out detection.
type Schedules interface {
	ScheduleOf(ctx context.Context, date string) (catalog.Schedule, error)
}

// Entry is one leaderboard row.
type Entry struct {
	Rank           int     `json:"rank"`
	ScheduleID     string  `json:"schedule_id"`
	Score          float64 `json:"score"`
	SoldCount      int64   `json:"sold_count"`
	SoldOutSeconds *int64  `json:"sold_out_seconds,omitempty"`
}

// Tracker maintains and reads the leaderboards.
type Tracker struct {
	rdb       redis.UniversalClient
	schedules Schedules
	window    time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewTracker returns a Tracker measuring velocity over window.
func NewTracker(rdb redis.UniversalClient, schedules Schedules, window time.Duration, logger *zap.Logger) *Tracker {
	if window <= 0 {
		window = defaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{rdb: rdb, schedules: schedules, window: window, logger: logger, now: time.Now}
}

// SetClock overrides the time source.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Track folds one confirmed sale into the leaderboards. It reports false for
// an event already counted.
func (t *Tracker) Track(ctx context.Context, ev queue.ReservationConfirmedEvent) (bool, error) {
	if err := ev.Validate(); err != nil {
		return false, err
	}
	sched, err := t.schedules.ScheduleOf(ctx, ev.ConcertDate)
	if err != nil {
		return false, fmt.Errorf("schedule of %s: %w", ev.ConcertDate, err)
	}
	at := ev.ConfirmedAt
	if at.IsZero() {
		at = t.now()
	}
	keys := []string{salesKeyPrefix + ev.ScheduleID, statsKeyPrefix + ev.ScheduleID, velocityKey, soldOutKey}
	res, err := trackScript.Run(ctx, t.rdb, keys,
		strconv.FormatUint(ev.ReservationID, 10),
		at.UnixMilli(),
		t.window.Milliseconds(),
		sched.TotalSeats,
		ev.ScheduleID,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("track sale: %w", err)
	}
	applied := res[0] == 1
	if applied {
		t.logger.Debug("sale tracked",
			zap.String("schedule_id", ev.ScheduleID),
			zap.Uint64("reservation_id", ev.ReservationID),
			zap.Int64("sold_count", res[1]))
	}
	return applied, nil
}

// TopByVelocity returns schedules with the highest recent sales per minute.
func (t *Tracker) TopByVelocity(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := t.rdb.ZRevRangeWithScores(ctx, velocityKey, 0, int64(clampLimit(limit)-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read velocity ranking: %w", err)
	}
	return t.entries(ctx, rows)
}

// TopBySoldOut returns sold-out schedules, quickest first.
func (t *Tracker) TopBySoldOut(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := t.rdb.ZRangeWithScores(ctx, soldOutKey, 0, int64(clampLimit(limit)-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read sold-out ranking: %w", err)
	}
	return t.entries(ctx, rows)
}

func (t *Tracker) entries(ctx context.Context, rows []redis.Z) ([]Entry, error) {
	if len(rows) == 0 {
		return []Entry{}, nil
	}
	pipe := t.rdb.Pipeline()
	stats := make([]*redis.SliceCmd, len(rows))
	for i, z := range rows {
		stats[i] = pipe.HMGet(ctx, statsKeyPrefix+member(z), "soldCount", "soldOutSeconds")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read schedule stats: %w", err)
	}
	out := make([]Entry, len(rows))
	for i, z := range rows {
		e := Entry{Rank: i + 1, ScheduleID: member(z), Score: z.Score}
		vals := stats[i].Val()
		if len(vals) == 2 {
			e.SoldCount = parseInt(vals[0])
			if vals[1] != nil {
				secs := parseInt(vals[1])
				e.SoldOutSeconds = &secs
			}
		}
		out[i] = e
	}
	return out, nil
}

func member(z redis.Z) string {
	s, _ := z.Member.(string)
	return s
}

func parseInt(v any) int64 {
	s, _ := v.(string)
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 10
	}
	return min(limit, maxLimit)
}

// Handle adapts Track to the queue consumer. Duplicates are acknowledged.
func (t *Tracker) Handle(ctx context.Context, ev queue.ReservationConfirmedEvent) error {
	_, err := t.Track(ctx, ev)
	return err
}
