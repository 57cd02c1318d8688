package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PeriodStatus string

const (
	PeriodNotStarted PeriodStatus = "NOT_STARTED"
	PeriodOnGoing    PeriodStatus = "ON_GOING"
	PeriodPaused     PeriodStatus = "PAUSED"
	PeriodEnded      PeriodStatus = "ENDED"
)

const (
	EconomyTrading = "trading"
	EconomyRally   = "rally"
)

// Economies lists every economy that owns its own period timeline.
var Economies = []string{EconomyTrading, EconomyRally}

// Period is one time-boxed phase of an economy. At most one row per economy
// may be ON_GOING or PAUSED at a time (enforced by a partial unique index).
type Period struct {
	bun.BaseModel `bun:"table:periods,alias:p"`

	ID              int64        `bun:"id,pk,autoincrement"`
	Economy         string       `bun:"economy,notnull"`
	Label           string       `bun:"label,notnull"`
	DurationMinutes int          `bun:"duration_minutes,notnull"`
	Status          PeriodStatus `bun:"status,notnull,default:'NOT_STARTED'"`

	StartTime   *time.Time    `bun:"start_time"`
	EndTime     *time.Time    `bun:"end_time"`
	PausedTime  *time.Time    `bun:"paused_time"`
	TotalPaused time.Duration `bun:"total_paused,notnull,default:0"`

	// Optimistic concurrency guard for lifecycle transitions.
	Version int64 `bun:"version,notnull,default:0"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// Remaining reports how much wall-clock time is left at now. Zero when the
// period has no end time or has already run out. While paused the remaining
// time is frozen at the value it had at the pause instant.
func (p *Period) Remaining(now time.Time) time.Duration {
	if p.EndTime == nil {
		return 0
	}
	ref := now
	if p.Status == PeriodPaused && p.PausedTime != nil {
		ref = *p.PausedTime
	}
	left := p.EndTime.Sub(ref)
	if left < 0 {
		return 0
	}
	return left
}

// Expired reports whether an ON_GOING period has silently run past its end
// time without an explicit end call.
func (p *Period) Expired(now time.Time) bool {
	return p.Status == PeriodOnGoing && p.EndTime != nil && !p.EndTime.After(now)
}
