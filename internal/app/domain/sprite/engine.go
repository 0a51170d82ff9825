// Package sprite models a fostered animal's virtual pet and the engine that
// ages it: satiation decays one point per elapsed minute, the activity state
// follows the satiation threshold, and per-day activity timers reset when a
// local midnight is crossed.
//
// The engine is pure. Callers load a state, apply the engine and persist the
// result inside one per-sprite transaction.
package sprite

import (
	"errors"
	"time"
)

// Feed economics observed in production.
const (
	DefaultFeedCost  int64 = 1
	DefaultFeedBoost       = 5
)

var (
	// ErrInsufficientFunds is returned by Feed when the wallet cannot cover the cost.
	ErrInsufficientFunds = errors.New("not enough tokens to feed the sprite")
	// ErrStaleClock marks a decay request whose instant precedes the last
	// observation. It is never returned by the engine; callers log it.
	ErrStaleClock = errors.New("observation instant precedes last observation")
)

// Wallet is the token balance a feed is paid from. Debit reports whether the
// amount was taken.
type Wallet interface {
	Balance() int64
	Debit(amount int64) bool
}

// Engine applies decay and feeding to sprite states.
type Engine struct {
	loc       *time.Location
	feedCost  int64
	feedBoost int
}

// Option customises an Engine.
type Option func(*Engine)

// WithLocation sets the zone whose midnights reset the day timers.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithFeedCost sets the token price of one feed.
func WithFeedCost(cost int64) Option {
	return func(e *Engine) {
		if cost > 0 {
			e.feedCost = cost
		}
	}
}

// WithFeedBoost sets the satiation gained per feed.
func WithFeedBoost(boost int) Option {
	return func(e *Engine) {
		if boost > 0 {
			e.feedBoost = boost
		}
	}
}

// NewEngine returns an engine using UTC midnights and the default economics
// unless overridden.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		loc:       time.UTC,
		feedCost:  DefaultFeedCost,
		feedBoost: DefaultFeedBoost,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Location returns the reference time zone.
func (e *Engine) Location() *time.Location { return e.loc }

// FeedCost returns the token price of one feed.
func (e *Engine) FeedCost() int64 { return e.feedCost }

// DecayReport describes what ApplyDecay did.
type DecayReport struct {
	// ElapsedMinutes is the whole-minute span since the last observation.
	ElapsedMinutes int
	// TimerMinutes is the span credited to the day timers; it differs from
	// ElapsedMinutes only when a midnight was crossed.
	TimerMinutes int
	DayReset     bool
	// Stale is set when now preceded the last observation; Skew is by how much.
	Stale bool
	Skew  time.Duration
	From  Activity
	To    Activity
}

// Transitioned reports whether the activity state changed.
func (r DecayReport) Transitioned() bool { return r.From != r.To }

// ApplyDecay brings st up to date as of now.
//
// Satiation decays over the full elapsed span. When now falls on a later
// local date than the last observation, both day timers restart at zero and
// only the minutes since now's midnight are credited, to the state held
// before this update.
func (e *Engine) ApplyDecay(st *State, now time.Time) DecayReport {
	prior := st.Activity
	if !prior.Valid() {
		prior = DeriveActivity(st.Satiation)
	}
	report := DecayReport{From: prior, To: prior}

	if !now.After(st.LastObservedAt) {
		if now.Before(st.LastObservedAt) {
			report.Stale = true
			report.Skew = st.LastObservedAt.Sub(now)
		}
		return report
	}

	elapsed := wholeMinutes(now.Sub(st.LastObservedAt))
	report.ElapsedMinutes = elapsed
	report.TimerMinutes = elapsed

	st.Satiation = clamp(st.Satiation - elapsed)

	if midnight, crossed := e.crossedMidnight(st.LastObservedAt, now); crossed {
		st.StandingMinutesToday = 0
		st.RunningMinutesToday = 0
		report.DayReset = true
		report.TimerMinutes = wholeMinutes(now.Sub(midnight))
	}

	switch prior {
	case Running:
		st.RunningMinutesToday += report.TimerMinutes
	default:
		st.StandingMinutesToday += report.TimerMinutes
	}

	st.Activity = DeriveActivity(st.Satiation)
	st.LastObservedAt = now
	report.To = st.Activity
	return report
}

// FeedResult is returned by a successful feed.
type FeedResult struct {
	Satiation       int
	Activity        Activity
	TokensRemaining int64
	Cost            int64
	From            Activity
}

// Feed charges the wallet and boosts satiation, capped at MaxSatiation. On
// error neither st nor the wallet is modified. Feed does not decay; callers
// apply decay first.
func (e *Engine) Feed(st *State, w Wallet) (FeedResult, error) {
	if w == nil || w.Balance() < e.feedCost {
		return FeedResult{}, ErrInsufficientFunds
	}
	if !w.Debit(e.feedCost) {
		return FeedResult{}, ErrInsufficientFunds
	}

	from := st.Activity
	st.Satiation = clamp(st.Satiation + e.feedBoost)
	st.Activity = DeriveActivity(st.Satiation)

	return FeedResult{
		Satiation:       st.Satiation,
		Activity:        st.Activity,
		TokensRemaining: w.Balance(),
		Cost:            e.feedCost,
		From:            from,
	}, nil
}

// crossedMidnight reports whether now is on a later local date than last and
// returns the local midnight starting now's date.
func (e *Engine) crossedMidnight(last, now time.Time) (time.Time, bool) {
	ly, lm, ld := last.In(e.loc).Date()
	local := now.In(e.loc)
	ny, nm, nd := local.Date()
	if ly == ny && lm == nm && ld == nd {
		return time.Time{}, false
	}
	return time.Date(ny, nm, nd, 0, 0, 0, 0, e.loc), true
}

func wholeMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}
