package sprite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWallet struct {
	balance int64
	debits  int
}

func (w *fakeWallet) Balance() int64 { return w.balance }

func (w *fakeWallet) Debit(amount int64) bool {
	if amount > w.balance {
		return false
	}
	w.balance -= amount
	w.debits++
	return true
}

var base = time.Date(2024, time.September, 25, 12, 0, 0, 0, time.UTC)

func TestApplyDecay_SameDayFormula(t *testing.T) {
	e := NewEngine()
	for _, satiation := range []int{0, 1, 5, 49, 50, 51, 99, 100} {
		for _, minutes := range []int{0, 1, 10, 49, 50, 100, 600} {
			st := NewStateWithSatiation(satiation, base)
			now := base.Add(time.Duration(minutes) * time.Minute)
			e.ApplyDecay(&st, now)

			want := satiation - minutes
			if want < 0 {
				want = 0
			}
			require.Equal(t, want, st.Satiation, "satiation=%d minutes=%d", satiation, minutes)
			require.Equal(t, DeriveActivity(want), st.Activity)
			require.Equal(t, now, st.LastObservedAt)
			require.NoError(t, st.Validate())
		}
	}
}

func TestApplyDecay_PartialMinutesAreFloored(t *testing.T) {
	e := NewEngine()
	st := NewStateWithSatiation(80, base)

	report := e.ApplyDecay(&st, base.Add(119*time.Second))
	assert.Equal(t, 1, report.ElapsedMinutes)
	assert.Equal(t, 79, st.Satiation)
	assert.Equal(t, 1, st.RunningMinutesToday)
}

func TestApplyDecay_Scenarios(t *testing.T) {
	e := NewEngine()

	t.Run("full sprite ten minutes later", func(t *testing.T) {
		st := NewStateWithSatiation(100, base)
		now := base.Add(10 * time.Minute)
		e.ApplyDecay(&st, now)
		assert.Equal(t, 90, st.Satiation)
		assert.Equal(t, Running, st.Activity)
		assert.Equal(t, now, st.LastObservedAt)
	})

	t.Run("floors at zero", func(t *testing.T) {
		st := NewStateWithSatiation(5, base)
		e.ApplyDecay(&st, base.Add(10*time.Minute))
		assert.Equal(t, 0, st.Satiation)
		assert.Equal(t, Standing, st.Activity)
	})

	t.Run("creation derives running", func(t *testing.T) {
		st := NewStateWithSatiation(55, base)
		assert.Equal(t, Running, st.Activity)
		e.ApplyDecay(&st, base)
		assert.Equal(t, Running, st.Activity)
		assert.Equal(t, 55, st.Satiation)
	})

	t.Run("default state sits on the threshold", func(t *testing.T) {
		st := NewState(base)
		assert.Equal(t, DefaultSatiation, st.Satiation)
		assert.Equal(t, Running, st.Activity)
	})
}

func TestApplyDecay_Idempotent(t *testing.T) {
	e := NewEngine()
	st := NewStateWithSatiation(70, base)
	now := base.Add(7 * time.Minute)

	e.ApplyDecay(&st, now)
	once := st

	report := e.ApplyDecay(&st, now)
	assert.Equal(t, once, st)
	assert.Zero(t, report.ElapsedMinutes)
	assert.False(t, report.Stale)
}

func TestApplyDecay_StaleClockIsNoop(t *testing.T) {
	e := NewEngine()
	st := NewStateWithSatiation(70, base)
	st.StandingMinutesToday = 3
	before := st

	report := e.ApplyDecay(&st, base.Add(-90*time.Second))
	assert.True(t, report.Stale)
	assert.Equal(t, 90*time.Second, report.Skew)
	assert.Equal(t, before, st)
}

func TestApplyDecay_TimersAccumulateAgainstPriorState(t *testing.T) {
	e := NewEngine()

	// 55 -> 40 crosses the threshold; the 15 minutes count as running.
	st := NewStateWithSatiation(55, base)
	report := e.ApplyDecay(&st, base.Add(15*time.Minute))
	assert.Equal(t, 40, st.Satiation)
	assert.Equal(t, Standing, st.Activity)
	assert.Equal(t, 15, st.RunningMinutesToday)
	assert.Zero(t, st.StandingMinutesToday)
	assert.True(t, report.Transitioned())
	assert.Equal(t, Running, report.From)
	assert.Equal(t, Standing, report.To)

	// Subsequent minutes are standing.
	e.ApplyDecay(&st, base.Add(20*time.Minute))
	assert.Equal(t, 5, st.StandingMinutesToday)
	assert.Equal(t, 15, st.RunningMinutesToday)
}

func TestApplyDecay_DayBoundaryResetsTimers(t *testing.T) {
	e := NewEngine()
	last := time.Date(2024, time.September, 24, 23, 0, 0, 0, time.UTC)
	now := time.Date(2024, time.September, 25, 0, 30, 0, 0, time.UTC)

	st := NewStateWithSatiation(100, last)
	st.StandingMinutesToday = 30
	st.RunningMinutesToday = 20

	report := e.ApplyDecay(&st, now)

	assert.True(t, report.DayReset)
	assert.Equal(t, 90, report.ElapsedMinutes)
	assert.Equal(t, 30, report.TimerMinutes)
	// Satiation decays over the whole span, timers only over today's part.
	assert.Equal(t, 10, st.Satiation)
	assert.Equal(t, 30, st.RunningMinutesToday)
	assert.Zero(t, st.StandingMinutesToday)
	assert.Equal(t, Standing, st.Activity)
	assert.Equal(t, now, st.LastObservedAt)
}

func TestApplyDecay_DayBoundaryOneFullDay(t *testing.T) {
	e := NewEngine()
	last := base.Add(-24 * time.Hour)

	st := NewStateWithSatiation(60, last)
	st.StandingMinutesToday = 30
	st.RunningMinutesToday = 20

	e.ApplyDecay(&st, base)

	assert.Equal(t, 0, st.Satiation)
	// base is 12:00, so 720 minutes since midnight, credited to the prior (running) state.
	assert.Equal(t, 720, st.RunningMinutesToday)
	assert.Zero(t, st.StandingMinutesToday)
}

func TestApplyDecay_DayBoundaryUsesConfiguredZone(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	e := NewEngine(WithLocation(loc))

	// 21:30 and 22:30 UTC straddle midnight in UTC+2.
	last := time.Date(2024, time.September, 24, 21, 30, 0, 0, time.UTC)
	now := time.Date(2024, time.September, 24, 22, 30, 0, 0, time.UTC)

	st := NewStateWithSatiation(20, last)
	st.StandingMinutesToday = 100

	report := e.ApplyDecay(&st, now)
	assert.True(t, report.DayReset)
	assert.Equal(t, 30, st.StandingMinutesToday)

	// The same instants do not cross midnight in UTC.
	st = NewStateWithSatiation(20, last)
	st.StandingMinutesToday = 100
	report = NewEngine().ApplyDecay(&st, now)
	assert.False(t, report.DayReset)
	assert.Equal(t, 160, st.StandingMinutesToday)
}

func TestFeed_CostAndBoost(t *testing.T) {
	e := NewEngine()
	st := NewStateWithSatiation(40, base)
	w := &fakeWallet{balance: 100}

	res, err := e.Feed(&st, w)
	require.NoError(t, err)
	assert.Equal(t, int64(99), w.balance)
	assert.Equal(t, int64(99), res.TokensRemaining)
	assert.Equal(t, 45, st.Satiation)
	assert.Equal(t, 45, res.Satiation)
	assert.Equal(t, Standing, st.Activity)
}

func TestFeed_CapsAtMaximum(t *testing.T) {
	e := NewEngine()
	st := NewStateWithSatiation(99, base)
	w := &fakeWallet{balance: 10}

	res, err := e.Feed(&st, w)
	require.NoError(t, err)
	assert.Equal(t, 100, res.Satiation)
	assert.Equal(t, 100, st.Satiation)
}

func TestFeed_CrossesThreshold(t *testing.T) {
	e := NewEngine()
	st := NewStateWithSatiation(47, base)
	require.Equal(t, Standing, st.Activity)

	res, err := e.Feed(&st, &fakeWallet{balance: 1})
	require.NoError(t, err)
	assert.Equal(t, Running, st.Activity)
	assert.Equal(t, Standing, res.From)
	assert.Equal(t, int64(0), res.TokensRemaining)
}

func TestFeed_InsufficientFunds(t *testing.T) {
	e := NewEngine()
	st := NewStateWithSatiation(30, base)
	before := st
	w := &fakeWallet{balance: 0}

	_, err := e.Feed(&st, w)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, before, st)
	assert.Equal(t, int64(0), w.balance)
	assert.Zero(t, w.debits)

	_, err = e.Feed(&st, nil)
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestFeed_CustomEconomics(t *testing.T) {
	e := NewEngine(WithFeedCost(3), WithFeedBoost(20))
	st := NewStateWithSatiation(10, base)
	w := &fakeWallet{balance: 5}

	res, err := e.Feed(&st, w)
	require.NoError(t, err)
	assert.Equal(t, 30, res.Satiation)
	assert.Equal(t, int64(2), res.TokensRemaining)

	_, err = e.Feed(&st, w)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}
