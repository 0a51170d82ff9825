package sprites

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/fosterhub/internal/app/domain/sprite"
	"github.com/R3E-Network/fosterhub/internal/app/events"
	"github.com/R3E-Network/fosterhub/internal/app/lock"
	"github.com/R3E-Network/fosterhub/internal/app/metrics"
	"github.com/R3E-Network/fosterhub/internal/app/storage"
	"github.com/R3E-Network/fosterhub/internal/app/storage/memory"
)

type fixture struct {
	store *memory.Store
	bus   *events.Bus
	svc   *Service
	now   time.Time
}

func newFixture(t *testing.T, opts ...sprite.Option) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.New(),
		bus:   events.NewBus(100, nil),
		now:   time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.svc = New(f.store, sprite.NewEngine(opts...), f.bus, nil).WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func TestFosterDefaultsAndUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sp, err := f.svc.Foster(ctx, "u1", "a1", "", "")
	require.NoError(t, err)
	assert.Equal(t, sprite.BreedHusky, sp.Breed)
	assert.Equal(t, sprite.ColourOne, sp.Colour)
	assert.Equal(t, "husky/one", sp.URL)
	assert.Equal(t, sprite.DefaultSatiation, sp.Satiation)
	assert.Equal(t, sprite.Running, sp.Activity)
	assert.True(t, sp.LastObservedAt.Equal(f.now))

	_, err = f.svc.Foster(ctx, "u2", "a1", "afghan", "two")
	assert.ErrorIs(t, err, storage.ErrAnimalFostered)

	_, err = f.svc.Foster(ctx, "u1", "a2", "poodle", "")
	assert.Error(t, err)
	_, err = f.svc.Foster(ctx, "", "a3", "", "")
	assert.Error(t, err)

	assert.Len(t, f.bus.RecentByType(events.SpriteFostered, 10), 1)
}

func TestReleaseRequiresOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sp, err := f.svc.Foster(ctx, "u1", "a1", "afghan", "three")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Release(ctx, sp.ID, "u2"), ErrNotOwner)
	require.NoError(t, f.svc.Release(ctx, sp.ID, "u1"))
	assert.ErrorIs(t, f.svc.Release(ctx, sp.ID, "u1"), storage.ErrNotFound)

	list, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Len(t, f.bus.RecentByType(events.SpriteReleased, 10), 1)
}

func TestRefreshDecaysAndTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sp, err := f.svc.Foster(ctx, "u1", "a1", "", "")
	require.NoError(t, err)

	f.advance(10*time.Minute + 59*time.Second)
	status, err := f.svc.Refresh(ctx, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, status.Satiation)
	assert.Equal(t, sprite.Standing, status.Activity)
	assert.Equal(t, 10, status.RunningMinutesToday)
	assert.Equal(t, 0, status.StandingMinutesToday)

	transitions := f.bus.RecentByType(events.SpriteTransition, 10)
	require.Len(t, transitions, 1)
	assert.Equal(t, "RUNNING", transitions[0].Metadata["from"])
	assert.Equal(t, "STANDING", transitions[0].Metadata["to"])

	// A second refresh at the same instant changes nothing.
	again, err := f.svc.Refresh(ctx, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, status, again)
}

func TestRefreshWithStaleClockIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sp, err := f.svc.Foster(ctx, "u1", "a1", "", "")
	require.NoError(t, err)

	got, err := f.svc.RefreshAt(ctx, sp.ID, f.now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, sprite.DefaultSatiation, got.Satiation)
	assert.True(t, got.LastObservedAt.Equal(f.now))

	stale := f.bus.RecentByType(events.SpriteStaleClock, 10)
	require.Len(t, stale, 1)
	assert.Equal(t, "5m0s", stale[0].Metadata["skew"])
}

func TestRefreshUnknownSprite(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Refresh(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRefreshAcrossMidnightInConfiguredZone(t *testing.T) {
	zone := time.FixedZone("UTC+2", 2*60*60)
	f := newFixture(t, sprite.WithLocation(zone))
	ctx := context.Background()

	// 23:00 local on the first of March.
	f.now = time.Date(2024, 3, 1, 23, 0, 0, 0, zone)
	sp, err := f.svc.Foster(ctx, "u1", "a1", "", "")
	require.NoError(t, err)

	f.advance(90 * time.Minute)
	got, err := f.svc.RefreshAt(ctx, sp.ID, f.now)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Satiation)
	assert.Equal(t, sprite.Standing, got.Activity)
	assert.Equal(t, 30, got.RunningMinutesToday)
	assert.Equal(t, 0, got.StandingMinutesToday)
	assert.Len(t, f.bus.RecentByType(events.SpriteDayReset, 10), 1)
}

func TestFeedChargesWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sp, err := f.svc.Foster(ctx, "u1", "a1", "", "")
	require.NoError(t, err)
	_, _, err = f.store.CreditWallet(ctx, "u1", 100, "cs_1")
	require.NoError(t, err)

	f.advance(5 * time.Minute)
	out, err := f.svc.Feed(ctx, sp.ID, "u1")
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 50, out.Satiation)
	assert.Equal(t, sprite.Running, out.Activity)
	assert.Equal(t, int64(99), out.TokensRemaining)

	w, err := f.store.GetWallet(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(99), w.Tokens)

	fed := f.bus.RecentByType(events.SpriteFed, 10)
	require.Len(t, fed, 1)
	assert.Equal(t, "99", fed[0].Metadata["tokens"])

	// 45 after decay crossed below the threshold and the feed brought it back.
	assert.Len(t, f.bus.RecentByType(events.SpriteTransition, 10), 2)
}

func refreshCount(t *testing.T) float64 {
	t.Helper()
	families, err := metrics.Registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "fosterhub_sprite_refresh_total" && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestOnlyRefreshesCountAsRefreshes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sp, err := f.svc.Foster(ctx, "u1", "a1", "", "")
	require.NoError(t, err)
	_, _, err = f.store.CreditWallet(ctx, "u1", 10, "cs_1")
	require.NoError(t, err)

	before := refreshCount(t)
	f.advance(time.Minute)
	_, err = f.svc.Feed(ctx, sp.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, before, refreshCount(t))

	f.advance(time.Minute)
	_, err = f.svc.Refresh(ctx, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, before+1, refreshCount(t))
}

func TestFeedCapsAtMaximum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sp, err := f.svc.Foster(ctx, "u1", "a1", "", "")
	require.NoError(t, err)
	_, _, err = f.store.CreditWallet(ctx, "u1", 20, "cs_1")
	require.NoError(t, err)

	var out FeedOutcome
	for i := 0; i < 11; i++ {
		out, err = f.svc.Feed(ctx, sp.ID, "u1")
		require.NoError(t, err)
	}
	assert.Equal(t, sprite.MaxSatiation, out.Satiation)
	assert.Equal(t, int64(9), out.TokensRemaining)
}

func TestFeedWithoutTokensPersistsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sp, err := f.svc.Foster(ctx, "u1", "a1", "", "")
	require.NoError(t, err)

	f.advance(10 * time.Minute)
	_, err = f.svc.Feed(ctx, sp.ID, "u1")
	assert.ErrorIs(t, err, sprite.ErrInsufficientFunds)

	got, err := f.svc.Get(ctx, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, sprite.DefaultSatiation, got.Satiation)
	assert.True(t, got.LastObservedAt.Equal(f.now.Add(-10*time.Minute)))
	assert.Len(t, f.bus.RecentByType(events.SpriteFeedDenied, 10), 1)

	// the decay is still applied by the next refresh
	status, err := f.svc.Refresh(ctx, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, status.Satiation)
}

func TestFeedByAnotherUserDebitsTheirWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sp, err := f.svc.Foster(ctx, "owner", "a1", "", "")
	require.NoError(t, err)
	_, _, err = f.store.CreditWallet(ctx, "visitor", 3, "cs_v")
	require.NoError(t, err)

	out, err := f.svc.Feed(ctx, sp.ID, "visitor")
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.TokensRemaining)

	owner, err := f.store.GetWallet(ctx, "owner")
	require.NoError(t, err)
	assert.Zero(t, owner.Tokens)
}

func TestSweepResetsIdleSprites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.now = time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	a, err := f.svc.Foster(ctx, "u1", "a1", "", "")
	require.NoError(t, err)
	b, err := f.svc.Foster(ctx, "u2", "a2", "", "")
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	_, err = f.svc.Refresh(ctx, a.ID)
	require.NoError(t, err)

	midnight := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	summary, err := f.svc.SweepAt(ctx, midnight)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Sprites)
	assert.Equal(t, 2, summary.DayResets)
	assert.Zero(t, summary.Failed)

	for _, id := range []string{a.ID, b.ID} {
		got, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, got.RunningMinutesToday)
		assert.Zero(t, got.StandingMinutesToday)
		assert.True(t, got.LastObservedAt.Equal(midnight))
	}
}

func TestSweeperSkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	locker := lock.NewKeyed()

	_, err := f.svc.Foster(ctx, "u1", "a1", "", "")
	require.NoError(t, err)

	sweeper := NewSweeper(f.svc, locker, "", nil)
	midnight := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	release, err := locker.Acquire(ctx, "sweep:2024-03-02")
	require.NoError(t, err)
	ran, err := sweeper.RunAt(ctx, midnight)
	require.NoError(t, err)
	assert.False(t, ran)
	require.NoError(t, release())

	ran, err = sweeper.RunAt(ctx, midnight)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Zero(t, locker.Len())
}

func TestSweeperLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := NewSweeper(f.svc, nil, "not a schedule", nil)
	assert.Error(t, bad.Start(ctx))

	sweeper := NewSweeper(f.svc, nil, "", nil)
	assert.Equal(t, "sprite-sweeper", sweeper.Name())
	require.NoError(t, sweeper.Start(ctx))
	require.NoError(t, sweeper.Start(ctx))
	require.NoError(t, sweeper.Stop(ctx))
	require.NoError(t, sweeper.Stop(ctx))
}
