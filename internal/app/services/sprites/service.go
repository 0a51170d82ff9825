package sprites

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/R3E-Network/fosterhub/internal/app/domain/sprite"
	"github.com/R3E-Network/fosterhub/internal/app/domain/wallet"
	"github.com/R3E-Network/fosterhub/internal/app/events"
	"github.com/R3E-Network/fosterhub/internal/app/metrics"
	"github.com/R3E-Network/fosterhub/internal/app/storage"
	"github.com/R3E-Network/fosterhub/pkg/logger"
)

// ErrNotOwner is returned when a user acts on a sprite fostered by someone else.
var ErrNotOwner = errors.New("sprite belongs to another user")

// errUnchanged aborts a store update that would not change anything.
var errUnchanged = errors.New("sprite unchanged")

// Service fosters sprites and keeps their status current.
type Service struct {
	store  storage.SpriteStore
	engine *sprite.Engine
	bus    *events.Bus
	log    *logger.Logger
	now    func() time.Time
}

// New constructs a sprite service. A nil engine uses UTC and the default feed
// economics.
func New(store storage.SpriteStore, engine *sprite.Engine, bus *events.Bus, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("sprites")
	}
	if engine == nil {
		engine = sprite.NewEngine()
	}
	return &Service{
		store:  store,
		engine: engine,
		bus:    bus,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Engine exposes the configured engine.
func (s *Service) Engine() *sprite.Engine { return s.engine }

// Foster creates the sprite for an animal. Empty breed and colour select the
// defaults.
func (s *Service) Foster(ctx context.Context, userID, animalID, breed, colour string) (sprite.Sprite, error) {
	userID = strings.TrimSpace(userID)
	animalID = strings.TrimSpace(animalID)
	if userID == "" {
		return sprite.Sprite{}, fmt.Errorf("user_id is required")
	}
	if animalID == "" {
		return sprite.Sprite{}, fmt.Errorf("animal_id is required")
	}
	b, err := sprite.ParseBreed(breed)
	if err != nil {
		return sprite.Sprite{}, err
	}
	c, err := sprite.ParseColour(colour)
	if err != nil {
		return sprite.Sprite{}, err
	}

	created, err := s.store.CreateSprite(ctx, sprite.Sprite{
		UserID:   userID,
		AnimalID: animalID,
		Breed:    b,
		Colour:   c,
		URL:      sprite.SheetURL(b, c),
		State:    sprite.NewState(s.now()),
	})
	if err != nil {
		return sprite.Sprite{}, err
	}

	s.publish(events.Event{
		Type:     events.SpriteFostered,
		SpriteID: created.ID,
		UserID:   userID,
		Metadata: map[string]string{"animal_id": animalID, "url": created.URL},
	})
	return created, nil
}

// Release ends fostering. Only the fostering user may release a sprite.
func (s *Service) Release(ctx context.Context, spriteID, userID string) error {
	sp, err := s.store.GetSprite(ctx, spriteID)
	if err != nil {
		return err
	}
	if sp.UserID != strings.TrimSpace(userID) {
		return ErrNotOwner
	}
	if err := s.store.DeleteSprite(ctx, spriteID); err != nil {
		return err
	}

	s.publish(events.Event{
		Type:     events.SpriteReleased,
		SpriteID: spriteID,
		UserID:   sp.UserID,
		Metadata: map[string]string{"animal_id": sp.AnimalID},
	})
	return nil
}

// List returns the user's sprites as last persisted.
func (s *Service) List(ctx context.Context, userID string) ([]sprite.Sprite, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	return s.store.ListSprites(ctx, userID)
}

// Get returns a sprite as last persisted.
func (s *Service) Get(ctx context.Context, spriteID string) (sprite.Sprite, error) {
	return s.store.GetSprite(ctx, spriteID)
}

// Refresh brings the sprite up to date as of now.
func (s *Service) Refresh(ctx context.Context, spriteID string) (sprite.Status, error) {
	sp, err := s.RefreshAt(ctx, spriteID, s.now())
	if err != nil {
		return sprite.Status{}, err
	}
	return sprite.StatusOf(sp.State), nil
}

// RefreshAt applies decay as of now inside one per-sprite update. A clock
// that went backwards leaves the sprite untouched.
func (s *Service) RefreshAt(ctx context.Context, spriteID string, now time.Time) (sprite.Sprite, error) {
	sp, _, err := s.refresh(ctx, spriteID, now)
	return sp, err
}

func (s *Service) refresh(ctx context.Context, spriteID string, now time.Time) (sprite.Sprite, sprite.DecayReport, error) {
	var (
		report  sprite.DecayReport
		current sprite.Sprite
	)
	updated, err := s.store.UpdateSprite(ctx, spriteID, func(sp *sprite.Sprite) error {
		report = s.engine.ApplyDecay(&sp.State, now)
		current = *sp
		if report.Stale {
			return errUnchanged
		}
		return nil
	})
	switch {
	case errors.Is(err, errUnchanged):
		updated = current
	case err != nil:
		return sprite.Sprite{}, sprite.DecayReport{}, err
	}

	metrics.RecordRefresh(report.DayReset, report.Stale)
	s.afterDecay(updated, report)
	return updated, report, nil
}

// FeedOutcome is returned by a successful feed.
type FeedOutcome struct {
	Success         bool            `json:"success"`
	Satiation       int             `json:"satiation"`
	Activity        sprite.Activity `json:"activity_state"`
	TokensRemaining int64           `json:"tokens_remaining"`
}

// Feed decays the sprite, then charges the user's wallet and boosts satiation.
func (s *Service) Feed(ctx context.Context, spriteID, userID string) (FeedOutcome, error) {
	return s.FeedAt(ctx, spriteID, userID, s.now())
}

// FeedAt runs decay and feed as one unit against the sprite and the user's
// wallet. When the wallet cannot pay nothing is persisted, including the decay.
func (s *Service) FeedAt(ctx context.Context, spriteID, userID string, now time.Time) (FeedOutcome, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return FeedOutcome{}, fmt.Errorf("user_id is required")
	}

	var (
		report sprite.DecayReport
		result sprite.FeedResult
	)
	updated, _, err := s.store.UpdateSpriteWithWallet(ctx, spriteID, userID, "feed:"+spriteID,
		func(sp *sprite.Sprite, ledger *wallet.Ledger) error {
			report = s.engine.ApplyDecay(&sp.State, now)
			res, err := s.engine.Feed(&sp.State, ledger)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	if err != nil {
		if errors.Is(err, sprite.ErrInsufficientFunds) {
			metrics.RecordFeed("insufficient_funds")
			s.publish(events.Event{Type: events.SpriteFeedDenied, SpriteID: spriteID, UserID: userID})
			return FeedOutcome{}, err
		}
		metrics.RecordFeed("error")
		return FeedOutcome{}, err
	}
	metrics.RecordFeed("ok")
	metrics.RecordDecay(report.DayReset, report.Stale)

	s.afterDecay(updated, report)
	s.publish(events.Event{
		Type:     events.SpriteFed,
		SpriteID: spriteID,
		UserID:   userID,
		Metadata: map[string]string{
			"satiation": strconv.Itoa(result.Satiation),
			"tokens":    strconv.FormatInt(result.TokensRemaining, 10),
			"cost":      strconv.FormatInt(result.Cost, 10),
		},
	})
	if result.From != result.Activity {
		s.publishTransition(updated, result.From, result.Activity)
	}

	return FeedOutcome{
		Success:         true,
		Satiation:       result.Satiation,
		Activity:        result.Activity,
		TokensRemaining: result.TokensRemaining,
	}, nil
}

// SweepSummary reports a sweep over every sprite.
type SweepSummary struct {
	Sprites   int
	DayResets int
	Failed    int
}

// SweepAt refreshes every sprite as of now so idle sprites have their day
// timers reset. Individual failures are logged and counted.
func (s *Service) SweepAt(ctx context.Context, now time.Time) (SweepSummary, error) {
	all, err := s.store.ListSprites(ctx, "")
	if err != nil {
		return SweepSummary{}, err
	}

	var summary SweepSummary
	for _, sp := range all {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		_, report, err := s.refresh(ctx, sp.ID, now)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			summary.Failed++
			s.log.WithError(err).WithField("sprite_id", sp.ID).Warn("sweep refresh failed")
			continue
		}
		summary.Sprites++
		if report.DayReset {
			summary.DayResets++
		}
	}
	return summary, nil
}

func (s *Service) afterDecay(sp sprite.Sprite, report sprite.DecayReport) {
	if report.Stale {
		s.log.WithError(sprite.ErrStaleClock).WithFields(map[string]interface{}{
			"sprite_id": sp.ID,
			"skew":      report.Skew.String(),
		}).Warn("decay skipped")
		s.publish(events.Event{
			Type:     events.SpriteStaleClock,
			SpriteID: sp.ID,
			UserID:   sp.UserID,
			Metadata: map[string]string{"skew": report.Skew.String()},
		})
		return
	}
	if report.DayReset {
		s.publish(events.Event{
			Type:     events.SpriteDayReset,
			SpriteID: sp.ID,
			UserID:   sp.UserID,
			Metadata: map[string]string{"timer_minutes": strconv.Itoa(report.TimerMinutes)},
		})
	}
	if report.Transitioned() {
		s.publishTransition(sp, report.From, report.To)
	}
}

func (s *Service) publishTransition(sp sprite.Sprite, from, to sprite.Activity) {
	s.publish(events.Event{
		Type:     events.SpriteTransition,
		SpriteID: sp.ID,
		UserID:   sp.UserID,
		Metadata: map[string]string{"from": string(from), "to": string(to)},
	})
}

func (s *Service) publish(e events.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}
