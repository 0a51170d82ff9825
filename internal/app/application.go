package app

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/fosterhub/internal/app/domain/sprite"
	"github.com/R3E-Network/fosterhub/internal/app/events"
	"github.com/R3E-Network/fosterhub/internal/app/lock"
	"github.com/R3E-Network/fosterhub/internal/app/services/sprites"
	walletsvc "github.com/R3E-Network/fosterhub/internal/app/services/wallet"
	"github.com/R3E-Network/fosterhub/internal/app/storage"
	"github.com/R3E-Network/fosterhub/internal/app/storage/memory"
	"github.com/R3E-Network/fosterhub/internal/app/system"
	"github.com/R3E-Network/fosterhub/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Sprites storage.SpriteStore
	Wallets storage.WalletStore
}

// Settings tunes the domain services. Zero values select the defaults.
type Settings struct {
	Location          *time.Location
	FeedCost          int64
	FeedBoost         int
	SweepSchedule     string
	TokensPerPurchase int64
	// SweepLocker coordinates the nightly sweep between instances.
	SweepLocker    lock.Locker
	DisableSweeper bool
	EventHistory   int
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager  *system.Manager
	log      *logger.Logger
	settings Settings

	Events  *events.Bus
	Sprites *sprites.Service
	Wallets *walletsvc.Service
	Sweeper *sprites.Sweeper
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, settings Settings, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Sprites == nil {
		stores.Sprites = mem
	}
	if stores.Wallets == nil {
		stores.Wallets = mem
	}
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	if settings.TokensPerPurchase <= 0 {
		settings.TokensPerPurchase = walletsvc.DefaultTokensPerPurchase
	}

	bus := events.NewBus(settings.EventHistory, log)
	bus.Subscribe(auditEvent(log))

	engine := sprite.NewEngine(
		sprite.WithLocation(settings.Location),
		sprite.WithFeedCost(settings.FeedCost),
		sprite.WithFeedBoost(settings.FeedBoost),
	)
	spriteService := sprites.New(stores.Sprites, engine, bus, log)
	walletService := walletsvc.New(stores.Wallets, bus, log)

	manager := system.NewManager()
	for _, name := range []string{"sprites", "wallet"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	var sweeper *sprites.Sweeper
	if !settings.DisableSweeper {
		sweeper = sprites.NewSweeper(spriteService, settings.SweepLocker, settings.SweepSchedule, log)
		if err := manager.Register(sweeper); err != nil {
			return nil, fmt.Errorf("register %s: %w", sweeper.Name(), err)
		}
	}

	return &Application{
		manager:  manager,
		log:      log,
		settings: settings,
		Events:   bus,
		Sprites:  spriteService,
		Wallets:  walletService,
		Sweeper:  sweeper,
	}, nil
}

// TokensPerPurchase is the grant for one completed checkout.
func (a *Application) TokensPerPurchase() int64 {
	return a.settings.TokensPerPurchase
}

// Services lists the lifecycle-managed services in start order.
func (a *Application) Services() []string {
	return a.manager.Names()
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

func auditEvent(log *logger.Logger) events.Handler {
	return func(e events.Event) {
		fields := map[string]interface{}{
			"event_id":   e.ID,
			"event_type": string(e.Type),
		}
		if e.SpriteID != "" {
			fields["sprite_id"] = e.SpriteID
		}
		if e.UserID != "" {
			fields["user_id"] = e.UserID
		}
		for k, v := range e.Metadata {
			fields[k] = v
		}
		entry := log.WithFields(fields)
		switch e.Type {
		case events.SpriteStaleClock, events.SpriteFeedDenied:
			entry.Warn("domain event")
		case events.SpriteTransition:
			entry.Debug("domain event")
		default:
			entry.Info("domain event")
		}
	}
}
