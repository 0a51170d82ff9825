// Package app composes the fosterhub application from its domain services.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/             # Domain models and the sprite engine
//	│   ├── sprite/         # Satiation, activity and day timers
//	│   └── wallet/         # Token balances and ledger entries
//	├── events/             # Domain event ring and subscribers
//	├── lock/               # In-process and Redis locks
//	├── storage/            # Store interfaces and implementations
//	│   ├── memory/         # In-memory implementation
//	│   └── sqlstore/       # PostgreSQL and SQLite through sqlx
//	├── services/           # Sprite and wallet services, nightly sweeper
//	├── httpapi/            # HTTP and websocket handlers
//	├── metrics/            # Prometheus collectors
//	├── runtime/            # Process wiring: config, database, server
//	└── system/             # Lifecycle manager
//
// # Dependency Direction
//
//	cmd/fosterd/
//	      │
//	      ▼
//	internal/app/runtime
//	      │
//	      ├──► internal/app/httpapi ──► internal/app (composition)
//	      │                                   │
//	      │                                   └──► services ──► domain, storage
//	      │
//	      └──► internal/platform/migrations
//
// # Adding a Domain
//
//  1. Model it in internal/app/domain/<name>/
//  2. Add its store interface to internal/app/storage/interfaces.go
//  3. Implement memory and sqlstore versions, plus a migration
//  4. Write the service in internal/app/services/<name>/
//  5. Wire it in internal/app/application.go and expose it in httpapi
package app
