package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/fosterhub/internal/app/domain/sprite"
	"github.com/R3E-Network/fosterhub/internal/app/domain/wallet"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAnimalFostered is returned when an animal already has a sprite.
	ErrAnimalFostered = errors.New("animal already fostered")
	// ErrDuplicateCredit is returned when a credit reference was already applied.
	ErrDuplicateCredit = errors.New("credit reference already applied")
)

// SpriteMutation edits a locked sprite. Returning an error aborts the
// surrounding transaction and nothing is persisted.
type SpriteMutation func(s *sprite.Sprite) error

// FeedMutation edits a locked sprite paid from a locked wallet.
type FeedMutation func(s *sprite.Sprite, w *wallet.Ledger) error

// SpriteStore persists sprites. UpdateSprite and UpdateSpriteWithWallet are
// atomic read-modify-write units scoped to one sprite (and one wallet).
type SpriteStore interface {
	CreateSprite(ctx context.Context, s sprite.Sprite) (sprite.Sprite, error)
	GetSprite(ctx context.Context, id string) (sprite.Sprite, error)
	ListSprites(ctx context.Context, userID string) ([]sprite.Sprite, error)
	DeleteSprite(ctx context.Context, id string) error

	UpdateSprite(ctx context.Context, id string, fn SpriteMutation) (sprite.Sprite, error)
	UpdateSpriteWithWallet(ctx context.Context, id, userID, reference string, fn FeedMutation) (sprite.Sprite, wallet.Wallet, error)
}

// WalletStore persists token balances and their ledger.
type WalletStore interface {
	// GetWallet returns the wallet, or a zero-balance wallet when none exists yet.
	GetWallet(ctx context.Context, userID string) (wallet.Wallet, error)
	CreditWallet(ctx context.Context, userID string, amount int64, reference string) (wallet.Wallet, wallet.Transaction, error)
	ListWalletTransactions(ctx context.Context, userID string, limit int) ([]wallet.Transaction, error)
}
