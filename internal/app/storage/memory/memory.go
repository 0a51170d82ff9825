package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/fosterhub/internal/app/domain/sprite"
	"github.com/R3E-Network/fosterhub/internal/app/domain/wallet"
	"github.com/R3E-Network/fosterhub/internal/app/lock"
	"github.com/R3E-Network/fosterhub/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
//
// mu guards the maps only for the duration of a copy in or out. Read-modify-write
// units hold a per-sprite (and per-wallet) lock from the locker instead.
type Store struct {
	mu          sync.RWMutex
	nextID      int64
	locks       lock.Locker
	sprites     map[string]sprite.Sprite
	byAnimal    map[string]string
	wallets     map[string]wallet.Wallet
	walletTxs   map[string][]wallet.Transaction
	creditsSeen map[string]struct{}
}

var _ storage.SpriteStore = (*Store)(nil)
var _ storage.WalletStore = (*Store)(nil)

// New creates an empty store using an in-process keyed locker.
func New() *Store {
	return NewWithLocker(lock.NewKeyed())
}

// NewWithLocker creates an empty store using the given locker.
func NewWithLocker(l lock.Locker) *Store {
	if l == nil {
		l = lock.NewKeyed()
	}
	return &Store{
		nextID:      1,
		locks:       l,
		sprites:     make(map[string]sprite.Sprite),
		byAnimal:    make(map[string]string),
		wallets:     make(map[string]wallet.Wallet),
		walletTxs:   make(map[string][]wallet.Transaction),
		creditsSeen: make(map[string]struct{}),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func spriteKey(id string) string     { return "sprite:" + id }
func walletKey(userID string) string { return "wallet:" + userID }

// SpriteStore implementation --------------------------------------------------

func (s *Store) CreateSprite(_ context.Context, sp sprite.Sprite) (sprite.Sprite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sp.ID == "" {
		sp.ID = s.nextIDLocked()
	} else if _, exists := s.sprites[sp.ID]; exists {
		return sprite.Sprite{}, fmt.Errorf("sprite %s already exists", sp.ID)
	}
	if _, taken := s.byAnimal[sp.AnimalID]; taken {
		return sprite.Sprite{}, storage.ErrAnimalFostered
	}

	now := time.Now().UTC()
	sp.CreatedAt = now
	sp.UpdatedAt = now

	s.sprites[sp.ID] = sp
	s.byAnimal[sp.AnimalID] = sp.ID
	return sp, nil
}

func (s *Store) GetSprite(_ context.Context, id string) (sprite.Sprite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sp, ok := s.sprites[id]
	if !ok {
		return sprite.Sprite{}, fmt.Errorf("sprite %s: %w", id, storage.ErrNotFound)
	}
	return sp, nil
}

func (s *Store) ListSprites(_ context.Context, userID string) ([]sprite.Sprite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]sprite.Sprite, 0)
	for _, sp := range s.sprites {
		if userID == "" || sp.UserID == userID {
			result = append(result, sp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) DeleteSprite(ctx context.Context, id string) error {
	release, err := s.locks.Acquire(ctx, spriteKey(id))
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.sprites[id]
	if !ok {
		return fmt.Errorf("sprite %s: %w", id, storage.ErrNotFound)
	}
	delete(s.sprites, id)
	delete(s.byAnimal, sp.AnimalID)
	return nil
}

func (s *Store) UpdateSprite(ctx context.Context, id string, fn storage.SpriteMutation) (sprite.Sprite, error) {
	release, err := s.locks.Acquire(ctx, spriteKey(id))
	if err != nil {
		return sprite.Sprite{}, err
	}
	defer release()

	sp, err := s.GetSprite(ctx, id)
	if err != nil {
		return sprite.Sprite{}, err
	}
	if err := fn(&sp); err != nil {
		return sprite.Sprite{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sp.UpdatedAt = time.Now().UTC()
	s.sprites[id] = sp
	return sp, nil
}

func (s *Store) UpdateSpriteWithWallet(ctx context.Context, id, userID, reference string, fn storage.FeedMutation) (sprite.Sprite, wallet.Wallet, error) {
	releaseSprite, err := s.locks.Acquire(ctx, spriteKey(id))
	if err != nil {
		return sprite.Sprite{}, wallet.Wallet{}, err
	}
	defer releaseSprite()

	releaseWallet, err := s.locks.Acquire(ctx, walletKey(userID))
	if err != nil {
		return sprite.Sprite{}, wallet.Wallet{}, err
	}
	defer releaseWallet()

	sp, err := s.GetSprite(ctx, id)
	if err != nil {
		return sprite.Sprite{}, wallet.Wallet{}, err
	}
	w, err := s.GetWallet(ctx, userID)
	if err != nil {
		return sprite.Sprite{}, wallet.Wallet{}, err
	}

	ledger := wallet.NewLedger(w.Tokens)
	if err := fn(&sp, ledger); err != nil {
		return sprite.Sprite{}, wallet.Wallet{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	sp.UpdatedAt = now
	s.sprites[id] = sp

	if debited := ledger.Debited(); debited > 0 {
		w = s.walletLocked(userID, now)
		w.Tokens = ledger.Balance()
		w.UpdatedAt = now
		s.wallets[userID] = w
		s.walletTxs[userID] = append(s.walletTxs[userID], wallet.Transaction{
			ID:           s.nextIDLocked(),
			UserID:       userID,
			Type:         wallet.TransactionDebit,
			Amount:       debited,
			BalanceAfter: w.Tokens,
			Reference:    reference,
			CreatedAt:    now,
		})
	}
	return sp, w, nil
}

// WalletStore implementation --------------------------------------------------

func (s *Store) GetWallet(_ context.Context, userID string) (wallet.Wallet, error) {
	if userID == "" {
		return wallet.Wallet{}, fmt.Errorf("wallet user_id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if w, ok := s.wallets[userID]; ok {
		return w, nil
	}
	return wallet.Wallet{UserID: userID}, nil
}

func (s *Store) CreditWallet(ctx context.Context, userID string, amount int64, reference string) (wallet.Wallet, wallet.Transaction, error) {
	if amount <= 0 {
		return wallet.Wallet{}, wallet.Transaction{}, fmt.Errorf("credit amount must be positive")
	}

	release, err := s.locks.Acquire(ctx, walletKey(userID))
	if err != nil {
		return wallet.Wallet{}, wallet.Transaction{}, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	if reference != "" {
		if _, seen := s.creditsSeen[reference]; seen {
			return wallet.Wallet{}, wallet.Transaction{}, storage.ErrDuplicateCredit
		}
	}

	now := time.Now().UTC()
	w := s.walletLocked(userID, now)
	w.Tokens += amount
	w.UpdatedAt = now
	s.wallets[userID] = w

	tx := wallet.Transaction{
		ID:           s.nextIDLocked(),
		UserID:       userID,
		Type:         wallet.TransactionCredit,
		Amount:       amount,
		BalanceAfter: w.Tokens,
		Reference:    reference,
		CreatedAt:    now,
	}
	s.walletTxs[userID] = append(s.walletTxs[userID], tx)
	if reference != "" {
		s.creditsSeen[reference] = struct{}{}
	}
	return w, tx, nil
}

func (s *Store) ListWalletTransactions(_ context.Context, userID string, limit int) ([]wallet.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs := s.walletTxs[userID]
	result := make([]wallet.Transaction, 0, len(txs))
	for i := len(txs) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, txs[i])
	}
	return result, nil
}

// Helpers ---------------------------------------------------------------------

func (s *Store) walletLocked(userID string, now time.Time) wallet.Wallet {
	w, ok := s.wallets[userID]
	if !ok {
		w = wallet.Wallet{UserID: userID, CreatedAt: now, UpdatedAt: now}
	}
	return w
}
