package wallet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/R3E-Network/fosterhub/internal/app/domain/wallet"
	"github.com/R3E-Network/fosterhub/internal/app/events"
	"github.com/R3E-Network/fosterhub/internal/app/metrics"
	"github.com/R3E-Network/fosterhub/internal/app/storage"
	"github.com/R3E-Network/fosterhub/pkg/logger"
)

// DefaultTokensPerPurchase is granted for one completed checkout.
const DefaultTokensPerPurchase int64 = 100

// Service manages token balances.
type Service struct {
	store storage.WalletStore
	bus   *events.Bus
	log   *logger.Logger
}

// New constructs a wallet service.
func New(store storage.WalletStore, bus *events.Bus, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("wallet")
	}
	return &Service{store: store, bus: bus, log: log}
}

// Balance returns the user's wallet; users without one have zero tokens.
func (s *Service) Balance(ctx context.Context, userID string) (wallet.Wallet, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return wallet.Wallet{}, fmt.Errorf("user_id is required")
	}
	return s.store.GetWallet(ctx, userID)
}

// Credit adds tokens. A non-empty reference is applied at most once; a repeat
// returns storage.ErrDuplicateCredit.
func (s *Service) Credit(ctx context.Context, userID string, amount int64, reference string) (wallet.Wallet, error) {
	userID = strings.TrimSpace(userID)
	reference = strings.TrimSpace(reference)
	if userID == "" {
		return wallet.Wallet{}, fmt.Errorf("user_id is required")
	}
	if amount <= 0 {
		return wallet.Wallet{}, fmt.Errorf("amount must be positive")
	}

	w, tx, err := s.store.CreditWallet(ctx, userID, amount, reference)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateCredit) {
			s.log.WithField("reference", reference).Info("credit already applied")
		}
		return wallet.Wallet{}, err
	}

	metrics.RecordCredit(amount)
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:   events.WalletCredited,
			UserID: userID,
			Metadata: map[string]string{
				"amount":    strconv.FormatInt(amount, 10),
				"balance":   strconv.FormatInt(w.Tokens, 10),
				"reference": reference,
				"tx_id":     tx.ID,
			},
		})
	}
	return w, nil
}

// Transactions lists the newest ledger entries first.
func (s *Service) Transactions(ctx context.Context, userID string, limit int) ([]wallet.Transaction, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.ListWalletTransactions(ctx, userID, limit)
}
