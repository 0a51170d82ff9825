package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/fosterhub/internal/app/domain/wallet"
	"github.com/R3E-Network/fosterhub/internal/app/storage"
)

// CheckoutCompleted is the provider event that grants tokens.
const CheckoutCompleted = "checkout.session.completed"

// ErrInvalidPaymentEvent is returned for payloads missing required fields.
var ErrInvalidPaymentEvent = errors.New("invalid payment event")

// PaymentEvent is the part of a provider webhook the grant needs.
type PaymentEvent struct {
	ID        string
	Type      string
	UserID    string
	Reference string
}

// ParsePaymentEvent extracts the fields used for a grant. Only completed
// checkouts must carry a user and a session id.
func ParsePaymentEvent(payload []byte) (PaymentEvent, error) {
	if !gjson.ValidBytes(payload) {
		return PaymentEvent{}, fmt.Errorf("%w: malformed json", ErrInvalidPaymentEvent)
	}
	doc := gjson.ParseBytes(payload)
	ev := PaymentEvent{
		ID:        doc.Get("id").String(),
		Type:      doc.Get("type").String(),
		UserID:    doc.Get("data.object.client_reference_id").String(),
		Reference: doc.Get("data.object.id").String(),
	}
	if ev.Type == "" {
		return PaymentEvent{}, fmt.Errorf("%w: missing type", ErrInvalidPaymentEvent)
	}
	if ev.Type == CheckoutCompleted {
		if ev.UserID == "" {
			return PaymentEvent{}, fmt.Errorf("%w: missing client_reference_id", ErrInvalidPaymentEvent)
		}
		if ev.Reference == "" {
			return PaymentEvent{}, fmt.Errorf("%w: missing session id", ErrInvalidPaymentEvent)
		}
	}
	return ev, nil
}

// GrantResult describes what a webhook delivery did.
type GrantResult struct {
	Applied   bool          `json:"applied"`
	Duplicate bool          `json:"duplicate,omitempty"`
	Ignored   bool          `json:"ignored,omitempty"`
	Wallet    wallet.Wallet `json:"wallet,omitempty"`
}

// HandlePaymentEvent credits tokensPerPurchase for a completed checkout.
// Other event types and redeliveries are acknowledged without effect.
func (s *Service) HandlePaymentEvent(ctx context.Context, payload []byte, tokensPerPurchase int64) (GrantResult, error) {
	ev, err := ParsePaymentEvent(payload)
	if err != nil {
		return GrantResult{}, err
	}
	if ev.Type != CheckoutCompleted {
		s.log.WithField("event_type", ev.Type).Debug("ignoring payment event")
		return GrantResult{Ignored: true}, nil
	}
	if tokensPerPurchase <= 0 {
		tokensPerPurchase = DefaultTokensPerPurchase
	}

	w, err := s.Credit(ctx, ev.UserID, tokensPerPurchase, ev.Reference)
	if errors.Is(err, storage.ErrDuplicateCredit) {
		return GrantResult{Duplicate: true}, nil
	}
	if err != nil {
		return GrantResult{}, err
	}
	s.log.WithFields(map[string]interface{}{
		"user_id":   ev.UserID,
		"reference": ev.Reference,
		"tokens":    tokensPerPurchase,
	}).Info("tokens granted")
	return GrantResult{Applied: true, Wallet: w}, nil
}
