package wallet

import "time"

// TransactionType classifies ledger entries.
type TransactionType string

const (
	TransactionCredit TransactionType = "credit"
	TransactionDebit  TransactionType = "debit"
)

// Wallet is a user's token balance.
type Wallet struct {
	UserID    string    `json:"user_id"`
	Tokens    int64     `json:"tokens"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction records a balance change.
type Transaction struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Type         TransactionType `json:"type"`
	Amount       int64           `json:"amount"`
	BalanceAfter int64           `json:"balance_after"`
	Reference    string          `json:"reference"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Ledger is a transaction-scoped view of a wallet. Stores hand one to a
// mutation callback and persist Debited() together with the sprite change.
type Ledger struct {
	balance int64
	debited int64
}

// NewLedger opens a ledger over the given balance.
func NewLedger(balance int64) *Ledger {
	return &Ledger{balance: balance}
}

// Balance returns the balance net of debits taken through this ledger.
func (l *Ledger) Balance() int64 { return l.balance }

// Debit takes amount if the balance covers it.
func (l *Ledger) Debit(amount int64) bool {
	if amount <= 0 || amount > l.balance {
		return false
	}
	l.balance -= amount
	l.debited += amount
	return true
}

// Debited is the total taken through this ledger.
func (l *Ledger) Debited() int64 { return l.debited }
