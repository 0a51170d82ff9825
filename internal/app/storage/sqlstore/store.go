// Package sqlstore implements the storage interfaces on PostgreSQL or SQLite
// through sqlx. Read-modify-write units run in one transaction; PostgreSQL
// rows are locked with SELECT ... FOR UPDATE, SQLite is serialised by a
// single connection.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/R3E-Network/fosterhub/internal/app/domain/sprite"
	"github.com/R3E-Network/fosterhub/internal/app/domain/wallet"
	"github.com/R3E-Network/fosterhub/internal/app/storage"
)

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Store implements the storage interfaces backed by a SQL database.
type Store struct {
	db        *sqlx.DB
	forUpdate string
}

var _ storage.SpriteStore = (*Store)(nil)
var _ storage.WalletStore = (*Store)(nil)

// Open connects to dsn and verifies the connection. SQLite handles are
// limited to one connection so transactions never interleave.
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	s := &Store{db: db}
	if db.DriverName() == DriverPostgres {
		s.forUpdate = " FOR UPDATE"
	}
	return s
}

type spriteRow struct {
	ID             string    `db:"id"`
	UserID         string    `db:"user_id"`
	AnimalID       string    `db:"animal_id"`
	Breed          string    `db:"breed"`
	Colour         string    `db:"colour"`
	URL            string    `db:"url"`
	Satiation      int       `db:"satiation"`
	Activity       string    `db:"activity_state"`
	StandingToday  int       `db:"time_in_standing_today"`
	RunningToday   int       `db:"time_in_running_today"`
	LastObservedAt time.Time `db:"last_observed_at"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

const spriteColumns = `id, user_id, animal_id, breed, colour, url, satiation, activity_state,
	time_in_standing_today, time_in_running_today, last_observed_at, created_at, updated_at`

func (r spriteRow) toDomain() (sprite.Sprite, error) {
	activity, err := sprite.ParseActivity(r.Activity)
	if err != nil {
		return sprite.Sprite{}, fmt.Errorf("sprite %s: %w", r.ID, err)
	}
	return sprite.Sprite{
		ID:       r.ID,
		UserID:   r.UserID,
		AnimalID: r.AnimalID,
		Breed:    sprite.Breed(r.Breed),
		Colour:   sprite.Colour(r.Colour),
		URL:      r.URL,
		State: sprite.State{
			Satiation:            r.Satiation,
			Activity:             activity,
			StandingMinutesToday: r.StandingToday,
			RunningMinutesToday:  r.RunningToday,
			LastObservedAt:       r.LastObservedAt.UTC(),
		},
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}, nil
}

func rowFromSprite(sp sprite.Sprite) spriteRow {
	return spriteRow{
		ID:             sp.ID,
		UserID:         sp.UserID,
		AnimalID:       sp.AnimalID,
		Breed:          string(sp.Breed),
		Colour:         string(sp.Colour),
		URL:            sp.URL,
		Satiation:      sp.Satiation,
		Activity:       string(sp.Activity),
		StandingToday:  sp.StandingMinutesToday,
		RunningToday:   sp.RunningMinutesToday,
		LastObservedAt: sp.LastObservedAt.UTC(),
		CreatedAt:      sp.CreatedAt,
		UpdatedAt:      sp.UpdatedAt,
	}
}

type walletRow struct {
	UserID    string    `db:"user_id"`
	Tokens    int64     `db:"tokens"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r walletRow) toDomain() wallet.Wallet {
	return wallet.Wallet{
		UserID:    r.UserID,
		Tokens:    r.Tokens,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type transactionRow struct {
	ID           string    `db:"id"`
	UserID       string    `db:"user_id"`
	Type         string    `db:"type"`
	Amount       int64     `db:"amount"`
	BalanceAfter int64     `db:"balance_after"`
	Reference    string    `db:"reference"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r transactionRow) toDomain() wallet.Transaction {
	return wallet.Transaction{
		ID:           r.ID,
		UserID:       r.UserID,
		Type:         wallet.TransactionType(r.Type),
		Amount:       r.Amount,
		BalanceAfter: r.BalanceAfter,
		Reference:    r.Reference,
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

// --- SpriteStore ------------------------------------------------------------

func (s *Store) CreateSprite(ctx context.Context, sp sprite.Sprite) (sprite.Sprite, error) {
	if sp.ID == "" {
		sp.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sp.CreatedAt = now
	sp.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO sprites (`+spriteColumns+`)
		VALUES (:id, :user_id, :animal_id, :breed, :colour, :url, :satiation, :activity_state,
			:time_in_standing_today, :time_in_running_today, :last_observed_at, :created_at, :updated_at)
	`, rowFromSprite(sp))
	if err != nil {
		if isUniqueViolation(err) {
			return sprite.Sprite{}, storage.ErrAnimalFostered
		}
		return sprite.Sprite{}, err
	}
	return sp, nil
}

func (s *Store) GetSprite(ctx context.Context, id string) (sprite.Sprite, error) {
	return getSprite(ctx, s.db, s.db.Rebind(`SELECT `+spriteColumns+` FROM sprites WHERE id = ?`), id)
}

func (s *Store) ListSprites(ctx context.Context, userID string) ([]sprite.Sprite, error) {
	var (
		rows []spriteRow
		err  error
	)
	if userID == "" {
		err = s.db.SelectContext(ctx, &rows, `SELECT `+spriteColumns+` FROM sprites ORDER BY created_at, id`)
	} else {
		err = s.db.SelectContext(ctx, &rows,
			s.db.Rebind(`SELECT `+spriteColumns+` FROM sprites WHERE user_id = ? ORDER BY created_at, id`), userID)
	}
	if err != nil {
		return nil, err
	}

	result := make([]sprite.Sprite, 0, len(rows))
	for _, row := range rows {
		sp, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, sp)
	}
	return result, nil
}

func (s *Store) DeleteSprite(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM sprites WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("sprite %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) UpdateSprite(ctx context.Context, id string, fn storage.SpriteMutation) (sprite.Sprite, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return sprite.Sprite{}, err
	}
	defer func() { _ = tx.Rollback() }()

	sp, err := s.lockSprite(ctx, tx, id)
	if err != nil {
		return sprite.Sprite{}, err
	}
	if err := fn(&sp); err != nil {
		return sprite.Sprite{}, err
	}
	sp.UpdatedAt = time.Now().UTC()
	if err := updateSprite(ctx, tx, sp); err != nil {
		return sprite.Sprite{}, err
	}
	if err := tx.Commit(); err != nil {
		return sprite.Sprite{}, err
	}
	return sp, nil
}

// UpdateSpriteWithWallet locks the sprite before the wallet. Credits lock
// only the wallet, so no two transactions wait on each other in a cycle.
func (s *Store) UpdateSpriteWithWallet(ctx context.Context, id, userID, reference string, fn storage.FeedMutation) (sprite.Sprite, wallet.Wallet, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return sprite.Sprite{}, wallet.Wallet{}, err
	}
	defer func() { _ = tx.Rollback() }()

	sp, err := s.lockSprite(ctx, tx, id)
	if err != nil {
		return sprite.Sprite{}, wallet.Wallet{}, err
	}
	w, err := s.lockWallet(ctx, tx, userID)
	if err != nil {
		return sprite.Sprite{}, wallet.Wallet{}, err
	}

	ledger := wallet.NewLedger(w.Tokens)
	if err := fn(&sp, ledger); err != nil {
		return sprite.Sprite{}, wallet.Wallet{}, err
	}

	now := time.Now().UTC()
	sp.UpdatedAt = now
	if err := updateSprite(ctx, tx, sp); err != nil {
		return sprite.Sprite{}, wallet.Wallet{}, err
	}

	if debited := ledger.Debited(); debited > 0 {
		w.Tokens = ledger.Balance()
		w.UpdatedAt = now
		if err := updateWallet(ctx, tx, w); err != nil {
			return sprite.Sprite{}, wallet.Wallet{}, err
		}
		txn := wallet.Transaction{
			ID:           uuid.NewString(),
			UserID:       userID,
			Type:         wallet.TransactionDebit,
			Amount:       debited,
			BalanceAfter: w.Tokens,
			Reference:    reference,
			CreatedAt:    now,
		}
		if err := insertTransaction(ctx, tx, txn); err != nil {
			return sprite.Sprite{}, wallet.Wallet{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return sprite.Sprite{}, wallet.Wallet{}, err
	}
	return sp, w, nil
}

// --- WalletStore ------------------------------------------------------------

func (s *Store) GetWallet(ctx context.Context, userID string) (wallet.Wallet, error) {
	var row walletRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind(`SELECT user_id, tokens, created_at, updated_at FROM wallets WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return wallet.Wallet{UserID: userID}, nil
	}
	if err != nil {
		return wallet.Wallet{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) CreditWallet(ctx context.Context, userID string, amount int64, reference string) (wallet.Wallet, wallet.Transaction, error) {
	if amount <= 0 {
		return wallet.Wallet{}, wallet.Transaction{}, fmt.Errorf("credit amount must be positive")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wallet.Wallet{}, wallet.Transaction{}, err
	}
	defer func() { _ = tx.Rollback() }()

	w, err := s.lockWallet(ctx, tx, userID)
	if err != nil {
		return wallet.Wallet{}, wallet.Transaction{}, err
	}

	now := time.Now().UTC()
	w.Tokens += amount
	w.UpdatedAt = now
	txn := wallet.Transaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         wallet.TransactionCredit,
		Amount:       amount,
		BalanceAfter: w.Tokens,
		Reference:    reference,
		CreatedAt:    now,
	}
	if err := insertTransaction(ctx, tx, txn); err != nil {
		if isUniqueViolation(err) {
			return wallet.Wallet{}, wallet.Transaction{}, storage.ErrDuplicateCredit
		}
		return wallet.Wallet{}, wallet.Transaction{}, err
	}
	if err := updateWallet(ctx, tx, w); err != nil {
		return wallet.Wallet{}, wallet.Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return wallet.Wallet{}, wallet.Transaction{}, err
	}
	return w, txn, nil
}

func (s *Store) ListWalletTransactions(ctx context.Context, userID string, limit int) ([]wallet.Transaction, error) {
	query := `SELECT id, user_id, type, amount, balance_after, reference, created_at
		FROM wallet_transactions WHERE user_id = ? ORDER BY created_at DESC`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []transactionRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	result := make([]wallet.Transaction, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

// --- helpers ----------------------------------------------------------------

func getSprite(ctx context.Context, q sqlx.QueryerContext, query, id string) (sprite.Sprite, error) {
	var row spriteRow
	if err := sqlx.GetContext(ctx, q, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sprite.Sprite{}, fmt.Errorf("sprite %s: %w", id, storage.ErrNotFound)
		}
		return sprite.Sprite{}, err
	}
	return row.toDomain()
}

func (s *Store) lockSprite(ctx context.Context, tx *sqlx.Tx, id string) (sprite.Sprite, error) {
	return getSprite(ctx, tx, tx.Rebind(`SELECT `+spriteColumns+` FROM sprites WHERE id = ?`+s.forUpdate), id)
}

// lockWallet creates the wallet row on first use and locks it.
func (s *Store) lockWallet(ctx context.Context, tx *sqlx.Tx, userID string) (wallet.Wallet, error) {
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO wallets (user_id, tokens, created_at, updated_at)
		VALUES (?, 0, ?, ?)
		ON CONFLICT (user_id) DO NOTHING
	`), userID, now, now); err != nil {
		return wallet.Wallet{}, err
	}

	var row walletRow
	if err := tx.GetContext(ctx, &row, tx.Rebind(
		`SELECT user_id, tokens, created_at, updated_at FROM wallets WHERE user_id = ?`+s.forUpdate), userID); err != nil {
		return wallet.Wallet{}, err
	}
	return row.toDomain(), nil
}

func updateSprite(ctx context.Context, tx *sqlx.Tx, sp sprite.Sprite) error {
	result, err := tx.NamedExecContext(ctx, `
		UPDATE sprites
		SET satiation = :satiation, activity_state = :activity_state,
			time_in_standing_today = :time_in_standing_today, time_in_running_today = :time_in_running_today,
			last_observed_at = :last_observed_at, updated_at = :updated_at
		WHERE id = :id
	`, rowFromSprite(sp))
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("sprite %s: %w", sp.ID, storage.ErrNotFound)
	}
	return nil
}

func updateWallet(ctx context.Context, tx *sqlx.Tx, w wallet.Wallet) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE wallets SET tokens = ?, updated_at = ? WHERE user_id = ?`),
		w.Tokens, w.UpdatedAt, w.UserID)
	return err
}

func insertTransaction(ctx context.Context, tx *sqlx.Tx, txn wallet.Transaction) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO wallet_transactions (id, user_id, type, amount, balance_after, reference, created_at)
		VALUES (:id, :user_id, :type, :amount, :balance_after, :reference, :created_at)
	`, transactionRow{
		ID:           txn.ID,
		UserID:       txn.UserID,
		Type:         string(txn.Type),
		Amount:       txn.Amount,
		BalanceAfter: txn.BalanceAfter,
		Reference:    txn.Reference,
		CreatedAt:    txn.CreatedAt,
	})
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
