// Package store persists ledger balances and the per-command idempotency
// records in PostgreSQL. All command processing runs inside a single
// transaction obtained through WithinTx so that an idempotency record and the
// balance mutations it covers commit or roll back together.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openbank/command-handler/internal/models"
)

var (
	// ErrDuplicateKey signals that another transaction already committed a
	// record for this command id. Callers must re-read and return the
	// winner's record instead of failing.
	ErrDuplicateKey = errors.New("command already recorded")
	// ErrDuplicateAccount signals an insert for an iban that already has a
	// ledger row.
	ErrDuplicateAccount = errors.New("account already exists")
)

const uniqueViolation = "23505"

// Tx is the set of operations available inside a ledger transaction.
// Lookups return (nil, nil) when no row exists.
type Tx interface {
	CreationRecord(ctx context.Context, commandID string) (*models.CreationRecord, error)
	InsertCreationRecord(ctx context.Context, rec *models.CreationRecord) error
	TransferRecord(ctx context.Context, commandID string) (*models.TransferRecord, error)
	InsertTransferRecord(ctx context.Context, rec *models.TransferRecord) error
	Balance(ctx context.Context, iban string) (*models.Balance, error)
	BalanceForUpdate(ctx context.Context, iban string) (*models.Balance, error)
	InsertBalance(ctx context.Context, b *models.Balance) error
	AdjustBalance(ctx context.Context, iban string, delta int64) (*models.Balance, error)
}

// TxRunner runs a function within one atomic transaction.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

type Store struct {
	db *pgxpool.Pool
}

// New builds a store around a fresh connection pool and verifies connectivity.
func New(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{db: pool}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

// WithinTx runs fn inside a RepeatableRead transaction, committing on nil and
// rolling back otherwise.
func (s *Store) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) CreationRecord(ctx context.Context, commandID string) (*models.CreationRecord, error) {
	var rec models.CreationRecord
	err := t.tx.QueryRow(ctx,
		`SELECT command_id, COALESCE(iban, ''), COALESCE(token, ''), COALESCE(account_type, ''), COALESCE(reason, ''), created_at
		 FROM creation_records WHERE command_id = $1`,
		commandID,
	).Scan(&rec.CommandID, &rec.Iban, &rec.Token, &rec.Type, &rec.Reason, &rec.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("creation record query failed: %w", err)
	}
	return &rec, nil
}

func (t *ledgerTx) InsertCreationRecord(ctx context.Context, rec *models.CreationRecord) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO creation_records (command_id, iban, token, account_type, reason)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''))
		 RETURNING created_at`,
		rec.CommandID, rec.Iban, rec.Token, rec.Type, rec.Reason,
	).Scan(&rec.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("creation record insert failed: %w", err)
	}
	return nil
}

func (t *ledgerTx) TransferRecord(ctx context.Context, commandID string) (*models.TransferRecord, error) {
	var rec models.TransferRecord
	err := t.tx.QueryRow(ctx,
		`SELECT command_id, COALESCE(reason, ''), created_at FROM transfer_records WHERE command_id = $1`,
		commandID,
	).Scan(&rec.CommandID, &rec.Reason, &rec.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transfer record query failed: %w", err)
	}
	return &rec, nil
}

func (t *ledgerTx) InsertTransferRecord(ctx context.Context, rec *models.TransferRecord) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO transfer_records (command_id, reason) VALUES ($1, NULLIF($2, '')) RETURNING created_at`,
		rec.CommandID, rec.Reason,
	).Scan(&rec.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("transfer record insert failed: %w", err)
	}
	return nil
}

const balanceColumns = `iban, token, amount, account_type, lmt, created_at, updated_at`

func (t *ledgerTx) Balance(ctx context.Context, iban string) (*models.Balance, error) {
	return t.balanceQuery(ctx, `SELECT `+balanceColumns+` FROM balances WHERE iban = $1`, iban)
}

// BalanceForUpdate locks the row until the transaction ends. Callers must
// acquire locks in lexical iban order to avoid deadlock.
func (t *ledgerTx) BalanceForUpdate(ctx context.Context, iban string) (*models.Balance, error) {
	return t.balanceQuery(ctx, `SELECT `+balanceColumns+` FROM balances WHERE iban = $1 FOR UPDATE`, iban)
}

func (t *ledgerTx) balanceQuery(ctx context.Context, query, iban string) (*models.Balance, error) {
	var b models.Balance
	err := t.tx.QueryRow(ctx, query, iban).
		Scan(&b.Iban, &b.Token, &b.Amount, &b.AccountType, &b.Limit, &b.CreatedAt, &b.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("balance query failed: %w", err)
	}
	return &b, nil
}

func (t *ledgerTx) InsertBalance(ctx context.Context, b *models.Balance) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO balances (iban, token, amount, account_type, lmt)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		b.Iban, b.Token, b.Amount, b.AccountType, b.Limit,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateAccount
	}
	if err != nil {
		return fmt.Errorf("balance insert failed: %w", err)
	}
	return nil
}

// AdjustBalance applies delta to the row and returns the post-mutation
// snapshot. The caller is expected to hold the row lock already.
func (t *ledgerTx) AdjustBalance(ctx context.Context, iban string, delta int64) (*models.Balance, error) {
	var b models.Balance
	err := t.tx.QueryRow(ctx,
		`UPDATE balances SET amount = amount + $1, updated_at = now()
		 WHERE iban = $2
		 RETURNING `+balanceColumns,
		delta, iban,
	).Scan(&b.Iban, &b.Token, &b.Amount, &b.AccountType, &b.Limit, &b.CreatedAt, &b.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("balance update failed: %w", err)
	}
	return &b, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
