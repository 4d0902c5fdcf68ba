/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Persists participants, groups, payment rows and credit accounts. The
  ledger engine runs unchanged over this store or the in-memory one.

INTERFACES IMPLEMENTED:
  ledger.ParticipantStore: Participant documents (soft-archived, never purged)
  ledger.GroupStore:       Sacrifice groups
  ledger.PaymentStore:     Per-month payment rows
  ledger.CreditStore:      Credit balance + transaction log
  ledger.Subscriber:       Change notifications after each committed write

KEY TABLES:
  participants:        One row per participant
  participant_groups:  Groups ("groups" is reserved in SQLite)
  payments:            Payment rows. (participant_id, month) is indexed but
                       NOT unique: legacy duplicates must stay loadable so the
                       integrity scan can report them.
  participant_credits: Current balance per participant
  credit_transactions: Append-only credit log

ORDERING:
  List queries order by rowid, which is insertion order. Upserts via
  ON CONFLICT DO UPDATE keep the original rowid.

CREDIT ATOMICITY:
  UpdateCredit reads the account, runs the caller's mutation and writes the
  new balance plus the appended log entries inside one sql.Tx. Any error
  rolls back the whole thing.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of SQLite's single writer.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so readers do not block
  the writer.

USAGE:
  store, err := sqlite.New("./data/korban.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store, ledger.DefaultConfig(), logger)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/surau/korban-ledger/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	ledger.Broadcaster

	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.Store = (*Store)(nil)
var _ ledger.Subscriber = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS participant_groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS participants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT,
		email TEXT,
		group_id TEXT,
		sacrifice_type TEXT NOT NULL,
		created_at TEXT NOT NULL,
		archived_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_participants_group
		ON participants(group_id) WHERE group_id IS NOT NULL;

	-- No foreign key to participants: orphaned rows must survive so the
	-- integrity scan can find them.
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		participant_id TEXT NOT NULL,
		month TEXT NOT NULL,
		amount TEXT NOT NULL,
		is_paid BOOLEAN NOT NULL DEFAULT FALSE,
		paid_date TEXT,
		note TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_participant_month
		ON payments(participant_id, month);

	CREATE TABLE IF NOT EXISTS participant_credits (
		participant_id TEXT PRIMARY KEY,
		balance TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Append-only
	CREATE TABLE IF NOT EXISTS credit_transactions (
		id TEXT PRIMARY KEY,
		participant_id TEXT NOT NULL,
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		receipt_id TEXT,
		month TEXT,
		description TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_credit_transactions_participant
		ON credit_transactions(participant_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PARTICIPANTS (ledger.ParticipantStore)
// =============================================================================

const participantColumns = `id, name, phone, email, group_id, sacrifice_type, created_at, archived_at`

func (s *Store) GetParticipant(ctx context.Context, id ledger.ParticipantID) (ledger.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+participantColumns+" FROM participants WHERE id = ?", id)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Participant{}, ledger.ErrNotFound
	}
	return p, err
}

func (s *Store) ListParticipants(ctx context.Context) ([]ledger.Participant, error) {
	return s.queryParticipants(ctx,
		"SELECT "+participantColumns+" FROM participants ORDER BY rowid")
}

func (s *Store) ListParticipantsByGroup(ctx context.Context, groupID ledger.GroupID) ([]ledger.Participant, error) {
	return s.queryParticipants(ctx,
		"SELECT "+participantColumns+" FROM participants WHERE group_id = ? ORDER BY rowid", groupID)
}

// CreateParticipant inserts p. An existing row with the same ID is left
// untouched and ledger.ErrDuplicateParticipant is returned.
func (s *Store) CreateParticipant(ctx context.Context, p ledger.Participant) (ledger.ParticipantID, error) {
	s.mu.Lock()
	query := `
		INSERT INTO participants (` + participantColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, participantArgs(p)...)
	s.mu.Unlock()
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return "", ledger.ErrDuplicateParticipant
	}
	if err != nil {
		return "", fmt.Errorf("failed to save participant: %w", err)
	}

	s.Publish(ledger.Change{Collection: ledger.CollectionParticipants, ID: string(p.ID)})
	return p.ID, nil
}

func (s *Store) UpdateParticipant(ctx context.Context, p ledger.Participant) error {
	s.mu.Lock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE participants
		SET name = ?, phone = ?, email = ?, group_id = ?, sacrifice_type = ?, archived_at = ?
		WHERE id = ?`,
		p.Name, nullString(p.Phone), nullString(p.Email), nullString(string(p.GroupID)),
		string(p.SacrificeType), nullTime(p.ArchivedAt), p.ID,
	)
	s.mu.Unlock()
	if err := requireAffected(res, err, "update participant"); err != nil {
		return err
	}

	s.Publish(ledger.Change{Collection: ledger.CollectionParticipants, ID: string(p.ID)})
	return nil
}

// DeleteParticipant hard-deletes a participant row for data repair. Its
// payments are left behind and show up as orphans in the integrity scan.
func (s *Store) DeleteParticipant(ctx context.Context, id ledger.ParticipantID) error {
	s.mu.Lock()
	res, err := s.db.ExecContext(ctx, "DELETE FROM participants WHERE id = ?", id)
	s.mu.Unlock()
	if err := requireAffected(res, err, "delete participant"); err != nil {
		return err
	}

	s.Publish(ledger.Change{Collection: ledger.CollectionParticipants, ID: string(id), Deleted: true})
	return nil
}

func (s *Store) queryParticipants(ctx context.Context, query string, args ...any) ([]ledger.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	var out []ledger.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func participantArgs(p ledger.Participant) []any {
	return []any{
		p.ID, p.Name, nullString(p.Phone), nullString(p.Email), nullString(string(p.GroupID)),
		string(p.SacrificeType), formatTime(p.CreatedAt), nullTime(p.ArchivedAt),
	}
}

func scanParticipant(row scanner) (ledger.Participant, error) {
	var (
		p                   ledger.Participant
		phone, email, group sql.NullString
		sacrificeType       string
		createdAt           string
		archivedAt          sql.NullString
	)
	err := row.Scan(&p.ID, &p.Name, &phone, &email, &group, &sacrificeType, &createdAt, &archivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan participant: %w", err)
	}
	p.Phone = phone.String
	p.Email = email.String
	p.GroupID = ledger.GroupID(group.String)
	p.SacrificeType = ledger.SacrificeType(sacrificeType)
	p.CreatedAt = parseTime(createdAt)
	p.ArchivedAt = parseNullTime(archivedAt)
	return p, nil
}

// =============================================================================
// GROUPS (ledger.GroupStore)
// =============================================================================

func (s *Store) GetGroup(ctx context.Context, id ledger.GroupID) (ledger.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var g ledger.Group
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM participant_groups WHERE id = ?", id,
	).Scan(&g.ID, &g.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Group{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Group{}, fmt.Errorf("failed to get group: %w", err)
	}
	g.CreatedAt = parseTime(createdAt)
	return g, nil
}

func (s *Store) ListGroups(ctx context.Context) ([]ledger.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, created_at FROM participant_groups ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var out []ledger.Group
	for rows.Next() {
		var g ledger.Group
		var createdAt string
		if err := rows.Scan(&g.ID, &g.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		g.CreatedAt = parseTime(createdAt)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) CreateGroup(ctx context.Context, g ledger.Group) (ledger.GroupID, error) {
	s.mu.Lock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participant_groups (id, name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		g.ID, g.Name, formatTime(g.CreatedAt),
	)
	s.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("failed to save group: %w", err)
	}

	s.Publish(ledger.Change{Collection: ledger.CollectionGroups, ID: string(g.ID)})
	return g.ID, nil
}

// =============================================================================
// PAYMENTS (ledger.PaymentStore)
// =============================================================================

const paymentColumns = `id, participant_id, month, amount, is_paid, paid_date, note, updated_at`

func (s *Store) FindPayments(ctx context.Context, participantID ledger.ParticipantID, month ledger.Month) ([]ledger.Payment, error) {
	return s.queryPayments(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE participant_id = ? AND month = ? ORDER BY rowid",
		participantID, string(month))
}

func (s *Store) ListPaymentsByParticipant(ctx context.Context, participantID ledger.ParticipantID) ([]ledger.Payment, error) {
	return s.queryPayments(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE participant_id = ? ORDER BY rowid",
		participantID)
}

func (s *Store) ListPayments(ctx context.Context) ([]ledger.Payment, error) {
	return s.queryPayments(ctx, "SELECT "+paymentColumns+" FROM payments ORDER BY rowid")
}

// CreatePayment inserts a row. (participant, month) uniqueness is the
// engine's job, not the schema's.
func (s *Store) CreatePayment(ctx context.Context, p ledger.Payment) (ledger.PaymentID, error) {
	s.mu.Lock()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO payments ("+paymentColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		p.ID, p.ParticipantID, string(p.Month), p.Amount.String(), p.IsPaid,
		nullTime(p.PaidDate), nullString(p.Note), formatTime(p.UpdatedAt),
	)
	s.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("failed to insert payment: %w", err)
	}

	s.Publish(ledger.Change{Collection: ledger.CollectionPayments, ID: string(p.ID)})
	return p.ID, nil
}

func (s *Store) UpdatePayment(ctx context.Context, p ledger.Payment) error {
	s.mu.Lock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET participant_id = ?, month = ?, amount = ?, is_paid = ?, paid_date = ?, note = ?, updated_at = ?
		WHERE id = ?`,
		p.ParticipantID, string(p.Month), p.Amount.String(), p.IsPaid,
		nullTime(p.PaidDate), nullString(p.Note), formatTime(p.UpdatedAt), p.ID,
	)
	s.mu.Unlock()
	if err := requireAffected(res, err, "update payment"); err != nil {
		return err
	}

	s.Publish(ledger.Change{Collection: ledger.CollectionPayments, ID: string(p.ID)})
	return nil
}

func (s *Store) DeletePayment(ctx context.Context, id ledger.PaymentID) error {
	s.mu.Lock()
	res, err := s.db.ExecContext(ctx, "DELETE FROM payments WHERE id = ?", id)
	s.mu.Unlock()
	if err := requireAffected(res, err, "delete payment"); err != nil {
		return err
	}

	s.Publish(ledger.Change{Collection: ledger.CollectionPayments, ID: string(id), Deleted: true})
	return nil
}

func (s *Store) queryPayments(ctx context.Context, query string, args ...any) ([]ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []ledger.Payment
	for rows.Next() {
		var (
			p         ledger.Payment
			month     string
			amount    string
			paidDate  sql.NullString
			note      sql.NullString
			updatedAt string
		)
		if err := rows.Scan(&p.ID, &p.ParticipantID, &month, &amount, &p.IsPaid, &paidDate, &note, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.Month = ledger.Month(month)
		p.Amount = parseMoney(amount)
		p.PaidDate = parseNullTime(paidDate)
		p.Note = note.String
		p.UpdatedAt = parseTime(updatedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// CREDITS (ledger.CreditStore)
// =============================================================================

func (s *Store) GetCredit(ctx context.Context, participantID ledger.ParticipantID) (ledger.ParticipantCredit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, found, err := loadCredit(ctx, s.db, participantID)
	if err != nil {
		return ledger.ParticipantCredit{}, err
	}
	if !found {
		return ledger.ParticipantCredit{}, ledger.ErrNotFound
	}
	return c, nil
}

// UpdateCredit runs fn against the current account inside a database
// transaction. New log entries appended by fn are inserted; existing entries
// are never rewritten.
func (s *Store) UpdateCredit(ctx context.Context, participantID ledger.ParticipantID, fn func(*ledger.ParticipantCredit) error) error {
	s.mu.Lock()
	err := s.updateCreditLocked(ctx, participantID, fn)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.Publish(ledger.Change{Collection: ledger.CollectionCredits, ID: string(participantID)})
	return nil
}

func (s *Store) updateCreditLocked(ctx context.Context, participantID ledger.ParticipantID, fn func(*ledger.ParticipantCredit) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	current, found, err := loadCredit(ctx, sqlTx, participantID)
	if err != nil {
		return err
	}
	if !found {
		current = ledger.ParticipantCredit{ParticipantID: participantID, Balance: ledger.ZeroMoney()}
	}
	logged := len(current.Transactions)

	working := current.Clone()
	if err := fn(&working); err != nil {
		return err
	}
	if len(working.Transactions) < logged {
		return fmt.Errorf("credit log for %s shrank from %d to %d entries", participantID, logged, len(working.Transactions))
	}

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO participant_credits (participant_id, balance, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(participant_id) DO UPDATE SET
			balance = excluded.balance,
			updated_at = excluded.updated_at`,
		participantID, working.Balance.String(), formatTime(working.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save credit balance: %w", err)
	}

	for _, tx := range working.Transactions[logged:] {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO credit_transactions
			(id, participant_id, date, amount, tx_type, receipt_id, month, description)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			tx.ID, participantID, formatTime(tx.Date), tx.Amount.String(), string(tx.Type),
			nullString(tx.ReceiptID), nullString(string(tx.Month)), nullString(tx.Description),
		)
		if err != nil {
			return fmt.Errorf("failed to append credit transaction: %w", err)
		}
	}

	return sqlTx.Commit()
}

func loadCredit(ctx context.Context, q querier, participantID ledger.ParticipantID) (ledger.ParticipantCredit, bool, error) {
	c := ledger.ParticipantCredit{ParticipantID: participantID}

	var balance, updatedAt string
	err := q.QueryRowContext(ctx,
		"SELECT balance, updated_at FROM participant_credits WHERE participant_id = ?", participantID,
	).Scan(&balance, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, false, nil
	}
	if err != nil {
		return c, false, fmt.Errorf("failed to get credit: %w", err)
	}
	c.Balance = parseMoney(balance)
	c.UpdatedAt = parseTime(updatedAt)

	rows, err := q.QueryContext(ctx, `
		SELECT id, date, amount, tx_type, receipt_id, month, description
		FROM credit_transactions
		WHERE participant_id = ?
		ORDER BY rowid`, participantID)
	if err != nil {
		return c, false, fmt.Errorf("failed to query credit transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tx                   ledger.CreditTransaction
			date, amount, txType string
			receipt, month, desc sql.NullString
		)
		if err := rows.Scan(&tx.ID, &date, &amount, &txType, &receipt, &month, &desc); err != nil {
			return c, false, fmt.Errorf("failed to scan credit transaction: %w", err)
		}
		tx.Date = parseTime(date)
		tx.Amount = parseMoney(amount)
		tx.Type = ledger.CreditTxType(txType)
		tx.ReceiptID = receipt.String
		tx.Month = ledger.Month(month.String)
		tx.Description = desc.String
		c.Transactions = append(c.Transactions, tx)
	}
	return c, true, rows.Err()
}

// Helper functions

type scanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func requireAffected(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || strings.TrimSpace(s.String) == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func parseMoney(s string) ledger.Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ledger.ZeroMoney()
	}
	return ledger.Money{Value: d}
}
