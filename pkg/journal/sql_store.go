package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/proofpay/pkg/chain"
)

const schema = `
CREATE TABLE IF NOT EXISTS tx_log (
	height BIGINT PRIMARY KEY,
	time BIGINT NOT NULL,
	sender TEXT NOT NULL,
	method TEXT NOT NULL,
	args TEXT NOT NULL,
	result TEXT NOT NULL,
	events TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	hash TEXT NOT NULL UNIQUE
);
`

// SQLStore implements Store using database/sql.
// It supports both Postgres and SQLite; only the placeholder style differs.
type SQLStore struct {
	db        *sql.DB
	dollarArg bool
}

// NewPostgresStore wraps an open Postgres handle.
func NewPostgresStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, dollarArg: true}
}

// NewSQLiteStore wraps an open SQLite handle.
func NewSQLiteStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// OpenPostgres connects and creates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := NewPostgresStore(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens the database file at path and creates the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := NewSQLiteStore(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create tx_log: %w", err)
	}
	return nil
}

// bind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) bind(query string) string {
	if !s.dollarArg {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Record(ctx context.Context, rec *chain.TxRecord) error {
	events, err := json.Marshal(rec.Events)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	head := chain.GenesisHash
	err = tx.QueryRowContext(ctx, s.bind(`SELECT hash FROM tx_log ORDER BY height DESC LIMIT 1`)).Scan(&head)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read head: %w", err)
	}
	if rec.PrevHash != head {
		return fmt.Errorf("%w: height %d links to %s, head is %s", ErrOutOfOrder, rec.Height, rec.PrevHash, head)
	}

	_, err = tx.ExecContext(ctx, s.bind(`
		INSERT INTO tx_log (height, time, sender, method, args, result, events, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		rec.Height, rec.Time, rec.Sender.String(), rec.Method,
		string(rec.Args), string(rec.Result), string(events), rec.PrevHash, rec.Hash,
	)
	if err != nil {
		return fmt.Errorf("insert height %d: %w", rec.Height, err)
	}
	return tx.Commit()
}

func (s *SQLStore) Load(ctx context.Context, from uint64) ([]*chain.TxRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(`
		SELECT height, time, sender, method, args, result, events, prev_hash, hash
		FROM tx_log
		WHERE height >= ?
		ORDER BY height ASC
	`), from)
	if err != nil {
		return nil, fmt.Errorf("query tx_log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*chain.TxRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) Get(ctx context.Context, height uint64) (*chain.TxRecord, error) {
	row := s.db.QueryRowContext(ctx, s.bind(`
		SELECT height, time, sender, method, args, result, events, prev_hash, hash
		FROM tx_log
		WHERE height = ?
	`), height)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (s *SQLStore) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*chain.TxRecord, error) {
	var (
		rec                  chain.TxRecord
		sender               string
		args, result, events string
	)
	if err := row.Scan(&rec.Height, &rec.Time, &sender, &rec.Method, &args, &result, &events, &rec.PrevHash, &rec.Hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan tx_log: %w", err)
	}
	addr, err := chain.ParseAddress(sender)
	if err != nil {
		return nil, fmt.Errorf("height %d: %w", rec.Height, err)
	}
	rec.Sender = addr
	rec.Args = json.RawMessage(args)
	rec.Result = json.RawMessage(result)
	if err := json.Unmarshal([]byte(events), &rec.Events); err != nil {
		return nil, fmt.Errorf("height %d: decode events: %w", rec.Height, err)
	}
	return &rec, nil
}
