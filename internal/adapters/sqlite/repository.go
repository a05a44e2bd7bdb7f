package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"execCore/internal/domain"
	"execCore/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.ExecutionRepository using SQLite. Snapshots are
// stored as JSON next to the columns used for lookups.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

var _ ports.ExecutionRepository = (*Repository)(nil)

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string // ":memory:" opens a private in-memory database
	Logger ports.Logger
}

// JournalEntry is one row of the event journal.
type JournalEntry struct {
	Seq           int64
	EventID       string
	Kind          domain.EventKind
	ClientOrderID domain.ClientOrderID
	OccurredAt    time.Time
	Payload       json.RawMessage
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/exec_core.db" // Default path
	}

	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000" // WAL mode for better concurrency
	if dbPath == ":memory:" {
		dsn = dbPath
	} else {
		// Create data directory if it doesn't exist
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
			cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// One connection: the engine writes from a single goroutine, and an
	// in-memory database lives only as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS orders (
		client_order_id TEXT PRIMARY KEY,
		venue TEXT NOT NULL,
		account_id TEXT NOT NULL,
		instrument_id TEXT NOT NULL,
		strategy_id TEXT NOT NULL,
		status TEXT NOT NULL,
		initialized_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		snapshot TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		instrument_id TEXT NOT NULL,
		net_qty TEXT NOT NULL,
		is_open INTEGER NOT NULL,
		opened_at INTEGER NOT NULL,
		snapshot TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		updated_at INTEGER NOT NULL,
		snapshot TEXT NOT NULL
	);

	-- event ids are not unique: a deterministic id factory repeats them
	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		client_order_id TEXT NULL,
		occurred_at INTEGER NOT NULL,
		payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status);
	CREATE INDEX IF NOT EXISTS idx_positions_open ON positions (is_open);
	CREATE INDEX IF NOT EXISTS idx_events_client_order_id ON events (client_order_id);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// SaveOrder upserts the order snapshot.
func (r *Repository) SaveOrder(ctx context.Context, o domain.Order) error {
	const query = `
	INSERT INTO orders (client_order_id, venue, account_id, instrument_id, strategy_id, status, initialized_at, updated_at, snapshot)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(client_order_id) DO UPDATE SET
		status = excluded.status, updated_at = excluded.updated_at, snapshot = excluded.snapshot`

	snapshot, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to encode order %s: %w", o.ClientOrderID, err)
	}
	_, err = r.db.ExecContext(ctx, query,
		string(o.ClientOrderID), string(o.Venue), o.AccountID.String(), o.InstrumentID.String(), string(o.StrategyID),
		string(o.Status), unixNano(o.InitializedAt), unixNano(o.UpdatedAt), string(snapshot))
	if err != nil {
		return fmt.Errorf("failed to save order %s: %w: %w", o.ClientOrderID, ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Order saved", map[string]interface{}{"clientOrderId": o.ClientOrderID, "status": o.Status})
	return nil
}

// SavePosition upserts the position snapshot.
func (r *Repository) SavePosition(ctx context.Context, p domain.Position) error {
	const query = `
	INSERT INTO positions (id, account_id, instrument_id, net_qty, is_open, opened_at, snapshot)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		net_qty = excluded.net_qty, is_open = excluded.is_open, opened_at = excluded.opened_at, snapshot = excluded.snapshot`

	snapshot, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode position %s: %w", p.ID, err)
	}
	_, err = r.db.ExecContext(ctx, query,
		string(p.ID), p.AccountID.String(), p.InstrumentID.String(), p.NetQty.String(), p.IsOpen(), unixNano(p.OpenedAt), string(snapshot))
	if err != nil {
		return fmt.Errorf("failed to save position %s: %w: %w", p.ID, ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Position saved", map[string]interface{}{"positionId": p.ID, "netQty": p.NetQty.String()})
	return nil
}

// SaveAccount upserts the account snapshot.
func (r *Repository) SaveAccount(ctx context.Context, a domain.Account) error {
	const query = `
	INSERT INTO accounts (id, updated_at, snapshot) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at, snapshot = excluded.snapshot`

	snapshot, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode account %s: %w", a.ID, err)
	}
	if _, err := r.db.ExecContext(ctx, query, a.ID.String(), unixNano(a.UpdatedAt), string(snapshot)); err != nil {
		return fmt.Errorf("failed to save account %s: %w: %w", a.ID, ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Account saved", map[string]interface{}{"account": a.ID.String()})
	return nil
}

// AppendEvent adds ev to the journal.
func (r *Repository) AppendEvent(ctx context.Context, ev domain.Event) error {
	const query = `
	INSERT INTO events (event_id, kind, client_order_id, occurred_at, payload)
	VALUES (?, ?, ?, ?, ?)`

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Kind(), err)
	}
	var clientOrderID sql.NullString
	if oe, ok := ev.(domain.OrderEvent); ok {
		clientOrderID = sql.NullString{String: string(oe.OrderHeader().ClientOrderID), Valid: true}
	}
	_, err = r.db.ExecContext(ctx, query, ev.EventID().String(), string(ev.Kind()), clientOrderID, unixNano(ev.OccurredAt()), string(payload))
	if err != nil {
		return fmt.Errorf("failed to journal %s event: %w: %w", ev.Kind(), ports.ErrInsertFailed, err)
	}
	return nil
}

// LoadOrders returns all stored orders ordered by initialization time.
func (r *Repository) LoadOrders(ctx context.Context) ([]domain.Order, error) {
	const query = `SELECT snapshot FROM orders ORDER BY initialized_at, client_order_id`
	orders := make([]domain.Order, 0)
	err := r.loadSnapshots(ctx, query, func(raw []byte) error {
		var o domain.Order
		if err := json.Unmarshal(raw, &o); err != nil {
			return err
		}
		orders = append(orders, o)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	return orders, nil
}

// LoadPositions returns all stored positions ordered by opening time.
func (r *Repository) LoadPositions(ctx context.Context) ([]domain.Position, error) {
	const query = `SELECT snapshot FROM positions ORDER BY opened_at, id`
	positions := make([]domain.Position, 0)
	err := r.loadSnapshots(ctx, query, func(raw []byte) error {
		var p domain.Position
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		positions = append(positions, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}
	return positions, nil
}

// LoadAccounts returns all stored accounts.
func (r *Repository) LoadAccounts(ctx context.Context) ([]domain.Account, error) {
	const query = `SELECT snapshot FROM accounts ORDER BY id`
	accounts := make([]domain.Account, 0)
	err := r.loadSnapshots(ctx, query, func(raw []byte) error {
		var a domain.Account
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		accounts = append(accounts, a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	return accounts, nil
}

// Journal returns journal entries after seq in append order, at most limit rows (0 for all).
func (r *Repository) Journal(ctx context.Context, afterSeq int64, limit int) ([]JournalEntry, error) {
	query := `
	SELECT seq, event_id, kind, client_order_id, occurred_at, payload
	FROM events WHERE seq > ? ORDER BY seq`
	args := []interface{}{afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event journal: %w", err)
	}
	defer rows.Close()

	entries := make([]JournalEntry, 0)
	for rows.Next() {
		entry, err := scanJournalEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal rows: %w", err)
	}
	return entries, nil
}

// CountEvents returns the number of journaled events for an order, or all events when id is empty.
func (r *Repository) CountEvents(ctx context.Context, id domain.ClientOrderID) (int, error) {
	query := `SELECT COUNT(*) FROM events`
	var args []interface{}
	if id != "" {
		query += ` WHERE client_order_id = ?`
		args = append(args, string(id))
	}
	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count journal events: %w", err)
	}
	return count, nil
}

func (r *Repository) loadSnapshots(ctx context.Context, query string, decode func([]byte) error) error {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return err
		}
		if err := decode([]byte(raw)); err != nil {
			return fmt.Errorf("%w: %w", ports.ErrQueryFailed, err)
		}
	}
	return rows.Err()
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJournalEntry(s scanner) (JournalEntry, error) {
	var e JournalEntry
	var kind, payload string
	var clientOrderID sql.NullString
	var occurred int64
	if err := s.Scan(&e.Seq, &e.EventID, &kind, &clientOrderID, &occurred, &payload); err != nil {
		return JournalEntry{}, err
	}
	e.Kind = domain.EventKind(kind)
	if clientOrderID.Valid {
		e.ClientOrderID = domain.ClientOrderID(clientOrderID.String)
	}
	if occurred != 0 {
		e.OccurredAt = time.Unix(0, occurred).UTC()
	}
	e.Payload = json.RawMessage(payload)
	return e, nil
}
