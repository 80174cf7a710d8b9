package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kenwu020902/MT5-SDS/internal/model"
)

// SQLiteConfig configures the SQLite sink.
type SQLiteConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/decisions.db"
}

// SQLiteSink is the durable audit trail. Single writer connection in WAL
// mode; decision volume is one record per bar at most, so inserts go straight
// through without batching.
type SQLiteSink struct {
	db  *sql.DB
	log *slog.Logger
}

// DB returns the underlying sql.DB for health checks.
func (s *SQLiteSink) DB() *sql.DB { return s.db }

// NewSQLiteSink opens the database, enables WAL mode, and creates the schema.
func NewSQLiteSink(cfg SQLiteConfig, log *slog.Logger) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log = log.With(slog.String("component", "journal.sqlite"))
	log.Info("opened database", slog.String("path", cfg.DBPath))
	return &SQLiteSink{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS proposals (
			id          TEXT    NOT NULL PRIMARY KEY,
			symbol      TEXT    NOT NULL,
			action      TEXT    NOT NULL,
			entry_price REAL    NOT NULL,
			stop_loss   REAL    NOT NULL,
			take_profit REAL    NOT NULL,
			size        REAL    NOT NULL,
			confidence  REAL    NOT NULL,
			reason      TEXT,
			created_at  INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS order_outcomes (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			ticket         INTEGER NOT NULL,
			symbol         TEXT    NOT NULL,
			order_type     TEXT    NOT NULL,
			price          REAL    NOT NULL,
			outcome        TEXT    NOT NULL,
			classification TEXT,
			recorded_at    INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_proposals_symbol_ts
			ON proposals (symbol, created_at);
		CREATE INDEX IF NOT EXISTS idx_outcomes_ticket
			ON order_outcomes (ticket);
	`)
	return err
}

// InsertProposal persists one trade proposal.
func (s *SQLiteSink) InsertProposal(p model.TradeProposal) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO proposals
			(id, symbol, action, entry_price, stop_loss, take_profit, size, confidence, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Symbol, string(p.Action), p.EntryPrice, p.StopLoss, p.TakeProfit,
		p.PositionSize, p.Confidence, p.Reason, p.CreatedAt.Unix())
	return err
}

// InsertOutcome persists one approval verdict.
func (s *SQLiteSink) InsertOutcome(o model.OrderInfo, outcome, classification string) error {
	_, err := s.db.Exec(`
		INSERT INTO order_outcomes
			(ticket, symbol, order_type, price, outcome, classification, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.Ticket, o.Symbol, string(o.Type), o.Price, outcome, classification, time.Now().Unix())
	return err
}

// RecentProposals returns the newest proposals for a symbol, newest first.
func (s *SQLiteSink) RecentProposals(symbol string, limit int) ([]model.TradeProposal, error) {
	rows, err := s.db.Query(`
		SELECT id, symbol, action, entry_price, stop_loss, take_profit, size, confidence, reason, created_at
		FROM proposals WHERE symbol = ?
		ORDER BY created_at DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TradeProposal
	for rows.Next() {
		var p model.TradeProposal
		var action string
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.Symbol, &action, &p.EntryPrice, &p.StopLoss,
			&p.TakeProfit, &p.PositionSize, &p.Confidence, &p.Reason, &createdAt); err != nil {
			return nil, err
		}
		p.Action = model.ProposalAction(action)
		p.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
