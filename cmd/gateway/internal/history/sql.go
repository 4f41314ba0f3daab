package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/shubham-shewale/quote-fanout/pkg/models"
)

var _ Store = (*SQLStore)(nil)

var schema = map[string][]string{
	"sqlite": {
		`CREATE TABLE IF NOT EXISTS quotes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			price TEXT NOT NULL,
			bid_price TEXT NOT NULL,
			ask_price TEXT NOT NULL,
			volume TEXT NOT NULL,
			exchange TEXT NOT NULL DEFAULT '',
			ts INTEGER NOT NULL,
			seq INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_quotes_symbol_ts ON quotes(symbol, ts);`,
		`CREATE INDEX IF NOT EXISTS idx_quotes_ts ON quotes(ts);`,
	},
	"postgres": {
		`CREATE TABLE IF NOT EXISTS quotes (
			id BIGSERIAL PRIMARY KEY,
			symbol TEXT NOT NULL,
			price NUMERIC NOT NULL,
			bid_price NUMERIC NOT NULL,
			ask_price NUMERIC NOT NULL,
			volume NUMERIC NOT NULL,
			exchange TEXT NOT NULL DEFAULT '',
			ts BIGINT NOT NULL,
			seq BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_quotes_symbol_ts ON quotes(symbol, ts);`,
		`CREATE INDEX IF NOT EXISTS idx_quotes_ts ON quotes(ts);`,
	},
}

const quoteColumns = `symbol, price, bid_price, ask_price, volume, exchange, ts, seq`

// SQLStore keeps history in a quotes table through database/sql. Timestamps
// are stored as unix micro.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQL opens and migrates a sqlite file or a postgres database.
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	if _, ok := schema[driver]; !ok {
		return nil, fmt.Errorf("history: unsupported sql driver %q", driver)
	}
	if driver == "sqlite" && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA busy_timeout=3000;"} {
			if _, err := db.Exec(pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	store, err := NewSQLStore(db, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an already opened database and creates the schema.
func NewSQLStore(db *sql.DB, driver string) (*SQLStore, error) {
	stmts, ok := schema[driver]
	if !ok {
		return nil, fmt.Errorf("history: unsupported sql driver %q", driver)
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("migrate quotes: %w", err)
		}
	}
	return &SQLStore{db: db, driver: driver}, nil
}

// rebind turns ? placeholders into $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Append(ctx context.Context, q models.Quote) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO quotes (`+quoteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		q.Symbol, q.Price, q.BidPrice, q.AskPrice, q.Volume, q.Exchange, q.Timestamp.UnixMicro(), q.Seq,
	)
	if err != nil {
		return fmt.Errorf("insert quote %s: %w", q.Symbol, err)
	}
	return nil
}

func (s *SQLStore) Range(ctx context.Context, symbol string, from, to time.Time) ([]models.Quote, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+quoteColumns+` FROM quotes
		WHERE symbol = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC, id ASC`),
		symbol, from.UnixMicro(), to.UnixMicro(),
	)
	if err != nil {
		return nil, fmt.Errorf("query range %s: %w", symbol, err)
	}
	return scanQuotes(rows)
}

func (s *SQLStore) Latest(ctx context.Context, symbol string, n int) ([]models.Quote, error) {
	if n <= 0 {
		return []models.Quote{}, nil
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+quoteColumns+` FROM (
			SELECT id, `+quoteColumns+` FROM quotes
			WHERE symbol = ?
			ORDER BY ts DESC, id DESC
			LIMIT ?
		) AS recent
		ORDER BY ts ASC, id ASC`),
		symbol, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query latest %s: %w", symbol, err)
	}
	return scanQuotes(rows)
}

func (s *SQLStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM quotes WHERE ts < ?`), before.UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("prune quotes: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanQuotes(rows *sql.Rows) ([]models.Quote, error) {
	defer rows.Close()

	out := []models.Quote{}
	for rows.Next() {
		var (
			q  models.Quote
			ts int64
		)
		if err := rows.Scan(&q.Symbol, &q.Price, &q.BidPrice, &q.AskPrice, &q.Volume, &q.Exchange, &ts, &q.Seq); err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		q.Timestamp = time.UnixMicro(ts).UTC()
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quotes: %w", err)
	}
	return out, nil
}
