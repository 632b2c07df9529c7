package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// FundingObservation is one archived funding-rate reading
type FundingObservation struct {
	Symbol     string
	Venue      string
	RateBps    decimal.Decimal
	ObservedAt time.Time
}

// FundingStore archives funding-rate observations in SQLite so the
// funding-scan diagnostic can query history windows across restarts.
type FundingStore struct {
	db *sql.DB
}

// OpenFundingStore opens (or creates) the archive at dbPath
func OpenFundingStore(dbPath string) (*FundingStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open funding db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping funding db: %w", err)
	}

	// WAL keeps the archive readable while the scanner appends
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS funding_observations (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol      TEXT NOT NULL,
		venue       TEXT NOT NULL,
		rate_bps    TEXT NOT NULL,
		observed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_funding_symbol_time
		ON funding_observations (symbol, observed_at);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create funding schema: %w", err)
	}

	return &FundingStore{db: db}, nil
}

// Append archives one observation
func (s *FundingStore) Append(ctx context.Context, obs FundingObservation) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO funding_observations (symbol, venue, rate_bps, observed_at) VALUES (?, ?, ?, ?)",
		obs.Symbol, obs.Venue, obs.RateBps.String(), obs.ObservedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to append funding observation: %w", err)
	}
	return nil
}

// Window returns the observations for a symbol since the given time,
// oldest first.
func (s *FundingStore) Window(ctx context.Context, symbol string, since time.Time) ([]FundingObservation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT symbol, venue, rate_bps, observed_at FROM funding_observations WHERE symbol = ? AND observed_at >= ? ORDER BY observed_at ASC",
		symbol, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query funding window: %w", err)
	}
	defer rows.Close()

	var out []FundingObservation
	for rows.Next() {
		var obs FundingObservation
		var rate string
		var ts int64
		if err := rows.Scan(&obs.Symbol, &obs.Venue, &rate, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan funding row: %w", err)
		}
		obs.RateBps, err = decimal.NewFromString(rate)
		if err != nil {
			return nil, fmt.Errorf("corrupt rate in funding row: %w", err)
		}
		obs.ObservedAt = time.Unix(ts, 0)
		out = append(out, obs)
	}
	return out, rows.Err()
}

// Close releases the database handle
func (s *FundingStore) Close() error {
	return s.db.Close()
}
