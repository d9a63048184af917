package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"CryptoRelay/internal/domain/models"
	applogger "CryptoRelay/pkg/logger"
)

// DefaultAveragesLimit bounds FindBySymbol, matching the in-memory hourly slots.
const DefaultAveragesLimit = 24

// SQLDB is the subset of *sql.DB the store needs.
type SQLDB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ClickHouseAverageStore persists hourly averages in a ReplacingMergeTree
// keyed by (symbol, hour), so a re-saved hour replaces the earlier row.
type ClickHouseAverageStore struct {
	db       SQLDB
	database string
	table    string
	l        *applogger.Logger
	now      func() time.Time
}

func NewClickHouseAverageStore(db SQLDB, database string) *ClickHouseAverageStore {
	return &ClickHouseAverageStore{
		db:       db,
		database: database,
		table:    database + ".hourly_averages",
		now:      time.Now,
	}
}

// SetLogger injects a structured logger.
func (s *ClickHouseAverageStore) SetLogger(l *applogger.Logger) { s.l = l }

// SchemaStatements returns the idempotent DDL for the store.
func (s *ClickHouseAverageStore) SchemaStatements() []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            symbol     String,
            hour       DateTime64(3, 'UTC'),
            average    Float64,
            count      UInt32,
            updated_at DateTime64(3, 'UTC')
        ) ENGINE = ReplacingMergeTree(updated_at)
        ORDER BY (symbol, hour)`, s.table),
	}
}

// Init creates the database and table if missing.
func (s *ClickHouseAverageStore) Init(ctx context.Context) error {
	for _, stmt := range s.SchemaStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init average schema: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseAverageStore) Save(ctx context.Context, avg models.HourlyAverage) error {
	hour, err := time.Parse(models.HourLayout, avg.Hour)
	if err != nil {
		return fmt.Errorf("save average %s: bad hour %q: %w", avg.Symbol, avg.Hour, err)
	}
	q := fmt.Sprintf("INSERT INTO %s (symbol, hour, average, count, updated_at) VALUES (?, ?, ?, ?, ?)", s.table)
	if _, err := s.db.ExecContext(ctx, q, avg.Symbol, hour, avg.Average, uint32(avg.Count), s.now().UTC()); err != nil {
		s.logError("clickhouse save_average error", avg.Symbol, err)
		return fmt.Errorf("save average %s: %w", avg.Symbol, err)
	}
	return nil
}

// FindBySymbol returns up to DefaultAveragesLimit averages, newest hour first.
func (s *ClickHouseAverageStore) FindBySymbol(ctx context.Context, symbol string) ([]models.HourlyAverage, error) {
	q := fmt.Sprintf(`
        SELECT symbol, hour, argMax(average, updated_at), argMax(count, updated_at)
        FROM %s
        WHERE symbol = ?
        GROUP BY symbol, hour
        ORDER BY hour DESC
        LIMIT %d`, s.table, DefaultAveragesLimit)
	rows, err := s.db.QueryContext(ctx, q, symbol)
	if err != nil {
		s.logError("clickhouse find_averages query error", symbol, err)
		return nil, fmt.Errorf("find averages %s: %w", symbol, err)
	}
	defer rows.Close()

	out := make([]models.HourlyAverage, 0, DefaultAveragesLimit)
	for rows.Next() {
		avg, err := scanAverage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan average: %w", err)
		}
		out = append(out, avg)
	}
	return out, rows.Err()
}

// FindLatestBySymbol returns the newest hour for symbol, or nil when none is stored.
func (s *ClickHouseAverageStore) FindLatestBySymbol(ctx context.Context, symbol string) (*models.HourlyAverage, error) {
	q := fmt.Sprintf(`
        SELECT symbol, hour, argMax(average, updated_at), argMax(count, updated_at)
        FROM %s
        WHERE symbol = ?
        GROUP BY symbol, hour
        ORDER BY hour DESC
        LIMIT 1`, s.table)
	avg, err := scanAverage(s.db.QueryRowContext(ctx, q, symbol))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.logError("clickhouse find_latest_average error", symbol, err)
		return nil, fmt.Errorf("find latest average %s: %w", symbol, err)
	}
	return &avg, nil
}

// FindAllLatest returns the newest stored average for each of symbols.
func (s *ClickHouseAverageStore) FindAllLatest(ctx context.Context, symbols []string) (map[string]models.HourlyAverage, error) {
	out := make(map[string]models.HourlyAverage, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ",")
	q := fmt.Sprintf(`
        SELECT symbol, max(hour) AS h, argMax(average, (hour, updated_at)), argMax(count, (hour, updated_at))
        FROM %s
        WHERE symbol IN (%s)
        GROUP BY symbol`, s.table, placeholders)
	args := make([]interface{}, len(symbols))
	for i, sym := range symbols {
		args[i] = sym
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.logError("clickhouse find_all_latest query error", strings.Join(symbols, ","), err)
		return nil, fmt.Errorf("find all latest averages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		avg, err := scanAverage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan average: %w", err)
		}
		out[avg.Symbol] = avg
	}
	return out, rows.Err()
}

func (s *ClickHouseAverageStore) Name() string { return "clickhouse" }

// HandleTick is a no-op: only averages are persisted.
func (s *ClickHouseAverageStore) HandleTick(context.Context, models.PriceTick) error { return nil }

func (s *ClickHouseAverageStore) HandleAverage(ctx context.Context, avg models.HourlyAverage) error {
	return s.Save(ctx, avg)
}

func (s *ClickHouseAverageStore) logError(msg, symbol string, err error) {
	if s.l == nil {
		return
	}
	s.l.Error(msg,
		applogger.String("table", s.table),
		applogger.String("symbol", symbol),
		applogger.Error(err),
	)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAverage(r scanner) (models.HourlyAverage, error) {
	var (
		avg   models.HourlyAverage
		hour  time.Time
		count uint32
	)
	if err := r.Scan(&avg.Symbol, &hour, &avg.Average, &count); err != nil {
		return models.HourlyAverage{}, err
	}
	avg.Hour = hour.UTC().Format(models.HourLayout)
	avg.Count = int(count)
	return avg, nil
}
