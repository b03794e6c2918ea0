package budget

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore 将每笔支出追加到 llm_search_charges，重启后用于恢复本期累计值
type PostgresStore struct {
	db *sql.DB
}

// Ensure PostgresStore implements Recorder
var _ Recorder = (*PostgresStore)(nil)

// NewPostgresStore 通过 DSN 连接数据库并初始化表结构
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewPostgresStoreWithDB(ctx, db)
}

// NewPostgresStoreWithDB 使用已有连接
func NewPostgresStoreWithDB(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS llm_search_charges (
			id SERIAL PRIMARY KEY,
			provider TEXT NOT NULL DEFAULT '',
			amount DOUBLE PRECISION NOT NULL,
			charged_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_llm_search_charges_charged_at ON llm_search_charges (charged_at)`,
	}
	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}
	return nil
}

// Record 在一个事务中写入一组支出
func (s *PostgresStore) Record(ctx context.Context, charges []Charge, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range charges {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO llm_search_charges (provider, amount, charged_at)
			VALUES ($1, $2, $3)`,
			c.Provider, c.Amount, at.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert charge: %w", err)
		}
	}
	return tx.Commit()
}

// Load 返回 now 所在 UTC 日的总支出和所在 UTC 月各供应商的支出
func (s *PostgresStore) Load(ctx context.Context, now time.Time) (float64, map[string]float64, error) {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var daily float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM llm_search_charges WHERE charged_at >= $1`,
		dayStart).Scan(&daily)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to load daily spend: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, SUM(amount) FROM llm_search_charges
		WHERE charged_at >= $1 AND provider <> ''
		GROUP BY provider`, monthStart)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to load monthly spend: %w", err)
	}
	defer rows.Close()

	monthly := map[string]float64{}
	for rows.Next() {
		var provider string
		var amount float64
		if err := rows.Scan(&provider, &amount); err != nil {
			return 0, nil, err
		}
		monthly[provider] = amount
	}
	return daily, monthly, rows.Err()
}

// Restore 从存储加载本期累计值写入 Guard
func Restore(ctx context.Context, g *Guard, s *PostgresStore) error {
	daily, monthly, err := s.Load(ctx, g.now())
	if err != nil {
		return err
	}
	g.Seed(daily, monthly)
	return nil
}
