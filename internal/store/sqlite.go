package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/opsxjacky/multistock-rl/pkg/types"
)

// SQLiteRecorder 把运行结果写入 SQLite
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
	now func() time.Time
}

// NewSQLiteRecorder 打开 (或创建) 数据库并执行迁移
func NewSQLiteRecorder(dbPath string, log zerolog.Logger) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{
		db:  db,
		log: log.With().Str("component", "sqlite_recorder").Logger(),
		now: time.Now,
	}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	r.log.Info().Str("path", dbPath).Msg("SQLite recorder opened")
	return r, nil
}

// Open 路径为空时返回 NoopRecorder
func Open(dbPath string, log zerolog.Logger) (Recorder, error) {
	if strings.TrimSpace(dbPath) == "" {
		return NewNoopRecorder(), nil
	}
	return NewSQLiteRecorder(dbPath, log)
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id               TEXT PRIMARY KEY,
			mode             TEXT NOT NULL,
			family           TEXT NOT NULL,
			model_path       TEXT,
			symbols          TEXT,
			start_date       INTEGER,
			end_date         INTEGER,
			steps            INTEGER,
			starting_balance REAL,
			final_balance    REAL,
			final_value      REAL,
			total_return     REAL,
			sharpe           REAL,
			max_drawdown     REAL,
			created_at       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,

		`CREATE TABLE IF NOT EXISTS run_steps (
			run_id  TEXT NOT NULL,
			step    INTEGER NOT NULL,
			date    INTEGER,
			balance REAL,
			value   REAL,
			shares  TEXT,
			PRIMARY KEY (run_id, step)
		)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordRun 在一个事务中写入 runs 和 run_steps
func (r *SQLiteRecorder) RecordRun(ctx context.Context, result *types.EpisodeResult) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	info := result.Info
	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, mode, family, model_path, symbols, start_date, end_date, steps,
		 starting_balance, final_balance, final_value, total_return, sharpe, max_drawdown, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		id, result.Mode, result.Family, result.ModelPath, strings.Join(result.Symbols, ","),
		result.StartDate.Unix(), result.EndDate.Unix(), info.Len(),
		result.StartingBalance, result.FinalBalance, result.FinalValue,
		result.Stats.TotalReturn, result.Stats.Sharpe, result.Stats.MaxDrawdown,
		r.now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_steps (run_id, step, date, balance, value, shares) VALUES (?,?,?,?,?,?)`)
	if err != nil {
		return "", fmt.Errorf("prepare step insert: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < info.Len(); i++ {
		shares, err := json.Marshal(info.NumShares[i])
		if err != nil {
			return "", fmt.Errorf("encode shares: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, id, i, info.Dates[i].Unix(), info.AccountBalance[i], info.TotalPortfolioValue[i], string(shares)); err != nil {
			return "", fmt.Errorf("insert step %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit run: %w", err)
	}

	r.log.Debug().Str("run_id", id).Str("mode", result.Mode).Int("steps", info.Len()).Msg("Run recorded")
	return id, nil
}

// ListRuns 列出最近 limit 条运行, limit <= 0 时返回全部
func (r *SQLiteRecorder) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `SELECT
		id, mode, family, model_path, symbols, start_date, end_date, steps,
		starting_balance, final_balance, final_value, total_return, sharpe, max_drawdown, created_at
		FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			s                       RunSummary
			symbols                 string
			start, end, createdUnix int64
		)
		if err := rows.Scan(&s.ID, &s.Mode, &s.Family, &s.ModelPath, &symbols, &start, &end, &s.Steps,
			&s.StartingBalance, &s.FinalBalance, &s.FinalValue, &s.TotalReturn, &s.Sharpe, &s.MaxDrawdown, &createdUnix); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if symbols != "" {
			s.Symbols = strings.Split(symbols, ",")
		}
		s.StartDate = time.Unix(start, 0).UTC()
		s.EndDate = time.Unix(end, 0).UTC()
		s.CreatedAt = time.Unix(createdUnix, 0).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// StepValues 读取某次运行的逐日总价值
func (r *SQLiteRecorder) StepValues(ctx context.Context, runID string) ([]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, `SELECT value FROM run_steps WHERE run_id = ? ORDER BY step`, runID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info().Msg("Closing SQLite recorder")
	return r.db.Close()
}
