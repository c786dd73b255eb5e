// Package storage provides a SQLite-backed journal of allocation cycles and submissions.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/dfbuyer/internal/models"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db        *sql.DB
	maxCycles int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/dfbuyer/journal.db.
func New(maxCycles int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "dfbuyer", "journal.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db, maxCycles: maxCycles}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cycles (
			id              TEXT PRIMARY KEY,
			block_number    INTEGER NOT NULL,
			block_timestamp INTEGER NOT NULL,
			block_gas_limit INTEGER NOT NULL,
			cadence         REAL NOT NULL,
			window_start    INTEGER NOT NULL,
			window_end      INTEGER NOT NULL,
			weekly_limit    REAL NOT NULL,
			consume_so_far  REAL NOT NULL,
			consume_left    REAL NOT NULL,
			consume_target  REAL NOT NULL,
			blocks_left     REAL NOT NULL,
			share_total     INTEGER NOT NULL,
			tx_count        INTEGER NOT NULL,
			total_spent     REAL NOT NULL,
			started_at      INTEGER NOT NULL,
			duration_ns     INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS submissions (
			id              TEXT PRIMARY KEY,
			cycle_id        TEXT NOT NULL REFERENCES cycles(id) ON DELETE CASCADE,
			position        INTEGER NOT NULL,
			topic           TEXT NOT NULL,
			share           INTEGER NOT NULL,
			max_to_spend    REAL NOT NULL,
			price           REAL NOT NULL,
			amount          INTEGER NOT NULL,
			gas_limit       INTEGER NOT NULL,
			txs             TEXT NOT NULL DEFAULT '[]',
			skipped         INTEGER NOT NULL DEFAULT 0,
			skip_reason     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_started_at ON cycles(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_cycle ON submissions(cycle_id, position)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordCycle writes a cycle and its submissions atomically. A report
// without an ID gets a fresh one.
func (s *Storage) RecordCycle(report *models.CycleReport) error {
	if report == nil {
		return fmt.Errorf("nil cycle report")
	}
	if report.ID == "" {
		report.ID = uuid.New().String()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO cycles
			(id, block_number, block_timestamp, block_gas_limit, cadence,
			 window_start, window_end, weekly_limit, consume_so_far, consume_left,
			 consume_target, blocks_left, share_total, tx_count, total_spent,
			 started_at, duration_ns)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		report.ID, report.Block.Number, report.Block.Timestamp, report.Block.GasLimit, report.Cadence,
		report.Budget.Window.Start, report.Budget.Window.End, report.Budget.WeeklyLimit,
		report.Budget.ConsumeSoFar, report.Budget.ConsumeLeft,
		report.Plan.ConsumeTarget, report.Plan.EstimatedBlocksLeft, report.Plan.Total,
		report.TxCount(), report.TotalSpent(),
		report.StartedAt.UnixNano(), int64(report.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to insert cycle: %w", err)
	}

	for i, sub := range report.Submissions {
		txsJSON, err := json.Marshal(sub.Txs)
		if err != nil {
			return fmt.Errorf("failed to marshal txs: %w", err)
		}
		_, err = tx.Exec(`
			INSERT INTO submissions
				(id, cycle_id, position, topic, share, max_to_spend, price, amount,
				 gas_limit, txs, skipped, skip_reason)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
			uuid.New().String(), report.ID, i, string(sub.Topic), sub.Share, sub.MaxToSpend,
			sub.Price, sub.Amount, sub.GasLimit, string(txsJSON), boolToInt(sub.Skipped), sub.SkipReason,
		)
		if err != nil {
			return fmt.Errorf("failed to insert submission: %w", err)
		}
	}

	return tx.Commit()
}

// RecentCycles returns up to k cycles, newest first, with submissions.
func (s *Storage) RecentCycles(k int) ([]models.CycleReport, error) {
	rows, err := s.db.Query(`
		SELECT id, block_number, block_timestamp, block_gas_limit, cadence,
		       window_start, window_end, weekly_limit, consume_so_far, consume_left,
		       consume_target, blocks_left, share_total, started_at, duration_ns
		FROM cycles ORDER BY started_at DESC, block_number DESC LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}

	var reports []models.CycleReport
	for rows.Next() {
		var r models.CycleReport
		var startedAtNano, durationNano int64
		err := rows.Scan(
			&r.ID, &r.Block.Number, &r.Block.Timestamp, &r.Block.GasLimit, &r.Cadence,
			&r.Budget.Window.Start, &r.Budget.Window.End, &r.Budget.WeeklyLimit,
			&r.Budget.ConsumeSoFar, &r.Budget.ConsumeLeft,
			&r.Plan.ConsumeTarget, &r.Plan.EstimatedBlocksLeft, &r.Plan.Total,
			&startedAtNano, &durationNano,
		)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		r.StartedAt = time.Unix(0, startedAtNano)
		r.Duration = time.Duration(durationNano)
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range reports {
		subs, err := s.SubmissionsForCycle(reports[i].ID)
		if err != nil {
			return nil, err
		}
		reports[i].Submissions = subs
		reports[i].Plan.Shares = make([]int, len(subs))
		for j, sub := range subs {
			reports[i].Plan.Shares[j] = sub.Share
		}
	}
	if reports == nil {
		reports = []models.CycleReport{}
	}
	return reports, nil
}

// SubmissionsForCycle returns the submissions of a cycle in topic order.
func (s *Storage) SubmissionsForCycle(cycleID string) ([]models.Submission, error) {
	rows, err := s.db.Query(`
		SELECT topic, share, max_to_spend, price, amount, gas_limit, txs, skipped, skip_reason
		FROM submissions WHERE cycle_id = ? ORDER BY position`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var subs []models.Submission
	for rows.Next() {
		var sub models.Submission
		var topic, txsJSON string
		var skipped int
		var skipReason sql.NullString

		err := rows.Scan(
			&topic, &sub.Share, &sub.MaxToSpend, &sub.Price, &sub.Amount, &sub.GasLimit,
			&txsJSON, &skipped, &skipReason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		if err := json.Unmarshal([]byte(txsJSON), &sub.Txs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal txs: %w", err)
		}
		sub.Topic = models.Topic(topic)
		sub.Skipped = skipped != 0
		sub.SkipReason = skipReason.String
		subs = append(subs, sub)
	}
	if subs == nil {
		subs = []models.Submission{}
	}
	return subs, rows.Err()
}

// CountCycles returns the number of journaled cycles.
func (s *Storage) CountCycles() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM cycles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cycles: %w", err)
	}
	return n, nil
}

// RotateCycles keeps at most maxCycles newest cycles by started_at.
// Cascading deletes remove associated submissions.
func (s *Storage) RotateCycles() error {
	_, err := s.db.Exec(`
		DELETE FROM cycles WHERE id NOT IN (
			SELECT id FROM cycles ORDER BY started_at DESC LIMIT ?
		)`, s.maxCycles)
	if err != nil {
		return fmt.Errorf("failed to rotate cycles: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
