package validate

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Result is one row of a validation sweep: one variable of one step of one
// compressed stream, measured against the original.
type Result struct {
	Original     string
	Compressed   string
	Variable     string
	Step         int64
	Operator     string
	ErrorBound   float64
	MaxAbsError  float64
	RMSE         float64
	PSNR         float64
	RawBytes     int64
	EncodedBytes int64
	CreatedAt    time.Time
}

// ReportStore persists sweep results in SQLite so runs can be compared
// across operators and error bounds.
type ReportStore struct {
	db *sql.DB
}

// OpenReport opens (and initializes) a report database.
func OpenReport(path string) (*ReportStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open report database: %w", err)
	}
	s := &ReportStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *ReportStore) Close() error {
	return s.db.Close()
}

func (s *ReportStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		original TEXT NOT NULL,
		compressed TEXT NOT NULL,
		variable TEXT NOT NULL,
		step INTEGER NOT NULL,
		operator TEXT NOT NULL,
		error_bound REAL NOT NULL,
		max_abs_error REAL NOT NULL,
		rmse REAL NOT NULL,
		psnr REAL,
		raw_bytes INTEGER,
		encoded_bytes INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_results_sweep
		ON results (operator, error_bound, variable, step);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create report schema: %w", err)
	}
	return nil
}

// Insert records one result row.
func (s *ReportStore) Insert(r Result) error {
	_, err := s.db.Exec(`
		INSERT INTO results
			(original, compressed, variable, step, operator, error_bound,
			 max_abs_error, rmse, psnr, raw_bytes, encoded_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Original, r.Compressed, r.Variable, r.Step, r.Operator, r.ErrorBound,
		r.MaxAbsError, r.RMSE, nullableFloat(r.PSNR), r.RawBytes, r.EncodedBytes,
	)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}

// ListByOperator returns all results for one operator, newest sweep first.
func (s *ReportStore) ListByOperator(op string) ([]Result, error) {
	rows, err := s.db.Query(`
		SELECT original, compressed, variable, step, operator, error_bound,
		       max_abs_error, rmse, psnr, raw_bytes, encoded_bytes, created_at
		FROM results
		WHERE operator = ?
		ORDER BY created_at DESC, error_bound ASC, variable ASC, step ASC`, op)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var (
			r    Result
			psnr sql.NullFloat64
		)
		err := rows.Scan(&r.Original, &r.Compressed, &r.Variable, &r.Step,
			&r.Operator, &r.ErrorBound, &r.MaxAbsError, &r.RMSE, &psnr,
			&r.RawBytes, &r.EncodedBytes, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if psnr.Valid {
			r.PSNR = psnr.Float64
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// nullableFloat maps non-finite metric values to NULL, which SQLite cannot
// store as REAL.
func nullableFloat(v float64) any {
	if v != v || v > 1e308 || v < -1e308 {
		return nil
	}
	return v
}
