// Package store provides optional sqlite persistence for execution
// results.
//
// The pipeline keeps its authoritative ledger in memory; the store only
// makes terminal results durable across restarts, keyed by request ID.
// Everything works with the store absent (nil), per the dispatcher's
// contract.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tokenbot/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS execution_results (
	request_id   TEXT PRIMARY KEY,
	request      TEXT NOT NULL,
	success      INTEGER NOT NULL,
	tx_hash      TEXT,
	exec_ns      INTEGER NOT NULL,
	error        TEXT,
	completed_at INTEGER NOT NULL
);`

// Store persists execution results to a sqlite database file.
// All operations are mutex-protected; sqlite handles one writer at a time.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveResult upserts a terminal result by request ID.
func (s *Store) SaveResult(res types.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reqJSON, err := json.Marshal(res.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO execution_results
			(request_id, request, success, tx_hash, exec_ns, error, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			request = excluded.request,
			success = excluded.success,
			tx_hash = excluded.tx_hash,
			exec_ns = excluded.exec_ns,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		res.Request.ID,
		string(reqJSON),
		res.Success,
		res.TxHash,
		res.ExecutionTime.Nanoseconds(),
		res.Error,
		res.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// LoadResult fetches a persisted result by request ID.
// Returns nil, nil when no row exists.
func (s *Store) LoadResult(requestID string) (*types.ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT request, success, tx_hash, exec_ns, error, completed_at
		FROM execution_results WHERE request_id = ?`, requestID)

	var (
		reqJSON     string
		success     bool
		txHash      sql.NullString
		execNS      int64
		errText     sql.NullString
		completedAt int64
	)
	if err := row.Scan(&reqJSON, &success, &txHash, &execNS, &errText, &completedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load result: %w", err)
	}

	var req types.TransactionRequest
	if err := json.Unmarshal([]byte(reqJSON), &req); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}

	return &types.ExecutionResult{
		Request:       req,
		Success:       success,
		TxHash:        txHash.String,
		ExecutionTime: time.Duration(execNS),
		Error:         errText.String,
		Timestamp:     time.Unix(0, completedAt),
	}, nil
}
