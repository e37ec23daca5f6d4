// Copyright ORS Proxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlite provides a SQLite-backed ContextStore. It is the default
// backend, selected by "sqlite://" DATABASE_URL values.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/orsproxy/ors-proxy/pkg/core/schema"
	"github.com/orsproxy/ors-proxy/pkg/core/state"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed implementation of state.ContextStore.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at the given DSN and ensures
// the schema exists. Accepts "sqlite://path?mode=rwc", "sqlite::memory:" style
// DSNs or a bare file path.
func New(dsn string) (*Store, error) {
	path, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// modernc/sqlite serializes writes; a small pool avoids SQLITE_BUSY storms.
	db.SetMaxOpenConns(4)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// parseDSN converts a "sqlite://file.db?mode=rwc" URL into a modernc DSN with
// the pragmas the store relies on.
func parseDSN(dsn string) (string, error) {
	path := dsn
	if strings.HasPrefix(dsn, "sqlite://") {
		path = strings.TrimPrefix(dsn, "sqlite://")
	} else if strings.HasPrefix(dsn, "sqlite:") {
		path = strings.TrimPrefix(dsn, "sqlite:")
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		q, err := url.ParseQuery(path[i+1:])
		if err != nil {
			return "", fmt.Errorf("sqlite dsn %q: %w", dsn, err)
		}
		// mode=rwc is the driver default; memory selects an in-memory db.
		if q.Get("mode") == "memory" {
			path = ":memory:"
		} else {
			path = path[:i]
		}
	}
	if path == "" {
		return "", fmt.Errorf("sqlite dsn %q: empty path", dsn)
	}
	// _txlock=immediate: write transactions take the database lock at BEGIN.
	return "file:" + path +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_txlock=immediate", nil
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sequence_index INTEGER NOT NULL,
			item_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			UNIQUE (conversation_id, sequence_index)
		)`,
		`CREATE TABLE IF NOT EXISTS responses (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			created_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite create tables: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateConversation(ctx context.Context) (string, error) {
	id := schema.NewID("conv_")
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, created_at) VALUES (?, ?)`,
		id, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return id, nil
}

func (s *Store) AppendItems(ctx context.Context, conversationID string, items []schema.Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
	if err == sql.ErrNoRows {
		return state.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check conversation: %w", err)
	}

	var maxIdx int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_index), -1) FROM items WHERE conversation_id = ?`,
		conversationID).Scan(&maxIdx)
	if err != nil {
		return fmt.Errorf("max sequence index: %w", err)
	}

	batchCalls := make(map[string]bool)
	for i, it := range items {
		switch it.Type {
		case schema.ItemTypeFunctionCall:
			batchCalls[it.CallID] = true
		case schema.ItemTypeFunctionCallOutput:
			if !batchCalls[it.CallID] {
				ok, err := s.callExists(ctx, tx, conversationID, it.CallID)
				if err != nil {
					return err
				}
				if !ok {
					return state.ErrMissingCall
				}
			}
		}

		payload, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("marshal item: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO items (conversation_id, sequence_index, item_type, payload)
			 VALUES (?, ?, ?, ?)`,
			conversationID, maxIdx+1+i, it.Type, string(payload))
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint") {
				return state.ErrConflict
			}
			return fmt.Errorf("insert item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return state.ErrConflict
		}
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func (s *Store) callExists(ctx context.Context, tx *sql.Tx, conversationID, callID string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM items
		 WHERE conversation_id = ? AND item_type = ?
		   AND json_extract(payload, '$.call_id') = ?`,
		conversationID, schema.ItemTypeFunctionCall, callID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup call %s: %w", callID, err)
	}
	return true, nil
}

func (s *Store) LoadItems(ctx context.Context, conversationID string) ([]schema.Item, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, state.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("check conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM items WHERE conversation_id = ? ORDER BY sequence_index ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	var items []schema.Item
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		var it schema.Item
		if err := json.Unmarshal([]byte(payload), &it); err != nil {
			return nil, fmt.Errorf("unmarshal item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *Store) ResolvePrevious(ctx context.Context, responseID string) (string, error) {
	var conversationID string
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id FROM responses WHERE id = ?`, responseID).Scan(&conversationID)
	if err == sql.ErrNoRows {
		return "", state.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve response %s: %w", responseID, err)
	}
	return conversationID, nil
}

func (s *Store) RecordResponse(ctx context.Context, responseID, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO responses (id, conversation_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET conversation_id = excluded.conversation_id`,
		responseID, conversationID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("record response: %w", err)
	}
	return nil
}

func (s *Store) GetResponse(ctx context.Context, responseID string) (*schema.StoredResponse, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, created_at FROM responses WHERE id = ?`, responseID)

	var resp schema.StoredResponse
	err := row.Scan(&resp.ID, &resp.ConversationID, &resp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, state.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get response: %w", err)
	}
	return &resp, nil
}
