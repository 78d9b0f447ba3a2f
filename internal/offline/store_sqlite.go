// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const queueSchema = `
CREATE TABLE IF NOT EXISTS offline_queue (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    content TEXT NOT NULL,
    message_id TEXT NOT NULL DEFAULT '',
    enqueued_at INTEGER NOT NULL
);
`

// SQLiteStore is a durable Store. Queued messages survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the queue database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL", // queued messages must survive power loss
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(queueSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, msg QueuedMessage) (QueuedMessage, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO offline_queue (id, content, message_id, enqueued_at) VALUES (?, ?, ?, ?)",
		msg.ID, msg.Content, msg.MessageID, msg.EnqueuedAt.UnixNano())
	if err != nil {
		return QueuedMessage{}, err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return QueuedMessage{}, err
	}
	msg.Seq = seq
	return msg, nil
}

func (s *SQLiteStore) Head(ctx context.Context) (QueuedMessage, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT seq, id, content, message_id, enqueued_at FROM offline_queue ORDER BY seq LIMIT 1")
	msg, err := scanQueued(row)
	if errors.Is(err, sql.ErrNoRows) {
		return QueuedMessage{}, false, nil
	}
	if err != nil {
		return QueuedMessage{}, false, err
	}
	return msg, true, nil
}

func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM offline_queue WHERE id = ?", id)
	return err
}

func (s *SQLiteStore) List(ctx context.Context) ([]QueuedMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, id, content, message_id, enqueued_at FROM offline_queue ORDER BY seq")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueuedMessage
	for rows.Next() {
		msg, err := scanQueued(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM offline_queue").Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQueued(row scanner) (QueuedMessage, error) {
	var msg QueuedMessage
	var nanos int64
	if err := row.Scan(&msg.Seq, &msg.ID, &msg.Content, &msg.MessageID, &nanos); err != nil {
		return QueuedMessage{}, err
	}
	msg.EnqueuedAt = time.Unix(0, nanos)
	return msg, nil
}
