package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/claude/splits/internal/models"
)

// LoadSessionState returns the stored live session, or nil when the slot
// is empty or the record carries no session.
func (db *DB) LoadSessionState(ctx context.Context) (*models.SessionState, error) {
	var data string
	err := db.Conn.QueryRowContext(ctx, `SELECT data FROM session_state WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying session state: %w", err)
	}
	return models.DecodeSessionState([]byte(data))
}

// SaveSessionState replaces the stored live session.
func (db *DB) SaveSessionState(ctx context.Context, s models.SessionState) error {
	data, err := models.EncodeSessionState(s)
	if err != nil {
		return err
	}
	_, err = db.Conn.ExecContext(ctx,
		`INSERT INTO session_state (id, session_id, data, updated_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET session_id = excluded.session_id, data = excluded.data, updated_at = excluded.updated_at`,
		s.SessionID, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("saving session state: %w", err)
	}
	return nil
}

// ClearSessionState empties the live session slot.
func (db *DB) ClearSessionState(ctx context.Context) error {
	if _, err := db.Conn.ExecContext(ctx, `DELETE FROM session_state`); err != nil {
		return fmt.Errorf("clearing session state: %w", err)
	}
	return nil
}
