package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stagekit/stagehand/internal/types"
)

// Set stores value under (namespace, key), replacing any previous
// record. The value is marshaled to JSON.
func (s *Store) Set(namespace, key string, value any) error {
	return s.SetContext(context.Background(), namespace, key, value)
}

// SetContext stores a record with context support.
func (s *Store) SetContext(ctx context.Context, namespace, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return &types.PersistenceError{Op: "set", Key: key, Err: fmt.Errorf("marshal: %w", err)}
	}

	query := `
	INSERT INTO snapshots (namespace, key, value, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(namespace, key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`

	_, err = s.conn.ExecContext(ctx, query, namespace, key, string(data), time.Now().Format(time.RFC3339))
	if err != nil {
		return &types.PersistenceError{Op: "set", Key: namespace + "/" + key, Err: err}
	}
	return nil
}

// Get loads the record at (namespace, key) into out. It reports
// whether the record existed.
func (s *Store) Get(namespace, key string, out any) (bool, error) {
	return s.GetContext(context.Background(), namespace, key, out)
}

// GetContext loads a record with context support.
func (s *Store) GetContext(ctx context.Context, namespace, key string, out any) (bool, error) {
	var value string
	err := s.conn.QueryRowContext(ctx,
		`SELECT value FROM snapshots WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &types.PersistenceError{Op: "get", Key: namespace + "/" + key, Err: err}
	}

	if err := json.Unmarshal([]byte(value), out); err != nil {
		return false, &types.PersistenceError{Op: "get", Key: namespace + "/" + key, Err: fmt.Errorf("unmarshal: %w", err)}
	}
	return true, nil
}

// Delete removes the record at (namespace, key). Removing an absent
// record is not an error (idempotent).
func (s *Store) Delete(namespace, key string) error {
	return s.DeleteContext(context.Background(), namespace, key)
}

// DeleteContext removes a record with context support.
func (s *Store) DeleteContext(ctx context.Context, namespace, key string) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM snapshots WHERE namespace = ? AND key = ?`,
		namespace, key,
	)
	if err != nil {
		return &types.PersistenceError{Op: "delete", Key: namespace + "/" + key, Err: err}
	}
	return nil
}

// Clear removes every record in a namespace.
func (s *Store) Clear(namespace string) error {
	return s.ClearContext(context.Background(), namespace)
}

// ClearContext removes a namespace with context support.
func (s *Store) ClearContext(ctx context.Context, namespace string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM snapshots WHERE namespace = ?`, namespace)
	if err != nil {
		return &types.PersistenceError{Op: "clear", Key: namespace, Err: err}
	}
	return nil
}

// List returns every record in a namespace keyed by record key.
func (s *Store) List(namespace string) (map[string]json.RawMessage, error) {
	return s.ListContext(context.Background(), namespace)
}

// ListContext returns a namespace's records with context support.
func (s *Store) ListContext(ctx context.Context, namespace string) (map[string]json.RawMessage, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT key, value FROM snapshots WHERE namespace = ? ORDER BY key ASC`,
		namespace,
	)
	if err != nil {
		return nil, &types.PersistenceError{Op: "list", Key: namespace, Err: err}
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, &types.PersistenceError{Op: "list", Key: namespace, Err: err}
		}
		out[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.PersistenceError{Op: "list", Key: namespace, Err: err}
	}
	return out, nil
}

// Count returns the number of records in a namespace.
func (s *Store) Count(namespace string) (int, error) {
	return s.CountContext(context.Background(), namespace)
}

// CountContext returns a namespace's record count with context support.
func (s *Store) CountContext(ctx context.Context, namespace string) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE namespace = ?`, namespace,
	).Scan(&count)
	if err != nil {
		return 0, &types.PersistenceError{Op: "count", Key: namespace, Err: err}
	}
	return count, nil
}
