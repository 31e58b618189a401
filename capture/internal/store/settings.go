package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/hazyhaar/pagesnap/dbopen"
)

// SetSetting stores v as JSON under key.
func (s *Store) SetSetting(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: setting %s: %w", key, err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(b), time.Now().UnixMilli())
	return err
}

// GetSetting decodes the value stored under key into dst. It reports false
// when the key is absent.
func (s *Store) GetSetting(ctx context.Context, key string, dst any) (bool, error) {
	var raw string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("store: setting %s: %w", key, err)
	}
	return true, nil
}

// Settings returns every stored setting as raw JSON.
func (s *Store) Settings(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = json.RawMessage(v)
	}
	return out, rows.Err()
}

// DeleteSetting removes key.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	return err
}

// AddDenyPattern stores a denylist pattern. Adding an existing pattern is a
// no-op.
func (s *Store) AddDenyPattern(ctx context.Context, pattern string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO denylist (pattern, created_at) VALUES (?, ?)
		ON CONFLICT(pattern) DO NOTHING`, pattern, time.Now().UnixMilli())
	return err
}

// RemoveDenyPattern deletes a denylist pattern.
func (s *Store) RemoveDenyPattern(ctx context.Context, pattern string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM denylist WHERE pattern = ?`, pattern)
	return err
}

// DenyPatterns returns the stored patterns in insertion order.
func (s *Store) DenyPatterns(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT pattern FROM denylist ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReplaceDenylist swaps the whole denylist in one transaction.
func (s *Store) ReplaceDenylist(ctx context.Context, patterns []string) error {
	now := time.Now().UnixMilli()
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM denylist`); err != nil {
			return err
		}
		for i, p := range patterns {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO denylist (pattern, created_at) VALUES (?, ?)
				ON CONFLICT(pattern) DO NOTHING`, p, now+int64(i)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Fingerprint returns a hash of every settings and denylist row. It changes
// whenever an override is added, edited or removed.
func (s *Store) Fingerprint(ctx context.Context) (int64, error) {
	h := fnv.New64a()
	rows, err := s.DB.QueryContext(ctx, `
		SELECT 's', key, value FROM settings
		UNION ALL
		SELECT 'd', pattern, '' FROM denylist
		ORDER BY 1, 2`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind, k, v string
		if err := rows.Scan(&kind, &k, &v); err != nil {
			return 0, err
		}
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00", kind, k, v)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return int64(h.Sum64() & math.MaxInt64), nil
}
