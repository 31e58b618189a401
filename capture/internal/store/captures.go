package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Capture is one row of the capture history.
type Capture struct {
	ID               string `json:"id"`
	URL              string `json:"url"`
	State            string `json:"state"`
	Reason           string `json:"reason,omitempty"`
	Message          string `json:"message,omitempty"`
	StartedAt        int64  `json:"started_at"`
	FinishedAt       int64  `json:"finished_at,omitempty"`
	AssetsTotal      int    `json:"assets_total"`
	AssetsDownloaded int    `json:"assets_downloaded"`
	AssetsFailed     int    `json:"assets_failed"`
	AssetsSkipped    int    `json:"assets_skipped"`
	CoveragePct      int    `json:"coverage_pct"`
	ArchiveBytes     int64  `json:"archive_bytes"`
	ArchivePath      string `json:"archive_path,omitempty"`
}

const captureCols = `id, url, state, reason, message, started_at, finished_at,
	assets_total, assets_downloaded, assets_failed, assets_skipped,
	coverage_pct, archive_bytes, archive_path`

// InsertCapture records a session that has just started.
func (s *Store) InsertCapture(ctx context.Context, c *Capture) error {
	if c.StartedAt == 0 {
		c.StartedAt = time.Now().UnixMilli()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO captures (id, url, state, started_at)
		VALUES (?, ?, ?, ?)`,
		c.ID, c.URL, c.State, c.StartedAt)
	return err
}

// UpdateState records a state transition of a running session.
func (s *Store) UpdateState(ctx context.Context, id, state string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE captures SET state = ? WHERE id = ?`, state, id)
	return err
}

// FinishCapture stores the terminal state and statistics of a session.
func (s *Store) FinishCapture(ctx context.Context, c *Capture) error {
	if c.FinishedAt == 0 {
		c.FinishedAt = time.Now().UnixMilli()
	}
	_, err := s.DB.ExecContext(ctx, `
		UPDATE captures SET
			state = ?, reason = ?, message = ?, finished_at = ?,
			assets_total = ?, assets_downloaded = ?, assets_failed = ?, assets_skipped = ?,
			coverage_pct = ?, archive_bytes = ?, archive_path = ?
		WHERE id = ?`,
		c.State, c.Reason, c.Message, c.FinishedAt,
		c.AssetsTotal, c.AssetsDownloaded, c.AssetsFailed, c.AssetsSkipped,
		c.CoveragePct, c.ArchiveBytes, c.ArchivePath, c.ID)
	return err
}

// GetCapture returns the capture with id, or nil if there is none.
func (s *Store) GetCapture(ctx context.Context, id string) (*Capture, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+captureCols+` FROM captures WHERE id = ?`, id)
	c, err := scanCapture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// ListCaptures returns the most recent captures first.
func (s *Store) ListCaptures(ctx context.Context, limit int) ([]*Capture, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+captureCols+` FROM captures
		ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkInterrupted fails every capture left in a non-terminal state, as
// happens when the process exits mid-session. It returns the row count.
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE captures SET state = 'failed', reason = 'interrupted', finished_at = ?
		WHERE state NOT IN ('done', 'failed', 'stopped')`, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCapture(sc scanner) (*Capture, error) {
	c := &Capture{}
	var finished sql.NullInt64
	err := sc.Scan(&c.ID, &c.URL, &c.State, &c.Reason, &c.Message, &c.StartedAt, &finished,
		&c.AssetsTotal, &c.AssetsDownloaded, &c.AssetsFailed, &c.AssetsSkipped,
		&c.CoveragePct, &c.ArchiveBytes, &c.ArchivePath)
	if err != nil {
		return nil, err
	}
	c.FinishedAt = finished.Int64
	return c, nil
}
