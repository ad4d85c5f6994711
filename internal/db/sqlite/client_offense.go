package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iamwavecut/ngguard/internal/db"
)

type offenseRow struct {
	UserID          int64 `db:"user_id"`
	Count           int   `db:"count"`
	WindowStartedMs int64 `db:"window_started_ms"`
}

func (c *sqliteClient) GetOffenseRecord(ctx context.Context, userID int64) (*db.OffenseRecord, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	row := offenseRow{}
	query := `SELECT user_id, count, window_started_ms FROM offense_records WHERE user_id = ?`
	if err := c.db.GetContext(ctx, &row, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get offense record: %w", err)
	}
	return &db.OffenseRecord{
		UserID:          row.UserID,
		Count:           row.Count,
		WindowStartedAt: fromMillis(row.WindowStartedMs),
	}, nil
}

func (c *sqliteClient) UpsertOffenseRecord(ctx context.Context, record *db.OffenseRecord) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO offense_records (user_id, count, window_started_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
		count = excluded.count,
		window_started_ms = excluded.window_started_ms
	`
	if _, err := c.db.ExecContext(ctx, query, record.UserID, record.Count, toMillis(record.WindowStartedAt)); err != nil {
		return fmt.Errorf("failed to upsert offense record: %w", err)
	}
	return nil
}

func (c *sqliteClient) DeleteOffenseRecord(ctx context.Context, userID int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, err := c.db.ExecContext(ctx, `DELETE FROM offense_records WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete offense record: %w", err)
	}
	return nil
}

func (c *sqliteClient) DeleteOffenseRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	res, err := c.db.ExecContext(ctx, `DELETE FROM offense_records WHERE window_started_ms < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired offense records: %w", err)
	}
	return res.RowsAffected()
}
