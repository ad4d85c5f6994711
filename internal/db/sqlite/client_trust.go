package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iamwavecut/ngguard/internal/db"
)

type trustRow struct {
	ChatID        int64 `db:"chat_id"`
	UserID        int64 `db:"user_id"`
	Streak        int   `db:"streak"`
	Trusted       bool  `db:"trusted"`
	LastUpdatedMs int64 `db:"last_updated_ms"`
}

func (c *sqliteClient) GetTrustRecord(ctx context.Context, chatID, userID int64) (*db.TrustRecord, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	row := trustRow{}
	query := `SELECT chat_id, user_id, streak, trusted, last_updated_ms FROM trust_records WHERE chat_id = ? AND user_id = ?`
	if err := c.db.GetContext(ctx, &row, query, chatID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get trust record: %w", err)
	}
	return &db.TrustRecord{
		ChatID:      row.ChatID,
		UserID:      row.UserID,
		Streak:      row.Streak,
		Trusted:     row.Trusted,
		LastUpdated: fromMillis(row.LastUpdatedMs),
	}, nil
}

func (c *sqliteClient) UpsertTrustRecord(ctx context.Context, record *db.TrustRecord) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO trust_records (chat_id, user_id, streak, trusted, last_updated_ms)
		VALUES (:chat_id, :user_id, :streak, :trusted, :last_updated_ms)
		ON CONFLICT(chat_id, user_id) DO UPDATE SET
		streak = excluded.streak,
		trusted = excluded.trusted,
		last_updated_ms = excluded.last_updated_ms
	`
	_, err := c.db.NamedExecContext(ctx, query, trustRow{
		ChatID:        record.ChatID,
		UserID:        record.UserID,
		Streak:        record.Streak,
		Trusted:       record.Trusted,
		LastUpdatedMs: toMillis(record.LastUpdated),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert trust record: %w", err)
	}
	return nil
}

func (c *sqliteClient) DeleteTrustRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	res, err := c.db.ExecContext(ctx, `DELETE FROM trust_records WHERE last_updated_ms < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale trust records: %w", err)
	}
	return res.RowsAffected()
}
