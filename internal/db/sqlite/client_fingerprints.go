package sqlite

import (
	"context"
	"fmt"

	"github.com/iamwavecut/ngguard/internal/db"
)

type fingerprintRow struct {
	ID        int64  `db:"id"`
	Kind      string `db:"kind"`
	Text      string `db:"text"`
	ImageHash string `db:"image_hash"`
	ChatID    int64  `db:"chat_id"`
	MessageID int    `db:"message_id"`
	CreatedMs int64  `db:"created_ms"`
}

func (c *sqliteClient) AddSpamFingerprint(ctx context.Context, fp *db.SpamFingerprint) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO spam_fingerprints (kind, text, image_hash, chat_id, message_id, created_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	res, err := c.db.ExecContext(ctx, query, string(fp.Kind), fp.Text, fp.ImageHash, fp.ChatID, fp.MessageID, toMillis(fp.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to add spam fingerprint: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		fp.ID = id
	}
	return nil
}

// GetRecentSpamFingerprints returns up to limit newest fingerprints of kind,
// ordered oldest first.
func (c *sqliteClient) GetRecentSpamFingerprints(ctx context.Context, kind db.FingerprintKind, limit int) ([]*db.SpamFingerprint, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var rows []fingerprintRow
	query := `
		SELECT id, kind, text, image_hash, chat_id, message_id, created_ms FROM (
			SELECT * FROM spam_fingerprints WHERE kind = ? ORDER BY created_ms DESC, id DESC LIMIT ?
		) ORDER BY created_ms ASC, id ASC
	`
	if err := c.db.SelectContext(ctx, &rows, query, string(kind), limit); err != nil {
		return nil, fmt.Errorf("failed to get spam fingerprints: %w", err)
	}
	result := make([]*db.SpamFingerprint, 0, len(rows))
	for _, row := range rows {
		result = append(result, &db.SpamFingerprint{
			ID:        row.ID,
			Kind:      db.FingerprintKind(row.Kind),
			Text:      row.Text,
			ImageHash: row.ImageHash,
			ChatID:    row.ChatID,
			MessageID: row.MessageID,
			CreatedAt: fromMillis(row.CreatedMs),
		})
	}
	return result, nil
}

func (c *sqliteClient) TrimSpamFingerprints(ctx context.Context, kind db.FingerprintKind, keep int) (int64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if keep < 0 {
		keep = 0
	}
	query := `
		DELETE FROM spam_fingerprints WHERE kind = ? AND id NOT IN (
			SELECT id FROM spam_fingerprints WHERE kind = ? ORDER BY created_ms DESC, id DESC LIMIT ?
		)
	`
	res, err := c.db.ExecContext(ctx, query, string(kind), string(kind), keep)
	if err != nil {
		return 0, fmt.Errorf("failed to trim spam fingerprints: %w", err)
	}
	return res.RowsAffected()
}
