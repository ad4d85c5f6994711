package db

import "time"

type FingerprintKind string

const (
	FingerprintText  FingerprintKind = "text"
	FingerprintImage FingerprintKind = "image"
)

type (
	// TrustRecord is the streak state of one (chat, user) subject.
	TrustRecord struct {
		ChatID      int64     `db:"chat_id"`
		UserID      int64     `db:"user_id"`
		Streak      int       `db:"streak"`
		Trusted     bool      `db:"trusted"`
		LastUpdated time.Time `db:"-"`
	}

	// OffenseRecord counts confirmed spam for a user across chats inside a
	// rolling window.
	OffenseRecord struct {
		UserID          int64     `db:"user_id"`
		Count           int       `db:"count"`
		WindowStartedAt time.Time `db:"-"`
	}

	SpamFingerprint struct {
		ID        int64           `db:"id"`
		Kind      FingerprintKind `db:"kind"`
		Text      string          `db:"text"`
		ImageHash string          `db:"image_hash"`
		ChatID    int64           `db:"chat_id"`
		MessageID int             `db:"message_id"`
		CreatedAt time.Time       `db:"-"`
	}
)
