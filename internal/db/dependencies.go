package db

import (
	"context"
	"time"
)

type Client interface {
	Close() error

	GetTrustRecord(ctx context.Context, chatID, userID int64) (*TrustRecord, error)
	UpsertTrustRecord(ctx context.Context, record *TrustRecord) error
	DeleteTrustRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	GetOffenseRecord(ctx context.Context, userID int64) (*OffenseRecord, error)
	UpsertOffenseRecord(ctx context.Context, record *OffenseRecord) error
	DeleteOffenseRecord(ctx context.Context, userID int64) error
	DeleteOffenseRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	AddSpamFingerprint(ctx context.Context, fp *SpamFingerprint) error
	GetRecentSpamFingerprints(ctx context.Context, kind FingerprintKind, limit int) ([]*SpamFingerprint, error)
	// TrimSpamFingerprints keeps the newest keep fingerprints of kind.
	TrimSpamFingerprints(ctx context.Context, kind FingerprintKind, keep int) (int64, error)

	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key string, value string) error
}
