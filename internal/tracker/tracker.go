// Package tracker keeps per-subject moderation history: trust streaks that let
// regular members skip scrutiny, and rolling offense counters that drive
// disciplinary escalation. In-memory state is authoritative for the process;
// the durable store is written through and read on first access.
package tracker

import "time"

type (
	Clock interface {
		Now() time.Time
	}

	realClock struct{}

	subject struct {
		chatID int64
		userID int64
	}
)

func (realClock) Now() time.Time { return time.Now() }
