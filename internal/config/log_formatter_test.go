package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func TestNbFormatterOrdersFields(t *testing.T) {
	t.Parallel()

	f := NewNbFormatter(true)
	f.HideSource = true

	entry := log.NewEntry(log.New()).WithFields(log.Fields{
		"zeta":    1,
		"method":  "Check",
		"object":  "Engine",
		"alpha":   "a",
		"error":   errors.New("boom"),
		"chat_id": int64(-100),
	})
	entry.Time = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	entry.Level = log.WarnLevel
	entry.Message = "line one\nline two"

	out, err := f.Format(entry)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	want := `level=WARN ts=2024-05-01 10:00:00.000 object="Engine" method="Check" chat_id=-100 alpha="a" error="boom" zeta=1 msg="line one\nline two"` + "\n"
	if string(out) != want {
		t.Fatalf("unexpected output:\n got %q\nwant %q", out, want)
	}
}

func TestNbFormatterColors(t *testing.T) {
	t.Parallel()

	f := NewNbFormatter(false)
	f.HideSource = true
	entry := log.NewEntry(log.New())
	entry.Level = log.ErrorLevel
	entry.Message = "failed"

	out, err := f.Format(entry)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if !strings.Contains(string(out), "\x1b[31mERRO\x1b[0m") {
		t.Fatalf("expected red level, got %q", out)
	}
}
