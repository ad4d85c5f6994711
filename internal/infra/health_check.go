package infra

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultCheckInterval = 5 * time.Second

// MonitorExecutable signals once when the running binary is replaced on disk,
// so a supervisor can restart the process with the new build.
func MonitorExecutable(ctx context.Context, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		entry := log.WithField("object", "ExecutableMonitor")

		exeFilename, err := os.Executable()
		if err != nil {
			entry.WithError(err).Warn("cant resolve executable path")
			return
		}
		stat, err := os.Stat(exeFilename)
		if err != nil {
			entry.WithError(err).Warn("cant stat executable")
			return
		}
		originalTime := stat.ModTime()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stat, err := os.Stat(exeFilename)
				if err != nil {
					entry.WithError(err).Warn("cant stat executable on tick")
					continue
				}
				if !originalTime.Equal(stat.ModTime()) {
					entry.WithField("path", exeFilename).Info("executable changed")
					ch <- struct{}{}
					return
				}
			}
		}
	}()
	return ch
}
