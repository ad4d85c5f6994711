package infra

import (
	"fmt"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

// GoRecoverable runs f and restarts it in a new goroutine after a panic.
// A negative maxPanics restarts forever; zero makes the next panic fatal.
func GoRecoverable(maxPanics int, id string, f func()) {
	defer func() {
		err := recover()
		if err == nil {
			return
		}
		entry := log.WithFields(log.Fields{"job": id, "at": identifyPanic()})
		entry.Errorf("job panicked: %v", err)
		switch {
		case maxPanics == 0:
			entry.Fatal("panic limit exceeded")
		case maxPanics > 0:
			maxPanics--
			entry.WithField("panics_left", maxPanics).Debug("restarting job")
		default:
			entry.Debug("restarting job")
		}
		go GoRecoverable(maxPanics, id, f)
	}()
	f()
}

// Recover converts a panic in the calling goroutine into a logged error.
// It must be deferred directly.
func Recover(id string) {
	if err := recover(); err != nil {
		log.WithFields(log.Fields{"job": id, "at": identifyPanic()}).Errorf("recovered panic: %v", err)
	}
}

func identifyPanic() string {
	var pc [16]uintptr
	n := runtime.Callers(3, pc[:])
	frames := runtime.CallersFrames(pc[:n])
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !strings.HasPrefix(frame.Function, "runtime.") {
			return fmt.Sprintf("%s:%d", frame.Function, frame.Line)
		}
		if !more {
			break
		}
	}
	return "unknown"
}
