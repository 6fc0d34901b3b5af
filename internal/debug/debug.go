package debug

import (
	"time"

	"github.com/sirupsen/logrus"
)

var logger = logrus.StandardLogger()

// SetLogger replaces the logger used for debug tracing.
func SetLogger(l *logrus.Logger) {
	logger = l
}

// Output prints debug output if debugging is enabled for the caller.
func Output(enabled bool, format string, args ...interface{}) {
	if enabled {
		logger.Debugf(format, args...)
	}
}

// Timing measures and logs execution time if debugging is enabled.
func Timing(enabled bool, operation string) func() {
	if !enabled {
		return func() {}
	}

	start := time.Now()
	Output(enabled, "starting: %s", operation)

	return func() {
		Output(enabled, "completed: %s (took %v)", operation, time.Since(start))
	}
}
