package imposter

import (
	"fmt"
	"strings"

	"stagehand/pkg/logging"
)

// retryLogger routes go-retryablehttp's leveled logging to pkg/logging.
type retryLogger struct{}

func (retryLogger) format(msg string, keysAndValues []interface{}) string {
	if len(keysAndValues) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	return b.String()
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	logging.Error(subsystem, nil, "%s", l.format(msg, keysAndValues))
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.Debug(subsystem, "%s", l.format(msg, keysAndValues))
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	logging.Debug(subsystem, "%s", l.format(msg, keysAndValues))
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	logging.Warn(subsystem, "%s", l.format(msg, keysAndValues))
}
