// Package logutil writes structured JSON log lines to stderr. Stdout is
// reserved for the reply to the host runtime, so nothing here may touch it.
package logutil

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// Level orders log severities.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	threshold atomic.Int32
	logger    = log.New(os.Stderr, "", 0)
)

func init() {
	threshold.Store(int32(LevelWarn))
}

// ParseLevel maps a level name; unknown names fall back to warn.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "error":
		return LevelError
	default:
		return LevelWarn
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelError:
		return "error"
	default:
		return "warn"
	}
}

// SetLevel sets the minimum level that is written.
func SetLevel(l Level) {
	threshold.Store(int32(l))
}

// SetOutput redirects log lines, mainly for tests.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// Enabled reports whether lines at l are written.
func Enabled(l Level) bool {
	return int32(l) >= threshold.Load()
}

// Debug logs a structured debug message.
func Debug(msg string, fields map[string]interface{}) {
	logJSON(LevelDebug, msg, fields)
}

// Info logs a structured info message.
func Info(msg string, fields map[string]interface{}) {
	logJSON(LevelInfo, msg, fields)
}

// Warn logs a structured warning.
func Warn(msg string, fields map[string]interface{}) {
	logJSON(LevelWarn, msg, fields)
}

// Error logs a structured error message including the error string.
func Error(msg string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	logJSON(LevelError, msg, fields)
}

func logJSON(level Level, msg string, fields map[string]interface{}) {
	if !Enabled(level) {
		return
	}
	entry := map[string]interface{}{
		"level":     level.String(),
		"message":   msg,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range fields {
		entry[k] = v
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		logger.Printf("%s: %+v", msg, fields)
		return
	}
	logger.Printf("%s", payload)
}
