package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// String returns the upper-case level name.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" to a Level.
// Anything else yields INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

type sink struct {
	w   io.Writer
	min Level
}

// Logger provides structured JSON logging with optional PII redaction.
// Each entry goes to the primary output and to every sink whose minimum
// level it meets.
type Logger struct {
	level     Level
	mu        sync.Mutex
	redactPII bool
	out       io.Writer
	sinks     []sink
}

var defaultLogger = &Logger{level: INFO, out: os.Stderr}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) {
	defaultLogger.mu.Lock()
	defaultLogger.level = l
	defaultLogger.mu.Unlock()
}

// SetRedactPII enables or disables e-mail redaction for the default logger.
func SetRedactPII(r bool) {
	defaultLogger.mu.Lock()
	defaultLogger.redactPII = r
	defaultLogger.mu.Unlock()
}

// SetOutput replaces the primary output of the default logger and drops
// any file sinks. Tests use it to capture entries.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defaultLogger.out = w
	defaultLogger.sinks = nil
	defaultLogger.mu.Unlock()
}

const (
	// DefaultMaxSizeMB is the size at which a log file is rotated.
	DefaultMaxSizeMB = 10

	// RotatedPattern matches the backups a rotating log file leaves behind,
	// e.g. bot-2024-03-09T14-05-00.000.log.
	RotatedPattern = "*-????-??-??T??-??-??.???.log"
)

// FileOption customizes a log file sink.
type FileOption func(*lumberjack.Logger)

// WithMaxSizeMB sets the rotation size in megabytes.
func WithMaxSizeMB(mb int) FileOption {
	return func(l *lumberjack.Logger) { l.MaxSize = mb }
}

// AddFile appends entries at or above min to the file at path, creating
// parent directories as needed. The file is rotated once it reaches
// DefaultMaxSizeMB; rotated files match RotatedPattern and are left to the
// retention sweeper to age out. The returned closer only closes the file
// on shutdown.
func AddFile(path string, min Level, opts ...FileOption) (io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	// The rotating writer opens lazily; fail here on an unwritable path.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	f.Close()

	w := &lumberjack.Logger{Filename: path, MaxSize: DefaultMaxSizeMB}
	for _, opt := range opts {
		opt(w)
	}
	defaultLogger.mu.Lock()
	defaultLogger.sinks = append(defaultLogger.sinks, sink{w: w, min: min})
	defaultLogger.mu.Unlock()
	return w, nil
}

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": level.String(),
		"msg":   msg,
	}

	// Parse key-value pairs from fields
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if l.redactPII {
			val = redactPIIValue(val)
		}
		entry[key] = val
	}

	data, _ := json.Marshal(entry)
	line := append(data, '\n')
	if l.out != nil {
		l.out.Write(line)
	}
	for _, s := range l.sinks {
		if level >= s.min {
			s.w.Write(line)
		}
	}
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// redactPIIValue masks every address in val. Recipient lists are joined
// strings, so a whole-value RedactEmail would mangle them.
func redactPIIValue(val string) string {
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
