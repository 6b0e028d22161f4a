// File: internal/observability/audit.go
package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AuditLog is the durable, human-readable trail of a run: one "[timestamp] message" line per event.
// The file is opened in append mode and never rotated, so a run cannot truncate its own history.
// Callers must only pass secrets through types that mask themselves when formatted.
type AuditLog struct {
	logger *zap.Logger
	file   *os.File
}

// OpenAuditLog opens (creating if needed) the audit file at path for appending.
func OpenAuditLog(path string) (*AuditLog, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand audit path %q: %w", path, err)
	}
	if dir := filepath.Dir(expanded); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}
	f, err := os.OpenFile(expanded, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	a := NewAuditLog(zapcore.AddSync(f))
	a.file = f
	return a, nil
}

// NewAuditLog builds an audit trail writing to w. Writes are serialized, so the log may be shared by
// concurrent workers.
func NewAuditLog(w zapcore.WriteSyncer) *AuditLog {
	core := zapcore.NewCore(newAuditEncoder(), zapcore.Lock(w), zapcore.DebugLevel)
	return &AuditLog{logger: zap.New(core)}
}

// newAuditEncoder renders entries as "[2006-01-02T15:04:05Z07:00] message".
func newAuditEncoder() zapcore.Encoder {
	return zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:    "ts",
		MessageKey: "msg",
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + t.Format(time.RFC3339) + "]")
		},
		ConsoleSeparator: " ",
		LineEnding:       zapcore.DefaultLineEnding,
	})
}

// Record appends one line.
func (a *AuditLog) Record(msg string) {
	if a == nil {
		return
	}
	a.logger.Info(msg)
}

// Recordf appends one formatted line.
func (a *AuditLog) Recordf(format string, args ...interface{}) {
	if a == nil {
		return
	}
	a.logger.Info(fmt.Sprintf(format, args...))
}

// Close flushes and closes the underlying file, if the log owns one.
func (a *AuditLog) Close() error {
	if a == nil {
		return nil
	}
	_ = a.logger.Sync()
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

// Path returns the file backing the log, or "" for writer-backed logs.
func (a *AuditLog) Path() string {
	if a == nil || a.file == nil {
		return ""
	}
	return a.file.Name()
}
