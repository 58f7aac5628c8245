// Package logx is a small leveled wrapper over the standard logger, in the
// same spirit as the teacher's configs.TPrintf/DPrintf family: a handful of
// print methods on a Logger gated by a level, not a structured-logging
// framework.
package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

// Level controls which print functions actually emit output.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func ParseLevel(s string) (Level, error) {
	switch s {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	default:
		return 0, fmt.Errorf("logx: unknown level %q", s)
	}
}

// Logger is the daemon's logging handle; the zero value is not usable, use New.
type Logger struct {
	level Level
	std   *log.Logger
}

// New builds a Logger writing through the standard library's log.Logger to w.
func New(w io.Writer, level Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{level: level, std: log.New(w, "", 0)}
}

func (l *Logger) print(level Level, tag string, format string, a ...interface{}) {
	if l == nil || level > l.level {
		return
	}
	l.std.Printf(time.Now().Format("15:04:05.000")+" "+tag+" "+format, a...)
}

func (l *Logger) Debugf(format string, a ...interface{}) { l.print(LevelDebug, "[DEBUG]", format, a...) }
func (l *Logger) Infof(format string, a ...interface{})  { l.print(LevelInfo, "[INFO]", format, a...) }
func (l *Logger) Warnf(format string, a ...interface{})  { l.print(LevelWarn, "[WARN]", format, a...) }
func (l *Logger) Errorf(format string, a ...interface{}) { l.print(LevelError, "[ERROR]", format, a...) }

// TxnDebugf tags a debug line with the global transaction id it concerns,
// mirroring the teacher's TxnPrint helper.
func (l *Logger) TxnDebugf(gxid uint64, format string, a ...interface{}) {
	l.Debugf(fmt.Sprintf("gxid=%d: %s", gxid, format), a...)
}
