// Package logging is the ambient, file-backed leveled logger every
// component writes through instead of ad-hoc fmt.Println.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type Level int

const (
	Info Level = iota
	Success
	Warning
	Error
)

func (l Level) String() string {
	switch l {
	case Success:
		return "OK"
	case Warning:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger writes timestamped, leveled lines to a single destination.
type Logger struct {
	mu  sync.Mutex
	out io.Writer
	f   *os.File
}

var (
	defaultLogger *Logger
	defaultOnce   sync.Once
)

// Default lazily opens a fallback debug log in dir, mirroring the
// teacher's sync.Once-guarded lazy file open.
func Default(dir string) *Logger {
	defaultOnce.Do(func() {
		defaultLogger = &Logger{out: os.Stderr}
		if dir != "" {
			if f, err := os.Create(dir + string(os.PathSeparator) + "uloget-debug.log"); err == nil {
				defaultLogger.f = f
				defaultLogger.out = f
			}
		}
	})
	return defaultLogger
}

// New builds a Logger writing to an explicit file path.
func New(path string) (*Logger, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Logger{out: f, f: f}, nil
}

func (l *Logger) Log(level Level, format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(l.out, "[%s] %-5s %s\n", ts, level, fmt.Sprintf(format, args...))
	if l.f != nil {
		_ = l.f.Sync()
	}
}

func (l *Logger) Close() error {
	if l != nil && l.f != nil {
		return l.f.Close()
	}
	return nil
}
