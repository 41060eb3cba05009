package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05"

// Logger writes timestamped, leveled lines to one or more destinations.
// Debug lines are suppressed unless the debug gate is enabled.
type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	debug bool
	now   func() time.Time

	file *os.File
}

type Options struct {
	Debug bool
	// FilePath, when set, appends log lines to the file in addition to Out.
	FilePath string
	// Out defaults to os.Stdout.
	Out io.Writer
}

func New(opts Options) (*Logger, error) {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	l := &Logger{
		out:   out,
		debug: opts.Debug,
		now:   time.Now,
	}

	if opts.FilePath != "" {
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open log file %q: %w", opts.FilePath, err)
		}
		l.file = f
		l.out = io.MultiWriter(out, f)
	}

	return l, nil
}

// Discard returns a logger that drops everything. Components accept it as the
// nil-safe default in their Dependencies.
func Discard() *Logger {
	return &Logger{out: io.Discard, now: time.Now}
}

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) Debugf(format string, args ...any) {
	if !l.debug {
		return
	}
	l.write("DEBUG", format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.write("INFO", format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.write("WARN", format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.write("ERROR", format, args...)
}

func (l *Logger) write(level, format string, args ...any) {
	line := fmt.Sprintf("%s [%s] %s\n", l.now().UTC().Format(timestampLayout), level, fmt.Sprintf(format, args...))
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, line)
}
