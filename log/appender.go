package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogAppender writes finalized log entries to an output destination.
// Appenders are fire-and-forget: Write must never return an error to the
// logging call site and must never block meaningfully.
type LogAppender interface {
	// Write outputs a single finalized log entry. The buffer is only valid
	// for the duration of the call and must be copied if retained.
	Write(p []byte)

	// Refresh re-applies the appender configuration, e.g. reopening files
	// after rotation or a configuration reload.
	Refresh()
}

// ConsoleAppender writes log entries to stdout.
type ConsoleAppender struct {
	mu sync.Mutex
}

// NewConsoleAppender creates an appender writing to stdout.
func NewConsoleAppender() *ConsoleAppender {
	return &ConsoleAppender{}
}

// Write outputs the entry to stdout. Write errors are ignored; there is no
// reasonable recovery and logging must never fail the caller.
func (a *ConsoleAppender) Write(p []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = os.Stdout.Write(p)
}

// Refresh is a no-op for the console appender.
func (a *ConsoleAppender) Refresh() {}

// FileAppender writes log entries to a file, rotating it when it exceeds the
// configured size threshold. Rotated files are renamed with a timestamp
// suffix.
type FileAppender struct {
	mu      sync.Mutex
	path    string
	splitMB int
	file    *os.File
	written int64
}

// NewFileAppender creates an appender writing to the path configured in cfg.
// The directory is created if missing. If the file cannot be opened the
// appender silently drops entries until Refresh succeeds.
func NewFileAppender(cfg *LogCfg) *FileAppender {
	a := &FileAppender{
		path:    cfg.LogPath,
		splitMB: cfg.FileSplitMB,
	}
	a.open()
	return a
}

func (a *FileAppender) open() {
	if a.path == "" {
		return
	}
	_ = os.MkdirAll(filepath.Dir(a.path), 0o755)
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log: open %s: %v\n", a.path, err)
		return
	}
	a.file = f
	if st, err := f.Stat(); err == nil {
		a.written = st.Size()
	} else {
		a.written = 0
	}
}

// Write appends the entry to the current file, rotating first if the size
// threshold has been reached.
func (a *FileAppender) Write(p []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return
	}
	if a.splitMB > 0 && a.written+int64(len(p)) > int64(a.splitMB)*1024*1024 {
		a.rotate()
		if a.file == nil {
			return
		}
	}
	n, _ := a.file.Write(p)
	a.written += int64(n)
}

// rotate closes the current file and renames it with a timestamp suffix.
// Caller must hold the mutex.
func (a *FileAppender) rotate() {
	_ = a.file.Close()
	a.file = nil
	rotated := fmt.Sprintf("%s.%s", a.path, time.Now().Format("20060102-150405"))
	if err := os.Rename(a.path, rotated); err != nil {
		fmt.Fprintf(os.Stderr, "log: rotate %s: %v\n", a.path, err)
	}
	a.open()
}

// Refresh reopens the log file, picking up external rotation or path changes.
func (a *FileAppender) Refresh() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		_ = a.file.Close()
		a.file = nil
	}
	a.open()
}
