// Package log wraps gopkg.in/op/go-logging.v1 with the small backend
// abstraction used throughout nsbroker: one process-wide Backend handing
// out per-subsystem *logging.Logger instances, plus an io.Writer adapter
// for proxying a subprocess's stderr into the same backend.
package log

import (
	"fmt"
	"io"
	"os"

	logging "gopkg.in/op/go-logging.v1"
)

// ValidLevels are the recognized level names accepted by New and the config loader.
var ValidLevels = []string{"DEBUG", "INFO", "NOTICE", "WARNING", "ERROR", "CRITICAL"}

// Backend is a log message sink shared by every subsystem logger.
type Backend struct {
	backend    logging.LeveledBackend
	logFile    *os.File
	level      logging.Level
	disable    bool
}

// New creates a Backend. path == "" logs to stderr. disable silences output
// while still returning live *logging.Logger instances (useful in tests).
func New(path string, level string, disable bool) (*Backend, error) {
	lvl, err := logging.LogLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log: invalid level %q: %w", level, err)
	}

	var w io.Writer = os.Stderr
	var f *os.File
	if path != "" {
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("log: open %q: %w", path, err)
		}
		w = f
	}

	format := logging.MustStringFormatter(
		"%{time:2006-01-02 15:04:05.000} %{level:.4s} %{module}: %{message}",
	)
	base := logging.NewLogBackend(w, "", 0)
	formatted := logging.NewBackendFormatter(base, format)
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(lvl, "")

	return &Backend{backend: leveled, logFile: f, level: lvl, disable: disable}, nil
}

// GetLogger returns a module-scoped logger backed by this Backend.
func (b *Backend) GetLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	if b.disable {
		l.SetBackend(logging.AddModuleLevel(logging.NewLogBackend(io.Discard, "", 0)))
	} else {
		l.SetBackend(b.backend)
	}
	return l
}

// GetLogWriter returns an io.Writer that forwards each line it is written
// to the named logger: at Error when level is "ERROR", at Debug for any
// other level. It is
// intended for proxying a worker subprocess's stderr.
func (b *Backend) GetLogWriter(module string, level string) io.Writer {
	return &lineWriter{log: b.GetLogger(module), level: level}
}

// Close releases the underlying log file, if any.
func (b *Backend) Close() error {
	if b.logFile != nil {
		return b.logFile.Close()
	}
	return nil
}

type lineWriter struct {
	log   interface {
		Debug(...interface{})
		Error(...interface{})
	}
	level string
	buf   []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := indexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := string(w.buf[:i])
		w.buf = w.buf[i+1:]
		switch w.level {
		case "ERROR":
			w.log.Error(line)
		default:
			w.log.Debug(line)
		}
	}
	return len(p), nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
