package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var logger zerolog.Logger

func init() {
	logger = New(os.Stderr)
}

// New returns a console logger writing to w.
func New(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// Logger returns the package logger.
func Logger() zerolog.Logger {
	return logger
}

// SetLevel sets the process-wide level, so loggers derived earlier follow
// it too. An empty level means info.
func SetLevel(level string) error {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

// EveryN passes one in every n calls. Used to keep per-frame warnings from
// flooding the log.
type EveryN struct {
	n     uint64
	count atomic.Uint64
}

func NewEveryN(n int) *EveryN {
	if n < 1 {
		n = 1
	}
	return &EveryN{n: uint64(n)}
}

// Allow reports whether this call should be logged. The first call always is.
func (e *EveryN) Allow() bool {
	c := e.count.Add(1)
	return (c-1)%e.n == 0
}

// Count is the number of calls so far.
func (e *EveryN) Count() uint64 {
	return e.count.Load()
}
