// Package history is the optional run journal: every supervised execution
// outcome can be appended to a small sqlite database for later inspection.
// It records completed runs only, never pending queue state.
package history

import (
	"context"
	"errors"
	"strings"
	"time"

	"eventmanager/internal/config"
	logx "eventmanager/pkg/logx"
)

var ErrDisabled = errors.New("history disabled")

// Record is one supervised execution outcome.
type Record struct {
	At       time.Time
	Event    string
	Command  string
	PID      int
	Outcome  string
	Next     string
	Duration time.Duration
}

// Store is the minimal journal API used by the engine.
type Store interface {
	Append(ctx context.Context, r Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if the journal is disabled.
func Open(cfg config.HistoryConfig, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown history driver: " + driver)
	}
}
