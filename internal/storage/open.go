package storage

import (
	"fmt"
	"strings"

	logx "focusbot/pkg/logx"
)

// Driver names accepted by Open.
const (
	DriverNone   = "none"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

var openers = map[string]func(Config, logx.Logger) (Store, error){
	DriverFile:   openFile,
	DriverSQLite: openSQLite,
	"sqlite3":    openSQLite,
}

// Open returns the store selected by cfg.Driver, or (nil, nil) when
// persistence is disabled. The engine treats a nil Store as memory-only.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == DriverNone {
		return nil, nil
	}
	open, ok := openers[driver]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return open(cfg, log.With(logx.String("driver", driver)))
}
