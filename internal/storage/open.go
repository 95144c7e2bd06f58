package storage

import (
	"errors"
	"strings"

	"pricewatch/internal/domain"
	logx "pricewatch/pkg/logx"
)

// Open initializes the configured store. clock stamps created/updated/history
// times; nil means the system clock.
func Open(cfg Config, log logx.Logger, clock domain.Clock) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log, clock)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
