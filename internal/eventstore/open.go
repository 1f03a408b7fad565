package eventstore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/loraci/internal/config"
	derrors "git.home.luguber.info/inful/loraci/internal/errors"
)

// Open creates the store selected by the history configuration.
func Open(cfg config.HistoryConfig) (Store, error) {
	switch cfg.Driver {
	case config.HistoryNone:
		return NopStore{}, nil
	case config.HistoryPostgres:
		return NewPostgresStore(cfg.DSN)
	case config.HistorySQLite, "":
		if cfg.DSN != ":memory:" {
			if dir := filepath.Dir(cfg.DSN); dir != "." {
				if err := os.MkdirAll(dir, 0o750); err != nil {
					return nil, derrors.StoreError("create directory", err).WithContext("path", dir)
				}
			}
		}
		return NewSQLiteStore(cfg.DSN)
	default:
		return nil, derrors.ConfigInvalid("history.driver", "unsupported driver "+string(cfg.Driver))
	}
}

// NopStore discards events; used when history is disabled.
type NopStore struct{}

func (NopStore) Append(context.Context, string, string, []byte, map[string]string) error { return nil }
func (NopStore) GetByJobID(context.Context, string) ([]Event, error)                     { return nil, nil }
func (NopStore) GetRange(context.Context, time.Time, time.Time) ([]Event, error)         { return nil, nil }
func (NopStore) ListJobIDs(context.Context, int) ([]string, error)                       { return nil, nil }
func (NopStore) DeleteBefore(context.Context, time.Time) (int64, error)                  { return 0, nil }
func (NopStore) Close() error                                                            { return nil }
