package kernel

import (
	"fmt"

	"botpilot/pkg/config"
	"botpilot/pkg/persistence"
	"botpilot/pkg/persistence/redisstore"
)

// OpenStore opens the persistence backend selected by cfg.
func OpenStore(cfg *config.Config) (persistence.Store, error) {
	switch cfg.Persistence.Backend {
	case config.BackendSQLite:
		store, err := persistence.OpenSQLite(cfg.Persistence.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return store, nil
	case config.BackendRedis:
		rc := cfg.Persistence.Redis
		store, err := redisstore.New(rc.Addr,
			redisstore.WithPassword(rc.Password),
			redisstore.WithDB(rc.DB),
			redisstore.WithPrefix(rc.Prefix),
			redisstore.WithTTL(cfg.SessionTTL()),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", cfg.Persistence.Backend)
	}
}
