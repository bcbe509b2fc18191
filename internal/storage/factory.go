package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/common"
	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/storage/badger"
	"github.com/ternarybob/messor/internal/storage/redis"
)

// NewStorageManager creates a storage manager based on config. State always
// lives in Badger; the frontier backend is selectable so clustered crawler
// processes can share visited/lock state through Redis.
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	var frontier interfaces.FrontierStore

	switch config.Storage.FrontierBackend {
	case "badger", "":
		// Local frontier, built inside the manager on the shared DB

	case "redis":
		rf := redis.NewFrontierStore(&config.Storage.Redis, logger)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rf.Ping(ctx); err != nil {
			return nil, err
		}
		frontier = rf

		logger.Info().
			Str("addr", config.Storage.Redis.Addr).
			Msg("Using Redis frontier backend")

	default:
		return nil, fmt.Errorf("unsupported frontier backend: %s", config.Storage.FrontierBackend)
	}

	return badger.NewManager(logger, &config.Storage, frontier)
}
