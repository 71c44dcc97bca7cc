package app

import (
	"fmt"

	"metal-detector/internal/common/logging"
	"metal-detector/internal/config"
	"metal-detector/internal/database"
	"metal-detector/internal/oauth2"
	"metal-detector/internal/redis"
)

// initializeStorage selects the authorized-client store named by TOKEN_STORE
func (app *App) initializeStorage() error {
	switch app.Config.TokenStore {
	case config.StoreRedis:
		if app.RedisClient == nil {
			return fmt.Errorf("token store redis requires REDIS_ADDRESS")
		}
		app.Logger.Info("Token store: Redis")
		app.Clients = oauth2.NewRedisClientStore(app.RedisClient, redis.IsNil, app.sealer())

	case config.StoreSQLite, config.StorePostgres:
		db, err := app.openDatabase()
		if err != nil {
			return err
		}
		app.onCleanup(db)
		app.Checks["store"] = db.Health
		app.Clients = oauth2.NewSQLClientStore(db.DB, db.Placeholders(), app.sealer())

	case config.StoreBolt:
		app.Logger.Info("Token store: bbolt", logging.String("path", app.Config.BoltPath))
		store, err := oauth2.OpenBoltClientStore(app.Config.BoltPath, app.sealer())
		if err != nil {
			return fmt.Errorf("failed to initialize token store: %w", err)
		}
		app.onCleanup(store)
		app.Clients = store

	default:
		app.Logger.Info("Token store: in memory")
		app.Clients = oauth2.NewMemoryClientStore()
	}
	return nil
}

func (app *App) openDatabase() (*database.DB, error) {
	var (
		db  *database.DB
		err error
	)
	if app.Config.TokenStore == config.StorePostgres {
		app.Logger.Info("Token store: PostgreSQL",
			logging.String("host", app.Config.PostgresHost),
			logging.Int("port", app.Config.PostgresPort),
			logging.String("database", app.Config.PostgresDB),
		)
		db, err = database.OpenPostgres(app.Config.PostgresDSN())
	} else {
		app.Logger.Info("Token store: SQLite", logging.String("path", app.Config.DatabasePath))
		db, err = database.OpenSQLite(app.Config.DatabasePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token store: %w", err)
	}
	return db, nil
}
