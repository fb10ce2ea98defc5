package migrations

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/hushplay/cipherpair/db"
	"github.com/hushplay/cipherpair/server"
)

// Early releases kept the round store and the event journal under the
// data directory. Both moved to the dedicated DB directory.
func migrateDbDir(ctx context.Context, cfg *server.Config) error {
	if err := migrateRoundsDb(ctx, cfg); err != nil {
		return fmt.Errorf("migrating rounds DB: %w", err)
	}
	if err := migrateEventsDb(ctx, cfg); err != nil {
		return fmt.Errorf("migrating events DB: %w", err)
	}

	return nil
}

func migrateRoundsDb(ctx context.Context, cfg *server.Config) error {
	roundsDbPath := filepath.Join(cfg.DbDir, "rounds")
	oldRoundsDbPath := filepath.Join(cfg.DataDir, "rounds")
	if err := db.Migrate(ctx, roundsDbPath, oldRoundsDbPath); err != nil {
		return fmt.Errorf("migrating rounds DB %s -> %s: %w", oldRoundsDbPath, roundsDbPath, err)
	}
	return nil
}

func migrateEventsDb(ctx context.Context, cfg *server.Config) error {
	eventsDbPath := filepath.Join(cfg.DbDir, "events")
	oldEventsDbPath := filepath.Join(cfg.DataDir, "events")
	if err := db.Migrate(ctx, eventsDbPath, oldEventsDbPath); err != nil {
		return fmt.Errorf("migrating events DB %s -> %s: %w", oldEventsDbPath, eventsDbPath, err)
	}
	return nil
}
