package db

import (
	"context"
	"fmt"
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"go.uber.org/zap"

	"github.com/hushplay/cipherpair/logging"
)

// Migrate moves a leveldb database to a new location. The contents are
// written to the target as one synced batch before the old database is
// removed, so an interrupted migration leaves the old location intact.
// A missing old database makes the migration a no-op.
func Migrate(ctx context.Context, targetDbDir, oldDbDir string) error {
	log := logging.FromContext(ctx)
	log.Info(
		"attempting DB location migration",
		zap.String("oldDbDir", oldDbDir),
		zap.String("targetDbDir", targetDbDir),
	)
	if oldDbDir == targetDbDir {
		log.Debug("skipping in-place DB migration")
		return nil
	}

	oldDb, err := leveldb.OpenFile(oldDbDir, &opt.Options{ErrorIfMissing: true})
	switch {
	case os.IsNotExist(err):
		log.Debug("skipping DB migration - old DB doesn't exist")
		return nil
	case err != nil:
		return fmt.Errorf("opening old DB: %w", err)
	}
	defer oldDb.Close()

	batch := &leveldb.Batch{}
	iter := oldDb.NewIterator(nil, nil)
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			iter.Release()
			return err
		}
		batch.Put(iter.Key(), iter.Value())
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterating old DB: %w", err)
	}

	targetDb, err := leveldb.OpenFile(targetDbDir, &opt.Options{ErrorIfExist: true})
	if err != nil {
		return fmt.Errorf("opening target DB: %w", err)
	}
	defer targetDb.Close()
	if err := targetDb.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("writing to target DB: %w", err)
	}

	log.Info("removing the old DB")
	if err := oldDb.Close(); err != nil {
		return fmt.Errorf("closing old DB: %w", err)
	}
	if err := os.RemoveAll(oldDbDir); err != nil {
		return fmt.Errorf("removing old DB: %w", err)
	}
	log.Info("DB migrated to new location", zap.Int("keys", batch.Len()))
	return nil
}
