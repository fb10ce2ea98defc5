// Package migrations moves on-disk state left behind by older
// cipherpair releases into the current layout. Every migration is
// idempotent; running against an already-migrated directory is a
// no-op.
package migrations

import (
	"context"

	"github.com/hushplay/cipherpair/logging"
	"github.com/hushplay/cipherpair/server"
)

func Migrate(ctx context.Context, cfg *server.Config) error {
	ctx = logging.NewContext(ctx, logging.FromContext(ctx).Named("migrations"))
	if err := migrateDbDir(ctx, cfg); err != nil {
		return err
	}
	return nil
}
