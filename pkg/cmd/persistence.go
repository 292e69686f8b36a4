package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ciroautuori/automato/pkg/persistence"
	"github.com/ciroautuori/automato/pkg/persistence/file"
	"github.com/ciroautuori/automato/pkg/persistence/postgresql"
)

// NewPersistence picks the storage backend from the database URL scheme:
// postgres URLs get the PostgreSQL store, anything else is treated as a
// directory path for the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"),
		strings.HasPrefix(databaseURL, "postgresql://"):
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://")), nil
	}
}
