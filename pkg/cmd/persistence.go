package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mercato/mercato/pkg/persistence"
	"github.com/mercato/mercato/pkg/persistence/file"
	"github.com/mercato/mercato/pkg/persistence/postgresql"
)

// NewPersistence selects the execution store backend from the database URL
// scheme. postgres:// URLs get the PostgreSQL store, anything else falls back
// to the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(databaseURL)
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
