package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/tracelens/tracelens/internal/infrastructure/logging"
)

// Migrate applies pending goose migrations from dir. Goose drives a
// database/sql connection, so a short-lived one is opened alongside the pool.
func Migrate(ctx context.Context, dsn, dir string, log *logging.Logger) error {
	if log == nil {
		log = logging.Nop()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sql connection: %w", err)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	log.Info("applying migrations", zap.String("dir", dir))
	if err := goose.UpContext(runCtx, db, dir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	log.Info("migrations applied")
	return nil
}
