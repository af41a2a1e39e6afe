package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"cockpit/internal/config"
	"cockpit/internal/db"
	"cockpit/internal/engine"
	"cockpit/internal/migrate"
	"cockpit/internal/pipeline"
)

// Services bundles the process-wide collaborators handed to the server
// and the CLI.
type Services struct {
	Config *config.Config
	DB     *sql.DB
	Engine *engine.Engine
	Logger *slog.Logger
}

// Open opens and migrates the run history database and wires the engine.
// A nil exec runs notebooks through papermill. When recover is set, runs
// left running by a previous process are closed.
func Open(ctx context.Context, cfg *config.Config, exec pipeline.Executor, logger *slog.Logger, recover bool) (*Services, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := db.Open(db.Config{Dir: cfg.Paths.DataDir})
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate run history: %w", err)
	}
	eng := engine.New(conn, cfg, exec, logger)
	if recover {
		if err := eng.Recover(ctx); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return &Services{Config: cfg, DB: conn, Engine: eng, Logger: logger}, nil
}

// Close waits for in-flight runs until ctx ends, then closes the database.
func (s *Services) Close(ctx context.Context) error {
	shutdownErr := s.Engine.Shutdown(ctx)
	if err := s.DB.Close(); err != nil {
		return err
	}
	return shutdownErr
}
