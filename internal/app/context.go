// Package app wires storage, configuration and engines for one workspace.
package app

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"summit/internal/config"
	"summit/internal/db"
	"summit/internal/engine"
	"summit/internal/migrate"
	"summit/internal/progress"
	"summit/internal/repo"
)

// Context holds everything a command or server needs for one workspace.
type Context struct {
	Conn     *sql.DB
	Repo     repo.Repo
	Config   *config.Config
	Progress *progress.Engine
	Engine   *engine.Engine
	Log      *slog.Logger
}

// Setup opens (and migrates) the workspace database and builds the engines
// from summit.yml, falling back to built-in defaults when the file is
// absent.
func Setup(workspace string) (*Context, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	r := repo.Repo{DB: conn}
	prog := progress.New(r, progress.Options{
		Cache:              progress.NewMemoryCache(cfg.TTL(), cfg.Cache.Capacity),
		Classifier:         progress.NewKeywordClassifier(cfg.Habit.Keywords),
		Logger:             log,
		HabitTargetDays:    cfg.Habit.TargetDays,
		HabitCreditPercent: cfg.Habit.CreditPercent,
		AutoUpdate:         cfg.Hooks.AutoUpdate,
	})
	return &Context{
		Conn:     conn,
		Repo:     r,
		Config:   cfg,
		Progress: prog,
		Engine:   engine.New(r, prog, log),
		Log:      log,
	}, nil
}

func (c *Context) Close() error {
	return c.Conn.Close()
}
