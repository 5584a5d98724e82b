package app

import (
	"database/sql"
	"io"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"docfish/internal/config"
	"docfish/internal/db"
	"docfish/internal/engine"
	"docfish/internal/metrics"
	"docfish/internal/migrate"
)

// Workspace is an opened, migrated database together with its config.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Config *config.Config
}

// OpenWorkspace prepares dir, runs pending migrations and loads docfish.yml,
// falling back to defaults when the file is absent.
func OpenWorkspace(dir string) (Workspace, error) {
	if _, err := db.EnsureWorkspace(dir); err != nil {
		return Workspace{}, err
	}
	cfg, err := config.LoadOrDefault(dir)
	if err != nil {
		return Workspace{}, err
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return Workspace{}, errors.Wrap(err, "open database")
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return Workspace{}, err
	}
	return Workspace{Dir: dir, DB: conn, Config: cfg}, nil
}

func (w Workspace) Close() error {
	return w.DB.Close()
}

// Engine wires the workspace into an engine. A nil registry disables metrics.
func (w Workspace) Engine(logger *slog.Logger, registry *prometheus.Registry) (engine.Engine, error) {
	e := engine.New(w.DB, w.Config)
	if logger != nil {
		e.Logger = logger
	}
	if registry != nil {
		m, err := metrics.NewEngineMetrics(registry)
		if err != nil {
			return engine.Engine{}, errors.Wrap(err, "register metrics")
		}
		e.Metrics = m
	}
	return e, nil
}

// NewLogger builds the process logger from the configured level and format.
func NewLogger(out io.Writer, cfg *config.Config, format string) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = cfg.Logging.Format
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts)), nil
	}
	return slog.New(slog.NewTextHandler(out, opts)), nil
}
