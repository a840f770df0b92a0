package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/go-faster/errors"
	"github.com/golang-migrate/migrate/v4"

	"github.com/xenking/orderdesk/internal/repository"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	var databaseURL string
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		logger.Error("usage: migrate [--database-url URL] <up|down|version>")
		os.Exit(2)
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		logger.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	m, err := repository.NewMigrator(databaseURL)
	if err != nil {
		logger.Error("failed to create migrator", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() { _, _ = m.Close() }()

	if err := run(logger, m, args[0]); err != nil {
		logger.Error("migrate failed", slog.String("command", args[0]), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger, m *migrate.Migrate, command string) error {
	switch command {
	case "up":
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no pending migrations")
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "up")
		}
		logger.Info("migrations applied")
	case "down":
		err := m.Steps(-1)
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no migrations to roll back")
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "down")
		}
		logger.Info("last migration rolled back")
	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logger.Info("no migrations applied yet")
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "version")
		}
		logger.Info("current migration version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	default:
		return errors.Errorf("unknown command %q", command)
	}
	return nil
}
