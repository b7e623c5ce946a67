package main

import (
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/flexprice/subledger/internal/config"
	"github.com/flexprice/subledger/internal/logger"
	"github.com/flexprice/subledger/internal/postgres"
	"github.com/flexprice/subledger/migrations"
	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

func main() {
	// Parse command line flags
	down := flag.Bool("down", false, "Roll back the most recent migration")
	flag.Parse()

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := logger.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		logger.Fatalw("Failed to open embedded migrations", "error", err)
	}

	logger.Infow("Connecting to database", "host", cfg.Postgres.Host)
	db, err := postgres.NewDB(cfg, logger)
	if err != nil {
		logger.Fatalw("Failed to connect to postgres", "error", err)
	}
	defer db.Close()

	driver, err := pgmigrate.WithInstance(db.DB.DB, &pgmigrate.Config{})
	if err != nil {
		logger.Fatalw("Failed to create migration driver", "error", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		logger.Fatalw("Failed to initialize migrations", "error", err)
	}
	defer m.Close()

	if *down {
		logger.Info("Rolling back the last migration...")
		err = m.Steps(-1)
	} else {
		logger.Info("Running database migrations...")
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatalw("Migration failed", "error", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Fatalw("Failed to read migration version", "error", err)
	}
	logger.Infow("Migration completed successfully", "version", version, "dirty", dirty)

	fmt.Println("Migration process completed")
}
