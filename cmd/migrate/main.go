package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/ProUnlock/internal/pkg/config"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/database"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/env"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/logging"
)

const migrationsSource = "file://migrations"

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logging.New(cfg.App.LogLevel, cfg.IsDev()).WithFields(logrus.Fields{
		"db_host": cfg.DB.Host,
		"db_name": cfg.DB.Name,
	})
	log.Info("connecting to database")

	m, err := migrate.New(migrationsSource, database.MigrateURL(cfg.DB))
	if err != nil {
		log.WithError(err).Fatal("could not initialize migrations")
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.WithField("source_error", sourceErr).WithField("db_error", dbErr).Warn("closing migration resources")
		}
	}()

	switch command {
	case "up":
		err := m.Up()
		switch {
		case errors.Is(err, migrate.ErrNoChange):
			log.Info("no change: database is up to date")
		case err != nil:
			log.WithError(err).Fatal("migration failed")
		default:
			log.Info("migrations applied")
		}

	case "down":
		if err := m.Steps(-1); err != nil {
			log.WithError(err).Fatal("rollback failed")
		}
		log.Info("rolled back last migration")

	case "goto":
		if len(os.Args) < 3 {
			log.Fatal("goto needs a version number")
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			log.WithError(err).Fatal("invalid version number")
		}
		err = m.Migrate(uint(version))
		switch {
		case errors.Is(err, migrate.ErrNoChange):
			log.WithField("version", version).Info("no change: database already at version")
		case err != nil:
			log.WithError(err).WithField("version", version).Fatal("migration failed")
		default:
			log.WithField("version", version).Info("migrated to version")
		}

	case "status":
		version, dirty, err := m.Version()
		switch {
		case errors.Is(err, migrate.ErrNilVersion):
			log.Info("no migrations applied yet")
		case err != nil:
			log.WithError(err).Fatal("could not read migration version")
		default:
			log.WithField("version", version).WithField("dirty", dirty).Info("current migration version")
		}

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: go run ./cmd/migrate [command]")
	fmt.Println("Commands:")
	fmt.Println("  up     - apply all pending migrations")
	fmt.Println("  down   - roll back the last migration")
	fmt.Println("  goto N - migrate to version N")
	fmt.Println("  status - show the current migration version")
}
