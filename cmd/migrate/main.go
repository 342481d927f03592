package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-speaking/internal/config"
	"github.com/stemsi/exstem-speaking/internal/logger"
)

var errUsage = errors.New("invalid usage")

// migrator is the part of *migrate.Migrate the commands drive.
type migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Force(version int) error
}

func main() {
	var migrationDir, databaseURL string
	flag.StringVar(&migrationDir, "path", "migrations", "Path to migration files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL URL (default: DATABASE_URL)")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat).With().Str("component", "migrate").Logger()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(2)
	}
	if databaseURL == "" {
		databaseURL = cfg.DatabaseURL
	}

	m, err := migrate.New("file://"+migrationDir, databaseURL)
	if err != nil {
		log.Fatal().Err(err).Str("path", migrationDir).Msg("Migration failed to initialize")
	}

	runErr := run(m, args, log)
	if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
		log.Warn().AnErr("source", srcErr).AnErr("database", dbErr).Msg("Closing migrator failed")
	}

	if runErr != nil {
		if errors.Is(runErr, errUsage) {
			fmt.Fprintln(os.Stderr, runErr)
			printUsage()
			os.Exit(2)
		}
		log.Fatal().Err(runErr).Str("command", args[0]).Msg("Migration failed")
	}
}

// run executes one command. ErrNoChange is success: the schema is already
// where the command would take it.
func run(m migrator, args []string, log zerolog.Logger) error {
	switch args[0] {
	case "up":
		if err := m.Up(); err != nil {
			if !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("up: %w", err)
			}
			log.Info().Msg("Schema already up to date")
			return nil
		}
		log.Info().Msg("Migrated up")
	case "down":
		if err := m.Down(); err != nil {
			if !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("down: %w", err)
			}
			log.Info().Msg("Nothing to roll back")
			return nil
		}
		log.Info().Msg("Migrated down")
	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info().Msg("No migration applied yet")
			return nil
		}
		if err != nil {
			return fmt.Errorf("version: %w", err)
		}
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Current version")
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("%w: force requires a version", errUsage)
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("%w: invalid version %q", errUsage, args[1])
		}
		if err := m.Force(v); err != nil {
			return fmt.Errorf("force %d: %w", v, err)
		}
		log.Info().Int("version", v).Msg("Forced version")
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
	return nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [flags] <command>")
	fmt.Fprintln(os.Stderr, "Commands: up, down, version, force <version>")
	fmt.Fprintln(os.Stderr, "Flags:")
	flag.PrintDefaults()
}
