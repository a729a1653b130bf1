package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/BaSui01/streamgate/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	if subcommand == "help" || subcommand == "-h" || subcommand == "--help" {
		printMigrateUsage()
		return
	}

	fs := flag.NewFlagSet("migrate "+subcommand, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	if err := fs.Parse(args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	migrator, err := createMigrator(*configPath, *dbType, *dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	if err := cli.Execute(context.Background(), subcommand, fs.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		if errors.Is(err, migration.ErrUnknownSubcommand) {
			printMigrateUsage()
		}
		migrator.Close()
		os.Exit(1)
	}
}

// createMigrator 优先使用命令行给出的 URL，否则从配置加载
func createMigrator(configPath, dbType, dbURL string) (*migration.DefaultMigrator, error) {
	if dbType != "" && dbURL != "" {
		return migration.NewMigratorFromURL(dbType, dbURL)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.NewMigratorFromConfig(cfg)
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  streamgate migrate <subcommand> [options] [args]

Subcommands:
  up              Apply all pending migrations
  down            Rollback the last migration
  reset           Rollback all migrations
  steps <n>       Apply (n > 0) or rollback (n < 0) n migrations
  goto <version>  Migrate to a specific version
  force <version> Force set migration version (use with caution)
  status          Show migration status
  version         Show current migration version
  info            Show migration summary
  help            Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  streamgate migrate up
  streamgate migrate up --config /etc/streamgate/config.yaml
  streamgate migrate status --db-type sqlite --db-url sqlite://streamgate.db
  streamgate migrate goto --config config.yaml 1
  streamgate migrate force 0`)
}
