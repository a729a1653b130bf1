package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/BaSui01/streamgate/config"
	"github.com/BaSui01/streamgate/conversation"
	"github.com/BaSui01/streamgate/internal/database"
	"github.com/BaSui01/streamgate/sandbox"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// =============================================================================
// App Commands
// =============================================================================

// repositoryCreator 创建应用的源码仓库
type repositoryCreator interface {
	CreateGitRepository(ctx context.Context, name string) (*sandbox.Repository, error)
}

// runApp handles the app command
func runApp(args []string) {
	if len(args) < 1 || args[0] != "create" {
		printAppUsage()
		os.Exit(1)
	}

	fs := flag.NewFlagSet("app create", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	name := fs.String("name", "", "App name")
	id := fs.String("id", "", "App id (generated when empty)")
	if err := fs.Parse(args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	app, err := createApp(context.Background(), cfg, &conversation.App{ID: *id, Name: *name}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create app: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("App created: id=%s name=%s git_repo=%s\n", app.ID, app.Name, app.GitRepo)
}

// createApp 在数据库中登记应用；启用 sandbox 时先为其创建源码仓库
func createApp(ctx context.Context, cfg *config.Config, app *conversation.App, logger *zap.Logger) (*conversation.App, error) {
	if app.Name == "" {
		return nil, fmt.Errorf("--name is required")
	}

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	pool, err := database.NewPoolManager(db, database.PoolConfigFrom(cfg.Database), logger)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	var repos repositoryCreator
	if cfg.Sandbox.Enabled {
		repos = sandbox.NewClient(sandboxConfig(cfg.Sandbox), newRetryExecutor(cfg.Retry, "sandbox", nil, logger), logger)
	}
	if err := registerApp(ctx, pool, repos, app, cfg.Database.AutoMigrate, logger); err != nil {
		return nil, err
	}
	return app, nil
}

func registerApp(ctx context.Context, pool *database.PoolManager, repos repositoryCreator, app *conversation.App, migrate bool, logger *zap.Logger) error {
	if repos != nil && app.GitRepo == "" {
		repo, err := repos.CreateGitRepository(ctx, app.Name)
		if err != nil {
			return fmt.Errorf("create git repository: %w", err)
		}
		app.GitRepo = repo.ID
	}

	return pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		store := conversation.NewGormAppStore(tx, logger)
		if migrate {
			if err := store.AutoMigrate(); err != nil {
				return err
			}
		}
		return store.CreateApp(ctx, app)
	})
}

func printAppUsage() {
	fmt.Println(`App Commands

Usage:
  streamgate app create --name <name> [--id <id>] [--config <path>]

Registers an app so its stream routes accept requests. When the sandbox is
enabled a git repository is created for the app first.`)
}
