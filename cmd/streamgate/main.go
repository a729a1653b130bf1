// streamgate 为每个应用保证同一时刻最多一个运行中的流：
// 新请求先停止旧流，等待其存活记录消失后再接管。
//
//	streamgate serve --config config.yaml
//	streamgate migrate up
//	streamgate app create --name demo
//	streamgate health --path /ready

// @title streamgate API
// @version 1.0.0
// @description Single-flight stream coordinator: at most one long-running stream per app.

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/streamgate/config"
)

// 构建时通过 -ldflags 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var commands = map[string]func(args []string){
	"serve":   runServe,
	"migrate": runMigrate,
	"app":     runApp,
	"health":  runHealthCheck,
	"version": func([]string) { printVersion() },
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage()
		return
	}
	run, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", name)
		printUsage()
		os.Exit(1)
	}
	run(os.Args[2:])
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting streamgate",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	// SIGTERM 触发排空：中止所有流，等待其保存消息后退出
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := NewServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize server", zap.Error(err))
	}
	if err := srv.Run(ctx); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
	logger.Info("streamgate stopped")
}

// loadConfig 叠加默认值、YAML 与 STREAMGATE_* 环境变量并校验
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if path != "" {
		loader.WithConfigPath(path)
	}
	return loader.Load()
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	path := fs.String("path", "/health", "Health endpoint (/health or /ready)")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	if err := checkHealth(client, *addr+*path); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
}

// checkHealth 只接受 200，/ready 在存活存储不可达时返回 503
func checkHealth(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func printVersion() {
	fmt.Printf("streamgate %s\n  Build Time: %s\n  Git Commit: %s\n", Version, BuildTime, GitCommit)
}

func printUsage() {
	fmt.Println(`streamgate - single-flight stream coordinator

Usage:
  streamgate <command> [options]

Commands:
  serve     Start the API and metrics listeners
  migrate   Versioned schema migrations (up, down, status, ...)
  app       Register apps (app create --name <name>)
  health    Check a running server
  version   Show build information
  help      Show this help message

Run 'streamgate serve --config <path>' to load a YAML file;
STREAMGATE_<SECTION>_<FIELD> environment variables override it.`)
}
