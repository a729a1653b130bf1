package migration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
)

// ErrUnknownSubcommand Execute 收到不支持的子命令
var ErrUnknownSubcommand = errors.New("unknown migrate subcommand")

// CLI 把 Migrator 的操作格式化输出到终端
type CLI struct {
	migrator Migrator
	out      io.Writer
}

// NewCLI 创建输出到标准输出的 CLI
func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, out: os.Stdout}
}

// SetOutput 替换输出目标
func (c *CLI) SetOutput(w io.Writer) {
	c.out = w
}

// Execute 分发一个子命令。steps、goto、force 的首个参数为数量或版本号。
func (c *CLI) Execute(ctx context.Context, subcommand string, args []string) error {
	switch subcommand {
	case "up":
		return c.RunUp(ctx)
	case "down":
		return c.RunDown(ctx)
	case "reset":
		return c.RunDownAll(ctx)
	case "status":
		return c.RunStatus(ctx)
	case "version":
		return c.RunVersion(ctx)
	case "info":
		return c.RunInfo(ctx)
	}

	n, err := numericArg(subcommand, args)
	if err != nil {
		return err
	}
	switch subcommand {
	case "steps":
		return c.RunSteps(ctx, n)
	case "goto":
		if n < 0 {
			return fmt.Errorf("version must not be negative: %d", n)
		}
		return c.RunGoto(ctx, uint(n))
	default:
		return c.RunForce(ctx, n)
	}
}

var numericUsage = map[string]string{
	"steps": "steps <n>",
	"goto":  "goto <version>",
	"force": "force <version>",
}

func numericArg(subcommand string, args []string) (int, error) {
	usage, ok := numericUsage[subcommand]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSubcommand, subcommand)
	}
	if len(args) == 0 {
		return 0, fmt.Errorf("usage: migrate %s", usage)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", args[0], err)
	}
	return n, nil
}

// change 打印提示、执行变更并报告变更后的版本
func (c *CLI) change(ctx context.Context, banner, failure, done string, fn func(context.Context) error) error {
	fmt.Fprintln(c.out, banner)
	if err := fn(ctx); err != nil {
		return fmt.Errorf("%s: %w", failure, err)
	}
	version, _, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s. Current version: %d\n", done, version)
	return nil
}

func (c *CLI) RunUp(ctx context.Context) error {
	return c.change(ctx, "Running migrations...", "migration failed", "Migrations complete", c.migrator.Up)
}

func (c *CLI) RunDown(ctx context.Context) error {
	return c.change(ctx, "Rolling back last migration...", "rollback failed", "Rollback complete", c.migrator.Down)
}

func (c *CLI) RunDownAll(ctx context.Context) error {
	return c.change(ctx, "Rolling back all migrations...", "rollback failed", "All migrations rolled back", c.migrator.DownAll)
}

func (c *CLI) RunSteps(ctx context.Context, n int) error {
	if n == 0 {
		return errors.New("steps must not be zero")
	}
	banner := fmt.Sprintf("Applying %d migration(s)...", n)
	if n < 0 {
		banner = fmt.Sprintf("Rolling back %d migration(s)...", -n)
	}
	return c.change(ctx, banner, "migration steps failed", "Complete", func(ctx context.Context) error {
		return c.migrator.Steps(ctx, n)
	})
}

func (c *CLI) RunGoto(ctx context.Context, version uint) error {
	return c.change(ctx, fmt.Sprintf("Migrating to version %d...", version), "migration failed", "Migration complete",
		func(ctx context.Context) error { return c.migrator.Goto(ctx, version) })
}

// RunForce 只改写版本记录
func (c *CLI) RunForce(ctx context.Context, version int) error {
	return c.change(ctx, fmt.Sprintf("Forcing version to %d...", version), "force failed", "Version forced",
		func(ctx context.Context) error { return c.migrator.Force(ctx, version) })
}

func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}
	switch {
	case version == 0:
		fmt.Fprintln(c.out, "No migrations applied yet.")
	case dirty:
		fmt.Fprintf(c.out, "Current version: %d (dirty)\n", version)
	default:
		fmt.Fprintf(c.out, "Current version: %d\n", version)
	}
	return nil
}

// RunStatus 以表格列出每个迁移
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "No migrations found.")
		return nil
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATUS")
	applied := 0
	for _, s := range statuses {
		label := "Pending"
		if s.Applied {
			applied++
			label = "Applied"
		}
		if s.Dirty {
			label = "Dirty"
		}
		fmt.Fprintf(tw, "%06d\t%s\t%s\n", s.Version, s.Name, label)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "\nTotal: %d, Applied: %d, Pending: %d\n", len(statuses), applied, len(statuses)-applied)
	return nil
}

func (c *CLI) RunInfo(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get info: %w", err)
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 1, ' ', 0)
	fmt.Fprintln(tw, "Migration Information:")
	fmt.Fprintf(tw, "  Current Version:\t%d\n", info.CurrentVersion)
	fmt.Fprintf(tw, "  Dirty:\t%v\n", info.Dirty)
	fmt.Fprintf(tw, "  Total Migrations:\t%d\n", info.TotalMigrations)
	fmt.Fprintf(tw, "  Applied Migrations:\t%d\n", info.AppliedMigrations)
	fmt.Fprintf(tw, "  Pending Migrations:\t%d\n", info.PendingMigrations)
	return tw.Flush()
}
