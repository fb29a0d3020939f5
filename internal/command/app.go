package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"taskvault/internal/config"
)

// WatchOptions carries the flags of the watch command.
type WatchOptions struct {
	Sample bool
}

// OrchestrateOptions carries the flags of the orchestrate command.
type OrchestrateOptions struct {
	Continuous bool
}

// RejectRequest names the task an operator rejects.
type RejectRequest struct {
	State  string
	Task   string
	Reason string
}

type Deps struct {
	LoadConfig     func(vaultPath, configPath string) (config.Config, error)
	SetupLogging   func(level, format string) error
	RunWatch       func(context.Context, config.Config, WatchOptions) error
	RunOrchestrate func(context.Context, config.Config, OrchestrateOptions) error
	RunReject      func(context.Context, config.Config, RejectRequest) error
	RunStatus      func(context.Context, config.Config, io.Writer) error
	Stdout         io.Writer
}

func BuildApp(deps Deps) *cli.App {
	return &cli.App{
		Name:  "taskvault",
		Usage: "filesystem vault work queue with human approval",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to taskvault.yml (default <vault>/taskvault.yml)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "log-format", Usage: "console or json"},
		},
		Commands: []*cli.Command{
			{
				Name:      "watch",
				Usage:     "turn files dropped into the drop folder into tasks",
				ArgsUsage: "<vault> [drop-folder]",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "interval", Usage: "poll interval"},
					&cli.BoolFlag{Name: "sample", Usage: "also emit one test task to check the vault"},
				},
				Action: func(ctx *cli.Context) error {
					cfg, err := prepare(ctx, deps)
					if err != nil {
						return err
					}
					if drop := strings.TrimSpace(ctx.Args().Get(1)); drop != "" {
						cfg.DropDir = drop
					}
					if ctx.IsSet("interval") {
						cfg.PollInterval = ctx.Duration("interval")
					}
					return runWatch(ctx.Context, deps, cfg, WatchOptions{Sample: ctx.Bool("sample")})
				},
			},
			{
				Name:      "orchestrate",
				Usage:     "execute approved tasks and hand pending tasks to the agent",
				ArgsUsage: "<vault>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "continuous", Aliases: []string{"c"}, Usage: "keep running cycles until interrupted"},
					&cli.DurationFlag{Name: "interval", Usage: "pause between cycles in continuous mode"},
					&cli.StringFlag{Name: "status-addr", Usage: "serve the read-only status API on this address (continuous mode)"},
				},
				Action: func(ctx *cli.Context) error {
					cfg, err := prepare(ctx, deps)
					if err != nil {
						return err
					}
					if ctx.IsSet("interval") {
						cfg.CycleInterval = ctx.Duration("interval")
					}
					if ctx.IsSet("status-addr") {
						cfg.StatusAddr = ctx.String("status-addr")
					}
					return runOrchestrate(ctx.Context, deps, cfg, OrchestrateOptions{Continuous: ctx.Bool("continuous")})
				},
			},
			{
				Name:      "reject",
				Usage:     "move a task to Rejected with an explanation",
				ArgsUsage: "<vault> <state> <task>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "reason", Required: true, Usage: "why the task is rejected"},
				},
				Action: func(ctx *cli.Context) error {
					if ctx.NArg() < 3 {
						return errors.New("usage: taskvault reject --reason <text> <vault> <state> <task>")
					}
					cfg, err := prepare(ctx, deps)
					if err != nil {
						return err
					}
					return runReject(ctx.Context, deps, cfg, RejectRequest{
						State:  ctx.Args().Get(1),
						Task:   ctx.Args().Get(2),
						Reason: ctx.String("reason"),
					})
				},
			},
			{
				Name:      "status",
				Usage:     "print task counts per state",
				ArgsUsage: "<vault>",
				Action: func(ctx *cli.Context) error {
					cfg, err := prepare(ctx, deps)
					if err != nil {
						return err
					}
					return runStatus(ctx.Context, deps, cfg)
				},
			},
		},
	}
}

// prepare resolves the vault argument, loads configuration and applies the
// global logging flags on top of it.
func prepare(ctx *cli.Context, deps Deps) (config.Config, error) {
	vault := strings.TrimSpace(ctx.Args().First())
	if vault == "" {
		return config.Config{}, fmt.Errorf("%s: missing <vault> argument", ctx.Command.Name)
	}
	absVault, err := filepath.Abs(vault)
	if err != nil {
		return config.Config{}, fmt.Errorf("resolve vault path: %w", err)
	}
	info, err := os.Stat(absVault)
	if err != nil {
		return config.Config{}, fmt.Errorf("vault %s: %w", absVault, err)
	}
	if !info.IsDir() {
		return config.Config{}, fmt.Errorf("vault %s is not a directory", absVault)
	}

	cfg, err := loadConfig(deps, absVault, ctx.String("config"))
	if err != nil {
		return cfg, err
	}
	if ctx.IsSet("log-level") {
		cfg.LogLevel = ctx.String("log-level")
	}
	if ctx.IsSet("log-format") {
		cfg.LogFormat = ctx.String("log-format")
	}
	if deps.SetupLogging != nil {
		if err := deps.SetupLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func loadConfig(deps Deps, vaultPath, configPath string) (config.Config, error) {
	if deps.LoadConfig != nil {
		return deps.LoadConfig(vaultPath, configPath)
	}
	return config.LoadForVault(vaultPath, configPath)
}

func runWatch(ctx context.Context, deps Deps, cfg config.Config, opts WatchOptions) error {
	if deps.RunWatch == nil {
		return errors.New("watch runner is not configured")
	}
	return deps.RunWatch(ctx, cfg, opts)
}

func runOrchestrate(ctx context.Context, deps Deps, cfg config.Config, opts OrchestrateOptions) error {
	if deps.RunOrchestrate == nil {
		return errors.New("orchestrate runner is not configured")
	}
	return deps.RunOrchestrate(ctx, cfg, opts)
}

func runReject(ctx context.Context, deps Deps, cfg config.Config, req RejectRequest) error {
	if deps.RunReject == nil {
		return errors.New("reject runner is not configured")
	}
	return deps.RunReject(ctx, cfg, req)
}

func runStatus(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunStatus == nil {
		return errors.New("status runner is not configured")
	}
	out := deps.Stdout
	if out == nil {
		out = os.Stdout
	}
	return deps.RunStatus(ctx, cfg, out)
}
