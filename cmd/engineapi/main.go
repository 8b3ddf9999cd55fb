package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/smallyunet/engineapi/pkg/bridge"
	"github.com/smallyunet/engineapi/pkg/config"
	"github.com/smallyunet/engineapi/pkg/engine"
	"github.com/smallyunet/engineapi/pkg/types"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "Path to the YAML configuration file",
		Value:   "config.yaml",
		EnvVars: []string{config.EnvConfigPath},
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Override the configured log level (trace, debug, info, warn, error, crit)",
	}
	forkFlag = &cli.StringFlag{
		Name:  "fork",
		Usage: "Fork to raise the document to (merge, capella, eip4844)",
		Value: string(types.ForkCapella),
	}
	presetFlag = &cli.StringFlag{
		Name:  "preset",
		Usage: "Size limits to enforce (" + fmt.Sprint(engine.PresetNames()) + ")",
		Value: engine.PresetMainnet,
	}
	attributesFlag = &cli.BoolFlag{
		Name:  "attributes",
		Usage: "Treat the document as payload attributes instead of an execution payload",
	}
	verifyHashFlag = &cli.BoolFlag{
		Name:  "verify-hash",
		Usage: "Recompute the block hash from the payload header and fail on mismatch",
	}
)

func main() {
	app := &cli.App{
		Name:  "engineapi",
		Usage: "Engine API bridge between CometBFT and an Ethereum execution client",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the bridge",
				Flags:  []cli.Flag{configFlag, logLevelFlag},
				Action: runBridge,
			},
			{
				Name:      "convert",
				Usage:     "Validate an Engine API JSON document and print its canonical wire form",
				ArgsUsage: "FILE (- for stdin)",
				Flags:     []cli.Flag{forkFlag, presetFlag, attributesFlag, verifyHashFlag},
				Action:    runConvert,
			},
			{
				Name:   "presets",
				Usage:  "List the size presets",
				Action: runPresets,
			},
		},
		DefaultCommand: "run",
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func setupLogging(lvl slog.Level) {
	useColor := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	slog.SetDefault(slog.New(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, useColor)))
}

func runBridge(ctx *cli.Context) error {
	cfg, err := config.LoadFile(ctx.String(configFlag.Name))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if lvl := ctx.String(logLevelFlag.Name); lvl != "" {
		cfg.Bridge.LogLevel = lvl
	}
	lvl, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	setupLogging(lvl)
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	slog.Info("Starting engineapi bridge", "execution", cfg.Execution.EngineAPI, "cometbft", cfg.CometBFT.Endpoint, "fork", cfg.Engine.Fork)
	b, err := bridge.NewBridge(cfg)
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}
	if err := b.Start(); err != nil {
		return fmt.Errorf("failed to start bridge: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Context.Done():
	}

	slog.Info("Shutting down engineapi")
	return b.Stop()
}

func runConvert(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected exactly one FILE argument")
	}
	data, err := readInput(ctx.Args().First(), ctx.App.Reader)
	if err != nil {
		return err
	}
	out, err := convertDocument(data, convertOptions{
		Fork:       ctx.String(forkFlag.Name),
		Preset:     ctx.String(presetFlag.Name),
		Attributes: ctx.Bool(attributesFlag.Name),
		VerifyHash: ctx.Bool(verifyHashFlag.Name),
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(ctx.App.Writer, string(out))
	return err
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func runPresets(ctx *cli.Context) error {
	for _, name := range engine.PresetNames() {
		p, err := engine.LookupPreset(name)
		if err != nil {
			return err
		}
		fmt.Fprintln(ctx.App.Writer, p.String())
	}
	return nil
}
