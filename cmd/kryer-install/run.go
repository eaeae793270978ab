package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cfschilham/kryer/internal/binary"
	"github.com/cfschilham/kryer/internal/config"
	"github.com/cfschilham/kryer/internal/platform"
	"github.com/cfschilham/kryer/internal/ui"
	"golang.org/x/term"
)

// app bundles the process environment so tests can run the command
// in-process.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string

	detector  platform.Detector
	confirmer binary.Confirmer // nil selects one based on stdin
	color     bool
}

func newApp() *app {
	return &app{
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		getenv:   os.Getenv,
		detector: platform.NewDetector(),
		color:    term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == "",
	}
}

// run executes one installer invocation and returns the exit code.
func (a *app) run(ctx context.Context, args []string) int {
	printer := ui.NewPrinterTo(a.stdout, a.stderr, a.color)

	opts, err := parseArgs(args)
	if err != nil {
		printer.Error(err)
		fmt.Fprintln(a.stderr, "Run 'kryer-install --help' for usage.")
		return exitUsage
	}
	if opts.help {
		fmt.Fprint(a.stdout, usageText)
		return exitOK
	}
	if opts.version {
		fmt.Fprintf(a.stdout, "kryer-install %s\n", Version)
		return exitOK
	}

	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	if opts.logLevel != nil {
		l, err := parseLevel(*opts.logLevel)
		if err != nil {
			printer.Error(err)
			return exitUsage
		}
		level.Set(l)
	}
	logger := slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))

	info, err := a.detector.Detect(ctx)
	if err != nil {
		printer.Error(fmt.Errorf("detect platform: %w", err))
		return exitCode(err)
	}
	logger.Debug("detected platform", "platform", info.String())

	cfg, err := a.loadConfig(ctx, info, opts, logger)
	if err != nil {
		printer.Error(errors.New(config.FormatError(err, level.Level() <= slog.LevelDebug)))
		return exitCode(err)
	}
	if opts.logLevel == nil {
		if l, err := parseLevel(cfg.LogLevel); err == nil {
			level.Set(l)
		}
	}

	if opts.printConfig {
		fmt.Fprint(a.stdout, config.NewGenerator().Generate(&cfg))
		return exitOK
	}

	installOpts, err := cfg.Options()
	if err != nil {
		printer.Error(err)
		return exitCode(err)
	}

	client := binary.NewClient(
		binary.WithUserAgent("kryer-install/"+Version),
		binary.WithTimeout(cfg.Timeout),
		binary.WithRetryPolicy(cfg.RetryPolicy()),
		binary.WithToken(a.token(), cfg.APIURL),
		binary.WithLogger(logger),
	)

	mgr, err := binary.NewManager(binary.Config{
		Client:    client,
		Platform:  info,
		Confirmer: a.selectConfirmer(),
		Reporter:  printer,
		Logger:    logger,
	})
	if err != nil {
		printer.Error(err)
		return exitUnknown
	}

	res, err := mgr.Run(ctx, installOpts)
	if err != nil {
		logger.Error("install failed", "run", res.RunID, "state", res.State.String(), "kind", binary.KindOf(err).String(), "error", err)
		if binary.IsCancelled(err) {
			printer.Warn("interrupted, nothing was changed")
		} else {
			printer.Error(err)
		}
		return exitCode(err)
	}

	printer.Summary(res)
	return exitOK
}

// loadConfig layers defaults, the Lua file and flags, in that order.
func (a *app) loadConfig(ctx context.Context, info *platform.Info, opts *cliOptions, logger *slog.Logger) (config.Config, error) {
	cfg := config.Defaults(info)

	path := a.getenv("KRYER_INSTALL_CONFIG")
	if opts.configFile != nil {
		path = *opts.configFile
	}
	if path != "" {
		parser := config.NewParser(platform.StaticDetector{Info: info}, config.WithLogger(logger))
		var err error
		if cfg, err = parser.ParseFile(ctx, path, cfg); err != nil {
			var pe *config.ParseError
			if !errors.As(err, &pe) {
				err = &config.ParseError{Message: "cannot load config", Detail: err.Error(), File: path}
			}
			return cfg, err
		}
	}

	if err := applyFlags(&cfg, opts); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, opts *cliOptions) error {
	paths := []struct {
		flag *string
		dst  *string
	}{
		{opts.installPath, &cfg.InstallPath},
		{opts.scratchDir, &cfg.ScratchDir},
		{opts.configDir, &cfg.ConfigDir},
	}
	for _, p := range paths {
		if p.flag == nil {
			continue
		}
		v, err := config.ExpandHome(*p.flag)
		if err != nil {
			return err
		}
		*p.dst = v
	}

	if opts.project != nil {
		cfg.Project = *opts.project
	}
	if opts.apiURL != nil {
		cfg.APIURL = *opts.apiURL
	}
	if opts.logLevel != nil {
		cfg.LogLevel = *opts.logLevel
	}
	if opts.yes {
		cfg.NonInteractive = true
	}
	switch {
	case opts.skipChecksum:
		cfg.Checksum = binary.ChecksumSkip.String()
	case opts.requireChecksum:
		cfg.Checksum = binary.ChecksumRequired.String()
	}
	return nil
}

// token prefers the installer specific variable over the generic one.
func (a *app) token() string {
	if t := a.getenv("KRYER_GITHUB_TOKEN"); t != "" {
		return t
	}
	return a.getenv("GITHUB_TOKEN")
}

func (a *app) selectConfirmer() binary.Confirmer {
	if a.confirmer != nil {
		return a.confirmer
	}
	if f, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return ui.NewPromptConfirmer()
	}
	return ui.NewReaderConfirmer(a.stdin, a.stdout)
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, usageErrorf("unknown log level %q (want debug, info, warn or error)", s)
	}
}
