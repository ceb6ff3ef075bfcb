// Package main is the entry point for the lspipe proxy.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alucardeht/lspipe/internal/config"
	"github.com/alucardeht/lspipe/internal/hooks"
	"github.com/alucardeht/lspipe/internal/logger"
	"github.com/alucardeht/lspipe/internal/proxy"
	"github.com/alucardeht/lspipe/internal/trace"
	"github.com/alucardeht/lspipe/pkg/hook"
)

// Version information (set via ldflags during build).
var version = "dev"

type cliOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	recordPath string
	traceList  string
	serverArgs []string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger.Init(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	log := logger.ForComponent("main")

	if cfg.Server.Command == "" {
		fmt.Fprintln(os.Stderr, "Error: no language server command given")
		flag.Usage()
		return 2
	}

	registry, cleanup, err := buildRegistry(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer cleanup()

	proxyOpts := proxy.Options{
		PendingTimeout: time.Duration(cfg.PendingTimeout),
		ServerStderr:   os.Stderr,
	}

	if cfg.Record.Path != "" {
		rec, err := trace.Open(cfg.Record.Path, cfg.Record.Methods)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open trace database: %v\n", err)
			return 1
		}
		defer rec.Close()

		session, err := rec.BeginSession(cfg.Server.Command, cfg.Server.Args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		log.Info("recording session", "db", cfg.Record.Path, "session", session)
		proxyOpts.Tap = rec
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal asks the session to wind down; a second one gives up on
	// graceful shutdown entirely.
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		log.Info("shutdown requested")
		cancel()
		<-signals
		os.Exit(1)
	}()

	p := proxy.New(registry, proxyOpts)
	if err := p.Spawn(ctx, cfg.Server.Command, cfg.Server.Args, os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, proxy.ErrServerNotInstalled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		} else {
			log.Error("session ended with error", "error", err)
		}
		return 1
	}
	return 0
}

func parseFlags() cliOptions {
	var opts cliOptions
	var showVersion bool

	flag.StringVar(&opts.configPath, "config", "", "Path to YAML configuration file")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&opts.logFormat, "log-format", "", "Log format (text, json)")
	flag.StringVar(&opts.recordPath, "record", "", "Record the session to this sqlite database")
	flag.StringVar(&opts.traceList, "trace", "", "Comma-separated method patterns to trace (implies tracing)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "lspipe - intercepting proxy for language servers\n\n")
		fmt.Fprintf(os.Stderr, "Usage: lspipe [options] -- <server-command> [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  lspipe -- gopls serve\n")
		fmt.Fprintf(os.Stderr, "  lspipe -config lspipe.yaml -- clangd\n")
		fmt.Fprintf(os.Stderr, "  lspipe -record trace.db -trace 'textDocument/**' -- rust-analyzer\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("lspipe %s\n", version)
		os.Exit(0)
	}

	opts.serverArgs = flag.Args()
	return opts
}

// loadConfig reads the config file when one was given and lets explicit
// flags win over file values.
func loadConfig(opts cliOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
	if opts.recordPath != "" {
		cfg.Record.Path = opts.recordPath
	}
	if opts.traceList != "" {
		cfg.Trace.Enabled = true
		cfg.Trace.Methods = strings.Split(opts.traceList, ",")
	}
	if len(opts.serverArgs) > 0 {
		cfg.Server.Command = opts.serverArgs[0]
		cfg.Server.Args = opts.serverArgs[1:]
	}
	return cfg, nil
}

// buildRegistry assembles the hook registry from the configured builtins.
// When several hooks target one method they run as a chain, rewrite first,
// then script, then trace.
func buildRegistry(cfg *config.Config) (*hook.Registry, func(), error) {
	var closers []func() error
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	byMethod := make(map[string][]hook.Hook)

	if cfg.Rewrite.Rules != "" {
		rw, err := hooks.NewRewrite(cfg.Rewrite.Rules, cfg.Rewrite.Watch)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("load rewrite rules: %w", err)
		}
		closers = append(closers, rw.Close)
		for _, m := range rw.Methods() {
			byMethod[m] = append(byMethod[m], rw.Bind(m))
		}
	}

	if cfg.Script.Path != "" {
		script, err := hooks.NewScript(cfg.Script.Path)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("load script: %w", err)
		}
		closers = append(closers, script.Close)
		patterns := cfg.Script.Methods
		if len(patterns) == 0 {
			patterns = []string{"**"}
		}
		for _, m := range hooks.ExpandMethods(patterns) {
			byMethod[m] = append(byMethod[m], script.Bind(m))
		}
	}

	if cfg.Trace.Enabled {
		tr := hooks.NewTrace(cfg.Trace.Announce)
		for _, m := range hooks.ExpandMethods(cfg.Trace.Methods) {
			byMethod[m] = append(byMethod[m], tr)
		}
	}

	registry := hook.NewRegistry()
	for method, hs := range byMethod {
		if len(hs) == 1 {
			registry.Register(method, hs[0])
		} else {
			registry.Register(method, hook.Chain(hs...))
		}
	}
	return registry, cleanup, nil
}
