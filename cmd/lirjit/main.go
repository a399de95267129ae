package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
)

// Version is set at build time by tools/build.go.
var Version = "dev"

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, env *env, args []string) error
}

var commands = []command{
	{"info", "show backends, registers and host CPU features", runInfo},
	{"demo", "compile the built-in programs and run them on the host", runDemo},
	{"asm", "compile a LIR listing and dump or write the machine code", runAsm},
	{"run", "compile a LIR listing for the host and call it", runRun},
	{"bench", "time repeated compilation of a built-in program", runBench},
}

// env is what every subcommand shares.
type env struct {
	cfg *Config
	log *slog.Logger
	out *printer
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "lirjit: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <command> [command flags] [args...]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Compile and run low-level IR functions (lirjit %s).\n\n", Version)
	fmt.Fprintf(os.Stderr, "Commands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-6s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(os.Stderr, "\nFlags:\n")
	flag.PrintDefaults()
}

func run() error {
	configPath := flag.String("config", "", "YAML config file")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Usage = usage
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return err
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return errors.New("command required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	e := &env{cfg: cfg, log: log, out: newPrinter()}
	for _, c := range commands {
		if c.name == args[0] {
			return c.run(ctx, e, args[1:])
		}
	}
	flag.Usage()
	return fmt.Errorf("unknown command %q", args[0])
}
