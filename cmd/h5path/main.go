// Command h5path inspects, summarizes and repacks slide containers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	verbose := flag.Bool("v", false, "log debug output to stderr")
	a := &app{stdout: os.Stdout, stderr: os.Stderr, level: slog.LevelWarn}
	flag.Usage = func() { a.usage(os.Stderr) }
	flag.Parse()
	if *verbose {
		a.level = slog.LevelDebug
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := a.run(ctx, flag.Args())
	switch {
	case err == nil:
	case errors.Is(err, flag.ErrHelp):
		os.Exit(0)
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "h5path: %v\n", err)
		os.Exit(1)
	}
}
