package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err == flag.ErrHelp {
		os.Exit(1)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var cmd string
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "", "-h", "--help", "help":
		usage()
		return flag.ErrHelp
	case "run":
		return NewRunCommand(os.Stdout).Run(ctx, args)
	case "arch":
		return NewArchCommand(os.Stdout).Run(ctx, args)
	case "flags":
		return NewFlagsCommand(os.Stdout).Run(ctx, args)
	default:
		return fmt.Errorf(`sim %s: unknown command`, cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `
Sim is a tool for exploring symbolic machine states.

Usage:

	sim <command> [arguments]

The commands are:

	run         run library call models against a new state
	arch        list the registers of an architecture
	flags       print the open flags for a mode string
	help        this screen
`[1:])
}

// newLogger returns a logger writing to w. Colors are only used when w is a
// terminal.
func newLogger(w io.Writer, verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(logrus.WarnLevel)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	tty := false
	if f, ok := w.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	logger.SetFormatter(&logrus.TextFormatter{
		ForceColors:   tty,
		DisableColors: !tty,
		FullTimestamp: tty,
	})
	return logger
}
