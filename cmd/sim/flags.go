package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/benbjohnson/sim"
)

// FlagsCommand represents a command for printing the open flags of a mode.
type FlagsCommand struct {
	Stdout io.Writer
}

// NewFlagsCommand returns a new instance of FlagsCommand.
func NewFlagsCommand(stdout io.Writer) *FlagsCommand {
	return &FlagsCommand{Stdout: stdout}
}

// Run executes the "flags" subcommand.
func (cmd *FlagsCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sim-flags", flag.ContinueOnError)
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("mode required")
	}

	for _, mode := range fs.Args() {
		f, ok := sim.ParseFlags(mode)
		if !ok {
			return fmt.Errorf("invalid mode: %q", mode)
		}
		fmt.Fprintf(cmd.Stdout, "%-4s %#o %s\n", mode, int(f), f)
	}
	return nil
}

func (cmd *FlagsCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: sim flags mode...

Prints the open flags for fopen-style mode strings such as "r", "w+" or "a".
`[1:])
}
