package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/benbjohnson/sim"
)

// ArchCommand represents a command for listing architecture registers.
type ArchCommand struct {
	Stdout io.Writer
}

// NewArchCommand returns a new instance of ArchCommand.
func NewArchCommand(stdout io.Writer) *ArchCommand {
	return &ArchCommand{Stdout: stdout}
}

// Run executes the "arch" subcommand. Without arguments it lists the
// architectures; otherwise it prints the register layout of each one named.
func (cmd *ArchCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sim-arch", flag.ContinueOnError)
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	}

	archs := sim.Architectures()
	if fs.NArg() == 0 {
		names := make([]string, 0, len(archs))
		for name := range archs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			a := archs[name]
			fmt.Fprintf(cmd.Stdout, "%-8s bits=%d memory=%s registers=%s\n", a.Name, a.Bits, a.MemoryEndness, a.RegisterEndness)
		}
		return nil
	}

	for _, name := range fs.Args() {
		a, ok := archs[strings.ToUpper(name)]
		if !ok {
			return fmt.Errorf("unknown architecture: %q", name)
		}

		fmt.Fprintf(cmd.Stdout, "%s sp=%s bp=%s ip=%s\n", a.Name, a.SP, a.BP, a.IP)
		for _, reg := range a.RegisterNames() {
			r, _ := a.Register(reg)
			fmt.Fprintf(cmd.Stdout, "\t%-8s offset=%-4d size=%d\n", reg, r.Offset, r.Size)
		}
	}
	return nil
}

func (cmd *ArchCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: sim arch [name...]

Lists the supported architectures or, given names, their register layout.
`[1:])
}
