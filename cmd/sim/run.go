package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/benbjohnson/sim"
	"github.com/benbjohnson/sim/procedures"
	"github.com/benbjohnson/sim/z3"
	"github.com/pkg/errors"
)

// Default layout of the states built by the run command.
const (
	DefaultStackTop   = 0x7fff0000
	DefaultReturnAddr = 0x1000
)

// RunCommand represents a command for running library call models.
type RunCommand struct {
	Stdout io.Writer
	Stderr io.Writer

	// Backend used when running. Defaults to a new z3 solver.
	Solver sim.Solver
}

// NewRunCommand returns a new instance of RunCommand.
func NewRunCommand(stdout io.Writer) *RunCommand {
	return &RunCommand{Stdout: stdout, Stderr: os.Stderr}
}

// Run executes the "run" subcommand.
func (cmd *RunCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sim-run", flag.ContinueOnError)
	archName := fs.String("arch", sim.AMD64.Name, "architecture")
	configPath := fs.String("config", "", "config file")
	stdinPath := fs.String("stdin", "", "file mounted as standard input")
	n := fs.Uint64("n", 16, "number of bytes to allocate and read")
	verbose := fs.Bool("v", false, "verbose")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() > 0 {
		return fmt.Errorf("too many arguments specified")
	}

	arch, ok := sim.Architectures()[strings.ToUpper(*archName)]
	if !ok {
		return fmt.Errorf("unknown architecture: %q", *archName)
	}

	config := sim.DefaultConfig()
	if *configPath != "" {
		var err error
		if config, err = sim.LoadConfig(*configPath); err != nil {
			return err
		}
	}

	solver := cmd.Solver
	if solver == nil {
		z3Solver := z3.NewSolver()
		defer z3Solver.Close()
		solver = z3Solver
	}

	session := sim.NewSession(solver, config)
	session.Logger = newLogger(cmd.Stderr, *verbose)

	state, err := cmd.newState(session, arch, *stdinPath)
	if err != nil {
		return err
	}

	// Allocate a buffer and read standard input into it.
	ptr := func(v uint64) sim.Expr { return state.BVV(v, arch.Bits) }
	buf, err := cmd.call(state, "malloc", ptr(*n))
	if err != nil {
		return err
	}
	if _, err := cmd.call(state, "read", ptr(0), buf, ptr(*n)); err != nil {
		return err
	}

	fmt.Fprint(cmd.Stdout, state.Dump())
	return cmd.printBuffer(state, buf, uint(*n))
}

// newState returns a state with a concrete stack and the contents of path,
// if any, as standard input.
func (cmd *RunCommand) newState(session *sim.Session, arch *sim.Arch, path string) (*sim.State, error) {
	state := session.NewState(arch)
	if err := state.SetReg(arch.SP, state.BVV(DefaultStackTop, arch.Bits)); err != nil {
		return nil, err
	} else if err := state.SetReg(arch.BP, state.BVV(DefaultStackTop, arch.Bits)); err != nil {
		return nil, err
	}

	if path == "" {
		return state, nil
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "stdin")
	} else if len(buf) == 0 {
		return state, nil
	}

	stdin, _ := state.Posix().File(0)
	if _, err := stdin.WriteAt(0, sim.NewBytesExpr(buf), nil); err != nil {
		return nil, err
	}
	return state, nil
}

// call runs a library model and returns its result.
func (cmd *RunCommand) call(state *sim.State, name string, args ...sim.Expr) (sim.Expr, error) {
	p, ok := procedures.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("no model for %q", name)
	}

	if err := state.PrepareCallsite(state.BVV(DefaultReturnAddr, state.Arch().Bits), args...); err != nil {
		return nil, errors.Wrapf(err, "%s: prepare callsite", name)
	}
	result, err := procedures.Run(state, name, p)
	if err != nil {
		return nil, err
	}
	return result.Value, nil
}

// printBuffer prints one solution of the n bytes at addr.
func (cmd *RunCommand) printBuffer(state *sim.State, addr sim.Expr, n uint) error {
	if n == 0 {
		return nil
	}

	data, err := state.MemExpr(addr, n, sim.BigEndian)
	if err != nil {
		return err
	}
	v, err := state.Solver().Any(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Stdout, "\nbuffer %s => %x\n", addr, v.Bytes())
	return nil
}

func (cmd *RunCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: sim run [arguments]

Allocates a buffer with malloc() and fills it with read() from standard
input, then prints the resulting state.

Arguments:

	-arch name
	    Architecture: amd64, x86, arm or ppc32. Defaults to amd64.

	-config path
	    YAML configuration file.

	-stdin path
	    File mounted as standard input. Input is symbolic if unset.

	-n bytes
	    Buffer size. Defaults to 16.

	-v
	    Enable verbose logging.
`[1:])
}
