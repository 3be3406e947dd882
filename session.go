package sim

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Session represents one analysis. It creates states and owns the counters
// and plugin defaults those states share, so independent sessions never
// observe each other's numbering.
type Session struct {
	registry *PluginRegistry

	arraySeq uint64 // autoincrementing array ID
	mergeSeq uint64 // autoincrementing merge selector ID
	stateSeq int    // autoincrementing state ID

	// Settings applied to every state created by the session.
	Config Config

	// Backend used by every solver engine the session creates.
	Solver Solver

	// Destination for state events. Defaults to warnings on stderr.
	Logger logrus.FieldLogger
}

// NewSession returns a new session using solver as the backend for every
// state it creates. The default plugins are registered.
func NewSession(solver Solver, config Config) *Session {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)

	s := &Session{
		registry: NewPluginRegistry(),
		Config:   config,
		Solver:   solver,
		Logger:   logger,
	}

	// Default registrations.
	s.RegisterDefault(PluginMemory, func() Plugin { return NewMemory("mem") })
	s.RegisterDefault(PluginRegisters, func() Plugin { return NewMemory("reg") })
	s.RegisterDefault(PluginSolver, func() Plugin { return NewSolverEngine(s.Solver) })
	s.RegisterDefault(PluginPosix, func() Plugin { return NewPosix(s.Config) })
	s.RegisterDefault(PluginInspector, func() Plugin { return NewInspector() })
	return s
}

// RegisterDefault sets the factory used when a state first accesses a plugin
// it does not have.
func (s *Session) RegisterDefault(name PluginName, fn PluginFactory) {
	s.registry.Register(name, fn)
}

// Defaults returns the plugin names with a registered default.
func (s *Session) Defaults() []PluginName {
	return s.registry.Names()
}

// NewState returns a new state for arch. The memory, registers and solver
// plugins are created up front; others are created on first access.
func (s *Session) NewState(arch *Arch) *State {
	mode, err := ParseMode(string(s.Config.Mode))
	assert(err == nil, "invalid session mode: %q", s.Config.Mode)

	options := DefaultOptions(mode)
	for _, opt := range s.Config.Options {
		options.Add(opt)
	}

	state := &State{
		session: s,
		arch:    arch,
		plugins: make(map[PluginName]Plugin),
		temps:   make(map[int]Expr),
		mode:    mode,
		Options: options,
	}
	state.id = s.nextStateID()

	for _, name := range []PluginName{PluginMemory, PluginRegisters, PluginSolver} {
		state.Plugin(name)
	}
	return state
}

// newArray returns a new array with a session-unique ID.
func (s *Session) newArray(name string, size uint) *Array {
	s.arraySeq++
	return NewArray(s.arraySeq, name, size)
}

// nextMergeName returns the name of the next merge selector.
func (s *Session) nextMergeName() string {
	name := fmt.Sprintf("state_merge_%d", s.mergeSeq)
	s.mergeSeq++
	return name
}

func (s *Session) nextStateID() int {
	s.stateSeq++
	return s.stateSeq
}
