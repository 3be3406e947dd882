package sim

import (
	"sort"
)

// PluginName identifies a state plugin.
type PluginName string

// Plugin names.
const (
	PluginMemory    = PluginName("memory")
	PluginRegisters = PluginName("registers")
	PluginSolver    = PluginName("solver")
	PluginPosix     = PluginName("posix")
	PluginInspector = PluginName("inspector")
)

// Plugin represents a component of a State, such as its memory or its file
// table. Plugins are copied on fork and merged on join.
type Plugin interface {
	// Binds the plugin to the state that owns it.
	SetState(s *State)

	// Returns an independent copy of the plugin. The copy is unbound until
	// it is registered with a state.
	Copy() Plugin

	// Merges others into the plugin so that under flag == flagValues[k] it
	// behaves as participant k, with the receiver as participant zero.
	// Returns constraints that must be added to the merged state.
	Merge(others []Plugin, flag Expr, flagValues []uint64) ([]Expr, error)
}

// PluginFactory returns a new, unbound instance of a plugin.
type PluginFactory func() Plugin

// BasePlugin provides state binding for plugin implementations. Plugins that
// embed it and do not override Merge cannot be merged.
type BasePlugin struct {
	state *State
}

// State returns the state the plugin is bound to.
func (p *BasePlugin) State() *State { return p.state }

// SetState binds the plugin to s.
func (p *BasePlugin) SetState(s *State) { p.state = s }

// Merge returns ErrNotImplemented.
func (p *BasePlugin) Merge(others []Plugin, flag Expr, flagValues []uint64) ([]Expr, error) {
	return nil, ErrNotImplemented
}

// PluginRegistry holds the default factory for each plugin name.
type PluginRegistry struct {
	m map[PluginName]PluginFactory
}

// NewPluginRegistry returns a registry with no defaults.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{m: make(map[PluginName]PluginFactory)}
}

// Register sets the default factory for name.
func (r *PluginRegistry) Register(name PluginName, fn PluginFactory) {
	r.m[name] = fn
}

// New returns a new plugin from the default factory for name.
// Returns false if no default is registered.
func (r *PluginRegistry) New(name PluginName) (Plugin, bool) {
	fn := r.m[name]
	if fn == nil {
		return nil, false
	}
	return fn(), true
}

// Names returns the registered plugin names, sorted.
func (r *PluginRegistry) Names() []PluginName {
	a := make([]PluginName, 0, len(r.m))
	for name := range r.m {
		a = append(a, name)
	}
	sortPluginNames(a)
	return a
}

func sortPluginNames(a []PluginName) {
	sort.Slice(a, func(i, j int) bool { return a[i] < a[j] })
}
