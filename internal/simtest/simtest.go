// Package simtest provides test doubles and helpers shared by the sim tests.
package simtest

import (
	"io"
	"testing"

	"github.com/benbjohnson/sim"
	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
)

// NewSession returns a session backed by a finite-domain solver. Log output
// is routed through the test log.
func NewSession(tb testing.TB) *sim.Session {
	tb.Helper()
	return NewSessionWithConfig(tb, sim.DefaultConfig())
}

// NewSessionWithConfig returns a session with config backed by a
// finite-domain solver.
func NewSessionWithConfig(tb testing.TB, config sim.Config) *sim.Session {
	tb.Helper()
	session := sim.NewSession(NewSolver(), config)

	logger := logrus.New()
	logger.SetOutput(&testWriter{tb: tb})
	logger.SetLevel(logrus.DebugLevel)
	session.Logger = logger
	return session
}

// NewState returns a state for arch with a finite-domain solver.
func NewState(tb testing.TB, arch *sim.Arch) *sim.State {
	tb.Helper()
	return NewSession(tb).NewState(arch)
}

// MustEval returns the single possible value of expr. Fails the test if expr
// has no value or more than one.
func MustEval(tb testing.TB, s *sim.State, expr sim.Expr) uint64 {
	tb.Helper()
	values, err := s.Solver().Eval(expr, 2)
	if err != nil {
		tb.Fatalf("eval %s: %s", expr, err)
	} else if len(values) != 1 {
		tb.Fatalf("eval: expected one value, got %d:\n%s", len(values), Dump(values))
	}
	return values[0].Uint64()
}

// Dump returns a deep representation of v for failure messages.
func Dump(v ...interface{}) string {
	return spew.Sdump(v...)
}

// testWriter writes log lines to the test log.
type testWriter struct {
	tb testing.TB
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.tb.Helper()
	w.tb.Log(string(p))
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
