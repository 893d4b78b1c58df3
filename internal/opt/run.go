// Package opt wires the redundancy-elimination passes into one pipeline:
// escape/alias classification, dominance-ordered forwarding, and
// handler-entry synchronization minimization.
package opt

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iley/flint/internal/alias"
	"github.com/iley/flint/internal/catchsync"
	"github.com/iley/flint/internal/cse"
	"github.com/iley/flint/internal/flow"
)

// Run optimizes a single function graph in place. Internal invariant
// violations abort the compilation of this function and surface as an error;
// the graph must be considered unusable afterwards.
func Run(g *flow.Graph) (err error) {
	defer func() {
		if r := recover(); r != nil {
			fatal, ok := r.(*flow.FatalError)
			if !ok {
				panic(r)
			}
			err = errors.Wrapf(fatal, "compiling %s", g.Name)
		}
	}()

	log.WithField("func", g.Name).Debug("running redundancy elimination")

	flow.BuildDomTree(g)
	flow.Verify(g)

	alias.Analyze(g)
	cse.Optimize(g)
	catchsync.Optimize(g)

	flow.Verify(g)
	return nil
}

// RunAll optimizes every graph of a program, stopping at the first failed
// compilation.
func RunAll(graphs []*flow.Graph) error {
	for _, g := range graphs {
		if err := Run(g); err != nil {
			return err
		}
	}
	return nil
}
