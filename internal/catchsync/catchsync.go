// Package catchsync minimizes the set of source variables synchronized at
// exception-handler entries. A handler entry carries one initial definition
// per environment slot, seeded by the front-end; only the slots whose values
// can still be observed (directly inside or after the handler, or through a
// loop that re-enters the protected region) need to be reconstructed. The
// rest are dropped and replaced with an unconstrained placeholder for the
// deoptimization encoder.
//
// Neededness is a liveness problem over the value graph: phis at loop joins
// carry handler parameters around back-edges, so the computation iterates to
// a fixed point via a worklist.
package catchsync

import (
	mapset "github.com/deckarep/golang-set/v2"
	log "github.com/sirupsen/logrus"

	"github.com/iley/flint/internal/flow"
)

// Optimize prunes the initial-definition lists of every handler entry in g.
func Optimize(g *flow.Graph) {
	validate(g)

	live := computeLive(g)

	for _, entry := range g.CatchEntries() {
		pruneEntry(g, entry, live)
	}
	sweepDeadJoins(g, live)
}

// validate rejects malformed graphs. These are compiler bugs, not input
// conditions, so they abort the compilation.
func validate(g *flow.Graph) {
	handlers := make(map[int]*flow.Block)
	for _, entry := range g.CatchEntries() {
		if len(entry.InitialDefs) != len(g.EnvNames) {
			flow.Fatalf("catch entry %s carries %d initial definitions for %d environment slots",
				entry, len(entry.InitialDefs), len(g.EnvNames))
		}
		if prev, ok := handlers[entry.CatchTryID]; ok {
			flow.Fatalf("protected region %d has two handlers: %s and %s",
				entry.CatchTryID, prev, entry)
		}
		handlers[entry.CatchTryID] = entry
	}
}

// computeLive marks every def whose value can reach an observable effect.
// Stores, calls, returns and branches are roots; liveness propagates through
// operands. Phi cycles across back-edges converge because the live set only
// grows.
func computeLive(g *flow.Graph) mapset.Set[flow.ID] {
	live := mapset.NewThreadUnsafeSet[flow.ID]()
	var worklist []*flow.Def

	mark := func(d *flow.Def) {
		if live.Add(d.ID()) {
			worklist = append(worklist, d)
		}
	}

	for _, b := range g.Blocks {
		for _, d := range b.Instrs {
			if isRoot(d.Kind()) {
				mark(d)
			}
		}
	}

	for len(worklist) > 0 {
		d := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		for _, a := range d.Args() {
			if a != nil {
				mark(a)
			}
		}
	}
	return live
}

// isRoot reports whether the instruction is observable on its own, keeping
// its operands alive regardless of whether its result is used.
func isRoot(k flow.Kind) bool {
	switch k {
	case flow.StoreField, flow.StoreIndex, flow.Call, flow.Return, flow.Branch, flow.Goto:
		return true
	}
	return false
}

// pruneEntry drops the initial definitions nothing can observe. Their slots
// become unconstrained placeholders so slot ordering survives for the
// deoptimization encoder.
func pruneEntry(g *flow.Graph, entry *flow.Block, live mapset.Set[flow.ID]) {
	kept := 0
	for i, p := range entry.InitialDefs {
		if p.Kind() != flow.Param {
			continue
		}
		if live.Contains(p.ID()) {
			kept++
			continue
		}
		entry.InitialDefs[i] = g.UndefValue()
	}
	log.WithFields(log.Fields{
		"func":  g.Name,
		"catch": entry.ID(),
		"kept":  kept,
		"total": len(entry.InitialDefs),
	}).Debug("synchronized set minimized")
}

// sweepDeadJoins removes the value instructions nothing observes, chiefly
// the phi cycles that carried pruned handler parameters around back-edges.
// The dead set is cleared as a group before unlinking: a dead phi may be the
// only user of the next one in the cycle.
func sweepDeadJoins(g *flow.Graph, live mapset.Set[flow.ID]) {
	var dead []*flow.Def
	for _, b := range g.Blocks {
		for _, d := range b.Instrs {
			if removable(d, live) {
				dead = append(dead, d)
			}
		}
	}
	for _, d := range dead {
		d.ClearArgs()
	}
	for _, d := range dead {
		g.Remove(d)
	}
}

// removable reports whether the def produces a value nothing can observe.
// Parameters stay (they are part of the function's contract) and so do
// constants, which are cached per graph.
func removable(d *flow.Def, live mapset.Set[flow.ID]) bool {
	k := d.Kind()
	if !k.HasResult() || isRoot(k) {
		return false
	}
	switch k {
	case flow.Param, flow.Const, flow.Undef:
		return false
	}
	return !live.Contains(d.ID())
}

// Synchronized returns the names of the source variables still synchronized
// at the given handler entry, in environment-slot order.
func Synchronized(g *flow.Graph, entry *flow.Block) []string {
	var names []string
	for _, d := range entry.InitialDefs {
		if d.Kind() == flow.Param {
			names = append(names, g.EnvNames[d.EnvIndex])
		}
	}
	return names
}
