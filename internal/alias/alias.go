// Package alias classifies every heap allocation of a flow graph as aliased
// or not-aliased by tracing how its identity propagates through
// redefinitions, views, stores into other objects and calls.
//
// The classification is conservative: an allocation is NotAliased only when
// no instruction outside the traced set can observe its identity. Anything
// the analysis cannot prove defaults to Aliased, which merely loses
// forwarding opportunities and is always safe.
package alias

import (
	mapset "github.com/deckarep/golang-set/v2"
	log "github.com/sirupsen/logrus"

	"github.com/iley/flint/internal/flow"
)

type analyzer struct {
	graph  *flow.Graph
	allocs []*flow.Def

	// storedIn[host] lists allocations whose identity was stored into a
	// field or element of host. If host turns out to be aliased, the stored
	// allocations are aliased too; this dependency is what forces the fixed
	// point, since host's status can be discovered after the store was
	// walked.
	storedIn map[*flow.Def][]*flow.Def

	aliased mapset.Set[flow.ID]
}

// Analyze resolves the Identity of every allocation in g. No allocation is
// left unresolved: ambiguity defaults to Aliased.
func Analyze(g *flow.Graph) {
	a := &analyzer{
		graph:    g,
		storedIn: make(map[*flow.Def][]*flow.Def),
		aliased:  mapset.NewThreadUnsafeSet[flow.ID](),
	}
	for _, b := range g.Blocks {
		for _, d := range b.Instrs {
			if d.Kind().Allocates() {
				a.allocs = append(a.allocs, d)
			}
		}
	}

	for _, alloc := range a.allocs {
		if a.escapes(alloc) {
			a.markAliased(alloc)
		}
	}

	for _, alloc := range a.allocs {
		identity := flow.IdentityNotAliased
		if a.aliased.Contains(alloc.ID()) {
			identity = flow.IdentityAliased
		}
		alloc.SetIdentity(identity)
		log.WithFields(log.Fields{
			"func":  g.Name,
			"alloc": alloc.ID(),
		}).Debugf("identity resolved to %s", identity)
	}
}

// markAliased flips alloc to aliased and propagates to every allocation
// stored into it. The lattice is monotone (not-aliased -> aliased), so this
// terminates.
func (a *analyzer) markAliased(alloc *flow.Def) {
	if !a.aliased.Add(alloc.ID()) {
		return
	}
	for _, stored := range a.storedIn[alloc] {
		a.markAliased(stored)
	}
}

// escapes walks every name of alloc: the allocation itself plus the
// redefinitions and views wrapping it. It reports whether any name reaches an
// instruction that lets the identity escape, recording stored-into
// dependencies along the way. A store into another allocation escapes only if
// a load of the written place exists somewhere in the graph.
func (a *analyzer) escapes(alloc *flow.Def) bool {
	names := mapset.NewThreadUnsafeSet[flow.ID]()
	worklist := []*flow.Def{alloc}
	names.Add(alloc.ID())

	push := func(d *flow.Def) {
		if names.Add(d.ID()) {
			worklist = append(worklist, d)
		}
	}

	for len(worklist) > 0 {
		name := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		for _, u := range name.Uses() {
			user := u.User
			switch user.Kind() {
			case flow.Redef, flow.View:
				// Wrappers inherit the identity; their uses count as uses
				// of the original.
				push(user)

			case flow.LoadField, flow.LoadIndex:
				// Reading through the allocation is safe; the loaded value
				// is a different object analyzed on its own.

			case flow.StoreField, flow.StoreIndex:
				if u.Index == 0 {
					// name is the object being written into. Writing into
					// the allocation's own storage does not alias it.
					continue
				}
				if user.Kind() == flow.StoreIndex && u.Index == 1 {
					// name is used as an index; identities are not numbers.
					return true
				}
				// name's identity is stored into another object.
				host := storageRoot(user.Arg(0))
				if host == nil || !host.Kind().Allocates() {
					// Stored into something we cannot account for.
					return true
				}
				// Any load that can read the identity back out of the host
				// creates a second name for the storage that the forwarder
				// cannot resolve to the allocation, so the identity is
				// aliased. With no such load the store alone creates no
				// alias while the host stays unaliased.
				if a.hasMatchingLoad(host, user) {
					return true
				}
				if host != alloc {
					a.storedIn[host] = append(a.storedIn[host], alloc)
					if a.aliased.Contains(host.ID()) {
						return true
					}
				}

			case flow.Call:
				if user.ArgEscapes(u.Index) {
					return true
				}

			case flow.Return:
				return true

			case flow.Phi:
				// Joins merge identities from several paths; accounting for
				// all of them is beyond this analysis.
				return true

			case flow.Branch:
				// Branching on a comparison involving the identity does not
				// leak the reference itself.

			default:
				// Arith and anything unforeseen: assume the worst.
				return true
			}
		}
	}
	return false
}

// hasMatchingLoad reports whether any load in the graph can read the place
// the store writes. Redefinitions and views of the host are traced so loads
// through either resolve to the same storage.
func (a *analyzer) hasMatchingLoad(host *flow.Def, store *flow.Def) bool {
	hostNames := mapset.NewThreadUnsafeSet[flow.ID]()
	hostWork := []*flow.Def{host}
	hostNames.Add(host.ID())
	for len(hostWork) > 0 {
		h := hostWork[len(hostWork)-1]
		hostWork = hostWork[:len(hostWork)-1]
		for _, u := range h.Uses() {
			user := u.User
			switch user.Kind() {
			case flow.Redef, flow.View:
				if hostNames.Add(user.ID()) {
					hostWork = append(hostWork, user)
				}
			case flow.LoadField:
				if u.Index == 0 && store.Kind() == flow.StoreField && user.Field == store.Field {
					return true
				}
			case flow.LoadIndex:
				if u.Index == 0 && store.Kind() == flow.StoreIndex {
					return true
				}
			}
		}
	}
	return false
}

// storageRoot resolves obj through redefinitions and views to the def that
// owns the underlying storage.
func storageRoot(obj *flow.Def) *flow.Def {
	for obj != nil {
		switch obj.Kind() {
		case flow.Redef, flow.View:
			obj = obj.Arg(0)
		default:
			return obj
		}
	}
	return nil
}
