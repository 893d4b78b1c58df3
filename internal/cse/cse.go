// Package cse is the dominance-ordered forwarder: it walks the dominator
// tree keeping per-path tables of available pure values and available memory
// contents, forwards loads from earlier stores and fresh allocations,
// retires duplicate pure computations and provably redundant stores, and
// invalidates availability whenever a possibly-overlapping write or an
// opaque call is seen.
//
// Requires a valid dominator tree and resolved allocation identities.
package cse

import (
	"slices"

	log "github.com/sirupsen/logrus"

	"github.com/iley/flint/internal/flow"
)

// valueKey identifies a pure computation structurally: operation plus operand
// identities. Two additions of the same two values anywhere on a dominance
// path are the same value.
type valueKey struct {
	kind   flow.Kind
	op     string
	a0, a1 flow.ID
}

type placeEntry struct {
	pl  place
	val *flow.Def
}

// state carries the availability tables valid on the current dominator-tree
// path. Children receive a copy of the parent's state; siblings never see
// each other's entries.
type state struct {
	values map[valueKey]*flow.Def
	places []placeEntry

	// fresh tracks allocations whose storage still holds default values on
	// this path, except for fields covered by a places entry. An opaque
	// call, an element store, or a write through an unaccounted pointer
	// ends freshness.
	fresh map[*flow.Def]bool
}

func newState() *state {
	return &state{
		values: make(map[valueKey]*flow.Def),
		fresh:  make(map[*flow.Def]bool),
	}
}

func (st *state) clone() *state {
	c := &state{
		values: make(map[valueKey]*flow.Def, len(st.values)),
		places: slices.Clone(st.places),
		fresh:  make(map[*flow.Def]bool, len(st.fresh)),
	}
	for k, v := range st.values {
		c.values[k] = v
	}
	for k, v := range st.fresh {
		c.fresh[k] = v
	}
	return c
}

// findSame returns the entry proven to cover exactly the same storage as pl.
func (st *state) findSame(pl place) *placeEntry {
	for i := range st.places {
		if comparePlaces(st.places[i].pl, pl) == definitelySame {
			return &st.places[i]
		}
	}
	return nil
}

func (st *state) dropPlace(i int) {
	st.places = append(st.places[:i], st.places[i+1:]...)
}

// anyOverlap reports whether some entry may share storage with pl without
// being provably the same place.
func (st *state) anyOverlap(pl place) bool {
	for i := range st.places {
		if comparePlaces(st.places[i].pl, pl) == mayOverlap {
			return true
		}
	}
	return false
}

func isZero(d *flow.Def) bool {
	return d.Kind() == flow.Const && d.IntVal == 0
}

type optimizer struct {
	graph *flow.Graph
	// All store and call instructions of the function, used for the
	// conservative invalidation at control-flow joins and loop headers.
	// Entries retired during the walk are skipped.
	stores []*flow.Def
	calls  []*flow.Def

	removed int
}

// Optimize runs the forwarder over g. Rerunning it on its own output
// produces no further change.
func Optimize(g *flow.Graph) {
	o := &optimizer{graph: g}
	for _, b := range g.Blocks {
		for _, d := range b.Instrs {
			switch {
			case d.Kind().IsStore():
				o.stores = append(o.stores, d)
			case d.Kind() == flow.Call:
				o.calls = append(o.calls, d)
			}
		}
	}
	o.walk(g.Entry, newState())
	log.WithFields(log.Fields{
		"func":    g.Name,
		"removed": o.removed,
	}).Debug("forwarder finished")
}

func (o *optimizer) walk(b *flow.Block, st *state) {
	if b.Catch {
		// A handler entry is reached through implicit edges that leave from
		// individual instructions inside the protected region, so even a pure
		// value computed there may not exist when the handler runs. Nothing
		// is available; the handler starts from the same empty state as the
		// graph entry.
		st = newState()
	} else if b.Idom() != nil && multiplePreds(b) {
		o.invalidateAtJoin(b, st)
	}

	// Instrs is mutated while forwarding; walk a snapshot.
	for _, d := range slices.Clone(b.Instrs) {
		if d.Retired() {
			continue
		}
		o.process(d, st)
	}

	for _, child := range b.Dominees() {
		o.walk(child, st.clone())
	}
}

func multiplePreds(b *flow.Block) bool {
	return len(b.Preds)+len(b.ExcFrom()) > 1
}

// invalidateAtJoin accounts for paths that reach b without passing through
// the states the tables were built on: any place a non-dominating block may
// write is invalidated before b's body is processed. Loop headers fall out
// of the same rule, because back-edge blocks never dominate the header, so
// back-edges need no revisiting.
func (o *optimizer) invalidateAtJoin(b *flow.Block, st *state) {
	var kept []placeEntry
	for _, e := range st.places {
		if o.mayBeWritten(e.pl, b) {
			continue
		}
		kept = append(kept, e)
	}
	st.places = kept

	for base := range st.fresh {
		if o.freshDiesAt(base, b) {
			delete(st.fresh, base)
		}
	}
}

// mayBeWritten reports whether some store or call located in a block that
// does not dominate b can modify pl.
func (o *optimizer) mayBeWritten(pl place, b *flow.Block) bool {
	for _, s := range o.stores {
		if s.Retired() || s.Block().Dominates(b) {
			continue
		}
		if comparePlaces(pl, placeOf(s)) != definitelyDisjoint {
			return true
		}
	}
	if pl.rootNotAliased() {
		return false
	}
	for _, c := range o.calls {
		if !c.Retired() && !c.Block().Dominates(b) {
			return true
		}
	}
	return false
}

// freshDiesAt reports whether some non-dominating block can write into base's
// storage, ending the all-defaults state.
func (o *optimizer) freshDiesAt(base *flow.Def, b *flow.Block) bool {
	aliased := base.Identity() == flow.IdentityAliased
	for _, s := range o.stores {
		if s.Retired() || s.Block().Dominates(b) {
			continue
		}
		root, _ := resolveStorage(s.Arg(0))
		if root == base {
			return true
		}
		if aliased && !root.Kind().Allocates() {
			return true
		}
	}
	if !aliased {
		return false
	}
	for _, c := range o.calls {
		if !c.Retired() && !c.Block().Dominates(b) {
			return true
		}
	}
	return false
}

func (o *optimizer) process(d *flow.Def, st *state) {
	switch d.Kind() {
	case flow.Arith:
		key := valueKey{kind: flow.Arith, op: d.Op, a0: d.Arg(0).ID(), a1: d.Arg(1).ID()}
		if prev, ok := st.values[key]; ok {
			o.retire(d, prev)
			return
		}
		st.values[key] = d

	case flow.Alloc:
		st.fresh[d] = true

	case flow.LoadField, flow.LoadIndex:
		o.processLoad(d, st)

	case flow.StoreField, flow.StoreIndex:
		o.processStore(d, st)

	case flow.Call:
		o.processCall(st)
	}
}

func (o *optimizer) processLoad(d *flow.Def, st *state) {
	pl := placeOf(d)
	if e := st.findSame(pl); e != nil {
		o.retire(d, e.val)
		return
	}
	// A never-stored field or element of an allocation still untouched on
	// this path holds the type's default value.
	if pl.rootIsAlloc() && st.fresh[pl.root] && !st.anyOverlap(pl) {
		o.retire(d, o.graph.Zero())
		return
	}
	st.places = append(st.places, placeEntry{pl: pl, val: d})
}

func (o *optimizer) processStore(d *flow.Def, st *state) {
	pl := placeOf(d)
	val := d.Arg(d.NumArgs() - 1)

	if e := st.findSame(pl); e != nil {
		if e.val == val {
			// The location already holds this value; the store cannot be
			// observed.
			o.remove(d)
			return
		}
		e.val = val
		o.invalidateOverlapping(pl, st)
		o.endFreshness(pl, st)
		return
	}

	// Writing the default value into still-default storage is equally
	// unobservable, and keeps the freshness of the allocation intact.
	if pl.rootIsAlloc() && st.fresh[pl.root] && isZero(val) && !st.anyOverlap(pl) {
		o.remove(d)
		return
	}

	o.invalidateOverlapping(pl, st)
	o.endFreshness(pl, st)
	st.places = append(st.places, placeEntry{pl: pl, val: val})
}

// invalidateOverlapping drops every entry the write to pl may touch. Writes
// through differently-typed views over the same storage land here even when
// their symbolic indices match syntactically.
func (o *optimizer) invalidateOverlapping(pl place, st *state) {
	for i := len(st.places) - 1; i >= 0; i-- {
		e := &st.places[i]
		if comparePlaces(e.pl, pl) == mayOverlap {
			st.dropPlace(i)
		}
	}
	// A write through an unaccounted pointer may land in any aliased
	// allocation that was still all-default.
	if !pl.rootIsAlloc() {
		for base := range st.fresh {
			if base.Identity() == flow.IdentityAliased {
				delete(st.fresh, base)
			}
		}
	}
}

// endFreshness stops default forwarding for storage the write leaves only
// partially tracked. Field stores keep freshness: the places entry covers the
// written field and the remaining fields stay default. Element stores may
// cover byte ranges the table cannot express, so they end it.
func (o *optimizer) endFreshness(pl place, st *state) {
	if pl.kind == placeElem && pl.rootIsAlloc() {
		delete(st.fresh, pl.root)
	}
}

// processCall invalidates every entry whose storage an opaque call can reach.
// Storage of a non-escaping allocation cannot be observed or mutated by any
// callee, so those entries and their freshness survive.
func (o *optimizer) processCall(st *state) {
	var kept []placeEntry
	for _, e := range st.places {
		if e.pl.rootNotAliased() {
			kept = append(kept, e)
		}
	}
	st.places = kept
	for base := range st.fresh {
		if base.Identity() == flow.IdentityAliased {
			delete(st.fresh, base)
		}
	}
}

// retire replaces d's result with repl everywhere and unlinks d.
func (o *optimizer) retire(d, repl *flow.Def) {
	log.WithField("func", o.graph.Name).Debugf("forwarding %s -> %s", d, repl)
	o.graph.ReplaceWith(d, repl)
	o.removed++
}

// remove unlinks a result-less instruction (a dead store).
func (o *optimizer) remove(d *flow.Def) {
	log.WithField("func", o.graph.Name).Debugf("removing dead store %s", d)
	o.graph.Remove(d)
	o.removed++
}
