package cse

import (
	"fmt"

	"github.com/iley/flint/internal/flow"
	"github.com/iley/flint/internal/util"
)

// A place abstracts the storage location a load or store touches: an object
// plus a field, or an object plus an element byte range. Accesses through
// redefinitions and views resolve to the same underlying root, so wrappers
// never create a fresh alias class.
type placeKind uint8

const (
	placeField placeKind = iota
	placeElem
)

type place struct {
	// root is the def owning the underlying storage after stripping
	// redefinitions and views: an allocation when the storage is local to
	// the function, or a parameter/phi/call result when it is not.
	root *flow.Def
	kind placeKind

	field string // placeField

	// placeElem geometry. When the index is a known constant, off holds the
	// absolute byte offset (view offset plus index times element size) and
	// index is nil. Otherwise index holds the symbolic index def and off the
	// view's byte offset.
	index *flow.Def
	off   int64
	size  int64
}

// rootIsAlloc reports whether the place's storage is an allocation made in
// this function.
func (p place) rootIsAlloc() bool {
	return p.root != nil && p.root.Kind().Allocates()
}

// rootNotAliased reports whether the storage belongs to a provably
// non-escaping allocation. Requires identities to be resolved.
func (p place) rootNotAliased() bool {
	return p.rootIsAlloc() && p.root.Identity() == flow.IdentityNotAliased
}

// constRange reports the absolute byte range of the access when it is known.
func (p place) constRange() (off, width int64, ok bool) {
	if p.kind != placeElem || p.index != nil {
		return 0, 0, false
	}
	return p.off, p.size, true
}

func (p place) String() string {
	if p.kind == placeField {
		return fmt.Sprintf("v%d.%s", p.root.ID(), p.field)
	}
	if p.index == nil {
		return fmt.Sprintf("v%d[%d:%d]", p.root.ID(), p.off, p.off+p.size)
	}
	return fmt.Sprintf("v%d[v%d*%d+%d]", p.root.ID(), p.index.ID(), p.size, p.off)
}

// placeOf computes the place touched by a load or store instruction.
func placeOf(d *flow.Def) place {
	root, viewOff := resolveStorage(d.Arg(0))
	switch d.Kind() {
	case flow.LoadField, flow.StoreField:
		return place{root: root, kind: placeField, field: d.Field}
	case flow.LoadIndex, flow.StoreIndex:
		p := place{root: root, kind: placeElem, size: d.ElemSize, off: viewOff}
		index := d.Arg(1)
		if index.Kind() == flow.Const {
			p.off = viewOff + index.IntVal*d.ElemSize
		} else {
			p.index = index
		}
		return p
	}
	flow.Fatalf("placeOf called on %s", d)
	return place{}
}

// resolveStorage strips redefinitions and views off obj, accumulating view
// byte offsets, and returns the def owning the storage.
func resolveStorage(obj *flow.Def) (root *flow.Def, viewOff int64) {
	for {
		switch obj.Kind() {
		case flow.Redef:
			obj = obj.Arg(0)
		case flow.View:
			viewOff += obj.ViewOff
			obj = obj.Arg(0)
		default:
			return obj, viewOff
		}
	}
}

// Overlap relation between two places.
type overlap uint8

const (
	// mayOverlap is the conservative default: whenever the relation cannot
	// be proven it forces invalidation.
	mayOverlap overlap = iota
	definitelySame
	definitelyDisjoint
)

// comparePlaces determines whether two places refer to the same storage,
// provably disjoint storage, or possibly-overlapping storage. Any doubt
// yields mayOverlap.
func comparePlaces(a, b place) overlap {
	// Two distinct allocations never share storage, regardless of aliasing:
	// escape affects who else can name an object, not object identity.
	if a.rootIsAlloc() && b.rootIsAlloc() && a.root != b.root {
		return definitelyDisjoint
	}

	if a.root == b.root {
		return compareSameRoot(a, b)
	}

	// Different roots and at least one of them is not a local allocation.
	// A non-escaping allocation cannot be named through anything else.
	if a.rootNotAliased() || b.rootNotAliased() {
		return definitelyDisjoint
	}
	// Accesses through two unknown (or aliased) roots can collide, but a
	// field access can only collide with an access to the same field
	// descriptor.
	if a.kind == placeField && b.kind == placeField && a.field != b.field {
		return definitelyDisjoint
	}
	return mayOverlap
}

func compareSameRoot(a, b place) overlap {
	if a.kind != b.kind {
		// Field and element accesses to one object come from incompatible
		// typed views of its storage.
		return mayOverlap
	}
	if a.kind == placeField {
		if a.field == b.field {
			return definitelySame
		}
		return definitelyDisjoint
	}

	aOff, aWidth, aConst := a.constRange()
	bOff, bWidth, bConst := b.constRange()
	switch {
	case aConst && bConst:
		if util.SameRange(aOff, aWidth, bOff, bWidth) {
			return definitelySame
		}
		if !util.RangesOverlap(aOff, aWidth, bOff, bWidth) {
			return definitelyDisjoint
		}
		return mayOverlap
	case !aConst && !bConst:
		// Same symbolic index through the same geometry is the same
		// element. Anything else, including matching indices seen through
		// differently-sized or differently-offset views, may overlap.
		if a.index == b.index && a.off == b.off && a.size == b.size {
			return definitelySame
		}
		return mayOverlap
	default:
		// One constant range against a symbolic access: the symbolic side
		// covers its view offset onwards.
		sym, konst := a, b
		if aConst {
			sym, konst = b, a
		}
		kOff, kWidth, _ := konst.constRange()
		if kOff+kWidth <= sym.off {
			return definitelyDisjoint
		}
		return mayOverlap
	}
}
