package flow

import "fmt"

// Structural invariant checking. Violations here mean a bug in a pass, not a
// property of the input program, so they abort the whole compilation: Fatalf
// panics with a *FatalError which the pipeline recovers and turns into an
// error. The process itself never dies.

// FatalError is a compiler-internal invariant violation.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string {
	return "flow: " + e.Msg
}

// Fatalf aborts the current compilation.
func Fatalf(format string, args ...any) {
	panic(&FatalError{Msg: fmt.Sprintf(format, args...)})
}

// Verify checks the structural invariants of the graph:
//   - use/def edges are symmetric and no use refers to a retired def;
//   - every def dominates each of its uses (phi operands are checked against
//     the corresponding predecessor; catch-entry initial definitions are
//     exempt, they cross the implicit exception edge);
//   - handler entries carry exactly one initial definition per environment
//     slot and each protected region has at most one handler.
//
// Requires a valid dominator tree.
func Verify(g *Graph) {
	for _, b := range g.Blocks {
		for _, d := range b.Instrs {
			if d.Retired() {
				Fatalf("retired def %s still linked into %s", d, b)
			}
			verifyDef(g, d)
		}
		if b.Catch {
			verifyCatch(g, b)
		}
	}

	handlers := make(map[int]*Block)
	for _, b := range g.CatchEntries() {
		if prev, ok := handlers[b.CatchTryID]; ok {
			Fatalf("protected region %d has two handlers: %s and %s", b.CatchTryID, prev, b)
		}
		handlers[b.CatchTryID] = b
	}
}

func verifyDef(g *Graph, d *Def) {
	for i, a := range d.Args() {
		if a == nil {
			Fatalf("%s has unlinked operand %d", d, i)
		}
		if a.Retired() {
			Fatalf("%s refers to retired def %s", d, a)
		}
		found := false
		for _, u := range a.Uses() {
			if u.User == d && u.Index == i {
				found = true
				break
			}
		}
		if !found {
			Fatalf("use list of %s is missing %s operand %d", a, d, i)
		}
		verifyDominance(d, i, a)
	}
}

func verifyDominance(d *Def, i int, a *Def) {
	if a.Block() == nil {
		return
	}
	if a.Kind() == Undef || a.Kind() == Const {
		return
	}
	// Initial definitions of a catch entry are not reached through normal
	// edges; they are reconstructed at handler entry instead.
	if isInitialDef(a) {
		return
	}
	if d.Kind() == Phi {
		// A phi operand must be available at the end of the matching
		// predecessor, not at the phi itself.
		preds := d.Block().Preds
		if i < len(preds) && !a.Block().Dominates(preds[i]) {
			Fatalf("phi operand %s does not dominate predecessor %s of %s", a, preds[i], d)
		}
		return
	}
	if !a.Block().Dominates(d.Block()) {
		Fatalf("%s does not dominate its use in %s", a, d)
	}
}

func isInitialDef(d *Def) bool {
	b := d.Block()
	if b == nil || !b.Catch {
		return false
	}
	for _, init := range b.InitialDefs {
		if init == d {
			return true
		}
	}
	return false
}

func verifyCatch(g *Graph, b *Block) {
	if len(b.InitialDefs) != len(g.EnvNames) {
		Fatalf("catch entry %s has %d initial definitions for %d environment slots",
			b, len(b.InitialDefs), len(g.EnvNames))
	}
	for _, d := range b.InitialDefs {
		if d == nil {
			Fatalf("catch entry %s has a nil initial definition", b)
		}
		if d.Retired() && d.Kind() != Undef {
			Fatalf("catch entry %s references retired initial definition %s", b, d)
		}
	}
}
