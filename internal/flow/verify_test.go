package flow

import (
	"strings"
	"testing"
)

// expectFatal runs f and checks that it aborts with a FatalError mentioning
// want.
func expectFatal(t *testing.T, want string, f func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("no fatal error raised")
		}
		fatal, ok := r.(*FatalError)
		if !ok {
			t.Fatalf("panicked with %v, want *FatalError", r)
		}
		if !strings.Contains(fatal.Error(), want) {
			t.Errorf("fatal error %q does not mention %q", fatal.Error(), want)
		}
	}()
	f()
}

func TestVerifyAcceptsWellFormed(t *testing.T) {
	g := NewGraph("f")
	b := NewBuilder(g)

	p := g.NewParam(0)
	obj := b.Alloc("Box")
	b.StoreField(obj, "f", p)
	v := b.LoadField(obj, "f")
	b.Return(v)

	BuildDomTree(g)
	Verify(g)
}

func TestVerifyDominance(t *testing.T) {
	g := NewGraph("f")
	b := NewBuilder(g)

	cond := g.NewParam(0)
	left := g.NewBlock()
	right := g.NewBlock()
	b.Branch(cond, left, right)

	b.SetBlock(left)
	v := b.Arith("add", cond, cond)
	b.Return(v)

	// Using a value computed in a sibling branch is a dominance violation.
	b.SetBlock(right)
	b.Return(v)

	BuildDomTree(g)
	expectFatal(t, "dominate", func() { Verify(g) })
}

func TestVerifyPhiOperands(t *testing.T) {
	g := NewGraph("f")
	b := NewBuilder(g)

	cond := g.NewParam(0)
	left := g.NewBlock()
	right := g.NewBlock()
	join := g.NewBlock()
	b.Branch(cond, left, right)

	b.SetBlock(left)
	lv := b.Arith("add", cond, cond)
	b.Goto(join)

	b.SetBlock(right)
	rv := b.Arith("sub", cond, cond)
	b.Goto(join)

	b.SetBlock(join)
	phi := b.Phi(lv, rv)
	b.Return(phi)

	BuildDomTree(g)
	Verify(g)

	// Swapping the operands pairs each value with the wrong predecessor.
	phi.SetArg(0, rv)
	phi.SetArg(1, lv)
	expectFatal(t, "phi operand", func() { Verify(g) })
}

func TestVerifyRetiredOperand(t *testing.T) {
	g := NewGraph("f")
	b := NewBuilder(g)

	p := g.NewParam(0)
	v := b.Arith("add", p, p)
	ret := b.Return(v)

	g.ReplaceWith(v, p)
	BuildDomTree(g)
	Verify(g)

	// Manually resurrect a reference to the retired def.
	ret.args[0] = v
	v.uses = append(v.uses, Use{User: ret, Index: 0})
	p.removeUse(ret, 0)
	expectFatal(t, "retired", func() { Verify(g) })
}

func TestVerifyCatchArity(t *testing.T) {
	g := NewGraph("f")
	g.EnvNames = []string{"a", "b"}
	b := NewBuilder(g)

	p := g.NewParam(0)
	body := g.NewBlock()
	handler := g.NewBlock()
	b.Goto(body)
	g.MarkTry(body, 1, handler)
	b.SetBlock(body)
	b.Return(p)
	g.MarkCatch(handler, 1)
	b.SetBlock(handler)
	b.Return(p)

	BuildDomTree(g)
	Verify(g)

	handler.InitialDefs = handler.InitialDefs[:1]
	expectFatal(t, "environment slots", func() { Verify(g) })
}

func TestVerifyDualHandlers(t *testing.T) {
	g := NewGraph("f")
	g.EnvNames = []string{"a"}
	b := NewBuilder(g)

	p := g.NewParam(0)
	body := g.NewBlock()
	h1 := g.NewBlock()
	h2 := g.NewBlock()
	b.Goto(body)
	g.MarkTry(body, 1, h1)
	b.SetBlock(body)
	b.Return(p)
	g.MarkCatch(h1, 1)
	b.SetBlock(h1)
	b.Return(p)
	g.MarkCatch(h2, 1)
	b.SetBlock(h2)
	b.Return(p)

	BuildDomTree(g)
	expectFatal(t, "two handlers", func() { Verify(g) })
}

func TestRemoveWithUsesIsFatal(t *testing.T) {
	g := NewGraph("f")
	b := NewBuilder(g)

	p := g.NewParam(0)
	v := b.Arith("add", p, p)
	b.Return(v)

	expectFatal(t, "uses", func() { g.Remove(v) })
}
