package flow

import (
	"testing"
)

func TestUseDefSymmetry(t *testing.T) {
	g := NewGraph("f")
	b := NewBuilder(g)

	p := g.NewParam(0)
	obj := b.Alloc("Box")
	store := b.StoreField(obj, "f", p)
	load := b.LoadField(obj, "f")
	sum := b.Arith("add", load, load)
	b.Return(sum)

	if got := obj.NumUses(); got != 2 {
		t.Errorf("alloc has %d uses, want 2", got)
	}
	if got := load.NumUses(); got != 2 {
		t.Errorf("load has %d uses, want 2", got)
	}
	for _, u := range load.Uses() {
		if u.User != sum {
			t.Errorf("unexpected user %s of load", u.User)
		}
	}
	if store.Arg(1) != p {
		t.Errorf("store value operand = %s, want %s", store.Arg(1), p)
	}
}

func TestSetArgRewires(t *testing.T) {
	g := NewGraph("f")
	b := NewBuilder(g)

	x := g.NewParam(0)
	y := g.NewParam(1)
	sum := b.Arith("add", x, x)

	sum.SetArg(1, y)

	if got := x.NumUses(); got != 1 {
		t.Errorf("x has %d uses after rewire, want 1", got)
	}
	if got := y.NumUses(); got != 1 {
		t.Errorf("y has %d uses after rewire, want 1", got)
	}
	if sum.Arg(0) != x || sum.Arg(1) != y {
		t.Errorf("operands = (%s, %s), want (%s, %s)", sum.Arg(0), sum.Arg(1), x, y)
	}
}

func TestReplaceWith(t *testing.T) {
	g := NewGraph("f")
	b := NewBuilder(g)

	p := g.NewParam(0)
	obj := b.Alloc("Box")
	b.StoreField(obj, "f", p)
	load := b.LoadField(obj, "f")
	sum := b.Arith("add", load, load)
	ret := b.Return(sum)

	g.ReplaceWith(load, p)

	if !load.Retired() {
		t.Error("replaced def is not retired")
	}
	if load.NumUses() != 0 {
		t.Errorf("replaced def still has %d uses", load.NumUses())
	}
	if sum.Arg(0) != p || sum.Arg(1) != p {
		t.Errorf("operands after replacement = (%s, %s), want the parameter twice",
			sum.Arg(0), sum.Arg(1))
	}
	if got := g.CountKind(LoadField); got != 0 {
		t.Errorf("load count = %d after replacement, want 0", got)
	}
	if ret.Arg(0) != sum {
		t.Errorf("return operand changed to %s", ret.Arg(0))
	}
}

func TestIntConstCached(t *testing.T) {
	g := NewGraph("f")

	a := g.IntConst(7)
	c := g.IntConst(7)
	if a != c {
		t.Error("same constant materialized twice")
	}
	if g.IntConst(8) == a {
		t.Error("distinct constants share a def")
	}
	if g.Entry.Instrs[0].Kind() != Const {
		t.Error("constants are not hoisted to the entry block")
	}
	if g.Zero() != g.IntConst(0) {
		t.Error("Zero is not the zero constant")
	}
}

func TestMarkCatchSeedsSlots(t *testing.T) {
	g := NewGraph("f")
	g.EnvNames = []string{"a", "b", "i"}

	body := g.NewBlock()
	handler := g.NewBlock()
	g.AddEdge(g.Entry, body)
	g.MarkTry(body, 1, handler)
	defs := g.MarkCatch(handler, 1)

	if len(defs) != 3 {
		t.Fatalf("got %d initial defs, want 3", len(defs))
	}
	for i, d := range defs {
		if d.Kind() != Param {
			t.Errorf("slot %d is %s, want param", i, d)
		}
		if d.EnvIndex != i {
			t.Errorf("slot %d has env index %d", i, d.EnvIndex)
		}
		if d.Block() != handler {
			t.Errorf("slot %d belongs to %s, want %s", i, d.Block(), handler)
		}
	}
	if body.ExcTo() != handler {
		t.Errorf("protected block's handler = %s, want %s", body.ExcTo(), handler)
	}
	if len(handler.ExcFrom()) != 1 || handler.ExcFrom()[0] != body {
		t.Errorf("handler's exception predecessors = %v, want [%s]", handler.ExcFrom(), body)
	}
	if len(g.CatchEntries()) != 1 {
		t.Errorf("got %d catch entries, want 1", len(g.CatchEntries()))
	}
}

func TestDeoptIDsPerGraph(t *testing.T) {
	g1 := NewGraph("f")
	g2 := NewGraph("g")
	b1 := NewBuilder(g1)
	b2 := NewBuilder(g2)

	c1 := b1.Call("foo")
	c2 := b2.Call("bar")
	if c1.DeoptID != c2.DeoptID {
		t.Errorf("first deopt ids differ across graphs: %d vs %d", c1.DeoptID, c2.DeoptID)
	}
	c3 := b1.Call("baz")
	if c3.DeoptID == c1.DeoptID {
		t.Error("deopt ids within one graph are not unique")
	}
}

func TestArgEscapes(t *testing.T) {
	g := NewGraph("f")
	b := NewBuilder(g)
	p := g.NewParam(0)
	q := g.NewParam(1)

	call := b.CallNoEscape("blackhole", []bool{true, false}, p, q)

	tests := []struct {
		name string
		pos  int
		want bool
	}{
		{"marked position", 0, false},
		{"unmarked position", 1, true},
		{"out of range", 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := call.ArgEscapes(tt.pos); got != tt.want {
				t.Errorf("ArgEscapes(%d) = %v, want %v", tt.pos, got, tt.want)
			}
		})
	}
}
