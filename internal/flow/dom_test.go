package flow

import (
	"testing"
)

// diamond builds entry -> (left, right) -> exit.
func diamond(t *testing.T) (g *Graph, left, right, exit *Block) {
	t.Helper()
	g = NewGraph("diamond")
	b := NewBuilder(g)

	cond := g.NewParam(0)
	left = g.NewBlock()
	right = g.NewBlock()
	exit = g.NewBlock()

	b.Branch(cond, left, right)
	b.SetBlock(left)
	b.Goto(exit)
	b.SetBlock(right)
	b.Goto(exit)
	b.SetBlock(exit)
	b.Return(cond)

	BuildDomTree(g)
	return g, left, right, exit
}

func TestDomTreeDiamond(t *testing.T) {
	g, left, right, exit := diamond(t)

	tests := []struct {
		name  string
		block *Block
		idom  *Block
	}{
		{"left arm", left, g.Entry},
		{"right arm", right, g.Entry},
		{"join", exit, g.Entry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.block.Idom(); got != tt.idom {
				t.Errorf("idom(%s) = %s, want %s", tt.block, got, tt.idom)
			}
		})
	}

	if !g.Entry.Dominates(exit) {
		t.Error("entry does not dominate the join")
	}
	if left.Dominates(exit) {
		t.Error("one arm of the diamond dominates the join")
	}
	if !left.Dominates(left) {
		t.Error("block does not dominate itself")
	}
	if exit.Dominates(left) {
		t.Error("join dominates an arm")
	}
}

func TestDomTreeLoop(t *testing.T) {
	g := NewGraph("loop")
	b := NewBuilder(g)

	n := g.NewParam(0)
	header := g.NewBlock()
	body := g.NewBlock()
	exit := g.NewBlock()

	b.Goto(header)
	b.SetBlock(header)
	b.Branch(n, body, exit)
	b.SetBlock(body)
	b.Goto(header)
	b.SetBlock(exit)
	b.Return(n)

	BuildDomTree(g)

	if header.Idom() != g.Entry {
		t.Errorf("idom(header) = %s, want entry", header.Idom())
	}
	if body.Idom() != header {
		t.Errorf("idom(body) = %s, want header", body.Idom())
	}
	if exit.Idom() != header {
		t.Errorf("idom(exit) = %s, want header", exit.Idom())
	}
	// The back-edge source never dominates the header.
	if body.Dominates(header) {
		t.Error("loop body dominates the header")
	}
	if !header.Dominates(body) || !header.Dominates(exit) {
		t.Error("header does not dominate the loop")
	}
}

func TestDomTreeCatchEntry(t *testing.T) {
	g := NewGraph("guarded")
	g.EnvNames = []string{"a"}
	b := NewBuilder(g)

	p := g.NewParam(0)
	protected := g.NewBlock()
	handler := g.NewBlock()
	exit := g.NewBlock()

	b.Goto(protected)
	g.MarkTry(protected, 1, handler)
	b.SetBlock(protected)
	b.Call("risky", p)
	b.Goto(exit)
	g.MarkCatch(handler, 1)
	b.SetBlock(handler)
	b.Goto(exit)
	b.SetBlock(exit)
	b.Return(p)

	BuildDomTree(g)

	// The handler is reached only through the implicit exception edge.
	if handler.Idom() != protected {
		t.Errorf("idom(handler) = %s, want the protected block", handler.Idom())
	}
	// The exit joins the normal path and the handler path.
	if exit.Idom() != protected {
		t.Errorf("idom(exit) = %s, want the protected block", exit.Idom())
	}
	if handler.Dominates(exit) {
		t.Error("handler dominates the join after the protected region")
	}
}

func TestDomPreorder(t *testing.T) {
	g, _, _, _ := diamond(t)

	order := g.DomPreorder()
	if len(order) != len(g.Blocks) {
		t.Fatalf("preorder has %d blocks, want %d", len(order), len(g.Blocks))
	}
	if order[0] != g.Entry {
		t.Errorf("preorder starts at %s, want entry", order[0])
	}
	seen := make(map[*Block]bool)
	for _, b := range order {
		if idom := b.Idom(); idom != nil && !seen[idom] {
			t.Errorf("%s appears before its immediate dominator %s", b, idom)
		}
		seen[b] = true
	}
}

func TestDomTreeDeterministic(t *testing.T) {
	build := func() []int {
		g, _, _, _ := diamond(t)
		var ids []int
		for _, b := range g.DomPreorder() {
			ids = append(ids, b.ID())
		}
		return ids
	}
	first := build()
	for i := 0; i < 10; i++ {
		next := build()
		for j := range first {
			if first[j] != next[j] {
				t.Fatalf("preorder changed between runs: %v vs %v", first, next)
			}
		}
	}
}
