package flow

// Dominator tree construction. Uses the iterative algorithm of Cooper, Harvey
// and Kennedy: compute a reverse postorder, then intersect predecessor idoms
// to a fixed point. Dominance queries run in constant time off pre/post
// numbers of a depth-first walk of the resulting tree.
//
// Implicit exception edges into catch entries participate in the predecessor
// relation, so a value computed inside a protected region never dominates the
// region's handler.

// domInfo holds a block's dominance information.
type domInfo struct {
	idom      *Block
	children  []*Block
	pre, post int32
	po        int32 // postorder number of the CFG walk, used during construction
}

// Idom returns the block's immediate dominator: its parent in the dominator
// tree. The entry block has none.
func (b *Block) Idom() *Block { return b.dom.idom }

// Dominees returns the blocks b immediately dominates.
func (b *Block) Dominees() []*Block { return b.dom.children }

// Dominates reports whether b dominates c. A block dominates itself.
func (b *Block) Dominates(c *Block) bool {
	return b.dom.pre <= c.dom.pre && c.dom.post <= b.dom.post
}

// BuildDomTree computes the dominator tree of g. Must run before the
// forwarder; transformations in this package keep block topology intact, so
// one computation per pipeline is enough.
func BuildDomTree(g *Graph) {
	for _, b := range g.Blocks {
		b.dom = domInfo{}
	}

	// Postorder over successors plus implicit exception edges.
	order := make([]*Block, 0, len(g.Blocks))
	seen := make(map[*Block]bool, len(g.Blocks))
	var dfs func(b *Block)
	dfs = func(b *Block) {
		if seen[b] {
			return
		}
		seen[b] = true
		for _, succ := range b.Succs {
			dfs(succ)
		}
		if b.excTo != nil {
			dfs(b.excTo)
		}
		order = append(order, b)
		b.dom.po = int32(len(order) - 1)
	}
	dfs(g.Entry)

	// Reverse to get reverse postorder.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}

	idoms := make(map[*Block]*Block, len(order))
	idoms[g.Entry] = g.Entry
	changed := true
	for changed {
		changed = false
		for _, b := range order[1:] {
			var newIdom *Block
			for _, p := range b.preds() {
				if idoms[p] == nil {
					continue
				}
				if newIdom == nil {
					newIdom = p
					continue
				}
				finger1, finger2 := p, newIdom
				for finger1 != finger2 {
					for finger1.dom.po < finger2.dom.po {
						finger1 = idoms[finger1]
					}
					for finger2.dom.po < finger1.dom.po {
						finger2 = idoms[finger2]
					}
				}
				newIdom = finger1
			}
			if idoms[b] != newIdom {
				idoms[b] = newIdom
				changed = true
			}
		}
	}

	// Assign children in reverse postorder so later walks are deterministic.
	for _, b := range order[1:] {
		idom := idoms[b]
		b.dom.idom = idom
		idom.dom.children = append(idom.dom.children, b)
	}

	numberDomTree(g.Entry, 0, 0)
}

// numberDomTree assigns pre/post order numbers of a depth-first dominator
// tree walk, enabling constant-time Dominates.
func numberDomTree(b *Block, pre, post int32) (int32, int32) {
	b.dom.pre = pre
	pre++
	for _, child := range b.dom.children {
		pre, post = numberDomTree(child, pre, post)
	}
	b.dom.post = post
	post++
	return pre, post
}

// DomPreorder returns the reachable blocks in dominator-tree preorder.
func (g *Graph) DomPreorder() []*Block {
	order := make([]*Block, 0, len(g.Blocks))
	var walk func(b *Block)
	walk = func(b *Block) {
		order = append(order, b)
		for _, child := range b.dom.children {
			walk(child)
		}
	}
	walk(g.Entry)
	return order
}
