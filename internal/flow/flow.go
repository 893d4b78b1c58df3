package flow

import (
	"fmt"
	"strings"
)

/*
Flow graph representation used by the optimizer passes. A function is a set of
basic blocks connected by explicit edges; each block holds an ordered list of
instructions ("defs"). The graph is in single-assignment form: a def is never
mutated after creation, transformations retire a def and rewrite its uses to a
replacement value.

Use/def edges are symmetric and non-owning: a def knows the positions that
consume it, a consumer knows its operands. Replacement rewrites both sides.

Supported instruction kinds:
 * Const(n) - integer constant.
 * Undef - placeholder for an unconstrained value.
 * Param(name) - function parameter, or a catch-entry initial definition.
 * Phi(args...) - control-flow join, one operand per predecessor.
 * Alloc(class) - heap allocation; carries its resolved alias Identity.
 * View(backing, off, size) - differently-typed view over another object's
   storage; same alias class as the backing object.
 * Redef(value) - pass-through that may attach facts (guards, checks);
   same alias class as its input.
 * LoadField(obj, field) / StoreField(obj, field, value)
 * LoadIndex(arr, index, size) / StoreIndex(arr, index, size, value)
 * Arith(op, left, right) - pure arithmetic.
 * Call(name, args...) - opaque call; may observe and mutate any aliased
   storage; per-argument non-escape positions come from the front-end.
 * Return(value), Branch(cond), Goto - terminators. Branch and Goto targets
   live in Block.Succs, not in the instruction.
*/

// ID is a stable handle into the graph's instruction arena.
type ID int32

type Kind uint8

const (
	Invalid Kind = iota
	Const
	Undef
	Param
	Phi
	Alloc
	View
	Redef
	LoadField
	StoreField
	LoadIndex
	StoreIndex
	Arith
	Call
	Return
	Branch
	Goto
)

var kindNames = [...]string{
	Invalid:    "invalid",
	Const:      "const",
	Undef:      "undef",
	Param:      "param",
	Phi:        "phi",
	Alloc:      "alloc",
	View:       "view",
	Redef:      "redef",
	LoadField:  "load",
	StoreField: "store",
	LoadIndex:  "loadidx",
	StoreIndex: "storeidx",
	Arith:      "arith",
	Call:       "call",
	Return:     "ret",
	Branch:     "br",
	Goto:       "goto",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Capability tables. The pass logic switches on these instead of on open-ended
// dispatch so the alias and CSE code stays exhaustive.

// IsPure reports whether the instruction has no side effects and its result
// depends only on its operands.
func (k Kind) IsPure() bool {
	switch k {
	case Const, Undef, Param, Arith, Redef, View:
		return true
	}
	return false
}

// Allocates reports whether the instruction's result is a fresh heap
// allocation.
func (k Kind) Allocates() bool {
	return k == Alloc
}

// IsLoad reports whether the instruction reads a memory place.
func (k Kind) IsLoad() bool {
	return k == LoadField || k == LoadIndex
}

// IsStore reports whether the instruction writes a memory place.
func (k Kind) IsStore() bool {
	return k == StoreField || k == StoreIndex
}

// HasResult reports whether the instruction produces a value.
func (k Kind) HasResult() bool {
	switch k {
	case StoreField, StoreIndex, Return, Branch, Goto:
		return false
	}
	return true
}

// IsTerminator reports whether the instruction ends a block.
func (k Kind) IsTerminator() bool {
	return k == Return || k == Branch || k == Goto
}

// Identity is the escape classification of an allocation.
type Identity uint8

const (
	IdentityUnknown Identity = iota
	IdentityNotAliased
	IdentityAliased
)

func (id Identity) String() string {
	switch id {
	case IdentityNotAliased:
		return "not-aliased"
	case IdentityAliased:
		return "aliased"
	}
	return "unknown"
}

// Use records a single consumer of a def: the consuming instruction and the
// operand position within it.
type Use struct {
	User  *Def
	Index int
}

// Def is a single instruction. At most one value is produced; the value is
// identified with the instruction itself.
type Def struct {
	id    ID
	kind  Kind
	block *Block
	args  []*Def
	uses  []Use

	// Per-kind payload.
	Op       string // Arith operation, or callee name for Call
	IntVal   int64  // Const value
	Class    string // Alloc class name
	Field    string // LoadField/StoreField field
	ElemSize int64  // LoadIndex/StoreIndex/View element size in bytes
	ViewOff  int64  // View byte offset into the backing storage
	EnvIndex int    // Param: environment slot index (catch entries)
	DeoptID  int    // Call: deoptimization id
	NoEscape []bool // Call: argument positions known not to escape

	identity Identity
	retired  bool
}

func (d *Def) ID() ID        { return d.id }
func (d *Def) Kind() Kind    { return d.kind }
func (d *Def) Block() *Block { return d.block }
func (d *Def) Retired() bool { return d.retired }

func (d *Def) NumArgs() int   { return len(d.args) }
func (d *Def) Arg(i int) *Def { return d.args[i] }
func (d *Def) Args() []*Def   { return d.args }

func (d *Def) NumUses() int { return len(d.uses) }
func (d *Def) Uses() []Use  { return d.uses }

// Identity returns the allocation's alias classification. Only meaningful for
// Alloc defs.
func (d *Def) Identity() Identity      { return d.identity }
func (d *Def) SetIdentity(id Identity) { d.identity = id }

// ArgEscapes reports whether passing a value at argument position i of this
// call may let its identity escape. Positions without explicit front-end
// information default to escaping.
func (d *Def) ArgEscapes(i int) bool {
	if d.kind != Call {
		return true
	}
	if i < len(d.NoEscape) && d.NoEscape[i] {
		return false
	}
	return true
}

// SetArg rewires operand i to v, maintaining both sides of the use relation.
func (d *Def) SetArg(i int, v *Def) {
	old := d.args[i]
	if old == v {
		return
	}
	if old != nil {
		old.removeUse(d, i)
	}
	d.args[i] = v
	if v != nil {
		v.uses = append(v.uses, Use{User: d, Index: i})
	}
}

func (d *Def) addArg(v *Def) {
	d.args = append(d.args, nil)
	d.SetArg(len(d.args)-1, v)
}

func (d *Def) removeUse(user *Def, index int) {
	for i, u := range d.uses {
		if u.User == user && u.Index == index {
			last := len(d.uses) - 1
			d.uses[i] = d.uses[last]
			d.uses = d.uses[:last]
			return
		}
	}
	Fatalf("use list of %s is missing user %s at operand %d", d, user, index)
}

// ReplaceUses rewrites every use of d to point at repl.
func (d *Def) ReplaceUses(repl *Def) {
	for len(d.uses) > 0 {
		u := d.uses[len(d.uses)-1]
		u.User.SetArg(u.Index, repl)
	}
}

// ClearArgs unlinks all operands. Used when retiring instructions.
func (d *Def) ClearArgs() {
	for i := range d.args {
		d.SetArg(i, nil)
	}
}

func (d *Def) String() string {
	var sb strings.Builder
	if d.kind.HasResult() {
		fmt.Fprintf(&sb, "v%d = ", d.id)
	}
	sb.WriteString(d.kind.String())
	switch d.kind {
	case Const:
		fmt.Fprintf(&sb, " %d", d.IntVal)
	case Param:
		fmt.Fprintf(&sb, " #%d", d.EnvIndex)
	case Alloc:
		fmt.Fprintf(&sb, " %s", d.Class)
	case Arith:
		fmt.Fprintf(&sb, " %s", d.Op)
	case Call:
		fmt.Fprintf(&sb, " %s", d.Op)
	case LoadField, StoreField:
		fmt.Fprintf(&sb, " .%s", d.Field)
	case LoadIndex, StoreIndex:
		fmt.Fprintf(&sb, "/%d", d.ElemSize)
	case View:
		fmt.Fprintf(&sb, " off=%d/%d", d.ViewOff, d.ElemSize)
	}
	for _, a := range d.args {
		if a == nil {
			sb.WriteString(" _")
		} else {
			fmt.Fprintf(&sb, " v%d", a.id)
		}
	}
	return sb.String()
}

// Block is a basic block: an ordered instruction sequence plus explicit edges.
type Block struct {
	id    int
	graph *Graph

	Instrs []*Def
	Preds  []*Block
	Succs  []*Block

	// TryID marks blocks inside a protected region; 0 means unprotected.
	TryID int

	// Handler entry state. A catch entry is reachable only via implicit
	// exception edges (excFrom) from the blocks of its protected region.
	Catch       bool
	CatchTryID  int
	InitialDefs []*Def

	excFrom []*Block // implicit exception predecessors (catch entries only)
	excTo   *Block   // implicit exception successor (protected blocks only)

	dom domInfo
}

func (b *Block) ID() int       { return b.id }
func (b *Block) Graph() *Graph { return b.graph }

// ExcFrom returns the implicit exception predecessors of a catch entry.
func (b *Block) ExcFrom() []*Block { return b.excFrom }

// ExcTo returns the handler reached when an instruction in this block throws.
func (b *Block) ExcTo() *Block { return b.excTo }

// preds returns the full predecessor set including implicit exception edges.
// Dominance is computed over this relation.
func (b *Block) preds() []*Block {
	if len(b.excFrom) == 0 {
		return b.Preds
	}
	all := make([]*Block, 0, len(b.Preds)+len(b.excFrom))
	all = append(all, b.Preds...)
	all = append(all, b.excFrom...)
	return all
}

func (b *Block) String() string {
	return fmt.Sprintf("b%d", b.id)
}

// removeInstr unlinks d from the block's instruction list.
func (b *Block) removeInstr(d *Def) {
	for i, instr := range b.Instrs {
		if instr == d {
			b.Instrs = append(b.Instrs[:i], b.Instrs[i+1:]...)
			return
		}
	}
	Fatalf("%s is not in block %s", d, b)
}

// Graph owns every block and instruction of one function compilation. All ids
// (instruction ids, deopt ids) are minted from the graph so concurrent
// compilations of different functions share no mutable state.
type Graph struct {
	Name     string
	Params   []*Def
	Blocks   []*Block
	Entry    *Block
	EnvNames []string

	defs        []*Def
	consts      map[int64]*Def
	undef       *Def
	nextBlockID int
	nextDeoptID int
}

func NewGraph(name string) *Graph {
	g := &Graph{
		Name:   name,
		consts: make(map[int64]*Def),
	}
	g.Entry = g.NewBlock()
	return g
}

func (g *Graph) NewBlock() *Block {
	b := &Block{id: g.nextBlockID, graph: g}
	g.nextBlockID++
	g.Blocks = append(g.Blocks, b)
	return b
}

// AddEdge records a control-flow edge from -> to.
func (g *Graph) AddEdge(from, to *Block) {
	from.Succs = append(from.Succs, to)
	to.Preds = append(to.Preds, from)
}

// NumDefs returns the arena size; retired defs still occupy their slot.
func (g *Graph) NumDefs() int { return len(g.defs) }

// DefByID returns the def with the given arena handle.
func (g *Graph) DefByID(id ID) *Def { return g.defs[id] }

func (g *Graph) newDef(kind Kind) *Def {
	d := &Def{id: ID(len(g.defs)), kind: kind}
	g.defs = append(g.defs, d)
	return d
}

// NextDeoptID mints a fresh deoptimization id. Compilation-scoped, never a
// package global.
func (g *Graph) NextDeoptID() int {
	id := g.nextDeoptID
	g.nextDeoptID++
	return id
}

// IntConst returns the cached constant def for v, materializing it in the
// entry block on first use.
func (g *Graph) IntConst(v int64) *Def {
	if c, ok := g.consts[v]; ok {
		return c
	}
	c := g.newDef(Const)
	c.IntVal = v
	c.block = g.Entry
	g.Entry.Instrs = append([]*Def{c}, g.Entry.Instrs...)
	g.consts[v] = c
	return c
}

// Zero returns the default value forwarded for never-stored fields of fresh
// allocations.
func (g *Graph) Zero() *Def { return g.IntConst(0) }

// UndefValue returns the shared placeholder def used for pruned catch-entry
// slots.
func (g *Graph) UndefValue() *Def {
	if g.undef == nil {
		g.undef = g.newDef(Undef)
		g.undef.block = g.Entry
	}
	return g.undef
}

// NewParam creates a function parameter in the entry block.
func (g *Graph) NewParam(envIndex int) *Def {
	d := g.newDef(Param)
	d.EnvIndex = envIndex
	d.block = g.Entry
	g.Entry.Instrs = append(g.Entry.Instrs, d)
	g.Params = append(g.Params, d)
	return d
}

// MarkTry places b inside protected region tryID with the given handler.
// Every throwing instruction in b gets an implicit edge to the handler.
func (g *Graph) MarkTry(b *Block, tryID int, handler *Block) {
	b.TryID = tryID
	b.excTo = handler
	handler.excFrom = append(handler.excFrom, b)
}

// MarkCatch turns b into the handler entry for region tryID and seeds its
// initial-definition list with one parameter per environment slot, exactly as
// the front-end's scope machinery hands it over. The synchronization
// minimizer prunes this list.
func (g *Graph) MarkCatch(b *Block, tryID int) []*Def {
	b.Catch = true
	b.CatchTryID = tryID
	b.InitialDefs = make([]*Def, len(g.EnvNames))
	for i := range g.EnvNames {
		p := g.newDef(Param)
		p.EnvIndex = i
		p.block = b
		b.InitialDefs[i] = p
	}
	return b.InitialDefs
}

// ReplaceWith rewrites all uses of d to repl, unlinks d from its block and
// retires it. Stores and other result-less instructions use Remove instead.
func (g *Graph) ReplaceWith(d, repl *Def) {
	if d.retired {
		Fatalf("replacing retired def %s", d)
	}
	d.ReplaceUses(repl)
	g.Remove(d)
}

// Remove retires an instruction that has no remaining uses.
func (g *Graph) Remove(d *Def) {
	if len(d.uses) > 0 {
		Fatalf("removing %s which still has %d uses", d, len(d.uses))
	}
	d.ClearArgs()
	if d.block != nil {
		d.block.removeInstr(d)
	}
	d.retired = true
}

// CatchEntries returns the handler entry blocks of the graph.
func (g *Graph) CatchEntries() []*Block {
	var entries []*Block
	for _, b := range g.Blocks {
		if b.Catch {
			entries = append(entries, b)
		}
	}
	return entries
}

// CountKind returns the number of live instructions of the given kind.
func (g *Graph) CountKind(kind Kind) int {
	n := 0
	for _, b := range g.Blocks {
		for _, d := range b.Instrs {
			if d.kind == kind {
				n++
			}
		}
	}
	return n
}
