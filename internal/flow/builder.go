package flow

// Builder appends instructions to a block, wiring operands as it goes. Tests
// and the textual IR front door construct graphs through it.
type Builder struct {
	graph *Graph
	block *Block
}

func NewBuilder(g *Graph) *Builder {
	return &Builder{graph: g, block: g.Entry}
}

func (b *Builder) Graph() *Graph { return b.graph }
func (b *Builder) Block() *Block { return b.block }

// SetBlock moves the builder to another block.
func (b *Builder) SetBlock(blk *Block) {
	b.block = blk
}

func (b *Builder) emit(kind Kind, args ...*Def) *Def {
	d := b.graph.newDef(kind)
	d.block = b.block
	for _, a := range args {
		d.addArg(a)
	}
	b.block.Instrs = append(b.block.Instrs, d)
	return d
}

func (b *Builder) Const(v int64) *Def {
	return b.graph.IntConst(v)
}

func (b *Builder) Alloc(class string) *Def {
	d := b.emit(Alloc)
	d.Class = class
	return d
}

// View creates a differently-typed view over backing's storage starting at
// byte offset off with the given element size.
func (b *Builder) View(backing *Def, off, elemSize int64) *Def {
	d := b.emit(View, backing)
	d.ViewOff = off
	d.ElemSize = elemSize
	return d
}

// Redef passes v through unchanged; it stands in for guard and check
// instructions that attach facts without creating a new alias class.
func (b *Builder) Redef(v *Def) *Def {
	return b.emit(Redef, v)
}

func (b *Builder) LoadField(obj *Def, field string) *Def {
	d := b.emit(LoadField, obj)
	d.Field = field
	return d
}

func (b *Builder) StoreField(obj *Def, field string, val *Def) *Def {
	d := b.emit(StoreField, obj, val)
	d.Field = field
	return d
}

func (b *Builder) LoadIndex(arr, index *Def, elemSize int64) *Def {
	d := b.emit(LoadIndex, arr, index)
	d.ElemSize = elemSize
	return d
}

func (b *Builder) StoreIndex(arr, index *Def, elemSize int64, val *Def) *Def {
	d := b.emit(StoreIndex, arr, index, val)
	d.ElemSize = elemSize
	return d
}

func (b *Builder) Arith(op string, left, right *Def) *Def {
	d := b.emit(Arith, left, right)
	d.Op = op
	return d
}

// Call emits an opaque call. Argument positions default to escaping; use
// CallNoEscape when the front-end knows better.
func (b *Builder) Call(name string, args ...*Def) *Def {
	d := b.emit(Call, args...)
	d.Op = name
	d.DeoptID = b.graph.NextDeoptID()
	return d
}

// CallNoEscape emits a call with per-argument non-escape information.
// noEscape[i] == true means the callee does not let argument i escape.
func (b *Builder) CallNoEscape(name string, noEscape []bool, args ...*Def) *Def {
	d := b.Call(name, args...)
	d.NoEscape = noEscape
	return d
}

// Phi creates a join value; operand order must match the block's predecessor
// order once edges are in place.
func (b *Builder) Phi(args ...*Def) *Def {
	return b.emit(Phi, args...)
}

// EmptyPhi creates a join value with n unset operands to be filled in with
// SetArg once the incoming values exist.
func (b *Builder) EmptyPhi(n int) *Def {
	d := b.emit(Phi)
	for i := 0; i < n; i++ {
		d.addArg(nil)
	}
	return d
}

func (b *Builder) Return(v *Def) *Def {
	return b.emit(Return, v)
}

// ReturnVoid ends the block without a result value.
func (b *Builder) ReturnVoid() *Def {
	return b.emit(Return)
}

// Goto ends the block with an unconditional jump to target.
func (b *Builder) Goto(target *Block) *Def {
	d := b.emit(Goto)
	b.graph.AddEdge(b.block, target)
	return d
}

// Branch ends the block with a conditional jump: then on non-zero cond, els
// otherwise.
func (b *Builder) Branch(cond *Def, then, els *Block) *Def {
	d := b.emit(Branch, cond)
	b.graph.AddEdge(b.block, then)
	b.graph.AddEdge(b.block, els)
	return d
}
