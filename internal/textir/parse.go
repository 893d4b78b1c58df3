// Package textir parses and prints a small textual form of flow graphs. It
// exists for the developer CLI and for tests; the production front-end hands
// the optimizer an already-built graph and never goes through text.
package textir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/iley/flint/internal/flow"
)

/*
Grammar, line oriented:

	func NAME(p, q) vars a, b, i
	b0:
	  v1 = alloc K
	  v2 = const 7
	  v3 = add v1, v2
	  v4 = load v1.f
	  store v1.f = v2
	  v5 = loadidx v1[v2]/8
	  storeidx v1[0]/8 = v4
	  v6 = view v1 off 4 size 4
	  v7 = redef v1
	  v8 = call blackhole(v4, v5) noescape(1)
	  v9 = phi(v1, v2)
	  ret v8
	  goto b1
	  br v8, b1, b2
	b1: try 1 -> b2
	b2: catch 1 (ca, _, ci)

Operands are value names or integer literals. Phi operands may be defined
later in the text (loop-carried values); everything else must already exist.
A catch header binds one name per environment slot, "_" marking a slot that
carries no synchronized value.
*/

type parser struct {
	graph   *flow.Graph
	builder *flow.Builder
	blocks  map[string]*flow.Block
	values  map[string]*flow.Def

	// Forward references out of phi operands, patched once all values exist.
	pending []pendingArg
}

type pendingArg struct {
	def   *flow.Def
	index int
	name  string
	line  int
}

var arithOps = map[string]bool{
	"add": true, "sub": true, "mul": true, "div": true, "mod": true,
	"and": true, "or": true, "xor": true, "shl": true, "shr": true,
	"lt": true, "gt": true, "eq": true,
}

// Parse builds a flow graph from its textual form.
func Parse(src string) (*flow.Graph, error) {
	p := &parser{
		blocks: make(map[string]*flow.Block),
		values: make(map[string]*flow.Def),
	}

	lines := strings.Split(src, "\n")

	// First pass: function header and block labels, so jumps and handler
	// references can point forward.
	for i, raw := range lines {
		line := stripComment(raw)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "func "):
			if p.graph != nil {
				return nil, fmt.Errorf("line %d: more than one function", i+1)
			}
			if err := p.parseHeader(line); err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
		case isBlockHeader(line):
			if p.graph == nil {
				return nil, fmt.Errorf("line %d: block before func header", i+1)
			}
			label := strings.TrimSpace(line[:strings.Index(line, ":")])
			if _, ok := p.blocks[label]; ok {
				return nil, fmt.Errorf("line %d: duplicate block %q", i+1, label)
			}
			if len(p.blocks) == 0 {
				p.blocks[label] = p.graph.Entry
			} else {
				p.blocks[label] = p.graph.NewBlock()
			}
		}
	}
	if p.graph == nil {
		return nil, fmt.Errorf("missing func header")
	}
	if len(p.blocks) == 0 {
		return nil, fmt.Errorf("function %s has no blocks", p.graph.Name)
	}

	// Second pass: block annotations and instructions.
	p.builder = flow.NewBuilder(p.graph)
	for i, raw := range lines {
		line := stripComment(raw)
		if line == "" || strings.HasPrefix(line, "func ") {
			continue
		}
		var err error
		if isBlockHeader(line) {
			err = p.parseBlockHeader(line)
		} else {
			err = p.parseInstr(line, i+1)
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
	}

	for _, pa := range p.pending {
		v, ok := p.values[pa.name]
		if !ok {
			return nil, fmt.Errorf("line %d: undefined value %q", pa.line, pa.name)
		}
		pa.def.SetArg(pa.index, v)
	}
	return p.graph, nil
}

func stripComment(line string) string {
	if i := strings.Index(line, ";"); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

func isBlockHeader(line string) bool {
	i := strings.Index(line, ":")
	if i <= 0 {
		return false
	}
	label := line[:i]
	return !strings.ContainsAny(label, " \t=")
}

// parseHeader handles "func NAME(p, q) vars a, b, i".
func (p *parser) parseHeader(line string) error {
	rest := strings.TrimPrefix(line, "func ")
	open := strings.Index(rest, "(")
	closing := strings.Index(rest, ")")
	if open < 0 || closing < open {
		return fmt.Errorf("malformed func header %q", line)
	}
	name := strings.TrimSpace(rest[:open])
	if name == "" {
		return fmt.Errorf("missing function name")
	}
	p.graph = flow.NewGraph(name)

	for i, param := range splitList(rest[open+1 : closing]) {
		if _, ok := p.values[param]; ok {
			return fmt.Errorf("duplicate parameter %q", param)
		}
		p.values[param] = p.graph.NewParam(i)
	}

	tail := strings.TrimSpace(rest[closing+1:])
	if tail == "" {
		return nil
	}
	if !strings.HasPrefix(tail, "vars ") {
		return fmt.Errorf("unexpected %q after parameter list", tail)
	}
	p.graph.EnvNames = splitList(strings.TrimPrefix(tail, "vars "))
	return nil
}

// parseBlockHeader handles "bN:", "bN: try T -> handler" and
// "bN: catch T (names...)".
func (p *parser) parseBlockHeader(line string) error {
	i := strings.Index(line, ":")
	label := line[:i]
	b := p.blocks[label]
	p.builder.SetBlock(b)

	annot := strings.TrimSpace(line[i+1:])
	if annot == "" {
		return nil
	}
	fields := strings.Fields(annot)
	switch fields[0] {
	case "try":
		if len(fields) != 4 || fields[2] != "->" {
			return fmt.Errorf("malformed try annotation %q", annot)
		}
		tryID, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("bad try id %q", fields[1])
		}
		handler, ok := p.blocks[fields[3]]
		if !ok {
			return fmt.Errorf("unknown handler block %q", fields[3])
		}
		p.graph.MarkTry(b, tryID, handler)
	case "catch":
		rest := strings.TrimSpace(annot[len("catch"):])
		open := strings.Index(rest, "(")
		closing := strings.LastIndex(rest, ")")
		if open < 0 || closing < open {
			return fmt.Errorf("malformed catch annotation %q", annot)
		}
		tryID, err := strconv.Atoi(strings.TrimSpace(rest[:open]))
		if err != nil {
			return fmt.Errorf("bad try id in %q", annot)
		}
		names := splitList(rest[open+1 : closing])
		if len(names) != len(p.graph.EnvNames) {
			return fmt.Errorf("catch binds %d slots, function has %d vars",
				len(names), len(p.graph.EnvNames))
		}
		defs := p.graph.MarkCatch(b, tryID)
		for slot, name := range names {
			if name == "_" {
				b.InitialDefs[slot] = p.graph.UndefValue()
				continue
			}
			if _, ok := p.values[name]; ok {
				return fmt.Errorf("duplicate value %q", name)
			}
			p.values[name] = defs[slot]
		}
	default:
		return fmt.Errorf("unknown block annotation %q", annot)
	}
	return nil
}

func (p *parser) parseInstr(line string, lineno int) error {
	name := ""
	rest := line
	if eq := strings.Index(line, "="); eq >= 0 && !strings.HasPrefix(line, "store") {
		name = strings.TrimSpace(line[:eq])
		rest = strings.TrimSpace(line[eq+1:])
	}

	op, args, found := strings.Cut(rest, " ")
	if !found {
		args = ""
	}
	args = strings.TrimSpace(args)

	var d *flow.Def
	var err error
	switch {
	case op == "const":
		d, err = p.parseConst(args)
	case op == "alloc":
		d = p.builder.Alloc(args)
	case op == "redef":
		d, err = p.parseUnary(args)
	case op == "view":
		d, err = p.parseView(args)
	case op == "load":
		d, err = p.parseLoad(args)
	case op == "store":
		d, err = p.parseStore(rest)
	case op == "loadidx":
		d, err = p.parseLoadIndex(args)
	case op == "storeidx":
		d, err = p.parseStoreIndex(rest)
	case op == "call":
		d, err = p.parseCall(args)
	case op == "phi":
		d, err = p.parsePhi(rest, lineno)
	case op == "ret":
		d, err = p.parseReturn(args)
	case op == "goto":
		d, err = p.parseGoto(args)
	case op == "br":
		d, err = p.parseBranch(args)
	case arithOps[op]:
		d, err = p.parseArith(op, args)
	default:
		return fmt.Errorf("unknown instruction %q", op)
	}
	if err != nil {
		return err
	}

	if name != "" {
		if !d.Kind().HasResult() {
			return fmt.Errorf("%s produces no value", d.Kind())
		}
		if _, ok := p.values[name]; ok {
			return fmt.Errorf("duplicate value %q", name)
		}
		p.values[name] = d
	}
	return nil
}

func (p *parser) operand(name string) (*flow.Def, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("missing operand")
	}
	if n, err := strconv.ParseInt(name, 10, 64); err == nil {
		return p.builder.Const(n), nil
	}
	v, ok := p.values[name]
	if !ok {
		return nil, fmt.Errorf("undefined value %q", name)
	}
	return v, nil
}

func (p *parser) parseConst(args string) (*flow.Def, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad constant %q", args)
	}
	return p.builder.Const(n), nil
}

func (p *parser) parseUnary(args string) (*flow.Def, error) {
	v, err := p.operand(args)
	if err != nil {
		return nil, err
	}
	return p.builder.Redef(v), nil
}

// parseView handles "view BASE off N size N".
func (p *parser) parseView(args string) (*flow.Def, error) {
	fields := strings.Fields(args)
	if len(fields) != 5 || fields[1] != "off" || fields[3] != "size" {
		return nil, fmt.Errorf("malformed view %q", args)
	}
	base, err := p.operand(fields[0])
	if err != nil {
		return nil, err
	}
	off, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad view offset %q", fields[2])
	}
	size, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad view size %q", fields[4])
	}
	return p.builder.View(base, off, size), nil
}

// parseLoad handles "load OBJ.FIELD".
func (p *parser) parseLoad(args string) (*flow.Def, error) {
	objName, field, ok := strings.Cut(args, ".")
	if !ok {
		return nil, fmt.Errorf("malformed field access %q", args)
	}
	obj, err := p.operand(objName)
	if err != nil {
		return nil, err
	}
	return p.builder.LoadField(obj, strings.TrimSpace(field)), nil
}

// parseStore handles "store OBJ.FIELD = VALUE".
func (p *parser) parseStore(rest string) (*flow.Def, error) {
	body := strings.TrimPrefix(rest, "store ")
	lhs, rhs, ok := strings.Cut(body, "=")
	if !ok {
		return nil, fmt.Errorf("malformed store %q", rest)
	}
	objName, field, ok := strings.Cut(strings.TrimSpace(lhs), ".")
	if !ok {
		return nil, fmt.Errorf("malformed field access %q", lhs)
	}
	obj, err := p.operand(objName)
	if err != nil {
		return nil, err
	}
	val, err := p.operand(rhs)
	if err != nil {
		return nil, err
	}
	return p.builder.StoreField(obj, strings.TrimSpace(field), val), nil
}

// parseIndexExpr handles "ARR[IDX]/SIZE".
func (p *parser) parseIndexExpr(expr string) (arr, idx *flow.Def, size int64, err error) {
	open := strings.Index(expr, "[")
	closing := strings.Index(expr, "]")
	if open < 0 || closing < open || !strings.HasPrefix(expr[closing+1:], "/") {
		return nil, nil, 0, fmt.Errorf("malformed indexed access %q", expr)
	}
	arr, err = p.operand(expr[:open])
	if err != nil {
		return nil, nil, 0, err
	}
	idx, err = p.operand(expr[open+1:closing])
	if err != nil {
		return nil, nil, 0, err
	}
	size, err = strconv.ParseInt(strings.TrimSpace(expr[closing+2:]), 10, 64)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("bad element size in %q", expr)
	}
	return arr, idx, size, nil
}

func (p *parser) parseLoadIndex(args string) (*flow.Def, error) {
	arr, idx, size, err := p.parseIndexExpr(strings.TrimSpace(args))
	if err != nil {
		return nil, err
	}
	return p.builder.LoadIndex(arr, idx, size), nil
}

// parseStoreIndex handles "storeidx ARR[IDX]/SIZE = VALUE".
func (p *parser) parseStoreIndex(rest string) (*flow.Def, error) {
	body := strings.TrimPrefix(rest, "storeidx ")
	lhs, rhs, ok := strings.Cut(body, "=")
	if !ok {
		return nil, fmt.Errorf("malformed indexed store %q", rest)
	}
	arr, idx, size, err := p.parseIndexExpr(strings.TrimSpace(lhs))
	if err != nil {
		return nil, err
	}
	val, err := p.operand(rhs)
	if err != nil {
		return nil, err
	}
	return p.builder.StoreIndex(arr, idx, size, val), nil
}

// parseCall handles "call NAME(args...) noescape(positions...)".
func (p *parser) parseCall(args string) (*flow.Def, error) {
	open := strings.Index(args, "(")
	closing := strings.Index(args, ")")
	if open < 0 || closing < open {
		return nil, fmt.Errorf("malformed call %q", args)
	}
	callee := strings.TrimSpace(args[:open])

	var operands []*flow.Def
	for _, a := range splitList(args[open+1 : closing]) {
		v, err := p.operand(a)
		if err != nil {
			return nil, err
		}
		operands = append(operands, v)
	}

	var noEscape []bool
	tail := strings.TrimSpace(args[closing+1:])
	if tail != "" {
		if !strings.HasPrefix(tail, "noescape(") || !strings.HasSuffix(tail, ")") {
			return nil, fmt.Errorf("unexpected %q after call", tail)
		}
		noEscape = make([]bool, len(operands))
		for _, s := range splitList(tail[len("noescape(") : len(tail)-1]) {
			pos, err := strconv.Atoi(s)
			if err != nil || pos < 0 || pos >= len(operands) {
				return nil, fmt.Errorf("bad noescape position %q", s)
			}
			noEscape[pos] = true
		}
	}
	return p.builder.CallNoEscape(callee, noEscape, operands...), nil
}

// parsePhi handles "phi(a, b, ...)"; operands may be defined later.
func (p *parser) parsePhi(rest string, lineno int) (*flow.Def, error) {
	open := strings.Index(rest, "(")
	closing := strings.LastIndex(rest, ")")
	if open < 0 || closing < open {
		return nil, fmt.Errorf("malformed phi %q", rest)
	}
	names := splitList(rest[open+1 : closing])
	d := p.builder.EmptyPhi(len(names))
	for i, name := range names {
		if n, err := strconv.ParseInt(name, 10, 64); err == nil {
			d.SetArg(i, p.builder.Const(n))
			continue
		}
		if v, ok := p.values[name]; ok {
			d.SetArg(i, v)
			continue
		}
		p.pending = append(p.pending, pendingArg{def: d, index: i, name: name, line: lineno})
	}
	return d, nil
}

func (p *parser) parseReturn(args string) (*flow.Def, error) {
	if strings.TrimSpace(args) == "" {
		return p.builder.ReturnVoid(), nil
	}
	v, err := p.operand(args)
	if err != nil {
		return nil, err
	}
	return p.builder.Return(v), nil
}

func (p *parser) parseGoto(args string) (*flow.Def, error) {
	target, ok := p.blocks[strings.TrimSpace(args)]
	if !ok {
		return nil, fmt.Errorf("unknown block %q", args)
	}
	return p.builder.Goto(target), nil
}

// parseBranch handles "br COND, THEN, ELSE".
func (p *parser) parseBranch(args string) (*flow.Def, error) {
	parts := splitList(args)
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed branch %q", args)
	}
	cond, err := p.operand(parts[0])
	if err != nil {
		return nil, err
	}
	then, ok := p.blocks[parts[1]]
	if !ok {
		return nil, fmt.Errorf("unknown block %q", parts[1])
	}
	els, ok := p.blocks[parts[2]]
	if !ok {
		return nil, fmt.Errorf("unknown block %q", parts[2])
	}
	return p.builder.Branch(cond, then, els), nil
}

func (p *parser) parseArith(op, args string) (*flow.Def, error) {
	parts := splitList(args)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%s takes two operands, got %q", op, args)
	}
	left, err := p.operand(parts[0])
	if err != nil {
		return nil, err
	}
	right, err := p.operand(parts[1])
	if err != nil {
		return nil, err
	}
	return p.builder.Arith(op, left, right), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
