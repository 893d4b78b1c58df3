package textir

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/iley/flint/internal/flow"
)

// Print renders a graph in the textual form Parse accepts. Values are named
// after their ids, so Parse(Print(g)) reconstructs an equivalent graph.
func Print(g *flow.Graph) string {
	var sb strings.Builder

	params := make([]string, len(g.Params))
	for i, p := range g.Params {
		params[i] = name(p)
	}
	fmt.Fprintf(&sb, "func %s(%s)", g.Name, strings.Join(params, ", "))
	if len(g.EnvNames) > 0 {
		fmt.Fprintf(&sb, " vars %s", strings.Join(g.EnvNames, ", "))
	}
	sb.WriteByte('\n')

	for _, b := range g.Blocks {
		printBlockHeader(&sb, b)
		for _, d := range blockInstrs(g, b) {
			fmt.Fprintf(&sb, "  %s\n", formatInstr(d))
		}
	}
	return sb.String()
}

// blockInstrs returns the instructions to print for b. Parameters live in the
// function header, and the entry block's constants are ordered by value so the
// output does not depend on the order the constants were first requested in.
func blockInstrs(g *flow.Graph, b *flow.Block) []*flow.Def {
	var consts, rest []*flow.Def
	for _, d := range b.Instrs {
		switch d.Kind() {
		case flow.Param:
		case flow.Const:
			consts = append(consts, d)
		default:
			rest = append(rest, d)
		}
	}
	slices.SortFunc(consts, func(a, b *flow.Def) int {
		return cmp.Compare(a.IntVal, b.IntVal)
	})
	return append(consts, rest...)
}

func name(d *flow.Def) string {
	return fmt.Sprintf("v%d", d.ID())
}

func printBlockHeader(sb *strings.Builder, b *flow.Block) {
	switch {
	case b.Catch:
		slots := make([]string, len(b.InitialDefs))
		for i, d := range b.InitialDefs {
			if d.Kind() == flow.Param {
				slots[i] = name(d)
			} else {
				slots[i] = "_"
			}
		}
		fmt.Fprintf(sb, "%s: catch %d (%s)\n", b, b.CatchTryID, strings.Join(slots, ", "))
	case b.TryID != 0:
		fmt.Fprintf(sb, "%s: try %d -> %s\n", b, b.TryID, b.ExcTo())
	default:
		fmt.Fprintf(sb, "%s:\n", b)
	}
}

func formatInstr(d *flow.Def) string {
	switch d.Kind() {
	case flow.Const:
		return fmt.Sprintf("%s = const %d", name(d), d.IntVal)
	case flow.Alloc:
		return fmt.Sprintf("%s = alloc %s", name(d), d.Class)
	case flow.Redef:
		return fmt.Sprintf("%s = redef %s", name(d), name(d.Arg(0)))
	case flow.View:
		return fmt.Sprintf("%s = view %s off %d size %d",
			name(d), name(d.Arg(0)), d.ViewOff, d.ElemSize)
	case flow.LoadField:
		return fmt.Sprintf("%s = load %s.%s", name(d), name(d.Arg(0)), d.Field)
	case flow.StoreField:
		return fmt.Sprintf("store %s.%s = %s", name(d.Arg(0)), d.Field, name(d.Arg(1)))
	case flow.LoadIndex:
		return fmt.Sprintf("%s = loadidx %s[%s]/%d",
			name(d), name(d.Arg(0)), name(d.Arg(1)), d.ElemSize)
	case flow.StoreIndex:
		return fmt.Sprintf("storeidx %s[%s]/%d = %s",
			name(d.Arg(0)), name(d.Arg(1)), d.ElemSize, name(d.Arg(2)))
	case flow.Arith:
		return fmt.Sprintf("%s = %s %s, %s", name(d), d.Op, name(d.Arg(0)), name(d.Arg(1)))
	case flow.Call:
		return formatCall(d)
	case flow.Phi:
		args := make([]string, d.NumArgs())
		for i, a := range d.Args() {
			args[i] = name(a)
		}
		return fmt.Sprintf("%s = phi(%s)", name(d), strings.Join(args, ", "))
	case flow.Return:
		if d.NumArgs() == 0 {
			return "ret"
		}
		return fmt.Sprintf("ret %s", name(d.Arg(0)))
	case flow.Goto:
		return fmt.Sprintf("goto %s", d.Block().Succs[0])
	case flow.Branch:
		return fmt.Sprintf("br %s, %s, %s",
			name(d.Arg(0)), d.Block().Succs[0], d.Block().Succs[1])
	}
	return d.String()
}

func formatCall(d *flow.Def) string {
	args := make([]string, d.NumArgs())
	for i, a := range d.Args() {
		args[i] = name(a)
	}
	s := fmt.Sprintf("%s = call %s(%s)", name(d), d.Op, strings.Join(args, ", "))

	var positions []string
	for i := range d.NoEscape {
		if d.NoEscape[i] {
			positions = append(positions, fmt.Sprintf("%d", i))
		}
	}
	if len(positions) > 0 {
		s += fmt.Sprintf(" noescape(%s)", strings.Join(positions, ","))
	}
	return s
}
