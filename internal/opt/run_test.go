package opt

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iley/flint/internal/catchsync"
	"github.com/iley/flint/internal/flow"
	"github.com/iley/flint/internal/textir"
)

func TestRunEndToEnd(t *testing.T) {
	src := `
func sum(p, q) vars acc, tmp
b0:
  v1 = alloc Box
  store v1.f = p
  goto b1
b1: try 1 -> b2
  v2 = load v1.f
  v3 = add v2, q
  store v1.f = v2
  v4 = call risky(v3)
  ret v4
b2: catch 1 (acc, _)
  ret acc
`
	g, err := textir.Parse(src)
	require.NoError(t, err)

	require.NoError(t, Run(g))

	// The load sees the store, the second store rewrites the same value.
	assert.Equal(t, 0, g.CountKind(flow.LoadField))
	assert.Equal(t, 1, g.CountKind(flow.StoreField))

	entries := g.CatchEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"acc"}, catchsync.Synchronized(g, entries[0]))
}

func TestRunPrunesUnusedSlots(t *testing.T) {
	src := `
func f(p) vars a, b, i
b0:
  goto b1
b1: try 1 -> b2
  v1 = call risky(p)
  ret v1
b2: catch 1 (ca, cb, ci)
  ret p
`
	g, err := textir.Parse(src)
	require.NoError(t, err)
	require.NoError(t, Run(g))

	entries := g.CatchEntries()
	require.Len(t, entries, 1)
	assert.Empty(t, catchsync.Synchronized(g, entries[0]))
}

func TestRunReportsFatalAsError(t *testing.T) {
	g, err := textir.Parse(`
func broken(p) vars a
b0:
  goto b1
b1: try 1 -> b2
  ret p
b2: catch 1 (ca)
  ret ca
`)
	require.NoError(t, err)

	// Damage the handler entry the way a buggy pass would.
	g.CatchEntries()[0].InitialDefs = nil

	err = Run(g)
	require.Error(t, err)
	var fatal *flow.FatalError
	assert.ErrorAs(t, err, &fatal)
	assert.Contains(t, err.Error(), "broken")
}

func TestRunAllStopsAtFirstFailure(t *testing.T) {
	good, err := textir.Parse("func ok(p)\nb0:\n  ret p\n")
	require.NoError(t, err)

	bad, err := textir.Parse(`
func bad(p) vars a
b0:
  goto b1
b1: try 1 -> b2
  ret p
b2: catch 1 (ca)
  ret ca
`)
	require.NoError(t, err)
	bad.CatchEntries()[0].InitialDefs = nil

	err = RunAll([]*flow.Graph{good, bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.NotNil(t, errors.Cause(err))
}
