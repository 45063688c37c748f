package workerkey

import (
	"testing"

	"github.com/cuemby/kiln/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestNewSortsOutputFilesAndCopies(t *testing.T) {
	outputs := []string{"b.out", "a.out"}
	env := map[string]string{"PATH": "/bin"}

	k := New(nil, env, "/exec", "Javac", 42, nil, outputs, false)
	assert.Equal(t, []string{"a.out", "b.out"}, k.OutputFiles)

	outputs[0] = "mutated"
	env["PATH"] = "mutated"
	assert.Equal(t, []string{"a.out", "b.out"}, k.OutputFiles)
	assert.Equal(t, "/bin", k.Env["PATH"])
}

func TestEqualIgnoresMapOrdering(t *testing.T) {
	a := New([]string{"x"}, map[string]string{"A": "1", "B": "2"}, "/exec", "Javac", 1, map[string]string{"i": "j"}, []string{"o"}, false)
	b := New([]string{"x"}, map[string]string{"B": "2", "A": "1"}, "/exec", "Javac", 1, map[string]string{"i": "j"}, []string{"o"}, false)
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestEqualDetectsDifference(t *testing.T) {
	a := New([]string{"x"}, nil, "/exec", "Javac", 1, nil, nil, false)
	b := New([]string{"x"}, nil, "/exec", "Javac", 2, nil, nil, false)
	assert.False(t, a.Equal(b))
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestHashStableAcrossOutputFileOrder(t *testing.T) {
	a := New(nil, nil, "/exec", "Javac", 0, nil, []string{"a", "b"}, false)
	b := New(nil, nil, "/exec", "Javac", 0, nil, []string{"b", "a"}, false)
	assert.Equal(t, a.Hash(), b.Hash())
	assert.True(t, a.Equal(b))
}

func TestHashDistinguishesSpeculating(t *testing.T) {
	a := New(nil, nil, "/exec", "Javac", 0, nil, nil, false)
	b := New(nil, nil, "/exec", "Javac", 0, nil, nil, true)
	assert.NotEqual(t, a.Hash(), b.Hash())
	assert.False(t, a.Equal(b))
}

func TestHashToolFilesOrderInsensitive(t *testing.T) {
	digests := map[string]string{"a.jar": "d1", "b.jar": "d2"}
	lookup := func(p string) (string, bool) {
		d, ok := digests[p]
		return d, ok
	}

	h1 := HashToolFiles([]types.ActionInput{{ExecPath: "a.jar"}, {ExecPath: "b.jar"}}, lookup)
	h2 := HashToolFiles([]types.ActionInput{{ExecPath: "b.jar"}, {ExecPath: "a.jar"}}, lookup)
	assert.Equal(t, h1, h2)
}

func TestHashToolFilesChangesWithDigest(t *testing.T) {
	lookup1 := func(string) (string, bool) { return "d1", true }
	lookup2 := func(string) (string, bool) { return "d2", true }

	tools := []types.ActionInput{{ExecPath: "a.jar"}}
	h1 := HashToolFiles(tools, lookup1)
	h2 := HashToolFiles(tools, lookup2)
	assert.NotEqual(t, h1, h2)
}

func TestHashToolFilesHandlesMissingDigest(t *testing.T) {
	tools := []types.ActionInput{{ExecPath: "missing.jar"}}
	h := HashToolFiles(tools, func(string) (string, bool) { return "", false })
	assert.NotZero(t, h)
}
