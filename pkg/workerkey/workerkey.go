// Package workerkey implements the worker key (spec component C3): the
// content-addressed identity that determines which pooled worker may serve
// an action.
package workerkey

import (
	"reflect"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/cuemby/kiln/pkg/types"
)

// Key is an immutable value; two keys are equal iff the worker behind them
// is safely interchangeable for the action.
type Key struct {
	StartupArgs []string
	Env         map[string]string
	ExecRoot    string
	Mnemonic    string
	ToolsHash   uint64
	// InputLayout maps relative path -> absolute path, included so that a
	// speculation-compatible worker is never reused across an incompatible
	// input tree.
	InputLayout map[string]string
	OutputFiles []string
	Speculating bool
}

// New builds a Key, defensively copying every field so later mutation of
// the caller's slices/maps cannot change an already-constructed Key.
func New(startupArgs []string, env map[string]string, execRoot, mnemonic string, toolsHash uint64, inputLayout map[string]string, outputFiles []string, speculating bool) Key {
	out := append([]string(nil), outputFiles...)
	sort.Strings(out)

	return Key{
		StartupArgs: append([]string(nil), startupArgs...),
		Env:         copyMap(env),
		ExecRoot:    execRoot,
		Mnemonic:    mnemonic,
		ToolsHash:   toolsHash,
		InputLayout: copyMap(inputLayout),
		OutputFiles: out,
		Speculating: speculating,
	}
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Equal reports whether two keys identify interchangeable workers. Map
// fields compare as sets of pairs, not by iteration order.
func (k Key) Equal(o Key) bool {
	return reflect.DeepEqual(k.StartupArgs, o.StartupArgs) &&
		reflect.DeepEqual(k.Env, o.Env) &&
		k.ExecRoot == o.ExecRoot &&
		k.Mnemonic == o.Mnemonic &&
		k.ToolsHash == o.ToolsHash &&
		reflect.DeepEqual(k.InputLayout, o.InputLayout) &&
		reflect.DeepEqual(k.OutputFiles, o.OutputFiles) &&
		k.Speculating == o.Speculating
}

// Hash returns a stable (within this process) shard key for the pool. It is
// not guaranteed stable across process restarts or Go versions and must
// never be persisted.
func (k Key) Hash() uint64 {
	h := xxhash.New()
	writeStrings(h, k.StartupArgs)

	envKeys := sortedKeys(k.Env)
	for _, key := range envKeys {
		h.WriteString(key)
		h.Write([]byte{'='})
		h.WriteString(k.Env[key])
		h.Write([]byte{0})
	}

	h.WriteString(k.ExecRoot)
	h.Write([]byte{0})
	h.WriteString(k.Mnemonic)
	h.Write([]byte{0})

	var toolsBuf [8]byte
	putUint64(toolsBuf[:], k.ToolsHash)
	h.Write(toolsBuf[:])

	layoutKeys := sortedKeys(k.InputLayout)
	for _, key := range layoutKeys {
		h.WriteString(key)
		h.Write([]byte{'='})
		h.WriteString(k.InputLayout[key])
		h.Write([]byte{0})
	}

	writeStrings(h, k.OutputFiles)

	if k.Speculating {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}

	return h.Sum64()
}

func writeStrings(h *xxhash.Digest, ss []string) {
	for _, s := range ss {
		h.WriteString(s)
		h.Write([]byte{0})
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// HashToolFiles computes the spec's "worker-files hash": a pure, order-
// insensitive, stable function of tool-file paths and their content digests.
func HashToolFiles(tools []types.ActionInput, digestOf func(execPath string) (string, bool)) uint64 {
	entries := make([]string, 0, len(tools))
	for _, t := range tools {
		digest, ok := digestOf(t.ExecPath)
		if !ok {
			digest = ""
		}
		entries = append(entries, t.ExecPath+"="+digest)
	}
	sort.Strings(entries)

	h := xxhash.New()
	writeStrings(h, entries)
	return h.Sum64()
}
