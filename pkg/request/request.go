// Package request implements the work request builder (spec component C2):
// expanding flag-file references into argument strings and pairing expanded
// inputs with their digests into a wireproto.WorkRequest.
package request

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/kiln/pkg/types"
	"github.com/cuemby/kiln/pkg/wireproto"
)

// DigestLookup returns the digest for an exec-root-relative path, or false
// if unknown.
type DigestLookup func(execPath string) (digest string, ok bool)

// Build assembles a WorkRequest from the classifier's flag-file arguments and
// the spawn's (already artifact-expanded) input list.
func Build(execRoot string, flagFileArgs []string, inputs []types.ActionInput, digestOf DigestLookup) (*wireproto.WorkRequest, error) {
	req := &wireproto.WorkRequest{}

	visited := map[string]bool{}
	for _, arg := range flagFileArgs {
		expanded, err := expandArgument(execRoot, arg, visited)
		if err != nil {
			return nil, err
		}
		req.Arguments = append(req.Arguments, expanded...)
	}

	for _, in := range inputs {
		digest, ok := digestOf(in.ExecPath)
		if !ok {
			digest = ""
		}
		req.Inputs = append(req.Inputs, wireproto.Input{Path: in.ExecPath, Digest: digest})
	}

	return req, nil
}

// expandArgument implements spec §4.2's expandArgument:
//   - "@@..." is an escaped literal, passed through unchanged.
//   - "@path" is expanded: each non-empty line of the file is itself
//     recursively expanded.
//   - "-flagfile=..."/"--flagfile=..." are passed through literally, by
//     design (expansion for that form is being phased out).
//   - anything else is a literal argument.
//
// visited guards against a cyclic flag-file graph: the spec leaves this
// unbounded and notes it as an open question (see DESIGN.md); a file already
// being expanded on the current path is treated as contributing nothing
// further rather than recursing forever.
func expandArgument(execRoot, arg string, visited map[string]bool) ([]string, error) {
	if strings.HasPrefix(arg, "@@") {
		return []string{arg}, nil
	}

	if strings.HasPrefix(arg, "@") {
		path := filepath.Join(execRoot, arg[1:])
		if visited[path] {
			return nil, nil
		}
		visited[path] = true
		defer delete(visited, path)

		return expandFlagFile(execRoot, path, visited)
	}

	// "-flagfile=" / "--flagfile=" pass through literally without expansion.
	return []string{arg}, nil
}

func expandFlagFile(execRoot, path string, visited map[string]bool) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read flag file %s: %w", path, err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		expanded, err := expandArgument(execRoot, line, visited)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read flag file %s: %w", path, err)
	}
	return out, nil
}
