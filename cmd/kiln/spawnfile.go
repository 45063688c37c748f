package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cuemby/kiln/pkg/types"
)

// spawnFile is the on-disk shape of a spawn.json passed to `kiln exec`,
// describing one build action the way a build system's executor would
// already have it in memory.
type spawnFile struct {
	Arguments     []string           `json:"arguments"`
	Environment   map[string]string  `json:"environment"`
	Mnemonic      string             `json:"mnemonic"`
	ToolFiles     []fileEntry        `json:"tool_files"`
	InputFiles    []fileEntry        `json:"input_files"`
	OutputFiles   []string           `json:"output_files"`
	ExecutionInfo map[string]string  `json:"execution_info"`
	Resources     types.ResourceSpec `json:"resources"`
	ResourceOwner string             `json:"resource_owner"`
	Speculating   bool               `json:"speculating"`
}

type fileEntry struct {
	ExecPath string `json:"exec_path"`
	Digest   string `json:"digest"`
}

func loadSpawnFile(path string) (*spawnFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spawn file %s: %w", path, err)
	}
	var sf spawnFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse spawn file %s: %w", path, err)
	}
	return &sf, nil
}

// fileSpawn adapts a decoded spawnFile to types.Spawn.
type fileSpawn struct {
	sf *spawnFile
}

func (s *fileSpawn) Arguments() []string               { return s.sf.Arguments }
func (s *fileSpawn) Environment() map[string]string    { return s.sf.Environment }
func (s *fileSpawn) Mnemonic() string                   { return s.sf.Mnemonic }
func (s *fileSpawn) OutputFiles() []string              { return s.sf.OutputFiles }
func (s *fileSpawn) ExecutionInfo() map[string]string   { return s.sf.ExecutionInfo }
func (s *fileSpawn) LocalResources() types.ResourceSpec { return s.sf.Resources }
func (s *fileSpawn) ResourceOwner() string              { return s.sf.ResourceOwner }
func (s *fileSpawn) Speculating() bool                  { return s.sf.Speculating }

func (s *fileSpawn) ToolFiles() []types.ActionInput {
	return toActionInputs(s.sf.ToolFiles)
}

func (s *fileSpawn) InputFiles() []types.ActionInput {
	return toActionInputs(s.sf.InputFiles)
}

func toActionInputs(entries []fileEntry) []types.ActionInput {
	inputs := make([]types.ActionInput, len(entries))
	for i, e := range entries {
		inputs[i] = types.ActionInput{ExecPath: e.ExecPath}
	}
	return inputs
}

// filePolicy is the ExecutionPolicy a one-shot CLI invocation supplies:
// progress and output go to the terminal, digests come from the spawn file,
// and inputs resolve to absolute paths under execRoot.
type filePolicy struct {
	execRoot string
	digests  map[string]string
	stderr   io.Writer
}

func newFilePolicy(execRoot string, sf *spawnFile, stderr io.Writer) *filePolicy {
	digests := make(map[string]string, len(sf.ToolFiles)+len(sf.InputFiles))
	for _, e := range sf.ToolFiles {
		if e.Digest != "" {
			digests[e.ExecPath] = e.Digest
		}
	}
	for _, e := range sf.InputFiles {
		if e.Digest != "" {
			digests[e.ExecPath] = e.Digest
		}
	}
	return &filePolicy{execRoot: execRoot, digests: digests, stderr: stderr}
}

func (p *filePolicy) ReportProgress(state types.ProgressState, component string) {
	fmt.Fprintf(os.Stderr, "[%s] %s\n", component, state)
}

func (p *filePolicy) InputMetadata(execPath string) (string, bool) {
	digest, ok := p.digests[execPath]
	return digest, ok
}

func (p *filePolicy) ExpandInputs(spawn types.Spawn) ([]types.ActionInput, error) {
	declared := spawn.InputFiles()
	expanded := make([]types.ActionInput, len(declared))
	for i, in := range declared {
		expanded[i] = types.ActionInput{
			ExecPath: in.ExecPath,
			Absolute: filepath.Join(p.execRoot, in.ExecPath),
		}
	}
	return expanded, nil
}

func (p *filePolicy) Stderr() io.Writer { return p.stderr }

func (p *filePolicy) LockOutputFiles() {}
