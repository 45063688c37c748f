// Package types defines the data model the persistent-worker spawn runner
// operates on: the Spawn and ExecutionPolicy contracts supplied by the
// caller, and the SpawnResult handed back.
package types

import "io"

// Spawn is an opaque handle to one action the runner is asked to execute.
type Spawn interface {
	// Arguments is the action's full argv, unexpanded.
	Arguments() []string
	// Environment is the environment the action should see.
	Environment() map[string]string
	// Mnemonic identifies the action type (e.g. "Javac"), used for
	// worker-pool sharding and diagnostics.
	Mnemonic() string
	// ToolFiles are the worker binary and its support files.
	ToolFiles() []ActionInput
	// InputFiles are the action's declared inputs before artifact
	// expansion.
	InputFiles() []ActionInput
	// OutputFiles are the exec-root-relative paths the action is
	// expected to produce.
	OutputFiles() []string
	// ExecutionInfo carries string key/value tags, including
	// "supports-workers".
	ExecutionInfo() map[string]string
	// LocalResources is the local CPU/memory reservation this spawn needs.
	LocalResources() ResourceSpec
	// ResourceOwner identifies the caller for resource accounting.
	ResourceOwner() string
	// Speculating reports whether this invocation runs concurrently with
	// other candidate executions of the same logical action.
	Speculating() bool
}

// ActionInput is one file the action touches, paired with its
// executable-root-relative path and (if materialized) its absolute path.
type ActionInput struct {
	ExecPath string
	Absolute string
}

// ResourceSpec is a local resource reservation request.
type ResourceSpec struct {
	CPU      float64
	MemoryMB int64
}

// ResourceHandle is a scoped resource reservation; Release is safe to call
// more than once and must be called on every orchestrator exit path.
type ResourceHandle interface {
	Release()
}

// ProgressState is one of the two progress states the orchestrator reports.
type ProgressState string

const (
	StatusScheduling ProgressState = "SCHEDULING"
	StatusExecuting  ProgressState = "EXECUTING"
)

// ExecutionPolicy bundles the callbacks the orchestrator needs from its
// caller: progress reporting, input metadata lookup, artifact expansion,
// output capture, and the output-files lock.
type ExecutionPolicy interface {
	// ReportProgress is called with the given state and a component label
	// ("worker") as the orchestrator advances.
	ReportProgress(state ProgressState, component string)
	// InputMetadata returns the digest for an input, and false if no
	// digest is known for that path.
	InputMetadata(execPath string) (digest string, ok bool)
	// ExpandInputs resolves the spawn's declared inputs (including any
	// tree-artifact expansion) into concrete files.
	ExpandInputs(spawn Spawn) ([]ActionInput, error)
	// Stderr is the stream the worker's output bytes are appended to.
	Stderr() io.Writer
	// LockOutputFiles commits the spawn's outputs, transitioning it from
	// speculative to authoritative. Called at most once per exec.
	LockOutputFiles()
}

// Status is the outcome of one exec invocation.
type Status string

// StatusSuccess denotes that the request/response exchange completed and a
// response was parsed — not that the action's own exit code was zero.
const StatusSuccess Status = "SUCCESS"

// SpawnResult is what exec returns on a completed exchange.
type SpawnResult struct {
	Status         Status
	ExitCode       int32
	WallTimeMillis int64
}
