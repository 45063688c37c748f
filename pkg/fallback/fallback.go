// Package fallback implements the conventional (non-worker) spawn runner the
// orchestrator delegates to when a spawn is not worker-eligible.
package fallback

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/cuemby/kiln/pkg/types"
)

// Runner models the "dynamic dispatch over SpawnRunner" design note (spec
// §9): an opaque capability exposing the same exec(spawn, policy) contract
// the worker orchestrator does, so the two are interchangeable from the
// caller's perspective.
type Runner interface {
	Exec(ctx context.Context, spawn types.Spawn, policy types.ExecutionPolicy) (types.SpawnResult, error)
}

// OneShotRunner executes a spawn as a single conventional child process,
// with no persistent-worker protocol involved.
type OneShotRunner struct{}

// NewOneShotRunner constructs the reference fallback Runner.
func NewOneShotRunner() *OneShotRunner {
	return &OneShotRunner{}
}

// Exec runs the spawn's arguments as argv[0]+argv[1:], writing the
// subprocess's combined output to the policy's stderr stream.
func (r *OneShotRunner) Exec(ctx context.Context, spawn types.Spawn, policy types.ExecutionPolicy) (types.SpawnResult, error) {
	start := time.Now()

	argv := spawn.Arguments()
	if len(argv) == 0 {
		return types.SpawnResult{}, &missingArgvError{}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = ""
	for k, v := range spawn.Environment() {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()

	if _, err := policy.Stderr().Write(out.Bytes()); err != nil {
		return types.SpawnResult{}, err
	}

	policy.LockOutputFiles()

	exitCode := int32(0)
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = int32(exitErr.ExitCode())
		} else {
			return types.SpawnResult{}, runErr
		}
	}

	return types.SpawnResult{
		Status:         types.StatusSuccess,
		ExitCode:       exitCode,
		WallTimeMillis: time.Since(start).Milliseconds(),
	}, nil
}

type missingArgvError struct{}

func (e *missingArgvError) Error() string { return "spawn has no arguments to execute" }
