// Package runner implements the runner orchestrator (spec component C6):
// the eligibility gate, resource acquisition, worker lifecycle, and result
// assembly tying every other component together.
package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/kiln/pkg/classifier"
	"github.com/cuemby/kiln/pkg/driver"
	"github.com/cuemby/kiln/pkg/failure"
	"github.com/cuemby/kiln/pkg/fallback"
	"github.com/cuemby/kiln/pkg/log"
	"github.com/cuemby/kiln/pkg/metrics"
	"github.com/cuemby/kiln/pkg/pool"
	"github.com/cuemby/kiln/pkg/request"
	"github.com/cuemby/kiln/pkg/resources"
	"github.com/cuemby/kiln/pkg/types"
	"github.com/cuemby/kiln/pkg/wireproto"
	"github.com/cuemby/kiln/pkg/workerkey"
)

const (
	executionInfoSupportsWorkers = "supports-workers"
	workerComponent              = "worker"
)

// Runner is the reference C6 orchestrator.
type Runner struct {
	// ExecRoot is the executable root flag-file reads and tool/input paths
	// resolve against. The spec's Spawn contract does not carry its own
	// execRoot (it is ambient to a single build invocation), so the
	// orchestrator is configured with one at construction.
	ExecRoot string

	Pool      pool.Pool
	Resources resources.Manager
	Fallback  fallback.Runner

	// ExtraFlags maps a mnemonic to extra startup flags appended after
	// --persistent_worker (spec §4.1, classifier extras).
	ExtraFlags map[string][]string
}

// Exec runs spawn per spec §4.6, reporting progress and result via policy.
func (r *Runner) Exec(ctx context.Context, spawn types.Spawn, policy types.ExecutionPolicy) (types.SpawnResult, error) {
	mnemonic := spawn.Mnemonic()
	runLog := log.WithMnemonic(mnemonic)

	// Step 1 — eligibility gate. Delegation is unconditional; the warning
	// is advisory only.
	if spawn.ExecutionInfo()[executionInfoSupportsWorkers] != "1" {
		runLog.Warn().Str("reason", "REASON_NO_EXECUTION_INFO").Msg("spawn not worker-eligible, delegating to fallback")
		metrics.FallbackTotal.WithLabelValues(mnemonic).Inc()
		return r.Fallback.Exec(ctx, spawn, policy)
	}

	timer := metrics.NewTimer()
	result, err := r.execWorker(ctx, spawn, policy)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.ExecTotal.WithLabelValues(mnemonic, outcome).Inc()
	timer.ObserveDurationVec(metrics.ExecDuration, mnemonic)

	return result, err
}

// execWorker implements steps 2-6 of spec §4.6, once eligibility has passed.
func (r *Runner) execWorker(ctx context.Context, spawn types.Spawn, policy types.ExecutionPolicy) (types.SpawnResult, error) {
	mnemonic := spawn.Mnemonic()
	runLog := log.WithMnemonic(mnemonic)

	// Step 2 — resource acquisition. Released on every exit path.
	policy.ReportProgress(types.StatusScheduling, workerComponent)

	resourceTimer := metrics.NewTimer()
	handle, err := r.Resources.Acquire(ctx, spawn.ResourceOwner(), spawn.LocalResources())
	resourceTimer.ObserveDuration(metrics.ResourceAcquireWaitDuration)
	if err != nil {
		return types.SpawnResult{}, err
	}
	defer handle.Release()

	policy.ReportProgress(types.StatusExecuting, workerComponent)

	// Step 3 — tool presence check.
	tools := spawn.ToolFiles()
	if len(tools) == 0 {
		return types.SpawnResult{}, &failure.Failure{
			Kind:    failure.NoTools,
			Message: "spawn has no tool files; persistent workers require at least one",
		}
	}

	// Step 4 — classifier output, key, request.
	classified, err := classifier.Classify(spawn.Arguments(), mnemonic, r.ExtraFlags)
	if err != nil {
		return types.SpawnResult{}, err
	}

	inputs, err := policy.ExpandInputs(spawn)
	if err != nil {
		return types.SpawnResult{}, err
	}

	toolsHash := workerkey.HashToolFiles(tools, policy.InputMetadata)

	inputLayout := make(map[string]string, len(inputs))
	for _, in := range inputs {
		inputLayout[in.ExecPath] = in.Absolute
	}

	key := workerkey.New(
		classified.StartupArgs,
		spawn.Environment(),
		r.ExecRoot,
		mnemonic,
		toolsHash,
		inputLayout,
		spawn.OutputFiles(),
		spawn.Speculating(),
	)

	req, err := request.Build(r.ExecRoot, classified.FlagFileArgs, inputs, policy.InputMetadata)
	if err != nil {
		return types.SpawnResult{}, err
	}

	// borrow → drive → return/invalidate. Once borrow succeeds, every exit
	// path below must invalidate or return exactly once (spec's lifecycle
	// invariant): committed tracks whether that has happened yet.
	borrowTimer := metrics.NewTimer()
	w, err := r.Pool.Borrow(ctx, key)
	if err != nil {
		metrics.PoolBorrowTotal.WithLabelValues(mnemonic, "error").Inc()
		return types.SpawnResult{}, &failure.Failure{Kind: failure.BorrowFailed, Message: "borrow worker", Cause: err}
	}
	metrics.PoolBorrowTotal.WithLabelValues(mnemonic, "ok").Inc()

	committed := false
	invalidateReason := "cancelled"
	defer func() {
		if !committed {
			metrics.PoolInvalidateTotal.WithLabelValues(mnemonic, invalidateReason).Inc()
			r.Pool.Invalidate(ctx, w)
		}
	}()

	// Step 5 — drive the worker, racing it against ctx cancellation so an
	// external interrupt invalidates rather than waits out a hung worker.
	driveResult, err := r.driveWithCancellation(ctx, w, req, policy)
	if err != nil {
		var f *failure.Failure
		if errors.As(err, &f) {
			invalidateReason = string(f.Kind)
		}
		runLog.Error().Err(err).Msg("worker exchange failed")
		return types.SpawnResult{}, err
	}

	// Step 6 — write output, assemble result, return the worker. Spec's
	// error table has no Kind for this write failing; it is not one of the
	// worker-protocol conditions in §7, so it propagates as a plain error
	// while still honoring the invalidation discipline via the deferred
	// Invalidate above.
	if _, werr := policy.Stderr().Write(driveResult.Response.Output); werr != nil {
		invalidateReason = "stderr_write"
		return types.SpawnResult{}, fmt.Errorf("write worker output to stderr: %w", werr)
	}

	committed = true
	metrics.PoolReturnTotal.WithLabelValues(mnemonic).Inc()
	r.Pool.Return(w)

	metrics.DriverResponseBytes.Observe(float64(len(driveResult.Response.Output)))

	return types.SpawnResult{
		Status:         types.StatusSuccess,
		ExitCode:       driveResult.Response.ExitCode,
		WallTimeMillis: borrowTimer.Duration().Milliseconds(),
	}, nil
}

// driveWithCancellation runs driver.Drive on its own goroutine so that ctx
// cancellation (spec §5: "an external interrupt aborts the current blocking
// call") can be observed even though the underlying stdio reads/writes are
// not themselves context-aware.
func (r *Runner) driveWithCancellation(ctx context.Context, w pool.Worker, req *wireproto.WorkRequest, policy types.ExecutionPolicy) (*driver.Result, error) {
	type outcome struct {
		result *driver.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := driver.Drive(w, req, policy)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
