// Package pool implements the worker pool (spec component C4): borrowing and
// returning persistent worker processes keyed by workerkey.Key.
package pool

import (
	"context"
	"io"

	"github.com/cuemby/kiln/pkg/workerkey"
)

// Worker is a single persistent-worker process, exposing the stdio streams
// the driver exchanges WorkRequest/WorkResponse messages over, plus the
// lifecycle hooks the driver brackets one exchange with (spec §3, §4.5).
type Worker interface {
	// Stdin is the worker's request stream.
	Stdin() io.Writer
	// Stdout is the worker's response stream.
	Stdout() io.Reader
	// Key is the WorkerKey this worker was started for.
	Key() workerkey.Key
	// Alive reports whether the worker process is still running.
	Alive() bool
	// LogFile is the path the worker's own diagnostic log is collected at,
	// used to attach context to WRITE_FAILED/PREPARE_FAILED/
	// WORKER_NO_RESPONSE/FINISH_FAILED failures. May be empty if the worker
	// keeps none.
	LogFile() string
	// PrepareExecution runs before the request for key is written; it may
	// fail (PREPARE_FAILED), e.g. if the worker requires per-request setup
	// on disk the launcher doesn't perform at start.
	PrepareExecution(key workerkey.Key) error
	// FinishExecution runs after a response has been parsed and output
	// files locked; it may fail (FINISH_FAILED), e.g. if the worker
	// requires per-request teardown.
	FinishExecution(key workerkey.Key) error
	// Shutdown terminates the worker process, escalating to a forceful kill
	// if it does not exit promptly.
	Shutdown(ctx context.Context) error
}

// Pool borrows and returns workers, sharded by WorkerKey. A pool is safe for
// concurrent use.
type Pool interface {
	// Borrow yields a running worker for key, starting one if none is idle.
	// The caller must either Return or Invalidate the worker exactly once.
	Borrow(ctx context.Context, key workerkey.Key) (Worker, error)
	// Return gives an undamaged worker back to the pool for reuse.
	Return(w Worker)
	// Invalidate discards a worker that may be in an inconsistent state,
	// shutting it down rather than returning it to the idle set.
	Invalidate(ctx context.Context, w Worker)
	// Shutdown stops every pooled worker.
	Shutdown(ctx context.Context) error
}
