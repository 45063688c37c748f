package pool

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"

	"github.com/cuemby/kiln/pkg/workerkey"
)

// Launcher starts a fresh OS process for key. StartupArgs[0] is the binary;
// the rest are its arguments. Grounded on test/framework/process.go's
// exec.Cmd construction.
type Launcher func(ctx context.Context, key workerkey.Key) (*exec.Cmd, error)

// DefaultLauncher builds the plain *exec.Cmd a Launcher is expected to
// return: argv from key.StartupArgs, environment from key.Env, working
// directory key.ExecRoot.
func DefaultLauncher(ctx context.Context, key workerkey.Key) (*exec.Cmd, error) {
	if len(key.StartupArgs) == 0 {
		return nil, fmt.Errorf("workerkey has no startup args to launch")
	}
	cmd := exec.CommandContext(ctx, key.StartupArgs[0], key.StartupArgs[1:]...)
	cmd.Dir = key.ExecRoot
	for k, v := range key.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	return cmd, nil
}

// ProcessWorker is a Worker backed by a real OS process, with SIGTERM-then-
// SIGKILL shutdown semantics. Its stderr is collected into a per-worker log
// file (spec §3's "log-file path"), surfaced by LogFile for diagnostics.
type ProcessWorker struct {
	key workerkey.Key
	cmd *exec.Cmd

	stdin  io.WriteCloser
	stdout io.ReadCloser

	logPath   string
	logHandle *os.File

	mu     sync.Mutex
	killed bool
}

func newProcessWorker(key workerkey.Key, cmd *exec.Cmd) (*ProcessWorker, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout pipe: %w", err)
	}

	logHandle, err := os.CreateTemp("", "kiln-worker-*.log")
	if err != nil {
		return nil, fmt.Errorf("create worker log file: %w", err)
	}
	cmd.Stderr = logHandle

	if err := cmd.Start(); err != nil {
		logHandle.Close()
		return nil, fmt.Errorf("start worker: %w", err)
	}
	return &ProcessWorker{
		key:       key,
		cmd:       cmd,
		stdin:     stdin,
		stdout:    stdout,
		logPath:   logHandle.Name(),
		logHandle: logHandle,
	}, nil
}

func (w *ProcessWorker) Stdin() io.Writer   { return w.stdin }
func (w *ProcessWorker) Stdout() io.Reader  { return w.stdout }
func (w *ProcessWorker) Key() workerkey.Key { return w.key }
func (w *ProcessWorker) LogFile() string    { return w.logPath }

// PrepareExecution and FinishExecution are no-ops for a plain OS process: it
// has no per-request setup or teardown beyond the stdio exchange itself.
// Launchers that wrap tools requiring per-request preparation (e.g.
// recreating a sandbox directory) should use a different Worker.
func (w *ProcessWorker) PrepareExecution(key workerkey.Key) error { return nil }
func (w *ProcessWorker) FinishExecution(key workerkey.Key) error  { return nil }

func (w *ProcessWorker) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.killed || w.cmd.Process == nil {
		return false
	}
	return w.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// Shutdown sends SIGTERM and escalates to SIGKILL if the process has not
// exited by the time ctx is done, mirroring the teacher's Process.Stop/Kill
// pair.
func (w *ProcessWorker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if w.killed {
		w.mu.Unlock()
		return nil
	}
	w.killed = true
	w.mu.Unlock()

	_ = w.stdin.Close()
	if w.logHandle != nil {
		_ = w.logHandle.Close()
	}

	if w.cmd.Process == nil {
		return nil
	}
	if err := w.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return w.kill()
	}

	done := make(chan error, 1)
	go func() { done <- w.cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			if _, ok := err.(*exec.ExitError); ok {
				return nil
			}
			return err
		}
		return nil
	case <-ctx.Done():
		return w.kill()
	}
}

func (w *ProcessWorker) kill() error {
	if w.cmd.Process == nil {
		return nil
	}
	if err := w.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill worker: %w", err)
	}
	_ = w.cmd.Wait()
	return nil
}

// ProcessPool is the reference Pool implementation: one idle stack per
// WorkerKey hash, workers started on demand via Launcher and terminated on
// invalidation or shutdown.
type ProcessPool struct {
	launcher Launcher

	mu   sync.Mutex
	idle map[uint64][]*ProcessWorker
	all  map[*ProcessWorker]bool
}

// NewProcessPool constructs an empty pool. A nil launcher defaults to
// DefaultLauncher.
func NewProcessPool(launcher Launcher) *ProcessPool {
	if launcher == nil {
		launcher = DefaultLauncher
	}
	return &ProcessPool{
		launcher: launcher,
		idle:     make(map[uint64][]*ProcessWorker),
		all:      make(map[*ProcessWorker]bool),
	}
}

// Borrow returns an idle worker matching key if one exists and is still
// alive, discarding any dead ones found along the way; otherwise it starts a
// fresh worker via the launcher.
func (p *ProcessPool) Borrow(ctx context.Context, key workerkey.Key) (Worker, error) {
	h := key.Hash()

	p.mu.Lock()
	stack := p.idle[h]
	for len(stack) > 0 {
		w := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		p.idle[h] = stack
		if w.key.Equal(key) && w.Alive() {
			p.mu.Unlock()
			return w, nil
		}
		delete(p.all, w)
		_ = w.Shutdown(ctx)
	}
	p.mu.Unlock()

	cmd, err := p.launcher(ctx, key)
	if err != nil {
		return nil, err
	}
	w, err := newProcessWorker(key, cmd)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.all[w] = true
	p.mu.Unlock()

	return w, nil
}

// Return pushes a healthy worker back onto its key's idle stack.
func (p *ProcessPool) Return(w Worker) {
	pw, ok := w.(*ProcessWorker)
	if !ok || !pw.Alive() {
		return
	}
	h := pw.key.Hash()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle[h] = append(p.idle[h], pw)
}

// Invalidate terminates and discards w. Shutdown errors are swallowed: the
// orchestrator's invalidation path must never fail fatally.
func (p *ProcessPool) Invalidate(ctx context.Context, w Worker) {
	pw, ok := w.(*ProcessWorker)
	if !ok {
		return
	}

	p.mu.Lock()
	delete(p.all, pw)
	p.mu.Unlock()

	_ = pw.Shutdown(ctx)
}

// WorkerStats summarizes one mnemonic's worker counts for status reporting.
type WorkerStats struct {
	Mnemonic string `json:"mnemonic"`
	Idle     int    `json:"idle"`
	Total    int    `json:"total"`
}

// Stats reports idle and total worker counts per mnemonic, for the
// /debug/pool status endpoint.
func (p *ProcessPool) Stats() []WorkerStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	idleByMnemonic := make(map[string]int)
	for _, stack := range p.idle {
		for _, w := range stack {
			idleByMnemonic[w.key.Mnemonic]++
		}
	}
	totalByMnemonic := make(map[string]int)
	for w := range p.all {
		totalByMnemonic[w.key.Mnemonic]++
	}

	seen := make(map[string]bool)
	stats := make([]WorkerStats, 0, len(totalByMnemonic))
	for m := range totalByMnemonic {
		seen[m] = true
	}
	for m := range idleByMnemonic {
		seen[m] = true
	}
	for m := range seen {
		stats = append(stats, WorkerStats{Mnemonic: m, Idle: idleByMnemonic[m], Total: totalByMnemonic[m]})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Mnemonic < stats[j].Mnemonic })
	return stats
}

// Shutdown terminates every worker the pool has ever started.
func (p *ProcessPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	workers := make([]*ProcessWorker, 0, len(p.all))
	for w := range p.all {
		workers = append(workers, w)
	}
	p.all = make(map[*ProcessWorker]bool)
	p.idle = make(map[uint64][]*ProcessWorker)
	p.mu.Unlock()

	var firstErr error
	for _, w := range workers {
		if err := w.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
