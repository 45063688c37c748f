package runner

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/kiln/pkg/failure"
	"github.com/cuemby/kiln/pkg/pool"
	"github.com/cuemby/kiln/pkg/resources"
	"github.com/cuemby/kiln/pkg/types"
	"github.com/cuemby/kiln/pkg/wireproto"
	"github.com/cuemby/kiln/pkg/workerkey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// execRootWithOpts builds a temp exec root containing opts.txt, the
// flag-file every eligibleSpawn references.
func execRootWithOpts(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "opts.txt"), []byte("--source\n1.8\n"), 0o644))
	return dir
}

type fakeSpawn struct {
	args        []string
	env         map[string]string
	mnemonic    string
	tools       []types.ActionInput
	inputs      []types.ActionInput
	outputs     []string
	execInfo    map[string]string
	resources   types.ResourceSpec
	owner       string
	speculating bool
}

func (s *fakeSpawn) Arguments() []string                { return s.args }
func (s *fakeSpawn) Environment() map[string]string     { return s.env }
func (s *fakeSpawn) Mnemonic() string                    { return s.mnemonic }
func (s *fakeSpawn) ToolFiles() []types.ActionInput      { return s.tools }
func (s *fakeSpawn) InputFiles() []types.ActionInput     { return s.inputs }
func (s *fakeSpawn) OutputFiles() []string               { return s.outputs }
func (s *fakeSpawn) ExecutionInfo() map[string]string    { return s.execInfo }
func (s *fakeSpawn) LocalResources() types.ResourceSpec  { return s.resources }
func (s *fakeSpawn) ResourceOwner() string               { return s.owner }
func (s *fakeSpawn) Speculating() bool                   { return s.speculating }

func eligibleSpawn() *fakeSpawn {
	return &fakeSpawn{
		args:     []string{"javac", "@opts.txt"},
		mnemonic: "Javac",
		tools:    []types.ActionInput{{ExecPath: "javac_worker"}},
		execInfo: map[string]string{"supports-workers": "1"},
	}
}

type fakePolicy struct {
	stderr   bytes.Buffer
	reported []types.ProgressState
	inputs   []types.ActionInput
	locked   int
}

func (p *fakePolicy) ReportProgress(state types.ProgressState, component string) {
	p.reported = append(p.reported, state)
}
func (p *fakePolicy) InputMetadata(string) (string, bool) { return "", false }
func (p *fakePolicy) ExpandInputs(types.Spawn) ([]types.ActionInput, error) {
	return p.inputs, nil
}
func (p *fakePolicy) Stderr() io.Writer { return &p.stderr }
func (p *fakePolicy) LockOutputFiles()  { p.locked++ }

type noopResources struct{}

func (noopResources) Acquire(ctx context.Context, owner string, spec types.ResourceSpec) (resources.Handle, error) {
	return noopHandle{}, nil
}

type noopHandle struct{}

func (noopHandle) Release() {}

type fakeFallback struct {
	called int
}

func (f *fakeFallback) Exec(ctx context.Context, spawn types.Spawn, policy types.ExecutionPolicy) (types.SpawnResult, error) {
	f.called++
	return types.SpawnResult{Status: types.StatusSuccess}, nil
}

// fakeWorker is a pool.Worker backed by in-memory buffers rather than a real
// process.
type fakeWorker struct {
	stdin  bytes.Buffer
	stdout io.Reader
	key    workerkey.Key
	alive  bool

	logFile    string
	prepareErr error
	finishErr  error
}

func (w *fakeWorker) Stdin() io.Writer   { return &w.stdin }
func (w *fakeWorker) Stdout() io.Reader  { return w.stdout }
func (w *fakeWorker) Key() workerkey.Key { return w.key }
func (w *fakeWorker) Alive() bool        { return w.alive }
func (w *fakeWorker) LogFile() string    { return w.logFile }

func (w *fakeWorker) PrepareExecution(workerkey.Key) error { return w.prepareErr }
func (w *fakeWorker) FinishExecution(workerkey.Key) error  { return w.finishErr }

func (w *fakeWorker) Shutdown(context.Context) error { w.alive = false; return nil }

func framedResponse(t *testing.T, resp *wireproto.WorkResponse) io.Reader {
	t.Helper()
	data, err := wireproto.MarshalWorkResponse(resp)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, wireproto.WriteMessage(&buf, data))
	return &buf
}

func TestExecDelegatesToFallbackWhenNotEligible(t *testing.T) {
	spawn := eligibleSpawn()
	spawn.execInfo = nil // no supports-workers

	fb := &fakeFallback{}
	ctrl := gomock.NewController(t)
	mockPool := NewMockPool(ctrl)

	r := &Runner{ExecRoot: t.TempDir(), Pool: mockPool, Resources: noopResources{}, Fallback: fb}
	_, err := r.Exec(context.Background(), spawn, &fakePolicy{})
	require.NoError(t, err)
	assert.Equal(t, 1, fb.called)
}

func TestExecNoToolsFailsWithoutBorrowing(t *testing.T) {
	spawn := eligibleSpawn()
	spawn.tools = nil

	ctrl := gomock.NewController(t)
	mockPool := NewMockPool(ctrl)

	r := &Runner{ExecRoot: t.TempDir(), Pool: mockPool, Resources: noopResources{}, Fallback: &fakeFallback{}}
	_, err := r.Exec(context.Background(), spawn, &fakePolicy{})
	require.Error(t, err)

	var f *failure.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, failure.NoTools, f.Kind)
}

func TestExecHappyPathReturnsWorker(t *testing.T) {
	spawn := eligibleSpawn()
	policy := &fakePolicy{}

	w := &fakeWorker{alive: true, stdout: framedResponse(t, &wireproto.WorkResponse{ExitCode: 0, Output: []byte("ok")})}

	ctrl := gomock.NewController(t)
	mockPool := NewMockPool(ctrl)
	mockPool.EXPECT().Borrow(gomock.Any(), gomock.Any()).Return(pool.Worker(w), nil)
	mockPool.EXPECT().Return(pool.Worker(w))

	r := &Runner{ExecRoot: execRootWithOpts(t), Pool: mockPool, Resources: noopResources{}, Fallback: &fakeFallback{}}
	result, err := r.Exec(context.Background(), spawn, policy)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, result.Status)
	assert.Equal(t, int32(0), result.ExitCode)
	assert.Equal(t, "ok", policy.stderr.String())
	assert.Contains(t, policy.reported, types.StatusScheduling)
	assert.Contains(t, policy.reported, types.StatusExecuting)
}

func TestExecInvalidatesWorkerOnCleanEOF(t *testing.T) {
	spawn := eligibleSpawn()
	policy := &fakePolicy{}

	w := &fakeWorker{alive: true, stdout: bytes.NewReader(nil)}

	ctrl := gomock.NewController(t)
	mockPool := NewMockPool(ctrl)
	mockPool.EXPECT().Borrow(gomock.Any(), gomock.Any()).Return(pool.Worker(w), nil)
	mockPool.EXPECT().Invalidate(gomock.Any(), pool.Worker(w))

	r := &Runner{ExecRoot: execRootWithOpts(t), Pool: mockPool, Resources: noopResources{}, Fallback: &fakeFallback{}}
	_, err := r.Exec(context.Background(), spawn, policy)
	require.Error(t, err)

	var f *failure.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, failure.WorkerNoResponse, f.Kind)
	assert.Equal(t, 1, policy.locked, "lockOutputFiles must still fire on a clean EOF")
}

func TestExecBorrowFailureIsNotInvalidated(t *testing.T) {
	spawn := eligibleSpawn()

	ctrl := gomock.NewController(t)
	mockPool := NewMockPool(ctrl)
	mockPool.EXPECT().Borrow(gomock.Any(), gomock.Any()).Return(nil, assertError{})

	r := &Runner{ExecRoot: execRootWithOpts(t), Pool: mockPool, Resources: noopResources{}, Fallback: &fakeFallback{}}
	_, err := r.Exec(context.Background(), spawn, &fakePolicy{})
	require.Error(t, err)

	var f *failure.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, failure.BorrowFailed, f.Kind)
}

type assertError struct{}

func (assertError) Error() string { return "simulated borrow I/O error" }
