package driver

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/cuemby/kiln/pkg/failure"
	"github.com/cuemby/kiln/pkg/wireproto"
	"github.com/cuemby/kiln/pkg/workerkey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWorker lets a test script a worker's stdout, capture what was written
// to its stdin, and fail its prepare/finish hooks on demand.
type fakeWorker struct {
	stdin   bytes.Buffer
	stdout  io.Reader
	logFile string

	prepareErr error
	finishErr  error

	prepared bool
	finished bool
}

func (f *fakeWorker) Stdin() io.Writer   { return &f.stdin }
func (f *fakeWorker) Stdout() io.Reader  { return f.stdout }
func (f *fakeWorker) Key() workerkey.Key { return workerkey.Key{Mnemonic: "Test"} }
func (f *fakeWorker) LogFile() string    { return f.logFile }

func (f *fakeWorker) PrepareExecution(key workerkey.Key) error {
	f.prepared = true
	return f.prepareErr
}

func (f *fakeWorker) FinishExecution(key workerkey.Key) error {
	f.finished = true
	return f.finishErr
}

type fakePolicy struct {
	locked bool
}

func (p *fakePolicy) LockOutputFiles() { p.locked = true }

func TestDriveHappyPath(t *testing.T) {
	resp := &wireproto.WorkResponse{ExitCode: 0, Output: []byte("done")}
	data, err := wireproto.MarshalWorkResponse(resp)
	require.NoError(t, err)

	var framed bytes.Buffer
	require.NoError(t, wireproto.WriteMessage(&framed, data))

	w := &fakeWorker{stdout: &framed}
	policy := &fakePolicy{}

	result, err := Drive(w, &wireproto.WorkRequest{Arguments: []string{"-x"}}, policy)
	require.NoError(t, err)
	assert.True(t, w.prepared)
	assert.True(t, policy.locked)
	assert.True(t, w.finished)
	assert.Equal(t, int32(0), result.Response.ExitCode)
	assert.Equal(t, []byte("done"), result.Response.Output)

	// the request was written and framed on the worker's stdin
	sent, ok, err := wireproto.ReadMessage(bufio.NewReader(bytes.NewReader(w.stdin.Bytes())))
	require.NoError(t, err)
	require.True(t, ok)
	req, err := wireproto.UnmarshalWorkRequest(sent)
	require.NoError(t, err)
	assert.Equal(t, []string{"-x"}, req.Arguments)
}

func TestDriveCleanEOFIsWorkerNoResponse(t *testing.T) {
	w := &fakeWorker{stdout: bytes.NewReader(nil)}
	policy := &fakePolicy{}

	_, err := Drive(w, &wireproto.WorkRequest{}, policy)
	require.Error(t, err)
	assert.True(t, policy.locked, "output files must still be locked on a clean EOF")

	var f *failure.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, failure.WorkerNoResponse, f.Kind)
}

func TestDriveCorruptReadIsParseFailedAndSkipsLock(t *testing.T) {
	// a varint length prefix promising more bytes than are actually present
	w := &fakeWorker{stdout: bytes.NewReader([]byte{0x10})}
	policy := &fakePolicy{}

	_, err := Drive(w, &wireproto.WorkRequest{}, policy)
	require.Error(t, err)
	assert.False(t, policy.locked, "output files must not be locked on a corrupt/truncated read")

	var f *failure.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, failure.ParseFailed, f.Kind)
}

func TestDrivePrepareExecutionFailureAbortsBeforeWrite(t *testing.T) {
	w := &fakeWorker{logFile: "/tmp/worker.log", prepareErr: errors.New("sandbox setup failed")}
	policy := &fakePolicy{}

	_, err := Drive(w, &wireproto.WorkRequest{Arguments: []string{"-x"}}, policy)
	require.Error(t, err)
	assert.False(t, policy.locked)
	assert.Zero(t, w.stdin.Len(), "no request should be written when prepareExecution fails")

	var f *failure.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, failure.PrepareFailed, f.Kind)
	assert.Equal(t, "/tmp/worker.log", f.LogFile)
}

func TestDriveFinishExecutionFailureRunsAfterLock(t *testing.T) {
	resp := &wireproto.WorkResponse{ExitCode: 0, Output: []byte("done")}
	data, err := wireproto.MarshalWorkResponse(resp)
	require.NoError(t, err)

	var framed bytes.Buffer
	require.NoError(t, wireproto.WriteMessage(&framed, data))

	w := &fakeWorker{stdout: &framed, logFile: "/tmp/worker.log", finishErr: errors.New("teardown failed")}
	policy := &fakePolicy{}

	_, err = Drive(w, &wireproto.WorkRequest{}, policy)
	require.Error(t, err)
	assert.True(t, w.prepared)
	assert.True(t, policy.locked, "output files must be locked before finishExecution runs")
	assert.True(t, w.finished)

	var f *failure.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, failure.FinishFailed, f.Kind)
	assert.Equal(t, "/tmp/worker.log", f.LogFile)
}

func TestDriveCleanEOFAttachesLogFile(t *testing.T) {
	w := &fakeWorker{stdout: bytes.NewReader(nil), logFile: "/tmp/worker.log"}
	policy := &fakePolicy{}

	_, err := Drive(w, &wireproto.WorkRequest{}, policy)
	require.Error(t, err)

	var f *failure.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, failure.WorkerNoResponse, f.Kind)
	assert.Equal(t, "/tmp/worker.log", f.LogFile)
}
