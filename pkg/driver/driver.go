// Package driver implements the worker I/O driver (spec component C5): one
// request/response exchange over a borrowed worker, with a bounded
// diagnostic recording of the worker's output stream.
package driver

import (
	"bufio"
	"io"

	"github.com/cuemby/kiln/pkg/failure"
	"github.com/cuemby/kiln/pkg/wireproto"
	"github.com/cuemby/kiln/pkg/workerkey"
)

// recordingWindow is the fixed window (in bytes) the recording stream keeps
// since the last StartRecording call, per spec §4.5.
const recordingWindow = 4096

// recordingReader wraps a stream, retaining up to recordingWindow bytes read
// since the last StartRecording, for inclusion in parse-failure diagnostics.
type recordingReader struct {
	r        io.Reader
	buf      []byte
	recoding bool
}

func newRecordingReader(r io.Reader) *recordingReader {
	return &recordingReader{r: r}
}

// StartRecording resets the recorded window and begins capturing.
func (rr *recordingReader) StartRecording() {
	rr.buf = rr.buf[:0]
	rr.recoding = true
}

func (rr *recordingReader) Read(p []byte) (int, error) {
	n, err := rr.r.Read(p)
	if n > 0 && rr.recoding {
		rr.buf = appendBounded(rr.buf, p[:n], recordingWindow)
	}
	return n, err
}

// Recorded returns the bytes captured since the last StartRecording.
func (rr *recordingReader) Recorded() []byte {
	out := make([]byte, len(rr.buf))
	copy(out, rr.buf)
	return out
}

// appendBounded appends add to buf, truncating from the front so the result
// never exceeds limit bytes — a fixed trailing window, not an unbounded log.
func appendBounded(buf, add []byte, limit int) []byte {
	buf = append(buf, add...)
	if len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	return buf
}

// Worker is the subset of pool.Worker the driver needs: raw stdio streams
// plus the per-exchange lifecycle hooks and log-file path (spec §3, §4.5).
type Worker interface {
	Stdin() io.Writer
	Stdout() io.Reader
	Key() workerkey.Key
	LogFile() string
	PrepareExecution(key workerkey.Key) error
	FinishExecution(key workerkey.Key) error
}

// Policy is the subset of types.ExecutionPolicy the driver needs.
type Policy interface {
	LockOutputFiles()
}

// Result is the outcome of one request/response exchange.
type Result struct {
	Response *wireproto.WorkResponse
}

// Drive performs exactly one request/response exchange over w, per spec
// §4.5's protocol sequence:
//  1. prepareExecution(key) on the worker
//  2. write the delimited request and flush
//  3. begin recording; attempt to parse one delimited response
//  4. lock output files via policy — after a successful parse attempt,
//     whether or not it yielded a response, but never after a corrupt read
//  5. if the response is nil (clean EOF), fail WORKER_NO_RESPONSE
//  6. finishExecution(key) on the worker
//
// Every failure except PARSE_FAILED carries the worker's log-file path so
// callers can attach its tail to the error, per the §7 error table;
// PARSE_FAILED carries the recorded worker output instead.
func Drive(w Worker, req *wireproto.WorkRequest, policy Policy) (*Result, error) {
	key := w.Key()
	logFile := w.LogFile()

	if err := w.PrepareExecution(key); err != nil {
		return nil, &failure.Failure{Kind: failure.PrepareFailed, Message: "prepare worker execution", Cause: err, LogFile: logFile}
	}

	data, err := wireproto.MarshalWorkRequest(req)
	if err != nil {
		return nil, &failure.Failure{Kind: failure.WriteFailed, Message: "marshal work request", Cause: err, LogFile: logFile}
	}
	if err := wireproto.WriteMessage(w.Stdin(), data); err != nil {
		return nil, &failure.Failure{Kind: failure.WriteFailed, Message: "write work request", Cause: err, LogFile: logFile}
	}
	if f, ok := w.Stdin().(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return nil, &failure.Failure{Kind: failure.WriteFailed, Message: "flush work request", Cause: err, LogFile: logFile}
		}
	}

	rr := newRecordingReader(w.Stdout())
	br := bufio.NewReader(rr)
	rr.StartRecording()

	body, hasResponse, err := wireproto.ReadMessage(br)
	if err != nil {
		return nil, &failure.Failure{
			Kind:     failure.ParseFailed,
			Message:  "parse work response",
			Cause:    err,
			Recorded: rr.Recorded(),
		}
	}

	policy.LockOutputFiles()

	if !hasResponse {
		return nil, &failure.Failure{
			Kind:     failure.WorkerNoResponse,
			Message:  "worker closed its output stream before sending a response",
			Recorded: rr.Recorded(),
			LogFile:  logFile,
		}
	}

	resp, err := wireproto.UnmarshalWorkResponse(body)
	if err != nil {
		return nil, &failure.Failure{
			Kind:     failure.ParseFailed,
			Message:  "decode work response",
			Cause:    err,
			Recorded: rr.Recorded(),
		}
	}

	if err := w.FinishExecution(key); err != nil {
		return nil, &failure.Failure{Kind: failure.FinishFailed, Message: "finish worker execution", Cause: err, LogFile: logFile}
	}

	return &Result{Response: resp}, nil
}
