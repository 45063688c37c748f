// Package failure defines the error kinds the spawn runner reports to callers.
//
// The classifier, driver, and orchestrator report each condition listed
// below as a *Failure carrying a machine-readable Kind, a human message, and
// optionally a worker log-file reference or a drained diagnostic buffer.
// Errors outside these conditions (resource acquisition, input expansion,
// flag-file reads, writing the worker's output, cancellation) are returned
// as plain errors.
package failure

import (
	"fmt"
	"os"
)

// Kind identifies one of the runner's defined error conditions.
type Kind string

const (
	NoTools          Kind = "NO_TOOLS"
	NoFlagfile       Kind = "NO_FLAGFILE"
	BorrowFailed     Kind = "BORROW_FAILED"
	PrepareFailed    Kind = "PREPARE_FAILED"
	WriteFailed      Kind = "WRITE_FAILED"
	ParseFailed      Kind = "PARSE_FAILED"
	WorkerNoResponse Kind = "WORKER_NO_RESPONSE"
	FinishFailed     Kind = "FINISH_FAILED"
)

// defaultLogLimit is the cap on bytes read from a worker log file when
// attaching diagnostics (spec: "attach log-file contents (<=4096 bytes)").
const defaultLogLimit = 4096

// Failure is a user-visible error produced by the spawn runner.
type Failure struct {
	Kind Kind
	// Message is a short human-readable description of what went wrong.
	Message string
	// LogFile, if set, is read (tail, up to LogLimit bytes) and appended to
	// the error text. Used by PREPARE_FAILED, WRITE_FAILED, WORKER_NO_RESPONSE,
	// FINISH_FAILED.
	LogFile string
	LogLimit int
	// Recorded is a diagnostic buffer already captured in memory (the
	// driver's recording stream). Used by PARSE_FAILED; takes precedence
	// over LogFile when both are set.
	Recorded []byte
	// Cause is the underlying error, if any.
	Cause error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s: %s", f.Kind, f.Message)
	if f.Cause != nil {
		msg += ": " + f.Cause.Error()
	}
	switch {
	case len(f.Recorded) > 0:
		msg += "\n--- recorded worker output ---\n" + string(f.Recorded)
	case f.LogFile != "":
		if data := readTail(f.LogFile, f.logLimit()); len(data) > 0 {
			msg += fmt.Sprintf("\n--- worker log (%s) ---\n%s", f.LogFile, data)
		}
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Cause }

func (f *Failure) logLimit() int {
	if f.LogLimit > 0 {
		return f.LogLimit
	}
	return defaultLogLimit
}

// readTail best-effort reads up to limit trailing bytes of path. Any error
// (missing file, permissions) yields an empty slice rather than propagating
// — diagnostics are advisory, never load-bearing.
func readTail(path string, limit int) []byte {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil
	}
	size := info.Size()
	offset := int64(0)
	if size > int64(limit) {
		offset = size - int64(limit)
	}
	if _, err := f.Seek(offset, 0); err != nil {
		return nil
	}
	buf := make([]byte, size-offset)
	n, _ := f.Read(buf)
	return buf[:n]
}
