package wireproto

import (
	"bufio"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// WriteMessage writes data to w preceded by a varint length prefix. Callers
// are responsible for flushing w afterward if it is buffered.
func WriteMessage(w io.Writer, data []byte) error {
	var prefix []byte
	prefix = protowire.AppendVarint(prefix, uint64(len(data)))
	if _, err := w.Write(prefix); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write message body: %w", err)
	}
	return nil
}

// ReadMessage reads one varint-length-delimited message from r.
//
// ok is false with a nil error when the stream hit EOF before any bytes of
// a new message were read — a clean "no response" (spec: WORKER_NO_RESPONSE
// for the orchestrator to distinguish from a corrupt read). A non-nil error
// means the stream produced a partial or malformed message.
func ReadMessage(r *bufio.Reader) (data []byte, ok bool, err error) {
	size, err := readVarint(r)
	if err != nil {
		if err == io.EOF {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read length prefix: %w", err)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, false, fmt.Errorf("read message body (%d bytes): %w", size, err)
	}
	return buf, true, nil
}

// readVarint reads a base-128 varint byte by byte, the only safe way to
// bound a read on an io.ByteReader without knowing the message length
// ahead of time.
func readVarint(r io.ByteReader) (uint64, error) {
	var (
		result uint64
		shift  uint
	)
	for i := 0; i < 10; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if shift == 0 {
				return 0, err
			}
			return 0, fmt.Errorf("truncated varint: %w", err)
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, fmt.Errorf("varint too long")
}
