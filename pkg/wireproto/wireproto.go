// Package wireproto implements the worker wire protocol: length-delimited
// protobuf WorkRequest/WorkResponse messages exchanged over a worker's
// stdin/stdout.
//
// No .proto-generated code backs these types (none survived retrieval), so
// the wire format is produced and consumed directly against
// google.golang.org/protobuf/encoding/protowire, field-by-field, matching
// the schema bit-for-bit:
//
//	WorkRequest{arguments:1 repeated string, inputs:2 repeated Input, request_id:3 int32}
//	Input{path:1 string, digest:2 string}
//	WorkResponse{exit_code:1 int32, output:2 bytes, request_id:3 int32}
package wireproto

import "google.golang.org/protobuf/encoding/protowire"

// Input is one {path, digest} record in a WorkRequest.
type Input struct {
	Path   string
	Digest string
}

// WorkRequest is the message sent to a worker's stdin.
type WorkRequest struct {
	Arguments []string
	Inputs    []Input
	RequestID int32
}

// WorkResponse is the message read from a worker's stdout.
type WorkResponse struct {
	ExitCode  int32
	Output    []byte
	RequestID int32
}

const (
	fieldRequestArguments protowire.Number = 1
	fieldRequestInputs    protowire.Number = 2
	fieldRequestID        protowire.Number = 3

	fieldInputPath   protowire.Number = 1
	fieldInputDigest protowire.Number = 2

	fieldResponseExitCode  protowire.Number = 1
	fieldResponseOutput    protowire.Number = 2
	fieldResponseRequestID protowire.Number = 3
)

// MarshalWorkRequest encodes req per the wire schema above.
func MarshalWorkRequest(req *WorkRequest) ([]byte, error) {
	var b []byte
	for _, arg := range req.Arguments {
		b = protowire.AppendTag(b, fieldRequestArguments, protowire.BytesType)
		b = protowire.AppendString(b, arg)
	}
	for _, in := range req.Inputs {
		b = protowire.AppendTag(b, fieldRequestInputs, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalInput(in))
	}
	if req.RequestID != 0 {
		b = protowire.AppendTag(b, fieldRequestID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(req.RequestID)))
	}
	return b, nil
}

func marshalInput(in Input) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldInputPath, protowire.BytesType)
	b = protowire.AppendString(b, in.Path)
	b = protowire.AppendTag(b, fieldInputDigest, protowire.BytesType)
	b = protowire.AppendString(b, in.Digest)
	return b
}

// MarshalWorkResponse encodes resp per the wire schema above.
func MarshalWorkResponse(resp *WorkResponse) ([]byte, error) {
	var b []byte
	if resp.ExitCode != 0 {
		b = protowire.AppendTag(b, fieldResponseExitCode, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(resp.ExitCode)))
	}
	if len(resp.Output) > 0 {
		b = protowire.AppendTag(b, fieldResponseOutput, protowire.BytesType)
		b = protowire.AppendBytes(b, resp.Output)
	}
	if resp.RequestID != 0 {
		b = protowire.AppendTag(b, fieldResponseRequestID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(resp.RequestID)))
	}
	return b, nil
}

// UnmarshalWorkResponse decodes a WorkResponse, ignoring unknown fields
// (forward compatible with future schema additions).
func UnmarshalWorkResponse(data []byte) (*WorkResponse, error) {
	resp := &WorkResponse{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case fieldResponseExitCode:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			resp.ExitCode = int32(int64(v))
			data = data[n:]
		case fieldResponseOutput:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			resp.Output = append([]byte(nil), v...)
			data = data[n:]
		case fieldResponseRequestID:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			resp.RequestID = int32(int64(v))
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return resp, nil
}

// UnmarshalWorkRequest decodes a WorkRequest. Provided for symmetry and used
// by the example persistent-worker binary.
func UnmarshalWorkRequest(data []byte) (*WorkRequest, error) {
	req := &WorkRequest{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case fieldRequestArguments:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			req.Arguments = append(req.Arguments, string(v))
			data = data[n:]
		case fieldRequestInputs:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			in, err := unmarshalInput(v)
			if err != nil {
				return nil, err
			}
			req.Inputs = append(req.Inputs, in)
			data = data[n:]
		case fieldRequestID:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			req.RequestID = int32(int64(v))
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return req, nil
}

func unmarshalInput(data []byte) (Input, error) {
	var in Input
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return in, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case fieldInputPath:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return in, protowire.ParseError(n)
			}
			in.Path = string(v)
			data = data[n:]
		case fieldInputDigest:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return in, protowire.ParseError(n)
			}
			in.Digest = string(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return in, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return in, nil
}
