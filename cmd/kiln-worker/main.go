// Command kiln-worker is a minimal example persistent worker: it reads
// length-delimited WorkRequest messages from stdin, shells out to a real
// compiler-shaped command, and writes back WorkResponse messages on stdout,
// one per request, in order (singleplex — no request_id-based pipelining).
//
// It exists for integration tests and local trials of pkg/pool and
// pkg/driver against a real process, not as a production worker.
package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/exec"

	"github.com/cuemby/kiln/pkg/wireproto"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: kiln-worker <command> [args...] --persistent_worker")
		os.Exit(2)
	}

	// The classifier appends --persistent_worker after the action's own
	// startup args (ahead of any mnemonic extras). It marks worker mode for
	// this binary and is dropped wherever it appears; the rest is the
	// underlying tool to invoke per request.
	var args []string
	for _, a := range os.Args[1:] {
		if a != "--persistent_worker" {
			args = append(args, a)
		}
	}

	in := bufio.NewReader(os.Stdin)
	out := bufio.NewWriter(os.Stdout)

	for {
		data, ok, err := wireproto.ReadMessage(in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kiln-worker: read request: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			return
		}

		req, err := wireproto.UnmarshalWorkRequest(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kiln-worker: unmarshal request: %v\n", err)
			os.Exit(1)
		}

		resp := runOne(args, req)

		respData, err := wireproto.MarshalWorkResponse(resp)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kiln-worker: marshal response: %v\n", err)
			os.Exit(1)
		}
		if err := wireproto.WriteMessage(out, respData); err != nil {
			fmt.Fprintf(os.Stderr, "kiln-worker: write response: %v\n", err)
			os.Exit(1)
		}
		if err := out.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "kiln-worker: flush response: %v\n", err)
			os.Exit(1)
		}
	}
}

func runOne(tool []string, req *wireproto.WorkRequest) *wireproto.WorkResponse {
	if len(tool) == 0 {
		return &wireproto.WorkResponse{ExitCode: 1, Output: []byte("kiln-worker: no underlying tool configured\n"), RequestID: req.RequestID}
	}

	cmd := exec.Command(tool[0], append(tool[1:], req.Arguments...)...)
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	exitCode := int32(0)
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = int32(exitErr.ExitCode())
		} else {
			exitCode = 1
			combined.WriteString(err.Error())
		}
	}

	return &wireproto.WorkResponse{
		ExitCode:  exitCode,
		Output:    combined.Bytes(),
		RequestID: req.RequestID,
	}
}
