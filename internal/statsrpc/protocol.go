package statsrpc

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
)

// The wire protocol is JSON-RPC 2.0, one request or response object per
// line. Method names mirror run.StatsQuerier: Snapshot takes no params,
// EpochSummaries takes {Limit}, ScalarSeries takes {Phase, Name, Limit}.
// Snapshot and EpochSummaries tolerate missing or null params.

const jsonrpcVersion = "2.0"

// Method names as they appear on the wire.
const (
	MethodSnapshot       = "Snapshot"
	MethodEpochSummaries = "EpochSummaries"
	MethodScalarSeries   = "ScalarSeries"
)

// JSON-RPC 2.0 error codes used by the server.
const (
	codeParse          = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeQueryFailed    = -32000
)

// Request is one call as it crosses the socket.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response answers a Request, carrying either a result or an error.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a Response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// newFrameScanner builds a line scanner sized for large scalar series
// responses. Both ends of the connection use the same limits.
func newFrameScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return sc
}

// DefaultSocketPath returns where the trainer publishes its stats socket:
// $XDG_RUNTIME_DIR/segdac/segdac.sock when the runtime dir is set, otherwise
// ~/.local/state/segdac/segdac.sock.
func DefaultSocketPath() string {
	base := os.Getenv("XDG_RUNTIME_DIR")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "/tmp/segdac.sock"
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "segdac", "segdac.sock")
}
