package statsrpc

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/run"
)

// Server publishes a run.StatsQuerier on a Unix domain socket so local
// tools can poll a live training run without going through the HTTP API.
type Server struct {
	path  string
	stats run.StatsQuerier

	ln       net.Listener
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// NewServer prepares a server for the given socket path. Nothing is
// bound until Start.
func NewServer(path string, stats run.StatsQuerier) *Server {
	return &Server{
		path:  path,
		stats: stats,
		conns: make(map[net.Conn]struct{}),
		done:  make(chan struct{}),
	}
}

// Start binds the socket and begins accepting connections.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("statsrpc: mkdir: %w", err)
	}
	if err := s.claimSocket(); err != nil {
		return err
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("statsrpc: listen: %w", err)
	}
	s.ln = ln

	s.wg.Add(1)
	go s.serve()

	log.Printf("statsrpc: listening on %s", s.path)
	return nil
}

// claimSocket clears a leftover socket file. A live server still
// answering on the path is an error: two trainers must not share it.
func (s *Server) claimSocket() error {
	if _, err := os.Stat(s.path); err != nil {
		return nil
	}
	probe, err := net.DialTimeout("unix", s.path, 500*time.Millisecond)
	if err == nil {
		probe.Close()
		return fmt.Errorf("statsrpc: another trainer is already listening on %s", s.path)
	}
	// Nobody answered, so the file was left behind by a dead process.
	os.Remove(s.path)
	return nil
}

// Stop closes the listener and every open connection, waits for the
// handlers to drain, and removes the socket file. Safe to call twice.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.ln != nil {
			s.ln.Close()
		}
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
		os.Remove(s.path)
	})
}

func (s *Server) stopping() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.stopping() {
				return
			}
			// Transient failures such as a hit fd limit should not kill
			// the accept loop.
			log.Printf("statsrpc: accept: %v", err)
			continue
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	// Stop sweeps the connection set once; anything registered after the
	// sweep has to bail out on its own.
	if s.stopping() {
		return
	}

	in := newFrameScanner(conn)
	out := json.NewEncoder(conn)
	for in.Scan() {
		var req Request
		if err := json.Unmarshal(in.Bytes(), &req); err != nil {
			out.Encode(Response{
				JSONRPC: jsonrpcVersion,
				Error:   &RPCError{Code: codeParse, Message: "parse error"},
			})
			continue
		}
		if err := out.Encode(s.dispatch(req)); err != nil {
			return
		}
	}
}

// dispatch routes one decoded request to the stats backend and shapes
// the reply.
func (s *Server) dispatch(req Request) Response {
	var (
		result any
		rpcErr *RPCError
	)
	switch req.Method {
	case MethodSnapshot:
		result, rpcErr = s.doSnapshot()
	case MethodEpochSummaries:
		result, rpcErr = s.doEpochSummaries(req.Params)
	case MethodScalarSeries:
		result, rpcErr = s.doScalarSeries(req.Params)
	default:
		rpcErr = &RPCError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}
	}

	resp := Response{JSONRPC: jsonrpcVersion, ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}
	data, err := json.Marshal(result)
	if err != nil {
		resp.Error = &RPCError{Code: codeInternal, Message: err.Error()}
		return resp
	}
	resp.Result = data
	return resp
}

type epochParams struct{ Limit int }

type seriesParams struct {
	Phase string
	Name  string
	Limit int
}

func (s *Server) doSnapshot() (any, *RPCError) {
	snap, err := s.stats.Snapshot()
	if err != nil {
		return nil, queryError(err)
	}
	return snap, nil
}

// Missing params mean "no limit"; only params that are present and
// malformed are rejected.
func (s *Server) doEpochSummaries(params json.RawMessage) (any, *RPCError) {
	var p epochParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, badParams(err)
		}
	}
	sums, err := s.stats.EpochSummaries(p.Limit)
	if err != nil {
		return nil, queryError(err)
	}
	return sums, nil
}

func (s *Server) doScalarSeries(params json.RawMessage) (any, *RPCError) {
	var p seriesParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, badParams(err)
	}
	series, err := s.stats.ScalarSeries(p.Phase, p.Name, p.Limit)
	if err != nil {
		return nil, queryError(err)
	}
	return series, nil
}

func queryError(err error) *RPCError {
	return &RPCError{Code: codeQueryFailed, Message: err.Error()}
}

func badParams(err error) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
}
