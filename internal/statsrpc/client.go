package statsrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/run"
)

const (
	dialTimeout = 5 * time.Second
	callTimeout = 30 * time.Second
)

// Client talks to a Server over its Unix socket. It satisfies
// run.StatsQuerier, so callers can swap between a live socket and a
// metrics store without caring which is behind it.
type Client struct {
	mu     sync.Mutex
	sock   net.Conn
	in     *bufio.Scanner
	out    *json.Encoder
	lastID int
}

// Dial connects to the stats socket at the given path.
func Dial(path string) (*Client, error) {
	sock, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("statsrpc: dial: %w", err)
	}
	return &Client{
		sock: sock,
		in:   newFrameScanner(sock),
		out:  json.NewEncoder(sock),
	}, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.sock.Close()
}

func (c *Client) Snapshot() (run.Snapshot, error) {
	var snap run.Snapshot
	err := c.roundTrip(MethodSnapshot, struct{}{}, &snap)
	return snap, err
}

func (c *Client) EpochSummaries(limit int) ([]run.EpochSummary, error) {
	var sums []run.EpochSummary
	err := c.roundTrip(MethodEpochSummaries, epochParams{Limit: limit}, &sums)
	return sums, err
}

func (c *Client) ScalarSeries(phase, name string, limit int) ([]run.Scalar, error) {
	var series []run.Scalar
	err := c.roundTrip(MethodScalarSeries, seriesParams{Phase: phase, Name: name, Limit: limit}, &series)
	return series, err
}

// roundTrip issues one call and decodes the result into dest. Calls are
// serialized on the single connection; the protocol has no interleaving.
func (c *Client) roundTrip(method string, params any, dest any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("statsrpc: marshal params: %w", err)
	}
	c.lastID++

	c.sock.SetDeadline(time.Now().Add(callTimeout))
	defer c.sock.SetDeadline(time.Time{})

	req := Request{JSONRPC: jsonrpcVersion, ID: c.lastID, Method: method, Params: raw}
	if err := c.out.Encode(req); err != nil {
		return fmt.Errorf("statsrpc: send: %w", err)
	}

	resp, err := c.readResponse()
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, dest); err != nil {
		return fmt.Errorf("statsrpc: decode result: %w", err)
	}
	return nil
}

func (c *Client) readResponse() (*Response, error) {
	if !c.in.Scan() {
		if err := c.in.Err(); err != nil {
			return nil, fmt.Errorf("statsrpc: read: %w", err)
		}
		return nil, fmt.Errorf("statsrpc: connection closed")
	}
	var resp Response
	if err := json.Unmarshal(c.in.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("statsrpc: decode response: %w", err)
	}
	return &resp, nil
}
