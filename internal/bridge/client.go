package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/zjrosen/cockpit/internal/netutil"
	"github.com/zjrosen/cockpit/internal/session"
)

// ErrClientClosed is returned by calls on a closed client or after the
// server hung up.
var ErrClientClosed = errors.New("bridge client closed")

// Client issues requests over one connection. It is safe for concurrent
// use; responses are matched to calls by id.
type Client struct {
	conn net.Conn
	next atomic.Uint64

	writeMu sync.Mutex
	enc     *json.Encoder

	mu      sync.Mutex
	pending map[string]chan Response
	err     error
	done    chan struct{}
}

// Dial connects to a bridge server.
func Dial(ctx context.Context, network, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial bridge: %w", err)
	}
	return NewClient(conn), nil
}

// NewClient takes ownership of conn.
func NewClient(conn net.Conn) *Client {
	c := &Client{
		conn:    conn,
		enc:     json.NewEncoder(conn),
		pending: make(map[string]chan Response),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Close closes the connection. Pending calls fail with ErrClientClosed.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	r := bufio.NewReaderSize(c.conn, 64*1024)
	for {
		line, tooLong, err := netutil.ReadLine(r, DefaultMaxRequest)
		if len(line) > 0 && !tooLong {
			var resp Response
			if jerr := json.Unmarshal(line, &resp); jerr == nil {
				c.deliver(resp)
			}
		}
		if err != nil {
			c.fail(ErrClientClosed)
			return
		}
	}
}

func (c *Client) deliver(resp Response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	delete(c.pending, resp.ID)
	c.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Call sends req with a fresh id and waits for its response or ctx.
func (c *Client) Call(ctx context.Context, req Request) (Response, error) {
	req.ID = "c" + strconv.FormatUint(c.next.Add(1), 10)
	ch := make(chan Response, 1)

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return Response{}, c.err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.enc.Encode(req)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(req.ID)
		return Response{}, fmt.Errorf("send %s: %w", req.Op, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return Response{}, ErrClientClosed
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(req.ID)
		return Response{}, ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) do(ctx context.Context, req Request, result any) error {
	resp, err := c.Call(ctx, req)
	if err != nil {
		return err
	}
	return resp.Decode(result)
}

// Open spawns a session and returns its id.
func (c *Client) Open(ctx context.Context, spec session.LaunchSpec) (OpenResult, error) {
	var res OpenResult
	err := c.do(ctx, Request{Op: OpOpen, Launch: &spec}, &res)
	return res, err
}

// Input writes data to the session's input.
func (c *Client) Input(ctx context.Context, id string, data []byte) error {
	req := Request{Op: OpInput, SessionID: id}
	req.SetInput(data)
	return c.do(ctx, req, nil)
}

// Resize changes the session's window size.
func (c *Client) Resize(ctx context.Context, id string, rows, cols int) error {
	return c.do(ctx, Request{Op: OpResize, SessionID: id, Rows: rows, Cols: cols}, nil)
}

// Signal delivers an intent.
func (c *Client) Signal(ctx context.Context, id string, intent session.Intent) error {
	return c.do(ctx, Request{Op: OpSignal, SessionID: id, Intent: string(intent)}, nil)
}

// Snapshot reads the session's screen.
func (c *Client) Snapshot(ctx context.Context, id string) (SnapshotResult, error) {
	var res SnapshotResult
	err := c.do(ctx, Request{Op: OpSnapshot, SessionID: id}, &res)
	return res, err
}

// CloseSession ends the session and returns its exit code.
func (c *Client) CloseSession(ctx context.Context, id string) (int, error) {
	var res ExitResult
	err := c.do(ctx, Request{Op: OpClose, SessionID: id}, &res)
	return res.ExitCode, err
}

// Wait blocks server-side for up to timeoutMS (0 means the server default)
// until the session exits.
func (c *Client) Wait(ctx context.Context, id string, timeoutMS int) (int, error) {
	var res ExitResult
	err := c.do(ctx, Request{Op: OpWait, SessionID: id, TimeoutMS: timeoutMS}, &res)
	return res.ExitCode, err
}

// List describes every registered session.
func (c *Client) List(ctx context.Context) ([]session.Info, error) {
	var res ListResult
	err := c.do(ctx, Request{Op: OpList}, &res)
	return res.Sessions, err
}

// Remove closes the session and unregisters it.
func (c *Client) Remove(ctx context.Context, id string) (int, error) {
	var res ExitResult
	err := c.do(ctx, Request{Op: OpRemove, SessionID: id}, &res)
	return res.ExitCode, err
}
