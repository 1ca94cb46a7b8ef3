package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRequestTimeout bounds a single Call when the caller's context
// carries no earlier deadline.
const DefaultRequestTimeout = 4 * time.Minute

type callResult struct {
	resp *Response
	err  error
}

// Client is a synchronous JSON-RPC client over a Stream. A single
// background reader goroutine demultiplexes incoming responses to their
// waiters by request id. The client has two states, started and stopped;
// Stop closes the stream, terminates the reader, and fails every pending
// waiter with ErrCancelled.
type Client struct {
	stream         *Stream
	requestTimeout time.Duration
	logger         *slog.Logger

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan callResult
	stopped bool

	readerDone chan struct{}
	stopOnce   sync.Once
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// RequestTimeout bounds each Call. Zero means DefaultRequestTimeout.
	RequestTimeout time.Duration

	Logger *slog.Logger
}

// NewClient creates a client over the given stream. Call Start before the
// first Call.
func NewClient(stream *Stream, opts ClientOptions) *Client {
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		stream:         stream,
		requestTimeout: opts.RequestTimeout,
		logger:         opts.Logger,
		pending:        make(map[int64]chan callResult),
		readerDone:     make(chan struct{}),
	}
}

// Start launches the background reader.
func (c *Client) Start() {
	go c.readLoop()
}

// Call sends one request and blocks until the matching response arrives,
// the request timeout elapses (ErrTimeout), the context is cancelled, or
// the client stops (ErrCancelled). On timeout the pending entry is
// removed and a late response is dropped by the reader.
func (c *Client) Call(ctx context.Context, method string, params any) (*Response, error) {
	id := c.nextID.Add(1)
	ch := make(chan callResult, 1)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, ErrCancelled
	}
	c.pending[id] = ch
	c.mu.Unlock()

	req := Request{JSONRPC: Version, ID: &id, Method: method, Params: params}
	if err := c.stream.WriteMessage(&req); err != nil {
		c.unregister(id)
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.resp, res.err
	case <-timer.C:
		c.unregister(id)
		c.logger.Warn("request timed out", "method", method, "id", id)
		return nil, ErrTimeout
	case <-ctx.Done():
		c.unregister(id)
		return nil, ctx.Err()
	}
}

// Stop closes the stream, interrupts the reader, and fails every pending
// waiter with ErrCancelled. Safe to call more than once.
func (c *Client) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()
		err = c.stream.Close()
		<-c.readerDone
		c.failPending(ErrCancelled)
	})
	return err
}

func (c *Client) unregister(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// failPending delivers err to every waiter and clears the pending map.
func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- callResult{err: err}
		delete(c.pending, id)
	}
}

// readLoop demultiplexes incoming messages to their waiters until EOF or
// a fatal stream error.
func (c *Client) readLoop() {
	defer close(c.readerDone)
	for {
		raw, err := c.stream.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stopped := c.stopped
			c.mu.Unlock()
			if stopped {
				return
			}
			if errors.Is(err, io.EOF) {
				c.logger.Warn("stream closed with requests in flight")
				c.failPending(ErrTransport)
				return
			}
			c.logger.Error("reader failed", "error", err)
			c.failPending(fmt.Errorf("%w: %v", ErrTransport, err))
			return
		}

		var resp Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			c.logger.Warn("dropping undecodable message", "error", err)
			continue
		}
		if resp.ID == nil {
			c.logger.Debug("dropping message without id")
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[*resp.ID]
		if ok {
			delete(c.pending, *resp.ID)
		}
		c.mu.Unlock()

		if !ok {
			// Late reply to a request that already timed out.
			c.logger.Debug("dropping response with no waiter", "id", *resp.ID)
			continue
		}
		ch <- callResult{resp: &resp}
	}
}
