// Package client implements the request-originator side of the agent
// transport: many concurrent calls multiplexed over a single connection.
//
// Each call takes a fresh stream id, and a background goroutine (recvLoop)
// reads response frames and routes each one to its caller by that id:
//
//	goroutine-1 ──Call(stream=1)──┐
//	goroutine-2 ──Call(stream=2)──┼──→ single unix/vsock conn ──→ server
//	goroutine-3 ──Call(stream=3)──┘
//
//	recvLoop:  ←── response(stream=2) → pending[2] chan → goroutine-2 wakes
//
// Responses arrive in the server's completion order, not call order; the
// stream id is the only correlation.
package client

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"agentrpc/codec"
	"agentrpc/message"
	"agentrpc/protocol"
	"agentrpc/sock"
)

// ErrClosed is returned by calls outstanding when the client shuts down.
var ErrClosed = errors.New("client: connection closed")

// Client manages one multiplexed connection to a server.
type Client struct {
	conn   net.Conn
	logger logrus.FieldLogger

	sending sync.Mutex // serializes frame writes and stream id allocation
	seq     uint32     // last allocated stream id
	pending sync.Map   // map[uint32]chan *message.Response

	done      chan struct{} // closed once the connection is unusable
	closeOnce sync.Once
	err       error // set before done closes
}

// Option configures a Client.
type Option func(*Client)

// WithLogger replaces the default logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.logger = l }
}

// Dial connects to a scheme-qualified address (unix:// or vsock://).
func Dial(address string, opts ...Option) (*Client, error) {
	conn, err := sock.Dial(address)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, opts...), nil
}

// NewClient wraps an established connection and starts the receive loop.
func NewClient(conn net.Conn, opts ...Option) *Client {
	c := &Client{
		conn:   conn,
		logger: logrus.StandardLogger().WithField("source", "agentrpc-client"),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.recvLoop()
	return c
}

// Call issues one request and blocks for its response. A context deadline
// travels to the server as the request's advisory timeout; context
// cancellation abandons the wait locally (the server still answers, the
// response is discarded on arrival).
func (c *Client) Call(ctx context.Context, service, method string, payload []byte, md ...message.KeyValue) ([]byte, error) {
	req := &message.Request{
		Service:  service,
		Method:   method,
		Payload:  payload,
		Metadata: md,
	}
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ctx.Err()
		}
		req.TimeoutNanos = int64(remaining)
	}
	body, err := codec.Default.Encode(req)
	if err != nil {
		return nil, err
	}

	// Stream id allocation and the frame write share the sending lock, so
	// frames never interleave and ids are unique per in-flight request. An
	// id is reused only after its terminal response (or local abandonment)
	// removed it from pending.
	c.sending.Lock()
	c.seq++
	seq := c.seq
	respCh := make(chan *message.Response, 1)
	c.pending.Store(seq, respCh)
	err = protocol.Encode(c.conn, &protocol.Header{
		StreamID: seq,
		Length:   uint32(len(body)),
		Type:     protocol.MsgTypeRequest,
	}, body)
	c.sending.Unlock()
	if err != nil {
		c.pending.Delete(seq)
		return nil, errors.Wrap(err, "send request")
	}

	select {
	case resp := <-respCh:
		if err := resp.Status(); err != nil {
			return nil, err
		}
		return resp.Payload, nil
	case <-ctx.Done():
		c.pending.Delete(seq)
		return nil, ctx.Err()
	case <-c.done:
		c.pending.Delete(seq)
		return nil, c.err
	}
}

// recvLoop is the single reader: it decodes response frames and hands each
// to the waiting caller. Any transport or envelope decode failure is fatal
// to the connection, because frame boundaries can no longer be trusted.
func (c *Client) recvLoop() {
	for {
		h, body, err := protocol.Decode(c.conn)
		if err != nil {
			c.fail(errors.Wrap(err, "receive"))
			return
		}
		if h.Type != protocol.MsgTypeResponse {
			c.logger.WithField("stream", h.StreamID).Debug("dropping unexpected request frame")
			continue
		}
		resp := &message.Response{}
		if err := codec.Default.Decode(body, resp); err != nil {
			c.fail(errors.Wrap(err, "decode response"))
			return
		}
		if ch, ok := c.pending.LoadAndDelete(h.StreamID); ok {
			ch.(chan *message.Response) <- resp
		}
	}
}

// fail marks the connection unusable; every pending and future call
// observes done and returns the recorded error.
func (c *Client) fail(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Broken reports whether the connection has failed or been closed.
func (c *Client) Broken() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close tears down the connection. Outstanding calls return ErrClosed.
func (c *Client) Close() error {
	c.fail(ErrClosed)
	return c.conn.Close()
}
