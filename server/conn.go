package server

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"agentrpc/codec"
	"agentrpc/message"
	"agentrpc/protocol"
	"agentrpc/status"
)

// outFrame is one response waiting on a connection's write queue.
type outFrame struct {
	header  protocol.Header
	payload []byte
}

// conn owns one accepted connection: a single reading goroutine, a single
// writing goroutine draining the bounded out queue, and one goroutine per
// in-flight request in between. Requests on one connection execute
// concurrently; only the byte stream itself is sequential at each end.
type conn struct {
	srv    *Server
	rwc    net.Conn
	logger logrus.FieldLogger

	out        chan outFrame
	done       chan struct{} // closed once the conn is torn down; releases producers
	writerDone chan struct{}
	units      sync.WaitGroup
}

func newConn(s *Server, rwc net.Conn) *conn {
	return &conn{
		srv:        s,
		rwc:        rwc,
		logger:     s.logger.WithField("conn", rwc.RemoteAddr().String()),
		out:        make(chan outFrame, s.queueDepth),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// serve runs the connection to completion. Teardown order matters: the read
// loop exits first (transport error or disconnect), then every per-request
// unit spawned on this connection reaches Done, then the writer flushes
// whatever is already queued, and only then does the socket close.
func (c *conn) serve() {
	defer c.srv.wg.Done()

	go c.writeLoop()

	// A blocked Read or Write does not observe channels, so a watcher
	// expires both deadlines when the disconnect signal fires. The write
	// side matters too: a peer that stopped reading leaves the writer
	// stuck in Encode on a full socket buffer, and the drain barrier
	// cannot complete until it returns. The watcher keys on writerDone,
	// not the read loop, because the writer outlives the reader while
	// flushing.
	go func() {
		select {
		case <-c.srv.disconnect:
			c.rwc.SetReadDeadline(time.Now())
			c.rwc.SetWriteDeadline(time.Now())
		case <-c.writerDone:
		}
	}()

	c.readLoop()

	c.units.Wait()
	close(c.done)
	<-c.writerDone
	c.rwc.Close()
}

func (c *conn) readLoop() {
	for {
		h, payload, err := protocol.Decode(c.rwc)
		if err != nil {
			select {
			case <-c.srv.disconnect:
				c.logger.Debug("read loop stopped: disconnect")
			default:
				if err != io.EOF {
					c.logger.WithError(err).Debug("read loop stopped")
				}
			}
			return
		}
		if h.Type != protocol.MsgTypeRequest {
			// A response frame arriving at the server is a peer bug, not a
			// framing fault; drop it and keep the connection.
			c.logger.WithField("stream", h.StreamID).Debug("dropping unexpected response frame")
			continue
		}
		// Both counters before the goroutine: the server-wide one feeds the
		// Disconnect barrier, the local one gates this conn's teardown.
		c.srv.wg.Add(1)
		c.units.Add(1)
		go c.handleRequest(h, payload)
	}
}

// handleRequest is one per-request unit: decode the envelope, route it,
// race the handler against the deadline and the disconnect signal, and
// enqueue exactly one response unless the request is abandoned.
func (c *conn) handleRequest(h *protocol.Header, payload []byte) {
	defer c.srv.wg.Done()
	defer c.units.Done()

	var req message.Request
	if err := codec.Default.Decode(payload, &req); err != nil {
		c.respond(h.StreamID, &message.Response{
			Code:    status.InvalidArgument,
			Message: err.Error(),
		})
		return
	}

	ctx := withCallInfo(context.Background(), c.rwc, h, req.Metadata)
	var cancel context.CancelFunc
	if req.TimeoutNanos > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutNanos))
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type result struct {
		payload []byte
		err     error
	}
	resCh := make(chan result, 1)
	go func() {
		p, err := c.srv.invoke(ctx, &req)
		resCh <- result{p, err}
	}()

	var resp *message.Response
	select {
	case r := <-resCh:
		if r.err != nil {
			st := status.FromError(r.err)
			resp = &message.Response{Code: st.Code, Message: st.Message}
		} else {
			resp = &message.Response{Code: status.OK, Payload: r.payload}
		}
	case <-ctx.Done():
		// The deadline is advisory: the handler keeps running, its eventual
		// result goes nowhere.
		resp = &message.Response{Code: status.DeadlineExceeded, Message: req.Path() + " deadline exceeded"}
	case <-c.srv.disconnect:
		// Abandoned: nothing goes on the wire. Cancellation is advisory, so
		// the unit still waits for the handler to finish before counting
		// itself done; the drain barrier covers running handlers, their
		// results are simply discarded.
		cancel()
		<-resCh
		return
	}
	c.respond(h.StreamID, resp)
}

// respond serializes the envelope and enqueues it for the writer, reflecting
// the request's stream id. If the connection is being torn down or the
// server is disconnecting, the frame is dropped rather than blocking the
// unit forever: a full queue behind a stalled writer must never hold the
// drain barrier open.
func (c *conn) respond(streamID uint32, resp *message.Response) {
	payload, err := codec.Default.Encode(resp)
	if err != nil {
		c.logger.WithError(err).Error("encode response failed")
		return
	}
	f := outFrame{
		header: protocol.Header{
			StreamID: streamID,
			Length:   uint32(len(payload)),
			Type:     protocol.MsgTypeResponse,
		},
		payload: payload,
	}
	select {
	case c.out <- f:
	case <-c.srv.disconnect:
	case <-c.done:
	}
}

// writeLoop is the queue's single consumer: every frame goes to the socket
// through here, so frames from concurrent requests never interleave. After
// teardown begins it flushes what is already queued, best effort, then
// exits. A write failure marks the connection broken but keeps draining so
// producers are never stranded on a dead socket.
func (c *conn) writeLoop() {
	defer close(c.writerDone)
	broken := false
	write := func(f outFrame) {
		if broken {
			return
		}
		if err := protocol.Encode(c.rwc, &f.header, f.payload); err != nil {
			broken = true
			c.logger.WithError(err).Debug("write failed")
		}
	}
	for {
		select {
		case f := <-c.out:
			write(f)
		case <-c.done:
			for {
				select {
				case f := <-c.out:
					write(f)
				default:
					return
				}
			}
		}
	}
}
