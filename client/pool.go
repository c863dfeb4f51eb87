package client

import (
	"sync"

	"github.com/pkg/errors"
)

// Pool is a borrow/return pool of clients to a single address, for
// collaborators that prefer exclusive connections over sharing one
// multiplexed client.
//
// A buffered channel is the pool: FIFO, goroutine-safe, and blocking on
// empty comes for free.
type Pool struct {
	mu      sync.Mutex
	clients chan *Client
	max     int
	cur     int
	closed  bool
	factory func() (*Client, error)
}

// NewPool creates a pool dialing the given scheme-qualified address.
// Clients are created lazily, up to max.
func NewPool(address string, max int) *Pool {
	return &Pool{
		clients: make(chan *Client, max),
		max:     max,
		factory: func() (*Client, error) { return Dial(address) },
	}
}

// Get borrows a client. Strategy:
//  1. take an idle client from the channel (non-blocking)
//  2. if the pool is empty but under limit, dial a new one
//  3. at the limit, block until a client is returned
func (p *Pool) Get() (*Client, error) {
	select {
	case c := <-p.clients:
		return p.vet(c)
	default:
		p.mu.Lock()
		under := p.cur < p.max
		p.mu.Unlock()
		if under {
			return p.createNew()
		}
		return p.vet(<-p.clients)
	}
}

// vet screens a client taken from the channel: nil means the pool was
// closed, a broken client is replaced.
func (p *Pool) vet(c *Client) (*Client, error) {
	if c == nil {
		return nil, errors.New("client pool closed")
	}
	if c.Broken() {
		p.discard(c)
		return p.createNew()
	}
	return c, nil
}

// Put returns a client. Broken clients are closed and dropped so the next
// Get dials a replacement. Returning to a closed pool just closes the
// client.
func (p *Pool) Put(c *Client) {
	if c.Broken() {
		p.discard(c)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		c.Close()
		p.cur--
		return
	}
	p.clients <- c
}

// Close shuts down the pool and every idle client. Borrowed clients are the
// borrower's to close.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.clients)
	for c := range p.clients {
		c.Close()
		p.cur--
	}
	return nil
}

func (p *Pool) discard(c *Client) {
	c.Close()
	p.mu.Lock()
	p.cur--
	p.mu.Unlock()
}

func (p *Pool) createNew() (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("client pool closed")
	}
	if p.cur >= p.max {
		return nil, errors.New("client pool exhausted")
	}
	c, err := p.factory()
	if err != nil {
		return nil, err
	}
	p.cur++
	return c, nil
}
