// Package transport carries handshake messages over a byte stream.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-mclib/joinclient/pkg/netdata"
)

var ErrClosed = errors.New("transport: channel closed")

// Channel is the outbound half of a connection as the handshake sees it.
// Close must be safe to call more than once and from any goroutine.
type Channel interface {
	Write(msg netdata.Outbound) error
	Close() error
}

// Conn is the client end of a connection.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader

	wmu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// NewConn wraps an established connection.
func NewConn(c net.Conn) *Conn {
	return &Conn{
		conn:   c,
		r:      bufio.NewReader(c),
		closed: make(chan struct{}),
	}
}

// Dial connects to address ("host:port").
func Dial(ctx context.Context, address string) (*Conn, error) {
	d := net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	c, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return NewConn(c), nil
}

// Read blocks for the next inbound message. Only one goroutine may read.
func (c *Conn) Read() (netdata.Inbound, error) {
	msg, err := netdata.ReadInbound(c.r)
	if err != nil && c.isClosed() {
		return nil, ErrClosed
	}
	return msg, err
}

func (c *Conn) Write(msg netdata.Outbound) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := netdata.WriteFrame(c.conn, msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Kind(), err)
	}
	return nil
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Closed is closed once Close has been called.
func (c *Conn) Closed() <-chan struct{} { return c.closed }

func (c *Conn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
