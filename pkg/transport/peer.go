package transport

import (
	"bufio"
	"net"
	"sync"

	"github.com/go-mclib/joinclient/pkg/netdata"
)

// Peer is the server end of a connection: it sends inbound messages and
// receives outbound ones.
type Peer struct {
	conn net.Conn
	r    *bufio.Reader
	wmu  sync.Mutex
}

func NewPeer(c net.Conn) *Peer {
	return &Peer{conn: c, r: bufio.NewReader(c)}
}

func (p *Peer) Send(msg netdata.Inbound) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return netdata.WriteFrame(p.conn, msg)
}

func (p *Peer) Receive() (netdata.Outbound, error) {
	return netdata.ReadOutbound(p.r)
}

func (p *Peer) Close() error { return p.conn.Close() }

// Pipe returns both ends of a synchronous in-memory connection.
func Pipe() (*Conn, *Peer) {
	c, s := net.Pipe()
	return NewConn(c), NewPeer(s)
}
