package client

import (
	"sync"
	"time"

	"github.com/go-mclib/joinclient/pkg/netdata"
	"github.com/go-mclib/joinclient/pkg/transport"
)

// Server is the handle for a negotiated session. The handshake creates it
// on ServerInfo and hands it to OnJoined callbacks once the join completes.
type Server struct {
	channel  transport.Channel
	info     netdata.ServerInfo
	syncedAt time.Time

	mu          sync.RWMutex
	clientID    int32
	hasClientID bool
}

func NewServer(ch transport.Channel, info netdata.ServerInfo) *Server {
	return &Server{channel: ch, info: info, syncedAt: time.Now()}
}

// Info returns the metadata the server reported.
func (s *Server) Info() netdata.ServerInfo { return s.info }

// Modules returns the server's module manifest.
func (s *Server) Modules() []netdata.ModuleInfo {
	out := make([]netdata.ModuleInfo, len(s.info.Modules))
	copy(out, s.info.Modules)
	return out
}

// GameTime is the server's game time, advanced locally since ServerInfo
// arrived.
func (s *Server) GameTime() time.Duration {
	return time.Duration(s.info.Time)*time.Millisecond + time.Since(s.syncedAt)
}

func (s *Server) SetClientID(id int32) {
	s.mu.Lock()
	s.clientID = id
	s.hasClientID = true
	s.mu.Unlock()
}

// ClientID returns the id assigned by JoinComplete; ok is false before that.
func (s *Server) ClientID() (id int32, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientID, s.hasClientID
}

func (s *Server) Send(msg netdata.Outbound) error { return s.channel.Write(msg) }

func (s *Server) Close() error { return s.channel.Close() }
