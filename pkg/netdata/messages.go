// Package netdata defines the messages exchanged during the join handshake
// and their wire encoding.
package netdata

// Kind identifies a message on the wire.
type Kind uint8

const (
	KindServerInfo   Kind = 1
	KindModuleHeader Kind = 2
	KindModuleData   Kind = 3
	KindJoinComplete Kind = 4

	KindModuleRequest Kind = 16
	KindJoin          Kind = 17
)

func (k Kind) String() string {
	switch k {
	case KindServerInfo:
		return "server_info"
	case KindModuleHeader:
		return "module_header"
	case KindModuleData:
		return "module_data"
	case KindJoinComplete:
		return "join_complete"
	case KindModuleRequest:
		return "module_request"
	case KindJoin:
		return "join"
	default:
		return "unknown"
	}
}

// Message is anything that can be framed.
type Message interface {
	Kind() Kind
}

// Inbound is a server -> client message. Exactly one of the concrete types
// below; use a type switch to dispatch.
type Inbound interface {
	Message
	inbound()
}

// Outbound is a client -> server message.
type Outbound interface {
	Message
	outbound()
}

// ModuleInfo names one module the server requires.
type ModuleInfo struct {
	ID      string `cbor:"id"`
	Version string `cbor:"version"`
}

func (m ModuleInfo) String() string { return m.ID + ":" + m.Version }

// ServerInfo is the first message of every handshake.
type ServerInfo struct {
	Version       string       `cbor:"version"`
	GameName      string       `cbor:"game_name"`
	MOTD          string       `cbor:"motd,omitempty"`
	Time          int64        `cbor:"time"` // game time in milliseconds
	OnlinePlayers int32        `cbor:"online_players"`
	Modules       []ModuleInfo `cbor:"modules"`
}

// ModuleHeader announces the module whose bytes follow. Error is set when
// the server could not provide it.
type ModuleHeader struct {
	ID      string `cbor:"id"`
	Version string `cbor:"version"`
	Size    int64  `cbor:"size"`
	Error   string `cbor:"error,omitempty"`
}

func (m ModuleHeader) HasError() bool { return m.Error != "" }

// ModuleData is one chunk of the module announced by the last header.
type ModuleData struct {
	Data []byte `cbor:"data"`
}

// JoinComplete ends the handshake and carries the id the server assigned.
type JoinComplete struct {
	ClientID int32 `cbor:"client_id"`
}

// Unknown is a well-formed frame of a kind this client does not understand.
type Unknown struct {
	Type Kind
	Body []byte
}

// ModuleRequest asks the server to stream one module.
type ModuleRequest struct {
	ID string `cbor:"id"`
}

// Join asks the server to admit the player.
type Join struct {
	Name              string `cbor:"name"`
	ViewDistanceLevel int32  `cbor:"view_distance_level"`
	Color             uint32 `cbor:"color"` // RGBA
}

func (ServerInfo) Kind() Kind    { return KindServerInfo }
func (ModuleHeader) Kind() Kind  { return KindModuleHeader }
func (ModuleData) Kind() Kind    { return KindModuleData }
func (JoinComplete) Kind() Kind  { return KindJoinComplete }
func (u Unknown) Kind() Kind     { return u.Type }
func (ModuleRequest) Kind() Kind { return KindModuleRequest }
func (Join) Kind() Kind          { return KindJoin }

func (ServerInfo) inbound()   {}
func (ModuleHeader) inbound() {}
func (ModuleData) inbound()   {}
func (JoinComplete) inbound() {}
func (Unknown) inbound()      {}

func (ModuleRequest) outbound() {}
func (Join) outbound()          {}
