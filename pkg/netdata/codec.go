package netdata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameSize bounds a single frame so a hostile peer cannot make the
// decoder allocate arbitrarily large buffers.
const MaxFrameSize = 16 << 20

var (
	ErrFrameTooLarge = errors.New("netdata: frame too large")
	ErrUnknownKind   = errors.New("netdata: unknown message kind")
)

// Envelope is the tagged form of a message on the wire.
type Envelope struct {
	Kind Kind            `cbor:"k"`
	Body cbor.RawMessage `cbor:"b"`
}

// frame layout: [u32 big-endian length][cbor envelope]

// Encode returns the framed bytes for msg.
func Encode(msg Message) ([]byte, error) {
	var body []byte
	if u, ok := msg.(Unknown); ok {
		body = u.Body
	} else {
		b, err := cbor.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", msg.Kind(), err)
		}
		body = b
	}
	env, err := cbor.Marshal(Envelope{Kind: msg.Kind(), Body: body})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	if len(env) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d", ErrFrameTooLarge, len(env))
	}
	out := make([]byte, 4+len(env))
	binary.BigEndian.PutUint32(out, uint32(len(env)))
	copy(out[4:], env)
	return out, nil
}

// WriteFrame encodes msg and writes it to w in a single call.
func WriteFrame(w io.Writer, msg Message) error {
	b, err := Encode(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadFrame reads one envelope from r. io.EOF is returned unwrapped when r
// ends cleanly between frames.
func ReadFrame(r io.Reader) (Envelope, error) {
	var env Envelope
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return env, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return env, fmt.Errorf("%w: %d", ErrFrameTooLarge, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return env, fmt.Errorf("read frame body: %w", err)
	}
	if err := cbor.Unmarshal(buf, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// DecodeInbound turns an envelope into its inbound variant. Unrecognised
// kinds are returned as Unknown rather than as an error.
func DecodeInbound(env Envelope) (Inbound, error) {
	switch env.Kind {
	case KindServerInfo:
		return decodeBody[ServerInfo](env)
	case KindModuleHeader:
		return decodeBody[ModuleHeader](env)
	case KindModuleData:
		return decodeBody[ModuleData](env)
	case KindJoinComplete:
		return decodeBody[JoinComplete](env)
	default:
		return Unknown{Type: env.Kind, Body: []byte(env.Body)}, nil
	}
}

// DecodeOutbound turns an envelope into its outbound variant.
func DecodeOutbound(env Envelope) (Outbound, error) {
	switch env.Kind {
	case KindModuleRequest:
		return decodeBody[ModuleRequest](env)
	case KindJoin:
		return decodeBody[Join](env)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, env.Kind)
	}
}

// ReadInbound reads and decodes the next server message.
func ReadInbound(r io.Reader) (Inbound, error) {
	env, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return DecodeInbound(env)
}

// ReadOutbound reads and decodes the next client message.
func ReadOutbound(r io.Reader) (Outbound, error) {
	env, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return DecodeOutbound(env)
}

func decodeBody[T any](env Envelope) (T, error) {
	var v T
	if err := cbor.Unmarshal(env.Body, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", env.Kind, err)
	}
	return v, nil
}
