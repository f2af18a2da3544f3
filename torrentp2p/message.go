package torrentp2p

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxMessageLen caps a single frame body. The largest legitimate frame
// is a piece carrying one 16 KiB block plus its 9-byte header; a length
// prefix anywhere near the cap is corrupt.
const maxMessageLen = 262144

// ProtocolError reports a peer that broke the wire protocol. It is
// fatal to the session that observed it; the connection is torn down,
// never resynchronized.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "peer protocol: " + e.Reason }

func protocolErrorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

type messageTag uint8

const (
	tagChoke messageTag = iota
	tagUnchoke
	tagInterested
	tagNotInterested
	tagHave
	tagBitfield
	tagRequest
	tagPiece
	tagCancel
	tagPort
)

var tagNames = [...]string{
	"choke", "unchoke", "interested", "not interested", "have",
	"bitfield", "request", "piece", "cancel", "port",
}

func (t messageTag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("tag %d", uint8(t))
}

// Message is one peer wire message. The implementations are exactly the
// ten message kinds of the protocol; the interface is sealed.
type Message interface {
	tag() messageTag
}

// Choke tells the receiver to expect no further blocks until an Unchoke.
type Choke struct{}

// Unchoke lifts a previous Choke.
type Unchoke struct{}

// Interested announces the sender wants to download.
type Interested struct{}

// NotInterested announces the sender wants nothing.
type NotInterested struct{}

// Have announces a newly completed piece. The payload is kept opaque;
// nothing here reacts to peers gaining pieces mid-session.
type Have struct {
	Payload []byte
}

// Bitfield advertises the sender's pieces, one bit per index.
type Bitfield []byte

// Request asks for Length bytes at offset Begin of piece Index. The
// (Index, Begin) pair doubles as the key replies are matched on.
type Request struct {
	Index  uint32
	Begin  uint32
	Length uint32
}

// Piece carries the bytes of one requested block.
type Piece struct {
	Index uint32
	Begin uint32
	Block []byte
}

// Cancel withdraws an earlier Request. Opaque here.
type Cancel struct {
	Payload []byte
}

// Port carries a DHT port. Opaque here.
type Port struct {
	Payload []byte
}

func (Choke) tag() messageTag         { return tagChoke }
func (Unchoke) tag() messageTag       { return tagUnchoke }
func (Interested) tag() messageTag    { return tagInterested }
func (NotInterested) tag() messageTag { return tagNotInterested }
func (Have) tag() messageTag          { return tagHave }
func (Bitfield) tag() messageTag      { return tagBitfield }
func (Request) tag() messageTag       { return tagRequest }
func (Piece) tag() messageTag         { return tagPiece }
func (Cancel) tag() messageTag        { return tagCancel }
func (Port) tag() messageTag          { return tagPort }

// ReadMessage reads one length-prefixed message from r. The length
// prefix counts the tag byte plus the payload. A zero-length keep-alive
// frame yields (nil, nil); callers skip those and read again.
func ReadMessage(r io.Reader) (Message, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length == 0 {
		return nil, nil
	}
	if length > maxMessageLen {
		return nil, protocolErrorf("frame of %d bytes exceeds the %d limit", length, maxMessageLen)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	payload := body[1:]

	switch t := messageTag(body[0]); t {
	case tagChoke:
		return Choke{}, nil
	case tagUnchoke:
		return Unchoke{}, nil
	case tagInterested:
		return Interested{}, nil
	case tagNotInterested:
		return NotInterested{}, nil
	case tagHave:
		return Have{Payload: payload}, nil
	case tagBitfield:
		return Bitfield(payload), nil
	case tagRequest:
		if len(payload) != 12 {
			return nil, protocolErrorf("request payload is %d bytes, want 12", len(payload))
		}
		return Request{
			Index:  binary.BigEndian.Uint32(payload[0:4]),
			Begin:  binary.BigEndian.Uint32(payload[4:8]),
			Length: binary.BigEndian.Uint32(payload[8:12]),
		}, nil
	case tagPiece:
		if len(payload) < 8 {
			return nil, protocolErrorf("piece payload is %d bytes, want at least 8", len(payload))
		}
		return Piece{
			Index: binary.BigEndian.Uint32(payload[0:4]),
			Begin: binary.BigEndian.Uint32(payload[4:8]),
			Block: payload[8:],
		}, nil
	case tagCancel:
		return Cancel{Payload: payload}, nil
	case tagPort:
		return Port{Payload: payload}, nil
	default:
		return nil, protocolErrorf("unknown message %v", t)
	}
}

// WriteMessage serializes m and writes the whole frame with a single
// Write call, so concurrent writers that hold distinct messages cannot
// interleave partial frames on the same connection.
func WriteMessage(w io.Writer, m Message) error {
	var payload []byte
	switch m := m.(type) {
	case Choke, Unchoke, Interested, NotInterested:
	case Have:
		payload = m.Payload
	case Bitfield:
		payload = m
	case Request:
		payload = make([]byte, 12)
		binary.BigEndian.PutUint32(payload[0:4], m.Index)
		binary.BigEndian.PutUint32(payload[4:8], m.Begin)
		binary.BigEndian.PutUint32(payload[8:12], m.Length)
	case Piece:
		payload = make([]byte, 8+len(m.Block))
		binary.BigEndian.PutUint32(payload[0:4], m.Index)
		binary.BigEndian.PutUint32(payload[4:8], m.Begin)
		copy(payload[8:], m.Block)
	case Cancel:
		payload = m.Payload
	case Port:
		payload = m.Payload
	default:
		return protocolErrorf("cannot write message of type %T", m)
	}

	frame := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload))+1)
	frame[4] = byte(m.tag())
	copy(frame[5:], payload)
	_, err := w.Write(frame)
	return err
}
