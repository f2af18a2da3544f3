// Package torrentp2p speaks the peer wire protocol: framing, the
// session opening sequence, and block download orchestration against a
// single remote peer.
package torrentp2p

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ovidal/minileech/tracker"
)

const (
	protocolName = "BitTorrent protocol"
	dialTimeout  = 20 * time.Second

	// peerIDPrefix identifies the client; the remaining twelve bytes
	// of a peer ID are random.
	peerIDPrefix = "-ML0001-"

	inboundBacklog = 16
)

// handshakeMsg is the fixed 68-byte opening both sides send before any
// framed message.
type handshakeMsg struct {
	ProtocolLen byte
	Protocol    [19]byte
	Reserved    [8]byte
	InfoHash    [20]byte
	PeerID      [20]byte
}

// Session owns one peer connection that has completed the opening
// sequence: handshake, the peer's bitfield, our Interested, the peer's
// Unchoke. Once built it is unchoked and ready for RequestBlocks.
//
// A read pump goroutine owns the connection's read half and forwards
// every frame to the inbound channel. The pump exits on the first read
// error; there is no reconnect.
type Session struct {
	id       string
	conn     net.Conn
	infoHash [20]byte
	remoteID [20]byte
	bitfield Bitfield
	choked   bool

	wmu sync.Mutex // one whole frame at a time on the write half

	inbound chan Message
	readErr error // written by the pump before inbound closes
}

// Connect dials addr and runs the opening sequence.
func Connect(addr string, infoHash, peerID [20]byte) (*Session, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	s, err := newSession(conn, infoHash, peerID)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// newSession runs the opening sequence on an established connection.
// Any error is fatal: the caller closes the connection, nothing is
// retried.
func newSession(conn net.Conn, infoHash, peerID [20]byte) (*Session, error) {
	s := &Session{
		id:       uuid.NewString()[:8],
		conn:     conn,
		infoHash: infoHash,
		choked:   true,
		inbound:  make(chan Message, inboundBacklog),
	}

	if err := s.shakeHands(peerID); err != nil {
		return nil, err
	}

	first, err := readSkippingKeepAlive(conn)
	if err != nil {
		return nil, fmt.Errorf("reading opening message: %w", err)
	}
	bf, ok := first.(Bitfield)
	if !ok {
		return nil, protocolErrorf("opening message is %v, want bitfield", first.tag())
	}
	s.bitfield = bf
	log.Printf("(%s) bitfield of %d bytes", s.id, len(bf))

	if err := s.writeMessage(Interested{}); err != nil {
		return nil, fmt.Errorf("sending interested: %w", err)
	}
	next, err := readSkippingKeepAlive(conn)
	if err != nil {
		return nil, fmt.Errorf("reading unchoke: %w", err)
	}
	if _, ok := next.(Unchoke); !ok {
		return nil, protocolErrorf("got %v after interested, want unchoke", next.tag())
	}
	s.choked = false
	log.Printf("(%s) unchoked by %x", s.id, s.remoteID)

	go s.readLoop()
	return s, nil
}

// shakeHands sends our handshake and validates the peer's. The reserved
// bytes carry extension flags and are ignored.
func (s *Session) shakeHands(peerID [20]byte) error {
	out := handshakeMsg{
		ProtocolLen: byte(len(protocolName)),
		InfoHash:    s.infoHash,
		PeerID:      peerID,
	}
	copy(out.Protocol[:], protocolName)
	if _, err := s.conn.Write(tracker.StructToBuffer(out)); err != nil {
		return fmt.Errorf("sending handshake: %w", err)
	}

	var in handshakeMsg
	if err := binary.Read(s.conn, binary.BigEndian, &in); err != nil {
		return fmt.Errorf("reading handshake: %w", err)
	}
	if in.ProtocolLen != byte(len(protocolName)) {
		return protocolErrorf("handshake protocol length is %d, want %d", in.ProtocolLen, len(protocolName))
	}
	if string(in.Protocol[:]) != protocolName {
		return protocolErrorf("handshake protocol name is %q", in.Protocol[:])
	}
	if in.InfoHash != s.infoHash {
		return protocolErrorf("handshake answers for %x, want %x", in.InfoHash, s.infoHash)
	}
	s.remoteID = in.PeerID
	return nil
}

func readSkippingKeepAlive(r io.Reader) (Message, error) {
	for {
		msg, err := ReadMessage(r)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
	}
}

// readLoop pumps frames from the connection into inbound until the
// first read error, then records the error and closes the channel.
// The close is the only signal consumers need: readErr is safe to read
// once inbound is seen closed.
func (s *Session) readLoop() {
	defer close(s.inbound)
	for {
		msg, err := ReadMessage(s.conn)
		if err != nil {
			s.readErr = err
			return
		}
		if msg == nil {
			log.Printf("(%s) keep-alive", s.id)
			continue
		}
		s.inbound <- msg
	}
}

func (s *Session) writeMessage(m Message) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return WriteMessage(s.conn, m)
}

// Close tears the connection down. The read pump unblocks with an
// error and shuts itself off.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Bitfield returns the pieces the peer advertised when the session
// opened.
func (s *Session) Bitfield() Bitfield { return s.bitfield }

// Choked reports whether the peer has choked us. It starts false on a
// fresh session and flips when a RequestBlocks call observes a Choke.
func (s *Session) Choked() bool { return s.choked }

// RemoteID returns the peer ID the remote side presented in its
// handshake.
func (s *Session) RemoteID() [20]byte { return s.remoteID }

// GeneratePeerID builds a fresh local peer ID: the client prefix
// followed by twelve random alphanumerics.
func GeneratePeerID() ([20]byte, error) {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	var id [20]byte
	copy(id[:], peerIDPrefix)
	var token [12]byte
	if _, err := rand.Read(token[:]); err != nil {
		return id, fmt.Errorf("generating peer id: %w", err)
	}
	for i, b := range token {
		id[len(peerIDPrefix)+i] = alphabet[int(b)%len(alphabet)]
	}
	return id, nil
}
