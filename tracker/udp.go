package tracker

import (
	"encoding/binary"
	"fmt"
	"log"
	"math/rand"
	"net"
	"time"
)

// UDP tracker protocol: a connect round-trip establishes a connection
// ID, which then authorizes an announce round-trip. Both requests carry
// a random transaction ID the response must echo.
const (
	udpMagic   = 0x41727101980
	udpTimeout = 5 * time.Second

	actionConnect  = 0
	actionAnnounce = 1
	actionError    = 3

	eventStarted = 2
)

type connectPacket struct {
	ConnectionID  uint64
	Action        uint32
	TransactionID uint32
}

type announcePacket struct {
	Connect    connectPacket
	InfoHash   [20]byte
	PeerID     [20]byte
	Downloaded uint64
	Left       uint64
	Uploaded   uint64
	Event      uint32
	IP         uint32 // 0 lets the tracker use the packet's source
	Key        uint32
	NumWant    int32 // -1 for the tracker's default
	Port       uint16
}

type udpTracker struct {
	conn         *net.UDPConn
	connectionID uint64
}

func announceUDP(host string, p AnnounceParams) (*AnnounceResponse, error) {
	addr, err := net.ResolveUDPAddr("udp4", host)
	if err != nil {
		return nil, fmt.Errorf("resolving tracker %s: %w", host, err)
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(udpTimeout))

	t := &udpTracker{conn: conn}
	if err := t.connect(); err != nil {
		return nil, err
	}
	return t.announce(p)
}

func (t *udpTracker) sendReceive(packet any) ([]byte, error) {
	if _, err := t.conn.Write(StructToBuffer(packet)); err != nil {
		return nil, err
	}
	buffer := make([]byte, 2048)
	n, err := t.conn.Read(buffer)
	if err != nil {
		return nil, err
	}
	return buffer[:n], nil
}

func (t *udpTracker) connect() error {
	tid := rand.Uint32()
	resp, err := t.sendReceive(connectPacket{
		ConnectionID:  udpMagic,
		Action:        actionConnect,
		TransactionID: tid,
	})
	if err != nil {
		return err
	}
	if len(resp) < 16 {
		return fmt.Errorf("connect response is %d bytes, want 16", len(resp))
	}
	if binary.BigEndian.Uint32(resp[0:4]) != actionConnect || binary.BigEndian.Uint32(resp[4:8]) != tid {
		return fmt.Errorf("connect response does not match request")
	}
	t.connectionID = binary.BigEndian.Uint64(resp[8:16])
	return nil
}

func (t *udpTracker) announce(p AnnounceParams) (*AnnounceResponse, error) {
	tid := rand.Uint32()
	resp, err := t.sendReceive(announcePacket{
		Connect: connectPacket{
			ConnectionID:  t.connectionID,
			Action:        actionAnnounce,
			TransactionID: tid,
		},
		InfoHash: p.InfoHash,
		PeerID:   p.PeerID,
		Left:     uint64(p.Left),
		Event:    eventStarted,
		Key:      rand.Uint32(),
		NumWant:  -1,
		Port:     p.Port,
	})
	if err != nil {
		return nil, err
	}

	if len(resp) >= 8 && binary.BigEndian.Uint32(resp[0:4]) == actionError {
		return nil, fmt.Errorf("tracker refused: %s", resp[8:])
	}
	if len(resp) < 20 {
		return nil, fmt.Errorf("announce response is %d bytes, want at least 20", len(resp))
	}
	if binary.BigEndian.Uint32(resp[0:4]) != actionAnnounce || binary.BigEndian.Uint32(resp[4:8]) != tid {
		return nil, fmt.Errorf("announce response does not match request")
	}

	peers, err := ParsePeers(resp[20:])
	if err != nil {
		return nil, err
	}
	log.Printf("tracker answered with %d peers", len(peers))
	return &AnnounceResponse{
		Interval: int64(binary.BigEndian.Uint32(resp[8:12])),
		Peers:    peers,
	}, nil
}
