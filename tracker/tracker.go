// Package tracker asks trackers for peers over HTTP(S) or UDP.
package tracker

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// Peer is one address from an announce response.
type Peer struct {
	IP   net.IP
	Port uint16
}

// Addr formats the peer for net.Dial.
func (p Peer) Addr() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// AnnounceParams carries what a tracker needs to know about us.
type AnnounceParams struct {
	InfoHash [20]byte
	PeerID   [20]byte
	Port     uint16
	Left     int64
}

// AnnounceResponse is a tracker's answer: how long to wait before the
// next announce, and who to talk to meanwhile.
type AnnounceResponse struct {
	Interval int64 // seconds
	Peers    []Peer
}

// Announce asks the tracker at rawURL for peers, dispatching on the
// URL scheme.
func Announce(ctx context.Context, rawURL string, params AnnounceParams) (*AnnounceResponse, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing tracker URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return announceHTTP(ctx, u, params)
	case "udp":
		return announceUDP(u.Host, params)
	default:
		return nil, fmt.Errorf("unsupported tracker scheme %q", u.Scheme)
	}
}

// ParsePeers splits the compact peer encoding: six bytes per peer, a
// 4-byte big-endian IPv4 address followed by a 2-byte big-endian port.
func ParsePeers(data []byte) ([]Peer, error) {
	if len(data)%6 != 0 {
		return nil, fmt.Errorf("compact peer data is %d bytes, not a multiple of 6", len(data))
	}
	peers := make([]Peer, len(data)/6)
	for i := range peers {
		chunk := data[i*6 : (i+1)*6]
		peers[i].IP = net.IP(chunk[0:4])
		peers[i].Port = binary.BigEndian.Uint16(chunk[4:6])
	}
	return peers, nil
}

// StructToBuffer packs a fixed-size struct big-endian. It panics on
// types binary.Write cannot size, which is a programming error, not a
// runtime condition.
func StructToBuffer(st any) []byte {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.BigEndian, st); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
