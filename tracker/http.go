package tracker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ovidal/minileech/bencode"
)

const httpTimeout = 15 * time.Second

// announceHTTP runs the HTTP(S) tracker exchange: a GET carrying the
// standard query parameters, answered with a bencoded dict.
func announceHTTP(ctx context.Context, u *url.URL, p AnnounceParams) (*AnnounceResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("info_hash", string(p.InfoHash[:]))
	q.Set("peer_id", string(p.PeerID[:]))
	q.Set("port", strconv.Itoa(int(p.Port)))
	q.Set("uploaded", "0")
	q.Set("downloaded", "0")
	q.Set("left", strconv.FormatInt(p.Left, 10))
	q.Set("compact", "1")

	announceURL := *u
	announceURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, announceURL.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tracker answered %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseAnnounceResponse(body)
}

func parseAnnounceResponse(body []byte) (*AnnounceResponse, error) {
	root, _, err := bencode.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("parsing tracker response: %w", err)
	}
	if failure, err := root.At("failure reason"); err == nil {
		return nil, fmt.Errorf("tracker refused: %s", failure.Str())
	}

	peersVal, err := root.At("peers")
	if err != nil {
		return nil, fmt.Errorf("tracker response has no peers: %w", err)
	}
	peers, err := ParsePeers(peersVal.Bytes())
	if err != nil {
		return nil, err
	}

	out := &AnnounceResponse{Peers: peers}
	if interval, err := root.At("interval"); err == nil {
		out.Interval = interval.Int64()
	}
	return out, nil
}
