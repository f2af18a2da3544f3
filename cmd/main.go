package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/ovidal/minileech/bencode"
	"github.com/ovidal/minileech/torrentfile"
	"github.com/ovidal/minileech/torrentp2p"
	"github.com/ovidal/minileech/tracker"
)

const listenPort = 6881

func printHelp() {
	fmt.Printf(`minileech client V1.0
Usage:
	minileech decode <bencoded-string>
	minileech decodefile <file>
	minileech info <torrentfile>
	minileech peers <torrentfile>
	minileech handshake <torrentfile> <ip:port>
	minileech downloadpiece -o <output> [-peer <ip:port>] <torrentfile> <piece-index>
	minileech download -o <output> [-limit <bytes/s>] <torrentfile> [ip:port]
`)
}

func main() {
	log.SetFlags(0)

	if len(os.Args) < 2 {
		printHelp()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "decode":
		err = cmdDecode(os.Args[2:])
	case "decodefile":
		err = cmdDecodeFile(os.Args[2:])
	case "info":
		err = cmdInfo(os.Args[2:])
	case "peers":
		err = cmdPeers(os.Args[2:])
	case "handshake":
		err = cmdHandshake(os.Args[2:])
	case "downloadpiece":
		err = cmdDownloadPiece(os.Args[2:])
	case "download":
		err = cmdDownload(os.Args[2:])
	default:
		printHelp()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("Error: %s", err)
	}
}

func cmdDecode(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: decode <bencoded-string>")
	}
	value, _, err := bencode.Decode([]byte(args[0]))
	if err != nil {
		return err
	}
	out, err := json.Marshal(value)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func cmdDecodeFile(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: decodefile <file>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	for len(data) > 0 {
		value, rest, err := bencode.Decode(data)
		if err != nil {
			return err
		}
		fmt.Println(value)
		data = rest
	}
	return nil
}

func cmdInfo(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: info <torrentfile>")
	}
	t, err := torrentfile.TorrentFromFile(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Tracker URL: %s\n", t.Announce)
	fmt.Printf("Length: %d\n", t.Length)
	fmt.Printf("Info Hash: %x\n", t.InfoHash)
	fmt.Printf("Piece Length: %d\n", t.PieceLength)
	fmt.Println("Piece Hashes:")
	for _, h := range t.PieceHashes {
		fmt.Printf("%x\n", h)
	}
	return nil
}

func announce(t *torrentfile.Torrent) (*tracker.AnnounceResponse, error) {
	peerID, err := torrentp2p.GeneratePeerID()
	if err != nil {
		return nil, err
	}
	return tracker.Announce(context.Background(), t.Announce, tracker.AnnounceParams{
		InfoHash: t.InfoHash,
		PeerID:   peerID,
		Port:     listenPort,
		Left:     t.Length,
	})
}

func cmdPeers(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: peers <torrentfile>")
	}
	t, err := torrentfile.TorrentFromFile(args[0])
	if err != nil {
		return err
	}
	resp, err := announce(t)
	if err != nil {
		return err
	}
	for _, p := range resp.Peers {
		fmt.Println(p.Addr())
	}
	return nil
}

func cmdHandshake(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: handshake <torrentfile> <ip:port>")
	}
	t, err := torrentfile.TorrentFromFile(args[0])
	if err != nil {
		return err
	}
	peerID, err := torrentp2p.GeneratePeerID()
	if err != nil {
		return err
	}
	session, err := torrentp2p.Connect(args[1], t.InfoHash, peerID)
	if err != nil {
		return err
	}
	defer session.Close()

	remote := session.RemoteID()
	fmt.Printf("Peer ID: %x\n", remote)
	return nil
}

// firstPeer picks the peer to talk to: the explicit address when one
// was given, otherwise the tracker's first answer.
func firstPeer(t *torrentfile.Torrent, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	resp, err := announce(t)
	if err != nil {
		return "", err
	}
	if len(resp.Peers) == 0 {
		return "", errors.New("tracker returned no peers")
	}
	return resp.Peers[0].Addr(), nil
}

func cmdDownloadPiece(args []string) error {
	fs := flag.NewFlagSet("downloadpiece", flag.ExitOnError)
	out := fs.String("o", "", "output file for the piece")
	peer := fs.String("peer", "", "peer address, skipping the tracker")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if *out == "" || len(rest) != 2 {
		return errors.New("usage: downloadpiece -o <output> [-peer <ip:port>] <torrentfile> <piece-index>")
	}
	index, err := strconv.Atoi(rest[1])
	if err != nil {
		return fmt.Errorf("piece index: %w", err)
	}

	t, err := torrentfile.TorrentFromFile(rest[0])
	if err != nil {
		return err
	}
	if index < 0 || index >= t.NumPieces() {
		return fmt.Errorf("piece index %d out of range, torrent has %d pieces", index, t.NumPieces())
	}

	addr, err := firstPeer(t, *peer)
	if err != nil {
		return err
	}
	peerID, err := torrentp2p.GeneratePeerID()
	if err != nil {
		return err
	}
	session, err := torrentp2p.Connect(addr, t.InfoHash, peerID)
	if err != nil {
		return err
	}
	defer session.Close()

	piece, err := torrentp2p.DownloadPiece(session, t, index)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, piece, 0o644); err != nil {
		return err
	}
	log.Printf("Piece %d downloaded to %s", index, *out)
	return nil
}

func cmdDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	out := fs.String("o", "", "output file, defaults to the torrent's name")
	limit := fs.Int("limit", 0, "download rate limit in bytes per second, 0 for unlimited")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 && len(rest) != 2 {
		return errors.New("usage: download -o <output> [-limit <bytes/s>] <torrentfile> [ip:port]")
	}

	t, err := torrentfile.TorrentFromFile(rest[0])
	if err != nil {
		return err
	}
	path := *out
	if path == "" {
		path = t.Name
	}

	explicit := ""
	if len(rest) == 2 {
		explicit = rest[1]
	}
	addr, err := firstPeer(t, explicit)
	if err != nil {
		return err
	}

	downloader, err := torrentp2p.NewDownloader(t, path)
	if err != nil {
		return err
	}
	if *limit > 0 {
		downloader.SetRateLimit(*limit)
	}
	if err := downloader.Run(addr); err != nil {
		return err
	}
	log.Printf("Downloaded %s to %s", t.Name, path)
	return nil
}
