package torrentfile

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testAnnounce = "http://tracker.example.com:8080/announce"

func descriptorBytes(t *testing.T, length, pieceLength int64, pieces []byte) []byte {
	t.Helper()
	info := fmt.Sprintf("d6:lengthi%de4:name8:test.iso12:piece lengthi%de6:pieces%d:%s",
		length, pieceLength, len(pieces), pieces)
	return []byte(fmt.Sprintf("d8:announce%d:%s4:info%see", len(testAnnounce), testAnnounce, info))
}

func testPieces(n int) []byte {
	pieces := make([]byte, n*20)
	for i := range pieces {
		pieces[i] = byte(i)
	}
	return pieces
}

func TestTorrentFromBytes(t *testing.T) {
	data := descriptorBytes(t, 1000, 400, testPieces(3))
	tor, err := TorrentFromBytes(data)
	require.NoError(t, err)

	require.Equal(t, testAnnounce, tor.Announce)
	require.EqualValues(t, 1000, tor.Length)
	require.EqualValues(t, 400, tor.PieceLength)
	require.Equal(t, "test.iso", tor.Name)
	require.Equal(t, 3, tor.NumPieces())
	require.Equal(t, testPieces(3)[:20], tor.PieceHashes[0][:])

	// The info hash digests the descriptor's exact info bytes.
	start := bytes.Index(data, []byte("4:info")) + len("4:info")
	want := sha1.Sum(data[start : len(data)-1])
	require.Equal(t, want, tor.InfoHash)
}

func TestTorrentFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.torrent")
	require.NoError(t, os.WriteFile(path, descriptorBytes(t, 800, 400, testPieces(2)), 0o644))

	tor, err := TorrentFromFile(path)
	require.NoError(t, err)
	require.EqualValues(t, 800, tor.Length)
	require.Equal(t, 2, tor.NumPieces())

	_, err = TorrentFromFile(filepath.Join(t.TempDir(), "missing.torrent"))
	require.Error(t, err)
}

func TestPieceSize(t *testing.T) {
	tor, err := TorrentFromBytes(descriptorBytes(t, 1000, 400, testPieces(3)))
	require.NoError(t, err)
	require.EqualValues(t, 400, tor.PieceSize(0))
	require.EqualValues(t, 400, tor.PieceSize(1))
	require.EqualValues(t, 200, tor.PieceSize(2))

	exact, err := TorrentFromBytes(descriptorBytes(t, 800, 400, testPieces(2)))
	require.NoError(t, err)
	require.EqualValues(t, 400, exact.PieceSize(0))
	require.EqualValues(t, 400, exact.PieceSize(1))
}

func TestTorrentFromBytesErrors(t *testing.T) {
	_, err := TorrentFromBytes([]byte("not bencode"))
	require.Error(t, err)

	// Valid bencode but no info dictionary.
	_, err = TorrentFromBytes([]byte("d8:announce3:urle"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "info")

	// Pieces buffer not divisible into 20-byte hashes.
	_, err = TorrentFromBytes(descriptorBytes(t, 1000, 400, []byte("short")))
	require.Error(t, err)

	// Missing announce.
	_, err = TorrentFromBytes([]byte("d4:infod6:lengthi10e4:name1:n12:piece lengthi5e6:pieces0:ee"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "announce")
}
