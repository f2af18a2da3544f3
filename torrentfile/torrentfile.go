// Package torrentfile parses .torrent descriptors into a validated form.
//
// A descriptor is parsed twice over the same bytes: once with the
// package's own span-preserving decoder, which supplies the info hash,
// and once with the tag-driven unmarshaller, which fills the typed
// fields. The info hash must be the digest of the info dictionary's
// exact source bytes; hashing a re-encoding silently yields a different
// hash whenever the source key order differs from canonical.
package torrentfile

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"os"

	bencodego "github.com/jackpal/bencode-go"

	"github.com/ovidal/minileech/bencode"
)

func pieceHashes(pieces []byte) ([][20]byte, error) {
	if len(pieces)%20 != 0 {
		return nil, fmt.Errorf("pieces buffer is %d bytes, not a multiple of 20", len(pieces))
	}
	hashes := make([][20]byte, len(pieces)/20)
	for i := range hashes {
		copy(hashes[i][:], pieces[i*20:(i+1)*20])
	}
	return hashes, nil
}

func infoHash(root bencode.Value) ([20]byte, error) {
	info, err := root.At("info")
	if err != nil {
		return [20]byte{}, fmt.Errorf("descriptor has no info dictionary: %w", err)
	}
	return sha1.Sum(info.Raw()), nil
}

// TorrentFromBytes parses a bencoded descriptor held in memory.
func TorrentFromBytes(data []byte) (*Torrent, error) {
	root, _, err := bencode.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("parsing descriptor: %w", err)
	}
	hash, err := infoHash(root)
	if err != nil {
		return nil, err
	}

	var tf torrentFile
	if err := bencodego.Unmarshal(bytes.NewReader(data), &tf); err != nil {
		return nil, fmt.Errorf("parsing descriptor fields: %w", err)
	}
	if tf.Announce == "" {
		return nil, errors.New("descriptor has no announce URL")
	}
	if tf.Info.Length <= 0 {
		return nil, errors.New("descriptor has no positive length")
	}
	if tf.Info.PieceLength <= 0 {
		return nil, errors.New("descriptor has no positive piece length")
	}
	hashes, err := pieceHashes([]byte(tf.Info.Pieces))
	if err != nil {
		return nil, err
	}

	return &Torrent{
		Announce:    tf.Announce,
		InfoHash:    hash,
		PieceHashes: hashes,
		PieceLength: tf.Info.PieceLength,
		Length:      tf.Info.Length,
		Name:        tf.Info.Name,
	}, nil
}

// TorrentFromFile creates a Torrent entity from a .torrent file.
func TorrentFromFile(fileName string) (*Torrent, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, err
	}
	return TorrentFromBytes(data)
}
