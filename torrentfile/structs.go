package torrentfile

// Wire shape of a single-file .torrent descriptor, consumed by the
// tag-driven bencode unmarshaller.
type torrentFileInfo struct {
	Pieces      string `bencode:"pieces"`
	PieceLength int64  `bencode:"piece length"`
	Length      int64  `bencode:"length"`
	Name        string `bencode:"name"`
}

type torrentFile struct {
	Announce string          `bencode:"announce"`
	Info     torrentFileInfo `bencode:"info"`
}

// Torrent represents a validated torrent descriptor.
type Torrent struct {
	Announce    string
	InfoHash    [20]byte
	PieceHashes [][20]byte
	PieceLength int64
	Length      int64
	Name        string
}

// NumPieces returns how many pieces the payload is split into.
func (t *Torrent) NumPieces() int { return len(t.PieceHashes) }

// PieceSize returns the byte length of piece index. Every piece is
// PieceLength bytes except the last, which holds the remainder of the
// payload when Length is not an exact multiple.
func (t *Torrent) PieceSize(index int) int64 {
	if index == t.NumPieces()-1 {
		if rem := t.Length % t.PieceLength; rem != 0 {
			return rem
		}
	}
	return t.PieceLength
}
