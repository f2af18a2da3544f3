package torrentp2p

import (
	"bytes"
	"context"
	"crypto/sha1"
	"fmt"
	"log"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/ovidal/minileech/torrentfile"
)

// BlockSize is the request granularity: 16 KiB, the size peers
// conventionally serve. The final block of a piece is shorter when the
// piece is not an exact multiple.
const BlockSize = 16384

// BlockRequests splits piece index of t into BlockSize requests, each
// with a fresh completion slot.
func BlockRequests(t *torrentfile.Torrent, index int) []BlockRequest {
	pieceLen := t.PieceSize(index)
	reqs := make([]BlockRequest, 0, (pieceLen+BlockSize-1)/BlockSize)
	for begin := int64(0); begin < pieceLen; begin += BlockSize {
		length := int64(BlockSize)
		if begin+length > pieceLen {
			length = pieceLen - begin
		}
		reqs = append(reqs, NewBlockRequest(uint32(index), uint32(begin), uint32(length)))
	}
	return reqs
}

// DownloadPiece fetches piece index over an established session,
// assembles its blocks and verifies the result against the descriptor
// hash. A choke before completion is an error here; the caller decides
// whether another attempt is worth it.
func DownloadPiece(s *Session, t *torrentfile.Torrent, index int) ([]byte, error) {
	reqs := BlockRequests(t, index)
	choked, err := s.RequestBlocks(reqs)
	if err != nil {
		return nil, err
	}
	if choked {
		return nil, fmt.Errorf("peer choked while serving piece %d", index)
	}

	buf := make([]byte, t.PieceSize(index))
	for _, r := range reqs {
		dp := <-r.Out
		if dp == nil {
			return nil, fmt.Errorf("block %d of piece %d never arrived", r.Req.Begin, index)
		}
		copy(buf[dp.Begin:], dp.Block)
	}

	sum := sha1.Sum(buf)
	if !bytes.Equal(sum[:], t.PieceHashes[index][:]) {
		return nil, fmt.Errorf("piece %d failed its hash check", index)
	}
	return buf, nil
}

// Downloader fetches every piece of a torrent from one peer, in index
// order, writing each verified piece at its final offset.
type Downloader struct {
	torrent   *torrentfile.Torrent
	writer    *fileWriter
	completed *roaring.Bitmap
	limiter   *rate.Limiter
}

// NewDownloader creates the output file at path, sized for the whole
// payload. The downloader starts unthrottled.
func NewDownloader(t *torrentfile.Torrent, path string) (*Downloader, error) {
	w, err := newFileWriter(path, t.Length)
	if err != nil {
		return nil, err
	}
	return &Downloader{
		torrent:   t,
		writer:    w,
		completed: roaring.New(),
		limiter:   rate.NewLimiter(rate.Inf, 0),
	}, nil
}

// SetRateLimit caps throughput at bytesPerSecond; zero or negative
// lifts the cap. The burst covers a whole piece since the limiter is
// charged once per completed piece.
func (d *Downloader) SetRateLimit(bytesPerSecond int) {
	if bytesPerSecond <= 0 {
		d.limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	burst := int(d.torrent.PieceLength)
	if burst < BlockSize {
		burst = BlockSize
	}
	d.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

// Completed reports how many pieces have been verified and written.
func (d *Downloader) Completed() int {
	return int(d.completed.GetCardinality())
}

// Run connects to the peer at addr and downloads every piece. The
// output file is closed either way; on error it holds whatever pieces
// made it.
func (d *Downloader) Run(addr string) error {
	defer d.writer.closeFile()

	peerID, err := GeneratePeerID()
	if err != nil {
		return err
	}
	session, err := Connect(addr, d.torrent.InfoHash, peerID)
	if err != nil {
		return err
	}
	defer session.Close()

	var done int64
	for index := 0; index < d.torrent.NumPieces(); index++ {
		if !session.Bitfield().HasPiece(index) {
			return fmt.Errorf("peer does not have piece %d", index)
		}
		piece, err := DownloadPiece(session, d.torrent, index)
		if err != nil {
			return err
		}
		if err := d.limiter.WaitN(context.Background(), len(piece)); err != nil {
			return err
		}
		if err := d.writer.writeData(piece, int64(index)*d.torrent.PieceLength); err != nil {
			return err
		}
		d.completed.Add(uint32(index))
		done += int64(len(piece))
		log.Printf("piece %d/%d done - %s of %s",
			index+1, d.torrent.NumPieces(),
			humanize.Bytes(uint64(done)), humanize.Bytes(uint64(d.torrent.Length)))
	}
	return nil
}
