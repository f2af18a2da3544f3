package torrentp2p

import (
	"fmt"
	"log"
)

// DataPiece is one delivered block: Block holds the bytes that piece
// Index carries at offset Begin.
type DataPiece struct {
	Index uint32
	Begin uint32
	Block []byte
}

// BlockRequest pairs a Request with its completion slot. The slot
// receives exactly one value per RequestBlocks call: the block, or nil
// when the call ended before the block arrived. The channel needs
// capacity for that one value so an abandoned receiver never blocks
// delivery; NewBlockRequest builds a conforming one.
type BlockRequest struct {
	Req Request
	Out chan *DataPiece
}

// NewBlockRequest builds a request for Length bytes at offset begin of
// piece index, with a buffered completion slot.
func NewBlockRequest(index, begin, length uint32) BlockRequest {
	return BlockRequest{
		Req: Request{Index: index, Begin: begin, Length: length},
		Out: make(chan *DataPiece, 1),
	}
}

type blockKey struct {
	index uint32
	begin uint32
}

// RequestBlocks sends one Request frame per entry while concurrently
// reading replies, matching each Piece to its slot by (index, begin).
// It returns (true, nil) when the peer chokes before every block
// arrived and (false, nil) when all blocks landed. Replies for keys
// nothing is waiting on are logged and dropped. Any other message, and
// any read or write failure, ends the call with an error.
//
// Whatever the exit path, every slot receives exactly one value; slots
// whose block never arrived receive nil. At most one RequestBlocks call
// may run per session at a time.
func (s *Session) RequestBlocks(reqs []BlockRequest) (choked bool, err error) {
	outstanding := make(map[blockKey]chan *DataPiece, len(reqs))
	for _, r := range reqs {
		key := blockKey{r.Req.Index, r.Req.Begin}
		if prev, dup := outstanding[key]; dup && prev != r.Out {
			// Same key twice: the last registration wins, the
			// displaced slot resolves as not delivered.
			s.deliver(prev, nil)
		}
		outstanding[key] = r.Out
	}
	defer func() {
		for _, out := range outstanding {
			s.deliver(out, nil)
		}
	}()

	// The writer runs beside the reads so a peer that answers the
	// first requests before the last ones go out cannot stall the
	// connection. stop cuts it short when the call exits early.
	stop := make(chan struct{})
	defer close(stop)
	writeDone := make(chan error, 1)
	go func() {
		for _, r := range reqs {
			select {
			case <-stop:
				return
			default:
			}
			if err := s.writeMessage(r.Req); err != nil {
				writeDone <- err
				return
			}
		}
		writeDone <- nil
	}()

	writing := true
	for writing || len(outstanding) > 0 {
		select {
		case werr := <-writeDone:
			writing = false
			if werr != nil {
				return false, fmt.Errorf("sending requests: %w", werr)
			}
		case msg, ok := <-s.inbound:
			if !ok {
				return false, fmt.Errorf("session lost: %w", s.readErr)
			}
			switch m := msg.(type) {
			case Piece:
				key := blockKey{m.Index, m.Begin}
				out, waiting := outstanding[key]
				if !waiting {
					log.Printf("(%s) dropping block %d+%d nobody asked for", s.id, m.Index, m.Begin)
					continue
				}
				delete(outstanding, key)
				s.deliver(out, &DataPiece{Index: m.Index, Begin: m.Begin, Block: m.Block})
			case Choke:
				log.Printf("(%s) choked with %d blocks pending", s.id, len(outstanding))
				s.choked = true
				return true, nil
			case Unchoke:
				// Repeats are harmless; nothing resumes here.
				log.Printf("(%s) spurious unchoke", s.id)
				s.choked = false
			default:
				return false, protocolErrorf("got %v while awaiting blocks", msg.tag())
			}
		}
	}
	return false, nil
}

// deliver resolves one completion slot. Slots made by NewBlockRequest
// always have room, so a skipped send means the caller handed over a
// foreign channel that is full or unbuffered; the block is dropped
// rather than block the session forever.
func (s *Session) deliver(out chan *DataPiece, dp *DataPiece) {
	select {
	case out <- dp:
	default:
		log.Printf("(%s) completion slot refused a value", s.id)
	}
}
