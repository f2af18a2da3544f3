package torrentp2p

// HasPiece reports whether the peer holds piece index. The wire layout
// is fixed: bit 7 of byte 0 is piece 0, so piece i lives at bit
// 7-(i%8) of byte i/8. Indices beyond the field read as not held.
func (b Bitfield) HasPiece(index int) bool {
	byteIndex := index / 8
	if index < 0 || byteIndex >= len(b) {
		return false
	}
	return b[byteIndex]>>uint(7-index%8)&1 != 0
}

// SetPiece marks piece index as held. Indices beyond the field are
// ignored.
func (b Bitfield) SetPiece(index int) {
	byteIndex := index / 8
	if index < 0 || byteIndex >= len(b) {
		return
	}
	b[byteIndex] |= 1 << uint(7-index%8)
}
