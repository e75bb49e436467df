package protocol

// Framer reassembles packets from arbitrarily fragmented transport chunks.
//
// The framer owns its buffer and is not safe for concurrent use; a single
// reader goroutine writes chunks and pulls packets. Bytes leave the buffer
// only when a complete, checksum-valid frame is extracted or, unless Stall
// is set, when a leading byte is dropped to resynchronize on the next start
// marker.
type Framer struct {
	// Stall disables resynchronization. A corrupt leading byte then blocks
	// extraction until Reset is called.
	Stall bool

	buf     []byte
	dropped uint64
}

// NewFramer returns a framer with resynchronization enabled
func NewFramer() *Framer {
	return &Framer{buf: make([]byte, 0, 512)}
}

// Write appends a transport chunk to the stream buffer
func (f *Framer) Write(chunk []byte) (int, error) {
	f.buf = append(f.buf, chunk...)
	return len(chunk), nil
}

// Next extracts at most one packet from the front of the buffer.
// It returns false when no complete valid frame is available yet.
func (f *Framer) Next() (Packet, bool) {
	for {
		if !f.Stall {
			f.skipGarbage()
		}
		if !f.Stall && len(f.buf) >= 3 && !Code(f.buf[2]).Known() {
			// a stray start marker shifts the real frame by one byte
			f.consume(1)
			f.dropped++
			continue
		}
		if len(f.buf) < MinFrameLen {
			return Packet{}, false
		}
		if f.buf[0] != StartMarker || f.buf[1] != StartMarker {
			return Packet{}, false
		}

		total := MinFrameLen + int(f.buf[3])
		if len(f.buf) < total {
			// incomplete, wait for more data
			return Packet{}, false
		}
		if f.buf[total-2] == EndMarker && f.buf[total-1] == EndMarker {
			if p, ok := Decode(f.buf[:total]); ok {
				f.consume(total)
				return p, true
			}
		}
		if f.Stall {
			return Packet{}, false
		}
		f.consume(1)
		f.dropped++
	}
}

// Feed writes chunk and returns every packet that became complete
func (f *Framer) Feed(chunk []byte) []Packet {
	f.Write(chunk)
	var out []Packet
	for {
		p, ok := f.Next()
		if !ok {
			return out
		}
		out = append(out, p)
	}
}

// Buffered returns the number of bytes waiting in the stream buffer
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Dropped returns the number of bytes discarded while resynchronizing
func (f *Framer) Dropped() uint64 {
	return f.dropped
}

// Reset discards all buffered bytes
func (f *Framer) Reset() {
	f.dropped += uint64(len(f.buf))
	f.buf = f.buf[:0]
}

// skipGarbage drops leading bytes that cannot start a frame
func (f *Framer) skipGarbage() {
	for len(f.buf) > 0 {
		if f.buf[0] != StartMarker || (len(f.buf) > 1 && f.buf[1] != StartMarker) {
			f.consume(1)
			f.dropped++
			continue
		}
		return
	}
}

func (f *Framer) consume(n int) {
	f.buf = append(f.buf[:0], f.buf[n:]...)
}
