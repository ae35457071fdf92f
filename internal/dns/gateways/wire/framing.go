package wire

import "encoding/binary"

// FrameReassembler splits a TCP or TLS byte stream into DNS messages. Each
// message on the stream is preceded by a two-byte big-endian length.
//
// A FrameReassembler belongs to exactly one connection and is not safe for
// concurrent use.
type FrameReassembler struct {
	buf      []byte
	expected int // body length of the frame in progress, -1 while waiting for the prefix
}

// NewFrameReassembler returns an empty reassembler waiting for a length prefix.
func NewFrameReassembler() *FrameReassembler {
	return &FrameReassembler{expected: -1}
}

// Push appends chunk to the buffer and returns every frame it completes, in
// stream order, without their length prefixes. Returned frames do not alias
// the reassembler's buffer or chunk.
func (f *FrameReassembler) Push(chunk []byte) [][]byte {
	f.buf = append(f.buf, chunk...)

	var frames [][]byte
	for {
		if f.expected < 0 {
			if len(f.buf) < 2 {
				break
			}
			f.expected = int(binary.BigEndian.Uint16(f.buf))
			f.buf = f.buf[2:]
		}
		if len(f.buf) < f.expected {
			break
		}
		frame := make([]byte, f.expected)
		copy(frame, f.buf[:f.expected])
		frames = append(frames, frame)
		f.buf = f.buf[f.expected:]
		f.expected = -1
	}

	if len(f.buf) == 0 {
		// drop the consumed prefix of the backing array
		f.buf = nil
	}
	return frames
}

// Buffered returns the number of bytes held that belong to no complete frame.
func (f *FrameReassembler) Buffered() int {
	return len(f.buf)
}

// Expected returns the body length of the frame in progress, or -1 while the
// length prefix has not been read yet.
func (f *FrameReassembler) Expected() int {
	return f.expected
}

// Reset discards buffered bytes and waits for a new length prefix.
func (f *FrameReassembler) Reset() {
	f.buf = nil
	f.expected = -1
}

// MessageID reads the transaction id from the header of an unprefixed DNS
// message. ok is false when the message is too short to carry one.
func MessageID(msg []byte) (id uint16, ok bool) {
	if len(msg) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(msg), true
}
