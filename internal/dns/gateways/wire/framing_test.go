package wire

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func framed(t *testing.T, bodies ...[]byte) []byte {
	t.Helper()
	var out []byte
	for _, b := range bodies {
		f, err := Frame(b)
		require.NoError(t, err)
		out = append(out, f...)
	}
	return out
}

func TestFrameReassembler_SingleFrame(t *testing.T) {
	r := NewFrameReassembler()
	frames := r.Push(framed(t, []byte("hello")))

	require.Len(t, frames, 1)
	assert.Equal(t, []byte("hello"), frames[0])
	assert.Equal(t, 0, r.Buffered())
	assert.Equal(t, -1, r.Expected())
}

func TestFrameReassembler_SplitPrefix(t *testing.T) {
	stream := framed(t, []byte("abcde"))
	r := NewFrameReassembler()

	// the same chunking the mock server uses for chunky.example
	assert.Empty(t, r.Push(stream[0:1]))
	assert.Equal(t, -1, r.Expected())
	assert.Equal(t, 1, r.Buffered())

	assert.Empty(t, r.Push(stream[1:2]))
	assert.Equal(t, 5, r.Expected())

	assert.Empty(t, r.Push(stream[2:4]))
	assert.Equal(t, 2, r.Buffered())

	frames := r.Push(stream[4:])
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("abcde"), frames[0])
}

func TestFrameReassembler_MultipleFramesOneChunk(t *testing.T) {
	r := NewFrameReassembler()
	stream := framed(t, []byte("one"), []byte("two"), []byte{}, []byte("four"))
	// trailing partial frame
	stream = append(stream, 0x00, 0x09, 'p')

	frames := r.Push(stream)
	require.Len(t, frames, 4)
	assert.Equal(t, []byte("one"), frames[0])
	assert.Equal(t, []byte("two"), frames[1])
	assert.Empty(t, frames[2])
	assert.Equal(t, []byte("four"), frames[3])
	assert.Equal(t, 9, r.Expected())
	assert.Equal(t, 1, r.Buffered())
}

func TestFrameReassembler_FramesDoNotAlias(t *testing.T) {
	r := NewFrameReassembler()
	chunk := framed(t, []byte("abc"))
	frames := r.Push(chunk)
	require.Len(t, frames, 1)

	chunk[2] = 'X'
	assert.Equal(t, []byte("abc"), frames[0])
}

func TestFrameReassembler_AnyChunking(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var bodies [][]byte
	for i := 0; i < 50; i++ {
		b := make([]byte, rng.Intn(600))
		rng.Read(b)
		bodies = append(bodies, b)
	}
	stream := framed(t, bodies...)

	for trial := 0; trial < 20; trial++ {
		r := NewFrameReassembler()
		var got [][]byte
		for pos := 0; pos < len(stream); {
			n := 1 + rng.Intn(700)
			if pos+n > len(stream) {
				n = len(stream) - pos
			}
			got = append(got, r.Push(stream[pos:pos+n])...)
			pos += n
		}
		require.Len(t, got, len(bodies))
		for i := range bodies {
			assert.True(t, bytes.Equal(bodies[i], got[i]), "trial %d frame %d differs", trial, i)
		}
		assert.Equal(t, 0, r.Buffered())
		assert.Equal(t, -1, r.Expected())
	}
}

func TestFrameReassembler_Reset(t *testing.T) {
	r := NewFrameReassembler()
	r.Push([]byte{0x00, 0x10, 1, 2, 3})
	require.Equal(t, 16, r.Expected())

	r.Reset()
	assert.Equal(t, -1, r.Expected())
	assert.Equal(t, 0, r.Buffered())

	frames := r.Push(framed(t, []byte("ok")))
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("ok"), frames[0])
}

func TestMessageID(t *testing.T) {
	id, ok := MessageID([]byte{0xbe, 0xef, 0x01})
	assert.True(t, ok)
	assert.Equal(t, uint16(0xbeef), id)

	_, ok = MessageID([]byte{0x01})
	assert.False(t, ok)
}
