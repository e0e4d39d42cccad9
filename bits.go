package morph

import (
	"errors"
	"math"
	"math/bits"
	"unicode/utf8"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BIT-LEVEL CODING
// ═══════════════════════════════════════════════════════════════════════════════
// The binary lexicon is written one bit at a time, most significant bit first.
// Integers are Elias-gamma coded so that the small numbers that dominate a
// lexicon (counts, index differences, penalty levels) take only a few bits:
//
//	n   n+1   gamma(n+1)
//	0   1     1
//	1   10    010
//	2   11    011
//	5   110   00110
//
// gamma(x) writes floor(log2 x) zero bits followed by x itself in binary.
// Zero is not gamma-codable, so every integer is shifted by one on the way in.
//
// ARRAYS:
// -------
//
//	[gamma count][sorted flag bit][values...]
//
// When the values are ascending (the usual case for handle arrays) the flag is
// set and each value after the first is stored as the difference from its
// predecessor.
//
// STRINGS:
// --------
//
//	[gamma byte length][UTF-8 bytes, 8 bits each]
//
// Records start and end on byte boundaries so that a record's disk offset is a
// plain byte offset.
// ═══════════════════════════════════════════════════════════════════════════════

// ErrShortBuffer is returned when a decoder runs past the end of its input.
var ErrShortBuffer = errors.New("bit buffer exhausted")

// bitWriter accumulates bits into a byte slice.
type bitWriter struct {
	buf   []byte
	nbits uint // bits used in the last byte, 0 means byte-aligned
}

func newBitWriter(capacity int) *bitWriter {
	return &bitWriter{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded bytes. The last byte is zero-padded.
func (w *bitWriter) Bytes() []byte { return w.buf }

// Len returns the encoded length in bytes, counting a partial final byte.
func (w *bitWriter) Len() int { return len(w.buf) }

func (w *bitWriter) writeBit(b bool) {
	if w.nbits == 0 {
		w.buf = append(w.buf, 0)
	}
	if b {
		w.buf[len(w.buf)-1] |= 0x80 >> w.nbits
	}
	w.nbits = (w.nbits + 1) & 7
}

// writeBits writes the low n bits of v, most significant first.
func (w *bitWriter) writeBits(v uint64, n uint) {
	for i := n; i > 0; i-- {
		w.writeBit(v>>(i-1)&1 == 1)
	}
}

// writeGamma writes n >= 0 as gamma(n+1).
func (w *bitWriter) writeGamma(n uint64) {
	x := n + 1
	width := uint(bits.Len64(x))
	w.writeBits(0, width-1)
	w.writeBits(x, width)
}

func (w *bitWriter) writeInt(n int) { w.writeGamma(uint64(n)) }

func (w *bitWriter) writeFloat(f float64) { w.writeBits(math.Float64bits(f), 64) }

func (w *bitWriter) writeString(s string) {
	w.writeGamma(uint64(len(s)))
	for i := 0; i < len(s); i++ {
		w.writeBits(uint64(s[i]), 8)
	}
}

// writeArray writes vals with difference coding when they are ascending.
func (w *bitWriter) writeArray(vals []uint32) {
	w.writeInt(len(vals))
	if len(vals) == 0 {
		return
	}
	sorted := true
	for i := 1; i < len(vals); i++ {
		if vals[i] < vals[i-1] {
			sorted = false
			break
		}
	}
	w.writeBit(sorted)
	var prev uint32
	for i, v := range vals {
		if sorted && i > 0 {
			w.writeGamma(uint64(v - prev))
		} else {
			w.writeGamma(uint64(v))
		}
		prev = v
	}
}

// align pads the current byte with zero bits.
func (w *bitWriter) align() { w.nbits = 0 }

// bitReader decodes what bitWriter produced.
type bitReader struct {
	buf []byte
	pos uint // absolute bit position
}

func newBitReader(buf []byte) *bitReader { return &bitReader{buf: buf} }

func (r *bitReader) readBit() (bool, error) {
	byteIdx := r.pos >> 3
	if int(byteIdx) >= len(r.buf) {
		return false, ErrShortBuffer
	}
	b := r.buf[byteIdx]&(0x80>>(r.pos&7)) != 0
	r.pos++
	return b, nil
}

func (r *bitReader) readBits(n uint) (uint64, error) {
	var v uint64
	for i := uint(0); i < n; i++ {
		b, err := r.readBit()
		if err != nil {
			return 0, err
		}
		v <<= 1
		if b {
			v |= 1
		}
	}
	return v, nil
}

func (r *bitReader) readGamma() (uint64, error) {
	var zeros uint
	for {
		b, err := r.readBit()
		if err != nil {
			return 0, err
		}
		if b {
			break
		}
		zeros++
		if zeros > 63 {
			return 0, ErrCorruptRecord
		}
	}
	rest, err := r.readBits(zeros)
	if err != nil {
		return 0, err
	}
	return (1<<zeros | rest) - 1, nil
}

func (r *bitReader) readInt() (int, error) {
	n, err := r.readGamma()
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt32 {
		return 0, ErrCorruptRecord
	}
	return int(n), nil
}

func (r *bitReader) readFloat() (float64, error) {
	v, err := r.readBits(64)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (r *bitReader) readString() (string, error) {
	n, err := r.readInt()
	if err != nil {
		return "", err
	}
	if uint(n)*8 > uint(len(r.buf))*8-r.pos {
		return "", ErrShortBuffer
	}
	b := make([]byte, n)
	for i := range b {
		v, err := r.readBits(8)
		if err != nil {
			return "", err
		}
		b[i] = byte(v)
	}
	if !utf8.Valid(b) {
		return "", ErrCorruptRecord
	}
	return string(b), nil
}

func (r *bitReader) readArray() ([]uint32, error) {
	n, err := r.readInt()
	if err != nil || n == 0 {
		return nil, err
	}
	if uint(n) > uint(len(r.buf))*8-r.pos {
		return nil, ErrShortBuffer
	}
	sorted, err := r.readBit()
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	var prev uint64
	for i := range out {
		v, err := r.readGamma()
		if err != nil {
			return nil, err
		}
		if sorted && i > 0 {
			v += prev
		}
		if v > math.MaxUint32 {
			return nil, ErrCorruptRecord
		}
		out[i] = uint32(v)
		prev = v
	}
	return out, nil
}

// align skips to the next byte boundary.
func (r *bitReader) align() { r.pos = (r.pos + 7) &^ 7 }

// bytePos returns the byte offset of the read position (after align).
func (r *bitReader) bytePos() int { return int((r.pos + 7) >> 3) }
