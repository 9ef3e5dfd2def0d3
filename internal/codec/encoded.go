package codec

import (
	"encoding/binary"
	"math"
	"sync"
)

// HeaderSize is the length of the region offset header.
const HeaderSize = 12

// EncodedData accumulates typed values into four segregated regions.
// Values of each width go to the region of that width; strings store their
// length in the u32 region and their bytes in the string region.
type EncodedData struct {
	u32 []uint32
	u16 []uint16
	u8  []uint8
	str []byte

	ops int
}

// NewEncoder returns an empty accumulator.
func NewEncoder() *EncodedData {
	return &EncodedData{}
}

var encoderPool = sync.Pool{
	New: func() any { return NewEncoder() },
}

// AcquireEncoder takes an empty accumulator from the pool.
func AcquireEncoder() *EncodedData {
	return encoderPool.Get().(*EncodedData)
}

// ReleaseEncoder resets e and returns it to the pool. e must not be used afterwards.
func ReleaseEncoder(e *EncodedData) {
	if e == nil {
		return
	}
	e.Reset()
	encoderPool.Put(e)
}

func (e *EncodedData) PushU8(v uint8) {
	e.u8 = append(e.u8, v)
}

func (e *EncodedData) PushU16(v uint16) {
	e.u16 = append(e.u16, v)
}

func (e *EncodedData) PushU32(v uint32) {
	e.u32 = append(e.u32, v)
}

// PushU64 writes v as two u32 words, low word first.
func (e *EncodedData) PushU64(v uint64) {
	e.u32 = append(e.u32, uint32(v), uint32(v>>32))
}

func (e *EncodedData) PushBool(v bool) {
	if v {
		e.PushU8(1)
		return
	}
	e.PushU8(0)
}

func (e *EncodedData) PushF32(v float32) {
	e.PushU32(math.Float32bits(v))
}

func (e *EncodedData) PushF64(v float64) {
	e.PushU64(math.Float64bits(v))
}

// PushStr writes the length to the u32 region and the bytes to the string region.
func (e *EncodedData) PushStr(s string) {
	e.PushU32(uint32(len(s)))
	e.str = append(e.str, s...)
}

// MarkOp records that one complete operation has been encoded.
func (e *EncodedData) MarkOp() {
	e.ops++
}

// Ops returns the number of operations recorded with MarkOp.
func (e *EncodedData) Ops() int {
	return e.ops
}

// IsEmpty reports whether nothing has been written.
func (e *EncodedData) IsEmpty() bool {
	return len(e.u32) == 0 && len(e.u16) == 0 && len(e.u8) == 0 && len(e.str) == 0
}

// Append copies every region of other after the matching region of e.
func (e *EncodedData) Append(other *EncodedData) {
	e.u32 = append(e.u32, other.u32...)
	e.u16 = append(e.u16, other.u16...)
	e.u8 = append(e.u8, other.u8...)
	e.str = append(e.str, other.str...)
	e.ops += other.ops
}

// Reset clears all regions, keeping capacity.
func (e *EncodedData) Reset() {
	e.u32 = e.u32[:0]
	e.u16 = e.u16[:0]
	e.u8 = e.u8[:0]
	e.str = e.str[:0]
	e.ops = 0
}

// Len returns the size of the buffer Bytes would produce.
func (e *EncodedData) Len() int {
	return HeaderSize + 4*len(e.u32) + 2*len(e.u16) + len(e.u8) + len(e.str)
}

// Bytes serializes the header and the four regions into a new buffer.
// The header holds three little-endian absolute offsets: end of the u32
// region, end of the u16 region and end of the u8 region.
func (e *EncodedData) Bytes() []byte {
	end32 := HeaderSize + 4*len(e.u32)
	end16 := end32 + 2*len(e.u16)
	end8 := end16 + len(e.u8)

	buf := make([]byte, end8+len(e.str))
	binary.LittleEndian.PutUint32(buf[0:], uint32(end32))
	binary.LittleEndian.PutUint32(buf[4:], uint32(end16))
	binary.LittleEndian.PutUint32(buf[8:], uint32(end8))

	off := HeaderSize
	for _, w := range e.u32 {
		binary.LittleEndian.PutUint32(buf[off:], w)
		off += 4
	}
	for _, w := range e.u16 {
		binary.LittleEndian.PutUint16(buf[off:], w)
		off += 2
	}
	off += copy(buf[off:], e.u8)
	copy(buf[off:], e.str)

	return buf
}
