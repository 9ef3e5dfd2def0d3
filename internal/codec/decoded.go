package codec

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// DecodedData is a read cursor over a buffer produced by EncodedData.Bytes.
// Each region has its own cursor; values must be taken in the order they were pushed.
type DecodedData struct {
	u32 []byte
	u16 []byte
	u8  []byte
	str []byte
}

// NewDecodedData validates the header of b and splits it into regions.
// The returned cursor aliases b.
func NewDecodedData(b []byte) (*DecodedData, error) {
	if len(b) < HeaderSize {
		return nil, &DecodeError{Op: "header", Err: ErrTruncated}
	}

	end32 := int(binary.LittleEndian.Uint32(b[0:]))
	end16 := int(binary.LittleEndian.Uint32(b[4:]))
	end8 := int(binary.LittleEndian.Uint32(b[8:]))

	if end32 < HeaderSize || end16 < end32 || end8 < end16 || end8 > len(b) {
		return nil, &DecodeError{Op: "header", Err: ErrBadOffsets}
	}
	if (end32-HeaderSize)%4 != 0 || (end16-end32)%2 != 0 {
		return nil, &DecodeError{Op: "header", Err: ErrBadOffsets}
	}

	return &DecodedData{
		u32: b[HeaderSize:end32],
		u16: b[end32:end16],
		u8:  b[end16:end8],
		str: b[end8:],
	}, nil
}

func (d *DecodedData) TakeU8() (uint8, error) {
	if len(d.u8) < 1 {
		return 0, &DecodeError{Op: "u8", Region: "u8", Err: ErrRegionExhausted}
	}
	v := d.u8[0]
	d.u8 = d.u8[1:]
	return v, nil
}

func (d *DecodedData) TakeU16() (uint16, error) {
	if len(d.u16) < 2 {
		return 0, &DecodeError{Op: "u16", Region: "u16", Err: ErrRegionExhausted}
	}
	v := binary.LittleEndian.Uint16(d.u16)
	d.u16 = d.u16[2:]
	return v, nil
}

func (d *DecodedData) TakeU32() (uint32, error) {
	if len(d.u32) < 4 {
		return 0, &DecodeError{Op: "u32", Region: "u32", Err: ErrRegionExhausted}
	}
	v := binary.LittleEndian.Uint32(d.u32)
	d.u32 = d.u32[4:]
	return v, nil
}

// TakeU64 reads two u32 words, low word first.
func (d *DecodedData) TakeU64() (uint64, error) {
	if len(d.u32) < 8 {
		return 0, &DecodeError{Op: "u64", Region: "u32", Err: ErrRegionExhausted}
	}
	lo := binary.LittleEndian.Uint32(d.u32)
	hi := binary.LittleEndian.Uint32(d.u32[4:])
	d.u32 = d.u32[8:]
	return uint64(lo) | uint64(hi)<<32, nil
}

func (d *DecodedData) TakeBool() (bool, error) {
	v, err := d.TakeU8()
	return v != 0, err
}

func (d *DecodedData) TakeF32() (float32, error) {
	v, err := d.TakeU32()
	return math.Float32frombits(v), err
}

func (d *DecodedData) TakeF64() (float64, error) {
	v, err := d.TakeU64()
	return math.Float64frombits(v), err
}

// TakeStr reads a length from the u32 region and that many bytes from the string region.
func (d *DecodedData) TakeStr() (string, error) {
	n, err := d.TakeU32()
	if err != nil {
		return "", &DecodeError{Op: "string length", Region: "u32", Err: ErrRegionExhausted}
	}
	if uint64(n) > uint64(len(d.str)) {
		return "", &DecodeError{Op: "string", Region: "string", Err: ErrRegionExhausted}
	}
	raw := d.str[:n]
	d.str = d.str[n:]
	if !utf8.Valid(raw) {
		return "", &DecodeError{Op: "string", Region: "string", Err: ErrInvalidUTF8}
	}
	return string(raw), nil
}

// U32Remaining returns the number of unread u32 words.
func (d *DecodedData) U32Remaining() int {
	return len(d.u32) / 4
}

// IsEmpty reports whether every region has been fully consumed.
func (d *DecodedData) IsEmpty() bool {
	return len(d.u32) == 0 && len(d.u16) == 0 && len(d.u8) == 0 && len(d.str) == 0
}
