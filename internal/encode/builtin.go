package encode

import (
	"github.com/woxQAQ/jsbridge/internal/codec"
	"github.com/woxQAQ/jsbridge/internal/value"
	"github.com/woxQAQ/jsbridge/pkg/protocol"
)

type scalar[T any] struct {
	typ  *Type
	put  func(*codec.EncodedData, T)
	take func(*codec.DecodedData) (T, error)
}

func (s scalar[T]) Type() *Type      { return s.typ }
func (s scalar[T]) NeedsFlush() bool { return true }

func (s scalar[T]) Encode(_ Env, enc *codec.EncodedData, v T) {
	s.put(enc, v)
}

func (s scalar[T]) Decode(_ Env, dec *codec.DecodedData) (T, error) {
	return s.take(dec)
}

func (s scalar[T]) Placeholder(Env) T {
	panic(ErrNoPlaceholder)
}

// Unsigned, float, bool and string codecs all need a flush.
var (
	Bool   Codec[bool]    = scalar[bool]{Scalar(KindBool), (*codec.EncodedData).PushBool, (*codec.DecodedData).TakeBool}
	U8     Codec[uint8]   = scalar[uint8]{Scalar(KindU8), (*codec.EncodedData).PushU8, (*codec.DecodedData).TakeU8}
	U16    Codec[uint16]  = scalar[uint16]{Scalar(KindU16), (*codec.EncodedData).PushU16, (*codec.DecodedData).TakeU16}
	U32    Codec[uint32]  = scalar[uint32]{Scalar(KindU32), (*codec.EncodedData).PushU32, (*codec.DecodedData).TakeU32}
	U64    Codec[uint64]  = scalar[uint64]{Scalar(KindU64), (*codec.EncodedData).PushU64, (*codec.DecodedData).TakeU64}
	F32    Codec[float32] = scalar[float32]{Scalar(KindF32), (*codec.EncodedData).PushF32, (*codec.DecodedData).TakeF32}
	F64    Codec[float64] = scalar[float64]{Scalar(KindF64), (*codec.EncodedData).PushF64, (*codec.DecodedData).TakeF64}
	String Codec[string]  = scalar[string]{Scalar(KindString), (*codec.EncodedData).PushStr, (*codec.DecodedData).TakeStr}
)

// Signed integers travel as their two's complement bits in the region of the same width.
var (
	I8 Codec[int8] = scalar[int8]{
		Scalar(KindI8),
		func(e *codec.EncodedData, v int8) { e.PushU8(uint8(v)) },
		func(d *codec.DecodedData) (int8, error) { v, err := d.TakeU8(); return int8(v), err },
	}
	I16 Codec[int16] = scalar[int16]{
		Scalar(KindI16),
		func(e *codec.EncodedData, v int16) { e.PushU16(uint16(v)) },
		func(d *codec.DecodedData) (int16, error) { v, err := d.TakeU16(); return int16(v), err },
	}
	I32 Codec[int32] = scalar[int32]{
		Scalar(KindI32),
		func(e *codec.EncodedData, v int32) { e.PushU32(uint32(v)) },
		func(d *codec.DecodedData) (int32, error) { v, err := d.TakeU32(); return int32(v), err },
	}
	I64 Codec[int64] = scalar[int64]{
		Scalar(KindI64),
		func(e *codec.EncodedData, v int64) { e.PushU64(uint64(v)) },
		func(d *codec.DecodedData) (int64, error) { v, err := d.TakeU64(); return int64(v), err },
	}
)

type unit struct{}

// Unit is the codec for calls that return nothing.
var Unit Codec[struct{}] = unit{}

func (unit) Type() *Type {
	return Scalar(KindUnit)
}

func (unit) NeedsFlush() bool {
	return false
}

func (unit) Encode(Env, *codec.EncodedData, struct{}) {}

func (unit) Decode(Env, *codec.DecodedData) (struct{}, error) {
	return struct{}{}, nil
}

func (unit) Placeholder(Env) struct{} {
	return struct{}{}
}

type ref struct{}

// Ref is the codec for handles to script heap values.
var Ref Codec[*value.Ref] = ref{}

func (ref) Type() *Type      { return Scalar(KindRef) }
func (ref) NeedsFlush() bool { return false }

// Encode writes the id of v. A nil ref is sent as undefined.
func (ref) Encode(_ Env, enc *codec.EncodedData, v *value.Ref) {
	if v == nil {
		enc.PushU64(protocol.HeapUndefined)
		return
	}
	enc.PushU64(v.ID())
}

func (ref) Decode(env Env, dec *codec.DecodedData) (*value.Ref, error) {
	id, err := dec.TakeU64()
	if err != nil {
		return nil, err
	}
	switch {
	case protocol.IsBorrowedHeapID(id):
		return value.Borrowed(id), nil
	case protocol.IsReservedHeapID(id):
		return value.Reserved(id), nil
	}
	if err := env.ClaimHeapID(id); err != nil {
		return nil, err
	}
	return value.New(id, env), nil
}

func (ref) Placeholder(env Env) *value.Ref {
	return value.New(env.ReserveHeapID(), env)
}
