package scriptside

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/woxQAQ/jsbridge/internal/codec"
	"github.com/woxQAQ/jsbridge/internal/encode"
)

var errBadArgType = errors.New("type cannot be passed as an argument")

// thunk produces a JavaScript value once the operations before it have run.
type thunk func() (goja.Value, error)

func (p *Peer) constant(v any) thunk {
	return func() (goja.Value, error) { return p.vm.ToValue(v), nil }
}

// decode reads one value of type typ. Heap lookups are deferred to the thunk
// because the slot may be filled by an earlier operation in the same batch.
func (p *Peer) decode(typ *encode.Type, dec *codec.DecodedData) (thunk, error) {
	var (
		v   any
		err error
	)
	switch typ.Kind {
	case encode.KindUnit:
		return func() (goja.Value, error) { return goja.Undefined(), nil }, nil
	case encode.KindBool:
		v, err = dec.TakeBool()
	case encode.KindU8:
		v, err = dec.TakeU8()
	case encode.KindU16:
		v, err = dec.TakeU16()
	case encode.KindU32:
		v, err = dec.TakeU32()
	case encode.KindU64:
		v, err = dec.TakeU64()
	case encode.KindI8:
		var u uint8
		u, err = dec.TakeU8()
		v = int8(u)
	case encode.KindI16:
		var u uint16
		u, err = dec.TakeU16()
		v = int16(u)
	case encode.KindI32:
		var u uint32
		u, err = dec.TakeU32()
		v = int32(u)
	case encode.KindI64:
		var u uint64
		u, err = dec.TakeU64()
		v = int64(u)
	case encode.KindF32:
		v, err = dec.TakeF32()
	case encode.KindF64:
		v, err = dec.TakeF64()
	case encode.KindString:
		v, err = dec.TakeStr()
	case encode.KindRef:
		id, err := dec.TakeU64()
		if err != nil {
			return nil, err
		}
		return func() (goja.Value, error) { return p.heap.get(p.vm, id) }, nil
	case encode.KindOption:
		tag, err := dec.TakeU8()
		if err != nil {
			return nil, err
		}
		if tag == 0 {
			return func() (goja.Value, error) { return goja.Null(), nil }, nil
		}
		return p.decode(typ.Elem, dec)
	case encode.KindCallback:
		key, err := dec.TakeU64()
		if err != nil {
			return nil, err
		}
		return func() (goja.Value, error) { return p.wrapCallback(typ, key), nil }, nil
	default:
		return nil, &codec.DecodeError{Op: typ.String(), Err: errBadArgType}
	}
	if err != nil {
		return nil, err
	}
	return p.constant(v), nil
}

// refEncoder turns a JavaScript value into a heap id: a fresh slot for results,
// a borrowed slot for callback arguments.
type refEncoder func(v goja.Value) (uint64, error)

func (p *Peer) allocRef(v goja.Value) (uint64, error) {
	id := p.heap.alloc()
	p.heap.slots[id] = v
	return id, nil
}

func (p *Peer) lendRef(v goja.Value) (uint64, error) {
	return p.heap.lend(v)
}

// encode writes v as type typ. Results are handled by the caller.
func (p *Peer) encode(typ *encode.Type, v goja.Value, out *codec.EncodedData, ref refEncoder) error {
	if v == nil {
		v = goja.Undefined()
	}
	switch typ.Kind {
	case encode.KindUnit:
	case encode.KindBool:
		out.PushBool(v.ToBoolean())
	case encode.KindU8, encode.KindI8:
		out.PushU8(uint8(v.ToInteger()))
	case encode.KindU16, encode.KindI16:
		out.PushU16(uint16(v.ToInteger()))
	case encode.KindU32, encode.KindI32:
		out.PushU32(uint32(v.ToInteger()))
	case encode.KindU64, encode.KindI64:
		out.PushU64(uint64(v.ToInteger()))
	case encode.KindF32:
		out.PushF32(float32(v.ToFloat()))
	case encode.KindF64:
		out.PushF64(v.ToFloat())
	case encode.KindString:
		out.PushStr(v.String())
	case encode.KindRef:
		id, err := ref(v)
		if err != nil {
			return err
		}
		out.PushU64(id)
	case encode.KindOption:
		if goja.IsUndefined(v) || goja.IsNull(v) {
			out.PushU8(0)
			return nil
		}
		out.PushU8(1)
		return p.encode(typ.Elem, v, out, ref)
	default:
		return fmt.Errorf("cannot encode %s from script", typ)
	}
	return nil
}
