package scriptside

import (
	"errors"

	"github.com/dop251/goja"

	"github.com/woxQAQ/jsbridge/internal/codec"
	"github.com/woxQAQ/jsbridge/internal/encode"
	"github.com/woxQAQ/jsbridge/pkg/protocol"
)

type opKind uint8

const (
	opCall opKind = iota
	opDrop
	opClone
)

type op struct {
	kind    opKind
	fn      *compiled
	args    []thunk
	id      uint64 // dropped or cloned id
	slot    uint64 // slot receiving a ref result
	hasSlot bool
}

// outcome is the result of running one native batch.
type outcome struct {
	threw   bool
	message string
	results *codec.EncodedData
}

// evaluate runs a native batch in two passes. The first decodes every
// operation and assigns heap slots in operation order, which is the order the
// native allocator handed out its placeholders. The second runs the operations.
func (p *Peer) evaluate(payload []byte) (*outcome, error) {
	dec, err := codec.NewDecodedData(payload)
	if err != nil {
		return nil, err
	}

	ops, err := p.plan(dec)
	if err != nil {
		return nil, err
	}

	out := &outcome{results: codec.NewEncoder()}
	if err := p.execute(ops, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Peer) plan(dec *codec.DecodedData) ([]op, error) {
	var ops []op
	for dec.U32Remaining() > 0 {
		fnID, err := dec.TakeU32()
		if err != nil {
			return nil, err
		}

		switch fnID {
		case protocol.FnDropHeapRef:
			id, err := dec.TakeU64()
			if err != nil {
				return nil, err
			}
			p.heap.release(id)
			ops = append(ops, op{kind: opDrop, id: id})

		case protocol.FnCloneHeapRef:
			id, err := dec.TakeU64()
			if err != nil {
				return nil, err
			}
			ops = append(ops, op{kind: opClone, id: id, slot: p.heap.alloc(), hasSlot: true})

		default:
			c, ok := p.fns[fnID]
			if !ok {
				return nil, &codec.DecodeError{Op: "evaluate", Err: ErrUnknownFunction}
			}
			o := op{kind: opCall, fn: c, args: make([]thunk, len(c.fn.Args))}
			for i, typ := range c.fn.Args {
				if o.args[i], err = p.decode(typ, dec); err != nil {
					return nil, err
				}
			}
			if c.fn.Returns.Kind == encode.KindRef {
				o.slot, o.hasSlot = p.heap.alloc(), true
			}
			ops = append(ops, o)
		}
	}
	return ops, nil
}

func (p *Peer) execute(ops []op, out *outcome) error {
	for i := range ops {
		o := &ops[i]
		if p.fatal != nil {
			return p.fatal
		}

		switch o.kind {
		case opDrop:
			delete(p.heap.slots, o.id)
			continue
		case opClone:
			if !out.threw {
				v, err := p.heap.get(p.vm, o.id)
				if err == nil {
					p.heap.slots[o.slot] = v
					continue
				}
				out.threw, out.message = true, err.Error()
			}
			p.heap.slots[o.slot] = goja.Undefined()
			continue
		}

		if out.threw {
			if o.hasSlot {
				p.heap.slots[o.slot] = goja.Undefined()
			}
			continue
		}

		v, callErr := p.call(o)
		if p.fatal != nil {
			return p.fatal
		}

		ret := o.fn.fn.Returns
		if callErr != nil {
			if ret.Kind == encode.KindResult {
				out.results.PushU8(1)
				out.results.PushStr(callErr.Error())
				continue
			}
			out.threw, out.message = true, callErr.Error()
			if o.hasSlot {
				p.heap.slots[o.slot] = goja.Undefined()
			}
			continue
		}

		var err error
		switch ret.Kind {
		case encode.KindUnit:
		case encode.KindRef:
			p.heap.slots[o.slot] = v
		case encode.KindResult:
			out.results.PushU8(0)
			err = p.encode(ret.Elem, v, out.results, p.allocRef)
		default:
			err = p.encode(ret, v, out.results, p.allocRef)
		}
		if err != nil {
			out.threw, out.message = true, err.Error()
		}
	}
	return p.fatal
}

// call runs one binding function. The error is a script-level failure: a
// thrown exception or an argument naming an empty slot.
func (p *Peer) call(o *op) (goja.Value, error) {
	args := make([]goja.Value, len(o.args))
	for i, th := range o.args {
		v, err := th()
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	v, err := o.fn.call(goja.Undefined(), args...)
	if err != nil {
		var ex *goja.Exception
		if errors.As(err, &ex) {
			return nil, errors.New(ex.Value().String())
		}
		return nil, err
	}
	return v, nil
}

// respond encodes the Respond for a finished batch. The cursor is the id the
// next allocation will take.
func (p *Peer) respond(out *outcome) []byte {
	resp := codec.NewEncoder()
	resp.PushU64(p.heap.cursor())
	if out.threw {
		resp.PushU8(protocol.RespondThrew)
		resp.PushStr(out.message)
	} else {
		resp.PushU8(protocol.RespondOK)
		resp.Append(out.results)
	}
	return resp.Bytes()
}
