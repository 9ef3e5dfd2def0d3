package encode

import (
	"github.com/woxQAQ/jsbridge/internal/codec"
	"github.com/woxQAQ/jsbridge/pkg/protocol"
)

type option[T any] struct {
	inner Codec[T]
}

// Option encodes a *T as one tag byte followed by the value when present.
func Option[T any](inner Codec[T]) Codec[*T] {
	return option[T]{inner: inner}
}

func (o option[T]) Type() *Type      { return OptionOf(o.inner.Type()) }
func (o option[T]) NeedsFlush() bool { return true }

func (o option[T]) Encode(env Env, enc *codec.EncodedData, v *T) {
	if v == nil {
		enc.PushU8(0)
		return
	}
	enc.PushU8(1)
	o.inner.Encode(env, enc, *v)
}

func (o option[T]) Decode(env Env, dec *codec.DecodedData) (*T, error) {
	tag, err := dec.TakeU8()
	if err != nil || tag == 0 {
		return nil, err
	}
	v, err := o.inner.Decode(env, dec)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (o option[T]) Placeholder(Env) *T {
	panic(ErrNoPlaceholder)
}

type catch[T any] struct {
	inner Codec[T]
}

// Catch marks a call whose script exceptions are returned as *ThrownError
// instead of failing the batch. On the wire it is a tag byte followed by
// either the value or the exception message.
func Catch[T any](inner Codec[T]) Codec[T] {
	return catch[T]{inner: inner}
}

func (c catch[T]) Type() *Type      { return ResultOf(c.inner.Type()) }
func (c catch[T]) NeedsFlush() bool { return true }

func (c catch[T]) Encode(env Env, enc *codec.EncodedData, v T) {
	enc.PushU8(0)
	c.inner.Encode(env, enc, v)
}

func (c catch[T]) Decode(env Env, dec *codec.DecodedData) (T, error) {
	var zero T
	tag, err := dec.TakeU8()
	if err != nil {
		return zero, err
	}
	if tag != 0 {
		msg, err := dec.TakeStr()
		if err != nil {
			return zero, err
		}
		return zero, &ThrownError{Message: msg}
	}
	return c.inner.Decode(env, dec)
}

func (c catch[T]) Placeholder(Env) T {
	panic(ErrNoPlaceholder)
}

// callbackCodec is shared by the fixed-arity callback codecs. Callbacks only
// travel from native code to the script side, so decoding is unsupported.
type callbackCodec[F any] struct {
	typ  *Type
	wrap func(F) Invoker
}

func (c callbackCodec[F]) Type() *Type      { return c.typ }
func (c callbackCodec[F]) NeedsFlush() bool { return true }

func (c callbackCodec[F]) Encode(env Env, enc *codec.EncodedData, fn F) {
	enc.PushU64(env.RegisterCallback(c.wrap(fn)))
}

func (c callbackCodec[F]) Decode(Env, *codec.DecodedData) (F, error) {
	var zero F
	return zero, &codec.DecodeError{Op: "callback", Err: errCallbackDecode}
}

func (c callbackCodec[F]) Placeholder(Env) F {
	panic(ErrNoPlaceholder)
}

func reply[R any](env Env, out *codec.EncodedData, ret Codec[R], v R) {
	out.PushU8(protocol.CallbackOK)
	ret.Encode(env, out, v)
}

// Callback0 passes a native closure without arguments.
func Callback0[R any](ret Codec[R]) Codec[func() (R, error)] {
	return callbackCodec[func() (R, error)]{
		typ: CallbackOf(ret.Type()),
		wrap: func(fn func() (R, error)) Invoker {
			return func(env Env, _ *codec.DecodedData, out *codec.EncodedData) error {
				r, err := fn()
				if err != nil {
					return err
				}
				reply(env, out, ret, r)
				return nil
			}
		},
	}
}

// Callback1 passes a native closure taking one argument.
func Callback1[A, R any](a Codec[A], ret Codec[R]) Codec[func(A) (R, error)] {
	return callbackCodec[func(A) (R, error)]{
		typ: CallbackOf(ret.Type(), a.Type()),
		wrap: func(fn func(A) (R, error)) Invoker {
			return func(env Env, args *codec.DecodedData, out *codec.EncodedData) error {
				av, err := a.Decode(env, args)
				if err != nil {
					return err
				}
				r, err := fn(av)
				if err != nil {
					return err
				}
				reply(env, out, ret, r)
				return nil
			}
		},
	}
}

// Callback2 passes a native closure taking two arguments.
func Callback2[A, B, R any](a Codec[A], b Codec[B], ret Codec[R]) Codec[func(A, B) (R, error)] {
	return callbackCodec[func(A, B) (R, error)]{
		typ: CallbackOf(ret.Type(), a.Type(), b.Type()),
		wrap: func(fn func(A, B) (R, error)) Invoker {
			return func(env Env, args *codec.DecodedData, out *codec.EncodedData) error {
				av, err := a.Decode(env, args)
				if err != nil {
					return err
				}
				bv, err := b.Decode(env, args)
				if err != nil {
					return err
				}
				r, err := fn(av, bv)
				if err != nil {
					return err
				}
				reply(env, out, ret, r)
				return nil
			}
		},
	}
}
