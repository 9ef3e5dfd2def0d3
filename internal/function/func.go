package function

import (
	"fmt"

	"github.com/woxQAQ/jsbridge/internal/batch"
	"github.com/woxQAQ/jsbridge/internal/binding"
	"github.com/woxQAQ/jsbridge/internal/codec"
	"github.com/woxQAQ/jsbridge/internal/encode"
)

// Caller is the runtime a call site executes against.
type Caller interface {
	encode.Env
	BatchState() *batch.State
}

// MismatchError reports that a call site's codecs disagree with the declared signature.
type MismatchError struct {
	Name string
	Want string
	Got  string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("function %s is declared %s, bound as %s", e.Name, e.Want, e.Got)
}

func lookup(t *binding.Table, name string, ret *encode.Type, args ...*encode.Type) (uint32, error) {
	f, ok := t.ByName(name)
	if !ok {
		return 0, &binding.FunctionNotFoundError{Name: name}
	}

	bound := &binding.Function{Args: args, Returns: ret}
	mismatch := len(f.Args) != len(args) || !f.Returns.Equal(ret)
	for i := 0; !mismatch && i < len(args); i++ {
		mismatch = !f.Args[i].Equal(args[i])
	}
	if mismatch {
		return 0, &MismatchError{Name: name, Want: f.Signature(), Got: bound.Signature()}
	}
	return f.ID, nil
}

// Must panics if err is non-nil. It is meant for binding call sites at startup.
func Must[F any](f F, err error) F {
	if err != nil {
		panic(err)
	}
	return f
}

// Func0 calls a script function taking no arguments.
type Func0[R any] struct {
	id  uint32
	ret encode.Codec[R]
}

// New0 creates a call site for function id.
func New0[R any](id uint32, ret encode.Codec[R]) Func0[R] {
	return Func0[R]{id: id, ret: ret}
}

// Bind0 creates a call site for the function called name in t.
func Bind0[R any](t *binding.Table, name string, ret encode.Codec[R]) (Func0[R], error) {
	id, err := lookup(t, name, ret.Type())
	return New0(id, ret), err
}

// ID returns the function id.
func (f Func0[R]) ID() uint32 { return f.id }

// Call runs the function.
func (f Func0[R]) Call(c Caller) (R, error) {
	return batch.RunSync(c, c.BatchState(), f.id, f.ret, nil)
}

// Func1 calls a script function taking one argument.
type Func1[A, R any] struct {
	id  uint32
	a   encode.Codec[A]
	ret encode.Codec[R]
}

// New1 creates a call site for function id.
func New1[A, R any](id uint32, a encode.Codec[A], ret encode.Codec[R]) Func1[A, R] {
	return Func1[A, R]{id: id, a: a, ret: ret}
}

// Bind1 creates a call site for the function called name in t.
func Bind1[A, R any](t *binding.Table, name string, a encode.Codec[A], ret encode.Codec[R]) (Func1[A, R], error) {
	id, err := lookup(t, name, ret.Type(), a.Type())
	return New1(id, a, ret), err
}

// ID returns the function id.
func (f Func1[A, R]) ID() uint32 { return f.id }

// Call runs the function.
func (f Func1[A, R]) Call(c Caller, a A) (R, error) {
	return batch.RunSync(c, c.BatchState(), f.id, f.ret, func(enc *codec.EncodedData) {
		f.a.Encode(c, enc, a)
	})
}

// Func2 calls a script function taking two arguments.
type Func2[A, B, R any] struct {
	id  uint32
	a   encode.Codec[A]
	b   encode.Codec[B]
	ret encode.Codec[R]
}

// New2 creates a call site for function id.
func New2[A, B, R any](id uint32, a encode.Codec[A], b encode.Codec[B], ret encode.Codec[R]) Func2[A, B, R] {
	return Func2[A, B, R]{id: id, a: a, b: b, ret: ret}
}

// Bind2 creates a call site for the function called name in t.
func Bind2[A, B, R any](t *binding.Table, name string, a encode.Codec[A], b encode.Codec[B], ret encode.Codec[R]) (Func2[A, B, R], error) {
	id, err := lookup(t, name, ret.Type(), a.Type(), b.Type())
	return New2(id, a, b, ret), err
}

// ID returns the function id.
func (f Func2[A, B, R]) ID() uint32 { return f.id }

// Call runs the function.
func (f Func2[A, B, R]) Call(c Caller, a A, b B) (R, error) {
	return batch.RunSync(c, c.BatchState(), f.id, f.ret, func(enc *codec.EncodedData) {
		f.a.Encode(c, enc, a)
		f.b.Encode(c, enc, b)
	})
}

// Func3 calls a script function taking three arguments.
type Func3[A, B, C, R any] struct {
	id  uint32
	a   encode.Codec[A]
	b   encode.Codec[B]
	c   encode.Codec[C]
	ret encode.Codec[R]
}

// New3 creates a call site for function id.
func New3[A, B, C, R any](id uint32, a encode.Codec[A], b encode.Codec[B], c encode.Codec[C], ret encode.Codec[R]) Func3[A, B, C, R] {
	return Func3[A, B, C, R]{id: id, a: a, b: b, c: c, ret: ret}
}

// Bind3 creates a call site for the function called name in t.
func Bind3[A, B, C, R any](t *binding.Table, name string, a encode.Codec[A], b encode.Codec[B], c encode.Codec[C], ret encode.Codec[R]) (Func3[A, B, C, R], error) {
	id, err := lookup(t, name, ret.Type(), a.Type(), b.Type(), c.Type())
	return New3(id, a, b, c, ret), err
}

// ID returns the function id.
func (f Func3[A, B, C, R]) ID() uint32 { return f.id }

// Call runs the function.
func (f Func3[A, B, C, R]) Call(c Caller, a A, b B, cv C) (R, error) {
	return batch.RunSync(c, c.BatchState(), f.id, f.ret, func(enc *codec.EncodedData) {
		f.a.Encode(c, enc, a)
		f.b.Encode(c, enc, b)
		f.c.Encode(c, enc, cv)
	})
}
