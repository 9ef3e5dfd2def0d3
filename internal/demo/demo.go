// Package demo binds the functions of bindings/demo and runs a small workload
// against them: batched calls, heap refs, callbacks and caught exceptions.
package demo

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/woxQAQ/jsbridge/internal/binding"
	"github.com/woxQAQ/jsbridge/internal/encode"
	"github.com/woxQAQ/jsbridge/internal/function"
	"github.com/woxQAQ/jsbridge/internal/value"
)

// Runtime is what the workload needs from the native side.
type Runtime interface {
	function.Caller
	Batch(fn func() error) error
}

// Native closure shapes passed to the demo functions.
type (
	RefCallback   = func(*value.Ref) (uint32, error)
	U32Callback   = func(uint32) (uint32, error)
	VisitCallback = func(uint32) (struct{}, error)
)

// Functions holds one typed call site per demo function.
type Functions struct {
	Add         function.Func2[uint32, uint32, uint32]
	BoxAdd      function.Func2[uint32, uint32, *value.Ref]
	Unbox       function.Func1[*value.Ref, uint32]
	Object      function.Func0[*value.Ref]
	SetProp     function.Func3[*value.Ref, string, string, struct{}]
	GetProp     function.Func2[*value.Ref, string, *string]
	Describe    function.Func1[*value.Ref, string]
	CallWith    function.Func2[*value.Ref, RefCallback, uint32]
	Invoke      function.Func2[uint32, U32Callback, uint32]
	ParseInt    function.Func1[string, int32]
	Fail        function.Func1[string, struct{}]
	IsUndefined function.Func1[*value.Ref, bool]
	Each        function.Func2[uint32, VisitCallback, struct{}]
}

// Bind resolves every demo function in t and checks its signature.
func Bind(t *binding.Table) (fns *Functions, err error) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		perr, ok := p.(error)
		if !ok {
			panic(p)
		}
		fns, err = nil, fmt.Errorf("bind demo functions: %w", perr)
	}()

	return &Functions{
		Add:         function.Must(function.Bind2(t, "add", encode.U32, encode.U32, encode.U32)),
		BoxAdd:      function.Must(function.Bind2(t, "box_add", encode.U32, encode.U32, encode.Ref)),
		Unbox:       function.Must(function.Bind1(t, "unbox", encode.Ref, encode.U32)),
		Object:      function.Must(function.Bind0(t, "object", encode.Ref)),
		SetProp:     function.Must(function.Bind3(t, "set_prop", encode.Ref, encode.String, encode.String, encode.Unit)),
		GetProp:     function.Must(function.Bind2(t, "get_prop", encode.Ref, encode.String, encode.Option(encode.String))),
		Describe:    function.Must(function.Bind1(t, "describe", encode.Ref, encode.String)),
		CallWith:    function.Must(function.Bind2(t, "call_with", encode.Ref, encode.Callback1(encode.Ref, encode.U32), encode.U32)),
		Invoke:      function.Must(function.Bind2(t, "invoke", encode.U32, encode.Callback1(encode.U32, encode.U32), encode.U32)),
		ParseInt:    function.Must(function.Bind1(t, "parse_int", encode.String, encode.Catch(encode.I32))),
		Fail:        function.Must(function.Bind1(t, "fail", encode.String, encode.Unit)),
		IsUndefined: function.Must(function.Bind1(t, "is_undefined", encode.Ref, encode.Bool)),
		Each:        function.Must(function.Bind2(t, "each", encode.U32, encode.Callback1(encode.U32, encode.Unit), encode.Unit)),
	}, nil
}

// Report is what one workload run observed.
type Report struct {
	Sum       uint32
	Described string
	Nested    uint32
	Parsed    int32
	ParseErr  string
	Visited   []uint32
}

// Run exercises the bridge once. Every step's result is recorded in the report.
func Run(rt Runtime, fns *Functions, logger *zap.Logger) (*Report, error) {
	var rep Report

	boxes := make([]*value.Ref, 0, 10)
	err := rt.Batch(func() error {
		for i := uint32(0); i < 10; i++ {
			b, err := fns.BoxAdd.Call(rt, i, i)
			if err != nil {
				return err
			}
			boxes = append(boxes, b)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("box batch: %w", err)
	}
	for _, b := range boxes {
		v, err := fns.Unbox.Call(rt, b)
		if err != nil {
			return nil, fmt.Errorf("unbox: %w", err)
		}
		rep.Sum += v
		b.Release()
	}
	logger.Info("Batched boxes", zap.Int("count", len(boxes)), zap.Uint32("sum", rep.Sum))

	obj, err := fns.Object.Call(rt)
	if err != nil {
		return nil, err
	}
	defer obj.Release()
	err = rt.Batch(func() error {
		if _, err := fns.SetProp.Call(rt, obj, "lang", "go"); err != nil {
			return err
		}
		_, err := fns.SetProp.Call(rt, obj, "side", "native")
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("set props: %w", err)
	}
	if rep.Described, err = fns.Describe.Call(rt, obj); err != nil {
		return nil, err
	}
	logger.Info("Described object", zap.String("object", rep.Described))

	box, err := fns.BoxAdd.Call(rt, 20, 22)
	if err != nil {
		return nil, err
	}
	defer box.Release()
	rep.Nested, err = fns.CallWith.Call(rt, box, func(inner *value.Ref) (uint32, error) {
		v, err := fns.Unbox.Call(rt, inner)
		return v * 2, err
	})
	if err != nil {
		return nil, fmt.Errorf("callback: %w", err)
	}
	logger.Info("Callback round trip", zap.Uint32("result", rep.Nested))

	if rep.Parsed, err = fns.ParseInt.Call(rt, "1234"); err != nil {
		return nil, err
	}
	if _, err := fns.ParseInt.Call(rt, "twelve"); err != nil {
		if !encode.IsThrown(err) {
			return nil, err
		}
		rep.ParseErr = err.Error()
	}
	logger.Info("Parsed integers", zap.Int32("parsed", rep.Parsed), zap.String("rejected", rep.ParseErr))

	_, err = fns.Each.Call(rt, 3, func(i uint32) (struct{}, error) {
		rep.Visited = append(rep.Visited, i)
		return struct{}{}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("each: %w", err)
	}
	return &rep, nil
}
