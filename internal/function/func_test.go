package function

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/woxQAQ/jsbridge/internal/batch"
	"github.com/woxQAQ/jsbridge/internal/binding"
	"github.com/woxQAQ/jsbridge/internal/codec"
	"github.com/woxQAQ/jsbridge/internal/encode"
	"github.com/woxQAQ/jsbridge/internal/value"
	"github.com/woxQAQ/jsbridge/pkg/protocol"
)

// echoCaller answers every flush with an agreeing cursor and a fixed result.
type echoCaller struct {
	state    *batch.State
	registry *Registry
	payloads [][]byte
	result   func(enc *codec.EncodedData)
}

func newEchoCaller() *echoCaller {
	c := &echoCaller{registry: NewRegistry(zap.NewNop(), nil)}
	c.state = batch.NewState(c, zap.NewNop(), nil)
	return c
}

func (c *echoCaller) Flush(payload []byte) ([]byte, error) {
	c.payloads = append(c.payloads, payload)
	resp := codec.NewEncoder()
	resp.PushU64(c.state.PeekHeapID())
	resp.PushU8(protocol.RespondOK)
	if c.result != nil {
		c.result(resp)
	}
	return resp.Bytes(), nil
}

func (c *echoCaller) BatchState() *batch.State                   { return c.state }
func (c *echoCaller) ReleaseHeapRef(id uint64)                   { c.state.ReleaseHeapRef(id) }
func (c *echoCaller) DeferRelease(id uint64)                     { c.state.DeferRelease(id) }
func (c *echoCaller) ReserveHeapID() uint64                      { return c.state.NextHeapID() }
func (c *echoCaller) ClaimHeapID(id uint64) error                { return c.state.ClaimHeapID(id) }
func (c *echoCaller) RegisterCallback(inv encode.Invoker) uint64 { return c.registry.Register(inv) }

func TestCallEncodesArgumentsInOrder(t *testing.T) {
	c := newEchoCaller()
	c.result = func(enc *codec.EncodedData) { enc.PushStr("ok") }

	f := New3(42, encode.U32, encode.String, encode.Bool, encode.String)
	got, err := f.Call(c, 7, "seven", true)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, uint32(42), f.ID())

	require.Len(t, c.payloads, 1)
	dec, err := codec.NewDecodedData(c.payloads[0])
	require.NoError(t, err)
	id, _ := dec.TakeU32()
	n, _ := dec.TakeU32()
	s, _ := dec.TakeStr()
	b, _ := dec.TakeBool()
	assert.Equal(t, uint32(42), id)
	assert.Equal(t, uint32(7), n)
	assert.Equal(t, "seven", s)
	assert.True(t, b)
	assert.True(t, dec.IsEmpty())
}

func TestCallWithCallbackRegistersClosure(t *testing.T) {
	c := newEchoCaller()
	c.result = func(enc *codec.EncodedData) { enc.PushU32(1) }

	f := New2(9, encode.U32, encode.Callback1(encode.U32, encode.U32), encode.U32)
	_, err := f.Call(c, 3, func(x uint32) (uint32, error) { return x * 2, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, c.registry.Len())
}

func TestRefCallsBatch(t *testing.T) {
	c := newEchoCaller()
	f := New0(5, encode.Ref)

	var refs []*value.Ref
	err := c.state.Batch(func() error {
		for i := 0; i < 3; i++ {
			r, err := f.Call(c)
			if err != nil {
				return err
			}
			refs = append(refs, r)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, c.payloads, 1)
	for i, r := range refs {
		assert.Equal(t, protocol.HeapReserved+uint64(i), r.ID())
	}
}

func sampleTable(t *testing.T) *binding.Table {
	t.Helper()
	table := binding.NewTable()
	for _, f := range []*binding.Function{
		{ID: 1, Name: "none", Returns: encode.Scalar(encode.KindRef)},
		{ID: 2, Name: "one", Args: []*encode.Type{encode.Scalar(encode.KindString)}, Returns: encode.Scalar(encode.KindUnit)},
		{ID: 3, Name: "two", Args: []*encode.Type{encode.Scalar(encode.KindU32), encode.CallbackOf(encode.Scalar(encode.KindU32), encode.Scalar(encode.KindU32))}, Returns: encode.Scalar(encode.KindU32)},
		{ID: 4, Name: "three", Args: []*encode.Type{encode.Scalar(encode.KindRef), encode.Scalar(encode.KindString), encode.Scalar(encode.KindRef)}, Returns: encode.ResultOf(encode.Scalar(encode.KindI32))},
	} {
		require.NoError(t, table.Add(f))
	}
	return table
}

func TestBindChecksSignature(t *testing.T) {
	table := sampleTable(t)

	f0, err := Bind0(table, "none", encode.Ref)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), f0.ID())

	f1, err := Bind1(table, "one", encode.String, encode.Unit)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), f1.ID())

	f2, err := Bind2(table, "two", encode.U32, encode.Callback1(encode.U32, encode.U32), encode.U32)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), f2.ID())

	f3, err := Bind3(table, "three", encode.Ref, encode.String, encode.Ref, encode.Catch(encode.I32))
	require.NoError(t, err)
	assert.Equal(t, uint32(4), f3.ID())
}

func TestBindErrors(t *testing.T) {
	table := sampleTable(t)

	_, err := Bind1(table, "one", encode.U32, encode.Unit)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "(string)->unit", mismatch.Want)
	assert.Equal(t, "(u32)->unit", mismatch.Got)

	_, err = Bind0(table, "one", encode.Unit)
	assert.ErrorAs(t, err, &mismatch)

	_, err = Bind0(table, "missing", encode.Unit)
	var notFound *binding.FunctionNotFoundError
	assert.ErrorAs(t, err, &notFound)

	assert.Panics(t, func() { Must(Bind0(table, "missing", encode.Unit)) })
}
