package function

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/woxQAQ/jsbridge/internal/codec"
	"github.com/woxQAQ/jsbridge/internal/encode"
	"github.com/woxQAQ/jsbridge/internal/metrics"
)

func emptyArgs(t *testing.T) *codec.DecodedData {
	t.Helper()
	dec, err := codec.NewDecodedData(codec.NewEncoder().Bytes())
	require.NoError(t, err)
	return dec
}

func TestRegisterReusesSlotWithNewGeneration(t *testing.T) {
	r := NewRegistry(zap.NewNop(), nil)
	noop := func(encode.Env, *codec.DecodedData, *codec.EncodedData) error { return nil }

	k1 := r.Register(noop)
	k2 := r.Register(noop)
	assert.NotEqual(t, k1, k2)
	assert.Equal(t, 2, r.Len())

	assert.True(t, r.Drop(k1))
	assert.False(t, r.Drop(k1), "stale key must not drop again")

	k3 := r.Register(noop)
	assert.Equal(t, uint32(k1), uint32(k3), "slot index is reused")
	assert.NotEqual(t, k1, k3, "generation differs")

	err := r.Invoke(nil, k1, emptyArgs(t), codec.NewEncoder())
	assert.ErrorIs(t, err, ErrUnknownCallback)
	assert.NoError(t, r.Invoke(nil, k3, emptyArgs(t), codec.NewEncoder()))
}

func TestInvokeRejectsReentry(t *testing.T) {
	r := NewRegistry(zap.NewNop(), nil)

	var inner error
	var k uint64
	k = r.Register(func(env encode.Env, args *codec.DecodedData, out *codec.EncodedData) error {
		inner = r.Invoke(env, k, args, out)
		return nil
	})

	require.NoError(t, r.Invoke(nil, k, emptyArgs(t), codec.NewEncoder()))
	var cbErr *CallbackError
	require.ErrorAs(t, inner, &cbErr)
	assert.ErrorIs(t, inner, ErrCallbackBusy)
	assert.Equal(t, k, cbErr.Key)

	assert.NoError(t, r.Invoke(nil, k, emptyArgs(t), codec.NewEncoder()), "slot is idle again")
}

func TestDifferentSlotsNest(t *testing.T) {
	r := NewRegistry(zap.NewNop(), nil)
	depth := 0

	var a, b uint64
	b = r.Register(func(encode.Env, *codec.DecodedData, *codec.EncodedData) error {
		depth++
		return nil
	})
	a = r.Register(func(env encode.Env, args *codec.DecodedData, out *codec.EncodedData) error {
		depth++
		// Registering while running may grow the slot slice.
		for i := 0; i < 64; i++ {
			r.Register(func(encode.Env, *codec.DecodedData, *codec.EncodedData) error { return nil })
		}
		return r.Invoke(env, b, args, out)
	})

	require.NoError(t, r.Invoke(nil, a, emptyArgs(t), codec.NewEncoder()))
	assert.Equal(t, 2, depth)
}

func TestDropWhileRunning(t *testing.T) {
	m := metrics.New(nil)
	r := NewRegistry(zap.NewNop(), m)

	var k uint64
	k = r.Register(func(encode.Env, *codec.DecodedData, *codec.EncodedData) error {
		assert.True(t, r.Drop(k))
		assert.Equal(t, 1, r.Len(), "running closure stays registered")
		return nil
	})

	require.NoError(t, r.Invoke(nil, k, emptyArgs(t), codec.NewEncoder()))
	assert.Equal(t, 0, r.Len())
	assert.ErrorIs(t, r.Invoke(nil, k, emptyArgs(t), codec.NewEncoder()), ErrUnknownCallback)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.CallbacksLive))
}

func TestInvokeRecoversPanic(t *testing.T) {
	r := NewRegistry(zap.NewNop(), nil)
	k := r.Register(func(encode.Env, *codec.DecodedData, *codec.EncodedData) error {
		panic("kaboom")
	})

	err := r.Invoke(nil, k, emptyArgs(t), codec.NewEncoder())
	assert.ErrorIs(t, err, ErrCallbackPanicked)
	assert.Contains(t, err.Error(), "kaboom")

	boom := errors.New("boom")
	k2 := r.Register(func(encode.Env, *codec.DecodedData, *codec.EncodedData) error { return boom })
	assert.ErrorIs(t, r.Invoke(nil, k2, emptyArgs(t), codec.NewEncoder()), boom)
	assert.ErrorIs(t, r.Invoke(nil, k, emptyArgs(t), codec.NewEncoder()), ErrCallbackPanicked, "panicked slot is idle, not busy")
}
