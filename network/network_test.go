// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package network

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnetkit/richard/layer"
	"github.com/nnetkit/richard/tensor"
)

func tinyTopology() Topology {
	return Topology{
		Input: tensor.Shape3{W: 3, H: 1, D: 1},
		Hyperparams: Hyperparams{
			Epochs:        1,
			BatchSize:     1,
			MiniBatchSize: 1,
		},
		Hidden: []LayerSpec{
			{Kind: KindDense, Size: 4, LearnRate: 0.1, LearnRateDecay: 1},
		},
		Output: LayerSpec{Kind: KindOutput, Size: 2, LearnRate: 0.1, LearnRateDecay: 1},
	}
}

func TestNewRejectsSingleLayerNetwork(t *testing.T) {
	top := tinyTopology()
	top.Hidden = nil
	_, err := New(top, nil)
	assert.ErrorIs(t, err, ErrSingleLayerNetwork)
}

func TestCheckShapeCompositionDetectsMismatch(t *testing.T) {
	a := layer.NewDense(3, 4, 0.1, 1, 0)
	b := layer.NewDense(5, 2, 0.1, 1, 0) // expects 5 inputs, but a outputs 4
	n := &Network{layers: []layer.Layer{a, b}}
	err := n.checkShapeComposition()
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestTrainSampleAndUpdateParams(t *testing.T) {
	top := tinyTopology()
	n, err := New(top, nil)
	require.NoError(t, err)

	x := tensor.DataArrayFrom([]float32{0.5, 0.3, 0.7})
	y := tensor.DataArrayFrom([]float32{1, 0})

	cost := n.TrainSample(x, y)
	assert.GreaterOrEqual(t, cost, float32(0))

	n.UpdateParams(0)
	// No panic, network remains usable.
	out := n.Evaluate(x)
	assert.Equal(t, 2, out.Len())
}

func TestPersistenceRoundTrip(t *testing.T) {
	top := tinyTopology()
	n, err := New(top, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, n.WriteParams(&buf))

	restored, err := New(top, &buf)
	require.NoError(t, err)

	x := tensor.DataArrayFrom([]float32{0.1, 0.2, 0.3})
	a := n.Evaluate(x)
	b := restored.Evaluate(x)
	for i := 0; i < a.Len(); i++ {
		assert.InDelta(t, a.At(i), b.At(i), 1e-6)
	}
}

func TestAbortFlag(t *testing.T) {
	top := tinyTopology()
	n, err := New(top, nil)
	require.NoError(t, err)

	assert.False(t, n.Aborted())
	n.Abort()
	assert.True(t, n.Aborted())
	n.ResetAbort()
	assert.False(t, n.Aborted())
}
