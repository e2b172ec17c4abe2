// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package layer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnetkit/richard/tensor"
)

func TestConvForwardMatchesCrossCorrelation(t *testing.T) {
	in := tensor.Shape3{W: 3, H: 3, D: 2}
	c := NewConv(in, 2, 2, 2, 0.1, 1, 0)

	c.filters[0].kernel = tensor.Array3From(tensor.Shape3{W: 2, H: 2, D: 2}, []float32{
		1, 0, 0, -1, // slice 0
		0.5, 0.5, -0.5, -0.5, // slice 1
	})
	c.filters[0].bias = 0.25
	c.filters[1].kernel = tensor.Array3From(tensor.Shape3{W: 2, H: 2, D: 2}, []float32{
		-1, 1, 1, -1,
		0, 0, 1, 1,
	})
	c.filters[1].bias = -0.5

	input := tensor.Array3From(in, []float32{
		1, 2, 3, 4, 5, 6, 7, 8, 9, // slice 0
		9, 8, 7, 6, 5, 4, 3, 2, 1, // slice 1
	})

	out := c.EvalForward(input.Raw())
	require.Equal(t, c.out.W*c.out.H*c.out.D, out.Len())
	o := tensor.ViewArray3(out.Raw(), c.out.W, c.out.H, c.out.D)

	for f := range c.filters {
		expected := tensor.CrossCorrelate(input, c.filters[f].kernel)
		for y := 0; y < c.out.H; y++ {
			for x := 0; x < c.out.W; x++ {
				want := relu(expected.At(x, y) + c.filters[f].bias)
				assert.InDelta(t, want, o.At(x, y, f), 1e-5)
			}
		}
	}
}

func TestConvOutputShape(t *testing.T) {
	c := NewConv(tensor.Shape3{W: 6, H: 6, D: 3}, 3, 3, 4, 0.1, 1, 0)
	assert.Equal(t, tensor.Shape3{W: 4, H: 4, D: 4}, c.OutputShape())
	assert.Equal(t, 6*6*3, c.InputSize())
}

func TestConvGradientAccumulationZeroing(t *testing.T) {
	in := tensor.Shape3{W: 4, H: 4, D: 1}
	c := NewConv(in, 2, 2, 2, 0.1, 1, 0)

	input := tensor.NewArray3(4, 4, 1)
	input.RandomizeGaussian(1)
	c.TrainForward(input.Raw())

	od := tensor.NewArray3(c.out.W, c.out.H, c.out.D)
	od.RandomizeGaussian(1)
	c.UpdateDeltas(input.Raw(), od.Raw())

	c.UpdateParams(0)

	for _, flt := range c.filters {
		assert.Equal(t, float32(0), flt.gradKernel.Raw().SquareMagnitude())
		assert.Equal(t, float32(0), flt.gradBias)
	}
}

func TestConvRoundTrip(t *testing.T) {
	in := tensor.Shape3{W: 5, H: 5, D: 2}
	c := NewConv(in, 3, 3, 3, 0.1, 0.9, 0)

	var buf bytes.Buffer
	require.NoError(t, c.WriteToStream(&buf))

	restored, err := RestoreConv(&buf, in, 3, 3, 3, 0.1, 0.9, 0)
	require.NoError(t, err)

	for f := range c.filters {
		assert.Equal(t, c.filters[f].bias, restored.filters[f].bias)
		for i := 0; i < c.filters[f].kernel.Raw().Len(); i++ {
			assert.Equal(t, c.filters[f].kernel.Raw().At(i), restored.filters[f].kernel.Raw().At(i))
		}
	}
}
