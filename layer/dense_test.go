// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package layer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnetkit/richard/tensor"
)

func TestDenseForward(t *testing.T) {
	// W=[[2,1,3],[1,4,2]], B=[5,7], input=[3,4,2]: Z should be
	// [3*2+4*1+2*3+5, 3*1+4*4+2*2+7] = [21, 30] before activation.
	d := NewDense(3, 2, 0.1, 1, 0)
	d.w = tensor.ViewMatrix([]float32{2, 1, 3, 1, 4, 2}, 3, 2).Clone()
	d.b = tensor.VectorFrom([]float32{5, 7})

	z := d.forward(tensor.DataArrayFrom([]float32{3, 4, 2}))
	assert.Equal(t, float32(3*2+4*1+2*3+5), z.At(0))
	assert.Equal(t, float32(3*1+4*4+2*2+7), z.At(1))
}

func TestDenseGradientAccumulationZeroing(t *testing.T) {
	d := NewDense(3, 2, 0.1, 1, 0)
	d.TrainForward(tensor.DataArrayFrom([]float32{0.1, 0.2, 0.3}))
	before := d.w.Clone()
	d.UpdateDeltas(tensor.DataArrayFrom([]float32{0.1, 0.2, 0.3}), tensor.DataArrayFrom([]float32{0.5, -0.5}))

	accumulated := d.gradW.Clone()
	d.UpdateParams(0)

	require.Equal(t, float32(0), d.gradW.Sum())
	require.Equal(t, float32(0), d.gradB.SquareMagnitude())

	for r := 0; r < d.w.Rows(); r++ {
		for c := 0; c < d.w.Cols(); c++ {
			want := before.At(c, r) - d.learnRate*accumulated.At(c, r)
			assert.InDelta(t, want, d.w.At(c, r), 1e-6)
		}
	}
}

func TestDenseRoundTrip(t *testing.T) {
	d := NewDense(4, 3, 0.1, 0.99, 0)
	var buf bytes.Buffer
	require.NoError(t, d.WriteToStream(&buf))

	restored, err := RestoreDense(&buf, 4, 3, 0.1, 0.99, 0)
	require.NoError(t, err)

	for r := 0; r < d.w.Rows(); r++ {
		assert.Equal(t, d.b.At(r), restored.b.At(r))
		for c := 0; c < d.w.Cols(); c++ {
			assert.Equal(t, d.w.At(c, r), restored.w.At(c, r))
		}
	}
}
