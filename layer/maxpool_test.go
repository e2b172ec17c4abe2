// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package layer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnetkit/richard/tensor"
)

func TestMaxPoolForward(t *testing.T) {
	p, err := NewMaxPool(tensor.Shape3{W: 4, H: 4, D: 1}, 2, 2)
	require.NoError(t, err)

	in := tensor.DataArrayFrom([]float32{
		0, 1, 2, 3,
		4, 5, 6, 7,
		8, 9, 0, 1,
		2, 3, 4, 5,
	})
	out := p.TrainForward(in)
	o := tensor.ViewArray3(out.Raw(), 2, 2, 1)
	assert.Equal(t, float32(5), o.At(0, 0, 0))
	assert.Equal(t, float32(7), o.At(1, 0, 0))
	assert.Equal(t, float32(9), o.At(0, 1, 0))
	assert.Equal(t, float32(5), o.At(1, 1, 0))

	ones := 0
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if p.lastMask.At(x, y, 0) == 1 {
				ones++
			}
		}
	}
	assert.Equal(t, 4, ones)
	assert.Equal(t, float32(1), p.lastMask.At(1, 1, 0))
	assert.Equal(t, float32(1), p.lastMask.At(3, 1, 0))
	assert.Equal(t, float32(1), p.lastMask.At(1, 2, 0))
	assert.Equal(t, float32(1), p.lastMask.At(3, 3, 0))
}

func TestMaxPoolBackprop(t *testing.T) {
	p, err := NewMaxPool(tensor.Shape3{W: 4, H: 4, D: 1}, 2, 2)
	require.NoError(t, err)

	in := tensor.DataArrayFrom([]float32{
		0, 1, 2, 3,
		4, 5, 6, 7,
		8, 9, 0, 1,
		2, 3, 4, 5,
	})
	p.TrainForward(in)

	od := tensor.DataArrayFrom([]float32{9, 8, 7, 6})
	inDelta := p.UpdateDeltas(in, od)
	d := tensor.ViewArray3(inDelta.Raw(), 4, 4, 1)

	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			var want float32
			switch {
			case x == 1 && y == 1:
				want = 9
			case x == 3 && y == 1:
				want = 8
			case x == 1 && y == 2:
				want = 7
			case x == 3 && y == 3:
				want = 6
			}
			assert.Equal(t, want, d.At(x, y, 0), "at (%d,%d)", x, y)
		}
	}
}

func TestMaxPoolRegionMismatchErrors(t *testing.T) {
	_, err := NewMaxPool(tensor.Shape3{W: 5, H: 4, D: 1}, 2, 2)
	assert.ErrorIs(t, err, ErrRegionMismatch)
}
