// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCrossCorrelate(t *testing.T) {
	// 3x3x1 image, 2x2x1 kernel.
	img := Array3From(Shape3{3, 3, 1}, []netfloat{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	ker := NewKernel(2, 2, 1)
	ker.Set(0, 0, 0, 1)
	ker.Set(1, 0, 0, 0)
	ker.Set(0, 1, 0, 0)
	ker.Set(1, 1, 0, -1)

	out := CrossCorrelate(img, ker)
	assert.Equal(t, 2, out.W())
	assert.Equal(t, 2, out.H())
	// out(0,0) = img(0,0)*1 + img(1,1)*-1 = 1-5 = -4
	assert.Equal(t, netfloat(-4), out.At(0, 0))
	// out(1,1) = img(1,1)*1 + img(2,2)*-1 = 5-9 = -4
	assert.Equal(t, netfloat(-4), out.At(1, 1))
}

func TestConvolutionIsReversedCrossCorrelation(t *testing.T) {
	img := NewArray3(5, 5, 2)
	img.RandomizeGaussian(1)
	ker := NewKernel(3, 3, 2)
	ker.RandomizeGaussian(1)

	valid := Convolve(img, ker)
	reversedValid := CrossCorrelate(img, ReverseSpatial(ker))
	for y := 0; y < valid.H(); y++ {
		for x := 0; x < valid.W(); x++ {
			assert.InDelta(t, valid.At(x, y), reversedValid.At(x, y), 1e-6)
		}
	}

	full := FullConvolve(img, ker)
	reversedFull := FullCrossCorrelate(img, ReverseSpatial(ker))
	for y := 0; y < full.H(); y++ {
		for x := 0; x < full.W(); x++ {
			assert.InDelta(t, full.At(x, y), reversedFull.At(x, y), 1e-6)
		}
	}
}

func TestArray3Slice(t *testing.T) {
	a := NewArray3(2, 2, 2)
	a.Set(0, 0, 1, 42)
	s := a.Slice(1)
	assert.Equal(t, netfloat(42), s.At(0, 0))
	s.Set(1, 1, 7)
	assert.Equal(t, netfloat(7), a.At(1, 1, 1))
}

func TestShallowViewAliasing(t *testing.T) {
	backing := []netfloat{1, 2, 3}
	owned := DataArrayFrom(backing)
	view := ViewDataArray(backing)

	view.Set(0, 99)
	assert.Equal(t, netfloat(99), backing[0])

	var target DataArray
	target.Assign(view)
	target.Set(0, 1)
	assert.Equal(t, netfloat(99), backing[0], "assigning a view to an owned target must copy")

	var v2 DataArray = ViewDataArray(append([]netfloat{}, backing...))
	v2.Assign(owned)
	assert.NotSame(t, &owned.data[0], &v2.data[0])
}
