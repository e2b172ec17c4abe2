// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package tensor implements the numeric containers shared by the
// layer engine and the GPU runtime: a shallow-view-capable flat
// buffer (DataArray) and strongly-shaped facades over it (Vector,
// Matrix, Array2, Array3, Kernel).
package tensor

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// netfloat is the network's scalar type.
type netfloat = float32

// Shape3 is an unsigned (W, H, D) triple. Its product is the flat
// element count of the tensor it describes.
type Shape3 struct {
	W, H, D int
}

// Size returns W*H*D.
func (s Shape3) Size() int { return s.W * s.H * s.D }

// NormalizationParams describes the per-scalar normalization applied
// by the loaders: (x - Min) / (Max - Min).
type NormalizationParams struct {
	Min, Max netfloat
}

// Apply normalizes x into [0,1] (assuming x is within [Min,Max]).
func (n NormalizationParams) Apply(x netfloat) netfloat {
	return (x - n.Min) / (n.Max - n.Min)
}

// DataArray is a contiguous buffer of netfloat that is either owned
// or a shallow, non-owning view into another DataArray's storage. A
// shallow view is only valid while its backing storage is alive.
type DataArray struct {
	data    []netfloat
	shallow bool
}

// NewDataArray allocates a new, zeroed, owning DataArray of the
// given length.
func NewDataArray(size int) DataArray {
	return DataArray{data: make([]netfloat, size)}
}

// DataArrayFrom wraps existing values in a new owning DataArray,
// copying them.
func DataArrayFrom(values []netfloat) DataArray {
	d := make([]netfloat, len(values))
	copy(d, values)
	return DataArray{data: d}
}

// ViewDataArray returns a shallow DataArray that borrows backing's
// storage. Writes through the view are observed in backing, and vice
// versa; the view must not outlive backing.
func ViewDataArray(backing []netfloat) DataArray {
	return DataArray{data: backing, shallow: true}
}

// IsShallow reports whether d is a non-owning view.
func (d DataArray) IsShallow() bool { return d.shallow }

// Len returns the number of elements in d.
func (d DataArray) Len() int { return len(d.data) }

// At returns the element at index i.
func (d DataArray) At(i int) netfloat { return d.data[i] }

// Set assigns the element at index i.
func (d DataArray) Set(i int, v netfloat) { d.data[i] = v }

// Raw returns the underlying slice. For a shallow DataArray this
// aliases the backing storage; callers must not retain it past the
// backing array's lifetime.
func (d DataArray) Raw() []netfloat { return d.data }

// Clone returns a new owning DataArray with a copy of d's values.
func (d DataArray) Clone() DataArray {
	return DataArrayFrom(d.data)
}

// Assign copies src's values into d. If d is a shallow view, the
// copy writes through to the backing storage in place (the view's
// pointer is never reseated); otherwise d takes ownership of a fresh
// copy, even when src itself is a shallow view (an r-value assignment
// always copies, never aliases).
func (d *DataArray) Assign(src DataArray) {
	if d.shallow {
		copy(d.data, src.data)
		return
	}
	d.data = append(make([]netfloat, 0, len(src.data)), src.data...)
}

// Concat returns a new owning DataArray whose length is the sum of
// a's and b's.
func Concat(a, b DataArray) DataArray {
	out := make([]netfloat, 0, len(a.data)+len(b.data))
	out = append(out, a.data...)
	out = append(out, b.data...)
	return DataArray{data: out}
}

// Zero sets every element to 0.
func (d DataArray) Zero() {
	for i := range d.data {
		d.data[i] = 0
	}
}

// Fill sets every element to x.
func (d DataArray) Fill(x netfloat) {
	for i := range d.data {
		d.data[i] = x
	}
}

// RandomizeGaussian fills d with samples from a zero-mean Gaussian
// of the given standard deviation.
func (d DataArray) RandomizeGaussian(standardDeviation float64) {
	dist := distuv.Normal{
		Mu:    0,
		Sigma: standardDeviation,
		Src:   rand.NewPCG(rand.Uint64(), rand.Uint64()),
	}
	for i := range d.data {
		d.data[i] = netfloat(dist.Rand())
	}
}

// Add returns a new owning DataArray containing d + rhs, element-wise.
func (d DataArray) Add(rhs DataArray) DataArray {
	out := make([]netfloat, len(d.data))
	for i := range out {
		out[i] = d.data[i] + rhs.data[i]
	}
	return DataArray{data: out}
}

// Sub returns a new owning DataArray containing d - rhs, element-wise.
func (d DataArray) Sub(rhs DataArray) DataArray {
	out := make([]netfloat, len(d.data))
	for i := range out {
		out[i] = d.data[i] - rhs.data[i]
	}
	return DataArray{data: out}
}

// Scale returns a new owning DataArray containing s*d, element-wise.
func (d DataArray) Scale(s netfloat) DataArray {
	out := make([]netfloat, len(d.data))
	for i := range out {
		out[i] = s * d.data[i]
	}
	return DataArray{data: out}
}

// Hadamard returns a new owning DataArray containing d ⊙ rhs.
func (d DataArray) Hadamard(rhs DataArray) DataArray {
	out := make([]netfloat, len(d.data))
	for i := range out {
		out[i] = d.data[i] * rhs.data[i]
	}
	return DataArray{data: out}
}

// Dot returns the dot product of d and rhs.
func (d DataArray) Dot(rhs DataArray) netfloat {
	var s netfloat
	for i := range d.data {
		s += d.data[i] * rhs.data[i]
	}
	return s
}

// SquareMagnitude returns the sum of squares of d's elements.
func (d DataArray) SquareMagnitude() netfloat {
	var s netfloat
	for _, x := range d.data {
		s += x * x
	}
	return s
}

// ComputeTransform returns a new owning DataArray with f applied to
// every element of d.
func (d DataArray) ComputeTransform(f func(netfloat) netfloat) DataArray {
	out := make([]netfloat, len(d.data))
	for i, x := range d.data {
		out[i] = f(x)
	}
	return DataArray{data: out}
}

// TransformInPlace applies f to every element of d, in place.
func (d DataArray) TransformInPlace(f func(netfloat) netfloat) {
	for i, x := range d.data {
		d.data[i] = f(x)
	}
}
