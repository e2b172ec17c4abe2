// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package tensor

// Vector is a length-N facade over a DataArray.
type Vector struct {
	data DataArray
}

// NewVector allocates an owning, zeroed Vector of the given length.
func NewVector(length int) Vector {
	return Vector{data: NewDataArray(length)}
}

// VectorFrom wraps values in a new owning Vector, copying them.
func VectorFrom(values []netfloat) Vector {
	return Vector{data: DataArrayFrom(values)}
}

// ViewVector returns a shallow Vector over backing.
func ViewVector(backing []netfloat) Vector {
	return Vector{data: ViewDataArray(backing)}
}

// IsShallow reports whether v is a non-owning view.
func (v Vector) IsShallow() bool { return v.data.IsShallow() }

// Len returns v's length.
func (v Vector) Len() int { return v.data.Len() }

// At returns the element at index i.
func (v Vector) At(i int) netfloat { return v.data.At(i) }

// Set assigns the element at index i.
func (v Vector) Set(i int, x netfloat) { v.data.Set(i, x) }

// Raw returns the underlying DataArray.
func (v Vector) Raw() DataArray { return v.data }

// Clone returns a new owning Vector with a copy of v's values.
func (v Vector) Clone() Vector { return Vector{data: v.data.Clone()} }

// Assign copies src into v, following DataArray.Assign's shallow-view
// semantics.
func (v *Vector) Assign(src Vector) { v.data.Assign(src.data) }

// Zero sets every element to 0.
func (v Vector) Zero() { v.data.Zero() }

// Fill sets every element to x.
func (v Vector) Fill(x netfloat) { v.data.Fill(x) }

// RandomizeGaussian fills v with a zero-mean Gaussian of the given
// standard deviation.
func (v Vector) RandomizeGaussian(standardDeviation float64) {
	v.data.RandomizeGaussian(standardDeviation)
}

// Add returns v + rhs.
func (v Vector) Add(rhs Vector) Vector { return Vector{data: v.data.Add(rhs.data)} }

// Sub returns v - rhs.
func (v Vector) Sub(rhs Vector) Vector { return Vector{data: v.data.Sub(rhs.data)} }

// Scale returns s*v.
func (v Vector) Scale(s netfloat) Vector { return Vector{data: v.data.Scale(s)} }

// Hadamard returns v ⊙ rhs.
func (v Vector) Hadamard(rhs Vector) Vector { return Vector{data: v.data.Hadamard(rhs.data)} }

// Outer returns the outer product v ⊗ rhs as a Matrix with
// v.Len() rows and rhs.Len() columns.
func (v Vector) Outer(rhs Vector) Matrix {
	m := NewMatrix(rhs.Len(), v.Len())
	for r := 0; r < v.Len(); r++ {
		vr := v.At(r)
		for c := 0; c < rhs.Len(); c++ {
			m.Set(c, r, vr*rhs.At(c))
		}
	}
	return m
}

// Dot returns the dot product of v and rhs.
func (v Vector) Dot(rhs Vector) netfloat { return v.data.Dot(rhs.data) }

// SquareMagnitude returns the sum of squares of v's elements.
func (v Vector) SquareMagnitude() netfloat { return v.data.SquareMagnitude() }

// ComputeTransform returns a new Vector with f applied to every
// element of v.
func (v Vector) ComputeTransform(f func(netfloat) netfloat) Vector {
	return Vector{data: v.data.ComputeTransform(f)}
}

// TransformInPlace applies f to every element of v, in place.
func (v Vector) TransformInPlace(f func(netfloat) netfloat) { v.data.TransformInPlace(f) }

// ArgMax returns the index of v's largest element.
func (v Vector) ArgMax() int {
	best := 0
	for i := 1; i < v.Len(); i++ {
		if v.At(i) > v.At(best) {
			best = i
		}
	}
	return best
}
