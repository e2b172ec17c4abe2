// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package tensor

// Matrix is a rows × cols, row-major facade over a DataArray.
type Matrix struct {
	data       DataArray
	rows, cols int
}

// NewMatrix allocates an owning, zeroed Matrix with the given
// column and row counts.
func NewMatrix(cols, rows int) Matrix {
	return Matrix{data: NewDataArray(cols * rows), rows: rows, cols: cols}
}

// ViewMatrix returns a shallow Matrix over backing, which must
// contain cols*rows elements.
func ViewMatrix(backing []netfloat, cols, rows int) Matrix {
	return Matrix{data: ViewDataArray(backing), rows: rows, cols: cols}
}

// IsShallow reports whether m is a non-owning view.
func (m Matrix) IsShallow() bool { return m.data.IsShallow() }

// Rows returns the number of rows.
func (m Matrix) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m Matrix) Cols() int { return m.cols }

// Raw returns the underlying DataArray.
func (m Matrix) Raw() DataArray { return m.data }

// index returns the row-major flat index for (col, row).
func (m Matrix) index(col, row int) int { return row*m.cols + col }

// At returns the element at (col, row).
func (m Matrix) At(col, row int) netfloat { return m.data.At(m.index(col, row)) }

// Set assigns the element at (col, row).
func (m Matrix) Set(col, row int, x netfloat) { m.data.Set(m.index(col, row), x) }

// Clone returns a new owning Matrix with a copy of m's values.
func (m Matrix) Clone() Matrix { return Matrix{data: m.data.Clone(), rows: m.rows, cols: m.cols} }

// Assign copies src into m, following DataArray.Assign's shallow-view
// semantics.
func (m *Matrix) Assign(src Matrix) {
	m.rows, m.cols = src.rows, src.cols
	m.data.Assign(src.data)
}

// Zero sets every element to 0.
func (m Matrix) Zero() { m.data.Zero() }

// Fill sets every element to x.
func (m Matrix) Fill(x netfloat) { m.data.Fill(x) }

// RandomizeGaussian fills m with a zero-mean Gaussian of the given
// standard deviation.
func (m Matrix) RandomizeGaussian(standardDeviation float64) {
	m.data.RandomizeGaussian(standardDeviation)
}

// MulVector returns m·rhs.
func (m Matrix) MulVector(rhs Vector) Vector {
	v := NewVector(m.rows)
	for r := 0; r < m.rows; r++ {
		var sum netfloat
		for c := 0; c < m.cols; c++ {
			sum += m.At(c, r) * rhs.At(c)
		}
		v.Set(r, sum)
	}
	return v
}

// TransposeMulVector returns mᵀ·rhs.
func (m Matrix) TransposeMulVector(rhs Vector) Vector {
	v := NewVector(m.cols)
	for c := 0; c < m.cols; c++ {
		var sum netfloat
		for r := 0; r < m.rows; r++ {
			sum += m.At(c, r) * rhs.At(r)
		}
		v.Set(c, sum)
	}
	return v
}

// Add returns m + rhs.
func (m Matrix) Add(rhs Matrix) Matrix {
	return Matrix{data: m.data.Add(rhs.data), rows: m.rows, cols: m.cols}
}

// Sub returns m - rhs.
func (m Matrix) Sub(rhs Matrix) Matrix {
	return Matrix{data: m.data.Sub(rhs.data), rows: m.rows, cols: m.cols}
}

// Scale returns s*m.
func (m Matrix) Scale(s netfloat) Matrix {
	return Matrix{data: m.data.Scale(s), rows: m.rows, cols: m.cols}
}

// Transpose returns mᵀ.
func (m Matrix) Transpose() Matrix {
	t := NewMatrix(m.rows, m.cols)
	for c := 0; c < m.cols; c++ {
		for r := 0; r < m.rows; r++ {
			t.Set(r, c, m.At(c, r))
		}
	}
	return t
}

// Sum returns the sum of m's elements.
func (m Matrix) Sum() netfloat {
	var s netfloat
	for i := 0; i < m.data.Len(); i++ {
		s += m.data.At(i)
	}
	return s
}
