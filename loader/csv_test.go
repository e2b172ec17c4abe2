// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package loader

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnetkit/richard/tensor"
)

func testDetails() DataDetails {
	return DataDetails{
		Normalization: tensor.NormalizationParams{Min: 0, Max: 10},
		ClassLabels:   []string{"a", "b"},
		Shape:         tensor.Shape3{W: 2, H: 1, D: 1},
	}
}

func TestCSVLoadSamplesFetchSizeAndNormalization(t *testing.T) {
	data := "a,0,10\nb,5,5\n,2,8\n"
	r := bytes.NewReader([]byte(data))
	c := NewCSV(r, testDetails())

	var out []Sample
	n, err := c.LoadSamples(&out, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Label)
	assert.InDelta(t, float32(0), out[0].Data.At(0), 1e-6)
	assert.InDelta(t, float32(1), out[0].Data.At(1), 1e-6)
	assert.Equal(t, "b", out[1].Label)

	n, err = c.LoadSamples(&out, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, out, 3)
	assert.Equal(t, "_", out[2].Label)

	n, err = c.LoadSamples(&out, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCSVSeekToBeginning(t *testing.T) {
	data := "a,1,2\nb,3,4\n"
	r := bytes.NewReader([]byte(data))
	c := NewCSV(r, testDetails())

	var out []Sample
	_, err := c.LoadSamples(&out, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)

	require.NoError(t, c.SeekToBeginning())

	out = nil
	n, err := c.LoadSamples(&out, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCSVMultipleFetchesDoNotDropBufferedRows(t *testing.T) {
	var data bytes.Buffer
	for i := 0; i < 50; i++ {
		data.WriteString("a,1,2\n")
	}
	c := NewCSV(bytes.NewReader(data.Bytes()), testDetails())

	total := 0
	for {
		var out []Sample
		n, err := c.LoadSamples(&out, 7)
		require.NoError(t, err)
		total += n
		if n == 0 {
			break
		}
	}
	assert.Equal(t, 50, total)
}

func TestCSVClassOutputVector(t *testing.T) {
	c := NewCSV(bytes.NewReader(nil), testDetails())
	v := c.ClassOutputVector("b")
	assert.Equal(t, []float32{0, 1}, v.Raw().Raw())
}
