// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnetkit/richard/tensor"
)

func writeTestBMP(t *testing.T, path string, value byte) {
	t.Helper()
	data := encodeTestBMP(t, 1, 1, [][]byte{{value}})
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestImageDirectoryLoadsSamplesSortedByLabelThenPath(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "cat"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dog"), 0755))
	writeTestBMP(t, filepath.Join(root, "cat", "1.bmp"), 100)
	writeTestBMP(t, filepath.Join(root, "dog", "1.bmp"), 200)

	details := DataDetails{
		Normalization: tensor.NormalizationParams{Min: 0, Max: 255},
		ClassLabels:   []string{"cat", "dog"},
		Shape:         tensor.Shape3{W: 1, H: 1, D: 1},
	}
	ds, err := NewImageDirectory(root, details)
	require.NoError(t, err)

	var out []Sample
	n, err := ds.LoadSamples(&out, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, out, 2)
	assert.Equal(t, "cat", out[0].Label)
	assert.InDelta(t, float32(100.0/255), out[0].Data.At(0), 1e-6)
	assert.Equal(t, "dog", out[1].Label)
	assert.InDelta(t, float32(200.0/255), out[1].Data.At(0), 1e-6)

	n, err = ds.LoadSamples(&out, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, ds.SeekToBeginning())
	out = nil
	n, err = ds.LoadSamples(&out, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
