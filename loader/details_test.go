// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnetkit/richard/config"
)

func TestClassOutputVector(t *testing.T) {
	d := DataDetails{ClassLabels: []string{"cat", "dog", "bird"}}

	v := d.ClassOutputVector("dog")
	assert.Equal(t, []float32{0, 1, 0}, v.Raw().Raw())

	v = d.ClassOutputVector("unknown")
	assert.Equal(t, []float32{0, 0, 0}, v.Raw().Raw())
}

func TestParseDataDetails(t *testing.T) {
	c, err := config.Parse([]byte(`{
		"normalization": {"min": 0, "max": 255},
		"classes": ["a", "b"],
		"shape": [2, 2, 1]
	}`))
	require.NoError(t, err)

	d, err := ParseDataDetails(c)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, d.ClassLabels)
	assert.Equal(t, 4, d.Shape.Size())
	assert.InDelta(t, float32(0.5), d.Normalization.Apply(127.5), 1e-3)
}
