// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndTypedGetters(t *testing.T) {
	c, err := Parse([]byte(`{
		"epochs": 10,
		"learnRate": 0.01,
		"type": "dense",
		"classes": ["a", "b", "c"],
		"shape": [28, 28, 1],
		"hyperparams": {"epochs": 5, "batchSize": 32}
	}`))
	require.NoError(t, err)

	epochs, err := c.Int("epochs")
	require.NoError(t, err)
	assert.Equal(t, 10, epochs)

	lr, err := c.Float("learnRate")
	require.NoError(t, err)
	assert.InDelta(t, 0.01, lr, 1e-9)

	typ, err := c.String("type")
	require.NoError(t, err)
	assert.Equal(t, "dense", typ)

	classes, err := c.StringSeq("classes")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, classes)

	shape, err := c.IntSeq("shape")
	require.NoError(t, err)
	assert.Equal(t, []int{28, 28, 1}, shape)

	hp, err := c.Child("hyperparams")
	require.NoError(t, err)
	bs, err := hp.Int("batchSize")
	require.NoError(t, err)
	assert.Equal(t, 32, bs)
}

func TestUnknownKeyErrors(t *testing.T) {
	c, err := Parse([]byte(`{"a": 1}`))
	require.NoError(t, err)

	_, err = c.Int("missing")
	assert.Error(t, err)
}

func TestNumericWidening(t *testing.T) {
	c, err := Parse([]byte(`{"asFloat": 3}`))
	require.NoError(t, err)

	f, err := c.Float("asFloat")
	require.NoError(t, err)
	assert.Equal(t, 3.0, f)
}
