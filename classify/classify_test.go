// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package classify

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnetkit/richard/event"
	"github.com/nnetkit/richard/loader"
	"github.com/nnetkit/richard/network"
	"github.com/nnetkit/richard/tensor"
)

type memDataSet struct {
	samples []loader.Sample
	next    int
	classes []string
}

func (m *memDataSet) LoadSamples(out *[]loader.Sample, fetchSize int) (int, error) {
	count := 0
	for count < fetchSize && m.next < len(m.samples) {
		*out = append(*out, m.samples[m.next])
		m.next++
		count++
	}
	return count, nil
}

func (m *memDataSet) SeekToBeginning() error { m.next = 0; return nil }

func (m *memDataSet) ClassOutputVector(label string) tensor.Vector {
	v := tensor.NewVector(len(m.classes))
	for i, c := range m.classes {
		if c == label {
			v.Set(i, 1)
		}
	}
	return v
}

func tinyNetwork(t *testing.T) *network.Network {
	top := network.Topology{
		Input: tensor.Shape3{W: 3, H: 1, D: 1},
		Hyperparams: network.Hyperparams{
			Epochs:        1,
			BatchSize:     2,
			MiniBatchSize: 1,
		},
		Hidden: []network.LayerSpec{
			{Kind: network.KindDense, Size: 4, LearnRate: 0.1, LearnRateDecay: 1},
		},
		Output: network.LayerSpec{Kind: network.KindOutput, Size: 2, LearnRate: 0.1, LearnRateDecay: 1},
	}
	n, err := network.New(top, nil)
	require.NoError(t, err)
	return n
}

func TestTrainThenTest(t *testing.T) {
	n := tinyNetwork(t)
	c := New(n, []byte(`{}`))

	mk := func(label string, v ...float32) loader.Sample {
		return loader.Sample{Label: label, Data: tensor.DataArrayFrom(v)}
	}
	samples := []loader.Sample{
		mk("a", 0.5, 0.3, 0.7),
		mk("b", 0.1, 0.9, 0.2),
	}

	var bus event.Bus
	trainData := &memDataSet{samples: samples, classes: []string{"a", "b"}}
	require.NoError(t, c.Train(trainData, &bus, 2))

	testData := &memDataSet{samples: samples, classes: []string{"a", "b"}}
	res, err := c.Test(testData, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Good+res.Bad)
	assert.GreaterOrEqual(t, res.Cost, float32(0))
}

func TestWriteToStreamRejectsUntrained(t *testing.T) {
	n := tinyNetwork(t)
	c := New(n, []byte(`{}`))

	var buf bytes.Buffer
	assert.ErrorIs(t, c.WriteToStream(&buf), ErrUntrained)
}

func TestWriteToStreamLayout(t *testing.T) {
	n := tinyNetwork(t)
	c := New(n, []byte(`{"a":1}`))
	c.trained = true

	var buf bytes.Buffer
	require.NoError(t, c.WriteToStream(&buf))
	assert.Greater(t, buf.Len(), 8+len(`{"a":1}`))
}
