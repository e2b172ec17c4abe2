// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package train

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnetkit/richard/event"
	"github.com/nnetkit/richard/loader"
	"github.com/nnetkit/richard/network"
	"github.com/nnetkit/richard/tensor"
)

// memDataSet is an in-memory LabelledDataSet for driver tests.
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
			Epochs:        2,
			BatchSize:     4,
			MiniBatchSize: 2,
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

func tinySamples() []loader.Sample {
	mk := func(label string, v ...float32) loader.Sample {
		return loader.Sample{Label: label, Data: tensor.DataArrayFrom(v)}
	}
	return []loader.Sample{
		mk("a", 0.1, 0.2, 0.3),
		mk("b", 0.4, 0.5, 0.6),
		mk("a", 0.2, 0.1, 0.4),
		mk("b", 0.3, 0.3, 0.3),
	}
}

func TestDriverRunRaisesEventsInOrder(t *testing.T) {
	n := tinyNetwork(t)
	ds := &memDataSet{samples: tinySamples(), classes: []string{"a", "b"}}
	var bus event.Bus

	var order []string
	bus.Listen(event.EpochStartedID, func(event.Event) { order = append(order, "start") })
	bus.Listen(event.SampleProcessedID, func(event.Event) { order = append(order, "sample") })
	bus.Listen(event.EpochCompletedID, func(e event.Event) {
		order = append(order, "complete")
		c := e.(event.EpochCompleted)
		assert.GreaterOrEqual(t, c.Cost, float32(0))
	})

	d := NewDriver(n, ds, &bus, 4, nil)
	require.NoError(t, d.Run())

	require.NotEmpty(t, order)
	assert.Equal(t, "start", order[0])
	assert.Equal(t, "complete", order[len(order)-1])
}

func TestDriverRejectsBatchSizeMismatch(t *testing.T) {
	// ParseTopology itself rejects this shape; network.New does not
	// re-check it, so construct a Topology with mismatched sizes
	// directly to exercise the driver's own guard.
	top := network.Topology{
		Input: tensor.Shape3{W: 2, H: 1, D: 1},
		Hyperparams: network.Hyperparams{
			Epochs:        1,
			BatchSize:     3,
			MiniBatchSize: 2,
		},
		Hidden: []network.LayerSpec{
			{Kind: network.KindDense, Size: 2, LearnRate: 0.1, LearnRateDecay: 1},
		},
		Output: network.LayerSpec{Kind: network.KindOutput, Size: 2, LearnRate: 0.1, LearnRateDecay: 1},
	}
	n, err := network.New(top, nil)
	require.NoError(t, err)

	ds := &memDataSet{samples: tinySamples(), classes: []string{"a", "b"}}
	var bus event.Bus
	d := NewDriver(n, ds, &bus, 4, nil)
	assert.ErrorIs(t, d.Run(), ErrBatchSizeMismatch)
}

func TestDriverRejectsEmptyDataset(t *testing.T) {
	n := tinyNetwork(t)
	ds := &memDataSet{classes: []string{"a", "b"}}
	var bus event.Bus

	d := NewDriver(n, ds, &bus, 4, nil)
	assert.ErrorIs(t, d.Run(), ErrEmptyDataset)
}
