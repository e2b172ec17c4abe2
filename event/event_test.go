// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListenAndRaiseInOrder(t *testing.T) {
	var b Bus
	var order []int

	b.Listen(EpochStartedID, func(Event) { order = append(order, 1) })
	b.Listen(EpochStartedID, func(Event) { order = append(order, 2) })
	b.Listen(SampleProcessedID, func(Event) { order = append(order, 99) })

	b.Raise(EpochStarted{Epoch: 0, Total: 1})

	assert.Equal(t, []int{1, 2}, order)
}

func TestCancelSubscription(t *testing.T) {
	var b Bus
	calls := 0

	sub := b.Listen(EpochStartedID, func(Event) { calls++ })
	b.Raise(EpochStarted{})
	sub.Cancel()
	b.Raise(EpochStarted{})

	assert.Equal(t, 1, calls)
}

func TestEpochEventOrdering(t *testing.T) {
	var b Bus
	var seq []string

	b.Listen(EpochStartedID, func(Event) { seq = append(seq, "start") })
	b.Listen(SampleProcessedID, func(Event) { seq = append(seq, "sample") })
	b.Listen(EpochCompletedID, func(Event) { seq = append(seq, "complete") })

	b.Raise(EpochStarted{Epoch: 0, Total: 1})
	b.Raise(SampleProcessed{Index: 1, Total: 4})
	b.Raise(SampleProcessed{Index: 2, Total: 4})
	b.Raise(EpochCompleted{Epoch: 0, Total: 1, Cost: 0.5})

	assert.Equal(t, []string{"start", "sample", "sample", "complete"}, seq)
}
