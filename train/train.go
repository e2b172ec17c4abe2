// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package train implements the epoch/batch/mini-batch training loop:
// sample prefetch overlapped with compute, gradient-accumulation
// policy, abort checks, and event dispatch.
package train

import (
	"errors"
	"fmt"
	"log"

	"github.com/nnetkit/richard/event"
	"github.com/nnetkit/richard/loader"
	"github.com/nnetkit/richard/network"
)

// ErrBatchSizeMismatch means the network's batchSize is not a
// multiple of its miniBatchSize.
var ErrBatchSizeMismatch = errors.New("train: batchSize must be a multiple of miniBatchSize")

// ErrFetchSizeMismatch means fetchSize is not a multiple of
// miniBatchSize, a precondition of the GPU path.
var ErrFetchSizeMismatch = errors.New("train: fetchSize must be a multiple of miniBatchSize")

// ErrEmptyDataset means the first LoadSamples call returned zero
// samples.
var ErrEmptyDataset = errors.New("train: data set is empty")

// Driver runs a network through epochs against a labelled data set,
// raising events and honoring Network.Abort at checkpoint boundaries.
type Driver struct {
	net       *network.Network
	data      loader.LabelledDataSet
	bus       *event.Bus
	fetchSize int
	logger    *log.Logger
}

// NewDriver constructs a Driver. logger may be nil, in which case
// progress lines are discarded.
func NewDriver(net *network.Network, data loader.LabelledDataSet, bus *event.Bus, fetchSize int, logger *log.Logger) *Driver {
	if logger == nil {
		logger = log.New(discard{}, "", 0)
	}
	return &Driver{net: net, data: data, bus: bus, fetchSize: fetchSize, logger: logger}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

type fetchResult struct {
	samples []loader.Sample
	err     error
}

func (d *Driver) fetchAsync() <-chan fetchResult {
	ch := make(chan fetchResult, 1)
	go func() {
		var samples []loader.Sample
		_, err := d.data.LoadSamples(&samples, d.fetchSize)
		ch <- fetchResult{samples: samples, err: err}
	}()
	return ch
}

// Run executes the full epoch loop per spec.md §4.4, stopping early
// if the network's abort flag is observed at an epoch or sample
// boundary (checked after every sample, whichever back-end the
// network uses).
func (d *Driver) Run() error {
	hp := d.net.Hyperparams()
	if hp.MiniBatchSize <= 0 || hp.BatchSize%hp.MiniBatchSize != 0 {
		return ErrBatchSizeMismatch
	}
	if d.fetchSize%hp.MiniBatchSize != 0 {
		return ErrFetchSizeMismatch
	}

	for epoch := 0; epoch < hp.Epochs; epoch++ {
		d.bus.Raise(event.EpochStarted{Epoch: epoch, Total: hp.Epochs})
		d.logger.Printf("train: epoch %d/%d started", epoch+1, hp.Epochs)

		var costSum float32
		processed := 0
		first := true

		pending := d.fetchAsync()
		for {
			res := <-pending
			if res.err != nil {
				return fmt.Errorf("train: %w", res.err)
			}
			if first {
				if len(res.samples) == 0 {
					return ErrEmptyDataset
				}
				first = false
			}
			if len(res.samples) == 0 {
				break
			}

			pending = d.fetchAsync()

			stop := d.processFetch(res.samples, hp, epoch, &processed, &costSum)
			if stop || processed >= hp.BatchSize {
				break
			}
		}

		avgCost := float32(0)
		if processed > 0 {
			avgCost = costSum / float32(processed)
		}
		d.bus.Raise(event.EpochCompleted{Epoch: epoch, Total: hp.Epochs, Cost: avgCost})
		d.logger.Printf("train: epoch %d/%d completed, cost=%v", epoch+1, hp.Epochs, avgCost)

		if err := d.data.SeekToBeginning(); err != nil {
			return fmt.Errorf("train: %w", err)
		}
		if d.net.Aborted() {
			break
		}
	}
	return nil
}

// processFetch feeds one prefetched batch through the network in
// mini-batch slices, reporting whether the loop should stop (abort
// observed or batchSize reached mid-fetch).
func (d *Driver) processFetch(samples []loader.Sample, hp network.Hyperparams, epoch int, processed *int, costSum *float32) bool {
	for start := 0; start < len(samples); {
		remaining := hp.BatchSize - *processed
		if remaining <= 0 {
			return true
		}
		// Tail mini-batch overrun: never over-read past what was
		// prefetched or past the remaining batch budget.
		size := hp.MiniBatchSize
		if size > remaining {
			size = remaining
		}
		end := start + size
		if end > len(samples) {
			end = len(samples)
		}

		for _, s := range samples[start:end] {
			y := d.data.ClassOutputVector(s.Label)
			cost := d.net.TrainSample(s.Data, y.Raw())
			*costSum += cost
			*processed++

			if *processed%hp.MiniBatchSize == 0 || *processed == hp.BatchSize {
				d.net.UpdateParams(epoch)
			}

			d.bus.Raise(event.SampleProcessed{Index: *processed, Total: hp.BatchSize})

			if d.net.Aborted() {
				return true
			}
			if *processed >= hp.BatchSize {
				return true
			}
		}
		start = end
	}
	return false
}
