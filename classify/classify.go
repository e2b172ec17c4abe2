// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package classify implements the top-level training/evaluation
// facade: a Classifier owns one network, trains it via the training
// driver, tests it with a one-batch look-ahead prefetch, and persists
// its parameters alongside the configuration that reconstructs it.
package classify

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/nnetkit/richard/event"
	"github.com/nnetkit/richard/loader"
	"github.com/nnetkit/richard/network"
	"github.com/nnetkit/richard/tensor"
	"github.com/nnetkit/richard/train"
)

// ErrUntrained is returned by WriteToStream when called before Train
// has completed successfully.
var ErrUntrained = errors.New("classify: classifier has no trained network")

// Results holds the outcome of Test.
type Results struct {
	Good, Bad int
	Cost      netfloat
}

type netfloat = float32

// Classifier owns a network and a trained flag.
type Classifier struct {
	net     *network.Network
	config  json.RawMessage
	trained bool
}

// New wraps an already-constructed network, alongside the raw JSON
// configuration that produced it (persisted verbatim by
// WriteToStream per spec.md §6.1).
func New(net *network.Network, config json.RawMessage) *Classifier {
	return &Classifier{net: net, config: config}
}

// Train delegates to the training driver, fetching fetchSize samples
// at a time from data and raising events on bus.
func (c *Classifier) Train(data loader.LabelledDataSet, bus *event.Bus, fetchSize int) error {
	d := train.NewDriver(c.net, data, bus, fetchSize, nil)
	if err := d.Run(); err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	c.trained = true
	return nil
}

// Test evaluates every sample in data against the network, comparing
// the argmax of the network's output to the argmax of the sample's
// one-hot label. Samples are fetched with a one-batch look-ahead: the
// next fetch is issued while the current one is scored.
func (c *Classifier) Test(data loader.LabelledDataSet, fetchSize int) (Results, error) {
	var res Results
	var costSum netfloat
	n := 0

	type result struct {
		samples []loader.Sample
		err     error
	}
	fetchAsync := func() <-chan result {
		ch := make(chan result, 1)
		go func() {
			var samples []loader.Sample
			_, err := data.LoadSamples(&samples, fetchSize)
			ch <- result{samples: samples, err: err}
		}()
		return ch
	}

	pending := fetchAsync()
	for {
		r := <-pending
		if r.err != nil {
			return res, fmt.Errorf("classify: %w", r.err)
		}
		if len(r.samples) == 0 {
			break
		}
		pending = fetchAsync()

		for _, s := range r.samples {
			out := c.net.Evaluate(s.Data)
			label := data.ClassOutputVector(s.Label)

			if argMax(out) == argMax(label.Raw()) {
				res.Good++
			} else {
				res.Bad++
			}
			costSum += squareMagnitudeDiff(label.Raw(), out)
			n++
		}
	}

	if n > 0 {
		res.Cost = costSum / netfloat(n) / 2
	}
	return res, nil
}

func argMax(d tensor.DataArray) int {
	best := 0
	for i := 1; i < d.Len(); i++ {
		if d.At(i) > d.At(best) {
			best = i
		}
	}
	return best
}

func squareMagnitudeDiff(y, a tensor.DataArray) netfloat {
	var s netfloat
	for i := 0; i < y.Len(); i++ {
		d := y.At(i) - a.At(i)
		s += d * d
	}
	return s
}

// WriteToStream persists the classifier per spec.md §6.1: an 8-byte
// little-endian configuration length, the raw JSON configuration,
// then the network's parameters in declaration order.
func (c *Classifier) WriteToStream(w io.Writer) error {
	if !c.trained {
		return ErrUntrained
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(c.config))); err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	if _, err := w.Write(c.config); err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	return c.net.WriteParams(w)
}

// Abort forwards to the underlying network.
func (c *Classifier) Abort() { c.net.Abort() }
