// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package network builds and owns the ordered layer sequence:
// forward chain, reverse backprop chain, and parameter-update
// fan-out.
package network

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/nnetkit/richard/layer"
	"github.com/nnetkit/richard/tensor"
)

// ErrBatchSizeMismatch means batchSize is not a multiple of
// miniBatchSize.
var ErrBatchSizeMismatch = errors.New("network: batchSize must be a multiple of miniBatchSize")

// ErrSingleLayerNetwork means a topology declared exactly one layer.
// Per spec.md §9(ii), the output layer's backprop branch needs a
// predecessor's activations, which a single-layer network has none
// of; such a topology is rejected at construction rather than
// triggering undefined behavior at index -1.
var ErrSingleLayerNetwork = errors.New("network: a network must have at least two layers")

// ErrShapeMismatch means layer i's output element count does not
// equal layer i+1's declared input size.
var ErrShapeMismatch = errors.New("network: layer output/input size mismatch")

// Network owns the ordered layer sequence built from a Topology.
type Network struct {
	input tensor.Shape3
	hp    Hyperparams
	layers []layer.Layer

	abort atomic.Bool
}

// New constructs a Network from top, either with freshly randomized
// parameters (params == nil) or by consuming a parameter stream in
// the same order WriteParams produced it.
func New(top Topology, params io.Reader) (*Network, error) {
	if len(top.Hidden)+1 < 2 {
		return nil, ErrSingleLayerNetwork
	}

	n := &Network{input: top.Input, hp: top.Hyperparams}

	cur := top.Input
	for i, spec := range top.Hidden {
		l, next, err := buildLayer(spec, cur, params)
		if err != nil {
			return nil, fmt.Errorf("network: hidden layer %d: %w", i, err)
		}
		n.layers = append(n.layers, l)
		cur = next
	}

	outLayer, _, err := buildLayer(top.Output, cur, params)
	if err != nil {
		return nil, fmt.Errorf("network: output layer: %w", err)
	}
	n.layers = append(n.layers, outLayer)

	if err := n.checkShapeComposition(); err != nil {
		return nil, err
	}
	return n, nil
}

func buildLayer(spec LayerSpec, in tensor.Shape3, params io.Reader) (layer.Layer, tensor.Shape3, error) {
	fresh := params == nil
	switch spec.Kind {
	case KindDense:
		var l *layer.Dense
		var err error
		if fresh {
			l = layer.NewDense(in.Size(), spec.Size, spec.LearnRate, spec.LearnRateDecay, spec.DropoutRate)
		} else {
			l, err = layer.RestoreDense(params, in.Size(), spec.Size, spec.LearnRate, spec.LearnRateDecay, spec.DropoutRate)
		}
		if err != nil {
			return nil, tensor.Shape3{}, err
		}
		return l, l.OutputShape(), nil
	case KindOutput:
		var l *layer.Output
		var err error
		if fresh {
			l = layer.NewOutput(in.Size(), spec.Size, spec.LearnRate, spec.LearnRateDecay)
		} else {
			l, err = layer.RestoreOutput(params, in.Size(), spec.Size, spec.LearnRate, spec.LearnRateDecay)
		}
		if err != nil {
			return nil, tensor.Shape3{}, err
		}
		return l, l.OutputShape(), nil
	case KindConvolutional:
		var l *layer.Conv
		var err error
		if fresh {
			l = layer.NewConv(in, spec.KernelW, spec.KernelH, spec.Depth, spec.LearnRate, spec.LearnRateDecay, spec.DropoutRate)
		} else {
			l, err = layer.RestoreConv(params, in, spec.KernelW, spec.KernelH, spec.Depth, spec.LearnRate, spec.LearnRateDecay, spec.DropoutRate)
		}
		if err != nil {
			return nil, tensor.Shape3{}, err
		}
		return l, l.OutputShape(), nil
	case KindMaxPooling:
		l, err := layer.NewMaxPool(in, spec.RegionW, spec.RegionH)
		if err != nil {
			return nil, tensor.Shape3{}, err
		}
		return l, l.OutputShape(), nil
	default:
		return nil, tensor.Shape3{}, fmt.Errorf("network: unknown layer kind %q", spec.Kind)
	}
}

func (n *Network) checkShapeComposition() error {
	for i := 0; i+1 < len(n.layers); i++ {
		got := n.layers[i].OutputShape().Size()
		want := n.layers[i+1].InputSize()
		if got != want {
			return fmt.Errorf("%w: layer %d outputs %d elements, layer %d expects %d", ErrShapeMismatch, i, got, i+1, want)
		}
	}
	return nil
}

// OutputShape returns the final layer's output extent.
func (n *Network) OutputShape() tensor.Shape3 { return n.layers[len(n.layers)-1].OutputShape() }

// InputShape returns the network's declared input extent.
func (n *Network) InputShape() tensor.Shape3 { return n.input }

// Hyperparams returns the network's hyperparameter triple.
func (n *Network) Hyperparams() Hyperparams { return n.hp }

// NumLayers returns the number of layers in declaration order.
func (n *Network) NumLayers() int { return len(n.layers) }

// Abort requests that any in-progress training loop observing this
// network stop at its next checkpoint. Safe to call from any
// goroutine.
func (n *Network) Abort() { n.abort.Store(true) }

// Aborted reports whether Abort has been called.
func (n *Network) Aborted() bool { return n.abort.Load() }

// ResetAbort clears the abort flag, e.g. before starting a new run.
func (n *Network) ResetAbort() { n.abort.Store(false) }

// TrainSample runs one sample through the forward chain (storing
// intermediates) then the reverse chain (accumulating gradients),
// returning the sample's cost ½·‖y-A‖².
func (n *Network) TrainSample(x, y tensor.DataArray) float32 {
	activations := make([]tensor.DataArray, len(n.layers)+1)
	activations[0] = x
	for i, l := range n.layers {
		activations[i+1] = l.TrainForward(activations[i])
	}

	final := activations[len(activations)-1]
	cost := squareMagnitudeDiff(y, final) / 2

	delta := y
	for i := len(n.layers) - 1; i >= 0; i-- {
		delta = n.layers[i].UpdateDeltas(activations[i], delta)
	}

	return cost
}

func squareMagnitudeDiff(y, a tensor.DataArray) float32 {
	var s float32
	for i := 0; i < y.Len(); i++ {
		d := y.At(i) - a.At(i)
		s += d * d
	}
	return s
}

// Evaluate runs x through the evaluation forward chain (no stored
// state, no training-only dropout) and returns the final activations.
func (n *Network) Evaluate(x tensor.DataArray) tensor.DataArray {
	a := x
	for _, l := range n.layers {
		a = l.EvalForward(a)
	}
	return a
}

// UpdateParams applies every layer's accumulated gradients for the
// given epoch, in declaration order, then zeros the accumulators.
func (n *Network) UpdateParams(epoch int) {
	for _, l := range n.layers {
		l.UpdateParams(epoch)
	}
}

// WriteParams persists every layer's parameters, in declaration
// order, in the fixed little-endian layout of spec.md §6.1.
func (n *Network) WriteParams(w io.Writer) error {
	for i, l := range n.layers {
		if err := l.WriteToStream(w); err != nil {
			return fmt.Errorf("network: layer %d: %w", i, err)
		}
	}
	return nil
}
