// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package layer

import (
	"io"

	"github.com/nnetkit/richard/tensor"
)

// Output is the final layer of a network: same parameter shape as
// Dense (sigmoid activation, no dropout), but UpdateDeltas treats its
// second argument as the expected one-hot label y rather than a
// chained delta from a successor layer.
type Output struct {
	inputSize int
	size      int

	w tensor.Matrix
	b tensor.Vector

	gradW tensor.Matrix
	gradB tensor.Vector

	learnRate      float32
	learnRateDecay float32

	lastInput tensor.Vector
	lastZ     tensor.Vector
	lastA     tensor.Vector
}

// NewOutput constructs a fresh Output layer.
func NewOutput(inputSize, size int, learnRate, learnRateDecay float32) *Output {
	o := &Output{
		inputSize:      inputSize,
		size:           size,
		w:              tensor.NewMatrix(inputSize, size),
		b:              tensor.NewVector(size),
		gradW:          tensor.NewMatrix(inputSize, size),
		gradB:          tensor.NewVector(size),
		learnRate:      learnRate,
		learnRateDecay: learnRateDecay,
	}
	o.w.RandomizeGaussian(denseWeightStdDev)
	return o
}

// RestoreOutput constructs an Output layer reading parameters from r.
func RestoreOutput(r io.Reader, inputSize, size int, learnRate, learnRateDecay float32) (*Output, error) {
	o := &Output{
		inputSize:      inputSize,
		size:           size,
		gradW:          tensor.NewMatrix(inputSize, size),
		gradB:          tensor.NewVector(size),
		learnRate:      learnRate,
		learnRateDecay: learnRateDecay,
	}
	b, w, err := readDenseParams(r, inputSize, size)
	if err != nil {
		return nil, err
	}
	o.b, o.w = b, w
	return o, nil
}

// OutputShape implements Layer.
func (o *Output) OutputShape() tensor.Shape3 { return tensor.Shape3{W: o.size, H: 1, D: 1} }

// InputSize implements Layer.
func (o *Output) InputSize() int { return o.inputSize }

// TrainForward implements Layer.
func (o *Output) TrainForward(inputs tensor.DataArray) tensor.DataArray {
	o.lastInput = tensor.ViewVector(inputs.Raw()).Clone()
	x := tensor.ViewVector(inputs.Raw())
	o.lastZ = o.w.MulVector(x).Add(o.b)
	o.lastA = o.lastZ.ComputeTransform(sigmoid)
	return o.lastA.Raw()
}

// EvalForward implements Layer.
func (o *Output) EvalForward(inputs tensor.DataArray) tensor.DataArray {
	x := tensor.ViewVector(inputs.Raw())
	z := o.w.MulVector(x).Add(o.b)
	return z.ComputeTransform(sigmoid).Raw()
}

// UpdateDeltas implements Layer. y is the expected one-hot label
// vector, not a chained delta: δC = A - y; δ = δC ⊙ σ'(Z).
func (o *Output) UpdateDeltas(inputs, y tensor.DataArray) tensor.DataArray {
	label := tensor.ViewVector(y.Raw())
	costDelta := o.lastA.Sub(label)
	delta := costDelta.Hadamard(o.lastZ.ComputeTransform(sigmoidPrime))
	inputDelta := o.w.TransposeMulVector(delta)

	o.gradW = o.gradW.Add(delta.Outer(o.lastInput))
	o.gradB = o.gradB.Add(delta)

	return inputDelta.Raw()
}

// UpdateParams implements Layer.
func (o *Output) UpdateParams(epoch int) {
	applyParamUpdate(&o.w, &o.gradW, &o.b, &o.gradB, o.learnRate, o.learnRateDecay, epoch, 1)
}

// WriteToStream implements Layer.
func (o *Output) WriteToStream(w io.Writer) error {
	return writeDenseParams(w, o.b, o.w)
}
