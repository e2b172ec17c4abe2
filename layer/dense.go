// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package layer

import (
	"io"
	"math/rand/v2"

	"github.com/nnetkit/richard/tensor"
)

const denseWeightStdDev = 0.1

// Dense is a fully-connected layer with sigmoid activation and
// element-wise Bernoulli dropout applied after activation during
// training.
type Dense struct {
	inputSize int
	size      int

	w tensor.Matrix // size x inputSize
	b tensor.Vector  // size

	gradW tensor.Matrix
	gradB tensor.Vector

	learnRate      float32
	learnRateDecay float32
	dropoutRate    float32

	lastInput tensor.Vector
	lastZ     tensor.Vector
}

// NewDense constructs a fresh Dense layer with Gaussian-initialized
// weights (std 0.1) and zeroed biases.
func NewDense(inputSize, size int, learnRate, learnRateDecay, dropoutRate float32) *Dense {
	d := &Dense{
		inputSize:      inputSize,
		size:           size,
		w:              tensor.NewMatrix(inputSize, size),
		b:              tensor.NewVector(size),
		gradW:          tensor.NewMatrix(inputSize, size),
		gradB:          tensor.NewVector(size),
		learnRate:      learnRate,
		learnRateDecay: learnRateDecay,
		dropoutRate:    dropoutRate,
	}
	d.w.RandomizeGaussian(denseWeightStdDev)
	return d
}

// RestoreDense constructs a Dense layer reading parameters from r in
// the order WriteToStream produces them (biases, then weights).
func RestoreDense(r io.Reader, inputSize, size int, learnRate, learnRateDecay, dropoutRate float32) (*Dense, error) {
	d := &Dense{
		inputSize:      inputSize,
		size:           size,
		gradW:          tensor.NewMatrix(inputSize, size),
		gradB:          tensor.NewVector(size),
		learnRate:      learnRate,
		learnRateDecay: learnRateDecay,
		dropoutRate:    dropoutRate,
	}
	b, w, err := readDenseParams(r, inputSize, size)
	if err != nil {
		return nil, err
	}
	d.b, d.w = b, w
	return d, nil
}

// OutputShape implements Layer.
func (d *Dense) OutputShape() tensor.Shape3 { return tensor.Shape3{W: d.size, H: 1, D: 1} }

// InputSize implements Layer.
func (d *Dense) InputSize() int { return d.inputSize }

func (d *Dense) forward(inputs tensor.DataArray) (z tensor.Vector) {
	x := tensor.ViewVector(inputs.Raw())
	return d.w.MulVector(x).Add(d.b)
}

// TrainForward implements Layer. It stores inputs and Z for
// UpdateDeltas, and applies dropout to the returned activations.
func (d *Dense) TrainForward(inputs tensor.DataArray) tensor.DataArray {
	d.lastInput = tensor.ViewVector(inputs.Raw()).Clone()
	d.lastZ = d.forward(inputs)
	a := d.lastZ.ComputeTransform(sigmoid)
	applyDropout(a, d.dropoutRate)
	return a.Raw()
}

// EvalForward implements Layer.
func (d *Dense) EvalForward(inputs tensor.DataArray) tensor.DataArray {
	z := d.forward(inputs)
	a := z.ComputeTransform(sigmoid)
	return a.Raw()
}

// UpdateDeltas implements Layer.
func (d *Dense) UpdateDeltas(inputs, outputDelta tensor.DataArray) tensor.DataArray {
	od := tensor.ViewVector(outputDelta.Raw())
	delta := od.Hadamard(d.lastZ.ComputeTransform(sigmoidPrime))
	inputDelta := d.w.TransposeMulVector(delta)

	d.gradW = d.gradW.Add(delta.Outer(d.lastInput))
	d.gradB = d.gradB.Add(delta)

	return inputDelta.Raw()
}

// UpdateParams implements Layer.
func (d *Dense) UpdateParams(epoch int) {
	applyParamUpdate(&d.w, &d.gradW, &d.b, &d.gradB, d.learnRate, d.learnRateDecay, epoch, 1)
}

// WriteToStream implements Layer.
func (d *Dense) WriteToStream(w io.Writer) error {
	return writeDenseParams(w, d.b, d.w)
}

// applyDropout zeros each element of a independently with
// probability rate. Survivors are not rescaled (no inverted
// dropout): training and evaluation activations therefore differ by
// dropout alone, per spec.
func applyDropout(a tensor.Vector, rate float32) {
	if rate <= 0 {
		return
	}
	for i := 0; i < a.Len(); i++ {
		if rand.Float32() < rate {
			a.Set(i, 0)
		}
	}
}

// applyParamUpdate applies W -= ΔW·η·decay^epoch / divisor (and same
// for B), then zeros the gradient accumulators.
func applyParamUpdate(w, gradW *tensor.Matrix, b, gradB *tensor.Vector, learnRate, learnRateDecay float32, epoch int, divisor float32) {
	eta := learnRate * pow32(learnRateDecay, epoch) / divisor
	*w = w.Sub(gradW.Scale(eta))
	*b = b.Sub(gradB.Scale(eta))
	gradW.Zero()
	gradB.Zero()
}

func pow32(base float32, exp int) float32 {
	result := float32(1)
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
