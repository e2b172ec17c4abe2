// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package layer implements the CPU back-end of the layer engine: the
// dense, convolutional, max-pooling and output layer variants, each
// satisfying the Layer contract of forward/backward/parameter-update.
//
// Layers operate on flattened tensor.DataArray buffers at the
// interface boundary; convolutional and max-pooling layers reshape
// their inputs into tensor.Array3 views internally.
package layer

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/nnetkit/richard/tensor"
)

const prefix = "layer: "

// Layer is the contract every layer variant satisfies.
type Layer interface {
	// OutputShape returns the layer's output extent.
	OutputShape() tensor.Shape3

	// InputSize returns the number of elements the layer expects
	// in its (flattened) input.
	InputSize() int

	// TrainForward computes this layer's activations from inputs,
	// storing whatever intermediates UpdateDeltas will need.
	TrainForward(inputs tensor.DataArray) tensor.DataArray

	// EvalForward computes activations without storing state and
	// without dropout.
	EvalForward(inputs tensor.DataArray) tensor.DataArray

	// UpdateDeltas accumulates this layer's parameter gradients
	// from outputDelta and returns the delta to pass to the
	// preceding layer.
	UpdateDeltas(inputs, outputDelta tensor.DataArray) tensor.DataArray

	// UpdateParams applies accumulated gradients scaled by the
	// per-layer learning-rate schedule for the given epoch, then
	// zeros the accumulators. It is a no-op for parameter-free
	// layers (max-pooling).
	UpdateParams(epoch int)

	// WriteToStream persists the layer's parameters in the fixed
	// little-endian float32 layout: dense and output layers write
	// biases first, then row-major weights; convolutional layers write
	// each filter's bias followed by its kernel. It writes nothing for
	// parameter-free layers.
	WriteToStream(w io.Writer) error
}

func sigmoid(x float32) float32 { return float32(1 / (1 + math.Exp(-float64(x)))) }

func sigmoidPrime(x float32) float32 {
	s := sigmoid(x)
	return s * (1 - s)
}

func relu(x float32) float32 {
	if x > 0 {
		return x
	}
	return 0
}

func reluPrime(x float32) float32 {
	if x > 0 {
		return 1
	}
	return 0
}

func writeFloat32s(w io.Writer, d tensor.DataArray) error {
	buf := make([]byte, 4*d.Len())
	for i := 0; i < d.Len(); i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(d.At(i)))
	}
	_, err := w.Write(buf)
	if err != nil {
		return fmt.Errorf(prefix+"write: %w", err)
	}
	return nil
}

func readFloat32s(r io.Reader, n int) (tensor.DataArray, error) {
	buf := make([]byte, 4*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return tensor.DataArray{}, fmt.Errorf(prefix+"read: %w", err)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return tensor.DataArrayFrom(out), nil
}

// writeDenseParams persists a dense/output layer's parameters: biases
// first, then row-major weights.
func writeDenseParams(w io.Writer, b tensor.Vector, weights tensor.Matrix) error {
	if err := writeFloat32s(w, b.Raw()); err != nil {
		return err
	}
	return writeFloat32s(w, weights.Raw())
}

// readDenseParams reads a dense/output layer's parameters written by
// writeDenseParams.
func readDenseParams(r io.Reader, inputSize, size int) (tensor.Vector, tensor.Matrix, error) {
	bData, err := readFloat32s(r, size)
	if err != nil {
		return tensor.Vector{}, tensor.Matrix{}, err
	}
	wData, err := readFloat32s(r, inputSize*size)
	if err != nil {
		return tensor.Vector{}, tensor.Matrix{}, err
	}
	b := tensor.ViewVector(bData.Raw()).Clone()
	w2 := tensor.ViewMatrix(wData.Raw(), inputSize, size).Clone()
	return b, w2, nil
}
