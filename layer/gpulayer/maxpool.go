// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package gpulayer

import (
	"errors"
	"io"

	"github.com/nnetkit/richard/gpu"
	"github.com/nnetkit/richard/tensor"
)

// ErrRegionMismatch means the input extent is not an exact multiple
// of the configured pooling region.
var ErrRegionMismatch = errors.New("gpulayer: input extent is not a multiple of the pooling region")

// MaxPool is the GPU back-end of the max-pooling layer: no
// parameters, dispatching the "max_pooling_*" shader family. The mask
// is kept device-side between TrainForward and UpdateDeltas.
type MaxPool struct {
	rt *gpu.Runtime

	in               tensor.Shape3
	regionW, regionH int
	out              tensor.Shape3

	input, output, mask, inputDelta gpu.BufferHandle

	evalForward, trainForward, backprop gpu.ShaderHandle
}

// NewMaxPool allocates buffers and registers shaders for a
// max-pooling layer. in's width and height must be exact multiples of
// regionW, regionH.
func NewMaxPool(rt *gpu.Runtime, shaderDir string, in tensor.Shape3, regionW, regionH int) (*MaxPool, error) {
	if regionW <= 0 || regionH <= 0 || in.W%regionW != 0 || in.H%regionH != 0 {
		return nil, ErrRegionMismatch
	}
	out := tensor.Shape3{W: in.W / regionW, H: in.H / regionH, D: in.D}
	m := &MaxPool{rt: rt, in: in, regionW: regionW, regionH: regionH, out: out}

	var err error
	if m.input, err = rt.AllocateBuffer(int64(in.Size())*4, gpu.FrequentHostAccess); err != nil {
		return nil, err
	}
	if m.output, err = rt.AllocateBuffer(int64(out.Size())*4, gpu.FrequentHostAccess); err != nil {
		return nil, err
	}
	if m.mask, err = rt.AllocateBuffer(int64(in.Size())*4, 0); err != nil {
		return nil, err
	}
	if m.inputDelta, err = rt.AllocateBuffer(int64(in.Size())*4, gpu.FrequentHostAccess); err != nil {
		return nil, err
	}

	rw := func(h gpu.BufferHandle, nr int, write bool) gpu.Binding {
		return gpu.Binding{Nr: nr, Handle: h, Write: write}
	}
	work := [3]int{out.W, out.H, in.D}

	if m.evalForward, err = loadShader(rt, shaderDir, "max_pooling_eval_forward",
		[]gpu.Binding{rw(m.input, 0, false), rw(m.output, 1, true)}, nil, 0, work); err != nil {
		return nil, err
	}
	if m.trainForward, err = loadShader(rt, shaderDir, "max_pooling_train_forward",
		[]gpu.Binding{rw(m.input, 0, false), rw(m.output, 1, true), rw(m.mask, 2, true)}, nil, 0, work); err != nil {
		return nil, err
	}
	if m.backprop, err = loadShader(rt, shaderDir, "max_pooling_backprop",
		[]gpu.Binding{rw(m.mask, 0, false), rw(m.output, 1, false), rw(m.inputDelta, 2, true)},
		nil, 0, [3]int{in.W, in.H, in.D}); err != nil {
		return nil, err
	}

	return m, nil
}

// OutputShape implements layer.Layer.
func (m *MaxPool) OutputShape() tensor.Shape3 { return m.out }

// InputSize implements layer.Layer.
func (m *MaxPool) InputSize() int { return m.in.Size() }

func (m *MaxPool) dispatchForward(inputs tensor.DataArray, shader gpu.ShaderHandle) tensor.DataArray {
	if err := uploadFloat32s(m.rt, m.input, inputs.Raw()); err != nil {
		return tensor.DataArray{}
	}
	if err := m.rt.QueueShader(shader, nil); err != nil {
		return tensor.DataArray{}
	}
	if err := m.rt.FlushQueue(); err != nil {
		return tensor.DataArray{}
	}
	out, err := downloadFloat32s(m.rt, m.output, m.out.Size())
	if err != nil {
		return tensor.DataArray{}
	}
	return tensor.DataArrayFrom(out)
}

// EvalForward implements layer.Layer.
func (m *MaxPool) EvalForward(inputs tensor.DataArray) tensor.DataArray {
	return m.dispatchForward(inputs, m.evalForward)
}

// TrainForward implements layer.Layer.
func (m *MaxPool) TrainForward(inputs tensor.DataArray) tensor.DataArray {
	return m.dispatchForward(inputs, m.trainForward)
}

// UpdateDeltas implements layer.Layer: routes outputDelta back
// through the device-side mask.
func (m *MaxPool) UpdateDeltas(inputs, outputDelta tensor.DataArray) tensor.DataArray {
	if err := uploadFloat32s(m.rt, m.output, outputDelta.Raw()); err != nil {
		return tensor.DataArray{}
	}
	if err := m.rt.QueueShader(m.backprop, nil); err != nil {
		return tensor.DataArray{}
	}
	if err := m.rt.FlushQueue(); err != nil {
		return tensor.DataArray{}
	}
	out, err := downloadFloat32s(m.rt, m.inputDelta, m.in.Size())
	if err != nil {
		return tensor.DataArray{}
	}
	return tensor.DataArrayFrom(out)
}

// UpdateParams implements layer.Layer: a no-op, max-pooling has no
// parameters.
func (m *MaxPool) UpdateParams(int) {}

// WriteToStream implements layer.Layer: emits nothing.
func (m *MaxPool) WriteToStream(io.Writer) error { return nil }
