// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package gpulayer

import (
	"io"

	"github.com/nnetkit/richard/driver"
	"github.com/nnetkit/richard/gpu"
	"github.com/nnetkit/richard/tensor"
)

// Output is the GPU back-end of the output layer: same parameter
// shape and shader family as Dense ("output_*"), but its
// backprop_delta shader reads the expected label from a sample buffer
// instead of a successor's delta, computing δC = A - y internally.
type Output struct {
	rt     *gpu.Runtime
	status gpu.StatusBuffer

	inputSize, size int
	learnRate       float32
	learnRateDecay  float32

	weights, biases    gpu.BufferHandle
	gradWeights, gradB gpu.BufferHandle
	input, output, z   gpu.BufferHandle
	label, delta       gpu.BufferHandle
	inputDelta         gpu.BufferHandle

	evalForward, trainForward         gpu.ShaderHandle
	backpropDelta, backpropInputDelta gpu.ShaderHandle
	updateParams                      gpu.ShaderHandle
}

// NewOutput allocates buffers and registers shaders for a fresh
// output layer.
func NewOutput(rt *gpu.Runtime, shaderDir string, status gpu.StatusBuffer, inputSize, size int, learnRate, learnRateDecay float32) (*Output, error) {
	o, err := newOutput(rt, shaderDir, status, inputSize, size, learnRate, learnRateDecay)
	if err != nil {
		return nil, err
	}

	w := tensor.NewDataArray(inputSize * size)
	w.RandomizeGaussian(denseWeightStdDev)
	biases := make([]float32, size)

	if err := uploadFloat32s(rt, o.weights, w.Raw()); err != nil {
		return nil, err
	}
	if err := uploadFloat32s(rt, o.biases, biases); err != nil {
		return nil, err
	}
	return o, nil
}

// RestoreOutput is like NewOutput but loads weights/biases from r.
func RestoreOutput(rt *gpu.Runtime, shaderDir string, status gpu.StatusBuffer, inputSize, size int, learnRate, learnRateDecay float32, r io.Reader) (*Output, error) {
	o, err := newOutput(rt, shaderDir, status, inputSize, size, learnRate, learnRateDecay)
	if err != nil {
		return nil, err
	}

	bData, wData, err := readDenseParams(r, inputSize, size)
	if err != nil {
		return nil, err
	}
	if err := uploadFloat32s(rt, o.biases, bData); err != nil {
		return nil, err
	}
	if err := uploadFloat32s(rt, o.weights, wData); err != nil {
		return nil, err
	}
	return o, nil
}

func newOutput(rt *gpu.Runtime, shaderDir string, status gpu.StatusBuffer, inputSize, size int, learnRate, learnRateDecay float32) (*Output, error) {
	o := &Output{
		rt:             rt,
		status:         status,
		inputSize:      inputSize,
		size:           size,
		learnRate:      learnRate,
		learnRateDecay: learnRateDecay,
	}

	var err error
	if o.weights, err = rt.AllocateBuffer(int64(inputSize*size)*4, gpu.FrequentHostAccess); err != nil {
		return nil, err
	}
	if o.biases, err = rt.AllocateBuffer(int64(size)*4, gpu.FrequentHostAccess); err != nil {
		return nil, err
	}
	if o.gradWeights, err = rt.AllocateBuffer(int64(inputSize*size)*4, 0); err != nil {
		return nil, err
	}
	if o.gradB, err = rt.AllocateBuffer(int64(size)*4, 0); err != nil {
		return nil, err
	}
	if o.input, err = rt.AllocateBuffer(int64(inputSize)*4, gpu.FrequentHostAccess); err != nil {
		return nil, err
	}
	if o.output, err = rt.AllocateBuffer(int64(size)*4, gpu.FrequentHostAccess); err != nil {
		return nil, err
	}
	if o.z, err = rt.AllocateBuffer(int64(size)*4, 0); err != nil {
		return nil, err
	}
	if o.label, err = rt.AllocateBuffer(int64(size)*4, gpu.FrequentHostAccess); err != nil {
		return nil, err
	}
	if o.delta, err = rt.AllocateBuffer(int64(size)*4, gpu.FrequentHostAccess); err != nil {
		return nil, err
	}
	if o.inputDelta, err = rt.AllocateBuffer(int64(inputSize)*4, gpu.FrequentHostAccess); err != nil {
		return nil, err
	}

	spec := []driver.SpecConstant{
		{Id: 3, Type: driver.SpecFloat32, Value: learnRate},
		{Id: 4, Type: driver.SpecFloat32, Value: learnRateDecay},
	}
	rw := func(h gpu.BufferHandle, nr int, write bool) gpu.Binding {
		return gpu.Binding{Nr: nr, Handle: h, Write: write}
	}

	if o.evalForward, err = loadShader(rt, shaderDir, "output_eval_forward",
		[]gpu.Binding{rw(o.input, 0, false), rw(o.weights, 1, false), rw(o.biases, 2, false), rw(o.output, 3, true)},
		nil, 0, [3]int{size, 1, 1}); err != nil {
		return nil, err
	}
	if o.trainForward, err = loadShader(rt, shaderDir, "output_train_forward",
		[]gpu.Binding{rw(o.input, 0, false), rw(o.weights, 1, false), rw(o.biases, 2, false), rw(o.output, 3, true), rw(o.z, 4, true)},
		nil, 0, [3]int{size, 1, 1}); err != nil {
		return nil, err
	}
	if o.backpropDelta, err = loadShader(rt, shaderDir, "output_backprop_delta",
		[]gpu.Binding{rw(o.output, 0, false), rw(o.label, 1, false), rw(o.z, 2, false), rw(o.delta, 3, true)},
		nil, 0, [3]int{size, 1, 1}); err != nil {
		return nil, err
	}
	if o.backpropInputDelta, err = loadShader(rt, shaderDir, "output_backprop_input_delta",
		[]gpu.Binding{rw(o.weights, 0, false), rw(o.delta, 1, false), rw(o.input, 2, false), rw(o.gradWeights, 3, true), rw(o.gradB, 4, true), rw(o.inputDelta, 5, true)},
		nil, 0, [3]int{inputSize, 1, 1}); err != nil {
		return nil, err
	}
	if o.updateParams, err = loadShader(rt, shaderDir, "output_update_params",
		[]gpu.Binding{rw(status.Handle(), 0, false), rw(o.gradWeights, 1, true), rw(o.gradB, 2, true), rw(o.weights, 3, true), rw(o.biases, 4, true)},
		spec, 0, [3]int{inputSize * size, 1, 1}); err != nil {
		return nil, err
	}

	return o, nil
}

// OutputShape implements layer.Layer.
func (o *Output) OutputShape() tensor.Shape3 { return tensor.Shape3{W: o.size, H: 1, D: 1} }

// InputSize implements layer.Layer.
func (o *Output) InputSize() int { return o.inputSize }

func (o *Output) dispatchForward(inputs tensor.DataArray, shader gpu.ShaderHandle) tensor.DataArray {
	if err := uploadFloat32s(o.rt, o.input, inputs.Raw()); err != nil {
		return tensor.DataArray{}
	}
	if err := o.rt.QueueShader(shader, nil); err != nil {
		return tensor.DataArray{}
	}
	if err := o.rt.FlushQueue(); err != nil {
		return tensor.DataArray{}
	}
	out, err := downloadFloat32s(o.rt, o.output, o.size)
	if err != nil {
		return tensor.DataArray{}
	}
	return tensor.DataArrayFrom(out)
}

// EvalForward implements layer.Layer.
func (o *Output) EvalForward(inputs tensor.DataArray) tensor.DataArray {
	return o.dispatchForward(inputs, o.evalForward)
}

// TrainForward implements layer.Layer.
func (o *Output) TrainForward(inputs tensor.DataArray) tensor.DataArray {
	return o.dispatchForward(inputs, o.trainForward)
}

// UpdateDeltas implements layer.Layer. outputDelta is reinterpreted
// as the expected label y, matching the CPU back-end's Output.
func (o *Output) UpdateDeltas(inputs, outputDelta tensor.DataArray) tensor.DataArray {
	if err := uploadFloat32s(o.rt, o.label, outputDelta.Raw()); err != nil {
		return tensor.DataArray{}
	}
	if err := o.rt.QueueShader(o.backpropDelta, nil); err != nil {
		return tensor.DataArray{}
	}
	if err := o.rt.QueueShader(o.backpropInputDelta, nil); err != nil {
		return tensor.DataArray{}
	}
	if err := o.rt.FlushQueue(); err != nil {
		return tensor.DataArray{}
	}
	out, err := downloadFloat32s(o.rt, o.inputDelta, o.inputSize)
	if err != nil {
		return tensor.DataArray{}
	}
	return tensor.DataArrayFrom(out)
}

// UpdateParams implements layer.Layer.
func (o *Output) UpdateParams(epoch int) {
	o.status.Set(uint32(epoch), 0)
	if err := o.rt.QueueShader(o.updateParams, nil); err != nil {
		return
	}
	o.rt.FlushQueue()
}

// WriteToStream implements layer.Layer.
func (o *Output) WriteToStream(w io.Writer) error {
	biases, err := downloadFloat32s(o.rt, o.biases, o.size)
	if err != nil {
		return err
	}
	if err := writeFloat32s(w, biases); err != nil {
		return err
	}
	weights, err := downloadFloat32s(o.rt, o.weights, o.inputSize*o.size)
	if err != nil {
		return err
	}
	return writeFloat32s(w, weights)
}
