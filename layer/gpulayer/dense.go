// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package gpulayer

import (
	"io"

	"github.com/nnetkit/richard/driver"
	"github.com/nnetkit/richard/gpu"
	"github.com/nnetkit/richard/tensor"
)

const denseWeightStdDev = 0.1

// Dense is the GPU back-end of the dense layer: the same contract as
// layer.Dense, but weights/biases/activations/gradients live in GPU
// buffers and every forward/backward step is a shader dispatch
// against the shader set named in spec.md §4.5 ("dense_*").
type Dense struct {
	rt     *gpu.Runtime
	status gpu.StatusBuffer

	inputSize, size int
	learnRate       float32
	learnRateDecay  float32
	dropoutRate     float32

	weights, biases     gpu.BufferHandle
	gradWeights, gradB  gpu.BufferHandle
	input, output, z    gpu.BufferHandle
	delta, inputDelta   gpu.BufferHandle

	evalForward, trainForward          gpu.ShaderHandle
	backpropDelta, backpropInputDelta  gpu.ShaderHandle
	updateParams                       gpu.ShaderHandle
}

// NewDense allocates buffers and registers shaders for a fresh dense
// layer, uploading Gaussian-initialized weights (std 0.1) and zeroed
// biases. shaderDir is the platform-resolved directory holding the
// layer's SPIR-V modules.
func NewDense(rt *gpu.Runtime, shaderDir string, status gpu.StatusBuffer, inputSize, size int, learnRate, learnRateDecay, dropoutRate float32) (*Dense, error) {
	d, err := newDense(rt, shaderDir, status, inputSize, size, learnRate, learnRateDecay, dropoutRate)
	if err != nil {
		return nil, err
	}

	w := tensor.NewDataArray(inputSize * size)
	w.RandomizeGaussian(denseWeightStdDev)
	biases := make([]float32, size)

	if err := uploadFloat32s(rt, d.weights, w.Raw()); err != nil {
		return nil, err
	}
	if err := uploadFloat32s(rt, d.biases, biases); err != nil {
		return nil, err
	}
	return d, nil
}

// RestoreDense is like NewDense but loads weights/biases from r in
// the order WriteToStream produced them, instead of randomizing.
func RestoreDense(rt *gpu.Runtime, shaderDir string, status gpu.StatusBuffer, inputSize, size int, learnRate, learnRateDecay, dropoutRate float32, r io.Reader) (*Dense, error) {
	d, err := newDense(rt, shaderDir, status, inputSize, size, learnRate, learnRateDecay, dropoutRate)
	if err != nil {
		return nil, err
	}

	bData, wData, err := readDenseParams(r, inputSize, size)
	if err != nil {
		return nil, err
	}
	if err := uploadFloat32s(rt, d.biases, bData); err != nil {
		return nil, err
	}
	if err := uploadFloat32s(rt, d.weights, wData); err != nil {
		return nil, err
	}
	return d, nil
}

func newDense(rt *gpu.Runtime, shaderDir string, status gpu.StatusBuffer, inputSize, size int, learnRate, learnRateDecay, dropoutRate float32) (*Dense, error) {
	d := &Dense{
		rt:             rt,
		status:         status,
		inputSize:      inputSize,
		size:           size,
		learnRate:      learnRate,
		learnRateDecay: learnRateDecay,
		dropoutRate:    dropoutRate,
	}

	var err error
	if d.weights, err = rt.AllocateBuffer(int64(inputSize*size)*4, gpu.FrequentHostAccess); err != nil {
		return nil, err
	}
	if d.biases, err = rt.AllocateBuffer(int64(size)*4, gpu.FrequentHostAccess); err != nil {
		return nil, err
	}
	if d.gradWeights, err = rt.AllocateBuffer(int64(inputSize*size)*4, 0); err != nil {
		return nil, err
	}
	if d.gradB, err = rt.AllocateBuffer(int64(size)*4, 0); err != nil {
		return nil, err
	}
	if d.input, err = rt.AllocateBuffer(int64(inputSize)*4, gpu.FrequentHostAccess); err != nil {
		return nil, err
	}
	if d.output, err = rt.AllocateBuffer(int64(size)*4, gpu.FrequentHostAccess); err != nil {
		return nil, err
	}
	if d.z, err = rt.AllocateBuffer(int64(size)*4, 0); err != nil {
		return nil, err
	}
	if d.delta, err = rt.AllocateBuffer(int64(size)*4, gpu.FrequentHostAccess); err != nil {
		return nil, err
	}
	if d.inputDelta, err = rt.AllocateBuffer(int64(inputSize)*4, gpu.FrequentHostAccess); err != nil {
		return nil, err
	}

	spec := []driver.SpecConstant{
		{Id: 3, Type: driver.SpecFloat32, Value: learnRate},
		{Id: 4, Type: driver.SpecFloat32, Value: learnRateDecay},
		{Id: 5, Type: driver.SpecFloat32, Value: dropoutRate},
	}

	rw := func(h gpu.BufferHandle, nr int, write bool) gpu.Binding {
		return gpu.Binding{Nr: nr, Handle: h, Write: write}
	}

	if d.evalForward, err = loadShader(rt, shaderDir, "dense_eval_forward",
		[]gpu.Binding{rw(d.input, 0, false), rw(d.weights, 1, false), rw(d.biases, 2, false), rw(d.output, 3, true)},
		nil, 0, [3]int{size, 1, 1}); err != nil {
		return nil, err
	}
	if d.trainForward, err = loadShader(rt, shaderDir, "dense_train_forward",
		[]gpu.Binding{rw(d.input, 0, false), rw(d.weights, 1, false), rw(d.biases, 2, false), rw(status.Handle(), 3, false), rw(d.output, 4, true), rw(d.z, 5, true)},
		spec, 0, [3]int{size, 1, 1}); err != nil {
		return nil, err
	}
	if d.backpropDelta, err = loadShader(rt, shaderDir, "dense_backprop_delta",
		[]gpu.Binding{rw(d.z, 0, false), rw(d.delta, 1, true)},
		nil, 0, [3]int{size, 1, 1}); err != nil {
		return nil, err
	}
	if d.backpropInputDelta, err = loadShader(rt, shaderDir, "dense_backprop_input_delta",
		[]gpu.Binding{rw(d.weights, 0, false), rw(d.delta, 1, false), rw(d.input, 2, false), rw(d.gradWeights, 3, true), rw(d.gradB, 4, true), rw(d.inputDelta, 5, true)},
		nil, 0, [3]int{inputSize, 1, 1}); err != nil {
		return nil, err
	}
	if d.updateParams, err = loadShader(rt, shaderDir, "dense_update_params",
		[]gpu.Binding{rw(status.Handle(), 0, false), rw(d.gradWeights, 1, true), rw(d.gradB, 2, true), rw(d.weights, 3, true), rw(d.biases, 4, true)},
		spec, 0, [3]int{inputSize * size, 1, 1}); err != nil {
		return nil, err
	}

	return d, nil
}

// OutputShape implements layer.Layer.
func (d *Dense) OutputShape() tensor.Shape3 { return tensor.Shape3{W: d.size, H: 1, D: 1} }

// InputSize implements layer.Layer.
func (d *Dense) InputSize() int { return d.inputSize }

// EvalForward implements layer.Layer: uploads inputs, dispatches the
// evaluation forward shader (no dropout), flushes, and downloads the
// result.
func (d *Dense) EvalForward(inputs tensor.DataArray) tensor.DataArray {
	return d.dispatchForward(inputs, d.evalForward)
}

// TrainForward implements layer.Layer: same as EvalForward but
// dispatches the training-mode shader, which also applies dropout
// and stores Z for the backward pass.
func (d *Dense) TrainForward(inputs tensor.DataArray) tensor.DataArray {
	return d.dispatchForward(inputs, d.trainForward)
}

func (d *Dense) dispatchForward(inputs tensor.DataArray, shader gpu.ShaderHandle) tensor.DataArray {
	if err := uploadFloat32s(d.rt, d.input, inputs.Raw()); err != nil {
		return tensor.DataArray{}
	}
	if err := d.rt.QueueShader(shader, nil); err != nil {
		return tensor.DataArray{}
	}
	if err := d.rt.FlushQueue(); err != nil {
		return tensor.DataArray{}
	}
	out, err := downloadFloat32s(d.rt, d.output, d.size)
	if err != nil {
		return tensor.DataArray{}
	}
	return tensor.DataArrayFrom(out)
}

// UpdateDeltas implements layer.Layer: uploads outputDelta,
// dispatches the delta and input-delta/gradient-accumulation shaders,
// and downloads the resulting input delta.
func (d *Dense) UpdateDeltas(inputs, outputDelta tensor.DataArray) tensor.DataArray {
	if err := uploadFloat32s(d.rt, d.delta, outputDelta.Raw()); err != nil {
		return tensor.DataArray{}
	}
	if err := d.rt.QueueShader(d.backpropDelta, nil); err != nil {
		return tensor.DataArray{}
	}
	if err := d.rt.QueueShader(d.backpropInputDelta, nil); err != nil {
		return tensor.DataArray{}
	}
	if err := d.rt.FlushQueue(); err != nil {
		return tensor.DataArray{}
	}
	out, err := downloadFloat32s(d.rt, d.inputDelta, d.inputSize)
	if err != nil {
		return tensor.DataArray{}
	}
	return tensor.DataArrayFrom(out)
}

// UpdateParams implements layer.Layer: a single dispatch applies the
// accumulated gradients scaled by the learning-rate schedule
// (baked in as specialization constants) and zeros the accumulators,
// reading the current epoch from the shared status buffer.
func (d *Dense) UpdateParams(epoch int) {
	d.status.Set(uint32(epoch), 0)
	if err := d.rt.QueueShader(d.updateParams, nil); err != nil {
		return
	}
	d.rt.FlushQueue()
}

// WriteToStream implements layer.Layer: retrieves the current
// weights/biases from the device and persists them in the same
// little-endian layout as the CPU back-end.
func (d *Dense) WriteToStream(w io.Writer) error {
	biases, err := downloadFloat32s(d.rt, d.biases, d.size)
	if err != nil {
		return err
	}
	if err := writeFloat32s(w, biases); err != nil {
		return err
	}
	weights, err := downloadFloat32s(d.rt, d.weights, d.inputSize*d.size)
	if err != nil {
		return err
	}
	return writeFloat32s(w, weights)
}

func readDenseParams(r io.Reader, inputSize, size int) (biases, weights []float32, err error) {
	biases, err = readFloat32sHost(r, size)
	if err != nil {
		return nil, nil, err
	}
	weights, err = readFloat32sHost(r, inputSize*size)
	if err != nil {
		return nil, nil, err
	}
	return biases, weights, nil
}
