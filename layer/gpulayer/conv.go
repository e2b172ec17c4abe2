// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package gpulayer

import (
	"io"

	"github.com/nnetkit/richard/driver"
	"github.com/nnetkit/richard/gpu"
	"github.com/nnetkit/richard/tensor"
)

const convKernelStdDev = 0.1

// Conv is the GPU back-end of the convolutional layer, dispatching
// the "convolutional_*" shader family of spec.md §4.5. Per-filter
// kernels and biases are packed into two flat device buffers (all
// kernels concatenated, then one bias per filter) instead of one
// buffer pair per filter, so a single dispatch touches every filter.
type Conv struct {
	rt     *gpu.Runtime
	status gpu.StatusBuffer

	in               tensor.Shape3
	kernelW, kernelH int
	depth            int
	out              tensor.Shape3
	learnRate        float32
	learnRateDecay   float32
	dropoutRate      float32

	kernels, biases         gpu.BufferHandle
	gradKernels, gradBiases gpu.BufferHandle
	input, output, z        gpu.BufferHandle
	delta, inputDelta       gpu.BufferHandle

	evalForward, trainForward           gpu.ShaderHandle
	backpropDelta, backpropInputDelta   gpu.ShaderHandle
	backpropParamDeltas, updateParams   gpu.ShaderHandle
}

func kernelElems(kernelW, kernelH, inD, depth int) int { return kernelW * kernelH * inD * depth }

// NewConv allocates buffers and registers shaders for a fresh
// convolutional layer with Gaussian-initialized kernels (std 0.1) and
// zeroed biases.
func NewConv(rt *gpu.Runtime, shaderDir string, status gpu.StatusBuffer, in tensor.Shape3, kernelW, kernelH, depth int, learnRate, learnRateDecay, dropoutRate float32) (*Conv, error) {
	c, err := newConv(rt, shaderDir, status, in, kernelW, kernelH, depth, learnRate, learnRateDecay, dropoutRate)
	if err != nil {
		return nil, err
	}
	kernels := tensor.NewDataArray(kernelElems(kernelW, kernelH, in.D, depth))
	kernels.RandomizeGaussian(convKernelStdDev)
	if err := uploadFloat32s(rt, c.kernels, kernels.Raw()); err != nil {
		return nil, err
	}
	if err := uploadFloat32s(rt, c.biases, make([]float32, depth)); err != nil {
		return nil, err
	}
	return c, nil
}

// RestoreConv is like NewConv but loads {bias, kernel} pairs per
// filter from r, matching the CPU back-end's persisted layout.
func RestoreConv(rt *gpu.Runtime, shaderDir string, status gpu.StatusBuffer, in tensor.Shape3, kernelW, kernelH, depth int, learnRate, learnRateDecay, dropoutRate float32, r io.Reader) (*Conv, error) {
	c, err := newConv(rt, shaderDir, status, in, kernelW, kernelH, depth, learnRate, learnRateDecay, dropoutRate)
	if err != nil {
		return nil, err
	}

	kernelSize := kernelW * kernelH * in.D
	biases := make([]float32, depth)
	kernels := make([]float32, 0, kernelSize*depth)
	for f := 0; f < depth; f++ {
		b, err := readFloat32sHost(r, 1)
		if err != nil {
			return nil, err
		}
		biases[f] = b[0]
		k, err := readFloat32sHost(r, kernelSize)
		if err != nil {
			return nil, err
		}
		kernels = append(kernels, k...)
	}
	if err := uploadFloat32s(rt, c.biases, biases); err != nil {
		return nil, err
	}
	if err := uploadFloat32s(rt, c.kernels, kernels); err != nil {
		return nil, err
	}
	return c, nil
}

func newConv(rt *gpu.Runtime, shaderDir string, status gpu.StatusBuffer, in tensor.Shape3, kernelW, kernelH, depth int, learnRate, learnRateDecay, dropoutRate float32) (*Conv, error) {
	out := tensor.Shape3{W: in.W - kernelW + 1, H: in.H - kernelH + 1, D: depth}
	c := &Conv{
		rt: rt, status: status,
		in: in, kernelW: kernelW, kernelH: kernelH, depth: depth, out: out,
		learnRate: learnRate, learnRateDecay: learnRateDecay, dropoutRate: dropoutRate,
	}

	kernelSize := kernelW * kernelH * in.D
	var err error
	if c.kernels, err = rt.AllocateBuffer(int64(kernelSize*depth)*4, gpu.FrequentHostAccess); err != nil {
		return nil, err
	}
	if c.biases, err = rt.AllocateBuffer(int64(depth)*4, gpu.FrequentHostAccess); err != nil {
		return nil, err
	}
	if c.gradKernels, err = rt.AllocateBuffer(int64(kernelSize*depth)*4, 0); err != nil {
		return nil, err
	}
	if c.gradBiases, err = rt.AllocateBuffer(int64(depth)*4, 0); err != nil {
		return nil, err
	}
	if c.input, err = rt.AllocateBuffer(int64(in.Size())*4, gpu.FrequentHostAccess); err != nil {
		return nil, err
	}
	if c.output, err = rt.AllocateBuffer(int64(out.Size())*4, gpu.FrequentHostAccess); err != nil {
		return nil, err
	}
	if c.z, err = rt.AllocateBuffer(int64(out.Size())*4, 0); err != nil {
		return nil, err
	}
	if c.delta, err = rt.AllocateBuffer(int64(out.Size())*4, gpu.FrequentHostAccess); err != nil {
		return nil, err
	}
	if c.inputDelta, err = rt.AllocateBuffer(int64(in.Size())*4, gpu.FrequentHostAccess); err != nil {
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
	work := [3]int{out.W, out.H, depth}

	if c.evalForward, err = loadShader(rt, shaderDir, "convolutional_eval_forward",
		[]gpu.Binding{rw(c.input, 0, false), rw(c.kernels, 1, false), rw(c.biases, 2, false), rw(c.output, 3, true)},
		nil, 0, work); err != nil {
		return nil, err
	}
	if c.trainForward, err = loadShader(rt, shaderDir, "convolutional_train_forward",
		[]gpu.Binding{rw(c.input, 0, false), rw(c.kernels, 1, false), rw(c.biases, 2, false), rw(status.Handle(), 3, false), rw(c.output, 4, true), rw(c.z, 5, true)},
		spec, 0, work); err != nil {
		return nil, err
	}
	if c.backpropDelta, err = loadShader(rt, shaderDir, "convolutional_backprop_delta",
		[]gpu.Binding{rw(c.z, 0, false), rw(c.delta, 1, true)},
		nil, 0, work); err != nil {
		return nil, err
	}
	if c.backpropParamDeltas, err = loadShader(rt, shaderDir, "convolutional_backprop_param_deltas",
		[]gpu.Binding{rw(c.input, 0, false), rw(c.delta, 1, false), rw(c.gradKernels, 2, true), rw(c.gradBiases, 3, true)},
		nil, 0, [3]int{kernelW, kernelH, depth}); err != nil {
		return nil, err
	}
	if c.backpropInputDelta, err = loadShader(rt, shaderDir, "convolutional_backprop_input_delta",
		[]gpu.Binding{rw(c.kernels, 0, false), rw(c.delta, 1, false), rw(c.inputDelta, 2, true)},
		nil, 0, [3]int{in.W, in.H, in.D}); err != nil {
		return nil, err
	}
	if c.updateParams, err = loadShader(rt, shaderDir, "convolutional_update_params",
		[]gpu.Binding{rw(status.Handle(), 0, false), rw(c.gradKernels, 1, true), rw(c.gradBiases, 2, true), rw(c.kernels, 3, true), rw(c.biases, 4, true)},
		spec, 0, [3]int{kernelSize * depth, 1, 1}); err != nil {
		return nil, err
	}

	return c, nil
}

// OutputShape implements layer.Layer.
func (c *Conv) OutputShape() tensor.Shape3 { return c.out }

// InputSize implements layer.Layer.
func (c *Conv) InputSize() int { return c.in.Size() }

func (c *Conv) dispatchForward(inputs tensor.DataArray, shader gpu.ShaderHandle) tensor.DataArray {
	if err := uploadFloat32s(c.rt, c.input, inputs.Raw()); err != nil {
		return tensor.DataArray{}
	}
	if err := c.rt.QueueShader(shader, nil); err != nil {
		return tensor.DataArray{}
	}
	if err := c.rt.FlushQueue(); err != nil {
		return tensor.DataArray{}
	}
	out, err := downloadFloat32s(c.rt, c.output, c.out.Size())
	if err != nil {
		return tensor.DataArray{}
	}
	return tensor.DataArrayFrom(out)
}

// EvalForward implements layer.Layer.
func (c *Conv) EvalForward(inputs tensor.DataArray) tensor.DataArray {
	return c.dispatchForward(inputs, c.evalForward)
}

// TrainForward implements layer.Layer.
func (c *Conv) TrainForward(inputs tensor.DataArray) tensor.DataArray {
	return c.dispatchForward(inputs, c.trainForward)
}

// UpdateDeltas implements layer.Layer.
func (c *Conv) UpdateDeltas(inputs, outputDelta tensor.DataArray) tensor.DataArray {
	if err := uploadFloat32s(c.rt, c.delta, outputDelta.Raw()); err != nil {
		return tensor.DataArray{}
	}
	if err := c.rt.QueueShader(c.backpropDelta, nil); err != nil {
		return tensor.DataArray{}
	}
	if err := c.rt.QueueShader(c.backpropParamDeltas, nil); err != nil {
		return tensor.DataArray{}
	}
	if err := c.rt.QueueShader(c.backpropInputDelta, nil); err != nil {
		return tensor.DataArray{}
	}
	if err := c.rt.FlushQueue(); err != nil {
		return tensor.DataArray{}
	}
	out, err := downloadFloat32s(c.rt, c.inputDelta, c.in.Size())
	if err != nil {
		return tensor.DataArray{}
	}
	return tensor.DataArrayFrom(out)
}

// UpdateParams implements layer.Layer.
func (c *Conv) UpdateParams(epoch int) {
	c.status.Set(uint32(epoch), 0)
	if err := c.rt.QueueShader(c.updateParams, nil); err != nil {
		return
	}
	c.rt.FlushQueue()
}

// WriteToStream implements layer.Layer: per filter, {bias f32, kernel
// f32[W*H*D]}, matching the CPU back-end's layout.
func (c *Conv) WriteToStream(w io.Writer) error {
	biases, err := downloadFloat32s(c.rt, c.biases, c.depth)
	if err != nil {
		return err
	}
	kernelSize := c.kernelW * c.kernelH * c.in.D
	kernels, err := downloadFloat32s(c.rt, c.kernels, kernelSize*c.depth)
	if err != nil {
		return err
	}
	for f := 0; f < c.depth; f++ {
		if err := writeFloat32s(w, biases[f:f+1]); err != nil {
			return err
		}
		if err := writeFloat32s(w, kernels[f*kernelSize:(f+1)*kernelSize]); err != nil {
			return err
		}
	}
	return nil
}
