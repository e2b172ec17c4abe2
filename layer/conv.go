// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package layer

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand/v2"

	"github.com/nnetkit/richard/tensor"
)

const convKernelStdDev = 0.1

type filter struct {
	kernel tensor.Kernel // (kernelW, kernelH, inputDepth)
	bias   float32

	gradKernel tensor.Kernel
	gradBias   float32
}

// Conv is a convolutional layer: depth filters, each a
// (kernelW, kernelH, inputDepth) kernel plus scalar bias, ReLU
// activation, dropout applied after activation during training.
type Conv struct {
	in              tensor.Shape3
	kernelW, kernelH int
	depth           int
	out             tensor.Shape3

	filters []filter

	learnRate      float32
	learnRateDecay float32
	dropoutRate    float32

	lastInput tensor.Array3
	lastZ     tensor.Array3 // (out.W, out.H, depth)
}

// NewConv constructs a fresh Conv layer with Gaussian-initialized
// kernels (std 0.1) and zero biases.
func NewConv(in tensor.Shape3, kernelW, kernelH, depth int, learnRate, learnRateDecay, dropoutRate float32) *Conv {
	c := &Conv{
		in:             in,
		kernelW:        kernelW,
		kernelH:        kernelH,
		depth:          depth,
		out:            tensor.Shape3{W: in.W - kernelW + 1, H: in.H - kernelH + 1, D: depth},
		learnRate:      learnRate,
		learnRateDecay: learnRateDecay,
		dropoutRate:    dropoutRate,
	}
	c.filters = make([]filter, depth)
	for i := range c.filters {
		k := tensor.NewKernel(kernelW, kernelH, in.D)
		k.RandomizeGaussian(convKernelStdDev)
		c.filters[i] = filter{
			kernel:     k,
			gradKernel: tensor.NewKernel(kernelW, kernelH, in.D),
		}
	}
	return c
}

// RestoreConv constructs a Conv layer reading parameters from r:
// per filter, interleaved {bias f32, kernel f32[W*H*D]}.
func RestoreConv(r io.Reader, in tensor.Shape3, kernelW, kernelH, depth int, learnRate, learnRateDecay, dropoutRate float32) (*Conv, error) {
	c := &Conv{
		in:             in,
		kernelW:        kernelW,
		kernelH:        kernelH,
		depth:          depth,
		out:            tensor.Shape3{W: in.W - kernelW + 1, H: in.H - kernelH + 1, D: depth},
		learnRate:      learnRate,
		learnRateDecay: learnRateDecay,
		dropoutRate:    dropoutRate,
	}
	c.filters = make([]filter, depth)
	buf4 := make([]byte, 4)
	for i := range c.filters {
		if _, err := io.ReadFull(r, buf4); err != nil {
			return nil, fmt.Errorf(prefix+"read filter bias: %w", err)
		}
		bias := math.Float32frombits(binary.LittleEndian.Uint32(buf4))
		kData, err := readFloat32s(r, kernelW*kernelH*in.D)
		if err != nil {
			return nil, fmt.Errorf(prefix+"read filter kernel: %w", err)
		}
		c.filters[i] = filter{
			kernel:     tensor.Array3From(tensor.Shape3{W: kernelW, H: kernelH, D: in.D}, kData.Raw()),
			bias:       bias,
			gradKernel: tensor.NewKernel(kernelW, kernelH, in.D),
		}
	}
	return c, nil
}

// OutputShape implements Layer.
func (c *Conv) OutputShape() tensor.Shape3 { return c.out }

// InputSize implements Layer.
func (c *Conv) InputSize() int { return c.in.Size() }

func (c *Conv) forward(inputs tensor.DataArray) tensor.Array3 {
	img := tensor.ViewArray3(inputs.Raw(), c.in.W, c.in.H, c.in.D)
	z := tensor.NewArray3(c.out.W, c.out.H, c.depth)
	for f, flt := range c.filters {
		slice := tensor.CrossCorrelate(img, flt.kernel)
		for y := 0; y < c.out.H; y++ {
			for x := 0; x < c.out.W; x++ {
				z.Set(x, y, f, slice.At(x, y)+flt.bias)
			}
		}
	}
	return z
}

// TrainForward implements Layer.
func (c *Conv) TrainForward(inputs tensor.DataArray) tensor.DataArray {
	c.lastInput = tensor.ViewArray3(inputs.Raw(), c.in.W, c.in.H, c.in.D).Clone()
	c.lastZ = c.forward(inputs)
	a := c.lastZ.Clone()
	a.Raw().TransformInPlace(relu)
	applyDropoutArray(a.Raw(), c.dropoutRate)
	return a.Raw()
}

// EvalForward implements Layer.
func (c *Conv) EvalForward(inputs tensor.DataArray) tensor.DataArray {
	z := c.forward(inputs)
	a := z.Raw()
	a.TransformInPlace(relu)
	return a
}

// UpdateDeltas implements Layer.
func (c *Conv) UpdateDeltas(inputs, outputDelta tensor.DataArray) tensor.DataArray {
	od := tensor.ViewArray3(outputDelta.Raw(), c.out.W, c.out.H, c.depth)
	inDelta := tensor.NewArray3(c.in.W, c.in.H, c.in.D)

	for f := range c.filters {
		flt := &c.filters[f]

		// δ(x,y,f) = ReLU'(Z(x,y,f)) · outputDelta(x,y,f)
		delta := tensor.NewArray2(c.out.W, c.out.H)
		for y := 0; y < c.out.H; y++ {
			for x := 0; x < c.out.W; x++ {
				delta.Set(x, y, reluPrime(c.lastZ.At(x, y, f))*od.At(x, y, f))
			}
		}
		deltaKernel := tensor.ViewArray3(delta.Raw().Raw(), c.out.W, c.out.H, 1)

		var biasSum float32
		for i := 0; i < delta.Raw().Len(); i++ {
			biasSum += delta.Raw().At(i)
		}
		flt.gradBias += biasSum

		for z := 0; z < c.in.D; z++ {
			channel := c.lastInput.Slice(z)
			channelImg := tensor.ViewArray3(channel.Raw().Raw(), c.in.W, c.in.H, 1)

			gradSlice := tensor.CrossCorrelate(channelImg, deltaKernel)
			for j := 0; j < c.kernelH; j++ {
				for i := 0; i < c.kernelW; i++ {
					flt.gradKernel.Set(i, j, z, flt.gradKernel.At(i, j, z)+gradSlice.At(i, j))
				}
			}

			kChannel := flt.kernel.Slice(z)
			kChannelImg := tensor.ViewArray3(kChannel.Raw().Raw(), c.kernelW, c.kernelH, 1)
			contrib := tensor.FullConvolve(deltaKernel, kChannelImg)
			for y := 0; y < c.in.H; y++ {
				for x := 0; x < c.in.W; x++ {
					inDelta.Set(x, y, z, inDelta.At(x, y, z)+contrib.At(x, y))
				}
			}
		}
	}

	return inDelta.Raw()
}

// UpdateParams implements Layer. The effective learning rate is
// scaled by 1/(W_out*H_out), per spec's per-feature-map averaging.
func (c *Conv) UpdateParams(epoch int) {
	divisor := float32(c.out.W * c.out.H)
	eta := c.learnRate * pow32(c.learnRateDecay, epoch) / divisor
	for i := range c.filters {
		flt := &c.filters[i]
		for idx := 0; idx < flt.kernel.Raw().Len(); idx++ {
			flt.kernel.Raw().Set(idx, flt.kernel.Raw().At(idx)-eta*flt.gradKernel.Raw().At(idx))
		}
		flt.bias -= flt.gradBias * eta
		flt.gradKernel.Zero()
		flt.gradBias = 0
	}
}

// WriteToStream implements Layer: per filter, {bias f32, kernel f32[W*H*D]}.
func (c *Conv) WriteToStream(w io.Writer) error {
	buf4 := make([]byte, 4)
	for _, flt := range c.filters {
		binary.LittleEndian.PutUint32(buf4, math.Float32bits(flt.bias))
		if _, err := w.Write(buf4); err != nil {
			return fmt.Errorf(prefix+"write filter bias: %w", err)
		}
		if err := writeFloat32s(w, flt.kernel.Raw()); err != nil {
			return err
		}
	}
	return nil
}

// applyDropoutArray zeros each element of a independently with
// probability rate, matching Dense's non-inverted dropout.
func applyDropoutArray(a tensor.DataArray, rate float32) {
	if rate <= 0 {
		return
	}
	for i := 0; i < a.Len(); i++ {
		if rand.Float32() < rate {
			a.Set(i, 0)
		}
	}
}
