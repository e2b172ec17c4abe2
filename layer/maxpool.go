// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package layer

import (
	"errors"
	"fmt"
	"io"

	"github.com/nnetkit/richard/tensor"
)

// ErrRegionMismatch means a max-pooling layer's region size does not
// evenly divide its input extent.
var ErrRegionMismatch = errors.New(prefix + "pooling region does not divide input")

// MaxPool is a parameter-free layer that reduces each non-overlapping
// (regionW, regionH) block per depth slice to its maximum.
type MaxPool struct {
	in             tensor.Shape3
	regionW, regionH int
	out            tensor.Shape3

	lastMask tensor.Array3 // same shape as in; 1 at each block's argmax, 0 elsewhere
}

// NewMaxPool constructs a MaxPool layer. It fails if in.W is not a
// multiple of regionW or in.H is not a multiple of regionH.
func NewMaxPool(in tensor.Shape3, regionW, regionH int) (*MaxPool, error) {
	if in.W%regionW != 0 || in.H%regionH != 0 {
		return nil, fmt.Errorf("%w: input %v, region (%d,%d)", ErrRegionMismatch, in, regionW, regionH)
	}
	return &MaxPool{
		in:       in,
		regionW:  regionW,
		regionH:  regionH,
		out:      tensor.Shape3{W: in.W / regionW, H: in.H / regionH, D: in.D},
		lastMask: tensor.NewArray3(in.W, in.H, in.D),
	}, nil
}

// OutputShape implements Layer.
func (p *MaxPool) OutputShape() tensor.Shape3 { return p.out }

// InputSize implements Layer.
func (p *MaxPool) InputSize() int { return p.in.Size() }

func (p *MaxPool) forward(inputs tensor.DataArray, trackMask bool) tensor.DataArray {
	img := tensor.ViewArray3(inputs.Raw(), p.in.W, p.in.H, p.in.D)
	out := tensor.NewArray3(p.out.W, p.out.H, p.out.D)
	if trackMask {
		p.lastMask.Zero()
	}
	for z := 0; z < p.in.D; z++ {
		for ry := 0; ry < p.out.H; ry++ {
			for rx := 0; rx < p.out.W; rx++ {
				best := img.At(rx*p.regionW, ry*p.regionH, z)
				bx, by := rx*p.regionW, ry*p.regionH
				for j := 0; j < p.regionH; j++ {
					for i := 0; i < p.regionW; i++ {
						x, y := rx*p.regionW+i, ry*p.regionH+j
						v := img.At(x, y, z)
						if v > best {
							best = v
							bx, by = x, y
						}
					}
				}
				out.Set(rx, ry, z, best)
				if trackMask {
					p.lastMask.Set(bx, by, z, 1)
				}
			}
		}
	}
	return out.Raw()
}

// TrainForward implements Layer.
func (p *MaxPool) TrainForward(inputs tensor.DataArray) tensor.DataArray {
	return p.forward(inputs, true)
}

// EvalForward implements Layer.
func (p *MaxPool) EvalForward(inputs tensor.DataArray) tensor.DataArray {
	return p.forward(inputs, false)
}

// UpdateDeltas implements Layer. inputDelta(x,y,z) equals the
// corresponding output delta wherever the forward pass's argmax
// landed, zero everywhere else.
func (p *MaxPool) UpdateDeltas(inputs, outputDelta tensor.DataArray) tensor.DataArray {
	od := tensor.ViewArray3(outputDelta.Raw(), p.out.W, p.out.H, p.out.D)
	inDelta := tensor.NewArray3(p.in.W, p.in.H, p.in.D)
	for z := 0; z < p.in.D; z++ {
		for y := 0; y < p.in.H; y++ {
			for x := 0; x < p.in.W; x++ {
				if p.lastMask.At(x, y, z) == 1 {
					inDelta.Set(x, y, z, od.At(x/p.regionW, y/p.regionH, z))
				}
			}
		}
	}
	return inDelta.Raw()
}

// UpdateParams implements Layer. MaxPool has no parameters.
func (p *MaxPool) UpdateParams(epoch int) {}

// WriteToStream implements Layer. MaxPool persists nothing.
func (p *MaxPool) WriteToStream(w io.Writer) error { return nil }
