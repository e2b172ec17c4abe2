// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package network

import (
	"fmt"
	"io"

	"github.com/nnetkit/richard/gpu"
	"github.com/nnetkit/richard/layer"
	"github.com/nnetkit/richard/layer/gpulayer"
	"github.com/nnetkit/richard/tensor"
)

// NewGPU is like New but builds every layer on rt, dispatching
// through the GPU back-end (package layer/gpulayer) instead of
// computing on the host. shaderDir names the directory holding the
// layer family's compiled SPIR-V modules.
func NewGPU(top Topology, params io.Reader, rt *gpu.Runtime, shaderDir string) (*Network, error) {
	if len(top.Hidden)+1 < 2 {
		return nil, ErrSingleLayerNetwork
	}

	status, err := rt.NewStatusBuffer()
	if err != nil {
		return nil, fmt.Errorf("network: gpu status buffer: %w", err)
	}

	n := &Network{input: top.Input, hp: top.Hyperparams}

	cur := top.Input
	for i, spec := range top.Hidden {
		l, next, err := buildGPULayer(rt, shaderDir, status, spec, cur, params)
		if err != nil {
			return nil, fmt.Errorf("network: hidden layer %d: %w", i, err)
		}
		n.layers = append(n.layers, l)
		cur = next
	}

	outLayer, _, err := buildGPULayer(rt, shaderDir, status, top.Output, cur, params)
	if err != nil {
		return nil, fmt.Errorf("network: output layer: %w", err)
	}
	n.layers = append(n.layers, outLayer)

	if err := n.checkShapeComposition(); err != nil {
		return nil, err
	}
	return n, nil
}

func buildGPULayer(rt *gpu.Runtime, shaderDir string, status gpu.StatusBuffer, spec LayerSpec, in tensor.Shape3, params io.Reader) (layer.Layer, tensor.Shape3, error) {
	fresh := params == nil
	switch spec.Kind {
	case KindDense:
		var l *gpulayer.Dense
		var err error
		if fresh {
			l, err = gpulayer.NewDense(rt, shaderDir, status, in.Size(), spec.Size, spec.LearnRate, spec.LearnRateDecay, spec.DropoutRate)
		} else {
			l, err = gpulayer.RestoreDense(rt, shaderDir, status, in.Size(), spec.Size, spec.LearnRate, spec.LearnRateDecay, spec.DropoutRate, params)
		}
		if err != nil {
			return nil, tensor.Shape3{}, err
		}
		return l, l.OutputShape(), nil
	case KindOutput:
		var l *gpulayer.Output
		var err error
		if fresh {
			l, err = gpulayer.NewOutput(rt, shaderDir, status, in.Size(), spec.Size, spec.LearnRate, spec.LearnRateDecay)
		} else {
			l, err = gpulayer.RestoreOutput(rt, shaderDir, status, in.Size(), spec.Size, spec.LearnRate, spec.LearnRateDecay, params)
		}
		if err != nil {
			return nil, tensor.Shape3{}, err
		}
		return l, l.OutputShape(), nil
	case KindConvolutional:
		var l *gpulayer.Conv
		var err error
		if fresh {
			l, err = gpulayer.NewConv(rt, shaderDir, status, in, spec.KernelW, spec.KernelH, spec.Depth, spec.LearnRate, spec.LearnRateDecay, spec.DropoutRate)
		} else {
			l, err = gpulayer.RestoreConv(rt, shaderDir, status, in, spec.KernelW, spec.KernelH, spec.Depth, spec.LearnRate, spec.LearnRateDecay, spec.DropoutRate, params)
		}
		if err != nil {
			return nil, tensor.Shape3{}, err
		}
		return l, l.OutputShape(), nil
	case KindMaxPooling:
		l, err := gpulayer.NewMaxPool(rt, shaderDir, in, spec.RegionW, spec.RegionH)
		if err != nil {
			return nil, tensor.Shape3{}, err
		}
		return l, l.OutputShape(), nil
	default:
		return nil, tensor.Shape3{}, fmt.Errorf("network: unknown layer kind %q", spec.Kind)
	}
}
