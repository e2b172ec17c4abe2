// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package network

import (
	"fmt"

	"github.com/nnetkit/richard/config"
	"github.com/nnetkit/richard/tensor"
)

// LayerKind identifies a layer variant as named in the JSON
// configuration's "type" field.
type LayerKind string

// Recognized layer kinds.
const (
	KindDense         LayerKind = "dense"
	KindOutput        LayerKind = "output"
	KindConvolutional LayerKind = "convolutional"
	KindMaxPooling    LayerKind = "maxPooling"
)

// LayerSpec is the parsed, typed form of one layer's JSON
// configuration object.
type LayerSpec struct {
	Kind LayerKind

	Size int // dense/output

	KernelW, KernelH, Depth int // convolutional
	RegionW, RegionH        int // maxPooling

	LearnRate      float32 // dense/output/convolutional
	LearnRateDecay float32
	DropoutRate    float32 // dense/convolutional
}

// Hyperparams mirrors spec.md §3's Hyperparams triple.
type Hyperparams struct {
	Epochs        int
	BatchSize     int
	MiniBatchSize int
}

// GPUOptions holds the optional gpu sub-config as parsed by
// ParseTopology. NewGPU does not apply it: workgroup sizes are tiled
// against the device's own limits only.
type GPUOptions struct {
	MaxWorkgroupSize int // 0 means unset.
}

// Topology is the parsed form of the "network" configuration object:
// hyperparameters plus the ordered hidden-layer and output-layer
// specs.
type Topology struct {
	Input       tensor.Shape3
	Hyperparams Hyperparams
	Hidden      []LayerSpec
	Output      LayerSpec
	GPU         GPUOptions
}

// ParseLayerSpec parses a single layer's configuration object per
// spec.md §6.4.
func ParseLayerSpec(c config.Config) (LayerSpec, error) {
	kindStr, err := c.String("type")
	if err != nil {
		return LayerSpec{}, fmt.Errorf("network: layer missing \"type\": %w", err)
	}
	kind := LayerKind(kindStr)

	spec := LayerSpec{Kind: kind}
	switch kind {
	case KindDense, KindOutput:
		spec.Size, err = c.Int("size")
		if err != nil {
			return LayerSpec{}, err
		}
		spec.LearnRate = float32(c.OptFloat("learnRate", 0))
		spec.LearnRateDecay = float32(c.OptFloat("learnRateDecay", 1))
		if kind == KindDense {
			spec.DropoutRate = float32(c.OptFloat("dropoutRate", 0))
		}
	case KindConvolutional:
		spec.Depth, err = c.Int("depth")
		if err != nil {
			return LayerSpec{}, err
		}
		ks, err := c.IntSeq("kernelSize")
		if err != nil || len(ks) != 2 {
			return LayerSpec{}, fmt.Errorf("network: convolutional layer needs a 2-element kernelSize")
		}
		spec.KernelW, spec.KernelH = ks[0], ks[1]
		spec.LearnRate = float32(c.OptFloat("learnRate", 0))
		spec.LearnRateDecay = float32(c.OptFloat("learnRateDecay", 1))
		spec.DropoutRate = float32(c.OptFloat("dropoutRate", 0))
	case KindMaxPooling:
		rs, err := c.IntSeq("regionSize")
		if err != nil || len(rs) != 2 {
			return LayerSpec{}, fmt.Errorf("network: maxPooling layer needs a 2-element regionSize")
		}
		spec.RegionW, spec.RegionH = rs[0], rs[1]
	default:
		return LayerSpec{}, fmt.Errorf("network: unknown layer type %q", kindStr)
	}
	return spec, nil
}

// ParseTopology parses the "network" configuration object: its
// hyperparams child, hiddenLayers sequence, outputLayer object, and
// optional gpu sub-config.
func ParseTopology(netConfig config.Config, input tensor.Shape3) (Topology, error) {
	hpConfig, err := netConfig.Child("hyperparams")
	if err != nil {
		return Topology{}, err
	}
	epochs, err := hpConfig.Int("epochs")
	if err != nil {
		return Topology{}, err
	}
	batchSize, err := hpConfig.Int("batchSize")
	if err != nil {
		return Topology{}, err
	}
	miniBatchSize, err := hpConfig.Int("miniBatchSize")
	if err != nil {
		return Topology{}, err
	}
	if miniBatchSize == 0 || batchSize%miniBatchSize != 0 {
		return Topology{}, fmt.Errorf("%w: batchSize=%d miniBatchSize=%d", ErrBatchSizeMismatch, batchSize, miniBatchSize)
	}

	hiddenConfigs, err := netConfig.ChildSeq("hiddenLayers")
	if err != nil {
		return Topology{}, err
	}
	hidden := make([]LayerSpec, len(hiddenConfigs))
	for i, hc := range hiddenConfigs {
		spec, err := ParseLayerSpec(hc)
		if err != nil {
			return Topology{}, fmt.Errorf("network: hidden layer %d: %w", i, err)
		}
		hidden[i] = spec
	}

	outConfig, err := netConfig.Child("outputLayer")
	if err != nil {
		return Topology{}, err
	}
	outSpec, err := ParseLayerSpec(outConfig)
	if err != nil {
		return Topology{}, fmt.Errorf("network: output layer: %w", err)
	}
	outSpec.Kind = KindOutput

	top := Topology{
		Input: input,
		Hyperparams: Hyperparams{
			Epochs:        epochs,
			BatchSize:     batchSize,
			MiniBatchSize: miniBatchSize,
		},
		Hidden: hidden,
		Output: outSpec,
	}

	if netConfig.Has("gpu") {
		gpuConfig, err := netConfig.Child("gpu")
		if err != nil {
			return Topology{}, err
		}
		top.GPU.MaxWorkgroupSize = gpuConfig.OptInt("maxWorkgroupSize", 0)
	}

	return top, nil
}
