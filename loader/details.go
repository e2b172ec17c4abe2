// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package loader

import (
	"fmt"

	"github.com/nnetkit/richard/config"
	"github.com/nnetkit/richard/tensor"
)

// DataDetails is the canonical description of a dataset: its
// per-scalar normalization, the ordered class label list (the
// mapping from label string to one-hot position), and the sample
// shape.
type DataDetails struct {
	Normalization tensor.NormalizationParams
	ClassLabels   []string
	Shape         tensor.Shape3
}

// ClassOutputVector returns the one-hot vector for label, sized to
// len(ClassLabels). An unrecognized label yields an all-zero vector.
func (d DataDetails) ClassOutputVector(label string) tensor.Vector {
	v := tensor.NewVector(len(d.ClassLabels))
	for i, l := range d.ClassLabels {
		if l == label {
			v.Set(i, 1)
			break
		}
	}
	return v
}

// ParseDataDetails parses the "data" configuration object of spec.md
// §6.4: `{normalization:{min,max}, classes:[...], shape:[W,H,D]}`.
func ParseDataDetails(c config.Config) (DataDetails, error) {
	normConfig, err := c.Child("normalization")
	if err != nil {
		return DataDetails{}, err
	}
	min, err := normConfig.Float("min")
	if err != nil {
		return DataDetails{}, err
	}
	max, err := normConfig.Float("max")
	if err != nil {
		return DataDetails{}, err
	}

	classes, err := c.StringSeq("classes")
	if err != nil {
		return DataDetails{}, err
	}

	shape, err := c.IntSeq("shape")
	if err != nil || len(shape) != 3 {
		return DataDetails{}, fmt.Errorf("loader: \"data\" needs a 3-element shape")
	}

	return DataDetails{
		Normalization: tensor.NormalizationParams{Min: float32(min), Max: float32(max)},
		ClassLabels:   classes,
		Shape:         tensor.Shape3{W: shape[0], H: shape[1], D: shape[2]},
	}, nil
}
