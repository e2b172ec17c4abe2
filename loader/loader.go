// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package loader supplements the distillation's dropped DataLoader
// surface: the narrow interface the training driver and classifier
// depend on, plus concrete CSV and BMP implementations.
package loader

import "github.com/nnetkit/richard/tensor"

// Sample is one labelled training/evaluation example.
type Sample struct {
	Label string
	Data  tensor.DataArray
}

// LabelledDataSet is the narrow surface the training driver and
// classifier depend on (spec.md §1's explicit out-of-scope
// boundary names exactly these calls).
type LabelledDataSet interface {
	// LoadSamples appends up to fetchSize freshly-read samples to
	// *out and returns how many were appended. It returns 0 when
	// the underlying source is exhausted.
	LoadSamples(out *[]Sample, fetchSize int) (int, error)

	// SeekToBeginning rewinds the data source so the next
	// LoadSamples call starts over.
	SeekToBeginning() error

	// ClassOutputVector returns the one-hot vector for label,
	// sized to the number of known classes.
	ClassOutputVector(label string) tensor.Vector
}
