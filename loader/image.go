// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/nnetkit/richard/tensor"
)

// ImageDirectory is a LabelledDataSet backed by a directory tree:
// one immediate subdirectory per class label, each holding that
// class's bitmap files. Every pixel channel is normalized with
// details.Normalization before being stored.
type ImageDirectory struct {
	root    string
	details DataDetails

	entries []imageEntry
	next    int
}

type imageEntry struct {
	label string
	path  string
}

// NewImageDirectory walks root and returns an ImageDirectory over its
// per-label subdirectories.
func NewImageDirectory(root string, details DataDetails) (*ImageDirectory, error) {
	labelDirs, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("loader: image directory: %w", err)
	}

	var entries []imageEntry
	for _, ld := range labelDirs {
		if !ld.IsDir() {
			continue
		}
		label := ld.Name()
		labelPath := filepath.Join(root, label)
		files, err := os.ReadDir(labelPath)
		if err != nil {
			return nil, fmt.Errorf("loader: image directory: %w", err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			entries = append(entries, imageEntry{label: label, path: filepath.Join(labelPath, f.Name())})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].label != entries[j].label {
			return entries[i].label < entries[j].label
		}
		return entries[i].path < entries[j].path
	})

	return &ImageDirectory{root: root, details: details, entries: entries}, nil
}

// LoadSamples implements LabelledDataSet.
func (d *ImageDirectory) LoadSamples(out *[]Sample, fetchSize int) (int, error) {
	count := 0
	for count < fetchSize && d.next < len(d.entries) {
		e := d.entries[d.next]
		d.next++

		f, err := os.Open(e.path)
		if err != nil {
			return count, fmt.Errorf("loader: image directory: %w", err)
		}
		img, err := DecodeBMP(f)
		closeErr := f.Close()
		if err != nil {
			return count, fmt.Errorf("loader: image directory: %s: %w", e.path, err)
		}
		if closeErr != nil {
			return count, closeErr
		}

		data := tensor.NewDataArray(img.Shape().Size())
		raw := img.Raw()
		for i := 0; i < raw.Len(); i++ {
			data.Set(i, d.details.Normalization.Apply(raw.At(i)))
		}

		*out = append(*out, Sample{Label: e.label, Data: data})
		count++
	}
	return count, nil
}

// SeekToBeginning implements LabelledDataSet.
func (d *ImageDirectory) SeekToBeginning() error {
	d.next = 0
	return nil
}

// ClassOutputVector implements LabelledDataSet.
func (d *ImageDirectory) ClassOutputVector(label string) tensor.Vector {
	return d.details.ClassOutputVector(label)
}
