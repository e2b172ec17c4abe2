// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/nnetkit/richard/tensor"
)

// CSV is a LabelledDataSet backed by a comma-separated text source.
// Each row is "label,v1,v2,...,vN"; an empty label field is recorded
// as "_". Every value is normalized with details.Normalization before
// being stored.
type CSV struct {
	r       io.ReadSeeker
	reader  *csv.Reader
	details DataDetails
}

// NewCSV constructs a CSV loader reading from r, using details for
// normalization and class labels.
func NewCSV(r io.ReadSeeker, details DataDetails) *CSV {
	c := &CSV{r: r, details: details}
	c.reader = newCSVReader(r)
	return c
}

func newCSVReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	return reader
}

// LoadSamples implements LabelledDataSet. The underlying csv.Reader
// is kept across calls: it owns its own read-ahead buffer over r, so
// rebuilding it per call would silently drop already-buffered rows.
func (c *CSV) LoadSamples(out *[]Sample, fetchSize int) (int, error) {
	count := 0
	for count < fetchSize {
		record, err := c.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("loader: csv: %w", err)
		}
		if len(record) == 0 {
			continue
		}

		label := record[0]
		if label == "" {
			label = "_"
		}

		values := record[1:]
		data := tensor.NewDataArray(len(values))
		for i, field := range values {
			f, err := strconv.ParseFloat(field, 32)
			if err != nil {
				return count, fmt.Errorf("loader: csv: value %d: %w", i, err)
			}
			data.Set(i, c.details.Normalization.Apply(float32(f)))
		}

		*out = append(*out, Sample{Label: label, Data: data})
		count++
	}
	return count, nil
}

// SeekToBeginning implements LabelledDataSet.
func (c *CSV) SeekToBeginning() error {
	if _, err := c.r.Seek(0, io.SeekStart); err != nil {
		return err
	}
	c.reader = newCSVReader(c.r)
	return nil
}

// ClassOutputVector implements LabelledDataSet.
func (c *CSV) ClassOutputVector(label string) tensor.Vector {
	return c.details.ClassOutputVector(label)
}
