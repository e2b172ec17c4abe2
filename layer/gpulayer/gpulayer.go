// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package gpulayer implements the GPU back-end of the layer engine:
// the same four layer kinds as package layer, each dispatching the
// fixed shader set named in spec.md §4.5 through a gpu.Runtime
// instead of computing on the host.
package gpulayer

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/nnetkit/richard/driver"
	"github.com/nnetkit/richard/gpu"
)

// loadShader reads a SPIR-V module by its stable name from dir and
// registers it with rt.
func loadShader(rt *gpu.Runtime, dir, name string, bindings []gpu.Binding, spec []driver.SpecConstant, pushSize int, workSize [3]int) (gpu.ShaderHandle, error) {
	path := filepath.Join(dir, name+".spv")
	code, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("gpulayer: %s: %w", name, err)
	}
	h, err := rt.AddShader(name, code, bindings, spec, pushSize, workSize)
	if err != nil {
		return 0, fmt.Errorf("gpulayer: %s: %w", name, err)
	}
	return h, nil
}

// uploadFloat32s writes values into the device buffer h.
func uploadFloat32s(rt *gpu.Runtime, h gpu.BufferHandle, values []float32) error {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return rt.SubmitBufferData(h, buf)
}

// downloadFloat32s reads n float32s back from the device buffer h.
func downloadFloat32s(rt *gpu.Runtime, h gpu.BufferHandle, n int) ([]float32, error) {
	buf := make([]byte, n*4)
	if err := rt.RetrieveBuffer(h, buf); err != nil {
		return nil, err
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}

// writeFloat32s appends values to w in the fixed little-endian
// layout shared with the CPU back-end.
func writeFloat32s(w io.Writer, values []float32) error {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	_, err := w.Write(buf)
	return err
}

// readFloat32sHost reads n float32s from r in the same little-endian
// layout, for restoring a layer's parameters before they are
// uploaded to the device.
func readFloat32sHost(r io.Reader, n int) ([]float32, error) {
	buf := make([]byte, n*4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("gpulayer: %w", err)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}
