// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package loader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/nnetkit/richard/tensor"
)

// ErrNotBMP means the stream did not begin with the packed "BM"
// bitmap file header.
var ErrNotBMP = errors.New("loader: not a bitmap file")

const (
	bmpFileHeaderSize = 14
	bmpImgHeaderSize  = 40
	bmpHeaderSize     = bmpFileHeaderSize + bmpImgHeaderSize
)

type bmpFileHeader struct {
	Type      [2]byte
	Size      uint32
	Reserved1 uint16
	Reserved2 uint16
	Offset    uint32
}

type bmpImgHeader struct {
	Size                uint32
	Width               int32
	Height              int32
	Planes              uint16
	BitCount            uint16
	Compression         uint32
	ImgSize             uint32
	XPxPerMetre         int32
	YPxPerMetre         int32
	ColMapEntriesUsed   uint32
	NumImportantColours uint32
}

// DecodeBMP reads an uncompressed, bottom-up 8-bit single-channel,
// BGR or BGRA bitmap and
// returns it as a (W, H, D) Array3 with raw channel values in [0,255].
// Row data is stored in on-disk order (bottom row first); the
// caller's sample shape is expected to match this row order.
// Normalization is left to the caller, mirroring loader.CSV.
func DecodeBMP(r io.Reader) (tensor.Array3, error) {
	var fh bmpFileHeader
	if err := binary.Read(r, binary.LittleEndian, &fh); err != nil {
		return tensor.Array3{}, fmt.Errorf("loader: bmp: %w", err)
	}
	if fh.Type[0] != 'B' || fh.Type[1] != 'M' {
		return tensor.Array3{}, ErrNotBMP
	}

	var ih bmpImgHeader
	if err := binary.Read(r, binary.LittleEndian, &ih); err != nil {
		return tensor.Array3{}, fmt.Errorf("loader: bmp: %w", err)
	}
	if ih.Compression != 0 {
		return tensor.Array3{}, fmt.Errorf("loader: bmp: compressed bitmaps are not supported")
	}

	width := int(ih.Width)
	height := int(ih.Height)
	channels := int(ih.BitCount) / 8
	if channels != 1 && channels != 3 && channels != 4 {
		return tensor.Array3{}, fmt.Errorf("loader: bmp: unsupported bit depth %d", ih.BitCount)
	}

	out := tensor.NewArray3(width, height, channels)

	rowBytes := width * channels
	stride := ((rowBytes + 3) / 4) * 4
	row := make([]byte, stride)

	for y := 0; y < height; y++ {
		if _, err := io.ReadFull(r, row); err != nil {
			return tensor.Array3{}, fmt.Errorf("loader: bmp: row %d: %w", y, err)
		}
		for x := 0; x < width; x++ {
			for c := 0; c < channels; c++ {
				out.Set(x, y, c, float32(row[x*channels+c]))
			}
		}
	}
	return out, nil
}
