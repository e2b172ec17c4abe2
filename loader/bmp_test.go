// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package loader

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeTestBMP builds a minimal uncompressed single-channel bitmap
// with the given width/height and row-major pixel values (top row of
// the slice stored first on disk, matching DecodeBMP's documented
// on-disk row order).
func encodeTestBMP(t *testing.T, width, height int, rows [][]byte) []byte {
	t.Helper()

	stride := ((width + 3) / 4) * 4
	imgSize := stride * height

	var buf bytes.Buffer
	fh := bmpFileHeader{
		Type:   [2]byte{'B', 'M'},
		Size:   uint32(bmpHeaderSize + imgSize),
		Offset: bmpHeaderSize,
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, fh))

	ih := bmpImgHeader{
		Size:     bmpImgHeaderSize,
		Width:    int32(width),
		Height:   int32(height),
		Planes:   1,
		BitCount: 8,
		ImgSize:  uint32(imgSize),
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, ih))

	for _, row := range rows {
		padded := make([]byte, stride)
		copy(padded, row)
		buf.Write(padded)
	}
	return buf.Bytes()
}

func TestDecodeBMPRejectsNonBMPHeader(t *testing.T) {
	_, err := DecodeBMP(bytes.NewReader(make([]byte, bmpHeaderSize)))
	assert.ErrorIs(t, err, ErrNotBMP)
}

func TestDecodeBMPReadsRawChannelValues(t *testing.T) {
	data := encodeTestBMP(t, 2, 2, [][]byte{{10, 20}, {30, 40}})

	img, err := DecodeBMP(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 4, img.Shape().Size())
	assert.Equal(t, float32(10), img.At(0, 0, 0))
	assert.Equal(t, float32(20), img.At(1, 0, 0))
	assert.Equal(t, float32(30), img.At(0, 1, 0))
	assert.Equal(t, float32(40), img.At(1, 1, 0))
}

func TestDecodeBMPRejectsCompression(t *testing.T) {
	data := encodeTestBMP(t, 1, 1, [][]byte{{1}})
	data[14+16] = 1 // Compression field, offset 16 within the 40-byte info header

	_, err := DecodeBMP(bytes.NewReader(data))
	assert.Error(t, err)
}
