package ingest

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"optflow-sim-go/internal/compression"
)

const (
	tagMultiDimArray = 40
	tagUint8         = 64
	tagUint16LE      = 69
	tagCompressed    = 56500
)

// pixelArray is a decoded row-major image payload.
type pixelArray struct {
	Rows  int
	Cols  int
	Depth int
	Pix   []byte
}

func decodeMultiDimArray(value any) (pixelArray, error) {
	tag, ok := value.(cbor.Tag)
	if !ok || tag.Number != tagMultiDimArray {
		return pixelArray{}, fmt.Errorf("expected multidim tag 40")
	}

	items, ok := tag.Content.([]any)
	if !ok || len(items) != 2 {
		return pixelArray{}, fmt.Errorf("invalid multidim array content")
	}

	dimsRaw, ok := items[0].([]any)
	if !ok || len(dimsRaw) != 2 {
		return pixelArray{}, fmt.Errorf("invalid multidim dimensions")
	}

	rows, err := toInt(dimsRaw[0])
	if err != nil {
		return pixelArray{}, err
	}
	cols, err := toInt(dimsRaw[1])
	if err != nil {
		return pixelArray{}, err
	}
	if rows <= 0 || cols <= 0 {
		return pixelArray{}, fmt.Errorf("invalid dimensions %dx%d", rows, cols)
	}

	pix, depth, err := decodeTypedArray(items[1])
	if err != nil {
		return pixelArray{}, err
	}
	if len(pix) != rows*cols*depth {
		return pixelArray{}, errors.New("dimension mismatch")
	}
	return pixelArray{Rows: rows, Cols: cols, Depth: depth, Pix: pix}, nil
}

// decodeTypedArray returns the raw little-endian bytes and the element size.
func decodeTypedArray(value any) ([]byte, int, error) {
	tag, ok := value.(cbor.Tag)
	if !ok {
		return nil, 0, fmt.Errorf("expected typed array tag")
	}

	dataBytes, err := extractBytes(tag)
	if err != nil {
		return nil, 0, err
	}

	switch tag.Number {
	case tagUint8:
		return dataBytes, 1, nil
	case tagUint16LE:
		return dataBytes, 2, nil
	default:
		return nil, 0, fmt.Errorf("unsupported typed array tag %d", tag.Number)
	}
}

func extractBytes(tag cbor.Tag) ([]byte, error) {
	switch v := tag.Content.(type) {
	case []byte:
		return v, nil
	case cbor.Tag:
		if v.Number != tagCompressed {
			return nil, fmt.Errorf("unsupported nested tag %d", v.Number)
		}
		return decompressPayload(v)
	default:
		return nil, fmt.Errorf("unsupported typed array content %T", v)
	}
}

// decompressPayload unpacks [algorithm, element size, payload].
func decompressPayload(tag cbor.Tag) ([]byte, error) {
	items, ok := tag.Content.([]any)
	if !ok || len(items) != 3 {
		return nil, errors.New("invalid compressed tag content")
	}
	algorithm, ok := items[0].(string)
	if !ok {
		return nil, errors.New("invalid compression algorithm")
	}
	if _, err := toInt(items[1]); err != nil {
		return nil, err
	}
	encoded, ok := items[2].([]byte)
	if !ok {
		return nil, errors.New("invalid compressed payload")
	}
	return compression.Decompress(encoded, algorithm)
}

// encodePixels builds the tag 40 value for an 8-bit frame, optionally
// compressed.
func encodePixels(rows, cols int, pix []byte, algorithm string) (cbor.Tag, error) {
	var content any = pix
	if algorithm != "" {
		encoded, err := compression.Compress(pix, algorithm)
		if err != nil {
			return cbor.Tag{}, err
		}
		content = cbor.Tag{Number: tagCompressed, Content: []any{algorithm, 1, encoded}}
	}
	return cbor.Tag{
		Number: tagMultiDimArray,
		Content: []any{
			[]any{rows, cols},
			cbor.Tag{Number: tagUint8, Content: content},
		},
	}, nil
}
