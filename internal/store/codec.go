package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic is the frame header of a zstd stream.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// EncodeResults renders res as indented JSON, zstd-compressed when compress
// is set.
func EncodeResults(res *Results, compress bool) ([]byte, error) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal results: %w", err)
	}
	if !compress {
		return data, nil
	}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(12)))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return nil, fmt.Errorf("compress results: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("compress results: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeResults parses a results document, decompressing it first when it
// starts with a zstd frame header.
func DecodeResults(data []byte) (*Results, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		defer dec.Close()
		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress results: %w", err)
		}
	}

	var res Results
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}
	if res.Record == nil {
		return nil, fmt.Errorf("parse results: missing record")
	}
	return &res, nil
}

// ReadResultsFile loads a results document from disk.
func ReadResultsFile(path string) (*Results, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	return DecodeResults(data)
}
