package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

// EncodeAll and DecodeAll are safe for concurrent use.
var (
	blobEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	blobDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

func float64ToBytes(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func bytesToFloat64(b []byte) []float64 {
	n := len(b) / 8
	v := make([]float64, n)
	for i := 0; i < n; i++ {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}

// EncodeVectors packs v as little-endian float64 and compresses it with zstd.
func EncodeVectors(v []float64) []byte {
	return blobEncoder.EncodeAll(float64ToBytes(v), nil)
}

// DecodeVectors reverses EncodeVectors.
func DecodeVectors(blob []byte) ([]float64, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	raw, err := blobDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress vectors: %w", err)
	}
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("vector blob has %d bytes, not a multiple of 8", len(raw))
	}
	return bytesToFloat64(raw), nil
}

// Fingerprint identifies a dataset by shape and content.
func Fingerprint(rows, dims int, v []float64) string {
	h := xxhash.New()
	var hdr [16]byte
	binary.LittleEndian.PutUint64(hdr[:8], uint64(rows))
	binary.LittleEndian.PutUint64(hdr[8:], uint64(dims))
	h.Write(hdr[:])
	h.Write(float64ToBytes(v))
	return fmt.Sprintf("%016x", h.Sum64())
}
