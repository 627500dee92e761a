package vector

import (
	"encoding/binary"
	"math"

	"baasd/internal/apperr"
)

// EncodeEmbedding packs a slice of float32 values into a little-endian byte
// blob, four bytes per value.
func EncodeEmbedding(values []float32) []byte {
	blob := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// DecodeEmbedding unpacks a little-endian byte blob back into float32
// values. It fails iff the blob length is not a multiple of 4.
func DecodeEmbedding(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, apperr.Validation("embedding blob length is not a multiple of 4")
	}
	values := make([]float32, len(blob)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return values, nil
}

// Norm computes the Euclidean (L2) norm of a vector in float64 precision.
func Norm(values []float32) float64 {
	var sumSquares float64
	for _, v := range values {
		f := float64(v)
		sumSquares += f * f
	}
	return math.Sqrt(sumSquares)
}
