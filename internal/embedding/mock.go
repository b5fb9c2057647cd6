package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// DefaultDimensions matches text-embedding-ada-002.
const DefaultDimensions = 1536

// MockProvider derives a unit vector from the SHA-256 of the text. The same
// text always yields the same vector, so similarity of identical questions is
// exactly 1.
type MockProvider struct {
	dims int
}

// NewMockProvider returns a mock provider producing dims-length vectors.
func NewMockProvider(dims int) *MockProvider {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &MockProvider{dims: dims}
}

// Name implements Provider.
func (*MockProvider) Name() string { return "mock" }

// Embed implements Provider. It never fails.
func (m *MockProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, m.dims)
	var block [sha256.Size]byte
	var counter [4]byte
	for i := range vec {
		// Each 32-byte digest yields 16 values from 2-byte words.
		word := i % (sha256.Size / 2)
		if word == 0 {
			binary.BigEndian.PutUint32(counter[:], uint32(i/(sha256.Size/2))) //nolint:gosec // bounded by dims
			h := sha256.New()
			h.Write([]byte(text))
			h.Write(counter[:])
			copy(block[:], h.Sum(nil))
		}
		u := binary.BigEndian.Uint16(block[word*2:])
		vec[i] = float32(u)/math.MaxUint16*2 - 1
	}
	normalize(vec)
	return vec, nil
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
}
