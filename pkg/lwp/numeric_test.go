package lwp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadIntLE(t *testing.T) {
	tests := []struct {
		in   []byte
		want int64
	}{
		{[]byte{0xFF, 0xFF}, -1},
		{[]byte{0x00, 0x80}, -32768},
		{[]byte{0xFF, 0x7F}, 32767},
		{[]byte{0xB9, 0xFE, 0xFF, 0xFF}, -327},
		{[]byte{0x64}, 100},
		{[]byte{0x9C}, -100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReadIntLE(tt.in), "% X", tt.in)
	}
}

func TestToSigned(t *testing.T) {
	assert.Equal(t, int64(-1), ToSigned(0xFFFF, 16))
	assert.Equal(t, int64(-128), ToSigned(0x80, 8))
	assert.Equal(t, int64(127), ToSigned(0x7F, 8))
	assert.Equal(t, int64(-1), ToSigned(0x1FF, 8), "bits above the width are ignored")
}

func TestPutUintLE(t *testing.T) {
	neg := int64(-327)
	assert.Equal(t, []byte{0xB9, 0xFE, 0xFF, 0xFF}, PutUintLE(uint64(neg), 4))
	assert.Equal(t, []byte{0x34, 0x12}, PutUintLE(0x1234, 2))
	assert.Equal(t, uint64(0x1234), ReadUintLE(PutUintLE(0x1234, 2)))
}
