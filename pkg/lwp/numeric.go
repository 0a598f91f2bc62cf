package lwp

// ReadUintLE combines up to eight little-endian bytes into an unsigned integer.
func ReadUintLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// ToSigned reinterprets the low bits of v as a two's-complement signed integer.
// For example ToSigned(0xFFFF, 16) is -1.
func ToSigned(v uint64, bits uint) int64 {
	if bits == 0 || bits >= 64 {
		return int64(v)
	}
	v &= 1<<bits - 1
	if v&(1<<(bits-1)) != 0 {
		return int64(v) - int64(1)<<bits
	}
	return int64(v)
}

// ReadIntLE decodes len(b) little-endian bytes as a two's-complement signed integer.
func ReadIntLE(b []byte) int64 {
	return ToSigned(ReadUintLE(b), uint(len(b))*8)
}

// PutUintLE writes the low n bytes of v into a new slice, least significant first.
// Negative values converted with uint64(x) come out in two's complement.
func PutUintLE(v uint64, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
