package docindex

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SortableSerialise encode f into 8 bytes whose lexicographic byte order is the
// numeric order of f
func SortableSerialise(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, bits)
	return buf
}

func SortableUnserialise(value []byte) (float64, error) {
	if len(value) != 8 {
		return 0, fmt.Errorf("sortable value need 8 bytes, got %d", len(value))
	}
	bits := binary.BigEndian.Uint64(value)
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits), nil
}
