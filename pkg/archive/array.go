package archive

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Array is a named, C-ordered n-dimensional array. Exactly one of the typed
// slices holds the data.
type Array struct {
	Name  string
	Shape []int

	Float32 []float32
	Uint8   []uint8
	Uint16  []uint16
}

// DType returns the numpy type descriptor of the array.
func (a *Array) DType() string {
	switch {
	case a.Float32 != nil:
		return "<f4"
	case a.Uint16 != nil:
		return "<u2"
	default:
		return "|u1"
	}
}

func (a *Array) itemSize() int {
	switch {
	case a.Float32 != nil:
		return 4
	case a.Uint16 != nil:
		return 2
	default:
		return 1
	}
}

// Len returns the number of elements.
func (a *Array) Len() int {
	switch {
	case a.Float32 != nil:
		return len(a.Float32)
	case a.Uint16 != nil:
		return len(a.Uint16)
	default:
		return len(a.Uint8)
	}
}

func (a *Array) validate() error {
	if a.Name == "" {
		return fmt.Errorf("archive: array name is empty")
	}
	n := 1
	for _, d := range a.Shape {
		if d < 0 {
			return fmt.Errorf("archive: %s: negative dimension in shape %v", a.Name, a.Shape)
		}
		n *= d
	}
	if n != a.Len() {
		return fmt.Errorf("archive: %s: shape %v needs %d elements, have %d", a.Name, a.Shape, n, a.Len())
	}
	return nil
}

// rowSize returns the number of elements in one slice along the first axis.
func (a *Array) rowSize() int {
	n := 1
	for _, d := range a.Shape[1:] {
		n *= d
	}
	return n
}

// encode returns elements [from, to) as little-endian bytes.
func (a *Array) encode(from, to int) []byte {
	size := a.itemSize()
	b := make([]byte, (to-from)*size)
	switch {
	case a.Float32 != nil:
		for i, v := range a.Float32[from:to] {
			binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
		}
	case a.Uint16 != nil:
		for i, v := range a.Uint16[from:to] {
			binary.LittleEndian.PutUint16(b[i*2:], v)
		}
	default:
		copy(b, a.Uint8[from:to])
	}
	return b
}

// decodeInto fills the typed slice of a from little-endian bytes.
func decodeInto(a *Array, dtype string, b []byte) error {
	switch dtype {
	case "<f4":
		if len(b)%4 != 0 {
			return fmt.Errorf("archive: %s: invalid float32 data length %d", a.Name, len(b))
		}
		a.Float32 = make([]float32, len(b)/4)
		for i := range a.Float32 {
			a.Float32[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		}
	case "<u2":
		if len(b)%2 != 0 {
			return fmt.Errorf("archive: %s: invalid uint16 data length %d", a.Name, len(b))
		}
		a.Uint16 = make([]uint16, len(b)/2)
		for i := range a.Uint16 {
			a.Uint16[i] = binary.LittleEndian.Uint16(b[i*2:])
		}
	case "|u1", "<u1":
		a.Uint8 = append([]uint8{}, b...)
	default:
		return fmt.Errorf("archive: %s: unsupported dtype %q", a.Name, dtype)
	}
	return nil
}
