package archive

import (
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/sbinet/npyio/npz"
)

// shaped returns the data of a as a Go array value whose nested dimensions
// are a.Shape, which is how npyio derives the shape it stores in the .npy
// header.
func shaped(a *Array) any {
	var data reflect.Value
	switch {
	case a.Float32 != nil:
		data = reflect.ValueOf(a.Float32)
	case a.Uint16 != nil:
		data = reflect.ValueOf(a.Uint16)
	default:
		data = reflect.ValueOf(a.Uint8)
	}

	if len(a.Shape) == 0 {
		return data.Index(0).Interface()
	}

	t := data.Type().Elem()
	for i := len(a.Shape) - 1; i >= 0; i-- {
		t = reflect.ArrayOf(a.Shape[i], t)
	}

	v := reflect.New(t).Elem()
	copyInto(v, data, 0)
	return v.Interface()
}

// copyInto fills the nested array v from the flat slice data starting at
// offset and returns the offset after the last element copied.
func copyInto(v, data reflect.Value, offset int) int {
	if v.Type().Elem().Kind() != reflect.Array {
		return offset + reflect.Copy(v.Slice(0, v.Len()), data.Slice(offset, offset+v.Len()))
	}
	for i := 0; i < v.Len(); i++ {
		offset = copyInto(v.Index(i), data, offset)
	}
	return offset
}

// writeNPZ stores every array as <name>.npy in a zip, the layout
// numpy.savez produces.
func writeNPZ(w io.Writer, arrays []*Array) error {
	zw := npz.NewWriter(w)
	for _, a := range arrays {
		if err := zw.Write(a.Name+".npy", shaped(a)); err != nil {
			_ = zw.Close()
			return fmt.Errorf("write %s.npy: %w", a.Name, err)
		}
	}
	return zw.Close()
}

func readNPZ(r io.ReaderAt, size int64) ([]*Array, error) {
	zr, err := npz.NewReader(r, size)
	if err != nil {
		return nil, err
	}

	keys := zr.Keys()
	arrays := make([]*Array, 0, len(keys))
	for _, key := range keys {
		h := zr.Header(key)
		if h == nil {
			return nil, fmt.Errorf("%s: missing header", key)
		}

		a := &Array{
			Name:  strings.TrimSuffix(key, ".npy"),
			Shape: append([]int{}, h.Descr.Shape...),
		}
		switch dtype := h.Descr.Type; dtype {
		case "<f4":
			err = zr.Read(key, &a.Float32)
			if a.Float32 == nil {
				a.Float32 = []float32{}
			}
		case "<u2":
			err = zr.Read(key, &a.Uint16)
			if a.Uint16 == nil {
				a.Uint16 = []uint16{}
			}
		case "|u1", "<u1":
			err = zr.Read(key, &a.Uint8)
			if a.Uint8 == nil {
				a.Uint8 = []uint8{}
			}
		default:
			return nil, fmt.Errorf("archive: %s: unsupported dtype %q", a.Name, dtype)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if err := a.validate(); err != nil {
			return nil, err
		}
		arrays = append(arrays, a)
	}
	return arrays, nil
}
