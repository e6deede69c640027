package payload

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register decoders for image.Decode
	_ "image/png"
	"io"
	"io/fs"

	_ "golang.org/x/image/tiff"
)

var (
	// ErrShape is returned when a frame does not have the expected size.
	ErrShape = errors.New("unexpected frame shape")
)

// Kind is the element type of a frame.
type Kind string

const (
	KindUint8  Kind = "uint8"
	KindUint16 Kind = "uint16"
)

// Frame is a decoded image in channel-first (C, H, W) layout.
//
// Exactly one of Pix8 and Pix16 is set, according to Kind.
type Frame struct {
	Kind     Kind
	Channels int
	Height   int
	Width    int

	Pix8  []uint8
	Pix16 []uint16
}

// Shape returns (channels, height, width).
func (f *Frame) Shape() []int {
	return []int{f.Channels, f.Height, f.Width}
}

// Max returns the largest sample value of the frame.
func (f *Frame) Max() int {
	m := 0
	for _, v := range f.Pix8 {
		m = max(m, int(v))
	}
	for _, v := range f.Pix16 {
		m = max(m, int(v))
	}
	return m
}

// Options describes the frames a caller expects.
type Options struct {
	// Width and Height, when non-zero, are enforced on every decoded frame.
	Width  int
	Height int
}

// DefaultOptions expects 640x480 frames.
func DefaultOptions() Options {
	return Options{Width: 640, Height: 480}
}

// Decode reads one image.
//
// 16-bit greyscale images (depth maps) decode to a (1, H, W) uint16 frame,
// 8-bit greyscale to (1, H, W) uint8 and everything else to a (3, H, W)
// uint8 RGB frame.
func Decode(r io.Reader, opts Options) (*Frame, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if (opts.Width != 0 && w != opts.Width) || (opts.Height != 0 && h != opts.Height) {
		return nil, fmt.Errorf("%w: got %dx%d, want %dx%d", ErrShape, w, h, opts.Width, opts.Height)
	}

	switch src := img.(type) {
	case *image.Gray16:
		f := &Frame{Kind: KindUint16, Channels: 1, Height: h, Width: w, Pix16: make([]uint16, w*h)}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				f.Pix16[y*w+x] = src.Gray16At(b.Min.X+x, b.Min.Y+y).Y
			}
		}
		return f, nil

	case *image.Gray:
		f := &Frame{Kind: KindUint8, Channels: 1, Height: h, Width: w, Pix8: make([]uint8, w*h)}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				f.Pix8[y*w+x] = src.GrayAt(b.Min.X+x, b.Min.Y+y).Y
			}
		}
		return f, nil

	default:
		plane := w * h
		f := &Frame{Kind: KindUint8, Channels: 3, Height: h, Width: w, Pix8: make([]uint8, 3*plane)}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				i := y*w + x
				f.Pix8[i] = c.R
				f.Pix8[plane+i] = c.G
				f.Pix8[2*plane+i] = c.B
			}
		}
		return f, nil
	}
}

// Load decodes the image at name inside fsys.
func Load(fsys fs.FS, name string, opts Options) (*Frame, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	frame, err := Decode(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return frame, nil
}
