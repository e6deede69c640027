package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/edaniels/golog"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/streamz"
	"go.uber.org/zap"

	"github.com/quidome/rgbd-associate/pkg/archive"
	"github.com/quidome/rgbd-associate/pkg/associate"
	"github.com/quidome/rgbd-associate/pkg/payload"
	"github.com/quidome/rgbd-associate/pkg/stream"
)

// PoseFields is the number of values of a ground-truth pose:
// tx ty tz qx qy qz qw.
const PoseFields = 7

var (
	// ErrGroundtruth is returned for a ground-truth record that is not a pose.
	ErrGroundtruth = errors.New("malformed ground-truth record")

	// ErrPayload is returned when a frame record does not reference an image
	// of the expected kind.
	ErrPayload = errors.New("invalid frame payload")
)

// Options configures Build.
type Options struct {
	// Index files. Ground truth is the base stream; RGB and depth are matched against it.
	Groundtruth string
	RGB         string
	Depth       string

	MaxDiff float64
	Payload payload.Options

	// Workers is the number of frames decoded concurrently.
	// If zero, runtime.NumCPU() is used.
	Workers int

	Logger golog.Logger
	Clock  clockz.Clock
}

// DefaultOptions returns the paths of the freiburg3 long office household
// recording and a 0.02 s tolerance.
func DefaultOptions() Options {
	const root = "rgbd_dataset_freiburg3_long_office_household"
	return Options{
		Groundtruth: filepath.Join(root, "groundtruth.txt"),
		RGB:         filepath.Join(root, "rgb.txt"),
		Depth:       filepath.Join(root, "depth.txt"),
		MaxDiff:     associate.DefaultMaxDiff,
		Payload:     payload.DefaultOptions(),
	}
}

// Dataset holds associated samples as flat C-ordered arrays.
type Dataset struct {
	N      int
	Height int
	Width  int

	Timestamps  []float32 // (N)
	Groundtruth []float32 // (N, 7)
	RGB         []uint8   // (N, 3, H, W)
	Depth       []uint16  // (N, 1, H, W)

	// MaxDepth is the largest raw depth value over all frames.
	MaxDepth int

	Elapsed time.Duration
}

// Arrays returns the dataset as named archive arrays.
func (d *Dataset) Arrays() []*archive.Array {
	return []*archive.Array{
		{Name: "timestamps", Shape: []int{d.N}, Float32: d.Timestamps},
		{Name: "groundtruth", Shape: []int{d.N, PoseFields}, Float32: d.Groundtruth},
		{Name: "rgb", Shape: []int{d.N, 3, d.Height, d.Width}, Uint8: d.RGB},
		{Name: "depth", Shape: []int{d.N, 1, d.Height, d.Width}, Uint16: d.Depth},
	}
}

// Save writes the dataset to an archive and returns the path written.
func (d *Dataset) Save(ctx context.Context, path string, format archive.Format, opts archive.Options) (string, error) {
	return archive.Save(ctx, path, format, d.Arrays(), opts)
}

type sample struct {
	index int
	tuple associate.Tuple
}

type frames struct {
	index int
	rgb   *payload.Frame
	depth *payload.Frame
}

// Build associates the three index files and decodes every referenced frame.
func Build(ctx context.Context, opts Options) (*Dataset, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockz.RealClock
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	start := clock.Now()

	tuples, err := associate.AssociateFiles(opts.Groundtruth, []string{opts.RGB, opts.Depth}, opts.MaxDiff)
	if err != nil {
		return nil, err
	}
	logger.Infow("associated streams", "samples", len(tuples), "max_diff", opts.MaxDiff, "max_skew", maxSkew(tuples))

	n := len(tuples)
	d := &Dataset{
		N:           n,
		Height:      opts.Payload.Height,
		Width:       opts.Payload.Width,
		Timestamps:  make([]float32, n),
		Groundtruth: make([]float32, n*PoseFields),
	}
	for i, t := range tuples {
		d.Timestamps[i] = float32(t.Base().Timestamp)
		if err := parsePose(t.Base(), d.Groundtruth[i*PoseFields:(i+1)*PoseFields]); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	in := make(chan streamz.Result[sample])
	go func() {
		defer close(in)
		for i, t := range tuples {
			select {
			case in <- streamz.NewSuccess(sample{index: i, tuple: t}):
			case <-ctx.Done():
				return
			}
		}
	}()

	decoder := streamz.NewAsyncMapper(func(ctx context.Context, s sample) (frames, error) {
		return loadFrames(s, opts)
	}).WithWorkers(workers).WithName("decode-frames")

	var firstErr error
	received := 0
	for r := range decoder.Process(ctx, in) {
		if firstErr != nil {
			continue
		}
		if r.IsError() {
			firstErr = r.Error().Err
			cancel()
			continue
		}

		f := r.Value()
		if err := d.place(f); err != nil {
			firstErr = err
			cancel()
			continue
		}
		received++
		logger.Debugw(fmt.Sprintf("processing %d/%d", f.index+1, n), "timestamp", tuples[f.index].Base().Timestamp)
	}
	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil || received != n {
		if err == nil {
			err = fmt.Errorf("decoded %d of %d samples", received, n)
		}
		return nil, err
	}

	if n == 0 {
		d.RGB, d.Depth = []uint8{}, []uint16{}
	}

	d.Elapsed = clock.Now().Sub(start)
	logger.Infow("decoded frames", "samples", n, "max_depth", d.MaxDepth, "elapsed", d.Elapsed)
	return d, nil
}

// place copies one sample's frames into the dataset arrays. The frame size
// is taken from the first sample when the options do not fix it.
func (d *Dataset) place(f frames) error {
	if d.RGB == nil {
		if d.Height == 0 || d.Width == 0 {
			d.Height, d.Width = f.rgb.Height, f.rgb.Width
		}
		d.RGB = make([]uint8, d.N*3*d.Height*d.Width)
		d.Depth = make([]uint16, d.N*d.Height*d.Width)
	}

	if f.rgb.Height != d.Height || f.rgb.Width != d.Width || f.depth.Height != d.Height || f.depth.Width != d.Width {
		return fmt.Errorf("sample %d: %w: rgb %v and depth %v, want %dx%d", f.index, payload.ErrShape, f.rgb.Shape(), f.depth.Shape(), d.Width, d.Height)
	}

	plane := d.Height * d.Width
	copy(d.RGB[f.index*3*plane:], f.rgb.Pix8)
	copy(d.Depth[f.index*plane:], f.depth.Pix16)
	d.MaxDepth = max(d.MaxDepth, f.depth.Max())
	return nil
}

// maxSkew returns the largest base to secondary timestamp difference over
// all tuples.
func maxSkew(tuples []associate.Tuple) float64 {
	var skew float64
	for _, t := range tuples {
		skew = max(skew, t.MaxSkew())
	}
	return skew
}

func loadFrames(s sample, opts Options) (frames, error) {
	rgb, err := loadFrame(opts.RGB, s.tuple[1], opts.Payload)
	if err != nil {
		return frames{}, err
	}
	if rgb.Kind != payload.KindUint8 || rgb.Channels != 3 {
		return frames{}, fmt.Errorf("%w: rgb frame at %s is %d-channel %s", ErrPayload, stream.FormatTimestamp(s.tuple[1].Timestamp), rgb.Channels, rgb.Kind)
	}

	depth, err := loadFrame(opts.Depth, s.tuple[2], opts.Payload)
	if err != nil {
		return frames{}, err
	}
	if depth.Kind != payload.KindUint16 || depth.Channels != 1 {
		return frames{}, fmt.Errorf("%w: depth frame at %s is %d-channel %s", ErrPayload, stream.FormatTimestamp(s.tuple[2].Timestamp), depth.Channels, depth.Kind)
	}

	return frames{index: s.index, rgb: rgb, depth: depth}, nil
}

// loadFrame decodes the image referenced by r. Relative paths are resolved
// against the directory of the index file that listed them.
func loadFrame(indexPath string, r stream.Record, opts payload.Options) (*payload.Frame, error) {
	if len(r.Fields) == 0 {
		return nil, fmt.Errorf("%w: record at %s has no file name", ErrPayload, stream.FormatTimestamp(r.Timestamp))
	}

	p := filepath.FromSlash(r.Fields[0])
	if !filepath.IsAbs(p) {
		p = filepath.Join(filepath.Dir(indexPath), p)
	}
	return payload.Load(os.DirFS(filepath.Dir(p)), filepath.Base(p), opts)
}

func parsePose(r stream.Record, dst []float32) error {
	if len(r.Fields) != PoseFields {
		return fmt.Errorf("%w at %s: want %d values, got %d", ErrGroundtruth, stream.FormatTimestamp(r.Timestamp), PoseFields, len(r.Fields))
	}
	for i, s := range r.Fields {
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return fmt.Errorf("%w at %s: %q is not a number", ErrGroundtruth, stream.FormatTimestamp(r.Timestamp), s)
		}
		dst[i] = float32(v)
	}
	return nil
}
