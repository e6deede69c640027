package frameindex

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/edaniels/golog"
	"go.uber.org/zap"

	"github.com/quidome/rgbd-associate/pkg/stream"
)

// Options configures Build.
type Options struct {
	Scan ScanOptions

	// Prefix is joined in front of every frame path in the index, usually
	// the frame directory name relative to the index file.
	Prefix string

	// Location is used for EXIF timestamps, which carry no zone.
	// If nil, time.Local is used.
	Location *time.Location

	// Metadata optionally extracts embedded timestamps.
	//
	// If nil, a default EXIF-based extractor is used.
	Metadata MetadataExtractor

	Logger golog.Logger
}

// DefaultOptions indexes the image files directly inside the root.
func DefaultOptions() Options {
	return Options{Scan: DefaultScanOptions()}
}

// Frames returns every frame below root with its timestamp, including
// frames whose timestamp is unknown.
func Frames(fsys fs.FS, root string, opts Options) ([]Frame, error) {
	files, err := ScanFiles(fsys, root, opts.Scan)
	if err != nil {
		return nil, err
	}

	metadata := opts.Metadata
	if metadata == nil {
		metadata = exifExtractor{loc: opts.Location}
	}

	frames := make([]Frame, 0, len(files))
	for _, rel := range files {
		frame, err := determine(fsys, path.Join(root, rel), metadata)
		if err != nil {
			return nil, fmt.Errorf("timestamp %s: %w", rel, err)
		}
		frame.Path = rel
		frames = append(frames, frame)
	}
	return frames, nil
}

// Build indexes the frames below root as a stream of [timestamp, path]
// records. Frames without a timestamp are left out.
func Build(fsys fs.FS, root string, opts Options) (stream.Stream, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	frames, err := Frames(fsys, root, opts)
	if err != nil {
		return nil, err
	}

	out := make(stream.Stream, 0, len(frames))
	for _, f := range frames {
		if f.Source == SourceUnknown {
			logger.Warnw("skipping frame without timestamp", "path", f.Path)
			continue
		}
		logger.Debugw("indexed frame", "path", f.Path, "timestamp", f.Timestamp, "source", f.Source)

		p := f.Path
		if opts.Prefix != "" {
			p = path.Join(opts.Prefix, p)
		}
		out = append(out, stream.Record{Timestamp: f.Timestamp, Fields: []string{p}})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out, nil
}

// Write emits s in the text format read by stream.Parse. Each header line is
// written as a comment.
func Write(w io.Writer, s stream.Stream, header ...string) error {
	bw := bufio.NewWriter(w)
	for _, h := range header {
		if _, err := fmt.Fprintf(bw, "# %s\n", h); err != nil {
			return err
		}
	}
	for _, r := range s {
		if _, err := fmt.Fprintln(bw, strings.Join(r.Values(), " ")); err != nil {
			return err
		}
	}
	return bw.Flush()
}
