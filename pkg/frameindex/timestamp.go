package frameindex

import (
	"io"
	"io/fs"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Source describes where a frame timestamp was derived from.
//
// The priority order is:
//  1. filename
//  2. metadata
//  3. mtime
//  4. unknown
type Source string

const (
	SourceFilename Source = "filename"
	SourceMetadata Source = "metadata"
	SourceMtime    Source = "mtime"
	SourceUnknown  Source = "unknown"
)

// Frame is one image file with its capture timestamp in seconds.
type Frame struct {
	Path      string
	Timestamp float64
	Source    Source
}

// MetadataExtractor extracts an embedded capture time from an image stream.
//
// Implementations return (t, true, nil) when a timestamp is found and
// (time.Time{}, false, nil) when the image carries none. Errors are treated
// as "not found".
type MetadataExtractor interface {
	CapturedAt(path string, r io.Reader) (time.Time, bool, error)
}

// Recorders name frames after their capture time, e.g. 1305031102.175304.png.
var reSecondsName = regexp.MustCompile(`^(\d+(?:\.\d+)?)$`)

// timestampFromFilename parses a file name of the form <seconds>[.<fraction>].<ext>.
func timestampFromFilename(name string) (float64, bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	m := reSecondsName.FindStringSubmatch(stem)
	if m == nil {
		return 0, false
	}
	ts, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

func seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// determine returns the best timestamp for one file.
func determine(fsys fs.FS, path string, metadata MetadataExtractor) (Frame, error) {
	info, err := fs.Stat(fsys, path)
	if err != nil {
		return Frame{}, err
	}
	if info.IsDir() {
		return Frame{}, fs.ErrInvalid
	}

	frame := Frame{Path: path, Source: SourceUnknown}

	if ts, ok := timestampFromFilename(filepath.Base(path)); ok {
		frame.Timestamp = ts
		frame.Source = SourceFilename
		return frame, nil
	}

	if metadata != nil {
		f, openErr := fsys.Open(path)
		if openErr != nil {
			return Frame{}, openErr
		}
		capturedAt, ok, metaErr := metadata.CapturedAt(path, f)
		_ = f.Close()
		if metaErr == nil && ok && !capturedAt.IsZero() {
			frame.Timestamp = seconds(capturedAt)
			frame.Source = SourceMetadata
			return frame, nil
		}
	}

	if mtime := info.ModTime(); !mtime.IsZero() {
		frame.Timestamp = seconds(mtime)
		frame.Source = SourceMtime
	}

	return frame, nil
}
