package stream

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrMalformedTimestamp is returned when the first token of a line is not a finite number.
	ErrMalformedTimestamp = errors.New("malformed timestamp")
)

// Record is one timestamped entry of a stream.
//
// Fields holds the tokens following the timestamp, uninterpreted.
type Record struct {
	Timestamp float64
	Fields    []string
}

// Values returns the record as it appeared in the source: the timestamp
// followed by the remaining fields.
func (r Record) Values() []string {
	out := make([]string, 0, len(r.Fields)+1)
	out = append(out, FormatTimestamp(r.Timestamp))
	return append(out, r.Fields...)
}

// FormatTimestamp renders a timestamp with the shortest representation that
// round-trips.
func FormatTimestamp(ts float64) string {
	return strconv.FormatFloat(ts, 'f', -1, 64)
}

// Stream is a sequence of records sorted ascending by timestamp.
type Stream []Record

func (s Stream) Len() int { return len(s) }

// ParseError identifies the line that could not be parsed.
type ParseError struct {
	Path string
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s:%d: %v: %q", e.Path, e.Line, e.Err, e.Text)
	}
	return fmt.Sprintf("line %d: %v: %q", e.Line, e.Err, e.Text)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse reads a whole text source and returns its records sorted by timestamp.
//
// Commas and tabs count as whitespace. Blank lines and lines starting with
// '#' are skipped. A line whose first token is not a number fails the whole
// parse.
func Parse(r io.Reader) (Stream, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	text := strings.NewReplacer(",", " ", "\t", " ").Replace(string(data))

	var records Stream
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		tokens := strings.Fields(line)
		ts, err := strconv.ParseFloat(tokens[0], 64)
		if err != nil || math.IsNaN(ts) || math.IsInf(ts, 0) {
			return nil, &ParseError{Line: i + 1, Text: line, Err: ErrMalformedTimestamp}
		}

		records = append(records, Record{Timestamp: ts, Fields: tokens[1:]})
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp < records[j].Timestamp
	})
	return records, nil
}

// Load parses the file at path inside fsys.
func Load(fsys fs.FS, path string) (Stream, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return parseNamed(f, path)
}

// LoadFile parses a file from the local filesystem.
func LoadFile(path string) (Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return parseNamed(f, path)
}

func parseNamed(r io.Reader, path string) (Stream, error) {
	s, err := Parse(r)
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			perr.Path = path
			return nil, perr
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}
