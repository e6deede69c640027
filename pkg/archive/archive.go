package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrDestinationExists is returned when attempting to write to an existing file.
	ErrDestinationExists = errors.New("destination file already exists")

	// ErrUnknownFormat is returned for a format other than npz or sqlite.
	ErrUnknownFormat = errors.New("unknown archive format")
)

// Format selects the archive encoding.
type Format string

const (
	FormatNPZ    Format = "npz"
	FormatSQLite Format = "sqlite"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatNPZ, FormatSQLite:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Extension returns the file extension of the format, including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// Options configures Save.
type Options struct {
	// Overwrite allows replacing an existing archive.
	// Default should be false for safety.
	Overwrite bool
}

// Save writes arrays to path in the given format and returns the path
// written. The format extension is appended when path lacks it, as
// numpy.savez does.
//
// It will:
// - Create the destination directory if it doesn't exist
// - Never overwrite an existing file (unless Overwrite is true)
// - Remove a partially written archive on error
func Save(ctx context.Context, path string, format Format, arrays []*Array, opts Options) (string, error) {
	if _, err := ParseFormat(string(format)); err != nil {
		return "", err
	}
	for _, a := range arrays {
		if err := a.validate(); err != nil {
			return "", err
		}
	}

	if !strings.EqualFold(filepath.Ext(path), format.Extension()) {
		path += format.Extension()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}

	f, err := createFile(path, opts.Overwrite)
	if err != nil {
		return "", err
	}

	switch format {
	case FormatNPZ:
		err = writeNPZ(f, arrays)
		if err == nil {
			err = f.Sync()
		}
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	case FormatSQLite:
		// The driver opens the file itself; an empty file is a valid new database.
		_ = f.Close()
		err = saveSQLite(ctx, path, arrays)
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	return path, nil
}

func saveSQLite(ctx context.Context, path string, arrays []*Array) error {
	db, err := openSQLite(path)
	if err != nil {
		return err
	}
	defer db.Close()

	return writeSQLite(ctx, db, arrays)
}

// createFile creates path for writing.
// If allowOverwrite is true, an existing file is truncated.
func createFile(path string, allowOverwrite bool) (*os.File, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if !allowOverwrite {
		flags |= os.O_EXCL
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrDestinationExists
		}
		return nil, fmt.Errorf("create destination: %w", err)
	}
	return f, nil
}

// Open reads every array of an archive written by Save. The format is
// chosen from the file extension.
func Open(ctx context.Context, path string) ([]*Array, error) {
	format, err := ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatSQLite:
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		db, err := openSQLite(path)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		return readSQLite(ctx, db)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, err
		}
		return readNPZ(f, info.Size())
	}
}

// Find returns the array called name.
func Find(arrays []*Array, name string) (*Array, bool) {
	for _, a := range arrays {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}
