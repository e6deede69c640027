package frameindex

import (
	"io"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

type exifExtractor struct {
	loc *time.Location
}

func (e exifExtractor) CapturedAt(path string, r io.Reader) (time.Time, bool, error) {
	x, err := exif.Decode(r)
	if err != nil {
		// PNG frames carry no EXIF; treat any decode failure as "not found".
		return time.Time{}, false, nil
	}

	loc := e.loc
	if loc == nil {
		loc = time.Local
	}

	// Prefer DateTimeOriginal, then DateTimeDigitized, then DateTime.
	tags := []struct {
		when   exif.FieldName
		subsec exif.FieldName
	}{
		{exif.DateTimeOriginal, exif.SubSecTimeOriginal},
		{exif.DateTimeDigitized, exif.SubSecTimeDigitized},
		{exif.DateTime, exif.SubSecTime},
	}
	for _, tag := range tags {
		tm, ok := exifTimeFromTag(x, tag.when, loc)
		if !ok {
			continue
		}
		return tm.Add(exifSubSec(x, tag.subsec)), true, nil
	}

	return time.Time{}, false, nil
}

func exifTimeFromTag(x *exif.Exif, tag exif.FieldName, loc *time.Location) (time.Time, bool) {
	f, err := x.Get(tag)
	if err != nil {
		return time.Time{}, false
	}

	s, err := f.StringVal()
	if err != nil {
		return time.Time{}, false
	}

	// EXIF DateTime format: "2006:01:02 15:04:05", without a zone.
	tm, err := time.ParseInLocation("2006:01:02 15:04:05", strings.Trim(s, "\x00 "), loc)
	if err != nil {
		return time.Time{}, false
	}

	return tm, true
}

// exifSubSec reads a SubSecTime* tag: the decimal digits of the fraction of
// a second, e.g. "25" is 0.25s.
func exifSubSec(x *exif.Exif, tag exif.FieldName) time.Duration {
	f, err := x.Get(tag)
	if err != nil {
		return 0
	}
	s, err := f.StringVal()
	if err != nil {
		return 0
	}

	s = strings.Trim(s, "\x00 ")
	var d time.Duration
	scale := time.Second / 10
	for _, c := range s {
		if c < '0' || c > '9' || scale == 0 {
			break
		}
		d += time.Duration(c-'0') * scale
		scale /= 10
	}
	return d
}
