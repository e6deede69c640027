package associate

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/quidome/rgbd-associate/pkg/stream"
)

// DefaultMaxDiff is the default matching tolerance in seconds.
const DefaultMaxDiff = 0.02

var (
	// ErrInvalidTolerance is returned for a negative or NaN tolerance.
	ErrInvalidTolerance = errors.New("tolerance must be a non-negative number")
)

// Match pairs one base index with one index per secondary stream.
type Match struct {
	Base      int
	Secondary []int
}

// Matches maps base indices to secondary indices, iterated in ascending
// base index order.
type Matches struct {
	keys []int
	idx  map[int][]int
}

func newMatches() *Matches {
	return &Matches{idx: make(map[int][]int)}
}

func (m *Matches) add(base int, secondary ...int) {
	if _, ok := m.idx[base]; !ok {
		m.keys = append(m.keys, base)
	}
	m.idx[base] = append(m.idx[base], secondary...)
}

// Len returns the number of matched base indices.
func (m *Matches) Len() int { return len(m.keys) }

// Keys returns the matched base indices in ascending order.
func (m *Matches) Keys() []int {
	out := make([]int, len(m.keys))
	copy(out, m.keys)
	return out
}

// Get returns the secondary indices matched to base.
func (m *Matches) Get(base int) ([]int, bool) {
	v, ok := m.idx[base]
	if !ok {
		return nil, false
	}
	out := make([]int, len(v))
	copy(out, v)
	return out, true
}

// All returns every match in ascending base index order.
func (m *Matches) All() []Match {
	out := make([]Match, 0, len(m.keys))
	for _, k := range m.keys {
		v, _ := m.Get(k)
		out = append(out, Match{Base: k, Secondary: v})
	}
	return out
}

// Intersect keeps the base indices present in both m and other. The indices
// of other are appended to the surviving entries. Neither input is modified.
func (m *Matches) Intersect(other *Matches) *Matches {
	out := newMatches()
	for _, k := range m.keys {
		extra, ok := other.idx[k]
		if !ok {
			continue
		}
		out.add(k, m.idx[k]...)
		out.add(k, extra...)
	}
	return out
}

// FindMatching associates base with secondary in a single sweep over both
// streams.
//
// Two records match when their timestamps differ by strictly less than
// maxDiff. A zero tolerance only matches equal timestamps. Each index is used
// at most once and a committed match is never revisited, so the result is a
// valid one-to-one matching but not necessarily the one with the smallest
// total error.
func FindMatching(base, secondary stream.Stream, maxDiff float64) (*Matches, error) {
	if err := validateTolerance(maxDiff); err != nil {
		return nil, err
	}

	m := newMatches()
	i1, i2 := 0, 0
	for i1 < len(base) && i2 < len(secondary) {
		diff := base[i1].Timestamp - secondary[i2].Timestamp
		switch {
		case within(diff, maxDiff):
			m.add(i1, i2)
			i1++
			i2++
		case diff < 0:
			i1++
		default:
			i2++
		}
	}
	return m, nil
}

func within(diff, maxDiff float64) bool {
	if maxDiff == 0 {
		return diff == 0
	}
	return math.Abs(diff) < maxDiff
}

func validateTolerance(maxDiff float64) error {
	if math.IsNaN(maxDiff) || maxDiff < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidTolerance, maxDiff)
	}
	return nil
}

// Tuple holds one base record followed by one record per secondary stream.
type Tuple []stream.Record

// Base returns the base record.
func (t Tuple) Base() stream.Record { return t[0] }

// MaxSkew returns the largest timestamp difference between the base record
// and any secondary record.
func (t Tuple) MaxSkew() float64 {
	var skew float64
	for _, r := range t[1:] {
		skew = math.Max(skew, math.Abs(t[0].Timestamp-r.Timestamp))
	}
	return skew
}

// Associate matches every secondary stream against base and returns the
// tuples whose base record matched in all of them, sorted by base timestamp.
//
// Each secondary stream is matched against the full base stream on its own;
// the results are then intersected. Secondary records appear in the tuple in
// the order the streams were supplied.
func Associate(base stream.Stream, secondaries []stream.Stream, maxDiff float64) ([]Tuple, error) {
	if err := validateTolerance(maxDiff); err != nil {
		return nil, err
	}
	if len(secondaries) == 0 {
		return nil, nil
	}

	var matches *Matches
	for _, secondary := range secondaries {
		next, err := FindMatching(base, secondary, maxDiff)
		if err != nil {
			return nil, err
		}
		if matches == nil {
			matches = next
			continue
		}
		matches = matches.Intersect(next)
	}

	tuples := make([]Tuple, 0, matches.Len())
	for _, match := range matches.All() {
		tuple := make(Tuple, 0, len(secondaries)+1)
		tuple = append(tuple, base[match.Base])
		for j, i := range match.Secondary {
			tuple = append(tuple, secondaries[j][i])
		}
		tuples = append(tuples, tuple)
	}

	sort.SliceStable(tuples, func(i, j int) bool {
		return tuples[i][0].Timestamp < tuples[j][0].Timestamp
	})
	return tuples, nil
}

// AssociateFiles loads the base and secondary streams from the local
// filesystem and associates them.
func AssociateFiles(basePath string, secondaryPaths []string, maxDiff float64) ([]Tuple, error) {
	base, err := stream.LoadFile(basePath)
	if err != nil {
		return nil, fmt.Errorf("load base: %w", err)
	}

	secondaries := make([]stream.Stream, 0, len(secondaryPaths))
	for _, p := range secondaryPaths {
		s, err := stream.LoadFile(p)
		if err != nil {
			return nil, fmt.Errorf("load secondary: %w", err)
		}
		secondaries = append(secondaries, s)
	}

	return Associate(base, secondaries, maxDiff)
}
