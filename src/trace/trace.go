// Package trace decodes the chromatogram content of an ABIF file: four
// fluorescence channels resolved to bases, and the basecalls placed on them.
package trace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sangertools/ab1png/src/abif"
)

// Bases lists the four nucleotides in display order.
const Bases = "ACGT"

// DefaultOrder is the ABI channel order assumed when a file carries no FWO_ tag.
const DefaultOrder = "GATC"

// Basecall is one called base placed on the trace.
type Basecall struct {
	Position int  // sample index into the channels
	Base     byte // called letter, 'N' when unknown
	Quality  int  // Phred-like quality, -1 when absent
}

// Record is the decoded content of one trace file.
type Record struct {
	Sample       string
	Order        string // physical channel order, e.g. "GATC"
	OrderAssumed bool   // FWO_ missing, DefaultOrder used
	Channels     map[byte][]int16
	Basecalls    []Basecall
}

// Len returns the number of samples per channel.
func (r *Record) Len() int {
	for _, ch := range r.Channels {
		return len(ch)
	}
	return 0
}

// Channel returns the samples for base (one of ACGT).
func (r *Record) Channel(base byte) []int16 { return r.Channels[base] }

// Sequence returns the called bases in order.
func (r *Record) Sequence() string {
	var b strings.Builder
	b.Grow(len(r.Basecalls))
	for _, bc := range r.Basecalls {
		b.WriteByte(bc.Base)
	}
	return b.String()
}

// MaxIntensity returns the highest sample over all channels (0 for an empty trace).
func (r *Record) MaxIntensity() int16 {
	var m int16
	for _, ch := range r.Channels {
		for _, v := range ch {
			if v > m {
				m = v
			}
		}
	}
	return m
}

// Validate checks the record invariants: all four channels present with equal
// length, and basecall positions strictly increasing inside the trace.
func (r *Record) Validate() error {
	n := -1
	for i := 0; i < len(Bases); i++ {
		ch, ok := r.Channels[Bases[i]]
		if !ok {
			return fmt.Errorf("missing channel %c", Bases[i])
		}
		if n >= 0 && len(ch) != n {
			return fmt.Errorf("channel %c has %d samples, want %d", Bases[i], len(ch), n)
		}
		n = len(ch)
	}
	if n == 0 {
		return errors.New("empty trace")
	}
	prev := -1
	for i, bc := range r.Basecalls {
		if bc.Position < 0 || bc.Position >= n {
			return fmt.Errorf("basecall %d at position %d outside trace of %d samples", i+1, bc.Position, n)
		}
		if bc.Position <= prev {
			return fmt.Errorf("basecall %d at position %d does not follow %d", i+1, bc.Position, prev)
		}
		prev = bc.Position
	}
	return nil
}

// ReadFile opens and decodes path. Errors opening the file are returned as is
// (*fs.PathError); everything else comes from Decode.
func ReadFile(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a chromatogram from an ABIF container.
//
// The base carried by each of DATA:9..12 comes from the FWO_ tag, so files
// from instruments with different dye orders decode to the same Record.
func Decode(src io.ReadSeeker) (*Record, error) {
	r, err := abif.NewReader(src)
	if err != nil {
		return nil, err
	}
	rec := &Record{Channels: make(map[byte][]int16, 4)}

	rec.Order, rec.OrderAssumed, err = channelOrder(r)
	if err != nil {
		return nil, err
	}
	for i := 0; i < 4; i++ {
		tag := abif.NewTag("DATA", int32(9+i))
		data, err := r.Shorts(tag)
		if err != nil {
			return nil, fmt.Errorf("channel %c: %w", rec.Order[i], err)
		}
		rec.Channels[rec.Order[i]] = data
	}

	rec.Basecalls, err = basecalls(r)
	if err != nil {
		return nil, err
	}
	if s, err := r.String(abif.NewTag("SMPL", 1)); err == nil {
		rec.Sample = s
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", abif.ErrFormat, err)
	}
	return rec, nil
}

// channelOrder resolves FWO_:1 to an upper case permutation of ACGT.
func channelOrder(r *abif.Reader) (string, bool, error) {
	raw, err := r.Chars(abif.NewTag("FWO_", 1))
	if abif.IsNotFound(err) {
		return DefaultOrder, true, nil
	}
	if err != nil {
		return "", false, err
	}
	order := strings.ToUpper(strings.TrimRight(raw, "\x00 "))
	if !isPermutation(order) {
		return "", false, fmt.Errorf("%w: unsupported channel order %q", abif.ErrFormat, raw)
	}
	return order, false, nil
}

func isPermutation(order string) bool {
	if len(order) != 4 {
		return false
	}
	var seen [256]bool
	for i := 0; i < 4; i++ {
		c := order[i]
		if !strings.ContainsRune(Bases, rune(c)) || seen[c] {
			return false
		}
		seen[c] = true
	}
	return true
}

// basecalls reads letters, peak locations and qualities, preferring the
// basecaller's set (2) over the user edited set (1).
func basecalls(r *abif.Reader) ([]Basecall, error) {
	locs, err := firstShorts(r, "PLOC")
	if err != nil || len(locs) == 0 {
		return nil, err
	}
	letters, err := firstChars(r, "PBAS")
	if err != nil {
		return nil, err
	}
	qual, err := firstChars(r, "PCON")
	if err != nil {
		return nil, err
	}

	n := len(locs)
	if letters != "" && len(letters) < n {
		n = len(letters)
	}
	out := make([]Basecall, n)
	for i := 0; i < n; i++ {
		bc := Basecall{Position: int(uint16(locs[i])), Base: 'N', Quality: -1}
		if i < len(letters) {
			bc.Base = upper(letters[i])
		}
		if i < len(qual) {
			bc.Quality = int(qual[i])
		}
		out[i] = bc
	}
	return out, nil
}

func firstShorts(r *abif.Reader, name string) ([]int16, error) {
	for _, num := range []int32{2, 1} {
		v, err := r.Shorts(abif.NewTag(name, num))
		if abif.IsNotFound(err) {
			continue
		}
		return v, err
	}
	return nil, nil
}

func firstChars(r *abif.Reader, name string) (string, error) {
	for _, num := range []int32{2, 1} {
		v, err := r.Chars(abif.NewTag(name, num))
		if abif.IsNotFound(err) {
			continue
		}
		return v, err
	}
	return "", nil
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}
