// Package abiftest builds synthetic ABIF chromatogram files for tests.
package abiftest

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/sangertools/ab1png/src/abif"
)

// Trace describes the tags written by Bytes. Zero fields are omitted from the
// file, so tests can drop individual tags.
type Trace struct {
	Order     string           // FWO_:1, physical order of DATA:9..12
	Channels  map[byte][]int16 // analyzed data by base
	Bases     string           // PBAS:2
	Positions []int16          // PLOC:2
	Quality   []byte           // PCON:2
	Sample    string           // SMPL:1
}

// Synthetic returns a trace of n samples with one Gaussian peak per base,
// evenly spaced, in the ABI default channel order GATC.
func Synthetic(n int, bases string) Trace {
	t := Trace{
		Order:    "GATC",
		Channels: map[byte][]int16{'A': make([]int16, n), 'C': make([]int16, n), 'G': make([]int16, n), 'T': make([]int16, n)},
		Bases:    bases,
		Sample:   "synthetic",
	}
	if len(bases) == 0 || n == 0 {
		return t
	}
	step := float64(n) / float64(len(bases)+1)
	const sigma, height = 3.0, 1200.0
	for i := 0; i < len(bases); i++ {
		pos := int(math.Round(step * float64(i+1)))
		t.Positions = append(t.Positions, int16(pos))
		t.Quality = append(t.Quality, byte(20+i%40))
		ch, ok := t.Channels[bases[i]]
		if !ok {
			continue
		}
		for x := pos - 12; x <= pos+12; x++ {
			if x < 0 || x >= n {
				continue
			}
			d := float64(x - pos)
			v := float64(ch[x]) + height*math.Exp(-d*d/(2*sigma*sigma))
			ch[x] = int16(math.Min(v, math.MaxInt16))
		}
	}
	return t
}

// Entries returns the directory entries for t.
func (t Trace) Entries() []abif.Entry {
	var es []abif.Entry
	if t.Order != "" {
		es = append(es, abif.CharsEntry(abif.NewTag("FWO_", 1), t.Order))
	}
	for i := 0; i < len(t.Order) && i < 4; i++ {
		if ch, ok := t.Channels[t.Order[i]]; ok {
			es = append(es, abif.ShortsEntry(abif.NewTag("DATA", int32(9+i)), ch))
		}
	}
	if t.Bases != "" {
		es = append(es, abif.CharsEntry(abif.NewTag("PBAS", 2), t.Bases))
	}
	if len(t.Positions) > 0 {
		es = append(es, abif.ShortsEntry(abif.NewTag("PLOC", 2), t.Positions))
	}
	if len(t.Quality) > 0 {
		es = append(es, abif.CharsEntry(abif.NewTag("PCON", 2), string(t.Quality)))
	}
	if t.Sample != "" {
		es = append(es, abif.PStringEntry(abif.NewTag("SMPL", 1), t.Sample))
	}
	return es
}

// Bytes encodes t as an ABIF file.
func (t Trace) Bytes() []byte {
	var buf bytes.Buffer
	if err := abif.Encode(&buf, t.Entries()); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// WriteFile writes t to path, creating parent directories.
func (t Trace) WriteFile(tb testing.TB, path string) {
	tb.Helper()
	WriteBytes(tb, path, t.Bytes())
}

// Truncated returns the first n bytes of a valid file.
func (t Trace) Truncated(n int) []byte {
	b := t.Bytes()
	if n > len(b) {
		n = len(b)
	}
	return b[:n]
}

// WriteBytes writes raw content to path, creating parent directories.
func WriteBytes(tb testing.TB, path string, b []byte) {
	tb.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
}
