package converter

import (
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sangertools/ab1png/src/abif/abiftest"
	"github.com/sangertools/ab1png/src/chromatogram"
)

func decodeSize(t *testing.T, path string) (int, int) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return cfg.Width, cfg.Height
}

func TestConvert_WritesPNGNamedAfterStem(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in", "sampleA.ab1")
	abiftest.Synthetic(800, "ACGTTGCAACGT").WriteFile(t, in)

	out := OutputPath(filepath.Join(dir, "out", "nested"), in)
	if filepath.Base(out) != "sampleA.png" {
		t.Fatalf("OutputPath=%s", out)
	}
	if err := Convert(Job{Input: in, Output: out, DPI: 50}); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	w, h := decodeSize(t, out)
	if w != 800 || h != 200 {
		t.Fatalf("size %dx%d want 800x200", w, h)
	}
	entries, _ := os.ReadDir(filepath.Dir(out))
	if len(entries) != 1 {
		t.Fatalf("output dir holds %d entries, want only the PNG", len(entries))
	}
}

func TestConvert_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "s.ab1")
	abiftest.Synthetic(300, "ACGT").WriteFile(t, in)
	out := filepath.Join(dir, "s.png")
	if err := os.WriteFile(out, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Convert(Job{Input: in, Output: out, DPI: 60, Annotate: true}); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if w, _ := decodeSize(t, out); w != 960 {
		t.Fatalf("width=%d want 960", w)
	}
}

func TestConvert_ParseError(t *testing.T) {
	dir := t.TempDir()
	cases := map[string][]byte{
		"truncated.ab1": abiftest.Synthetic(300, "ACGT").Truncated(200),
		"text.ab1":      []byte("this is not a trace file, just some text padding it out past the header size............................................................"),
		"empty.ab1":     nil,
	}
	for name, b := range cases {
		in := filepath.Join(dir, name)
		abiftest.WriteBytes(t, in, b)
		out := OutputPath(filepath.Join(dir, "out"), in)
		err := Convert(Job{Input: in, Output: out, DPI: 50})
		if !errors.Is(err, ErrParse) {
			t.Fatalf("%s: err=%v want ErrParse", name, err)
		}
		if errors.Is(err, ErrIO) {
			t.Fatalf("%s: parse error also matched ErrIO", name)
		}
		var ce *Error
		if !errors.As(err, &ce) || ce.Path != in {
			t.Fatalf("%s: error does not name the input: %v", name, err)
		}
		if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
			t.Fatalf("%s: output left behind after failure", name)
		}
	}
}

func TestConvert_MissingChannelIsParseError(t *testing.T) {
	tr := abiftest.Synthetic(200, "ACGT")
	delete(tr.Channels, 'T')
	in := filepath.Join(t.TempDir(), "partial.ab1")
	tr.WriteFile(t, in)
	err := Convert(Job{Input: in, Output: in + ".png", DPI: 50})
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err=%v want ErrParse", err)
	}
}

func TestConvert_IOErrors(t *testing.T) {
	dir := t.TempDir()
	err := Convert(Job{Input: filepath.Join(dir, "missing.ab1"), Output: filepath.Join(dir, "m.png"), DPI: 50})
	if !errors.Is(err, ErrIO) {
		t.Fatalf("missing input: err=%v want ErrIO", err)
	}

	in := filepath.Join(dir, "ok.ab1")
	abiftest.Synthetic(200, "ACGT").WriteFile(t, in)
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// parent of the output is a regular file
	err = Convert(Job{Input: in, Output: filepath.Join(blocker, "ok.png"), DPI: 50})
	if !errors.Is(err, ErrIO) {
		t.Fatalf("unwritable output: err=%v want ErrIO", err)
	}
	if !strings.Contains(err.Error(), "io error") {
		t.Fatalf("message=%q", err.Error())
	}
}

func TestConvert_RejectsUnusableDPI(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "ok.ab1")
	abiftest.Synthetic(200, "ACGT").WriteFile(t, in)
	for _, dpi := range []int{0, -5, 100000} {
		err := Convert(Job{Input: in, Output: filepath.Join(dir, "ok.png"), DPI: dpi})
		if !errors.Is(err, chromatogram.ErrOptions) || errors.Is(err, ErrParse) || errors.Is(err, ErrIO) {
			t.Fatalf("dpi %d: err=%v want ErrOptions", dpi, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "ok.png")); !os.IsNotExist(err) {
		t.Fatalf("output written for invalid dpi")
	}
}

func TestConvert_FASTASidecar(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "seq1.ab1")
	abiftest.Synthetic(400, "GATTACA").WriteFile(t, in)
	out := OutputPath(dir, in)
	job := Job{Input: in, Output: out, DPI: 50, Crop: chromatogram.CropBasecalls, FASTA: true}
	if err := Convert(job); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	b, err := os.ReadFile(FASTAPath(out))
	if err != nil {
		t.Fatalf("read fasta: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if !strings.HasPrefix(lines[0], ">seq1") || !strings.EqualFold(lines[1], "GATTACA") {
		t.Fatalf("fasta=%q", b)
	}
}

func TestConvert_FASTAFailureRemovesPNG(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "s.ab1")
	abiftest.Synthetic(300, "ACGTACGT").WriteFile(t, in)
	out := OutputPath(filepath.Join(dir, "o"), in)
	// a directory where the sidecar should go makes its rename fail
	if err := os.MkdirAll(FASTAPath(out), 0o755); err != nil {
		t.Fatal(err)
	}
	err := Convert(Job{Input: in, Output: out, DPI: 50, FASTA: true})
	if !errors.Is(err, ErrIO) {
		t.Fatalf("err=%v want ErrIO", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatalf("PNG left behind after the FASTA write failed")
	}
	entries, _ := os.ReadDir(filepath.Dir(out))
	if len(entries) != 1 || entries[0].Name() != "s.fasta" {
		t.Fatalf("unexpected leftovers in output dir: %v", entries)
	}
}

func TestStemAndPaths(t *testing.T) {
	if s := Stem("/data/run.1/Sample_A.AB1"); s != "Sample_A" {
		t.Fatalf("Stem=%q", s)
	}
	if p := OutputPath("png_output", "x/y/z.ab1"); p != filepath.Join("png_output", "z.png") {
		t.Fatalf("OutputPath=%q", p)
	}
	if p := FASTAPath(filepath.Join("o", "z.png")); p != filepath.Join("o", "z.fasta") {
		t.Fatalf("FASTAPath=%q", p)
	}
	if KindParse.String() != "parse error" || KindIO.String() != "io error" {
		t.Fatalf("kind strings: %s %s", KindParse, KindIO)
	}
}
