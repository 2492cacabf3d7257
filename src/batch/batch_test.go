package batch

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/sangertools/ab1png/src/abif/abiftest"
	"github.com/sangertools/ab1png/src/chromatogram"
	"github.com/sangertools/ab1png/src/converter"
)

func touch(t *testing.T, path string) {
	t.Helper()
	abiftest.WriteBytes(t, path, []byte("x"))
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"b.ab1", "A.AB1", "c.Ab1", "notes.txt", "d.abi", "sub/e.ab1", ".ab1", ".AB1"} {
		touch(t, filepath.Join(dir, n))
	}
	if err := os.Mkdir(filepath.Join(dir, "dir.ab1"), 0o755); err != nil {
		t.Fatal(err)
	}
	got, err := Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []string{filepath.Join(dir, "A.AB1"), filepath.Join(dir, "b.ab1"), filepath.Join(dir, "c.Ab1")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Resolve=%v want %v", got, want)
	}

	// a single file is taken as given, whatever its extension
	one := filepath.Join(dir, "notes.txt")
	if got, err := Resolve(one); err != nil || len(got) != 1 || got[0] != one {
		t.Fatalf("Resolve(file)=%v,%v", got, err)
	}
	if _, err := Resolve(filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("expected error for missing path")
	}
	empty := filepath.Join(dir, "sub2")
	if err := os.Mkdir(empty, 0o755); err != nil {
		t.Fatal(err)
	}
	if got, err := Resolve(empty); err != nil || len(got) != 0 {
		t.Fatalf("empty dir => %v,%v", got, err)
	}
}

// sampleA.ab1 (800 points) and bad.ab1 at DPI 250: one PNG, one failure.
func TestRun_MixedDirectory(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	out := filepath.Join(dir, "out")
	abiftest.Synthetic(800, "ACGTACGTAC").WriteFile(t, filepath.Join(in, "sampleA.ab1"))
	abiftest.WriteBytes(t, filepath.Join(in, "bad.ab1"), []byte("garbage"))

	files, err := Resolve(in)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	var events []Event
	r := &Runner{OutDir: out, DPI: 250, OnEvent: func(e Event) { events = append(events, e) }}
	res := r.Run(context.Background(), files)

	if res.Attempted != 2 || res.Succeeded != 1 || res.Failed != 1 || res.Skipped != 0 {
		t.Fatalf("result=%+v", res)
	}
	if len(res.Failures) != 1 || filepath.Base(res.Failures[0].File) != "bad.ab1" {
		t.Fatalf("failures=%+v", res.Failures)
	}
	if !errors.Is(res.Failures[0].Err, converter.ErrParse) {
		t.Fatalf("bad.ab1 err=%v want parse error", res.Failures[0].Err)
	}

	f, err := os.Open(filepath.Join(out, "sampleA.png"))
	if err != nil {
		t.Fatalf("sampleA.png missing: %v", err)
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Width != 4000 || cfg.Height != 1000 {
		t.Fatalf("size %dx%d want 4000x1000", cfg.Width, cfg.Height)
	}
	if _, err := os.Stat(filepath.Join(out, "bad.png")); !os.IsNotExist(err) {
		t.Fatalf("bad.png should not exist")
	}

	kinds := make([]EventKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	// bad.ab1 sorts first
	want := []EventKind{EventStart, EventFail, EventStart, EventOK, EventDone}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("events=%v want %v", kinds, want)
	}
	if last := events[len(events)-1]; last.Result == nil || last.Result.Succeeded != 1 || last.Total != 2 {
		t.Fatalf("done event=%+v", last)
	}
}

func TestRun_AllFilesAttempted(t *testing.T) {
	const valid, invalid = 4, 3
	var files []string
	for i := 0; i < valid+invalid; i++ {
		files = append(files, fmt.Sprintf("f%02d.ab1", i))
	}
	var seen []string
	r := &Runner{
		OutDir: "o",
		DPI:    200,
		Convert: func(j converter.Job) error {
			seen = append(seen, j.Input)
			if j.DPI != 200 || j.Output != filepath.Join("o", strings.TrimSuffix(j.Input, ".ab1")+".png") {
				t.Fatalf("job=%+v", j)
			}
			var n int
			fmt.Sscanf(j.Input, "f%02d.ab1", &n)
			if n%2 == 1 && n < 2*invalid {
				return &converter.Error{Kind: converter.KindParse, Path: j.Input, Err: errors.New("bad")}
			}
			return nil
		},
	}
	res := r.Run(context.Background(), files)
	if !reflect.DeepEqual(seen, files) {
		t.Fatalf("order=%v", seen)
	}
	if res.Attempted != valid+invalid || res.Succeeded != valid || res.Failed != invalid || len(res.Failures) != invalid {
		t.Fatalf("result=%+v", res)
	}
}

// Settings too large to render fail each file instead of exhausting memory.
func TestRun_OversizedDPIFailsPerFile(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for _, n := range []string{"a.ab1", "b.ab1"} {
		p := filepath.Join(dir, n)
		abiftest.Synthetic(200, "ACGT").WriteFile(t, p)
		files = append(files, p)
	}
	r := &Runner{OutDir: filepath.Join(dir, "out"), DPI: 100000}
	res := r.Run(context.Background(), files)
	if res.Attempted != 2 || res.Failed != 2 || res.Succeeded != 0 {
		t.Fatalf("result=%+v", res)
	}
	for _, f := range res.Failures {
		if !errors.Is(f.Err, chromatogram.ErrOptions) {
			t.Fatalf("%s: err=%v want ErrOptions", f.File, f.Err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "out")); !os.IsNotExist(err) {
		t.Fatalf("output dir created for rejected settings")
	}
}

func TestRun_CancelBetweenFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	r := &Runner{
		OutDir: "o",
		DPI:    100,
		Convert: func(converter.Job) error {
			calls++
			if calls == 2 {
				cancel()
			}
			return nil
		},
	}
	res := r.Run(ctx, []string{"a.ab1", "b.ab1", "c.ab1", "d.ab1", "e.ab1"})
	if calls != 2 || res.Attempted != 2 || res.Succeeded != 2 || res.Skipped != 3 {
		t.Fatalf("calls=%d result=%+v", calls, res)
	}
	if !strings.Contains(res.Summary(), "3 skipped") {
		t.Fatalf("summary=%q", res.Summary())
	}
}

func TestRun_Empty(t *testing.T) {
	done := 0
	r := &Runner{OutDir: "o", DPI: 100, OnEvent: func(e Event) {
		if e.Kind == EventDone {
			done++
		}
	}}
	res := r.Run(context.Background(), nil)
	if res.Attempted != 0 || done != 1 {
		t.Fatalf("result=%+v done=%d", res, done)
	}
}

func TestSummary(t *testing.T) {
	r := Result{Attempted: 3, Succeeded: 2, Failed: 1, Failures: []Failure{{File: "x/bad.ab1", Err: errors.New("parse error: x/bad.ab1: abif: bad magic")}}}
	s := r.Summary()
	for _, want := range []string{"Processed 3 file(s)", "2 succeeded", "1 failed", "x/bad.ab1: parse error"} {
		if !strings.Contains(s, want) {
			t.Fatalf("summary missing %q:\n%s", want, s)
		}
	}
	if strings.Contains(s, "skipped") {
		t.Fatalf("unexpected skipped in %q", s)
	}
}
