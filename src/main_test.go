package main

import (
	"bytes"
	"context"
	"flag"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/sangertools/ab1png/src/abif/abiftest"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	for _, k := range []string{"AB1PNG_CONFIG", "AB1PNG_OUTDIR", "AB1PNG_DPI", "AB1PNG_ANNOTATE", "AB1PNG_CROP", "AB1PNG_FASTA", "AB1PNG_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func pngWidth(t *testing.T, path string) int {
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
	return cfg.Width
}

func TestRun_DirectoryWithFailures(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "runs")
	out := filepath.Join(dir, "charts")
	abiftest.Synthetic(500, "ACGTACGT").WriteFile(t, filepath.Join(in, "s1.ab1"))
	abiftest.Synthetic(400, "GGCCAATT").WriteFile(t, filepath.Join(in, "S2.AB1"))
	abiftest.WriteBytes(t, filepath.Join(in, "broken.ab1"), abiftest.Synthetic(400, "ACGT").Truncated(150))
	abiftest.WriteBytes(t, filepath.Join(in, "readme.txt"), []byte("not a trace"))

	// flags after the positional
	code, stdout, _ := runCLI(t, in, "-o", out, "--dpi", "50")
	if code != 0 {
		t.Fatalf("exit=%d want 0 (failures do not change the exit code)\n%s", code, stdout)
	}
	for _, want := range []string{
		"[OK] " + filepath.Join(in, "s1.ab1") + " -> " + filepath.Join(out, "s1.png"),
		"[OK] " + filepath.Join(in, "S2.AB1") + " -> " + filepath.Join(out, "S2.png"),
		"[ERROR] " + filepath.Join(in, "broken.ab1") + ": parse error",
		"Processed 3 file(s): 2 succeeded, 1 failed",
	} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("stdout missing %q:\n%s", want, stdout)
		}
	}
	if w := pngWidth(t, filepath.Join(out, "s1.png")); w != 800 {
		t.Fatalf("width=%d want 800", w)
	}
	entries, _ := os.ReadDir(out)
	if len(entries) != 2 {
		t.Fatalf("outputs=%d want 2", len(entries))
	}
}

func TestRun_FailExitCode(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.ab1")
	abiftest.WriteBytes(t, bad, []byte("nope"))
	code, _, _ := runCLI(t, "--fail-exit-code", "1", "-o", filepath.Join(dir, "o"), bad)
	if code != 1 {
		t.Fatalf("exit=%d want 1", code)
	}
}

func TestRun_DefaultOutputDir(t *testing.T) {
	dir := t.TempDir()
	abiftest.Synthetic(300, "ACGT").WriteFile(t, filepath.Join(dir, "one.ab1"))
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	code, stdout, _ := runCLI(t, "one.ab1", "--dpi=40")
	if code != 0 {
		t.Fatalf("exit=%d\n%s", code, stdout)
	}
	if w := pngWidth(t, filepath.Join(dir, "png_output", "one.png")); w != 640 {
		t.Fatalf("width=%d want 640", w)
	}
}

func TestRun_ConfigFileAndFlagPrecedence(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "x.ab1")
	abiftest.Synthetic(300, "ACGT").WriteFile(t, in)
	cfg := filepath.Join(dir, "ab1png.toml")
	body := "outdir = " + `"` + filepath.ToSlash(filepath.Join(dir, "fromcfg")) + `"` + "\ndpi = 40\nfasta = true\n"
	if err := os.WriteFile(cfg, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	code, stdout, stderr := runCLI(t, in, "--config", cfg, "--dpi", "50")
	if code != 0 {
		t.Fatalf("exit=%d\n%s\n%s", code, stdout, stderr)
	}
	if w := pngWidth(t, filepath.Join(dir, "fromcfg", "x.png")); w != 800 {
		t.Fatalf("width=%d want 800 (flag beats config)", w)
	}
	if _, err := os.Stat(filepath.Join(dir, "fromcfg", "x.fasta")); err != nil {
		t.Fatalf("fasta sidecar from config: %v", err)
	}
}

func TestRun_UsageErrors(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "x.ab1")
	abiftest.Synthetic(100, "AC").WriteFile(t, in)
	cases := map[string][]string{
		"no input":      {},
		"two inputs":    {in, in},
		"missing path":  {filepath.Join(dir, "nope")},
		"zero dpi":      {in, "--dpi", "0"},
		"huge dpi":      {in, "--dpi", "100000"},
		"bad dpi":       {in, "--dpi", "high"},
		"bad crop":      {in, "--crop", "middle"},
		"unknown flag":  {in, "--colour"},
		"missing conf":  {in, "--config", filepath.Join(dir, "none.toml")},
		"bad log level": {in, "--log-level", "chatty"},
	}
	for name, args := range cases {
		code, stdout, _ := runCLI(t, args...)
		if code != 2 {
			t.Fatalf("%s: exit=%d want 2", name, code)
		}
		if strings.Contains(stdout, "[OK]") {
			t.Fatalf("%s: files converted despite usage error", name)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "png_output")); !os.IsNotExist(err) {
		t.Fatalf("output dir created on usage error")
	}
}

func TestRun_Help(t *testing.T) {
	code, _, stderr := runCLI(t, "-h")
	if code != 0 || !strings.Contains(stderr, "Usage: ab1png") {
		t.Fatalf("exit=%d stderr=%q", code, stderr)
	}
}

func TestRun_Interrupted(t *testing.T) {
	dir := t.TempDir()
	abiftest.Synthetic(200, "ACGT").WriteFile(t, filepath.Join(dir, "a.ab1"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var stdout bytes.Buffer
	code := run(ctx, []string{dir, "-o", filepath.Join(dir, "o")}, &stdout, io.Discard)
	if code != 130 {
		t.Fatalf("exit=%d want 130", code)
	}
	if !strings.Contains(stdout.String(), "1 skipped") {
		t.Fatalf("stdout=%q", stdout.String())
	}
}

func TestSplitFlagsAndPositionals(t *testing.T) {
	var o options
	fs := newFlagSet(&o, io.Discard)
	if fs.ErrorHandling() != flag.ContinueOnError {
		t.Fatalf("flag set must not exit the process")
	}
	flagArgs, posArgs := splitFlagsAndPositionals(fs, []string{"in", "--annotate", "-o", "out", "--dpi=300", "--", "-weird"})
	if !reflect.DeepEqual(flagArgs, []string{"--annotate", "-o", "out", "--dpi=300"}) {
		t.Fatalf("flags=%v", flagArgs)
	}
	if !reflect.DeepEqual(posArgs, []string{"in", "-weird"}) {
		t.Fatalf("positionals=%v", posArgs)
	}
}
