// ab1info prints what the converter sees in a trace file: the decoded
// summary by default, the raw ABIF directory with -tags, or the called
// sequence as FASTA with -fasta.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sangertools/ab1png/src/abif"
	"github.com/sangertools/ab1png/src/converter"
	"github.com/sangertools/ab1png/src/seqexport"
	"github.com/sangertools/ab1png/src/trace"
)

const maxValueWidth = 100

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(argv []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ab1info", flag.ContinueOnError)
	fs.SetOutput(stderr)
	tags := fs.Bool("tags", false, "List the ABIF directory instead of the summary")
	values := fs.Bool("val", true, "With -tags, print decoded values")
	asFASTA := fs.Bool("fasta", false, "Print the called sequence as FASTA")
	prefix := fs.Int("n", 60, "Number of leading bases shown in the summary")
	if err := fs.Parse(argv); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(stderr, "usage: ab1info [-tags] [-fasta] <file.ab1>\n")
		return 2
	}
	path := fs.Arg(0)

	var err error
	switch {
	case *tags:
		err = dumpTags(stdout, path, *values)
	case *asFASTA:
		err = dumpFASTA(stdout, path)
	default:
		err = summarize(stdout, path, *prefix)
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func summarize(w io.Writer, path string, n int) error {
	rec, err := trace.ReadFile(path)
	if err != nil {
		return err
	}
	order := rec.Order
	if rec.OrderAssumed {
		order += " (assumed)"
	}
	seq := seqexport.Sequence(converter.Stem(path), rec)
	shown := rec.Sequence()
	if n >= 0 && len(shown) > n {
		shown = shown[:n] + "…"
	}
	fmt.Fprintf(w, "File:          %s\n", path)
	fmt.Fprintf(w, "Sample:        %s\n", rec.Sample)
	fmt.Fprintf(w, "Channel order: %s\n", order)
	fmt.Fprintf(w, "Trace length:  %d\n", rec.Len())
	fmt.Fprintf(w, "Max intensity: %d\n", rec.MaxIntensity())
	fmt.Fprintf(w, "Basecalls:     %d\n", seq.Len())
	if len(rec.Basecalls) > 0 {
		fmt.Fprintf(w, "Called span:   %d-%d\n", rec.Basecalls[0].Position, rec.Basecalls[len(rec.Basecalls)-1].Position)
	}
	fmt.Fprintf(w, "Sequence:      %s\n", shown)
	return nil
}

func dumpFASTA(w io.Writer, path string) error {
	rec, err := trace.ReadFile(path)
	if err != nil {
		return err
	}
	return seqexport.WriteFASTA(w, converter.Stem(path), rec)
}

func dumpTags(w io.Writer, path string, values bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	r, err := abif.NewReader(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fmt.Fprintf(w, "ABIF version %d, %d entries\n", r.Version(), len(r.Tags()))

	list := r.Tags()
	sort.Slice(list, func(i, j int) bool {
		a, b := string(list[i].Name[:]), string(list[j].Name[:])
		if a != b {
			return a < b
		}
		return list[i].Num < list[j].Num
	})
	for _, t := range list {
		if !values {
			fmt.Fprintf(w, "%s: type %d\n", t, r.ElemType(t))
			continue
		}
		fmt.Fprintf(w, "%s: %s\n", t, formatValue(r, t))
	}
	return nil
}

// formatValue prints char arrays as text and clips long values.
func formatValue(r *abif.Reader, t abif.Tag) string {
	var s string
	switch r.ElemType(t) {
	case abif.TypeChar:
		v, err := r.Chars(t)
		if err != nil {
			return err.Error()
		}
		s = fmt.Sprintf("%q", v)
	case abif.TypePString, abif.TypeCString:
		v, err := r.String(t)
		if err != nil {
			return err.Error()
		}
		s = fmt.Sprintf("%q", v)
	default:
		v, err := r.Value(t)
		if err != nil {
			return err.Error()
		}
		s = fmt.Sprintf("%T(%v)", v, v)
	}
	if len(s) > maxValueWidth {
		s = s[:maxValueWidth] + "…"
	}
	return strings.TrimSpace(s)
}
