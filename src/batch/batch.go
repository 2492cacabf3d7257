// Package batch resolves the input set and converts each file in turn,
// recording failures without stopping.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sangertools/ab1png/src/chromatogram"
	"github.com/sangertools/ab1png/src/converter"
	"github.com/sangertools/ab1png/src/logging"
)

// Ext is the trace file extension matched (case-insensitively) in directories.
const Ext = ".ab1"

// Resolve returns the files to convert: the path itself when it is a file, or
// the *.ab1 entries directly inside it when it is a directory, sorted by name.
// Subdirectories are not searched.
func Resolve(input string) ([]string, error) {
	fi, err := os.Stat(input)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", input, err)
	}
	if !fi.IsDir() {
		return []string{input}, nil
	}
	entries, err := os.ReadDir(input)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", input, err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		// a bare ".ab1" has no stem to name its output after
		if e.IsDir() || len(name) <= len(Ext) || !strings.EqualFold(filepath.Ext(name), Ext) {
			continue
		}
		files = append(files, filepath.Join(input, name))
	}
	sort.Strings(files)
	return files, nil
}

// EventKind says what stage of the run an Event reports.
type EventKind int

const (
	EventStart EventKind = iota // a file is about to be converted
	EventOK                     // the file's PNG was written
	EventFail                   // the file failed; Event.Err says why
	EventDone                   // the run ended, normally or by cancellation
)

// Event reports progress. Index is 1-based; EventDone carries the Result.
type Event struct {
	Kind   EventKind
	Index  int
	Total  int
	Input  string
	Output string
	Err    error
	Result *Result
}

// Failure is one file that could not be converted.
type Failure struct {
	File string
	Err  error
}

// Result tallies a run; Attempted = Succeeded + Failed.
type Result struct {
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int // not attempted because the run was cancelled
	Failures  []Failure
}

// Summary formats the end-of-run report.
func (r Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Processed %d file(s): %d succeeded, %d failed", r.Attempted, r.Succeeded, r.Failed)
	if r.Skipped > 0 {
		fmt.Fprintf(&b, ", %d skipped (cancelled)", r.Skipped)
	}
	b.WriteString("\n")
	if len(r.Failures) > 0 {
		b.WriteString("Failures:\n")
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "  %s: %v\n", f.File, f.Err)
		}
	}
	return b.String()
}

// Runner converts files one at a time with shared settings.
type Runner struct {
	OutDir       string
	DPI          int
	Annotate     bool
	Crop         chromatogram.Crop
	FASTA        bool
	WidthInches  float64
	HeightInches float64

	// Convert defaults to converter.Convert.
	Convert func(converter.Job) error
	// OnEvent, if set, is called synchronously from Run.
	OnEvent func(Event)
}

// Job builds the conversion job for one input.
func (r *Runner) Job(input string) converter.Job {
	return converter.Job{
		Input:        input,
		Output:       converter.OutputPath(r.OutDir, input),
		DPI:          r.DPI,
		Annotate:     r.Annotate,
		Crop:         r.Crop,
		WidthInches:  r.WidthInches,
		HeightInches: r.HeightInches,
		FASTA:        r.FASTA,
	}
}

// Run converts files in order. A failing file is recorded and the run moves
// on. ctx is checked between files only; the file in progress always finishes.
func (r *Runner) Run(ctx context.Context, files []string) Result {
	convert := r.Convert
	if convert == nil {
		convert = converter.Convert
	}
	var res Result
	total := len(files)
	for i, in := range files {
		if ctx.Err() != nil {
			res.Skipped = total - i
			logging.Infof("batch cancelled, skipping %d file(s)", res.Skipped)
			break
		}
		job := r.Job(in)
		r.emit(Event{Kind: EventStart, Index: i + 1, Total: total, Input: in, Output: job.Output})
		res.Attempted++
		if err := convert(job); err != nil {
			res.Failed++
			res.Failures = append(res.Failures, Failure{File: in, Err: err})
			r.emit(Event{Kind: EventFail, Index: i + 1, Total: total, Input: in, Output: job.Output, Err: err})
			continue
		}
		res.Succeeded++
		r.emit(Event{Kind: EventOK, Index: i + 1, Total: total, Input: in, Output: job.Output})
	}
	r.emit(Event{Kind: EventDone, Index: res.Attempted, Total: total, Result: &res})
	return res
}

func (r *Runner) emit(e Event) {
	if r.OnEvent != nil {
		r.OnEvent(e)
	}
}
