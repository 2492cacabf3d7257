// Package converter turns one ABIF trace file into a chromatogram PNG.
//
// Convert is the only operation with real logic; the CLI and the viewer call
// it once per file through package batch.
package converter

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sangertools/ab1png/src/chromatogram"
	"github.com/sangertools/ab1png/src/logging"
	"github.com/sangertools/ab1png/src/seqexport"
	"github.com/sangertools/ab1png/src/trace"
)

// Kind classifies a conversion failure.
type Kind int

const (
	// KindParse: the input is not a valid, complete ABIF trace.
	KindParse Kind = iota + 1
	// KindIO: the input could not be read or the output could not be written.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse error"
	case KindIO:
		return "io error"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Sentinels for errors.Is.
var (
	ErrParse = errors.New("parse error")
	ErrIO    = errors.New("io error")
)

// Error is returned by Convert.
type Error struct {
	Kind Kind
	Path string // the input for KindParse, the failing path for KindIO
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Is matches the ErrParse and ErrIO sentinels by kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrParse:
		return e.Kind == KindParse
	case ErrIO:
		return e.Kind == KindIO
	}
	return false
}

func parseErr(path string, err error) error { return &Error{Kind: KindParse, Path: path, Err: err} }
func ioErr(path string, err error) error    { return &Error{Kind: KindIO, Path: path, Err: err} }

// Job is one conversion request.
type Job struct {
	Input  string
	Output string // PNG path; see OutputPath
	DPI    int

	Annotate     bool
	Crop         chromatogram.Crop
	WidthInches  float64 // 0 means chromatogram.DefaultWidthInches
	HeightInches float64 // 0 means chromatogram.DefaultHeightInches
	FASTA        bool    // also write <stem>.fasta next to the PNG
}

// Stem returns the file name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// OutputPath returns outDir/<stem>.png for input.
func OutputPath(outDir, input string) string {
	return filepath.Join(outDir, Stem(input)+".png")
}

// FASTAPath returns the sequence sidecar written next to a PNG output.
func FASTAPath(pngPath string) string {
	return strings.TrimSuffix(pngPath, filepath.Ext(pngPath)) + ".fasta"
}

// Convert decodes job.Input, renders it and writes job.Output, replacing any
// existing file. Parent directories are created as needed. On failure no
// output file is left behind, including the PNG when the FASTA sidecar
// cannot be written.
//
// Unusable render settings (non-positive DPI, an image above
// chromatogram.MaxPixels) are a precondition failure: Convert returns an error
// wrapping chromatogram.ErrOptions before any I/O, not an *Error. Every other
// failure is an *Error of KindParse or KindIO.
func Convert(job Job) error {
	opts := chromatogram.Options{
		DPI:          job.DPI,
		WidthInches:  job.WidthInches,
		HeightInches: job.HeightInches,
		Annotate:     job.Annotate,
		Crop:         job.Crop,
		Title:        filepath.Base(job.Input),
	}
	if err := chromatogram.CheckOptions(opts); err != nil {
		return err
	}
	defer logging.TimeTrack(time.Now(), "convert "+job.Input)

	f, err := os.Open(job.Input)
	if err != nil {
		return ioErr(job.Input, err)
	}
	rec, err := trace.Decode(f)
	f.Close()
	if err != nil {
		return parseErr(job.Input, err)
	}
	if rec.OrderAssumed {
		logging.Warnf("%s: no FWO_ channel order, assuming %s", job.Input, trace.DefaultOrder)
	}
	logging.Debugf("%s: %d samples, %d basecalls, order %s", job.Input, rec.Len(), len(rec.Basecalls), rec.Order)

	var img bytes.Buffer
	if err := chromatogram.Encode(&img, rec, opts); err != nil {
		return parseErr(job.Input, err)
	}
	var fa bytes.Buffer
	if job.FASTA {
		if len(rec.Basecalls) == 0 {
			logging.Warnf("%s: no basecalls, skipping FASTA", job.Input)
		} else if err := seqexport.WriteFASTA(&fa, Stem(job.Input), rec); err != nil {
			return parseErr(job.Input, err)
		}
	}

	if err := writeAtomic(job.Output, img.Bytes()); err != nil {
		return err
	}
	if fa.Len() == 0 {
		return nil
	}
	if err := writeAtomic(FASTAPath(job.Output), fa.Bytes()); err != nil {
		// the conversion failed as a whole, so its PNG goes too
		if rmErr := os.Remove(job.Output); rmErr != nil {
			logging.Warnf("remove %s after failed FASTA write: %v", job.Output, rmErr)
		}
		return err
	}
	return nil
}

// writeAtomic writes data to a temporary file in the destination directory
// and renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ioErr(dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return ioErr(path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return ioErr(path, err)
	}
	if err := tmp.Close(); err != nil {
		return ioErr(path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return ioErr(path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return ioErr(path, err)
	}
	return nil
}
