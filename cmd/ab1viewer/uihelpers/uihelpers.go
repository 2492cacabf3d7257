package uihelpers

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sangertools/ab1png/src/batch"
)

// DPI entry bounds. Above MaxDPI a 16 inch figure is wider than most image
// viewers handle.
const (
	MinDPI = 10
	MaxDPI = 1200
)

// ParseDPI validates the DPI entry text.
func ParseDPI(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("DPI is required")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("DPI must be a whole number, got %q", s)
	}
	if n < MinDPI || n > MaxDPI {
		return 0, fmt.Errorf("DPI must be between %d and %d, got %d", MinDPI, MaxDPI, n)
	}
	return n, nil
}

// ProgressFraction maps done/total to the progress bar range [0,1].
func ProgressFraction(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	if done >= total {
		return 1
	}
	if done <= 0 {
		return 0
	}
	return float64(done) / float64(total)
}

// PreviewSize fits an image of w×h into maxW×maxH keeping the aspect ratio.
// Images already small enough are not enlarged.
func PreviewSize(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 || maxW <= 0 || maxH <= 0 {
		return 0, 0
	}
	if w <= maxW && h <= maxH {
		return w, h
	}
	sw := float64(maxW) / float64(w)
	sh := float64(maxH) / float64(h)
	s := sw
	if sh < s {
		s = sh
	}
	pw, ph := int(float64(w)*s), int(float64(h)*s)
	if pw < 1 {
		pw = 1
	}
	if ph < 1 {
		ph = 1
	}
	return pw, ph
}

// PathWidth is the longest path the log panel prints before eliding it.
const PathWidth = 60

// TruncatePath shortens p to at most n bytes by dropping leading directories.
// The file name is always kept whole, even when it alone is longer than n.
func TruncatePath(p string, n int) string {
	if len(p) <= n {
		return p
	}
	sep := string(filepath.Separator)
	parts := strings.Split(filepath.Clean(p), sep)
	tail := parts[len(parts)-1]
	if len("...")+len(sep)+len(tail) > n {
		return "..." + tail
	}
	for i := len(parts) - 2; i >= 0; i-- {
		next := parts[i] + sep + tail
		if len("...")+len(sep)+len(next) > n {
			break
		}
		tail = next
	}
	return "..." + sep + tail
}

// FormatEvent renders a batch event as a log panel line. Start events
// produce an empty string.
func FormatEvent(e batch.Event) string {
	switch e.Kind {
	case batch.EventOK:
		return fmt.Sprintf("[%d/%d] OK  %s -> %s", e.Index, e.Total, filepath.Base(e.Input), TruncatePath(e.Output, PathWidth))
	case batch.EventFail:
		return fmt.Sprintf("[%d/%d] ERR %s: %v", e.Index, e.Total, filepath.Base(e.Input), e.Err)
	case batch.EventDone:
		if e.Result == nil {
			return "Done."
		}
		return strings.TrimRight(e.Result.Summary(), "\n")
	}
	return ""
}

// StatusText is the one-line status shown under the progress bar.
func StatusText(e batch.Event) string {
	switch e.Kind {
	case batch.EventStart:
		return fmt.Sprintf("Converting %d of %d: %s", e.Index, e.Total, filepath.Base(e.Input))
	case batch.EventDone:
		if e.Result == nil {
			return "Done"
		}
		r := e.Result
		if r.Skipped > 0 {
			return fmt.Sprintf("Stopped: %d ok, %d failed, %d skipped", r.Succeeded, r.Failed, r.Skipped)
		}
		return fmt.Sprintf("Done: %d ok, %d failed", r.Succeeded, r.Failed)
	}
	return ""
}
