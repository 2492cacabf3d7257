// Package chromatogram renders a decoded trace as a four-colour line chart.
//
// Output size is given in inches and scaled by DPI, and every pixel measure
// (line width, padding, font size) is scaled with it, so the same trace
// rendered at 200 and 400 DPI differs only in resolution.
package chromatogram

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"strings"

	"github.com/golang/freetype/truetype"
	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/sangertools/ab1png/src/trace"
)

// Crop selects the x range that is drawn.
type Crop int

const (
	// CropNone draws the whole trace.
	CropNone Crop = iota
	// CropBasecalls draws from 100 samples before the first basecall to 100 after the last.
	CropBasecalls
	// CropSignal draws where the summed signal reaches 1% of its maximum, padded by 100 samples.
	CropSignal
)

var cropNames = []string{"none", "basecalls", "signal"}

func (c Crop) String() string {
	if c < 0 || int(c) >= len(cropNames) {
		return fmt.Sprintf("Crop(%d)", int(c))
	}
	return cropNames[c]
}

// ParseCrop parses "none", "basecalls" or "signal" (case-insensitive, empty means none).
func ParseCrop(s string) (Crop, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CropNone, nil
	}
	for i, n := range cropNames {
		if s == n {
			return Crop(i), nil
		}
	}
	return CropNone, fmt.Errorf("unknown crop mode %q (want %s)", s, strings.Join(cropNames, "|"))
}

const (
	DefaultDPI          = 200
	DefaultWidthInches  = 16.0
	DefaultHeightInches = 4.0

	cropPadding      = 100
	signalThreshold  = 0.01
	lineWidthPoints  = 0.5
	annotateHeadroom = 1.15
)

// MaxPixels bounds the rendered image area. 16x4 inches at 1200 DPI is
// 92 megapixels; larger requests would exhaust memory in the rasterizer.
const MaxPixels = 100_000_000

// ErrOptions is wrapped by every error returned for unusable Options.
var ErrOptions = errors.New("invalid chart options")

// Options controls one rendering.
type Options struct {
	DPI          int
	WidthInches  float64
	HeightInches float64
	Annotate     bool // draw the called base above each basecall position
	Crop         Crop
	Title        string
}

// DefaultOptions returns a 16x4 inch chart at 200 DPI.
func DefaultOptions() Options {
	return Options{DPI: DefaultDPI, WidthInches: DefaultWidthInches, HeightInches: DefaultHeightInches}
}

func (o Options) withDefaults() Options {
	if o.WidthInches <= 0 {
		o.WidthInches = DefaultWidthInches
	}
	if o.HeightInches <= 0 {
		o.HeightInches = DefaultHeightInches
	}
	return o
}

// Size returns the pixel dimensions of an image rendered with o.
func Size(o Options) (int, int) {
	o = o.withDefaults()
	return int(math.Round(o.WidthInches * float64(o.DPI))), int(math.Round(o.HeightInches * float64(o.DPI)))
}

// CheckOptions reports whether o describes an image that can be rendered:
// positive DPI and a pixel area of at most MaxPixels.
func CheckOptions(o Options) error {
	if o.DPI <= 0 {
		return fmt.Errorf("%w: dpi must be a positive integer, got %d", ErrOptions, o.DPI)
	}
	o = o.withDefaults()
	w := o.WidthInches * float64(o.DPI)
	h := o.HeightInches * float64(o.DPI)
	if w*h > MaxPixels {
		return fmt.Errorf("%w: %gx%g in at %d dpi is %.0fx%.0f pixels, above the %d pixel limit",
			ErrOptions, o.WidthInches, o.HeightInches, o.DPI, w, h, MaxPixels)
	}
	return nil
}

// Base colours: A green, C blue, G black, T red.
var baseColors = map[byte]drawing.Color{
	'A': {R: 0, G: 128, B: 0, A: 255},
	'C': {R: 0, G: 0, B: 255, A: 255},
	'G': {R: 0, G: 0, B: 0, A: 255},
	'T': {R: 255, G: 0, B: 0, A: 255},
}

var unknownBaseColor = drawing.Color{R: 128, G: 128, B: 128, A: 255}

// BaseColor returns the colour used for base, grey for anything but ACGT.
func BaseColor(base byte) drawing.Color {
	if c, ok := baseColors[base]; ok {
		return c
	}
	return unknownBaseColor
}

// Window returns the inclusive sample range drawn for rec under crop.
func Window(rec *trace.Record, crop Crop) (int, int) {
	n := rec.Len()
	if n == 0 {
		return 0, 0
	}
	switch crop {
	case CropBasecalls:
		if len(rec.Basecalls) > 0 {
			lo := rec.Basecalls[0].Position - cropPadding
			hi := rec.Basecalls[len(rec.Basecalls)-1].Position + cropPadding
			return max(lo, 0), min(hi, n-1)
		}
		return signalWindow(rec)
	case CropSignal:
		return signalWindow(rec)
	}
	return 0, n - 1
}

// signalWindow finds where the summed channels reach signalThreshold of their peak.
func signalWindow(rec *trace.Record) (int, int) {
	n := rec.Len()
	sum := make([]int, n)
	peak := 0
	for _, ch := range rec.Channels {
		for i, v := range ch {
			sum[i] += int(v)
		}
	}
	for _, v := range sum {
		peak = max(peak, v)
	}
	if peak <= 0 {
		return 0, n - 1
	}
	cut := float64(peak) * signalThreshold
	lo, hi := -1, -1
	for i, v := range sum {
		if float64(v) >= cut {
			if lo < 0 {
				lo = i
			}
			hi = i
		}
	}
	return max(lo-cropPadding, 0), min(hi+cropPadding, n-1)
}

// Chart builds the go-chart definition for rec.
func Chart(rec *trace.Record, opts Options) (*chart.Chart, error) {
	if err := CheckOptions(opts); err != nil {
		return nil, err
	}
	if rec == nil || rec.Len() == 0 {
		return nil, errors.New("empty trace")
	}
	opts = opts.withDefaults()
	font, err := chart.GetDefaultFont()
	if err != nil {
		return nil, fmt.Errorf("load font: %w", err)
	}
	scale := float64(opts.DPI) / 100
	lo, hi := Window(rec, opts.Crop)

	xs := make([]float64, hi-lo+1)
	for i := range xs {
		xs[i] = float64(lo + i)
	}
	minY, maxY := 0.0, 0.0
	series := make([]chart.Series, 0, 5)
	for i := 0; i < len(trace.Bases); i++ {
		b := trace.Bases[i]
		ch := rec.Channel(b)
		ys := make([]float64, len(xs))
		for j := range ys {
			v := float64(ch[lo+j])
			ys[j] = v
			minY = math.Min(minY, v)
			maxY = math.Max(maxY, v)
		}
		series = append(series, chart.ContinuousSeries{
			Name:    string(b),
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				StrokeColor: BaseColor(b),
				StrokeWidth: math.Max(1, lineWidthPoints*float64(opts.DPI)/72),
			},
		})
	}
	if maxY <= 0 {
		maxY = 1
	}
	if opts.Annotate {
		maxY *= annotateHeadroom
	}
	xMax := float64(hi)
	if hi == lo {
		xMax = float64(lo + 1)
	}

	w, h := Size(opts)
	ch := &chart.Chart{
		Title:      opts.Title,
		TitleStyle: chart.Style{FontSize: 11},
		Width:      w,
		Height:     h,
		DPI:        float64(opts.DPI),
		Font:       font,
		Background: chart.Style{Padding: chart.Box{
			Top:    int(20 * scale),
			Left:   int(16 * scale),
			Right:  int(24 * scale),
			Bottom: int(16 * scale),
		}},
		XAxis: chart.XAxis{
			Name:           "Trace index",
			Range:          &chart.ContinuousRange{Min: float64(lo), Max: xMax},
			ValueFormatter: intFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Signal intensity",
			Range:          &chart.ContinuousRange{Min: minY, Max: math.Ceil(maxY)},
			ValueFormatter: intFormatter,
		},
	}
	legend := *ch
	legend.Series = series
	if opts.Annotate && len(rec.Basecalls) > 0 {
		series = append(series, basecallSeries{
			calls: rec.Basecalls,
			lo:    lo,
			hi:    hi,
			font:  font,
			scale: scale,
		})
	}
	ch.Series = series
	ch.Elements = []chart.Renderable{chart.Legend(&legend)}
	return ch, nil
}

func intFormatter(v interface{}) string {
	if f, ok := v.(float64); ok {
		return fmt.Sprintf("%.0f", f)
	}
	return fmt.Sprint(v)
}

// Encode renders rec as PNG to w.
func Encode(w io.Writer, rec *trace.Record, opts Options) error {
	ch, err := Chart(rec, opts)
	if err != nil {
		return err
	}
	if err := ch.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

// Render returns the chart as an image.
func Render(rec *trace.Record, opts Options) (image.Image, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, rec, opts); err != nil {
		return nil, err
	}
	img, err := png.Decode(&buf)
	if err != nil {
		return nil, fmt.Errorf("decode rendered chart: %w", err)
	}
	return img, nil
}

// basecallSeries draws one letter per basecall along the top of the plot,
// each over a faint tick at its position. It carries no values, so it does
// not take part in range computation.
type basecallSeries struct {
	calls  []trace.Basecall
	lo, hi int
	font   *truetype.Font
	scale  float64
}

var tickColor = drawing.Color{R: 0, G: 0, B: 0, A: 32}

func (s basecallSeries) GetName() string { return "basecalls" }

func (s basecallSeries) GetYAxis() chart.YAxisType { return chart.YAxisPrimary }

func (s basecallSeries) GetStyle() chart.Style { return chart.Style{} }

func (s basecallSeries) Validate() error { return nil }

func (s basecallSeries) Render(r chart.Renderer, canvasBox chart.Box, xrange, yrange chart.Range, defaults chart.Style) {
	r.SetFont(s.font)
	r.SetFontSize(6)
	top := canvasBox.Top + int(4*s.scale)
	for _, bc := range s.calls {
		if bc.Position < s.lo || bc.Position > s.hi {
			continue
		}
		x := canvasBox.Left + xrange.Translate(float64(bc.Position))
		label := string(bc.Base)
		tb := r.MeasureText(label)

		r.SetStrokeColor(tickColor)
		r.SetStrokeWidth(math.Max(1, 0.5*s.scale))
		r.MoveTo(x, top+tb.Height()+int(2*s.scale))
		r.LineTo(x, canvasBox.Bottom)
		r.Stroke()

		r.SetFontColor(BaseColor(bc.Base))
		r.Text(label, x-tb.Width()/2, top+tb.Height())
	}
}
