// ab1viewer is the desktop front end for batch trace conversion: pick a
// trace file or folder and an output folder, set the DPI, start, and watch
// progress, per-file results and a preview of the latest chart.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	fyne "fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"

	"github.com/sangertools/ab1png/cmd/ab1viewer/uihelpers"
	"github.com/sangertools/ab1png/src/batch"
	"github.com/sangertools/ab1png/src/chromatogram"
	"github.com/sangertools/ab1png/src/config"
	"github.com/sangertools/ab1png/src/logging"
)

const maxLogLines = 500

type uiState struct {
	app    fyne.App
	window fyne.Window

	inputEntry  *widget.Entry
	outEntry    *widget.Entry
	dpiEntry    *widget.Entry
	annotateChk *widget.Check
	cropSelect  *widget.Select
	startBtn    *widget.Button
	stopBtn     *widget.Button
	progress    *widget.ProgressBar
	status      *widget.Label
	logLabel    *widget.Label
	logScroll   *container.Scroll
	preview     *canvas.Image

	mu       sync.Mutex
	cancel   context.CancelFunc
	logLines []string
}

// logWriter forwards diagnostic log output into the log panel.
type logWriter struct{ state *uiState }

func (w logWriter) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")
	fyne.Do(func() { appendLog(w.state, line) })
	return len(p), nil
}

func main() {
	var inputFlag, outFlag string
	flag.StringVar(&inputFlag, "input", "", "Trace file or folder to pre-fill")
	flag.StringVar(&outFlag, "outdir", "", "Output folder to pre-fill")
	flag.Parse()

	a := app.NewWithID("org.sangertools.ab1viewer")
	w := a.NewWindow("AB1 to PNG")
	w.Resize(fyne.NewSize(1150, 760))

	state := &uiState{app: a, window: w}
	buildUI(state)
	loadPrefs(state)
	if inputFlag != "" {
		state.inputEntry.SetText(inputFlag)
	}
	if outFlag != "" {
		state.outEntry.SetText(outFlag)
	}
	logging.SetOutput(logWriter{state: state})

	addShortcuts(state)
	w.SetOnClosed(func() { stopBatch(state) })
	w.ShowAndRun()
}

func buildUI(state *uiState) {
	d := config.Default()

	state.inputEntry = widget.NewEntry()
	state.inputEntry.SetPlaceHolder("Trace file (.ab1) or folder")
	fileBtn := widget.NewButton("File…", func() { pickInputFile(state) })
	folderBtn := widget.NewButton("Folder…", func() { pickInputFolder(state) })

	state.outEntry = widget.NewEntry()
	state.outEntry.SetText(d.OutDir)
	outBtn := widget.NewButton("Browse…", func() { pickOutputFolder(state) })

	state.dpiEntry = widget.NewEntry()
	state.dpiEntry.SetText(strconv.Itoa(d.DPI))
	state.annotateChk = widget.NewCheck("Annotate bases", nil)
	state.cropSelect = widget.NewSelect([]string{
		chromatogram.CropNone.String(),
		chromatogram.CropBasecalls.String(),
		chromatogram.CropSignal.String(),
	}, nil)
	state.cropSelect.SetSelected(d.Crop)

	state.startBtn = widget.NewButton("Start", func() { startBatch(state) })
	state.startBtn.Importance = widget.HighImportance
	state.stopBtn = widget.NewButton("Stop", func() { stopBatch(state) })
	state.stopBtn.Disable()

	state.progress = widget.NewProgressBar()
	state.status = widget.NewLabel("Idle")
	state.logLabel = widget.NewLabel("")
	state.logLabel.Wrapping = fyne.TextWrapWord
	state.logScroll = container.NewVScroll(state.logLabel)
	state.logScroll.SetMinSize(fyne.NewSize(900, 200))

	state.preview = canvas.NewImageFromImage(placeholder(previewMaxW, previewMaxH, "The most recent chart appears here"))
	state.preview.FillMode = canvas.ImageFillContain
	state.preview.SetMinSize(fyne.NewSize(previewMaxW, previewMaxH))

	form := widget.NewForm(
		widget.NewFormItem("Input", container.NewBorder(nil, nil, nil, container.NewHBox(fileBtn, folderBtn), state.inputEntry)),
		widget.NewFormItem("Output", container.NewBorder(nil, nil, nil, outBtn, state.outEntry)),
		widget.NewFormItem("DPI", container.NewHBox(container.NewGridWrap(fyne.NewSize(90, state.dpiEntry.MinSize().Height), state.dpiEntry),
			state.annotateChk, widget.NewLabel("Crop"), state.cropSelect)),
	)
	controls := container.NewHBox(state.startBtn, state.stopBtn)
	top := container.NewVBox(form, controls, state.progress, state.status)
	body := container.NewVSplit(state.preview, state.logScroll)
	body.Offset = 0.55
	state.window.SetContent(container.NewBorder(top, nil, nil, nil, body))
}

func addShortcuts(state *uiState) {
	canv := state.window.Canvas()
	if canv == nil {
		return
	}
	for _, mod := range []fyne.KeyModifier{fyne.KeyModifierSuper, fyne.KeyModifierControl} {
		canv.AddShortcut(&desktop.CustomShortcut{KeyName: fyne.KeyO, Modifier: mod}, func(fyne.Shortcut) { pickInputFile(state) })
		canv.AddShortcut(&desktop.CustomShortcut{KeyName: fyne.KeyReturn, Modifier: mod}, func(fyne.Shortcut) {
			if !state.startBtn.Disabled() {
				startBatch(state)
			}
		})
		canv.AddShortcut(&desktop.CustomShortcut{KeyName: fyne.KeyW, Modifier: mod}, func(fyne.Shortcut) { state.window.Close() })
	}
}

func pickInputFile(state *uiState) {
	d := dialog.NewFileOpen(func(rc fyne.URIReadCloser, err error) {
		if err != nil || rc == nil {
			return
		}
		defer rc.Close()
		state.inputEntry.SetText(rc.URI().Path())
	}, state.window)
	d.SetFilter(storage.NewExtensionFileFilter([]string{".ab1", ".AB1"}))
	d.Show()
}

func pickInputFolder(state *uiState) {
	dialog.ShowFolderOpen(func(lu fyne.ListableURI, err error) {
		if err != nil || lu == nil {
			return
		}
		state.inputEntry.SetText(lu.Path())
	}, state.window)
}

func pickOutputFolder(state *uiState) {
	dialog.ShowFolderOpen(func(lu fyne.ListableURI, err error) {
		if err != nil || lu == nil {
			return
		}
		state.outEntry.SetText(lu.Path())
	}, state.window)
}

// startBatch validates the form and runs the batch on a worker goroutine.
func startBatch(state *uiState) {
	input := strings.TrimSpace(state.inputEntry.Text)
	outDir := strings.TrimSpace(state.outEntry.Text)
	if input == "" {
		dialog.ShowError(errors.New("choose a trace file or folder first"), state.window)
		return
	}
	if outDir == "" {
		dialog.ShowError(errors.New("choose an output folder"), state.window)
		return
	}
	dpi, err := uihelpers.ParseDPI(state.dpiEntry.Text)
	if err != nil {
		dialog.ShowError(err, state.window)
		return
	}
	crop, err := chromatogram.ParseCrop(state.cropSelect.Selected)
	if err != nil {
		dialog.ShowError(err, state.window)
		return
	}
	files, err := batch.Resolve(input)
	if err != nil {
		dialog.ShowError(err, state.window)
		return
	}
	if len(files) == 0 {
		dialog.ShowInformation("Nothing to do", fmt.Sprintf("No %s files in %s", batch.Ext, input), state.window)
		return
	}
	savePrefs(state)

	ctx, cancel := context.WithCancel(context.Background())
	state.mu.Lock()
	state.cancel = cancel
	state.mu.Unlock()
	setRunning(state, true)
	state.progress.SetValue(0)
	appendLog(state, fmt.Sprintf("Converting %d file(s) from %s at %d DPI into %s", len(files),
		uihelpers.TruncatePath(input, uihelpers.PathWidth), dpi, uihelpers.TruncatePath(outDir, uihelpers.PathWidth)))

	runner := &batch.Runner{
		OutDir:   outDir,
		DPI:      dpi,
		Annotate: state.annotateChk.Checked,
		Crop:     crop,
		OnEvent:  func(e batch.Event) { handleEvent(state, e) },
	}
	go func() {
		defer cancel()
		runner.Run(ctx, files)
	}()
}

// handleEvent runs on the worker goroutine; widget updates go through fyne.Do.
func handleEvent(state *uiState, e batch.Event) {
	var img image.Image
	if e.Kind == batch.EventOK {
		p, err := loadPreview(e.Output, previewMaxW, previewMaxH)
		if err != nil {
			logging.Warnf("preview: %v", err)
		} else {
			img = drawCaption(p, filepath.Base(e.Output))
		}
	}
	fyne.Do(func() {
		if line := uihelpers.FormatEvent(e); line != "" {
			appendLog(state, line)
		}
		if s := uihelpers.StatusText(e); s != "" {
			state.status.SetText(s)
		}
		if img != nil {
			state.preview.Image = img
			state.preview.Refresh()
		}
		switch e.Kind {
		case batch.EventOK, batch.EventFail:
			state.progress.SetValue(uihelpers.ProgressFraction(e.Index, e.Total))
		case batch.EventDone:
			setRunning(state, false)
		}
	})
}

// stopBatch asks the runner to stop after the file in progress.
func stopBatch(state *uiState) {
	state.mu.Lock()
	cancel := state.cancel
	state.cancel = nil
	state.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	state.status.SetText("Stopping after the current file…")
	state.stopBtn.Disable()
}

func setRunning(state *uiState, running bool) {
	if running {
		state.startBtn.Disable()
		state.stopBtn.Enable()
		return
	}
	state.mu.Lock()
	state.cancel = nil
	state.mu.Unlock()
	state.startBtn.Enable()
	state.stopBtn.Disable()
}

func appendLog(state *uiState, line string) {
	state.logLines = append(state.logLines, line)
	if n := len(state.logLines); n > maxLogLines {
		state.logLines = state.logLines[n-maxLogLines:]
	}
	state.logLabel.SetText(strings.Join(state.logLines, "\n"))
	state.logScroll.ScrollToBottom()
}

// prefs
func savePrefs(state *uiState) {
	prefs := state.app.Preferences()
	prefs.SetString("lastInput", state.inputEntry.Text)
	prefs.SetString("lastOutDir", state.outEntry.Text)
	prefs.SetString("dpi", state.dpiEntry.Text)
	prefs.SetBool("annotate", state.annotateChk.Checked)
	prefs.SetString("crop", state.cropSelect.Selected)
}

func loadPrefs(state *uiState) {
	prefs := state.app.Preferences()
	if p := prefs.StringWithFallback("lastInput", ""); p != "" {
		if _, err := os.Stat(p); err == nil {
			state.inputEntry.SetText(p)
		}
	}
	if p := prefs.StringWithFallback("lastOutDir", ""); p != "" {
		state.outEntry.SetText(p)
	}
	if s := prefs.StringWithFallback("dpi", ""); s != "" {
		if _, err := uihelpers.ParseDPI(s); err == nil {
			state.dpiEntry.SetText(s)
		}
	}
	state.annotateChk.SetChecked(prefs.BoolWithFallback("annotate", false))
	if c := prefs.StringWithFallback("crop", ""); c != "" {
		if _, err := chromatogram.ParseCrop(c); err == nil {
			state.cropSelect.SetSelected(c)
		}
	}
}
