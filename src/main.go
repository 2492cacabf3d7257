// ab1png converts Sanger trace files (ABIF/.ab1) into chromatogram PNGs.
//
// Usage:
//
//	ab1png <file-or-dir> [-o DIR] [--dpi N] [--annotate] [--crop none|basecalls|signal] [--fasta]
//
// A directory is scanned (not recursively) for *.ab1 files. Every file is
// attempted; failures are reported per file and in the closing summary.
//
// Exit codes: 0 when the batch ran (even if some files failed, unless
// --fail-exit-code is set), 2 for usage errors, 130 when interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sangertools/ab1png/src/batch"
	"github.com/sangertools/ab1png/src/config"
	"github.com/sangertools/ab1png/src/logging"
)

const (
	exitOK          = 0
	exitUsage       = 2
	exitInterrupted = 130
)

// usageError is reported before any file is touched and maps to exitUsage.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, a ...interface{}) error {
	return usageError{msg: fmt.Sprintf(format, a...)}
}

type options struct {
	configPath   string
	outDir       string
	dpi          int
	annotate     bool
	crop         string
	fasta        bool
	logLevel     string
	failExitCode int
}

func newFlagSet(o *options, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("ab1png", flag.ContinueOnError)
	fs.SetOutput(stderr)
	d := config.Default()
	fs.StringVar(&o.outDir, "o", d.OutDir, "Output directory (created if missing)")
	fs.StringVar(&o.outDir, "outdir", d.OutDir, "Alias of -o")
	fs.IntVar(&o.dpi, "dpi", d.DPI, "Output resolution in dots per inch")
	fs.BoolVar(&o.annotate, "annotate", d.Annotate, "Draw the called base above each basecall position")
	fs.StringVar(&o.crop, "crop", d.Crop, "Plot window: none|basecalls|signal")
	fs.BoolVar(&o.fasta, "fasta", d.FASTA, "Also write <stem>.fasta with the called sequence")
	fs.StringVar(&o.configPath, "config", "", "TOML config file (default $"+config.EnvFile+")")
	fs.StringVar(&o.logLevel, "log-level", d.LogLevel, "Log level (debug|info|warn|error)")
	fs.IntVar(&o.failExitCode, "fail-exit-code", 0, "Exit code when any file failed (0 keeps success)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: ab1png <file-or-dir> [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	return fs
}

// resolveConfig layers explicitly set flags over file and environment settings.
func resolveConfig(fs *flag.FlagSet, o options) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, usagef("%v", err)
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "o", "outdir":
			cfg.OutDir = o.outDir
		case "dpi":
			cfg.DPI = o.dpi
		case "annotate":
			cfg.Annotate = o.annotate
		case "crop":
			cfg.Crop = o.crop
		case "fasta":
			cfg.FASTA = o.fasta
		case "log-level":
			cfg.LogLevel = o.logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		return cfg, usagef("%v", err)
	}
	return cfg, nil
}

func run(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	logging.SetOutput(stderr)

	var o options
	fs := newFlagSet(&o, stderr)
	flagArgs, posArgs := splitFlagsAndPositionals(fs, argv)
	if err := fs.Parse(flagArgs); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	posArgs = append(posArgs, fs.Args()...)

	files, cfg, err := prepare(fs, o, posArgs)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		var ue usageError
		if errors.As(err, &ue) {
			fs.Usage()
		}
		return exitUsage
	}
	logging.SetLogLevel(cfg.LogLevel)
	logging.Debugf("config: %+v", cfg)

	if len(files) == 0 {
		fmt.Fprintf(stdout, "No %s files found in %s\n", batch.Ext, posArgs[0])
	}
	runner := &batch.Runner{
		OutDir:       cfg.OutDir,
		DPI:          cfg.DPI,
		Annotate:     cfg.Annotate,
		Crop:         cfg.CropMode(),
		FASTA:        cfg.FASTA,
		WidthInches:  cfg.WidthInches,
		HeightInches: cfg.HeightInches,
		OnEvent: func(e batch.Event) {
			switch e.Kind {
			case batch.EventOK:
				fmt.Fprintf(stdout, "[OK] %s -> %s\n", e.Input, e.Output)
			case batch.EventFail:
				fmt.Fprintf(stdout, "[ERROR] %s: %v\n", e.Input, e.Err)
			}
		},
	}
	res := runner.Run(ctx, files)
	fmt.Fprint(stdout, "\n"+res.Summary())

	if ctx.Err() != nil {
		return exitInterrupted
	}
	if res.Failed > 0 && o.failExitCode != 0 {
		return o.failExitCode
	}
	return exitOK
}

func prepare(fs *flag.FlagSet, o options, posArgs []string) ([]string, config.Config, error) {
	switch {
	case len(posArgs) == 0:
		return nil, config.Config{}, usagef("missing input file or directory")
	case len(posArgs) > 1:
		return nil, config.Config{}, usagef("expected one input, got %d: %v", len(posArgs), posArgs)
	}
	cfg, err := resolveConfig(fs, o)
	if err != nil {
		return nil, cfg, err
	}
	files, err := batch.Resolve(posArgs[0])
	if err != nil {
		return nil, cfg, usagef("%v", err)
	}
	return files, cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
