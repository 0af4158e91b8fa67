package main

//
// Program for examining and checking Android APK and DEX files. An APK
// file is basically a ZIP file that contains an Android manifest and a
// series of DEX files; dexedit looks only at the DEX files. It lists
// their classes and methods, disassembles classes to smali, checks that
// code and class data re-encode to the bytes they were read from, and
// extracts the DEX entries of an APK.
//

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/thanm/go-edit-a-dex/apkdump"
	"github.com/thanm/go-edit-a-dex/apkread"
	"github.com/thanm/go-edit-a-dex/dexapkvisit"
	"github.com/thanm/go-edit-a-dex/dexread"
)

func newLogger(verbose int) *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.DisableCaller = true
	if verbose > 0 {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar().Named("dexedit")
}

func usage(msg string) {
	if len(msg) > 0 {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	}
	fmt.Fprintf(os.Stderr, "usage: dexedit [flags] <APK or DEX file>\n")
	os.Exit(2)
}

//
// dexedit main function. Nothing to see here.
//
func main() {
	log.SetFlags(0)
	log.SetPrefix("dexedit: ")
	opts, args, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		usage(err.Error())
	}
	logger := newLogger(opts.Verbose)
	defer logger.Sync()

	logger.Infof("input is %s", args[0])
	if err := run(opts, args[0], os.Stdout, logger); err != nil {
		log.Fatal(err)
	}
	logger.Info("leaving main")
}

func isDexFile(path string) bool {
	return strings.HasSuffix(path, ".dex")
}

// load reads path, an APK or a single DEX file, through visitor.
func load(opts *options, path string, visitor dexapkvisit.DexApkVisitor) ([]*dexread.File, error) {
	ropts := dexread.Options{SkipMagicCheck: opts.SkipMagicCheck}
	if isDexFile(path) {
		f, err := dexread.ReadDEXFile(path, visitor, ropts)
		if err != nil {
			return nil, err
		}
		return []*dexread.File{f}, nil
	}
	return apkread.ReadAPK(path, visitor, ropts)
}

func run(opts *options, path string, stdout io.Writer, logger *zap.SugaredLogger) error {
	dumper := apkdump.DexApkDumper{Vlevel: opts.Verbose, Out: stdout, Log: logger}
	switch opts.cmd {
	case cmdDump:
		_, err := load(opts, path, &dumper)
		return err

	case cmdSmali:
		dumper.Out = io.Discard
		w := &apkdump.SmaliWriter{DexApkDumper: dumper, OutDir: opts.OutDir, IndentStep: opts.Indent, Comments: opts.Comments}
		if _, err := load(opts, path, w); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote %d classes to %s\n", len(w.Written), opts.OutDir)
		return w.Err

	case cmdVerify:
		dumper.Out = io.Discard
		files, err := load(opts, path, &dumper)
		if err != nil {
			return err
		}
		var errs []error
		for _, f := range files {
			ferr := errors.Join(f.Verify(), f.RoundTrip())
			if ferr != nil {
				errs = append(errs, ferr)
				fmt.Fprintf(stdout, "%s: FAILED\n", f.Name)
				continue
			}
			fmt.Fprintf(stdout, "%s: ok, %d classes\n", f.Name, len(f.Classes))
		}
		return errors.Join(errs...)

	case cmdExtract:
		if isDexFile(path) {
			return fmt.Errorf("-extract needs an APK, not %s", path)
		}
		return extractAll(path, opts.OutDir, stdout, logger)
	}
	return errors.New("no command")
}

func extractAll(apk, outDir string, stdout io.Writer, logger *zap.SugaredLogger) error {
	names, err := apkread.DexEntries(apk)
	if err != nil {
		return err
	}
	for _, name := range names {
		dst := filepath.Join(outDir, filepath.Base(name))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		out, err := os.Create(dst)
		if err != nil {
			return err
		}
		st, err := apkread.ExtractDex(apk, name, out)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		logger.Infow("extracted", "entry", st.Name, "size", st.Size, "compressed", st.Compressed)
		fmt.Fprintf(stdout, "%s: %d bytes crc 0x%08x\n", dst, st.Size, st.CRC32)
	}
	return nil
}
