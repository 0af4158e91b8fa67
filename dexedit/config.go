package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/BurntSushi/toml"
)

const defaultConfigFile = "dexedit.toml"

// Config holds the settings that can come from dexedit.toml. Flags given
// on the command line win over the file.
type Config struct {
	Verbose        int    `toml:"verbose"`
	SkipMagicCheck bool   `toml:"skip_magic_check"`
	Indent         int    `toml:"indent"`
	Comments       bool   `toml:"comments"`
	OutDir         string `toml:"out_dir"`
}

func defaultConfig() Config {
	return Config{Indent: 4, Comments: true, OutDir: "."}
}

// loadConfig decodes path over cfg. Keys the file has but Config does
// not are an error, so typos don't go unnoticed.
func loadConfig(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

type command int

const (
	cmdNone command = iota
	cmdDump
	cmdSmali
	cmdVerify
	cmdExtract
)

type options struct {
	Config
	cmd command
}

// parseArgs reads the command line. The config file named by -config,
// or dexedit.toml in the current directory when present, is applied
// first and then every flag that was set explicitly.
func parseArgs(args []string, stderr io.Writer) (*options, []string, error) {
	def := defaultConfig()
	fset := flag.NewFlagSet("dexedit", flag.ContinueOnError)
	fset.SetOutput(stderr)
	fset.Usage = func() {
		fmt.Fprintf(stderr, "usage: dexedit [flags] <APK or DEX file>\n")
		fset.PrintDefaults()
	}
	configPath := fset.String("config", "", "TOML config file (default "+defaultConfigFile+" if present)")
	verbose := fset.Int("v", def.Verbose, "Verbose trace output level")
	skipMagic := fset.Bool("skip-magic-check", def.SkipMagicCheck, "Accept unknown DEX magic and versions")
	indent := fset.Int("indent", def.Indent, "Indent step of smali output")
	comments := fset.Bool("comments", def.Comments, "Write comments in smali output")
	outDir := fset.String("out", def.OutDir, "Output directory for -smali and -extract")
	dump := fset.Bool("dump", false, "Dump DEX/APK info to stdout")
	toSmali := fset.Bool("smali", false, "Disassemble every class to smali files")
	verify := fset.Bool("verify", false, "Check checksums and the byte-exact round trip of code and class data")
	extract := fset.Bool("extract", false, "Extract the DEX files of an APK, checking size and CRC")
	if err := fset.Parse(args); err != nil {
		return nil, nil, err
	}

	opts := &options{Config: def}
	switch {
	case *configPath != "":
		if err := loadConfig(*configPath, &opts.Config); err != nil {
			return nil, nil, err
		}
	default:
		err := loadConfig(defaultConfigFile, &opts.Config)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, err
		}
	}
	fset.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "v":
			opts.Verbose = *verbose
		case "skip-magic-check":
			opts.SkipMagicCheck = *skipMagic
		case "indent":
			opts.Indent = *indent
		case "comments":
			opts.Comments = *comments
		case "out":
			opts.OutDir = *outDir
		}
	})

	n := 0
	for c, set := range map[command]bool{cmdDump: *dump, cmdSmali: *toSmali, cmdVerify: *verify, cmdExtract: *extract} {
		if set {
			opts.cmd = c
			n++
		}
	}
	if n != 1 {
		return nil, nil, errors.New("select one of: -dump, -smali, -verify, -extract")
	}
	if fset.NArg() != 1 {
		return nil, nil, errors.New("please supply an input APK or DEX file")
	}
	return opts, fset.Args(), nil
}
