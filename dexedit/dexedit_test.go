package main

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thanm/go-edit-a-dex/dexapktest"
)

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dexedit.toml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func TestConfigPrecedence(t *testing.T) {
	cfg := writeConfig(t, `
verbose = 2
skip_magic_check = true
indent = 2
comments = false
out_dir = "from-file"
`)
	tests := []struct {
		name string
		args []string
		want Config
	}{
		{
			name: "defaults",
			args: []string{"-dump", "a.apk"},
			want: Config{Indent: 4, Comments: true, OutDir: "."},
		},
		{
			name: "file",
			args: []string{"-config", cfg, "-dump", "a.apk"},
			want: Config{Verbose: 2, SkipMagicCheck: true, Indent: 2, Comments: false, OutDir: "from-file"},
		},
		{
			name: "flags win",
			args: []string{"-config", cfg, "-v", "0", "-comments", "-out", "from-flag", "-smali", "a.apk"},
			want: Config{Verbose: 0, SkipMagicCheck: true, Indent: 2, Comments: true, OutDir: "from-flag"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts, args, err := parseArgs(tc.args, io.Discard)
			require.NoError(t, err)
			assert.Equal(t, tc.want, opts.Config)
			assert.Equal(t, []string{"a.apk"}, args)
		})
	}
}

func TestParseArgsErrors(t *testing.T) {
	_, _, err := parseArgs([]string{"a.apk"}, io.Discard)
	assert.EqualError(t, err, "select one of: -dump, -smali, -verify, -extract")
	_, _, err = parseArgs([]string{"-dump", "-verify", "a.apk"}, io.Discard)
	assert.Error(t, err)
	_, _, err = parseArgs([]string{"-dump"}, io.Discard)
	assert.EqualError(t, err, "please supply an input APK or DEX file")

	cfg := writeConfig(t, "verbosity = 3\n")
	_, _, err = parseArgs([]string{"-config", cfg, "-dump", "a.apk"}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown keys verbosity")

	_, _, err = parseArgs([]string{"-config", "missing.toml", "-dump", "a.apk"}, io.Discard)
	assert.Error(t, err)
}

func fixtureAPK(t *testing.T) (string, []byte) {
	t.Helper()
	data, err := dexapktest.BuildFibonacci()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "fib.apk")
	out, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	w, err := zw.Create("classes.dex")
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())
	return path, data
}

func runCmd(t *testing.T, cmd command, path, outDir string) (string, error) {
	t.Helper()
	opts := &options{Config: defaultConfig(), cmd: cmd}
	opts.OutDir = outDir
	var stdout bytes.Buffer
	err := run(opts, path, &stdout, zap.NewNop().Sugar())
	return stdout.String(), err
}

func TestRunCommands(t *testing.T) {
	apk, data := fixtureAPK(t)
	dir := t.TempDir()

	out, err := runCmd(t, cmdDump, apk, dir)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "APK "+apk+"\n DEX classes.dex sha1 "))
	assert.Contains(t, out, "  class fibonacci methods: 3\n")

	out, err = runCmd(t, cmdVerify, apk, dir)
	require.NoError(t, err)
	assert.Equal(t, "classes.dex: ok, 1 classes\n", out)

	out, err = runCmd(t, cmdExtract, apk, dir)
	require.NoError(t, err)
	dex := filepath.Join(dir, "classes.dex")
	assert.True(t, strings.HasPrefix(out, dex+": "))
	got, err := os.ReadFile(dex)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// the extracted file can be read on its own
	out, err = runCmd(t, cmdSmali, dex, dir)
	require.NoError(t, err)
	assert.Equal(t, "wrote 1 classes to "+dir+"\n", out)
	assert.FileExists(t, filepath.Join(dir, "fibonacci.smali"))

	_, err = runCmd(t, cmdExtract, dex, dir)
	assert.Error(t, err)
}

func TestVerifyReportsDamage(t *testing.T) {
	_, data := fixtureAPK(t)
	data[len(data)-1] ^= 0xff
	path := filepath.Join(t.TempDir(), "bad.dex")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	out, err := runCmd(t, cmdVerify, path, t.TempDir())
	require.Error(t, err)
	assert.Equal(t, path+": FAILED\n", out)
	assert.Contains(t, err.Error(), "checksum")
}
