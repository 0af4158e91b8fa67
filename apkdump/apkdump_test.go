package apkdump

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/thanm/go-edit-a-dex/dexapktest"
	"github.com/thanm/go-edit-a-dex/dexread"
	"github.com/thanm/go-edit-a-dex/key"
)

func TestDumpListing(t *testing.T) {
	data, err := dexapktest.BuildFibonacci()
	require.NoError(t, err)
	var out bytes.Buffer
	core, logs := observer.New(zapcore.InfoLevel)
	d := &DexApkDumper{Vlevel: 1, Out: &out, Log: zap.New(core).Sugar()}

	f, err := dexread.ReadDEX(nil, "classes.dex", bytes.NewReader(data), uint64(len(data)), d, dexread.Options{})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, " DEX classes.dex sha1 "+f.Header.SignatureHex(), lines[0])
	assert.Equal(t, "  class fibonacci methods: 3", lines[1])
	assert.Equal(t, "   method id 3 name 'rfibonacci' code offset 0", lines[4])

	// level 2 chatter is below the dumper's threshold
	assert.Equal(t, 1, logs.FilterMessage("there are 1 classes").Len())
	assert.Zero(t, logs.FilterMessageSnippet("num static fields").Len())
	for _, e := range logs.All() {
		assert.Equal(t, int64(1), e.ContextMap()["vlevel"])
	}
}

func TestVerboseWithoutLogger(t *testing.T) {
	var out bytes.Buffer
	d := &DexApkDumper{Vlevel: 3, Out: &out}
	d.Verbose(1, "dropped %d", 1)
	d.VisitAPK("a.apk")
	assert.Equal(t, "APK a.apk\n", out.String())
}

func TestSmaliPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "foo", "bar", "Baz$1.smali"),
		SmaliPath("out", key.NewTypeKey("Lfoo/bar/Baz$1;")))
	assert.Equal(t, filepath.Join("out", "fibonacci.smali"),
		SmaliPath("out", key.NewTypeKey("Lfibonacci;")))
}

func TestSmaliWriter(t *testing.T) {
	data, err := dexapktest.BuildFibonacci()
	require.NoError(t, err)
	dir := t.TempDir()
	s := &SmaliWriter{DexApkDumper: DexApkDumper{Out: &bytes.Buffer{}}, OutDir: dir, IndentStep: 2}

	_, err = dexread.ReadDEX(nil, "classes.dex", bytes.NewReader(data), uint64(len(data)), s, dexread.Options{})
	require.NoError(t, err)
	require.NoError(t, s.Err)
	require.Equal(t, []string{filepath.Join(dir, "fibonacci.smali")}, s.Written)

	text, err := os.ReadFile(s.Written[0])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(text), ".class public Lfibonacci;\n"))
	assert.Contains(t, string(text), "\n  invoke-direct {p0}, Ljava/lang/Object;-><init>()V\n")
	assert.NotContains(t, string(text), "# direct methods")
}
