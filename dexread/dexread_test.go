package dexread

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thanm/go-edit-a-dex/dex"
	"github.com/thanm/go-edit-a-dex/dexapktest"
	"github.com/thanm/go-edit-a-dex/dexio"
	"github.com/thanm/go-edit-a-dex/key"
	"github.com/thanm/go-edit-a-dex/smali"
)

func writeFibonacci(t *testing.T) (string, []byte) {
	t.Helper()
	data, err := dexapktest.BuildFibonacci()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "classes.dex")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, data
}

func TestSmallDexFileRead(t *testing.T) {
	path, data := writeFibonacci(t)
	visitor := &dexapktest.CaptureDexApkVisitOperations{}
	f, err := ReadDEXFile(path, visitor, Options{})
	require.NoError(t, err)
	require.Len(t, f.Classes, 1)

	methods := f.Classes[0].Methods()
	require.Len(t, methods, 3)
	for _, m := range methods[:2] {
		assert.NotZero(t, m.CodeOff.Get())
		assert.Zero(t, m.CodeOff.Get()%4, "code items are 4-aligned")
	}
	assert.Zero(t, methods[2].CodeOff.Get(), "native methods have no code")

	expected := fmt.Sprintf(` DEX %s
            sha1 %x
		    class fibonacci methods: 3
		    method id 0 name '<init>' code offset %d
		    method id 2 name 'ifibonacci' code offset %d
		    method id 3 name 'rfibonacci' code offset 0`,
		path, data[12:32], methods[0].CodeOff.Get(), methods[1].CodeOff.Get())
	actual := strings.Join(visitor.Result, "\n")
	assert.Equal(t, dexapktest.SqueezeWhite(expected), dexapktest.SqueezeWhite(actual))
}

func TestNonexistentDexFileRead(t *testing.T) {
	visitor := &dexapktest.CaptureDexApkVisitOperations{}
	_, err := ReadDEXFile("quix", visitor, Options{})
	require.Error(t, err)
	assert.Equal(t, "reading dex quix: os.Stat failed(): stat quix: no such file or directory", err.Error())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBadDexFileRead(t *testing.T) {
	visitor := &dexapktest.CaptureDexApkVisitOperations{}
	_, err := ReadDEXFile("dexread.go", visitor, Options{})
	require.Error(t, err)
	assert.Equal(t, "reading dex dexread.go: not a DEX file", err.Error())
	assert.Empty(t, visitor.Result)
}

func TestReadErrors(t *testing.T) {
	_, data := writeFibonacci(t)
	apk := "fib.apk"
	visitor := &dexapktest.CaptureDexApkVisitOperations{}

	_, err := ReadDEX(&apk, "classes.dex", bytes.NewReader(data[:50]), uint64(len(data)), visitor, Options{})
	assert.EqualError(t, err, fmt.Sprintf("reading apk fib.apk dex classes.dex: expected %d bytes, read 50", len(data)))

	// an unknown version is only accepted with the magic check off
	bad := bytes.Clone(data)
	copy(bad[4:], "099\x00")
	_, err = ReadDEX(nil, "v99.dex", bytes.NewReader(bad), uint64(len(bad)), visitor, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, dexio.ErrFormat)
	assert.Contains(t, err.Error(), "reading dex v99.dex: dex header at offset 4")
	f, err := ReadDEX(nil, "v99.dex", bytes.NewReader(bad), uint64(len(bad)), visitor, Options{SkipMagicCheck: true})
	require.NoError(t, err)
	assert.Equal(t, 99, f.Header.VersionNumber())

	// point the first type id past the end of the string ids
	h := dex.NewHeader()
	require.NoError(t, h.Decode(dexio.NewReader(data)))
	bad = bytes.Clone(data)
	binary.LittleEndian.PutUint32(bad[h.TypeIDs.Off():], 0xffff)
	_, err = ReadDEX(nil, "t.dex", bytes.NewReader(bad), uint64(len(bad)), visitor, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, key.ErrUnresolved)
	assert.Contains(t, err.Error(), "reading dex t.dex: type 0:")
}

func TestClassToSmali(t *testing.T) {
	path, _ := writeFibonacci(t)
	f, err := ReadDEXFile(path, &dexapktest.CaptureDexApkVisitOperations{}, Options{})
	require.NoError(t, err)
	sc, err := f.Classes[0].ToSmali()
	require.NoError(t, err)

	text := smali.Text(sc)
	for _, want := range []string{
		".class public Lfibonacci;",
		".super Ljava/lang/Object;",
		`.source "fibonacci.java"`,
		".field static final LIMIT:I = 0x14",
		".field private last:J",
		".method public constructor <init>()V",
		"invoke-direct {p0}, Ljava/lang/Object;-><init>()V",
		"add-int/lit8 p0, p0, -0x1",
		"goto :goto_",
		".method public native rfibonacci(I)I",
	} {
		assert.Contains(t, text, want)
	}

	// the text goes back through the builder unchanged
	b := dexapktest.NewBuilder()
	require.NoError(t, b.AddSmali("again.smali", text))
	again, err := b.Build()
	require.NoError(t, err)
	f2, err := ReadDEX(nil, "again.dex", bytes.NewReader(again), uint64(len(again)), &dexapktest.CaptureDexApkVisitOperations{}, Options{})
	require.NoError(t, err)
	sc2, err := f2.Classes[0].ToSmali()
	require.NoError(t, err)
	assert.Equal(t, text, smali.Text(sc2))
}

func TestRoundTripAndVerify(t *testing.T) {
	path, _ := writeFibonacci(t)
	f, err := ReadDEXFile(path, &dexapktest.CaptureDexApkVisitOperations{}, Options{})
	require.NoError(t, err)
	assert.NoError(t, f.Verify())
	assert.NoError(t, f.RoundTrip())

	f.Data[len(f.Data)-1] ^= 0xff
	err = f.Verify()
	assert.ErrorIs(t, err, dex.ErrChecksum)
	assert.Contains(t, err.Error(), "dex "+path+": ")
}

type classDefCounter struct {
	dexapktest.CaptureDexApkVisitOperations
	defs []*Class
}

func (c *classDefCounter) VisitClassDef(cl *Class) { c.defs = append(c.defs, cl) }

func TestClassDefVisitor(t *testing.T) {
	path, _ := writeFibonacci(t)
	v := &classDefCounter{}
	f, err := ReadDEXFile(path, v, Options{})
	require.NoError(t, err)
	require.Len(t, v.defs, 1)
	assert.Same(t, f.Classes[0], v.defs[0])
	assert.Equal(t, "Lfibonacci;", v.defs[0].Type.TypeName())
	assert.Equal(t, 1, v.defs[0].StaticValues.Len())
}
