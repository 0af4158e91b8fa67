package apkread

import (
	"archive/zip"
	"bytes"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thanm/go-edit-a-dex/dexapktest"
	"github.com/thanm/go-edit-a-dex/dexread"
)

type entry struct {
	name string
	data []byte
	// crc, when not zero, is stored in place of the real checksum
	crc uint32
}

func writeAPK(t *testing.T, entries ...entry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fibonacci.apk")
	out, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	for _, e := range entries {
		if e.crc == 0 {
			w, err := zw.Create(e.name)
			require.NoError(t, err)
			_, err = w.Write(e.data)
			require.NoError(t, err)
			continue
		}
		w, err := zw.CreateRaw(&zip.FileHeader{
			Name:               e.name,
			Method:             zip.Store,
			CRC32:              e.crc,
			CompressedSize64:   uint64(len(e.data)),
			UncompressedSize64: uint64(len(e.data)),
		})
		require.NoError(t, err)
		_, err = w.Write(e.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())
	return path
}

func fibonacci(t *testing.T) []byte {
	t.Helper()
	data, err := dexapktest.BuildFibonacci()
	require.NoError(t, err)
	return data
}

func TestSmallApkRead(t *testing.T) {
	data := fibonacci(t)
	apk := writeAPK(t,
		entry{name: "AndroidManifest.xml", data: []byte("<manifest/>")},
		entry{name: "classes.dex", data: data},
		entry{name: "res/raw/notes.txt", data: []byte("not a dex")},
	)

	visitor := &dexapktest.CaptureDexApkVisitOperations{}
	files, err := ReadAPK(apk, visitor, dexread.Options{})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "classes.dex", files[0].Name)

	methods := files[0].Classes[0].Methods()
	var expected []string
	expected = append(expected, "APK "+apk, " DEX classes.dex sha1 "+files[0].Header.SignatureHex(), "  class fibonacci methods: 3")
	for _, line := range []string{
		"method id 0 name '<init>' code offset ",
		"method id 2 name 'ifibonacci' code offset ",
		"method id 3 name 'rfibonacci' code offset ",
	} {
		expected = append(expected, "   "+line)
	}
	require.Len(t, visitor.Result, len(expected))
	for i, want := range expected {
		assert.True(t, strings.HasPrefix(visitor.Result[i], want), "line %d: %q", i, visitor.Result[i])
	}
	assert.True(t, strings.HasSuffix(visitor.Result[5], "offset 0"))
	assert.NotZero(t, methods[0].CodeOff.Get())
}

func TestApkReadErrors(t *testing.T) {
	visitor := &dexapktest.CaptureDexApkVisitOperations{}
	_, err := ReadAPK("quix.apk", visitor, dexread.Options{})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "unable to open APK quix.apk: "))

	apk := writeAPK(t, entry{name: "classes.dex", data: bytes.Repeat([]byte{'x'}, 200)})
	_, err = ReadAPK(apk, visitor, dexread.Options{})
	assert.EqualError(t, err, "reading apk "+apk+" dex classes.dex: not a DEX file")
}

func TestDexEntries(t *testing.T) {
	apk := writeAPK(t,
		entry{name: "classes.dex", data: []byte("a")},
		entry{name: "classes2.dex", data: []byte("b")},
		entry{name: "assets/my file.dex", data: []byte("c")},
		entry{name: "lib/x.so", data: []byte("d")},
	)
	names, err := DexEntries(apk)
	require.NoError(t, err)
	assert.Equal(t, []string{"classes.dex", "classes2.dex"}, names)
}

func TestExtractDex(t *testing.T) {
	data := fibonacci(t)
	apk := writeAPK(t, entry{name: "classes.dex", data: data})

	var buf bytes.Buffer
	st, err := ExtractDex(apk, "classes.dex", &buf)
	require.NoError(t, err)
	assert.Equal(t, data, buf.Bytes())
	assert.Equal(t, EntryStat{Name: "classes.dex", Size: int64(len(data)), CRC32: crc32.ChecksumIEEE(data), Compressed: true}, st)

	_, err = ExtractDex(apk, "classes9.dex", &buf)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestExtractDexBadCRC(t *testing.T) {
	data := fibonacci(t)
	apk := writeAPK(t, entry{name: "classes.dex", data: data, crc: crc32.ChecksumIEEE(data) + 1})

	var buf bytes.Buffer
	st, err := ExtractDex(apk, "classes.dex", &buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCRCMismatch)
	assert.False(t, st.Compressed)
	assert.Equal(t, crc32.ChecksumIEEE(data), st.CRC32)
}
