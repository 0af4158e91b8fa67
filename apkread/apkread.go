//
// Rudimentary package for examining Android APK files. An APK file
// is basically a ZIP file that contains an Android manifest and a series
// of DEX files, strings, resources, bitmaps, and assorted other items.
// This specific reader looks only at the DEX files, not the other
// bits and pieces (of which there are many).
//
package apkread

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/thanm/go-edit-a-dex/dexapkvisit"
	"github.com/thanm/go-edit-a-dex/dexio"
	"github.com/thanm/go-edit-a-dex/dexread"
)

var (
	ErrEntryNotFound = errors.New("no such entry")
	ErrSizeMismatch  = errors.New("entry size mismatch")
	ErrCRCMismatch   = errors.New("entry crc mismatch")
)

var isDex = regexp.MustCompile(`^\S+\.dex$`)

// IsDexEntry reports whether an archive entry name is a DEX file.
func IsDexEntry(name string) bool { return isDex.MatchString(name) }

// ReadAPK opens the specified APK file 'apk' and walks the contents
// of any DEX files it contains, making callbacks at various
// points through a user-supplied visitor object 'visitor'. See
// DexApkVisitor for more info on which DEX/APK parts are visited.
// The loaded files are returned in entry order.
func ReadAPK(apk string, visitor dexapkvisit.DexApkVisitor, opts dexread.Options) ([]*dexread.File, error) {
	rc, err := zip.OpenReader(apk)
	if err != nil {
		return nil, fmt.Errorf("unable to open APK %s: %w", apk, err)
	}
	defer rc.Close()
	z := &rc.Reader

	visitor.VisitAPK(apk)
	visitor.Verbose(1, "APK %s contains %d entries", apk, len(z.File))

	var files []*dexread.File
	for i, entry := range z.File {
		if !IsDexEntry(entry.Name) {
			continue
		}
		visitor.Verbose(1, "dex file %s at entry %d", entry.Name, i)
		reader, err := entry.Open()
		if err != nil {
			return files, fmt.Errorf("opening apk %s dex %s: %w", apk, entry.Name, err)
		}
		f, err := dexread.ReadDEX(&apk, entry.Name, reader, entry.UncompressedSize64, visitor, opts)
		reader.Close()
		if err != nil {
			return files, err
		}
		files = append(files, f)
	}
	return files, nil
}

// EntryStat describes one extracted entry.
type EntryStat struct {
	Name       string
	Size       int64
	CRC32      uint32
	Compressed bool
}

// DexEntries lists the names of the DEX files in apk.
func DexEntries(apk string) ([]string, error) {
	rc, err := zip.OpenReader(apk)
	if err != nil {
		return nil, fmt.Errorf("unable to open APK %s: %w", apk, err)
	}
	defer rc.Close()
	var names []string
	for _, entry := range rc.File {
		if IsDexEntry(entry.Name) {
			names = append(names, entry.Name)
		}
	}
	return names, nil
}

// ExtractDex copies entry out of apk into w, checking the byte count and
// CRC-32 of what was written against the archive's directory.
func ExtractDex(apk, entry string, w io.Writer) (EntryStat, error) {
	rc, err := zip.OpenReader(apk)
	if err != nil {
		return EntryStat{}, fmt.Errorf("unable to open APK %s: %w", apk, err)
	}
	defer rc.Close()
	for _, f := range rc.File {
		if f.Name == entry {
			return extract(apk, f, w)
		}
	}
	return EntryStat{}, fmt.Errorf("apk %s: %w: %s", apk, ErrEntryNotFound, entry)
}

func extract(apk string, f *zip.File, w io.Writer) (EntryStat, error) {
	st := EntryStat{Name: f.Name, Compressed: f.Method != zip.Store}
	reader, err := f.Open()
	if err != nil {
		return st, fmt.Errorf("opening apk %s entry %s: %w", apk, f.Name, err)
	}
	defer reader.Close()

	cw := dexio.NewCountingWriter(w)
	_, err = cw.ReadFrom(reader)
	st.Size, st.CRC32 = cw.Size(), cw.CRC32()
	if errors.Is(err, zip.ErrChecksum) {
		return st, fmt.Errorf("apk %s entry %s: %w: computed 0x%08x, directory 0x%08x", apk, f.Name, ErrCRCMismatch, st.CRC32, f.CRC32)
	}
	if err != nil {
		return st, fmt.Errorf("extracting apk %s entry %s: %w", apk, f.Name, err)
	}
	if err := cw.Flush(); err != nil {
		return st, err
	}
	if uint64(st.Size) != f.UncompressedSize64 {
		return st, fmt.Errorf("apk %s entry %s: %w: wrote %d, directory %d", apk, f.Name, ErrSizeMismatch, st.Size, f.UncompressedSize64)
	}
	if f.CRC32 != 0 && st.CRC32 != f.CRC32 {
		return st, fmt.Errorf("apk %s entry %s: %w: computed 0x%08x, directory 0x%08x", apk, f.Name, ErrCRCMismatch, st.CRC32, f.CRC32)
	}
	return st, nil
}
