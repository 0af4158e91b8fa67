package dex

//
// Package dex holds the blocks of a DEX image: the header, string data,
// code items, class data, annotation directories and encoded values.
// See
//
//   https://source.android.com/devices/tech/dalvik/dex-format.html
//
// for the layout of each item.
//

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/adler32"

	"github.com/thanm/go-edit-a-dex/block"
	"github.com/thanm/go-edit-a-dex/dexio"
)

const (
	// https://source.android.com/devices/tech/dalvik/dex-format.html#endian-constant
	EndianConstant        = 0x12345678
	ReverseEndianConstant = 0x78563412
	HeaderSize            = 0x70
	ClassDefSize          = 32
	NoIndex               = 0xffffffff

	// offsets of the fields the checksums cover
	checksumOff  = 8
	signatureOff = 12
	fileSizeOff  = 32
)

var (
	MagicBytes     = []byte{'d', 'e', 'x', '\n'}
	DefaultVersion = 35
	MinVersion     = 35
	MaxVersion     = 39

	ErrChecksum  = errors.New("dex checksum mismatch")
	ErrSignature = errors.New("dex signature mismatch")
)

// Section is a size/offset pair from the header.
type Section struct {
	Size   *block.IntegerItem
	Offset *block.IntegerItem
}

func newSection() Section {
	return Section{Size: block.NewIntegerItem(), Offset: block.NewIntegerItem()}
}

func (s Section) Count() int { return int(s.Size.U32()) }
func (s Section) Off() int   { return int(s.Offset.U32()) }

// Header is the header_item.
type Header struct {
	block.Composite
	Magic      *block.Signature
	Version    *block.ByteArray
	Checksum   *block.IntegerItem
	Signature  *block.ByteArray
	FileSize   *block.IntegerItem
	HeaderSize *block.IntegerItem
	EndianTag  *block.IntegerItem
	Link       Section
	MapOff     *block.IntegerItem
	StringIDs  Section
	TypeIDs    Section
	ProtoIDs   Section
	FieldIDs   Section
	MethodIDs  Section
	ClassDefs  Section
	Data       Section
}

// NewHeader returns a header for an empty version 035 file.
func NewHeader() *Header {
	h := &Header{
		Magic:      block.NewSignature("dex magic", MagicBytes),
		Version:    block.NewByteArray(4),
		Checksum:   block.NewIntegerItem(),
		Signature:  block.NewByteArray(sha1.Size),
		FileSize:   block.NewIntegerItem(),
		HeaderSize: block.NewIntegerItem(),
		EndianTag:  block.NewIntegerItem(),
		Link:       newSection(),
		MapOff:     block.NewIntegerItem(),
		StringIDs:  newSection(),
		TypeIDs:    newSection(),
		ProtoIDs:   newSection(),
		FieldIDs:   newSection(),
		MethodIDs:  newSection(),
		ClassDefs:  newSection(),
		Data:       newSection(),
	}
	h.SetVersion(DefaultVersion)
	h.FileSize.Set(HeaderSize)
	h.HeaderSize.Set(HeaderSize)
	h.EndianTag.SetU32(EndianConstant)
	h.Init(h, h.Magic, h.Version, h.Checksum, h.Signature, h.FileSize, h.HeaderSize,
		h.EndianTag, h.Link.Size, h.Link.Offset, h.MapOff)
	for _, s := range h.Sections() {
		h.Append(h, s.Size)
		h.Append(h, s.Offset)
	}
	return h
}

// Sections returns the id and data sections in header order.
func (h *Header) Sections() []Section {
	return []Section{h.StringIDs, h.TypeIDs, h.ProtoIDs, h.FieldIDs, h.MethodIDs, h.ClassDefs, h.Data}
}

// DisableVerification lets files with a foreign magic or version through;
// the mismatch is still reported by IsValid.
func (h *Header) DisableVerification(disable bool) { h.Magic.DisableVerification(disable) }

func (h *Header) IsValid() bool {
	_, err := h.versionNumber()
	return h.Magic.IsValid() && err == nil
}

func (h *Header) versionNumber() (int, error) {
	v := h.Version.Get()
	if len(v) != 4 || v[3] != 0 {
		return 0, fmt.Errorf("version %q", v)
	}
	n := 0
	for _, c := range v[:3] {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("version %q", v)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// VersionNumber returns the format version, e.g. 35 for "035", or 0 if
// the version bytes are not three digits and a NUL.
func (h *Header) VersionNumber() int {
	n, _ := h.versionNumber()
	return n
}

func (h *Header) SetVersion(n int) {
	h.Version.Set([]byte(fmt.Sprintf("%03d\x00", n%1000)))
}

func (h *Header) Decode(r *dexio.Reader) error {
	off := r.Position()
	if err := h.Composite.Decode(r); err != nil {
		return err
	}
	if h.Magic.IsVerificationDisabled() {
		return nil
	}
	n, err := h.versionNumber()
	if err != nil {
		return dexio.Formatf("dex header", off+4, "%v", err)
	}
	if n < MinVersion || n > MaxVersion {
		return dexio.Formatf("dex header", off+4, "unsupported version %03d", n)
	}
	switch h.EndianTag.U32() {
	case EndianConstant:
	case ReverseEndianConstant:
		return dexio.Formatf("dex header", off+40, "big-endian files are not supported")
	default:
		return dexio.Formatf("dex header", off+40, "endian tag 0x%08x", h.EndianTag.U32())
	}
	return nil
}

// ComputeChecksum is the Adler-32 of everything after the checksum field.
func ComputeChecksum(file []byte) uint32 {
	return adler32.Checksum(file[signatureOff:])
}

// ComputeSignature is the SHA-1 of everything after the signature field.
func ComputeSignature(file []byte) [sha1.Size]byte {
	return sha1.Sum(file[fileSizeOff:])
}

func checkSize(file []byte) error {
	if len(file) < HeaderSize {
		return dexio.Formatf("dex header", 0, "file of %d bytes is shorter than a header", len(file))
	}
	return nil
}

// Seal recomputes the signature and then the checksum of a serialized
// file, storing them both in file and in h.
func (h *Header) Seal(file []byte) error {
	if err := checkSize(file); err != nil {
		return err
	}
	sig := ComputeSignature(file)
	copy(file[signatureOff:], sig[:])
	h.Signature.Set(sig[:])
	sum := ComputeChecksum(file)
	binary.LittleEndian.PutUint32(file[checksumOff:], sum)
	h.Checksum.SetU32(sum)
	return nil
}

// Verify checks the stored checksum and signature of a serialized file.
func Verify(file []byte) error {
	if err := checkSize(file); err != nil {
		return err
	}
	if got, want := binary.LittleEndian.Uint32(file[checksumOff:]), ComputeChecksum(file); got != want {
		return fmt.Errorf("%w: stored 0x%08x, computed 0x%08x", ErrChecksum, got, want)
	}
	sig := ComputeSignature(file)
	if !bytes.Equal(file[signatureOff:fileSizeOff], sig[:]) {
		return fmt.Errorf("%w: stored %x, computed %x", ErrSignature, file[signatureOff:fileSizeOff], sig)
	}
	return nil
}

// SignatureHex is the stored SHA-1 signature in hex, the form listings
// print.
func (h *Header) SignatureHex() string { return fmt.Sprintf("%x", h.Signature.Get()) }
