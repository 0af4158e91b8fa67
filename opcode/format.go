package opcode

import "fmt"

// Format is a Dalvik instruction format tag. The name encodes the layout:
// code units, register count, then the kind of extra data, e.g. 22c is
// two units, two registers and a constant-pool index.
//
// See https://source.android.com/devices/tech/dalvik/instruction-formats
type Format uint8

const (
	Format10x Format = iota
	Format12x
	Format11n
	Format11x
	Format10t
	Format20t
	Format22x
	Format21t
	Format21s
	Format21h
	Format21c
	Format23x
	Format22b
	Format22t
	Format22s
	Format22c
	Format30t
	Format32x
	Format31i
	Format31t
	Format31c
	Format35c
	Format3rc
	Format45cc
	Format4rcc
	Format51l
	FormatPackedSwitchPayload
	FormatSparseSwitchPayload
	FormatArrayPayload
)

type formatInfo struct {
	name  string
	units int
	// bit width of each register operand, in text order
	regs []uint8
}

var formats = [...]formatInfo{
	Format10x:                 {"10x", 1, nil},
	Format12x:                 {"12x", 1, []uint8{4, 4}},
	Format11n:                 {"11n", 1, []uint8{4}},
	Format11x:                 {"11x", 1, []uint8{8}},
	Format10t:                 {"10t", 1, nil},
	Format20t:                 {"20t", 2, nil},
	Format22x:                 {"22x", 2, []uint8{8, 16}},
	Format21t:                 {"21t", 2, []uint8{8}},
	Format21s:                 {"21s", 2, []uint8{8}},
	Format21h:                 {"21h", 2, []uint8{8}},
	Format21c:                 {"21c", 2, []uint8{8}},
	Format23x:                 {"23x", 2, []uint8{8, 8, 8}},
	Format22b:                 {"22b", 2, []uint8{8, 8}},
	Format22t:                 {"22t", 2, []uint8{4, 4}},
	Format22s:                 {"22s", 2, []uint8{4, 4}},
	Format22c:                 {"22c", 2, []uint8{4, 4}},
	Format30t:                 {"30t", 3, nil},
	Format32x:                 {"32x", 3, []uint8{16, 16}},
	Format31i:                 {"31i", 3, []uint8{8}},
	Format31t:                 {"31t", 3, []uint8{8}},
	Format31c:                 {"31c", 3, []uint8{8}},
	Format35c:                 {"35c", 3, []uint8{4, 4, 4, 4, 4}},
	Format3rc:                 {"3rc", 3, []uint8{16}},
	Format45cc:                {"45cc", 4, []uint8{4, 4, 4, 4, 4}},
	Format4rcc:                {"4rcc", 4, []uint8{16}},
	Format51l:                 {"51l", 5, []uint8{8}},
	FormatPackedSwitchPayload: {"packed-switch-payload", 0, nil},
	FormatSparseSwitchPayload: {"sparse-switch-payload", 0, nil},
	FormatArrayPayload:        {"array-payload", 0, nil},
}

func (f Format) String() string {
	if int(f) < len(formats) {
		return formats[f].name
	}
	return fmt.Sprintf("format(%d)", uint8(f))
}

// Units is the fixed size in 16-bit code units; payload formats are
// variable sized and return 0.
func (f Format) Units() int { return formats[f].units }

func (f Format) IsPayload() bool { return f >= FormatPackedSwitchPayload }

// MaxRegisters is the number of register slots the format encodes. For
// the range formats it is 1: the first register, the count is separate.
func (f Format) MaxRegisters() int { return len(formats[f].regs) }

// RegisterBits returns the width in bits of register slot i.
func (f Format) RegisterBits(i int) int { return int(formats[f].regs[i]) }

// IsRange reports the /range formats, whose registers are a contiguous run.
func (f Format) IsRange() bool { return f == Format3rc || f == Format4rcc }

// IsVariadic reports the formats with an explicit register count.
func (f Format) IsVariadic() bool {
	switch f {
	case Format35c, Format3rc, Format45cc, Format4rcc:
		return true
	}
	return false
}
