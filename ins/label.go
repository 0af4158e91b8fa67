package ins

import (
	"fmt"

	"github.com/thanm/go-edit-a-dex/opcode"
)

// LabelKind says why an address is labelled; it picks the label prefix.
type LabelKind int

const (
	LabelGoto LabelKind = iota
	LabelCond
	LabelPackedSwitchData
	LabelSparseSwitchData
	LabelArrayData
	LabelPackedSwitch
	LabelSparseSwitch
	LabelTryStart
	LabelTryEnd
	LabelCatch
	LabelCatchAll
)

var labelPrefixes = [...]string{
	LabelGoto:             "goto",
	LabelCond:             "cond",
	LabelPackedSwitchData: "pswitch_data",
	LabelSparseSwitchData: "sswitch_data",
	LabelArrayData:        "array",
	LabelPackedSwitch:     "pswitch",
	LabelSparseSwitch:     "sswitch",
	LabelTryStart:         "try_start",
	LabelTryEnd:           "try_end",
	LabelCatch:            "catch",
	LabelCatchAll:         "catchall",
}

func (k LabelKind) String() string { return labelPrefixes[k] }

// Name is the label for address addr, without the leading colon.
func (k LabelKind) Name(addr int) string {
	return fmt.Sprintf("%s_%x", labelPrefixes[k], addr)
}

// Extra records one reason an instruction is a branch target. Switch
// cases carry their key, which ends up as a comment on the label.
type Extra struct {
	Kind LabelKind
	Key  int32
	// From is the referring instruction.
	From Handle
}

func (e Extra) isCase() bool {
	return e.Kind == LabelPackedSwitch || e.Kind == LabelSparseSwitch
}

func branchLabel(in *Ins) LabelKind {
	switch in.op.Name {
	case "packed-switch":
		return LabelPackedSwitchData
	case "sparse-switch":
		return LabelSparseSwitchData
	case "fill-array-data":
		return LabelArrayData
	}
	if in.op.Is(opcode.Jump) {
		return LabelGoto
	}
	return LabelCond
}
