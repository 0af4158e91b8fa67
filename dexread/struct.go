package dexread

//
// Fixed-size id items, read with encoding/binary. Upper case fields are
// intentional (to allow filling in the contents of these structs via
// reflection). The header and the variable-length items are blocks from
// package dex.
//

type dexClassHeader struct {
	// https://source.android.com/devices/tech/dalvik/dex-format.html#class-def-item
	ClassIdx        uint32
	AccessFlags     uint32
	SuperClassIdx   uint32
	InterfacesOff   uint32
	SourceFileIdx   uint32
	AnnotationsOff  uint32
	ClassDataOff    uint32
	StaticValuesOff uint32
}

type dexProtoIdItem struct {
	ShortyIdx     uint32
	ReturnTypeIdx uint32
	ParametersOff uint32
}

type dexFieldIdItem struct {
	ClassIdx uint16
	TypeIdx  uint16
	NameIdx  uint32
}

type dexMethodIdItem struct {
	ClassIdx uint16
	ProtoIdx uint16
	NameIdx  uint32
}
