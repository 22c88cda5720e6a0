// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chiwawa

// Opcode identifies a single WebAssembly instruction as it appears in the
// binary format. Opcodes above 0xFF are extended opcodes: the high byte is
// the binary format's prefix byte (0xFC for numeric/bulk-memory extensions,
// 0xFD for the narrow vector extension chiwawa supports) and the low byte is
// the ULEB128-encoded sub-opcode index, which for every extended opcode
// chiwawa implements happens to fit a single byte.
type Opcode uint16

const (
	Unreachable  Opcode = 0x00
	NopOp        Opcode = 0x01
	Block        Opcode = 0x02
	Loop         Opcode = 0x03
	If           Opcode = 0x04
	Else         Opcode = 0x05
	End          Opcode = 0x0B
	Br           Opcode = 0x0C
	BrIf         Opcode = 0x0D
	BrTable      Opcode = 0x0E
	Return       Opcode = 0x0F
	Call         Opcode = 0x10
	CallIndirect Opcode = 0x11

	Drop     Opcode = 0x1A
	Select   Opcode = 0x1B
	SelectT  Opcode = 0x1C
	LocalGet Opcode = 0x20
	LocalSet Opcode = 0x21
	LocalTee Opcode = 0x22

	GlobalGet Opcode = 0x23
	GlobalSet Opcode = 0x24
	TableGet  Opcode = 0x25
	TableSet  Opcode = 0x26

	I32Load    Opcode = 0x28
	I64Load    Opcode = 0x29
	F32Load    Opcode = 0x2A
	F64Load    Opcode = 0x2B
	I32Load8S  Opcode = 0x2C
	I32Load8U  Opcode = 0x2D
	I32Load16S Opcode = 0x2E
	I32Load16U Opcode = 0x2F
	I64Load8S  Opcode = 0x30
	I64Load8U  Opcode = 0x31
	I64Load16S Opcode = 0x32
	I64Load16U Opcode = 0x33
	I64Load32S Opcode = 0x34
	I64Load32U Opcode = 0x35
	I32Store   Opcode = 0x36
	I64Store   Opcode = 0x37
	F32Store   Opcode = 0x38
	F64Store   Opcode = 0x39
	I32Store8  Opcode = 0x3A
	I32Store16 Opcode = 0x3B
	I64Store8  Opcode = 0x3C
	I64Store16 Opcode = 0x3D
	I64Store32 Opcode = 0x3E
	MemorySize Opcode = 0x3F
	MemoryGrow Opcode = 0x40

	I32Const Opcode = 0x41
	I64Const Opcode = 0x42
	F32Const Opcode = 0x43
	F64Const Opcode = 0x44

	I32Eqz Opcode = 0x45
	I32Eq  Opcode = 0x46
	I32Ne  Opcode = 0x47
	I32LtS Opcode = 0x48
	I32LtU Opcode = 0x49
	I32GtS Opcode = 0x4A
	I32GtU Opcode = 0x4B
	I32LeS Opcode = 0x4C
	I32LeU Opcode = 0x4D
	I32GeS Opcode = 0x4E
	I32GeU Opcode = 0x4F

	I64Eqz Opcode = 0x50
	I64Eq  Opcode = 0x51
	I64Ne  Opcode = 0x52
	I64LtS Opcode = 0x53
	I64LtU Opcode = 0x54
	I64GtS Opcode = 0x55
	I64GtU Opcode = 0x56
	I64LeS Opcode = 0x57
	I64LeU Opcode = 0x58
	I64GeS Opcode = 0x59
	I64GeU Opcode = 0x5A

	F32Eq Opcode = 0x5B
	F32Ne Opcode = 0x5C
	F32Lt Opcode = 0x5D
	F32Gt Opcode = 0x5E
	F32Le Opcode = 0x5F
	F32Ge Opcode = 0x60

	F64Eq Opcode = 0x61
	F64Ne Opcode = 0x62
	F64Lt Opcode = 0x63
	F64Gt Opcode = 0x64
	F64Le Opcode = 0x65
	F64Ge Opcode = 0x66

	I32Clz    Opcode = 0x67
	I32Ctz    Opcode = 0x68
	I32Popcnt Opcode = 0x69
	I32Add    Opcode = 0x6A
	I32Sub    Opcode = 0x6B
	I32Mul    Opcode = 0x6C
	I32DivS   Opcode = 0x6D
	I32DivU   Opcode = 0x6E
	I32RemS   Opcode = 0x6F
	I32RemU   Opcode = 0x70
	I32And    Opcode = 0x71
	I32Or     Opcode = 0x72
	I32Xor    Opcode = 0x73
	I32Shl    Opcode = 0x74
	I32ShrS   Opcode = 0x75
	I32ShrU   Opcode = 0x76
	I32Rotl   Opcode = 0x77
	I32Rotr   Opcode = 0x78

	I64Clz    Opcode = 0x79
	I64Ctz    Opcode = 0x7A
	I64Popcnt Opcode = 0x7B
	I64Add    Opcode = 0x7C
	I64Sub    Opcode = 0x7D
	I64Mul    Opcode = 0x7E
	I64DivS   Opcode = 0x7F
	I64DivU   Opcode = 0x80
	I64RemS   Opcode = 0x81
	I64RemU   Opcode = 0x82
	I64And    Opcode = 0x83
	I64Or     Opcode = 0x84
	I64Xor    Opcode = 0x85
	I64Shl    Opcode = 0x86
	I64ShrS   Opcode = 0x87
	I64ShrU   Opcode = 0x88
	I64Rotl   Opcode = 0x89
	I64Rotr   Opcode = 0x8A

	F32Abs      Opcode = 0x8B
	F32Neg      Opcode = 0x8C
	F32Ceil     Opcode = 0x8D
	F32Floor    Opcode = 0x8E
	F32Trunc    Opcode = 0x8F
	F32Nearest  Opcode = 0x90
	F32Sqrt     Opcode = 0x91
	F32Add      Opcode = 0x92
	F32Sub      Opcode = 0x93
	F32Mul      Opcode = 0x94
	F32Div      Opcode = 0x95
	F32Min      Opcode = 0x96
	F32Max      Opcode = 0x97
	F32Copysign Opcode = 0x98

	F64Abs      Opcode = 0x99
	F64Neg      Opcode = 0x9A
	F64Ceil     Opcode = 0x9B
	F64Floor    Opcode = 0x9C
	F64Trunc    Opcode = 0x9D
	F64Nearest  Opcode = 0x9E
	F64Sqrt     Opcode = 0x9F
	F64Add      Opcode = 0xA0
	F64Sub      Opcode = 0xA1
	F64Mul      Opcode = 0xA2
	F64Div      Opcode = 0xA3
	F64Min      Opcode = 0xA4
	F64Max      Opcode = 0xA5
	F64Copysign Opcode = 0xA6

	I32WrapI64      Opcode = 0xA7
	I32TruncF32S    Opcode = 0xA8
	I32TruncF32U    Opcode = 0xA9
	I32TruncF64S    Opcode = 0xAA
	I32TruncF64U    Opcode = 0xAB
	I64ExtendI32S   Opcode = 0xAC
	I64ExtendI32U   Opcode = 0xAD
	I64TruncF32S    Opcode = 0xAE
	I64TruncF32U    Opcode = 0xAF
	I64TruncF64S    Opcode = 0xB0
	I64TruncF64U    Opcode = 0xB1
	F32ConvertI32S  Opcode = 0xB2
	F32ConvertI32U  Opcode = 0xB3
	F32ConvertI64S  Opcode = 0xB4
	F32ConvertI64U  Opcode = 0xB5
	F32DemoteF64    Opcode = 0xB6
	F64ConvertI32S  Opcode = 0xB7
	F64ConvertI32U  Opcode = 0xB8
	F64ConvertI64S  Opcode = 0xB9
	F64ConvertI64U  Opcode = 0xBA
	F64PromoteF32   Opcode = 0xBB
	I32ReinterpretF32 Opcode = 0xBC
	I64ReinterpretF64 Opcode = 0xBD
	F32ReinterpretI32 Opcode = 0xBE
	F64ReinterpretI64 Opcode = 0xBF

	I32Extend8S  Opcode = 0xC0
	I32Extend16S Opcode = 0xC1
	I64Extend8S  Opcode = 0xC2
	I64Extend16S Opcode = 0xC3
	I64Extend32S Opcode = 0xC4

	RefNull   Opcode = 0xD0
	RefIsNull Opcode = 0xD1
	RefFunc   Opcode = 0xD2
)

// Extended opcodes, prefixed by 0xFC in the binary format.
const (
	miscPrefix Opcode = 0xFC00

	I32TruncSatF32S Opcode = miscPrefix | 0
	I32TruncSatF32U Opcode = miscPrefix | 1
	I32TruncSatF64S Opcode = miscPrefix | 2
	I32TruncSatF64U Opcode = miscPrefix | 3
	I64TruncSatF32S Opcode = miscPrefix | 4
	I64TruncSatF32U Opcode = miscPrefix | 5
	I64TruncSatF64S Opcode = miscPrefix | 6
	I64TruncSatF64U Opcode = miscPrefix | 7
	MemoryInit      Opcode = miscPrefix | 8
	DataDrop        Opcode = miscPrefix | 9
	MemoryCopy      Opcode = miscPrefix | 10
	MemoryFill      Opcode = miscPrefix | 11
	TableInit       Opcode = miscPrefix | 12
	ElemDrop        Opcode = miscPrefix | 13
	TableCopy       Opcode = miscPrefix | 14
	TableGrow       Opcode = miscPrefix | 15
	TableSize       Opcode = miscPrefix | 16
	TableFill       Opcode = miscPrefix | 17
)

// Extended opcodes, prefixed by 0xFD in the binary format. Chiwawa only
// decodes the lane-less subset needed to move a V128Value in and out of
// the opaque 128-bit slot; any other vector sub-opcode is rejected by the
// decoder (see decoder.go), since lane arithmetic is out of scope.
const (
	vecPrefix Opcode = 0xFD00

	V128Load  Opcode = vecPrefix | 0
	V128Store Opcode = vecPrefix | 11
	V128Const Opcode = vecPrefix | 12
)

// opcodeNames is used only for diagnostics (error messages, tracing).
var opcodeNames = map[Opcode]string{
	Unreachable: "unreachable", NopOp: "nop", Block: "block", Loop: "loop",
	If: "if", Else: "else", End: "end", Br: "br", BrIf: "br_if",
	BrTable: "br_table", Return: "return", Call: "call",
	CallIndirect: "call_indirect", Drop: "drop", Select: "select",
	SelectT: "select_t", LocalGet: "local.get", LocalSet: "local.set",
	LocalTee: "local.tee", GlobalGet: "global.get", GlobalSet: "global.set",
	TableGet: "table.get", TableSet: "table.set", MemorySize: "memory.size",
	MemoryGrow: "memory.grow", I32Const: "i32.const", I64Const: "i64.const",
	F32Const: "f32.const", F64Const: "f64.const", RefNull: "ref.null",
	RefIsNull: "ref.is_null", RefFunc: "ref.func", MemoryInit: "memory.init",
	DataDrop: "data.drop", MemoryCopy: "memory.copy", MemoryFill: "memory.fill",
	TableInit: "table.init", ElemDrop: "elem.drop", TableCopy: "table.copy",
	TableGrow: "table.grow", TableSize: "table.size", TableFill: "table.fill",
	V128Load: "v128.load", V128Store: "v128.store", V128Const: "v128.const",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "opcode(0x" + hexByte(uint16(op)) + ")"
}

func hexByte(v uint16) string {
	const digits = "0123456789abcdef"
	if v <= 0xFF {
		return string([]byte{digits[(v>>4)&0xF], digits[v&0xF]})
	}
	return string([]byte{
		digits[(v>>12)&0xF], digits[(v>>8)&0xF],
		digits[(v>>4)&0xF], digits[v&0xF],
	})
}

// isBlockLike reports whether op opens a nested control-flow region that a
// matching End closes.
func isBlockLike(op Opcode) bool {
	return op == Block || op == Loop || op == If
}

// MemArg is the alignment/offset pair carried by every load and store
// instruction.
type MemArg struct {
	Align  uint32
	Offset uint32
}
