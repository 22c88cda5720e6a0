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

import (
	"errors"
	"io"
	"math"
)

var (
	ErrIntRepresentationTooLong = errors.New("integer representation too long")
	ErrIntegerTooLarge          = errors.New("integer too large")
	errUnsupportedVectorOp      = errors.New("unsupported vector instruction")
)

// Instruction is a single decoded WebAssembly instruction together with its
// immediates, still expressed in raw module-relative indexes (block types as
// signed LEB128, branch targets as relative label depths). It is the input
// to the preprocessor, which resolves it into a ProcessedInstr.
type Instruction struct {
	Opcode Opcode

	// BlockType is populated for Block/Loop/If: -0x40 means an empty block
	// type, a negative value in [-0x01, -0x40) encodes a single ValueType
	// (its byte read as a signed LEB128, i.e. the byte minus 0x80), and a
	// non-negative value is a
	// type index into the module's type section.
	BlockType int64

	Idx  uint32
	Idx2 uint32

	MemArg MemArg

	I32  int32
	I64  int64
	F32  float32
	F64  float64
	V128 V128Value

	LabelIndexes []uint32
	DefaultLabel uint32

	SelectTypes []ValueType
}

// Decoder reads a sequence of Instructions out of a raw WebAssembly
// instruction stream (a function body or a constant expression).
type Decoder struct {
	Code []byte
	Pc   int
}

func NewDecoder(code []byte) *Decoder {
	return &Decoder{Code: code}
}

func (d *Decoder) HasMore() bool {
	return d.Pc < len(d.Code)
}

func (d *Decoder) readByte() (byte, error) {
	if d.Pc >= len(d.Code) {
		return 0, io.ErrUnexpectedEOF
	}
	b := d.Code[d.Pc]
	d.Pc++
	return b, nil
}

func (d *Decoder) readUleb32() (uint32, error) {
	v, _, err := readUleb128(d.readByte, 5)
	return uint32(v), err
}

func (d *Decoder) readUleb64() (uint64, error) {
	v, _, err := readUleb128(d.readByte, 10)
	return v, err
}

func (d *Decoder) readSleb32() (int32, error) {
	v, err := readSleb128(d.readByte, 5)
	return int32(int64(v)), err
}

func (d *Decoder) readSleb64() (int64, error) {
	v, err := readSleb128(d.readByte, 10)
	return int64(v), err
}

func (d *Decoder) readMemArg() (MemArg, error) {
	align, err := d.readUleb32()
	if err != nil {
		return MemArg{}, err
	}
	offset, err := d.readUleb32()
	if err != nil {
		return MemArg{}, err
	}
	return MemArg{Align: align, Offset: offset}, nil
}

// Decode reads one instruction starting at d.Pc, advancing d.Pc past it.
func (d *Decoder) Decode() (Instruction, error) {
	opByte, err := d.readByte()
	if err != nil {
		return Instruction{}, err
	}

	if opByte == 0xFC || opByte == 0xFD {
		sub, err := d.readUleb32()
		if err != nil {
			return Instruction{}, err
		}
		prefix := Opcode(opByte) << 8
		return d.decodeBody(prefix | Opcode(sub))
	}

	return d.decodeBody(Opcode(opByte))
}

func (d *Decoder) decodeBody(op Opcode) (Instruction, error) {
	instr := Instruction{Opcode: op}
	switch op {
	case Unreachable, NopOp, End, Else, Return, Drop, Select,
		I32Eqz, I32Eq, I32Ne, I32LtS, I32LtU, I32GtS, I32GtU, I32LeS, I32LeU,
		I32GeS, I32GeU, I64Eqz, I64Eq, I64Ne, I64LtS, I64LtU, I64GtS, I64GtU,
		I64LeS, I64LeU, I64GeS, I64GeU, F32Eq, F32Ne, F32Lt, F32Gt, F32Le, F32Ge,
		F64Eq, F64Ne, F64Lt, F64Gt, F64Le, F64Ge, I32Clz, I32Ctz, I32Popcnt,
		I32Add, I32Sub, I32Mul, I32DivS, I32DivU, I32RemS, I32RemU, I32And,
		I32Or, I32Xor, I32Shl, I32ShrS, I32ShrU, I32Rotl, I32Rotr, I64Clz,
		I64Ctz, I64Popcnt, I64Add, I64Sub, I64Mul, I64DivS, I64DivU, I64RemS,
		I64RemU, I64And, I64Or, I64Xor, I64Shl, I64ShrS, I64ShrU, I64Rotl,
		I64Rotr, F32Abs, F32Neg, F32Ceil, F32Floor, F32Trunc, F32Nearest,
		F32Sqrt, F32Add, F32Sub, F32Mul, F32Div, F32Min, F32Max, F32Copysign,
		F64Abs, F64Neg, F64Ceil, F64Floor, F64Trunc, F64Nearest, F64Sqrt,
		F64Add, F64Sub, F64Mul, F64Div, F64Min, F64Max, F64Copysign,
		I32WrapI64, I32TruncF32S, I32TruncF32U, I32TruncF64S, I32TruncF64U,
		I64ExtendI32S, I64ExtendI32U, I64TruncF32S, I64TruncF32U, I64TruncF64S,
		I64TruncF64U, F32ConvertI32S, F32ConvertI32U, F32ConvertI64S,
		F32ConvertI64U, F32DemoteF64, F64ConvertI32S, F64ConvertI32U,
		F64ConvertI64S, F64ConvertI64U, F64PromoteF32, I32ReinterpretF32,
		I64ReinterpretF64, F32ReinterpretI32, F64ReinterpretI64,
		I32Extend8S, I32Extend16S, I64Extend8S, I64Extend16S, I64Extend32S,
		I32TruncSatF32S, I32TruncSatF32U, I32TruncSatF64S, I32TruncSatF64U,
		I64TruncSatF32S, I64TruncSatF32U, I64TruncSatF64S, I64TruncSatF64U:
		return instr, nil

	case Block, Loop, If:
		bt, err := d.readSleb64()
		if err != nil {
			return instr, err
		}
		instr.BlockType = bt
		return instr, nil

	case Br, BrIf, Call, LocalGet, LocalSet, LocalTee, GlobalGet, GlobalSet,
		TableGet, TableSet, MemoryFill, DataDrop, ElemDrop, TableGrow,
		TableSize, TableFill, RefNull, RefFunc:
		idx, err := d.readUleb32()
		if err != nil {
			return instr, err
		}
		instr.Idx = idx
		return instr, nil

	case MemorySize, MemoryGrow:
		// Reserved byte, must be 0 in the MVP; read and discard it.
		if _, err := d.readUleb32(); err != nil {
			return instr, err
		}
		return instr, nil

	case RefIsNull:
		return instr, nil

	case CallIndirect, MemoryInit, MemoryCopy, TableInit, TableCopy:
		a, err := d.readUleb32()
		if err != nil {
			return instr, err
		}
		b, err := d.readUleb32()
		if err != nil {
			return instr, err
		}
		instr.Idx, instr.Idx2 = a, b
		return instr, nil

	case BrTable:
		count, err := d.readUleb32()
		if err != nil {
			return instr, err
		}
		labels := make([]uint32, count)
		for i := range labels {
			labels[i], err = d.readUleb32()
			if err != nil {
				return instr, err
			}
		}
		def, err := d.readUleb32()
		if err != nil {
			return instr, err
		}
		instr.LabelIndexes = labels
		instr.DefaultLabel = def
		return instr, nil

	case SelectT:
		count, err := d.readUleb32()
		if err != nil {
			return instr, err
		}
		types := make([]ValueType, count)
		for i := range types {
			b, err := d.readByte()
			if err != nil {
				return instr, err
			}
			types[i] = valueTypeFromByte(b)
		}
		instr.SelectTypes = types
		return instr, nil

	case I32Const:
		v, err := d.readSleb32()
		instr.I32 = v
		return instr, err

	case I64Const:
		v, err := d.readSleb64()
		instr.I64 = v
		return instr, err

	case F32Const:
		var bits uint32
		for i := 0; i < 4; i++ {
			b, err := d.readByte()
			if err != nil {
				return instr, err
			}
			bits |= uint32(b) << (8 * i)
		}
		instr.F32 = math.Float32frombits(bits)
		return instr, nil

	case F64Const:
		var bits uint64
		for i := 0; i < 8; i++ {
			b, err := d.readByte()
			if err != nil {
				return instr, err
			}
			bits |= uint64(b) << (8 * i)
		}
		instr.F64 = math.Float64frombits(bits)
		return instr, nil

	case I32Load, I64Load, F32Load, F64Load, I32Load8S, I32Load8U, I32Load16S,
		I32Load16U, I64Load8S, I64Load8U, I64Load16S, I64Load16U, I64Load32S,
		I64Load32U, I32Store, I64Store, F32Store, F64Store, I32Store8,
		I32Store16, I64Store8, I64Store16, I64Store32, V128Load, V128Store:
		ma, err := d.readMemArg()
		instr.MemArg = ma
		return instr, err

	case V128Const:
		var lo, hi uint64
		for i := 0; i < 8; i++ {
			b, err := d.readByte()
			if err != nil {
				return instr, err
			}
			lo |= uint64(b) << (8 * i)
		}
		for i := 0; i < 8; i++ {
			b, err := d.readByte()
			if err != nil {
				return instr, err
			}
			hi |= uint64(b) << (8 * i)
		}
		instr.V128 = V128Value{Low: lo, High: hi}
		return instr, nil

	default:
		return instr, errUnsupportedVectorOp
	}
}

func valueTypeFromByte(b byte) ValueType {
	switch b {
	case byte(I32), byte(I64), byte(F32), byte(F64):
		return NumberType(b)
	case byte(V128):
		return VectorType(b)
	default:
		return ReferenceType(b)
	}
}

// decodeUntilMatchingEnd advances the decoder past the matching End of the
// block that was just opened (the decoder's Pc must point right after the
// opening Block/Loop/If's immediate). Nothing in the package calls it: the
// preprocessor's first pass locates block boundaries with its own control
// stack.
func (d *Decoder) decodeUntilMatchingEnd() error {
	nesting := 1
	for nesting > 0 {
		instr, err := d.Decode()
		if err != nil {
			return err
		}
		switch instr.Opcode {
		case End:
			nesting--
		case Block, Loop, If:
			nesting++
		}
	}
	return nil
}
