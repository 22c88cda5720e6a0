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

// registerComparisonHandlers wires every comparison opcode to numeric.go's
// generic comparison helpers through the mkBinary combinator.
func registerComparisonHandlers() {
	registerHandler(I32Eqz, mkUnary(func(a value) value { return i32(boolToInt32(a.int32() == 0)) }))
	registerHandler(I32Eq, mkBinary(u32Bool(equal[int32])))
	registerHandler(I32Ne, mkBinary(u32Bool(notEqual[int32])))
	registerHandler(I32LtS, mkBinary(u32Bool(lessThan[int32])))
	registerHandler(I32LtU, mkBinary(u32Bool(lessThanU32)))
	registerHandler(I32GtS, mkBinary(u32Bool(greaterThan[int32])))
	registerHandler(I32GtU, mkBinary(u32Bool(greaterThanU32)))
	registerHandler(I32LeS, mkBinary(u32Bool(lessOrEqual[int32])))
	registerHandler(I32LeU, mkBinary(u32Bool(lessOrEqualU32)))
	registerHandler(I32GeS, mkBinary(u32Bool(greaterOrEqual[int32])))
	registerHandler(I32GeU, mkBinary(u32Bool(greaterOrEqualU32)))

	registerHandler(I64Eqz, mkUnary(func(a value) value { return i32(boolToInt32(a.int64() == 0)) }))
	registerHandler(I64Eq, mkBinary(u64Bool(equal[int64])))
	registerHandler(I64Ne, mkBinary(u64Bool(notEqual[int64])))
	registerHandler(I64LtS, mkBinary(u64Bool(lessThan[int64])))
	registerHandler(I64LtU, mkBinary(u64Bool(lessThanU64)))
	registerHandler(I64GtS, mkBinary(u64Bool(greaterThan[int64])))
	registerHandler(I64GtU, mkBinary(u64Bool(greaterThanU64)))
	registerHandler(I64LeS, mkBinary(u64Bool(lessOrEqual[int64])))
	registerHandler(I64LeU, mkBinary(u64Bool(lessOrEqualU64)))
	registerHandler(I64GeS, mkBinary(u64Bool(greaterOrEqual[int64])))
	registerHandler(I64GeU, mkBinary(u64Bool(greaterOrEqualU64)))

	registerHandler(F32Eq, mkBinary(f32Bool(equal[float32])))
	registerHandler(F32Ne, mkBinary(f32Bool(notEqual[float32])))
	registerHandler(F32Lt, mkBinary(f32Bool(lessThan[float32])))
	registerHandler(F32Gt, mkBinary(f32Bool(greaterThan[float32])))
	registerHandler(F32Le, mkBinary(f32Bool(lessOrEqual[float32])))
	registerHandler(F32Ge, mkBinary(f32Bool(greaterOrEqual[float32])))

	registerHandler(F64Eq, mkBinary(f64Bool(equal[float64])))
	registerHandler(F64Ne, mkBinary(f64Bool(notEqual[float64])))
	registerHandler(F64Lt, mkBinary(f64Bool(lessThan[float64])))
	registerHandler(F64Gt, mkBinary(f64Bool(greaterThan[float64])))
	registerHandler(F64Le, mkBinary(f64Bool(lessOrEqual[float64])))
	registerHandler(F64Ge, mkBinary(f64Bool(greaterOrEqual[float64])))
}

func registerArithmeticHandlers() {
	registerHandler(I32Clz, mkUnary(i32un(clz32)))
	registerHandler(I32Ctz, mkUnary(i32un(ctz32)))
	registerHandler(I32Popcnt, mkUnary(i32un(popcnt32)))
	registerHandler(I32Add, mkBinary(u32u(add[int32])))
	registerHandler(I32Sub, mkBinary(u32u(sub[int32])))
	registerHandler(I32Mul, mkBinary(u32u(mul[int32])))
	registerHandler(I32DivS, mkBinaryErr("i32.div_s", u32uErr(divS32)))
	registerHandler(I32DivU, mkBinaryErr("i32.div_u", u32uErr(divU32)))
	registerHandler(I32RemS, mkBinaryErr("i32.rem_s", u32uErr(remS32)))
	registerHandler(I32RemU, mkBinaryErr("i32.rem_u", u32uErr(remU32)))
	registerHandler(I32And, mkBinary(u32u(and[int32])))
	registerHandler(I32Or, mkBinary(u32u(or[int32])))
	registerHandler(I32Xor, mkBinary(u32u(xor[int32])))
	registerHandler(I32Shl, mkBinary(u32u(shl32)))
	registerHandler(I32ShrS, mkBinary(u32u(shrS32)))
	registerHandler(I32ShrU, mkBinary(u32u(shrU32)))
	registerHandler(I32Rotl, mkBinary(u32u(rotl32)))
	registerHandler(I32Rotr, mkBinary(u32u(rotr32)))

	registerHandler(I64Clz, mkUnary(i64un(clz64)))
	registerHandler(I64Ctz, mkUnary(i64un(ctz64)))
	registerHandler(I64Popcnt, mkUnary(i64un(popcnt64)))
	registerHandler(I64Add, mkBinary(u64u(add[int64])))
	registerHandler(I64Sub, mkBinary(u64u(sub[int64])))
	registerHandler(I64Mul, mkBinary(u64u(mul[int64])))
	registerHandler(I64DivS, mkBinaryErr("i64.div_s", u64uErr(divS64)))
	registerHandler(I64DivU, mkBinaryErr("i64.div_u", u64uErr(divU64)))
	registerHandler(I64RemS, mkBinaryErr("i64.rem_s", u64uErr(remS64)))
	registerHandler(I64RemU, mkBinaryErr("i64.rem_u", u64uErr(remU64)))
	registerHandler(I64And, mkBinary(u64u(and[int64])))
	registerHandler(I64Or, mkBinary(u64u(or[int64])))
	registerHandler(I64Xor, mkBinary(u64u(xor[int64])))
	registerHandler(I64Shl, mkBinary(u64u(shl64)))
	registerHandler(I64ShrS, mkBinary(u64u(shrS64)))
	registerHandler(I64ShrU, mkBinary(u64u(shrU64)))
	registerHandler(I64Rotl, mkBinary(u64u(rotl64)))
	registerHandler(I64Rotr, mkBinary(u64u(rotr64)))

	registerHandler(F32Abs, mkUnary(f32un(abs[float32])))
	registerHandler(F32Neg, mkUnary(f32un(func(a float32) float32 { return -a })))
	registerHandler(F32Ceil, mkUnary(f32un(ceil[float32])))
	registerHandler(F32Floor, mkUnary(f32un(floor[float32])))
	registerHandler(F32Trunc, mkUnary(f32un(trunc[float32])))
	registerHandler(F32Nearest, mkUnary(f32un(nearest[float32])))
	registerHandler(F32Sqrt, mkUnary(f32un(sqrt[float32])))
	registerHandler(F32Add, mkBinary(f32u(add[float32])))
	registerHandler(F32Sub, mkBinary(f32u(sub[float32])))
	registerHandler(F32Mul, mkBinary(f32u(mul[float32])))
	registerHandler(F32Div, mkBinary(f32u(div[float32])))
	registerHandler(F32Min, mkBinary(f32u(wasmMin[float32])))
	registerHandler(F32Max, mkBinary(f32u(wasmMax[float32])))
	registerHandler(F32Copysign, mkBinary(f32u(copysign[float32])))

	registerHandler(F64Abs, mkUnary(f64un(abs[float64])))
	registerHandler(F64Neg, mkUnary(f64un(func(a float64) float64 { return -a })))
	registerHandler(F64Ceil, mkUnary(f64un(ceil[float64])))
	registerHandler(F64Floor, mkUnary(f64un(floor[float64])))
	registerHandler(F64Trunc, mkUnary(f64un(trunc[float64])))
	registerHandler(F64Nearest, mkUnary(f64un(nearest[float64])))
	registerHandler(F64Sqrt, mkUnary(f64un(sqrt[float64])))
	registerHandler(F64Add, mkBinary(f64u(add[float64])))
	registerHandler(F64Sub, mkBinary(f64u(sub[float64])))
	registerHandler(F64Mul, mkBinary(f64u(mul[float64])))
	registerHandler(F64Div, mkBinary(f64u(div[float64])))
	registerHandler(F64Min, mkBinary(f64u(wasmMin[float64])))
	registerHandler(F64Max, mkBinary(f64u(wasmMax[float64])))
	registerHandler(F64Copysign, mkBinary(f64u(copysign[float64])))
}

func i32To(f func(int32) (int32, error)) func(value) (value, error) {
	return func(a value) (value, error) { r, err := f(a.int32()); return i32(r), err }
}
func i32To64(f func(int32) (int64, error)) func(value) (value, error) {
	return func(a value) (value, error) { r, err := f(a.int32()); return i64(r), err }
}
func i64To32(f func(int64) (int32, error)) func(value) (value, error) {
	return func(a value) (value, error) { r, err := f(a.int64()); return i32(r), err }
}
func i64To(f func(int64) (int64, error)) func(value) (value, error) {
	return func(a value) (value, error) { r, err := f(a.int64()); return i64(r), err }
}
func f32ToI32(f func(float32) (int32, error)) func(value) (value, error) {
	return func(a value) (value, error) { r, err := f(a.float32()); return i32(r), err }
}
func f32ToI64(f func(float32) (int64, error)) func(value) (value, error) {
	return func(a value) (value, error) { r, err := f(a.float32()); return i64(r), err }
}
func f64ToI32(f func(float64) (int32, error)) func(value) (value, error) {
	return func(a value) (value, error) { r, err := f(a.float64()); return i32(r), err }
}
func f64ToI64(f func(float64) (int64, error)) func(value) (value, error) {
	return func(a value) (value, error) { r, err := f(a.float64()); return i64(r), err }
}

func registerConversionHandlers() {
	registerHandler(I32WrapI64, mkUnaryErr("i32.wrap_i64", i64To32(func(a int64) (int32, error) { return wrapI64ToI32(a), nil })))
	registerHandler(I32TruncF32S, mkUnaryErr("i32.trunc_f32_s", f32ToI32(truncF32SToI32)))
	registerHandler(I32TruncF32U, mkUnaryErr("i32.trunc_f32_u", f32ToI32(truncF32UToI32)))
	registerHandler(I32TruncF64S, mkUnaryErr("i32.trunc_f64_s", f64ToI32(truncF64SToI32)))
	registerHandler(I32TruncF64U, mkUnaryErr("i32.trunc_f64_u", f64ToI32(truncF64UToI32)))
	registerHandler(I64ExtendI32S, mkUnaryErr("i64.extend_i32_s", i32To64(func(a int32) (int64, error) { return extendI32SToI64(a), nil })))
	registerHandler(I64ExtendI32U, mkUnaryErr("i64.extend_i32_u", i32To64(func(a int32) (int64, error) { return extendI32UToI64(a), nil })))
	registerHandler(I64TruncF32S, mkUnaryErr("i64.trunc_f32_s", f32ToI64(truncF32SToI64)))
	registerHandler(I64TruncF32U, mkUnaryErr("i64.trunc_f32_u", f32ToI64(truncF32UToI64)))
	registerHandler(I64TruncF64S, mkUnaryErr("i64.trunc_f64_s", f64ToI64(truncF64SToI64)))
	registerHandler(I64TruncF64U, mkUnaryErr("i64.trunc_f64_u", f64ToI64(truncF64UToI64)))

	registerHandler(F32ConvertI32S, mkUnary(func(a value) value { return f32(convertI32SToF32(a.int32())) }))
	registerHandler(F32ConvertI32U, mkUnary(func(a value) value { return f32(convertI32UToF32(a.int32())) }))
	registerHandler(F32ConvertI64S, mkUnary(func(a value) value { return f32(convertI64SToF32(a.int64())) }))
	registerHandler(F32ConvertI64U, mkUnary(func(a value) value { return f32(convertI64UToF32(a.int64())) }))
	registerHandler(F32DemoteF64, mkUnary(func(a value) value { return f32(demoteF64ToF32(a.float64())) }))
	registerHandler(F64ConvertI32S, mkUnary(func(a value) value { return f64(convertI32SToF64(a.int32())) }))
	registerHandler(F64ConvertI32U, mkUnary(func(a value) value { return f64(convertI32UToF64(a.int32())) }))
	registerHandler(F64ConvertI64S, mkUnary(func(a value) value { return f64(convertI64SToF64(a.int64())) }))
	registerHandler(F64ConvertI64U, mkUnary(func(a value) value { return f64(convertI64UToF64(a.int64())) }))
	registerHandler(F64PromoteF32, mkUnary(func(a value) value { return f64(promoteF32ToF64(a.float32())) }))

	registerHandler(I32ReinterpretF32, mkUnary(func(a value) value { return i32(reinterpretF32ToI32(a.float32())) }))
	registerHandler(I64ReinterpretF64, mkUnary(func(a value) value { return i64(reinterpretF64ToI64(a.float64())) }))
	registerHandler(F32ReinterpretI32, mkUnary(func(a value) value { return f32(reinterpretI32ToF32(a.int32())) }))
	registerHandler(F64ReinterpretI64, mkUnary(func(a value) value { return f64(reinterpretI64ToF64(a.int64())) }))

	registerHandler(I32Extend8S, mkUnary(i32un(extend8STo32)))
	registerHandler(I32Extend16S, mkUnary(i32un(extend16STo32)))
	registerHandler(I64Extend8S, mkUnary(i64un(extend8STo64)))
	registerHandler(I64Extend16S, mkUnary(i64un(extend16STo64)))
	registerHandler(I64Extend32S, mkUnary(i64un(extend32STo64)))

	registerHandler(I32TruncSatF32S, mkUnary(func(a value) value { return i32(truncSatF32SToI32(a.float32())) }))
	registerHandler(I32TruncSatF32U, mkUnary(func(a value) value { return i32(truncSatF32UToI32(a.float32())) }))
	registerHandler(I32TruncSatF64S, mkUnary(func(a value) value { return i32(truncSatF64SToI32(a.float64())) }))
	registerHandler(I32TruncSatF64U, mkUnary(func(a value) value { return i32(truncSatF64UToI32(a.float64())) }))
	registerHandler(I64TruncSatF32S, mkUnary(func(a value) value { return i64(truncSatF32SToI64(a.float32())) }))
	registerHandler(I64TruncSatF32U, mkUnary(func(a value) value { return i64(truncSatF32UToI64(a.float32())) }))
	registerHandler(I64TruncSatF64S, mkUnary(func(a value) value { return i64(truncSatF64SToI64(a.float64())) }))
	registerHandler(I64TruncSatF64U, mkUnary(func(a value) value { return i64(truncSatF64UToI64(a.float64())) }))
}

// loadOp reads a value of the given width from linear memory, sign/zero
// extending it as the opcode requires.
type loadOp struct {
	size    uint32
	extract func([]byte) value
}

func registerLoadStoreHandlers() {
	loads := map[Opcode]loadOp{
		I32Load:    {4, func(b []byte) value { return i32(int32(leU32(b))) }},
		I64Load:    {8, func(b []byte) value { return i64(int64(leU64(b))) }},
		F32Load:    {4, func(b []byte) value { return f32(bitsToF32(leU32(b))) }},
		F64Load:    {8, func(b []byte) value { return f64(bitsToF64(leU64(b))) }},
		I32Load8S:  {1, func(b []byte) value { return i32(signExtend8To32(b[0])) }},
		I32Load8U:  {1, func(b []byte) value { return i32(zeroExtend8To32(b[0])) }},
		I32Load16S: {2, func(b []byte) value { return i32(signExtend16To32(leU16(b))) }},
		I32Load16U: {2, func(b []byte) value { return i32(zeroExtend16To32(leU16(b))) }},
		I64Load8S:  {1, func(b []byte) value { return i64(signExtend8To64(b[0])) }},
		I64Load8U:  {1, func(b []byte) value { return i64(zeroExtend8To64(b[0])) }},
		I64Load16S: {2, func(b []byte) value { return i64(signExtend16To64(leU16(b))) }},
		I64Load16U: {2, func(b []byte) value { return i64(zeroExtend16To64(leU16(b))) }},
		I64Load32S: {4, func(b []byte) value { return i64(signExtend32To64(leU32(b))) }},
		I64Load32U: {4, func(b []byte) value { return i64(zeroExtend32To64(leU32(b))) }},
	}
	for op, l := range loads {
		l := l
		registerHandler(op, func(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
			mem := vm.store.memories[act.frame.Module.MemAddrs[0]]
			addr := readUnary(vm, act, operand)
			bytes, err := mem.Get(operand.MemArg.Offset, uint32(addr.int32()), l.size)
			if err != nil {
				return handlerOutcome{}, newTrap("memory access out of bounds", err)
			}
			writeResult(vm, act, operand, l.extract(bytes))
			return cont(act.ip + 1), nil
		})
	}

	stores := map[Opcode]struct {
		size   uint32
		encode func(value, []byte)
	}{
		I32Store:   {4, func(v value, b []byte) { putU32(b, uint32(v.int32())) }},
		I64Store:   {8, func(v value, b []byte) { putU64(b, uint64(v.int64())) }},
		F32Store:   {4, func(v value, b []byte) { putU32(b, f32Bits(v.float32())) }},
		F64Store:   {8, func(v value, b []byte) { putU64(b, f64Bits(v.float64())) }},
		I32Store8:  {1, func(v value, b []byte) { b[0] = byte(v.int32()) }},
		I32Store16: {2, func(v value, b []byte) { putU16(b, uint16(v.int32())) }},
		I64Store8:  {1, func(v value, b []byte) { b[0] = byte(v.int64()) }},
		I64Store16: {2, func(v value, b []byte) { putU16(b, uint16(v.int64())) }},
		I64Store32: {4, func(v value, b []byte) { putU32(b, uint32(v.int64())) }},
	}
	for op, s := range stores {
		s := s
		registerHandler(op, func(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
			mem := vm.store.memories[act.frame.Module.MemAddrs[0]]
			addr, val := readBinary(vm, act, operand)
			buf := make([]byte, s.size)
			s.encode(val, buf)
			if err := mem.Set(operand.MemArg.Offset, uint32(addr.int32()), buf); err != nil {
				return handlerOutcome{}, newTrap("memory access out of bounds", err)
			}
			return cont(act.ip + 1), nil
		})
	}
}

func leU16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func leU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
func putU16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
func bitsToF32(bits uint32) float32 { return reinterpretI32ToF32(int32(bits)) }
func bitsToF64(bits uint64) float64 { return reinterpretI64ToF64(int64(bits)) }
func f32Bits(f float32) uint32      { return uint32(reinterpretF32ToI32(f)) }
func f64Bits(f float64) uint64      { return uint64(reinterpretF64ToI64(f)) }
