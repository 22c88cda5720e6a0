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

// Phase 5 folding absorbs cheap, side-effect-free producers (the constant
// and local/global accessors) straight into the consumer that would
// otherwise pop them off the shared value stack, and absorbs a trailing
// local.set/global.set straight into the consumer that feeds it. Both
// rewrites are expressed through Operand.Sources/NumSources/StoreTarget;
// readUnary/readBinary/writeResult in handlers.go already branch on them, so
// folding never touches a handler body.
//
// Absorbed instructions are rewritten in place to the no-op handler rather
// than deleted: branch targets resolved in Phases 2 and 3 are absolute
// instruction indices into prog.Instrs, and deleting slots would invalidate
// every one of them.

var producerOpcodes = []Opcode{
	I32Const, I64Const, F32Const, F64Const, V128Const, LocalGet, GlobalGet,
}

var unaryOpcodes = []Opcode{
	I32Eqz, I64Eqz,
	I32Clz, I32Ctz, I32Popcnt,
	I64Clz, I64Ctz, I64Popcnt,
	F32Abs, F32Neg, F32Ceil, F32Floor, F32Trunc, F32Nearest, F32Sqrt,
	F64Abs, F64Neg, F64Ceil, F64Floor, F64Trunc, F64Nearest, F64Sqrt,
	I32WrapI64,
	I32TruncF32S, I32TruncF32U, I32TruncF64S, I32TruncF64U,
	I64ExtendI32S, I64ExtendI32U,
	I64TruncF32S, I64TruncF32U, I64TruncF64S, I64TruncF64U,
	F32ConvertI32S, F32ConvertI32U, F32ConvertI64S, F32ConvertI64U, F32DemoteF64,
	F64ConvertI32S, F64ConvertI32U, F64ConvertI64S, F64ConvertI64U, F64PromoteF32,
	I32ReinterpretF32, I64ReinterpretF64, F32ReinterpretI32, F64ReinterpretI64,
	I32Extend8S, I32Extend16S, I64Extend8S, I64Extend16S, I64Extend32S,
	I32TruncSatF32S, I32TruncSatF32U, I32TruncSatF64S, I32TruncSatF64U,
	I64TruncSatF32S, I64TruncSatF32U, I64TruncSatF64S, I64TruncSatF64U,
}

var binaryOpcodes = []Opcode{
	I32Eq, I32Ne, I32LtS, I32LtU, I32GtS, I32GtU, I32LeS, I32LeU, I32GeS, I32GeU,
	I64Eq, I64Ne, I64LtS, I64LtU, I64GtS, I64GtU, I64LeS, I64LeU, I64GeS, I64GeU,
	F32Eq, F32Ne, F32Lt, F32Gt, F32Le, F32Ge,
	F64Eq, F64Ne, F64Lt, F64Gt, F64Le, F64Ge,
	I32Add, I32Sub, I32Mul, I32DivS, I32DivU, I32RemS, I32RemU,
	I32And, I32Or, I32Xor, I32Shl, I32ShrS, I32ShrU, I32Rotl, I32Rotr,
	I64Add, I64Sub, I64Mul, I64DivS, I64DivU, I64RemS, I64RemU,
	I64And, I64Or, I64Xor, I64Shl, I64ShrS, I64ShrU, I64Rotl, I64Rotr,
	F32Add, F32Sub, F32Mul, F32Div, F32Min, F32Max, F32Copysign,
	F64Add, F64Sub, F64Mul, F64Div, F64Min, F64Max, F64Copysign,
}

var loadOpcodes = []Opcode{
	I32Load, I64Load, F32Load, F64Load, V128Load,
	I32Load8S, I32Load8U, I32Load16S, I32Load16U,
	I64Load8S, I64Load8U, I64Load16S, I64Load16U, I64Load32S, I64Load32U,
}

var storeOpcodes = []Opcode{
	I32Store, I64Store, F32Store, F64Store, V128Store,
	I32Store8, I32Store16, I64Store8, I64Store16, I64Store32,
}

// foldSets is the HandlerID-keyed classification foldOperands consults. It
// is built lazily from opcodeHandler, which is only fully populated once
// every handlers_*.go init() has run, so it cannot itself be a package-level
// var initializer.
type foldSets struct {
	producer  map[HandlerID]bool
	unary     map[HandlerID]bool
	binary    map[HandlerID]bool
	load      map[HandlerID]bool
	store     map[HandlerID]bool
	setLocal  HandlerID
	setGlobal HandlerID
}

func newFoldSets() *foldSets {
	return &foldSets{
		producer:  toHandlerSet(producerOpcodes),
		unary:     toHandlerSet(unaryOpcodes),
		binary:    toHandlerSet(binaryOpcodes),
		load:      toHandlerSet(loadOpcodes),
		store:     toHandlerSet(storeOpcodes),
		setLocal:  opcodeHandler[LocalSet],
		setGlobal: opcodeHandler[GlobalSet],
	}
}

func toHandlerSet(ops []Opcode) map[HandlerID]bool {
	set := make(map[HandlerID]bool, len(ops))
	for _, op := range ops {
		if id, ok := opcodeHandler[op]; ok {
			set[id] = true
		}
	}
	return set
}

// valueSourceOf turns an already-emitted producer instruction into the
// ValueSource a consumer can read directly instead of popping the stack.
func valueSourceOf(producer *ProcessedInstr, sets *foldSets) ValueSource {
	switch {
	case producer.Handler == opcodeHandler[LocalGet]:
		return ValueSource{Kind: SourceLocal, Idx: producer.Operand.Idx}
	case producer.Handler == opcodeHandler[GlobalGet]:
		return ValueSource{Kind: SourceGlobal, Idx: producer.Operand.Idx}
	default:
		return ValueSource{Kind: SourceConst, Const: producer.Operand.Imm}
	}
}

// foldOperands performs a single linear pass over prog.Instrs, folding
// constant/local/global producers into the consumer immediately above them
// on the value stack (source folding) and folding a consumer's result
// straight into a trailing local.set/global.set (destination folding).
//
// pending tracks, in stack order, the indices of producer instructions
// still sitting unconsumed at the top of the value stack: nothing has been
// pushed on top of them since they ran. Any instruction whose stack effect
// this pass does not model (control flow, calls, drop, select, tee, table
// and bulk-memory ops, and so on) clears pending outright; that forfeits
// folding opportunities immediately downstream of them but never folds
// across a value the pass has lost track of.
func foldOperands(prog *Program) {
	sets := newFoldSets()
	var pending []int
	lastConsumer := -1

	nop := func(idx int) {
		prog.Instrs[idx] = ProcessedInstr{Handler: nopHandlerID}
	}

	for i := range prog.Instrs {
		instr := &prog.Instrs[i]
		switch {
		case sets.producer[instr.Handler]:
			pending = append(pending, i)
			lastConsumer = -1

		case instr.Handler == sets.setLocal || instr.Handler == sets.setGlobal:
			if lastConsumer == i-1 {
				target := &prog.Instrs[lastConsumer]
				if instr.Handler == sets.setLocal {
					target.Operand.StoreTarget = StoreTarget{Kind: StoreTargetLocal, Idx: instr.Operand.Idx}
				} else {
					target.Operand.StoreTarget = StoreTarget{Kind: StoreTargetGlobal, Idx: instr.Operand.Idx}
				}
				nop(i)
			} else if len(pending) > 0 {
				pending = pending[:len(pending)-1]
			}
			lastConsumer = -1

		case sets.unary[instr.Handler]:
			if len(pending) >= 1 {
				srcIdx := pending[len(pending)-1]
				instr.Operand.Sources[0] = valueSourceOf(&prog.Instrs[srcIdx], sets)
				instr.Operand.NumSources = 1
				nop(srcIdx)
			}
			pending = nil
			lastConsumer = i

		case sets.binary[instr.Handler]:
			if len(pending) >= 2 {
				aIdx, bIdx := pending[len(pending)-2], pending[len(pending)-1]
				instr.Operand.Sources[0] = valueSourceOf(&prog.Instrs[aIdx], sets)
				instr.Operand.Sources[1] = valueSourceOf(&prog.Instrs[bIdx], sets)
				instr.Operand.NumSources = 2
				nop(aIdx)
				nop(bIdx)
			}
			pending = nil
			lastConsumer = i

		case sets.load[instr.Handler]:
			if len(pending) >= 1 {
				srcIdx := pending[len(pending)-1]
				instr.Operand.Sources[0] = valueSourceOf(&prog.Instrs[srcIdx], sets)
				instr.Operand.NumSources = 1
				nop(srcIdx)
			}
			pending = nil
			lastConsumer = i

		case sets.store[instr.Handler]:
			if len(pending) >= 2 {
				addrIdx, valIdx := pending[len(pending)-2], pending[len(pending)-1]
				instr.Operand.Sources[0] = valueSourceOf(&prog.Instrs[addrIdx], sets)
				instr.Operand.Sources[1] = valueSourceOf(&prog.Instrs[valIdx], sets)
				instr.Operand.NumSources = 2
				nop(addrIdx)
				nop(valIdx)
				pending = pending[:len(pending)-2]
			} else {
				pending = nil
			}
			lastConsumer = -1

		default:
			pending = nil
			lastConsumer = -1
		}
	}
}
