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

// sentinelIP marks an unresolved branch target. Phase 4 rejects any
// ProcessedInstr whose label operand still carries it.
const sentinelIP = -1

// ValueSourceKind tags where a folded operand reads its value from.
type ValueSourceKind uint8

const (
	SourceNone ValueSourceKind = iota
	SourceStack
	SourceConst
	SourceLocal
	SourceGlobal
)

// ValueSource is one operand of a folded (superinstruction) handler.
type ValueSource struct {
	Kind  ValueSourceKind
	Const value
	Idx   uint32
}

// StoreTargetKind tags where a folded handler writes its result, instead of
// pushing it onto the value stack.
type StoreTargetKind uint8

const (
	StoreTargetNone StoreTargetKind = iota
	StoreTargetLocal
	StoreTargetGlobal
)

// StoreTarget is the destination folded into a consumer by destination
// folding (Phase 5).
type StoreTarget struct {
	Kind StoreTargetKind
	Idx  uint32
}

// BlockOperand is the operand of a block/loop/if marker: its result arity, the
// parameter count re-supplied on a branch to a loop, and the resolved
// addresses of its matching else/end.
type BlockOperand struct {
	Arity      int
	ParamCount int
	IsLoop     bool
	EndIP      int
	ElseIP     int // equals EndIP when there is no else clause
}

// LabelIdx is a fully resolved branch target.
type LabelIdx struct {
	TargetIP          int
	Arity             int
	OriginalWasmDepth uint32
	IsLoop            bool
}

// BrTableOperand is the operand of a br_table instruction.
type BrTableOperand struct {
	Targets []LabelIdx
	Default LabelIdx
}

// CallIndirectOperand is the operand of a call_indirect instruction.
type CallIndirectOperand struct {
	TypeIdx  uint32
	TableIdx uint32
}

// Operand is the tagged-union payload of a ProcessedInstr. Only the fields
// relevant to the instruction's handler are populated; the rest are zero.
type Operand struct {
	Imm    value
	Idx    uint32
	Idx2   uint32
	MemArg MemArg

	Block        BlockOperand
	Label        LabelIdx
	BrTable      BrTableOperand
	CallIndirect CallIndirectOperand

	RefType ReferenceType

	// Fused superinstruction fields (Phase 5 output).
	Sources     [2]ValueSource
	NumSources  int
	StoreTarget StoreTarget
}

// ProcessedInstr is one instruction of a preprocessed function body: a
// handler id into the dense handler table, plus its resolved operand.
type ProcessedInstr struct {
	Handler HandlerID
	Operand Operand
}

// Program is the immutable result of preprocessing a function body. The
// execution core never consults the original byte stream once a Program
// exists.
type Program struct {
	Instrs     []ProcessedInstr
	LocalTypes []ValueType // params, then declared locals, in order
	MaxDepth   int
}

type fixupFlavor uint8

const (
	fixupBr fixupFlavor = iota
	fixupBrIf
	fixupBrTableTarget
	fixupBrTableDefault
	fixupIfFalse
	fixupElse
)

type fixup struct {
	pc            int
	relativeDepth uint32
	flavor        fixupFlavor
	brTableSlot   int // index into BrTable.Targets, only for fixupBrTableTarget
}

type ctrlFrame struct {
	startPC   int
	isIf      bool
	elsePC    int
	blockType int64
}

// preprocessFunction runs all five phases over one function body, producing
// its Program. module is needed to resolve block types that reference the
// type section.
func preprocessFunction(module *Module, funcIndex uint32, fn *Function, foldingEnabled bool) (*Program, error) {
	fail := func(reason string) (*Program, error) {
		return nil, &PreprocessError{FuncIndex: funcIndex, Reason: reason}
	}

	dec := NewDecoder(fn.Body)
	instrs := make([]ProcessedInstr, 0, len(fn.Body)/2)
	var fixups []fixup
	var ctrlStack []ctrlFrame
	blockEndMap := map[int]int{}
	ifElseMap := map[int]int{}
	blockTypeMap := map[int]int64{}

	// Phase 1 — decode & map build.
	for dec.HasMore() {
		pc := len(instrs)
		raw, err := dec.Decode()
		if err != nil {
			return fail("decode error: " + err.Error())
		}

		instr := ProcessedInstr{}
		switch raw.Opcode {
		case Block, Loop, If:
			ctrlStack = append(ctrlStack, ctrlFrame{startPC: pc, isIf: raw.Opcode == If, elsePC: sentinelIP, blockType: raw.BlockType})
			blockTypeMap[pc] = raw.BlockType
			instr.Operand.Block.IsLoop = raw.Opcode == Loop
			if raw.Opcode == If {
				fixups = append(fixups, fixup{pc: pc, flavor: fixupIfFalse})
			}

		case Else:
			if len(ctrlStack) == 0 || !ctrlStack[len(ctrlStack)-1].isIf {
				return fail("else without matching if")
			}
			top := &ctrlStack[len(ctrlStack)-1]
			top.elsePC = pc
			fixups = append(fixups, fixup{pc: pc, flavor: fixupElse})

		case End:
			if len(ctrlStack) > 0 {
				top := ctrlStack[len(ctrlStack)-1]
				ctrlStack = ctrlStack[:len(ctrlStack)-1]
				blockEndMap[top.startPC] = pc
				if top.isIf {
					if top.elsePC != sentinelIP {
						ifElseMap[top.startPC] = top.elsePC
					} else {
						ifElseMap[top.startPC] = pc
					}
				}
			}

		case Br:
			fixups = append(fixups, fixup{pc: pc, relativeDepth: raw.Idx, flavor: fixupBr})

		case BrIf:
			fixups = append(fixups, fixup{pc: pc, relativeDepth: raw.Idx, flavor: fixupBrIf})

		case BrTable:
			targets := make([]LabelIdx, len(raw.LabelIndexes))
			instr.Operand.BrTable.Targets = targets
			for i, depth := range raw.LabelIndexes {
				fixups = append(fixups, fixup{pc: pc, relativeDepth: depth, flavor: fixupBrTableTarget, brTableSlot: i})
			}
			fixups = append(fixups, fixup{pc: pc, relativeDepth: raw.DefaultLabel, flavor: fixupBrTableDefault})
		}

		instr.Operand.Idx = raw.Idx
		instr.Operand.Idx2 = raw.Idx2
		instr.Operand.MemArg = raw.MemArg
		instr.Operand.RefType = refTypeFromOpcode(raw.Opcode)
		instr.Operand.Imm = immFromInstruction(raw)

		if raw.Opcode == CallIndirect {
			instr.Operand.CallIndirect = CallIndirectOperand{TypeIdx: raw.Idx, TableIdx: raw.Idx2}
		}

		handlerID, ok := opcodeHandler[raw.Opcode]
		if !ok {
			return fail("no handler registered for " + raw.Opcode.String())
		}
		instr.Handler = handlerID
		instrs = append(instrs, instr)
	}

	if len(ctrlStack) != 0 {
		return fail("unterminated block")
	}

	// Block operand fields (Arity/ParamCount/EndIP/ElseIP) depend on
	// blockEndMap/ifElseMap, which are only fully known after Phase 1
	// completes, so fill them in a second pass over the block-opening
	// instructions before resolving branches.
	for pc := range instrs {
		if !isBlockHandler(instrs[pc].Handler) {
			continue
		}
		bt := blockTypeMap[pc]
		params, results := blockTypeSignature(module, bt)
		instrs[pc].Operand.Block.Arity = len(results)
		instrs[pc].Operand.Block.ParamCount = len(params)
		instrs[pc].Operand.Block.EndIP = blockEndMap[pc]
		if elseIP, ok := ifElseMap[pc]; ok {
			instrs[pc].Operand.Block.ElseIP = elseIP
		} else {
			instrs[pc].Operand.Block.ElseIP = blockEndMap[pc]
		}
	}

	// Phase 2 & 3 — branch / br_table resolution.
	for _, fx := range fixups {
		switch fx.flavor {
		case fixupIfFalse:
			instrs[fx.pc].Operand.Label = LabelIdx{TargetIP: instrs[fx.pc].Operand.Block.ElseIP, IsLoop: false}
		case fixupElse:
			// Reconstruct which if this else belongs to: it is the one
			// whose matching end is the first End at or after fx.pc whose
			// start produced this else in Phase 1. blockEndMap/ifElseMap
			// were keyed by the if's startPC, not the else's pc, so walk
			// ifElseMap to find the entry pointing at fx.pc.
			target := sentinelIP
			for startPC, elsePC := range ifElseMap {
				if elsePC == fx.pc {
					target = blockEndMap[startPC]
					break
				}
			}
			instrs[fx.pc].Operand.Label = LabelIdx{TargetIP: target, IsLoop: false}
		case fixupBr, fixupBrIf:
			label, err := resolveBranchTarget(instrs, blockEndMap, blockTypeMap, module, fx.pc, fx.relativeDepth)
			if err != nil {
				return fail(err.Error())
			}
			instrs[fx.pc].Operand.Label = label
		case fixupBrTableTarget:
			label, err := resolveBranchTarget(instrs, blockEndMap, blockTypeMap, module, fx.pc, fx.relativeDepth)
			if err != nil {
				return fail(err.Error())
			}
			instrs[fx.pc].Operand.BrTable.Targets[fx.brTableSlot] = label
		case fixupBrTableDefault:
			label, err := resolveBranchTarget(instrs, blockEndMap, blockTypeMap, module, fx.pc, fx.relativeDepth)
			if err != nil {
				return fail(err.Error())
			}
			instrs[fx.pc].Operand.BrTable.Default = label
		}
	}

	// Phase 4 — sanity.
	for pc, instr := range instrs {
		switch {
		case instr.Handler == opcodeHandler[Br] || instr.Handler == opcodeHandler[BrIf] ||
			instr.Handler == opcodeHandler[If] || instr.Handler == opcodeHandler[Else]:
			if instr.Operand.Label.TargetIP == sentinelIP {
				return fail("unresolved branch fixup")
			}
		case instr.Handler == opcodeHandler[BrTable]:
			for _, t := range instr.Operand.BrTable.Targets {
				if t.TargetIP == sentinelIP {
					return fail("unresolved br_table fixup")
				}
			}
			if instr.Operand.BrTable.Default.TargetIP == sentinelIP {
				return fail("unresolved br_table default fixup")
			}
		}
		_ = pc
	}

	localTypes := make([]ValueType, 0, len(module.Types[fn.TypeIndex].ParamTypes)+len(fn.Locals))
	localTypes = append(localTypes, module.Types[fn.TypeIndex].ParamTypes...)
	localTypes = append(localTypes, fn.Locals...)

	prog := &Program{Instrs: instrs, LocalTypes: localTypes}

	// Phase 5 — optional operand/superinstruction folding.
	if foldingEnabled {
		foldOperands(prog)
	}

	return prog, nil
}

// resolveBranchTarget reconstructs the control stack active at pc by
// streaming through instrs[0:pc] and locates the label at relativeDepth.
func resolveBranchTarget(
	instrs []ProcessedInstr,
	blockEndMap map[int]int,
	blockTypeMap map[int]int64,
	module *Module,
	pc int,
	relativeDepth uint32,
) (LabelIdx, error) {
	type openLabel struct {
		startPC int
		isLoop  bool
		params  []ValueType
		results []ValueType
	}
	var stack []openLabel
	for i := 0; i < pc; i++ {
		switch {
		case isBlockHandler(instrs[i].Handler):
			bt := blockTypeMap[i]
			params, results := blockTypeSignature(module, bt)
			stack = append(stack, openLabel{startPC: i, isLoop: instrs[i].Operand.Block.IsLoop, params: params, results: results})
		case isEndHandler(instrs[i].Handler):
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	idx := len(stack) - 1 - int(relativeDepth)
	if idx < 0 || idx >= len(stack) {
		return LabelIdx{}, &PreprocessError{Reason: "branch depth out of range"}
	}
	target := stack[idx]

	if target.isLoop {
		return LabelIdx{
			TargetIP:          target.startPC,
			Arity:             len(target.params),
			OriginalWasmDepth: relativeDepth,
			IsLoop:            true,
		}, nil
	}
	return LabelIdx{
		TargetIP:          blockEndMap[target.startPC],
		Arity:             len(target.results),
		OriginalWasmDepth: relativeDepth,
		IsLoop:            false,
	}, nil
}

func blockTypeSignature(module *Module, bt int64) (params, results []ValueType) {
	switch {
	case bt == -0x40:
		return nil, nil
	case bt < 0:
		// Single-result block types reuse the valtype byte encoding
		// directly: reading that byte as a signed LEB128 sign-extends its
		// top bit, so the original byte is recovered by undoing that.
		return nil, []ValueType{valueTypeFromByte(byte(bt + 0x80))}
	default:
		ft := module.Types[bt]
		return ft.ParamTypes, ft.ResultTypes
	}
}

func refTypeFromOpcode(op Opcode) ReferenceType {
	if op == RefNull {
		return FuncRefType
	}
	return 0
}

func immFromInstruction(raw Instruction) value {
	switch raw.Opcode {
	case I32Const:
		return i32(raw.I32)
	case I64Const:
		return i64(raw.I64)
	case F32Const:
		return f32(raw.F32)
	case F64Const:
		return f64(raw.F64)
	case V128Const:
		return v128(raw.V128)
	default:
		return value{}
	}
}

func isBlockHandler(h HandlerID) bool {
	return h == opcodeHandler[Block] || h == opcodeHandler[Loop] || h == opcodeHandler[If]
}

func isEndHandler(h HandlerID) bool {
	return h == opcodeHandler[End]
}
