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

// HandlerID indexes into the dense handler table. Assigned by registerHandler
// at package init, in the order handlers are registered; the numeric values
// carry no meaning beyond identity.
type HandlerID uint16

type handlerFunc func(vm *VM, act *activation, operand *Operand) (handlerOutcome, error)

type execCtrl uint8

const (
	ctrlContinue execCtrl = iota
	ctrlInvoke
	ctrlReturn
)

// handlerOutcome is what a handler hands back to the inner loop. It is a
// deliberately small alternative to the fully generic HandlerResult union:
// branch unwinding is performed by the branch handlers themselves, directly
// against the activation's label stack and the VM's shared value stack,
// since Go has no pattern-matching union type to make a larger result enum
// pay for itself. The loop only needs to know whether to keep stepping, push
// a new activation, or pop the current one.
type handlerOutcome struct {
	ctrl       execCtrl
	nextIP     int
	invokeFunc *WasmFunction
}

func cont(nextIP int) handlerOutcome {
	return handlerOutcome{ctrl: ctrlContinue, nextIP: nextIP}
}

var (
	handlerTable  []handlerFunc
	opcodeHandler = map[Opcode]HandlerID{}
	nopHandlerID  HandlerID
)

func registerHandler(op Opcode, fn handlerFunc) HandlerID {
	id := HandlerID(len(handlerTable))
	handlerTable = append(handlerTable, fn)
	opcodeHandler[op] = id
	return id
}

func notImplementedHandler(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	return handlerOutcome{}, newTrap("opcode not implemented", nil)
}

// readSource resolves one folded operand source: a live pop off the shared
// value stack for SourceStack (the default, unfolded, path), or a direct
// read of a constant/local/global for the folded path. Every unary, binary,
// load, and store handler goes through this, so folded and unfolded code
// share one implementation each.
func readSource(vm *VM, act *activation, src ValueSource) value {
	switch src.Kind {
	case SourceConst:
		return src.Const
	case SourceLocal:
		return act.frame.Locals[src.Idx]
	case SourceGlobal:
		return vm.store.globals[act.frame.Module.GlobalAddrs[src.Idx]].get()
	default:
		return vm.values.pop()
	}
}

func readUnary(vm *VM, act *activation, operand *Operand) value {
	if operand.NumSources == 1 {
		return readSource(vm, act, operand.Sources[0])
	}
	return vm.values.pop()
}

func readBinary(vm *VM, act *activation, operand *Operand) (a, b value) {
	if operand.NumSources == 2 {
		return readSource(vm, act, operand.Sources[0]), readSource(vm, act, operand.Sources[1])
	}
	b = vm.values.pop()
	a = vm.values.pop()
	return
}

// writeResult delivers a handler's output: pushed onto the shared value
// stack in the unfolded path, or written straight into a local/global when
// destination folding set operand.StoreTarget.
func writeResult(vm *VM, act *activation, operand *Operand, result value) {
	switch operand.StoreTarget.Kind {
	case StoreTargetLocal:
		act.frame.Locals[operand.StoreTarget.Idx] = result
	case StoreTargetGlobal:
		vm.store.globals[act.frame.Module.GlobalAddrs[operand.StoreTarget.Idx]].set(result)
	default:
		vm.values.pushRaw(result)
	}
}

func mkUnary(f func(value) value) handlerFunc {
	return func(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
		a := readUnary(vm, act, operand)
		writeResult(vm, act, operand, f(a))
		return cont(act.ip + 1), nil
	}
}

func mkUnaryErr(reason string, f func(value) (value, error)) handlerFunc {
	return func(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
		a := readUnary(vm, act, operand)
		r, err := f(a)
		if err != nil {
			return handlerOutcome{}, newTrap(reason, err)
		}
		writeResult(vm, act, operand, r)
		return cont(act.ip + 1), nil
	}
}

func mkBinary(f func(a, b value) value) handlerFunc {
	return func(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
		a, b := readBinary(vm, act, operand)
		writeResult(vm, act, operand, f(a, b))
		return cont(act.ip + 1), nil
	}
}

func mkBinaryErr(reason string, f func(a, b value) (value, error)) handlerFunc {
	return func(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
		a, b := readBinary(vm, act, operand)
		r, err := f(a, b)
		if err != nil {
			return handlerOutcome{}, newTrap(reason, err)
		}
		writeResult(vm, act, operand, r)
		return cont(act.ip + 1), nil
	}
}

// Typed wrappers adapt numeric.go's generic helpers, which operate on Go
// numeric types, to the flat value{low,high} representation the handlers
// above pass around.

func u32u(f func(int32, int32) int32) func(value, value) value {
	return func(a, b value) value { return i32(f(a.int32(), b.int32())) }
}
func u32Bool(f func(int32, int32) bool) func(value, value) value {
	return func(a, b value) value { return i32(boolToInt32(f(a.int32(), b.int32()))) }
}
func u64u(f func(int64, int64) int64) func(value, value) value {
	return func(a, b value) value { return i64(f(a.int64(), b.int64())) }
}
func u64Bool(f func(int64, int64) bool) func(value, value) value {
	return func(a, b value) value { return i32(boolToInt32(f(a.int64(), b.int64()))) }
}
func f32u(f func(float32, float32) float32) func(value, value) value {
	return func(a, b value) value { return f32(f(a.float32(), b.float32())) }
}
func f32Bool(f func(float32, float32) bool) func(value, value) value {
	return func(a, b value) value { return i32(boolToInt32(f(a.float32(), b.float32()))) }
}
func f64u(f func(float64, float64) float64) func(value, value) value {
	return func(a, b value) value { return f64(f(a.float64(), b.float64())) }
}
func f64Bool(f func(float64, float64) bool) func(value, value) value {
	return func(a, b value) value { return i32(boolToInt32(f(a.float64(), b.float64()))) }
}
func u32uErr(f func(int32, int32) (int32, error)) func(value, value) (value, error) {
	return func(a, b value) (value, error) {
		r, err := f(a.int32(), b.int32())
		return i32(r), err
	}
}
func u64uErr(f func(int64, int64) (int64, error)) func(value, value) (value, error) {
	return func(a, b value) (value, error) {
		r, err := f(a.int64(), b.int64())
		return i64(r), err
	}
}

func i32un(f func(int32) int32) func(value) value    { return func(a value) value { return i32(f(a.int32())) } }
func i64un(f func(int64) int64) func(value) value    { return func(a value) value { return i64(f(a.int64())) } }
func f32un(f func(float32) float32) func(value) value { return func(a value) value { return f32(f(a.float32())) } }
func f64un(f func(float64) float64) func(value) value { return func(a value) value { return f64(f(a.float64())) } }

func init() {
	notImplementedHandler0 := notImplementedHandler
	_ = notImplementedHandler0

	registerHandler(Unreachable, func(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
		return handlerOutcome{}, newTrap("unreachable", nil)
	})
	registerHandler(NopOp, func(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
		return cont(act.ip + 1), nil
	})
	nopHandlerID = opcodeHandler[NopOp]

	registerHandler(Block, hBlock)
	registerHandler(Loop, hLoop)
	registerHandler(If, hIf)
	registerHandler(Else, hElse)
	registerHandler(End, hEnd)
	registerHandler(Br, hBr)
	registerHandler(BrIf, hBrIf)
	registerHandler(BrTable, hBrTable)
	registerHandler(Return, hReturn)
	registerHandler(Call, hCall)
	registerHandler(CallIndirect, hCallIndirect)

	registerHandler(Drop, func(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
		vm.values.drop()
		return cont(act.ip + 1), nil
	})
	registerHandler(Select, hSelect)
	registerHandler(SelectT, hSelect)

	registerHandler(LocalGet, hLocalGet)
	registerHandler(LocalSet, hLocalSet)
	registerHandler(LocalTee, hLocalTee)
	registerHandler(GlobalGet, hGlobalGet)
	registerHandler(GlobalSet, hGlobalSet)
	registerHandler(TableGet, hTableGet)
	registerHandler(TableSet, hTableSet)

	registerLoadStoreHandlers()
	registerHandler(MemorySize, hMemorySize)
	registerHandler(MemoryGrow, hMemoryGrow)

	registerHandler(I32Const, hConst)
	registerHandler(I64Const, hConst)
	registerHandler(F32Const, hConst)
	registerHandler(F64Const, hConst)

	registerComparisonHandlers()
	registerArithmeticHandlers()
	registerConversionHandlers()

	registerHandler(RefNull, hRefNull)
	registerHandler(RefIsNull, hRefIsNull)
	registerHandler(RefFunc, hRefFunc)

	registerHandler(MemoryInit, hMemoryInit)
	registerHandler(DataDrop, hDataDrop)
	registerHandler(MemoryCopy, hMemoryCopy)
	registerHandler(MemoryFill, hMemoryFill)
	registerHandler(TableInit, hTableInit)
	registerHandler(ElemDrop, hElemDrop)
	registerHandler(TableCopy, hTableCopy)
	registerHandler(TableGrow, hTableGrow)
	registerHandler(TableSize, hTableSize)
	registerHandler(TableFill, hTableFill)

	registerHandler(V128Load, hV128Load)
	registerHandler(V128Store, hV128Store)
	registerHandler(V128Const, hConst)
}

func hBlock(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	act.labels = append(act.labels, label{
		kind:                    labelBlock,
		arity:                   operand.Block.Arity,
		continuationIP:          operand.Block.EndIP + 1,
		valueStackHeightAtEntry: vm.values.size(),
	})
	return cont(act.ip + 1), nil
}

func hLoop(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	act.labels = append(act.labels, label{
		kind:                    labelLoop,
		arity:                   operand.Block.ParamCount,
		continuationIP:          act.ip,
		valueStackHeightAtEntry: vm.values.size(),
	})
	return cont(act.ip + 1), nil
}

func hIf(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	cond := vm.values.popInt32()
	if cond != 0 {
		act.labels = append(act.labels, label{
			kind:                    labelIf,
			arity:                   operand.Block.Arity,
			continuationIP:          operand.Block.EndIP + 1,
			valueStackHeightAtEntry: vm.values.size(),
		})
		return cont(act.ip + 1), nil
	}
	if operand.Operand_hasElse() {
		act.labels = append(act.labels, label{
			kind:                    labelIf,
			arity:                   operand.Block.Arity,
			continuationIP:          operand.Block.EndIP + 1,
			valueStackHeightAtEntry: vm.values.size(),
		})
	}
	return cont(operand.Label.TargetIP + 1), nil
}

// hElse lands on the matching end, not past it: the if-label pushed by hIf
// for the taken then-branch is still open and only hEnd pops it.
func hElse(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	return cont(operand.Label.TargetIP), nil
}

func hEnd(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	if len(act.labels) == 0 {
		vm.values.unwind(act.valueStackBase, uint(act.frame.Arity))
		return handlerOutcome{ctrl: ctrlReturn}, nil
	}
	act.labels = act.labels[:len(act.labels)-1]
	return cont(act.ip + 1), nil
}

// doBranch pops every label down to and including the target, unwinding the
// value stack to the target's arity. A block/if target's continuationIP
// already points past its matching end (see hBlock/hIf), so landing there
// needs no further label pop. A loop target's continuationIP is the loop
// opcode's own ip: re-executing hLoop pushes a fresh label, so the target
// label is dropped here rather than re-pushed, keeping exactly one label per
// live loop iteration.
func doBranch(vm *VM, act *activation, lbl LabelIdx) int {
	idx := len(act.labels) - 1 - int(lbl.OriginalWasmDepth)
	target := act.labels[idx]
	vm.values.unwind(target.valueStackHeightAtEntry, uint(target.arity))
	act.labels = act.labels[:idx]
	return target.continuationIP
}

func hBr(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	return cont(doBranch(vm, act, operand.Label)), nil
}

func hBrIf(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	if vm.values.popInt32() == 0 {
		return cont(act.ip + 1), nil
	}
	return cont(doBranch(vm, act, operand.Label)), nil
}

func hBrTable(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	idx := vm.values.popInt32()
	targets := operand.BrTable.Targets
	if idx >= 0 && int(idx) < len(targets) {
		return cont(doBranch(vm, act, targets[idx])), nil
	}
	return cont(doBranch(vm, act, operand.BrTable.Default)), nil
}

func hReturn(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	vm.values.unwind(act.valueStackBase, uint(act.frame.Arity))
	return handlerOutcome{ctrl: ctrlReturn}, nil
}

func hCall(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	addr := act.frame.Module.FuncAddrs[operand.Idx]
	return vm.dispatchCall(act, vm.store.funcs[addr])
}

func hCallIndirect(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	idx := vm.values.popInt32()
	tableAddr := act.frame.Module.TableAddrs[operand.CallIndirect.TableIdx]
	table := vm.store.tables[tableAddr]
	ref, err := table.Get(idx)
	if err != nil {
		return handlerOutcome{}, newTrap("call_indirect index out of range", err)
	}
	if ref == NullReference {
		return handlerOutcome{}, newTrap("call_indirect through null reference", nil)
	}
	fn := vm.store.funcs[ref]
	declared := &act.frame.Module.Types[operand.CallIndirect.TypeIdx]
	if !fn.GetType().Equal(declared) {
		return handlerOutcome{}, newTrap("call_indirect type mismatch", nil)
	}
	return vm.dispatchCall(act, fn)
}

func hSelect(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	cond := vm.values.popInt32()
	b := vm.values.pop()
	a := vm.values.pop()
	if cond != 0 {
		vm.values.pushRaw(a)
	} else {
		vm.values.pushRaw(b)
	}
	return cont(act.ip + 1), nil
}

func hLocalGet(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	vm.values.pushRaw(act.frame.Locals[operand.Idx])
	return cont(act.ip + 1), nil
}

func hLocalSet(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	act.frame.Locals[operand.Idx] = vm.values.pop()
	return cont(act.ip + 1), nil
}

func hLocalTee(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	v := vm.values.pop()
	act.frame.Locals[operand.Idx] = v
	vm.values.pushRaw(v)
	return cont(act.ip + 1), nil
}

func hGlobalGet(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	addr := act.frame.Module.GlobalAddrs[operand.Idx]
	vm.values.pushRaw(vm.store.globals[addr].get())
	return cont(act.ip + 1), nil
}

func hGlobalSet(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	addr := act.frame.Module.GlobalAddrs[operand.Idx]
	vm.store.globals[addr].set(vm.values.pop())
	return cont(act.ip + 1), nil
}

func hTableGet(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	addr := act.frame.Module.TableAddrs[operand.Idx]
	idx := vm.values.popInt32()
	ref, err := vm.store.tables[addr].Get(idx)
	if err != nil {
		return handlerOutcome{}, newTrap("table.get out of bounds", err)
	}
	vm.values.pushInt32(ref)
	return cont(act.ip + 1), nil
}

func hTableSet(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	addr := act.frame.Module.TableAddrs[operand.Idx]
	val := vm.values.popInt32()
	idx := vm.values.popInt32()
	if err := vm.store.tables[addr].Set(idx, val); err != nil {
		return handlerOutcome{}, newTrap("table.set out of bounds", err)
	}
	return cont(act.ip + 1), nil
}

func hMemorySize(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	mem := vm.store.memories[act.frame.Module.MemAddrs[0]]
	vm.values.pushInt32(mem.Size())
	return cont(act.ip + 1), nil
}

func hMemoryGrow(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	mem := vm.store.memories[act.frame.Module.MemAddrs[0]]
	pages := vm.values.popInt32()
	vm.values.pushInt32(mem.Grow(pages))
	return cont(act.ip + 1), nil
}

func hConst(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	vm.values.pushRaw(operand.Imm)
	return cont(act.ip + 1), nil
}

func hRefNull(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	vm.values.pushNull()
	return cont(act.ip + 1), nil
}

func hRefIsNull(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	v := vm.values.popInt32()
	vm.values.pushInt32(boolToInt32(v == NullReference))
	return cont(act.ip + 1), nil
}

func hRefFunc(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	addr := act.frame.Module.FuncAddrs[operand.Idx]
	vm.values.pushInt32(int32(addr))
	return cont(act.ip + 1), nil
}

func hMemoryInit(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	mem := vm.store.memories[act.frame.Module.MemAddrs[0]]
	data := &vm.store.datas[act.frame.Module.DataAddrs[operand.Idx]]
	n := uint32(vm.values.popInt32())
	src := uint32(vm.values.popInt32())
	dst := uint32(vm.values.popInt32())
	if data.dropped {
		if n == 0 {
			return cont(act.ip + 1), nil
		}
		return handlerOutcome{}, newTrap("memory.init: segment dropped", nil)
	}
	if err := mem.Init(n, src, dst, data.content); err != nil {
		return handlerOutcome{}, newTrap("memory.init out of bounds", err)
	}
	return cont(act.ip + 1), nil
}

func hDataDrop(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	vm.store.datas[act.frame.Module.DataAddrs[operand.Idx]].dropped = true
	return cont(act.ip + 1), nil
}

func hMemoryCopy(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	mem := vm.store.memories[act.frame.Module.MemAddrs[0]]
	n := uint32(vm.values.popInt32())
	src := uint32(vm.values.popInt32())
	dst := uint32(vm.values.popInt32())
	if err := mem.Copy(mem, n, src, dst); err != nil {
		return handlerOutcome{}, newTrap("memory.copy out of bounds", err)
	}
	return cont(act.ip + 1), nil
}

func hMemoryFill(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	mem := vm.store.memories[act.frame.Module.MemAddrs[0]]
	n := uint32(vm.values.popInt32())
	val := byte(vm.values.popInt32())
	dst := uint32(vm.values.popInt32())
	if err := mem.Fill(n, dst, val); err != nil {
		return handlerOutcome{}, newTrap("memory.fill out of bounds", err)
	}
	return cont(act.ip + 1), nil
}

func hTableInit(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	table := vm.store.tables[act.frame.Module.TableAddrs[operand.Idx2]]
	elem := &vm.store.elements[act.frame.Module.ElemAddrs[operand.Idx]]
	n := vm.values.popInt32()
	src := vm.values.popInt32()
	dst := vm.values.popInt32()
	if elem.dropped {
		if n == 0 {
			return cont(act.ip + 1), nil
		}
		return handlerOutcome{}, newTrap("table.init: segment dropped", nil)
	}
	if err := table.Init(n, dst, src, elem.refs); err != nil {
		return handlerOutcome{}, newTrap("table.init out of bounds", err)
	}
	return cont(act.ip + 1), nil
}

func hElemDrop(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	vm.store.elements[act.frame.Module.ElemAddrs[operand.Idx]].dropped = true
	return cont(act.ip + 1), nil
}

func hTableCopy(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	dstTable := vm.store.tables[act.frame.Module.TableAddrs[operand.Idx]]
	srcTable := vm.store.tables[act.frame.Module.TableAddrs[operand.Idx2]]
	n := vm.values.popInt32()
	src := vm.values.popInt32()
	dst := vm.values.popInt32()
	if err := srcTable.Copy(dstTable, n, src, dst); err != nil {
		return handlerOutcome{}, newTrap("table.copy out of bounds", err)
	}
	return cont(act.ip + 1), nil
}

func hTableGrow(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	table := vm.store.tables[act.frame.Module.TableAddrs[operand.Idx]]
	n := vm.values.popInt32()
	val := vm.values.popInt32()
	vm.values.pushInt32(table.Grow(n, val))
	return cont(act.ip + 1), nil
}

func hTableSize(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	table := vm.store.tables[act.frame.Module.TableAddrs[operand.Idx]]
	vm.values.pushInt32(table.Size())
	return cont(act.ip + 1), nil
}

func hTableFill(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	table := vm.store.tables[act.frame.Module.TableAddrs[operand.Idx]]
	n := vm.values.popInt32()
	val := vm.values.popInt32()
	dst := vm.values.popInt32()
	if err := table.Fill(n, dst, val); err != nil {
		return handlerOutcome{}, newTrap("table.fill out of bounds", err)
	}
	return cont(act.ip + 1), nil
}

func hV128Load(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	mem := vm.store.memories[act.frame.Module.MemAddrs[0]]
	addr := readUnary(vm, act, operand)
	bytes, err := mem.Get(operand.MemArg.Offset, uint32(addr.int32()), 16)
	if err != nil {
		return handlerOutcome{}, newTrap("v128.load out of bounds", err)
	}
	var lo, hi uint64
	for i := 0; i < 8; i++ {
		lo |= uint64(bytes[i]) << (8 * i)
		hi |= uint64(bytes[i+8]) << (8 * i)
	}
	writeResult(vm, act, operand, v128(V128Value{Low: lo, High: hi}))
	return cont(act.ip + 1), nil
}

func hV128Store(vm *VM, act *activation, operand *Operand) (handlerOutcome, error) {
	mem := vm.store.memories[act.frame.Module.MemAddrs[0]]
	a, b := readBinary(vm, act, operand)
	v := b.v128()
	buf := make([]byte, 16)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v.Low >> (8 * i))
		buf[i+8] = byte(v.High >> (8 * i))
	}
	if err := mem.Set(operand.MemArg.Offset, uint32(a.int32()), buf); err != nil {
		return handlerOutcome{}, newTrap("v128.store out of bounds", err)
	}
	return cont(act.ip + 1), nil
}

// Operand_hasElse reports whether an if-instruction's operand resolved to an
// else clause distinct from its end (set during preprocessing).
func (o *Operand) Operand_hasElse() bool {
	return o.Block.ElseIP != o.Block.EndIP
}
