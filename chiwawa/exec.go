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
	"fmt"

	"github.com/chiwawa-project/chiwawa/internal/telemetry"
	"go.uber.org/zap"
)

type labelKind uint8

const (
	labelBlock labelKind = iota
	labelLoop
	labelIf
)

// label is the runtime counterpart of a preprocessed Block/LabelIdx: it
// remembers where a branch targeting it should land and how much of the
// value stack to keep. Branch resolution against Operand.Label gives the
// static target instruction and arity ahead of time; the height it unwinds
// to is inherently dynamic, so it is read from here rather than recomputed.
type label struct {
	kind                    labelKind
	arity                   int
	continuationIP          int
	valueStackHeightAtEntry uint
}

// frame holds one function call's locals and the module instance it runs
// against.
type frame struct {
	Locals      []value
	Module      *ModuleInstance
	Arity       int
	ResultTypes []ValueType
}

// activation is one call's worth of running state: its frame, its live
// label stack, and its instruction pointer into the callee's preprocessed
// Program. It collapses what a literal reading of separate label and frame
// stacks would keep apart, since chiwawa has exactly one label stack per
// call and never needs to address them independently.
type activation struct {
	frame          *frame
	labels         []label
	ip             int
	valueStackBase uint
	program        *Program
}

// VM is a self-contained WebAssembly execution engine: one store, one
// shared operand stack, and the call stack of activations currently
// suspended waiting on a nested call. Keeping the call stack explicit
// (rather than recursing through Go function calls) is what lets checkpoint
// serialize and later resume it exactly where execution left off.
type VM struct {
	config     Config
	store      *Store
	values     *valueStack
	calls      []*activation
	checkpoint *checkpointController
	stats      Stats
}

// Stats holds the execution counters spec.md's --stats flag reports.
type Stats struct {
	InstructionsExecuted uint64
	CallsDispatched      uint64
}

// Stats returns a snapshot of the VM's execution counters.
func (vm *VM) Stats() Stats { return vm.stats }

func NewVM(config Config) *VM {
	vm := &VM{
		config: config,
		store:  NewStore(),
		values: newValueStack(),
	}
	vm.checkpoint = newCheckpointController(vm, config)
	return vm
}

// dispatchCall resolves a call instruction to either an inline host call or
// a pushed guest activation. A function-call boundary is the only safe
// point the checkpoint mechanism recognizes: the value stack here always
// matches the static type expectation of the next instruction, and no fold
// window (see fold.go) is ever open across a call. The check happens
// before current.ip advances, so a checkpoint taken here saves ip pointing
// at the call instruction itself; resuming re-executes the call.
func (vm *VM) dispatchCall(current *activation, fn FunctionInstance) (handlerOutcome, error) {
	if vm.checkpoint != nil && vm.checkpoint.consumeTrigger() {
		if err := vm.checkpoint.writeCheckpoint(); err != nil {
			// A failed write resets the trigger and execution continues;
			// the caller can still inspect checkpoint.LastError().
			vm.checkpoint.lastErr = &CheckpointError{Op: "write", Err: err}
			telemetry.Logger().Error("checkpoint write failed",
				zap.String("path", vm.checkpoint.outPath), zap.Error(err))
		} else {
			telemetry.Logger().Info("checkpoint written", zap.String("path", vm.checkpoint.outPath))
			return handlerOutcome{}, errCheckpointTaken
		}
	}
	current.ip++
	switch f := fn.(type) {
	case *HostFunction:
		args := vm.values.popValueTypes(f.Type.ParamTypes)
		results := f.HostCode(current.frame.Module, args...)
		vm.values.pushAll(results)
		return cont(current.ip), nil
	case *WasmFunction:
		if len(vm.calls) >= vm.config.MaxCallStackDepth {
			return handlerOutcome{}, newTrap("call stack exhausted", nil)
		}
		vm.calls = append(vm.calls, vm.newActivation(f))
		return handlerOutcome{ctrl: ctrlInvoke}, nil
	default:
		return handlerOutcome{}, newTrap(fmt.Sprintf("unresolvable function %T", fn), nil)
	}
}

func (vm *VM) newActivation(fn *WasmFunction) *activation {
	args := vm.values.popRawN(uint(len(fn.Type.ParamTypes)))
	locals := make([]value, len(fn.Program.LocalTypes))
	copy(locals, args)
	for i := len(args); i < len(locals); i++ {
		locals[i] = defaultValue(fn.Program.LocalTypes[i])
	}
	return &activation{
		frame: &frame{
			Locals:      locals,
			Module:      fn.Module,
			Arity:       len(fn.Type.ResultTypes),
			ResultTypes: fn.Type.ResultTypes,
		},
		valueStackBase: vm.values.size(),
		program:        fn.Program,
	}
}

// run drives the call stack to completion: it never recurses through Go's
// own call stack, so a checkpoint taken between instructions can serialize
// every activation in vm.calls and later rebuild this exact loop state.
func (vm *VM) run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			vm.calls = nil
			if asErr, ok := r.(error); ok {
				err = asErr
				return
			}
			err = newTrap(fmt.Sprintf("%v", r), nil)
		}
	}()

	for len(vm.calls) > 0 {
		act := vm.calls[len(vm.calls)-1]
		if act.ip >= len(act.program.Instrs) {
			vm.values.unwind(act.valueStackBase, uint(act.frame.Arity))
			vm.calls = vm.calls[:len(vm.calls)-1]
			continue
		}
		instr := &act.program.Instrs[act.ip]
		vm.stats.InstructionsExecuted++
		outcome, err := handlerTable[instr.Handler](vm, act, &instr.Operand)
		if err != nil {
			vm.calls = nil
			return err
		}
		switch outcome.ctrl {
		case ctrlContinue:
			act.ip = outcome.nextIP
		case ctrlReturn:
			vm.calls = vm.calls[:len(vm.calls)-1]
		case ctrlInvoke:
			vm.stats.CallsDispatched++
		}
	}
	return nil
}

func (vm *VM) invokeExport(module *ModuleInstance, name string, args []any) ([]any, error) {
	fn, err := module.GetFunction(name)
	if err != nil {
		return nil, err
	}
	return vm.invokeFunction(fn, args)
}

func (vm *VM) invokeFunction(fn FunctionInstance, args []any) ([]any, error) {
	vm.values.pushAll(args)
	switch f := fn.(type) {
	case *HostFunction:
		params := vm.values.popValueTypes(f.Type.ParamTypes)
		return f.HostCode(nil, params...), nil
	case *WasmFunction:
		if len(vm.calls) >= vm.config.MaxCallStackDepth {
			return nil, newTrap("call stack exhausted", nil)
		}
		vm.calls = append(vm.calls, vm.newActivation(f))
		if err := vm.run(); err != nil {
			return nil, err
		}
		return vm.values.popValueTypes(f.Type.ResultTypes), nil
	default:
		return nil, fmt.Errorf("unresolvable function %T", fn)
	}
}

// instantiate allocates store entries for every import and module-defined
// function/table/memory/global, initializes tables and memory from element
// and data segments, preprocesses every module-defined function body into a
// Program, and runs the start function if present.
func (vm *VM) instantiate(module *Module, imports map[string]map[string]any) (*ModuleInstance, error) {
	resolved, err := ResolveImports(module, imports)
	if err != nil {
		return nil, err
	}

	mi := &ModuleInstance{Types: module.Types, vm: vm}

	for _, f := range resolved.Functions {
		mi.FuncAddrs = append(mi.FuncAddrs, uint32(len(vm.store.funcs)))
		vm.store.funcs = append(vm.store.funcs, f)
	}
	for _, t := range resolved.Tables {
		mi.TableAddrs = append(mi.TableAddrs, uint32(len(vm.store.tables)))
		vm.store.tables = append(vm.store.tables, t)
	}
	for _, m := range resolved.Memories {
		mi.MemAddrs = append(mi.MemAddrs, uint32(len(vm.store.memories)))
		vm.store.memories = append(vm.store.memories, m)
	}
	for _, g := range resolved.Globals {
		mi.GlobalAddrs = append(mi.GlobalAddrs, uint32(len(vm.store.globals)))
		vm.store.globals = append(vm.store.globals, g)
	}

	wasmFuncs := make([]*WasmFunction, len(module.Funcs))
	for i, fn := range module.Funcs {
		wf := NewWasmFunction(module.Types[fn.TypeIndex], mi, fn)
		wasmFuncs[i] = wf
		mi.FuncAddrs = append(mi.FuncAddrs, uint32(len(vm.store.funcs)))
		vm.store.funcs = append(vm.store.funcs, wf)
	}

	for _, tt := range module.Tables {
		mi.TableAddrs = append(mi.TableAddrs, uint32(len(vm.store.tables)))
		vm.store.tables = append(vm.store.tables, NewTable(tt))
	}
	for _, mt := range module.Memories {
		mi.MemAddrs = append(mi.MemAddrs, uint32(len(vm.store.memories)))
		vm.store.memories = append(vm.store.memories, NewMemory(mt))
	}
	for _, gv := range module.GlobalVariables {
		v, err := evalConstExpr(mi, gv.InitExpression)
		if err != nil {
			return nil, fmt.Errorf("global initializer: %w", err)
		}
		g := newGlobal(v.anyValueType(gv.GlobalType.ValueType), gv.GlobalType.IsMutable, gv.GlobalType.ValueType)
		mi.GlobalAddrs = append(mi.GlobalAddrs, uint32(len(vm.store.globals)))
		vm.store.globals = append(vm.store.globals, g)
	}

	for _, seg := range module.ElementSegments {
		refs, err := elementRefs(mi, seg)
		if err != nil {
			return nil, fmt.Errorf("element segment: %w", err)
		}
		elem := elementInstance{kind: seg.Kind, refs: refs}
		if seg.Mode == DeclarativeElementMode {
			elem.dropped = true
		}
		mi.ElemAddrs = append(mi.ElemAddrs, uint32(len(vm.store.elements)))
		vm.store.elements = append(vm.store.elements, elem)

		if seg.Mode == ActiveElementMode {
			offsetVal, err := evalConstExpr(mi, seg.OffsetExpression)
			if err != nil {
				return nil, fmt.Errorf("element offset: %w", err)
			}
			table := vm.store.tables[mi.TableAddrs[seg.TableIndex]]
			if err := table.InitFromSlice(offsetVal.int32(), refs); err != nil {
				return nil, &Trap{Reason: "element segment out of bounds", Err: err}
			}
		}
	}

	for _, seg := range module.DataSegments {
		data := dataInstance{content: seg.Content}
		mi.DataAddrs = append(mi.DataAddrs, uint32(len(vm.store.datas)))
		vm.store.datas = append(vm.store.datas, data)

		if seg.Mode == ActiveDataMode {
			offsetVal, err := evalConstExpr(mi, seg.OffsetExpression)
			if err != nil {
				return nil, fmt.Errorf("data offset: %w", err)
			}
			mem := vm.store.memories[mi.MemAddrs[seg.MemoryIndex]]
			if err := mem.Init(uint32(len(seg.Content)), 0, uint32(offsetVal.int32()), seg.Content); err != nil {
				return nil, &Trap{Reason: "data segment out of bounds", Err: err}
			}
		}
	}

	for i, fn := range module.Funcs {
		program, err := preprocessFunction(module, uint32(i), &fn, vm.config.EnableSuperinstructions)
		if err != nil {
			return nil, err
		}
		wasmFuncs[i].Program = program
	}

	for _, exp := range module.Exports {
		mi.Exports = append(mi.Exports, ExportInstance{
			Name:  exp.Name,
			Kind:  exp.IndexType,
			Value: exportValue(vm, mi, exp),
		})
	}

	if module.StartIndex != nil {
		startFn := vm.store.funcs[mi.FuncAddrs[*module.StartIndex]]
		if _, err := vm.invokeFunction(startFn, nil); err != nil {
			return nil, err
		}
	}

	return mi, nil
}

func exportValue(vm *VM, mi *ModuleInstance, exp Export) any {
	switch exp.IndexType {
	case FunctionIndexType:
		return vm.store.funcs[mi.FuncAddrs[exp.Index]]
	case TableIndexType:
		return vm.store.tables[mi.TableAddrs[exp.Index]]
	case MemoryIndexType:
		return vm.store.memories[mi.MemAddrs[exp.Index]]
	case GlobalIndexType:
		return vm.store.globals[mi.GlobalAddrs[exp.Index]]
	default:
		return nil
	}
}

// elementRefs resolves an element segment's function references to store
// addresses, either directly from FuncIndexes or by evaluating each of
// FuncIndexesExpressions as a constant expression.
func elementRefs(mi *ModuleInstance, seg ElementSegment) ([]int32, error) {
	if len(seg.FuncIndexesExpressions) > 0 {
		refs := make([]int32, len(seg.FuncIndexesExpressions))
		for i, expr := range seg.FuncIndexesExpressions {
			v, err := evalConstExpr(mi, expr)
			if err != nil {
				return nil, err
			}
			refs[i] = v.int32()
		}
		return refs, nil
	}
	refs := make([]int32, len(seg.FuncIndexes))
	for i, idx := range seg.FuncIndexes {
		refs[i] = int32(mi.FuncAddrs[idx])
	}
	return refs, nil
}

// evalConstExpr evaluates a WASM constant expression: exactly one of
// {i32,i64,f32,f64}.const, global.get of an already-instantiated global, or
// ref.null/ref.func, followed by end. It is used only during instantiate,
// never on the hot execution path.
func evalConstExpr(mi *ModuleInstance, code []byte) (value, error) {
	dec := NewDecoder(code)
	instr, err := dec.Decode()
	if err != nil {
		return value{}, err
	}
	var result value
	switch instr.Opcode {
	case I32Const:
		result = i32(instr.I32)
	case I64Const:
		result = i64(instr.I64)
	case F32Const:
		result = f32(instr.F32)
	case F64Const:
		result = f64(instr.F64)
	case GlobalGet:
		if int(instr.Idx) >= len(mi.GlobalAddrs) {
			return value{}, fmt.Errorf("const expr references undefined global %d", instr.Idx)
		}
		result = mi.vm.store.globals[mi.GlobalAddrs[instr.Idx]].get()
	case RefNull:
		result = i32(NullReference)
	case RefFunc:
		result = i32(int32(mi.FuncAddrs[instr.Idx]))
	default:
		return value{}, fmt.Errorf("unsupported constant expression opcode %s", instr.Opcode)
	}
	if _, err := dec.Decode(); err != nil {
		return value{}, err
	}
	return result, nil
}
