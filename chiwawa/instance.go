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
	"fmt"

	"github.com/chiwawa-project/chiwawa/internal/telemetry"
	"go.uber.org/zap"
)

// ExportInstance represents the runtime representation of an export.
type ExportInstance struct {
	Name  string
	Kind  IndexType
	Value any
}

// ModuleInstance is the runtime representation of a module: the module's
// static structure (types, export table) plus the store addresses it
// allocated during instantiate.
type ModuleInstance struct {
	Types       []FunctionType
	FuncAddrs   []uint32
	TableAddrs  []uint32
	MemAddrs    []uint32
	GlobalAddrs []uint32
	ElemAddrs   []uint32
	DataAddrs   []uint32
	Exports     []ExportInstance
	vm          *VM // internal reference to resolve exports and invoke code
}

// Invoke calls an exported function by name with the given arguments.
//
// Args can be int32, int64, float32, float64, or V128Value. The function
// returns a slice of results as []any, which can be type-asserted to the
// appropriate types.
func (m *ModuleInstance) Invoke(name string, args ...any) ([]any, error) {
	results, err := m.vm.invokeExport(m, name, args)
	var trap *Trap
	if errors.As(err, &trap) {
		telemetry.Logger().Warn("guest trap", zap.String("export", name), zap.String("reason", trap.Reason))
	}
	return results, err
}

// GetMemory returns an exported memory by name.
func (m *ModuleInstance) GetMemory(name string) (*Memory, error) {
	export, err := getExport(m, name, MemoryExportKind)
	if err != nil {
		return nil, err
	}
	return export.(*Memory), nil
}

// GetTable returns an exported table by name.
func (m *ModuleInstance) GetTable(name string) (*Table, error) {
	export, err := getExport(m, name, TableExportKind)
	if err != nil {
		return nil, err
	}
	return export.(*Table), nil
}

// GetGlobal returns the value of an exported global by name.
func (m *ModuleInstance) GetGlobal(name string) (any, error) {
	export, err := getExport(m, name, GlobalExportKind)
	if err != nil {
		return nil, err
	}
	return export.(*Global).Value, nil
}

// GetFunction returns an exported function by name.
func (m *ModuleInstance) GetFunction(name string) (FunctionInstance, error) {
	export, err := getExport(m, name, FunctionExportKind)
	if err != nil {
		return nil, err
	}
	return export.(FunctionInstance), nil
}

func getExport(m *ModuleInstance, name string, kind IndexType) (any, error) {
	for _, export := range m.Exports {
		if export.Name == name && export.Kind == kind {
			return export.Value, nil
		}
	}
	return nil, fmt.Errorf("no %v export named %q", kind, name)
}

// FunctionInstance is either a WasmFunction (guest code, preprocessed into a
// dense handler-table program) or a HostFunction (forwarded to Go code
// through the host call bridge).
type FunctionInstance interface {
	GetType() *FunctionType
}

// WasmFunction is the runtime representation of a function defined in WASM.
// Unlike the teacher's lazy per-call jump cache, Program is computed once,
// eagerly, by the preprocessor at instantiation time: every branch target in
// it is already resolved, so invoking the function never re-derives control
// flow.
type WasmFunction struct {
	Type    FunctionType
	Module  *ModuleInstance
	Code    Function
	Program *Program
}

func NewWasmFunction(
	funcType FunctionType,
	module *ModuleInstance,
	code Function,
) *WasmFunction {
	return &WasmFunction{Type: funcType, Module: module, Code: code}
}

func (wf *WasmFunction) GetType() *FunctionType { return &wf.Type }

// HostFunction represents a function defined by the host environment and
// forwarded to it through the host call bridge. HostCode receives the
// calling module instance (so it can read/write that module's exported
// memory) followed by the call's arguments.
type HostFunction struct {
	Type     FunctionType
	HostCode func(*ModuleInstance, ...any) []any
}

func (hf *HostFunction) GetType() *FunctionType { return &hf.Type }

// Store represents all global state that can be manipulated by WebAssembly
// programs. It consists of the runtime representation of all instances of
// functions, tables, memories, globals, element segments, and data segments
// that have been allocated during the life time of the VM.
type Store struct {
	funcs    []FunctionInstance
	tables   []*Table
	memories []*Memory
	globals  []*Global
	elements []elementInstance
	datas    []dataInstance
}

// elementInstance is the runtime, droppable form of an ElementSegment: its
// funcref contents, and whether elem.drop has run. A drop sets dropped and
// keeps refs as they were.
type elementInstance struct {
	kind    ReferenceType
	refs    []int32
	dropped bool
}

// dataInstance is the runtime, droppable form of a DataSegment.
type dataInstance struct {
	content []byte
	dropped bool
}

// Global is a global variable. Value is the boxed host-facing view; internal
// holds the same value in the flat representation the execution core and
// checkpoint serializer operate on, kept in sync by get/set.
type Global struct {
	Value    any
	Mutable  bool
	Type     ValueType
	internal value
}

func newGlobal(v any, mutable bool, t ValueType) *Global {
	low, high := anyToU64(v)
	return &Global{Value: v, Mutable: mutable, Type: t, internal: value{low: low, high: high}}
}

func (g *Global) get() value {
	return g.internal
}

func (g *Global) set(v value) {
	g.internal = v
	g.Value = v.anyValueType(g.Type)
}

func NewStore() *Store {
	return &Store{
		funcs:    []FunctionInstance{},
		tables:   []*Table{},
		memories: []*Memory{},
		globals:  []*Global{},
		elements: []elementInstance{},
		datas:    []dataInstance{},
	}
}
