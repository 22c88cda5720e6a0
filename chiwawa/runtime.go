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
	"bytes"
	"io"
	"maps"

	"github.com/chiwawa-project/chiwawa/internal/telemetry"
	"go.uber.org/zap"
)

// Runtime provides the main API for instantiating and interacting with WASM
// modules.
type Runtime struct {
	vm     *VM
	config Config
}

// NewRuntime creates a new Runtime with default settings.
func NewRuntime() *Runtime {
	return &Runtime{config: DefaultConfig()}
}

// WithConfig sets the configuration for the runtime. Must be called before
// instantiating any modules.
func (r *Runtime) WithConfig(config Config) *Runtime {
	r.config = config
	return r
}

// InstantiateModule parses and instantiates a WASM module from an io.Reader.
func (r *Runtime) InstantiateModule(wasm io.Reader) (*ModuleInstance, error) {
	return r.InstantiateModuleWithImports(wasm, map[string]map[string]any{})
}

// InstantiateModuleWithImports parses and instantiates a WASM module with
// imports.
func (r *Runtime) InstantiateModuleWithImports(
	wasm io.Reader,
	imports ...map[string]map[string]any,
) (*ModuleInstance, error) {
	r.ensureVm()
	module, err := NewParser(wasm).Parse()
	if err != nil {
		return nil, err
	}

	merged := make(map[string]map[string]any)
	for _, importMap := range imports {
		for moduleName, exports := range importMap {
			if _, exists := merged[moduleName]; !exists {
				merged[moduleName] = make(map[string]any)
			}
			maps.Copy(merged[moduleName], exports)
		}
	}

	mi, err := r.vm.instantiate(module, merged)
	if err != nil {
		telemetry.Logger().Warn("module instantiation failed", zap.Error(err))
		return nil, err
	}
	telemetry.Logger().Debug("module instantiated", zap.Int("exports", len(mi.Exports)))
	return mi, nil
}

// InstantiateModuleFromBytes is a convenience method to instantiate a WASM
// module from a byte slice.
func (r *Runtime) InstantiateModuleFromBytes(
	data []byte,
) (*ModuleInstance, error) {
	return r.InstantiateModule(bytes.NewReader(data))
}

func (r *Runtime) ensureVm() {
	if r.vm == nil {
		r.vm = NewVM(r.config)
	}
}

// RestoreModule instantiates a module exactly as InstantiateModuleWithImports
// does (so the Store, memories, tables, and preprocessed programs all exist
// with the right shapes), then overwrites that freshly-built state from a
// checkpoint file and resumes execution from the call the checkpoint was
// taken at. The returned results are those of the originally invoked export,
// available once the resumed call stack fully unwinds.
func (r *Runtime) RestoreModule(
	wasm io.Reader,
	checkpointPath string,
	imports ...map[string]map[string]any,
) (*ModuleInstance, []any, error) {
	mi, err := r.InstantiateModuleWithImports(wasm, imports...)
	if err != nil {
		return nil, nil, err
	}
	if err := r.vm.Restore(checkpointPath); err != nil {
		telemetry.Logger().Error("checkpoint restore failed", zap.String("path", checkpointPath), zap.Error(err))
		return nil, nil, err
	}
	telemetry.Logger().Info("resuming from checkpoint", zap.String("path", checkpointPath))
	results, err := r.vm.Resume()
	return mi, results, err
}

// Close stops any background checkpoint trigger watcher. Safe to call even
// if no VM was ever instantiated or no checkpoint trigger path was set.
func (r *Runtime) Close() {
	if r.vm != nil && r.vm.checkpoint != nil {
		r.vm.checkpoint.stop()
	}
}

// LastCheckpointError returns the most recent checkpoint write failure, or
// nil if checkpointing is disabled or every attempt has succeeded.
func (r *Runtime) LastCheckpointError() error {
	if r.vm == nil || r.vm.checkpoint == nil {
		return nil
	}
	return r.vm.checkpoint.LastError()
}

// Stats returns the runtime's execution counters, for the CLI's --stats
// flag. Zero-valued if no module has been instantiated yet.
func (r *Runtime) Stats() Stats {
	if r.vm == nil {
		return Stats{}
	}
	return r.vm.Stats()
}

// ModuleImportBuilder provides a fluent, type-safe API for building import
// objects for a specific WASM module.
//
// Example:
//
//	envImports := chiwawa.NewModuleImportBuilder("env").
//	    AddHostFunc("log", func(m *chiwawa.ModuleInstance, args ...any) []any {
//	        fmt.Println("WASM says:", args[0])
//	        return nil
//	    }).
//	    AddMemory("memory", chiwawa.NewMemory(chiwawa.MemoryType{
//	        Limits: chiwawa.Limits{Min: 1},
//	    })).
//	    AddGlobal("offset", int32(1024), false, chiwawa.I32).
//	    Build()
//
//	instance, err := runtime.InstantiateModuleWithImports(wasmReader, envImports)
type ModuleImportBuilder struct {
	moduleName string
	imports    map[string]any
}

func NewModuleImportBuilder(moduleName string) *ModuleImportBuilder {
	return &ModuleImportBuilder{
		moduleName: moduleName,
		imports:    make(map[string]any),
	}
}

func (b *ModuleImportBuilder) AddHostFunc(
	name string,
	fn func(*ModuleInstance, ...any) []any,
) *ModuleImportBuilder {
	b.imports[name] = fn
	return b
}

func (b *ModuleImportBuilder) AddMemory(
	name string,
	memory *Memory,
) *ModuleImportBuilder {
	b.imports[name] = memory
	return b
}

func (b *ModuleImportBuilder) AddTable(
	name string,
	table *Table,
) *ModuleImportBuilder {
	b.imports[name] = table
	return b
}

func (b *ModuleImportBuilder) AddGlobal(
	name string,
	value any,
	mutable bool,
	valueType ValueType,
) *ModuleImportBuilder {
	b.imports[name] = newGlobal(value, mutable, valueType)
	return b
}

// AddModuleExports adds all exports from a ModuleInstance as imports.
// This is useful when you want to import functions, memories, tables, or
// globals from one module into another.
func (b *ModuleImportBuilder) AddModuleExports(
	instance *ModuleInstance,
) *ModuleImportBuilder {
	for _, export := range instance.Exports {
		b.imports[export.Name] = export.Value
	}
	return b
}

func (b *ModuleImportBuilder) Build() map[string]map[string]any {
	return map[string]map[string]any{
		b.moduleName: b.imports,
	}
}
