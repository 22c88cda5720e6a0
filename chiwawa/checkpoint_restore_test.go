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
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/chiwawa-project/chiwawa/wabt"
)

const leibnizWat = `(module
	(import "host" "tick" (func $tick))
	(global $sum (mut f64) (f64.const 0))
	(func (export "leibniz") (param $n i32)
		(local $i i32)
		(local $sign f64)
		(local $denom f64)
		(local.set $sign (f64.const 1))
		(local.set $denom (f64.const 1))
		(block $exit
			(loop $continue
				(br_if $exit (i32.ge_s (local.get $i) (local.get $n)))
				(global.set $sum (f64.add (global.get $sum) (f64.div (local.get $sign) (local.get $denom))))
				(local.set $sign (f64.neg (local.get $sign)))
				(local.set $denom (f64.add (local.get $denom) (f64.const 2)))
				(local.set $i (i32.add (local.get $i) (i32.const 1)))
				(call $tick)
				(br $continue)
			)
		)
	)
	(func (export "sum") (result f64)
		global.get $sum)
)`

func noopTickImports() map[string]map[string]any {
	return NewModuleImportBuilder("host").
		AddHostFunc("tick", func(m *ModuleInstance, args ...any) []any { return nil }).
		Build()
}

// TestCheckpointRestoreRoundTrip is spec scenario 4: a long-running loop is
// interrupted mid-way by a checkpoint trigger, restored into a freshly
// instantiated VM, and resumed to completion. The resumed result must match
// an uninterrupted run of the same function exactly.
func TestCheckpointRestoreRoundTrip(t *testing.T) {
	wasm, err := wabt.Wat2Wasm(leibnizWat)
	if err != nil {
		t.Fatalf("wat2wasm: %v", err)
	}
	const iterations = 2000

	reference := NewRuntime()
	refInstance, err := reference.InstantiateModuleWithImports(bytes.NewReader(wasm), noopTickImports())
	if err != nil {
		t.Fatalf("failed to instantiate reference module: %v", err)
	}
	if _, err := refInstance.Invoke("leibniz", int32(iterations)); err != nil {
		t.Fatalf("failed to run reference leibniz: %v", err)
	}
	refSum, err := refInstance.Invoke("sum")
	if err != nil {
		t.Fatalf("failed to read reference sum: %v", err)
	}

	dir := t.TempDir()
	checkpointPath := filepath.Join(dir, "checkpoint.bin")
	triggerPath := filepath.Join(dir, "checkpoint.trigger")

	var calls atomic.Int64
	triggerImports := NewModuleImportBuilder("host").
		AddHostFunc("tick", func(m *ModuleInstance, args ...any) []any {
			if calls.Add(1) == iterations/2 {
				if f, err := os.Create(triggerPath); err == nil {
					f.Close()
				}
			}
			return nil
		}).
		Build()

	config := DefaultConfig()
	config.CheckpointPath = checkpointPath
	config.CheckpointTriggerPath = triggerPath
	interrupted := NewRuntime().WithConfig(config)
	defer interrupted.Close()

	interruptedInstance, err := interrupted.InstantiateModuleWithImports(bytes.NewReader(wasm), triggerImports)
	if err != nil {
		t.Fatalf("failed to instantiate interrupted module: %v", err)
	}

	_, err = interruptedInstance.Invoke("leibniz", int32(iterations))
	if !IsCheckpointTaken(err) {
		t.Fatalf("expected IsCheckpointTaken, got %v", err)
	}
	if _, err := os.Stat(checkpointPath); err != nil {
		t.Fatalf("expected checkpoint file to exist: %v", err)
	}

	resumed := NewRuntime()
	defer resumed.Close()
	resumedInstance, _, err := resumed.RestoreModule(bytes.NewReader(wasm), checkpointPath, triggerImports)
	if err != nil {
		t.Fatalf("failed to restore and resume: %v", err)
	}

	resumedSum, err := resumedInstance.Invoke("sum")
	if err != nil {
		t.Fatalf("failed to read resumed sum: %v", err)
	}

	if resumedSum[0].(float64) != refSum[0].(float64) {
		t.Fatalf("resumed sum %v does not match reference sum %v", resumedSum[0], refSum[0])
	}
}
