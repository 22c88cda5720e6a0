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
	"testing"

	"github.com/chiwawa-project/chiwawa/wabt"
)

// TestMemoryCopyOverlapDstAfterSrc is spec scenario 3: copying 8 bytes of
// distinct marker values to a destination that overlaps and starts after
// the source. A naive forward byte-by-byte copy would overwrite source
// bytes before they are read and smear the first copied value across the
// rest of the range; a correct memmove-style copy preserves every value.
func TestMemoryCopyOverlapDstAfterSrc(t *testing.T) {
	wasm, err := wabt.Wat2Wasm(`(module
		(memory 1)
		(export "memory" (memory 0))
		(data (i32.const 0) "\01\02\03\04\05\06\07\08")
		(func (export "run")
			(memory.copy (i32.const 4) (i32.const 0) (i32.const 8)))
	)`)
	if err != nil {
		t.Fatalf("wat2wasm: %v", err)
	}

	instance, err := NewRuntime().InstantiateModuleFromBytes(wasm)
	if err != nil {
		t.Fatalf("failed to instantiate module: %v", err)
	}

	if _, err := instance.Invoke("run"); err != nil {
		t.Fatalf("failed to invoke run: %v", err)
	}

	mem, err := instance.GetMemory("memory")
	if err != nil {
		t.Fatalf("failed to get memory: %v", err)
	}

	got, err := mem.Get(0, 0, 12)
	if err != nil {
		t.Fatalf("failed to read memory: %v", err)
	}
	want := []byte{1, 2, 3, 4, 1, 2, 3, 4, 5, 6, 7, 8}
	if !bytes.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

// TestMemoryGrowBeyondMaxFails exercises the boundary behavior from spec.md
// §8: growing past the declared max returns -1 and leaves memory unchanged.
func TestMemoryGrowBeyondMaxFails(t *testing.T) {
	wasm, err := wabt.Wat2Wasm(`(module
		(memory 1 1)
		(func (export "grow") (param $delta i32) (result i32)
			local.get $delta
			memory.grow)
	)`)
	if err != nil {
		t.Fatalf("wat2wasm: %v", err)
	}

	instance, err := NewRuntime().InstantiateModuleFromBytes(wasm)
	if err != nil {
		t.Fatalf("failed to instantiate module: %v", err)
	}

	results, err := instance.Invoke("grow", int32(1))
	if err != nil {
		t.Fatalf("failed to invoke grow: %v", err)
	}
	if results[0].(int32) != -1 {
		t.Fatalf("expected -1, got %d", results[0])
	}
}

// TestDivisionBoundaryTraps exercises two more of spec.md §8's boundary
// behaviors: signed division overflow and unsigned division by zero.
func TestDivisionBoundaryTraps(t *testing.T) {
	wasm, err := wabt.Wat2Wasm(`(module
		(func (export "divS") (param $a i32) (param $b i32) (result i32)
			local.get $a
			local.get $b
			i32.div_s)
		(func (export "divU") (param $a i32) (param $b i32) (result i32)
			local.get $a
			local.get $b
			i32.div_u)
	)`)
	if err != nil {
		t.Fatalf("wat2wasm: %v", err)
	}

	instance, err := NewRuntime().InstantiateModuleFromBytes(wasm)
	if err != nil {
		t.Fatalf("failed to instantiate module: %v", err)
	}

	if _, err := instance.Invoke("divS", int32(-2147483648), int32(-1)); err == nil {
		t.Fatalf("expected i32.div_s(INT_MIN, -1) to trap")
	}
	if _, err := instance.Invoke("divU", int32(10), int32(0)); err == nil {
		t.Fatalf("expected i32.div_u(x, 0) to trap")
	}
}
