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

import "testing"

func handlerOf(op Opcode) HandlerID {
	return opcodeHandler[op]
}

func TestFoldOperandsBinarySourceFold(t *testing.T) {
	prog := &Program{
		Instrs: []ProcessedInstr{
			{Handler: handlerOf(LocalGet), Operand: Operand{Idx: 0}},
			{Handler: handlerOf(LocalGet), Operand: Operand{Idx: 1}},
			{Handler: handlerOf(I32Add)},
		},
	}
	foldOperands(prog)

	if prog.Instrs[0].Handler != nopHandlerID || prog.Instrs[1].Handler != nopHandlerID {
		t.Fatalf("expected both producers folded away, got %+v", prog.Instrs)
	}
	add := prog.Instrs[2].Operand
	if add.NumSources != 2 {
		t.Fatalf("expected 2 folded sources, got %d", add.NumSources)
	}
	if add.Sources[0] != (ValueSource{Kind: SourceLocal, Idx: 0}) {
		t.Fatalf("unexpected source 0: %+v", add.Sources[0])
	}
	if add.Sources[1] != (ValueSource{Kind: SourceLocal, Idx: 1}) {
		t.Fatalf("unexpected source 1: %+v", add.Sources[1])
	}
}

func TestFoldOperandsDestinationFold(t *testing.T) {
	prog := &Program{
		Instrs: []ProcessedInstr{
			{Handler: handlerOf(LocalGet), Operand: Operand{Idx: 0}},
			{Handler: handlerOf(I32Eqz)},
			{Handler: handlerOf(LocalSet), Operand: Operand{Idx: 1}},
		},
	}
	foldOperands(prog)

	if prog.Instrs[0].Handler != nopHandlerID {
		t.Fatalf("expected producer folded away, got %+v", prog.Instrs[0])
	}
	if prog.Instrs[2].Handler != nopHandlerID {
		t.Fatalf("expected local.set folded away, got %+v", prog.Instrs[2])
	}
	eqz := prog.Instrs[1].Operand
	if eqz.NumSources != 1 || eqz.Sources[0] != (ValueSource{Kind: SourceLocal, Idx: 0}) {
		t.Fatalf("unexpected source folding: %+v", eqz)
	}
	if eqz.StoreTarget != (StoreTarget{Kind: StoreTargetLocal, Idx: 1}) {
		t.Fatalf("unexpected destination folding: %+v", eqz.StoreTarget)
	}
}

func TestFoldOperandsControlFlowResetsPending(t *testing.T) {
	// A producer immediately followed by an instruction fold doesn't model
	// (branch) must not be folded into whatever comes after the branch.
	prog := &Program{
		Instrs: []ProcessedInstr{
			{Handler: handlerOf(LocalGet), Operand: Operand{Idx: 0}},
			{Handler: handlerOf(Br), Operand: Operand{Label: LabelIdx{TargetIP: 0}}},
			{Handler: handlerOf(I32Eqz)},
		},
	}
	foldOperands(prog)

	if prog.Instrs[0].Handler == nopHandlerID {
		t.Fatalf("producer must survive: br does not consume the value stack")
	}
	if prog.Instrs[2].Operand.NumSources != 0 {
		t.Fatalf("i32.eqz after br must not fold across it, got %+v", prog.Instrs[2].Operand)
	}
}

func TestFoldOperandsStoreConsumesBothOperandsOnly(t *testing.T) {
	prog := &Program{
		Instrs: []ProcessedInstr{
			{Handler: handlerOf(LocalGet), Operand: Operand{Idx: 0}}, // address
			{Handler: handlerOf(I32Const), Operand: Operand{Imm: i32(42)}}, // value
			{Handler: handlerOf(I32Store)},
		},
	}
	foldOperands(prog)

	if prog.Instrs[0].Handler != nopHandlerID || prog.Instrs[1].Handler != nopHandlerID {
		t.Fatalf("expected both operands folded away, got %+v", prog.Instrs)
	}
	store := prog.Instrs[2].Operand
	if store.NumSources != 2 {
		t.Fatalf("expected 2 folded sources, got %d", store.NumSources)
	}
	if store.Sources[0] != (ValueSource{Kind: SourceLocal, Idx: 0}) {
		t.Fatalf("unexpected address source: %+v", store.Sources[0])
	}
	if store.Sources[1].Kind != SourceConst {
		t.Fatalf("unexpected value source: %+v", store.Sources[1])
	}
}
