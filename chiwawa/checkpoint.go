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
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

var errCheckpointTaken = errors.New("checkpoint taken")

// IsCheckpointTaken reports whether err is the sentinel Invoke/Resume return
// when a checkpoint was written and execution was suspended in response.
// It is not a Trap: the guest simply hasn't finished running yet.
func IsCheckpointTaken(err error) bool {
	return errors.Is(err, errCheckpointTaken)
}

const (
	checkpointMagic   uint32 = 0x43485741 // "CHWA"
	checkpointVersion uint32 = 1
)

// checkpointController owns the trigger-detection state shared between the
// inline check (run at every call boundary) and the background watcher
// (platform-specific, see checkpoint_watcher_*.go). Neither path mutates
// guest state directly; both only flip triggered, which the inner loop
// reads at the next safe point.
type checkpointController struct {
	vm          *VM
	outPath     string
	triggerPath string
	triggered   boolFlag
	watcher     checkpointWatcher
	lastErr     error
}

func newCheckpointController(vm *VM, config Config) *checkpointController {
	if config.CheckpointPath == "" && config.CheckpointTriggerPath == "" {
		return nil
	}
	c := &checkpointController{
		vm:          vm,
		outPath:     config.CheckpointPath,
		triggerPath: config.CheckpointTriggerPath,
	}
	if c.triggerPath != "" {
		c.watcher = newCheckpointWatcher(c.triggerPath, &c.triggered)
	}
	return c
}

// checkInline is the always-available trigger path: at each dispatchCall, ask
// the filesystem directly whether the trigger file exists.
func (c *checkpointController) checkInline() {
	if c.triggerPath == "" {
		return
	}
	if _, err := os.Stat(c.triggerPath); err == nil {
		c.triggered.set(true)
		os.Remove(c.triggerPath)
	}
}

func (c *checkpointController) consumeTrigger() bool {
	c.checkInline()
	return c.triggered.swap(false)
}

// LastError returns the most recent checkpoint write failure, if any. It is
// not cleared by a later successful write; callers should check it after
// every Invoke if checkpoints are enabled.
func (c *checkpointController) LastError() error {
	return c.lastErr
}

func (c *checkpointController) stop() {
	if c.watcher != nil {
		c.watcher.stop()
	}
}

// checkpointWatcher is implemented per-platform: checkpoint_watcher_unix.go
// waits on inotify events, checkpoint_watcher_other.go is a no-op so non-unix
// builds still work correctly with the inline check alone.
type checkpointWatcher interface {
	stop()
}

// boolFlag is shared between the background watcher goroutine and the
// run() loop's call-boundary check, so it must be safe for concurrent use.
type boolFlag struct {
	v atomic.Bool
}

func (b *boolFlag) set(val bool) {
	b.v.Store(val)
}

func (b *boolFlag) swap(val bool) bool {
	return b.v.Swap(val)
}

// serializableState is the on-disk representation of every piece of state
// the VM needs to resume exactly where it left off: the call stack, every
// memory's raw bytes, every global's value, and every table's slots.
type serializableState struct {
	activations []serializedActivation
	values      []value
	memories    [][]byte
	globals     []value
	tables      [][]int32
}

type serializedActivation struct {
	funcAddr       uint32
	ip             int
	valueStackBase uint
	locals         []value
	labels         []label
}

// writeCheckpoint captures the VM's entire state and atomically publishes
// it to c.outPath. Called only at a safe point: a call boundary, where
// vm.calls' top activation's ip still points at the call instruction
// itself, so restore resumes by re-entering that same call.
func (c *checkpointController) writeCheckpoint() error {
	state := c.vm.captureState()
	buf, err := encodeState(state)
	if err != nil {
		return err
	}
	dir := filepath.Dir(c.outPath)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "checkpoint-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, c.outPath)
}

// captureState snapshots the VM's call stack, memories, globals, and tables.
func (vm *VM) captureState() *serializableState {
	state := &serializableState{
		values: append([]value(nil), vm.values.data...),
	}
	for _, act := range vm.calls {
		funcAddr, ok := vm.funcAddrOf(act.program)
		if !ok {
			continue
		}
		state.activations = append(state.activations, serializedActivation{
			funcAddr:       funcAddr,
			ip:             act.ip,
			valueStackBase: act.valueStackBase,
			locals:         append([]value(nil), act.frame.Locals...),
			labels:         append([]label(nil), act.labels...),
		})
	}
	for _, m := range vm.store.memories {
		state.memories = append(state.memories, append([]byte(nil), m.data...))
	}
	for _, g := range vm.store.globals {
		state.globals = append(state.globals, g.get())
	}
	for _, t := range vm.store.tables {
		state.tables = append(state.tables, append([]int32(nil), t.elements...))
	}
	return state
}

// funcAddrOf finds the store address a given preprocessed Program belongs
// to, so the activation can be re-bound to the right *WasmFunction on
// restore, after the module has been freshly instantiated.
func (vm *VM) funcAddrOf(program *Program) (uint32, bool) {
	for i, fn := range vm.store.funcs {
		if wf, ok := fn.(*WasmFunction); ok && wf.Program == program {
			return uint32(i), true
		}
	}
	return 0, false
}

// Restore reads a checkpoint written by a prior run and rebuilds the VM's
// call stack, memories, globals, and tables from it. The module must
// already be instantiated (so Store allocations exist with correct sizes)
// before calling Restore.
func (vm *VM) Restore(path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return &CheckpointError{Op: "restore", Err: err}
	}
	state, err := decodeState(buf)
	if err != nil {
		return &CheckpointError{Op: "restore", Err: err}
	}

	for i, memBytes := range state.memories {
		if i >= len(vm.store.memories) {
			return &CheckpointError{Op: "restore", Err: fmt.Errorf("checkpoint has more memories than module")}
		}
		vm.store.memories[i].restoreBytes(memBytes)
	}
	for i, v := range state.globals {
		if i >= len(vm.store.globals) {
			return &CheckpointError{Op: "restore", Err: fmt.Errorf("checkpoint has more globals than module")}
		}
		vm.store.globals[i].set(v)
	}
	for i, slots := range state.tables {
		if i >= len(vm.store.tables) {
			return &CheckpointError{Op: "restore", Err: fmt.Errorf("checkpoint has more tables than module")}
		}
		vm.store.tables[i].elements = append([]int32(nil), slots...)
	}

	vm.values.data = append([]value(nil), state.values...)
	vm.calls = nil
	for _, sa := range state.activations {
		if int(sa.funcAddr) >= len(vm.store.funcs) {
			return &CheckpointError{Op: "restore", Err: fmt.Errorf("checkpoint references unknown function %d", sa.funcAddr)}
		}
		wf, ok := vm.store.funcs[sa.funcAddr].(*WasmFunction)
		if !ok {
			return &CheckpointError{Op: "restore", Err: fmt.Errorf("checkpoint function %d is not a guest function", sa.funcAddr)}
		}
		vm.calls = append(vm.calls, &activation{
			frame: &frame{
				Locals:      append([]value(nil), sa.locals...),
				Module:      wf.Module,
				Arity:       len(wf.Type.ResultTypes),
				ResultTypes: wf.Type.ResultTypes,
			},
			labels:         append([]label(nil), sa.labels...),
			ip:             sa.ip,
			valueStackBase: sa.valueStackBase,
			program:        wf.Program,
		})
	}
	return nil
}

// Resume continues execution of a restored VM from the top of its call
// stack, each activation at its saved ip, and returns the results of the
// originally invoked export (index 0).
func (vm *VM) Resume() ([]any, error) {
	if len(vm.calls) == 0 {
		return nil, fmt.Errorf("nothing to resume")
	}
	resultTypes := vm.calls[0].frame.ResultTypes
	if err := vm.run(); err != nil {
		return nil, err
	}
	return vm.values.popValueTypes(resultTypes), nil
}

func (m *Memory) restoreBytes(b []byte) {
	if len(b) > len(m.data) {
		growBy := int32((len(b) - len(m.data)) / pageSize)
		if growBy > 0 {
			m.Grow(growBy)
		}
		if len(b) > len(m.data) {
			// Grow refused (checkpoint exceeds this memory's max limit);
			// extend anyway so restore reflects the checkpoint faithfully.
			m.data = append(m.data, make([]byte, len(b)-len(m.data))...)
		}
	}
	copy(m.data, b)
	m.data = m.data[:len(b)]
}

func encodeState(s *serializableState) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, checkpointMagic); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, checkpointVersion); err != nil {
		return nil, err
	}

	writeUint32(&buf, uint32(len(s.activations)))
	for _, a := range s.activations {
		writeUint32(&buf, a.funcAddr)
		writeUint32(&buf, uint32(a.ip))
		writeUint32(&buf, uint32(a.valueStackBase))
		writeValues(&buf, a.locals)
		writeUint32(&buf, uint32(len(a.labels)))
		for _, l := range a.labels {
			buf.WriteByte(byte(l.kind))
			writeUint32(&buf, uint32(l.arity))
			writeUint32(&buf, uint32(l.continuationIP))
			writeUint32(&buf, uint32(l.valueStackHeightAtEntry))
		}
	}

	writeValues(&buf, s.values)

	writeUint32(&buf, uint32(len(s.memories)))
	for _, mem := range s.memories {
		writeUint32(&buf, uint32(len(mem)))
		buf.Write(mem)
	}

	writeValues(&buf, s.globals)

	writeUint32(&buf, uint32(len(s.tables)))
	for _, table := range s.tables {
		writeUint32(&buf, uint32(len(table)))
		for _, slot := range table {
			writeUint32(&buf, uint32(slot))
		}
	}

	return buf.Bytes(), nil
}

func decodeState(buf []byte) (*serializableState, error) {
	r := bytes.NewReader(buf)
	var magic, version uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, err
	}
	if magic != checkpointMagic {
		return nil, fmt.Errorf("not a chiwawa checkpoint file")
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != checkpointVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", version)
	}

	state := &serializableState{}

	numActs, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < numActs; i++ {
		var a serializedActivation
		funcAddr, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		a.funcAddr = funcAddr
		ip, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		a.ip = int(ip)
		base, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		a.valueStackBase = uint(base)
		locals, err := readValues(r)
		if err != nil {
			return nil, err
		}
		a.locals = locals
		numLabels, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		for j := uint32(0); j < numLabels; j++ {
			kindByte, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			arity, err := readUint32(r)
			if err != nil {
				return nil, err
			}
			contIP, err := readUint32(r)
			if err != nil {
				return nil, err
			}
			height, err := readUint32(r)
			if err != nil {
				return nil, err
			}
			a.labels = append(a.labels, label{
				kind:                    labelKind(kindByte),
				arity:                   int(arity),
				continuationIP:          int(contIP),
				valueStackHeightAtEntry: uint(height),
			})
		}
		state.activations = append(state.activations, a)
	}

	values, err := readValues(r)
	if err != nil {
		return nil, err
	}
	state.values = values

	numMems, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < numMems; i++ {
		n, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		b := make([]byte, n)
		if _, err := r.Read(b); err != nil {
			return nil, err
		}
		state.memories = append(state.memories, b)
	}

	globals, err := readValues(r)
	if err != nil {
		return nil, err
	}
	state.globals = globals

	numTables, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < numTables; i++ {
		n, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		table := make([]int32, n)
		for j := range table {
			v, err := readUint32(r)
			if err != nil {
				return nil, err
			}
			table[j] = int32(v)
		}
		state.tables = append(state.tables, table)
	}

	return state, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	binary.Write(buf, binary.LittleEndian, v)
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func writeValues(buf *bytes.Buffer, values []value) {
	writeUint32(buf, uint32(len(values)))
	for _, v := range values {
		binary.Write(buf, binary.LittleEndian, v.low)
		binary.Write(buf, binary.LittleEndian, v.high)
	}
}

func readValues(r *bytes.Reader) ([]value, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	values := make([]value, n)
	for i := range values {
		var low, high uint64
		if err := binary.Read(r, binary.LittleEndian, &low); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &high); err != nil {
			return nil, err
		}
		values[i] = value{low: low, high: high}
	}
	return values, nil
}
