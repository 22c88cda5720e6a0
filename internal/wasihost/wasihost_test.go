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

package wasihost

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chiwawa-project/chiwawa/chiwawa"
)

func newTestInstance(t *testing.T) *chiwawa.ModuleInstance {
	one := uint64(1)
	mem := chiwawa.NewMemory(chiwawa.MemoryType{Limits: chiwawa.Limits{Min: 1, Max: &one}})
	return &chiwawa.ModuleInstance{
		Exports: []chiwawa.ExportInstance{
			{Name: "memory", Kind: chiwawa.MemoryExportKind, Value: mem},
		},
	}
}

func TestArgsSizesGetAndArgsGet(t *testing.T) {
	b := NewBridge([]string{"prog", "one", "two"}, new(bytes.Buffer), new(bytes.Buffer))
	inst := newTestInstance(t)

	results := b.argsSizesGet(inst, int32(0), int32(4))
	require.Equal(t, []any{errnoSuccess}, results)

	mem, err := inst.GetMemory("memory")
	require.NoError(t, err)

	argcBytes, err := mem.Get(0, 0, 4)
	require.NoError(t, err)
	require.Equal(t, uint32(3), leUint32(argcBytes))

	results = b.argsGet(inst, int32(100), int32(200))
	require.Equal(t, []any{errnoSuccess}, results)

	ptrBytes, err := mem.Get(0, 100, 4)
	require.NoError(t, err)
	require.Equal(t, uint32(200), leUint32(ptrBytes))

	progBytes, err := mem.Get(0, 200, 5)
	require.NoError(t, err)
	require.Equal(t, "prog\x00", string(progBytes))
}

func TestFdWriteStdoutAndStderr(t *testing.T) {
	var stdout, stderr bytes.Buffer
	b := NewBridge([]string{"prog"}, &stdout, &stderr)
	inst := newTestInstance(t)
	mem, err := inst.GetMemory("memory")
	require.NoError(t, err)

	msg := []byte("hello\n")
	require.NoError(t, mem.Set(0, 1000, msg))
	putUint32(mem, 2000, 1000)
	putUint32(mem, 2004, uint32(len(msg)))

	results := b.fdWrite(inst, int32(1), int32(2000), int32(1), int32(3000))
	require.Equal(t, []any{errnoSuccess}, results)
	require.Equal(t, "hello\n", stdout.String())
	require.Empty(t, stderr.String())

	nBytes, err := mem.Get(0, 3000, 4)
	require.NoError(t, err)
	require.Equal(t, uint32(len(msg)), leUint32(nBytes))
}

func TestFdWriteUnknownFdFaults(t *testing.T) {
	b := NewBridge(nil, new(bytes.Buffer), new(bytes.Buffer))
	inst := newTestInstance(t)

	results := b.fdWrite(inst, int32(9), int32(0), int32(0), int32(0))
	require.Equal(t, []any{errnoFault}, results)
}

func TestClockTimeGetUnsupportedClock(t *testing.T) {
	b := NewBridge(nil, new(bytes.Buffer), new(bytes.Buffer))
	inst := newTestInstance(t)

	results := b.clockTimeGet(inst, int32(99), int64(0), int32(0))
	require.Equal(t, []any{errnoNoSys}, results)
}

func TestRandomGetFillsBuffer(t *testing.T) {
	b := NewBridge(nil, new(bytes.Buffer), new(bytes.Buffer))
	inst := newTestInstance(t)
	mem, err := inst.GetMemory("memory")
	require.NoError(t, err)

	results := b.randomGet(inst, int32(0), int32(32))
	require.Equal(t, []any{errnoSuccess}, results)

	got, err := mem.Get(0, 0, 32)
	require.NoError(t, err)
	require.NotEqual(t, make([]byte, 32), got)
}

func TestProcExitPanicsWithExitCode(t *testing.T) {
	b := NewBridge(nil, new(bytes.Buffer), new(bytes.Buffer))
	inst := newTestInstance(t)

	require.PanicsWithValue(t, ExitCode{Code: 7}, func() {
		b.procExit(inst, int32(7))
	})
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
