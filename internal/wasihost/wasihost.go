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

// Package wasihost binds a handful of WASI Preview 1 imports through
// chiwawa's host call bridge: enough for a _start entry point to read its
// argv, print to stdout, read the clock, read random bytes, and exit. It is
// deliberately not a full POSIX-passthrough WASI implementation (no
// filesystem, no sockets); it exists to exercise the HostFunction contract
// with a realistic, minimal import set.
package wasihost

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/chiwawa-project/chiwawa/chiwawa"
)

const (
	// ModuleName is the import module name guest binaries built against
	// wasi_snapshot_preview1 expect.
	ModuleName       = "wasi_snapshot_preview1"
	memoryExportName = "memory"
)

const (
	errnoSuccess int32 = 0
	errnoFault   int32 = 21
	errnoNoSys   int32 = 52
)

// ExitCode is returned by proc_exit through a panic, since the WASI ABI
// expects process termination to unwind out of the running function rather
// than to return a value to it. Runtime callers recover it at the
// invocation boundary to read the guest's intended exit status.
type ExitCode struct {
	Code int32
}

func (e ExitCode) Error() string { return fmt.Sprintf("proc_exit(%d)", e.Code) }

// Bridge holds the host-side state backing the bound imports: the guest's
// argv and where fd_write's stdout/stderr bytes are copied to.
type Bridge struct {
	Args   []string
	Stdout io.Writer
	Stderr io.Writer

	monotonicStart time.Time
}

// NewBridge creates a Bridge with the given guest argv (args[0] is the
// program name, matching POSIX argv conventions).
func NewBridge(args []string, stdout, stderr io.Writer) *Bridge {
	return &Bridge{Args: args, Stdout: stdout, Stderr: stderr, monotonicStart: time.Now()}
}

// Register adds the bound imports to b, under ModuleName, ready to pass to
// Runtime.InstantiateModuleWithImports.
func (b *Bridge) Register(builder *chiwawa.ModuleImportBuilder) *chiwawa.ModuleImportBuilder {
	return builder.
		AddHostFunc("args_get", b.argsGet).
		AddHostFunc("args_sizes_get", b.argsSizesGet).
		AddHostFunc("fd_write", b.fdWrite).
		AddHostFunc("clock_time_get", b.clockTimeGet).
		AddHostFunc("random_get", b.randomGet).
		AddHostFunc("proc_exit", b.procExit)
}

func memoryOf(inst *chiwawa.ModuleInstance) (*chiwawa.Memory, int32) {
	mem, err := inst.GetMemory(memoryExportName)
	if err != nil {
		return nil, errnoFault
	}
	return mem, errnoSuccess
}

func putUint32(mem *chiwawa.Memory, offset uint32, v uint32) int32 {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	if err := mem.Set(0, offset, buf[:]); err != nil {
		return errnoFault
	}
	return errnoSuccess
}

// argsGet writes the guest's argv as NUL-terminated strings into argvBuf,
// and a pointer into that buffer for each argument into argv.
func (b *Bridge) argsGet(inst *chiwawa.ModuleInstance, args ...any) []any {
	argvPtr := uint32(args[0].(int32))
	argvBufPtr := uint32(args[1].(int32))

	mem, errno := memoryOf(inst)
	if errno != errnoSuccess {
		return []any{errno}
	}

	bufOffset := argvBufPtr
	for i, arg := range b.Args {
		if errno := putUint32(mem, argvPtr+uint32(i*4), bufOffset); errno != errnoSuccess {
			return []any{errno}
		}
		encoded := append([]byte(arg), 0)
		if err := mem.Set(0, bufOffset, encoded); err != nil {
			return []any{errnoFault}
		}
		bufOffset += uint32(len(encoded))
	}
	return []any{errnoSuccess}
}

// argsSizesGet reports argc and the total byte size argsGet will need.
func (b *Bridge) argsSizesGet(inst *chiwawa.ModuleInstance, args ...any) []any {
	argcPtr := uint32(args[0].(int32))
	argvBufSizePtr := uint32(args[1].(int32))

	mem, errno := memoryOf(inst)
	if errno != errnoSuccess {
		return []any{errno}
	}

	if errno := putUint32(mem, argcPtr, uint32(len(b.Args))); errno != errnoSuccess {
		return []any{errno}
	}
	bufSize := uint32(0)
	for _, arg := range b.Args {
		bufSize += uint32(len(arg)) + 1
	}
	if errno := putUint32(mem, argvBufSizePtr, bufSize); errno != errnoSuccess {
		return []any{errno}
	}
	return []any{errnoSuccess}
}

// fdWrite implements a minimal scatter-write: it copies each iovec's bytes
// to Stdout (fd 1) or Stderr (fd 2) and reports the total
// byte count written. Other file descriptors are not backed by anything and
// report errnoFault, since this bridge has no filesystem.
func (b *Bridge) fdWrite(inst *chiwawa.ModuleInstance, args ...any) []any {
	fd := args[0].(int32)
	iovsPtr := uint32(args[1].(int32))
	iovsLen := uint32(args[2].(int32))
	nwrittenPtr := uint32(args[3].(int32))

	mem, errno := memoryOf(inst)
	if errno != errnoSuccess {
		return []any{errno}
	}

	out := b.Stderr
	if fd == 1 {
		out = b.Stdout
	} else if fd != 2 {
		return []any{errnoFault}
	}

	var total uint32
	for i := uint32(0); i < iovsLen; i++ {
		entry, err := mem.Get(0, iovsPtr+i*8, 8)
		if err != nil {
			return []any{errnoFault}
		}
		ptr := binary.LittleEndian.Uint32(entry[0:4])
		length := binary.LittleEndian.Uint32(entry[4:8])
		if length > 0 {
			data, err := mem.Get(0, ptr, length)
			if err != nil {
				return []any{errnoFault}
			}
			if _, err := out.Write(data); err != nil {
				return []any{errnoFault}
			}
		}
		total += length
	}

	if errno := putUint32(mem, nwrittenPtr, total); errno != errnoSuccess {
		return []any{errno}
	}
	return []any{errnoSuccess}
}

// clockTimeGet supports the realtime and monotonic clocks; the others
// report errnoNoSys since this bridge does not track per-process CPU time.
func (b *Bridge) clockTimeGet(inst *chiwawa.ModuleInstance, args ...any) []any {
	clockID := uint32(args[0].(int32))
	resultPtr := uint32(args[2].(int32))

	mem, errno := memoryOf(inst)
	if errno != errnoSuccess {
		return []any{errno}
	}

	var nanos uint64
	switch clockID {
	case 0: // realtime
		nanos = uint64(time.Now().UnixNano())
	case 1: // monotonic
		nanos = uint64(time.Since(b.monotonicStart).Nanoseconds())
	default:
		return []any{errnoNoSys}
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], nanos)
	if err := mem.Set(0, resultPtr, buf[:]); err != nil {
		return []any{errnoFault}
	}
	return []any{errnoSuccess}
}

// randomGet fills a guest buffer with cryptographically random bytes.
func (b *Bridge) randomGet(inst *chiwawa.ModuleInstance, args ...any) []any {
	bufPtr := uint32(args[0].(int32))
	bufLen := uint32(args[1].(int32))

	mem, errno := memoryOf(inst)
	if errno != errnoSuccess {
		return []any{errno}
	}

	randBytes := make([]byte, bufLen)
	if _, err := rand.Read(randBytes); err != nil {
		return []any{errnoFault}
	}
	if err := mem.Set(0, bufPtr, randBytes); err != nil {
		return []any{errnoFault}
	}
	return []any{errnoSuccess}
}

// procExit panics with ExitCode so the invocation unwinds immediately;
// WASI's proc_exit never returns to the caller.
func (b *Bridge) procExit(inst *chiwawa.ModuleInstance, args ...any) []any {
	panic(ExitCode{Code: args[0].(int32)})
}
