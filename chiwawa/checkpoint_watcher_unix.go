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

//go:build unix

package chiwawa

import (
	"bytes"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// inotifyWatcher watches the directory containing the trigger path for
// file-creation events and flips the shared flag when the trigger file
// appears. The watch is on the directory, not the file itself, since the
// file does not exist until the operator (or another process) creates it.
type inotifyWatcher struct {
	fd     int
	stopCh chan struct{}
}

func newCheckpointWatcher(triggerPath string, flag *boolFlag) checkpointWatcher {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC)
	if err != nil {
		return &pollingWatcher{triggerPath: triggerPath, flag: flag, stopCh: make(chan struct{})}
	}
	dir := filepath.Dir(triggerPath)
	base := filepath.Base(triggerPath)
	if _, err := unix.InotifyAddWatch(fd, dir, unix.IN_CREATE|unix.IN_MOVED_TO); err != nil {
		unix.Close(fd)
		return &pollingWatcher{triggerPath: triggerPath, flag: flag, stopCh: make(chan struct{})}
	}
	w := &inotifyWatcher{fd: fd, stopCh: make(chan struct{})}
	go w.loop(base, flag)
	return w
}

func (w *inotifyWatcher) loop(base string, flag *boolFlag) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}
		n, err := unix.Read(w.fd, buf)
		if err != nil || n <= 0 {
			return
		}
		offset := 0
		for offset+unix.SizeofInotifyEvent <= n {
			raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
			nameLen := int(raw.Len)
			nameStart := offset + unix.SizeofInotifyEvent
			name := ""
			if nameLen > 0 {
				nameBytes := buf[nameStart : nameStart+nameLen]
				if i := bytes.IndexByte(nameBytes, 0); i >= 0 {
					nameBytes = nameBytes[:i]
				}
				name = string(nameBytes)
			}
			if name == base {
				flag.set(true)
			}
			offset = nameStart + nameLen
		}
	}
}

func (w *inotifyWatcher) stop() {
	close(w.stopCh)
	unix.Close(w.fd)
}

// pollingWatcher is the fallback used when inotify setup fails (e.g. the
// watch descriptor limit is exhausted); the inline check in
// checkpointController.checkInline remains the authoritative path either
// way, so this only needs to exist to satisfy the checkpointWatcher
// interface without blocking Close().
type pollingWatcher struct {
	triggerPath string
	flag        *boolFlag
	stopCh      chan struct{}
}

func (w *pollingWatcher) stop() {
	close(w.stopCh)
}
