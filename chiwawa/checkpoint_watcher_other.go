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

//go:build !unix

package chiwawa

// On non-unix platforms there is no inotify-equivalent wired in, so the
// background watcher is a no-op; checkpointController.checkInline's
// os.Stat poll at each call boundary remains the only trigger path.
type noopWatcher struct{}

func newCheckpointWatcher(triggerPath string, flag *boolFlag) checkpointWatcher {
	return noopWatcher{}
}

func (noopWatcher) stop() {}
