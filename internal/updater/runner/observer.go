// Copyright 2025 The Autopeer Authors.
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

package runner

import (
	"github.com/autopeer-io/vmupdater/internal/updater/status"
)

// Observer receives progress of a run. Calls happen on the run's worker
// goroutine, in order; implementations must not block for long and must not
// call Runner.Last.
type Observer interface {
	// RunStarted is called before the first VM is processed.
	RunStarted(kind Kind, vms []string, percent int)

	// VMFinished is called once per VM. percent is clamped and never decreases.
	VMFinished(kind Kind, vm string, percent int, st status.UpdateStatus, err error)

	// RunFinished is called with the final message once the session has
	// returned to idle or checked, before the message is delivered.
	RunFinished(msg Message)
}

// Observers fans out to several observers.
type Observers []Observer

var _ Observer = Observers(nil)

func (o Observers) RunStarted(kind Kind, vms []string, percent int) {
	for _, obs := range o {
		obs.RunStarted(kind, vms, percent)
	}
}

func (o Observers) VMFinished(kind Kind, vm string, percent int, st status.UpdateStatus, err error) {
	for _, obs := range o {
		obs.VMFinished(kind, vm, percent, st, err)
	}
}

func (o Observers) RunFinished(msg Message) {
	for _, obs := range o {
		obs.RunFinished(msg)
	}
}
