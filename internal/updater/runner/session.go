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
	"context"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/vmupdater/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/vmupdater/internal/pkg/util/fsm"
)

// Session states.
const (
	StateIdle      = "idle"
	StateChecking  = "checking"
	StateChecked   = "checked"
	StateUpgrading = "upgrading"
)

// Session events.
const (
	eventCheck      = "check"
	eventCheckDone  = "check_done"
	eventCheckAbort = "check_abort"
	eventApply      = "apply"
	eventApplyDone  = "apply_done"
)

// newSession builds the state machine that gates runs: one run at a time,
// and an apply only after a completed check unless requireCheck is false.
func newSession(requireCheck bool) *fsm.FSM {
	applySrc := []string{StateChecked}
	if !requireCheck {
		applySrc = append(applySrc, StateIdle)
	}

	events := fsm.Events{
		{Name: eventCheck, Src: []string{StateIdle, StateChecked}, Dst: StateChecking},
		{Name: eventCheckDone, Src: []string{StateChecking}, Dst: StateChecked},
		{Name: eventCheckAbort, Src: []string{StateChecking}, Dst: StateIdle},
		{Name: eventApply, Src: applySrc, Dst: StateUpgrading},
		{Name: eventApplyDone, Src: []string{StateUpgrading}, Dst: StateIdle},
	}

	callbacks := fsm.Callbacks{
		"enter_" + StateChecking:  fsmutil.WrapEvent(enterRunning),
		"enter_" + StateUpgrading: fsmutil.WrapEvent(enterRunning),
		"leave_" + StateChecking:  fsmutil.WrapEvent(leaveRunning),
		"leave_" + StateUpgrading: fsmutil.WrapEvent(leaveRunning),
	}

	return fsm.NewFSM(StateIdle, events, callbacks)
}

func enterRunning(_ context.Context, _ *fsm.Event) error {
	metrics.RunInProgress.Set(1)
	return nil
}

func leaveRunning(_ context.Context, _ *fsm.Event) error {
	metrics.RunInProgress.Set(0)
	return nil
}
