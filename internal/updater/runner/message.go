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
	"slices"
	"time"

	"github.com/autopeer-io/vmupdater/internal/updater/status"
)

// Kind distinguishes the two passes.
type Kind string

const (
	KindCheck Kind = "check"
	KindApply Kind = "apply"
)

// FollowUp is the action offered to the user once a run has finished.
type FollowUp string

const (
	FollowUpApply  FollowUp = "apply"
	FollowUpLaunch FollowUp = "launch"
	FollowUpReboot FollowUp = "reboot"
	FollowUpNone   FollowUp = "none"
)

// Message is the final result of a run. It is delivered exactly once.
type Message struct {
	Kind    Kind           `json:"kind"`
	Results status.Results `json:"results"`
	// RecommendedAction is the aggregate of Results.
	RecommendedAction status.UpdateStatus `json:"recommendedAction"`
	// Percent is 100 for a completed run, the last shown value otherwise.
	Percent    int       `json:"percent"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	// Err carries ErrRunAbandoned or the persistence failure, if any.
	Err error `json:"-"`
}

// VMsNeedingUpdates lists, sorted, the VMs whose outcome is UpdatesRequired.
func (m Message) VMsNeedingUpdates() []string {
	vms := m.Results.WithStatus(status.UpdatesRequired)
	slices.Sort(vms)
	return vms
}

// FollowUp returns what to offer next.
func (m Message) FollowUp() FollowUp {
	if m.Err != nil {
		return FollowUpNone
	}
	switch m.RecommendedAction {
	case status.UpdatesOK:
		return FollowUpLaunch
	case status.UpdatesRequired:
		if m.Kind == KindCheck {
			return FollowUpApply
		}
		return FollowUpNone
	case status.RebootRequired:
		return FollowUpReboot
	default:
		return FollowUpNone
	}
}

// Duration is the wall time of the run.
func (m Message) Duration() time.Duration {
	return m.FinishedAt.Sub(m.StartedAt)
}
