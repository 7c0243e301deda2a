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

package updater

import (
	"context"
	"errors"
	"time"

	"github.com/autopeer-io/vmupdater/internal/updater/actions"
	"github.com/autopeer-io/vmupdater/internal/updater/flagstore"
	"github.com/autopeer-io/vmupdater/internal/updater/runner"
	"github.com/autopeer-io/vmupdater/internal/updater/status"
	"github.com/autopeer-io/vmupdater/pkg/mqtt"
)

// Updater is the assembled update engine.
type Updater struct {
	runner  *runner.Runner
	files   *flagstore.FileStore
	actions *actions.Actions
	vms     []string
	mqtt    mqtt.Client
}

// Check runs a check over every configured VM and waits for its message.
func (u *Updater) Check(ctx context.Context) (runner.Message, error) {
	ch, err := u.runner.StartCheck(ctx, u.vms)
	if err != nil {
		return runner.Message{}, err
	}
	return <-ch, nil
}

// Apply applies updates to vms, or to the VMs the last check flagged when vms
// is empty, and waits for its message.
func (u *Updater) Apply(ctx context.Context, vms []string) (runner.Message, error) {
	ch, err := u.runner.StartApply(ctx, vms)
	if err != nil {
		return runner.Message{}, err
	}
	return <-ch, nil
}

// Update checks every VM and, when the check recommends it, applies updates
// to the VMs that need them. apply is nil when no apply run was started.
func (u *Updater) Update(ctx context.Context) (check runner.Message, apply *runner.Message, err error) {
	check, err = u.Check(ctx)
	if err != nil {
		return check, nil, err
	}
	if check.Err != nil || check.RecommendedAction != status.UpdatesRequired {
		return check, nil, nil
	}

	msg, err := u.Apply(ctx, check.VMsNeedingUpdates())
	if err != nil {
		return check, nil, err
	}
	return check, &msg, nil
}

// FollowUp runs the action recommended by msg. Nothing happens for FollowUpApply
// and FollowUpNone.
func (u *Updater) FollowUp(ctx context.Context, msg runner.Message) error {
	switch msg.FollowUp() {
	case runner.FollowUpLaunch:
		return u.actions.LaunchClient(ctx)
	case runner.FollowUpReboot:
		return u.actions.Reboot(ctx)
	}
	return nil
}

// Runner exposes the run gate for servers.
func (u *Updater) Runner() *runner.Runner {
	return u.runner
}

// Files exposes the local flag store for reading back the persisted state.
func (u *Updater) Files() *flagstore.FileStore {
	return u.files
}

// Actions exposes the follow-up actions.
func (u *Updater) Actions() *actions.Actions {
	return u.actions
}

// VMs returns the configured VM names in processing order.
func (u *Updater) VMs() []string {
	return u.vms
}

// Close releases the MQTT connection.
func (u *Updater) Close() {
	if u.mqtt == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u.mqtt.Disconnect(ctx)
}

// Process exit codes beyond the status codes 0-3.
const (
	ExitPersistenceFailed = 4
	ExitAbandoned         = 5
)

// ExitCode maps a finished run to the process exit status: the status code
// when the run completed cleanly.
func ExitCode(msg runner.Message) int {
	switch {
	case errors.Is(msg.Err, runner.ErrRunAbandoned):
		return ExitAbandoned
	case msg.Err != nil:
		return ExitPersistenceFailed
	}
	return int(msg.RecommendedAction)
}
