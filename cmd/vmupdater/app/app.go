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

package app

import (
	"github.com/autopeer-io/vmupdater/cmd/vmupdater/app/options"
	"github.com/autopeer-io/vmupdater/pkg/app"
)

const (
	commandName = "vmupdater"
	commandDesc = `vmupdater checks the template VMs of a Qubes workstation for
pending updates, applies them one VM at a time and records the aggregate
result for the launcher.

The process exit status of check, apply and update is the recommended action:
0 up to date, 1 updates required, 2 reboot required, 3 failed. 4 means the
result could not be persisted and 5 that the run was interrupted.`
)

// NewApp builds the vmupdater command tree.
func NewApp() *app.App {
	opts := options.NewUpdaterOptions()
	return app.NewApp(
		commandName,
		"Check and apply template VM updates",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithSubCommands(
			newCheckCommand(opts),
			newApplyCommand(opts),
			newUpdateCommand(opts),
			newStatusCommand(opts),
			newLaunchCommand(opts),
			newRebootCommand(opts),
			newServeCommand(opts),
		),
	)
}
