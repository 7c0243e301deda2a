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

package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/autopeer-io/vmupdater/internal/updater/gateway"
	"github.com/autopeer-io/vmupdater/pkg/log"
)

// Actions runs the follow-ups offered once a run has finished.
type Actions struct {
	exec     gateway.Executor
	clientVM string
	client   string
	reboot   []string
}

// New returns Actions that launch client inside clientVM and restart the
// workstation with rebootCommand.
func New(exec gateway.Executor, clientVM, client string, rebootCommand []string) (*Actions, error) {
	if clientVM == "" || client == "" {
		return nil, errors.New("client vm and client application are required")
	}
	if len(rebootCommand) == 0 {
		return nil, errors.New("reboot command is required")
	}
	return &Actions{
		exec:     exec,
		clientVM: clientVM,
		client:   client,
		reboot:   rebootCommand,
	}, nil
}

// LaunchClient starts the client application in its VM.
func (a *Actions) LaunchClient(ctx context.Context) error {
	return a.run(ctx, "launch", []string{"qvm-run", a.clientVM, "gtk-launch " + a.client})
}

// Reboot restarts the workstation. On success it usually does not return.
func (a *Actions) Reboot(ctx context.Context) error {
	return a.run(ctx, "reboot", a.reboot)
}

func (a *Actions) run(ctx context.Context, name string, argv []string) error {
	log.Info("Running follow-up action", "action", name, "command", strings.Join(argv, " "))

	out, code, err := a.exec.Run(ctx, argv)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if code != 0 {
		return fmt.Errorf("%s: exit status %d: %s", name, code, strings.TrimSpace(string(out)))
	}
	return nil
}
