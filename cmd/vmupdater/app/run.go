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
	"context"
	"fmt"

	"github.com/spf13/cobra"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/vmupdater/cmd/vmupdater/app/options"
	"github.com/autopeer-io/vmupdater/internal/updater"
	"github.com/autopeer-io/vmupdater/internal/updater/actions"
	"github.com/autopeer-io/vmupdater/internal/updater/gateway"
	"github.com/autopeer-io/vmupdater/internal/updater/runner"
	"github.com/autopeer-io/vmupdater/pkg/app"
	"github.com/autopeer-io/vmupdater/pkg/log"
)

func newUpdater(ctx context.Context, opts *options.UpdaterOptions, requireCheck bool) (*updater.Updater, error) {
	cfg, err := opts.Config(requireCheck)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	u, err := cfg.NewUpdater(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create updater: %w", err)
	}
	return u, nil
}

// exitFor turns a finished run into the process exit status.
func exitFor(msg runner.Message) error {
	code := updater.ExitCode(msg)
	if code == 0 {
		return nil
	}
	return &app.ExitError{Code: code, Err: msg.Err}
}

func newCheckCommand(opts *options.UpdaterOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check every configured VM for pending updates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := genericapiserver.SetupSignalContext()

			u, err := newUpdater(ctx, opts, false)
			if err != nil {
				return err
			}
			defer u.Close()

			msg, err := u.Check(ctx)
			if err != nil {
				return err
			}
			printMessage(cmd.OutOrStdout(), msg)
			return exitFor(msg)
		},
	}
}

func newApplyCommand(opts *options.UpdaterOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apply [VM...]",
		Short: "Apply updates to the given VMs, or to every configured VM",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := genericapiserver.SetupSignalContext()

			u, err := newUpdater(ctx, opts, false)
			if err != nil {
				return err
			}
			defer u.Close()

			vms := args
			if len(vms) == 0 {
				vms = u.VMs()
			}
			msg, err := u.Apply(ctx, vms)
			if err != nil {
				return err
			}
			printMessage(cmd.OutOrStdout(), msg)
			return exitFor(msg)
		},
	}
}

func newUpdateCommand(opts *options.UpdaterOptions) *cobra.Command {
	var followUp bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check every VM, then apply updates to the VMs that need them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := genericapiserver.SetupSignalContext()

			u, err := newUpdater(ctx, opts, true)
			if err != nil {
				return err
			}
			defer u.Close()

			check, apply, err := u.Update(ctx)
			if err != nil {
				return err
			}

			final := check
			printMessage(cmd.OutOrStdout(), check)
			if apply != nil {
				final = *apply
				fmt.Fprintln(cmd.OutOrStdout())
				printMessage(cmd.OutOrStdout(), final)
			}

			if followUp && final.Err == nil {
				if err := u.FollowUp(ctx, final); err != nil {
					// The run itself succeeded; report but keep its exit status.
					log.Error(err, "Follow-up action failed", "followUp", final.FollowUp())
				}
			}
			return exitFor(final)
		},
	}

	cmd.Flags().BoolVar(&followUp, "follow-up", false, "Launch the client or reboot afterwards, as recommended.")
	return cmd
}

func newLaunchCommand(opts *options.UpdaterOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "launch",
		Short: "Launch the client application",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			act, err := newActions(opts)
			if err != nil {
				return err
			}
			return act.LaunchClient(genericapiserver.SetupSignalContext())
		},
	}
}

func newRebootCommand(opts *options.UpdaterOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reboot",
		Short: "Reboot the workstation",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			act, err := newActions(opts)
			if err != nil {
				return err
			}
			return act.Reboot(genericapiserver.SetupSignalContext())
		},
	}
}

func newActions(opts *options.UpdaterOptions) (*actions.Actions, error) {
	a := opts.ActionsOptions
	return actions.New(gateway.NewExecutor(opts.GatewayOptions.Timeout), a.ClientVM, a.Client, a.RebootCommand)
}
