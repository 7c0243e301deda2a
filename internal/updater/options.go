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
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/vmupdater/internal/updater/gateway"
	"github.com/autopeer-io/vmupdater/pkg/options"
)

var (
	_ options.IOptions = (*StateOptions)(nil)
	_ options.IOptions = (*GatewayOptions)(nil)
	_ options.IOptions = (*ActionsOptions)(nil)
)

// StateOptions locates the persisted status flags.
type StateOptions struct {
	// Dir holds sdw-update-status and sdw-last-updated.
	Dir string `json:"dir" mapstructure:"dir"`

	// Workstation identifies this machine in MQTT topics and S3 keys.
	// Defaults to the host name.
	Workstation string `json:"workstation" mapstructure:"workstation"`
}

func NewStateOptions() *StateOptions {
	dir := "/var/lib/vmupdater"
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".securedrop_launcher")
	}
	return &StateOptions{Dir: dir}
}

// Complete fills the workstation name from the host name.
func (o *StateOptions) Complete() error {
	if o.Workstation != "" {
		return nil
	}
	host, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("cannot determine workstation name: %w", err)
	}
	o.Workstation = host
	return nil
}

func (o *StateOptions) Validate() []error {
	var errs []error
	if o.Dir == "" {
		errs = append(errs, fmt.Errorf("--state.dir is required"))
	}
	return errs
}

func (o *StateOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Dir, "state.dir", o.Dir, "Directory holding the persisted update status and last-updated timestamp.")
	fs.StringVar(&o.Workstation, "state.workstation", o.Workstation, "Name of this workstation in published status; defaults to the host name.")
}

// GatewayOptions selects the VMs to update and how operations run.
type GatewayOptions struct {
	// VMs are processed in this order. Each must be a default VM or appear in Templates.
	VMs []string `json:"vms" mapstructure:"vms"`

	// Templates add VMs or override the commands of default ones. Config file only.
	Templates []gateway.VM `json:"templates" mapstructure:"templates"`

	// Timeout bounds a single check or apply command.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// ApplyRetries is the number of extra attempts for a failed apply.
	ApplyRetries int `json:"apply-retries" mapstructure:"apply-retries"`

	// ApplyBackoff is the delay before the first retry.
	ApplyBackoff time.Duration `json:"apply-backoff" mapstructure:"apply-backoff"`
}

func NewGatewayOptions() *GatewayOptions {
	return &GatewayOptions{
		VMs:          gateway.Names(gateway.DefaultVMs()),
		Timeout:      time.Hour,
		ApplyBackoff: 30 * time.Second,
	}
}

// Resolve returns the configured VMs, in the order of VMs, with Templates
// merged over the defaults by name.
func (o *GatewayOptions) Resolve() ([]gateway.VM, error) {
	known := make(map[string]gateway.VM)
	for _, vm := range gateway.DefaultVMs() {
		known[vm.Name] = vm
	}
	for _, vm := range o.Templates {
		known[vm.Name] = vm
	}

	vms := make([]gateway.VM, 0, len(o.VMs))
	for _, name := range o.VMs {
		vm, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("vm %q is neither a default template nor listed in gateway.templates", name)
		}
		vms = append(vms, vm)
	}
	return vms, nil
}

// RetryPolicy returns the apply retry settings.
func (o *GatewayOptions) RetryPolicy() gateway.RetryPolicy {
	return gateway.RetryPolicy{Retries: o.ApplyRetries, Backoff: o.ApplyBackoff}
}

func (o *GatewayOptions) Validate() []error {
	var errs []error

	if len(o.VMs) == 0 {
		errs = append(errs, fmt.Errorf("--gateway.vms must list at least one VM"))
	}
	for i, name := range o.VMs {
		if slices.Contains(o.VMs[:i], name) {
			errs = append(errs, fmt.Errorf("--gateway.vms lists %q twice", name))
		}
	}
	vms, err := o.Resolve()
	if err != nil {
		errs = append(errs, err)
	}
	for _, vm := range vms {
		if err := vm.Complete().Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if o.Timeout < 0 {
		errs = append(errs, fmt.Errorf("--gateway.timeout cannot be negative"))
	}
	if o.ApplyRetries < 0 {
		errs = append(errs, fmt.Errorf("--gateway.apply-retries cannot be negative"))
	}
	if o.ApplyRetries > 0 && o.ApplyBackoff <= 0 {
		errs = append(errs, fmt.Errorf("--gateway.apply-backoff must be positive when retries are enabled"))
	}

	return errs
}

func (o *GatewayOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringSliceVar(&o.VMs, "gateway.vms", o.VMs, "Template VMs to check and update, in order.")
	fs.DurationVar(&o.Timeout, "gateway.timeout", o.Timeout, "Timeout for a single check or apply command; 0 disables it.")
	fs.IntVar(&o.ApplyRetries, "gateway.apply-retries", o.ApplyRetries, "Extra attempts for a failed apply. Checks are never retried.")
	fs.DurationVar(&o.ApplyBackoff, "gateway.apply-backoff", o.ApplyBackoff, "Delay before the first apply retry; doubles on each attempt.")
}

// ActionsOptions configures the follow-up actions.
type ActionsOptions struct {
	ClientVM      string   `json:"client-vm" mapstructure:"client-vm"`
	Client        string   `json:"client" mapstructure:"client"`
	RebootCommand []string `json:"reboot-command" mapstructure:"reboot-command"`
}

func NewActionsOptions() *ActionsOptions {
	return &ActionsOptions{
		ClientVM:      "sd-svs",
		Client:        "securedrop-client",
		RebootCommand: []string{"sudo", "reboot"},
	}
}

func (o *ActionsOptions) Validate() []error {
	var errs []error
	if o.ClientVM == "" || o.Client == "" {
		errs = append(errs, fmt.Errorf("--actions.client-vm and --actions.client are required"))
	}
	if len(o.RebootCommand) == 0 {
		errs = append(errs, fmt.Errorf("--actions.reboot-command is required"))
	}
	return errs
}

func (o *ActionsOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.ClientVM, "actions.client-vm", o.ClientVM, "VM running the client application.")
	fs.StringVar(&o.Client, "actions.client", o.Client, "Desktop entry of the client launched with gtk-launch.")
	fs.StringSliceVar(&o.RebootCommand, "actions.reboot-command", o.RebootCommand, "Command restarting the workstation.")
}
