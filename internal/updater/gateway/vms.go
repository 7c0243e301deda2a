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

package gateway

import (
	"fmt"
	"strings"
)

// Kind selects the default commands used for a VM.
type Kind string

const (
	KindDom0   Kind = "dom0"
	KindFedora Kind = "fedora"
	KindDebian Kind = "debian"
)

// vmPlaceholder is replaced by the VM name in every command argument.
const vmPlaceholder = "{vm}"

// CheckSpec describes how to detect pending updates.
type CheckSpec struct {
	// Command is run on the admin host.
	Command []string `json:"command" mapstructure:"command"`

	// UpdatesExitCode is the non-zero exit code meaning "updates available"
	// (dnf check-update uses 100). Zero disables the rule.
	UpdatesExitCode int `json:"updates-exit-code" mapstructure:"updates-exit-code"`

	// UpdatesPattern marks updates as available when it appears in the
	// output of a successful command.
	UpdatesPattern string `json:"updates-pattern" mapstructure:"updates-pattern"`
}

// ApplySpec describes how to install pending updates.
type ApplySpec struct {
	Command []string `json:"command" mapstructure:"command"`

	// RebootRequired is set for VMs whose updates only take effect after the
	// workstation restarts.
	RebootRequired bool `json:"reboot-required" mapstructure:"reboot-required"`
}

// VM is one template VM managed by the updater.
type VM struct {
	Name  string    `json:"name" mapstructure:"name"`
	Kind  Kind      `json:"kind" mapstructure:"kind"`
	Check CheckSpec `json:"check" mapstructure:"check"`
	Apply ApplySpec `json:"apply" mapstructure:"apply"`
}

// DefaultVMs is the set of templates backing the workstation.
func DefaultVMs() []VM {
	return []VM{
		{Name: "dom0", Kind: KindDom0},
		{Name: "fedora-30", Kind: KindFedora},
		{Name: "sd-svs-buster-template", Kind: KindDebian},
		{Name: "sd-svs-disp-buster-template", Kind: KindDebian},
		{Name: "sd-proxy-buster-template", Kind: KindDebian},
		{Name: "securedrop-workstation-buster", Kind: KindDebian},
		{Name: "whonix-gw-15", Kind: KindDebian},
		{Name: "whonix-ws-15", Kind: KindDebian},
	}
}

// Complete fills unset commands from the VM kind.
func (v VM) Complete() VM {
	if len(v.Check.Command) == 0 {
		v.Check = defaultCheck(v.Kind)
	}
	if len(v.Apply.Command) == 0 {
		v.Apply = defaultApply(v.Kind)
	}
	return v
}

// Validate checks the VM can be operated on.
func (v VM) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("vm name is required")
	}
	switch v.Kind {
	case KindDom0, KindFedora, KindDebian:
	case "":
		if len(v.Check.Command) == 0 || len(v.Apply.Command) == 0 {
			return fmt.Errorf("vm %s: kind or explicit check/apply commands are required", v.Name)
		}
	default:
		return fmt.Errorf("vm %s: unknown kind %q", v.Name, v.Kind)
	}
	return nil
}

func defaultCheck(kind Kind) CheckSpec {
	switch kind {
	case KindDom0:
		return CheckSpec{
			Command:         []string{"sudo", "qubes-dom0-update", "--check-only"},
			UpdatesExitCode: 100,
		}
	case KindFedora:
		return CheckSpec{
			Command:         []string{"qvm-run", "-p", vmPlaceholder, "dnf check-update"},
			UpdatesExitCode: 100,
		}
	case KindDebian:
		return CheckSpec{
			Command:        []string{"qvm-run", "-p", vmPlaceholder, "sudo apt-get -qq update && apt list --upgradable 2>/dev/null"},
			UpdatesPattern: "upgradable from",
		}
	}
	return CheckSpec{}
}

func defaultApply(kind Kind) ApplySpec {
	switch kind {
	case KindDom0:
		return ApplySpec{
			Command:        []string{"sudo", "qubes-dom0-update", "-y"},
			RebootRequired: true,
		}
	case KindFedora, KindDebian:
		return ApplySpec{
			Command: []string{"sudo", "qubesctl", "--skip-dom0", "--targets", vmPlaceholder, "state.sls", "update.qubes-vm"},
		}
	}
	return ApplySpec{}
}

func expand(argv []string, vm string) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = strings.ReplaceAll(a, vmPlaceholder, vm)
	}
	return out
}

// Names returns the VM names in order.
func Names(vms []VM) []string {
	names := make([]string, 0, len(vms))
	for _, v := range vms {
		names = append(names, v.Name)
	}
	return names
}
