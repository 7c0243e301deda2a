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

package status

import (
	"encoding/json"
	"fmt"
)

// UpdateStatus is the outcome of checking or applying updates, either for a
// single VM or aggregated over a whole run.
type UpdateStatus int

const (
	// UpdatesOK means the VM is current and no action is needed.
	UpdatesOK UpdateStatus = iota
	// UpdatesRequired means updates are pending.
	UpdatesRequired
	// RebootRequired means updates were applied and a reboot is needed to
	// activate them.
	RebootRequired
	// UpdatesFailed means the operation did not complete successfully.
	UpdatesFailed
)

// All lists every variant in flag-code order.
var All = []UpdateStatus{UpdatesOK, UpdatesRequired, RebootRequired, UpdatesFailed}

// String returns the canonical upper-case name of the status.
func (s UpdateStatus) String() string {
	switch s {
	case UpdatesOK:
		return "UPDATES_OK"
	case UpdatesRequired:
		return "UPDATES_REQUIRED"
	case RebootRequired:
		return "REBOOT_REQUIRED"
	case UpdatesFailed:
		return "UPDATES_FAILED"
	}
	return fmt.Sprintf("UpdateStatus(%d)", int(s))
}

// Code returns the value written to the status flag file.
func (s UpdateStatus) Code() string {
	return fmt.Sprintf("%d", int(s))
}

// Valid reports whether s is one of the known variants.
func (s UpdateStatus) Valid() bool {
	return s >= UpdatesOK && s <= UpdatesFailed
}

// IsError reports whether s is the error variant.
func (s UpdateStatus) IsError() bool {
	return s == UpdatesFailed
}

// Parse accepts either a flag code ("0".."3") or a canonical name.
func Parse(v string) (UpdateStatus, error) {
	for _, s := range All {
		if v == s.Code() || v == s.String() {
			return s, nil
		}
	}
	return UpdatesFailed, fmt.Errorf("unknown update status %q", v)
}

// MarshalText implements encoding.TextMarshaler.
func (s UpdateStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid update status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *UpdateStatus) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

var _ json.Marshaler = Results(nil)

// Results maps a VM name to its outcome for one run.
type Results map[string]UpdateStatus

// MarshalJSON renders the outcomes by name so the payload is readable by
// observers that do not know the numeric codes.
func (r Results) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(r))
	for vm, s := range r {
		out[vm] = s.String()
	}
	return json.Marshal(out)
}

// Clone returns a copy that can be handed to another owner.
func (r Results) Clone() Results {
	out := make(Results, len(r))
	for vm, s := range r {
		out[vm] = s
	}
	return out
}

// WithStatus returns the VM names whose outcome equals s, in no particular order.
func (r Results) WithStatus(s UpdateStatus) []string {
	var vms []string
	for vm, got := range r {
		if got == s {
			vms = append(vms, vm)
		}
	}
	return vms
}
