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
	"bytes"
	"context"
	"fmt"

	"github.com/autopeer-io/vmupdater/internal/updater/status"
)

var _ Gateway = (*Qubes)(nil)

// Qubes runs update commands from the admin domain. VMs are addressed by
// name and must be part of the configured set.
type Qubes struct {
	exec Executor
	vms  map[string]VM
}

// NewQubes builds a Gateway for the given VMs. Unset commands are filled
// from each VM's kind.
func NewQubes(exec Executor, vms []VM) (*Qubes, error) {
	index := make(map[string]VM, len(vms))
	for _, v := range vms {
		v = v.Complete()
		if err := v.Validate(); err != nil {
			return nil, err
		}
		if _, dup := index[v.Name]; dup {
			return nil, fmt.Errorf("vm %s is configured twice", v.Name)
		}
		index[v.Name] = v
	}

	return &Qubes{exec: exec, vms: index}, nil
}

// Check implements Gateway.
func (q *Qubes) Check(ctx context.Context, vm string) (status.UpdateStatus, error) {
	spec, err := q.lookup(vm, OpCheck)
	if err != nil {
		return status.UpdatesFailed, err
	}

	out, code, err := q.exec.Run(ctx, expand(spec.Check.Command, vm))
	if err != nil {
		return status.UpdatesFailed, &OperationError{VM: vm, Op: OpCheck, Err: err}
	}

	switch {
	case spec.Check.UpdatesExitCode != 0 && code == spec.Check.UpdatesExitCode:
		return status.UpdatesRequired, nil
	case code != 0:
		return status.UpdatesFailed, &OperationError{VM: vm, Op: OpCheck, Err: exitError(code, out)}
	case spec.Check.UpdatesPattern != "" && bytes.Contains(out, []byte(spec.Check.UpdatesPattern)):
		return status.UpdatesRequired, nil
	default:
		return status.UpdatesOK, nil
	}
}

// Apply implements Gateway.
func (q *Qubes) Apply(ctx context.Context, vm string) (status.UpdateStatus, error) {
	spec, err := q.lookup(vm, OpApply)
	if err != nil {
		return status.UpdatesFailed, err
	}

	out, code, err := q.exec.Run(ctx, expand(spec.Apply.Command, vm))
	if err != nil {
		return status.UpdatesFailed, &OperationError{VM: vm, Op: OpApply, Err: err}
	}
	if code != 0 {
		return status.UpdatesFailed, &OperationError{VM: vm, Op: OpApply, Err: exitError(code, out)}
	}

	if spec.Apply.RebootRequired {
		return status.RebootRequired, nil
	}
	return status.UpdatesOK, nil
}

func (q *Qubes) lookup(vm string, op Op) (VM, error) {
	spec, ok := q.vms[vm]
	if !ok {
		return VM{}, &OperationError{VM: vm, Op: op, Err: fmt.Errorf("vm is not managed by the updater")}
	}
	return spec, nil
}

const maxOutputInError = 512

func exitError(code int, out []byte) error {
	out = bytes.TrimSpace(out)
	if len(out) > maxOutputInError {
		out = out[len(out)-maxOutputInError:]
	}
	return fmt.Errorf("exit status %d: %s", code, out)
}
