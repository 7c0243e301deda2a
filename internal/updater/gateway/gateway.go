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
	"context"
	"fmt"

	"github.com/autopeer-io/vmupdater/internal/updater/status"
)

// Op names an operation executed against a VM.
type Op string

const (
	OpCheck Op = "check"
	OpApply Op = "apply"
)

// Gateway executes update operations inside a named VM.
//
// A returned error means the operation did not complete for that VM; the
// accompanying status is ignored by callers.
type Gateway interface {
	// Check reports whether the VM has pending updates.
	// It returns UpdatesOK or UpdatesRequired on success.
	Check(ctx context.Context, vm string) (status.UpdateStatus, error)

	// Apply installs pending updates.
	// It returns UpdatesOK or RebootRequired on success.
	Apply(ctx context.Context, vm string) (status.UpdateStatus, error)
}

// OperationError reports a per-VM operation failure.
type OperationError struct {
	VM  string
	Op  Op
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.VM, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
