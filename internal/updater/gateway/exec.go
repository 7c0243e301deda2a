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
	"errors"
	"os/exec"
	"time"
)

// Executor runs a host command and reports its combined output and exit code.
// err is non-nil only when the command could not be run or was killed; a
// non-zero exit code alone is not an error.
type Executor interface {
	Run(ctx context.Context, argv []string) (output []byte, exitCode int, err error)
}

// NewExecutor returns an Executor backed by os/exec. A positive timeout bounds
// every command.
func NewExecutor(timeout time.Duration) Executor {
	return &executable{timeout: timeout}
}

type executable struct {
	timeout time.Duration
}

func (e *executable) Run(ctx context.Context, argv []string) ([]byte, int, error) {
	if len(argv) == 0 {
		return nil, -1, errors.New("empty command")
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return out.Bytes(), 0, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return out.Bytes(), -1, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out.Bytes(), exitErr.ExitCode(), nil
	}

	return out.Bytes(), -1, err
}
