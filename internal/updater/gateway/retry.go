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
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/autopeer-io/vmupdater/internal/updater/status"
)

// RetryPolicy controls automatic retries of failed apply operations.
// Check operations are never retried.
type RetryPolicy struct {
	// Retries is the number of extra attempts after the first failure.
	Retries int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
}

// WithApplyRetries wraps g so that failed applies are retried per policy.
// A zero policy returns g unchanged.
func WithApplyRetries(g Gateway, policy RetryPolicy, logger logr.Logger) Gateway {
	if policy.Retries <= 0 {
		return g
	}
	return &retrying{Gateway: g, policy: policy, logger: logger}
}

type retrying struct {
	Gateway
	policy RetryPolicy
	logger logr.Logger
}

func (r *retrying) Apply(ctx context.Context, vm string) (status.UpdateStatus, error) {
	var (
		result  = status.UpdatesFailed
		lastErr error
		attempt int
	)

	backoff := wait.Backoff{
		Duration: r.policy.Backoff,
		Factor:   2,
		Jitter:   0.1,
		Steps:    r.policy.Retries + 1,
	}

	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		attempt++
		result, lastErr = r.Gateway.Apply(ctx, vm)
		if lastErr == nil {
			return true, nil
		}
		r.logger.Info("Apply attempt failed", "vm", vm, "attempt", attempt, "error", lastErr.Error())
		return false, nil
	})

	if lastErr != nil {
		return status.UpdatesFailed, lastErr
	}
	if err != nil {
		return status.UpdatesFailed, &OperationError{VM: vm, Op: OpApply, Err: err}
	}
	return result, nil
}
