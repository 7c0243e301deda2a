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

package server

import (
	"context"
	"errors"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/autopeer-io/vmupdater/internal/updater/runner"
	"github.com/autopeer-io/vmupdater/pkg/log"
)

// CheckStarter starts check runs.
type CheckStarter interface {
	StartCheck(ctx context.Context, vms []string) (<-chan runner.Message, error)
}

// Scheduler starts a check run over vms every interval.
type Scheduler struct {
	runner   CheckStarter
	vms      []string
	interval time.Duration
}

func NewScheduler(r CheckStarter, vms []string, interval time.Duration) *Scheduler {
	return &Scheduler{runner: r, vms: vms, interval: interval}
}

// Start runs until ctx is done. The first check runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	log.Info("Starting periodic update checks", "interval", s.interval)
	wait.JitterUntilWithContext(ctx, s.checkOnce, s.interval, 0.1, true)
	return nil
}

func (s *Scheduler) checkOnce(ctx context.Context) {
	ch, err := s.runner.StartCheck(ctx, s.vms)
	if errors.Is(err, runner.ErrRunInProgress) {
		log.Info("Skipping scheduled check, a run is in progress")
		return
	}
	if err != nil {
		log.Error(err, "Failed to start scheduled check")
		return
	}

	select {
	case msg := <-ch:
		log.Info("Scheduled check finished", "recommendedAction", msg.RecommendedAction)
	case <-ctx.Done():
	}
}
