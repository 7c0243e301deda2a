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

package notifier

import (
	"github.com/autopeer-io/vmupdater/internal/updater/runner"
	"github.com/autopeer-io/vmupdater/internal/updater/status"
	"github.com/autopeer-io/vmupdater/pkg/log"
)

var _ runner.Observer = (*LogObserver)(nil)

// LogObserver writes run progress to a structured logger.
type LogObserver struct {
	logger log.Logger
}

func NewLogObserver(logger log.Logger) *LogObserver {
	return &LogObserver{logger: logger.WithName("progress")}
}

func (o *LogObserver) RunStarted(kind runner.Kind, vms []string, percent int) {
	o.logger.Info("Starting update run", "kind", kind, "vms", vms, "progress", percent)
}

func (o *LogObserver) VMFinished(kind runner.Kind, vm string, percent int, st status.UpdateStatus, err error) {
	if err != nil {
		o.logger.Error(err, "VM operation failed", "kind", kind, "vm", vm, "progress", percent, "status", st)
		return
	}
	o.logger.Info("VM processed", "kind", kind, "vm", vm, "progress", percent, "status", st)
}

func (o *LogObserver) RunFinished(msg runner.Message) {
	kv := []any{
		"kind", msg.Kind,
		"recommendedAction", msg.RecommendedAction,
		"progress", msg.Percent,
		"followUp", msg.FollowUp(),
		"duration", msg.Duration(),
	}
	if msg.Err != nil {
		o.logger.Error(msg.Err, "Update run did not complete cleanly", kv...)
		return
	}
	o.logger.Info("Update run finished", kv...)
}
