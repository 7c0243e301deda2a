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

package grpc

import (
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/autopeer-io/vmupdater/internal/updater/runner"
	"github.com/autopeer-io/vmupdater/internal/updater/status"
)

type healthObserver struct {
	s *Server
}

func (o healthObserver) RunStarted(runner.Kind, []string, int) {
	o.s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
}

func (o healthObserver) VMFinished(runner.Kind, string, int, status.UpdateStatus, error) {}

func (o healthObserver) RunFinished(runner.Message) {
	o.s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}
