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
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcmw "github.com/autopeer-io/vmupdater/internal/pkg/middleware/grpc"
	"github.com/autopeer-io/vmupdater/internal/updater/runner"
	"github.com/autopeer-io/vmupdater/pkg/log"
	"github.com/autopeer-io/vmupdater/pkg/options"
)

// ServiceName is the health service reporting whether a run is active.
// NOT_SERVING means an update run is in progress.
const ServiceName = "vmupdater.v1.Updater"

type Server struct {
	server  *grpc.Server
	health  *health.Server
	options *options.GrpcOptions
}

func NewServer(opts *options.GrpcOptions) *Server {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcmw.UnaryTimeoutInterceptor(opts.Timeout)))
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s) // Enable grpc_cli support

	return &Server{
		server:  s,
		health:  hs,
		options: opts,
	}
}

// Observer keeps the health status in step with runs.
func (s *Server) Observer() runner.Observer {
	return healthObserver{s}
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen(s.options.Network, s.options.Addr)
	if err != nil {
		return err
	}

	log.Info("Starting gRPC Server", "addr", s.options.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.health.Shutdown()
		s.server.GracefulStop()
		return nil
	}
}
