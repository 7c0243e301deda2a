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

package app

import (
	"github.com/spf13/cobra"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/vmupdater/cmd/vmupdater/app/options"
	"github.com/autopeer-io/vmupdater/internal/server"
	grpcserver "github.com/autopeer-io/vmupdater/internal/server/grpc"
	httpserver "github.com/autopeer-io/vmupdater/internal/server/http"
	"github.com/autopeer-io/vmupdater/internal/updater/runner"
	"github.com/autopeer-io/vmupdater/pkg/log"
)

func newServeCommand(opts *options.UpdaterOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the status, metrics and run API until interrupted",
		Long: `Serve probes, Prometheus metrics and the run API over HTTP, optionally a gRPC
health service, and optionally start a check run every --serve.check-interval.
Apply runs started through the API require a completed check.`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			ctx := genericapiserver.SetupSignalContext()

			cfg, err := opts.Config(true)
			if err != nil {
				return err
			}

			var servers []server.Server
			if opts.GrpcOptions.Enabled() {
				g := grpcserver.NewServer(opts.GrpcOptions)
				cfg.Observers = []runner.Observer{g.Observer()}
				servers = append(servers, g)
			}

			u, err := cfg.NewUpdater(ctx)
			if err != nil {
				return err
			}
			defer u.Close()

			if opts.HttpOptions.Enabled() {
				servers = append(servers, httpserver.NewServer(opts.HttpOptions, u.Runner(), u.Files(), u.VMs()))
			}
			if opts.ServeOptions.CheckInterval > 0 {
				servers = append(servers, server.NewScheduler(u.Runner(), u.VMs(), opts.ServeOptions.CheckInterval))
			}
			if len(servers) == 0 {
				log.Warn("Nothing to serve, enable --http.addr, --grpc.addr or --serve.check-interval")
				return nil
			}

			return server.NewManager(servers...).Start(ctx)
		},
	}
}
