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

package options

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/vmupdater/internal/updater"
	"github.com/autopeer-io/vmupdater/pkg/app"
	"github.com/autopeer-io/vmupdater/pkg/log"
	"github.com/autopeer-io/vmupdater/pkg/options"
)

// ServeOptions configures the long-running serve command.
type ServeOptions struct {
	// CheckInterval starts a check run periodically; 0 disables it.
	CheckInterval time.Duration `json:"check-interval" mapstructure:"check-interval"`
}

func (o *ServeOptions) Validate() []error {
	if o.CheckInterval < 0 {
		return []error{fmt.Errorf("--serve.check-interval cannot be negative")}
	}
	if o.CheckInterval > 0 && o.CheckInterval < time.Minute {
		return []error{fmt.Errorf("--serve.check-interval must be at least 1m, got %s", o.CheckInterval)}
	}
	return nil
}

func (o *ServeOptions) AddFlags(fs *pflag.FlagSet) {
	fs.DurationVar(&o.CheckInterval, "serve.check-interval", o.CheckInterval, "Interval between scheduled check runs while serving; 0 disables them.")
}

type UpdaterOptions struct {
	StateOptions   *updater.StateOptions   `json:"state" mapstructure:"state"`
	GatewayOptions *updater.GatewayOptions `json:"gateway" mapstructure:"gateway"`
	ActionsOptions *updater.ActionsOptions `json:"actions" mapstructure:"actions"`
	HttpOptions    *options.HttpOptions    `json:"http" mapstructure:"http"`
	GrpcOptions    *options.GrpcOptions    `json:"grpc" mapstructure:"grpc"`
	MqttOptions    *options.MqttOptions    `json:"mqtt" mapstructure:"mqtt"`
	S3Options      *options.S3Options      `json:"s3" mapstructure:"s3"`
	ServeOptions   *ServeOptions           `json:"serve" mapstructure:"serve"`
	Log            *log.Options            `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*UpdaterOptions)(nil)

func NewUpdaterOptions() *UpdaterOptions {
	return &UpdaterOptions{
		StateOptions:   updater.NewStateOptions(),
		GatewayOptions: updater.NewGatewayOptions(),
		ActionsOptions: updater.NewActionsOptions(),
		HttpOptions:    options.NewHttpOptions(),
		GrpcOptions:    options.NewGrpcOptions(),
		MqttOptions:    options.NewMqttOptions(),
		S3Options:      options.NewS3Options(),
		ServeOptions:   &ServeOptions{},
		Log:            log.NewOptions(),
	}
}

func (o *UpdaterOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.StateOptions.AddFlags(fss.FlagSet("state"))
	o.GatewayOptions.AddFlags(fss.FlagSet("gateway"))
	o.ActionsOptions.AddFlags(fss.FlagSet("actions"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.GrpcOptions.AddFlags(fss.FlagSet("grpc"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.ServeOptions.AddFlags(fss.FlagSet("serve"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

// Complete fills the workstation name and, when no log file is set, keeps the
// updater log under the state directory.
func (o *UpdaterOptions) Complete() error {
	if err := o.StateOptions.Complete(); err != nil {
		return err
	}

	if o.Log.File == "" {
		dir := filepath.Join(o.StateOptions.Dir, "logs")
		if err := os.MkdirAll(dir, 0o700); err == nil {
			o.Log.File = filepath.Join(dir, "updater.log")
		}
	}
	return nil
}

func (o *UpdaterOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.StateOptions.Validate()...)
	errs = append(errs, o.GatewayOptions.Validate()...)
	errs = append(errs, o.ActionsOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.GrpcOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.ServeOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

// LogOptions implements app.LogOptionsProvider.
func (o *UpdaterOptions) LogOptions() *log.Options {
	return o.Log
}

// Config returns the updater configuration. requireCheck gates apply runs
// behind a completed check.
func (o *UpdaterOptions) Config(requireCheck bool) (*updater.Config, error) {
	return &updater.Config{
		StateOptions:   o.StateOptions,
		GatewayOptions: o.GatewayOptions,
		ActionsOptions: o.ActionsOptions,
		MqttOptions:    o.MqttOptions,
		S3Options:      o.S3Options,
		RequireCheck:   requireCheck,
	}, nil
}
