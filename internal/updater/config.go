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

package updater

import (
	"context"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/vmupdater/internal/updater/actions"
	"github.com/autopeer-io/vmupdater/internal/updater/flagstore"
	"github.com/autopeer-io/vmupdater/internal/updater/gateway"
	"github.com/autopeer-io/vmupdater/internal/updater/notifier"
	"github.com/autopeer-io/vmupdater/internal/updater/orchestrator"
	"github.com/autopeer-io/vmupdater/internal/updater/runner"
	"github.com/autopeer-io/vmupdater/pkg/log"
	"github.com/autopeer-io/vmupdater/pkg/mqtt"
	"github.com/autopeer-io/vmupdater/pkg/mqtt/topic"
	"github.com/autopeer-io/vmupdater/pkg/options"
)

// Config is the complete configuration of an Updater.
type Config struct {
	StateOptions   *StateOptions
	GatewayOptions *GatewayOptions
	ActionsOptions *ActionsOptions
	MqttOptions    *options.MqttOptions
	S3Options      *options.S3Options

	// RequireCheck gates apply runs behind a completed check.
	RequireCheck bool

	// Observers receive progress in addition to the log and MQTT observers.
	Observers []runner.Observer

	// Executor runs host commands. Defaults to os/exec.
	Executor gateway.Executor
	// Clock defaults to the real clock.
	Clock clock.PassiveClock
}

// NewUpdater wires the gateway, stores, observers and runner. The MQTT
// client, if enabled, is started and must be released with Close.
func (cfg *Config) NewUpdater(ctx context.Context) (*Updater, error) {
	logger := log.Std()
	clk := cfg.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	exec := cfg.Executor
	if exec == nil {
		exec = gateway.NewExecutor(cfg.GatewayOptions.Timeout)
	}

	vms, err := cfg.GatewayOptions.Resolve()
	if err != nil {
		return nil, err
	}
	qubes, err := gateway.NewQubes(exec, vms)
	if err != nil {
		return nil, fmt.Errorf("failed to init gateway: %w", err)
	}
	gw := gateway.WithApplyRetries(qubes, cfg.GatewayOptions.RetryPolicy(), logger.Logr().WithName("gateway"))

	files, err := flagstore.NewFileStore(cfg.StateOptions.Dir, clk)
	if err != nil {
		return nil, fmt.Errorf("failed to init flag store: %w", err)
	}
	store := flagstore.Multi{files}
	if cfg.S3Options.Enabled() {
		mirror, err := flagstore.NewS3Store(ctx, cfg.S3Options, cfg.StateOptions.Workstation, clk)
		if err != nil {
			return nil, fmt.Errorf("failed to init s3 mirror: %w", err)
		}
		store = append(store, mirror)
	}

	observers := append([]runner.Observer{notifier.NewLogObserver(logger)}, cfg.Observers...)

	var mqttClient mqtt.Client
	if cfg.MqttOptions.Enabled() {
		var obs *notifier.MQTTObserver
		mqttClient, obs, err = cfg.initMqtt(ctx)
		if err != nil {
			return nil, err
		}
		observers = append(observers, obs)
	}

	r, err := runner.New(runner.Config{
		Sequencer:    orchestrator.New(gw, logger.Logr(), clk),
		Store:        store,
		Observers:    observers,
		Logger:       logger.Logr(),
		Clock:        clk,
		VMs:          gateway.Names(vms),
		RequireCheck: cfg.RequireCheck,
	})
	if err != nil {
		return nil, err
	}

	act, err := actions.New(exec, cfg.ActionsOptions.ClientVM, cfg.ActionsOptions.Client, cfg.ActionsOptions.RebootCommand)
	if err != nil {
		return nil, err
	}

	return &Updater{
		runner:  r,
		files:   files,
		actions: act,
		vms:     gateway.Names(vms),
		mqtt:    mqttClient,
	}, nil
}

func (cfg *Config) initMqtt(ctx context.Context) (mqtt.Client, *notifier.MQTTObserver, error) {
	ws := cfg.StateOptions.Workstation
	topics := topic.NewBuilder(cfg.MqttOptions.TopicRoot)

	mqttConfig := cfg.MqttOptions.ToClientConfig()
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = fmt.Sprintf("vmupdater-%s", ws)
	}
	mqttConfig.WillTopic = topics.Online(ws)
	mqttConfig.WillPayload = notifier.OfflinePayload(ws)
	mqttConfig.WillQoS = 1
	mqttConfig.WillRetain = true

	client, err := mqtt.NewClient(mqttConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init mqtt client: %w", err)
	}
	if err := client.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to start mqtt client: %w", err)
	}

	obs := notifier.NewMQTTObserver(context.WithoutCancel(ctx), client, topics, ws, cfg.MqttOptions.QoS)

	// Progress is best effort; do not hold up the run waiting for the broker.
	go func() {
		waitCtx, cancel := context.WithTimeout(ctx, cfg.MqttOptions.ConnectTimeout+5*time.Second)
		defer cancel()
		if err := client.AwaitConnection(waitCtx); err != nil {
			log.Warn("MQTT broker not reachable, progress will not be published", "broker", cfg.MqttOptions.Broker)
			return
		}
		obs.AnnounceOnline()
	}()

	return client, obs, nil
}
