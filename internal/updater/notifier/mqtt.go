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
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/autopeer-io/vmupdater/internal/updater/runner"
	"github.com/autopeer-io/vmupdater/internal/updater/status"
	"github.com/autopeer-io/vmupdater/pkg/log"
	"github.com/autopeer-io/vmupdater/pkg/mqtt"
	"github.com/autopeer-io/vmupdater/pkg/mqtt/topic"
)

const publishTimeout = 5 * time.Second

// ProgressEvent is published on {root}/progress/{workstation}.
type ProgressEvent struct {
	Workstation string               `json:"workstation"`
	Kind        runner.Kind          `json:"kind"`
	VM          string               `json:"vm,omitempty"`
	Percent     int                  `json:"percent"`
	Status      *status.UpdateStatus `json:"status,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// StatusEvent is published, retained, on {root}/status/{workstation}.
type StatusEvent struct {
	Workstation       string              `json:"workstation"`
	Kind              runner.Kind         `json:"kind"`
	Results           status.Results      `json:"results"`
	RecommendedAction status.UpdateStatus `json:"recommendedAction"`
	Percent           int                 `json:"percent"`
	FollowUp          runner.FollowUp     `json:"followUp"`
	FinishedAt        time.Time           `json:"finishedAt"`
	Error             string              `json:"error,omitempty"`
}

// OnlineEvent is published, retained, on {root}/online/{workstation}.
type OnlineEvent struct {
	Workstation string `json:"workstation"`
	Online      bool   `json:"online"`
	Reason      string `json:"reason,omitempty"`
}

// OfflinePayload is registered as the client's will message.
func OfflinePayload(workstation string) []byte {
	// No timestamp: the will may be delivered long after it was registered.
	payload, _ := json.Marshal(OnlineEvent{Workstation: workstation, Online: false, Reason: "UnexpectedDisconnect"})
	return payload
}

var _ runner.Observer = (*MQTTObserver)(nil)

// MQTTObserver publishes run progress for remote dashboards. Publish failures
// are logged and never affect the run.
type MQTTObserver struct {
	ctx         context.Context
	client      mqtt.Client
	topics      *topic.Builder
	workstation string
	qos         int
}

// NewMQTTObserver publishes through an already started client. ctx bounds
// every publish.
func NewMQTTObserver(ctx context.Context, client mqtt.Client, topics *topic.Builder, workstation string, qos int) *MQTTObserver {
	return &MQTTObserver{
		ctx:         ctx,
		client:      client,
		topics:      topics,
		workstation: workstation,
		qos:         qos,
	}
}

// AnnounceOnline publishes the retained online marker.
func (o *MQTTObserver) AnnounceOnline() {
	o.publish(o.topics.Online(o.workstation), true, OnlineEvent{Workstation: o.workstation, Online: true})
}

func (o *MQTTObserver) RunStarted(kind runner.Kind, _ []string, percent int) {
	o.publish(o.topics.Progress(o.workstation), false, ProgressEvent{
		Workstation: o.workstation,
		Kind:        kind,
		Percent:     percent,
	})
}

func (o *MQTTObserver) VMFinished(kind runner.Kind, vm string, percent int, st status.UpdateStatus, err error) {
	ev := ProgressEvent{
		Workstation: o.workstation,
		Kind:        kind,
		VM:          vm,
		Percent:     percent,
		Status:      &st,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	o.publish(o.topics.Progress(o.workstation), false, ev)
}

func (o *MQTTObserver) RunFinished(msg runner.Message) {
	ev := StatusEvent{
		Workstation:       o.workstation,
		Kind:              msg.Kind,
		Results:           msg.Results,
		RecommendedAction: msg.RecommendedAction,
		Percent:           msg.Percent,
		FollowUp:          msg.FollowUp(),
		FinishedAt:        msg.FinishedAt,
	}
	if msg.Err != nil {
		ev.Error = msg.Err.Error()
	}
	o.publish(o.topics.Status(o.workstation), true, ev)
}

func (o *MQTTObserver) publish(t string, retain bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Error(err, "Failed to encode MQTT payload", "topic", t)
		return
	}

	ctx, cancel := context.WithTimeout(o.ctx, publishTimeout)
	defer cancel()

	err = o.client.Publish(ctx, t, o.qos, retain, payload)
	switch {
	case errors.Is(err, mqtt.ErrOffline):
		log.Debug("MQTT broker offline, dropping message", "topic", t)
	case err != nil:
		log.Warn("Failed to publish progress", "topic", t, "error", err)
	}
}
