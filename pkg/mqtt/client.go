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

package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/autopeer-io/vmupdater/pkg/log"
)

var _ Client = (*publisher)(nil)

// publisher is a publish-only autopaho connection.
type publisher struct {
	cfg    *ClientConfig
	broker *url.URL
	up     atomic.Bool
	cm     *autopaho.ConnectionManager
}

// NewClient validates cfg and returns a Client that is not yet connected.
func NewClient(cfg *ClientConfig) (Client, error) {
	if cfg == nil {
		return nil, errors.New("mqtt config is required")
	}
	setDefaultConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	broker, err := url.Parse(cfg.BrokerURL)
	if err != nil {
		return nil, err
	}
	return &publisher{cfg: cfg, broker: broker}, nil
}

func (p *publisher) Start(ctx context.Context) error {
	log.Info("Connecting to MQTT broker", "broker", p.cfg.BrokerURL, "clientID", p.cfg.ClientID)

	cm, err := autopaho.NewConnection(ctx, p.connectionConfig())
	if err != nil {
		return err
	}
	p.cm = cm
	return nil
}

func (p *publisher) connectionConfig() autopaho.ClientConfig {
	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{p.broker},
		KeepAlive:                     p.cfg.KeepAlive,
		CleanStartOnInitialConnection: p.cfg.CleanStart,
		SessionExpiryInterval:         p.cfg.SessionExpiry,
		ConnectTimeout:                p.cfg.ConnectTimeout,
		ReconnectBackoff:              autopaho.NewConstantBackoff(p.cfg.ReconnectDelay),
		ConnectUsername:               p.cfg.Username,
		ConnectPassword:               []byte(p.cfg.Password),
		OnConnectionUp: func(*autopaho.ConnectionManager, *paho.Connack) {
			p.up.Store(true)
			log.Info("MQTT broker connected", "broker", p.cfg.BrokerURL)
		},
		OnConnectError: func(err error) {
			p.up.Store(false)
			log.Warn("MQTT broker unreachable, will retry", "broker", p.cfg.BrokerURL, "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.cfg.ClientID,
			OnClientError: func(err error) {
				p.up.Store(false)
				log.Error(err, "MQTT connection lost")
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				p.up.Store(false)
				log.Warn("MQTT broker closed the connection", "reasonCode", int(d.ReasonCode))
			},
		},
	}

	if p.broker.Scheme == "ssl" || p.broker.Scheme == "tls" || p.broker.Scheme == "mqtts" {
		cfg.TlsCfg = &tls.Config{InsecureSkipVerify: p.cfg.InsecureSkipVerify}
	}

	if p.cfg.WillTopic != "" {
		cfg.WillMessage = &paho.WillMessage{
			Topic:   p.cfg.WillTopic,
			Payload: p.cfg.WillPayload,
			QoS:     p.cfg.WillQoS,
			Retain:  p.cfg.WillRetain,
		}
	}
	return cfg
}

func (p *publisher) Disconnect(ctx context.Context) {
	if p.cm == nil {
		return
	}
	p.up.Store(false)
	if err := p.cm.Disconnect(ctx); err != nil {
		log.Warn("MQTT disconnect did not complete", "error", err)
		return
	}
	log.Info("MQTT broker disconnected")
}

func (p *publisher) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	if p.cm == nil || !p.up.Load() {
		return ErrOffline
	}
	_, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     byte(qos),
		Retain:  retain,
		Payload: payload,
	})
	return err
}

func (p *publisher) AwaitConnection(ctx context.Context) error {
	if p.cm == nil {
		return errors.New("mqtt client not started")
	}
	if err := p.cm.AwaitConnection(ctx); err != nil {
		return err
	}
	p.up.Store(true)
	return nil
}

func (p *publisher) Connected() bool {
	return p.up.Load()
}
