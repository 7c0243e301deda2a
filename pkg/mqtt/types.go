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
	"errors"
)

// ErrOffline is returned by Publish while the broker is unreachable.
// Messages are dropped, not queued.
var ErrOffline = errors.New("mqtt: broker not connected")

// Client publishes status messages to a broker.
type Client interface {
	// Start begins connecting in the background and returns immediately.
	Start(ctx context.Context) error

	// Disconnect sends DISCONNECT, so the broker discards the will message.
	Disconnect(ctx context.Context)

	// Publish sends payload to topic, or returns ErrOffline.
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// AwaitConnection blocks until the first connection succeeds or ctx is done.
	AwaitConnection(ctx context.Context) error

	// Connected reports whether the last connection attempt is up.
	Connected() bool
}
