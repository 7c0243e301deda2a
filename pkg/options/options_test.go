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

import "testing"

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"127.0.0.1:9464", false},
		{":9464", false},
		{"0.0.0.0:0", false},
		{"127.0.0.1", true},
		{"127.0.0.1:http", true},
		{"127.0.0.1:70000", true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if err := ValidateAddress(tt.addr); (err != nil) != tt.wantErr {
				t.Errorf("ValidateAddress(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
			}
		})
	}
}

func TestOptionalGroupsDisabledByDefault(t *testing.T) {
	if NewMqttOptions().Enabled() {
		t.Error("mqtt should be disabled without a broker")
	}
	if NewS3Options().Enabled() {
		t.Error("s3 mirror should be disabled without an endpoint")
	}
	if NewGrpcOptions().Enabled() {
		t.Error("grpc health should be disabled by default")
	}
	if !NewHttpOptions().Enabled() {
		t.Error("http status server should be enabled by default")
	}
}

func TestS3OptionsValidate(t *testing.T) {
	o := NewS3Options()
	o.Endpoint = "minio.local:9000"
	if errs := o.Validate(); len(errs) != 1 {
		t.Errorf("expected missing credentials error, got %v", errs)
	}

	o.AccessKeyID, o.SecretAccessKey = "id", "secret"
	if errs := o.Validate(); len(errs) != 0 {
		t.Errorf("unexpected errors %v", errs)
	}
}

func TestMqttOptionsValidate(t *testing.T) {
	o := NewMqttOptions()
	o.Broker = "tcp://localhost:1883"
	o.QoS = 3
	if errs := o.Validate(); len(errs) != 1 {
		t.Errorf("expected qos error, got %v", errs)
	}
}
