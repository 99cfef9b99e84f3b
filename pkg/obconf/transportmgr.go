// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
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

package obconf

import "github.com/suweicong/obligation-cordapp/pkg/confutil"

const (
	TransportTypeGRPC     = "grpc"
	TransportTypeLoopback = "loopback"
)

type TransportManagerConfig struct {
	Type         string              `json:"type"`
	SendQueueLen *int                `json:"sendQueueLen"`
	GRPC         GRPCTransportConfig `json:"grpc"`
}

type GRPCTransportConfig struct {
	Address        *string `json:"address"`
	Port           *int    `json:"port"`
	ConnectTimeout *string `json:"connectTimeout"`
	SendTimeout    *string `json:"sendTimeout"`
	MaxMessageSize *string `json:"maxMessageSize"`
}

var TransportManagerDefaults = &TransportManagerConfig{
	Type:         TransportTypeGRPC,
	SendQueueLen: confutil.P(10),
	GRPC: GRPCTransportConfig{
		Address:        confutil.P("0.0.0.0"),
		Port:           confutil.P(8747),
		ConnectTimeout: confutil.P("10s"),
		SendTimeout:    confutil.P("30s"),
		MaxMessageSize: confutil.P("16MB"),
	},
}
