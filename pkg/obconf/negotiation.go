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

type NegotiationConfig struct {
	// validity window attached to every proposal
	TimeWindow *string `json:"timeWindow"`
	// largest page the ledger query contract will serve, which also bounds a batch action
	MaxPageSize *int `json:"maxPageSize"`
	// resume unfinished negotiations from their checkpoints on start
	ResumeOnStart    *bool             `json:"resumeOnStart"`
	CheckpointWriter FlushWriterConfig `json:"checkpointWriter"`
}

var NegotiationDefaults = &NegotiationConfig{
	TimeWindow:    confutil.P("30s"),
	MaxPageSize:   confutil.P(1000),
	ResumeOnStart: confutil.P(true),
	CheckpointWriter: FlushWriterConfig{
		WorkerCount:  confutil.P(4),
		BatchTimeout: confutil.P("10ms"),
		BatchMaxSize: confutil.P(100),
	},
}

type NotaryConfig struct {
	// this node runs a notary service for the network
	Enabled *bool `json:"enabled"`
	// allowed clock skew when checking a proposal's time window
	ClockTolerance *string `json:"clockTolerance"`
}

var NotaryDefaults = &NotaryConfig{
	Enabled:        confutil.P(false),
	ClockTolerance: confutil.P("5s"),
}

type FinalityConfig struct {
	// rejected transaction ids remembered to answer late status queries
	RejectionCache CacheConfig `json:"rejectionCache"`
}

var FinalityDefaults = &FinalityConfig{
	RejectionCache: CacheConfig{
		Capacity: confutil.P(1000),
	},
}
