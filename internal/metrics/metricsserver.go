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

package metrics

import (
	"context"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/suweicong/obligation-cordapp/internal/httpserver"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
)

type MetricsServer interface {
	Start() error
	Stop()
}

// NewMetricsServer serves /metrics when enabled, and is a no-op otherwise
func NewMetricsServer(ctx context.Context, registry *prometheus.Registry, conf *obconf.MetricsServerConfig) (MetricsServer, error) {
	s := &metricsServer{}
	if confutil.Bool(conf.Enabled, *obconf.MetricsServerDefaults.Enabled) {
		r := mux.NewRouter()
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server, err := httpserver.NewServer(ctx, "Metrics (HTTP)", &conf.HTTPServerConfig, r)
		if err != nil {
			return nil, err
		}
		s.httpServer = server
	}
	return s, nil
}

type metricsServer struct {
	httpServer httpserver.Server
}

func (s *metricsServer) Start() (err error) {
	if s.httpServer != nil {
		err = s.httpServer.Start()
	}
	return err
}

func (s *metricsServer) Stop() {
	if s.httpServer != nil {
		s.httpServer.Stop()
	}
}
