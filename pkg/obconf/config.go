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

import (
	"context"
	"os"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/suweicong/obligation-cordapp/internal/msgs"

	"sigs.k8s.io/yaml" // handles the json tags on all the config structs
)

// NodeConfig is the full configuration of one node, which runs as a single well-known party
type NodeConfig struct {
	NodeName         string                 `json:"nodeName"`
	Log              LogConfig              `json:"log"`
	DB               DBConfig               `json:"db"`
	KeyManager       KeyManagerConfig       `json:"keyManager"`
	Registry         RegistryConfig         `json:"registry"`
	IdentityResolver IdentityResolverConfig `json:"identityResolver"`
	Transport        TransportManagerConfig `json:"transport"`
	Notary           NotaryConfig           `json:"notary"`
	Finality         FinalityConfig         `json:"finality"`
	Negotiation      NegotiationConfig      `json:"negotiation"`
	RPCServer        RPCServerConfig        `json:"rpcServer"`
	MetricsServer    MetricsServerConfig    `json:"metricsServer"`
}

func ReadAndParseYAMLFile(ctx context.Context, filePath string, config interface{}) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return i18n.NewError(ctx, msgs.MsgConfigFileMissing, filePath)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return i18n.NewError(ctx, msgs.MsgConfigFileReadError, filePath, err.Error())
	}

	err = yaml.Unmarshal(data, config)
	if err != nil {
		return i18n.NewError(ctx, msgs.MsgConfigFileParseError, err.Error())
	}
	return nil
}

type CacheConfig struct {
	Capacity *int `json:"capacity"`
}

type FlushWriterConfig struct {
	WorkerCount  *int    `json:"workerCount"`
	BatchTimeout *string `json:"batchTimeout"`
	BatchMaxSize *int    `json:"batchMaxSize"`
}
