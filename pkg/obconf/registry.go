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

// RegistryConfig is the static network map: every well-known party the node can talk to
type RegistryConfig struct {
	Parties []*PartyEntryConfig `json:"parties"`
	Cache   CacheConfig         `json:"cache"`
}

type PartyEntryConfig struct {
	Name     string `json:"name"`
	Key      string `json:"key"`
	Endpoint string `json:"endpoint"`
	Notary   bool   `json:"notary"`
}

type IdentityResolverConfig struct {
	Cache CacheConfig `json:"cache"`
}

var RegistryDefaults = &RegistryConfig{
	Cache: CacheConfig{
		Capacity: confutil.P(100),
	},
}

var IdentityResolverDefaults = &IdentityResolverConfig{
	Cache: CacheConfig{
		Capacity: confutil.P(1000),
	},
}
