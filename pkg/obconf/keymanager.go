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

type KeyManagerConfig struct {
	// BIP-39 mnemonic, or a hex encoded 32 byte seed
	Seed *string `json:"seed"`
	// file containing the seed, in either of the forms accepted for Seed
	SeedFile *string `json:"seedFile"`
	// BIP-44 prefix under which the well-known key and the confidential keys are derived
	BIP44Prefix *string `json:"bip44Prefix"`
}

var KeyManagerDefaults = &KeyManagerConfig{
	BIP44Prefix: confutil.P("m/44'/60'"),
}
