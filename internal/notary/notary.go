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

// Package notary provides the uniqueness service that orders every transaction in the
// network, and the client that parties use to reach it over the transport.
package notary

import (
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
)

const (
	MessageTypeNotaryRequest  = "notary_request"
	MessageTypeNotaryResponse = "notary_response"
)

type notaryRequest struct {
	Transaction *obtypes.SignedTransaction `json:"transaction"`
}

type notaryResponse struct {
	TxID      obtypes.Bytes32    `json:"txId"`
	Signature *obtypes.Signature `json:"signature,omitempty"`
	ErrorKind string             `json:"errorKind,omitempty"`
	Error     string             `json:"error,omitempty"`
}
