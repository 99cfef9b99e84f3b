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

package obtypes

import (
	"context"
	"encoding/json"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
)

// IdentityCertificate binds a confidential key to the well-known party that owns it.
// It is signed by the owner's well-known key, so any holder can check the binding
// against the party registry, and by the confidential key itself as proof of possession.
type IdentityCertificate struct {
	Key          string   `json:"key"`
	Owner        string   `json:"owner"`
	OwnerKey     string   `json:"ownerKey"`
	Signature    HexBytes `json:"signature"`
	KeySignature HexBytes `json:"keySignature"`
}

func (c *IdentityCertificate) SigningPayload() []byte {
	b, _ := json.Marshal(&IdentityCertificate{
		Key:      c.Key,
		Owner:    c.Owner,
		OwnerKey: c.OwnerKey,
	})
	return b
}

// VerifySignature checks the certificate was signed by the owner key it names, and by
// the confidential key it binds. The caller checks the owner key belongs to the owner.
func (c *IdentityCertificate) VerifySignature(ctx context.Context) error {
	payload := c.SigningPayload()
	sig := &Signature{Key: c.OwnerKey, Signature: c.Signature}
	if err := sig.Verify(ctx, payload); err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgIdentityCertInvalid, c.Key, c.Owner)
	}
	keySig := &Signature{Key: c.Key, Signature: c.KeySignature}
	if err := keySig.Verify(ctx, payload); err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgIdentityCertNoPossession, c.Key)
	}
	return nil
}

// SameBinding is true when both certificates bind the same key to the same owner
func (c *IdentityCertificate) SameBinding(o *IdentityCertificate) bool {
	return c.Key == o.Key && c.Owner == o.Owner && c.OwnerKey == o.OwnerKey
}
