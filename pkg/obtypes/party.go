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
	"fmt"
	"slices"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
)

type PartyKind string

const (
	PartyKindWellKnown    PartyKind = "well_known"
	PartyKindConfidential PartyKind = "confidential"
	PartyKindThreshold    PartyKind = "threshold"
)

// ThresholdMember is one weighted key of a threshold party
type ThresholdMember struct {
	Key    string `json:"key"`
	Weight int    `json:"weight"`
}

// Party is a reference to a participant, as it appears on the ledger.
//
//   - well_known: a long-lived identity with a registry name and key
//   - confidential: a transaction-scoped key. The owning well-known party is only
//     discoverable through an identity certificate, never from the ledger itself
//   - threshold: a composite of weighted member keys, satisfied once the weights
//     of the signing members reach the threshold
//
// Code that needs the real-world party behind a reference resolves it through
// the identity resolver, and never switches on the kind itself.
type Party struct {
	Kind      PartyKind          `json:"kind"`
	Name      string             `json:"name,omitempty"`
	Key       string             `json:"key,omitempty"`
	Members   []*ThresholdMember `json:"members,omitempty"`
	Threshold int                `json:"threshold,omitempty"`
}

// ParseKey normalizes a signing key identifier, which is the 0x prefixed address of a secp256k1 key
func ParseKey(ctx context.Context, key string) (string, error) {
	addr, err := ethtypes.NewAddress(key)
	if err != nil {
		return "", i18n.WrapError(ctx, err, msgs.MsgTypesInvalidPartyKey, key, "any")
	}
	return addr.String(), nil
}

func WellKnownParty(name, key string) *Party {
	return &Party{Kind: PartyKindWellKnown, Name: name, Key: key}
}

func ConfidentialParty(key string) *Party {
	return &Party{Kind: PartyKindConfidential, Key: key}
}

func ThresholdParty(threshold int, members ...*ThresholdMember) *Party {
	return &Party{Kind: PartyKindThreshold, Threshold: threshold, Members: members}
}

func (p *Party) Validate(ctx context.Context) error {
	switch p.Kind {
	case PartyKindWellKnown, PartyKindConfidential:
		if p.Kind == PartyKindWellKnown && p.Name == "" {
			return i18n.NewError(ctx, msgs.MsgTypesWellKnownNameEmpty)
		}
		if _, err := ethtypes.NewAddress(p.Key); err != nil {
			return i18n.NewError(ctx, msgs.MsgTypesInvalidPartyKey, p.Key, p.Kind)
		}
	case PartyKindThreshold:
		if len(p.Members) == 0 {
			return i18n.NewError(ctx, msgs.MsgTypesThresholdNoMembers)
		}
		total := 0
		for _, m := range p.Members {
			if _, err := ethtypes.NewAddress(m.Key); err != nil {
				return i18n.NewError(ctx, msgs.MsgTypesInvalidPartyKey, m.Key, p.Kind)
			}
			if m.Weight <= 0 {
				return i18n.NewError(ctx, msgs.MsgTypesMemberWeightInvalid, m.Key)
			}
			total += m.Weight
		}
		if p.Threshold <= 0 || p.Threshold > total {
			return i18n.NewError(ctx, msgs.MsgTypesInvalidThreshold, p.Threshold, total)
		}
	default:
		return i18n.NewError(ctx, msgs.MsgTypesInvalidPartyKind, p.Kind)
	}
	return nil
}

// OwningKeys are all keys that can contribute a signature on behalf of the party
func (p *Party) OwningKeys() []string {
	if p.Kind == PartyKindThreshold {
		keys := make([]string, len(p.Members))
		for i, m := range p.Members {
			keys[i] = m.Key
		}
		return keys
	}
	return []string{p.Key}
}

// IsSatisfiedBy reports whether signatures from the supplied keys are sufficient for this party
func (p *Party) IsSatisfiedBy(keys []string) bool {
	if p.Kind == PartyKindThreshold {
		weight := 0
		for _, m := range p.Members {
			if slices.Contains(keys, m.Key) {
				weight += m.Weight
			}
		}
		return weight >= p.Threshold
	}
	return slices.Contains(keys, p.Key)
}

// Equals compares the ledger identity of two parties. Names are not compared for
// well-known parties, as the key is authoritative.
func (p *Party) Equals(o *Party) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.Kind != o.Kind {
		return false
	}
	if p.Kind != PartyKindThreshold {
		return p.Key == o.Key
	}
	if p.Threshold != o.Threshold || len(p.Members) != len(o.Members) {
		return false
	}
	for i, m := range p.Members {
		if m.Key != o.Members[i].Key || m.Weight != o.Members[i].Weight {
			return false
		}
	}
	return true
}

func (p *Party) String() string {
	if p == nil {
		return "<nil>"
	}
	switch p.Kind {
	case PartyKindWellKnown:
		return p.Name
	case PartyKindThreshold:
		return fmt.Sprintf("threshold(%d of %v)", p.Threshold, p.OwningKeys())
	default:
		return p.Key
	}
}

// AppendUniqueParties adds each party to the list if it is not already present
func AppendUniqueParties(list []*Party, parties ...*Party) []*Party {
	for _, p := range parties {
		if !slices.ContainsFunc(list, p.Equals) {
			list = append(list, p)
		}
	}
	return list
}
