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

package registry

import (
	"context"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/suweicong/obligation-cordapp/internal/cache"
	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
)

type registry struct {
	localName string
	local     *components.PartyEntry
	byName    map[string]*components.PartyEntry
	ordered   []*components.PartyEntry
	notaries  []*components.PartyEntry
	notaryKey string
	keyCache  cache.Cache[string, *components.PartyEntry]
}

// NewRegistry validates the static network map. The local node must be in it, and every
// notary entry must carry the same key as they act as one logical notary.
func NewRegistry(ctx context.Context, localName string, conf *obconf.RegistryConfig) (components.Registry, error) {
	r := &registry{
		localName: localName,
		byName:    make(map[string]*components.PartyEntry),
		keyCache:  cache.NewCache[string, *components.PartyEntry](&conf.Cache, &obconf.RegistryDefaults.Cache),
	}
	for _, pc := range conf.Parties {
		key, err := obtypes.ParseKey(ctx, pc.Key)
		if err != nil || pc.Name == "" {
			return nil, i18n.WrapError(ctx, err, msgs.MsgConfigRegistryEntryError, pc.Name)
		}
		if r.byName[pc.Name] != nil {
			return nil, i18n.NewError(ctx, msgs.MsgConfigRegistryDuplicate, pc.Name)
		}
		entry := &components.PartyEntry{
			Party:    obtypes.WellKnownParty(pc.Name, key),
			Endpoint: pc.Endpoint,
			Notary:   pc.Notary,
		}
		if entry.Notary {
			if r.notaryKey == "" {
				r.notaryKey = key
			} else if key != r.notaryKey {
				return nil, i18n.NewError(ctx, msgs.MsgConfigNotaryKeysDiffer, pc.Name, key, r.notaryKey)
			}
			r.notaries = append(r.notaries, entry)
		}
		r.byName[pc.Name] = entry
		r.ordered = append(r.ordered, entry)
	}
	if r.local = r.byName[localName]; r.local == nil {
		return nil, i18n.NewError(ctx, msgs.MsgConfigLocalPartyMissing, localName)
	}
	if len(r.notaries) == 0 {
		return nil, i18n.NewError(ctx, msgs.MsgConfigNoNotary)
	}
	log.L(ctx).Infof("Registry loaded with %d parties (%d notaries)", len(r.ordered), len(r.notaries))
	return r, nil
}

func (r *registry) LocalNodeName() string {
	return r.localName
}

func (r *registry) LocalParty() *obtypes.Party {
	return r.local.Party
}

func (r *registry) LookupByName(ctx context.Context, name string) (*components.PartyEntry, error) {
	entry := r.byName[name]
	if entry == nil {
		return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgRegistryPartyNotFound, name)
	}
	return entry, nil
}

// LookupByKey accepts any hex form of the key. Where several entries share a key
// (the notary pool), the first configured is returned.
func (r *registry) LookupByKey(ctx context.Context, key string) (*components.PartyEntry, error) {
	entry, found, _ := r.keyCache.GetOrLoad(key, func() (*components.PartyEntry, bool, error) {
		normalized, err := obtypes.ParseKey(ctx, key)
		if err != nil {
			return nil, false, nil
		}
		for _, entry := range r.ordered {
			if entry.Party.Key == normalized {
				return entry, true, nil
			}
		}
		return nil, false, nil
	})
	if !found {
		return nil, components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgRegistryKeyNotFound, key)
	}
	return entry, nil
}

func (r *registry) Notaries() []*components.PartyEntry {
	return r.notaries
}

func (r *registry) NotaryKey() string {
	return r.notaryKey
}
