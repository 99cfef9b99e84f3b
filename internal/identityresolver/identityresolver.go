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

package identityresolver

import (
	"context"

	"github.com/suweicong/obligation-cordapp/internal/cache"
	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
	"github.com/suweicong/obligation-cordapp/pkg/persistence"
	"gorm.io/gorm/clause"
)

type certificateRow struct {
	Key          string            `gorm:"column:key;primaryKey"`
	Owner        string            `gorm:"column:owner"`
	OwnerKey     string            `gorm:"column:owner_key"`
	Signature    obtypes.HexBytes  `gorm:"column:signature"`
	KeySignature obtypes.HexBytes  `gorm:"column:key_signature"`
	Created      obtypes.Timestamp `gorm:"column:created"`
}

func (certificateRow) TableName() string {
	return "identity_certificates"
}

func (r *certificateRow) certificate() *obtypes.IdentityCertificate {
	return &obtypes.IdentityCertificate{
		Key:          r.Key,
		Owner:        r.Owner,
		OwnerKey:     r.OwnerKey,
		Signature:    r.Signature,
		KeySignature: r.KeySignature,
	}
}

type identityResolver struct {
	p         persistence.Persistence
	registry  components.Registry
	km        components.KeyManager
	certCache cache.Cache[string, *obtypes.IdentityCertificate]
}

func NewIdentityResolver(conf *obconf.IdentityResolverConfig, p persistence.Persistence, registry components.Registry, km components.KeyManager) components.IdentityResolver {
	return &identityResolver{
		p:         p,
		registry:  registry,
		km:        km,
		certCache: cache.NewCache[string, *obtypes.IdentityCertificate](&conf.Cache, &obconf.IdentityResolverDefaults.Cache),
	}
}

func (ir *identityResolver) unknown(ctx context.Context, party *obtypes.Party) error {
	return components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgIdentityUnknownParticipant, party)
}

// Resolve maps every kind of party to the single well-known party that controls it
func (ir *identityResolver) Resolve(ctx context.Context, party *obtypes.Party) (*obtypes.Party, error) {
	if party == nil {
		return nil, ir.unknown(ctx, party)
	}
	switch party.Kind {
	case obtypes.PartyKindWellKnown:
		entry, err := ir.registry.LookupByKey(ctx, party.Key)
		if err != nil {
			return nil, ir.unknown(ctx, party)
		}
		return entry.Party, nil
	case obtypes.PartyKindConfidential:
		return ir.resolveKey(ctx, party.Key)
	case obtypes.PartyKindThreshold:
		var owner *obtypes.Party
		for _, m := range party.Members {
			memberOwner, err := ir.resolveKey(ctx, m.Key)
			if err != nil {
				return nil, err
			}
			if owner != nil && !owner.Equals(memberOwner) {
				return nil, components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgIdentityThresholdAmbiguous, owner.Name, memberOwner.Name)
			}
			owner = memberOwner
		}
		if owner == nil {
			return nil, ir.unknown(ctx, party)
		}
		return owner, nil
	default:
		return nil, ir.unknown(ctx, party)
	}
}

// resolveKey accepts either a well-known key, or a confidential key with a held certificate
func (ir *identityResolver) resolveKey(ctx context.Context, key string) (*obtypes.Party, error) {
	if entry, err := ir.registry.LookupByKey(ctx, key); err == nil {
		return entry.Party, nil
	}
	cert, err := ir.getCertificate(ctx, key)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgIdentityUnknownParticipant, key)
	}
	entry, err := ir.registry.LookupByName(ctx, cert.Owner)
	if err != nil || entry.Party.Key != cert.OwnerKey {
		return nil, components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgIdentityCertOwnerUnknown, key, cert.Owner)
	}
	return entry.Party, nil
}

func (ir *identityResolver) getCertificate(ctx context.Context, key string) (*obtypes.IdentityCertificate, error) {
	cert, _, err := ir.certCache.GetOrLoad(key, func() (*obtypes.IdentityCertificate, bool, error) {
		var rows []*certificateRow
		err := ir.p.DB().WithContext(ctx).Where(`"key" = ?`, key).Limit(1).Find(&rows).Error
		if err != nil || len(rows) == 0 {
			return nil, false, err
		}
		return rows[0].certificate(), true, nil
	})
	if err != nil {
		return nil, components.Classify(components.ErrInternal, err)
	}
	return cert, nil
}

// storeCertificate only caches the certificate once it is the stored binding for its key
func (ir *identityResolver) storeCertificate(ctx context.Context, c *obtypes.IdentityCertificate) error {
	row := &certificateRow{Key: c.Key, Owner: c.Owner, OwnerKey: c.OwnerKey, Signature: c.Signature, KeySignature: c.KeySignature, Created: obtypes.TimestampNow()}
	result := ir.p.DB().WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row)
	if result.Error != nil {
		return components.Classify(components.ErrInternal, result.Error)
	}
	if result.RowsAffected == 0 {
		// lost a race with another binding for the same key
		ir.certCache.Delete(c.Key)
		existing, err := ir.getCertificate(ctx, c.Key)
		if err != nil {
			return err
		}
		if existing == nil || !existing.SameBinding(c) {
			return ir.conflict(ctx, c, existing)
		}
		return nil
	}
	ir.certCache.Set(c.Key, c)
	return nil
}

func (ir *identityResolver) conflict(ctx context.Context, c, existing *obtypes.IdentityCertificate) error {
	owner := ""
	if existing != nil {
		owner = existing.Owner
	}
	return components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgIdentityCertConflict, c.Key, c.Owner, owner)
}

func (ir *identityResolver) CreateConfidentialIdentity(ctx context.Context) (*obtypes.Party, *obtypes.IdentityCertificate, error) {
	key, err := ir.km.NewConfidentialKey(ctx)
	if err != nil {
		return nil, nil, err
	}
	local := ir.registry.LocalParty()
	cert := &obtypes.IdentityCertificate{
		Key:      key,
		Owner:    local.Name,
		OwnerKey: local.Key,
	}
	sig, err := ir.km.Sign(ctx, local.Key, cert.SigningPayload())
	if err != nil {
		return nil, nil, err
	}
	cert.Signature = sig.Signature
	keySig, err := ir.km.Sign(ctx, key, cert.SigningPayload())
	if err != nil {
		return nil, nil, err
	}
	cert.KeySignature = keySig.Signature
	if err := ir.storeCertificate(ctx, cert); err != nil {
		return nil, nil, err
	}
	log.L(ctx).Debugf("Created confidential identity %s", key)
	return obtypes.ConfidentialParty(key), cert, nil
}

// RegisterCertificates checks each certificate is signed by the registry key of the owner
// it names and by the key it binds. A key that already has a binding keeps it, and a local
// key can never be claimed by a peer.
func (ir *identityResolver) RegisterCertificates(ctx context.Context, certs ...*obtypes.IdentityCertificate) error {
	for _, c := range certs {
		entry, err := ir.registry.LookupByName(ctx, c.Owner)
		if err != nil || entry.Party.Key != c.OwnerKey {
			return components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgIdentityCertOwnerUnknown, c.Key, c.Owner)
		}
		if err := c.VerifySignature(ctx); err != nil {
			return components.Classify(components.ErrProtocolViolation, err)
		}
		existing, err := ir.getCertificate(ctx, c.Key)
		if err != nil {
			return err
		}
		if existing != nil {
			if !existing.SameBinding(c) {
				return ir.conflict(ctx, c, existing)
			}
			continue
		}
		if _, err := ir.registry.LookupByKey(ctx, c.Key); err == nil || ir.km.IsLocalKey(ctx, c.Key) {
			return components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgIdentityCertKeyReserved, c.Key)
		}
		if err := ir.storeCertificate(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// CertificatesFor collects the certificates a counterparty needs to resolve the confidential keys in the list
func (ir *identityResolver) CertificatesFor(ctx context.Context, parties []*obtypes.Party) ([]*obtypes.IdentityCertificate, error) {
	var certs []*obtypes.IdentityCertificate
	seen := make(map[string]bool)
	for _, p := range parties {
		for _, key := range p.OwningKeys() {
			if seen[key] {
				continue
			}
			seen[key] = true
			if _, err := ir.registry.LookupByKey(ctx, key); err == nil {
				continue
			}
			cert, err := ir.getCertificate(ctx, key)
			if err != nil {
				return nil, err
			}
			if cert == nil {
				return nil, components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgIdentityNoCertificate, key)
			}
			certs = append(certs, cert)
		}
	}
	return certs, nil
}
