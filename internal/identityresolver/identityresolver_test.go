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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/keymanager"
	"github.com/suweicong/obligation-cordapp/internal/registry"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
	"github.com/suweicong/obligation-cordapp/pkg/persistence"
)

const (
	aliceSeed = "test test test test test test test test test test test junk"
	bobSeed   = "0x2222222222222222222222222222222222222222222222222222222222222222"
)

type testNode struct {
	km components.KeyManager
	ir components.IdentityResolver
}

func newTestNodes(t *testing.T) (context.Context, *testNode, *testNode) {
	ctx := context.Background()
	seeds := map[string]string{"Alice": aliceSeed, "Bob": bobSeed}
	kms := map[string]components.KeyManager{}
	ps := map[string]persistence.Persistence{}
	conf := &obconf.RegistryConfig{}
	for _, name := range []string{"Alice", "Bob"} {
		p, done, err := persistence.NewUnitTestPersistence(ctx)
		require.NoError(t, err)
		t.Cleanup(done)
		km := keymanager.NewKeyManager(ctx, &obconf.KeyManagerConfig{Seed: confutil.P(seeds[name])}, p)
		require.NoError(t, km.Start())
		kms[name], ps[name] = km, p
		conf.Parties = append(conf.Parties, &obconf.PartyEntryConfig{Name: name, Key: km.WellKnownKey()})
	}
	conf.Parties = append(conf.Parties, &obconf.PartyEntryConfig{Name: "Notary", Key: "0x9999999999999999999999999999999999999999", Notary: true})

	nodes := map[string]*testNode{}
	for _, name := range []string{"Alice", "Bob"} {
		r, err := registry.NewRegistry(ctx, name, conf)
		require.NoError(t, err)
		nodes[name] = &testNode{
			km: kms[name],
			ir: NewIdentityResolver(&obconf.IdentityResolverConfig{}, ps[name], r, kms[name]),
		}
	}
	return ctx, nodes["Alice"], nodes["Bob"]
}

func TestResolveWellKnown(t *testing.T) {
	ctx, alice, bob := newTestNodes(t)

	resolved, err := alice.ir.Resolve(ctx, obtypes.WellKnownParty("", bob.km.WellKnownKey()))
	require.NoError(t, err)
	assert.Equal(t, "Bob", resolved.Name)

	_, err = alice.ir.Resolve(ctx, obtypes.WellKnownParty("Eve", "0x3333333333333333333333333333333333333333"))
	assert.True(t, components.IsKind(err, components.ErrProtocolViolation))
	assert.Regexp(t, "OB010402", err)

	_, err = alice.ir.Resolve(ctx, nil)
	assert.Regexp(t, "OB010402", err)
}

func TestConfidentialIdentityExchange(t *testing.T) {
	ctx, alice, bob := newTestNodes(t)

	anon, cert, err := alice.ir.CreateConfidentialIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, obtypes.PartyKindConfidential, anon.Kind)
	assert.Equal(t, "Alice", cert.Owner)
	assert.True(t, alice.km.IsLocalKey(ctx, anon.Key))

	resolved, err := alice.ir.Resolve(ctx, anon)
	require.NoError(t, err)
	assert.Equal(t, "Alice", resolved.Name)

	_, err = bob.ir.Resolve(ctx, anon)
	assert.True(t, components.IsKind(err, components.ErrProtocolViolation))

	certs, err := alice.ir.CertificatesFor(ctx, []*obtypes.Party{anon, obtypes.WellKnownParty("Bob", bob.km.WellKnownKey()), anon})
	require.NoError(t, err)
	require.Len(t, certs, 1)

	require.NoError(t, bob.ir.RegisterCertificates(ctx, certs...))
	require.NoError(t, bob.ir.RegisterCertificates(ctx, certs...))
	resolved, err = bob.ir.Resolve(ctx, anon)
	require.NoError(t, err)
	assert.Equal(t, "Alice", resolved.Name)
}

func TestRegisterCertificateTampered(t *testing.T) {
	ctx, alice, bob := newTestNodes(t)
	_, cert, err := alice.ir.CreateConfidentialIdentity(ctx)
	require.NoError(t, err)

	forged := *cert
	forged.Key = "0x4444444444444444444444444444444444444444"
	err = bob.ir.RegisterCertificates(ctx, &forged)
	assert.True(t, components.IsKind(err, components.ErrProtocolViolation))
	assert.Regexp(t, "OB010403", err)

	claimed := *cert
	claimed.Owner = "Bob"
	err = bob.ir.RegisterCertificates(ctx, &claimed)
	assert.Regexp(t, "OB010404", err)
}

func TestCertificatesForUnknownKey(t *testing.T) {
	ctx, alice, _ := newTestNodes(t)
	_, err := alice.ir.CertificatesFor(ctx, []*obtypes.Party{obtypes.ConfidentialParty("0x4444444444444444444444444444444444444444")})
	assert.Regexp(t, "OB010406", err)
}

func TestResolveThreshold(t *testing.T) {
	ctx, alice, bob := newTestNodes(t)
	anon, _, err := alice.ir.CreateConfidentialIdentity(ctx)
	require.NoError(t, err)

	resolved, err := alice.ir.Resolve(ctx, obtypes.ThresholdParty(1,
		&obtypes.ThresholdMember{Key: alice.km.WellKnownKey(), Weight: 1},
		&obtypes.ThresholdMember{Key: anon.Key, Weight: 1},
	))
	require.NoError(t, err)
	assert.Equal(t, "Alice", resolved.Name)

	_, err = alice.ir.Resolve(ctx, obtypes.ThresholdParty(1,
		&obtypes.ThresholdMember{Key: alice.km.WellKnownKey(), Weight: 1},
		&obtypes.ThresholdMember{Key: bob.km.WellKnownKey(), Weight: 1},
	))
	assert.Regexp(t, "OB010405", err)

	_, err = alice.ir.Resolve(ctx, obtypes.ThresholdParty(1))
	assert.Regexp(t, "OB010402", err)
}

// certFor builds a certificate that binds key to the signer's well-known identity,
// signed by both the signer's well-known key and the bound key
func certFor(t *testing.T, ctx context.Context, signer *testNode, owner string, key string) *obtypes.IdentityCertificate {
	cert := &obtypes.IdentityCertificate{Key: key, Owner: owner, OwnerKey: signer.km.WellKnownKey()}
	sig, err := signer.km.Sign(ctx, signer.km.WellKnownKey(), cert.SigningPayload())
	require.NoError(t, err)
	cert.Signature = sig.Signature
	keySig, err := signer.km.Sign(ctx, key, cert.SigningPayload())
	require.NoError(t, err)
	cert.KeySignature = keySig.Signature
	return cert
}

func TestRegisterCertificateWithoutPossession(t *testing.T) {
	ctx, alice, bob := newTestNodes(t)
	aliceAnon, aliceCert, err := alice.ir.CreateConfidentialIdentity(ctx)
	require.NoError(t, err)
	require.NoError(t, bob.ir.RegisterCertificates(ctx, aliceCert))

	// Bob signs a claim to Alice's key with his own well-known key, but cannot sign with Alice's key
	claim := &obtypes.IdentityCertificate{Key: aliceAnon.Key, Owner: "Bob", OwnerKey: bob.km.WellKnownKey()}
	sig, err := bob.km.Sign(ctx, bob.km.WellKnownKey(), claim.SigningPayload())
	require.NoError(t, err)
	claim.Signature = sig.Signature
	claim.KeySignature = sig.Signature

	err = bob.ir.RegisterCertificates(ctx, claim)
	assert.True(t, components.IsKind(err, components.ErrProtocolViolation))
	assert.Regexp(t, "OB010407", err)

	err = alice.ir.RegisterCertificates(ctx, claim)
	assert.Regexp(t, "OB010407", err)

	resolved, err := alice.ir.Resolve(ctx, aliceAnon)
	require.NoError(t, err)
	assert.Equal(t, "Alice", resolved.Name)
}

func TestRegisterCertificateConflictingBinding(t *testing.T) {
	ctx, alice, bob := newTestNodes(t)
	bobAnon, bobCert, err := bob.ir.CreateConfidentialIdentity(ctx)
	require.NoError(t, err)
	require.NoError(t, alice.ir.RegisterCertificates(ctx, bobCert))

	// fully signed by both keys, but Alice already holds a binding of this key to Bob
	rebind := &obtypes.IdentityCertificate{Key: bobAnon.Key, Owner: "Alice", OwnerKey: alice.km.WellKnownKey()}
	sig, err := alice.km.Sign(ctx, alice.km.WellKnownKey(), rebind.SigningPayload())
	require.NoError(t, err)
	rebind.Signature = sig.Signature
	keySig, err := bob.km.Sign(ctx, bobAnon.Key, rebind.SigningPayload())
	require.NoError(t, err)
	rebind.KeySignature = keySig.Signature
	require.NoError(t, rebind.VerifySignature(ctx))

	err = alice.ir.RegisterCertificates(ctx, rebind)
	assert.True(t, components.IsKind(err, components.ErrProtocolViolation))
	assert.Regexp(t, "OB010408", err)

	err = bob.ir.RegisterCertificates(ctx, rebind)
	assert.Regexp(t, "OB010408", err)

	// an echo of the stored binding is accepted
	require.NoError(t, bob.ir.RegisterCertificates(ctx, bobCert))

	for _, n := range []*testNode{alice, bob} {
		resolved, err := n.ir.Resolve(ctx, bobAnon)
		require.NoError(t, err)
		assert.Equal(t, "Bob", resolved.Name)
	}
}

func TestRegisterCertificateForReservedKey(t *testing.T) {
	ctx, alice, bob := newTestNodes(t)

	// Bob holds a confidential key with no certificate yet, and is sent a claim on it
	key, err := bob.km.NewConfidentialKey(ctx)
	require.NoError(t, err)
	claim := &obtypes.IdentityCertificate{Key: key, Owner: "Alice", OwnerKey: alice.km.WellKnownKey()}
	sig, err := alice.km.Sign(ctx, alice.km.WellKnownKey(), claim.SigningPayload())
	require.NoError(t, err)
	claim.Signature = sig.Signature
	keySig, err := bob.km.Sign(ctx, key, claim.SigningPayload())
	require.NoError(t, err)
	claim.KeySignature = keySig.Signature

	err = bob.ir.RegisterCertificates(ctx, claim)
	assert.True(t, components.IsKind(err, components.ErrProtocolViolation))
	assert.Regexp(t, "OB010409", err)

	// a well-known key cannot be bound as a confidential one
	wk := certFor(t, ctx, bob, "Bob", bob.km.WellKnownKey())
	err = alice.ir.RegisterCertificates(ctx, wk)
	assert.Regexp(t, "OB010409", err)
}

func TestStoreCertificateLostRace(t *testing.T) {
	ctx, alice, bob := newTestNodes(t)
	aliceAnon, aliceCert, err := alice.ir.CreateConfidentialIdentity(ctx)
	require.NoError(t, err)
	require.NoError(t, bob.ir.RegisterCertificates(ctx, aliceCert))

	ir := bob.ir.(*identityResolver)
	require.NoError(t, ir.storeCertificate(ctx, aliceCert))

	other := *aliceCert
	other.Owner, other.OwnerKey = "Bob", bob.km.WellKnownKey()
	err = ir.storeCertificate(ctx, &other)
	assert.Regexp(t, "OB010408", err)

	resolved, err := bob.ir.Resolve(ctx, aliceAnon)
	require.NoError(t, err)
	assert.Equal(t, "Alice", resolved.Name)
}
