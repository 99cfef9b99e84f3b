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

package negotiation

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/contracts"
	"github.com/suweicong/obligation-cordapp/internal/finality"
	"github.com/suweicong/obligation-cordapp/internal/identityresolver"
	"github.com/suweicong/obligation-cordapp/internal/keymanager"
	"github.com/suweicong/obligation-cordapp/internal/notary"
	"github.com/suweicong/obligation-cordapp/internal/registry"
	"github.com/suweicong/obligation-cordapp/internal/statestore"
	"github.com/suweicong/obligation-cordapp/internal/transportmgr"
	"github.com/suweicong/obligation-cordapp/internal/treasury"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
	"github.com/suweicong/obligation-cordapp/pkg/persistence"
)

var testSeeds = map[string]string{
	"Alice":   strings.Repeat("11", 32),
	"Bob":     strings.Repeat("22", 32),
	"Charlie": strings.Repeat("33", 32),
	"Notary":  strings.Repeat("99", 32),
}

type testNetwork struct {
	t       *testing.T
	ctx     context.Context
	hub     *transportmgr.LoopbackHub
	parties []*obconf.PartyEntryConfig
	dbs     map[string]persistence.Persistence
	kms     map[string]keymanager.KeyManager
	nodes   map[string]*testNode
	conf    *obconf.NegotiationConfig
}

type testNode struct {
	name     string
	registry components.Registry
	ir       components.IdentityResolver
	ss       components.StateStore
	tm       components.TransportManager
	treasury components.Treasury
	client   *notary.Client
	finality *finality.Finality
	nm       *negotiationManager
	stopped  bool
}

func testNegotiationConfig() *obconf.NegotiationConfig {
	return &obconf.NegotiationConfig{
		CheckpointWriter: obconf.FlushWriterConfig{BatchTimeout: confutil.P("1ms")},
	}
}

func newTestNetwork(t *testing.T, names ...string) *testNetwork {
	ctx := context.Background()
	net := &testNetwork{
		t:     t,
		ctx:   ctx,
		hub:   transportmgr.NewLoopbackHub(),
		dbs:   make(map[string]persistence.Persistence),
		kms:   make(map[string]keymanager.KeyManager),
		nodes: make(map[string]*testNode),
		conf:  testNegotiationConfig(),
	}
	all := append([]string{"Notary"}, names...)
	for _, name := range all {
		p, done, err := persistence.NewUnitTestPersistence(ctx)
		require.NoError(t, err)
		t.Cleanup(done)
		km := keymanager.NewKeyManager(ctx, &obconf.KeyManagerConfig{Seed: confutil.P(testSeeds[name])}, p)
		require.NoError(t, km.Start())
		t.Cleanup(km.Stop)
		net.dbs[name], net.kms[name] = p, km
		net.parties = append(net.parties, &obconf.PartyEntryConfig{Name: name, Key: km.WellKnownKey(), Notary: name == "Notary"})
	}

	notaryRegistry, err := registry.NewRegistry(ctx, "Notary", &obconf.RegistryConfig{Parties: net.parties})
	require.NoError(t, err)
	notaryTM, err := transportmgr.NewTransportManager(ctx, &obconf.TransportManagerConfig{Type: obconf.TransportTypeLoopback}, notaryRegistry, net.hub)
	require.NoError(t, err)
	notary.NewService(ctx, &obconf.NotaryConfig{}, net.dbs["Notary"], net.kms["Notary"], contracts.NewVerifier(), notaryTM)
	require.NoError(t, notaryTM.Start())
	t.Cleanup(notaryTM.Stop)

	for _, name := range names {
		net.start(name)
	}
	return net
}

// start builds every component of a node over its existing DB and keys, so it
// also serves to restart a stopped node
func (net *testNetwork) start(name string) *testNode {
	t, ctx := net.t, net.ctx
	p, km := net.dbs[name], net.kms[name]
	r, err := registry.NewRegistry(ctx, name, &obconf.RegistryConfig{Parties: net.parties})
	require.NoError(t, err)
	tm, err := transportmgr.NewTransportManager(ctx, &obconf.TransportManagerConfig{Type: obconf.TransportTypeLoopback}, r, net.hub)
	require.NoError(t, err)
	verifier := contracts.NewVerifier()
	n := &testNode{
		name:     name,
		registry: r,
		ir:       identityresolver.NewIdentityResolver(&obconf.IdentityResolverConfig{}, p, r, km),
		ss:       statestore.NewStateStore(p),
		tm:       tm,
		client:   notary.NewClient(r, tm),
	}
	n.finality = finality.NewFinality(ctx, &obconf.FinalityConfig{}, p, r, n.ir, km, n.ss, tm, n.client)
	n.treasury = treasury.NewTreasury(r, km, n.ss, verifier, n.finality)
	n.nm = NewNegotiationManager(ctx, net.conf, &Dependencies{
		Persistence:      p,
		Registry:         r,
		IdentityResolver: n.ir,
		KeyManager:       km,
		StateStore:       n.ss,
		Verifier:         verifier,
		Treasury:         n.treasury,
		Transport:        tm,
		Finality:         n.finality,
	}).(*negotiationManager)
	require.NoError(t, tm.Start())
	require.NoError(t, n.nm.Start())
	t.Cleanup(n.stop)
	net.nodes[name] = n
	return n
}

func (n *testNode) stop() {
	if !n.stopped {
		n.stopped = true
		n.nm.Stop()
		n.finality.Stop()
		n.client.Stop()
		n.tm.Stop()
	}
}

func (n *testNode) party() *obtypes.Party {
	return n.registry.LocalParty()
}

func (n *testNode) issueCash(t *testing.T, ctx context.Context, amount string) {
	_, err := n.treasury.IssueCash(ctx, obtypes.MustParseAmount(amount))
	require.NoError(t, err)
}

func (n *testNode) balance(t *testing.T, ctx context.Context, ccy string) string {
	b, err := n.treasury.Balance(ctx, ccy)
	require.NoError(t, err)
	return b.String()
}

func (n *testNode) issue(t *testing.T, ctx context.Context, amount, lender string) *obtypes.ObligationSnapshot {
	a := obtypes.MustParseAmount(amount)
	res, err := n.nm.IssueObligation(ctx, &obtypes.IssueObligationRequest{Amount: &a, Lender: lender})
	require.NoError(t, err)
	require.Len(t, res.Outputs, 1)
	return res.Outputs[0]
}

// current waits for the node to hold the expected current version of an obligation,
// as peers record a committed transaction shortly after the finaliser
func (n *testNode) current(t *testing.T, ctx context.Context, linearID string, expectRef obtypes.StateRef) *obtypes.ObligationSnapshot {
	var snapshot *obtypes.ObligationSnapshot
	require.Eventually(t, func() bool {
		var err error
		snapshot, err = n.ss.GetUnconsumedObligation(ctx, linearID)
		return err == nil && snapshot != nil && snapshot.Ref == expectRef
	}, 5*time.Second, 5*time.Millisecond, fmt.Sprintf("%s never recorded %s", n.name, expectRef))
	return snapshot
}

func (n *testNode) negotiationState(t *testing.T, ctx context.Context, id string) *obtypes.NegotiationInfo {
	info, err := n.nm.GetNegotiation(ctx, id)
	require.NoError(t, err)
	return info
}
