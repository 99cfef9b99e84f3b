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

package node

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/keymanager"
	"github.com/suweicong/obligation-cordapp/internal/obrpc"
	"github.com/suweicong/obligation-cordapp/internal/rpcclient"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
	"github.com/suweicong/obligation-cordapp/pkg/persistence"
)

var testSeeds = map[string]string{
	"notary1": strings.Repeat("91", 32),
	"nodeA":   strings.Repeat("a1", 32),
	"nodeB":   strings.Repeat("b1", 32),
}

// derive the well-known key each seed yields, so the registry can be written up front
func testKey(t *testing.T, name string) string {
	ctx := context.Background()
	p, done, err := persistence.NewUnitTestPersistence(ctx)
	require.NoError(t, err)
	defer done()
	km := keymanager.NewKeyManager(ctx, &obconf.KeyManagerConfig{Seed: confutil.P(testSeeds[name])}, p)
	require.NoError(t, km.Start())
	return km.WellKnownKey()
}

func testParties(t *testing.T) []*obconf.PartyEntryConfig {
	return []*obconf.PartyEntryConfig{
		{Name: "notary1", Key: testKey(t, "notary1"), Notary: true},
		{Name: "nodeA", Key: testKey(t, "nodeA")},
		{Name: "nodeB", Key: testKey(t, "nodeB")},
	}
}

func testNodeConfig(name string, parties []*obconf.PartyEntryConfig) *obconf.NodeConfig {
	conf := &obconf.NodeConfig{
		NodeName: name,
		DB: obconf.DBConfig{
			Type: obconf.DBTypeSQLite,
			SQLite: obconf.SQLiteConfig{
				SQLDBConfig: obconf.SQLDBConfig{
					DSN:           ":memory:",
					AutoMigrate:   confutil.P(true),
					MigrationsDir: persistence.UnitTestMigrationsDir(obconf.DBTypeSQLite),
				},
			},
		},
		KeyManager: obconf.KeyManagerConfig{Seed: confutil.P(testSeeds[name])},
		Registry:   obconf.RegistryConfig{Parties: parties},
		Transport:  obconf.TransportManagerConfig{Type: obconf.TransportTypeLoopback},
		Notary:     obconf.NotaryConfig{Enabled: confutil.P(name == "notary1")},
		Negotiation: obconf.NegotiationConfig{
			CheckpointWriter: obconf.FlushWriterConfig{BatchTimeout: confutil.P("1ms")},
		},
	}
	conf.RPCServer.HTTP.Port = confutil.P(0)
	conf.RPCServer.WS.Disabled = true
	return conf
}

type testNetwork struct {
	nodes   map[string]Node
	clients map[string]obrpc.Client
}

func newTestNetwork(t *testing.T) *testNetwork {
	ctx := context.Background()
	parties := testParties(t)
	net := &testNetwork{
		nodes:   make(map[string]Node),
		clients: make(map[string]obrpc.Client),
	}
	for _, name := range []string{"notary1", "nodeA", "nodeB"} {
		n := NewNode(ctx, testNodeConfig(name, parties))
		t.Cleanup(n.Stop)
		require.NoError(t, n.Init())
		require.NoError(t, n.Start())
		rc, err := rpcclient.NewHTTPClient(ctx, &obconf.HTTPClientConfig{
			URL: fmt.Sprintf("http://%s", n.RPCServer().HTTPAddr()),
		})
		require.NoError(t, err)
		net.nodes[name] = n
		net.clients[name] = obrpc.NewClient(rc)
	}
	return net
}

func (net *testNetwork) issue(t *testing.T, ctx context.Context, from, amount, lender string) *obtypes.ObligationSnapshot {
	a := obtypes.MustParseAmount(amount)
	res, err := net.clients[from].IssueObligation(ctx, &obtypes.IssueObligationRequest{Amount: &a, Lender: lender})
	require.NoError(t, err)
	require.Len(t, res.Outputs, 1)
	return res.Outputs[0]
}

func TestNodeNameMissing(t *testing.T) {
	n := NewNode(context.Background(), &obconf.NodeConfig{})
	err := n.Init()
	assert.Regexp(t, "OB010003", err)
	n.Stop()
}

func TestNodeStartBeforeInit(t *testing.T) {
	n := NewNode(context.Background(), &obconf.NodeConfig{NodeName: "nodeA"})
	assert.Regexp(t, "OB010011", n.Start())
}

func TestNodeBadDBType(t *testing.T) {
	conf := testNodeConfig("nodeA", testParties(t))
	conf.DB.Type = "wrong"
	n := NewNode(context.Background(), conf)
	err := n.Init()
	assert.Regexp(t, "OB010004.*database", err)
	n.Stop()
}

func TestNodeLocalKeyMismatch(t *testing.T) {
	parties := testParties(t)
	parties[1].Key = parties[2].Key
	n := NewNode(context.Background(), testNodeConfig("nodeA", parties))
	defer n.Stop()
	err := n.Init()
	assert.Regexp(t, "OB010008", err)
}

func TestNodeNotInRegistry(t *testing.T) {
	n := NewNode(context.Background(), testNodeConfig("nodeZ", testParties(t)))
	defer n.Stop()
	err := n.Init()
	assert.Regexp(t, "OB010004.*registry", err)
	assert.Regexp(t, "OB010007", err)
}

func TestNodeBadTransport(t *testing.T) {
	conf := testNodeConfig("nodeA", testParties(t))
	conf.Transport.Type = "carrier-pigeon"
	n := NewNode(context.Background(), conf)
	defer n.Stop()
	assert.Regexp(t, "OB010006", n.Init())
}

func TestNodeInfo(t *testing.T) {
	net := newTestNetwork(t)
	ctx := context.Background()

	info, err := net.clients["notary1"].NodeInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "notary1", info.Name)
	assert.True(t, info.Notary)

	info, err = net.clients["nodeA"].NodeInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "nodeA", info.Name)
	assert.Equal(t, net.nodes["nodeA"].KeyManager().WellKnownKey(), info.Key)
	assert.False(t, info.Notary)
}

func TestNodeIssueAndQueryRoundTrip(t *testing.T) {
	net := newTestNetwork(t)
	ctx := context.Background()

	amount := obtypes.MustParseAmount("1000 GBP")
	res, err := net.clients["nodeA"].IssueObligation(ctx, &obtypes.IssueObligationRequest{
		Amount: &amount,
		Lender: "nodeB",
		Remark: confutil.P("Valid"),
	})
	require.NoError(t, err)
	require.Len(t, res.Outputs, 1)
	ref := res.Outputs[0].Ref

	var page *obtypes.ObligationPage
	require.Eventually(t, func() bool {
		page, err = net.clients["nodeB"].QueryObligations(ctx, &obtypes.QueryObligationsRequest{
			Refs:       []*obtypes.StateRef{&ref},
			PageNumber: 1,
			PageSize:   10,
		})
		return err == nil && len(page.Records) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), page.TotalAvailable)
	record := page.Records[0].State
	assert.Equal(t, "1000 GBP", record.Amount.String())
	assert.Equal(t, "0 GBP", record.Paid.String())
	assert.Equal(t, "nodeB", record.Lender.Name)
	assert.Equal(t, "nodeA", record.Borrower.Name)
	assert.Equal(t, "Valid", *record.Remark)

	n, err := net.clients["nodeA"].GetNegotiation(ctx, res.Negotiation)
	require.NoError(t, err)
	assert.True(t, n.Done)

	list, err := net.clients["nodeA"].ListNegotiations(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestNodeIssueNoRemark(t *testing.T) {
	net := newTestNetwork(t)
	ctx := context.Background()

	issued := net.issue(t, ctx, "nodeA", "10 USD", "nodeB")
	assert.Nil(t, issued.State.Remark)

	got, err := net.clients["nodeA"].GetObligation(ctx, issued.State.LinearID)
	require.NoError(t, err)
	assert.Nil(t, got.State.Remark)
}

func TestNodeValidationOverRPC(t *testing.T) {
	net := newTestNetwork(t)
	ctx := context.Background()

	amount := obtypes.MustParseAmount("0 GBP")
	_, err := net.clients["nodeA"].IssueObligation(ctx, &obtypes.IssueObligationRequest{Amount: &amount, Lender: "nodeB"})
	require.Error(t, err)
	rpcErr, ok := err.(rpcclient.ErrorRPC)
	require.True(t, ok)
	assert.Equal(t, components.ErrValidation, rpcErr.Kind())

	_, err = net.clients["nodeA"].BatchAction(ctx, &obtypes.BatchActionRequest{})
	require.Error(t, err)
	assert.Equal(t, components.ErrValidation, err.(rpcclient.ErrorRPC).Kind())
}

func TestNodePagination(t *testing.T) {
	net := newTestNetwork(t)
	ctx := context.Background()

	for _, i := range []int{7, 3, 15, 1, 12, 9, 4, 14, 2, 11, 6, 13, 5, 10, 8} {
		net.issue(t, ctx, "nodeA", fmt.Sprintf("%d GBP", i), "nodeB")
	}

	page1, err := net.clients["nodeA"].QueryObligations(ctx, &obtypes.QueryObligationsRequest{PageNumber: 1, PageSize: 10})
	require.NoError(t, err)
	page2, err := net.clients["nodeA"].QueryObligations(ctx, &obtypes.QueryObligationsRequest{PageNumber: 2, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, page1.Records, 10)
	require.Len(t, page2.Records, 5)
	assert.Equal(t, int64(15), page1.TotalAvailable)
	assert.Equal(t, int64(15), page2.TotalAvailable)

	all := append(page1.Records, page2.Records...)
	for i, r := range all {
		assert.Equal(t, fmt.Sprintf("%d GBP", i+1), r.State.Amount.String())
		assert.LessOrEqual(t, r.State.Paid.Cmp(r.State.Amount), 0)
	}

	again, err := net.clients["nodeA"].QueryObligations(ctx, &obtypes.QueryObligationsRequest{PageNumber: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, page1.Records, again.Records)
}

func TestNodeBatchActionFullPage(t *testing.T) {
	if testing.Short() {
		t.Skip("issues 202 obligations")
	}
	net := newTestNetwork(t)
	ctx := context.Background()

	ids := make([]string, 202)
	for i := range ids {
		ids[i] = net.issue(t, ctx, "nodeA", "1 GBP", "nodeB").State.LinearID
	}

	res, err := net.clients["nodeA"].BatchAction(ctx, &obtypes.BatchActionRequest{LinearIDs: ids})
	require.NoError(t, err)
	assert.Len(t, res.Outputs, 202)

	page, err := net.clients["nodeA"].QueryObligations(ctx, &obtypes.QueryObligationsRequest{PageNumber: 1, PageSize: 1000})
	require.NoError(t, err)
	// every record is listed twice, the issued version and its batch successor
	assert.Equal(t, int64(404), page.TotalAvailable)
}

func TestNodeRedeemOverRPC(t *testing.T) {
	net := newTestNetwork(t)
	ctx := context.Background()

	_, err := net.clients["nodeA"].IssueCash(ctx, obtypes.MustParseAmount("100 USD"))
	require.NoError(t, err)
	issued := net.issue(t, ctx, "nodeA", "100 USD", "nodeB")

	require.Eventually(t, func() bool {
		got, err := net.clients["nodeB"].GetObligation(ctx, issued.State.LinearID)
		return err == nil && got.Ref == issued.Ref
	}, 5*time.Second, 10*time.Millisecond)

	res, err := net.clients["nodeB"].RedeemObligation(ctx, &obtypes.RedeemObligationRequest{
		LinearID: issued.State.LinearID,
		Secret:   obtypes.HexBytes("open sesame"),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Outputs)

	require.Eventually(t, func() bool {
		balance, err := net.clients["nodeA"].CashBalance(ctx, "USD")
		return err == nil && balance.String() == "0 USD"
	}, 5*time.Second, 10*time.Millisecond)
	balance, err := net.clients["nodeB"].CashBalance(ctx, "USD")
	require.NoError(t, err)
	assert.Equal(t, "100 USD", balance.String())
}
