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

package transportmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"

	"github.com/hyperledger/firefly-common/pkg/i18n"
)

type testRegistry struct {
	lock    sync.Mutex
	local   string
	entries map[string]*components.PartyEntry
}

func newTestRegistry(local string, nodes ...string) *testRegistry {
	r := &testRegistry{local: local, entries: map[string]*components.PartyEntry{}}
	for _, n := range nodes {
		r.setEndpoint(n, "")
	}
	return r
}

func (r *testRegistry) setEndpoint(name, endpoint string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.entries[name] = &components.PartyEntry{Party: &obtypes.Party{Name: name}, Endpoint: endpoint}
}

func (r *testRegistry) LocalNodeName() string              { return r.local }
func (r *testRegistry) LocalParty() *obtypes.Party         { return r.entries[r.local].Party }
func (r *testRegistry) Notaries() []*components.PartyEntry { return nil }
func (r *testRegistry) NotaryKey() string                  { return "" }

func (r *testRegistry) LookupByName(ctx context.Context, name string) (*components.PartyEntry, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if e := r.entries[name]; e != nil {
		return e, nil
	}
	return nil, i18n.NewError(ctx, msgs.MsgRegistryPartyNotFound, name)
}

func (r *testRegistry) LookupByKey(ctx context.Context, key string) (*components.PartyEntry, error) {
	return nil, i18n.NewError(ctx, msgs.MsgRegistryKeyNotFound, key)
}

type received struct {
	lock sync.Mutex
	msgs []*components.TransportMessage
	ch   chan *components.TransportMessage
}

func newReceived() *received {
	return &received{ch: make(chan *components.TransportMessage, 100)}
}

func (r *received) handler(_ context.Context, msg *components.TransportMessage) {
	r.lock.Lock()
	r.msgs = append(r.msgs, msg)
	r.lock.Unlock()
	r.ch <- msg
}

func (r *received) next(t *testing.T) *components.TransportMessage {
	select {
	case msg := <-r.ch:
		return msg
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for message")
		return nil
	}
}

func newLoopbackPair(t *testing.T) (hub *LoopbackHub, alice, bob components.TransportManager, bobRecv *received, done func()) {
	ctx := context.Background()
	hub = NewLoopbackHub()
	conf := &obconf.TransportManagerConfig{Type: obconf.TransportTypeLoopback}
	var err error
	alice, err = NewTransportManager(ctx, conf, newTestRegistry("Alice", "Alice", "Bob"), hub)
	require.NoError(t, err)
	bob, err = NewTransportManager(ctx, conf, newTestRegistry("Bob", "Alice", "Bob"), hub)
	require.NoError(t, err)
	bobRecv = newReceived()
	bob.RegisterHandler("negotiation", bobRecv.handler)
	require.NoError(t, alice.Start())
	require.NoError(t, bob.Start())
	return hub, alice, bob, bobRecv, func() {
		alice.Stop()
		bob.Stop()
	}
}

func testMessage(node string, seq int) *components.TransportMessage {
	return &components.TransportMessage{
		Node:        node,
		MessageType: "negotiation",
		Payload:     obtypes.JSONString(map[string]int{"seq": seq}),
	}
}

func TestLoopbackSendInOrder(t *testing.T) {
	ctx := context.Background()
	_, alice, _, bobRecv, done := newLoopbackPair(t)
	defer done()

	for i := 0; i < 20; i++ {
		require.NoError(t, alice.Send(ctx, testMessage("Bob", i)))
	}
	for i := 0; i < 20; i++ {
		msg := bobRecv.next(t)
		assert.Equal(t, "Alice", msg.ReplyTo)
		assert.NotEmpty(t, msg.MessageID)
		var body map[string]int
		require.NoError(t, msg.Payload.Unmarshal(&body))
		assert.Equal(t, i, body["seq"])
	}
}

func TestLoopbackInterceptDrops(t *testing.T) {
	ctx := context.Background()
	hub, alice, _, bobRecv, done := newLoopbackPair(t)
	defer done()

	hub.Intercept(func(msg *components.TransportMessage) bool {
		var body map[string]int
		_ = msg.Payload.Unmarshal(&body)
		return body["seq"] != 1
	})
	for i := 0; i < 3; i++ {
		require.NoError(t, alice.Send(ctx, testMessage("Bob", i)))
	}
	var seqs []int
	for i := 0; i < 2; i++ {
		var body map[string]int
		require.NoError(t, bobRecv.next(t).Payload.Unmarshal(&body))
		seqs = append(seqs, body["seq"])
	}
	assert.Equal(t, []int{0, 2}, seqs)
}

func TestSendToSelf(t *testing.T) {
	ctx := context.Background()
	_, _, bob, bobRecv, done := newLoopbackPair(t)
	defer done()

	require.NoError(t, bob.Send(ctx, testMessage("Bob", 1)))
	assert.Equal(t, "Bob", bobRecv.next(t).ReplyTo)
}

func TestSendErrors(t *testing.T) {
	ctx := context.Background()
	_, alice, bob, _, done := newLoopbackPair(t)
	defer done()

	err := alice.Send(ctx, &components.TransportMessage{Node: "Bob"})
	assert.Regexp(t, "OB010805", err)

	err = alice.Send(ctx, testMessage("Charlie", 1))
	assert.Regexp(t, "OB010801", err)

	bob.Stop()
	err = alice.Send(ctx, testMessage("Bob", 1))
	assert.Regexp(t, "OB010802.*OB010803", err)

	alice.Stop()
	err = alice.Send(ctx, testMessage("Bob", 1))
	assert.Regexp(t, "OB010806", err)
}

func TestNoHandlerIsDropped(t *testing.T) {
	ctx := context.Background()
	_, alice, _, bobRecv, done := newLoopbackPair(t)
	defer done()

	msg := testMessage("Bob", 1)
	msg.MessageType = "unknown"
	require.NoError(t, alice.Send(ctx, msg))
	require.NoError(t, alice.Send(ctx, testMessage("Bob", 2)))
	var body map[string]int
	require.NoError(t, bobRecv.next(t).Payload.Unmarshal(&body))
	assert.Equal(t, 2, body["seq"])
}

func TestBadTransportType(t *testing.T) {
	_, err := NewTransportManager(context.Background(), &obconf.TransportManagerConfig{Type: "carrier-pigeon"}, newTestRegistry("Alice", "Alice"), nil)
	assert.Regexp(t, "OB010006", err)
}
