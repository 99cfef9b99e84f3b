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

package notary

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/serialx/hashring"
	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/inflight"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
)

// virtual nodes per notary on the ring, so load spreads evenly over a small pool
const ringReplicas = 100

// Client sends transactions to the notary pool. Each transaction id maps to one notary
// node on a consistent hash ring, so a retry reaches the same node.
type Client struct {
	registry components.Registry
	tm       components.TransportManager
	ring     *hashring.HashRing
	nodes    map[string]string
	inflight *inflight.Manager[*notaryResponse]
}

func NewClient(registry components.Registry, tm components.TransportManager) *Client {
	c := &Client{
		registry: registry,
		tm:       tm,
		nodes:    make(map[string]string),
		inflight: inflight.NewManager[*notaryResponse](),
	}
	var virtual []string
	for _, n := range registry.Notaries() {
		for i := 0; i < ringReplicas; i++ {
			v := n.Party.Name + "/" + strconv.Itoa(i)
			c.nodes[v] = n.Party.Name
			virtual = append(virtual, v)
		}
	}
	c.ring = hashring.New(virtual)
	tm.RegisterHandler(MessageTypeNotaryResponse, c.handleResponse)
	return c
}

func (c *Client) Stop() {
	c.inflight.Close()
}

// NotaryFor returns the node that notarises the transaction
func (c *Client) NotaryFor(txID obtypes.Bytes32) string {
	v, _ := c.ring.GetNode(txID.String())
	return c.nodes[v]
}

func (c *Client) Notarise(ctx context.Context, stx *obtypes.SignedTransaction) (*obtypes.Signature, error) {
	node := c.NotaryFor(stx.ID)
	msgID := uuid.New().String()
	req := c.inflight.Add(ctx, msgID)
	defer req.Cancel()

	log.L(ctx).Debugf("Requesting notarisation of %s from %s", stx.ID, node)
	err := c.tm.Send(ctx, &components.TransportMessage{
		MessageID:   msgID,
		Node:        node,
		MessageType: MessageTypeNotaryRequest,
		Payload:     obtypes.JSONString(&notaryRequest{Transaction: stx}),
	})
	if err != nil {
		return nil, components.Classify(components.ErrInternal, err)
	}
	res, err := req.Wait()
	if err != nil {
		return nil, err
	}
	if res.Error != "" {
		kind := components.ParseErrorKind(res.ErrorKind)
		return nil, components.NewError(ctx, kind, msgs.MsgNotaryRejected, stx.ID, res.Error)
	}
	sig := res.Signature
	if sig == nil || res.TxID != stx.ID || sig.Key != c.registry.NotaryKey() || sig.Verify(ctx, stx.ID[:]) != nil {
		return nil, components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgNotarySignatureInvalid, stx.ID)
	}
	return sig, nil
}

func (c *Client) handleResponse(ctx context.Context, msg *components.TransportMessage) {
	var res notaryResponse
	if err := msg.Payload.Unmarshal(&res); err != nil {
		log.L(ctx).Errorf("%s", i18n.NewError(ctx, msgs.MsgNegotiationBadMessage, msg.MessageType, msg.ReplyTo))
		return
	}
	if !c.inflight.Complete(msg.CorrelationID, &res) {
		log.L(ctx).Debugf("Notary response for %s arrived with nobody waiting", res.TxID)
	}
}
