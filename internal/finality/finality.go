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

// Package finality commits fully signed transactions: notarisation, recording in the
// local vault, and distribution to every participant node.
package finality

import (
	"context"
	"slices"
	"sync"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/suweicong/obligation-cordapp/internal/cache"
	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/inflight"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
	"github.com/suweicong/obligation-cordapp/pkg/persistence"
)

const (
	MessageTypeFinality      = "finality"
	MessageTypeFinalityQuery = "finality_query"
)

// notice is either a committed transaction, or the rejection of one
type notice struct {
	TxID        obtypes.Bytes32            `json:"txId"`
	Transaction *obtypes.SignedTransaction `json:"transaction,omitempty"`
	ErrorKind   string                     `json:"errorKind,omitempty"`
	Error       string                     `json:"error,omitempty"`
	from        string
}

type query struct {
	TxID obtypes.Bytes32 `json:"txId"`
}

type Finality struct {
	bgCtx      context.Context
	p          persistence.Persistence
	registry   components.Registry
	ir         components.IdentityResolver
	km         components.KeyManager
	ss         components.StateStore
	tm         components.TransportManager
	notary     components.Notary
	waiters    *inflight.Manager[*notice]
	rejections cache.Cache[obtypes.Bytes32, *notice]
	// finalisers the waiters for each transaction accept a rejection from
	finalisers   map[obtypes.Bytes32][]string
	finaliserMux sync.Mutex
	onCommit     func(stx *obtypes.SignedTransaction)
}

func NewFinality(bgCtx context.Context, conf *obconf.FinalityConfig, p persistence.Persistence, registry components.Registry, ir components.IdentityResolver,
	km components.KeyManager, ss components.StateStore, tm components.TransportManager, notary components.Notary) *Finality {
	f := &Finality{
		bgCtx:      log.WithComponent(bgCtx, "finality"),
		p:          p,
		registry:   registry,
		ir:         ir,
		km:         km,
		ss:         ss,
		tm:         tm,
		notary:     notary,
		waiters:    inflight.NewManager[*notice](),
		rejections: cache.NewCache[obtypes.Bytes32, *notice](&conf.RejectionCache, &obconf.FinalityDefaults.RejectionCache),
		finalisers: make(map[obtypes.Bytes32][]string),
	}
	tm.RegisterHandler(MessageTypeFinality, f.handleNotice)
	tm.RegisterHandler(MessageTypeFinalityQuery, f.handleQuery)
	return f
}

// OnCommit registers a callback for every transaction recorded by this node
func (f *Finality) OnCommit(fn func(stx *obtypes.SignedTransaction)) {
	f.onCommit = fn
}

func (f *Finality) Stop() {
	f.waiters.Close()
}

func (f *Finality) timeoutOr(ctx context.Context, txID obtypes.Bytes32, err error) error {
	if ctx.Err() != nil {
		return components.WrapError(ctx, components.ErrCommitTimeout, err, msgs.MsgFinalityTimeout, txID)
	}
	return components.Classify(components.ErrInternal, err)
}

func (f *Finality) Finalise(ctx context.Context, stx *obtypes.SignedTransaction) (*obtypes.SignedTransaction, error) {
	ctx = log.WithLogField(ctx, "tx", stx.ID.String())

	committed, err := f.ss.GetTransaction(ctx, stx.ID)
	if err != nil {
		return nil, err
	}
	if committed != nil {
		log.L(ctx).Infof("Transaction %s already committed", stx.ID)
		return committed, nil
	}

	if missing := stx.MissingSigners(); len(missing) > 0 {
		return nil, components.NewError(ctx, components.ErrCommitRejected, msgs.MsgNegotiationSignaturesMissing, stx.ID, missing)
	}

	sig, err := f.notary.Notarise(ctx, stx)
	if err != nil {
		if ctx.Err() != nil {
			// the notary may still commit, so peers are left to query for the outcome
			return nil, f.timeoutOr(ctx, stx.ID, err)
		}
		if kind := components.KindOf(err); kind == components.ErrCommitRejected || kind == components.ErrConcurrencyConflict {
			n := &notice{TxID: stx.ID, ErrorKind: string(kind), Error: err.Error(), from: f.registry.LocalNodeName()}
			f.rejections.Set(stx.ID, n)
			f.broadcast(ctx, stx, n)
		}
		return nil, err
	}

	notarised := *stx
	notarised.NotarySignature = sig
	if err := f.record(ctx, &notarised); err != nil {
		return nil, err
	}
	f.broadcast(ctx, &notarised, &notice{TxID: stx.ID, Transaction: &notarised})
	log.L(ctx).Infof("Transaction %s finalised", stx.ID)
	return &notarised, nil
}

func (f *Finality) record(ctx context.Context, stx *obtypes.SignedTransaction) error {
	err := f.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		dbTX.AddPostCommit(func(ctx context.Context) {
			if f.onCommit != nil {
				f.onCommit(stx)
			}
			f.waiters.Complete(stx.ID.String(), &notice{TxID: stx.ID, Transaction: stx})
		})
		return f.ss.WriteTransaction(ctx, dbTX, stx)
	})
	if err != nil {
		return components.Classify(components.ErrInternal, err)
	}
	return nil
}

// participantNodes resolves every participant to the node that hosts it, excluding this one
func (f *Finality) participantNodes(ctx context.Context, stx *obtypes.SignedTransaction) []string {
	local := f.registry.LocalNodeName()
	seen := map[string]bool{local: true}
	var nodes []string
	for _, party := range stx.Proposal.Participants() {
		wk, err := f.ir.Resolve(ctx, party)
		if err != nil {
			log.L(ctx).Warnf("Cannot distribute %s to participant %s: %s", stx.ID, party, err)
			continue
		}
		if !seen[wk.Name] {
			seen[wk.Name] = true
			nodes = append(nodes, wk.Name)
		}
	}
	return nodes
}

func (f *Finality) broadcast(ctx context.Context, stx *obtypes.SignedTransaction, n *notice) {
	for _, node := range f.participantNodes(ctx, stx) {
		err := f.tm.Send(ctx, &components.TransportMessage{
			Node:        node,
			MessageType: MessageTypeFinality,
			Payload:     obtypes.JSONString(n),
		})
		if err != nil {
			// the peer can still recover the outcome with a finality query
			log.L(ctx).Errorf("Failed to send finality notice for %s to %s: %s", stx.ID, node, err)
		}
	}
}

func (f *Finality) WaitForCommit(ctx context.Context, txID obtypes.Bytes32, finaliser string) (*obtypes.SignedTransaction, error) {
	ctx = log.WithLogField(ctx, "tx", txID.String())
	if finaliser == "" {
		finaliser = f.registry.LocalNodeName()
	}
	req := f.waiters.Add(ctx, txID.String())
	defer req.Cancel()
	defer f.expectFinaliser(txID, finaliser)()

	committed, err := f.ss.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if committed != nil {
		return committed, nil
	}
	if n, ok := f.rejections.Get(txID); ok && n.from == finaliser {
		return nil, f.rejectedError(ctx, n)
	}

	if finaliser != f.registry.LocalNodeName() {
		err := f.tm.Send(ctx, &components.TransportMessage{
			Node:        finaliser,
			MessageType: MessageTypeFinalityQuery,
			Payload:     obtypes.JSONString(&query{TxID: txID}),
		})
		if err != nil {
			log.L(ctx).Warnf("Finality query for %s to %s failed: %s", txID, finaliser, err)
		}
	}

	log.L(ctx).Debugf("Waiting for %s to commit (finaliser=%s)", txID, finaliser)
	n, err := req.Wait()
	if err != nil {
		return nil, f.timeoutOr(ctx, txID, err)
	}
	if n.Transaction == nil {
		return nil, f.rejectedError(ctx, n)
	}
	return n.Transaction, nil
}

func (f *Finality) expectFinaliser(txID obtypes.Bytes32, node string) (release func()) {
	f.finaliserMux.Lock()
	defer f.finaliserMux.Unlock()
	f.finalisers[txID] = append(f.finalisers[txID], node)
	return func() {
		f.finaliserMux.Lock()
		defer f.finaliserMux.Unlock()
		nodes := f.finalisers[txID]
		if i := slices.Index(nodes, node); i >= 0 {
			nodes = slices.Delete(nodes, i, i+1)
		}
		if len(nodes) == 0 {
			delete(f.finalisers, txID)
		} else {
			f.finalisers[txID] = nodes
		}
	}
}

func (f *Finality) isFinaliser(txID obtypes.Bytes32, node string) bool {
	f.finaliserMux.Lock()
	defer f.finaliserMux.Unlock()
	return slices.Contains(f.finalisers[txID], node)
}

func (f *Finality) rejectedError(ctx context.Context, n *notice) error {
	kind := components.ParseErrorKind(n.ErrorKind)
	if kind != components.ErrConcurrencyConflict {
		kind = components.ErrCommitRejected
	}
	return components.NewError(ctx, kind, msgs.MsgFinalityRejected, n.TxID, n.Error)
}

// verifyNotarised checks a transaction received from a peer before it reaches the vault
func (f *Finality) verifyNotarised(ctx context.Context, stx *obtypes.SignedTransaction) error {
	if stx.Proposal == nil {
		return i18n.NewError(ctx, msgs.MsgNotaryIDMismatch, stx.ID, "")
	}
	if err := stx.VerifySignatures(ctx); err != nil {
		return err
	}
	ns := stx.NotarySignature
	if ns == nil || ns.Key != f.registry.NotaryKey() || ns.Verify(ctx, stx.ID[:]) != nil {
		return i18n.NewError(ctx, msgs.MsgNotarySignatureInvalid, stx.ID)
	}
	for _, p := range stx.Proposal.Participants() {
		for _, k := range p.OwningKeys() {
			if f.km.IsLocalKey(ctx, k) {
				return nil
			}
		}
	}
	return i18n.NewError(ctx, msgs.MsgFinalityNotParticipant, stx.ID)
}

func (f *Finality) handleNotice(ctx context.Context, msg *components.TransportMessage) {
	var n notice
	if err := msg.Payload.Unmarshal(&n); err != nil {
		log.L(ctx).Errorf("%s", i18n.NewError(ctx, msgs.MsgNegotiationBadMessage, msg.MessageType, msg.ReplyTo))
		return
	}
	ctx = log.WithLogField(ctx, "tx", n.TxID.String())
	if n.Transaction == nil {
		// only the finaliser a waiter names can fail it, anyone else is answered by a query
		n.from = msg.ReplyTo
		f.rejections.Set(n.TxID, &n)
		if !f.isFinaliser(n.TxID, msg.ReplyTo) {
			log.L(ctx).Warnf("Ignoring rejection of %s from %s, which no waiter names as finaliser", n.TxID, msg.ReplyTo)
			return
		}
		log.L(ctx).Infof("Transaction %s rejected per %s: %s", n.TxID, msg.ReplyTo, n.Error)
		f.waiters.Complete(n.TxID.String(), &n)
		return
	}
	if n.Transaction.ID != n.TxID {
		log.L(ctx).Errorf("%s", i18n.NewError(ctx, msgs.MsgNegotiationBadMessage, msg.MessageType, msg.ReplyTo))
		return
	}
	go func() {
		if err := f.verifyNotarised(ctx, n.Transaction); err != nil {
			log.L(ctx).Errorf("Discarding finality notice from %s: %s", msg.ReplyTo, err)
			return
		}
		if err := f.record(ctx, n.Transaction); err != nil {
			log.L(ctx).Errorf("Failed to record %s: %s", n.TxID, err)
			return
		}
		log.L(ctx).Infof("Recorded transaction %s finalised by %s", n.TxID, msg.ReplyTo)
	}()
}

func (f *Finality) handleQuery(ctx context.Context, msg *components.TransportMessage) {
	var q query
	if err := msg.Payload.Unmarshal(&q); err != nil {
		log.L(ctx).Errorf("%s", i18n.NewError(ctx, msgs.MsgNegotiationBadMessage, msg.MessageType, msg.ReplyTo))
		return
	}
	go func() {
		var n *notice
		stx, err := f.ss.GetTransaction(ctx, q.TxID)
		switch {
		case err != nil:
			log.L(ctx).Errorf("Finality query for %s failed: %s", q.TxID, err)
			return
		case stx != nil:
			n = &notice{TxID: q.TxID, Transaction: stx}
		default:
			var ok bool
			if n, ok = f.rejections.Get(q.TxID); !ok {
				// still in flight, the eventual broadcast answers the query
				return
			}
		}
		err = f.tm.Send(ctx, &components.TransportMessage{
			Node:          msg.ReplyTo,
			CorrelationID: msg.MessageID,
			MessageType:   MessageTypeFinality,
			Payload:       obtypes.JSONString(n),
		})
		if err != nil {
			log.L(ctx).Warnf("Failed to answer finality query from %s: %s", msg.ReplyTo, err)
		}
	}()
}
