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

	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
)

const (
	msgSignatureRequest  = "SignatureRequest"
	msgSignatureResponse = "SignatureResponse"
)

type signatureRequest struct {
	Transaction *obtypes.SignedTransaction `json:"transaction"`
}

type signatureResponse struct {
	TxID       obtypes.Bytes32      `json:"txId"`
	Signatures []*obtypes.Signature `json:"signatures"`
}

// proposalCheck is any protocol specific check a responder applies before signing
type proposalCheck func(ctx context.Context, n *negotiation, stx *obtypes.SignedTransaction) error

// signLocal signs with every key this node holds that a required signer needs
func (n *negotiation) signLocal(ctx context.Context, stx *obtypes.SignedTransaction) ([]*obtypes.Signature, error) {
	signed := make(map[string]bool)
	for _, k := range stx.SignedKeys() {
		signed[k] = true
	}
	var sigs []*obtypes.Signature
	for _, party := range stx.Proposal.RequiredSigners() {
		for _, key := range party.OwningKeys() {
			if signed[key] || !n.m.km.IsLocalKey(ctx, key) {
				continue
			}
			sig, err := n.m.km.Sign(ctx, key, stx.ID[:])
			if err != nil {
				return nil, components.Classify(components.ErrInternal, err)
			}
			signed[key] = true
			sigs = append(sigs, sig)
		}
	}
	return sigs, nil
}

// buildAndSign verifies a locally built proposal and adds our own signatures
func (n *negotiation) buildAndSign(ctx context.Context, tp *obtypes.TransactionProposal, next State) (State, error) {
	if err := n.m.verifier.Verify(ctx, tp); err != nil {
		return "", components.WrapError(ctx, components.ErrValidation, err, msgs.MsgNegotiationVerifyFailed, tp.ComputeID())
	}
	stx := obtypes.NewSignedTransaction(tp)
	sigs, err := n.signLocal(ctx, stx)
	if err != nil {
		return "", err
	}
	if len(sigs) == 0 {
		return "", components.NewError(ctx, components.ErrValidation, msgs.MsgNegotiationNoLocalSigner, tp.RequiredSigners())
	}
	stx.AddSignatures(sigs...)
	n.data.Transaction = stx
	return next, nil
}

// checkProposal is applied by every party before it signs a proposal it did not build
func (n *negotiation) checkProposal(ctx context.Context, stx *obtypes.SignedTransaction) error {
	if notary := n.m.registry.NotaryKey(); stx.Proposal.Notary != notary {
		return components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgNegotiationNotaryMismatch, stx.Proposal.Notary, notary)
	}
	if err := stx.VerifySignatures(ctx); err != nil {
		return components.WrapError(ctx, components.ErrProtocolViolation, err, msgs.MsgNegotiationVerifyFailed, stx.ID)
	}
	if err := n.m.verifier.Verify(ctx, stx.Proposal); err != nil {
		return components.WrapError(ctx, components.ErrProtocolViolation, err, msgs.MsgNegotiationVerifyFailed, stx.ID)
	}
	return nil
}

// collectSignaturesStep sends the partially signed transaction to the counterparty and
// merges the signatures returned. A refusal arrives as an abort from the peer.
func collectSignaturesStep(ctx context.Context, n *negotiation) (State, error) {
	stx := n.data.Transaction
	if err := n.send(ctx, msgSignatureRequest, &signatureRequest{Transaction: stx}); err != nil {
		return "", err
	}
	var res signatureResponse
	if err := n.receive(ctx, msgSignatureResponse, &res); err != nil {
		return "", err
	}
	if res.TxID != stx.ID {
		return "", components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgNegotiationTxMismatch, res.TxID, stx.ID)
	}
	expected := make(map[string]bool)
	for _, p := range stx.MissingSigners() {
		for _, key := range p.OwningKeys() {
			expected[key] = true
		}
	}
	for _, sig := range res.Signatures {
		if sig == nil || !expected[sig.Key] {
			key := ""
			if sig != nil {
				key = sig.Key
			}
			return "", components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgNegotiationUnexpectedSigner, key)
		}
		if err := sig.Verify(ctx, stx.ID[:]); err != nil {
			return "", components.Classify(components.ErrProtocolViolation, err)
		}
	}
	stx.AddSignatures(res.Signatures...)
	if missing := stx.MissingSigners(); len(missing) > 0 {
		return "", components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgNegotiationSignaturesMissing, stx.ID, missing)
	}
	return StateFinalising, nil
}

// signProposalStep is the responder side of signature collection
func signProposalStep(check proposalCheck) stepFn {
	return func(ctx context.Context, n *negotiation) (State, error) {
		var req signatureRequest
		if err := n.receive(ctx, msgSignatureRequest, &req); err != nil {
			return "", err
		}
		stx := req.Transaction
		if stx == nil || stx.Proposal == nil {
			return "", components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgNegotiationNoTransaction, n.row.Counterparty)
		}
		if err := n.checkProposal(ctx, stx); err != nil {
			return "", err
		}
		if check != nil {
			if err := check(ctx, n, stx); err != nil {
				return "", err
			}
		}
		sigs, err := n.signLocal(ctx, stx)
		if err != nil {
			return "", err
		}
		if len(sigs) == 0 {
			return "", components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgNegotiationNoLocalSigner, stx.Proposal.RequiredSigners())
		}
		stx.AddSignatures(sigs...)
		n.data.Transaction = stx
		if err := n.send(ctx, msgSignatureResponse, &signatureResponse{TxID: stx.ID, Signatures: sigs}); err != nil {
			return "", err
		}
		return StateAwaitingCommit, nil
	}
}

func finaliseStep(ctx context.Context, n *negotiation) (State, error) {
	committed, err := n.m.finality.Finalise(ctx, n.data.Transaction)
	if err != nil {
		return "", err
	}
	n.data.Transaction = committed
	return StateCommitted, nil
}

// awaitCommitStep waits for the counterparty to finalise. An abort from the peer
// ends the wait, as the transaction will never arrive.
func awaitCommitStep(ctx context.Context, n *negotiation) (State, error) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-n.sess.peerFailed:
			cancel()
		case <-waitCtx.Done():
		}
	}()
	committed, err := n.m.finality.WaitForCommit(waitCtx, n.data.Transaction.ID, n.row.Counterparty)
	if err != nil {
		if perr := n.sess.peerError(ctx); perr != nil {
			return "", perr
		}
		return "", err
	}
	n.data.Transaction = committed
	return StateCommitted, nil
}
