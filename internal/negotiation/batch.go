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

// BatchAction consumes the current version of every listed obligation in one
// transaction, optionally moving them all to a new lender. The lender of the first
// requested obligation that is found is the counterparty.
func (m *negotiationManager) BatchAction(ctx context.Context, req *obtypes.BatchActionRequest) (*obtypes.TransactionResult, error) {
	ids := req.LinearIDs
	if len(ids) == 0 {
		return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgBatchEmpty)
	}
	if len(ids) > m.maxPageSize {
		return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgBatchTooLarge, len(ids), m.maxPageSize)
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgBatchDuplicateID, id)
		}
		seen[id] = true
	}
	var newLender string
	if req.NewLender != "" {
		entry, err := m.registry.LookupByName(ctx, req.NewLender)
		if err != nil {
			return nil, components.Classify(components.ErrValidation, err)
		}
		newLender = entry.Party.Name
	}

	found, _, err := m.ss.QueryObligations(ctx, &components.StateQuery{
		LinearIDs: ids,
		Status:    obtypes.StateStatusUnconsumed,
		Limit:     m.maxPageSize,
	})
	if err != nil {
		return nil, err
	}
	inputs := inRequestOrder(ids, found)
	if len(inputs) == 0 {
		return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgBatchNoneUnconsumed, len(ids))
	}
	lender, err := m.ir.Resolve(ctx, inputs[0].State.Lender)
	if err != nil {
		return nil, components.Classify(components.ErrValidation, err)
	}
	if lender.Name == m.registry.LocalNodeName() {
		return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgNegotiationCounterpartyLocal, lender.Name)
	}

	n, err := m.startCoordinator(ctx, ProtocolBatch, lender.Name, &checkpointData{
		NewLender: newLender,
		Inputs:    inputs,
	})
	if err != nil {
		return nil, err
	}
	return m.await(ctx, n)
}

// inRequestOrder sorts the store's results back into the order the ids were requested
func inRequestOrder(ids []string, found []*obtypes.ObligationSnapshot) []*obtypes.ObligationSnapshot {
	byID := make(map[string]*obtypes.ObligationSnapshot, len(found))
	for _, s := range found {
		byID[s.State.LinearID] = s
	}
	ordered := make([]*obtypes.ObligationSnapshot, 0, len(found))
	for _, id := range ids {
		if s, ok := byID[id]; ok {
			ordered = append(ordered, s)
		}
	}
	return ordered
}

func batchBuild(ctx context.Context, n *negotiation) (State, error) {
	var newLender *obtypes.Party
	if n.data.NewLender != "" {
		entry, err := n.m.registry.LookupByName(ctx, n.data.NewLender)
		if err != nil {
			return "", components.Classify(components.ErrValidation, err)
		}
		newLender = entry.Party
	}
	now := obtypes.TimestampNow()
	tp := &obtypes.TransactionProposal{
		Notary:     n.m.registry.NotaryKey(),
		TimeWindow: &obtypes.TimeWindow{From: now, Until: now.Add(n.m.timeWindow)},
		Salt:       obtypes.RandBytes32(),
	}
	var signers []*obtypes.Party
	for _, in := range n.data.Inputs {
		tp.Inputs = append(tp.Inputs, &obtypes.TxInput{Ref: in.Ref, State: obtypes.ObligationOutput(in.State)})
		successor := in.State
		if newLender != nil {
			successor = in.State.WithNewLender(newLender)
		}
		tp.Outputs = append(tp.Outputs, obtypes.ObligationOutput(successor))
		signers = obtypes.AppendUniqueParties(signers, in.State.Participants()...)
	}
	tp.Commands = []*obtypes.Command{{Type: obtypes.CommandObligationNoop, Signers: signers}}
	return n.buildAndSign(ctx, tp, StateCollectingSignatures)
}
