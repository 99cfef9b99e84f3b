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

	"github.com/google/uuid"
	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
)

const maxRemarkLength = 1024

const msgIssueHello = "IssueHello"

type issueHello struct {
	Anonymous bool `json:"anonymous"`
}

// IssueObligation records a debt from this node, as borrower, to the lender
func (m *negotiationManager) IssueObligation(ctx context.Context, req *obtypes.IssueObligationRequest) (*obtypes.TransactionResult, error) {
	if req.Amount == nil {
		return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgIssueAmountRequired)
	}
	if err := req.Amount.Validate(ctx); err != nil {
		return nil, components.Classify(components.ErrValidation, err)
	}
	if !req.Amount.IsPositive() {
		return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgIssueAmountPositive)
	}
	if req.Lender == "" {
		return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgIssueLenderRequired)
	}
	if req.Remark != nil && len(*req.Remark) > maxRemarkLength {
		return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgIssueRemarkTooLong, maxRemarkLength)
	}
	lender, err := m.registry.LookupByName(ctx, req.Lender)
	if err != nil {
		return nil, components.Classify(components.ErrValidation, err)
	}
	if lender.Party.Name == m.registry.LocalNodeName() {
		return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgIssueLenderIsSelf)
	}
	n, err := m.startCoordinator(ctx, ProtocolIssue, lender.Party.Name, &checkpointData{
		Amount:    req.Amount,
		Lender:    lender.Party.Name,
		Anonymous: req.Anonymous,
		Remark:    req.Remark,
	})
	if err != nil {
		return nil, err
	}
	return m.await(ctx, n)
}

func issueSendHello(ctx context.Context, n *negotiation) (State, error) {
	if err := n.send(ctx, msgIssueHello, &issueHello{Anonymous: n.data.Anonymous}); err != nil {
		return "", err
	}
	if n.data.Anonymous {
		return StateSwappingIdentities, nil
	}
	return StateBuilding, nil
}

func issueReceiveHello(ctx context.Context, n *negotiation) (State, error) {
	var hello issueHello
	if err := n.receive(ctx, msgIssueHello, &hello); err != nil {
		return "", err
	}
	n.data.Anonymous = hello.Anonymous
	if hello.Anonymous {
		return StateSwappingIdentities, nil
	}
	return StateAwaitingProposal, nil
}

func issueBuild(ctx context.Context, n *negotiation) (State, error) {
	lenderEntry, err := n.m.registry.LookupByName(ctx, n.data.Lender)
	if err != nil {
		return "", components.Classify(components.ErrValidation, err)
	}
	lender, borrower := lenderEntry.Party, n.m.registry.LocalParty()
	if n.data.Anonymous {
		lender, borrower = n.data.Identities[n.data.Lender], n.data.Identities[n.m.registry.LocalNodeName()]
	}
	amount := *n.data.Amount
	record := &obtypes.ObligationRecord{
		LinearID: uuid.New().String(),
		Amount:   amount,
		Lender:   lender,
		Borrower: borrower,
		Paid:     obtypes.ZeroAmount(amount.Currency),
		Remark:   n.data.Remark,
	}
	now := obtypes.TimestampNow()
	return n.buildAndSign(ctx, &obtypes.TransactionProposal{
		Notary:  n.m.registry.NotaryKey(),
		Outputs: []*obtypes.TxOutput{obtypes.ObligationOutput(record)},
		Commands: []*obtypes.Command{{
			Type:    obtypes.CommandObligationIssue,
			Signers: []*obtypes.Party{lender, borrower},
		}},
		TimeWindow: &obtypes.TimeWindow{From: now, Until: now.Add(n.m.timeWindow)},
		Salt:       obtypes.RandBytes32(),
	}, StateCollectingSignatures)
}
