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

const msgSecretCommitment = "SecretCommitment"

// secretCommitment opens a redemption. The borrower settles against exactly this snapshot.
type secretCommitment struct {
	Snapshot  *obtypes.ObligationSnapshot `json:"snapshot"`
	Secret    obtypes.HexBytes            `json:"secret"`
	Anonymous bool                        `json:"anonymous"`
	Amount    *obtypes.Amount             `json:"amount,omitempty"`
}

// RedeemObligation is run by the lender, and asks the borrower to pay what is left
// (or the amount given) in exchange for the secret being recorded on the ledger
func (m *negotiationManager) RedeemObligation(ctx context.Context, req *obtypes.RedeemObligationRequest) (*obtypes.TransactionResult, error) {
	if len(req.Secret) == 0 {
		return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgRedeemSecretRequired)
	}
	snapshot, err := m.ss.GetUnconsumedObligation(ctx, req.LinearID)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgStateUnconsumedNotFound, req.LinearID)
	}
	rec := snapshot.State
	if rec.IsSettled() {
		return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgRedeemAlreadySettled, rec.LinearID)
	}
	if req.Amount != nil {
		if err := req.Amount.CheckSameCurrency(ctx, rec.Amount); err != nil {
			return nil, components.Classify(components.ErrValidation, err)
		}
		if !req.Amount.IsPositive() {
			return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgRedeemAmountPositive, req.Amount)
		}
	}
	lender, err := m.ir.Resolve(ctx, rec.Lender)
	if err != nil {
		return nil, components.Classify(components.ErrValidation, err)
	}
	if lender.Name != m.registry.LocalNodeName() {
		return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgRedeemNotLocalLender, rec.LinearID)
	}
	borrower, err := m.ir.Resolve(ctx, rec.Borrower)
	if err != nil {
		return nil, components.Classify(components.ErrValidation, err)
	}
	n, err := m.startRedemption(ctx, borrower.Name, snapshot, req)
	if err != nil {
		return nil, err
	}
	return m.await(ctx, n)
}

func (m *negotiationManager) startRedemption(ctx context.Context, borrower string, snapshot *obtypes.ObligationSnapshot, req *obtypes.RedeemObligationRequest) (*negotiation, error) {
	if borrower == m.registry.LocalNodeName() {
		return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgNegotiationCounterpartyLocal, borrower)
	}
	return m.startCoordinator(ctx, ProtocolRedeem, borrower, &checkpointData{
		Snapshot:  snapshot,
		Secret:    req.Secret,
		Anonymous: req.Anonymous,
		Amount:    req.Amount,
	})
}

func redeemSendCommitment(ctx context.Context, n *negotiation) (State, error) {
	err := n.send(ctx, msgSecretCommitment, &secretCommitment{
		Snapshot:  n.data.Snapshot,
		Secret:    n.data.Secret,
		Anonymous: n.data.Anonymous,
		Amount:    n.data.Amount,
	})
	if err != nil {
		return "", err
	}
	return StateSyncingIdentities, nil
}

// checkRedeemProposal is applied by the lender to the transaction the borrower built
func checkRedeemProposal(ctx context.Context, n *negotiation, stx *obtypes.SignedTransaction) error {
	tp := stx.Proposal
	for _, in := range tp.Inputs {
		if err := n.checkInvolved(ctx, in.Ref, in.State); err != nil {
			return err
		}
	}
	for i, out := range tp.Outputs {
		if err := n.checkInvolved(ctx, stx.OutputRef(i), out); err != nil {
			return err
		}
	}
	redeems := tp.CommandsOfType(obtypes.CommandObligationRedeem)
	if len(redeems) == 0 {
		return components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgRedeemNoRedeemCommand, stx.ID)
	}
	if !redeems[0].Secret.Equals(n.data.Secret) {
		return components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgRedeemSecretMismatch)
	}
	consumed := tp.InputsOfType(obtypes.StateTypeObligation)
	if len(consumed) != 1 || consumed[0].Ref != n.data.Snapshot.Ref {
		return components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgRedeemStaleSnapshot, n.data.Snapshot.Ref, tp.Inputs)
	}
	return nil
}

func (n *negotiation) checkInvolved(ctx context.Context, ref obtypes.StateRef, state *obtypes.TxOutput) error {
	if state == nil {
		return components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgStateOutputEmpty, ref.Index, ref.TxID)
	}
	for _, p := range state.Participants() {
		if _, err := n.m.ir.Resolve(ctx, p); err != nil {
			return components.WrapError(ctx, components.ErrProtocolViolation, err, msgs.MsgRedeemUnknownInvolved, ref, p)
		}
	}
	return nil
}

func redeemReceiveCommitment(ctx context.Context, n *negotiation) (State, error) {
	var sc secretCommitment
	if err := n.receive(ctx, msgSecretCommitment, &sc); err != nil {
		return "", err
	}
	if sc.Snapshot == nil || sc.Snapshot.State == nil || len(sc.Secret) == 0 {
		return "", components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgNegotiationBadMessage, msgSecretCommitment, n.row.Counterparty)
	}
	n.data.Snapshot, n.data.Secret = sc.Snapshot, sc.Secret
	n.data.Anonymous, n.data.Amount = sc.Anonymous, sc.Amount
	return StateCheckingSnapshot, nil
}

// redeemCheckSnapshot refuses to settle anything but the current version
func redeemCheckSnapshot(ctx context.Context, n *negotiation) (State, error) {
	proposed := n.data.Snapshot
	current, err := n.m.ss.GetUnconsumedObligation(ctx, proposed.State.LinearID)
	if err != nil {
		return "", err
	}
	if current == nil || current.Ref != proposed.Ref || !current.State.Equals(proposed.State) {
		currentRef := "none"
		if current != nil {
			currentRef = current.Ref.String()
		}
		return "", components.NewError(ctx, components.ErrConcurrencyConflict, msgs.MsgRedeemStaleSnapshot, proposed.Ref, currentRef)
	}
	return StateCheckingAuthority, nil
}

func redeemCheckAuthority(ctx context.Context, n *negotiation) (State, error) {
	lender, err := n.m.ir.Resolve(ctx, n.data.Snapshot.State.Lender)
	if err != nil {
		return "", err
	}
	if lender.Name != n.row.Counterparty {
		return "", components.NewError(ctx, components.ErrAuthorization, msgs.MsgRedeemNotLender, n.row.Counterparty, lender.Name)
	}
	return StateCheckingFunds, nil
}

// redeemCheckFunds settles the pledge: the amount asked for, or everything outstanding
func redeemCheckFunds(ctx context.Context, n *negotiation) (State, error) {
	rec := n.data.Snapshot.State
	remaining := rec.Remaining()
	pledge := remaining
	if n.data.Amount != nil {
		pledge = *n.data.Amount
	}
	if err := pledge.CheckSameCurrency(ctx, rec.Amount); err != nil {
		return "", components.Classify(components.ErrProtocolViolation, err)
	}
	if !pledge.IsPositive() {
		return "", components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgRedeemAmountPositive, pledge)
	}
	balance, err := n.m.treasury.Balance(ctx, pledge.Currency)
	if err != nil {
		return "", err
	}
	switch {
	case !balance.IsPositive():
		return "", components.NewError(ctx, components.ErrInsufficientFunds, msgs.MsgTreasuryNoFunds, pledge.Currency)
	case balance.Cmp(pledge) < 0:
		return "", components.NewError(ctx, components.ErrInsufficientFunds, msgs.MsgTreasuryInsufficient, balance, pledge)
	case remaining.Cmp(pledge) < 0:
		return "", components.NewError(ctx, components.ErrInsufficientFunds, msgs.MsgTreasuryPledgeTooLarge, remaining, pledge)
	}
	n.data.Amount = &pledge
	return StateBuilding, nil
}

func redeemBuild(ctx context.Context, n *negotiation) (State, error) {
	snapshot := n.data.Snapshot
	rec := snapshot.State
	pledge := *n.data.Amount
	now := obtypes.TimestampNow()
	tp := &obtypes.TransactionProposal{
		Notary: n.m.registry.NotaryKey(),
		Inputs: []*obtypes.TxInput{{Ref: snapshot.Ref, State: obtypes.ObligationOutput(rec)}},
		Commands: []*obtypes.Command{{
			Type:    obtypes.CommandObligationRedeem,
			Secret:  n.data.Secret,
			Signers: rec.Participants(),
		}},
		TimeWindow: &obtypes.TimeWindow{From: now.Add(-n.m.timeWindow), Until: now.Add(n.m.timeWindow)},
		Salt:       obtypes.RandBytes32(),
	}
	var changeOwner *obtypes.Party
	if n.data.Anonymous {
		party, _, err := n.m.ir.CreateConfidentialIdentity(ctx)
		if err != nil {
			return "", err
		}
		changeOwner = party
	}
	if _, err := n.m.treasury.GenerateTransfer(ctx, tp, pledge, rec.Lender, changeOwner); err != nil {
		return "", components.Classify(components.ErrInsufficientFunds, err)
	}
	if rec.Remaining().Minus(pledge).IsPositive() {
		tp.Outputs = append(tp.Outputs, obtypes.ObligationOutput(rec.Pay(pledge)))
	}
	return n.buildAndSign(ctx, tp, StateSyncingIdentities)
}
