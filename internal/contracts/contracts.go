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

// Package contracts holds the ledger rules for obligation and cash states. Every
// node runs the same rules over a proposal before signing it, and the notary runs
// them again before committing.
package contracts

import (
	"context"
	"slices"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
)

type verifier struct{}

func NewVerifier() components.ContractVerifier {
	return &verifier{}
}

// Verify returns plain errors. The caller decides whether a failure is its own
// fault (validation) or the counterparty's (protocol violation).
func (v *verifier) Verify(ctx context.Context, tp *obtypes.TransactionProposal) error {
	resolved := 0
	for _, in := range tp.Inputs {
		if in.State != nil && (in.State.Obligation != nil || in.State.Cash != nil) {
			resolved++
		}
	}
	if resolved != len(tp.Inputs) {
		return i18n.NewError(ctx, msgs.MsgContractInputStatesMismatch, len(tp.Inputs), resolved)
	}
	for _, c := range tp.Commands {
		switch c.Type {
		case obtypes.CommandObligationIssue, obtypes.CommandObligationNoop, obtypes.CommandObligationRedeem,
			obtypes.CommandCashIssue, obtypes.CommandCashMove:
		default:
			return i18n.NewError(ctx, msgs.MsgContractUnknownCommand, c.Type)
		}
	}
	if err := verifyObligations(ctx, tp); err != nil {
		return err
	}
	return verifyCash(ctx, tp)
}

func hasSigners(cmd *obtypes.Command, parties ...*obtypes.Party) bool {
	for _, p := range parties {
		if !slices.ContainsFunc(cmd.Signers, p.Equals) {
			return false
		}
	}
	return true
}

func checkSigners(ctx context.Context, cmd *obtypes.Command, parties ...*obtypes.Party) error {
	if !hasSigners(cmd, parties...) {
		return i18n.NewError(ctx, msgs.MsgContractMissingSigners, cmd.Type, parties)
	}
	return nil
}

func obligationStates(inputs []*obtypes.TxInput) []*obtypes.ObligationRecord {
	records := make([]*obtypes.ObligationRecord, len(inputs))
	for i, in := range inputs {
		records[i] = in.State.Obligation
	}
	return records
}

func outputObligations(outputs []*obtypes.TxOutput) []*obtypes.ObligationRecord {
	records := make([]*obtypes.ObligationRecord, len(outputs))
	for i, out := range outputs {
		records[i] = out.Obligation
	}
	return records
}

// checkRecord enforces the invariants every obligation version must hold
func checkRecord(ctx context.Context, o *obtypes.ObligationRecord) error {
	if o == nil || o.Lender == nil || o.Borrower == nil {
		return i18n.NewError(ctx, msgs.MsgContractParticipantsInvalid)
	}
	if err := o.Lender.Validate(ctx); err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgContractParticipantsInvalid)
	}
	if err := o.Borrower.Validate(ctx); err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgContractParticipantsInvalid)
	}
	if o.Lender.Equals(o.Borrower) {
		return i18n.NewError(ctx, msgs.MsgContractSameParticipants)
	}
	if !o.Amount.IsPositive() {
		return i18n.NewError(ctx, msgs.MsgContractAmountNotPositive, o.Amount)
	}
	if o.Paid.Currency != o.Amount.Currency {
		return i18n.NewError(ctx, msgs.MsgContractPaidCurrency, o.Paid.Currency, o.Amount.Currency)
	}
	if o.Paid.Quantity < 0 || o.Paid.Cmp(o.Amount) > 0 {
		return i18n.NewError(ctx, msgs.MsgContractPaidExceedsAmount, o.Paid, o.Amount)
	}
	return nil
}

func verifyObligations(ctx context.Context, tp *obtypes.TransactionProposal) error {
	inputs := obligationStates(tp.InputsOfType(obtypes.StateTypeObligation))
	outputs := outputObligations(tp.OutputsOfType(obtypes.StateTypeObligation))
	cmds := tp.CommandsOfType(obtypes.CommandObligationIssue, obtypes.CommandObligationNoop, obtypes.CommandObligationRedeem)
	if len(inputs)+len(outputs) == 0 {
		if len(cmds) > 0 {
			return i18n.NewError(ctx, msgs.MsgContractObligationCmdNoState, cmds[0].Type)
		}
		return nil
	}
	if len(cmds) == 0 {
		return i18n.NewError(ctx, msgs.MsgContractNoCommand, obtypes.StateTypeObligation, obtypes.StateTypeObligation)
	}
	if len(cmds) > 1 {
		return i18n.NewError(ctx, msgs.MsgContractMultipleCommands, obtypes.StateTypeObligation)
	}
	if tp.TimeWindow == nil {
		return i18n.NewError(ctx, msgs.MsgContractTimeWindowMissing)
	}
	if tp.TimeWindow.From > tp.TimeWindow.Until {
		return i18n.NewError(ctx, msgs.MsgContractTimeWindowInvalid, tp.TimeWindow.From, tp.TimeWindow.Until)
	}
	for _, o := range append(slices.Clone(inputs), outputs...) {
		if err := checkRecord(ctx, o); err != nil {
			return err
		}
	}
	switch cmd := cmds[0]; cmd.Type {
	case obtypes.CommandObligationIssue:
		return verifyIssue(ctx, cmd, inputs, outputs)
	case obtypes.CommandObligationNoop:
		return verifyNoop(ctx, cmd, inputs, outputs)
	default:
		return verifyRedeem(ctx, tp, cmd, inputs, outputs)
	}
}

func verifyIssue(ctx context.Context, cmd *obtypes.Command, inputs, outputs []*obtypes.ObligationRecord) error {
	if len(inputs) != 0 {
		return i18n.NewError(ctx, msgs.MsgContractIssueInputs)
	}
	if len(outputs) != 1 {
		return i18n.NewError(ctx, msgs.MsgContractIssueOutputs)
	}
	o := outputs[0]
	if !o.Paid.IsZero() {
		return i18n.NewError(ctx, msgs.MsgContractPaidNotZero, o.Paid)
	}
	return checkSigners(ctx, cmd, o.Participants()...)
}

// verifyNoop allows an action to re-emit each consumed obligation, changing at most its lender
func verifyNoop(ctx context.Context, cmd *obtypes.Command, inputs, outputs []*obtypes.ObligationRecord) error {
	if len(inputs) == 0 {
		return i18n.NewError(ctx, msgs.MsgContractNoopEmpty)
	}
	if len(inputs) != len(outputs) {
		return i18n.NewError(ctx, msgs.MsgContractNoopCount, len(inputs), len(outputs))
	}
	byID := make(map[string]*obtypes.ObligationRecord, len(inputs))
	var participants []*obtypes.Party
	for _, in := range inputs {
		byID[in.LinearID] = in
		participants = obtypes.AppendUniqueParties(participants, in.Participants()...)
	}
	for _, out := range outputs {
		in := byID[out.LinearID]
		if in == nil {
			return i18n.NewError(ctx, msgs.MsgContractNoopUnmatched, out.LinearID)
		}
		delete(byID, out.LinearID)
		if !in.WithNewLender(out.Lender).Equals(out) {
			return i18n.NewError(ctx, msgs.MsgContractNoopChanged, out.LinearID)
		}
		participants = obtypes.AppendUniqueParties(participants, out.Participants()...)
	}
	return checkSigners(ctx, cmd, participants...)
}

func verifyRedeem(ctx context.Context, tp *obtypes.TransactionProposal, cmd *obtypes.Command, inputs, outputs []*obtypes.ObligationRecord) error {
	if len(inputs) != 1 {
		return i18n.NewError(ctx, msgs.MsgContractRedeemInputs, len(inputs))
	}
	if len(outputs) > 1 {
		return i18n.NewError(ctx, msgs.MsgContractRedeemOutputs, len(outputs))
	}
	if len(cmd.Secret) == 0 {
		return i18n.NewError(ctx, msgs.MsgContractRedeemSecretEmpty)
	}
	in := inputs[0]
	settled := in.Remaining()
	if len(outputs) == 1 {
		out := outputs[0]
		if out.LinearID != in.LinearID || out.Amount != in.Amount ||
			!out.Lender.Equals(in.Lender) || !out.Borrower.Equals(in.Borrower) ||
			out.Paid.Cmp(in.Paid) <= 0 || out.Paid.Cmp(out.Amount) >= 0 {
			return i18n.NewError(ctx, msgs.MsgContractRedeemSuccessor)
		}
		settled = out.Paid.Minus(in.Paid)
	}
	paidToLender := obtypes.ZeroAmount(in.Amount.Currency)
	for _, out := range tp.OutputsOfType(obtypes.StateTypeCash) {
		if out.Cash.Owner.Equals(in.Lender) && out.Cash.Amount.Currency == in.Amount.Currency {
			var err error
			if paidToLender, err = paidToLender.Add(ctx, out.Cash.Amount); err != nil {
				return err
			}
		}
	}
	if paidToLender.Cmp(settled) < 0 {
		if len(outputs) == 0 {
			return i18n.NewError(ctx, msgs.MsgContractRedeemNotSettled, settled)
		}
		return i18n.NewError(ctx, msgs.MsgContractRedeemUnderpaid, paidToLender, settled)
	}
	return checkSigners(ctx, cmd, in.Participants()...)
}

func verifyCash(ctx context.Context, tp *obtypes.TransactionProposal) error {
	inputs := tp.InputsOfType(obtypes.StateTypeCash)
	outputs := tp.OutputsOfType(obtypes.StateTypeCash)
	issues := tp.CommandsOfType(obtypes.CommandCashIssue)
	moves := tp.CommandsOfType(obtypes.CommandCashMove)
	if len(inputs)+len(outputs) == 0 {
		return nil
	}
	for _, out := range outputs {
		if out.Cash == nil || out.Cash.Owner == nil || !out.Cash.Amount.IsPositive() {
			return i18n.NewError(ctx, msgs.MsgContractCashNotPositive, out.Cash)
		}
	}
	switch {
	case len(issues) == 1 && len(moves) == 0:
		if len(inputs) > 0 {
			return i18n.NewError(ctx, msgs.MsgContractCashIssueInputs)
		}
		if len(outputs) == 0 {
			return i18n.NewError(ctx, msgs.MsgContractCashIssueNoOutputs)
		}
		var owners []*obtypes.Party
		for _, out := range outputs {
			owners = obtypes.AppendUniqueParties(owners, out.Cash.Owner)
		}
		return checkSigners(ctx, issues[0], owners...)
	case len(moves) == 1 && len(issues) == 0:
		consumed := map[string]obtypes.Amount{}
		created := map[string]obtypes.Amount{}
		var owners []*obtypes.Party
		for _, in := range inputs {
			c := in.State.Cash
			if err := accumulate(ctx, consumed, c.Amount); err != nil {
				return err
			}
			owners = obtypes.AppendUniqueParties(owners, c.Owner)
		}
		for _, out := range outputs {
			if err := accumulate(ctx, created, out.Cash.Amount); err != nil {
				return err
			}
		}
		for ccy := range mergeKeys(consumed, created) {
			in, out := consumed[ccy], created[ccy]
			if in.Quantity != out.Quantity {
				return i18n.NewError(ctx, msgs.MsgContractCashUnbalanced, ccy, in.Quantity, out.Quantity)
			}
		}
		return checkSigners(ctx, moves[0], owners...)
	case len(issues)+len(moves) == 0:
		return i18n.NewError(ctx, msgs.MsgContractNoCommand, obtypes.StateTypeCash, obtypes.StateTypeCash)
	default:
		return i18n.NewError(ctx, msgs.MsgContractMultipleCommands, obtypes.StateTypeCash)
	}
}

// accumulate adds to the per-currency total, refusing any sum that would overflow
func accumulate(ctx context.Context, totals map[string]obtypes.Amount, a obtypes.Amount) error {
	sum, err := totals[a.Currency].Add(ctx, a)
	if err != nil {
		return err
	}
	sum.Currency = a.Currency
	totals[a.Currency] = sum
	return nil
}

func mergeKeys(maps ...map[string]obtypes.Amount) map[string]struct{} {
	keys := map[string]struct{}{}
	for _, m := range maps {
		for k := range m {
			keys[k] = struct{}{}
		}
	}
	return keys
}
