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

// Package treasury manages the self-issued cash a node uses to settle obligations
package treasury

import (
	"context"
	"slices"

	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
)

type treasury struct {
	registry components.Registry
	km       components.KeyManager
	ss       components.StateStore
	verifier components.ContractVerifier
	finality components.LedgerFinality
}

func NewTreasury(registry components.Registry, km components.KeyManager, ss components.StateStore, verifier components.ContractVerifier, finality components.LedgerFinality) components.Treasury {
	return &treasury{
		registry: registry,
		km:       km,
		ss:       ss,
		verifier: verifier,
		finality: finality,
	}
}

// spendable is the unconsumed cash held under any key of this node, oldest first
func (t *treasury) spendable(ctx context.Context, currency string) ([]*obtypes.CashSnapshot, error) {
	all, err := t.ss.UnconsumedCash(ctx, currency, nil)
	if err != nil {
		return nil, err
	}
	local := make([]*obtypes.CashSnapshot, 0, len(all))
	for _, c := range all {
		if c.State.Owner != nil && c.State.Owner.Kind != obtypes.PartyKindThreshold && t.km.IsLocalKey(ctx, c.State.Owner.Key) {
			local = append(local, c)
		}
	}
	return local, nil
}

func (t *treasury) Balance(ctx context.Context, currency string) (obtypes.Amount, error) {
	ccy, err := obtypes.ParseCurrency(ctx, currency)
	if err != nil {
		return obtypes.Amount{}, components.Classify(components.ErrValidation, err)
	}
	cash, err := t.spendable(ctx, ccy)
	if err != nil {
		return obtypes.Amount{}, err
	}
	balance := obtypes.ZeroAmount(ccy)
	for _, c := range cash {
		balance = balance.Plus(c.State.Amount)
	}
	return balance, nil
}

func (t *treasury) GenerateTransfer(ctx context.Context, tp *obtypes.TransactionProposal, amount obtypes.Amount, payee, changeOwner *obtypes.Party) ([]string, error) {
	if !amount.IsPositive() {
		return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgTreasuryAmountNotPositive, amount)
	}
	if changeOwner == nil {
		changeOwner = t.registry.LocalParty()
	}
	cash, err := t.spendable(ctx, amount.Currency)
	if err != nil {
		return nil, err
	}
	alreadyInput := func(ref obtypes.StateRef) bool {
		return slices.ContainsFunc(tp.Inputs, func(in *obtypes.TxInput) bool { return in.Ref == ref })
	}
	gathered := obtypes.ZeroAmount(amount.Currency)
	var owners []*obtypes.Party
	var keys []string
	selected := 0
	for _, c := range cash {
		if gathered.Cmp(amount) >= 0 {
			break
		}
		if alreadyInput(c.Ref) {
			continue
		}
		tp.Inputs = append(tp.Inputs, &obtypes.TxInput{Ref: c.Ref, State: obtypes.CashOutput(c.State)})
		gathered = gathered.Plus(c.State.Amount)
		selected++
		owners = obtypes.AppendUniqueParties(owners, c.State.Owner)
		if !slices.Contains(keys, c.State.Owner.Key) {
			keys = append(keys, c.State.Owner.Key)
		}
	}
	if gathered.Cmp(amount) < 0 {
		return nil, components.NewError(ctx, components.ErrInsufficientFunds, msgs.MsgTreasurySelectionShort, gathered, amount)
	}
	tp.Outputs = append(tp.Outputs, obtypes.CashOutput(&obtypes.CashState{Amount: amount, Owner: payee}))
	if change := gathered.Minus(amount); change.IsPositive() {
		tp.Outputs = append(tp.Outputs, obtypes.CashOutput(&obtypes.CashState{Amount: change, Owner: changeOwner}))
	}
	tp.Commands = append(tp.Commands, &obtypes.Command{Type: obtypes.CommandCashMove, Signers: owners})
	log.L(ctx).Debugf("Selected %d cash states totalling %s to pay %s", selected, gathered, amount)
	return keys, nil
}

// IssueCash mints cash owned by the local well-known party
func (t *treasury) IssueCash(ctx context.Context, amount obtypes.Amount) (*obtypes.SignedTransaction, error) {
	if err := amount.Validate(ctx); err != nil {
		return nil, components.Classify(components.ErrValidation, err)
	}
	if !amount.IsPositive() {
		return nil, components.NewError(ctx, components.ErrValidation, msgs.MsgTreasuryAmountNotPositive, amount)
	}
	me := t.registry.LocalParty()
	tp := &obtypes.TransactionProposal{
		Notary:   t.registry.NotaryKey(),
		Outputs:  []*obtypes.TxOutput{obtypes.CashOutput(&obtypes.CashState{Amount: amount, Owner: me})},
		Commands: []*obtypes.Command{{Type: obtypes.CommandCashIssue, Signers: []*obtypes.Party{me}}},
		Salt:     obtypes.RandBytes32(),
	}
	if err := t.verifier.Verify(ctx, tp); err != nil {
		return nil, components.Classify(components.ErrValidation, err)
	}
	stx := obtypes.NewSignedTransaction(tp)
	sig, err := t.km.Sign(ctx, me.Key, stx.ID[:])
	if err != nil {
		return nil, err
	}
	stx.AddSignatures(sig)
	log.L(ctx).Infof("Issuing %s of cash in transaction %s", amount, stx.ID)
	return t.finality.Finalise(ctx, stx)
}
