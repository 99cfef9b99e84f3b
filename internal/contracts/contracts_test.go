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

package contracts

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
)

var (
	alice   = obtypes.WellKnownParty("Alice", "0x1111111111111111111111111111111111111111")
	bob     = obtypes.WellKnownParty("Bob", "0x2222222222222222222222222222222222222222")
	charlie = obtypes.WellKnownParty("Charlie", "0x3333333333333333333333333333333333333333")
	secret  = obtypes.HexBytes("correctSecret")
)

func gbp(q int64) obtypes.Amount {
	return obtypes.NewAmount(q, "GBP")
}

func newObligation() *obtypes.ObligationRecord {
	return &obtypes.ObligationRecord{
		LinearID: "ob1",
		Amount:   gbp(1000),
		Lender:   bob,
		Borrower: alice,
		Paid:     gbp(0),
	}
}

func window() *obtypes.TimeWindow {
	now := obtypes.TimestampNow()
	return &obtypes.TimeWindow{From: now, Until: now.Add(30 * time.Second)}
}

func issueTx(o *obtypes.ObligationRecord) *obtypes.TransactionProposal {
	return &obtypes.TransactionProposal{
		Outputs:    []*obtypes.TxOutput{obtypes.ObligationOutput(o)},
		Commands:   []*obtypes.Command{{Type: obtypes.CommandObligationIssue, Signers: o.Participants()}},
		TimeWindow: window(),
	}
}

func input(o *obtypes.ObligationRecord) *obtypes.TxInput {
	return &obtypes.TxInput{Ref: obtypes.StateRef{TxID: obtypes.RandBytes32()}, State: obtypes.ObligationOutput(o)}
}

func cashInput(q int64, owner *obtypes.Party) *obtypes.TxInput {
	return &obtypes.TxInput{Ref: obtypes.StateRef{TxID: obtypes.RandBytes32()}, State: obtypes.CashOutput(&obtypes.CashState{Amount: gbp(q), Owner: owner})}
}

func cashOut(q int64, owner *obtypes.Party) *obtypes.TxOutput {
	return obtypes.CashOutput(&obtypes.CashState{Amount: gbp(q), Owner: owner})
}

func redeemTx(in *obtypes.ObligationRecord, successor *obtypes.ObligationRecord, pay int64) *obtypes.TransactionProposal {
	tp := &obtypes.TransactionProposal{
		Inputs:     []*obtypes.TxInput{input(in), cashInput(pay+100, alice)},
		Outputs:    []*obtypes.TxOutput{cashOut(pay, bob), cashOut(100, alice)},
		Commands:   []*obtypes.Command{{Type: obtypes.CommandObligationRedeem, Secret: secret, Signers: in.Participants()}, {Type: obtypes.CommandCashMove, Signers: []*obtypes.Party{alice}}},
		TimeWindow: window(),
	}
	if successor != nil {
		tp.Outputs = append(tp.Outputs, obtypes.ObligationOutput(successor))
	}
	return tp
}

func TestIssue(t *testing.T) {
	ctx := context.Background()
	v := NewVerifier()
	assert.NoError(t, v.Verify(ctx, issueTx(newObligation())))

	o := newObligation()
	o.Amount = gbp(0)
	assert.Regexp(t, "OB010605", v.Verify(ctx, issueTx(o)))

	o = newObligation()
	o.Paid = gbp(1)
	assert.Regexp(t, "OB010606", v.Verify(ctx, issueTx(o)))

	o = newObligation()
	o.Lender = alice
	assert.Regexp(t, "OB010607", v.Verify(ctx, issueTx(o)))

	o = newObligation()
	o.Paid = obtypes.ZeroAmount("USD")
	assert.Regexp(t, "OB010624", v.Verify(ctx, issueTx(o)))

	tp := issueTx(newObligation())
	tp.Commands[0].Signers = []*obtypes.Party{alice}
	assert.Regexp(t, "OB010608", v.Verify(ctx, tp))

	tp = issueTx(newObligation())
	tp.TimeWindow = nil
	assert.Regexp(t, "OB010619", v.Verify(ctx, tp))

	tp = issueTx(newObligation())
	tp.TimeWindow.From, tp.TimeWindow.Until = tp.TimeWindow.Until, tp.TimeWindow.From
	assert.Regexp(t, "OB010627", v.Verify(ctx, tp))

	tp = issueTx(newObligation())
	tp.Outputs = append(tp.Outputs, obtypes.ObligationOutput(newObligation()))
	assert.Regexp(t, "OB010604", v.Verify(ctx, tp))

	tp = issueTx(newObligation())
	tp.Inputs = []*obtypes.TxInput{input(newObligation())}
	assert.Regexp(t, "OB010603", v.Verify(ctx, tp))

	tp = issueTx(newObligation())
	tp.Commands = nil
	assert.Regexp(t, "OB010600", v.Verify(ctx, tp))

	tp = issueTx(newObligation())
	tp.Commands = append(tp.Commands, &obtypes.Command{Type: obtypes.CommandObligationNoop})
	assert.Regexp(t, "OB010601", v.Verify(ctx, tp))

	tp = issueTx(newObligation())
	tp.Commands[0].Type = "obligation.unknown"
	assert.Regexp(t, "OB010602", v.Verify(ctx, tp))
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	v := NewVerifier()
	o1 := newObligation()
	o2 := newObligation()
	o2.LinearID = "ob2"
	noop := func(outs ...*obtypes.ObligationRecord) *obtypes.TransactionProposal {
		tp := &obtypes.TransactionProposal{
			Inputs:     []*obtypes.TxInput{input(o1), input(o2)},
			Commands:   []*obtypes.Command{{Type: obtypes.CommandObligationNoop, Signers: []*obtypes.Party{alice, bob, charlie}}},
			TimeWindow: window(),
		}
		for _, o := range outs {
			tp.Outputs = append(tp.Outputs, obtypes.ObligationOutput(o))
		}
		return tp
	}
	assert.NoError(t, v.Verify(ctx, noop(o2, o1)))
	assert.NoError(t, v.Verify(ctx, noop(o1.WithNewLender(charlie), o2)))
	assert.Regexp(t, "OB010609", v.Verify(ctx, noop(o1)))
	assert.Regexp(t, "OB010611", v.Verify(ctx, noop(o1.Pay(gbp(1)), o2)))
	assert.Regexp(t, "OB010612", v.Verify(ctx, noop(o1, o1)))

	tp := noop(o1, o2)
	tp.Commands[0].Signers = []*obtypes.Party{alice}
	assert.Regexp(t, "OB010608", v.Verify(ctx, tp))

	tp = noop()
	tp.Inputs = nil
	assert.Regexp(t, "OB010629", v.Verify(ctx, tp))
}

func TestRedeem(t *testing.T) {
	ctx := context.Background()
	v := NewVerifier()
	o := newObligation()

	assert.NoError(t, v.Verify(ctx, redeemTx(o, nil, 1000)))
	assert.NoError(t, v.Verify(ctx, redeemTx(o, o.Pay(gbp(400)), 400)))

	assert.Regexp(t, "OB010618", v.Verify(ctx, redeemTx(o, nil, 999)))
	assert.Regexp(t, "OB010616", v.Verify(ctx, redeemTx(o, o.Pay(gbp(400)), 300)))
	assert.Regexp(t, "OB010617", v.Verify(ctx, redeemTx(o, o.Pay(gbp(1000)), 1000)))
	assert.Regexp(t, "OB010617", v.Verify(ctx, redeemTx(o, o.WithNewLender(charlie).Pay(gbp(1)), 1)))

	tp := redeemTx(o, nil, 1000)
	tp.Commands[0].Secret = nil
	assert.Regexp(t, "OB010615", v.Verify(ctx, tp))

	tp = redeemTx(o, nil, 1000)
	tp.Inputs = append(tp.Inputs, input(o))
	assert.Regexp(t, "OB010613", v.Verify(ctx, tp))

	tp = redeemTx(o, o.Pay(gbp(1)), 1000)
	tp.Outputs = append(tp.Outputs, obtypes.ObligationOutput(o.Pay(gbp(2))))
	assert.Regexp(t, "OB010614", v.Verify(ctx, tp))

	tp = redeemTx(o, nil, 1000)
	tp.Commands[0].Signers = []*obtypes.Party{alice}
	assert.Regexp(t, "OB010608", v.Verify(ctx, tp))
}

func TestCash(t *testing.T) {
	ctx := context.Background()
	v := NewVerifier()

	issue := &obtypes.TransactionProposal{
		Outputs:  []*obtypes.TxOutput{cashOut(500, alice)},
		Commands: []*obtypes.Command{{Type: obtypes.CommandCashIssue, Signers: []*obtypes.Party{alice}}},
	}
	assert.NoError(t, v.Verify(ctx, issue))

	issue.Inputs = []*obtypes.TxInput{cashInput(5, alice)}
	assert.Regexp(t, "OB010620", v.Verify(ctx, issue))

	zero := &obtypes.TransactionProposal{
		Outputs:  []*obtypes.TxOutput{cashOut(0, alice)},
		Commands: []*obtypes.Command{{Type: obtypes.CommandCashIssue, Signers: []*obtypes.Party{alice}}},
	}
	assert.Regexp(t, "OB010621", v.Verify(ctx, zero))

	move := &obtypes.TransactionProposal{
		Inputs:   []*obtypes.TxInput{cashInput(500, alice)},
		Outputs:  []*obtypes.TxOutput{cashOut(200, bob), cashOut(300, alice)},
		Commands: []*obtypes.Command{{Type: obtypes.CommandCashMove, Signers: []*obtypes.Party{alice}}},
	}
	assert.NoError(t, v.Verify(ctx, move))

	move.Outputs[1] = cashOut(301, alice)
	assert.Regexp(t, "OB010622", v.Verify(ctx, move))

	move.Outputs[1] = cashOut(300, alice)
	move.Commands[0].Signers = []*obtypes.Party{bob}
	assert.Regexp(t, "OB010608", v.Verify(ctx, move))

	move.Commands = nil
	assert.Regexp(t, "OB010600", v.Verify(ctx, move))

	missing := &obtypes.TransactionProposal{Inputs: []*obtypes.TxInput{{Ref: obtypes.StateRef{TxID: obtypes.RandBytes32()}}}}
	assert.Regexp(t, "OB010623", v.Verify(ctx, missing))
}

func TestCashMoveCannotWrapTotals(t *testing.T) {
	ctx := context.Background()
	v := NewVerifier()

	// MaxInt64 + MaxInt64 + 102 wraps to 100 in int64 arithmetic
	move := &obtypes.TransactionProposal{
		Inputs:   []*obtypes.TxInput{cashInput(100, alice)},
		Outputs:  []*obtypes.TxOutput{cashOut(math.MaxInt64, alice), cashOut(math.MaxInt64, alice), cashOut(102, alice)},
		Commands: []*obtypes.Command{{Type: obtypes.CommandCashMove, Signers: []*obtypes.Party{alice}}},
	}
	assert.Regexp(t, "OB010214", v.Verify(ctx, move))

	move.Inputs = []*obtypes.TxInput{cashInput(math.MaxInt64, alice), cashInput(math.MaxInt64, alice)}
	move.Outputs = []*obtypes.TxOutput{cashOut(1, alice)}
	assert.Regexp(t, "OB010214", v.Verify(ctx, move))
}

func TestRedeemPayoutCannotWrap(t *testing.T) {
	ctx := context.Background()
	v := NewVerifier()

	tp := redeemTx(newObligation(), nil, 1000)
	tp.Outputs = append(tp.Outputs, cashOut(math.MaxInt64, bob))
	assert.Regexp(t, "OB010214", v.Verify(ctx, tp))
}
