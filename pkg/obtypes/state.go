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

package obtypes

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
)

// StateRef points at one output of a committed transaction
type StateRef struct {
	TxID  Bytes32 `json:"txId"`
	Index int     `json:"index"`
}

func ParseStateRef(ctx context.Context, s string) (*StateRef, error) {
	txID, idx, ok := strings.Cut(s, ":")
	if !ok {
		return nil, i18n.NewError(ctx, msgs.MsgTypesInvalidStateRef, s)
	}
	id, err := ParseBytes32(ctx, txID)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgTypesInvalidStateRef, s)
	}
	i, err := strconv.Atoi(idx)
	if err != nil || i < 0 {
		return nil, i18n.NewError(ctx, msgs.MsgTypesInvalidStateRef, s)
	}
	return &StateRef{TxID: id, Index: i}, nil
}

func (r StateRef) String() string {
	return fmt.Sprintf("%s:%d", r.TxID, r.Index)
}

type StateType string

const (
	StateTypeObligation StateType = "obligation"
	StateTypeCash       StateType = "cash"
)

type StateStatus string

const (
	StateStatusAll        StateStatus = "all"
	StateStatusUnconsumed StateStatus = "unconsumed"
	StateStatusConsumed   StateStatus = "consumed"
)

func ParseStateStatus(ctx context.Context, s string) (StateStatus, error) {
	switch StateStatus(strings.ToLower(s)) {
	case "", StateStatusAll:
		return StateStatusAll, nil
	case StateStatusUnconsumed:
		return StateStatusUnconsumed, nil
	case StateStatusConsumed:
		return StateStatusConsumed, nil
	}
	return "", i18n.NewError(ctx, msgs.MsgStateInvalidStatus, s)
}

// StateAndRef is an immutable snapshot of a state, with the reference to the output that created it
type StateAndRef[T any] struct {
	Ref    StateRef    `json:"ref"`
	State  *T          `json:"state"`
	Status StateStatus `json:"status,omitempty"`
}

type ObligationSnapshot = StateAndRef[ObligationRecord]

type CashSnapshot = StateAndRef[CashState]

// ObligationRecord is one version of a debt owed by the borrower to the lender.
// Versions are never edited. Each operation returns a copy that becomes the successor.
type ObligationRecord struct {
	LinearID string  `json:"linearId"`
	Amount   Amount  `json:"amount"`
	Lender   *Party  `json:"lender"`
	Borrower *Party  `json:"borrower"`
	Paid     Amount  `json:"paid"`
	Remark   *string `json:"remark"`
}

func (o *ObligationRecord) copy() *ObligationRecord {
	c := *o
	return &c
}

func (o *ObligationRecord) Participants() []*Party {
	return []*Party{o.Lender, o.Borrower}
}

func (o *ObligationRecord) Remaining() Amount {
	return o.Amount.Minus(o.Paid)
}

func (o *ObligationRecord) IsSettled() bool {
	return o.Paid.Cmp(o.Amount) >= 0
}

func (o *ObligationRecord) Pay(amount Amount) *ObligationRecord {
	c := o.copy()
	c.Paid = o.Paid.Plus(amount)
	return c
}

func (o *ObligationRecord) WithNewLender(lender *Party) *ObligationRecord {
	c := o.copy()
	c.Lender = lender
	return c
}

func (o *ObligationRecord) RemarkString() string {
	if o.Remark == nil {
		return ""
	}
	return *o.Remark
}

// Equals compares every field
func (o *ObligationRecord) Equals(o2 *ObligationRecord) bool {
	if o == nil || o2 == nil {
		return o == o2
	}
	remarksMatch := (o.Remark == nil && o2.Remark == nil) ||
		(o.Remark != nil && o2.Remark != nil && *o.Remark == *o2.Remark)
	return o.LinearID == o2.LinearID &&
		o.Amount == o2.Amount &&
		o.Paid == o2.Paid &&
		o.Lender.Equals(o2.Lender) &&
		o.Borrower.Equals(o2.Borrower) &&
		remarksMatch
}

func (o *ObligationRecord) String() string {
	return fmt.Sprintf("Obligation(%s): %s owes %s %s and has paid %s so far.",
		o.LinearID, o.Borrower, o.Lender, o.Amount, o.Paid)
}

// CashState is a fungible quantity of a currency owned by a single party
type CashState struct {
	Amount Amount `json:"amount"`
	Owner  *Party `json:"owner"`
}

func (c *CashState) Participants() []*Party {
	return []*Party{c.Owner}
}
