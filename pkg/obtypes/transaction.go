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
	"encoding/json"
	"slices"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/hyperledger/firefly-signer/pkg/secp256k1"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
)

type CommandType string

const (
	CommandObligationIssue  CommandType = "obligation.issue"
	CommandObligationNoop   CommandType = "obligation.noop"
	CommandObligationRedeem CommandType = "obligation.redeem"
	CommandCashIssue        CommandType = "cash.issue"
	CommandCashMove         CommandType = "cash.move"
)

// Command declares the intent of a transaction, and the parties that must sign for it
type Command struct {
	Type    CommandType `json:"type"`
	Secret  HexBytes    `json:"secret,omitempty"`
	Signers []*Party    `json:"signers"`
}

// TxOutput holds exactly one of the state types
type TxOutput struct {
	Type       StateType         `json:"type"`
	Obligation *ObligationRecord `json:"obligation,omitempty"`
	Cash       *CashState        `json:"cash,omitempty"`
}

func ObligationOutput(o *ObligationRecord) *TxOutput {
	return &TxOutput{Type: StateTypeObligation, Obligation: o}
}

func CashOutput(c *CashState) *TxOutput {
	return &TxOutput{Type: StateTypeCash, Cash: c}
}

func (o *TxOutput) Participants() []*Party {
	switch {
	case o.Obligation != nil:
		return o.Obligation.Participants()
	case o.Cash != nil:
		return o.Cash.Participants()
	}
	return nil
}

// TxInput is a reference to a consumed state, along with the content of that state
// so that every signer can verify the transaction without holding the state themselves
type TxInput struct {
	Ref   StateRef  `json:"ref"`
	State *TxOutput `json:"state"`
}

type TimeWindow struct {
	From  Timestamp `json:"from"`
	Until Timestamp `json:"until"`
}

func (tw *TimeWindow) Contains(t Timestamp) bool {
	return t >= tw.From && t <= tw.Until
}

// TransactionProposal is the content every party signs. The transaction id is
// the Keccak-256 hash of its JSON serialization.
type TransactionProposal struct {
	Notary     string      `json:"notary"`
	Inputs     []*TxInput  `json:"inputs"`
	Outputs    []*TxOutput `json:"outputs"`
	Commands   []*Command  `json:"commands"`
	TimeWindow *TimeWindow `json:"timeWindow,omitempty"`
	Salt       Bytes32     `json:"salt"`
}

func (tp *TransactionProposal) ComputeID() Bytes32 {
	b, _ := json.Marshal(tp)
	return Bytes32Keccak(b)
}

// InputsOfType returns the input states of the given type, in order
func (tp *TransactionProposal) InputsOfType(t StateType) []*TxInput {
	var inputs []*TxInput
	for _, in := range tp.Inputs {
		if in.State != nil && in.State.Type == t {
			inputs = append(inputs, in)
		}
	}
	return inputs
}

func (tp *TransactionProposal) OutputsOfType(t StateType) []*TxOutput {
	var outputs []*TxOutput
	for _, out := range tp.Outputs {
		if out.Type == t {
			outputs = append(outputs, out)
		}
	}
	return outputs
}

func (tp *TransactionProposal) CommandsOfType(types ...CommandType) []*Command {
	var cmds []*Command
	for _, c := range tp.Commands {
		if slices.Contains(types, c.Type) {
			cmds = append(cmds, c)
		}
	}
	return cmds
}

// RequiredSigners is the de-duplicated union of the signers of every command
func (tp *TransactionProposal) RequiredSigners() []*Party {
	var signers []*Party
	for _, c := range tp.Commands {
		signers = AppendUniqueParties(signers, c.Signers...)
	}
	return signers
}

// Participants is the de-duplicated union of the participants of every input and output
func (tp *TransactionProposal) Participants() []*Party {
	var parties []*Party
	for _, in := range tp.Inputs {
		if in.State != nil {
			parties = AppendUniqueParties(parties, in.State.Participants()...)
		}
	}
	for _, out := range tp.Outputs {
		parties = AppendUniqueParties(parties, out.Participants()...)
	}
	return parties
}

type Signature struct {
	Key       string   `json:"key"`
	Signature HexBytes `json:"signature"`
}

// Verify checks the signature was produced over the payload by the key it claims
func (s *Signature) Verify(ctx context.Context, payload []byte) error {
	sig, err := secp256k1.DecodeCompactRSV(ctx, s.Signature)
	if err == nil {
		var addr *ethtypes.Address0xHex
		addr, err = sig.RecoverDirect(payload, 0)
		if err == nil && addr.String() != s.Key {
			err = i18n.NewError(ctx, msgs.MsgTypesInvalidSignature, s.Key)
		}
	}
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgTypesInvalidSignature, s.Key)
	}
	return nil
}

// SignedTransaction is a proposal along with the signatures collected over its id
type SignedTransaction struct {
	ID              Bytes32              `json:"id"`
	Proposal        *TransactionProposal `json:"proposal"`
	Signatures      []*Signature         `json:"signatures"`
	NotarySignature *Signature           `json:"notarySignature,omitempty"`
}

func NewSignedTransaction(tp *TransactionProposal) *SignedTransaction {
	return &SignedTransaction{
		ID:         tp.ComputeID(),
		Proposal:   tp,
		Signatures: []*Signature{},
	}
}

func (stx *SignedTransaction) SignedKeys() []string {
	keys := make([]string, len(stx.Signatures))
	for i, s := range stx.Signatures {
		keys[i] = s.Key
	}
	return keys
}

// AddSignatures merges signatures, ignoring any key that has already signed
func (stx *SignedTransaction) AddSignatures(sigs ...*Signature) {
	for _, s := range sigs {
		if !slices.Contains(stx.SignedKeys(), s.Key) {
			stx.Signatures = append(stx.Signatures, s)
		}
	}
}

// MissingSigners returns the required signers not yet satisfied by the signatures present.
// Signatures are not verified here.
func (stx *SignedTransaction) MissingSigners() []*Party {
	signed := stx.SignedKeys()
	var missing []*Party
	for _, p := range stx.Proposal.RequiredSigners() {
		if !p.IsSatisfiedBy(signed) {
			missing = append(missing, p)
		}
	}
	return missing
}

// VerifySignatures checks the id matches the proposal, and every signature present is valid
func (stx *SignedTransaction) VerifySignatures(ctx context.Context) error {
	if computed := stx.Proposal.ComputeID(); computed != stx.ID {
		return i18n.NewError(ctx, msgs.MsgNotaryIDMismatch, stx.ID, computed)
	}
	for _, s := range stx.Signatures {
		if err := s.Verify(ctx, stx.ID[:]); err != nil {
			return err
		}
	}
	return nil
}

func (stx *SignedTransaction) OutputRef(idx int) StateRef {
	return StateRef{TxID: stx.ID, Index: idx}
}
