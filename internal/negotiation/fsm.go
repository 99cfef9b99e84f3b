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
	"slices"

	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
)

type Protocol string

const (
	ProtocolIssue  Protocol = "issue"
	ProtocolBatch  Protocol = "batch"
	ProtocolRedeem Protocol = "redeem"
)

type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleResponder   Role = "responder"
)

// State names are shared between machines, but each machine only allows its own subset
type State string

const (
	StateSendingHello         State = "SendingHello"
	StateAwaitingHello        State = "AwaitingHello"
	StateSwappingIdentities   State = "SwappingIdentities"
	StateBuilding             State = "Building"
	StateCollectingSignatures State = "CollectingSignatures"
	StateFinalising           State = "Finalising"
	StateAwaitingProposal     State = "AwaitingProposal"
	StateAwaitingCommit       State = "AwaitingCommit"
	StateSendingCommitment    State = "SendingCommitment"
	StateAwaitingCommitment   State = "AwaitingCommitment"
	StateCheckingSnapshot     State = "CheckingSnapshot"
	StateCheckingAuthority    State = "CheckingAuthority"
	StateCheckingFunds        State = "CheckingFunds"
	StateSyncingIdentities    State = "SyncingIdentities"
	StateCommitted            State = "Committed"
	StateFailed               State = "Failed"
)

// stepFn runs the work of one state, returning the state to move to
type stepFn func(ctx context.Context, n *negotiation) (State, error)

// machine is the explicit transition table of one side of one protocol.
// Failed is reachable from every non-terminal state, so is not listed.
type machine struct {
	name    string
	initial State
	next    map[State][]State
	steps   map[State]stepFn
}

func (m *machine) checkTransition(ctx context.Context, from, to State) error {
	if to == StateFailed && !isTerminal(from) {
		return nil
	}
	if !slices.Contains(m.next[from], to) {
		return components.NewError(ctx, components.ErrInternal, msgs.MsgNegotiationInvalidTransition, m.name, from, to)
	}
	return nil
}

func isTerminal(s State) bool {
	return s == StateCommitted || s == StateFailed
}

func machineFor(protocol Protocol, role Role) *machine {
	switch {
	case protocol == ProtocolIssue && role == RoleCoordinator:
		return issuanceCoordinator
	case protocol == ProtocolIssue && role == RoleResponder:
		return issuanceResponder
	case protocol == ProtocolBatch && role == RoleCoordinator:
		return batchCoordinator
	case protocol == ProtocolBatch && role == RoleResponder:
		return batchResponder
	case protocol == ProtocolRedeem && role == RoleCoordinator:
		return redemptionCoordinator
	case protocol == ProtocolRedeem && role == RoleResponder:
		return redemptionResponder
	}
	return nil
}

var issuanceCoordinator = &machine{
	name:    "IssuanceCoordinator",
	initial: StateSendingHello,
	next: map[State][]State{
		StateSendingHello:         {StateSwappingIdentities, StateBuilding},
		StateSwappingIdentities:   {StateBuilding},
		StateBuilding:             {StateCollectingSignatures},
		StateCollectingSignatures: {StateFinalising},
		StateFinalising:           {StateCommitted},
	},
	steps: map[State]stepFn{
		StateSendingHello:         issueSendHello,
		StateSwappingIdentities:   swapIdentitiesStep(true),
		StateBuilding:             issueBuild,
		StateCollectingSignatures: collectSignaturesStep,
		StateFinalising:           finaliseStep,
	},
}

var issuanceResponder = &machine{
	name:    "IssuanceResponder",
	initial: StateAwaitingHello,
	next: map[State][]State{
		StateAwaitingHello:      {StateSwappingIdentities, StateAwaitingProposal},
		StateSwappingIdentities: {StateAwaitingProposal},
		StateAwaitingProposal:   {StateAwaitingCommit},
		StateAwaitingCommit:     {StateCommitted},
	},
	steps: map[State]stepFn{
		StateAwaitingHello:      issueReceiveHello,
		StateSwappingIdentities: swapIdentitiesStep(false),
		StateAwaitingProposal:   signProposalStep(nil),
		StateAwaitingCommit:     awaitCommitStep,
	},
}

var batchCoordinator = &machine{
	name:    "BatchCoordinator",
	initial: StateBuilding,
	next: map[State][]State{
		StateBuilding:             {StateCollectingSignatures},
		StateCollectingSignatures: {StateFinalising},
		StateFinalising:           {StateCommitted},
	},
	steps: map[State]stepFn{
		StateBuilding:             batchBuild,
		StateCollectingSignatures: collectSignaturesStep,
		StateFinalising:           finaliseStep,
	},
}

var batchResponder = &machine{
	name:    "BatchResponder",
	initial: StateAwaitingProposal,
	next: map[State][]State{
		StateAwaitingProposal: {StateAwaitingCommit},
		StateAwaitingCommit:   {StateCommitted},
	},
	steps: map[State]stepFn{
		StateAwaitingProposal: signProposalStep(nil),
		StateAwaitingCommit:   awaitCommitStep,
	},
}

// The lender coordinates a redemption, and the borrower builds and finalises it
var redemptionCoordinator = &machine{
	name:    "RedemptionCoordinator",
	initial: StateSendingCommitment,
	next: map[State][]State{
		StateSendingCommitment: {StateSyncingIdentities},
		StateSyncingIdentities: {StateAwaitingProposal},
		StateAwaitingProposal:  {StateAwaitingCommit},
		StateAwaitingCommit:    {StateCommitted},
	},
	steps: map[State]stepFn{
		StateSendingCommitment: redeemSendCommitment,
		StateSyncingIdentities: receiveIdentitySyncStep(StateAwaitingProposal),
		StateAwaitingProposal:  signProposalStep(checkRedeemProposal),
		StateAwaitingCommit:    awaitCommitStep,
	},
}

var redemptionResponder = &machine{
	name:    "RedemptionResponder",
	initial: StateAwaitingCommitment,
	next: map[State][]State{
		StateAwaitingCommitment:   {StateCheckingSnapshot},
		StateCheckingSnapshot:     {StateCheckingAuthority},
		StateCheckingAuthority:    {StateCheckingFunds},
		StateCheckingFunds:        {StateBuilding},
		StateBuilding:             {StateSyncingIdentities},
		StateSyncingIdentities:    {StateCollectingSignatures},
		StateCollectingSignatures: {StateFinalising},
		StateFinalising:           {StateCommitted},
	},
	steps: map[State]stepFn{
		StateAwaitingCommitment:   redeemReceiveCommitment,
		StateCheckingSnapshot:     redeemCheckSnapshot,
		StateCheckingAuthority:    redeemCheckAuthority,
		StateCheckingFunds:        redeemCheckFunds,
		StateBuilding:             redeemBuild,
		StateSyncingIdentities:    sendIdentitySyncStep(StateCollectingSignatures),
		StateCollectingSignatures: collectSignaturesStep,
		StateFinalising:           finaliseStep,
	},
}
