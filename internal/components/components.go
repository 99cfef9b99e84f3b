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

package components

import (
	"context"

	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
	"github.com/suweicong/obligation-cordapp/pkg/persistence"
)

// All managers conform to a standard lifecycle. Construction binds the dependencies,
// Start begins any listeners or background routines, and Stop releases them.
type ManagerLifecycle interface {
	Start() error
	Stop()
}

// KeyManager holds the signing keys of this node: one well-known key, plus any number
// of confidential keys derived on demand from the same seed
type KeyManager interface {
	WellKnownKey() string
	IsLocalKey(ctx context.Context, key string) bool
	Sign(ctx context.Context, key string, payload []byte) (*obtypes.Signature, error)
	NewConfidentialKey(ctx context.Context) (string, error)
}

// PartyEntry is a well-known party, with the node that hosts it
type PartyEntry struct {
	Party    *obtypes.Party `json:"party"`
	Endpoint string         `json:"endpoint,omitempty"`
	Notary   bool           `json:"notary,omitempty"`
}

// Registry is the static directory of well-known parties. Node names and party names are the same.
type Registry interface {
	LocalNodeName() string
	LocalParty() *obtypes.Party
	LookupByName(ctx context.Context, name string) (*PartyEntry, error)
	LookupByKey(ctx context.Context, key string) (*PartyEntry, error)
	Notaries() []*PartyEntry
	NotaryKey() string
}

// IdentityResolver maps any party reference to the well-known party behind it
type IdentityResolver interface {
	// Resolve returns the well-known party, or a ProtocolViolation naming the unknown participant
	Resolve(ctx context.Context, party *obtypes.Party) (*obtypes.Party, error)
	// CreateConfidentialIdentity derives a fresh local key, and a certificate binding it to this node
	CreateConfidentialIdentity(ctx context.Context) (*obtypes.Party, *obtypes.IdentityCertificate, error)
	// RegisterCertificates validates and stores certificates received from other parties
	RegisterCertificates(ctx context.Context, certs ...*obtypes.IdentityCertificate) error
	// CertificatesFor returns every certificate held for the confidential parties in the list
	CertificatesFor(ctx context.Context, parties []*obtypes.Party) ([]*obtypes.IdentityCertificate, error)
}

// StateQuery selects states at the DB level. Callers are responsible for paging bounds.
type StateQuery struct {
	Refs      []*obtypes.StateRef
	LinearIDs []string
	Status    obtypes.StateStatus
	Offset    int
	Limit     int
}

// StateStore is the append-only ledger vault of this node
type StateStore interface {
	// WriteTransaction records a notarised transaction, its outputs, and the spend of its inputs. It is idempotent.
	WriteTransaction(ctx context.Context, dbTX persistence.DBTX, stx *obtypes.SignedTransaction) error
	GetTransaction(ctx context.Context, txID obtypes.Bytes32) (*obtypes.SignedTransaction, error)
	GetObligation(ctx context.Context, ref *obtypes.StateRef) (*obtypes.ObligationSnapshot, error)
	GetUnconsumedObligation(ctx context.Context, linearID string) (*obtypes.ObligationSnapshot, error)
	QueryObligations(ctx context.Context, q *StateQuery) ([]*obtypes.ObligationSnapshot, int64, error)
	UnconsumedCash(ctx context.Context, currency string, ownerKeys []string) ([]*obtypes.CashSnapshot, error)
}

// ContractVerifier applies the business rules of every state type in a proposal
type ContractVerifier interface {
	Verify(ctx context.Context, tp *obtypes.TransactionProposal) error
}

// Treasury tracks the cash this node owns
type Treasury interface {
	Balance(ctx context.Context, currency string) (obtypes.Amount, error)
	// GenerateTransfer adds cash inputs, a payment to the payee and change to the proposal,
	// returning the keys that must sign for the inputs. A nil change owner means the local well-known party.
	GenerateTransfer(ctx context.Context, tp *obtypes.TransactionProposal, amount obtypes.Amount, payee, changeOwner *obtypes.Party) ([]string, error)
	IssueCash(ctx context.Context, amount obtypes.Amount) (*obtypes.SignedTransaction, error)
}

type TransportMessage struct {
	MessageID     string          `json:"messageId"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Node          string          `json:"node"`
	ReplyTo       string          `json:"replyTo"`
	MessageType   string          `json:"messageType"`
	Payload       obtypes.RawJSON `json:"payload"`
}

type TransportHandler func(ctx context.Context, msg *TransportMessage)

// TransportManager delivers messages between nodes, at most once
type TransportManager interface {
	ManagerLifecycle
	LocalNodeName() string
	Send(ctx context.Context, msg *TransportMessage) error
	RegisterHandler(messageType string, handler TransportHandler)
}

// Notary checks uniqueness of inputs and validity of a transaction, returning its signature
type Notary interface {
	Notarise(ctx context.Context, stx *obtypes.SignedTransaction) (*obtypes.Signature, error)
}

// LedgerFinality commits fully signed transactions
type LedgerFinality interface {
	// Finalise notarises, records and distributes the transaction, blocking until it is committed or rejected
	Finalise(ctx context.Context, stx *obtypes.SignedTransaction) (*obtypes.SignedTransaction, error)
	// WaitForCommit blocks until the transaction is recorded locally, or is rejected. If the transaction
	// is not already committed, the finalising node is asked for its status.
	WaitForCommit(ctx context.Context, txID obtypes.Bytes32, finaliser string) (*obtypes.SignedTransaction, error)
}

// LedgerQueryService answers paginated queries over the obligation history
type LedgerQueryService interface {
	QueryObligations(ctx context.Context, req *obtypes.QueryObligationsRequest) (*obtypes.ObligationPage, error)
	GetObligation(ctx context.Context, linearID string) (*obtypes.ObligationSnapshot, error)
	MaxPageSize() int
}

// NegotiationManager runs the multi-party protocols
type NegotiationManager interface {
	ManagerLifecycle
	IssueObligation(ctx context.Context, req *obtypes.IssueObligationRequest) (*obtypes.TransactionResult, error)
	BatchAction(ctx context.Context, req *obtypes.BatchActionRequest) (*obtypes.TransactionResult, error)
	RedeemObligation(ctx context.Context, req *obtypes.RedeemObligationRequest) (*obtypes.TransactionResult, error)
	GetNegotiation(ctx context.Context, id string) (*obtypes.NegotiationInfo, error)
	ListNegotiations(ctx context.Context, limit int) ([]*obtypes.NegotiationInfo, error)
}
