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

const (
	msgIdentityExchange = "IdentityExchange"
	msgIdentitySync     = "IdentitySync"
)

type identityExchange struct {
	Certificate *obtypes.IdentityCertificate `json:"certificate"`
}

type identitySync struct {
	Certificates []*obtypes.IdentityCertificate `json:"certificates"`
}

// swapIdentitiesStep gives each side a fresh confidential identity for the other.
// The initiator sends first. Our own certificate is created and checkpointed before
// anything is received, so a restart never creates a second one.
func swapIdentitiesStep(initiator bool) stepFn {
	next := StateAwaitingProposal
	if initiator {
		next = StateBuilding
	}
	return func(ctx context.Context, n *negotiation) (State, error) {
		if n.data.OwnCertificate == nil {
			_, cert, err := n.m.ir.CreateConfidentialIdentity(ctx)
			if err != nil {
				return "", err
			}
			n.data.OwnCertificate = cert
			if err := n.save(ctx); err != nil {
				return "", err
			}
		}
		own := &identityExchange{Certificate: n.data.OwnCertificate}
		var peer identityExchange
		if initiator {
			if err := n.send(ctx, msgIdentityExchange, own); err != nil {
				return "", err
			}
		}
		if err := n.receive(ctx, msgIdentityExchange, &peer); err != nil {
			return "", err
		}
		if !initiator {
			if err := n.send(ctx, msgIdentityExchange, own); err != nil {
				return "", err
			}
		}
		if peer.Certificate == nil {
			return "", components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgNegotiationIdentityCount, 1)
		}
		if err := n.m.ir.RegisterCertificates(ctx, peer.Certificate); err != nil {
			return "", components.Classify(components.ErrProtocolViolation, err)
		}
		identities := make(map[string]*obtypes.Party)
		for _, c := range []*obtypes.IdentityCertificate{n.data.OwnCertificate, peer.Certificate} {
			identities[c.Owner] = obtypes.ConfidentialParty(c.Key)
		}
		if len(identities) != 2 || identities[n.row.Counterparty] == nil {
			return "", components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgNegotiationIdentityCount, len(identities))
		}
		n.data.Identities = identities
		return next, nil
	}
}

// sendIdentitySyncStep shares the certificates of every confidential participant,
// so the counterparty can resolve them before it signs
func sendIdentitySyncStep(next State) stepFn {
	return func(ctx context.Context, n *negotiation) (State, error) {
		certs, err := n.m.ir.CertificatesFor(ctx, n.data.Transaction.Proposal.Participants())
		if err != nil {
			return "", err
		}
		if err := n.send(ctx, msgIdentitySync, &identitySync{Certificates: certs}); err != nil {
			return "", err
		}
		return next, nil
	}
}

func receiveIdentitySyncStep(next State) stepFn {
	return func(ctx context.Context, n *negotiation) (State, error) {
		var sync identitySync
		if err := n.receive(ctx, msgIdentitySync, &sync); err != nil {
			return "", err
		}
		for _, c := range sync.Certificates {
			if c == nil {
				return "", components.NewError(ctx, components.ErrProtocolViolation, msgs.MsgNegotiationBadMessage, msgIdentitySync, n.row.Counterparty)
			}
		}
		if err := n.m.ir.RegisterCertificates(ctx, sync.Certificates...); err != nil {
			return "", components.Classify(components.ErrProtocolViolation, err)
		}
		return next, nil
	}
}
