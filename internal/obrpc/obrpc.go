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

// Package obrpc binds the node operations to the "ob" JSON/RPC method group,
// and provides the typed client the command line uses to call them.
package obrpc

import (
	"context"

	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/rpcserver"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
)

const (
	MethodIssueObligation  = "ob_issueObligation"
	MethodBatchAction      = "ob_batchAction"
	MethodRedeemObligation = "ob_redeemObligation"
	MethodQueryObligations = "ob_queryObligations"
	MethodGetObligation    = "ob_getObligation"
	MethodIssueCash        = "ob_issueCash"
	MethodCashBalance      = "ob_cashBalance"
	MethodNodeInfo         = "ob_nodeInfo"
	MethodListNegotiations = "ob_listNegotiations"
	MethodGetNegotiation   = "ob_getNegotiation"
)

type Dependencies struct {
	Registry    components.Registry
	Negotiation components.NegotiationManager
	Query       components.LedgerQueryService
	Treasury    components.Treasury
}

type handlers struct {
	*Dependencies
}

func NewRPCModule(deps *Dependencies) *rpcserver.RPCModule {
	h := &handlers{Dependencies: deps}
	return rpcserver.NewRPCModule("ob").
		Add(MethodIssueObligation, h.rpcIssueObligation()).
		Add(MethodBatchAction, h.rpcBatchAction()).
		Add(MethodRedeemObligation, h.rpcRedeemObligation()).
		Add(MethodQueryObligations, h.rpcQueryObligations()).
		Add(MethodGetObligation, h.rpcGetObligation()).
		Add(MethodIssueCash, h.rpcIssueCash()).
		Add(MethodCashBalance, h.rpcCashBalance()).
		Add(MethodNodeInfo, h.rpcNodeInfo()).
		Add(MethodListNegotiations, h.rpcListNegotiations()).
		Add(MethodGetNegotiation, h.rpcGetNegotiation())
}

func (h *handlers) rpcIssueObligation() rpcserver.RPCHandler {
	return rpcserver.RPCMethod1(func(ctx context.Context,
		req obtypes.IssueObligationRequest,
	) (*obtypes.TransactionResult, error) {
		return h.Negotiation.IssueObligation(ctx, &req)
	})
}

func (h *handlers) rpcBatchAction() rpcserver.RPCHandler {
	return rpcserver.RPCMethod1(func(ctx context.Context,
		req obtypes.BatchActionRequest,
	) (*obtypes.TransactionResult, error) {
		return h.Negotiation.BatchAction(ctx, &req)
	})
}

func (h *handlers) rpcRedeemObligation() rpcserver.RPCHandler {
	return rpcserver.RPCMethod1(func(ctx context.Context,
		req obtypes.RedeemObligationRequest,
	) (*obtypes.TransactionResult, error) {
		return h.Negotiation.RedeemObligation(ctx, &req)
	})
}

func (h *handlers) rpcQueryObligations() rpcserver.RPCHandler {
	return rpcserver.RPCMethod1(func(ctx context.Context,
		req obtypes.QueryObligationsRequest,
	) (*obtypes.ObligationPage, error) {
		return h.Query.QueryObligations(ctx, &req)
	})
}

func (h *handlers) rpcGetObligation() rpcserver.RPCHandler {
	return rpcserver.RPCMethod1(func(ctx context.Context,
		linearID string,
	) (*obtypes.ObligationSnapshot, error) {
		return h.Query.GetObligation(ctx, linearID)
	})
}

func (h *handlers) rpcIssueCash() rpcserver.RPCHandler {
	return rpcserver.RPCMethod1(func(ctx context.Context,
		amount obtypes.Amount,
	) (*obtypes.SignedTransaction, error) {
		return h.Treasury.IssueCash(ctx, amount)
	})
}

func (h *handlers) rpcCashBalance() rpcserver.RPCHandler {
	return rpcserver.RPCMethod1(func(ctx context.Context,
		currency string,
	) (*obtypes.Amount, error) {
		ccy, err := obtypes.ParseCurrency(ctx, currency)
		if err != nil {
			return nil, components.Classify(components.ErrValidation, err)
		}
		balance, err := h.Treasury.Balance(ctx, ccy)
		if err != nil {
			return nil, err
		}
		return &balance, nil
	})
}

func (h *handlers) rpcNodeInfo() rpcserver.RPCHandler {
	return rpcserver.RPCMethod0(func(ctx context.Context) (*obtypes.NodeInfo, error) {
		local := h.Registry.LocalParty()
		entry, err := h.Registry.LookupByName(ctx, local.Name)
		if err != nil {
			return nil, err
		}
		return &obtypes.NodeInfo{
			Name:   local.Name,
			Key:    local.Key,
			Notary: entry.Notary,
		}, nil
	})
}

func (h *handlers) rpcListNegotiations() rpcserver.RPCHandler {
	return rpcserver.RPCMethod1(func(ctx context.Context,
		limit int,
	) ([]*obtypes.NegotiationInfo, error) {
		return h.Negotiation.ListNegotiations(ctx, limit)
	})
}

func (h *handlers) rpcGetNegotiation() rpcserver.RPCHandler {
	return rpcserver.RPCMethod1(func(ctx context.Context,
		id string,
	) (*obtypes.NegotiationInfo, error) {
		return h.Negotiation.GetNegotiation(ctx, id)
	})
}
