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

package obrpc

import (
	"context"

	"github.com/suweicong/obligation-cordapp/internal/rpcclient"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
)

// Client calls the "ob" methods of a node. Failures are rpcclient.ErrorRPC values,
// which carry the kind the node classified them as.
type Client interface {
	IssueObligation(ctx context.Context, req *obtypes.IssueObligationRequest) (*obtypes.TransactionResult, error)
	BatchAction(ctx context.Context, req *obtypes.BatchActionRequest) (*obtypes.TransactionResult, error)
	RedeemObligation(ctx context.Context, req *obtypes.RedeemObligationRequest) (*obtypes.TransactionResult, error)
	QueryObligations(ctx context.Context, req *obtypes.QueryObligationsRequest) (*obtypes.ObligationPage, error)
	GetObligation(ctx context.Context, linearID string) (*obtypes.ObligationSnapshot, error)
	IssueCash(ctx context.Context, amount obtypes.Amount) (*obtypes.SignedTransaction, error)
	CashBalance(ctx context.Context, currency string) (*obtypes.Amount, error)
	NodeInfo(ctx context.Context) (*obtypes.NodeInfo, error)
	ListNegotiations(ctx context.Context, limit int) ([]*obtypes.NegotiationInfo, error)
	GetNegotiation(ctx context.Context, id string) (*obtypes.NegotiationInfo, error)
}

type client struct {
	c rpcclient.Client
}

func NewClient(c rpcclient.Client) Client {
	return &client{c: c}
}

func call[R any](ctx context.Context, c rpcclient.Client, method string, params ...any) (R, error) {
	var res R
	if err := c.CallRPC(ctx, &res, method, params...); err != nil {
		return res, err
	}
	return res, nil
}

func (c *client) IssueObligation(ctx context.Context, req *obtypes.IssueObligationRequest) (*obtypes.TransactionResult, error) {
	return call[*obtypes.TransactionResult](ctx, c.c, MethodIssueObligation, req)
}

func (c *client) BatchAction(ctx context.Context, req *obtypes.BatchActionRequest) (*obtypes.TransactionResult, error) {
	return call[*obtypes.TransactionResult](ctx, c.c, MethodBatchAction, req)
}

func (c *client) RedeemObligation(ctx context.Context, req *obtypes.RedeemObligationRequest) (*obtypes.TransactionResult, error) {
	return call[*obtypes.TransactionResult](ctx, c.c, MethodRedeemObligation, req)
}

func (c *client) QueryObligations(ctx context.Context, req *obtypes.QueryObligationsRequest) (*obtypes.ObligationPage, error) {
	return call[*obtypes.ObligationPage](ctx, c.c, MethodQueryObligations, req)
}

func (c *client) GetObligation(ctx context.Context, linearID string) (*obtypes.ObligationSnapshot, error) {
	return call[*obtypes.ObligationSnapshot](ctx, c.c, MethodGetObligation, linearID)
}

func (c *client) IssueCash(ctx context.Context, amount obtypes.Amount) (*obtypes.SignedTransaction, error) {
	return call[*obtypes.SignedTransaction](ctx, c.c, MethodIssueCash, amount)
}

func (c *client) CashBalance(ctx context.Context, currency string) (*obtypes.Amount, error) {
	return call[*obtypes.Amount](ctx, c.c, MethodCashBalance, currency)
}

func (c *client) NodeInfo(ctx context.Context) (*obtypes.NodeInfo, error) {
	return call[*obtypes.NodeInfo](ctx, c.c, MethodNodeInfo)
}

func (c *client) ListNegotiations(ctx context.Context, limit int) ([]*obtypes.NegotiationInfo, error) {
	return call[[]*obtypes.NegotiationInfo](ctx, c.c, MethodListNegotiations, limit)
}

func (c *client) GetNegotiation(ctx context.Context, id string) (*obtypes.NegotiationInfo, error) {
	return call[*obtypes.NegotiationInfo](ctx, c.c, MethodGetNegotiation, id)
}
