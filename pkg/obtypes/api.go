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

// QueryObligationsRequest selects obligation versions by output reference.
// Pages are numbered from 1.
type QueryObligationsRequest struct {
	Refs       []*StateRef `json:"refs,omitempty"`
	PageNumber int         `json:"pageNumber"`
	PageSize   int         `json:"pageSize"`
}

type ObligationPage struct {
	Records        []*ObligationSnapshot `json:"records"`
	TotalAvailable int64                 `json:"totalAvailable"`
}

type IssueObligationRequest struct {
	Amount    *Amount `json:"amount"`
	Lender    string  `json:"lender"`
	Anonymous bool    `json:"anonymous"`
	Remark    *string `json:"remark,omitempty"`
}

type BatchActionRequest struct {
	LinearIDs []string `json:"linearIds"`
	NewLender string   `json:"newLender,omitempty"`
}

type RedeemObligationRequest struct {
	LinearID  string   `json:"linearId"`
	Secret    HexBytes `json:"secret"`
	Anonymous bool     `json:"anonymous"`
	Amount    *Amount  `json:"amount,omitempty"`
}

type TransactionResult struct {
	TransactionID Bytes32               `json:"transactionId"`
	Negotiation   string                `json:"negotiation,omitempty"`
	Outputs       []*ObligationSnapshot `json:"outputs,omitempty"`
}

type NodeInfo struct {
	Name   string `json:"name"`
	Key    string `json:"key"`
	Notary bool   `json:"notary"`
}

// NegotiationInfo is the externally visible view of a negotiation checkpoint
type NegotiationInfo struct {
	ID            string    `json:"id"`
	Protocol      string    `json:"protocol"`
	Role          string    `json:"role"`
	State         string    `json:"state"`
	Counterparty  string    `json:"counterparty"`
	TransactionID *Bytes32  `json:"transactionId,omitempty"`
	Done          bool      `json:"done"`
	ErrorKind     string    `json:"errorKind,omitempty"`
	Error         string    `json:"error,omitempty"`
	Created       Timestamp `json:"created"`
	Updated       Timestamp `json:"updated"`
}
