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
	"errors"

	"github.com/hyperledger/firefly-common/pkg/i18n"
)

// ErrorKind classifies every failure a negotiation can surface to its caller
type ErrorKind string

const (
	// ErrValidation is bad local input, detected before any message is sent
	ErrValidation ErrorKind = "ValidationError"
	// ErrProtocolViolation is a malformed or unexpected message from the counterparty
	ErrProtocolViolation ErrorKind = "ProtocolViolation"
	// ErrConcurrencyConflict is a stale snapshot, or the ledger refusing a double consume
	ErrConcurrencyConflict ErrorKind = "ConcurrencyConflict"
	ErrInsufficientFunds   ErrorKind = "InsufficientFunds"
	ErrAuthorization       ErrorKind = "AuthorizationError"
	ErrCommitTimeout       ErrorKind = "CommitTimeout"
	ErrCommitRejected      ErrorKind = "CommitRejected"
	// ErrInternal covers infrastructure failures, such as the database or transport
	ErrInternal ErrorKind = "InternalError"
)

// NegotiationError is an i18n error tagged with its kind
type NegotiationError struct {
	Kind ErrorKind
	err  error
}

func (e *NegotiationError) Error() string {
	return e.err.Error()
}

func (e *NegotiationError) Unwrap() error {
	return e.err
}

func NewError(ctx context.Context, kind ErrorKind, key i18n.ErrorMessageKey, args ...interface{}) *NegotiationError {
	return &NegotiationError{Kind: kind, err: i18n.NewError(ctx, key, args...)}
}

func WrapError(ctx context.Context, kind ErrorKind, err error, key i18n.ErrorMessageKey, args ...interface{}) *NegotiationError {
	return &NegotiationError{Kind: kind, err: i18n.WrapError(ctx, err, key, args...)}
}

// Classify returns the error unchanged if it already carries a kind, otherwise tags it with the supplied kind
func Classify(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	var ne *NegotiationError
	if errors.As(err, &ne) {
		return err
	}
	return &NegotiationError{Kind: kind, err: err}
}

// KindOf returns the kind of the outermost typed error in the chain, or ErrInternal
func KindOf(err error) ErrorKind {
	var ne *NegotiationError
	if errors.As(err, &ne) {
		return ne.Kind
	}
	return ErrInternal
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// ParseErrorKind maps a kind received from a counterparty back to a known kind
func ParseErrorKind(s string) ErrorKind {
	switch k := ErrorKind(s); k {
	case ErrValidation, ErrProtocolViolation, ErrConcurrencyConflict, ErrInsufficientFunds,
		ErrAuthorization, ErrCommitTimeout, ErrCommitRejected:
		return k
	}
	return ErrInternal
}

// Each kind travels over JSON/RPC as its own error code, in the server error range
var rpcCodes = map[ErrorKind]int64{
	ErrValidation:          -32602,
	ErrProtocolViolation:   -32010,
	ErrConcurrencyConflict: -32011,
	ErrInsufficientFunds:   -32012,
	ErrAuthorization:       -32013,
	ErrCommitTimeout:       -32014,
	ErrCommitRejected:      -32015,
	ErrInternal:            -32603,
}

func (k ErrorKind) RPCCode() int64 {
	if code, ok := rpcCodes[k]; ok {
		return code
	}
	return rpcCodes[ErrInternal]
}

func KindFromRPCCode(code int64) ErrorKind {
	for k, c := range rpcCodes {
		if c == code {
			return k
		}
	}
	return ErrInternal
}
