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

package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/hyperledger/firefly-common/pkg/fftypes"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/rpcbackend"
	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
)

// RPCHandler serves one method. Build these with RPCMethod0/1/2, which decode the
// positional params into typed arguments.
type RPCHandler func(ctx context.Context, req *rpcbackend.RPCRequest) *rpcbackend.RPCResponse

func RPCMethod0[R any](impl func(ctx context.Context) (R, error)) RPCHandler {
	return typed(0, func(ctx context.Context, req *rpcbackend.RPCRequest) (any, error) {
		return impl(ctx)
	})
}

func RPCMethod1[R, P0 any](impl func(ctx context.Context, p0 P0) (R, error)) RPCHandler {
	return typed(1, func(ctx context.Context, req *rpcbackend.RPCRequest) (any, error) {
		var p0 P0
		if err := decodeParams(ctx, req, &p0); err != nil {
			return nil, err
		}
		return impl(ctx, p0)
	})
}

func RPCMethod2[R, P0, P1 any](impl func(ctx context.Context, p0 P0, p1 P1) (R, error)) RPCHandler {
	return typed(2, func(ctx context.Context, req *rpcbackend.RPCRequest) (any, error) {
		var p0 P0
		var p1 P1
		if err := decodeParams(ctx, req, &p0, &p1); err != nil {
			return nil, err
		}
		return impl(ctx, p0, p1)
	})
}

// invalidParams is bad input from the caller, reported as an invalid request rather than by error kind
type invalidParams struct{ error }

func decodeParams(ctx context.Context, req *rpcbackend.RPCRequest, targets ...any) error {
	for i, target := range targets {
		if err := json.Unmarshal(req.Params[i].Bytes(), target); err != nil {
			return invalidParams{i18n.NewError(ctx, msgs.MsgJSONRPCInvalidParam, i, req.Method, err)}
		}
	}
	return nil
}

func typed(arity int, call func(ctx context.Context, req *rpcbackend.RPCRequest) (any, error)) RPCHandler {
	return func(ctx context.Context, req *rpcbackend.RPCRequest) *rpcbackend.RPCResponse {
		if len(req.Params) != arity {
			err := i18n.NewError(ctx, msgs.MsgJSONRPCIncorrectParamCount, req.Method, arity, len(req.Params))
			return rpcbackend.RPCErrorResponse(err, req.ID, rpcbackend.RPCCodeInvalidRequest)
		}
		result, err := call(ctx, req)
		var b []byte
		if err == nil {
			if b, err = json.Marshal(result); err != nil {
				err = i18n.NewError(ctx, msgs.MsgJSONRPCResultSerialization, req.Method, err)
			}
		}
		if err != nil {
			return errorResponse(req, err)
		}
		return &rpcbackend.RPCResponse{JSONRpc: "2.0", ID: req.ID, Result: fftypes.JSONAnyPtrBytes(b)}
	}
}

// errorResponse carries the error kind in the code, so a client can tell a refused
// negotiation from bad input or an infrastructure failure
func errorResponse(req *rpcbackend.RPCRequest, err error) *rpcbackend.RPCResponse {
	if ip, ok := err.(invalidParams); ok {
		return rpcbackend.RPCErrorResponse(ip.error, req.ID, rpcbackend.RPCCodeInvalidRequest)
	}
	return rpcbackend.RPCErrorResponse(err, req.ID, rpcbackend.RPCCode(components.KindOf(err).RPCCode()))
}

// RPCModule is a group of methods sharing the "group_" prefix
type RPCModule struct {
	group   string
	methods map[string]RPCHandler
}

func NewRPCModule(group string) *RPCModule {
	return &RPCModule{
		group:   strings.SplitN(group, "_", 2)[0],
		methods: map[string]RPCHandler{},
	}
}

// Add panics on a misnamed or duplicate method, as both are programming errors
func (m *RPCModule) Add(method string, handler RPCHandler) *RPCModule {
	if groupOf(method) != m.group {
		panic(fmt.Sprintf("method %s does not belong in group %s", method, m.group))
	}
	if _, exists := m.methods[method]; exists {
		panic(fmt.Sprintf("duplicate method: %s", method))
	}
	m.methods[method] = handler
	return m
}

func (m *RPCModule) MethodNames() []string {
	names := make([]string, 0, len(m.methods))
	for n := range m.methods {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func groupOf(method string) string {
	group, _, found := strings.Cut(method, "_")
	if !found {
		return ""
	}
	return group
}
