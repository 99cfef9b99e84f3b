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

// Package rpcclient calls a node's JSON/RPC API over HTTP, turning failures back into the
// error kinds the node reported them as.
package rpcclient

import (
	"context"
	"net/url"

	"github.com/hyperledger/firefly-common/pkg/ffresty"
	"github.com/hyperledger/firefly-common/pkg/fftypes"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/rpcbackend"
	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
)

type RPCError = rpcbackend.RPCError

// ErrorRPC is a failure returned by a node. The firefly-signer RPCError is not itself
// a Go error, so it is wrapped.
type ErrorRPC interface {
	error
	RPCError() *RPCError
	Kind() components.ErrorKind
}

type Client interface {
	CallRPC(ctx context.Context, result any, method string, params ...any) ErrorRPC
}

type client struct {
	backend rpcbackend.Backend
}

type nodeError struct {
	rpcErr *RPCError
}

func NewHTTPClient(ctx context.Context, conf *obconf.HTTPClientConfig) (Client, error) {
	u, err := url.Parse(conf.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, i18n.WrapError(ctx, err, msgs.MsgRPCClientInvalidHTTPURL, conf.URL)
	}
	defs := obconf.DefaultHTTPConfig
	rc := ffresty.NewWithConfig(ctx, ffresty.Config{
		URL: u.String(),
		HTTPConfig: ffresty.HTTPConfig{
			HTTPHeaders:           conf.HTTPHeaders,
			AuthUsername:          conf.Auth.Username,
			AuthPassword:          conf.Auth.Password,
			HTTPRequestTimeout:    fftypes.FFDuration(confutil.DurationMin(conf.RequestTimeout, 0, *defs.RequestTimeout)),
			HTTPConnectionTimeout: fftypes.FFDuration(confutil.DurationMin(conf.ConnectionTimeout, 0, *defs.ConnectionTimeout)),
		},
	})
	return &client{backend: rpcbackend.NewRPCClient(rc)}, nil
}

func (c *client) CallRPC(ctx context.Context, result any, method string, params ...any) ErrorRPC {
	if rpcErr := c.backend.CallRPC(ctx, result, method, params...); rpcErr != nil {
		return nodeError{rpcErr}
	}
	return nil
}

func (e nodeError) Error() string {
	return e.rpcErr.Message
}

func (e nodeError) RPCError() *RPCError {
	return e.rpcErr
}

func (e nodeError) Kind() components.ErrorKind {
	return components.KindFromRPCCode(e.rpcErr.Code)
}
