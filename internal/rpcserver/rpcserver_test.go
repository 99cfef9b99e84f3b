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
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/hyperledger/firefly-signer/pkg/rpcbackend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
)

func setTraceForTest(t *testing.T) {
	log.EnsureInit()
	l := log.GetLevel()
	log.SetLevel("trace")
	t.Cleanup(func() {
		log.SetLevel(l)
	})
}

func newTestServerHTTP(t *testing.T) (string, *rpcServer, func()) {
	setTraceForTest(t)
	conf := &obconf.RPCServerConfig{}
	conf.HTTP.Address = confutil.P("127.0.0.1")
	conf.HTTP.Port = confutil.P(0)
	conf.WS.Disabled = true
	s, err := NewRPCServer(context.Background(), conf)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	return fmt.Sprintf("http://%s", s.HTTPAddr()), s.(*rpcServer), s.Stop
}

func newTestServerWebSockets(t *testing.T) (string, *rpcServer, func()) {
	conf := &obconf.RPCServerConfig{}
	conf.WS.Address = confutil.P("127.0.0.1")
	conf.WS.Port = confutil.P(0)
	conf.HTTP.Disabled = true
	s, err := NewRPCServer(context.Background(), conf)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	return fmt.Sprintf("ws://%s", s.WSAddr()), s.(*rpcServer), s.Stop
}

func regTestRPC(s *rpcServer, method string, handler RPCHandler) {
	group := strings.SplitN(method, "_", 2)[0]
	module := s.rpcModules[group]
	if module == nil {
		module = NewRPCModule(group)
		s.Register(module)
	}
	module.Add(method, handler)
}

func TestBadHTTPConfig(t *testing.T) {
	_, err := NewRPCServer(context.Background(), &obconf.RPCServerConfig{
		HTTP: obconf.RPCServerConfigHTTP{
			HTTPServerConfig: obconf.HTTPServerConfig{
				Address: confutil.P("::::::wrong"),
			},
		},
		WS: obconf.RPCServerConfigWS{Disabled: true},
	})
	assert.Regexp(t, "OB011507", err)
}

func TestBadWSConfig(t *testing.T) {
	_, err := NewRPCServer(context.Background(), &obconf.RPCServerConfig{
		WS: obconf.RPCServerConfigWS{
			HTTPServerConfig: obconf.HTTPServerConfig{
				Address: confutil.P("::::::wrong"),
			},
		},
		HTTP: obconf.RPCServerConfigHTTP{Disabled: true},
	})
	assert.Regexp(t, "OB011507", err)
}

func TestBadHTTPMethod(t *testing.T) {
	url, _, done := newTestServerHTTP(t)
	defer done()

	res, err := http.DefaultClient.Get(url)
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

func TestBadWSUpgrade(t *testing.T) {
	_, s, done := newTestServerWebSockets(t)
	defer done()

	res, err := http.DefaultClient.Get(fmt.Sprintf("http://%s", s.WSAddr()))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestHTTPMethods(t *testing.T) {
	url, s, done := newTestServerHTTP(t)
	defer done()

	regTestRPC(s, "test_hello", RPCMethod0(func(ctx context.Context) (string, error) {
		return "world", nil
	}))
	regTestRPC(s, "test_concat", RPCMethod2(func(ctx context.Context, a string, b int) (string, error) {
		return fmt.Sprintf("%s%d", a, b), nil
	}))
	regTestRPC(s, "test_refuse", RPCMethod1(func(ctx context.Context, reason string) (any, error) {
		return nil, components.NewError(ctx, components.ErrInsufficientFunds, msgs.MsgTreasuryNoFunds, reason)
	}))

	c := rpcbackend.NewRPCClient(resty.New().SetBaseURL(url))
	var str string
	rpcErr := c.CallRPC(context.Background(), &str, "test_hello")
	require.Nil(t, rpcErr)
	assert.Equal(t, "world", str)

	rpcErr = c.CallRPC(context.Background(), &str, "test_concat", "a", 1)
	require.Nil(t, rpcErr)
	assert.Equal(t, "a1", str)

	rpcErr = c.CallRPC(context.Background(), &str, "test_concat", "a")
	require.NotNil(t, rpcErr)
	assert.Equal(t, int64(rpcbackend.RPCCodeInvalidRequest), rpcErr.Code)
	assert.Regexp(t, "OB011503", rpcErr.Message)

	rpcErr = c.CallRPC(context.Background(), &str, "test_concat", "a", "not a number")
	require.NotNil(t, rpcErr)
	assert.Regexp(t, "OB011504", rpcErr.Message)

	rpcErr = c.CallRPC(context.Background(), &str, "test_refuse", "GBP")
	require.NotNil(t, rpcErr)
	assert.Equal(t, components.ErrInsufficientFunds.RPCCode(), rpcErr.Code)
	assert.Regexp(t, "OB010700.*GBP", rpcErr.Message)

	rpcErr = c.CallRPC(context.Background(), &str, "other_method")
	require.NotNil(t, rpcErr)
	assert.Regexp(t, "OB011502", rpcErr.Message)
}

func TestHTTPBatchAndBadRequests(t *testing.T) {
	url, s, done := newTestServerHTTP(t)
	defer done()

	regTestRPC(s, "test_echo", RPCMethod1(func(ctx context.Context, v string) (string, error) {
		return v, nil
	}))

	var batchRes []*rpcbackend.RPCResponse
	res, err := resty.New().R().
		SetBody(`[
			{"jsonrpc":"2.0","id":1,"method":"test_echo","params":["a"]},
			{"jsonrpc":"2.0","id":2,"method":"test_missing","params":[]}
		]`).
		SetResult(&batchRes).
		Post(url)
	require.NoError(t, err)
	assert.True(t, res.IsSuccess())
	require.Len(t, batchRes, 2)
	assert.Equal(t, `"a"`, batchRes[0].Result.String())
	require.NotNil(t, batchRes[1].Error)
	assert.Regexp(t, "OB011502.*test_missing", batchRes[1].Error.Message)

	for _, body := range []string{`     `, `[... not an array`, `[]`, `{"jsonrpc":"2.0","method":"test_echo"}`} {
		var jsonResponse rpcbackend.RPCResponse
		res, err = resty.New().R().SetBody(body).SetError(&jsonResponse).Post(url)
		require.NoError(t, err)
		assert.False(t, res.IsSuccess())
		require.NotNil(t, jsonResponse.Error)
		assert.Equal(t, int64(rpcbackend.RPCCodeInvalidRequest), jsonResponse.Error.Code)
		assert.Regexp(t, "OB01150[01]", jsonResponse.Error.Message)
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	url, s, done := newTestServerWebSockets(t)
	defer done()

	regTestRPC(s, "test_echo", RPCMethod1(func(ctx context.Context, v string) (string, error) {
		return v, nil
	}))

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":"x","method":"test_echo","params":["hi"]}`)))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"x","result":"hi"}`, string(b))
}

func TestModuleNaming(t *testing.T) {
	m := NewRPCModule("ob").Add("ob_one", RPCMethod0(func(ctx context.Context) (int, error) { return 1, nil }))
	assert.Equal(t, []string{"ob_one"}, m.MethodNames())
	assert.Panics(t, func() { m.Add("other_two", nil) })
	assert.Panics(t, func() { m.Add("ob_one", nil) })
}

func TestBatchAllFailed(t *testing.T) {
	url, _, done := newTestServerHTTP(t)
	defer done()

	var batchRes []*rpcbackend.RPCResponse
	res, err := resty.New().R().
		SetBody(`[{"jsonrpc":"2.0","id":1,"method":"test_missing"},{"jsonrpc":"2.0","method":"test_missing"}]`).
		SetError(&batchRes).
		Post(url)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode())
	require.Len(t, batchRes, 2)
	assert.Regexp(t, "OB011502", batchRes[0].Error.Message)
	assert.Regexp(t, "OB011501", batchRes[1].Error.Message)
}

func TestGroupOf(t *testing.T) {
	assert.Equal(t, "ob", groupOf("ob_issueObligation"))
	assert.Equal(t, "", groupOf("noprefix"))
}
