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

package rpcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suweicong/obligation-cordapp/internal/components"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := NewHTTPClient(context.Background(), &obconf.HTTPClientConfig{
		URL:            server.URL,
		RequestTimeout: confutil.P("5s"),
	})
	require.NoError(t, err)
	return c
}

func TestBadURL(t *testing.T) {
	_, err := NewHTTPClient(context.Background(), &obconf.HTTPClientConfig{URL: "ws://localhost:1234"})
	assert.Regexp(t, "OB011509", err)
	_, err = NewHTTPClient(context.Background(), &obconf.HTTPClientConfig{URL: ":::bad"})
	assert.Regexp(t, "OB011509", err)
}

func TestCallRPCOK(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ob_nodeInfo", req["method"])
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req["id"], "result": "Alice"})
	})

	var s string
	err := c.CallRPC(context.Background(), &s, "ob_nodeInfo")
	assert.Nil(t, err)
	assert.Equal(t, "Alice", s)
}

func TestCallRPCErrorKind(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req["id"], "error": map[string]any{
			"code":    components.ErrConcurrencyConflict.RPCCode(),
			"message": "OB011301: stale",
		}})
	})

	var s string
	err := c.CallRPC(context.Background(), &s, "ob_redeemObligation", map[string]any{})
	require.NotNil(t, err)
	assert.Regexp(t, "OB011301", err)
	assert.Equal(t, components.ErrConcurrencyConflict, err.Kind())
	assert.Equal(t, components.ErrConcurrencyConflict.RPCCode(), err.RPCError().Code)
}
