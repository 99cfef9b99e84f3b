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
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hyperledger/firefly-common/pkg/fftypes"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/rpcbackend"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
)

// dispatch handles a single request or a batch. ok is false when nothing in the payload succeeded.
func (s *rpcServer) dispatch(ctx context.Context, payload []byte) (res any, ok bool) {
	if log.IsTraceEnabled() {
		log.L(ctx).Tracef("RPC --> %s", payload)
	}
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []*rpcbackend.RPCRequest
		if err := json.Unmarshal(trimmed, &batch); err != nil || len(batch) == 0 {
			return s.unparsable(ctx, payload, err), false
		}
		return s.dispatchBatch(ctx, batch)
	}
	var req rpcbackend.RPCRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return s.unparsable(ctx, payload, err), false
	}
	return s.call(ctx, &req, "")
}

// dispatchBatch runs the requests concurrently, keeping the responses in request order
func (s *rpcServer) dispatchBatch(ctx context.Context, batch []*rpcbackend.RPCRequest) ([]*rpcbackend.RPCResponse, bool) {
	responses := make([]*rpcbackend.RPCResponse, len(batch))
	var wg sync.WaitGroup
	var mux sync.Mutex
	succeeded := 0
	for i, req := range batch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, ok := s.call(ctx, req, obtypes.JSONString(i).String())
			responses[i] = res
			if ok {
				mux.Lock()
				succeeded++
				mux.Unlock()
			}
		}()
	}
	wg.Wait()
	return responses, succeeded > 0
}

func (s *rpcServer) call(ctx context.Context, req *rpcbackend.RPCRequest, batchIdx string) (*rpcbackend.RPCResponse, bool) {
	id := "null"
	if req.ID != nil {
		id = req.ID.String()
	}
	l := log.L(ctx).WithField("rpc", id)
	if batchIdx != "" {
		l = l.WithField("b", batchIdx)
	}
	start := time.Now()
	l.Debugf("--> %s", req.Method)
	res := s.route(ctx, req)
	if res.Error != nil {
		l.Errorf("<-- %s [%s]: %s", req.Method, time.Since(start), res.Error.Message)
	} else {
		l.Debugf("<-- %s [%s]", req.Method, time.Since(start))
	}
	if log.IsTraceEnabled() {
		l.Tracef("<-- %s", obtypes.JSONString(res))
	}
	return res, res.Error == nil
}

func (s *rpcServer) route(ctx context.Context, req *rpcbackend.RPCRequest) *rpcbackend.RPCResponse {
	if req.ID == nil {
		// JSON/RPC 2.0 notifications carry no ID, and nothing here is fire-and-forget
		return rpcbackend.RPCErrorResponse(i18n.NewError(ctx, msgs.MsgJSONRPCMissingRequestID), nil, rpcbackend.RPCCodeInvalidRequest)
	}
	if module := s.rpcModules[groupOf(req.Method)]; module != nil {
		if handler := module.methods[req.Method]; handler != nil {
			return handler(ctx, req)
		}
	}
	err := i18n.NewError(ctx, msgs.MsgJSONRPCUnsupportedMethod, req.Method)
	return rpcbackend.RPCErrorResponse(err, req.ID, rpcbackend.RPCCodeInvalidRequest)
}

func (s *rpcServer) unparsable(ctx context.Context, payload []byte, err error) *rpcbackend.RPCResponse {
	log.L(ctx).Errorf("Unparsable request (err=%v): %s", err, payload)
	return rpcbackend.RPCErrorResponse(i18n.NewError(ctx, msgs.MsgJSONRPCInvalidRequest), fftypes.JSONAnyPtr(`"1"`), rpcbackend.RPCCodeInvalidRequest)
}
